package codec

import (
	"bytes"
	"compress/flate"
	"io"
)

// The v2 header. The three magic bytes decode as the varint 65535, which is
// far above MaxClients, so a v1 decoder handed v2 bytes fails immediately on
// the client-count cap. The payload kind byte prevents, say, a v2 awareness
// update from being decoded as a v2 document update.
var v2Magic = []byte{0xff, 0xff, 0x03}

const (
	v2KindUpdate      = 'U'
	v2KindStateVector = 'S'
	v2KindAwareness   = 'A'
)

func encodeV2(kind byte, body []byte) []byte {
	var out bytes.Buffer
	out.Write(v2Magic)
	out.WriteByte(kind)
	fw, err := flate.NewWriter(&out, flate.BestSpeed)
	if err != nil {
		// Only reachable with an invalid compression level constant.
		panic(err)
	}
	if _, err := fw.Write(body); err != nil {
		panic(err)
	}
	if err := fw.Close(); err != nil {
		panic(err)
	}
	return out.Bytes()
}

func decodeV2(kind byte, b []byte) ([]byte, error) {
	if len(b) < len(v2Magic)+1 || !bytes.Equal(b[:len(v2Magic)], v2Magic) {
		return nil, ErrMissingMagic
	}
	if b[len(v2Magic)] != kind {
		return nil, ErrWrongPayloadKind
	}
	fr := flate.NewReader(bytes.NewReader(b[len(v2Magic)+1:]))
	defer fr.Close()
	body, err := io.ReadAll(fr)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// EncodeUpdateV2 serializes an update in the compact v2 wire format.
func EncodeUpdateV2(u *Update) []byte {
	return encodeV2(v2KindUpdate, EncodeUpdateV1(u))
}

// DecodeUpdateV2 parses a v2-encoded update. Bytes without the v2 header,
// including any v1-encoded update, are rejected.
func DecodeUpdateV2(b []byte) (*Update, error) {
	body, err := decodeV2(v2KindUpdate, b)
	if err != nil {
		return nil, err
	}
	return DecodeUpdateV1(body)
}

// EncodeStateVectorV2 serializes a state vector in the compact v2 format.
func EncodeStateVectorV2(sv StateVector) []byte {
	return encodeV2(v2KindStateVector, EncodeStateVectorV1(sv))
}

// DecodeStateVectorV2 parses a v2-encoded state vector.
func DecodeStateVectorV2(b []byte) (StateVector, error) {
	body, err := decodeV2(v2KindStateVector, b)
	if err != nil {
		return nil, err
	}
	return DecodeStateVectorV1(body)
}

// EncodeAwarenessV2 serializes an awareness update in the compact v2 format.
func EncodeAwarenessV2(au *AwarenessUpdate) []byte {
	return encodeV2(v2KindAwareness, EncodeAwarenessV1(au))
}

// DecodeAwarenessV2 parses a v2-encoded awareness update.
func DecodeAwarenessV2(b []byte) (*AwarenessUpdate, error) {
	body, err := decodeV2(v2KindAwareness, b)
	if err != nil {
		return nil, err
	}
	return DecodeAwarenessV1(body)
}
