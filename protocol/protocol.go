// Package protocol frames document and awareness payloads for exchange over
// a transport. Each frame is a varint message type followed by a
// length-prefixed payload; payloads use the v1 wire format of the codec
// package. The handshake follows the state-vector sync flow: a peer opens
// with SyncStep1 carrying its state vector and receives SyncStep2 carrying
// the operations it is missing.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	crdtkit "github.com/c0deZ3R0/go-crdt-kit"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

// MessageType discriminates the frames of the sync protocol.
type MessageType uint8

const (
	// MessageSyncStep1 carries the sender's state vector.
	MessageSyncStep1 MessageType = iota
	// MessageSyncStep2 carries the update answering a SyncStep1.
	MessageSyncStep2
	// MessageUpdate carries an incremental document update.
	MessageUpdate
	// MessageAwareness carries an awareness update.
	MessageAwareness
	// MessageQueryAwareness asks the receiver for its full awareness state.
	MessageQueryAwareness
)

func (t MessageType) String() string {
	switch t {
	case MessageSyncStep1:
		return "sync_step1"
	case MessageSyncStep2:
		return "sync_step2"
	case MessageUpdate:
		return "update"
	case MessageAwareness:
		return "awareness"
	case MessageQueryAwareness:
		return "query_awareness"
	default:
		return "unknown"
	}
}

var (
	errTruncated   = errors.New("truncated message")
	errTrailing    = errors.New("trailing bytes after message")
	errUnknownType = errors.New("unknown message type")
)

// EncodeMessage frames a payload. One frame per transport unit (e.g. one
// websocket message).
func EncodeMessage(typ MessageType, payload []byte) []byte {
	out := binary.AppendUvarint(nil, uint64(typ))
	out = binary.AppendUvarint(out, uint64(len(payload)))
	return append(out, payload...)
}

// DecodeMessage unframes a single message, rejecting truncated or padded
// frames.
func DecodeMessage(b []byte) (MessageType, []byte, error) {
	typ, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, nil, kiterrors.NewDecodingError(kiterrors.OpTransport, "protocol", errTruncated)
	}
	if typ > uint64(MessageQueryAwareness) {
		return 0, nil, kiterrors.NewDecodingError(kiterrors.OpTransport, "protocol",
			fmt.Errorf("%w: %d", errUnknownType, typ))
	}
	b = b[n:]
	size, n := binary.Uvarint(b)
	if n <= 0 || size > uint64(len(b[n:])) {
		return 0, nil, kiterrors.NewDecodingError(kiterrors.OpTransport, "protocol", errTruncated)
	}
	payload := b[n : n+int(size)]
	if len(b[n:]) != int(size) {
		return 0, nil, kiterrors.NewDecodingError(kiterrors.OpTransport, "protocol", errTrailing)
	}
	return MessageType(typ), payload, nil
}

// WriteSyncStep1 builds the opening frame of a handshake from the
// document's current state vector.
func WriteSyncStep1(doc *crdtkit.Document) []byte {
	return EncodeMessage(MessageSyncStep1, doc.EncodeStateVectorV1())
}

// WriteUpdate frames a v1-encoded document update.
func WriteUpdate(update []byte) []byte {
	return EncodeMessage(MessageUpdate, update)
}

// WriteAwareness frames a v1-encoded awareness update.
func WriteAwareness(update []byte) []byte {
	return EncodeMessage(MessageAwareness, update)
}

// WriteQueryAwareness builds a frame asking the peer for its awareness
// state.
func WriteQueryAwareness() []byte {
	return EncodeMessage(MessageQueryAwareness, nil)
}

// HandleMessage processes one incoming frame against a document and its
// awareness instance, returning any frames to send back. Origin tags the
// merges so the caller's own update observers can recognize them. A nil
// awareness instance drops awareness frames.
func HandleMessage(doc *crdtkit.Document, aw *crdtkit.Awareness, frame []byte, origin string) ([][]byte, error) {
	typ, payload, err := DecodeMessage(frame)
	if err != nil {
		return nil, err
	}
	switch typ {
	case MessageSyncStep1:
		diff, err := doc.EncodeDiffV1(payload)
		if err != nil {
			return nil, err
		}
		return [][]byte{EncodeMessage(MessageSyncStep2, diff)}, nil
	case MessageSyncStep2, MessageUpdate:
		return nil, doc.ApplyUpdateV1(payload, origin)
	case MessageAwareness:
		if aw == nil {
			return nil, nil
		}
		return nil, aw.ApplyUpdateV1(payload, origin)
	case MessageQueryAwareness:
		if aw == nil {
			return nil, nil
		}
		return [][]byte{WriteAwareness(aw.EncodeUpdateV1(nil))}, nil
	}
	return nil, nil
}
