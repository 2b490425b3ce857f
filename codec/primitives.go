package codec

import (
	"errors"
	"math"
)

// Decoding errors shared by both formats. Callers wrap these into typed
// kit errors with operation context.
var (
	ErrUnexpectedEOF    = errors.New("unexpected end of input")
	ErrTrailingBytes    = errors.New("trailing bytes after message")
	ErrValueOutOfRange  = errors.New("varint value out of range")
	ErrTooManyClients   = errors.New("client count exceeds limit (format mismatch?)")
	ErrInvalidOpKind    = errors.New("invalid operation kind")
	ErrInvalidRootKind  = errors.New("invalid root kind")
	ErrMissingMagic     = errors.New("missing v2 magic header (format mismatch?)")
	ErrWrongPayloadKind = errors.New("v2 payload kind mismatch")
	ErrUnsortedClients  = errors.New("client entries not sorted")
)

type writer struct {
	buf []byte
}

func (w *writer) uvar(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

func (w *writer) bytes(b []byte) {
	w.uvar(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) {
	w.uvar(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) byte(b byte) {
	w.buf = append(w.buf, b)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) uvar() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if r.pos >= len(r.buf) {
			return 0, ErrUnexpectedEOF
		}
		b := r.buf[r.pos]
		r.pos++
		if shift >= 64 || (shift == 63 && b > 1) {
			return 0, ErrValueOutOfRange
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
	}
}

func (r *reader) uvar32() (uint32, error) {
	v, err := r.uvar()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, ErrValueOutOfRange
	}
	return uint32(v), nil
}

func (r *reader) length() (int, error) {
	v, err := r.uvar()
	if err != nil {
		return 0, err
	}
	if v > uint64(len(r.buf)-r.pos) {
		return 0, ErrUnexpectedEOF
	}
	return int(v), nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.length()
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *reader) str() (string, error) {
	n, err := r.length()
	if err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// finish verifies the message consumed the entire input. A v2 payload fed to
// a v1 decoder that survives the client-count cap still fails here.
func (r *reader) finish() error {
	if r.pos != len(r.buf) {
		return ErrTrailingBytes
	}
	return nil
}
