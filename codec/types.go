// Package codec implements the two binary wire formats used to exchange
// document updates, state vectors and awareness updates between replicas.
//
// The v1 format is a plain varint-based encoding. The v2 format is a compact
// encoding: a fixed magic header followed by a DEFLATE-compressed v1 body.
// The formats are not self-describing; callers must track which format a
// byte slice was produced with. A decoder for one format rejects bytes
// produced by the other.
package codec

// Format identifies one of the two wire encodings.
type Format int

const (
	FormatV1 Format = 1
	FormatV2 Format = 2
)

func (f Format) String() string {
	switch f {
	case FormatV1:
		return "v1"
	case FormatV2:
		return "v2"
	default:
		return "unknown"
	}
}

// MaxClients is the maximum number of per-client entries accepted in a
// single update or state vector. This bounds memory on decode and is the
// mechanism by which v1 decoders reject v2 bytes: the v2 magic header
// decodes as a client count far above this cap.
const MaxClients = 10000

// ID identifies a single operation: the replica that produced it and the
// per-replica sequence number it was produced at.
type ID struct {
	Client uint64
	Clock  uint32
}

// Compare orders IDs by clock first, then client. It is the deterministic
// tiebreaker for concurrent sequence inserts and map writes.
func (id ID) Compare(other ID) int {
	switch {
	case id.Clock < other.Clock:
		return -1
	case id.Clock > other.Clock:
		return 1
	case id.Client < other.Client:
		return -1
	case id.Client > other.Client:
		return 1
	default:
		return 0
	}
}

// OpKind discriminates the operation variants carried in an update.
type OpKind byte

const (
	OpInsert OpKind = iota
	OpDelete
	OpMapSet
	OpMapDelete
)

// RootKind identifies the structured type of a named top-level root.
type RootKind byte

const (
	RootText RootKind = iota + 1
	RootArray
	RootMap
	RootXMLFragment
)

func (k RootKind) String() string {
	switch k {
	case RootText:
		return "text"
	case RootArray:
		return "array"
	case RootMap:
		return "map"
	case RootXMLFragment:
		return "xml_fragment"
	default:
		return "unknown"
	}
}

// Op is a single causally-ordered operation against a named root.
//
// Field usage by kind:
//   - OpInsert: Origin (left neighbor at insert time, nil for the sequence
//     head), Content (JSON value of the inserted atom)
//   - OpDelete: Target (ID of the atom being tombstoned)
//   - OpMapSet: Key, Content
//   - OpMapDelete: Key
type Op struct {
	Clock    uint32
	Kind     OpKind
	Root     string
	RootKind RootKind
	Origin   *ID
	Content  []byte
	Target   ID
	Key      string
}

// Update is a causally-ordered set of operations grouped by authoring
// client, each group sorted by clock ascending.
type Update struct {
	Ops map[uint64][]Op
}

// NewUpdate returns an empty update.
func NewUpdate() *Update {
	return &Update{Ops: make(map[uint64][]Op)}
}

// IsEmpty reports whether the update carries no operations.
func (u *Update) IsEmpty() bool {
	for _, ops := range u.Ops {
		if len(ops) > 0 {
			return false
		}
	}
	return true
}

// StateVector maps a client id to the number of contiguous operations seen
// from that client (i.e. the next expected clock).
type StateVector map[uint64]uint32

// Clone returns a copy of the state vector.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for c, n := range sv {
		out[c] = n
	}
	return out
}

// AwarenessEntry carries one client's ephemeral state. A nil State marks the
// client as removed.
type AwarenessEntry struct {
	Client uint64
	Clock  uint32
	State  []byte
}

// AwarenessUpdate is an encoded delta of per-client ephemeral states,
// sorted by client id ascending.
type AwarenessUpdate struct {
	Entries []AwarenessEntry
}
