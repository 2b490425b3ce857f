package codec

import (
	"sort"
)

// sortedClients returns the client ids of an op map in ascending order so
// that encoding is deterministic: two replicas holding the same op set
// produce identical bytes.
func sortedClients(ops map[uint64][]Op) []uint64 {
	clients := make([]uint64, 0, len(ops))
	for c := range ops {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}

func encodeOp(w *writer, op Op) {
	w.uvar(uint64(op.Clock))
	w.byte(byte(op.Kind))
	w.str(op.Root)
	w.byte(byte(op.RootKind))
	switch op.Kind {
	case OpInsert:
		if op.Origin == nil {
			w.byte(0)
		} else {
			w.byte(1)
			w.uvar(op.Origin.Client)
			w.uvar(uint64(op.Origin.Clock))
		}
		w.bytes(op.Content)
	case OpDelete:
		w.uvar(op.Target.Client)
		w.uvar(uint64(op.Target.Clock))
	case OpMapSet:
		w.str(op.Key)
		w.bytes(op.Content)
	case OpMapDelete:
		w.str(op.Key)
	}
}

func decodeOp(r *reader) (Op, error) {
	var op Op
	clock, err := r.uvar32()
	if err != nil {
		return op, err
	}
	op.Clock = clock
	kind, err := r.byte()
	if err != nil {
		return op, err
	}
	if OpKind(kind) > OpMapDelete {
		return op, ErrInvalidOpKind
	}
	op.Kind = OpKind(kind)
	if op.Root, err = r.str(); err != nil {
		return op, err
	}
	rootKind, err := r.byte()
	if err != nil {
		return op, err
	}
	if RootKind(rootKind) < RootText || RootKind(rootKind) > RootXMLFragment {
		return op, ErrInvalidRootKind
	}
	op.RootKind = RootKind(rootKind)
	switch op.Kind {
	case OpInsert:
		hasOrigin, err := r.byte()
		if err != nil {
			return op, err
		}
		if hasOrigin == 1 {
			var origin ID
			if origin.Client, err = r.uvar(); err != nil {
				return op, err
			}
			if origin.Clock, err = r.uvar32(); err != nil {
				return op, err
			}
			op.Origin = &origin
		}
		if op.Content, err = r.bytes(); err != nil {
			return op, err
		}
	case OpDelete:
		if op.Target.Client, err = r.uvar(); err != nil {
			return op, err
		}
		if op.Target.Clock, err = r.uvar32(); err != nil {
			return op, err
		}
	case OpMapSet:
		if op.Key, err = r.str(); err != nil {
			return op, err
		}
		if op.Content, err = r.bytes(); err != nil {
			return op, err
		}
	case OpMapDelete:
		if op.Key, err = r.str(); err != nil {
			return op, err
		}
	}
	return op, nil
}

func encodeUpdateBody(w *writer, u *Update) {
	clients := sortedClients(u.Ops)
	w.uvar(uint64(len(clients)))
	for _, client := range clients {
		ops := u.Ops[client]
		w.uvar(client)
		w.uvar(uint64(len(ops)))
		for _, op := range ops {
			encodeOp(w, op)
		}
	}
}

func decodeUpdateBody(r *reader) (*Update, error) {
	numClients, err := r.uvar()
	if err != nil {
		return nil, err
	}
	if numClients > MaxClients {
		return nil, ErrTooManyClients
	}
	u := NewUpdate()
	var prevClient uint64
	for i := uint64(0); i < numClients; i++ {
		client, err := r.uvar()
		if err != nil {
			return nil, err
		}
		if i > 0 && client <= prevClient {
			return nil, ErrUnsortedClients
		}
		prevClient = client
		numOps, err := r.uvar()
		if err != nil {
			return nil, err
		}
		if numOps > uint64(len(r.buf)) {
			return nil, ErrUnexpectedEOF
		}
		ops := make([]Op, 0, numOps)
		for j := uint64(0); j < numOps; j++ {
			op, err := decodeOp(r)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
		u.Ops[client] = ops
	}
	return u, nil
}

func encodeStateVectorBody(w *writer, sv StateVector) {
	clients := make([]uint64, 0, len(sv))
	for c := range sv {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	w.uvar(uint64(len(clients)))
	for _, c := range clients {
		w.uvar(c)
		w.uvar(uint64(sv[c]))
	}
}

func decodeStateVectorBody(r *reader) (StateVector, error) {
	n, err := r.uvar()
	if err != nil {
		return nil, err
	}
	if n > MaxClients {
		return nil, ErrTooManyClients
	}
	sv := make(StateVector, n)
	var prev uint64
	for i := uint64(0); i < n; i++ {
		client, err := r.uvar()
		if err != nil {
			return nil, err
		}
		if i > 0 && client <= prev {
			return nil, ErrUnsortedClients
		}
		prev = client
		clock, err := r.uvar32()
		if err != nil {
			return nil, err
		}
		sv[client] = clock
	}
	return sv, nil
}

func encodeAwarenessBody(w *writer, au *AwarenessUpdate) {
	entries := make([]AwarenessEntry, len(au.Entries))
	copy(entries, au.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Client < entries[j].Client })
	w.uvar(uint64(len(entries)))
	for _, e := range entries {
		w.uvar(e.Client)
		w.uvar(uint64(e.Clock))
		if e.State == nil {
			w.byte(0)
		} else {
			w.byte(1)
			w.bytes(e.State)
		}
	}
}

func decodeAwarenessBody(r *reader) (*AwarenessUpdate, error) {
	n, err := r.uvar()
	if err != nil {
		return nil, err
	}
	if n > MaxClients {
		return nil, ErrTooManyClients
	}
	au := &AwarenessUpdate{Entries: make([]AwarenessEntry, 0, n)}
	var prev uint64
	for i := uint64(0); i < n; i++ {
		var e AwarenessEntry
		if e.Client, err = r.uvar(); err != nil {
			return nil, err
		}
		if i > 0 && e.Client <= prev {
			return nil, ErrUnsortedClients
		}
		prev = e.Client
		if e.Clock, err = r.uvar32(); err != nil {
			return nil, err
		}
		present, err := r.byte()
		if err != nil {
			return nil, err
		}
		if present == 1 {
			if e.State, err = r.bytes(); err != nil {
				return nil, err
			}
		}
		au.Entries = append(au.Entries, e)
	}
	return au, nil
}

// EncodeUpdateV1 serializes an update in the v1 wire format.
func EncodeUpdateV1(u *Update) []byte {
	w := &writer{}
	encodeUpdateBody(w, u)
	return w.buf
}

// DecodeUpdateV1 parses a v1-encoded update. It rejects v2 bytes and any
// malformed or truncated input without partial results.
func DecodeUpdateV1(b []byte) (*Update, error) {
	r := &reader{buf: b}
	u, err := decodeUpdateBody(r)
	if err != nil {
		return nil, err
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return u, nil
}

// EncodeStateVectorV1 serializes a state vector in the v1 wire format.
func EncodeStateVectorV1(sv StateVector) []byte {
	w := &writer{}
	encodeStateVectorBody(w, sv)
	return w.buf
}

// DecodeStateVectorV1 parses a v1-encoded state vector.
func DecodeStateVectorV1(b []byte) (StateVector, error) {
	r := &reader{buf: b}
	sv, err := decodeStateVectorBody(r)
	if err != nil {
		return nil, err
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return sv, nil
}

// EncodeAwarenessV1 serializes an awareness update in the v1 wire format.
func EncodeAwarenessV1(au *AwarenessUpdate) []byte {
	w := &writer{}
	encodeAwarenessBody(w, au)
	return w.buf
}

// DecodeAwarenessV1 parses a v1-encoded awareness update.
func DecodeAwarenessV1(b []byte) (*AwarenessUpdate, error) {
	r := &reader{buf: b}
	au, err := decodeAwarenessBody(r)
	if err != nil {
		return nil, err
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return au, nil
}
