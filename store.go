package crdtkit

import (
	"fmt"
	"sort"

	"github.com/c0deZ3R0/go-crdt-kit/codec"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

// atom is one materialized element of a sequence root. Tombstoned atoms stay
// in the sequence as shells so that later remote inserts can still resolve
// their origins against them.
type atom struct {
	id      codec.ID
	origin  *codec.ID
	content []byte
	deleted bool
	gc      bool
}

// mapEntry is the current winner for one key of a map root.
type mapEntry struct {
	id      codec.ID
	content []byte
	deleted bool
}

type rootState struct {
	name string
	kind codec.RootKind

	// sequence roots (text, array, xml fragment)
	atoms []*atom
	index map[codec.ID]int
	// inserts waiting for their origin atom, keyed by the missing id
	pendingInserts map[codec.ID][]*atom
	// tombstones for atoms whose insert has not arrived yet
	pendingDeletes map[codec.ID]struct{}

	// map roots
	entries map[string]*mapEntry
}

func newRootState(name string, kind codec.RootKind) *rootState {
	return &rootState{
		name:           name,
		kind:           kind,
		index:          make(map[codec.ID]int),
		pendingInserts: make(map[codec.ID][]*atom),
		pendingDeletes: make(map[codec.ID]struct{}),
		entries:        make(map[string]*mapEntry),
	}
}

func (r *rootState) insertAt(i int, a *atom) {
	r.atoms = append(r.atoms, nil)
	copy(r.atoms[i+1:], r.atoms[i:])
	r.atoms[i] = a
	for id, idx := range r.index {
		if idx >= i {
			r.index[id] = idx + 1
		}
	}
	r.index[a.id] = i
}

// integrate places an atom into the sequence. Placement is deterministic
// regardless of arrival order: the atom goes after its origin, and among
// concurrent atoms sharing the same origin the one with the larger id sorts
// first. Atoms whose origin has not arrived yet are parked until it does.
func (r *rootState) integrate(a *atom) {
	originIdx := -1
	if a.origin != nil {
		idx, ok := r.index[*a.origin]
		if !ok {
			r.pendingInserts[*a.origin] = append(r.pendingInserts[*a.origin], a)
			return
		}
		originIdx = idx
	}

	i := originIdx + 1
	for i < len(r.atoms) {
		e := r.atoms[i]
		eOriginIdx := -1
		if e.origin != nil {
			eOriginIdx = r.index[*e.origin]
		}
		if eOriginIdx < originIdx {
			break
		}
		if eOriginIdx == originIdx && e.id.Compare(a.id) < 0 {
			break
		}
		i++
	}
	r.insertAt(i, a)

	if _, tombstoned := r.pendingDeletes[a.id]; tombstoned {
		a.deleted = true
		delete(r.pendingDeletes, a.id)
	}
	if waiters := r.pendingInserts[a.id]; len(waiters) > 0 {
		delete(r.pendingInserts, a.id)
		for _, w := range waiters {
			r.integrate(w)
		}
	}
}

func (r *rootState) tombstone(target codec.ID) {
	if idx, ok := r.index[target]; ok {
		r.atoms[idx].deleted = true
		return
	}
	r.pendingDeletes[target] = struct{}{}
}

// applyMapOp resolves concurrent writes to the same key last-writer-wins,
// with the op id as the deterministic order. Replayed ops lose against
// themselves, which makes the merge idempotent.
func (r *rootState) applyMapOp(id codec.ID, op codec.Op) {
	if e, ok := r.entries[op.Key]; ok && id.Compare(e.id) <= 0 {
		return
	}
	r.entries[op.Key] = &mapEntry{
		id:      id,
		content: op.Content,
		deleted: op.Kind == codec.OpMapDelete,
	}
}

// visibleCount returns the number of non-tombstoned atoms.
func (r *rootState) visibleCount() int {
	n := 0
	for _, a := range r.atoms {
		if !a.deleted {
			n++
		}
	}
	return n
}

// docStore owns the replicated state of one document: the per-client
// operation logs that updates are diffed from, and the materialized roots
// reads are served from.
type docStore struct {
	clientID   uint64
	offsetKind OffsetKind
	skipGC     bool

	logs       map[uint64]map[uint32]codec.Op
	contiguous map[uint64]uint32
	localClock uint32
	roots      map[string]*rootState
}

func newDocStore(opts Options) *docStore {
	return &docStore{
		clientID:   opts.ClientID,
		offsetKind: opts.OffsetKind,
		skipGC:     opts.SkipGC,
		logs:       make(map[uint64]map[uint32]codec.Op),
		contiguous: make(map[uint64]uint32),
		roots:      make(map[string]*rootState),
	}
}

// root returns the named root, creating it on first access. Requesting an
// existing root under a different kind is a contract violation.
func (s *docStore) root(name string, kind codec.RootKind) (*rootState, error) {
	if r, ok := s.roots[name]; ok {
		if r.kind != kind {
			return nil, kiterrors.NewPreconditionError(kiterrors.OpGetRoot, "document",
				fmt.Errorf("root %q already exists as %s, requested %s", name, r.kind, kind))
		}
		return r, nil
	}
	r := newRootState(name, kind)
	s.roots[name] = r
	return r, nil
}

// stateVector reports, per client, the length of the contiguous prefix of
// operations seen from that client.
func (s *docStore) stateVector() codec.StateVector {
	sv := make(codec.StateVector, len(s.contiguous))
	for c, n := range s.contiguous {
		if n > 0 {
			sv[c] = n
		}
	}
	return sv
}

// diff collects every operation the remote state vector does not cover.
// A nil remote vector means the remote has nothing: full state export.
func (s *docStore) diff(remote codec.StateVector) *codec.Update {
	u := codec.NewUpdate()
	for client, log := range s.logs {
		since := remote[client]
		clocks := make([]uint32, 0, len(log))
		for clock := range log {
			if clock >= since {
				clocks = append(clocks, clock)
			}
		}
		if len(clocks) == 0 {
			continue
		}
		sort.Slice(clocks, func(i, j int) bool { return clocks[i] < clocks[j] })
		ops := make([]codec.Op, 0, len(clocks))
		for _, clock := range clocks {
			ops = append(ops, log[clock])
		}
		u.Ops[client] = ops
	}
	return u
}

// nextOp stamps and records a locally produced operation and materializes
// it. The caller attributes it to the enclosing transaction.
func (s *docStore) nextOp(op codec.Op) codec.Op {
	op.Clock = s.localClock
	s.localClock++
	s.applyOp(s.clientID, op)
	return op
}

// applyOp records one operation in the log and materializes it. It returns
// false for operations already seen (idempotent merge).
func (s *docStore) applyOp(client uint64, op codec.Op) bool {
	log, ok := s.logs[client]
	if !ok {
		log = make(map[uint32]codec.Op)
		s.logs[client] = log
	}
	if _, seen := log[op.Clock]; seen {
		return false
	}
	log[op.Clock] = op
	for {
		if _, ok := log[s.contiguous[client]]; !ok {
			break
		}
		s.contiguous[client]++
	}

	// Root kind conflicts were rejected before any mutation, so this
	// cannot fail here.
	r, _ := s.root(op.Root, op.RootKind)
	id := codec.ID{Client: client, Clock: op.Clock}
	switch op.Kind {
	case codec.OpInsert:
		r.integrate(&atom{id: id, origin: op.Origin, content: op.Content})
	case codec.OpDelete:
		r.tombstone(op.Target)
	case codec.OpMapSet, codec.OpMapDelete:
		r.applyMapOp(id, op)
	}
	return true
}

// validateUpdate checks a decoded update against the current roots before
// any mutation so that a failing apply leaves the document untouched.
func (s *docStore) validateUpdate(u *codec.Update) error {
	kinds := make(map[string]codec.RootKind)
	for _, ops := range u.Ops {
		for _, op := range ops {
			if existing, ok := s.roots[op.Root]; ok && existing.kind != op.RootKind {
				return kiterrors.NewPreconditionError(kiterrors.OpApplyUpdate, "document",
					fmt.Errorf("update targets root %q as %s, document has %s",
						op.Root, op.RootKind, existing.kind))
			}
			if prev, ok := kinds[op.Root]; ok && prev != op.RootKind {
				return kiterrors.NewDecodingError(kiterrors.OpApplyUpdate, "document",
					fmt.Errorf("update targets root %q with conflicting kinds", op.Root))
			}
			kinds[op.Root] = op.RootKind
		}
	}
	return nil
}

// applyUpdate merges a decoded update and returns the operations that were
// actually new, grouped by client. Duplicates are dropped; operations whose
// sequence origins are still missing are integrated as soon as the origin
// arrives, from this update or a later one.
func (s *docStore) applyUpdate(u *codec.Update) (map[uint64][]codec.Op, error) {
	if err := s.validateUpdate(u); err != nil {
		return nil, err
	}
	applied := make(map[uint64][]codec.Op)
	clients := make([]uint64, 0, len(u.Ops))
	for c := range u.Ops {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	for _, client := range clients {
		for _, op := range u.Ops[client] {
			if s.applyOp(client, op) {
				applied[client] = append(applied[client], op)
			}
		}
	}
	return applied, nil
}

// gc releases the content of tombstoned atoms, leaving id shells behind for
// origin resolution. The operation logs are unaffected so that encoded
// diffs stay identical across replicas regardless of their commit timing.
func (s *docStore) gc() {
	for _, r := range s.roots {
		for _, a := range r.atoms {
			if a.deleted && !a.gc {
				a.gc = true
				a.content = nil
			}
		}
	}
}
