package crdtkit

import (
	"encoding/json"
	"sort"

	"github.com/c0deZ3R0/go-crdt-kit/codec"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

// Map is a handle to a shared map root: string keys to JSON values.
// Concurrent writes to the same key converge last-writer-wins, with the
// operation id as the deterministic tiebreaker.
type Map struct {
	doc  *Document
	name string
}

// Name returns the root name the handle was obtained under.
func (m *Map) Name() string { return m.name }

// Set writes value under key. The value must be JSON-serializable.
func (m *Map) Set(key string, value any) error {
	content, err := json.Marshal(value)
	if err != nil {
		return kiterrors.NewSerializationError(kiterrors.OpEdit, "map", err)
	}
	return m.doc.mutably(func(txn *Transaction) error {
		if _, err := m.doc.store.root(m.name, codec.RootMap); err != nil {
			return err
		}
		op := m.doc.store.nextOp(codec.Op{
			Kind:     codec.OpMapSet,
			Root:     m.name,
			RootKind: codec.RootMap,
			Key:      key,
			Content:  content,
		})
		txn.record(m.doc.store.clientID, op)
		return nil
	})
}

// Delete removes key. Deleting an absent key still records an operation so
// that it wins over concurrent sets with smaller ids.
func (m *Map) Delete(key string) error {
	return m.doc.mutably(func(txn *Transaction) error {
		if _, err := m.doc.store.root(m.name, codec.RootMap); err != nil {
			return err
		}
		op := m.doc.store.nextOp(codec.Op{
			Kind:     codec.OpMapDelete,
			Root:     m.name,
			RootKind: codec.RootMap,
			Key:      key,
		})
		txn.record(m.doc.store.clientID, op)
		return nil
	})
}

// Get returns the value under key, decoded from JSON, and whether it exists.
func (m *Map) Get(key string) (any, bool) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	r, ok := m.doc.store.roots[m.name]
	if !ok {
		return nil, false
	}
	e, ok := r.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(e.content, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Keys returns the live keys in ascending order.
func (m *Map) Keys() []string {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	r, ok := m.doc.store.roots[m.name]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(r.entries))
	for k, e := range r.entries {
		if !e.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live keys.
func (m *Map) Len() int {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	r, ok := m.doc.store.roots[m.name]
	if !ok {
		return 0
	}
	n := 0
	for _, e := range r.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

// ToJSON returns the map contents as decoded JSON values.
func (m *Map) ToJSON() map[string]any {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	out := make(map[string]any)
	r, ok := m.doc.store.roots[m.name]
	if !ok {
		return out
	}
	for k, e := range r.entries {
		if e.deleted {
			continue
		}
		var v any
		if err := json.Unmarshal(e.content, &v); err == nil {
			out[k] = v
		}
	}
	return out
}
