package crdtkit

import (
	"encoding/json"
	"fmt"

	"github.com/c0deZ3R0/go-crdt-kit/codec"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

// Array is a handle to a shared array root: an ordered sequence of JSON
// values indexed by position.
type Array struct {
	doc  *Document
	name string
}

// Name returns the root name the handle was obtained under.
func (a *Array) Name() string { return a.name }

// Insert places the values at the given index, preserving their order.
// Values must be JSON-serializable.
func (a *Array) Insert(index int, values ...any) error {
	if len(values) == 0 {
		return nil
	}
	contents := make([][]byte, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return kiterrors.NewSerializationError(kiterrors.OpEdit, "array", err)
		}
		contents[i] = b
	}
	return a.doc.mutably(func(txn *Transaction) error {
		r, err := a.doc.store.root(a.name, codec.RootArray)
		if err != nil {
			return err
		}
		return a.doc.store.seqInsert(txn, r, index, contents)
	})
}

// Append adds the values at the end of the array.
func (a *Array) Append(values ...any) error {
	return a.Insert(a.Len(), values...)
}

// Delete removes length elements starting at index.
func (a *Array) Delete(index, length int) error {
	if length == 0 {
		return nil
	}
	return a.doc.mutably(func(txn *Transaction) error {
		r, err := a.doc.store.root(a.name, codec.RootArray)
		if err != nil {
			return err
		}
		return a.doc.store.seqDelete(txn, r, index, length)
	})
}

// Len returns the number of elements.
func (a *Array) Len() int {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	r, ok := a.doc.store.roots[a.name]
	if !ok {
		return 0
	}
	return r.visibleCount()
}

// Get returns the element at index, decoded from its JSON representation.
func (a *Array) Get(index int) (any, error) {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	r, ok := a.doc.store.roots[a.name]
	if !ok {
		return nil, kiterrors.NewPreconditionError(kiterrors.OpEdit, "array",
			fmt.Errorf("index %d out of range, length 0", index))
	}
	seen := 0
	for _, at := range r.atoms {
		if at.deleted {
			continue
		}
		if seen == index {
			var v any
			if err := json.Unmarshal(at.content, &v); err != nil {
				return nil, kiterrors.NewSerializationError(kiterrors.OpEdit, "array", err)
			}
			return v, nil
		}
		seen++
	}
	return nil, kiterrors.NewPreconditionError(kiterrors.OpEdit, "array",
		fmt.Errorf("index %d out of range, length %d", index, seen))
}

// ToJSON returns the array contents as decoded JSON values.
func (a *Array) ToJSON() []any {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	r, ok := a.doc.store.roots[a.name]
	if !ok {
		return nil
	}
	out := make([]any, 0, r.visibleCount())
	for _, at := range r.atoms {
		if at.deleted {
			continue
		}
		var v any
		if err := json.Unmarshal(at.content, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}
