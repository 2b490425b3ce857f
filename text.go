package crdtkit

import (
	"encoding/json"
	"strings"

	"github.com/c0deZ3R0/go-crdt-kit/codec"
)

// Text is a handle to a shared text root. Offsets and lengths are counted in
// the unit the document was created with (UTF-8 bytes or UTF-16 code units).
// Handles stay valid for the lifetime of the document.
type Text struct {
	doc  *Document
	name string
}

// Name returns the root name the handle was obtained under.
func (t *Text) Name() string { return t.name }

// Insert places value at the given offset. Offset 0 prepends, Len() appends.
func (t *Text) Insert(index int, value string) error {
	if value == "" {
		return nil
	}
	return t.doc.mutably(func(txn *Transaction) error {
		r, err := t.doc.store.root(t.name, codec.RootText)
		if err != nil {
			return err
		}
		return t.doc.store.textInsert(txn, r, index, value)
	})
}

// Delete removes length units starting at the given offset.
func (t *Text) Delete(index, length int) error {
	return t.doc.mutably(func(txn *Transaction) error {
		r, err := t.doc.store.root(t.name, codec.RootText)
		if err != nil {
			return err
		}
		return t.doc.store.textDelete(txn, r, index, length)
	})
}

// Len returns the current text length in offset units.
func (t *Text) Len() int {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	r, ok := t.doc.store.roots[t.name]
	if !ok {
		return 0
	}
	units := 0
	for _, a := range r.atoms {
		if a.deleted {
			continue
		}
		units += textWidth(a.content, t.doc.store.offsetKind)
	}
	return units
}

// String returns the current text content.
func (t *Text) String() string {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	r, ok := t.doc.store.roots[t.name]
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, a := range r.atoms {
		if a.deleted {
			continue
		}
		var s string
		if err := json.Unmarshal(a.content, &s); err == nil {
			b.WriteString(s)
		}
	}
	return b.String()
}
