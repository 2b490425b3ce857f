package crdtkit

import (
	"encoding/json"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/c0deZ3R0/go-crdt-kit/codec"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

// Sequence editing against the materialized atom slice. Positions arrive in
// two flavors: atom counts for arrays and XML fragments, offset units (bytes
// or UTF-16 code units, per document option) for text. Both resolve to a
// left-neighbor origin atom before the insert op is produced.

// seqOrigin resolves an atom-count index to the id of the visible atom
// immediately left of the insertion point. Index 0 means the sequence head.
func seqOrigin(r *rootState, index int) (*codec.ID, error) {
	if index < 0 {
		return nil, fmt.Errorf("negative index %d", index)
	}
	if index == 0 {
		return nil, nil
	}
	seen := 0
	for _, a := range r.atoms {
		if a.deleted {
			continue
		}
		seen++
		if seen == index {
			id := a.id
			return &id, nil
		}
	}
	return nil, fmt.Errorf("index %d out of range, length %d", index, seen)
}

// seqInsert produces one insert op per content item, chaining each new atom
// onto the previous one so the block stays contiguous under concurrency.
func (s *docStore) seqInsert(txn *Transaction, r *rootState, index int, contents [][]byte) error {
	origin, err := seqOrigin(r, index)
	if err != nil {
		return kiterrors.NewPreconditionError(kiterrors.OpEdit, r.kind.String(), err)
	}
	for _, content := range contents {
		op := s.nextOp(codec.Op{
			Kind:     codec.OpInsert,
			Root:     r.name,
			RootKind: r.kind,
			Origin:   origin,
			Content:  content,
		})
		txn.record(s.clientID, op)
		origin = &codec.ID{Client: s.clientID, Clock: op.Clock}
	}
	return nil
}

// seqDelete tombstones count visible atoms starting at the given atom index.
func (s *docStore) seqDelete(txn *Transaction, r *rootState, index, count int) error {
	if index < 0 || count < 0 {
		return kiterrors.NewPreconditionError(kiterrors.OpEdit, r.kind.String(),
			fmt.Errorf("negative range (%d, %d)", index, count))
	}
	targets := make([]codec.ID, 0, count)
	seen := 0
	for _, a := range r.atoms {
		if a.deleted {
			continue
		}
		if seen >= index && len(targets) < count {
			targets = append(targets, a.id)
		}
		seen++
	}
	if seen < index+count {
		return kiterrors.NewPreconditionError(kiterrors.OpEdit, r.kind.String(),
			fmt.Errorf("range (%d, %d) out of bounds, length %d", index, count, seen))
	}
	s.tombstoneAll(txn, r, targets)
	return nil
}

func (s *docStore) tombstoneAll(txn *Transaction, r *rootState, targets []codec.ID) {
	for _, target := range targets {
		op := s.nextOp(codec.Op{
			Kind:     codec.OpDelete,
			Root:     r.name,
			RootKind: r.kind,
			Target:   target,
		})
		txn.record(s.clientID, op)
	}
}

// textWidth returns how many offset units one text atom occupies. Atoms
// whose content was garbage collected are tombstoned and never measured.
func textWidth(content []byte, kind OffsetKind) int {
	var str string
	if err := json.Unmarshal(content, &str); err != nil {
		return 1
	}
	if kind == OffsetBytes {
		return len(str)
	}
	return len(utf16.Encode([]rune(str)))
}

// textOrigin resolves an offset-unit index to a left-neighbor origin. An
// offset landing inside an atom (between the bytes of a code point, or
// between the halves of a surrogate pair) is rejected.
func (s *docStore) textOrigin(r *rootState, index int) (*codec.ID, error) {
	if index < 0 {
		return nil, fmt.Errorf("negative offset %d", index)
	}
	if index == 0 {
		return nil, nil
	}
	units := 0
	for _, a := range r.atoms {
		if a.deleted {
			continue
		}
		units += textWidth(a.content, s.offsetKind)
		if units == index {
			id := a.id
			return &id, nil
		}
		if units > index {
			return nil, fmt.Errorf("offset %d splits a code point", index)
		}
	}
	return nil, fmt.Errorf("offset %d out of range, length %d", index, units)
}

// textInsert splits value into runes, one atom each, so that concurrent
// edits can interleave at any rune boundary.
func (s *docStore) textInsert(txn *Transaction, r *rootState, index int, value string) error {
	origin, err := s.textOrigin(r, index)
	if err != nil {
		return kiterrors.NewPreconditionError(kiterrors.OpEdit, "text", err)
	}
	if !utf8.ValidString(value) {
		return kiterrors.NewPreconditionError(kiterrors.OpEdit, "text",
			fmt.Errorf("value is not valid UTF-8"))
	}
	for _, ru := range value {
		content, err := json.Marshal(string(ru))
		if err != nil {
			return kiterrors.NewSerializationError(kiterrors.OpEdit, "text", err)
		}
		op := s.nextOp(codec.Op{
			Kind:     codec.OpInsert,
			Root:     r.name,
			RootKind: codec.RootText,
			Origin:   origin,
			Content:  content,
		})
		txn.record(s.clientID, op)
		origin = &codec.ID{Client: s.clientID, Clock: op.Clock}
	}
	return nil
}

// textDelete tombstones the atoms covering [index, index+length) in offset
// units. Both range ends must fall on atom boundaries.
func (s *docStore) textDelete(txn *Transaction, r *rootState, index, length int) error {
	if index < 0 || length < 0 {
		return kiterrors.NewPreconditionError(kiterrors.OpEdit, "text",
			fmt.Errorf("negative range (%d, %d)", index, length))
	}
	if length == 0 {
		return nil
	}
	var targets []codec.ID
	units := 0
	covered := 0
	for _, a := range r.atoms {
		if a.deleted {
			continue
		}
		w := textWidth(a.content, s.offsetKind)
		switch {
		case units < index:
			if units+w > index {
				return kiterrors.NewPreconditionError(kiterrors.OpEdit, "text",
					fmt.Errorf("offset %d splits a code point", index))
			}
		case covered < length:
			if covered+w > length {
				return kiterrors.NewPreconditionError(kiterrors.OpEdit, "text",
					fmt.Errorf("range end %d splits a code point", index+length))
			}
			targets = append(targets, a.id)
			covered += w
		}
		units += w
		if covered == length {
			break
		}
	}
	if covered < length {
		return kiterrors.NewPreconditionError(kiterrors.OpEdit, "text",
			fmt.Errorf("range (%d, %d) out of bounds, length %d", index, length, units))
	}
	s.tombstoneAll(txn, r, targets)
	return nil
}
