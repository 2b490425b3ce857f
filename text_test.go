package crdtkit

import (
	"testing"

	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

func TestTextByteOffsets(t *testing.T) {
	doc := newTestDoc(t, 1)
	text, _ := doc.GetOrInsertText("body")

	if err := text.Insert(0, "héllo"); err != nil {
		t.Fatal(err)
	}
	// "é" is two bytes in UTF-8.
	if text.Len() != 6 {
		t.Errorf("Len = %d, want 6", text.Len())
	}
	// Offset 3 lands after "é", between the bytes is offset 2.
	if err := text.Insert(3, "X"); err != nil {
		t.Fatalf("insert at byte boundary: %v", err)
	}
	if text.String() != "héXllo" {
		t.Errorf("text = %q", text.String())
	}

	// Offset 2 splits the two-byte rune.
	err := text.Insert(2, "Y")
	if !kiterrors.IsCode(err, kiterrors.ErrCodePrecondition) {
		t.Fatalf("expected precondition error for mid-rune offset, got %v", err)
	}
}

func TestTextUTF16Offsets(t *testing.T) {
	doc, err := NewDocumentWithOptions(Options{ClientID: 1, OffsetKind: OffsetUTF16})
	if err != nil {
		t.Fatal(err)
	}
	text, _ := doc.GetOrInsertText("body")

	// "𝕊" is a surrogate pair: two UTF-16 units.
	if err := text.Insert(0, "a𝕊b"); err != nil {
		t.Fatal(err)
	}
	if text.Len() != 4 {
		t.Errorf("Len = %d, want 4", text.Len())
	}
	if err := text.Insert(3, "X"); err != nil {
		t.Fatalf("insert after surrogate pair: %v", err)
	}
	if text.String() != "a𝕊Xb" {
		t.Errorf("text = %q", text.String())
	}

	// Offset 2 lands between the surrogate halves.
	errMid := text.Insert(2, "Y")
	if !kiterrors.IsCode(errMid, kiterrors.ErrCodePrecondition) {
		t.Fatalf("expected precondition error inside surrogate pair, got %v", errMid)
	}
}

func TestTextDeleteRangeValidation(t *testing.T) {
	doc := newTestDoc(t, 1)
	text, _ := doc.GetOrInsertText("body")
	if err := text.Insert(0, "hello"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		index, length int
		wantErr       bool
	}{
		{"full range", 0, 5, false},
		{"out of bounds", 0, 99, true},
		{"negative index", -1, 1, true},
		{"negative length", 0, -1, true},
		{"zero length", 2, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fresh := newTestDoc(t, 2)
			ft, _ := fresh.GetOrInsertText("body")
			if err := ft.Insert(0, "hello"); err != nil {
				t.Fatal(err)
			}
			err := ft.Delete(tc.index, tc.length)
			if tc.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestTextInsertOutOfRange(t *testing.T) {
	doc := newTestDoc(t, 1)
	text, _ := doc.GetOrInsertText("body")
	err := text.Insert(1, "x")
	if !kiterrors.IsCode(err, kiterrors.ErrCodePrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	// A failed insert must not leave partial edits behind.
	if text.Len() != 0 {
		t.Errorf("failed insert modified the text: %q", text.String())
	}
}

func TestTextEmptyInsertIsNoop(t *testing.T) {
	doc := newTestDoc(t, 1)
	text, _ := doc.GetOrInsertText("body")
	events := 0
	doc.OnUpdateV1(func(UpdateEvent) { events++ })
	if err := text.Insert(0, ""); err != nil {
		t.Fatal(err)
	}
	if events != 0 {
		t.Errorf("empty insert produced %d events", events)
	}
}

func TestTextDeleteAcrossEarlierTombstones(t *testing.T) {
	doc := newTestDoc(t, 1)
	text, _ := doc.GetOrInsertText("body")
	if err := text.Insert(0, "abcdef"); err != nil {
		t.Fatal(err)
	}
	if err := text.Delete(1, 2); err != nil { // "adef"
		t.Fatal(err)
	}
	if err := text.Delete(1, 2); err != nil { // "af"
		t.Fatal(err)
	}
	if text.String() != "af" {
		t.Errorf("text = %q, want %q", text.String(), "af")
	}
	if err := text.Insert(1, "-"); err != nil {
		t.Fatal(err)
	}
	if text.String() != "a-f" {
		t.Errorf("text = %q, want %q", text.String(), "a-f")
	}
}
