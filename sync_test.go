package crdtkit

import (
	"bytes"
	"testing"
)

// exchange syncs two documents both ways using the state-vector flow.
func exchange(t *testing.T, a, b *Document) {
	t.Helper()
	diffAB, err := a.EncodeDiffV1(b.EncodeStateVectorV1())
	if err != nil {
		t.Fatalf("diff a->b: %v", err)
	}
	diffBA, err := b.EncodeDiffV1(a.EncodeStateVectorV1())
	if err != nil {
		t.Fatalf("diff b->a: %v", err)
	}
	if err := b.ApplyUpdateV1(diffAB, "sync"); err != nil {
		t.Fatalf("apply a->b: %v", err)
	}
	if err := a.ApplyUpdateV1(diffBA, "sync"); err != nil {
		t.Fatalf("apply b->a: %v", err)
	}
}

// fullState is the canonical encoding of everything a replica holds. Two
// converged replicas must produce identical bytes.
func fullState(t *testing.T, d *Document) []byte {
	t.Helper()
	b, err := d.EncodeDiffV1(nil)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestConcurrentTextEditsConverge(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	ta, _ := a.GetOrInsertText("body")
	tb, _ := b.GetOrInsertText("body")

	if err := ta.Insert(0, "base"); err != nil {
		t.Fatal(err)
	}
	exchange(t, a, b)

	// Concurrent edits on both sides before the next sync.
	if err := ta.Insert(0, "A1 "); err != nil {
		t.Fatal(err)
	}
	if err := ta.Insert(ta.Len(), " A2"); err != nil {
		t.Fatal(err)
	}
	if err := ta.Delete(3, 2); err != nil { // remove "ba"
		t.Fatal(err)
	}
	if err := tb.Insert(4, "-B1-"); err != nil {
		t.Fatal(err)
	}
	if err := tb.Insert(0, "B2 "); err != nil {
		t.Fatal(err)
	}
	if err := tb.Delete(0, 1); err != nil {
		t.Fatal(err)
	}

	exchange(t, a, b)

	if ta.String() != tb.String() {
		t.Errorf("replicas diverged: %q vs %q", ta.String(), tb.String())
	}
	if !bytes.Equal(fullState(t, a), fullState(t, b)) {
		t.Error("full-state encodings differ after convergence")
	}
}

func TestUpdatesAreOrderIndependentAndIdempotent(t *testing.T) {
	src := newTestDoc(t, 1)
	text, _ := src.GetOrInsertText("body")
	var updates [][]byte
	src.OnUpdateV1(func(ev UpdateEvent) {
		updates = append(updates, ev.Update)
	})
	for _, s := range []string{"one ", "two ", "three"} {
		if err := text.Insert(text.Len(), s); err != nil {
			t.Fatal(err)
		}
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}

	// Forward order.
	fwd := newTestDoc(t, 2)
	for _, u := range updates {
		if err := fwd.ApplyUpdateV1(u, ""); err != nil {
			t.Fatal(err)
		}
	}
	// Reverse order with duplicates.
	rev := newTestDoc(t, 3)
	for i := len(updates) - 1; i >= 0; i-- {
		if err := rev.ApplyUpdateV1(updates[i], ""); err != nil {
			t.Fatal(err)
		}
		if err := rev.ApplyUpdateV1(updates[i], ""); err != nil {
			t.Fatal(err)
		}
	}

	ft, _ := fwd.GetOrInsertText("body")
	rt, _ := rev.GetOrInsertText("body")
	if ft.String() != "one two three" {
		t.Errorf("forward replica text = %q", ft.String())
	}
	if rt.String() != ft.String() {
		t.Errorf("order-dependent result: %q vs %q", rt.String(), ft.String())
	}
	if !bytes.Equal(fullState(t, fwd), fullState(t, rev)) {
		t.Error("full-state encodings differ between application orders")
	}
}

func TestDeleteArrivingBeforeInsertIsParked(t *testing.T) {
	src := newTestDoc(t, 1)
	text, _ := src.GetOrInsertText("body")
	var updates [][]byte
	src.OnUpdateV1(func(ev UpdateEvent) {
		updates = append(updates, ev.Update)
	})
	if err := text.Insert(0, "abcdef"); err != nil {
		t.Fatal(err)
	}
	if err := text.Delete(1, 3); err != nil {
		t.Fatal(err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}

	// The delete commit lands before the insert commit it tombstones.
	dst := newTestDoc(t, 2)
	if err := dst.ApplyUpdateV1(updates[1], ""); err != nil {
		t.Fatal(err)
	}
	dt, _ := dst.GetOrInsertText("body")
	if dt.Len() != 0 {
		t.Fatalf("content visible before its insert arrived: %q", dt.String())
	}

	// Filling the gap must land both the atoms and the parked tombstones.
	if err := dst.ApplyUpdateV1(updates[0], ""); err != nil {
		t.Fatal(err)
	}
	if dt.String() != "aef" {
		t.Errorf("text = %q, want %q", dt.String(), "aef")
	}
	if !bytes.Equal(fullState(t, dst), fullState(t, src)) {
		t.Error("full-state encodings differ after the gap filled")
	}
}

func TestConcurrentInsertsAtSamePositionAgree(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	ta, _ := a.GetOrInsertText("body")
	tb, _ := b.GetOrInsertText("body")

	// Both replicas insert at position 0 of an empty document.
	if err := ta.Insert(0, "aaa"); err != nil {
		t.Fatal(err)
	}
	if err := tb.Insert(0, "bbb"); err != nil {
		t.Fatal(err)
	}
	exchange(t, a, b)

	if ta.String() != tb.String() {
		t.Errorf("diverged: %q vs %q", ta.String(), tb.String())
	}
	// Blocks must not interleave character by character.
	got := ta.String()
	if got != "aaabbb" && got != "bbbaaa" {
		t.Errorf("concurrent blocks interleaved: %q", got)
	}
}

func TestMapLastWriterWins(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	ma, _ := a.GetOrInsertMap("meta")
	mb, _ := b.GetOrInsertMap("meta")

	if err := ma.Set("title", "from-a"); err != nil {
		t.Fatal(err)
	}
	if err := mb.Set("title", "from-b"); err != nil {
		t.Fatal(err)
	}
	exchange(t, a, b)

	va, okA := ma.Get("title")
	vb, okB := mb.Get("title")
	if !okA || !okB {
		t.Fatal("key missing after sync")
	}
	if va != vb {
		t.Errorf("map diverged: %v vs %v", va, vb)
	}

	// Delete concurrent with a later set: both replicas agree either way.
	if err := ma.Delete("title"); err != nil {
		t.Fatal(err)
	}
	if err := mb.Set("title", "resurrect"); err != nil {
		t.Fatal(err)
	}
	exchange(t, a, b)
	va2, okA2 := ma.Get("title")
	vb2, okB2 := mb.Get("title")
	if okA2 != okB2 || va2 != vb2 {
		t.Errorf("map diverged after delete/set: (%v,%v) vs (%v,%v)", va2, okA2, vb2, okB2)
	}
}

func TestArrayConvergence(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	aa, _ := a.GetOrInsertArray("list")
	ab, _ := b.GetOrInsertArray("list")

	if err := aa.Append("x", float64(1), true); err != nil {
		t.Fatal(err)
	}
	exchange(t, a, b)

	if err := aa.Insert(1, "a-mid"); err != nil {
		t.Fatal(err)
	}
	if err := ab.Delete(2, 1); err != nil {
		t.Fatal(err)
	}
	exchange(t, a, b)

	ja, jb := aa.ToJSON(), ab.ToJSON()
	if len(ja) != len(jb) {
		t.Fatalf("lengths differ: %v vs %v", ja, jb)
	}
	for i := range ja {
		if ja[i] != jb[i] {
			t.Errorf("element %d differs: %v vs %v", i, ja[i], jb[i])
		}
	}
}

func TestXMLFragmentConvergence(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	xa, _ := a.GetOrInsertXMLFragment("doc")
	xb, _ := b.GetOrInsertXMLFragment("doc")

	if err := xa.InsertElement(0, "p", map[string]string{"class": "lead"}); err != nil {
		t.Fatal(err)
	}
	if err := xb.InsertText(0, "hello"); err != nil {
		t.Fatal(err)
	}
	exchange(t, a, b)

	if xa.String() != xb.String() {
		t.Errorf("fragments diverged: %q vs %q", xa.String(), xb.String())
	}
	if xa.Len() != 2 {
		t.Errorf("expected 2 nodes, got %d", xa.Len())
	}
}

func TestDiffOnlyCarriesMissingOps(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	ta, _ := a.GetOrInsertText("body")

	if err := ta.Insert(0, "shared"); err != nil {
		t.Fatal(err)
	}
	exchange(t, a, b)

	if err := ta.Insert(ta.Len(), "+new"); err != nil {
		t.Fatal(err)
	}
	diff, err := a.EncodeDiffV1(b.EncodeStateVectorV1())
	if err != nil {
		t.Fatal(err)
	}
	full := fullState(t, a)
	if len(diff) >= len(full) {
		t.Errorf("incremental diff (%d bytes) not smaller than full state (%d bytes)", len(diff), len(full))
	}
	if err := b.ApplyUpdateV1(diff, ""); err != nil {
		t.Fatal(err)
	}
	tb, _ := b.GetOrInsertText("body")
	if tb.String() != "shared+new" {
		t.Errorf("replica text = %q", tb.String())
	}
}

func TestDiffV2Roundtrip(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	ta, _ := a.GetOrInsertText("body")
	if err := ta.Insert(0, "compact"); err != nil {
		t.Fatal(err)
	}

	diff, err := a.EncodeDiffV2(b.EncodeStateVectorV2())
	if err != nil {
		t.Fatal(err)
	}
	if err := b.ApplyUpdateV2(diff, ""); err != nil {
		t.Fatal(err)
	}
	tb, _ := b.GetOrInsertText("body")
	if tb.String() != "compact" {
		t.Errorf("replica text = %q", tb.String())
	}
}

func TestGCKeepsFullStateStable(t *testing.T) {
	a := newTestDoc(t, 1)
	ta, _ := a.GetOrInsertText("body")
	if err := ta.Insert(0, "delete me"); err != nil {
		t.Fatal(err)
	}
	if err := ta.Delete(0, 7); err != nil {
		t.Fatal(err)
	}

	// A replica built from the full state must match, even though the
	// source already garbage collected the tombstoned content.
	b := newTestDoc(t, 2)
	if err := b.ApplyUpdateV1(fullState(t, a), ""); err != nil {
		t.Fatal(err)
	}
	tb, _ := b.GetOrInsertText("body")
	if tb.String() != ta.String() {
		t.Errorf("replica text %q, source %q", tb.String(), ta.String())
	}
	if !bytes.Equal(fullState(t, a), fullState(t, b)) {
		t.Error("full-state encodings differ")
	}
}
