package crdtkit

import (
	"log/slog"
	"reflect"
	"testing"
)

func TestPublisherDeliversInRegistrationOrder(t *testing.T) {
	p := newPublisher[int](slog.Default())
	var order []string
	p.subscribe(func(int) { order = append(order, "first") })
	p.subscribe(func(int) { order = append(order, "second") })
	p.subscribe(func(int) { order = append(order, "third") })

	p.publish(0)
	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("delivery order %v, want %v", order, want)
	}
}

func TestSubscriptionCancel(t *testing.T) {
	p := newPublisher[int](slog.Default())
	calls := 0
	sub := p.subscribe(func(int) { calls++ })

	p.publish(0)
	sub.Cancel()
	sub.Cancel() // second cancel is a no-op
	p.publish(0)

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	if p.len() != 0 {
		t.Errorf("publisher retains %d subscribers", p.len())
	}
}

func TestCancelOneKeepsOthers(t *testing.T) {
	p := newPublisher[int](slog.Default())
	var got []string
	a := p.subscribe(func(int) { got = append(got, "a") })
	p.subscribe(func(int) { got = append(got, "b") })
	a.Cancel()

	p.publish(0)
	if !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("got %v, want [b]", got)
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	p := newPublisher[int](slog.Default())
	var reached bool
	p.subscribe(func(int) { panic("boom") })
	p.subscribe(func(int) { reached = true })

	p.publish(0)
	if !reached {
		t.Error("panic in earlier subscriber blocked later one")
	}
}

func TestSubscriberPanicDoesNotPoisonDocument(t *testing.T) {
	doc := newTestDoc(t, 1)
	text, _ := doc.GetOrInsertText("body")
	doc.OnUpdateV1(func(UpdateEvent) { panic("bad subscriber") })
	events := 0
	doc.OnUpdateV1(func(UpdateEvent) { events++ })

	if err := text.Insert(0, "x"); err != nil {
		t.Fatal(err)
	}
	if err := text.Insert(1, "y"); err != nil {
		t.Fatal(err)
	}
	if events != 2 {
		t.Errorf("later subscriber saw %d events, want 2", events)
	}
	if text.String() != "xy" {
		t.Errorf("text = %q", text.String())
	}
}

func TestCallbackMayReenterDocument(t *testing.T) {
	doc := newTestDoc(t, 1)
	text, _ := doc.GetOrInsertText("body")
	var svFromCallback []byte
	doc.OnUpdateV1(func(ev UpdateEvent) {
		// Re-entering the document from a callback must not deadlock.
		svFromCallback = ev.Doc.EncodeStateVectorV1()
	})
	if err := text.Insert(0, "z"); err != nil {
		t.Fatal(err)
	}
	if svFromCallback == nil {
		t.Error("callback did not run or could not read the document")
	}
}
