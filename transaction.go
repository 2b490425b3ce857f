package crdtkit

import (
	"github.com/c0deZ3R0/go-crdt-kit/codec"
)

// Transaction batches edits so that a single commit produces a single update
// event covering all of them. A document has at most one open transaction;
// edits and merges performed while it is open join it instead of committing
// on their own.
type Transaction struct {
	doc    *Document
	origin string
	added  map[uint64][]codec.Op
}

func newTransaction(d *Document, origin string) *Transaction {
	return &Transaction{
		doc:    d,
		origin: origin,
		added:  make(map[uint64][]codec.Op),
	}
}

// Origin returns the opaque tag the transaction was opened with. It is
// forwarded unchanged to update events, which lets providers recognize and
// skip their own writes.
func (t *Transaction) Origin() string {
	return t.origin
}

func (t *Transaction) record(client uint64, op codec.Op) {
	t.added[client] = append(t.added[client], op)
}

func (t *Transaction) merge(ops map[uint64][]codec.Op) {
	for client, clientOps := range ops {
		t.added[client] = append(t.added[client], clientOps...)
	}
}

func (t *Transaction) isEmpty() bool {
	for _, ops := range t.added {
		if len(ops) > 0 {
			return false
		}
	}
	return true
}
