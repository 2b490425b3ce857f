// Package crdtkit implements a conflict-free replicated document: named
// text, array, map and XML fragment roots that any number of replicas can
// edit independently and reconcile by exchanging binary updates. Two
// replicas that have applied the same set of updates hold identical state,
// regardless of delivery order or duplication.
package crdtkit

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c0deZ3R0/go-crdt-kit/codec"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

// UpdateEvent is delivered to update subscribers after a commit or merge
// that produced at least one operation. Update holds the encoded operations
// of that commit only, in the format of the channel the subscriber
// registered on.
type UpdateEvent struct {
	Update []byte
	Origin string
	Doc    *Document
}

// Document is a replicated document instance. All methods are safe for
// concurrent use; edits are serialized internally.
type Document struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	store      *docStore
	curr       *Transaction
	handles    map[string]any
	shouldLoad bool

	updateV1 *publisher[UpdateEvent]
	updateV2 *publisher[UpdateEvent]
}

// NewDocument creates a document with default options.
func NewDocument() *Document {
	d, err := NewDocumentWithOptions(DefaultOptions())
	if err != nil {
		// DefaultOptions always validates.
		panic(err)
	}
	return d
}

// NewDocumentWithOptions creates a document with the given options. Unset
// fields are filled with their documented defaults before validation.
func NewDocumentWithOptions(opts Options) (*Document, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger.With(
		slog.String("component", "document"),
		slog.String("guid", opts.GUID),
	)
	return &Document{
		opts:       opts,
		logger:     logger,
		store:      newDocStore(opts),
		handles:    make(map[string]any),
		shouldLoad: opts.ShouldLoad,
		updateV1:   newPublisher[UpdateEvent](logger),
		updateV2:   newPublisher[UpdateEvent](logger),
	}, nil
}

// ClientID returns the replica identifier of this document instance.
func (d *Document) ClientID() uint64 { return d.opts.ClientID }

// GUID returns the document identifier.
func (d *Document) GUID() string { return d.opts.GUID }

// CollectionID returns the collection the document belongs to, if any.
func (d *Document) CollectionID() string { return d.opts.CollectionID }

// OffsetKind returns the text offset semantics the document was created with.
func (d *Document) OffsetKind() OffsetKind { return d.opts.OffsetKind }

// SkipGC reports whether tombstone garbage collection is disabled.
func (d *Document) SkipGC() bool { return d.opts.SkipGC }

// AutoLoad reports whether providers should load this document automatically.
func (d *Document) AutoLoad() bool { return d.opts.AutoLoad }

// ShouldLoad reports whether a provider should sync the document now.
func (d *Document) ShouldLoad() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shouldLoad
}

// Load marks the document as wanting to be synced. Providers observing the
// document pick the flag up on their next pass.
func (d *Document) Load() {
	d.mu.Lock()
	d.shouldLoad = true
	d.mu.Unlock()
}

// BeginTransaction opens an explicit transaction tagged with origin. Edits
// and merges performed before the matching CommitTransaction join it and are
// announced as a single update event. Opening a transaction while one is
// already open is a contract violation.
func (d *Document) BeginTransaction(origin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.curr != nil {
		return kiterrors.NewPreconditionError(kiterrors.OpBeginTransaction, "document",
			fmt.Errorf("transaction already open (origin %q)", d.curr.origin))
	}
	d.curr = newTransaction(d, origin)
	return nil
}

// CommitTransaction closes the open transaction and, if it produced any
// operations, delivers one update event per subscribed channel. Committing
// with no open transaction is a no-op.
func (d *Document) CommitTransaction() {
	d.mu.Lock()
	txn := d.curr
	d.curr = nil
	if txn == nil || txn.isEmpty() {
		d.mu.Unlock()
		return
	}
	ev := d.sealLocked(txn)
	d.mu.Unlock()
	d.emit(ev)
}

// WithTransact runs fn inside a transaction tagged with origin: edits made
// by fn are committed together when fn returns. If a transaction is already
// open, fn joins it and the outer commit announces the combined result.
func (d *Document) WithTransact(origin string, fn func() error) error {
	d.mu.Lock()
	joined := d.curr != nil
	if !joined {
		d.curr = newTransaction(d, origin)
	}
	d.mu.Unlock()

	err := fn()
	if !joined {
		d.CommitTransaction()
	}
	return err
}

// WithRead runs fn against a consistent read view. Reads see edits of the
// currently open transaction, if any; read-only access never produces an
// update event.
func (d *Document) WithRead(fn func() error) error {
	return fn()
}

// OnUpdateV1 registers fn to receive v1-encoded update events. Callbacks run
// synchronously on the committing goroutine, in registration order.
func (d *Document) OnUpdateV1(fn func(UpdateEvent)) *Subscription {
	return d.updateV1.subscribe(fn)
}

// OnUpdateV2 registers fn to receive v2-encoded update events. The v1 and v2
// channels are independent; subscribing to one does not affect the other.
func (d *Document) OnUpdateV2(fn func(UpdateEvent)) *Subscription {
	return d.updateV2.subscribe(fn)
}

// GetOrInsertText returns the text root with the given name, creating it if
// absent. Requesting an existing root under a different kind fails.
func (d *Document) GetOrInsertText(name string) (*Text, error) {
	h, err := d.getOrInsertRoot(name, codec.RootText, func() any { return &Text{doc: d, name: name} })
	if err != nil {
		return nil, err
	}
	return h.(*Text), nil
}

// GetOrInsertArray returns the array root with the given name, creating it
// if absent.
func (d *Document) GetOrInsertArray(name string) (*Array, error) {
	h, err := d.getOrInsertRoot(name, codec.RootArray, func() any { return &Array{doc: d, name: name} })
	if err != nil {
		return nil, err
	}
	return h.(*Array), nil
}

// GetOrInsertMap returns the map root with the given name, creating it if
// absent.
func (d *Document) GetOrInsertMap(name string) (*Map, error) {
	h, err := d.getOrInsertRoot(name, codec.RootMap, func() any { return &Map{doc: d, name: name} })
	if err != nil {
		return nil, err
	}
	return h.(*Map), nil
}

// GetOrInsertXMLFragment returns the XML fragment root with the given name,
// creating it if absent.
func (d *Document) GetOrInsertXMLFragment(name string) (*XMLFragment, error) {
	h, err := d.getOrInsertRoot(name, codec.RootXMLFragment, func() any { return &XMLFragment{doc: d, name: name} })
	if err != nil {
		return nil, err
	}
	return h.(*XMLFragment), nil
}

func (d *Document) getOrInsertRoot(name string, kind codec.RootKind, newHandle func() any) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.store.root(name, kind); err != nil {
		return nil, err
	}
	if h, ok := d.handles[name]; ok {
		return h, nil
	}
	h := newHandle()
	d.handles[name] = h
	return h, nil
}

// StateVector returns the document's current state vector: per client, the
// length of the contiguous operation prefix this replica has seen.
func (d *Document) StateVector() codec.StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.stateVector()
}

// EncodeStateVectorV1 returns the state vector in the v1 wire format.
func (d *Document) EncodeStateVectorV1() []byte {
	return codec.EncodeStateVectorV1(d.StateVector())
}

// EncodeStateVectorV2 returns the state vector in the v2 wire format.
func (d *Document) EncodeStateVectorV2() []byte {
	return codec.EncodeStateVectorV2(d.StateVector())
}

// EncodeDiffV1 returns a v1 update containing every operation not covered by
// the v1-encoded remote state vector. A nil remote means encode everything.
// Applying the result on the remote brings it up to date with this replica.
func (d *Document) EncodeDiffV1(remote []byte) ([]byte, error) {
	sv, err := d.decodeRemoteVector(remote, codec.DecodeStateVectorV1)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	u := d.store.diff(sv)
	d.mu.Unlock()
	return codec.EncodeUpdateV1(u), nil
}

// EncodeDiffV2 is EncodeDiffV1 for the v2 wire format: the remote state
// vector is v2-encoded and so is the returned update.
func (d *Document) EncodeDiffV2(remote []byte) ([]byte, error) {
	sv, err := d.decodeRemoteVector(remote, codec.DecodeStateVectorV2)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	u := d.store.diff(sv)
	d.mu.Unlock()
	return codec.EncodeUpdateV2(u), nil
}

func (d *Document) decodeRemoteVector(remote []byte, decode func([]byte) (codec.StateVector, error)) (codec.StateVector, error) {
	if remote == nil {
		return nil, nil
	}
	sv, err := decode(remote)
	if err != nil {
		return nil, kiterrors.NewDecodingError(kiterrors.OpEncodeDiff, "document", err)
	}
	return sv, nil
}

// ApplyUpdateV1 merges a v1-encoded update into the document. The merge is
// idempotent and order-independent. On any decoding or validation error the
// document is left unmodified. Origin tags the resulting update event.
func (d *Document) ApplyUpdateV1(update []byte, origin string) error {
	u, err := codec.DecodeUpdateV1(update)
	if err != nil {
		return kiterrors.NewDecodingError(kiterrors.OpApplyUpdate, "document", err)
	}
	return d.applyDecoded(u, origin)
}

// ApplyUpdateV2 merges a v2-encoded update into the document.
func (d *Document) ApplyUpdateV2(update []byte, origin string) error {
	u, err := codec.DecodeUpdateV2(update)
	if err != nil {
		return kiterrors.NewDecodingError(kiterrors.OpApplyUpdate, "document", err)
	}
	return d.applyDecoded(u, origin)
}

func (d *Document) applyDecoded(u *codec.Update, origin string) error {
	d.mu.Lock()
	txn := d.curr
	joined := txn != nil
	if !joined {
		txn = newTransaction(d, origin)
	}
	applied, err := d.store.applyUpdate(u)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	txn.merge(applied)
	if joined || txn.isEmpty() {
		d.mu.Unlock()
		return nil
	}
	ev := d.sealLocked(txn)
	d.mu.Unlock()
	d.emit(ev)
	return nil
}

// mutably runs fn inside the open transaction, or inside a fresh implicit
// one that commits when fn returns. Every local edit goes through here.
func (d *Document) mutably(fn func(txn *Transaction) error) error {
	d.mu.Lock()
	txn := d.curr
	joined := txn != nil
	if !joined {
		txn = newTransaction(d, "")
	}
	err := fn(txn)
	if joined || txn.isEmpty() {
		d.mu.Unlock()
		return err
	}
	ev := d.sealLocked(txn)
	d.mu.Unlock()
	d.emit(ev)
	return err
}

type pendingEvent struct {
	v1     []byte
	v2     []byte
	origin string
}

// sealLocked encodes the transaction's operations for both event channels
// and runs tombstone GC. Caller holds d.mu and guarantees txn is non-empty.
func (d *Document) sealLocked(txn *Transaction) pendingEvent {
	u := &codec.Update{Ops: txn.added}
	ev := pendingEvent{
		v1:     codec.EncodeUpdateV1(u),
		v2:     codec.EncodeUpdateV2(u),
		origin: txn.origin,
	}
	if !d.opts.SkipGC {
		d.store.gc()
	}
	return ev
}

// emit delivers the event outside the document lock so that callbacks can
// call back into the document.
func (d *Document) emit(ev pendingEvent) {
	d.updateV1.publish(UpdateEvent{Update: ev.v1, Origin: ev.origin, Doc: d})
	d.updateV2.publish(UpdateEvent{Update: ev.v2, Origin: ev.origin, Doc: d})
}
