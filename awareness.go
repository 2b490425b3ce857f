package crdtkit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/c0deZ3R0/go-crdt-kit/codec"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

// AwarenessEvent is the delta observers receive after a successful awareness
// mutation: which clients appeared, which refreshed or changed their state,
// and which went away. Observers never see raw wire bytes.
type AwarenessEvent struct {
	Added     []uint64
	Updated   []uint64
	Removed   []uint64
	Origin    string
	Awareness *Awareness

	// updated entries whose value actually differs, for the change channel
	changed []uint64
}

func (e AwarenessEvent) isEmpty() bool {
	return len(e.Added) == 0 && len(e.Updated) == 0 && len(e.Removed) == 0
}

// Awareness tracks ephemeral per-client presence state (cursor positions,
// user names, online status) alongside a document. State is not part of the
// document history: it is last-writer-wins per client, gated by a per-client
// clock, and vanishes when the client is removed.
type Awareness struct {
	doc    *Document
	logger *slog.Logger

	mu     sync.Mutex
	states map[uint64]json.RawMessage
	clocks map[uint64]uint32

	updatePub *publisher[AwarenessEvent]
	changePub *publisher[AwarenessEvent]
}

// NewAwareness creates an awareness instance bound to doc. The local client
// starts with no state.
func NewAwareness(doc *Document) *Awareness {
	logger := doc.logger.With(slog.String("component", "awareness"))
	return &Awareness{
		doc:       doc,
		logger:    logger,
		states:    make(map[uint64]json.RawMessage),
		clocks:    make(map[uint64]uint32),
		updatePub: newPublisher[AwarenessEvent](logger),
		changePub: newPublisher[AwarenessEvent](logger),
	}
}

// Doc returns the document this awareness instance is bound to.
func (a *Awareness) Doc() *Document { return a.doc }

// ClientID returns the local client id, shared with the document.
func (a *Awareness) ClientID() uint64 { return a.doc.ClientID() }

// ClientIDs returns the ids of all clients with a live state, ascending.
func (a *Awareness) ClientIDs() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]uint64, 0, len(a.states))
	for c := range a.states {
		ids = append(ids, c)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// States returns a snapshot of all live client states, decoded from JSON.
func (a *Awareness) States() map[uint64]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]any, len(a.states))
	for c, raw := range a.states {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			out[c] = v
		}
	}
	return out
}

// LocalState returns the local client's state decoded from JSON, or nil if
// none is set.
func (a *Awareness) LocalState() any {
	a.mu.Lock()
	raw, ok := a.states[a.doc.ClientID()]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// SetLocalState publishes state for the local client. The value must be
// JSON-serializable; on failure the current state is left unchanged. Setting
// an equal value still bumps the clock and notifies update observers, which
// is how clients signal liveness.
func (a *Awareness) SetLocalState(state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return kiterrors.NewSerializationError(kiterrors.OpSetState, "awareness", err)
	}
	me := a.doc.ClientID()
	a.mu.Lock()
	entry := codec.AwarenessEntry{Client: me, Clock: a.clocks[me] + 1, State: raw}
	ev := a.mergeLocked([]codec.AwarenessEntry{entry}, "")
	a.mu.Unlock()
	a.notify(ev)
	return nil
}

// CleanLocalState removes the local client's state, notifying observers with
// the local id in the removed list. A no-op if no local state is set.
func (a *Awareness) CleanLocalState() {
	a.RemoveStates([]uint64{a.doc.ClientID()}, "")
}

// RemoveStates removes the given clients' states. Unknown ids are skipped.
func (a *Awareness) RemoveStates(clients []uint64, origin string) {
	a.mu.Lock()
	entries := make([]codec.AwarenessEntry, 0, len(clients))
	for _, c := range clients {
		if _, known := a.states[c]; !known {
			continue
		}
		entries = append(entries, codec.AwarenessEntry{Client: c, Clock: a.clocks[c] + 1})
	}
	ev := a.mergeLocked(entries, origin)
	a.mu.Unlock()
	a.notify(ev)
}

// EncodeUpdateV1 serializes the current states of the given clients in the
// v1 wire format. A nil clients slice means all known clients, including
// removed ones so that their removal propagates. Unknown ids are skipped.
func (a *Awareness) EncodeUpdateV1(clients []uint64) []byte {
	return codec.EncodeAwarenessV1(a.snapshot(clients))
}

// EncodeUpdateV2 serializes awareness states in the v2 wire format.
func (a *Awareness) EncodeUpdateV2(clients []uint64) []byte {
	return codec.EncodeAwarenessV2(a.snapshot(clients))
}

func (a *Awareness) snapshot(clients []uint64) *codec.AwarenessUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()
	if clients == nil {
		clients = make([]uint64, 0, len(a.clocks))
		for c := range a.clocks {
			clients = append(clients, c)
		}
	}
	au := &codec.AwarenessUpdate{Entries: make([]codec.AwarenessEntry, 0, len(clients))}
	for _, c := range clients {
		clock, known := a.clocks[c]
		if !known {
			continue
		}
		au.Entries = append(au.Entries, codec.AwarenessEntry{
			Client: c,
			Clock:  clock,
			State:  a.states[c],
		})
	}
	return au
}

// ApplyUpdateV1 merges a v1-encoded awareness update. Stale entries (clock
// not newer than the local one) are dropped per client; the rest produce an
// added/updated/removed delta delivered to observers. On a decoding error
// nothing is merged.
func (a *Awareness) ApplyUpdateV1(update []byte, origin string) error {
	au, err := codec.DecodeAwarenessV1(update)
	if err != nil {
		return kiterrors.NewDecodingError(kiterrors.OpApplyUpdate, "awareness", err)
	}
	return a.applyDecoded(au, origin)
}

// ApplyUpdateV2 merges a v2-encoded awareness update.
func (a *Awareness) ApplyUpdateV2(update []byte, origin string) error {
	au, err := codec.DecodeAwarenessV2(update)
	if err != nil {
		return kiterrors.NewDecodingError(kiterrors.OpApplyUpdate, "awareness", err)
	}
	return a.applyDecoded(au, origin)
}

func (a *Awareness) applyDecoded(au *codec.AwarenessUpdate, origin string) error {
	a.mu.Lock()
	ev := a.mergeLocked(au.Entries, origin)
	a.mu.Unlock()
	a.notify(ev)
	return nil
}

// mergeLocked applies accepted entries to the state map and classifies them.
// An entry is accepted when its clock is newer than the local one, or when
// it is a removal at the current clock. Removals of unknown clients are
// dropped silently.
func (a *Awareness) mergeLocked(entries []codec.AwarenessEntry, origin string) AwarenessEvent {
	ev := AwarenessEvent{Origin: origin, Awareness: a}
	for _, e := range entries {
		clock, known := a.clocks[e.Client]
		_, present := a.states[e.Client]
		switch {
		case !known && e.State == nil:
			// removal of a never-seen client: no-op
		case e.Clock > clock || (e.Clock == clock && e.State == nil && present):
			a.clocks[e.Client] = e.Clock
			if e.State == nil {
				if present {
					delete(a.states, e.Client)
					ev.Removed = append(ev.Removed, e.Client)
				}
			} else {
				prev := a.states[e.Client]
				a.states[e.Client] = e.State
				if present {
					ev.Updated = append(ev.Updated, e.Client)
					if !bytes.Equal(prev, e.State) {
						ev.changed = append(ev.changed, e.Client)
					}
				} else {
					ev.Added = append(ev.Added, e.Client)
				}
			}
		}
	}
	return ev
}

// notify fires the update channel for every accepted mutation and the change
// channel only when the set or content of states actually changed. Both run
// outside the awareness lock.
func (a *Awareness) notify(ev AwarenessEvent) {
	if ev.isEmpty() {
		return
	}
	a.updatePub.publish(ev)

	chEv := AwarenessEvent{
		Added:     ev.Added,
		Updated:   ev.changed,
		Removed:   ev.Removed,
		Origin:    ev.Origin,
		Awareness: ev.Awareness,
	}
	if !chEv.isEmpty() {
		a.changePub.publish(chEv)
	}
}

// OnUpdate registers fn on the update channel: it fires after every accepted
// local or remote mutation, including same-value refreshes of an existing
// state.
func (a *Awareness) OnUpdate(fn func(AwarenessEvent)) *Subscription {
	return a.updatePub.subscribe(fn)
}

// OnChange registers fn on the change channel: it fires only when the set of
// known clients or the content of some state changed. Same-value refreshes
// do not reach it.
func (a *Awareness) OnChange(fn func(AwarenessEvent)) *Subscription {
	return a.changePub.subscribe(fn)
}
