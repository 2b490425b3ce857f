package crdtkit

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

// OffsetKind selects how offsets and lengths in text operations are counted.
// It is fixed at document creation and never changes.
type OffsetKind int

const (
	// OffsetBytes counts text positions in UTF-8 bytes.
	OffsetBytes OffsetKind = iota
	// OffsetUTF16 counts text positions in UTF-16 code units.
	OffsetUTF16
)

func (k OffsetKind) String() string {
	switch k {
	case OffsetBytes:
		return "bytes"
	case OffsetUTF16:
		return "utf16"
	default:
		return "unknown"
	}
}

// Options configures a Document at creation time.
type Options struct {
	// ClientID is the globally unique identifier of this replica. It must be
	// unique across all collaborating peers; a collision corrupts document
	// state. Uniqueness is assumed, not enforced.
	//
	// Default: randomly generated.
	ClientID uint64

	// GUID is the globally unique identifier of the document.
	//
	// Default: a randomly generated UUID v4.
	GUID string

	// CollectionID associates the document with a collection. It only plays
	// a role if the hosting provider has a concept of collections.
	CollectionID string

	// OffsetKind selects byte vs UTF-16 offset semantics for text positions.
	//
	// Default: OffsetBytes.
	OffsetKind OffsetKind

	// SkipGC disables garbage collection of tombstoned atoms at commit.
	SkipGC bool

	// AutoLoad marks a subdocument to be loaded automatically by providers,
	// locally and on remote peers.
	AutoLoad bool

	// ShouldLoad tells the provider whether the document should be synced
	// now. Toggled to true by Document.Load.
	ShouldLoad bool

	// Logger receives diagnostics from the document and its subscriptions.
	//
	// Default: slog.Default().
	Logger *slog.Logger
}

// setDefaults fills unset fields with their documented defaults.
func (o *Options) setDefaults() {
	if o.ClientID == 0 {
		o.ClientID = rand.Uint64()
	}
	if o.GUID == "" {
		o.GUID = uuid.NewString()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// validate rejects invalid option combinations. Creation fails on nothing
// else.
func (o *Options) validate() error {
	if o.GUID != "" {
		if strings.TrimSpace(o.GUID) == "" || strings.ContainsAny(o.GUID, " \t\r\n") {
			return kiterrors.NewPreconditionError(kiterrors.OpCreateDocument, "document",
				fmt.Errorf("malformed guid %q", o.GUID))
		}
	}
	if o.OffsetKind != OffsetBytes && o.OffsetKind != OffsetUTF16 {
		return kiterrors.NewPreconditionError(kiterrors.OpCreateDocument, "document",
			fmt.Errorf("invalid offset kind %d", o.OffsetKind))
	}
	return nil
}

// DefaultOptions returns the options a plain NewDocument uses: random client
// id, fresh UUID v4 guid, byte offsets, GC enabled, ShouldLoad true.
func DefaultOptions() Options {
	o := Options{ShouldLoad: true}
	o.setDefaults()
	return o
}
