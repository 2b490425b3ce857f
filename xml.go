package crdtkit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/c0deZ3R0/go-crdt-kit/codec"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
)

// XMLNode is one child of an XML fragment: either an element (Tag set,
// optionally Attrs) or a text node (Text set).
type XMLNode struct {
	Tag   string            `json:"tag,omitempty"`
	Text  string            `json:"text,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// XMLFragment is a handle to a shared XML fragment root: an ordered sequence
// of element and text nodes.
type XMLFragment struct {
	doc  *Document
	name string
}

// Name returns the root name the handle was obtained under.
func (x *XMLFragment) Name() string { return x.name }

// InsertElement places an element node with the given tag and attributes at
// the given child index.
func (x *XMLFragment) InsertElement(index int, tag string, attrs map[string]string) error {
	if tag == "" {
		return kiterrors.NewPreconditionError(kiterrors.OpEdit, "xml_fragment",
			fmt.Errorf("empty element tag"))
	}
	return x.insertNode(index, XMLNode{Tag: tag, Attrs: attrs})
}

// InsertText places a text node at the given child index.
func (x *XMLFragment) InsertText(index int, text string) error {
	return x.insertNode(index, XMLNode{Text: text})
}

func (x *XMLFragment) insertNode(index int, node XMLNode) error {
	content, err := json.Marshal(node)
	if err != nil {
		return kiterrors.NewSerializationError(kiterrors.OpEdit, "xml_fragment", err)
	}
	return x.doc.mutably(func(txn *Transaction) error {
		r, err := x.doc.store.root(x.name, codec.RootXMLFragment)
		if err != nil {
			return err
		}
		return x.doc.store.seqInsert(txn, r, index, [][]byte{content})
	})
}

// Delete removes length child nodes starting at index.
func (x *XMLFragment) Delete(index, length int) error {
	if length == 0 {
		return nil
	}
	return x.doc.mutably(func(txn *Transaction) error {
		r, err := x.doc.store.root(x.name, codec.RootXMLFragment)
		if err != nil {
			return err
		}
		return x.doc.store.seqDelete(txn, r, index, length)
	})
}

// Len returns the number of child nodes.
func (x *XMLFragment) Len() int {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	r, ok := x.doc.store.roots[x.name]
	if !ok {
		return 0
	}
	return r.visibleCount()
}

// Nodes returns the child nodes in document order.
func (x *XMLFragment) Nodes() []XMLNode {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	r, ok := x.doc.store.roots[x.name]
	if !ok {
		return nil
	}
	out := make([]XMLNode, 0, r.visibleCount())
	for _, a := range r.atoms {
		if a.deleted {
			continue
		}
		var n XMLNode
		if err := json.Unmarshal(a.content, &n); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// String renders the fragment as markup. Attributes are emitted in key
// order so the rendering is deterministic.
func (x *XMLFragment) String() string {
	var b strings.Builder
	for _, n := range x.Nodes() {
		if n.Tag == "" {
			b.WriteString(escapeXMLText(n.Text))
			continue
		}
		b.WriteByte('<')
		b.WriteString(n.Tag)
		keys := make([]string, 0, len(n.Attrs))
		for k := range n.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%q", k, n.Attrs[k])
		}
		b.WriteString("></")
		b.WriteString(n.Tag)
		b.WriteByte('>')
	}
	return b.String()
}

func escapeXMLText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
