package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotDocument indicates the JSON root is not a doc node.
	ErrNotDocument = errors.New("document root is not a doc node")
	// ErrNoSuchNode indicates a command addressed a node that does not exist.
	ErrNoSuchNode = errors.New("no such node")
)

// ChangeKind distinguishes structural document updates from selection moves.
type ChangeKind int

const (
	ChangeContent ChangeKind = iota + 1
	ChangeSelection
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeContent:
		return "content"
	case ChangeSelection:
		return "selection"
	default:
		return "unknown"
	}
}

// Change is delivered to listeners after a committed update.
type Change struct {
	Kind     ChangeKind
	Version  uint64
	Commands int
}

// Listener observes committed changes.
type Listener func(Change)

// Document is a mutable document tree. It is not safe for concurrent use; the
// host drives it from a single event loop.
type Document struct {
	root      *Node
	version   uint64
	selection int

	listeners  map[int]Listener
	listenOrd  []int
	nextListen int
}

// New wraps a doc root node. A nil root yields an empty document.
func New(root *Node) *Document {
	if root == nil {
		root = Doc()
	}
	return &Document{root: root, listeners: make(map[int]Listener)}
}

// Parse decodes ProseMirror JSON. Empty input yields an empty document.
func Parse(raw []byte) (*Document, error) {
	if len(raw) == 0 {
		return New(nil), nil
	}
	var root Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if root.Type != TypeDoc {
		return nil, fmt.Errorf("%w: got %q", ErrNotDocument, root.Type)
	}
	return New(&root), nil
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.root)
}

func (d *Document) Root() *Node {
	return d.root
}

// Version increments on every committed content change.
func (d *Document) Version() uint64 {
	return d.version
}

// Size is the size of the document content.
func (d *Document) Size() int {
	return d.root.contentSize()
}

// Walk visits every node below the root in document order with its start
// position. Returning false from fn skips the node's children.
func (d *Document) Walk(fn func(n *Node, pos int) bool) {
	walkContent(d.root, 0, fn)
}

func walkContent(parent *Node, start int, fn func(n *Node, pos int) bool) {
	pos := start
	for _, child := range parent.Content {
		if fn(child, pos) && len(child.Content) > 0 {
			walkContent(child, pos+1, fn)
		}
		pos += child.Size()
	}
}

// Flow visits the blocks whose visibility can be decided on their own: every
// heading, and every node that does not contain a heading. Containers that
// wrap headings are descended into instead of being visited.
func (d *Document) Flow(fn func(n *Node, pos int)) {
	wraps := make(map[*Node]bool)
	var containsHeading func(n *Node) bool
	containsHeading = func(n *Node) bool {
		if v, ok := wraps[n]; ok {
			return v
		}
		found := false
		for _, child := range n.Content {
			if child.IsHeading() || containsHeading(child) {
				found = true
			}
		}
		wraps[n] = found
		return found
	}

	d.Walk(func(n *Node, pos int) bool {
		if n.IsHeading() || !containsHeading(n) {
			fn(n, pos)
			return false
		}
		return true
	})
}

// NodeAt returns the node that starts at pos. When several nodes start at the
// same position the outermost one is returned.
func (d *Document) NodeAt(pos int) (*Node, bool) {
	var found *Node
	d.Walk(func(n *Node, at int) bool {
		if found != nil {
			return false
		}
		if at == pos {
			found = n
			return false
		}
		return at < pos && pos < at+n.Size()
	})
	return found, found != nil
}

// FindHeading returns the first heading carrying id and its position.
func (d *Document) FindHeading(id string) (*Node, int, bool) {
	var (
		found *Node
		where int
	)
	d.Walk(func(n *Node, pos int) bool {
		if found != nil {
			return false
		}
		if n.IsHeading() && n.HeadingID() == id {
			found, where = n, pos
			return false
		}
		return true
	})
	return found, where, found != nil
}

// Selection is the current cursor position.
func (d *Document) Selection() int {
	return d.selection
}

// SetSelection places the cursor, clamped to the document bounds.
func (d *Document) SetSelection(pos int) {
	if pos < 0 {
		pos = 0
	}
	if size := d.Size(); pos > size {
		pos = size
	}
	d.selection = pos
	d.notify(Change{Kind: ChangeSelection, Version: d.version})
}

// OnChange registers a listener and returns a function that removes it.
func (d *Document) OnChange(fn Listener) func() {
	id := d.nextListen
	d.nextListen++
	d.listeners[id] = fn
	d.listenOrd = append(d.listenOrd, id)
	return func() {
		delete(d.listeners, id)
	}
}

func (d *Document) notify(change Change) {
	ids := d.listenOrd[:0:0]
	for _, id := range d.listenOrd {
		if _, ok := d.listeners[id]; ok {
			ids = append(ids, id)
		}
	}
	d.listenOrd = ids
	for _, id := range ids {
		if fn, ok := d.listeners[id]; ok {
			fn(change)
		}
	}
}
