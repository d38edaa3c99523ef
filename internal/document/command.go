package document

import (
	"fmt"
	"reflect"
	"strings"
)

// Command is a structural update applied through Document.Apply.
type Command interface {
	target(ix *index) (*Node, error)
	attr() (key string, value any)
	String() string
}

// SetHeadingAttr sets an attribute on the heading identified by HeadingID.
type SetHeadingAttr struct {
	HeadingID string
	Key       string
	Value     any
}

func (c SetHeadingAttr) target(ix *index) (*Node, error) {
	node, ok := ix.heading(c.HeadingID)
	if !ok {
		return nil, fmt.Errorf("%w: heading %q", ErrNoSuchNode, c.HeadingID)
	}
	return node, nil
}

func (c SetHeadingAttr) attr() (string, any) { return c.Key, c.Value }

func (c SetHeadingAttr) String() string {
	return fmt.Sprintf("set %s=%v on heading %s", c.Key, c.Value, c.HeadingID)
}

// SetNodeAttr sets an attribute on the node starting at Pos.
type SetNodeAttr struct {
	Pos   int
	Key   string
	Value any
}

func (c SetNodeAttr) target(ix *index) (*Node, error) {
	node, ok := ix.at(c.Pos)
	if !ok {
		return nil, fmt.Errorf("%w: position %d", ErrNoSuchNode, c.Pos)
	}
	return node, nil
}

func (c SetNodeAttr) attr() (string, any) { return c.Key, c.Value }

func (c SetNodeAttr) String() string {
	return fmt.Sprintf("set %s=%v at %d", c.Key, c.Value, c.Pos)
}

// SetCollapsed is the command that persists a heading's collapsed state.
func SetCollapsed(headingID string, collapsed bool) Command {
	return SetHeadingAttr{HeadingID: headingID, Key: AttrCollapsed, Value: collapsed}
}

// Apply resolves every command against the current tree and then applies them
// as one change. If any command fails to resolve nothing is applied. Listeners
// are notified once, and only when some attribute actually changed.
func (d *Document) Apply(cmds ...Command) error {
	if len(cmds) == 0 {
		return nil
	}
	ix := newIndex(d)
	targets := make([]*Node, len(cmds))
	for i, cmd := range cmds {
		node, err := cmd.target(ix)
		if err != nil {
			return fmt.Errorf("apply %s: %w", cmd, err)
		}
		targets[i] = node
	}

	changed := 0
	for i, cmd := range cmds {
		key, value := cmd.attr()
		node := targets[i]
		if current, ok := node.Attrs[key]; ok && reflect.DeepEqual(current, value) {
			continue
		}
		node.setAttr(key, value)
		changed++
	}
	if changed == 0 {
		return nil
	}
	d.version++
	d.notify(Change{Kind: ChangeContent, Version: d.version, Commands: changed})
	return nil
}

// Describe renders a command batch for logs.
func Describe(cmds []Command) string {
	parts := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		parts = append(parts, cmd.String())
	}
	return strings.Join(parts, "; ")
}

// index is built lazily, once per Apply call.
type index struct {
	doc       *Document
	headings  map[string]*Node
	positions map[int]*Node
}

func newIndex(d *Document) *index {
	return &index{doc: d}
}

func (ix *index) heading(id string) (*Node, bool) {
	if ix.headings == nil {
		ix.headings = make(map[string]*Node)
		ix.doc.Walk(func(n *Node, _ int) bool {
			if n.IsHeading() {
				if hid := n.HeadingID(); hid != "" {
					if _, seen := ix.headings[hid]; !seen {
						ix.headings[hid] = n
					}
				}
				return false
			}
			return true
		})
	}
	node, ok := ix.headings[id]
	return node, ok
}

func (ix *index) at(pos int) (*Node, bool) {
	if ix.positions == nil {
		ix.positions = make(map[int]*Node)
		ix.doc.Walk(func(n *Node, at int) bool {
			if _, seen := ix.positions[at]; !seen {
				ix.positions[at] = n
			}
			return true
		})
	}
	node, ok := ix.positions[pos]
	return node, ok
}
