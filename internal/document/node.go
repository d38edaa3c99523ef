// Package document holds the host's ProseMirror-shaped document tree: node
// types, positions, traversal, commands and change notification.
package document

import (
	"strings"
	"unicode/utf16"
)

const (
	TypeDoc       = "doc"
	TypeHeading   = "heading"
	TypeParagraph = "paragraph"
	TypeText      = "text"

	AttrID        = "id"
	AttrNodeID    = "nodeId"
	AttrLevel     = "level"
	AttrCollapsed = "collapsed"
)

// Node is a node in the ProseMirror document tree
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`

	hidden bool
}

// Mark is a text mark (formatting)
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

func (n *Node) IsHeading() bool {
	return n != nil && n.Type == TypeHeading
}

func (n *Node) IsText() bool {
	return n != nil && n.Type == TypeText
}

// IsLeaf reports whether the node has no content of its own. Leaf nodes other
// than text occupy a single position.
func (n *Node) IsLeaf() bool {
	return n.Type != TypeDoc && len(n.Content) == 0 && !containerTypes[n.Type]
}

// Types that are containers even when empty (an empty paragraph still has an
// opening and a closing token).
var containerTypes = map[string]bool{
	TypeParagraph:  true,
	TypeHeading:    true,
	"blockquote":   true,
	"codeBlock":    true,
	"bulletList":   true,
	"orderedList":  true,
	"listItem":     true,
	"table":        true,
	"tableRow":     true,
	"tableCell":    true,
	"tableHeader":  true,
	"dBlock":       true,
	"section":      true,
	"taskList":     true,
	"taskItem":     true,
	"callout":      true,
	"details":      true,
	"detailsBlock": true,
}

// Size is the node's ProseMirror size: text counts UTF-16 code units, leaves
// count one, containers count their content plus an opening and closing token.
func (n *Node) Size() int {
	if n == nil {
		return 0
	}
	if n.IsText() {
		return len(utf16.Encode([]rune(n.Text)))
	}
	if n.IsLeaf() {
		return 1
	}
	return n.contentSize() + 2
}

func (n *Node) contentSize() int {
	size := 0
	for _, child := range n.Content {
		size += child.Size()
	}
	return size
}

// HeadingID returns the stable identifier of a heading: the id attribute, or
// the nodeId attribute some schemas use instead.
func (n *Node) HeadingID() string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	if id, ok := n.Attrs[AttrID].(string); ok && id != "" {
		return id
	}
	id, _ := n.Attrs[AttrNodeID].(string)
	return id
}

// Level returns the heading level, at least 1.
func (n *Node) Level() int {
	level := 1
	if n != nil && n.Attrs != nil {
		switch v := n.Attrs[AttrLevel].(type) {
		case float64:
			level = int(v)
		case int:
			level = v
		case int64:
			level = int(v)
		}
	}
	if level < 1 {
		return 1
	}
	return level
}

func (n *Node) Collapsed() bool {
	if n == nil || n.Attrs == nil {
		return false
	}
	collapsed, _ := n.Attrs[AttrCollapsed].(bool)
	return collapsed
}

// Hidden reports the visibility marker set by the last visibility pass.
func (n *Node) Hidden() bool {
	return n != nil && n.hidden
}

// SetHidden sets the visibility marker. Markers are not part of the JSON form
// and do not count as document changes.
func (n *Node) SetHidden(hidden bool) {
	n.hidden = hidden
}

// TextContent concatenates all text below the node.
func (n *Node) TextContent() string {
	if n == nil {
		return ""
	}
	if n.IsText() {
		return n.Text
	}
	var builder strings.Builder
	for _, child := range n.Content {
		builder.WriteString(child.TextContent())
	}
	return builder.String()
}

func (n *Node) setAttr(key string, value any) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]any)
	}
	n.Attrs[key] = value
}

// Heading builds a heading node with a single text child.
func Heading(id string, level int, text string, collapsed bool) *Node {
	node := &Node{
		Type: TypeHeading,
		Attrs: map[string]any{
			AttrLevel:     float64(level),
			AttrCollapsed: collapsed,
		},
	}
	if id != "" {
		node.Attrs[AttrID] = id
	}
	if text != "" {
		node.Content = []*Node{{Type: TypeText, Text: text}}
	}
	return node
}

// Paragraph builds a paragraph node with a single text child.
func Paragraph(text string) *Node {
	node := &Node{Type: TypeParagraph}
	if text != "" {
		node.Content = []*Node{{Type: TypeText, Text: text}}
	}
	return node
}

// Doc builds a doc root from block children.
func Doc(blocks ...*Node) *Node {
	return &Node{Type: TypeDoc, Content: blocks}
}
