// Package outline extracts the heading outline (table of contents) of a
// document and answers hierarchy questions over the flat heading list.
package outline

import (
	"strings"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
)

// HeadingDescriptor describes one heading at extraction time.
type HeadingDescriptor struct {
	ID            string `json:"id"`
	Level         int    `json:"level"`
	Text          string `json:"text"`
	SequenceIndex int    `json:"sequenceIndex"`
	Collapsed     bool   `json:"collapsed"`
	// Pos is the heading's document position when extracted. It is not an
	// identity and goes stale on the next edit.
	Pos int `json:"pos"`
}

// Snapshot is an ordered heading list in document order. The hierarchy is
// implicit: an entry is a descendant of the nearest preceding entry with a
// lower level.
type Snapshot []HeadingDescriptor

// Extract walks the document once and returns its headings. Headings without
// an id cannot be addressed and are left out.
func Extract(doc *document.Document) Snapshot {
	if doc == nil {
		return Snapshot{}
	}
	snap := Snapshot{}
	doc.Flow(func(n *document.Node, pos int) {
		if !n.IsHeading() {
			return
		}
		id := n.HeadingID()
		if id == "" {
			return
		}
		snap = append(snap, HeadingDescriptor{
			ID:            id,
			Level:         n.Level(),
			Text:          strings.TrimSpace(n.TextContent()),
			SequenceIndex: len(snap),
			Collapsed:     n.Collapsed(),
			Pos:           pos,
		})
	})
	return snap
}

// Index returns the position of id in the snapshot, or -1.
func (s Snapshot) Index(id string) int {
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns the descriptor for id.
func (s Snapshot) Get(id string) (HeadingDescriptor, bool) {
	if i := s.Index(id); i >= 0 {
		return s[i], true
	}
	return HeadingDescriptor{}, false
}

// SubtreeEnd returns the index just past the last descendant of entry i: the
// first later entry whose level is equal or shallower, or len(s).
func (s Snapshot) SubtreeEnd(i int) int {
	if i < 0 || i >= len(s) {
		return len(s)
	}
	for j := i + 1; j < len(s); j++ {
		if s[j].Level <= s[i].Level {
			return j
		}
	}
	return len(s)
}

// Parent returns the index of the nearest preceding entry with a lower level,
// or -1 for roots (including headings with no shallower predecessor).
func (s Snapshot) Parent(i int) int {
	if i <= 0 || i >= len(s) {
		return -1
	}
	for j := i - 1; j >= 0; j-- {
		if s[j].Level < s[i].Level {
			return j
		}
	}
	return -1
}

// Ancestors returns the indexes of entry i's ancestors, nearest first.
func (s Snapshot) Ancestors(i int) []int {
	var out []int
	for p := s.Parent(i); p >= 0; p = s.Parent(p) {
		out = append(out, p)
	}
	return out
}

// IDs returns the heading ids in order.
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s))
	for i := range s {
		ids[i] = s[i].ID
	}
	return ids
}

// Equal reports whether two snapshots describe the same outline.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}
