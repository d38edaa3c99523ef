package collapse

import (
	"sort"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
)

// Range is a half-open span of document positions.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (r Range) Contains(pos int) bool {
	return pos >= r.From && pos < r.To
}

// Plan lists the spans hidden by collapsed headings for one document version.
// Spans are sorted and disjoint.
type Plan struct {
	Version uint64  `json:"version"`
	Hidden  []Range `json:"hidden"`
}

// IsHidden reports whether the block starting at pos falls in a hidden span.
func (p Plan) IsHidden(pos int) bool {
	i := sort.Search(len(p.Hidden), func(i int) bool { return p.Hidden[i].To > pos })
	return i < len(p.Hidden) && p.Hidden[i].Contains(pos)
}

// PlanVisibility computes the hidden spans in one pass over the document's
// flow blocks without touching the tree.
//
// A collapsed heading hides everything after it up to the next heading whose
// level is equal or shallower than its own. Headings met inside a hidden span
// are hidden with it and neither end nor extend it, so two level-3 headings
// under a collapsed level-2 heading are both hidden.
func PlanVisibility(doc *document.Document) Plan {
	plan := Plan{Version: doc.Version()}
	var (
		hiding    bool
		hideLevel int
		start     int
	)
	doc.Flow(func(n *document.Node, pos int) {
		if !n.IsHeading() {
			return
		}
		level := n.Level()
		if hiding && level <= hideLevel {
			if pos > start {
				plan.Hidden = append(plan.Hidden, Range{From: start, To: pos})
			}
			hiding = false
		}
		if !hiding && n.Collapsed() {
			hiding = true
			hideLevel = level
			start = pos + n.Size()
		}
	})
	if hiding {
		if end := doc.Size(); end > start {
			plan.Hidden = append(plan.Hidden, Range{From: start, To: end})
		}
	}
	return plan
}

// ApplyVisibility writes the plan's markers onto the tree and returns the
// number of hidden blocks. A plan computed for another version is replaced by
// a fresh one.
func ApplyVisibility(doc *document.Document, plan Plan) int {
	if plan.Version != doc.Version() {
		plan = PlanVisibility(doc)
	}
	doc.Walk(func(n *document.Node, _ int) bool {
		n.SetHidden(false)
		return true
	})
	hidden := 0
	doc.Flow(func(n *document.Node, pos int) {
		if plan.IsHidden(pos) {
			n.SetHidden(true)
			hidden++
		}
	})
	return hidden
}

// RecomputeVisibility plans and applies in one call.
func RecomputeVisibility(doc *document.Document) int {
	return ApplyVisibility(doc, PlanVisibility(doc))
}
