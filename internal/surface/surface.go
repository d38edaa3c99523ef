// Package surface describes the live render surface the outline navigates:
// elements tagged with heading ids, their geometry, and scroll containers.
package surface

import "github.com/fileverse/fileverse-ddoc-sub002/internal/document"

// Box is an element's geometry. Top is relative to the top of the viewport.
type Box struct {
	Top          float64
	Height       float64
	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64
	OverflowY    string
}

// Element is a handle to a rendered node. Handles can outlive the node they
// point at; Connected reports whether the node is still on the surface.
type Element interface {
	HeadingID() string
	// Pos is the document position the element renders.
	Pos() int
	Connected() bool
	Parent() (Element, bool)
	Box() Box
	ScrollTo(top float64)
}

// Surface is queried for tagged heading elements.
type Surface interface {
	// Scan returns every element tagged with a heading id.
	Scan() []Element
	// Find looks a single heading id up directly.
	Find(id string) (Element, bool)
	// Root is the document's own scrolling element.
	Root() Element
	ViewportWidth() float64
}

// Refresher is implemented by surfaces that must be told to re-render after a
// document change.
type Refresher interface {
	Refresh(doc *document.Document) error
}

// Scrollable reports whether a container actually scrolls: overflow-y scroll,
// or content taller than the box with an overflow that lets it scroll.
func Scrollable(b Box) bool {
	switch b.OverflowY {
	case "scroll":
		return true
	case "auto", "overlay":
		return b.ScrollHeight > b.ClientHeight
	default:
		return false
	}
}

// ScrollParent returns the first ancestor of el that scrolls, or the surface
// root when none does.
func ScrollParent(s Surface, el Element) Element {
	for parent, ok := el.Parent(); ok; parent, ok = parent.Parent() {
		if Scrollable(parent.Box()) {
			return parent
		}
	}
	return s.Root()
}
