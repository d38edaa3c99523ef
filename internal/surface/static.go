package surface

import (
	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
)

// LayoutOptions sizes a Static surface.
type LayoutOptions struct {
	ViewportWidth  float64
	ViewportHeight float64
	// HeaderHeight is the fixed toolbar above the scrolling editor pane.
	HeaderHeight float64
	// BlockHeight is the height of every visible flow block.
	BlockHeight float64
}

func (o LayoutOptions) withDefaults() LayoutOptions {
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = 1280
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = 800
	}
	if o.HeaderHeight < 0 {
		o.HeaderHeight = 0
	}
	if o.BlockHeight <= 0 {
		o.BlockHeight = 24
	}
	return o
}

// Static is an in-memory render surface: a fixed header, then a scrolling
// editor pane in which every flow block of the document is stacked at a fixed
// height. Hidden blocks take no space. Each Refresh replaces all heading
// elements, so handles from an earlier layout report themselves disconnected.
type Static struct {
	opts       LayoutOptions
	generation int

	root   *staticElement
	pane   *staticElement
	byID   map[string]*staticElement
	tagged []*staticElement

	scans int
	finds int
}

// NewStatic creates a surface and lays out doc when it is not nil.
func NewStatic(doc *document.Document, opts LayoutOptions) *Static {
	opts = opts.withDefaults()
	s := &Static{opts: opts}
	s.root = &staticElement{
		surface:   s,
		permanent: true,
		box: Box{
			Top:          0,
			Height:       opts.ViewportHeight,
			ClientHeight: opts.ViewportHeight,
			ScrollHeight: opts.ViewportHeight,
			OverflowY:    "visible",
		},
	}
	s.pane = &staticElement{
		surface:   s,
		permanent: true,
		parent:    s.root,
		box: Box{
			Top:          opts.HeaderHeight,
			Height:       opts.ViewportHeight - opts.HeaderHeight,
			ClientHeight: opts.ViewportHeight - opts.HeaderHeight,
			OverflowY:    "auto",
		},
	}
	s.byID = make(map[string]*staticElement)
	if doc != nil {
		_ = s.Refresh(doc)
	}
	return s
}

// Refresh lays the document out again.
func (s *Static) Refresh(doc *document.Document) error {
	s.generation++
	s.byID = make(map[string]*staticElement)
	s.tagged = s.tagged[:0]

	y := 0.0
	doc.Flow(func(n *document.Node, pos int) {
		height := s.opts.BlockHeight
		if n.Hidden() {
			height = 0
		}
		if n.IsHeading() && n.HeadingID() != "" {
			el := &staticElement{
				surface:    s,
				generation: s.generation,
				parent:     s.pane,
				headingID:  n.HeadingID(),
				pos:        pos,
				offset:     y,
				box:        Box{Height: height, ClientHeight: height, ScrollHeight: height, OverflowY: "visible"},
			}
			if _, dup := s.byID[el.headingID]; !dup {
				s.byID[el.headingID] = el
			}
			s.tagged = append(s.tagged, el)
		}
		y += height
	})

	s.pane.box.ScrollHeight = y
	s.pane.ScrollTo(s.pane.box.ScrollTop)
	return nil
}

func (s *Static) Scan() []Element {
	s.scans++
	out := make([]Element, 0, len(s.tagged))
	for _, el := range s.tagged {
		out = append(out, el)
	}
	return out
}

func (s *Static) Find(id string) (Element, bool) {
	s.finds++
	el, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return el, true
}

func (s *Static) Root() Element {
	return s.root
}

// Pane is the scrolling editor container.
func (s *Static) Pane() Element {
	return s.pane
}

func (s *Static) ViewportWidth() float64 {
	return s.opts.ViewportWidth
}

// Stats reports how many full scans and direct lookups were served.
func (s *Static) Stats() (scans, finds int) {
	return s.scans, s.finds
}

type staticElement struct {
	surface    *Static
	generation int
	permanent  bool
	parent     *staticElement

	headingID string
	pos       int
	// offset is the element's top inside the pane's scrolled content.
	offset float64
	box    Box
}

func (e *staticElement) HeadingID() string { return e.headingID }

func (e *staticElement) Pos() int { return e.pos }

func (e *staticElement) Connected() bool {
	return e.permanent || e.generation == e.surface.generation
}

func (e *staticElement) Parent() (Element, bool) {
	if e.parent == nil {
		return nil, false
	}
	return e.parent, true
}

func (e *staticElement) Box() Box {
	b := e.box
	if e.parent == e.surface.pane {
		pane := e.surface.pane.box
		b.Top = pane.Top + e.offset - pane.ScrollTop
	}
	return b
}

// ScrollTo clamps like a browser does: between zero and the scroll range.
func (e *staticElement) ScrollTo(top float64) {
	limit := e.box.ScrollHeight - e.box.ClientHeight
	if top > limit {
		top = limit
	}
	if top < 0 {
		top = 0
	}
	e.box.ScrollTop = top
}
