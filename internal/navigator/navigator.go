// Package navigator turns a click on an outline entry into expansion,
// selection and scrolling, and tracks which entry is active.
package navigator

import (
	"log/slog"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/collapse"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/events"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/outline"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/registry"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface"
)

// Layout controls where an activated heading lands inside its scroll
// container.
type Layout struct {
	// NarrowWidth is the widest viewport still treated as narrow.
	NarrowWidth float64
	// DesktopDivisor and NarrowDivisor place the target at
	// containerHeight/divisor from the top of the container.
	DesktopDivisor float64
	NarrowDivisor  float64
}

func DefaultLayout() Layout {
	return Layout{NarrowWidth: 768, DesktopDivisor: 7, NarrowDivisor: 5}
}

func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if l.NarrowWidth <= 0 {
		l.NarrowWidth = d.NarrowWidth
	}
	if l.DesktopDivisor <= 0 {
		l.DesktopDivisor = d.DesktopDivisor
	}
	if l.NarrowDivisor <= 0 {
		l.NarrowDivisor = d.NarrowDivisor
	}
	return l
}

// Divisor picks the offset divisor for a viewport width.
func (l Layout) Divisor(viewportWidth float64) float64 {
	if viewportWidth <= l.NarrowWidth {
		return l.NarrowDivisor
	}
	return l.DesktopDivisor
}

type Options struct {
	DocumentID string
	Propagator *collapse.Propagator
	Registry   *registry.Registry
	Surface    surface.Surface
	// Snapshot returns the current outline.
	Snapshot func() outline.Snapshot
	// Settle runs pending recompute work so the surface reflects the
	// document before a lookup.
	Settle func()
	Bus    *events.Bus
	Logger *slog.Logger
	Layout Layout
}

// Result describes what an activation did.
type Result struct {
	ID        string
	Expanded  []string
	Selection int
	Container surface.Element
	ScrollTop float64
}

// Navigator is not safe for concurrent use.
type Navigator struct {
	doc  *document.Document
	opts Options

	active string
	ids    []string
}

func New(doc *document.Document, opts Options) *Navigator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Propagator == nil {
		opts.Propagator = collapse.New(opts.DocumentID, opts.Bus, opts.Logger)
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(opts.Surface, registry.Options{Logger: opts.Logger})
	}
	if opts.Settle == nil {
		opts.Settle = func() {}
	}
	opts.Layout = opts.Layout.withDefaults()
	n := &Navigator{doc: doc, opts: opts}
	n.ids = n.current().IDs()
	return n
}

// Active returns the active heading id.
func (n *Navigator) Active() (string, bool) {
	return n.active, n.active != ""
}

// Activate navigates to heading id and reports whether it was reached. Unknown
// ids change nothing. A heading that cannot be found on the surface still
// becomes the active entry and has its ancestors expanded, but selection and
// scroll are left untouched.
func (n *Navigator) Activate(id string) (Result, bool) {
	snap := n.current()
	if snap.Index(id) < 0 {
		n.opts.Logger.Debug("navigator: heading not in outline", "heading", id)
		return Result{}, false
	}
	n.setActive(id)

	res := Result{ID: id}
	expanded, err := n.opts.Propagator.ExpandAncestors(n.doc, snap, id)
	if err != nil {
		n.opts.Logger.Warn("navigator: expand ancestors failed", "heading", id, "error", err)
	}
	res.Expanded = expanded
	n.opts.Settle()

	el, ok := n.opts.Registry.Resolve(id)
	if !ok {
		n.opts.Logger.Debug("navigator: heading not rendered", "heading", id)
		return res, false
	}

	res.Selection = el.Pos() + 1
	n.doc.SetSelection(res.Selection)

	container := surface.ScrollParent(n.opts.Surface, el)
	res.Container = container
	res.ScrollTop = n.scrollTarget(el.Box(), container.Box())
	container.ScrollTo(res.ScrollTop)
	return res, true
}

func (n *Navigator) scrollTarget(target, container surface.Box) float64 {
	divisor := n.opts.Layout.Divisor(n.opts.Surface.ViewportWidth())
	top := container.ScrollTop + (target.Top - container.Top) - container.ClientHeight/divisor
	if top < 0 {
		return 0
	}
	return top
}

// Remove handles the disappearance of an outline entry. When it was active,
// the entry now at its former position becomes active, else the last entry,
// else nothing.
func (n *Navigator) Remove(id string) {
	idx := indexOf(n.ids, id)
	if idx < 0 {
		return
	}
	next := make([]string, 0, len(n.ids)-1)
	next = append(next, n.ids[:idx]...)
	next = append(next, n.ids[idx+1:]...)
	n.replace(next)
}

// Sync adopts a freshly extracted outline, re-activating a neighbour if the
// active entry is gone.
func (n *Navigator) Sync(snap outline.Snapshot) {
	n.replace(snap.IDs())
}

// Reset clears the active pointer.
func (n *Navigator) Reset() {
	n.setActive("")
}

func (n *Navigator) replace(next []string) {
	prev := n.ids
	n.ids = next
	if n.active == "" || indexOf(next, n.active) >= 0 {
		return
	}
	idx := indexOf(prev, n.active)
	switch {
	case len(next) == 0:
		n.setActive("")
	case idx >= 0 && idx < len(next):
		n.setActive(next[idx])
	default:
		n.setActive(next[len(next)-1])
	}
}

func (n *Navigator) setActive(id string) {
	if n.active == id {
		return
	}
	n.active = id
	if n.opts.Bus != nil {
		n.opts.Bus.Publish(events.Event{
			Type:       events.TypeActiveChanged,
			DocumentID: n.opts.DocumentID,
			ActiveID:   id,
		})
	}
}

func (n *Navigator) current() outline.Snapshot {
	if n.opts.Snapshot == nil {
		return outline.Extract(n.doc)
	}
	return n.opts.Snapshot()
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
