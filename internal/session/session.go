// Package session ties one open document to its outline, visibility,
// position registry and navigator. Everything a document needs lives on the
// Session and is released by Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/collapse"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/config"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/events"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/frame"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/navigator"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/outline"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/registry"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface"
)

var ErrClosed = errors.New("session closed")

// Frame task keys.
const (
	taskOutline    = "outline"
	taskRegistry   = "registry"
	taskRemoteFlip = "remote:"
)

// Sink durably stores the document after a collapse change.
type Sink interface {
	Persist(ctx context.Context, doc *document.Document, message string) error
}

type Options struct {
	DocumentID string
	// Config defaults to config.Default().
	Config *config.Config
	Logger *slog.Logger
	// Bus is shared with relays; a private bus is created when nil.
	Bus *events.Bus
	// Metrics registers registry collectors when set.
	Metrics prometheus.Registerer
	Now     func() time.Time
	Sink    Sink
	// NewID generates heading ids for headings that lack one.
	NewID func() string
}

type Session struct {
	id       string
	doc      *document.Document
	surface  surface.Surface
	bus      *events.Bus
	logger   *slog.Logger
	sink     Sink
	sched    *frame.Scheduler
	prop     *collapse.Propagator
	registry *registry.Registry
	nav      *navigator.Navigator

	snapshot outline.Snapshot
	unlisten func()
	subs     []string
	// closed is read from relay goroutines through the shared bus.
	closed atomic.Bool
}

// Open starts a session over doc rendered on surf. Headings without a usable
// id are given one, then the outline and visibility are computed once before
// Open returns.
func Open(doc *document.Document, surf surface.Surface, opts Options) (*Session, error) {
	if doc == nil {
		return nil, errors.New("open session: nil document")
	}
	if surf == nil {
		return nil, errors.New("open session: nil surface")
	}
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("document", opts.DocumentID)
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}

	if n, err := doc.EnsureHeadingIDs(opts.NewID); err != nil {
		return nil, fmt.Errorf("open session: assign heading ids: %w", err)
	} else if n > 0 {
		logger.Info("session: assigned heading ids", "count", n)
	}

	s := &Session{
		id:      opts.DocumentID,
		doc:     doc,
		surface: surf,
		bus:     bus,
		logger:  logger,
		sink:    opts.Sink,
		sched:   frame.NewScheduler(),
	}
	s.prop = collapse.New(opts.DocumentID, bus, logger)
	s.registry = registry.New(surf, registry.Options{
		Window:  cfg.Staleness,
		Now:     opts.Now,
		Logger:  logger,
		Metrics: registry.NewMetrics(opts.Metrics),
	})
	s.recompute()
	s.nav = navigator.New(doc, navigator.Options{
		DocumentID: opts.DocumentID,
		Propagator: s.prop,
		Registry:   s.registry,
		Surface:    surf,
		Snapshot:   func() outline.Snapshot { return s.snapshot },
		Settle:     func() { s.sched.Flush() },
		Bus:        bus,
		Logger:     logger,
		Layout: navigator.Layout{
			NarrowWidth:    float64(cfg.NarrowWidth),
			DesktopDivisor: float64(cfg.DesktopDivisor),
			NarrowDivisor:  float64(cfg.NarrowDivisor),
		},
	})

	s.unlisten = doc.OnChange(s.onChange)
	s.subs = append(s.subs, bus.Subscribe(s.onRemoteToggle, events.TypeHeadingToggled))
	logger.Debug("session: opened", "headings", len(s.snapshot))
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Document() *document.Document { return s.doc }

func (s *Session) Bus() *events.Bus { return s.bus }

// Tick runs the work queued since the last tick and returns how many tasks
// ran. Hosts call it once per frame.
func (s *Session) Tick() int {
	return s.sched.Flush()
}

// Outline returns a copy of the current outline.
func (s *Session) Outline() outline.Snapshot {
	return slices.Clone(s.snapshot)
}

// Subscribe calls fn with the current outline and again after every tick that
// changed it. The returned func stops the subscription.
func (s *Session) Subscribe(fn func(outline.Snapshot)) func() {
	id := s.bus.Subscribe(func(e events.Event) {
		if e.DocumentID == s.id {
			fn(slices.Clone(e.Outline))
		}
	}, events.TypeOutlineChanged)
	fn(s.Outline())
	return func() { s.bus.Unsubscribe(id) }
}

// SetCollapsed collapses or expands heading id and persists the change when a
// sink is configured. Unknown ids are a no-op.
func (s *Session) SetCollapsed(ctx context.Context, id string, collapsed bool) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	s.sched.Flush()
	changed, err := s.prop.Set(s.doc, s.snapshot, id, collapsed)
	if err != nil || !changed {
		return changed, err
	}
	verb := "Expand"
	if collapsed {
		verb = "Collapse"
	}
	return true, s.persist(ctx, fmt.Sprintf("%s heading %s", verb, id))
}

// Toggle flips the collapsed state of heading id.
func (s *Session) Toggle(ctx context.Context, id string) (bool, error) {
	node, _, ok := s.doc.FindHeading(id)
	if !ok {
		return false, nil
	}
	return s.SetCollapsed(ctx, id, !node.Collapsed())
}

// Activate navigates to heading id. Expansions it caused are persisted like
// any other collapse change.
func (s *Session) Activate(ctx context.Context, id string) (navigator.Result, bool) {
	if s.closed.Load() {
		return navigator.Result{}, false
	}
	s.sched.Flush()
	res, ok := s.nav.Activate(id)
	if len(res.Expanded) > 0 {
		if err := s.persist(ctx, fmt.Sprintf("Expand ancestors of %s", id)); err != nil {
			s.logger.Warn("session: persist expansion failed", "heading", id, "error", err)
		}
	}
	return res, ok
}

// Remove tells the navigator an outline entry went away.
func (s *Session) Remove(id string) {
	if s.closed.Load() {
		return
	}
	s.nav.Remove(id)
}

func (s *Session) ActiveID() (string, bool) {
	if s.closed.Load() {
		return "", false
	}
	return s.nav.Active()
}

// Close releases listeners and cached state. It is safe to call twice.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.unlisten()
	for _, id := range s.subs {
		s.bus.Unsubscribe(id)
	}
	s.subs = nil
	s.sched.Cancel(taskOutline)
	s.sched.Cancel(taskRegistry)
	s.nav.Reset()
	s.registry.Reset()
	s.logger.Debug("session: closed")
}

func (s *Session) onChange(change document.Change) {
	if s.closed.Load() {
		return
	}
	if change.Kind == document.ChangeContent {
		s.sched.Schedule(taskOutline, s.recompute)
	}
	s.sched.Schedule(taskRegistry, s.registry.Invalidate)
}

// onRemoteToggle queues toggles replayed by a relay. It runs on the relay's
// goroutine, so the change itself waits for the next tick.
func (s *Session) onRemoteToggle(e events.Event) {
	if e.Origin == "" || e.DocumentID != s.id || e.Toggle == nil {
		return
	}
	toggle := *e.Toggle
	s.sched.Schedule(taskRemoteFlip+toggle.HeadingID, func() {
		if s.closed.Load() {
			return
		}
		if _, err := s.prop.Set(s.doc, s.snapshot, toggle.HeadingID, toggle.Collapsed); err != nil {
			s.logger.Warn("session: apply remote toggle failed", "heading", toggle.HeadingID, "origin", e.Origin, "error", err)
		}
	})
}

func (s *Session) recompute() {
	hidden := collapse.RecomputeVisibility(s.doc)
	snap := outline.Extract(s.doc)
	if r, ok := s.surface.(surface.Refresher); ok {
		if err := r.Refresh(s.doc); err != nil {
			s.logger.Warn("session: refresh surface failed", "error", err)
		}
	}
	changed := s.snapshot == nil || !snap.Equal(s.snapshot)
	s.snapshot = snap
	s.registry.Invalidate()
	if s.nav != nil {
		s.nav.Sync(snap)
	}
	s.logger.Debug("session: recomputed", "headings", len(snap), "hidden", hidden)
	if changed {
		s.bus.Publish(events.Event{
			Type:       events.TypeOutlineChanged,
			DocumentID: s.id,
			Outline:    slices.Clone(snap),
		})
	}
}

func (s *Session) persist(ctx context.Context, message string) error {
	if s.sink == nil {
		return nil
	}
	if err := s.sink.Persist(ctx, s.doc, message); err != nil {
		s.logger.Warn("session: persist failed", "message", message, "error", err)
		return fmt.Errorf("persist collapse change: %w", err)
	}
	return nil
}
