// Package registry maps heading ids to their rendered elements. The map is
// rebuilt lazily: when first needed, when older than the staleness window, or
// after an explicit invalidation.
package registry

import (
	"log/slog"
	"time"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface"
)

// DefaultWindow is how long a built map is trusted.
const DefaultWindow = 250 * time.Millisecond

type Options struct {
	Window  time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *Metrics
}

// Registry is owned by one navigator and is not safe for concurrent use.
type Registry struct {
	surface surface.Surface
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics

	entries map[string]surface.Element
	builtAt time.Time
	dirty   bool
}

func New(s surface.Surface, opts Options) *Registry {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Registry{
		surface: s,
		window:  opts.Window,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Resolve returns the live element rendering heading id.
//
// A cached handle is revalidated before use. When it went stale, or the id is
// not in the map yet, the surface is asked directly and the answer is cached
// without a full rebuild.
func (r *Registry) Resolve(id string) (surface.Element, bool) {
	r.ensureFresh()

	if el, ok := r.entries[id]; ok {
		if el.Connected() && el.HeadingID() == id {
			r.metrics.Lookups.WithLabelValues(OutcomeHit).Inc()
			return el, true
		}
		delete(r.entries, id)
		r.metrics.Lookups.WithLabelValues(OutcomeStale).Inc()
		r.logger.Debug("registry: stale handle", "heading", id)
	}

	el, ok := r.surface.Find(id)
	if !ok || !el.Connected() {
		r.metrics.Lookups.WithLabelValues(OutcomeMiss).Inc()
		r.logger.Debug("registry: heading not rendered", "heading", id)
		return nil, false
	}
	r.entries[id] = el
	r.metrics.Lookups.WithLabelValues(OutcomeFallback).Inc()
	return el, true
}

// Invalidate forces a rebuild on the next lookup.
func (r *Registry) Invalidate() {
	r.dirty = true
}

// Reset drops the map entirely.
func (r *Registry) Reset() {
	r.entries = nil
	r.builtAt = time.Time{}
	r.dirty = false
}

// BuiltAt is the time of the last full rebuild; zero before the first one.
func (r *Registry) BuiltAt() time.Time {
	return r.builtAt
}

// Len is the number of cached entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

func (r *Registry) ensureFresh() {
	now := r.now()
	switch {
	case r.entries == nil:
		r.rebuild(now, ReasonEmpty)
	case r.dirty:
		r.rebuild(now, ReasonInvalidated)
	case now.Sub(r.builtAt) > r.window:
		r.rebuild(now, ReasonExpired)
	}
}

func (r *Registry) rebuild(now time.Time, reason string) {
	elements := r.surface.Scan()
	entries := make(map[string]surface.Element, len(elements))
	for _, el := range elements {
		id := el.HeadingID()
		if id == "" {
			continue
		}
		if _, dup := entries[id]; !dup {
			entries[id] = el
		}
	}
	r.entries = entries
	r.builtAt = now
	r.dirty = false
	r.metrics.Rebuilds.WithLabelValues(reason).Inc()
	r.metrics.CacheSize.Set(float64(len(entries)))
	r.logger.Debug("registry: rebuilt", "reason", reason, "entries", len(entries))
}
