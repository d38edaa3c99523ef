package registry

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts how lookups were served.
type Metrics struct {
	Rebuilds  *prometheus.CounterVec
	Lookups   *prometheus.CounterVec
	CacheSize prometheus.Gauge
}

// Rebuild reasons.
const (
	ReasonEmpty       = "empty"
	ReasonExpired     = "expired"
	ReasonInvalidated = "invalidated"
)

// Lookup outcomes.
const (
	OutcomeHit      = "hit"
	OutcomeStale    = "stale"
	OutcomeFallback = "fallback"
	OutcomeMiss     = "miss"
)

// NewMetrics creates the collectors and registers them on reg when it is not
// nil. Collectors already registered by another registry instance are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outline_registry_rebuilds_total",
			Help: "Full position cache rebuilds by reason",
		}, []string{"reason"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outline_registry_lookups_total",
			Help: "Heading lookups by outcome",
		}, []string{"outcome"}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outline_registry_cache_entries",
			Help: "Entries in the position cache after the last rebuild",
		}),
	}
	if reg == nil {
		return m
	}
	m.Rebuilds = register(reg, m.Rebuilds)
	m.Lookups = register(reg, m.Lookups)
	m.CacheSize = register(reg, m.CacheSize)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
