package offlinecache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests      *prometheus.CounterVec
	revalidations *prometheus.CounterVec
	seeds         *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline_cache",
			Name:      "requests_total",
			Help:      "Intercepted requests by strategy and result.",
		}, []string{"strategy", "result"}),
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline_cache",
			Name:      "revalidations_total",
			Help:      "Background revalidations by result.",
		}, []string{"result"}),
		seeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline_cache",
			Name:      "seeds_total",
			Help:      "Cache seeding attempts by result.",
		}, []string{"result"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline_cache",
			Name:      "swept_namespaces_total",
			Help:      "Stale namespace deletions by result.",
		}, []string{"result"}),
	}
	if reg == nil {
		return m
	}
	// several controllers (one per build) may share a registry
	m.requests = register(reg, m.requests)
	m.revalidations = register(reg, m.revalidations)
	m.seeds = register(reg, m.seeds)
	m.sweeps = register(reg, m.sweeps)
	return m
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}
