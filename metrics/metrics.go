// Package metrics provides sinks for package cache events.
//
// Both sinks satisfy pkgcache.Metrics. Prometheus exports counters through a
// prometheus registry; Counters keeps them in memory for tests and for
// callers that report through their own channels.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes metric names when no namespace is given.
const DefaultNamespace = "packageprovider"

// Prometheus counts cache events as prometheus counters.
type Prometheus struct {
	cached prometheus.Counter
	failed prometheus.Counter
	locked prometheus.Counter
}

// NewPrometheus registers the cache counters with reg. An empty namespace
// selects DefaultNamespace. Registering twice on the same registry panics, as
// with any promauto collector.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Prometheus{
		cached: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "package",
			Name:      "cached_total",
			Help:      "Number of package requests served from a ready cache slot",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "package",
			Name:      "error_total",
			Help:      "Number of failed package builds",
		}),
		locked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "package",
			Name:      "locked_total",
			Help:      "Number of package requests rejected because another build held the lock",
		}),
	}
}

// PackageCached increments the cache-hit counter.
func (p *Prometheus) PackageCached() { p.cached.Inc() }

// PackageError increments the build-failure counter.
func (p *Prometheus) PackageError() { p.failed.Inc() }

// PackageLocked increments the lock-contention counter.
func (p *Prometheus) PackageLocked() { p.locked.Inc() }

// Counters counts cache events in memory. The zero value is ready to use and
// safe for concurrent use.
type Counters struct {
	cached atomic.Int64
	failed atomic.Int64
	locked atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Cached int64
	Errors int64
	Locked int64
}

// PackageCached increments the cache-hit counter.
func (c *Counters) PackageCached() { c.cached.Add(1) }

// PackageError increments the build-failure counter.
func (c *Counters) PackageError() { c.failed.Add(1) }

// PackageLocked increments the lock-contention counter.
func (c *Counters) PackageLocked() { c.locked.Add(1) }

// Snapshot returns the current counts.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Cached: c.cached.Load(),
		Errors: c.failed.Load(),
		Locked: c.locked.Load(),
	}
}
