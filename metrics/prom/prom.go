// Package prom exports the coordination primitives' signals to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	c := cache.New(cache.Options[string, string]{Capacity: 128, Metrics: prom.NewCache(reg, "coord", "templates", nil)})
//	mon := monitor.New(monitor.Options{Sink: prom.NewOperations(reg, "coord", nil)})
//	lim, _ := limiter.New(limiter.Options{Capacity: 10, Name: "resolve", Observer: prom.NewInFlight(reg, "coord", nil)})
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/coord/cache"
	"github.com/IvanBrykalov/coord/limiter"
	"github.com/IvanBrykalov/coord/monitor"
)

// Cache implements cache.Metrics. Safe for concurrent use; all Prometheus
// metric types are goroutine-safe.
type Cache struct {
	hits   prometheus.Counter
	misses prometheus.Counter
	evicts *prometheus.CounterVec
	size   prometheus.Gauge
}

// NewCache registers cache metrics under ns and sub.
//   - reg:          registry to register with (nil => prometheus.DefaultRegisterer)
//   - constLabels:  static labels applied to all metrics (may be nil)
func NewCache(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Cache {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Cache{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses, expired entries included",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Cache evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.size)
	return a
}

func (a *Cache) Hit()  { a.hits.Inc() }
func (a *Cache) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Cache) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size sets the resident entry gauge.
func (a *Cache) Size(entries int) { a.size.Set(float64(entries)) }

// Operations implements monitor.Sink.
type Operations struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	active   prometheus.Gauge
}

// NewOperations registers per-operation metrics under ns.
func NewOperations(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *Operations {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Operations{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "operation_duration_seconds",
			Help:        "Duration of tracked operations",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 10),
			ConstLabels: constLabels,
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "operation_errors_total",
			Help:        "Tracked operations that ended with an error",
			ConstLabels: constLabels,
		}, []string{"op"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "active_operations",
			Help:        "Operations currently inside a span",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(o.duration, o.errors, o.active)
	return o
}

// ObserveOperation records one finished span.
func (o *Operations) ObserveOperation(name string, d time.Duration, err error) {
	o.duration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		o.errors.WithLabelValues(name).Inc()
	}
}

// ActiveOperations sets the open span gauge.
func (o *Operations) ActiveOperations(n int) { o.active.Set(float64(n)) }

// InFlight implements limiter.Observer with one gauge series per limiter name.
type InFlight struct {
	gauge *prometheus.GaugeVec
}

// NewInFlight registers the limiter gauge under ns.
func NewInFlight(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *InFlight {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "limiter_in_flight",
		Help:        "Holders currently admitted by a concurrency limiter",
		ConstLabels: constLabels,
	}, []string{"limiter"})
	reg.MustRegister(g)
	return &InFlight{gauge: g}
}

func (f *InFlight) InFlight(name string, n int) {
	f.gauge.WithLabelValues(name).Set(float64(n))
}

// Compile-time checks.
var (
	_ cache.Metrics    = (*Cache)(nil)
	_ monitor.Sink     = (*Operations)(nil)
	_ limiter.Observer = (*InFlight)(nil)
)
