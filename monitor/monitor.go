package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMemoryThreshold is the system memory usage fraction above which a
// warning is emitted.
const DefaultMemoryThreshold = 0.85

// DefaultSampleInterval bounds how often memory figures are read.
const DefaultSampleInterval = 250 * time.Millisecond

// Metrics is the accumulated record of one operation name.
type Metrics struct {
	Count      uint64
	Errors     uint64
	TotalTime  time.Duration
	AvgTime    time.Duration
	MinTime    time.Duration
	MaxTime    time.Duration
	PeakMemory uint64 // largest RSS growth over a single span, bytes
}

// MemorySampler reads memory figures. Errors are treated as "no sample".
type MemorySampler interface {
	// ProcessMemory returns the resident set size of this process in bytes.
	ProcessMemory(ctx context.Context) (uint64, error)
	// SystemUsage returns used system memory as a fraction in [0, 1].
	SystemUsage(ctx context.Context) (float64, error)
}

// Sink receives every finished span; metrics/prom provides one.
type Sink interface {
	ObserveOperation(name string, d time.Duration, err error)
	ActiveOperations(n int)
}

// Options configures a Monitor. Zero values are safe:
//   - nil Sampler           => SystemSampler, or no memory sampling if it cannot start
//   - MemoryThreshold <= 0  => DefaultMemoryThreshold
//   - nil Logger            => slog.Default()
//   - nil GC                => runtime.GC
//   - SampleInterval == 0   => DefaultSampleInterval; < 0 samples on every span
type Options struct {
	Sampler         MemorySampler
	MemoryThreshold float64
	Logger          *slog.Logger
	Sink            Sink
	GC              func()

	// SampleInterval is the minimum time between two reads of process RSS,
	// and between two system pressure checks. Spans inside one interval
	// share a sample, so PeakMemory only sees growth across samples.
	SampleInterval time.Duration
}

type rssSample struct {
	at  int64 // unix nanos
	rss uint64
}

// Monitor is safe for concurrent use. Create one per process and share it.
type Monitor struct {
	mu  sync.Mutex
	ops map[string]*Metrics

	active atomic.Int64
	opt    Options

	rss          atomic.Pointer[rssSample]
	lastPressure atomic.Int64 // unix nanos of the last pressure check
}

// New constructs a Monitor.
func New(opt Options) *Monitor {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.MemoryThreshold <= 0 {
		opt.MemoryThreshold = DefaultMemoryThreshold
	}
	if opt.GC == nil {
		opt.GC = runtime.GC
	}
	if opt.SampleInterval == 0 {
		opt.SampleInterval = DefaultSampleInterval
	}
	if opt.Sampler == nil {
		if s, err := NewSystemSampler(); err == nil {
			opt.Sampler = s
		} else {
			opt.Logger.Warn("monitor: memory sampling disabled", slog.Any("error", err))
		}
	}
	return &Monitor{ops: make(map[string]*Metrics), opt: opt}
}

// Track opens a span for name. The caller must call End exactly once on
// every exit path; extra calls are ignored.
func (m *Monitor) Track(name string) *Span {
	s := &Span{m: m, name: name, start: time.Now(), startMem: m.sampleProcess()}
	n := m.active.Add(1)
	if m.opt.Sink != nil {
		m.opt.Sink.ActiveOperations(int(n))
	}
	return s
}

// Run executes fn inside a span named name. A panic in fn is recorded as an
// error and re-raised.
func (m *Monitor) Run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	span := m.Track(name)
	defer func() {
		if r := recover(); r != nil {
			span.End(fmt.Errorf("monitor: %s panicked: %v", name, r))
			panic(r)
		}
		span.End(err)
	}()
	return fn(ctx)
}

// Do is Run for functions that return a value.
func Do[T any](ctx context.Context, m *Monitor, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var v T
	err := m.Run(ctx, name, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

// Metrics returns the record for name; ok is false if it was never tracked.
func (m *Monitor) Metrics(name string) (Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.ops[name]
	if !ok {
		return Metrics{}, false
	}
	return *mt, true
}

// Snapshot returns a copy of every record.
func (m *Monitor) Snapshot() map[string]Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Metrics, len(m.ops))
	for k, v := range m.ops {
		out[k] = *v
	}
	return out
}

// Names returns tracked operation names in sorted order.
func (m *Monitor) Names() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.ops))
	for k := range m.ops {
		names = append(names, k)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// ActiveOperations returns the number of open spans.
func (m *Monitor) ActiveOperations() int { return int(m.active.Load()) }

// ---- internals ----

func (m *Monitor) record(name string, d time.Duration, memDelta uint64, err error) {
	m.mu.Lock()
	mt, ok := m.ops[name]
	if !ok {
		mt = &Metrics{MinTime: d}
		m.ops[name] = mt
	}
	mt.Count++
	if err != nil {
		mt.Errors++
	}
	mt.TotalTime += d
	mt.AvgTime = mt.TotalTime / time.Duration(mt.Count)
	mt.MinTime = min(mt.MinTime, d)
	mt.MaxTime = max(mt.MaxTime, d)
	mt.PeakMemory = max(mt.PeakMemory, memDelta)
	m.mu.Unlock()

	n := m.active.Add(-1)
	if m.opt.Sink != nil {
		m.opt.Sink.ObserveOperation(name, d, err)
		m.opt.Sink.ActiveOperations(int(n))
	}
	if err != nil {
		m.opt.Logger.Error("operation failed",
			slog.String("op", name),
			slog.Duration("duration", d),
			slog.Any("error", err),
		)
	}
	m.checkPressure(name)
}

func (m *Monitor) checkPressure(name string) {
	if m.opt.Sampler == nil {
		return
	}
	if iv := m.opt.SampleInterval; iv > 0 {
		now := time.Now().UnixNano()
		last := m.lastPressure.Load()
		if last != 0 && now-last < int64(iv) {
			return
		}
		if !m.lastPressure.CompareAndSwap(last, now) {
			return // another span is checking
		}
	}
	used, err := m.opt.Sampler.SystemUsage(context.Background())
	if err != nil || used <= m.opt.MemoryThreshold {
		return
	}
	m.opt.Logger.Warn("high memory usage",
		slog.String("op", name),
		slog.Float64("used", used),
		slog.Float64("threshold", m.opt.MemoryThreshold),
	)
	m.opt.GC()
}

func (m *Monitor) sampleProcess() uint64 {
	if m.opt.Sampler == nil {
		return 0
	}
	iv := m.opt.SampleInterval
	now := time.Now().UnixNano()
	if iv > 0 {
		if last := m.rss.Load(); last != nil && now-last.at < int64(iv) {
			return last.rss
		}
	}
	rss, err := m.opt.Sampler.ProcessMemory(context.Background())
	if err != nil {
		return 0
	}
	if iv > 0 {
		m.rss.Store(&rssSample{at: now, rss: rss})
	}
	return rss
}

// Span is one tracked execution of an operation.
type Span struct {
	m        *Monitor
	name     string
	start    time.Time
	startMem uint64
	once     sync.Once
}

// End closes the span, counting err (if non-nil) as a failure.
func (s *Span) End(err error) {
	s.once.Do(func() {
		d := time.Since(s.start)
		var delta uint64
		if end := s.m.sampleProcess(); end > s.startMem {
			delta = end - s.startMem
		}
		s.m.record(s.name, d, delta, err)
	})
}

// Name returns the operation name of the span.
func (s *Span) Name() string { return s.name }
