// Package monitor records count, duration, error, and peak memory statistics
// per named operation.
//
// A span is opened with Track and closed with End; Run wraps a function and
// also records panics. Recording never fails and never changes the error
// that the guarded body returns.
//
//	m := monitor.New(monitor.Options{})
//
//	func load(ctx context.Context) (err error) {
//	    span := m.Track("load_template")
//	    defer func() { span.End(err) }()
//	    ...
//	}
//
//	mt, _ := m.Metrics("load_template") // Count, Errors, TotalTime, AvgTime, ...
//
// When system memory usage is above Options.MemoryThreshold at span end,
// the monitor logs a warning and asks the runtime for a garbage collection.
package monitor
