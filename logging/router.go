package logging

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counters the router keeps in its Metrics bag. Per-sink counters are
// suffixed with the sink name.
const (
	MetricEventsRouted      = "logging_events_total"
	MetricEventsDropped     = "logging_events_dropped_total"
	metricSinkFailuresStem  = "logging_sink_failures_total_"
	metricSinkBacklogStem   = "logging_sink_backlog_dropped_total_"
	defaultRouterBuffer     = 512
	defaultDropWarnInterval = 5 * time.Second
	minSinkBuffer           = 32
	maxSinkBuffer           = 1024
	maxSinkBackoffShift     = 5
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sink persists events. Write is only ever called from one goroutine.
type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

// SinkFailuresMetric names the failure counter of one sink.
func SinkFailuresMetric(name string) string { return metricSinkFailuresStem + name }

// SinkBacklogMetric names the backlog drop counter of one sink.
func SinkBacklogMetric(name string) string { return metricSinkBacklogStem + name }

// Router stamps published events and hands them to one worker per enabled
// sink. Publish never blocks: a full queue costs the event.
type Router struct {
	cfg         Config
	queue       chan Event
	workers     []*sinkWorker
	clock       Clock
	fallback    *log.Logger
	metrics     *Metrics
	minSeverity Severity
	fields      map[string]any

	stop      chan struct{}
	closed    atomic.Bool
	wg        sync.WaitGroup
	startOnce sync.Once

	lastDropWarn atomic.Int64
}

type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
}

// NewRouter starts a router for the sinks named in cfg.EnabledSinks. Sinks
// that are supplied but not enabled are left untouched.
func NewRouter(cfg Config, clock Clock, fallback *log.Logger, sinks map[string]Sink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(io.Discard, "", 0)
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultRouterBuffer
	}
	r := &Router{
		cfg:         cfg,
		queue:       make(chan Event, bufferSize),
		clock:       clock,
		fallback:    fallback,
		metrics:     newMetrics(),
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		stop:        make(chan struct{}),
	}

	sinkBuffer := min(max(bufferSize, minSinkBuffer), maxSinkBuffer)
	names := make([]string, 0, len(sinks))
	for name, sink := range sinks {
		if sink != nil && cfg.HasSink(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		r.workers = append(r.workers, &sinkWorker{
			name:     name,
			sink:     sinks[name],
			events:   make(chan Event, sinkBuffer),
			fallback: fallback,
			metrics:  r.metrics,
			stop:     r.stop,
		})
	}

	r.start()
	return r, nil
}

func (r *Router) start() {
	r.startOnce.Do(func() {
		r.wg.Add(1 + len(r.workers))
		go r.dispatch()
		for _, worker := range r.workers {
			go func(w *sinkWorker) {
				defer r.wg.Done()
				w.run()
			}(worker)
		}
	})
}

// dispatch moves queued events to the sink workers until Close, then flushes
// what is left and closes the worker queues.
func (r *Router) dispatch() {
	defer r.wg.Done()
	defer func() {
		for _, worker := range r.workers {
			close(worker.events)
		}
	}()
	for {
		select {
		case <-r.stop:
			for {
				select {
				case event := <-r.queue:
					r.route(event)
				default:
					return
				}
			}
		case event := <-r.queue:
			r.route(event)
		}
	}
}

func (r *Router) route(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.fields) > 0 {
		event = cloneForFields(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.fields))
		}
		for k, v := range r.fields {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
	}
	r.metrics.TelemetryAdd(MetricEventsRouted, 1)
	for _, worker := range r.workers {
		worker.offer(event)
	}
}

func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.metrics.TelemetryAdd(MetricEventsDropped, 1)
		r.warnDropped(event)
	}
}

// warnDropped logs at most once per DropWarnInterval.
func (r *Router) warnDropped(event Event) {
	interval := r.cfg.DropWarnInterval
	if interval <= 0 {
		interval = defaultDropWarnInterval
	}
	now := time.Now().UnixNano()
	next := r.lastDropWarn.Load()
	if now < next || !r.lastDropWarn.CompareAndSwap(next, now+interval.Nanoseconds()) {
		return
	}
	r.fallback.Printf("event queue full, dropping type=%s tick=%d", event.Type, event.Tick)
}

// Close flushes queued events, waits for the sinks to drain and closes them.
// A sink backing off after failures is retried immediately rather than after
// its delay.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stop)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.workers {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	snapshot := r.metrics.Snapshot()
	return RouterStats{
		EventsTotal:  snapshot[MetricEventsRouted],
		DroppedTotal: snapshot[MetricEventsDropped],
	}
}

// Metrics exposes the counters shared with telemetry adapters.
func (r *Router) Metrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

// Sink returns the enabled sink registered under name.
func (r *Router) Sink(name string) Sink {
	for _, worker := range r.workers {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

// sinkWorker owns one sink. After a failed write it waits 2s, 4s and so on up
// to 32s before the next write; closing the router cuts the wait short.
type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger
	metrics  *Metrics
	stop     <-chan struct{}

	failures  int
	nextRetry time.Time
}

func (w *sinkWorker) offer(event Event) {
	select {
	case w.events <- cloneForFields(event):
	default:
		w.metrics.TelemetryAdd(SinkBacklogMetric(w.name), 1)
		w.fallback.Printf("sink %s backlog full, dropping type=%s", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		w.backoff()
		if err := w.sink.Write(event); err != nil {
			w.recordFailure(err)
			continue
		}
		w.failures = 0
		w.nextRetry = time.Time{}
	}
}

func (w *sinkWorker) backoff() {
	if w.failures == 0 {
		return
	}
	wait := time.Until(w.nextRetry)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.stop:
	}
}

func (w *sinkWorker) recordFailure(err error) {
	w.failures++
	delay := time.Second << min(w.failures, maxSinkBackoffShift)
	w.nextRetry = time.Now().Add(delay)
	w.metrics.TelemetryAdd(SinkFailuresMetric(w.name), 1)
	w.fallback.Printf("sink %s write failed: %v (next attempt in %s)", w.name, err, delay)
}
