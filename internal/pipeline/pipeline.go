// Package pipeline implements the orchestrator (C7): a bounded FIFO
// between a tick source and a single processor loop that enriches,
// aggregates, signals and batches into sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketcore/tickcore/internal/enrich"
	"github.com/marketcore/tickcore/internal/model"
	"github.com/marketcore/tickcore/internal/registry"
	"github.com/marketcore/tickcore/internal/signal"
)

// FatalError wraps a condition the processor cannot recover from — a
// sink that has failed past its retry budget. Returning it from Run
// distinguishes "stop the process" from the recoverable, logged-and-
// counted error paths used everywhere else in the core.
type FatalError struct {
	Component string
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pipeline: fatal error in %s: %v", e.Component, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// TickSink receives batches of enriched ticks.
type TickSink interface {
	WriteTicks(ctx context.Context, ticks []model.EnrichedTick) error
	Close() error
}

// BarSink receives batches of finalized bars. In-progress bar snapshots
// are not passed to sinks; the pipeline does not expose them.
type BarSink interface {
	WriteBars(ctx context.Context, bars []model.Bar) error
	Close() error
}

// SignalSink receives batches of signal events.
type SignalSink interface {
	WriteSignals(ctx context.Context, events []model.SignalEvent) error
	Close() error
}

// BatchConfig tunes queue capacity, batch thresholds and the sliding
// window retained for dashboard-style consumers.
type BatchConfig struct {
	QueueCapacity     int
	TickBatchSize     int
	BarBatchSize      int
	SignalBatchSize   int
	FlushInterval     time.Duration
	DataWindowMinutes int
	MaxSinkFailures   int
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10000
	}
	if c.TickBatchSize <= 0 {
		c.TickBatchSize = 1000
	}
	if c.BarBatchSize <= 0 {
		c.BarBatchSize = 100
	}
	if c.SignalBatchSize <= 0 {
		c.SignalBatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.DataWindowMinutes <= 0 {
		c.DataWindowMinutes = 60
	}
	if c.MaxSinkFailures <= 0 {
		c.MaxSinkFailures = 5
	}
	return c
}

// Pipeline is the single-threaded-per-instrument orchestrator. The
// queue is its one ordering point; everything downstream of Submit is
// driven by the single Run goroutine.
type Pipeline struct {
	cfg BatchConfig
	log *slog.Logger

	queue chan model.Tick

	enricher *enrich.Enricher
	registry *registry.Registry
	signals  *signal.Engine

	tickSinks   []TickSink
	barSinks    []BarSink
	signalSinks []SignalSink

	window       []windowEntry
	sinkFailures int

	metrics Metrics
}

// windowEntry is one retained tick in the sliding window.
type windowEntry struct {
	at   time.Time
	tick model.EnrichedTick
}

// Metrics is the subset of internal/metrics.Metrics the pipeline drives;
// kept as a narrow interface here so the pipeline package does not
// import the metrics package's Prometheus wiring directly.
type Metrics interface {
	TicksProcessed()
	BarsFinalized()
	SignalsEmitted()
	SinkFlushFailed(component string)
	QueueDepth(n int)
}

type noopMetrics struct{}

func (noopMetrics) TicksProcessed()                {}
func (noopMetrics) BarsFinalized()                 {}
func (noopMetrics) SignalsEmitted()                {}
func (noopMetrics) SinkFlushFailed(component string) {}
func (noopMetrics) QueueDepth(n int)               {}

// New creates a Pipeline. A nil metrics implementation falls back to a
// no-op so the core never depends on metrics being wired.
func New(cfg BatchConfig, enricher *enrich.Enricher, reg *registry.Registry, signals *signal.Engine, m Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = noopMetrics{}
	}
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:      cfg,
		log:      logger,
		queue:    make(chan model.Tick, cfg.QueueCapacity),
		enricher: enricher,
		registry: reg,
		signals:  signals,
		metrics:  m,
	}
}

// AddTickSink, AddBarSink and AddSignalSink register sinks. Call before
// Run; the pipeline does not support adding sinks concurrently with it.
func (p *Pipeline) AddTickSink(s TickSink)     { p.tickSinks = append(p.tickSinks, s) }
func (p *Pipeline) AddBarSink(s BarSink)       { p.barSinks = append(p.barSinks, s) }
func (p *Pipeline) AddSignalSink(s SignalSink) { p.signalSinks = append(p.signalSinks, s) }

// Submit enqueues tick, blocking until there is room or ctx is done.
// Per spec, backpressure policy belongs to the source: a replay source
// blocks here, a live feed is expected to select with its own drop
// policy rather than block indefinitely.
func (p *Pipeline) Submit(ctx context.Context, tick model.Tick) error {
	select {
	case p.queue <- tick:
		p.metrics.QueueDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the processor loop until ctx is cancelled, then drains the
// queue and flushes every sink before returning. A FatalError return
// means a sink exceeded its failure budget; sink write failures within
// the budget are logged and counted and do not stop the loop. On
// shutdown, an error from a sink's Close is returned; otherwise the
// return is nil (context cancellation is the expected shutdown path,
// not an error).
func (p *Pipeline) Run(ctx context.Context) error {
	flushTicker := time.NewTicker(p.cfg.FlushInterval)
	defer flushTicker.Stop()

	var tickBatch []model.EnrichedTick
	var barBatch []model.Bar
	var signalBatch []model.SignalEvent
	lastFlush := timeNow()

	flush := func() error {
		var err error
		var fatal *FatalError
		if len(tickBatch) > 0 {
			if ferr := p.flushTicks(ctx, tickBatch); errors.As(ferr, &fatal) {
				err = ferr
			}
			tickBatch = tickBatch[:0]
		}
		if len(barBatch) > 0 {
			if ferr := p.flushBars(ctx, barBatch); errors.As(ferr, &fatal) {
				err = ferr
			}
			barBatch = barBatch[:0]
		}
		if len(signalBatch) > 0 {
			if ferr := p.flushSignals(ctx, signalBatch); errors.As(ferr, &fatal) {
				err = ferr
			}
			signalBatch = signalBatch[:0]
		}
		lastFlush = timeNow()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			p.drainQueue(&tickBatch, &barBatch, &signalBatch)
			if err := flush(); err != nil {
				return err
			}
			return p.closeSinks()

		case tick, ok := <-p.queue:
			if !ok {
				if err := flush(); err != nil {
					return err
				}
				return p.closeSinks()
			}
			enriched, finalized, events := p.processTick(tick)
			tickBatch = append(tickBatch, enriched)
			barBatch = append(barBatch, finalized...)
			signalBatch = append(signalBatch, events...)

			if len(tickBatch) >= p.cfg.TickBatchSize || len(barBatch) >= p.cfg.BarBatchSize ||
				len(signalBatch) >= p.cfg.SignalBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}

		case <-flushTicker.C:
			if timeNow().Sub(lastFlush) >= p.cfg.FlushInterval {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// processTick performs steps 2-5 of the processor loop: enrich, window
// append, dispatch to aggregators, signal on finalized bars only.
func (p *Pipeline) processTick(tick model.Tick) (model.EnrichedTick, []model.Bar, []model.SignalEvent) {
	enriched := p.enricher.Enrich(tick)
	p.metrics.TicksProcessed()
	p.appendWindow(enriched)

	finalized, _ := p.registry.Update(enriched)

	var events []model.SignalEvent
	for _, b := range finalized {
		p.metrics.BarsFinalized()
		for _, ev := range p.signals.Process(b, nil) {
			events = append(events, ev)
			p.metrics.SignalsEmitted()
		}
	}
	return enriched, finalized, events
}

func (p *Pipeline) appendWindow(tick model.EnrichedTick) {
	p.window = append(p.window, windowEntry{at: tick.Timestamp, tick: tick})
	cutoff := tick.Timestamp.Add(-time.Duration(p.cfg.DataWindowMinutes) * time.Minute)
	i := 0
	for i < len(p.window) && p.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.window = p.window[i:]
	}
}

// Window returns a copy of the current sliding window, oldest first.
func (p *Pipeline) Window() []model.EnrichedTick {
	out := make([]model.EnrichedTick, len(p.window))
	for i, e := range p.window {
		out[i] = e.tick
	}
	return out
}

// drainQueue empties whatever remains in the channel without blocking,
// folding it into the in-flight batches so shutdown never drops ticks
// already accepted by Submit.
func (p *Pipeline) drainQueue(tickBatch *[]model.EnrichedTick, barBatch *[]model.Bar, signalBatch *[]model.SignalEvent) {
	for {
		select {
		case tick, ok := <-p.queue:
			if !ok {
				return
			}
			enriched, finalized, events := p.processTick(tick)
			*tickBatch = append(*tickBatch, enriched)
			*barBatch = append(*barBatch, finalized...)
			*signalBatch = append(*signalBatch, events...)
		default:
			return
		}
	}
}

func (p *Pipeline) flushTicks(ctx context.Context, batch []model.EnrichedTick) error {
	var errs []error
	for _, s := range p.tickSinks {
		if err := s.WriteTicks(ctx, batch); err != nil {
			errs = append(errs, err)
			p.metrics.SinkFlushFailed("tick")
			if err := p.noteFailure("tick sink", err); err != nil {
				return err
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) flushBars(ctx context.Context, batch []model.Bar) error {
	var errs []error
	for _, s := range p.barSinks {
		if err := s.WriteBars(ctx, batch); err != nil {
			errs = append(errs, err)
			p.metrics.SinkFlushFailed("bar")
			if err := p.noteFailure("bar sink", err); err != nil {
				return err
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) flushSignals(ctx context.Context, batch []model.SignalEvent) error {
	var errs []error
	for _, s := range p.signalSinks {
		if err := s.WriteSignals(ctx, batch); err != nil {
			errs = append(errs, err)
			p.metrics.SinkFlushFailed("signal")
			if err := p.noteFailure("signal sink", err); err != nil {
				return err
			}
		}
	}
	return errors.Join(errs...)
}

// noteFailure counts a sink failure and escalates to FatalError once the
// configured budget is exceeded — persistent sink failure, not a
// transient miss, per spec's recoverable-vs-fatal split.
func (p *Pipeline) noteFailure(component string, err error) error {
	p.sinkFailures++
	p.log.Warn("sink write failed", slog.String("component", component), slog.String("error", err.Error()), slog.Int("count", p.sinkFailures))
	if p.sinkFailures > p.cfg.MaxSinkFailures {
		return &FatalError{Component: component, Err: err}
	}
	return nil
}

func (p *Pipeline) closeSinks() error {
	var errs []error
	for _, s := range p.tickSinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range p.barSinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range p.signalSinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// timeNow is a seam so tests can observe flush-age behavior without
// sleeping; production always uses wall-clock time.
var timeNow = time.Now
