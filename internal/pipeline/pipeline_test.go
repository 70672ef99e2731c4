package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marketcore/tickcore/internal/bar"
	"github.com/marketcore/tickcore/internal/enrich"
	"github.com/marketcore/tickcore/internal/model"
	"github.com/marketcore/tickcore/internal/registry"
	"github.com/marketcore/tickcore/internal/signal"
)

func ptr(v float64) *float64 { return &v }

type fakeTickSink struct {
	mu    sync.Mutex
	ticks [][]model.EnrichedTick
	err   error
	closed bool
}

func (f *fakeTickSink) WriteTicks(_ context.Context, batch []model.EnrichedTick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ticks = append(f.ticks, batch)
	return nil
}
func (f *fakeTickSink) Close() error { f.closed = true; return nil }

func (f *fakeTickSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.ticks {
		n += len(b)
	}
	return n
}

func newTestPipeline(cfg BatchConfig) (*Pipeline, *fakeTickSink) {
	e := enrich.New(enrich.Config{}, nil)
	reg := registry.New([]int{1}, bar.Config{}, nil)
	sig := signal.New(signal.Config{}, nil)
	p := New(cfg, e, reg, sig, nil, nil)
	sink := &fakeTickSink{}
	p.AddTickSink(sink)
	return p, sink
}

func TestRunFlushesOnContextCancel(t *testing.T) {
	p, sink := newTestPipeline(BatchConfig{FlushInterval: time.Hour, TickBatchSize: 1000})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	if err := p.Submit(context.Background(), baseTick(1, time.Now())); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sink.count() != 1 {
		t.Errorf("sink received %d ticks, want 1 (flushed on shutdown)", sink.count())
	}
	if !sink.closed {
		t.Errorf("sink was not closed on shutdown")
	}
}

func TestRunFlushesOnBatchSizeThreshold(t *testing.T) {
	p, sink := newTestPipeline(BatchConfig{FlushInterval: time.Hour, TickBatchSize: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	base := time.Now()
	p.Submit(context.Background(), baseTick(1, base))
	p.Submit(context.Background(), baseTick(1, base.Add(time.Second)))

	deadline := time.Now().Add(time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 2 {
		t.Fatalf("sink received %d ticks before cancel, want 2 (threshold flush)", sink.count())
	}
	cancel()
	<-done
}

func TestAppendWindowTrimsToConfiguredMinutes(t *testing.T) {
	p, _ := newTestPipeline(BatchConfig{DataWindowMinutes: 5})
	base := time.Now()

	p.appendWindow(model.EnrichedTick{Tick: model.Tick{Timestamp: base}})
	p.appendWindow(model.EnrichedTick{Tick: model.Tick{Timestamp: base.Add(3 * time.Minute)}})
	p.appendWindow(model.EnrichedTick{Tick: model.Tick{Timestamp: base.Add(7 * time.Minute)}})

	win := p.Window()
	if len(win) != 2 {
		t.Fatalf("len(Window()) = %d, want 2 after trimming ticks older than 5 minutes", len(win))
	}
	if !win[0].Timestamp.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("oldest retained tick = %v, want the one at +3m", win[0].Timestamp)
	}
}

func TestNoteFailureEscalatesPastBudget(t *testing.T) {
	p, _ := newTestPipeline(BatchConfig{MaxSinkFailures: 2})
	var err error
	for i := 0; i < 3; i++ {
		err = p.noteFailure("tick sink", errors.New("boom"))
	}
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected a *FatalError after exceeding MaxSinkFailures, got %v", err)
	}
}

func TestNoteFailureDoesNotEscalateBelowBudget(t *testing.T) {
	p, _ := newTestPipeline(BatchConfig{MaxSinkFailures: 5})
	if err := p.noteFailure("tick sink", errors.New("boom")); err != nil {
		t.Fatalf("expected no escalation below budget, got %v", err)
	}
}

func baseTick(instrument model.InstrumentID, t time.Time) model.Tick {
	return model.Tick{
		Timestamp:          t,
		Instrument:         instrument,
		StockName:          "TEST",
		LastPrice:          ptr(100),
		AverageTradedPrice: ptr(100),
		VolumeTraded:       ptr(100),
	}
}
