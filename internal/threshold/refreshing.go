package threshold

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/marketcore/tickcore/internal/model"
)

// Source loads a fresh threshold snapshot, typically from a file, a
// database or a remote config service.
type Source interface {
	Load(ctx context.Context) (map[model.InstrumentID]float64, error)
}

// RefreshingProvider wraps a Source and republishes its snapshot on an
// interval with jitter, serving reads from a lock-free atomic pointer —
// the same single-writer/atomic-publish shape used by the rest of the
// core's hot-path state (there the writer is a tick or poll loop, here
// it is the refresh ticker).
type RefreshingProvider struct {
	source   Source
	interval time.Duration
	jitter   time.Duration
	log      *slog.Logger

	snapshot atomic.Pointer[map[model.InstrumentID]float64]
}

// NewRefreshing creates a RefreshingProvider. It performs no I/O until
// Run is started; Threshold returns ok=false until the first successful
// load.
func NewRefreshing(source Source, interval, jitter time.Duration, logger *slog.Logger) *RefreshingProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	p := &RefreshingProvider{source: source, interval: interval, jitter: jitter, log: logger}
	empty := map[model.InstrumentID]float64{}
	p.snapshot.Store(&empty)
	return p
}

func (p *RefreshingProvider) Threshold(instrument model.InstrumentID) (float64, bool) {
	snap := p.snapshot.Load()
	if snap == nil {
		return 0, false
	}
	v, ok := (*snap)[instrument]
	return v, ok
}

// Run polls the source until ctx is cancelled. It is meant to be
// launched as one errgroup member alongside the pipeline processor.
func (p *RefreshingProvider) Run(ctx context.Context) error {
	if err := p.refresh(ctx); err != nil {
		p.log.Warn("initial threshold load failed", slog.String("error", err.Error()))
	}

	for {
		wait := p.interval
		if p.jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(p.jitter)))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := p.refresh(ctx); err != nil {
				p.log.Warn("threshold refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *RefreshingProvider) refresh(ctx context.Context) error {
	values, err := p.source.Load(ctx)
	if err != nil {
		return err
	}
	cp := make(map[model.InstrumentID]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	p.snapshot.Store(&cp)
	return nil
}
