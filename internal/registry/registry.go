// Package registry implements the multi-interval aggregator registry
// (C5): it fans one enriched tick for an instrument out to every
// configured interval's bar.Aggregator, creating aggregators on demand,
// and collects the combined finalized/in-progress bars for batching.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/marketcore/tickcore/internal/bar"
	"github.com/marketcore/tickcore/internal/model"
)

// DefaultIntervals is the configured interval set (minutes) per spec.
var DefaultIntervals = []int{1, 3, 5, 10, 15}

type key struct {
	instrument      model.InstrumentID
	intervalMinutes int
}

// Registry owns one bar.Aggregator per (instrument, interval) pair. Like
// its aggregators, it is single-writer and holds no internal lock.
type Registry struct {
	intervals []int
	cfg       bar.Config
	log       *slog.Logger

	aggregators map[key]*bar.Aggregator
}

// New creates a Registry over the given interval set (minutes). An empty
// set falls back to DefaultIntervals.
func New(intervals []int, cfg bar.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if len(intervals) == 0 {
		intervals = DefaultIntervals
	}
	return &Registry{
		intervals:   intervals,
		cfg:         cfg,
		log:         logger,
		aggregators: make(map[key]*bar.Aggregator),
	}
}

// Update dispatches tick to every configured interval's aggregator for
// its instrument, returning the combined finalized and in-progress bars
// across all intervals.
func (r *Registry) Update(tick model.EnrichedTick) (finalized []model.Bar, inProgress []model.Bar) {
	for _, interval := range r.intervals {
		agg := r.aggregatorFor(tick.StockName, tick.Instrument, interval)
		fb, ib := agg.AddTick(tick)
		if fb != nil {
			finalized = append(finalized, *fb)
		}
		if ib != nil {
			inProgress = append(inProgress, *ib)
		}
	}
	return finalized, inProgress
}

func (r *Registry) aggregatorFor(stockName string, instrument model.InstrumentID, intervalMinutes int) *bar.Aggregator {
	k := key{instrument: instrument, intervalMinutes: intervalMinutes}
	agg, ok := r.aggregators[k]
	if !ok {
		r.log.Info("creating bar aggregator",
			slog.String("stock", stockName),
			slog.Int64("instrument", int64(instrument)),
			slog.String("interval", fmt.Sprintf("%dm", intervalMinutes)))
		agg = bar.New(stockName, instrument, intervalMinutes, r.cfg, r.log)
		r.aggregators[k] = agg
	}
	return agg
}
