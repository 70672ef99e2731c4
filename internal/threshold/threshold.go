// Package threshold implements the large-trade threshold provider (C8):
// an external source of per-instrument thresholds that the enricher
// preloads ahead of its dynamic percentile fallback.
package threshold

import "github.com/marketcore/tickcore/internal/model"

// Provider supplies a preloaded large-trade threshold for an instrument.
// A provider that has no opinion for an instrument returns ok=false, and
// callers fall back to the enricher's own rolling-percentile estimate.
type Provider interface {
	Threshold(instrument model.InstrumentID) (value float64, ok bool)
}
