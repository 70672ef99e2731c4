// Package divergence implements the divergence scorer (C3): normalized
// lookback deltas between price and each indicator over a rolling
// window, invoked from inside bar finalization (C4).
//
// =============================================================================
// DIVERGENCE SCORE — mathematical foundation
// =============================================================================
//
// For a primary change P (price) and a secondary change S (an indicator,
// normalized to a comparable scale):
//
//	bullish = S - 2P
//	bearish = 2P - S
//	score   =  min(1, 10*bullish)   if bullish > 0
//	        = -min(1, 10*bearish)   if bearish > 0
//	        =  0                    otherwise
//
// A positive score means the indicator has moved more bullishly than
// price implies (bullish divergence); negative means the reverse. The
// factor of 2 and the 10x scaling are empirical — they come from the
// system this was distilled from and are kept as-is rather than
// re-derived, since the signal engine's regime thresholds are tuned
// against this exact scale.
// =============================================================================
package divergence

import "github.com/marketcore/tickcore/internal/model"

const divergenceMultiplier = 2.0

// Config tunes the lookback window.
type Config struct {
	MaxLookbackMinutes int // default 30
	MinLookbackMinutes int // default 5
}

func (c Config) withDefaults() Config {
	if c.MaxLookbackMinutes <= 0 {
		c.MaxLookbackMinutes = 30
	}
	if c.MinLookbackMinutes <= 0 {
		c.MinLookbackMinutes = 5
	}
	return c
}

// Scorer computes divergence scores. It is stateless; all context comes
// from the current bar and its history.
type Scorer struct {
	cfg Config
}

func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.withDefaults()}
}

// Score computes the tier-1 (price vs indicator) and tier-2 (LVC vs
// indicator) divergence scores for current against history, a
// chronologically ordered (oldest-first) slice of prior finalized bars
// for the same (instrument, interval). history must not include current.
func (s *Scorer) Score(current model.Bar, history []model.Bar, intervalMinutes int) map[model.DivergencePair]float64 {
	if intervalMinutes <= 0 {
		return map[model.DivergencePair]float64{}
	}

	minBars := s.cfg.MinLookbackMinutes / intervalMinutes
	if len(history) < minBars {
		return map[model.DivergencePair]float64{}
	}

	lookback := s.cfg.MaxLookbackMinutes / intervalMinutes
	if lookback > len(history) {
		lookback = len(history)
	}
	if lookback <= 0 {
		return map[model.DivergencePair]float64{}
	}

	window := history[len(history)-lookback:]
	start := window[0]

	if start.Close == 0 {
		return map[model.DivergencePair]float64{}
	}
	priceChange := (current.Close - start.Close) / start.Close

	var volumeInWindow, largeVolumeInWindow int64
	for _, b := range window {
		volumeInWindow += b.Volume
		largeVolumeInWindow += b.RawScores.LargeBuyVolume + b.RawScores.LargeSellVolume
	}
	if volumeInWindow == 0 {
		volumeInWindow = 1
	}
	if largeVolumeInWindow == 0 {
		largeVolumeInWindow = 1
	}

	cvdChange := float64(current.RawScores.CVD5m-start.RawScores.CVD5m) / float64(volumeInWindow)
	obvChange := float64(current.RawScores.OBV-start.RawScores.OBV) / float64(volumeInWindow)
	lvcChange := float64(current.RawScores.LVCDelta-start.RawScores.LVCDelta) / float64(largeVolumeInWindow)
	rsiChange := (current.RawScores.RSI - start.RawScores.RSI) / 100.0
	mfiChange := (current.RawScores.MFI - start.RawScores.MFI) / 100.0
	clvChange := current.RawScores.CLVSmoothed - start.RawScores.CLVSmoothed

	scores := map[model.DivergencePair]float64{
		model.PriceVsLVC: score(priceChange, lvcChange),
		model.PriceVsCVD: score(priceChange, cvdChange),
		model.PriceVsOBV: score(priceChange, obvChange),
		model.PriceVsRSI: score(priceChange, rsiChange),
		model.PriceVsMFI: score(priceChange, mfiChange),
		model.PriceVsCLV: score(priceChange, clvChange),

		model.LVCVsCVD: score(lvcChange, cvdChange),
		model.LVCVsOBV: score(lvcChange, obvChange),
		model.LVCVsRSI: score(lvcChange, rsiChange),
		model.LVCVsMFI: score(lvcChange, mfiChange),
	}
	return scores
}

func score(primary, secondary float64) float64 {
	bullish := secondary - divergenceMultiplier*primary
	bearish := divergenceMultiplier*primary - secondary
	switch {
	case bullish > 0:
		return min1(bullish * 10)
	case bearish > 0:
		return -min1(bearish * 10)
	default:
		return 0
	}
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
