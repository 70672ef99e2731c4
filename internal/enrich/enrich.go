// Package enrich implements the feature enricher (C2): per-instrument
// state that turns a raw Tick into an EnrichedTick carrying tick volume,
// aggressor sign, large-trade and iceberg/absorption flags.
//
// An Enricher is owned by a single goroutine. Per spec it is the sole
// mutator of instrument state, so no internal locking is used — this
// mirrors the single-writer, atomic-publish state ownership used
// throughout the teacher package for its orderbook and OI engines.
package enrich

import (
	"log/slog"
	"sort"

	"github.com/marketcore/tickcore/internal/model"
)

const defaultVolumeWindowSize = 1000
const fallbackMinSamples = 200
const fallbackPercentile = 99.0

// Config tunes the enricher's large-trade and absorption detection.
type Config struct {
	// IcebergConfirmationThreshold is the number of same-side refills at
	// an unchanged best price required before an absorption flag fires.
	// Default 2.
	IcebergConfirmationThreshold int
}

func (c Config) withDefaults() Config {
	if c.IcebergConfirmationThreshold <= 0 {
		c.IcebergConfirmationThreshold = 2
	}
	return c
}

// instrumentState holds everything the enricher needs to remember about
// one instrument between ticks.
type instrumentState struct {
	hasLastTick    bool
	lastPrice      float64
	lastCumVolume  float64
	lastHasVolume  bool

	lastBid model.DepthLevel
	lastAsk model.DepthLevel
	hasBid  bool
	hasAsk  bool

	sellRefillCount int
	buyRefillCount  int

	lastNonZeroSign model.TradeSign

	threshold    *float64
	volumeWindow []float64
}

// Enricher is the per-pipeline feature enricher. State is created lazily
// on first tick per instrument, per spec §3's lifecycle rules.
type Enricher struct {
	cfg   Config
	log   *slog.Logger
	state map[model.InstrumentID]*instrumentState

	// counters, incremented on recoverable error paths (spec §7).
	MalformedTicks int64
}

// New creates an Enricher. A nil logger defaults to slog.Default().
func New(cfg Config, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		cfg:   cfg.withDefaults(),
		log:   logger,
		state: make(map[model.InstrumentID]*instrumentState),
	}
}

// SetThreshold preloads a large-trade threshold for an instrument,
// overriding the dynamic percentile fallback (C8 wiring point).
func (e *Enricher) SetThreshold(instrument model.InstrumentID, threshold float64) {
	st := e.stateFor(instrument)
	st.threshold = &threshold
}

func (e *Enricher) stateFor(instrument model.InstrumentID) *instrumentState {
	st, ok := e.state[instrument]
	if !ok {
		st = &instrumentState{volumeWindow: make([]float64, 0, defaultVolumeWindowSize)}
		e.state[instrument] = st
	}
	return st
}

// Enrich computes an EnrichedTick from tick and the instrument's prior
// state, then advances that state. Malformed ticks (missing last price)
// are logged and passed through rather than rejected, with zero tick
// volume, no large-trade or absorption flags, and the instrument's last
// non-zero trade sign; instrument state is not advanced. The caller
// decides whether to drop them downstream.
func (e *Enricher) Enrich(tick model.Tick) model.EnrichedTick {
	st := e.stateFor(tick.Instrument)

	if tick.LastPrice == nil {
		e.MalformedTicks++
		e.log.Warn("tick missing last price", slog.Int64("instrument", int64(tick.Instrument)), slog.String("stock", tick.StockName))
		return model.EnrichedTick{Tick: tick, TradeSign: st.lastNonZeroSign}
	}

	tickVolume := e.computeTickVolume(tick, st)
	sign := e.classifyTradeSign(tick, st)
	isLarge := e.isLargeTrade(st, tickVolume)
	buyAbsorb, sellAbsorb := e.detectAbsorption(tick, st, tickVolume, sign)

	enriched := model.EnrichedTick{
		Tick:             tick,
		TickVolume:       tickVolume,
		TradeSign:        sign,
		IsLargeTrade:     isLarge,
		IsBuyAbsorption:  buyAbsorb,
		IsSellAbsorption: sellAbsorb,
	}

	e.advanceState(tick, st, sign)
	return enriched
}

// computeTickVolume implements spec §4.2: non-negative delta against the
// previous cumulative volume, clamped to 0 on regression (session/data
// reset, spec §7).
func (e *Enricher) computeTickVolume(tick model.Tick, st *instrumentState) float64 {
	if !st.hasLastTick || tick.VolumeTraded == nil || !st.lastHasVolume {
		return 0
	}
	cur := *tick.VolumeTraded
	if cur < st.lastCumVolume {
		return 0
	}
	return cur - st.lastCumVolume
}

// classifyTradeSign implements the decision tree from spec §4.2.
func (e *Enricher) classifyTradeSign(tick model.Tick, st *instrumentState) model.TradeSign {
	lastPrice := tick.Price()

	var bid, ask model.DepthLevel
	haveBook := false
	if tick.Depth != nil {
		b, a := tick.Depth.BestBidAsk()
		if len(tick.Depth.Bid) > 0 && len(tick.Depth.Ask) > 0 {
			bid, ask, haveBook = b, a, true
		}
	}
	if !haveBook && st.hasBid && st.hasAsk {
		bid, ask, haveBook = st.lastBid, st.lastAsk, true
	}

	tickRuleOrCarry := func() model.TradeSign {
		if st.hasLastTick {
			if lastPrice > st.lastPrice {
				return model.TradeSignBuy
			}
			if lastPrice < st.lastPrice {
				return model.TradeSignSell
			}
		}
		return st.lastNonZeroSign
	}

	if haveBook {
		if ask.Price <= bid.Price { // locked or crossed
			return tickRuleOrCarry()
		}
		if lastPrice >= ask.Price {
			return model.TradeSignBuy
		}
		if lastPrice <= bid.Price {
			return model.TradeSignSell
		}
		return tickRuleOrCarry()
	}
	return tickRuleOrCarry()
}

// isLargeTrade implements spec §4.2's preloaded-threshold / rolling
// 99th-percentile fallback.
func (e *Enricher) isLargeTrade(st *instrumentState, tickVolume float64) bool {
	if tickVolume <= 0 {
		return false
	}
	if st.threshold != nil {
		return tickVolume >= *st.threshold
	}

	isLarge := false
	if len(st.volumeWindow) > fallbackMinSamples {
		p99 := percentile(st.volumeWindow, fallbackPercentile)
		isLarge = tickVolume >= p99
	}
	st.volumeWindow = append(st.volumeWindow, tickVolume)
	if len(st.volumeWindow) > defaultVolumeWindowSize {
		st.volumeWindow = st.volumeWindow[len(st.volumeWindow)-defaultVolumeWindowSize:]
	}
	return isLarge
}

// percentile computes the p-th percentile (0-100) of values using linear
// interpolation between closest ranks, matching numpy.percentile's
// default behavior used by the original implementation.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// detectAbsorption implements spec §4.2's iceberg/absorption refill
// counters, one per side.
func (e *Enricher) detectAbsorption(tick model.Tick, st *instrumentState, tickVolume float64, sign model.TradeSign) (buyAbsorb, sellAbsorb bool) {
	if tick.Depth == nil || len(tick.Depth.Bid) == 0 || len(tick.Depth.Ask) == 0 || tickVolume <= 0 {
		return false, false
	}
	bestBid := tick.Depth.Bid[0]
	bestAsk := tick.Depth.Ask[0]
	lastPrice := tick.Price()

	if !st.hasAsk || bestAsk.Price != st.lastAsk.Price {
		st.sellRefillCount = 0
	} else if sign == model.TradeSignBuy && lastPrice == st.lastAsk.Price {
		if bestAsk.Quantity > st.lastAsk.Quantity-tickVolume {
			st.sellRefillCount++
		}
	}

	if !st.hasBid || bestBid.Price != st.lastBid.Price {
		st.buyRefillCount = 0
	} else if sign == model.TradeSignSell && lastPrice == st.lastBid.Price {
		if bestBid.Quantity > st.lastBid.Quantity-tickVolume {
			st.buyRefillCount++
		}
	}

	sellAbsorb = st.sellRefillCount >= e.cfg.IcebergConfirmationThreshold
	buyAbsorb = st.buyRefillCount >= e.cfg.IcebergConfirmationThreshold
	return buyAbsorb, sellAbsorb
}

func (e *Enricher) advanceState(tick model.Tick, st *instrumentState, sign model.TradeSign) {
	st.hasLastTick = true
	st.lastPrice = tick.Price()
	if tick.VolumeTraded != nil {
		st.lastCumVolume = *tick.VolumeTraded
		st.lastHasVolume = true
	}
	if sign != model.TradeSignFlat {
		st.lastNonZeroSign = sign
	}
	if tick.Depth != nil {
		if len(tick.Depth.Bid) > 0 {
			st.lastBid = tick.Depth.Bid[0]
			st.hasBid = true
		}
		if len(tick.Depth.Ask) > 0 {
			st.lastAsk = tick.Depth.Ask[0]
			st.hasAsk = true
		}
	}
}
