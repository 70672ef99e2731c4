// Package signal implements the three-sensor regime-handshake state
// machine (C6): COST (institutional intent via price_vs_obv), PATH
// (structure_ratio) and, depending on policy, ACCEPTANCE
// (price_acceptance) or PRESSURE (price_vs_clv on a timing interval).
// Keyed by (instrument, interval); interval determines the emitted
// event's authority label.
package signal

import (
	"log/slog"

	"github.com/marketcore/tickcore/internal/model"
)

// Policy selects which third sensor closes the entry handshake.
type Policy int

const (
	// AcceptancePolicy is the base machine: COST + PATH + ACCEPTANCE.
	AcceptancePolicy Policy = iota
	// PressurePolicy is the superset variant: COST + PATH + PRESSURE,
	// plus an optional hard stop-loss, a structural chop veto on exits,
	// and a one-shot partial exit on divergence resolution.
	PressurePolicy
)

// Config tunes the regime thresholds and, under PressurePolicy, the
// optional risk-management extensions. Leaving StopLossPct and
// EnablePartialExit at their zero values turns off the stop and the
// partial exit; PressurePolicy still uses PRESSURE as its third sensor
// and still applies the chop veto.
type Config struct {
	Policy Policy

	PathRegimeThreshold float64 // default 0.25
	CostRegimeThreshold float64 // default 0.25

	// PressurePolicy only.
	StopLossPct       float64 // 0 disables the hard stop
	PathChopThreshold float64 // default 0.5; |structure_ratio| above this vetoes a fade-exit
	EnablePartialExit bool
}

func (c Config) withDefaults() Config {
	if c.PathRegimeThreshold <= 0 {
		c.PathRegimeThreshold = 0.25
	}
	if c.CostRegimeThreshold <= 0 {
		c.CostRegimeThreshold = 0.25
	}
	if c.PathChopThreshold <= 0 {
		c.PathChopThreshold = 0.5
	}
	return c
}

type stateKey struct {
	instrument      model.InstrumentID
	intervalMinutes int
}

type tradeState struct {
	position model.Position

	costHist []float64
	pathHist []float64
	presHist []float64

	entryPrice float64
	peakPrice  float64
	maePrice   float64

	partialExited bool
}

// Engine runs the handshake state machine across every (instrument,
// interval) key it observes. It is single-writer, like the rest of the
// core pipeline's stateful components.
type Engine struct {
	cfg Config
	log *slog.Logger

	states map[stateKey]*tradeState
}

func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		log:    logger,
		states: make(map[stateKey]*tradeState),
	}
}

// Process evaluates one finalized bar and returns zero or more emitted
// events. timingBar supplies the PRESSURE sensor's source bar under
// PressurePolicy (typically the most recent finalized bar on a shorter,
// configured timing interval); it is ignored under AcceptancePolicy and
// may be nil, in which case bar itself is used.
func (e *Engine) Process(bar model.Bar, timingBar *model.Bar) []model.SignalEvent {
	k := stateKey{instrument: bar.Instrument, intervalMinutes: bar.IntervalMinutes}
	st, ok := e.states[k]
	if !ok {
		st = &tradeState{position: model.PositionNone}
		e.states[k] = st
	}

	cost := updateRegime(&st.costHist, bar.RawScores.Divergence[model.PriceVsOBV], e.cfg.CostRegimeThreshold)
	path := updateRegime(&st.pathHist, bar.RawScores.StructureRatio, e.cfg.PathRegimeThreshold)

	var events []model.SignalEvent

	switch st.position {
	case model.PositionNone:
		accept := e.thirdSensor(st, bar, timingBar)
		if cost == 1 && accept == 1 && path != -1 {
			events = append(events, e.enter(st, bar, model.PositionLong, cost, path, accept, "COST+PATH+ACCEPTANCE"))
		} else if cost == -1 && accept == -1 && path != 1 {
			events = append(events, e.enter(st, bar, model.PositionShort, cost, path, accept, "COST+PATH+ACCEPTANCE"))
		}

	case model.PositionLong:
		st.peakPrice = maxF(st.peakPrice, bar.High)
		st.maePrice = minF(st.maePrice, bar.Low)

		if e.cfg.Policy == PressurePolicy {
			if ev, fired := e.checkStopLoss(st, bar, model.PositionLong); fired {
				events = append(events, ev)
				break
			}
			if e.cfg.EnablePartialExit && !st.partialExited {
				if ev, fired := e.checkPartialExit(st, bar, model.PositionLong); fired {
					events = append(events, ev)
				}
			}
		}

		if e.shouldFadeExit(cost, path, bar, model.PositionLong) {
			events = append(events, e.exit(st, bar, model.PositionLong, cost, path, "INTENT_FADE_OR_PATH_FLIP"))
		}

	case model.PositionShort:
		st.peakPrice = minF(st.peakPrice, bar.Low)
		st.maePrice = maxF(st.maePrice, bar.High)

		if e.cfg.Policy == PressurePolicy {
			if ev, fired := e.checkStopLoss(st, bar, model.PositionShort); fired {
				events = append(events, ev)
				break
			}
			if e.cfg.EnablePartialExit && !st.partialExited {
				if ev, fired := e.checkPartialExit(st, bar, model.PositionShort); fired {
					events = append(events, ev)
				}
			}
		}

		if e.shouldFadeExit(cost, path, bar, model.PositionShort) {
			events = append(events, e.exit(st, bar, model.PositionShort, cost, path, "INTENT_FADE_OR_PATH_FLIP"))
		}
	}

	return events
}

// shouldFadeExit applies the base exit rule, vetoed under PressurePolicy
// when the raw (unsmoothed) structure_ratio shows strong directional
// conviction — a chopping PATH sensor should not force an exit out of a
// structurally intact trend.
func (e *Engine) shouldFadeExit(cost, path int8, bar model.Bar, side model.Position) bool {
	if e.cfg.Policy == PressurePolicy && absF(bar.RawScores.StructureRatio) > e.cfg.PathChopThreshold {
		return false
	}
	if side == model.PositionLong {
		return cost < 1 || path < 0
	}
	return cost > -1 || path > 0
}

func (e *Engine) thirdSensor(st *tradeState, bar model.Bar, timingBar *model.Bar) int8 {
	if e.cfg.Policy != PressurePolicy {
		return bar.RawScores.PriceAcceptance
	}
	source := bar
	if timingBar != nil {
		source = *timingBar
	}
	return updateRegime(&st.presHist, source.RawScores.Divergence[model.PriceVsCLV], e.cfg.CostRegimeThreshold)
}

func (e *Engine) checkStopLoss(st *tradeState, bar model.Bar, side model.Position) (model.SignalEvent, bool) {
	if e.cfg.StopLossPct <= 0 {
		return model.SignalEvent{}, false
	}
	var adverse float64
	if side == model.PositionLong {
		adverse = (st.entryPrice - bar.Close) / st.entryPrice
	} else {
		adverse = (bar.Close - st.entryPrice) / st.entryPrice
	}
	if adverse < e.cfg.StopLossPct {
		return model.SignalEvent{}, false
	}
	return e.exit(st, bar, side, 0, 0, "STOP_LOSS_HIT"), true
}

// checkPartialExit fires once when CLV has flipped against the position
// while OBV divergence still confirms the original side — the
// distribution/accumulation phase resolving without yet reversing intent.
func (e *Engine) checkPartialExit(st *tradeState, bar model.Bar, side model.Position) (model.SignalEvent, bool) {
	clv := bar.RawScores.Divergence[model.PriceVsCLV]
	obv := bar.RawScores.Divergence[model.PriceVsOBV]

	var resolved bool
	if side == model.PositionLong {
		resolved = clv < 0 && obv > 0
	} else {
		resolved = clv > 0 && obv < 0
	}
	if !resolved {
		return model.SignalEvent{}, false
	}

	st.partialExited = true
	ev := model.NewSignalEvent()
	ev.EventTime = bar.Timestamp
	ev.StockName = bar.StockName
	ev.Instrument = bar.Instrument
	ev.IntervalMinutes = bar.IntervalMinutes
	ev.Authority = model.AuthorityForInterval(bar.IntervalMinutes)
	ev.EventType = model.EventPartialExit
	ev.Side = side
	ev.Price = bar.Close
	ev.VWAP = bar.SessionVWAP
	ev.EntryPrice = st.entryPrice
	ev.PeakPrice = st.peakPrice
	ev.Reason = "DIVERGENCE_RESOLUTION"
	ev.Indicators = bar.RawScores.Divergence
	return ev, true
}

func (e *Engine) enter(st *tradeState, bar model.Bar, side model.Position, cost, path, accept int8, reason string) model.SignalEvent {
	st.position = side
	st.entryPrice = bar.Close
	st.partialExited = false
	if side == model.PositionLong {
		st.peakPrice = bar.High
		st.maePrice = bar.Low
	} else {
		st.peakPrice = bar.Low
		st.maePrice = bar.High
	}

	ev := model.NewSignalEvent()
	ev.EventTime = bar.Timestamp
	ev.StockName = bar.StockName
	ev.Instrument = bar.Instrument
	ev.IntervalMinutes = bar.IntervalMinutes
	ev.Authority = model.AuthorityForInterval(bar.IntervalMinutes)
	ev.Side = side
	if side == model.PositionLong {
		ev.EventType = model.EventLongEntry
	} else {
		ev.EventType = model.EventShortEntry
	}
	ev.Price = bar.Close
	ev.VWAP = bar.SessionVWAP
	ev.CostRegime, ev.PathRegime, ev.AcceptRegime = cost, path, accept
	ev.EntryPrice = st.entryPrice
	ev.PeakPrice = st.peakPrice
	ev.Reason = reason
	ev.Indicators = bar.RawScores.Divergence
	return ev
}

func (e *Engine) exit(st *tradeState, bar model.Bar, side model.Position, cost, path int8, reason string) model.SignalEvent {
	entry := st.entryPrice
	var mfe, mae, pnl float64
	if side == model.PositionLong {
		mfe = (st.peakPrice - entry) / entry
		mae = (st.maePrice - entry) / entry
		pnl = (bar.Close - entry) / entry
	} else {
		mfe = (entry - st.peakPrice) / entry
		mae = (entry - st.maePrice) / entry
		pnl = (entry - bar.Close) / entry
	}

	ev := model.NewSignalEvent()
	ev.EventTime = bar.Timestamp
	ev.StockName = bar.StockName
	ev.Instrument = bar.Instrument
	ev.IntervalMinutes = bar.IntervalMinutes
	ev.Authority = model.AuthorityForInterval(bar.IntervalMinutes)
	ev.Side = side
	if side == model.PositionLong {
		ev.EventType = model.EventLongExit
	} else {
		ev.EventType = model.EventShortExit
	}
	ev.Price = bar.Close
	ev.VWAP = bar.SessionVWAP
	ev.CostRegime, ev.PathRegime = cost, path
	ev.EntryPrice = entry
	ev.PeakPrice = st.peakPrice
	ev.MFEPct = round4(mfe * 100)
	ev.MAEPct = round4(mae * 100)
	ev.PnLPct = round4(pnl * 100)
	ev.Reason = reason
	ev.Indicators = bar.RawScores.Divergence

	st.position = model.PositionNone
	st.partialExited = false
	return ev
}

// updateRegime pushes value onto a capped 3-sample ring and returns +1
// when all three samples exceed threshold, -1 when all three are below
// -threshold, and 0 otherwise — including while the ring is still
// filling.
func updateRegime(hist *[]float64, value, threshold float64) int8 {
	*hist = append(*hist, value)
	if len(*hist) > 3 {
		*hist = (*hist)[len(*hist)-3:]
	}
	if len(*hist) < 3 {
		return 0
	}
	allAbove, allBelow := true, true
	for _, v := range *hist {
		if v <= threshold {
			allAbove = false
		}
		if v >= -threshold {
			allBelow = false
		}
	}
	switch {
	case allAbove:
		return 1
	case allBelow:
		return -1
	default:
		return 0
	}
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func round4(v float64) float64 {
	const scale = 10000.0
	if v < 0 {
		return -round4(-v)
	}
	return float64(int64(v*scale+0.5)) / scale
}
