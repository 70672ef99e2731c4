// Package bar implements the multi-interval OHLCV aggregator (C4): one
// Aggregator owns a single (instrument, interval) bucket sequence, turns
// enriched ticks into in-progress and finalized Bars, and drives the
// derived-indicator recalculation (VWAP, CVD, RSI, MFI, OBV, CLV, market
// structure) on every update.
//
// =============================================================================
// BAR FEATURES — mathematical foundation
// =============================================================================
//
//	Bar VWAP:  Σ(price·Δvolume) / Σ(Δvolume), accumulated from session VWAP
//	           deltas rather than tick price directly, so it tracks the
//	           exchange's own traded-value accounting.
//	CVD(w):    Σ bar_delta over the trailing w-minute window of finalized
//	           bars, plus the in-progress bar's own delta.
//	RSI:       Wilder's smoothed average gain/loss over 14 bars.
//	MFI:       14-period money-flow index on typical price × volume.
//	OBV:       running total, += volume on a higher close, -= on a lower.
//	CLV:       ((close-low)-(high-close))/(high-low), smoothed over 3 bars.
//	LVC delta: running total of large-buy-volume minus large-sell-volume.
//
// =============================================================================
package bar

import (
	"log/slog"
	"time"

	"github.com/marketcore/tickcore/internal/divergence"
	"github.com/marketcore/tickcore/internal/model"
)

const indicatorPeriod = 14
const clvSmoothingPeriod = 3
const defaultHistoryCapacity = 200
const structureEpsilon = 1e-9

// Config tunes an Aggregator. Zero values take the defaults used
// throughout this package.
type Config struct {
	IndicatorPeriod    int
	CLVSmoothingPeriod int
	HistoryCapacity    int
	Divergence         divergence.Config
}

func (c Config) withDefaults() Config {
	if c.IndicatorPeriod <= 0 {
		c.IndicatorPeriod = indicatorPeriod
	}
	if c.CLVSmoothingPeriod <= 0 {
		c.CLVSmoothingPeriod = clvSmoothingPeriod
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = defaultHistoryCapacity
	}
	return c
}

type moneyFlow struct {
	flow float64
	sign int8
}

// building accumulates float-precision running totals for the bar
// currently under construction; Bar.RawScores only ever sees the
// rounded snapshot written at each recalculation.
type building struct {
	bar model.Bar

	totalPriceVolume float64
	volumeAccum      float64

	barDeltaAccum     float64
	largeBuyAccum     float64
	largeSellAccum    float64
	passiveBuyAccum   float64
	passiveSellAccum  float64
}

// Aggregator owns one (instrument, interval) bucket sequence. Like the
// enricher, it is single-writer and holds no internal lock.
type Aggregator struct {
	cfg Config
	log *slog.Logger

	stockName       string
	instrument      model.InstrumentID
	intervalMinutes int

	scorer *divergence.Scorer

	cur *building

	history []model.Bar // oldest-first, capped at cfg.HistoryCapacity

	deltaHistory5m  []int64
	deltaHistory10m []int64
	deltaHistory30m []int64

	prevSessionPV *float64
	prevCumVol    *float64

	avgGain          float64
	avgLoss          float64
	rsiInitialized   bool

	moneyFlowHistory []moneyFlow
	clvHistory       []float64
}

// New creates an Aggregator for one instrument at one interval.
func New(stockName string, instrument model.InstrumentID, intervalMinutes int, cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Aggregator{
		cfg:             cfg,
		log:             logger,
		stockName:       stockName,
		instrument:      instrument,
		intervalMinutes: intervalMinutes,
		scorer:          divergence.New(cfg.Divergence),
		deltaHistory5m:  make([]int64, 0, barsFor(5, intervalMinutes)),
		deltaHistory10m: make([]int64, 0, barsFor(10, intervalMinutes)),
		deltaHistory30m: make([]int64, 0, barsFor(30, intervalMinutes)),
	}
}

func barsFor(windowMinutes, intervalMinutes int) int {
	if intervalMinutes <= 0 {
		return 1
	}
	n := (windowMinutes + intervalMinutes - 1) / intervalMinutes // ceil
	if n < 1 {
		return 1
	}
	return n
}

// AddTick folds one enriched tick into the current bucket, finalizing
// the prior bucket first if the tick belongs to a new one. It returns
// the finalized bar (nil if none completed) and the current in-progress
// bar snapshot, matching the dual finalized/in-progress emission
// contract: downstream consumers may treat the in-progress bar as a
// live preview and the finalized bar as the committed record.
func (a *Aggregator) AddTick(tick model.EnrichedTick) (finalized *model.Bar, inProgress *model.Bar) {
	if tick.LastPrice == nil {
		return nil, nil
	}

	bucketTS := bucketTimestamp(tick.Timestamp, a.intervalMinutes)

	if a.cur == nil || !a.cur.bar.Timestamp.Equal(bucketTS) {
		if a.cur != nil {
			fb := a.finalizeBar()
			finalized = &fb
		}
		a.startNewBar(bucketTS, tick)
	}

	a.updateBarData(tick)

	snapshot := a.cur.bar
	return finalized, &snapshot
}

func bucketTimestamp(t time.Time, intervalMinutes int) time.Time {
	t = t.Truncate(time.Minute)
	if intervalMinutes <= 1 {
		return t
	}
	minuteBucket := (t.Minute() / intervalMinutes) * intervalMinutes
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minuteBucket, 0, 0, t.Location())
}

func (a *Aggregator) startNewBar(bucketTS time.Time, tick model.EnrichedTick) {
	price := tick.Price()
	a.cur = &building{
		bar: model.Bar{
			Timestamp:       bucketTS,
			StockName:       a.stockName,
			Instrument:      a.instrument,
			IntervalMinutes: a.intervalMinutes,
			Open:            price,
			High:            price,
			Low:             price,
			Close:           price,
			SessionVWAP:     derefOr(tick.AverageTradedPrice, 0),
		},
	}
	a.recalculateFeatures()
}

func (a *Aggregator) updateBarData(tick model.EnrichedTick) {
	cur := a.cur
	price := tick.Price()
	if price > cur.bar.High {
		cur.bar.High = price
	}
	if price < cur.bar.Low {
		cur.bar.Low = price
	}
	cur.bar.Close = price
	if tick.AverageTradedPrice != nil {
		cur.bar.SessionVWAP = *tick.AverageTradedPrice
	}

	if tick.VolumeTraded != nil && tick.AverageTradedPrice != nil {
		sessionPV := *tick.AverageTradedPrice * *tick.VolumeTraded
		var dv, dpv float64
		if a.prevSessionPV != nil && a.prevCumVol != nil {
			dv = maxFloat(0, *tick.VolumeTraded-*a.prevCumVol)
			dpv = maxFloat(0, sessionPV-*a.prevSessionPV)
		} else {
			dv = tick.TickVolume
			dpv = price * tick.TickVolume
		}
		pv, cv := sessionPV, *tick.VolumeTraded
		a.prevSessionPV, a.prevCumVol = &pv, &cv

		if dv > 0 {
			cur.volumeAccum += dv
			cur.totalPriceVolume += dpv
			cur.bar.Volume = int64(cur.volumeAccum)
			if cur.volumeAccum > 0 {
				cur.bar.BarVWAP = cur.totalPriceVolume / cur.volumeAccum
			}
		}
	}

	if tick.TickVolume > 0 {
		cur.barDeltaAccum += tick.TickVolume * float64(tick.TradeSign)
		if tick.IsLargeTrade {
			if tick.TradeSign == model.TradeSignBuy {
				cur.largeBuyAccum += tick.TickVolume
			} else {
				cur.largeSellAccum += tick.TickVolume
			}
		}
		if tick.IsBuyAbsorption {
			cur.passiveBuyAccum += tick.TickVolume
		}
		if tick.IsSellAbsorption {
			cur.passiveSellAccum += tick.TickVolume
		}
	}

	a.recalculateFeatures()
}

// finalizeBar closes the current bucket, rolls its values into the
// rolling histories used by RSI/MFI/OBV/CVD/CLV, computes the market
// structure flags, and appends it to history. It must only be called
// while a.cur is non-nil.
func (a *Aggregator) finalizeBar() model.Bar {
	a.recalculateFeatures()
	final := a.cur.bar

	var prev *model.Bar
	if len(a.history) > 0 {
		prev = &a.history[len(a.history)-1]
	}

	change := final.Close - closeOr(prev, final.Open)
	gain, loss := gainLoss(change)
	if !a.rsiInitialized {
		n := float64(len(a.history))
		a.avgGain = (a.avgGain*n + gain) / (n + 1)
		a.avgLoss = (a.avgLoss*n + loss) / (n + 1)
		if len(a.history) == a.cfg.IndicatorPeriod-1 {
			a.rsiInitialized = true
		}
	} else {
		p := float64(a.cfg.IndicatorPeriod)
		a.avgGain = (a.avgGain*(p-1) + gain) / p
		a.avgLoss = (a.avgLoss*(p-1) + loss) / p
	}

	tp := final.TypicalPrice()
	prevTP := tp
	if prev != nil {
		prevTP = prev.TypicalPrice()
	}
	a.moneyFlowHistory = appendCapped(a.moneyFlowHistory, moneyFlow{flow: tp * float64(final.Volume), sign: signOf(tp, prevTP)}, a.cfg.IndicatorPeriod)

	a.deltaHistory5m = appendCapped(a.deltaHistory5m, final.RawScores.BarDelta, barsFor(5, a.intervalMinutes))
	a.deltaHistory10m = appendCapped(a.deltaHistory10m, final.RawScores.BarDelta, barsFor(10, a.intervalMinutes))
	a.deltaHistory30m = appendCapped(a.deltaHistory30m, final.RawScores.BarDelta, barsFor(30, a.intervalMinutes))

	a.clvHistory = appendCapped(a.clvHistory, final.RawScores.CLV, a.cfg.CLVSmoothingPeriod)

	final.RawScores.Structure, final.RawScores.HH, final.RawScores.HL, final.RawScores.LH, final.RawScores.LL,
		final.RawScores.Inside, final.RawScores.Outside, final.RawScores.StructureRatio, final.RawScores.PriceAcceptance =
		marketStructure(final, prev)

	a.history = appendCapped(a.history, final, a.cfg.HistoryCapacity)
	a.cur = nil
	return final
}

// marketStructure implements spec §4.4's HH/HL/LH/LL classification,
// the mutually-exclusive inside/outside test, structure_ratio (tri-state
// per spec's open-question resolution: +1 on HH∧HL, -1 on LL∧LH, else 0)
// and price_acceptance (close vs prior bar's high/low).
func marketStructure(final model.Bar, prev *model.Bar) (structure model.Structure, hh, hl, lh, ll, inside, outside bool, structureRatio float64, priceAcceptance int8) {
	if prev == nil {
		return model.StructureInit, false, false, false, false, false, false, 0, 0
	}

	hh = final.High > prev.High+structureEpsilon
	hl = final.Low > prev.Low+structureEpsilon
	lh = final.High < prev.High-structureEpsilon
	ll = final.Low < prev.Low-structureEpsilon
	inside = final.High <= prev.High+structureEpsilon && final.Low >= prev.Low-structureEpsilon
	outside = final.High > prev.High+structureEpsilon && final.Low < prev.Low-structureEpsilon

	switch {
	case hh && hl:
		structure = model.StructureUp
	case ll && lh:
		structure = model.StructureDown
	case inside:
		structure = model.StructureInside
	case outside:
		structure = model.StructureOutside
	default:
		structure = model.StructureMixed
	}

	switch {
	case hh && hl:
		structureRatio = 1
	case ll && lh:
		structureRatio = -1
	default:
		structureRatio = 0
	}

	switch {
	case final.Close > prev.High:
		priceAcceptance = 1
	case final.Close < prev.Low:
		priceAcceptance = -1
	default:
		priceAcceptance = 0
	}

	return structure, hh, hl, lh, ll, inside, outside, structureRatio, priceAcceptance
}

func (a *Aggregator) recalculateFeatures() {
	if a.cur == nil {
		return
	}
	bar := &a.cur.bar
	rs := &bar.RawScores

	var prev *model.Bar
	if len(a.history) > 0 {
		prev = &a.history[len(a.history)-1]
	}
	prevClose := closeOr(prev, bar.Open)
	var prevOBV, prevLVCDelta int64
	if prev != nil {
		prevOBV = prev.RawScores.OBV
		prevLVCDelta = prev.RawScores.LVCDelta
	}

	rs.BarDelta = int64(a.cur.barDeltaAccum)
	rs.LargeBuyVolume = int64(a.cur.largeBuyAccum)
	rs.LargeSellVolume = int64(a.cur.largeSellAccum)
	rs.PassiveBuyVolume = int64(a.cur.passiveBuyAccum)
	rs.PassiveSellVolume = int64(a.cur.passiveSellAccum)

	rs.CVD5m = sumInt64(a.deltaHistory5m) + rs.BarDelta
	rs.CVD10m = sumInt64(a.deltaHistory10m) + rs.BarDelta
	rs.CVD30m = sumInt64(a.deltaHistory30m) + rs.BarDelta

	rs.RSI = a.calculateRSI(bar.Close, prevClose)
	rs.MFI = a.calculateMFI(*bar, prev)
	rs.OBV = calculateOBV(bar.Close, prevClose, bar.Volume, prevOBV)
	rs.LVCDelta = prevLVCDelta + rs.LargeBuyVolume - rs.LargeSellVolume

	barRange := bar.High - bar.Low
	currentCLV := 0.0
	if barRange > 0 {
		currentCLV = ((bar.Close - bar.Low) - (bar.High - bar.Close)) / barRange
	}
	rs.CLV = currentCLV

	sum, n := currentCLV, 1
	for _, v := range a.clvHistory {
		sum += v
		n++
	}
	rs.CLVSmoothed = sum / float64(n)

	rs.Divergence = a.scorer.Score(*bar, a.history, a.intervalMinutes)
}

func (a *Aggregator) calculateRSI(currentClose, prevClose float64) float64 {
	change := currentClose - prevClose
	gain, loss := gainLoss(change)

	var curGain, curLoss float64
	if a.rsiInitialized {
		p := float64(a.cfg.IndicatorPeriod)
		curGain = (a.avgGain*(p-1) + gain) / p
		curLoss = (a.avgLoss*(p-1) + loss) / p
	} else {
		n := float64(len(a.history))
		curGain = (a.avgGain*n + gain) / (n + 1)
		curLoss = (a.avgLoss*n + loss) / (n + 1)
	}

	if curLoss == 0 {
		return 100.0
	}
	rs := curGain / curLoss
	if 1+rs == 0 {
		return 100.0
	}
	return 100 - (100 / (1 + rs))
}

func (a *Aggregator) calculateMFI(current model.Bar, prev *model.Bar) float64 {
	if prev == nil {
		return 50.0
	}
	tp := current.TypicalPrice()
	prevTP := prev.TypicalPrice()
	sign := signOf(tp, prevTP)

	history := append(append([]moneyFlow(nil), a.moneyFlowHistory...), moneyFlow{flow: tp * float64(current.Volume), sign: sign})
	if len(history) > a.cfg.IndicatorPeriod {
		history = history[len(history)-a.cfg.IndicatorPeriod:]
	}

	var posFlow, negFlow float64
	for _, mf := range history {
		switch mf.sign {
		case 1:
			posFlow += mf.flow
		case -1:
			negFlow += mf.flow
		}
	}

	if negFlow == 0 {
		if posFlow > 0 {
			return 100.0
		}
		return 50.0
	}
	ratio := posFlow / negFlow
	return 100 - (100 / (1 + ratio))
}

func calculateOBV(currentClose, prevClose float64, volume, prevOBV int64) int64 {
	switch {
	case currentClose > prevClose:
		return prevOBV + volume
	case currentClose < prevClose:
		return prevOBV - volume
	default:
		return prevOBV
	}
}

func gainLoss(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	if change < 0 {
		return 0, -change
	}
	return 0, 0
}

func signOf(a, b float64) int8 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func closeOr(b *model.Bar, fallback float64) float64 {
	if b == nil {
		return fallback
	}
	return b.Close
}

func derefOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func sumInt64(vs []int64) int64 {
	var s int64
	for _, v := range vs {
		s += v
	}
	return s
}

func appendCapped[T any](s []T, v T, cap int) []T {
	s = append(s, v)
	if len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}
