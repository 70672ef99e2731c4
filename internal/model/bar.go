package model

import "time"

// Structure classifies a finalized bar's range relative to its
// predecessor (spec: HH/HL/LH/LL derived categorical label).
type Structure string

const (
	StructureUp      Structure = "up"
	StructureDown    Structure = "down"
	StructureInside  Structure = "inside"
	StructureOutside Structure = "outside"
	StructureMixed   Structure = "mixed"
	StructureInit    Structure = "init"
)

// DivergencePair names a supported price/indicator or indicator/indicator
// comparison (C3). This is the closed enumeration referenced in the keys
// of RawScores.Divergence — new pairs require a new constant, not a
// free-form string.
type DivergencePair string

const (
	PriceVsLVC DivergencePair = "price_vs_lvc"
	PriceVsCVD DivergencePair = "price_vs_cvd"
	PriceVsOBV DivergencePair = "price_vs_obv"
	PriceVsRSI DivergencePair = "price_vs_rsi"
	PriceVsMFI DivergencePair = "price_vs_mfi"
	PriceVsCLV DivergencePair = "price_vs_clv"
	LVCVsCVD   DivergencePair = "lvc_vs_cvd"
	LVCVsOBV   DivergencePair = "lvc_vs_obv"
	LVCVsRSI   DivergencePair = "lvc_vs_rsi"
	LVCVsMFI   DivergencePair = "lvc_vs_mfi"
)

// RawScores carries every indicator and structure field derived for a
// bar. It replaces the source system's dynamic attribute-keyed scores
// dictionary with an explicit, typed record — the only place a map
// survives is Divergence, whose keys are the closed DivergencePair
// enumeration above.
type RawScores struct {
	BarDelta int64

	CVD5m  int64
	CVD10m int64
	CVD30m int64

	RSI float64
	MFI float64
	OBV int64

	LargeBuyVolume  int64
	LargeSellVolume int64
	LVCDelta        int64

	PassiveBuyVolume  int64
	PassiveSellVolume int64

	CLV         float64
	CLVSmoothed float64

	// Structure flags, populated only at finalization (spec §4.4).
	HH, HL, LH, LL   bool
	Inside, Outside  bool
	Structure        Structure
	StructureRatio   float64
	PriceAcceptance  int8 // -1, 0, +1

	Divergence map[DivergencePair]float64
}

// Bar is an OHLCV record for one (instrument, interval) bucket, extended
// with derived features. Timestamp is the UTC-anchored bucket start.
type Bar struct {
	Timestamp  time.Time
	StockName  string
	Instrument InstrumentID
	IntervalMinutes int

	Open, High, Low, Close float64
	Volume                 int64

	BarVWAP     float64
	SessionVWAP float64

	RawScores RawScores
}

// Valid reports whether the bar satisfies the universal OHLCV invariants
// from spec §3/§8: low <= open,close <= high, volume >= 0, and bar VWAP
// within [low, high] when volume > 0.
func (b Bar) Valid() bool {
	if b.Low > b.Open || b.Open > b.High {
		return false
	}
	if b.Low > b.Close || b.Close > b.High {
		return false
	}
	if b.Volume < 0 {
		return false
	}
	if b.Volume > 0 && (b.BarVWAP < b.Low || b.BarVWAP > b.High) {
		return false
	}
	return true
}

// TypicalPrice returns (high+low+close)/3, used by MFI.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}
