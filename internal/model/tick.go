// Package model defines the value types shared across the enrichment,
// aggregation and signal pipeline: ticks, depth snapshots, bars and
// signal events. All fields are immutable once constructed; state
// mutation belongs to the owning component, never to the value types
// themselves.
package model

import "time"

// DepthLevel is a single bid or ask rung in an order book snapshot.
// Levels are ordered bid-descending / ask-ascending; index 0 is "best".
type DepthLevel struct {
	Price    float64
	Quantity float64
	Orders   int
}

// DepthSnapshot holds one side-by-side view of the book for an instrument
// at a point in time, up to N levels deep.
type DepthSnapshot struct {
	Timestamp  time.Time
	Instrument InstrumentID
	StockName  string
	Bid        []DepthLevel
	Ask        []DepthLevel
}

// BestBidAsk returns the top-of-book levels, or zero values when a side
// is empty.
func (d DepthSnapshot) BestBidAsk() (bid, ask DepthLevel) {
	if len(d.Bid) > 0 {
		bid = d.Bid[0]
	}
	if len(d.Ask) > 0 {
		ask = d.Ask[0]
	}
	return bid, ask
}

// InstrumentID identifies a tradable instrument. Distinct from the
// human-readable stock name so a rename does not change identity.
type InstrumentID int64

// Tick is a single market-data update for an instrument. All numeric
// fields are nullable except Timestamp and Instrument; a nil pointer
// means "not reported in this update", not zero.
type Tick struct {
	Timestamp  time.Time
	Instrument InstrumentID
	StockName  string

	LastPrice           *float64
	LastTradedQty       *float64
	AverageTradedPrice  *float64
	VolumeTraded        *float64
	TotalBuyQuantity    *float64
	TotalSellQuantity   *float64

	Depth *DepthSnapshot
}

// Price returns the last traded price, or 0 when absent.
func (t Tick) Price() float64 {
	if t.LastPrice == nil {
		return 0
	}
	return *t.LastPrice
}

// CumulativeVolume returns the session cumulative volume, or 0 when absent.
func (t Tick) CumulativeVolume() float64 {
	if t.VolumeTraded == nil {
		return 0
	}
	return *t.VolumeTraded
}

// TradeSign enumerates the aggressor classification of a trade.
type TradeSign int8

const (
	TradeSignSell TradeSign = -1
	TradeSignFlat TradeSign = 0
	TradeSignBuy  TradeSign = 1
)

// EnrichedTick extends Tick with features computed by the enricher (C2):
// realized per-tick volume, aggressor sign, large-trade and
// iceberg/absorption flags.
type EnrichedTick struct {
	Tick

	TickVolume      float64
	TradeSign       TradeSign
	IsLargeTrade    bool
	IsBuyAbsorption bool
	IsSellAbsorption bool
}
