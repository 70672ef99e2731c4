package model

import (
	"time"

	"github.com/google/uuid"
)

// Authority labels the semantic weight of an interval so downstream
// consumers can route signals to timeframe-appropriate surfaces.
type Authority string

const (
	AuthorityMicro      Authority = "micro"
	AuthorityFast       Authority = "fast"
	AuthorityTrade      Authority = "trade"
	AuthoritySwing      Authority = "swing"
	AuthorityStructural Authority = "structural"
)

// AuthorityForInterval maps an interval (minutes) to its authority label
// per spec §4.6. Unconfigured intervals return AuthorityTrade as a safe
// default rather than the empty string.
func AuthorityForInterval(intervalMinutes int) Authority {
	switch intervalMinutes {
	case 1:
		return AuthorityMicro
	case 3:
		return AuthorityFast
	case 5:
		return AuthorityTrade
	case 10:
		return AuthoritySwing
	case 15:
		return AuthorityStructural
	default:
		return AuthorityTrade
	}
}

// Position is the signal engine's trade-state position.
type Position int8

const (
	PositionNone Position = iota
	PositionLong
	PositionShort
)

func (p Position) String() string {
	switch p {
	case PositionLong:
		return "LONG"
	case PositionShort:
		return "SHORT"
	default:
		return "NONE"
	}
}

// EventType enumerates the signal events the engine may emit.
type EventType string

const (
	EventLongEntry   EventType = "LONG_ENTRY"
	EventShortEntry  EventType = "SHORT_ENTRY"
	EventLongExit    EventType = "LONG_EXIT"
	EventShortExit   EventType = "SHORT_EXIT"
	EventPartialExit EventType = "PARTIAL_EXIT"
)

// SignalEvent is a single emitted entry/exit record, carrying enough
// context for alerting and per-trade performance accounting.
type SignalEvent struct {
	ID         uuid.UUID
	EventTime  time.Time
	StockName  string
	Instrument InstrumentID
	IntervalMinutes int
	Authority  Authority

	EventType EventType
	Side      Position
	Price     float64
	VWAP      float64

	CostRegime   int8
	PathRegime   int8
	AcceptRegime int8

	EntryPrice float64
	PeakPrice  float64

	MFEPct float64
	MAEPct float64
	PnLPct float64

	Reason     string
	Indicators map[DivergencePair]float64
}

// NewSignalEvent stamps a fresh ID on a SignalEvent. Callers fill every
// other field; this only exists so ID generation has a single call site.
func NewSignalEvent() SignalEvent {
	return SignalEvent{ID: uuid.New()}
}
