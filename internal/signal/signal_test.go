package signal

import (
	"testing"

	"github.com/marketcore/tickcore/internal/model"
)

func barWith(instrument model.InstrumentID, interval int, close, high, low float64, priceVsOBV, structureRatio float64, priceAcceptance int8) model.Bar {
	return model.Bar{
		Instrument:      instrument,
		IntervalMinutes: interval,
		Close:           close,
		High:            high,
		Low:             low,
		RawScores: model.RawScores{
			StructureRatio:  structureRatio,
			PriceAcceptance: priceAcceptance,
			Divergence: map[model.DivergencePair]float64{
				model.PriceVsOBV: priceVsOBV,
			},
		},
	}
}

func TestUpdateRegimeRequiresThreeConsistentSamples(t *testing.T) {
	var hist []float64
	if got := updateRegime(&hist, 0.5, 0.25); got != 0 {
		t.Errorf("first sample should return 0 (ring not full), got %d", got)
	}
	if got := updateRegime(&hist, 0.5, 0.25); got != 0 {
		t.Errorf("second sample should return 0, got %d", got)
	}
	if got := updateRegime(&hist, 0.5, 0.25); got != 1 {
		t.Errorf("third consistent above-threshold sample should return 1, got %d", got)
	}
}

func TestUpdateRegimeMixedSamplesReturnZero(t *testing.T) {
	var hist []float64
	updateRegime(&hist, 0.5, 0.25)
	updateRegime(&hist, -0.5, 0.25)
	got := updateRegime(&hist, 0.5, 0.25)
	if got != 0 {
		t.Errorf("mixed-sign samples should return 0, got %d", got)
	}
}

func TestUpdateRegimeCapsRingAtThree(t *testing.T) {
	var hist []float64
	for i := 0; i < 5; i++ {
		updateRegime(&hist, 0.5, 0.25)
	}
	if len(hist) != 3 {
		t.Errorf("len(hist) = %d, want 3", len(hist))
	}
}

func TestEngineEntersLongOnHandshake(t *testing.T) {
	e := New(Config{}, nil)
	// Three bars of consistent bullish COST + positive PATH + ACCEPTANCE to trip the handshake.
	var events []model.SignalEvent
	for i := 0; i < 3; i++ {
		b := barWith(1, 5, 100+float64(i), 101+float64(i), 99, 0.5, 0.5, 1)
		events = e.Process(b, nil)
	}
	if len(events) != 1 || events[0].EventType != model.EventLongEntry {
		t.Fatalf("expected a single LONG_ENTRY event, got %+v", events)
	}
}

func TestEngineEntersShortOnHandshake(t *testing.T) {
	e := New(Config{}, nil)
	var events []model.SignalEvent
	for i := 0; i < 3; i++ {
		b := barWith(1, 5, 100-float64(i), 101, 99-float64(i), -0.5, -0.5, -1)
		events = e.Process(b, nil)
	}
	if len(events) != 1 || events[0].EventType != model.EventShortEntry {
		t.Fatalf("expected a single SHORT_ENTRY event, got %+v", events)
	}
}

func TestEngineExitsOnCostFade(t *testing.T) {
	e := New(Config{}, nil)
	for i := 0; i < 3; i++ {
		e.Process(barWith(1, 5, 100+float64(i), 101+float64(i), 99, 0.5, 0.5, 1), nil)
	}
	k := stateKey{instrument: 1, intervalMinutes: 5}
	if e.states[k].position != model.PositionLong {
		t.Fatalf("expected engine to be in a long position before the fade check")
	}

	// Cost sensor drops out of its bullish regime -> fade exit.
	events := e.Process(barWith(1, 5, 103, 104, 100, -0.5, 0.5, 0), nil)
	if len(events) != 1 || events[0].EventType != model.EventLongExit {
		t.Fatalf("expected a LONG_EXIT event on cost fade, got %+v", events)
	}
	if e.states[k].position != model.PositionNone {
		t.Errorf("position should reset to None after exit")
	}
}

func TestEngineNoEventsWhileNoHandshake(t *testing.T) {
	e := New(Config{}, nil)
	events := e.Process(barWith(1, 5, 100, 101, 99, 0.1, 0.0, 0), nil)
	if len(events) != 0 {
		t.Errorf("expected no events without a handshake, got %+v", events)
	}
}

func TestPressurePolicyStopLossFires(t *testing.T) {
	e := New(Config{Policy: PressurePolicy, StopLossPct: 0.02}, nil)
	k := stateKey{instrument: 1, intervalMinutes: 5}
	e.states[k] = &tradeState{position: model.PositionLong, entryPrice: 100, peakPrice: 100, maePrice: 100}

	events := e.Process(barWith(1, 5, 97, 97, 96, 0, 0, 0), nil) // 3% adverse move
	if len(events) != 1 || events[0].EventType != model.EventLongExit || events[0].Reason != "STOP_LOSS_HIT" {
		t.Fatalf("expected STOP_LOSS_HIT exit, got %+v", events)
	}
}

func TestPressurePolicyChopVetoesFadeExit(t *testing.T) {
	e := New(Config{Policy: PressurePolicy, PathChopThreshold: 0.5}, nil)
	k := stateKey{instrument: 1, intervalMinutes: 5}
	e.states[k] = &tradeState{position: model.PositionLong, entryPrice: 100, peakPrice: 105, maePrice: 99}

	// Cost fades (would normally exit) but structure_ratio is strongly directional (1 > 0.5 threshold).
	b := barWith(1, 5, 101, 102, 100, -0.5, 1.0, 0)
	events := e.Process(b, nil)
	if len(events) != 0 {
		t.Fatalf("expected chop veto to suppress the fade exit, got %+v", events)
	}
}

func TestRoundToFourDecimalPlaces(t *testing.T) {
	cases := map[float64]float64{
		1.23455:  1.2346,
		-1.23455: -1.2346,
		0.0:      0.0,
		2.5:      2.5,
	}
	for in, want := range cases {
		if got := round4(in); got != want {
			t.Errorf("round4(%v) = %v, want %v", in, got, want)
		}
	}
}
