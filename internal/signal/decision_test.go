package signal

import (
	"strings"
	"testing"

	"github.com/marketcore/tickcore/internal/model"
)

func TestComputeHTFBias(t *testing.T) {
	cases := map[float64]HTFBias{
		0.5:  HTFBullish,
		-0.5: HTFBearish,
		0.1:  HTFRange,
		0.25: HTFRange,
	}
	for in, want := range cases {
		if got := ComputeHTFBias(in); got != want {
			t.Errorf("ComputeHTFBias(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestMarketStateCombinesBiasAndStructure(t *testing.T) {
	cases := []struct {
		bias           HTFBias
		structureRatio float64
		want           string
	}{
		{HTFBullish, 1, "TRENDING_UP"},
		{HTFBullish, -1, "PULLBACK_IN_UPTREND"},
		{HTFBullish, 0, "CONSOLIDATION_BULL"},
		{HTFBearish, -1, "TRENDING_DOWN"},
		{HTFBearish, 1, "RALLY_INTO_RESISTANCE"},
		{HTFBearish, 0, "CONSOLIDATION_BEAR"},
		{HTFRange, 1, "RANGE_CHOPPY"},
	}
	for _, tc := range cases {
		if got := MarketState(tc.bias, tc.structureRatio); got != tc.want {
			t.Errorf("MarketState(%v, %v) = %v, want %v", tc.bias, tc.structureRatio, got, tc.want)
		}
	}
}

func TestAnnotateAppendsBracketedStateWithoutChangingEventType(t *testing.T) {
	ev := model.SignalEvent{
		EventType:  model.EventLongEntry,
		Reason:     "COST+PATH+ACCEPTANCE",
		PathRegime: 1,
		Indicators: map[model.DivergencePair]float64{model.PriceVsOBV: 0.5},
	}
	got := Annotate(ev)
	if got.EventType != model.EventLongEntry {
		t.Errorf("Annotate changed EventType to %v", got.EventType)
	}
	if !strings.HasPrefix(got.Reason, "COST+PATH+ACCEPTANCE [") {
		t.Errorf("Reason = %q, want prefix preserved with bracketed annotation", got.Reason)
	}
	if !strings.Contains(got.Reason, string(HTFBullish)) {
		t.Errorf("Reason = %q, want to contain bias %v", got.Reason, HTFBullish)
	}
}
