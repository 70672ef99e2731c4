package divergence

import (
	"testing"

	"github.com/marketcore/tickcore/internal/model"
)

func barAt(close float64, volume, obv, cvd5m int64, rsi float64) model.Bar {
	return model.Bar{
		Close:  close,
		Volume: volume,
		RawScores: model.RawScores{
			OBV:   obv,
			CVD5m: cvd5m,
			RSI:   rsi,
		},
	}
}

func TestScoreEmptyBelowMinLookback(t *testing.T) {
	s := New(Config{MinLookbackMinutes: 10, MaxLookbackMinutes: 30})
	current := barAt(110, 100, 50, 50, 60)
	history := []model.Bar{barAt(100, 100, 0, 0, 50)} // only 1 bar of history, interval 5 -> needs 2

	got := s.Score(current, history, 5)
	if len(got) != 0 {
		t.Errorf("Score below min lookback = %v, want empty", got)
	}
}

func TestScoreBullishDivergence(t *testing.T) {
	s := New(Config{MinLookbackMinutes: 5, MaxLookbackMinutes: 30})
	start := barAt(100, 100, 0, 0, 40)
	current := barAt(101, 100, 5000, 0, 40) // price barely up, OBV surges -> bullish OBV divergence
	history := []model.Bar{start}

	got := s.Score(current, history, 5)
	if got[model.PriceVsOBV] <= 0 {
		t.Errorf("PriceVsOBV = %v, want > 0 (bullish)", got[model.PriceVsOBV])
	}
}

func TestScoreBearishDivergence(t *testing.T) {
	s := New(Config{MinLookbackMinutes: 5, MaxLookbackMinutes: 30})
	start := barAt(100, 100, 0, 0, 40)
	current := barAt(110, 100, -5000, 0, 40) // price up a lot, OBV collapses -> bearish
	history := []model.Bar{start}

	got := s.Score(current, history, 5)
	if got[model.PriceVsOBV] >= 0 {
		t.Errorf("PriceVsOBV = %v, want < 0 (bearish)", got[model.PriceVsOBV])
	}
}

func TestScoreClampedToUnitRange(t *testing.T) {
	s := New(Config{MinLookbackMinutes: 5, MaxLookbackMinutes: 30})
	start := barAt(100, 1, 0, 0, 0)
	current := barAt(100.001, 1, 1_000_000, 0, 0)
	history := []model.Bar{start}

	got := s.Score(current, history, 5)
	if got[model.PriceVsOBV] != 1 {
		t.Errorf("PriceVsOBV = %v, want clamped to 1", got[model.PriceVsOBV])
	}
}

func TestScoreZeroIntervalReturnsEmpty(t *testing.T) {
	s := New(Config{})
	got := s.Score(barAt(100, 1, 0, 0, 0), []model.Bar{barAt(100, 1, 0, 0, 0)}, 0)
	if len(got) != 0 {
		t.Errorf("Score with zero interval = %v, want empty", got)
	}
}

func TestScoreLookbackBoundedByMaxMinutes(t *testing.T) {
	s := New(Config{MinLookbackMinutes: 1, MaxLookbackMinutes: 5})
	// interval=1 -> max lookback is 5 bars even though history has 10.
	history := make([]model.Bar, 10)
	for i := range history {
		history[i] = barAt(float64(100+i), 10, int64(i*100), 0, 50)
	}
	current := barAt(130, 10, 2000, 0, 50)

	got := s.Score(current, history, 1)
	if len(got) == 0 {
		t.Fatalf("expected non-empty scores")
	}
	// start of window should be history[len-5] = history[5] (close 105), not history[0].
	expectedStart := history[5]
	wantPriceChange := (current.Close - expectedStart.Close) / expectedStart.Close
	wantOBVChange := float64(current.RawScores.OBV-expectedStart.RawScores.OBV) / float64(sumVolume(history[5:]))
	wantScore := score(wantPriceChange, wantOBVChange)
	if got[model.PriceVsOBV] != wantScore {
		t.Errorf("PriceVsOBV = %v, want %v (lookback not bounded to MaxLookbackMinutes)", got[model.PriceVsOBV], wantScore)
	}
}

func sumVolume(bars []model.Bar) int64 {
	var total int64
	for _, b := range bars {
		total += b.Volume
	}
	return total
}
