package model

import "testing"

func TestTickPriceNilIsZero(t *testing.T) {
	var tick Tick
	if tick.Price() != 0 {
		t.Errorf("Price() with nil LastPrice = %v, want 0", tick.Price())
	}
}

func TestTickPriceDereferences(t *testing.T) {
	p := 123.45
	tick := Tick{LastPrice: &p}
	if tick.Price() != 123.45 {
		t.Errorf("Price() = %v, want 123.45", tick.Price())
	}
}

func TestTickCumulativeVolumeNilIsZero(t *testing.T) {
	var tick Tick
	if tick.CumulativeVolume() != 0 {
		t.Errorf("CumulativeVolume() with nil VolumeTraded = %v, want 0", tick.CumulativeVolume())
	}
}

func TestDepthSnapshotBestBidAsk(t *testing.T) {
	d := DepthSnapshot{
		Bid: []DepthLevel{{Price: 99, Quantity: 10}, {Price: 98, Quantity: 5}},
		Ask: []DepthLevel{{Price: 101, Quantity: 7}},
	}
	bid, ask := d.BestBidAsk()
	if bid.Price != 99 || ask.Price != 101 {
		t.Errorf("BestBidAsk() = (%+v, %+v), want top-of-book levels", bid, ask)
	}
}

func TestDepthSnapshotBestBidAskEmptySide(t *testing.T) {
	d := DepthSnapshot{Bid: []DepthLevel{{Price: 99}}}
	bid, ask := d.BestBidAsk()
	if bid.Price != 99 {
		t.Errorf("bid = %+v, want Price 99", bid)
	}
	if ask != (DepthLevel{}) {
		t.Errorf("ask with no levels = %+v, want zero value", ask)
	}
}
