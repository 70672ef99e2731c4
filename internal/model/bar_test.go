package model

import "testing"

func TestBarValid(t *testing.T) {
	cases := []struct {
		name string
		bar  Bar
		want bool
	}{
		{"flat bar", Bar{Open: 10, High: 10, Low: 10, Close: 10, Volume: 0}, true},
		{"normal bar", Bar{Open: 10, High: 12, Low: 9, Close: 11, Volume: 100, BarVWAP: 10.5}, true},
		{"high below open", Bar{Open: 10, High: 9, Low: 8, Close: 9, Volume: 1}, false},
		{"low above close", Bar{Open: 10, High: 12, Low: 11, Close: 10.5, Volume: 1}, false},
		{"negative volume", Bar{Open: 10, High: 10, Low: 10, Close: 10, Volume: -1}, false},
		{"vwap outside range", Bar{Open: 10, High: 12, Low: 9, Close: 11, Volume: 10, BarVWAP: 15}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.bar.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTypicalPrice(t *testing.T) {
	b := Bar{High: 12, Low: 9, Close: 10.5}
	want := (12.0 + 9.0 + 10.5) / 3
	if got := b.TypicalPrice(); got != want {
		t.Errorf("TypicalPrice() = %v, want %v", got, want)
	}
}

func TestAuthorityForInterval(t *testing.T) {
	cases := map[int]Authority{
		1:  AuthorityMicro,
		3:  AuthorityFast,
		5:  AuthorityTrade,
		10: AuthoritySwing,
		15: AuthorityStructural,
		7:  AuthorityTrade,
	}
	for interval, want := range cases {
		if got := AuthorityForInterval(interval); got != want {
			t.Errorf("AuthorityForInterval(%d) = %v, want %v", interval, got, want)
		}
	}
}
