package arbitrage

import (
	"testing"

	"tradegate/internal/gateway"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name       string
		yesAsk     int
		noAsk      int
		minProfit  int
		wantHit    bool
		wantProfit int
	}{
		{"crossed books", 48, 48, 1, true, 4},
		{"fair pricing", 52, 52, 1, false, -4},
		{"exactly at payout", 50, 50, 1, false, 0},
		{"one tick edge", 50, 49, 1, true, 1},
		{"edge below floor", 50, 48, 3, false, 2},
		{"missing yes side", 0, 48, 1, false, 0},
		{"missing no side", 48, 0, 1, false, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			det, ok := Detect(gateway.MarketQuote{
				Ticker: "T",
				YesAsk: c.yesAsk,
				NoAsk:  c.noAsk,
			}, c.minProfit)
			if ok != c.wantHit {
				t.Fatalf("hit = %v, want %v", ok, c.wantHit)
			}
			if ok && det.ProfitCents != c.wantProfit {
				t.Fatalf("profit = %d, want %d", det.ProfitCents, c.wantProfit)
			}
		})
	}
}

func TestDetectProfitPct(t *testing.T) {
	det, ok := Detect(gateway.MarketQuote{Ticker: "T", YesAsk: 45, NoAsk: 45}, 1)
	if !ok {
		t.Fatal("45/45 should be arbitrable")
	}
	if det.BuyBothCost != 90 || det.ProfitCents != 10 {
		t.Fatalf("cost = %d, profit = %d", det.BuyBothCost, det.ProfitCents)
	}
	want := 10.0 / 90.0
	if det.ProfitPct < want-1e-9 || det.ProfitPct > want+1e-9 {
		t.Fatalf("pct = %v, want %v", det.ProfitPct, want)
	}
}
