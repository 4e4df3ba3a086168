package arbitrage

import (
	"tradegate/internal/gateway"
	"tradegate/internal/models"
)

// Detection is the outcome of checking one quote for a buy-both mispricing.
type Detection struct {
	// BuyBothCost is yes ask plus no ask, in ticks.
	BuyBothCost int
	// ProfitCents is the guaranteed payout minus the cost. Positive only when
	// the books are crossed against the settlement value.
	ProfitCents int
	// ProfitPct is the profit relative to the capital outlay.
	ProfitPct float64
}

// Detect checks a quote for the buy-both arbitrage: when yes ask plus no ask
// is under the guaranteed payout, buying both sides locks in the difference.
// minProfitCents filters noise-level edges; quotes with a missing side never
// qualify.
func Detect(q gateway.MarketQuote, minProfitCents int) (Detection, bool) {
	if q.YesAsk <= 0 || q.NoAsk <= 0 {
		return Detection{}, false
	}
	cost := q.YesAsk + q.NoAsk
	profit := models.GuaranteedPayout - cost
	d := Detection{
		BuyBothCost: cost,
		ProfitCents: profit,
	}
	if cost > 0 {
		d.ProfitPct = float64(profit) / float64(cost)
	}
	if cost >= models.GuaranteedPayout {
		return d, false
	}
	if minProfitCents < 1 {
		minProfitCents = 1
	}
	return d, profit >= minProfitCents
}
