package gateway

import (
	"context"

	"tradegate/internal/models"
)

// Status is the remote order status vocabulary the reconciler understands.
type Status string

const (
	StatusResting  Status = "resting"
	StatusExecuted Status = "executed"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// OrderRequest is the abstract shape of an exchange order placement. The
// exchange offers no client-key dedup, which is why the order store carries
// its own idempotency key.
type OrderRequest struct {
	Ticker     string             `json:"ticker"`
	Action     models.OrderAction `json:"action"`
	Side       models.OrderSide   `json:"side"`
	Type       models.OrderType   `json:"type"`
	Count      int                `json:"count"`
	LimitPrice *int               `json:"limit_price,omitempty"` // ticks
}

type OrderResult struct {
	ExchangeOrderID string `json:"order_id"`
	Status          Status `json:"status"`
	FilledCount     int    `json:"filled_count"`
	AvgFillPrice    int    `json:"avg_fill_price"` // ticks
}

// Exchange places, cancels, and inspects orders on the external venue.
// Calls are blocking; callers own timeouts via ctx. No retries happen here.
type Exchange interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	GetOrder(ctx context.Context, exchangeOrderID string) (*OrderResult, error)
}

// MarketQuote is one open binary market with its top-of-book in ticks.
type MarketQuote struct {
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
	YesBid int    `json:"yes_bid"`
	YesAsk int    `json:"yes_ask"`
	NoBid  int    `json:"no_bid"`
	NoAsk  int    `json:"no_ask"`
}

// Markets pages through open markets, cursor-driven.
type Markets interface {
	ListOpenMarkets(ctx context.Context, cursor string, limit int) ([]MarketQuote, string, error)
}
