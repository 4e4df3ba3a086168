package repository

import (
	"context"
	"errors"
	"time"

	"tradegate/internal/models"
)

// ErrDuplicateKey is returned by create calls that hit a unique constraint.
// The storage backend translates its native duplicate error to this sentinel
// so callers never depend on the storage technology.
var ErrDuplicateKey = errors.New("duplicate key")

// OrderRepository owns orders, their append-only transition audit, and fills.
// An order update and its transition insert are one atomic unit.
type OrderRepository interface {
	// CreateOrder inserts the order and its initial transition atomically.
	// A duplicate idempotency key surfaces ErrDuplicateKey with nothing written.
	CreateOrder(ctx context.Context, order *models.Order, tr *models.StateTransition) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	// UpdateOrderWithTransition persists the order and appends the transition
	// in one transaction. tr may be nil when no state change occurred.
	UpdateOrderWithTransition(ctx context.Context, order *models.Order, tr *models.StateTransition) error
	// ApplyFill persists the order, the fill, and an optional transition in
	// one transaction.
	ApplyFill(ctx context.Context, order *models.Order, fill *models.Fill, tr *models.StateTransition) error
	ListFillsByOrderID(ctx context.Context, orderID uint64) ([]models.Fill, error)
	ListTransitionsByOrderID(ctx context.Context, orderID uint64) ([]models.StateTransition, error)
	// FindActiveNonTerminal returns non-terminal orders holding an exchange
	// order id, for reconciliation.
	FindActiveNonTerminal(ctx context.Context) ([]models.Order, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)
}

// KillSwitchRepository owns circuit-breaker rows and their threshold configs.
// "Active" queries exclude switches whose auto-reset time has lapsed.
type KillSwitchRepository interface {
	CreateKillSwitch(ctx context.Context, item *models.KillSwitch) error
	UpdateKillSwitch(ctx context.Context, item *models.KillSwitch) error
	GetKillSwitchByID(ctx context.Context, id uint64) (*models.KillSwitch, error)
	GetActiveKillSwitches(ctx context.Context, now time.Time) ([]models.KillSwitch, error)
	GetActiveKillSwitch(ctx context.Context, level models.KillSwitchLevel, targetID string, now time.Time) (*models.KillSwitch, error)
	GetActiveKillSwitchesByLevel(ctx context.Context, level models.KillSwitchLevel, now time.Time) ([]models.KillSwitch, error)
	// FindActiveRow returns the active row for the key regardless of auto-reset
	// expiry. Trigger convergence needs the raw row behind the unique index.
	FindActiveRow(ctx context.Context, level models.KillSwitchLevel, targetID string) (*models.KillSwitch, error)
	// DeactivateExpiredKillSwitches flips active rows whose auto-reset time has
	// lapsed and returns the count flipped.
	DeactivateExpiredKillSwitches(ctx context.Context, now time.Time) (int64, error)
	GetKillSwitchConfig(ctx context.Context, level models.KillSwitchLevel, targetID string) (*models.KillSwitchConfig, error)
	UpsertKillSwitchConfig(ctx context.Context, item *models.KillSwitchConfig) error
}

// DailyPnLRepository owns the one-row-per-date P&L ledger.
type DailyPnLRepository interface {
	GetDailyPnLByDate(ctx context.Context, date time.Time) (*models.DailyPnL, error)
	CreateDailyPnL(ctx context.Context, item *models.DailyPnL) error
	UpdateDailyPnL(ctx context.Context, item *models.DailyPnL) error
	GetDailyPnLRange(ctx context.Context, start, end time.Time) ([]models.DailyPnL, error)
}

// OpportunityRepository owns detected arbitrage opportunities.
type OpportunityRepository interface {
	// UpsertActiveOpportunity inserts, or updates in place the existing
	// ACTIVE row for the same market ticker.
	UpsertActiveOpportunity(ctx context.Context, item *models.ArbitrageOpportunity) error
	GetOpportunityByID(ctx context.Context, id uint64) (*models.ArbitrageOpportunity, error)
	GetActiveOpportunityByTicker(ctx context.Context, ticker string) (*models.ArbitrageOpportunity, error)
	// SettleOpportunity persists item only while the stored row is still
	// ACTIVE. False means another writer settled the row first.
	SettleOpportunity(ctx context.Context, item *models.ArbitrageOpportunity) (bool, error)
	ListOpportunities(ctx context.Context, params ListOpportunitiesParams) ([]models.ArbitrageOpportunity, error)
	CountOpportunities(ctx context.Context, params ListOpportunitiesParams) (int64, error)
	// ExpireStaleOpportunities moves ACTIVE rows last seen before the cutoff
	// to EXPIRED and returns the count moved.
	ExpireStaleOpportunities(ctx context.Context, lastSeenBefore time.Time) (int64, error)
}

// Repository is the unified store consumed by wiring code; components depend
// on the narrow per-entity interfaces above.
type Repository interface {
	OrderRepository
	KillSwitchRepository
	DailyPnLRepository
	OpportunityRepository
}

type ListOrdersParams struct {
	Limit        int
	Offset       int
	State        *models.OrderState
	MarketTicker *string
	OrderBy      string
	Asc          *bool
}

type ListOpportunitiesParams struct {
	Limit          int
	Offset         int
	Status         *models.OpportunityStatus
	MarketTicker   *string
	MinProfitCents *int
	OrderBy        string
	Asc            *bool
}
