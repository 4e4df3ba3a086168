package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

type OrderSide string

const (
	SideYes OrderSide = "yes"
	SideNo  OrderSide = "no"
)

type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

type OrderState string

const (
	StateDraft       OrderState = "DRAFT"
	StatePending     OrderState = "PENDING"
	StateSubmitted   OrderState = "SUBMITTED"
	StateAccepted    OrderState = "ACCEPTED"
	StatePartialFill OrderState = "PARTIAL_FILL"
	StateFilled      OrderState = "FILLED"
	StateCanceled    OrderState = "CANCELED"
	StateRejected    OrderState = "REJECTED"
	StateExpired     OrderState = "EXPIRED"
)

// Terminal reports whether the state is absorbing: no transition leaves it.
func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// MinLimitPrice and MaxLimitPrice bound limit prices in exchange ticks.
// Binary contracts settle at GuaranteedPayout ticks, so a resting price of 0
// or 100 is never a valid quote.
const (
	MinLimitPrice = 1
	MaxLimitPrice = 99
)

// Order is one exchange order. It is owned by the order state machine and
// mutated only through validated transitions.
type Order struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	IdempotencyKey  string  `gorm:"type:varchar(100);not null;uniqueIndex"`
	ExchangeOrderID *string `gorm:"type:varchar(100);index"`

	MarketTicker string      `gorm:"type:varchar(100);not null;index"`
	Action       OrderAction `gorm:"type:varchar(10);not null"`
	Side         OrderSide   `gorm:"type:varchar(10);not null"`
	Type         OrderType   `gorm:"type:varchar(10);not null;default:'limit'"`

	Contracts  int  `gorm:"not null"`
	LimitPrice *int // ticks, 1-99; nil for market orders

	FilledContracts int             `gorm:"not null;default:0"`
	AvgFillPrice    decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	State        OrderState `gorm:"type:varchar(20);not null;default:'DRAFT';index"`
	RejectReason *string    `gorm:"type:text"`

	ExpiresAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}
