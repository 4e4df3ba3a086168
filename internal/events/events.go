package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradegate/internal/models"
)

// Event is the closed set of things this service announces. One type per
// event name; payloads are typed, never maps.
type Event interface {
	EventName() string
}

type OrderCreated struct {
	Order models.Order
}

func (OrderCreated) EventName() string { return "order_created" }

type OrderSubmitted struct {
	Order models.Order
}

func (OrderSubmitted) EventName() string { return "order_submitted" }

type OrderAccepted struct {
	Order models.Order
}

func (OrderAccepted) EventName() string { return "order_accepted" }

type OrderFilled struct {
	Order models.Order
	Fill  models.Fill
}

func (OrderFilled) EventName() string { return "order_filled" }

type OrderRejected struct {
	Order  models.Order
	Reason string
}

func (OrderRejected) EventName() string { return "order_rejected" }

type OrderCanceled struct {
	Order  models.Order
	Reason string
}

func (OrderCanceled) EventName() string { return "order_canceled" }

type OrderExpired struct {
	Order models.Order
}

func (OrderExpired) EventName() string { return "order_expired" }

type KillSwitchTriggered struct {
	Switch models.KillSwitch
	// Auto is true when a threshold sweep tripped the switch rather than an
	// operator.
	Auto bool
}

func (KillSwitchTriggered) EventName() string { return "kill_switch_triggered" }

type KillSwitchReset struct {
	Switch  models.KillSwitch
	ResetBy string
}

func (KillSwitchReset) EventName() string { return "kill_switch_reset" }

type DailyLossLimitTriggered struct {
	Date   time.Time
	NetPnL decimal.Decimal
	Limit  decimal.Decimal
}

func (DailyLossLimitTriggered) EventName() string { return "daily_loss_limit_triggered" }

type DrawdownWarning struct {
	Date        time.Time
	DrawdownPct decimal.Decimal
	Utilization float64
}

func (DrawdownWarning) EventName() string { return "drawdown_warning" }

type ArbitrageSignalGenerated struct {
	Opportunity models.ArbitrageOpportunity
}

func (ArbitrageSignalGenerated) EventName() string { return "arbitrage_signal_generated" }

type ArbitrageApproved struct {
	Opportunity models.ArbitrageOpportunity
}

func (ArbitrageApproved) EventName() string { return "arbitrage_approved" }

type ArbitrageRejected struct {
	Opportunity models.ArbitrageOpportunity
	Reason      string
}

func (ArbitrageRejected) EventName() string { return "arbitrage_rejected" }

// Publisher delivers events to whatever alerting or dashboard sink is wired.
// Emission is best-effort; components never fail an operation over it.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// ZapPublisher writes every event to the structured log. It is the default
// sink when no external alerting is configured.
type ZapPublisher struct {
	Logger *zap.Logger
}

func (p *ZapPublisher) Publish(ctx context.Context, e Event) {
	if p == nil || p.Logger == nil || e == nil {
		return
	}
	p.Logger.Info("event",
		zap.String("name", e.EventName()),
		zap.Any("payload", e),
	)
}
