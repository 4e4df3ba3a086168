package arbitrage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradegate/internal/config"
	"tradegate/internal/events"
	"tradegate/internal/killswitch"
	"tradegate/internal/models"
	"tradegate/internal/orders"
	"tradegate/internal/repository"
	"tradegate/internal/risk"
)

// StrategyID identifies this strategy to the kill switch engine.
const StrategyID = "arbitrage"

// OrderEngine is the slice of the order state machine the executor drives.
type OrderEngine interface {
	CreateOrder(ctx context.Context, p orders.CreateOrderParams) (*models.Order, error)
	SubmitOrder(ctx context.Context, id uint64) (*models.Order, error)
	CancelOrder(ctx context.Context, id uint64, reason string) (*models.Order, error)
}

// Gate answers whether trading is currently blocked.
type Gate interface {
	Check(ctx context.Context, cc killswitch.CheckContext) (*models.KillSwitch, error)
}

// RiskRecorder receives the realized result of an executed pair.
type RiskRecorder interface {
	RecordUpdate(ctx context.Context, u risk.PnLUpdate) (*models.DailyPnL, error)
}

// CriticalError reports a one-sided position: the second leg failed and the
// first leg could not be canceled. It demands operator attention; the order
// is live on the exchange with no hedge.
type CriticalError struct {
	OpportunityID uint64
	StuckOrderID  uint64
	Err           error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("opportunity %d: unhedged order %d could not be canceled: %v", e.OpportunityID, e.StuckOrderID, e.Err)
}

func (e *CriticalError) Unwrap() error { return e.Err }

// Executor turns a persisted opportunity into a YES+NO order pair. Both legs
// go through the order state machine; a failed second leg is compensated by
// canceling the first.
type Executor struct {
	Repo   repository.OpportunityRepository
	Orders OrderEngine
	Gate   Gate
	Risk   RiskRecorder
	Logger *zap.Logger
	Events events.Publisher
	Config config.ArbitrageConfig

	// AccountID scopes the kill switch check.
	AccountID string
}

// ExecuteOpportunity places both legs for the opportunity. A kill switch
// block leaves the opportunity ACTIVE so it can run once trading resumes; an
// execution failure moves it to MISSED.
func (x *Executor) ExecuteOpportunity(ctx context.Context, id uint64) (*models.ArbitrageOpportunity, error) {
	opp, err := x.Repo.GetOpportunityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if opp == nil {
		return nil, fmt.Errorf("opportunity %d not found", id)
	}
	if opp.Status != models.OpportunityActive {
		return nil, fmt.Errorf("opportunity %d is %s, only ACTIVE opportunities execute", id, opp.Status)
	}

	blocking, err := x.Gate.Check(ctx, killswitch.CheckContext{
		AccountID:  x.AccountID,
		StrategyID: StrategyID,
		MarketID:   opp.MarketTicker,
	})
	if err != nil {
		return nil, err
	}
	if blocking != nil {
		reason := fmt.Sprintf("blocked by %s kill switch (%s)", blocking.Level, blocking.Reason)
		x.publish(ctx, events.ArbitrageRejected{Opportunity: *opp, Reason: reason})
		if x.Logger != nil {
			x.Logger.Warn("arbitrage execution blocked",
				zap.Uint64("opportunity_id", opp.ID),
				zap.String("market_ticker", opp.MarketTicker),
				zap.String("switch_level", string(blocking.Level)),
			)
		}
		return opp, fmt.Errorf("opportunity %d: %s", opp.ID, reason)
	}

	contracts := x.Config.ContractsPerTrade
	if contracts <= 0 {
		contracts = 1
	}

	yesOrder, err := x.placeLeg(ctx, opp, models.SideYes, opp.YesAsk, contracts)
	if err != nil {
		reason := fmt.Sprintf("yes leg failed: %v", err)
		if merr := x.markMissed(ctx, opp, reason); merr != nil {
			return nil, merr
		}
		return opp, fmt.Errorf("opportunity %d missed: %s", opp.ID, reason)
	}

	noOrder, err := x.placeLeg(ctx, opp, models.SideNo, opp.NoAsk, contracts)
	if err != nil {
		// Compensate: the YES leg is live and unhedged.
		if _, cerr := x.Orders.CancelOrder(ctx, yesOrder.ID, "arbitrage pair incomplete"); cerr != nil {
			crit := &CriticalError{OpportunityID: opp.ID, StuckOrderID: yesOrder.ID, Err: cerr}
			if x.Logger != nil {
				x.Logger.Error("arbitrage leg stuck", zap.Error(crit))
			}
			// The stuck position outranks any bookkeeping failure; crit
			// must reach the caller typed.
			if merr := x.markMissed(ctx, opp, crit.Error()); merr != nil && x.Logger != nil {
				x.Logger.Error("recording missed opportunity failed", zap.Error(merr))
			}
			return opp, crit
		}
		reason := fmt.Sprintf("no leg failed, yes leg canceled: %v", err)
		if merr := x.markMissed(ctx, opp, reason); merr != nil {
			return nil, merr
		}
		return opp, fmt.Errorf("opportunity %d missed: %s", opp.ID, reason)
	}

	now := time.Now().UTC()
	profit := decimal.NewFromInt(int64(opp.ProfitCents)).
		Mul(decimal.NewFromInt(int64(contracts))).
		Div(decimal.NewFromInt(100))
	opp.Status = models.OpportunityExecuted
	opp.YesOrderID = &yesOrder.ID
	opp.NoOrderID = &noOrder.ID
	opp.RealizedProfit = &profit
	opp.ExecutedAt = &now
	settled, err := x.Repo.SettleOpportunity(ctx, opp)
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, fmt.Errorf("opportunity %d was settled concurrently", opp.ID)
	}

	if x.Risk != nil {
		if _, rerr := x.Risk.RecordUpdate(ctx, risk.PnLUpdate{
			Kind:        risk.UpdatePositionClose,
			RealizedPnL: profit,
			IsWin:       true,
		}); rerr != nil && x.Logger != nil {
			x.Logger.Error("recording arbitrage profit failed", zap.Error(rerr))
		}
	}

	x.publish(ctx, events.ArbitrageApproved{Opportunity: *opp})
	if x.Logger != nil {
		x.Logger.Info("arbitrage pair executed",
			zap.Uint64("opportunity_id", opp.ID),
			zap.String("market_ticker", opp.MarketTicker),
			zap.Int("contracts", contracts),
			zap.String("realized_profit", profit.StringFixed(2)),
		)
	}
	return opp, nil
}

func (x *Executor) placeLeg(ctx context.Context, opp *models.ArbitrageOpportunity, side models.OrderSide, price, contracts int) (*models.Order, error) {
	order, err := x.Orders.CreateOrder(ctx, orders.CreateOrderParams{
		IdempotencyKey: fmt.Sprintf("arb-%d-%s", opp.ID, side),
		MarketTicker:   opp.MarketTicker,
		Action:         models.ActionBuy,
		Side:           side,
		Type:           models.TypeLimit,
		Contracts:      contracts,
		LimitPrice:     &price,
	})
	if err != nil {
		return nil, err
	}
	return x.Orders.SubmitOrder(ctx, order.ID)
}

// markMissed settles the row as MISSED. The write is conditional on the row
// still being ACTIVE so a concurrent executor's EXECUTED result is never
// overwritten. A non-nil return is a persistence problem, not the business
// outcome; callers build their own error.
func (x *Executor) markMissed(ctx context.Context, opp *models.ArbitrageOpportunity, reason string) error {
	opp.Status = models.OpportunityMissed
	settled, err := x.Repo.SettleOpportunity(ctx, opp)
	if err != nil {
		return err
	}
	if !settled {
		return fmt.Errorf("opportunity %d was settled concurrently", opp.ID)
	}
	x.publish(ctx, events.ArbitrageRejected{Opportunity: *opp, Reason: reason})
	return nil
}

func (x *Executor) publish(ctx context.Context, e events.Event) {
	if x.Events != nil {
		x.Events.Publish(ctx, e)
	}
}
