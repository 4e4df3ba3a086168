package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradegate/internal/config"
	"tradegate/internal/events"
	"tradegate/internal/killswitch"
	"tradegate/internal/models"
	"tradegate/internal/repository"
)

// SwitchTripper is the slice of the kill switch engine the monitor needs.
type SwitchTripper interface {
	Trigger(ctx context.Context, req killswitch.TriggerRequest) (*models.KillSwitch, error)
}

// Monitor maintains the single mutable P&L record per UTC calendar date and
// trips the global kill switch when a limit is breached. Updates for the same
// date are serialized by a per-date mutex, so read-modify-write on the row is
// safe inside one process.
type Monitor struct {
	Config config.RiskConfig
	Repo   repository.DailyPnLRepository
	Logger *zap.Logger
	Events events.Publisher
	Switch SwitchTripper

	// Clock overrides time.Now in tests.
	Clock func() time.Time

	mu    sync.Mutex
	dates map[string]*sync.Mutex
}

func (m *Monitor) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}

func (m *Monitor) dateLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dates == nil {
		m.dates = make(map[string]*sync.Mutex)
	}
	l, ok := m.dates[key]
	if !ok {
		l = &sync.Mutex{}
		m.dates[key] = l
	}
	return l
}

type UpdateKind string

const (
	// UpdateFill records an execution: fee paid, trade counted.
	UpdateFill UpdateKind = "fill"
	// UpdatePositionClose realizes P&L for one closed position.
	UpdatePositionClose UpdateKind = "position_close"
	// UpdateMarkToMarket replaces the unrealized P&L snapshot.
	UpdateMarkToMarket UpdateKind = "mark_to_market"
)

// PnLUpdate is one P&L-affecting observation. RealizedPnL and Fee are deltas;
// UnrealizedPnL is an absolute snapshot.
type PnLUpdate struct {
	Kind UpdateKind
	// Date of the update; zero means now.
	Date           time.Time
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	Fee            decimal.Decimal
	IsWin          bool
	OpenedPosition bool
}

// RecordUpdate folds the observation into the date's record, recomputes the
// derived figures, and evaluates the daily limits. It returns the record
// after the update.
func (m *Monitor) RecordUpdate(ctx context.Context, u PnLUpdate) (*models.DailyPnL, error) {
	date := u.Date
	if date.IsZero() {
		date = m.now()
	}
	date = dateOnly(date)
	key := date.Format("2006-01-02")

	lock := m.dateLock(key)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.loadOrCreate(ctx, date)
	if err != nil {
		return nil, err
	}

	switch u.Kind {
	case UpdateFill:
		rec.Fees = rec.Fees.Add(u.Fee)
		rec.TradeCount++
		if u.OpenedPosition {
			rec.PositionsOpened++
		}
	case UpdatePositionClose:
		rec.RealizedPnL = rec.RealizedPnL.Add(u.RealizedPnL)
		rec.Fees = rec.Fees.Add(u.Fee)
		rec.PositionsClosed++
		if u.IsWin {
			rec.WinCount++
		} else {
			rec.LossCount++
		}
	case UpdateMarkToMarket:
		rec.UnrealizedPnL = u.UnrealizedPnL
	default:
		return nil, fmt.Errorf("unknown P&L update kind %q", u.Kind)
	}

	rec.GrossPnL = rec.RealizedPnL.Add(rec.UnrealizedPnL)
	rec.NetPnL = rec.GrossPnL.Sub(rec.Fees)

	// The high-water mark only moves up within the date.
	if rec.NetPnL.GreaterThan(rec.PeakPnL) {
		rec.PeakPnL = rec.NetPnL
	}
	rec.Drawdown = rec.PeakPnL.Sub(rec.NetPnL)
	if rec.Drawdown.IsNegative() {
		rec.Drawdown = decimal.Zero
	}
	if rec.PeakPnL.IsPositive() {
		rec.DrawdownPct = rec.Drawdown.Div(rec.PeakPnL)
	} else {
		// Without a positive peak the ratio is undefined; report zero rather
		// than a spurious 100%.
		rec.DrawdownPct = decimal.Zero
	}

	if err := m.Repo.UpdateDailyPnL(ctx, rec); err != nil {
		return nil, err
	}
	m.evaluateLimits(ctx, rec)
	return rec, nil
}

func (m *Monitor) loadOrCreate(ctx context.Context, date time.Time) (*models.DailyPnL, error) {
	rec, err := m.Repo.GetDailyPnLByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	rec = &models.DailyPnL{Date: date}
	err = m.Repo.CreateDailyPnL(ctx, rec)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return m.Repo.GetDailyPnLByDate(ctx, date)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *Monitor) evaluateLimits(ctx context.Context, rec *models.DailyPnL) {
	lossLimit := decimal.NewFromFloat(m.Config.MaxDailyLossUSD)
	if lossLimit.IsPositive() && rec.NetPnL.LessThanOrEqual(lossLimit.Neg()) {
		m.publish(ctx, events.DailyLossLimitTriggered{
			Date:   rec.Date,
			NetPnL: rec.NetPnL,
			Limit:  lossLimit,
		})
		if m.Logger != nil {
			m.Logger.Warn("daily loss limit breached",
				zap.String("date", rec.Date.Format("2006-01-02")),
				zap.String("net_pnl", rec.NetPnL.StringFixed(2)),
				zap.String("limit", lossLimit.StringFixed(2)),
			)
		}
		m.trip(ctx, fmt.Sprintf("daily net loss %s breached limit %s", rec.NetPnL.StringFixed(2), lossLimit.StringFixed(2)))
		return
	}

	ddLimit := decimal.NewFromFloat(m.Config.MaxDrawdownPct)
	if !ddLimit.IsPositive() {
		return
	}
	util, _ := rec.DrawdownPct.Div(ddLimit).Float64()
	if util >= 1 {
		m.publish(ctx, events.DrawdownWarning{Date: rec.Date, DrawdownPct: rec.DrawdownPct, Utilization: util})
		m.trip(ctx, fmt.Sprintf("intraday drawdown %s breached limit %s", rec.DrawdownPct.StringFixed(4), ddLimit.StringFixed(4)))
		return
	}
	warnAt := m.Config.WarnUtilization
	if warnAt > 0 && util >= warnAt {
		m.publish(ctx, events.DrawdownWarning{Date: rec.Date, DrawdownPct: rec.DrawdownPct, Utilization: util})
		if m.Logger != nil {
			m.Logger.Warn("drawdown approaching limit",
				zap.String("date", rec.Date.Format("2006-01-02")),
				zap.String("drawdown_pct", rec.DrawdownPct.StringFixed(4)),
				zap.Float64("utilization", util),
			)
		}
	}
}

func (m *Monitor) trip(ctx context.Context, description string) {
	if !m.Config.KillSwitchEnabled || m.Switch == nil {
		return
	}
	_, err := m.Switch.Trigger(ctx, killswitch.TriggerRequest{
		Level:       models.LevelGlobal,
		Reason:      models.ReasonLossLimit,
		Description: description,
		TriggeredBy: "risk-monitor",
	})
	if err != nil && m.Logger != nil {
		m.Logger.Error("kill switch trigger failed", zap.Error(err))
	}
}

// RiskStatus is the operator-facing snapshot for one date.
type RiskStatus struct {
	Date          time.Time       `json:"date"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Fees          decimal.Decimal `json:"fees"`
	NetPnL        decimal.Decimal `json:"net_pnl"`
	PeakPnL       decimal.Decimal `json:"peak_pnl"`
	Drawdown      decimal.Decimal `json:"drawdown"`
	DrawdownPct   decimal.Decimal `json:"drawdown_pct"`

	LossLimit           decimal.Decimal `json:"loss_limit"`
	LossUtilization     float64         `json:"loss_utilization"`
	DrawdownLimit       decimal.Decimal `json:"drawdown_limit"`
	DrawdownUtilization float64         `json:"drawdown_utilization"`

	Safe     bool     `json:"safe"`
	Warnings []string `json:"warnings,omitempty"`
}

// GetRiskStatus reports limit utilization for the date. A date with no record
// yet reports zeros and Safe.
func (m *Monitor) GetRiskStatus(ctx context.Context, date time.Time) (*RiskStatus, error) {
	if date.IsZero() {
		date = m.now()
	}
	date = dateOnly(date)
	rec, err := m.Repo.GetDailyPnLByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &models.DailyPnL{Date: date}
	}

	status := &RiskStatus{
		Date:          rec.Date,
		RealizedPnL:   rec.RealizedPnL,
		UnrealizedPnL: rec.UnrealizedPnL,
		Fees:          rec.Fees,
		NetPnL:        rec.NetPnL,
		PeakPnL:       rec.PeakPnL,
		Drawdown:      rec.Drawdown,
		DrawdownPct:   rec.DrawdownPct,
		LossLimit:     decimal.NewFromFloat(m.Config.MaxDailyLossUSD),
		DrawdownLimit: decimal.NewFromFloat(m.Config.MaxDrawdownPct),
		Safe:          true,
	}
	if status.LossLimit.IsPositive() && rec.NetPnL.IsNegative() {
		status.LossUtilization, _ = rec.NetPnL.Neg().Div(status.LossLimit).Float64()
	}
	if status.DrawdownLimit.IsPositive() {
		status.DrawdownUtilization, _ = rec.DrawdownPct.Div(status.DrawdownLimit).Float64()
	}
	if status.LossUtilization >= 1 || status.DrawdownUtilization >= 1 {
		status.Safe = false
	}
	warnAt := m.Config.WarnUtilization
	if warnAt > 0 {
		if status.LossUtilization >= warnAt && status.LossUtilization < 1 {
			status.Warnings = append(status.Warnings, "daily_loss_near_limit")
		}
		if status.DrawdownUtilization >= warnAt && status.DrawdownUtilization < 1 {
			status.Warnings = append(status.Warnings, "drawdown_near_limit")
		}
	}
	return status, nil
}

// History returns the per-day records between the two dates inclusive.
func (m *Monitor) History(ctx context.Context, start, end time.Time) ([]models.DailyPnL, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("range end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return m.Repo.GetDailyPnLRange(ctx, start, end)
}

func (m *Monitor) publish(ctx context.Context, e events.Event) {
	if m.Events != nil {
		m.Events.Publish(ctx, e)
	}
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
