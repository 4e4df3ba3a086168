package killswitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tradegate/internal/events"
	"tradegate/internal/models"
	"tradegate/internal/repository"
)

// Engine is the trip/check/reset surface over kill switch rows. Concurrency
// control lives in the database: the partial unique index on active rows is
// what keeps two simultaneous triggers from creating two switches.
type Engine struct {
	Repo   repository.KillSwitchRepository
	Logger *zap.Logger
	Events events.Publisher

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

type TriggerRequest struct {
	Level       models.KillSwitchLevel
	TargetID    string
	Reason      models.KillSwitchReason
	Description string
	TriggeredBy string
	AutoResetAt *time.Time
	Metadata    map[string]any
}

func (r TriggerRequest) validate() error {
	if !r.Level.Valid() {
		return fmt.Errorf("unknown kill switch level %q", r.Level)
	}
	if r.Level == models.LevelGlobal && r.TargetID != "" {
		return errors.New("global kill switch takes no target id")
	}
	if r.Level != models.LevelGlobal && r.TargetID == "" {
		return fmt.Errorf("%s kill switch requires a target id", r.Level)
	}
	switch r.Reason {
	case models.ReasonManual, models.ReasonLossLimit, models.ReasonErrorRate, models.ReasonAnomaly:
	default:
		return fmt.Errorf("unknown kill switch reason %q", r.Reason)
	}
	if r.TriggeredBy == "" {
		return errors.New("triggered_by is required")
	}
	return nil
}

// Trigger activates the switch for (level, target). A trigger against an
// already tripped key updates that row in place, preserving its id, so
// repeated automatic trips converge onto one record.
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) (*models.KillSwitch, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := e.now()
	item := &models.KillSwitch{
		Level:       req.Level,
		TargetID:    req.TargetID,
		Active:      true,
		Reason:      req.Reason,
		Description: req.Description,
		TriggeredBy: req.TriggeredBy,
		TriggeredAt: now,
		AutoResetAt: req.AutoResetAt,
	}
	if req.Metadata != nil {
		raw, _ := json.Marshal(req.Metadata)
		item.Metadata = datatypes.JSON(raw)
	}

	err := e.Repo.CreateKillSwitch(ctx, item)
	if errors.Is(err, repository.ErrDuplicateKey) {
		existing, ferr := e.Repo.FindActiveRow(ctx, req.Level, req.TargetID)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, fmt.Errorf("kill switch %s/%s: trigger conflicted but no active row found", req.Level, req.TargetID)
		}
		// The row behind the unique index absorbs the new trigger, whether it
		// is live or lapsed; the id is preserved either way.
		existing.Reason = req.Reason
		existing.Description = req.Description
		existing.TriggeredBy = req.TriggeredBy
		existing.TriggeredAt = now
		existing.AutoResetAt = req.AutoResetAt
		existing.ResetBy = nil
		existing.ResetAt = nil
		existing.Metadata = item.Metadata
		if uerr := e.Repo.UpdateKillSwitch(ctx, existing); uerr != nil {
			return nil, uerr
		}
		item = existing
	} else if err != nil {
		return nil, err
	}

	if e.Logger != nil {
		e.Logger.Warn("kill switch triggered",
			zap.String("level", string(item.Level)),
			zap.String("target_id", item.TargetID),
			zap.String("reason", string(item.Reason)),
			zap.String("triggered_by", item.TriggeredBy),
		)
	}
	e.publish(ctx, events.KillSwitchTriggered{Switch: *item, Auto: req.Reason != models.ReasonManual})
	return item, nil
}

// CheckContext carries the identifiers of one prospective trade.
type CheckContext struct {
	AccountID  string
	StrategyID string
	MarketID   string
}

// Check returns the highest-priority switch blocking the trade, or nil when
// nothing blocks it. A GLOBAL trip always wins over narrower trips.
func (e *Engine) Check(ctx context.Context, cc CheckContext) (*models.KillSwitch, error) {
	now := e.now()
	probes := []struct {
		level  models.KillSwitchLevel
		target string
	}{
		{models.LevelGlobal, ""},
		{models.LevelAccount, cc.AccountID},
		{models.LevelStrategy, cc.StrategyID},
		{models.LevelMarket, cc.MarketID},
	}
	for _, p := range probes {
		if p.level != models.LevelGlobal && p.target == "" {
			continue
		}
		item, err := e.Repo.GetActiveKillSwitch(ctx, p.level, p.target, now)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}
	return nil, nil
}

// Reset deactivates one switch by id.
func (e *Engine) Reset(ctx context.Context, id uint64, resetBy string) (*models.KillSwitch, error) {
	if resetBy == "" {
		return nil, errors.New("reset_by is required")
	}
	item, err := e.Repo.GetKillSwitchByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("kill switch %d not found", id)
	}
	if !item.Active {
		return nil, fmt.Errorf("kill switch %d is not active", id)
	}
	now := e.now()
	item.Active = false
	item.ResetBy = &resetBy
	item.ResetAt = &now
	if err := e.Repo.UpdateKillSwitch(ctx, item); err != nil {
		return nil, err
	}
	if e.Logger != nil {
		e.Logger.Info("kill switch reset",
			zap.Uint64("id", item.ID),
			zap.String("level", string(item.Level)),
			zap.String("reset_by", resetBy),
		)
	}
	e.publish(ctx, events.KillSwitchReset{Switch: *item, ResetBy: resetBy})
	return item, nil
}

// ResetLevel deactivates every active switch at the level and returns the
// count reset.
func (e *Engine) ResetLevel(ctx context.Context, level models.KillSwitchLevel, resetBy string) (int, error) {
	if !level.Valid() {
		return 0, fmt.Errorf("unknown kill switch level %q", level)
	}
	items, err := e.Repo.GetActiveKillSwitchesByLevel(ctx, level, e.now())
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range items {
		if _, rerr := e.Reset(ctx, items[i].ID, resetBy); rerr != nil {
			return count, rerr
		}
		count++
	}
	return count, nil
}

// ListActive returns every switch currently in effect.
func (e *Engine) ListActive(ctx context.Context) ([]models.KillSwitch, error) {
	return e.Repo.GetActiveKillSwitches(ctx, e.now())
}

// SweepExpired retires rows whose auto-reset time lapsed. Expiry already
// excludes them from reads; the sweep just keeps the table honest.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	n, err := e.Repo.DeactivateExpiredKillSwitches(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 && e.Logger != nil {
		e.Logger.Info("expired kill switches deactivated", zap.Int64("count", n))
	}
	return n, nil
}

// SetConfig upserts the automatic thresholds for one (level, target) key.
func (e *Engine) SetConfig(ctx context.Context, cfg *models.KillSwitchConfig) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if !cfg.Level.Valid() {
		return fmt.Errorf("unknown kill switch level %q", cfg.Level)
	}
	if cfg.Level != models.LevelGlobal && cfg.TargetID == "" {
		return fmt.Errorf("%s config requires a target id", cfg.Level)
	}
	return e.Repo.UpsertKillSwitchConfig(ctx, cfg)
}

// ThresholdMetrics is one measurement snapshot. DailyLoss is a positive USD
// loss figure, DrawdownPct a 0-1 fraction of peak, ErrorRate a 0-1 fraction,
// LatencyMs a gateway round-trip.
type ThresholdMetrics struct {
	DailyLoss   decimal.Decimal
	DrawdownPct decimal.Decimal
	ErrorRate   float64
	LatencyMs   int64
}

// CheckThresholds compares the snapshot against the configured limits for
// (level, target) and trips the switch on the first breach. A zero limit
// disables that check. Returns the tripped switch, or nil when nothing fired.
func (e *Engine) CheckThresholds(ctx context.Context, level models.KillSwitchLevel, targetID string, m ThresholdMetrics) (*models.KillSwitch, error) {
	cfg, err := e.Repo.GetKillSwitchConfig(ctx, level, targetID)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Active {
		return nil, nil
	}

	var (
		reason models.KillSwitchReason
		desc   string
	)
	switch {
	case cfg.MaxDailyLoss.IsPositive() && m.DailyLoss.GreaterThanOrEqual(cfg.MaxDailyLoss):
		reason = models.ReasonLossLimit
		desc = fmt.Sprintf("daily loss %s reached limit %s", m.DailyLoss, cfg.MaxDailyLoss)
	case cfg.MaxDrawdownPct.IsPositive() && m.DrawdownPct.GreaterThanOrEqual(cfg.MaxDrawdownPct):
		reason = models.ReasonLossLimit
		desc = fmt.Sprintf("drawdown %s reached limit %s", m.DrawdownPct, cfg.MaxDrawdownPct)
	case cfg.MaxErrorRate > 0 && m.ErrorRate >= cfg.MaxErrorRate:
		reason = models.ReasonErrorRate
		desc = fmt.Sprintf("error rate %.4f reached limit %.4f", m.ErrorRate, cfg.MaxErrorRate)
	case cfg.MaxLatencyMs > 0 && m.LatencyMs >= cfg.MaxLatencyMs:
		reason = models.ReasonAnomaly
		desc = fmt.Sprintf("gateway latency %dms reached limit %dms", m.LatencyMs, cfg.MaxLatencyMs)
	default:
		return nil, nil
	}

	return e.Trigger(ctx, TriggerRequest{
		Level:       level,
		TargetID:    targetID,
		Reason:      reason,
		Description: desc,
		TriggeredBy: "threshold-monitor",
		Metadata: map[string]any{
			"daily_loss":   m.DailyLoss.String(),
			"drawdown_pct": m.DrawdownPct.String(),
			"error_rate":   m.ErrorRate,
			"latency_ms":   m.LatencyMs,
		},
	})
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.Events != nil {
		e.Events.Publish(ctx, ev)
	}
}
