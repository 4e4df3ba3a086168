package killswitch

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/models"
	"tradegate/internal/repository"
)

type stubSwitchRepo struct {
	nextID   uint64
	switches map[uint64]models.KillSwitch
	configs  map[string]models.KillSwitchConfig
}

func newStubSwitchRepo() *stubSwitchRepo {
	return &stubSwitchRepo{
		nextID:   1,
		switches: make(map[uint64]models.KillSwitch),
		configs:  make(map[string]models.KillSwitchConfig),
	}
}

func cfgKey(level models.KillSwitchLevel, targetID string) string {
	return string(level) + "/" + targetID
}

func (r *stubSwitchRepo) CreateKillSwitch(_ context.Context, item *models.KillSwitch) error {
	for _, s := range r.switches {
		if s.Active && s.Level == item.Level && s.TargetID == item.TargetID {
			return repository.ErrDuplicateKey
		}
	}
	item.ID = r.nextID
	r.nextID++
	r.switches[item.ID] = *item
	return nil
}

func (r *stubSwitchRepo) UpdateKillSwitch(_ context.Context, item *models.KillSwitch) error {
	r.switches[item.ID] = *item
	return nil
}

func (r *stubSwitchRepo) GetKillSwitchByID(_ context.Context, id uint64) (*models.KillSwitch, error) {
	s, ok := r.switches[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *stubSwitchRepo) GetActiveKillSwitches(_ context.Context, now time.Time) ([]models.KillSwitch, error) {
	var out []models.KillSwitch
	for _, s := range r.switches {
		if s.Active && !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *stubSwitchRepo) GetActiveKillSwitch(_ context.Context, level models.KillSwitchLevel, targetID string, now time.Time) (*models.KillSwitch, error) {
	for _, s := range r.switches {
		if s.Active && !s.Expired(now) && s.Level == level && s.TargetID == targetID {
			return &s, nil
		}
	}
	return nil, nil
}

func (r *stubSwitchRepo) GetActiveKillSwitchesByLevel(_ context.Context, level models.KillSwitchLevel, now time.Time) ([]models.KillSwitch, error) {
	var out []models.KillSwitch
	for _, s := range r.switches {
		if s.Active && !s.Expired(now) && s.Level == level {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *stubSwitchRepo) FindActiveRow(_ context.Context, level models.KillSwitchLevel, targetID string) (*models.KillSwitch, error) {
	for _, s := range r.switches {
		if s.Active && s.Level == level && s.TargetID == targetID {
			return &s, nil
		}
	}
	return nil, nil
}

func (r *stubSwitchRepo) DeactivateExpiredKillSwitches(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, s := range r.switches {
		if s.Active && s.Expired(now) {
			s.Active = false
			s.ResetAt = &now
			r.switches[id] = s
			n++
		}
	}
	return n, nil
}

func (r *stubSwitchRepo) GetKillSwitchConfig(_ context.Context, level models.KillSwitchLevel, targetID string) (*models.KillSwitchConfig, error) {
	c, ok := r.configs[cfgKey(level, targetID)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *stubSwitchRepo) UpsertKillSwitchConfig(_ context.Context, item *models.KillSwitchConfig) error {
	r.configs[cfgKey(item.Level, item.TargetID)] = *item
	return nil
}

func newTestEngine(now time.Time) (*Engine, *stubSwitchRepo) {
	repo := newStubSwitchRepo()
	return &Engine{Repo: repo, Clock: func() time.Time { return now }}, repo
}

func TestTriggerValidation(t *testing.T) {
	e, _ := newTestEngine(time.Now().UTC())
	ctx := context.Background()

	_, err := e.Trigger(ctx, TriggerRequest{Level: models.LevelGlobal, TargetID: "acct-1", Reason: models.ReasonManual, TriggeredBy: "ops"})
	if err == nil {
		t.Fatal("global trigger with target id should fail")
	}
	_, err = e.Trigger(ctx, TriggerRequest{Level: models.LevelMarket, Reason: models.ReasonManual, TriggeredBy: "ops"})
	if err == nil {
		t.Fatal("market trigger without target id should fail")
	}
	_, err = e.Trigger(ctx, TriggerRequest{Level: "REGION", TargetID: "x", Reason: models.ReasonManual, TriggeredBy: "ops"})
	if err == nil {
		t.Fatal("unknown level should fail")
	}
}

func TestTriggerConvergesOnActiveRow(t *testing.T) {
	now := time.Now().UTC()
	e, repo := newTestEngine(now)
	ctx := context.Background()

	first, err := e.Trigger(ctx, TriggerRequest{
		Level: models.LevelMarket, TargetID: "FED-25DEC", Reason: models.ReasonManual,
		Description: "first", TriggeredBy: "ops",
	})
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	second, err := e.Trigger(ctx, TriggerRequest{
		Level: models.LevelMarket, TargetID: "FED-25DEC", Reason: models.ReasonManual,
		Description: "second", TriggeredBy: "ops",
	})
	if err != nil {
		t.Fatalf("repeat trigger: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeat trigger made row %d, want %d", second.ID, first.ID)
	}
	if second.Description != "second" {
		t.Fatalf("repeat trigger kept description %q, want in-place update", second.Description)
	}
	if len(repo.switches) != 1 {
		t.Fatalf("got %d rows, want 1", len(repo.switches))
	}
}

func TestTriggerReArmsExpiredRow(t *testing.T) {
	now := time.Now().UTC()
	e, _ := newTestEngine(now)
	ctx := context.Background()

	past := now.Add(-time.Minute)
	first, err := e.Trigger(ctx, TriggerRequest{
		Level: models.LevelGlobal, Reason: models.ReasonAnomaly,
		TriggeredBy: "monitor", AutoResetAt: &past,
	})
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	// Lapsed, so it must not block anything.
	blocking, err := e.Check(ctx, CheckContext{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if blocking != nil {
		t.Fatalf("expired switch should not block, got %d", blocking.ID)
	}

	second, err := e.Trigger(ctx, TriggerRequest{
		Level: models.LevelGlobal, Reason: models.ReasonManual, TriggeredBy: "ops",
	})
	if err != nil {
		t.Fatalf("re-trigger: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-arm made row %d, want reuse of %d", second.ID, first.ID)
	}
	if second.Reason != models.ReasonManual || second.AutoResetAt != nil {
		t.Fatalf("re-armed row not refreshed: reason=%s autoReset=%v", second.Reason, second.AutoResetAt)
	}
	blocking, _ = e.Check(ctx, CheckContext{})
	if blocking == nil {
		t.Fatal("re-armed switch should block")
	}
}

func TestCheckPriority(t *testing.T) {
	now := time.Now().UTC()
	e, _ := newTestEngine(now)
	ctx := context.Background()

	if _, err := e.Trigger(ctx, TriggerRequest{Level: models.LevelMarket, TargetID: "M1", Reason: models.ReasonManual, TriggeredBy: "ops"}); err != nil {
		t.Fatalf("market trigger: %v", err)
	}
	if _, err := e.Trigger(ctx, TriggerRequest{Level: models.LevelGlobal, Reason: models.ReasonLossLimit, TriggeredBy: "monitor"}); err != nil {
		t.Fatalf("global trigger: %v", err)
	}

	blocking, err := e.Check(ctx, CheckContext{MarketID: "M1"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if blocking == nil || blocking.Level != models.LevelGlobal {
		t.Fatalf("blocking switch = %+v, want GLOBAL", blocking)
	}

	// An unrelated market is still blocked by GLOBAL.
	blocking, _ = e.Check(ctx, CheckContext{MarketID: "M2"})
	if blocking == nil || blocking.Level != models.LevelGlobal {
		t.Fatalf("blocking switch = %+v, want GLOBAL", blocking)
	}
}

func TestCheckScopedToTarget(t *testing.T) {
	now := time.Now().UTC()
	e, _ := newTestEngine(now)
	ctx := context.Background()

	if _, err := e.Trigger(ctx, TriggerRequest{Level: models.LevelStrategy, TargetID: "arb", Reason: models.ReasonManual, TriggeredBy: "ops"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	blocking, _ := e.Check(ctx, CheckContext{StrategyID: "arb", MarketID: "M1"})
	if blocking == nil || blocking.Level != models.LevelStrategy {
		t.Fatalf("blocking switch = %+v, want STRATEGY", blocking)
	}
	blocking, _ = e.Check(ctx, CheckContext{StrategyID: "momentum", MarketID: "M1"})
	if blocking != nil {
		t.Fatalf("other strategy should not be blocked, got %+v", blocking)
	}
}

func TestResetAndResetLevel(t *testing.T) {
	now := time.Now().UTC()
	e, _ := newTestEngine(now)
	ctx := context.Background()

	s1, _ := e.Trigger(ctx, TriggerRequest{Level: models.LevelMarket, TargetID: "M1", Reason: models.ReasonManual, TriggeredBy: "ops"})
	if _, err := e.Trigger(ctx, TriggerRequest{Level: models.LevelMarket, TargetID: "M2", Reason: models.ReasonManual, TriggeredBy: "ops"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	reset, err := e.Reset(ctx, s1.ID, "ops")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.Active || reset.ResetBy == nil || *reset.ResetBy != "ops" {
		t.Fatalf("reset row = %+v", reset)
	}
	if _, err := e.Reset(ctx, s1.ID, "ops"); err == nil {
		t.Fatal("double reset should fail")
	}

	n, err := e.ResetLevel(ctx, models.LevelMarket, "ops")
	if err != nil {
		t.Fatalf("reset level: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset level count = %d, want 1", n)
	}
	if blocking, _ := e.Check(ctx, CheckContext{MarketID: "M2"}); blocking != nil {
		t.Fatalf("M2 should be unblocked, got %+v", blocking)
	}
}

func TestCheckThresholds(t *testing.T) {
	now := time.Now().UTC()
	e, _ := newTestEngine(now)
	ctx := context.Background()

	err := e.SetConfig(ctx, &models.KillSwitchConfig{
		Level:          models.LevelGlobal,
		MaxDailyLoss:   decimal.NewFromInt(500),
		MaxDrawdownPct: decimal.NewFromFloat(0.5),
		MaxErrorRate:   0.25,
		MaxLatencyMs:   2000,
		Active:         true,
	})
	if err != nil {
		t.Fatalf("set config: %v", err)
	}

	// Under every limit: nothing fires.
	tripped, err := e.CheckThresholds(ctx, models.LevelGlobal, "", ThresholdMetrics{
		DailyLoss: decimal.NewFromInt(100), DrawdownPct: decimal.NewFromFloat(0.1),
		ErrorRate: 0.01, LatencyMs: 300,
	})
	if err != nil {
		t.Fatalf("check thresholds: %v", err)
	}
	if tripped != nil {
		t.Fatalf("nothing should trip, got %+v", tripped)
	}

	// Daily loss breach wins and maps to LOSS_LIMIT.
	tripped, err = e.CheckThresholds(ctx, models.LevelGlobal, "", ThresholdMetrics{
		DailyLoss: decimal.NewFromInt(500), ErrorRate: 0.9,
	})
	if err != nil {
		t.Fatalf("check thresholds: %v", err)
	}
	if tripped == nil || tripped.Reason != models.ReasonLossLimit {
		t.Fatalf("tripped = %+v, want LOSS_LIMIT", tripped)
	}
	if _, err := e.Reset(ctx, tripped.ID, "ops"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// Error rate breach maps to ERROR_RATE.
	tripped, _ = e.CheckThresholds(ctx, models.LevelGlobal, "", ThresholdMetrics{ErrorRate: 0.3})
	if tripped == nil || tripped.Reason != models.ReasonErrorRate {
		t.Fatalf("tripped = %+v, want ERROR_RATE", tripped)
	}
	if _, err := e.Reset(ctx, tripped.ID, "ops"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// Latency breach maps to ANOMALY.
	tripped, _ = e.CheckThresholds(ctx, models.LevelGlobal, "", ThresholdMetrics{LatencyMs: 5000})
	if tripped == nil || tripped.Reason != models.ReasonAnomaly {
		t.Fatalf("tripped = %+v, want ANOMALY", tripped)
	}
}

func TestCheckThresholdsInactiveConfig(t *testing.T) {
	now := time.Now().UTC()
	e, _ := newTestEngine(now)
	ctx := context.Background()

	if err := e.SetConfig(ctx, &models.KillSwitchConfig{
		Level:        models.LevelGlobal,
		MaxDailyLoss: decimal.NewFromInt(500),
		Active:       false,
	}); err != nil {
		t.Fatalf("set config: %v", err)
	}
	tripped, err := e.CheckThresholds(ctx, models.LevelGlobal, "", ThresholdMetrics{
		DailyLoss: decimal.NewFromInt(9999),
	})
	if err != nil {
		t.Fatalf("check thresholds: %v", err)
	}
	if tripped != nil {
		t.Fatal("inactive config must never trip")
	}

	// No config at all behaves the same.
	tripped, _ = e.CheckThresholds(ctx, models.LevelMarket, "M1", ThresholdMetrics{
		DailyLoss: decimal.NewFromInt(9999),
	})
	if tripped != nil {
		t.Fatal("missing config must never trip")
	}
}

func TestSweepExpired(t *testing.T) {
	now := time.Now().UTC()
	e, repo := newTestEngine(now)
	ctx := context.Background()

	past := now.Add(-time.Hour)
	if _, err := e.Trigger(ctx, TriggerRequest{
		Level: models.LevelMarket, TargetID: "M1", Reason: models.ReasonAnomaly,
		TriggeredBy: "monitor", AutoResetAt: &past,
	}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	n, err := e.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	for _, s := range repo.switches {
		if s.Active {
			t.Fatalf("row %d should be inactive after sweep", s.ID)
		}
	}
}
