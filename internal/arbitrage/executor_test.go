package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/config"
	"tradegate/internal/gateway"
	"tradegate/internal/killswitch"
	"tradegate/internal/models"
	"tradegate/internal/orders"
	"tradegate/internal/repository"
	"tradegate/internal/risk"
)

type stubOppRepo struct {
	nextID uint64
	rows   map[uint64]models.ArbitrageOpportunity
}

func newStubOppRepo() *stubOppRepo {
	return &stubOppRepo{nextID: 1, rows: make(map[uint64]models.ArbitrageOpportunity)}
}

func (r *stubOppRepo) add(opp models.ArbitrageOpportunity) uint64 {
	opp.ID = r.nextID
	r.nextID++
	r.rows[opp.ID] = opp
	return opp.ID
}

func (r *stubOppRepo) UpsertActiveOpportunity(_ context.Context, item *models.ArbitrageOpportunity) error {
	for id, row := range r.rows {
		if row.MarketTicker == item.MarketTicker && row.Status == models.OpportunityActive {
			item.ID = id
			item.DetectedAt = row.DetectedAt
			r.rows[id] = *item
			return nil
		}
	}
	item.ID = r.nextID
	r.nextID++
	r.rows[item.ID] = *item
	return nil
}

func (r *stubOppRepo) GetOpportunityByID(_ context.Context, id uint64) (*models.ArbitrageOpportunity, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (r *stubOppRepo) GetActiveOpportunityByTicker(_ context.Context, ticker string) (*models.ArbitrageOpportunity, error) {
	for _, row := range r.rows {
		if row.MarketTicker == ticker && row.Status == models.OpportunityActive {
			return &row, nil
		}
	}
	return nil, nil
}

func (r *stubOppRepo) SettleOpportunity(_ context.Context, item *models.ArbitrageOpportunity) (bool, error) {
	row, ok := r.rows[item.ID]
	if !ok || row.Status != models.OpportunityActive {
		return false, nil
	}
	r.rows[item.ID] = *item
	return true, nil
}

func (r *stubOppRepo) ListOpportunities(_ context.Context, _ repository.ListOpportunitiesParams) ([]models.ArbitrageOpportunity, error) {
	var out []models.ArbitrageOpportunity
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out, nil
}

func (r *stubOppRepo) CountOpportunities(_ context.Context, _ repository.ListOpportunitiesParams) (int64, error) {
	return int64(len(r.rows)), nil
}

func (r *stubOppRepo) ExpireStaleOpportunities(_ context.Context, lastSeenBefore time.Time) (int64, error) {
	var n int64
	for id, row := range r.rows {
		if row.Status == models.OpportunityActive && row.LastSeenAt.Before(lastSeenBefore) {
			row.Status = models.OpportunityExpired
			r.rows[id] = row
			n++
		}
	}
	return n, nil
}

// fakeOrderEngine fails legs by side and records cancels.
type fakeOrderEngine struct {
	nextID    uint64
	orders    map[uint64]models.Order
	failSides map[models.OrderSide]error
	cancelErr error
	canceled  []uint64
	onSubmit  func()
}

func newFakeOrderEngine() *fakeOrderEngine {
	return &fakeOrderEngine{
		nextID:    1,
		orders:    make(map[uint64]models.Order),
		failSides: make(map[models.OrderSide]error),
	}
}

func (f *fakeOrderEngine) CreateOrder(_ context.Context, p orders.CreateOrderParams) (*models.Order, error) {
	o := models.Order{
		ID:           f.nextID,
		MarketTicker: p.MarketTicker,
		Action:       p.Action,
		Side:         p.Side,
		Type:         p.Type,
		Contracts:    p.Contracts,
		LimitPrice:   p.LimitPrice,
		State:        models.StateDraft,
	}
	f.nextID++
	f.orders[o.ID] = o
	return &o, nil
}

func (f *fakeOrderEngine) SubmitOrder(_ context.Context, id uint64) (*models.Order, error) {
	if f.onSubmit != nil {
		f.onSubmit()
	}
	o := f.orders[id]
	if err := f.failSides[o.Side]; err != nil {
		o.State = models.StateRejected
		f.orders[id] = o
		return &o, err
	}
	o.State = models.StateAccepted
	f.orders[id] = o
	return &o, nil
}

func (f *fakeOrderEngine) CancelOrder(_ context.Context, id uint64, _ string) (*models.Order, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	o := f.orders[id]
	o.State = models.StateCanceled
	f.orders[id] = o
	f.canceled = append(f.canceled, id)
	return &o, nil
}

type fakeGate struct {
	blocking *models.KillSwitch
}

func (g *fakeGate) Check(_ context.Context, _ killswitch.CheckContext) (*models.KillSwitch, error) {
	return g.blocking, nil
}

type fakeRisk struct {
	updates []risk.PnLUpdate
}

func (r *fakeRisk) RecordUpdate(_ context.Context, u risk.PnLUpdate) (*models.DailyPnL, error) {
	r.updates = append(r.updates, u)
	return &models.DailyPnL{}, nil
}

func activeOpportunity() models.ArbitrageOpportunity {
	return models.ArbitrageOpportunity{
		MarketTicker: "FED-25DEC-T4.75",
		YesAsk:       45,
		NoAsk:        45,
		BuyBothCost:  90,
		Payout:       models.GuaranteedPayout,
		ProfitCents:  10,
		ProfitPct:    10.0 / 90.0,
		Status:       models.OpportunityActive,
		DetectedAt:   time.Now().UTC(),
		LastSeenAt:   time.Now().UTC(),
	}
}

func newTestExecutor() (*Executor, *stubOppRepo, *fakeOrderEngine, *fakeGate, *fakeRisk) {
	repo := newStubOppRepo()
	engine := newFakeOrderEngine()
	gate := &fakeGate{}
	riskRec := &fakeRisk{}
	x := &Executor{
		Repo:      repo,
		Orders:    engine,
		Gate:      gate,
		Risk:      riskRec,
		Config:    config.ArbitrageConfig{ContractsPerTrade: 10},
		AccountID: "primary",
	}
	return x, repo, engine, gate, riskRec
}

func TestExecuteOpportunitySuccess(t *testing.T) {
	x, repo, engine, _, riskRec := newTestExecutor()
	ctx := context.Background()
	id := repo.add(activeOpportunity())

	opp, err := x.ExecuteOpportunity(ctx, id)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if opp.Status != models.OpportunityExecuted {
		t.Fatalf("status = %s, want EXECUTED", opp.Status)
	}
	if opp.YesOrderID == nil || opp.NoOrderID == nil {
		t.Fatal("both leg order ids must be recorded")
	}
	if opp.ExecutedAt == nil {
		t.Fatal("executed_at must be set")
	}
	// 10 cents * 10 contracts = $1.00
	if opp.RealizedProfit == nil || !opp.RealizedProfit.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("realized profit = %v, want 1", opp.RealizedProfit)
	}

	yes := engine.orders[*opp.YesOrderID]
	no := engine.orders[*opp.NoOrderID]
	if yes.Side != models.SideYes || no.Side != models.SideNo {
		t.Fatalf("leg sides = %s/%s", yes.Side, no.Side)
	}
	if *yes.LimitPrice != 45 || *no.LimitPrice != 45 {
		t.Fatalf("leg prices = %d/%d, want ask prices", *yes.LimitPrice, *no.LimitPrice)
	}
	if yes.Action != models.ActionBuy || no.Action != models.ActionBuy {
		t.Fatal("both legs must be buys")
	}

	if len(riskRec.updates) != 1 {
		t.Fatalf("risk updates = %d, want 1", len(riskRec.updates))
	}
	if riskRec.updates[0].Kind != risk.UpdatePositionClose || !riskRec.updates[0].IsWin {
		t.Fatalf("risk update = %+v, want winning position close", riskRec.updates[0])
	}
}

func TestExecuteOpportunityBlockedStaysActive(t *testing.T) {
	x, repo, engine, gate, _ := newTestExecutor()
	ctx := context.Background()
	id := repo.add(activeOpportunity())
	gate.blocking = &models.KillSwitch{ID: 7, Level: models.LevelGlobal, Reason: models.ReasonLossLimit, Active: true}

	_, err := x.ExecuteOpportunity(ctx, id)
	if err == nil {
		t.Fatal("blocked execution must return an error")
	}
	stored, _ := repo.GetOpportunityByID(ctx, id)
	if stored.Status != models.OpportunityActive {
		t.Fatalf("status = %s, want ACTIVE (blocked, not missed)", stored.Status)
	}
	if len(engine.orders) != 0 {
		t.Fatal("no orders may be placed while blocked")
	}
}

func TestExecuteOpportunityYesLegFailure(t *testing.T) {
	x, repo, engine, _, _ := newTestExecutor()
	ctx := context.Background()
	id := repo.add(activeOpportunity())
	engine.failSides[models.SideYes] = errors.New("insufficient balance")

	_, err := x.ExecuteOpportunity(ctx, id)
	if err == nil {
		t.Fatal("failed yes leg must return an error")
	}
	stored, _ := repo.GetOpportunityByID(ctx, id)
	if stored.Status != models.OpportunityMissed {
		t.Fatalf("status = %s, want MISSED", stored.Status)
	}
	if len(engine.canceled) != 0 {
		t.Fatal("nothing to compensate when the first leg fails")
	}
}

func TestExecuteOpportunityNoLegFailureCompensates(t *testing.T) {
	x, repo, engine, _, riskRec := newTestExecutor()
	ctx := context.Background()
	id := repo.add(activeOpportunity())
	engine.failSides[models.SideNo] = errors.New("venue rejected")

	_, err := x.ExecuteOpportunity(ctx, id)
	if err == nil {
		t.Fatal("failed no leg must return an error")
	}
	stored, _ := repo.GetOpportunityByID(ctx, id)
	if stored.Status != models.OpportunityMissed {
		t.Fatalf("status = %s, want MISSED", stored.Status)
	}
	if len(engine.canceled) != 1 {
		t.Fatalf("yes leg cancels = %d, want 1", len(engine.canceled))
	}
	if len(riskRec.updates) != 0 {
		t.Fatal("a missed opportunity must not record profit")
	}
}

func TestExecuteOpportunityDoubleFailureIsCritical(t *testing.T) {
	x, repo, engine, _, _ := newTestExecutor()
	ctx := context.Background()
	id := repo.add(activeOpportunity())
	engine.failSides[models.SideNo] = errors.New("venue rejected")
	engine.cancelErr = errors.New("exchange unavailable")

	_, err := x.ExecuteOpportunity(ctx, id)
	var crit *CriticalError
	if !errors.As(err, &crit) {
		t.Fatalf("want CriticalError, got %v", err)
	}
	if crit.OpportunityID != id {
		t.Fatalf("critical opportunity id = %d, want %d", crit.OpportunityID, id)
	}
	if crit.StuckOrderID == 0 {
		t.Fatal("critical error must name the stuck order")
	}
	if !strings.Contains(crit.Error(), fmt.Sprintf("order %d", crit.StuckOrderID)) {
		t.Fatalf("message should name the stuck order: %s", crit.Error())
	}
	stored, _ := repo.GetOpportunityByID(ctx, id)
	if stored.Status != models.OpportunityMissed {
		t.Fatalf("status = %s, want MISSED", stored.Status)
	}
}

func TestExecuteOpportunityLoserDoesNotClobberWinner(t *testing.T) {
	x, repo, engine, _, _ := newTestExecutor()
	ctx := context.Background()
	id := repo.add(activeOpportunity())

	// A second executor settles the row between this one's status check and
	// its order placement.
	engine.failSides[models.SideYes] = errors.New("order already accepted")
	engine.onSubmit = func() {
		row := repo.rows[id]
		row.Status = models.OpportunityExecuted
		repo.rows[id] = row
	}

	_, err := x.ExecuteOpportunity(ctx, id)
	if err == nil {
		t.Fatal("losing executor must return an error")
	}
	stored, _ := repo.GetOpportunityByID(ctx, id)
	if stored.Status != models.OpportunityExecuted {
		t.Fatalf("status = %s, want EXECUTED preserved", stored.Status)
	}
}

func TestExecuteOpportunityWrongStatus(t *testing.T) {
	x, repo, _, _, _ := newTestExecutor()
	ctx := context.Background()

	opp := activeOpportunity()
	opp.Status = models.OpportunityExpired
	id := repo.add(opp)

	_, err := x.ExecuteOpportunity(ctx, id)
	if err == nil {
		t.Fatal("expired opportunity must not execute")
	}
	if !strings.Contains(err.Error(), "EXPIRED") {
		t.Fatalf("error should name the status: %v", err)
	}
}

type fakeMarkets struct {
	pages [][]gateway.MarketQuote
	calls int
}

func (m *fakeMarkets) ListOpenMarkets(_ context.Context, cursor string, _ int) ([]gateway.MarketQuote, string, error) {
	if m.calls >= len(m.pages) {
		return nil, "", nil
	}
	page := m.pages[m.calls]
	m.calls++
	next := ""
	if m.calls < len(m.pages) {
		next = fmt.Sprintf("page-%d", m.calls)
	}
	return page, next, nil
}

func TestScanForOpportunities(t *testing.T) {
	repo := newStubOppRepo()
	markets := &fakeMarkets{pages: [][]gateway.MarketQuote{
		{
			{Ticker: "CHEAP", Title: "Crossed", YesAsk: 45, NoAsk: 45},
			{Ticker: "FAIR", Title: "Fair", YesAsk: 52, NoAsk: 52},
		},
	}}
	s := &Scanner{
		Repo:    repo,
		Markets: markets,
		Config:  config.ArbitrageConfig{MinProfitCents: 2, PageLimit: 100, MaxPages: 3},
	}

	result, err := s.ScanForOpportunities(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.MarketsScanned != 2 {
		t.Fatalf("markets scanned = %d, want 2", result.MarketsScanned)
	}
	if result.OpportunitiesFound != 1 {
		t.Fatalf("opportunities found = %d, want 1", result.OpportunitiesFound)
	}
	hit := result.Opportunities[0]
	if hit.MarketTicker != "CHEAP" || hit.ProfitCents != 10 {
		t.Fatalf("hit = %+v", hit)
	}
	stored, _ := repo.GetActiveOpportunityByTicker(context.Background(), "CHEAP")
	if stored == nil || stored.Status != models.OpportunityActive {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestScanRefreshesExistingRow(t *testing.T) {
	repo := newStubOppRepo()
	markets := &fakeMarkets{pages: [][]gateway.MarketQuote{
		{{Ticker: "CHEAP", YesAsk: 45, NoAsk: 45}},
	}}
	s := &Scanner{
		Repo:    repo,
		Markets: markets,
		Config:  config.ArbitrageConfig{MinProfitCents: 2},
	}
	if _, err := s.ScanForOpportunities(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	// Second scan with a tighter quote updates the same row.
	markets.calls = 0
	markets.pages = [][]gateway.MarketQuote{
		{{Ticker: "CHEAP", YesAsk: 47, NoAsk: 47}},
	}
	if _, err := s.ScanForOpportunities(context.Background()); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("rows = %d, want 1 (refresh in place)", len(repo.rows))
	}
	stored, _ := repo.GetActiveOpportunityByTicker(context.Background(), "CHEAP")
	if stored.ProfitCents != 6 {
		t.Fatalf("profit after refresh = %d, want 6", stored.ProfitCents)
	}
}

func TestScanSortsByProfit(t *testing.T) {
	repo := newStubOppRepo()
	markets := &fakeMarkets{pages: [][]gateway.MarketQuote{
		{
			{Ticker: "SMALL", YesAsk: 48, NoAsk: 49},
			{Ticker: "BIG", YesAsk: 44, NoAsk: 44},
		},
	}}
	s := &Scanner{Repo: repo, Markets: markets, Config: config.ArbitrageConfig{MinProfitCents: 1}}

	result, err := s.ScanForOpportunities(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(result.Opportunities) != 2 {
		t.Fatalf("found = %d, want 2", len(result.Opportunities))
	}
	if result.Opportunities[0].MarketTicker != "BIG" {
		t.Fatalf("best first, got %s", result.Opportunities[0].MarketTicker)
	}
}
