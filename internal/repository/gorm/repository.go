package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradegate/internal/models"
	"tradegate/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicateKey
	}
	return err
}

// --- Orders ------------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, order *models.Order, tr *models.StateTransition) error {
	if s == nil || s.db == nil || order == nil {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if tr == nil {
			return nil
		}
		tr.OrderID = order.ID
		return tx.Create(tr).Error
	})
	return translateErr(err)
}

func (s *Store) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	if s == nil || s.db == nil || strings.TrimSpace(key) == "" {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).First(&item, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateOrderWithTransition(ctx context.Context, order *models.Order, tr *models.StateTransition) error {
	if s == nil || s.db == nil || order == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(order).Error; err != nil {
			return err
		}
		if tr == nil {
			return nil
		}
		tr.OrderID = order.ID
		return tx.Create(tr).Error
	})
}

func (s *Store) ApplyFill(ctx context.Context, order *models.Order, fill *models.Fill, tr *models.StateTransition) error {
	if s == nil || s.db == nil || order == nil || fill == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(order).Error; err != nil {
			return err
		}
		fill.OrderID = order.ID
		if err := tx.Create(fill).Error; err != nil {
			return err
		}
		if tr == nil {
			return nil
		}
		tr.OrderID = order.ID
		return tx.Create(tr).Error
	})
}

func (s *Store) ListFillsByOrderID(ctx context.Context, orderID uint64) ([]models.Fill, error) {
	if s == nil || s.db == nil || orderID == 0 {
		return nil, nil
	}
	var items []models.Fill
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("filled_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTransitionsByOrderID(ctx context.Context, orderID uint64) ([]models.StateTransition, error) {
	if s == nil || s.db == nil || orderID == 0 {
		return nil, nil
	}
	var items []models.StateTransition
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) FindActiveNonTerminal(ctx context.Context) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	terminal := []models.OrderState{
		models.StateFilled, models.StateCanceled, models.StateRejected, models.StateExpired,
	}
	var items []models.Order
	err := s.db.WithContext(ctx).
		Where("state NOT IN ?", terminal).
		Where("exchange_order_id IS NOT NULL").
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.orderQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Order
	if err := query.Limit(normalizeLimit(params.Limit, 50)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.orderQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) orderQuery(ctx context.Context, params repository.ListOrdersParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if params.State != nil && *params.State != "" {
		query = query.Where("state = ?", *params.State)
	}
	if params.MarketTicker != nil && strings.TrimSpace(*params.MarketTicker) != "" {
		query = query.Where("market_ticker = ?", strings.TrimSpace(*params.MarketTicker))
	}
	return query
}

// --- Kill switches -----------------------------------------------------------

func (s *Store) CreateKillSwitch(ctx context.Context, item *models.KillSwitch) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translateErr(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) UpdateKillSwitch(ctx context.Context, item *models.KillSwitch) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetKillSwitchByID(ctx context.Context, id uint64) (*models.KillSwitch, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.KillSwitch
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// activeSwitches excludes rows whose auto-reset time has lapsed; expiry is a
// read-time predicate, not a background job.
func (s *Store) activeSwitches(ctx context.Context, now time.Time) *gorm.DB {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.KillSwitch{}).
		Where("active = ?", true).
		Where("auto_reset_at IS NULL OR auto_reset_at > ?", now)
}

func (s *Store) GetActiveKillSwitches(ctx context.Context, now time.Time) ([]models.KillSwitch, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.KillSwitch
	if err := s.activeSwitches(ctx, now).Order("triggered_at desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetActiveKillSwitch(ctx context.Context, level models.KillSwitchLevel, targetID string, now time.Time) (*models.KillSwitch, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.KillSwitch
	err := s.activeSwitches(ctx, now).
		Where("level = ?", level).
		Where("target_id = ?", targetID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetActiveKillSwitchesByLevel(ctx context.Context, level models.KillSwitchLevel, now time.Time) ([]models.KillSwitch, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.KillSwitch
	err := s.activeSwitches(ctx, now).
		Where("level = ?", level).
		Order("triggered_at desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) FindActiveRow(ctx context.Context, level models.KillSwitchLevel, targetID string) (*models.KillSwitch, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.KillSwitch
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Where("level = ?", level).
		Where("target_id = ?", targetID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) DeactivateExpiredKillSwitches(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.KillSwitch{}).
		Where("active = ?", true).
		Where("auto_reset_at IS NOT NULL AND auto_reset_at <= ?", now).
		Updates(map[string]any{
			"active":     false,
			"reset_by":   "auto-reset",
			"reset_at":   now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (s *Store) GetKillSwitchConfig(ctx context.Context, level models.KillSwitchLevel, targetID string) (*models.KillSwitchConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.KillSwitchConfig
	err := s.db.WithContext(ctx).
		Where("level = ?", level).
		Where("target_id = ?", targetID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertKillSwitchConfig(ctx context.Context, item *models.KillSwitchConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "level"}, {Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"max_daily_loss",
			"max_drawdown_pct",
			"max_error_rate",
			"max_latency_ms",
			"active",
			"updated_at",
		}),
	}).Create(item).Error
}

// --- Daily P&L ---------------------------------------------------------------

func (s *Store) GetDailyPnLByDate(ctx context.Context, date time.Time) (*models.DailyPnL, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.DailyPnL
	err := s.db.WithContext(ctx).First(&item, "date = ?", dateOnly(date)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateDailyPnL(ctx context.Context, item *models.DailyPnL) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Date = dateOnly(item.Date)
	return translateErr(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) UpdateDailyPnL(ctx context.Context, item *models.DailyPnL) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetDailyPnLRange(ctx context.Context, start, end time.Time) ([]models.DailyPnL, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.DailyPnL
	err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", dateOnly(start), dateOnly(end)).
		Order("date asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Arbitrage opportunities ---------------------------------------------------

func (s *Store) UpsertActiveOpportunity(ctx context.Context, item *models.ArbitrageOpportunity) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "market_ticker"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Eq{Column: "status", Value: string(models.OpportunityActive)}}},
		DoUpdates: clause.AssignmentColumns([]string{
			"market_title",
			"yes_bid",
			"yes_ask",
			"no_bid",
			"no_ask",
			"buy_both_cost",
			"profit_cents",
			"profit_pct",
			"quote",
			"last_seen_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetOpportunityByID(ctx context.Context, id uint64) (*models.ArbitrageOpportunity, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.ArbitrageOpportunity
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetActiveOpportunityByTicker(ctx context.Context, ticker string) (*models.ArbitrageOpportunity, error) {
	if s == nil || s.db == nil || strings.TrimSpace(ticker) == "" {
		return nil, nil
	}
	var item models.ArbitrageOpportunity
	err := s.db.WithContext(ctx).
		Where("market_ticker = ?", strings.TrimSpace(ticker)).
		Where("status = ?", models.OpportunityActive).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SettleOpportunity(ctx context.Context, item *models.ArbitrageOpportunity) (bool, error) {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.ArbitrageOpportunity{}).
		Where("id = ? AND status = ?", item.ID, models.OpportunityActive).
		Select("*").
		Omit("id", "created_at").
		Updates(item)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) ([]models.ArbitrageOpportunity, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.opportunityQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "profit_cents")
	var items []models.ArbitrageOpportunity
	if err := query.Limit(normalizeLimit(params.Limit, 50)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.opportunityQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) opportunityQuery(ctx context.Context, params repository.ListOpportunitiesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.ArbitrageOpportunity{})
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", *params.Status)
	}
	if params.MarketTicker != nil && strings.TrimSpace(*params.MarketTicker) != "" {
		query = query.Where("market_ticker = ?", strings.TrimSpace(*params.MarketTicker))
	}
	if params.MinProfitCents != nil {
		query = query.Where("profit_cents >= ?", *params.MinProfitCents)
	}
	return query
}

func (s *Store) ExpireStaleOpportunities(ctx context.Context, lastSeenBefore time.Time) (int64, error) {
	if s == nil || s.db == nil || lastSeenBefore.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.ArbitrageOpportunity{}).
		Where("status = ?", models.OpportunityActive).
		Where("last_seen_at < ?", lastSeenBefore).
		Updates(map[string]any{
			"status":     models.OpportunityExpired,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// --- helpers -------------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
