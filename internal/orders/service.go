package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tradegate/internal/events"
	"tradegate/internal/gateway"
	"tradegate/internal/models"
	"tradegate/internal/repository"
)

// Service is the order state machine. It owns lifecycle validation, fill
// accounting, and reconciliation; every mutation goes through the transition
// table and lands with its audit record in one atomic storage unit.
type Service struct {
	Repo    repository.OrderRepository
	Gateway gateway.Exchange
	Logger  *zap.Logger
	Events  events.Publisher
}

type CreateOrderParams struct {
	// IdempotencyKey dedups repeated requests; generated when empty.
	IdempotencyKey string
	MarketTicker   string
	Action         models.OrderAction
	Side           models.OrderSide
	Type           models.OrderType
	Contracts      int
	LimitPrice     *int // ticks, required for limit orders
	ExpiresAt      *time.Time

	// metadata is attached to the creation transition. Set only by amend.
	metadata map[string]any
}

func (p CreateOrderParams) validate() error {
	if p.MarketTicker == "" {
		return &ValidationError{Field: "market_ticker", Msg: "required"}
	}
	switch p.Action {
	case models.ActionBuy, models.ActionSell:
	default:
		return &ValidationError{Field: "action", Msg: fmt.Sprintf("unknown action %q", p.Action)}
	}
	switch p.Side {
	case models.SideYes, models.SideNo:
	default:
		return &ValidationError{Field: "side", Msg: fmt.Sprintf("unknown side %q", p.Side)}
	}
	switch p.Type {
	case models.TypeMarket:
		if p.LimitPrice != nil {
			return &ValidationError{Field: "limit_price", Msg: "not allowed on market orders"}
		}
	case models.TypeLimit:
		if p.LimitPrice == nil {
			return &ValidationError{Field: "limit_price", Msg: "required for limit orders"}
		}
		if *p.LimitPrice < models.MinLimitPrice || *p.LimitPrice > models.MaxLimitPrice {
			return &ValidationError{Field: "limit_price", Msg: fmt.Sprintf("%d outside %d-%d", *p.LimitPrice, models.MinLimitPrice, models.MaxLimitPrice)}
		}
	default:
		return &ValidationError{Field: "type", Msg: fmt.Sprintf("unknown order type %q", p.Type)}
	}
	if p.Contracts <= 0 {
		return &ValidationError{Field: "contracts", Msg: "must be positive"}
	}
	return nil
}

// CreateOrder is idempotent: a repeated call with the same key returns the
// existing order. The unique constraint on the key, not a check-then-act,
// guarantees at most one record under concurrent duplicates.
func (s *Service) CreateOrder(ctx context.Context, p CreateOrderParams) (*models.Order, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	key := p.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	order := &models.Order{
		IdempotencyKey: key,
		MarketTicker:   p.MarketTicker,
		Action:         p.Action,
		Side:           p.Side,
		Type:           p.Type,
		Contracts:      p.Contracts,
		LimitPrice:     p.LimitPrice,
		AvgFillPrice:   decimal.Zero,
		State:          models.StateDraft,
		ExpiresAt:      p.ExpiresAt,
	}
	tr := &models.StateTransition{
		FromState: nil,
		ToState:   models.StateDraft,
		Reason:    "order created",
	}
	if p.metadata != nil {
		tr.Metadata = mustJSON(p.metadata)
	}
	err := s.Repo.CreateOrder(ctx, order, tr)
	if errors.Is(err, repository.ErrDuplicateKey) {
		existing, ferr := s.Repo.FindOrderByIdempotencyKey(ctx, key)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, fmt.Errorf("order with idempotency key %s exists but could not be loaded", key)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.OrderCreated{Order: *order})
	return order, nil
}

// SubmitOrder drives DRAFT -> PENDING -> SUBMITTED, places the order on the
// exchange, and lands in ACCEPTED or REJECTED. A gateway failure is terminal
// here: submissions are never retried automatically, so an order failure
// stays visible and auditable.
func (s *Service) SubmitOrder(ctx context.Context, id uint64) (*models.Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, order, models.StatePending, "submit requested", nil); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, order, models.StateSubmitted, "sent to exchange", nil); err != nil {
		return nil, err
	}
	s.publish(ctx, events.OrderSubmitted{Order: *order})

	result, gerr := s.Gateway.CreateOrder(ctx, gateway.OrderRequest{
		Ticker:     order.MarketTicker,
		Action:     order.Action,
		Side:       order.Side,
		Type:       order.Type,
		Count:      order.Contracts,
		LimitPrice: order.LimitPrice,
	})
	if gerr != nil {
		reason := gerr.Error()
		order.RejectReason = &reason
		if terr := s.transition(ctx, order, models.StateRejected, "gateway rejected submission", map[string]any{
			"gateway_error": reason,
		}); terr != nil {
			return nil, terr
		}
		s.publish(ctx, events.OrderRejected{Order: *order, Reason: reason})
		return order, fmt.Errorf("submit order %d: %w", order.ID, gerr)
	}

	order.ExchangeOrderID = &result.ExchangeOrderID
	if err := s.transition(ctx, order, models.StateAccepted, "accepted by exchange", map[string]any{
		"exchange_order_id": result.ExchangeOrderID,
		"exchange_status":   string(result.Status),
	}); err != nil {
		return nil, err
	}
	s.publish(ctx, events.OrderAccepted{Order: *order})
	return order, nil
}

// CancelOrder cancels locally only after the exchange confirmed the cancel,
// so a remote failure never leaves a phantom CANCELED order.
func (s *Service) CancelOrder(ctx context.Context, id uint64, reason string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanCancel(order.State) {
		return nil, &InvalidTransitionError{OrderID: order.ID, From: order.State, To: models.StateCanceled}
	}
	if order.ExchangeOrderID != nil {
		if gerr := s.Gateway.CancelOrder(ctx, *order.ExchangeOrderID); gerr != nil {
			return nil, fmt.Errorf("cancel order %d on exchange: %w", order.ID, gerr)
		}
	}
	if reason == "" {
		reason = "canceled by caller"
	}
	if err := s.transition(ctx, order, models.StateCanceled, reason, nil); err != nil {
		return nil, err
	}
	s.publish(ctx, events.OrderCanceled{Order: *order, Reason: reason})
	return order, nil
}

type AmendOrderParams struct {
	Contracts  *int
	LimitPrice *int
}

// AmendOrder never amends in place on the exchange. It is two coordinated
// operations, both audited: cancel the original, then create and submit a
// replacement carrying the changed fields.
func (s *Service) AmendOrder(ctx context.Context, id uint64, p AmendOrderParams) (*models.Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanAmend(order.State) {
		return nil, &InvalidTransitionError{OrderID: order.ID, From: order.State, To: models.StateCanceled}
	}
	if order.FilledContracts > 0 {
		return nil, &ValidationError{Field: "order", Msg: "cannot amend a partially filled order"}
	}
	contracts := order.Contracts
	if p.Contracts != nil {
		contracts = *p.Contracts
	}
	limitPrice := order.LimitPrice
	if p.LimitPrice != nil {
		limitPrice = p.LimitPrice
	}
	replacement := CreateOrderParams{
		MarketTicker: order.MarketTicker,
		Action:       order.Action,
		Side:         order.Side,
		Type:         order.Type,
		Contracts:    contracts,
		LimitPrice:   limitPrice,
		ExpiresAt:    order.ExpiresAt,
		metadata:     map[string]any{"amended_from": order.ID},
	}
	if err := replacement.validate(); err != nil {
		return nil, err
	}

	if order.ExchangeOrderID != nil {
		if gerr := s.Gateway.CancelOrder(ctx, *order.ExchangeOrderID); gerr != nil {
			return nil, fmt.Errorf("amend order %d: cancel leg failed: %w", order.ID, gerr)
		}
	}
	if err := s.transition(ctx, order, models.StateCanceled, "canceled for amend", nil); err != nil {
		return nil, err
	}
	s.publish(ctx, events.OrderCanceled{Order: *order, Reason: "canceled for amend"})

	next, err := s.CreateOrder(ctx, replacement)
	if err != nil {
		return nil, fmt.Errorf("amend order %d: create replacement: %w", order.ID, err)
	}
	return s.SubmitOrder(ctx, next.ID)
}

// ProcessFill folds one execution into the order: volume-weighted average
// price, filled count, and the resulting state. A transition record is
// written only when the state actually changed.
func (s *Service) ProcessFill(ctx context.Context, id uint64, contracts, price int, exchangeFillID *string) (*models.Order, error) {
	if contracts <= 0 {
		return nil, &ValidationError{Field: "contracts", Msg: "must be positive"}
	}
	if price < models.MinLimitPrice || price > models.MaxLimitPrice {
		return nil, &ValidationError{Field: "price", Msg: fmt.Sprintf("%d outside %d-%d", price, models.MinLimitPrice, models.MaxLimitPrice)}
	}
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	newFilled := order.FilledContracts + contracts
	if newFilled > order.Contracts {
		return nil, &ValidationError{Field: "contracts", Msg: fmt.Sprintf("fill of %d overflows order size %d (already filled %d)", contracts, order.Contracts, order.FilledContracts)}
	}

	nextState := models.StatePartialFill
	if newFilled == order.Contracts {
		nextState = models.StateFilled
	}
	stateChanged := nextState != order.State
	if stateChanged && !CanTransition(order.State, nextState) {
		return nil, &InvalidTransitionError{OrderID: order.ID, From: order.State, To: nextState}
	}

	// VWAP over the prior average and this fill.
	prior := order.AvgFillPrice.Mul(decimal.NewFromInt(int64(order.FilledContracts)))
	added := decimal.NewFromInt(int64(price)).Mul(decimal.NewFromInt(int64(contracts)))
	avg := prior.Add(added).Div(decimal.NewFromInt(int64(newFilled)))

	fill := &models.Fill{
		OrderID:        order.ID,
		Contracts:      contracts,
		Price:          price,
		ExchangeFillID: exchangeFillID,
		FilledAt:       time.Now().UTC(),
	}

	from := order.State
	order.FilledContracts = newFilled
	order.AvgFillPrice = avg
	var tr *models.StateTransition
	if stateChanged {
		order.State = nextState
		tr = &models.StateTransition{
			OrderID:   order.ID,
			FromState: &from,
			ToState:   nextState,
			Reason:    "fill processed",
			Metadata:  mustJSON(map[string]any{"contracts": contracts, "price": price}),
		}
	}
	if err := s.Repo.ApplyFill(ctx, order, fill, tr); err != nil {
		return nil, err
	}
	if order.State == models.StateFilled {
		s.publish(ctx, events.OrderFilled{Order: *order, Fill: *fill})
	}
	return order, nil
}

// ReconcileReport summarizes one reconciliation pass. Per-order comparison
// failures are collected, never thrown: one broken order must not stop the
// sweep.
type ReconcileReport struct {
	Checked   int
	Corrected int
	Errors    []error
}

// Err folds the collected per-order errors into one, or nil.
func (r *ReconcileReport) Err() error {
	return errors.Join(r.Errors...)
}

// Reconcile walks every non-terminal order that has an exchange id and
// corrects local state that drifted from the venue.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	items, err := s.Repo.FindActiveNonTerminal(ctx)
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{}
	for i := range items {
		order := items[i]
		report.Checked++
		corrected, rerr := s.reconcileOne(ctx, &order)
		if rerr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("order %d: %w", order.ID, rerr))
			continue
		}
		if corrected {
			report.Corrected++
		}
	}
	if s.Logger != nil {
		s.Logger.Info("reconcile pass finished",
			zap.Int("checked", report.Checked),
			zap.Int("corrected", report.Corrected),
			zap.Int("errors", len(report.Errors)),
		)
	}
	return report, nil
}

func (s *Service) reconcileOne(ctx context.Context, order *models.Order) (bool, error) {
	if order.ExchangeOrderID == nil {
		return false, nil
	}
	remote, err := s.Gateway.GetOrder(ctx, *order.ExchangeOrderID)
	if err != nil {
		return false, fmt.Errorf("fetch remote status: %w", err)
	}
	if remote == nil {
		return false, fmt.Errorf("exchange returned no order for %s", *order.ExchangeOrderID)
	}

	corrected := false
	if remote.FilledCount > order.FilledContracts {
		delta := remote.FilledCount - order.FilledContracts
		price := remote.AvgFillPrice
		if price < models.MinLimitPrice || price > models.MaxLimitPrice {
			return false, fmt.Errorf("remote avg fill price %d out of range", price)
		}
		if _, ferr := s.ProcessFill(ctx, order.ID, delta, price, nil); ferr != nil {
			return false, fmt.Errorf("apply drift fill: %w", ferr)
		}
		refreshed, lerr := s.loadOrder(ctx, order.ID)
		if lerr != nil {
			return false, lerr
		}
		*order = *refreshed
		corrected = true
	}

	switch remote.Status {
	case gateway.StatusCanceled:
		if !order.State.Terminal() {
			if err := s.transition(ctx, order, models.StateCanceled, "reconcile: canceled on exchange", nil); err != nil {
				return corrected, err
			}
			s.publish(ctx, events.OrderCanceled{Order: *order, Reason: "reconcile: canceled on exchange"})
			corrected = true
		}
	case gateway.StatusExpired:
		if !order.State.Terminal() {
			if err := s.transition(ctx, order, models.StateExpired, "reconcile: expired on exchange", nil); err != nil {
				return corrected, err
			}
			s.publish(ctx, events.OrderExpired{Order: *order})
			corrected = true
		}
	case gateway.StatusExecuted, gateway.StatusResting:
		// Fill drift already applied above.
	default:
		return corrected, fmt.Errorf("unknown remote status %q", remote.Status)
	}
	return corrected, nil
}

// transition validates against the table and persists the order together with
// its audit record. Invalid moves fail hard and mutate nothing.
func (s *Service) transition(ctx context.Context, order *models.Order, to models.OrderState, reason string, md map[string]any) error {
	if !CanTransition(order.State, to) {
		return &InvalidTransitionError{OrderID: order.ID, From: order.State, To: to}
	}
	from := order.State
	order.State = to
	tr := &models.StateTransition{
		OrderID:   order.ID,
		FromState: &from,
		ToState:   to,
		Reason:    reason,
	}
	if md != nil {
		tr.Metadata = mustJSON(md)
	}
	if err := s.Repo.UpdateOrderWithTransition(ctx, order, tr); err != nil {
		order.State = from
		return err
	}
	return nil
}

func (s *Service) loadOrder(ctx context.Context, id uint64) (*models.Order, error) {
	order, err := s.Repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order %d not found", id)
	}
	return order, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.Events != nil {
		s.Events.Publish(ctx, e)
	}
}

func mustJSON(v any) datatypes.JSON {
	raw, _ := json.Marshal(v)
	return datatypes.JSON(raw)
}
