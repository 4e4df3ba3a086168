package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tradegate/internal/models"
	"tradegate/internal/orders"
	"tradegate/internal/repository"
)

type OrderHandler struct {
	Repo    repository.OrderRepository
	Service *orders.Service
}

func (h *OrderHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/orders")
	group.GET("", h.list)
	group.POST("", h.create)
	group.GET("/:id", h.get)
	group.GET("/:id/transitions", h.transitions)
	group.GET("/:id/fills", h.fills)
	group.POST("/:id/submit", h.submit)
	group.POST("/:id/cancel", h.cancel)
	group.POST("/:id/amend", h.amend)
	group.POST("/reconcile", h.reconcile)
}

func (h *OrderHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var state *models.OrderState
	if v := strings.TrimSpace(c.Query("state")); v != "" {
		s := models.OrderState(strings.ToUpper(v))
		state = &s
	}
	params := repository.ListOrdersParams{
		Limit:        limit,
		Offset:       offset,
		State:        state,
		MarketTicker: strQueryPtr(c, "market_ticker"),
		OrderBy:      "created_at",
		Asc:          boolPtr(false),
	}
	items, err := h.Repo.ListOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

type createOrderRequest struct {
	IdempotencyKey string     `json:"idempotency_key"`
	MarketTicker   string     `json:"market_ticker" binding:"required"`
	Action         string     `json:"action" binding:"required"`
	Side           string     `json:"side" binding:"required"`
	Type           string     `json:"type" binding:"required"`
	Contracts      int        `json:"contracts" binding:"required"`
	LimitPrice     *int       `json:"limit_price"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Submit         bool       `json:"submit"`
}

func (h *OrderHandler) create(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "order service unavailable", nil)
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	order, err := h.Service.CreateOrder(c.Request.Context(), orders.CreateOrderParams{
		IdempotencyKey: req.IdempotencyKey,
		MarketTicker:   req.MarketTicker,
		Action:         models.OrderAction(strings.ToLower(req.Action)),
		Side:           models.OrderSide(strings.ToLower(req.Side)),
		Type:           models.OrderType(strings.ToLower(req.Type)),
		Contracts:      req.Contracts,
		LimitPrice:     req.LimitPrice,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		Error(c, statusForOrderErr(err), err.Error(), nil)
		return
	}
	if req.Submit {
		id := order.ID
		order, err = h.Service.SubmitOrder(c.Request.Context(), id)
		if err != nil {
			meta := map[string]any{"order_id": id}
			if order != nil {
				// The rejected order still carries its terminal state.
				meta["state"] = order.State
			}
			Error(c, http.StatusBadGateway, err.Error(), meta)
			return
		}
	}
	Ok(c, order, nil)
}

func (h *OrderHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetOrderByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "order not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *OrderHandler) transitions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListTransitionsByOrderID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *OrderHandler) fills(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListFillsByOrderID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *OrderHandler) submit(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "order service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	order, err := h.Service.SubmitOrder(c.Request.Context(), id)
	if err != nil {
		Error(c, statusForOrderErr(err), err.Error(), nil)
		return
	}
	Ok(c, order, nil)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) cancel(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "order service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req cancelOrderRequest
	_ = c.ShouldBindJSON(&req)
	order, err := h.Service.CancelOrder(c.Request.Context(), id, req.Reason)
	if err != nil {
		Error(c, statusForOrderErr(err), err.Error(), nil)
		return
	}
	Ok(c, order, nil)
}

type amendOrderRequest struct {
	Contracts  *int `json:"contracts"`
	LimitPrice *int `json:"limit_price"`
}

func (h *OrderHandler) amend(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "order service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req amendOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.Contracts == nil && req.LimitPrice == nil {
		Error(c, http.StatusBadRequest, "nothing to amend", nil)
		return
	}
	order, err := h.Service.AmendOrder(c.Request.Context(), id, orders.AmendOrderParams{
		Contracts:  req.Contracts,
		LimitPrice: req.LimitPrice,
	})
	if err != nil {
		Error(c, statusForOrderErr(err), err.Error(), nil)
		return
	}
	Ok(c, order, nil)
}

func (h *OrderHandler) reconcile(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "order service unavailable", nil)
		return
	}
	report, err := h.Service.Reconcile(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	meta := map[string]any{
		"checked":   report.Checked,
		"corrected": report.Corrected,
		"errors":    len(report.Errors),
	}
	Ok(c, nil, meta)
}

func statusForOrderErr(err error) int {
	var verr *orders.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	var terr *orders.InvalidTransitionError
	if errors.As(err, &terr) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}
