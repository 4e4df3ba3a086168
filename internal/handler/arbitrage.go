package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradegate/internal/arbitrage"
	"tradegate/internal/models"
	"tradegate/internal/repository"
)

type ArbitrageHandler struct {
	Repo     repository.OpportunityRepository
	Scanner  *arbitrage.Scanner
	Executor *arbitrage.Executor
}

func (h *ArbitrageHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/opportunities")
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.POST("/:id/execute", h.execute)
	group.POST("/scan", h.scan)
}

func (h *ArbitrageHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var status *models.OpportunityStatus
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		s := models.OpportunityStatus(strings.ToUpper(v))
		status = &s
	}
	params := repository.ListOpportunitiesParams{
		Limit:          limit,
		Offset:         offset,
		Status:         status,
		MarketTicker:   strQueryPtr(c, "market_ticker"),
		MinProfitCents: intQueryPtr(c, "min_profit_cents"),
		OrderBy:        "profit_cents",
		Asc:            boolPtr(false),
	}
	items, err := h.Repo.ListOpportunities(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOpportunities(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *ArbitrageHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetOpportunityByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "opportunity not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *ArbitrageHandler) execute(c *gin.Context) {
	if h.Executor == nil {
		Error(c, http.StatusServiceUnavailable, "executor unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Executor.ExecuteOpportunity(c.Request.Context(), id)
	if err != nil {
		var crit *arbitrage.CriticalError
		if errors.As(err, &crit) {
			// Unhedged position on the exchange; the operator must act.
			Error(c, http.StatusInternalServerError, err.Error(), map[string]any{
				"critical":       true,
				"stuck_order_id": crit.StuckOrderID,
			})
			return
		}
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *ArbitrageHandler) scan(c *gin.Context) {
	if h.Scanner == nil {
		Error(c, http.StatusServiceUnavailable, "scanner unavailable", nil)
		return
	}
	result, err := h.Scanner.ScanForOpportunities(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result.Opportunities, map[string]any{
		"markets_scanned":     result.MarketsScanned,
		"opportunities_found": result.OpportunitiesFound,
		"expired":             result.Expired,
	})
}
