package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradegate/internal/killswitch"
	"tradegate/internal/models"
)

type KillSwitchHandler struct {
	Engine *killswitch.Engine
}

func (h *KillSwitchHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/killswitches")
	group.GET("", h.listActive)
	group.POST("", h.trigger)
	group.POST("/:id/reset", h.reset)
	group.POST("/reset-level", h.resetLevel)
	group.GET("/check", h.check)
	group.PUT("/config", h.setConfig)
}

func (h *KillSwitchHandler) listActive(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "kill switch engine unavailable", nil)
		return
	}
	items, err := h.Engine.ListActive(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type triggerRequest struct {
	Level       string     `json:"level" binding:"required"`
	TargetID    string     `json:"target_id"`
	Reason      string     `json:"reason"`
	Description string     `json:"description"`
	TriggeredBy string     `json:"triggered_by" binding:"required"`
	AutoResetAt *time.Time `json:"auto_reset_at"`
}

func (h *KillSwitchHandler) trigger(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "kill switch engine unavailable", nil)
		return
	}
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	reason := models.KillSwitchReason(strings.ToUpper(strings.TrimSpace(req.Reason)))
	if reason == "" {
		reason = models.ReasonManual
	}
	item, err := h.Engine.Trigger(c.Request.Context(), killswitch.TriggerRequest{
		Level:       models.KillSwitchLevel(strings.ToUpper(strings.TrimSpace(req.Level))),
		TargetID:    strings.TrimSpace(req.TargetID),
		Reason:      reason,
		Description: req.Description,
		TriggeredBy: req.TriggeredBy,
		AutoResetAt: req.AutoResetAt,
	})
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type resetRequest struct {
	ResetBy string `json:"reset_by" binding:"required"`
}

func (h *KillSwitchHandler) reset(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "kill switch engine unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item, err := h.Engine.Reset(c.Request.Context(), id, req.ResetBy)
	if err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type resetLevelRequest struct {
	Level   string `json:"level" binding:"required"`
	ResetBy string `json:"reset_by" binding:"required"`
}

func (h *KillSwitchHandler) resetLevel(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "kill switch engine unavailable", nil)
		return
	}
	var req resetLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	count, err := h.Engine.ResetLevel(c.Request.Context(), models.KillSwitchLevel(strings.ToUpper(strings.TrimSpace(req.Level))), req.ResetBy)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, nil, map[string]any{"reset": count})
}

func (h *KillSwitchHandler) check(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "kill switch engine unavailable", nil)
		return
	}
	blocking, err := h.Engine.Check(c.Request.Context(), killswitch.CheckContext{
		AccountID:  strings.TrimSpace(c.Query("account_id")),
		StrategyID: strings.TrimSpace(c.Query("strategy_id")),
		MarketID:   strings.TrimSpace(c.Query("market_id")),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, blocking, map[string]any{"blocked": blocking != nil})
}

type switchConfigRequest struct {
	Level          string          `json:"level" binding:"required"`
	TargetID       string          `json:"target_id"`
	MaxDailyLoss   decimal.Decimal `json:"max_daily_loss"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	MaxErrorRate   float64         `json:"max_error_rate"`
	MaxLatencyMs   int64           `json:"max_latency_ms"`
	Active         bool            `json:"active"`
}

func (h *KillSwitchHandler) setConfig(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "kill switch engine unavailable", nil)
		return
	}
	var req switchConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	cfg := &models.KillSwitchConfig{
		Level:          models.KillSwitchLevel(strings.ToUpper(strings.TrimSpace(req.Level))),
		TargetID:       strings.TrimSpace(req.TargetID),
		MaxDailyLoss:   req.MaxDailyLoss,
		MaxDrawdownPct: req.MaxDrawdownPct,
		MaxErrorRate:   req.MaxErrorRate,
		MaxLatencyMs:   req.MaxLatencyMs,
		Active:         req.Active,
	}
	if err := h.Engine.SetConfig(c.Request.Context(), cfg); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, cfg, nil)
}
