package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tradegate/internal/risk"
)

type RiskHandler struct {
	Monitor *risk.Monitor
}

func (h *RiskHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/risk")
	group.GET("/status", h.status)
	group.GET("/history", h.history)
}

func (h *RiskHandler) status(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusServiceUnavailable, "risk monitor unavailable", nil)
		return
	}
	date, ok := dateQuery(c, "date")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid date, want YYYY-MM-DD", nil)
		return
	}
	status, err := h.Monitor.GetRiskStatus(c.Request.Context(), date)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, status, nil)
}

func (h *RiskHandler) history(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusServiceUnavailable, "risk monitor unavailable", nil)
		return
	}
	end, ok := dateQuery(c, "end")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid end date, want YYYY-MM-DD", nil)
		return
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start, ok := dateQuery(c, "start")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid start date, want YYYY-MM-DD", nil)
		return
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	items, err := h.Monitor.History(c.Request.Context(), start, end)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

// dateQuery parses a YYYY-MM-DD query value. Missing is fine; malformed is not.
func dateQuery(c *gin.Context, key string) (time.Time, bool) {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", val)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
