package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/gatewayconsole/internal/access"
	"github.com/router-for-me/gatewayconsole/internal/billing"
	"github.com/router-for-me/gatewayconsole/internal/security"
	"github.com/router-for-me/gatewayconsole/internal/stats"
	log "github.com/sirupsen/logrus"
)

// StatsHandler serves per-key statistics.
type StatsHandler struct {
	loader  access.Loader
	reader  *stats.Reader
	billing *billing.Client
}

// NewStatsHandler constructs a StatsHandler. A nil billing client leaves
// billing fields out of the overview.
func NewStatsHandler(loader access.Loader, reader *stats.Reader, billingClient *billing.Client) *StatsHandler {
	return &StatsHandler{loader: loader, reader: reader, billing: billingClient}
}

// authorize admits any known credential and returns it.
func (h *StatsHandler) authorize(c *gin.Context) (string, bool) {
	credential := CredentialFrom(c)
	if _, errAuth := access.AuthorizeAny(h.loader, credential); errAuth != nil {
		writeError(c, errAuth)
		return "", false
	}
	return credential, true
}

// Models returns per-model aggregates for the caller's key.
func (h *StatsHandler) Models(c *gin.Context) {
	credential, ok := h.authorize(c)
	if !ok {
		return
	}
	rows, errStats := h.reader.ModelStats(c.Request.Context(), credential)
	if errStats != nil {
		writeError(c, errStats)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// Overview returns the caller's totals, plus the backend billing snapshot
// when it can be fetched.
func (h *StatsHandler) Overview(c *gin.Context) {
	credential, ok := h.authorize(c)
	if !ok {
		return
	}
	overview, errOverview := h.reader.Overview(c.Request.Context(), credential)
	if errOverview != nil {
		writeError(c, errOverview)
		return
	}
	out := gin.H{
		"requests":             overview.Requests,
		"totalTokens":          overview.TotalTokens,
		"promptTokens":         overview.PromptTokens,
		"completionTokens":     overview.CompletionTokens,
		"avgProcessTime":       overview.AvgProcessTime,
		"avgFirstResponseTime": overview.AvgFirstResponseTime,
	}
	if h.billing != nil {
		details, errUsage := h.billing.TokenUsage(c.Request.Context(), credential)
		if errUsage != nil {
			log.WithError(errUsage).WithField("key", security.Fingerprint(credential)).Warn("stats: billing snapshot unavailable")
		} else {
			mergeBilling(out, details)
		}
	}
	c.JSON(http.StatusOK, out)
}

func mergeBilling(out gin.H, details billing.QueryDetails) {
	if details.BillingMode != nil {
		out["billingMode"] = *details.BillingMode
	}
	for name, value := range map[string]*float64{
		"credits":      details.Credits,
		"countCredits": details.CountCredits,
		"totalCost":    details.TotalCost,
		"balance":      details.Balance,
		"countBalance": details.CountBalance,
	} {
		if value != nil {
			out[name] = *value
		}
	}
	if details.TotalRequests != nil {
		out["totalRequests"] = *details.TotalRequests
	}
}

// Logs returns one page of the caller's chat completion logs.
func (h *StatsHandler) Logs(c *gin.Context) {
	credential, ok := h.authorize(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(strings.TrimSpace(c.Query("page")))
	result, errLogs := h.reader.Logs(c.Request.Context(), stats.LogQuery{
		Credential: credential,
		Model:      c.Query("model"),
		Provider:   c.Query("provider"),
		Status:     stats.ParseStatus(c.Query("status")),
		Page:       page,
		Limit:      queryLimit(c),
	})
	if errLogs != nil {
		writeError(c, errLogs)
		return
	}
	c.JSON(http.StatusOK, result)
}

// queryLimit returns 0 when limit is absent or not a number, so the reader
// applies its default. An explicit value below 1 becomes 1.
func queryLimit(c *gin.Context) int {
	limit, errAtoi := strconv.Atoi(strings.TrimSpace(c.Query("limit")))
	if errAtoi != nil {
		return 0
	}
	return max(limit, 1)
}
