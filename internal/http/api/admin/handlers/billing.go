package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/gatewayconsole/internal/billing"
	"github.com/router-for-me/gatewayconsole/internal/errs"
)

// BillingHandler relays credit operations to the gateway backend. The
// caller's bearer token is forwarded; the backend decides what it may do.
type BillingHandler struct {
	client *billing.Client
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(client *billing.Client) *BillingHandler {
	return &BillingHandler{client: client}
}

type topUpBody struct {
	PaidKey string  `json:"paid_key"`
	Amount  float64 `json:"amount"`
}

func (h *BillingHandler) bearer(c *gin.Context) (string, bool) {
	token, ok := BearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidAuthorization})
	}
	return token, ok
}

// AddCredits tops up a key's token credits.
func (h *BillingHandler) AddCredits(c *gin.Context) {
	token, ok := h.bearer(c)
	if !ok {
		return
	}
	var body topUpBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "Invalid parameters")
		return
	}
	h.relay(c, func() (any, error) {
		return h.client.AddCredits(c.Request.Context(), token, body.PaidKey, body.Amount)
	})
}

// AddCountCredits tops up a key's per-request credits.
func (h *BillingHandler) AddCountCredits(c *gin.Context) {
	token, ok := h.bearer(c)
	if !ok {
		return
	}
	var body topUpBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "Invalid parameters")
		return
	}
	h.relay(c, func() (any, error) {
		return h.client.AddCountCredits(c.Request.Context(), token, body.PaidKey, body.Amount)
	})
}

// SetMode changes a key's billing mode.
func (h *BillingHandler) SetMode(c *gin.Context) {
	token, ok := h.bearer(c)
	if !ok {
		return
	}
	var body struct {
		PaidKey     string `json:"paid_key"`
		BillingMode string `json:"billing_mode"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "Invalid parameters")
		return
	}
	h.relay(c, func() (any, error) {
		return h.client.SetBillingMode(c.Request.Context(), token, body.PaidKey, body.BillingMode)
	})
}

// States lists the backend's per-key balances.
func (h *BillingHandler) States(c *gin.Context) {
	token, ok := h.bearer(c)
	if !ok {
		return
	}
	h.relay(c, func() (any, error) {
		return h.client.States(c.Request.Context(), token)
	})
}

// relay writes the backend's decoded body, or maps the failure.
func (h *BillingHandler) relay(c *gin.Context, call func() (any, error)) {
	out, errCall := call()
	if errCall != nil {
		if errors.Is(errCall, errs.ErrValidation) {
			badRequest(c, "Invalid parameters")
			return
		}
		writeError(c, errCall)
		return
	}
	c.JSON(http.StatusOK, out)
}
