package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/gatewayconsole/internal/access"
	"github.com/router-for-me/gatewayconsole/internal/keyregistry"
	"github.com/router-for-me/gatewayconsole/internal/stats"
)

// KeyHandler manages gateway API key endpoints.
type KeyHandler struct {
	registry *keyregistry.Registry
	loader   access.Loader
	reader   *stats.Reader
}

// NewKeyHandler constructs a KeyHandler.
func NewKeyHandler(registry *keyregistry.Registry, loader access.Loader, reader *stats.Reader) *KeyHandler {
	return &KeyHandler{registry: registry, loader: loader, reader: reader}
}

// List returns the manageable keys.
func (h *KeyHandler) List(c *gin.Context) {
	keys, errList := h.registry.List(CredentialFrom(c))
	if errList != nil {
		writeError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// Create issues a new key.
func (h *KeyHandler) Create(c *gin.Context) {
	// body holds the create request payload.
	var body struct {
		Alias       string   `json:"alias"`
		Credits     *float64 `json:"credits"`
		BillingMode string   `json:"billing_mode"`
		Models      []string `json:"models"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	key, errCreate := h.registry.Create(CredentialFrom(c), keyregistry.CreateParams{
		DisplayName: body.Alias,
		Credits:     body.Credits,
		BillingMode: body.BillingMode,
		Models:      body.Models,
	})
	if errCreate != nil {
		writeError(c, errCreate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "key": keyResponse(key)})
}

// Update edits the supplied fields of targetKey.
func (h *KeyHandler) Update(c *gin.Context) {
	var body struct {
		TargetKey   string    `json:"targetKey"`
		Alias       *string   `json:"alias"`
		Credits     *float64  `json:"credits"`
		BillingMode *string   `json:"billing_mode"`
		Models      *[]string `json:"models"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	key, errUpdate := h.registry.Update(CredentialFrom(c), body.TargetKey, keyregistry.UpdateParams{
		DisplayName: body.Alias,
		Credits:     body.Credits,
		BillingMode: body.BillingMode,
		Models:      body.Models,
	})
	if errUpdate != nil {
		writeError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "key": keyResponse(key)})
}

// Delete removes the key named by the targetKey query parameter.
func (h *KeyHandler) Delete(c *gin.Context) {
	if errDelete := h.registry.Delete(CredentialFrom(c), c.Query("targetKey")); errDelete != nil {
		writeError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Usage reports one key's usage over the last days days. Admin only.
func (h *KeyHandler) Usage(c *gin.Context) {
	if _, errAuth := access.AuthorizeAdmin(h.loader, CredentialFrom(c)); errAuth != nil {
		writeError(c, errAuth)
		return
	}
	targetKey := strings.TrimSpace(c.Query("targetKey"))
	if targetKey == "" {
		badRequest(c, "targetKey is required")
		return
	}
	days := stats.DefaultDays
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil {
			badRequest(c, "invalid days")
			return
		}
		days = parsed
	}
	report, errUsage := h.reader.KeyUsage(c.Request.Context(), targetKey, days)
	if errUsage != nil {
		writeError(c, errUsage)
		return
	}
	c.JSON(http.StatusOK, report)
}

// keyResponse renders a key the way create and update report it.
func keyResponse(key keyregistry.Key) gin.H {
	out := gin.H{
		"api":          key.API,
		"alias":        key.Name,
		"credits":      key.Credits,
		"billing_mode": key.BillingMode,
		"model":        key.Models,
	}
	if key.CreatedAt != "" {
		out["created_at"] = key.CreatedAt
	}
	return out
}
