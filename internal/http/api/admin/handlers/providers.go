package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/gatewayconsole/internal/access"
	"github.com/router-for-me/gatewayconsole/internal/probe"
	"github.com/router-for-me/gatewayconsole/internal/providerregistry"
)

// ProviderHandler manages upstream provider endpoints.
type ProviderHandler struct {
	registry *providerregistry.Registry
	loader   access.Loader
	prober   *probe.Prober
}

// NewProviderHandler constructs a ProviderHandler.
func NewProviderHandler(registry *providerregistry.Registry, loader access.Loader, prober *probe.Prober) *ProviderHandler {
	return &ProviderHandler{registry: registry, loader: loader, prober: prober}
}

// List returns providers with resolved model pricing.
func (h *ProviderHandler) List(c *gin.Context) {
	providers, errList := h.registry.List(CredentialFrom(c))
	if errList != nil {
		writeError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// Create adds a provider.
func (h *ProviderHandler) Create(c *gin.Context) {
	var body struct {
		Provider providerregistry.Payload `json:"provider"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	created, errCreate := h.registry.Create(CredentialFrom(c), body.Provider)
	if errCreate != nil {
		writeError(c, errCreate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "provider created", "provider": created})
}

// Update replaces the provider named originalProvider.
func (h *ProviderHandler) Update(c *gin.Context) {
	var body struct {
		OriginalProvider string                   `json:"originalProvider"`
		Provider         providerregistry.Payload `json:"provider"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	original := body.OriginalProvider
	if strings.TrimSpace(original) == "" {
		original = body.Provider.Provider
	}
	updated, errUpdate := h.registry.Update(CredentialFrom(c), original, body.Provider)
	if errUpdate != nil {
		writeError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "provider updated", "provider": updated})
}

// Delete removes the provider named by the provider query parameter.
func (h *ProviderHandler) Delete(c *gin.Context) {
	if errDelete := h.registry.Delete(CredentialFrom(c), c.Query("provider")); errDelete != nil {
		writeError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "provider deleted"})
}

// Test probes a provider with the submitted credentials. The probe outcome
// is always reported with 200; only bad input and auth fail the request.
func (h *ProviderHandler) Test(c *gin.Context) {
	var body struct {
		Provider string `json:"provider"`
		BaseURL  string `json:"base_url"`
		API      string `json:"api"`
		Model    string `json:"model"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Provider) == "" || strings.TrimSpace(body.BaseURL) == "" || strings.TrimSpace(body.API) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "provider, base_url and api are required"})
		return
	}
	if _, errAuth := access.AuthorizeAny(h.loader, CredentialFrom(c)); errAuth != nil {
		writeError(c, errAuth)
		return
	}
	result := h.prober.Test(c.Request.Context(), probe.Target{
		Provider: strings.TrimSpace(body.Provider),
		BaseURL:  strings.TrimSpace(body.BaseURL),
		APIKey:   strings.TrimSpace(body.API),
	}, body.Model)
	c.JSON(http.StatusOK, result)
}
