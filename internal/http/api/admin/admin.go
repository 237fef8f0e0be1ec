// Package admin registers the console HTTP API.
package admin

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/billing"
	handlers "github.com/router-for-me/gatewayconsole/internal/http/api/admin/handlers"
	"github.com/router-for-me/gatewayconsole/internal/keyregistry"
	"github.com/router-for-me/gatewayconsole/internal/probe"
	"github.com/router-for-me/gatewayconsole/internal/providerregistry"
	"github.com/router-for-me/gatewayconsole/internal/ratelimit"
	"github.com/router-for-me/gatewayconsole/internal/security"
	"github.com/router-for-me/gatewayconsole/internal/stats"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const headerRequestID = "X-Request-ID"

// Dependencies are the services the console routes call into.
type Dependencies struct {
	Store   *apiconfig.Store
	DB      *gorm.DB
	Billing *billing.Client
	Prober  *probe.Prober
	Limiter *ratelimit.Manager
}

// RegisterAdminRoutes registers console routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil || deps.Store == nil || deps.DB == nil {
		return
	}
	if deps.Prober == nil {
		deps.Prober = probe.New(nil)
	}

	r.Use(requestIDMiddleware(), requestLogMiddleware())

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	api := r.Group("/api")
	api.Use(handlers.CredentialMiddleware())
	api.Use(rateLimitMiddleware(deps.Limiter))

	reader := stats.New(deps.DB)

	keyHandler := handlers.NewKeyHandler(keyregistry.New(deps.Store), deps.Store, reader)
	api.GET("/keys/manage", keyHandler.List)
	api.POST("/keys/manage", keyHandler.Create)
	api.PUT("/keys/manage", keyHandler.Update)
	api.DELETE("/keys/manage", keyHandler.Delete)
	api.GET("/keys/usage", keyHandler.Usage)

	providerHandler := handlers.NewProviderHandler(providerregistry.New(deps.Store), deps.Store, deps.Prober)
	api.GET("/providers/manage", providerHandler.List)
	api.POST("/providers/manage", providerHandler.Create)
	api.PUT("/providers/manage", providerHandler.Update)
	api.DELETE("/providers/manage", providerHandler.Delete)
	api.POST("/providers/test", providerHandler.Test)

	statsHandler := handlers.NewStatsHandler(deps.Store, reader, deps.Billing)
	api.GET("/stats/models", statsHandler.Models)
	api.GET("/stats/overview", statsHandler.Overview)
	api.GET("/logs", statsHandler.Logs)

	if deps.Billing != nil {
		billingHandler := handlers.NewBillingHandler(deps.Billing)
		api.POST("/billing/add-credits", billingHandler.AddCredits)
		api.POST("/billing/add-count-credits", billingHandler.AddCountCredits)
		api.POST("/billing/set-mode", billingHandler.SetMode)
		api.GET("/billing/states", billingHandler.States)
	}
}

// requestIDMiddleware propagates or assigns X-Request-ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set("requestID", requestID)
		c.Header(headerRequestID, requestID)
		c.Next()
	}
}

// requestLogMiddleware writes one log line per request.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"request_id": c.GetString("requestID"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if credential := c.GetString(handlers.CredentialContextKey); credential != "" {
			entry = entry.WithField("key", security.Fingerprint(credential))
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request completed")
		case status >= http.StatusBadRequest:
			entry.Warn("request completed")
		default:
			entry.Info("request completed")
		}
	}
}

// rateLimitMiddleware enforces the per-credential limit. Backend errors let
// the request through.
func rateLimitMiddleware(manager *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !manager.Enabled() {
			c.Next()
			return
		}
		key := ratelimit.KeyForCredential(handlers.CredentialFrom(c))
		if key == "" {
			c.Next()
			return
		}
		result, errAllow := manager.Allow(c.Request.Context(), key)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit: check failed, allowing request")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfter(manager.Now())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
