// Package app wires configuration, storage and the HTTP surface into the
// console server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/billing"
	"github.com/router-for-me/gatewayconsole/internal/config"
	"github.com/router-for-me/gatewayconsole/internal/db"
	admin "github.com/router-for-me/gatewayconsole/internal/http/api/admin"
	"github.com/router-for-me/gatewayconsole/internal/probe"
	"github.com/router-for-me/gatewayconsole/internal/ratelimit"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Migrate opens the statistics database and creates the tables and indexes.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conn, err := db.Open(cfg.DBConnection)
	if err != nil {
		return err
	}
	defer closeDB(conn)
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.WithFields(describeDSN(cfg.DBConnection).Fields()).Info("statistics database migrated")
	return nil
}

// RunServer serves the console API until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	conn, err := db.Open(cfg.DBConnection)
	if err != nil {
		return err
	}
	defer closeDB(conn)

	store := apiconfig.NewStore(cfg.APIYAMLPath)
	if !ConfigExists(store.Path()) {
		log.Warnf("gateway config %s not found; run bootstrap to create it", store.Path())
	} else if ok, errCheck := HasAdminKey(store); errCheck != nil {
		return fmt.Errorf("read gateway config: %w", errCheck)
	} else if !ok {
		log.Warnf("gateway config %s has no admin key; admin routes will refuse every caller", store.Path())
	}

	limiter := ratelimit.NewManager(ratelimit.StaticSettings(ratelimit.SettingsConfig{
		Limit:         cfg.RateLimit.Limit,
		RedisAddr:     cfg.RateLimit.RedisAddr,
		RedisPassword: cfg.RateLimit.RedisPassword,
		RedisDB:       cfg.RateLimit.RedisDB,
	}), nil, nil)
	defer func() {
		if errClose := limiter.Close(); errClose != nil {
			log.WithError(errClose).Warn("close rate limiter")
		}
	}()

	engine := newEngine(admin.Dependencies{
		Store:   store,
		DB:      conn,
		Billing: billing.NewClient(cfg.UniAPIURL, nil),
		Prober:  probe.New(nil),
		Limiter: limiter,
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("console server shutdown error: %v", errShutdown)
		}
	}()

	log.WithFields(describeDSN(cfg.DBConnection).Fields()).WithFields(log.Fields{
		"listen":   cfg.Listen,
		"api_yaml": store.Path(),
		"backend":  cfg.UniAPIURL,
	}).Info("starting console server")

	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	return nil
}

// newEngine builds the gin engine with recovery, CORS and the console routes.
func newEngine(deps admin.Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	admin.RegisterAdminRoutes(engine, deps)
	return engine
}

// corsMiddleware enables permissive CORS for the browser console.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Remaining, Retry-After")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func closeDB(conn *gorm.DB) {
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return
	}
	if errClose := sqlDB.Close(); errClose != nil {
		log.Errorf("sql db close error: %v", errClose)
	}
}
