package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/config"
	"github.com/router-for-me/gatewayconsole/internal/db"
	admin "github.com/router-for-me/gatewayconsole/internal/http/api/admin"
)

func TestNewEngine_CORSAndHealth(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(filepath.Join(dir, "stats.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer closeDB(conn)

	engine := newEngine(admin.Dependencies{Store: apiconfig.NewStore(filepath.Join(dir, "api.yaml")), DB: conn})

	preflight := httptest.NewRequest(http.MethodOptions, "/api/keys/manage", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, preflight)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy engine, got %d", rec.Code)
	}
}

func TestMigrate_CreatesTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stats.db")
	cfg := config.Defaults()
	cfg.DBConnection = "file:" + path
	if err := Migrate(testContext(t), cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !ConfigExists(path) {
		t.Fatalf("expected database file at %s", path)
	}

	conn, err := db.Open(cfg.DBConnection)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer closeDB(conn)
	for _, table := range []string{"request_stats", "channel_stats"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}
