package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/billing"
	"github.com/router-for-me/gatewayconsole/internal/db"
	"github.com/router-for-me/gatewayconsole/internal/models"
	"github.com/router-for-me/gatewayconsole/internal/ratelimit"
	"github.com/router-for-me/gatewayconsole/internal/stats"
	"gorm.io/gorm"
)

const consoleDocument = `api_keys:
  - api: sk-admin
    role: admin
  - api: sk-user
    role: team
    model:
      - all
providers:
  - provider: openai
    base_url: https://api.openai.com/v1/chat/completions
    api: sk-up
    model:
      - gpt-4o
`

type testEnv struct {
	engine *gin.Engine
	store  *apiconfig.Store
	conn   *gorm.DB
}

func newTestEnv(t *testing.T, backend http.Handler, limit int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	if err := os.WriteFile(path, []byte(consoleDocument), 0o600); err != nil {
		t.Fatalf("write document: %v", err)
	}
	conn, err := db.Open(filepath.Join(dir, "stats.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})

	var billingClient *billing.Client
	if backend != nil {
		server := httptest.NewServer(backend)
		t.Cleanup(server.Close)
		billingClient = billing.NewClient(server.URL, server.Client())
	} else {
		billingClient = billing.NewClient("http://127.0.0.1:1", nil)
	}

	now := time.Unix(1_700_000_000, 0)
	limiter := ratelimit.NewManager(ratelimit.StaticSettings(ratelimit.SettingsConfig{Limit: limit}), func() time.Time { return now }, nil)

	engine := gin.New()
	store := apiconfig.NewStore(path)
	RegisterAdminRoutes(engine, Dependencies{Store: store, DB: conn, Billing: billingClient, Limiter: limiter})
	return &testEnv{engine: engine, store: store, conn: conn}
}

func (e *testEnv) do(t *testing.T, method, target, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthzAndRequestID(t *testing.T) {
	env := newTestEnv(t, nil, 0)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("expected ok health, got %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "trace-1")
	rec = httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	if rec.Header().Get(headerRequestID) != "trace-1" {
		t.Fatalf("expected request id echoed, got %q", rec.Header().Get(headerRequestID))
	}
}

func TestKeysManage_AuthErrors(t *testing.T) {
	env := newTestEnv(t, nil, 0)
	if rec := env.do(t, http.MethodGet, "/api/keys/manage", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credential, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/keys/manage", "sk-user", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/keys/manage", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed header, got %d", rec.Code)
	}
}

func TestKeysManage_Lifecycle(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.do(t, http.MethodPost, "/api/keys/manage", "", map[string]any{
		"apiKey": "sk-admin", "alias": "ci", "credits": 5, "billing_mode": "count",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on create with body credential, got %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Success bool `json:"success"`
		Key     struct {
			API         string   `json:"api"`
			Alias       string   `json:"alias"`
			Credits     float64  `json:"credits"`
			BillingMode string   `json:"billing_mode"`
			Model       []string `json:"model"`
		} `json:"key"`
	}
	decode(t, rec, &created)
	if !created.Success || created.Key.Alias != "ci" || created.Key.Credits != 5 || created.Key.BillingMode != "count" {
		t.Fatalf("unexpected created key %+v", created)
	}
	if len(created.Key.Model) != 1 || created.Key.Model[0] != "all" {
		t.Fatalf("expected default model list, got %v", created.Key.Model)
	}

	rec = env.do(t, http.MethodGet, "/api/keys/manage?apiKey=sk-admin", "", nil)
	var listed struct {
		Keys []struct {
			API string `json:"api"`
		} `json:"keys"`
	}
	decode(t, rec, &listed)
	if len(listed.Keys) != 2 {
		t.Fatalf("expected user key and created key, got %+v", listed.Keys)
	}

	rec = env.do(t, http.MethodPut, "/api/keys/manage", "sk-admin", map[string]any{"targetKey": "sk-admin", "credits": 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when editing the admin key, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/api/keys/manage", "sk-admin", map[string]any{"targetKey": created.Key.API, "credits": 9})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"credits":9`) {
		t.Fatalf("expected credits updated, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/api/keys/manage?targetKey="+created.Key.API, "sk-admin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected delete to succeed, got %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodDelete, "/api/keys/manage?targetKey="+created.Key.API, "sk-admin", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestProvidersManage(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.do(t, http.MethodGet, "/api/providers/manage", "sk-user", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"modelPrices"`) {
		t.Fatalf("expected provider list for any key, got %d %s", rec.Code, rec.Body.String())
	}

	payload := map[string]any{"provider": map[string]any{"provider": "openai", "base_url": "https://x.example", "api": "k"}}
	if rec := env.do(t, http.MethodPost, "/api/providers/manage", "sk-admin", payload); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate provider, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/providers/manage", "sk-user", payload); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin create, got %d", rec.Code)
	}
	bad := map[string]any{"provider": map[string]any{"provider": "new"}}
	rec = env.do(t, http.MethodPost, "/api/providers/manage", "sk-admin", bad)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "base_url is required") {
		t.Fatalf("expected validation error, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodDelete, "/api/providers/manage?provider=openai", "sk-admin", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected delete to succeed, got %d", rec.Code)
	}
}

func TestProvidersTest_MissingParameters(t *testing.T) {
	env := newTestEnv(t, nil, 0)
	rec := env.do(t, http.MethodPost, "/api/providers/test", "sk-user", map[string]any{"provider": "x"})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Fatalf("expected 400 with success=false, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatsAndLogs(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"query_details":{"billing_mode":"token","credits":3.5}}`))
	})
	env := newTestEnv(t, backend, 0)
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := []models.RequestStat{
		{Endpoint: stats.ChatEndpoint, Provider: "openai", Model: "gpt-4o", APIKey: "sk-user", TotalTokens: 30, Timestamp: at},
		{Endpoint: stats.ChatEndpoint, Provider: "openai", Model: "gpt-4o", APIKey: "sk-user", TotalTokens: 10, Timestamp: at.Add(time.Minute)},
	}
	if err := env.conn.Create(&rows).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	channel := models.ChannelStat{Provider: "openai", Model: "gpt-4o", APIKey: "sk-user", Success: false, Timestamp: at.Add(time.Minute)}
	if err := env.conn.Create(&channel).Error; err != nil {
		t.Fatalf("insert channel: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/stats/overview", "sk-user", nil)
	var overview map[string]any
	decode(t, rec, &overview)
	if overview["requests"] != float64(2) || overview["totalTokens"] != float64(40) {
		t.Fatalf("unexpected overview %v", overview)
	}
	if overview["billingMode"] != "token" || overview["credits"] != 3.5 {
		t.Fatalf("expected billing fields merged, got %v", overview)
	}
	if _, ok := overview["balance"]; ok {
		t.Fatalf("expected absent billing fields omitted")
	}

	rec = env.do(t, http.MethodGet, "/api/stats/models", "sk-user", nil)
	var modelStats []map[string]any
	decode(t, rec, &modelStats)
	if len(modelStats) != 1 || modelStats[0]["requests"] != float64(2) || modelStats[0]["failures"] != float64(1) {
		t.Fatalf("unexpected model stats %v", modelStats)
	}

	rec = env.do(t, http.MethodGet, "/api/logs?status=false&limit=abc", "sk-user", nil)
	var page struct {
		Logs []struct {
			Success bool `json:"success"`
		} `json:"logs"`
		HasNextPage bool `json:"hasNextPage"`
	}
	decode(t, rec, &page)
	if len(page.Logs) != 2 || page.HasNextPage {
		t.Fatalf("expected both rows resolved as failed, got %+v", page)
	}

	rec = env.do(t, http.MethodGet, "/api/logs?limit=0", "sk-user", nil)
	page.Logs, page.HasNextPage = nil, false
	decode(t, rec, &page)
	if len(page.Logs) != 1 || !page.HasNextPage {
		t.Fatalf("expected limit=0 to return 1 row and a next page, got %+v", page)
	}

	if rec := env.do(t, http.MethodGet, "/api/keys/usage?targetKey=sk-user", "sk-user", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin usage, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/keys/usage", "sk-admin", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without targetKey, got %d", rec.Code)
	}
}

func TestOverview_BillingFailureOmitsFields(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), 0)
	rec := env.do(t, http.MethodGet, "/api/stats/overview", "sk-user", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite billing failure, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "billingMode") {
		t.Fatalf("expected billing fields omitted, got %s", rec.Body.String())
	}
}

func TestBilling(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-admin" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("admin only"))
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})
	env := newTestEnv(t, backend, 0)

	rec := env.do(t, http.MethodPost, "/api/billing/add-credits", "", map[string]any{"paid_key": "sk-user", "amount": 5})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Missing or invalid authorization header") {
		t.Fatalf("expected 401 without bearer, got %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/billing/add-credits", "sk-admin", map[string]any{"paid_key": "sk-user", "amount": 0})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Invalid parameters") {
		t.Fatalf("expected 400 for zero amount, got %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/billing/add-credits", "sk-admin", map[string]any{"paid_key": "sk-user", "amount": 5})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("expected relayed success, got %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/billing/states", "sk-user", nil)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "Backend API error: 403 admin only") {
		t.Fatalf("expected backend status relayed, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, nil, 1)
	first := env.do(t, http.MethodGet, "/api/providers/manage", "sk-user", nil)
	if first.Code != http.StatusOK || first.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected first request allowed, got %d remaining=%q", first.Code, first.Header().Get("X-RateLimit-Remaining"))
	}
	second := env.do(t, http.MethodGet, "/api/providers/manage", "sk-user", nil)
	if second.Code != http.StatusTooManyRequests || second.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", second.Code, second.Header().Get("Retry-After"))
	}
	if other := env.do(t, http.MethodGet, "/api/providers/manage", "sk-admin", nil); other.Code != http.StatusOK {
		t.Fatalf("expected other credential unaffected, got %d", other.Code)
	}
}
