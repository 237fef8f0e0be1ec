package keyregistry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/errs"
)

const registryDocument = `api_keys:
  - api: sk-admin
    role: admin
  - api: sk-admin-backup
    role: admin-backup
  - api: sk-user
    role: team-a
    model:
      - gpt-4o
    preferences:
      billing_mode: token
      credits: 5
      created_at: "2024-01-01T00:00:00.000Z"
`

func newTestRegistry(t *testing.T) (*Registry, *apiconfig.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.yaml")
	if errWrite := os.WriteFile(path, []byte(registryDocument), 0o600); errWrite != nil {
		t.Fatalf("write document: %v", errWrite)
	}
	store := apiconfig.NewStore(path)
	registry := New(store)
	registry.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 8_000_000, time.UTC) }
	return registry, store
}

func TestList_ExcludesProtectedEntries(t *testing.T) {
	registry, _ := newTestRegistry(t)
	keys, err := registry.List("sk-admin")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0].API != "sk-user" {
		t.Fatalf("expected only sk-user, got %+v", keys)
	}
	if keys[0].Name != "team-a" || keys[0].Credits != 5 || keys[0].BillingMode != "token" {
		t.Fatalf("unexpected projection: %+v", keys[0])
	}

	if _, err := registry.List("sk-user"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}
	if _, err := registry.List("sk-missing"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown key, got %v", err)
	}
}

func TestCreate_DefaultsAndPersists(t *testing.T) {
	registry, store := newTestRegistry(t)
	key, err := registry.Create("sk-admin", CreateParams{DisplayName: " ci-bot "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(key.API) != len("sk-")+48 {
		t.Fatalf("unexpected generated key %q", key.API)
	}
	if key.Name != "ci-bot" || key.BillingMode != "token" || key.Credits != 0 {
		t.Fatalf("unexpected defaults: %+v", key)
	}
	if len(key.Models) != 1 || key.Models[0] != "all" {
		t.Fatalf("expected default models [all], got %v", key.Models)
	}
	if key.CreatedAt != "2025-03-04T05:06:07.008Z" {
		t.Fatalf("unexpected created_at %q", key.CreatedAt)
	}

	doc, errLoad := store.Load()
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if doc.FindKey(key.API) < 0 {
		t.Fatalf("expected created key to be persisted")
	}
}

func TestCreate_Validation(t *testing.T) {
	registry, store := newTestRegistry(t)
	cases := []CreateParams{
		{DisplayName: ""},
		{DisplayName: "my-admin"},
		{DisplayName: "ok", BillingMode: "monthly"},
	}
	negative := -1.0
	cases = append(cases, CreateParams{DisplayName: "ok", Credits: &negative})
	for _, params := range cases {
		if _, err := registry.Create("sk-admin", params); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", params, err)
		}
	}
	doc, _ := store.Load()
	if len(doc.APIKeys) != 3 {
		t.Fatalf("expected document untouched, got %d keys", len(doc.APIKeys))
	}
}

func TestCreate_RetriesOnCollision(t *testing.T) {
	registry, _ := newTestRegistry(t)
	generated := []string{"sk-user", "sk-fresh"}
	registry.generate = func() (string, error) {
		next := generated[0]
		generated = generated[1:]
		return next, nil
	}
	key, err := registry.Create("sk-admin", CreateParams{DisplayName: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if key.API != "sk-fresh" {
		t.Fatalf("expected colliding key to be skipped, got %q", key.API)
	}
}

func TestUpdate_PartialFields(t *testing.T) {
	registry, store := newTestRegistry(t)
	credits := 42.0
	key, err := registry.Update("sk-admin", "sk-user", UpdateParams{Credits: &credits})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if key.Credits != 42 || key.Name != "team-a" || key.BillingMode != "token" || key.Models[0] != "gpt-4o" {
		t.Fatalf("expected only credits to change, got %+v", key)
	}

	empty := []string{}
	mode := "hybrid"
	key, err = registry.Update("sk-admin", "sk-user", UpdateParams{Models: &empty, BillingMode: &mode})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(key.Models) != 1 || key.Models[0] != "all" || key.BillingMode != "hybrid" || key.Credits != 42 {
		t.Fatalf("unexpected update result: %+v", key)
	}

	doc, _ := store.Load()
	entry := doc.APIKeys[doc.FindKey("sk-user")]
	if entry.BillingMode() != "hybrid" || entry.Credits() != 42 {
		t.Fatalf("update not persisted: %+v", entry)
	}
}

func TestUpdateAndDelete_ProtectedAndMissing(t *testing.T) {
	registry, store := newTestRegistry(t)
	name := "renamed"
	for _, targetKey := range []string{"sk-admin", "sk-admin-backup"} {
		if _, err := registry.Update("sk-admin", targetKey, UpdateParams{DisplayName: &name}); !errors.Is(err, errs.ErrForbidden) {
			t.Fatalf("expected forbidden updating %s, got %v", targetKey, err)
		}
		if err := registry.Delete("sk-admin", targetKey); !errors.Is(err, errs.ErrForbidden) {
			t.Fatalf("expected forbidden deleting %s, got %v", targetKey, err)
		}
	}
	if _, err := registry.Update("sk-admin", "sk-missing", UpdateParams{DisplayName: &name}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := registry.Delete("sk-admin", "sk-missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := registry.Delete("sk-user", "sk-user"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin caller, got %v", err)
	}

	if err := registry.Delete("sk-admin", "sk-user"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	doc, _ := store.Load()
	if doc.FindKey("sk-user") >= 0 || len(doc.APIKeys) != 2 {
		t.Fatalf("expected sk-user removed, got %d keys", len(doc.APIKeys))
	}
}
