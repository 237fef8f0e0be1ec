package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/security"
)

// ConfigExists reports whether a file exists at configPath.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// HasAdminKey reports whether the gateway config holds at least one admin key.
func HasAdminKey(store *apiconfig.Store) (bool, error) {
	if store == nil {
		return false, fmt.Errorf("nil store")
	}
	doc, errLoad := store.Load()
	if errLoad != nil {
		return false, errLoad
	}
	for _, entry := range doc.APIKeys {
		if entry.IsAdmin() {
			return true, nil
		}
	}
	return false, nil
}

// Bootstrap writes a fresh gateway config holding one admin key and returns
// that key. adminKey is generated when empty. An existing file is never
// overwritten.
func Bootstrap(path, adminKey string) (string, error) {
	adminKey = strings.TrimSpace(adminKey)
	if adminKey == "" {
		generated, errGenerate := security.GenerateAPIKey()
		if errGenerate != nil {
			return "", fmt.Errorf("generate admin key: %w", errGenerate)
		}
		adminKey = generated
	}
	if !strings.HasPrefix(adminKey, security.APIKeyPrefix) {
		return "", fmt.Errorf("admin key must start with %q", security.APIKeyPrefix)
	}

	doc := &apiconfig.Document{
		APIKeys: []apiconfig.APIKeyEntry{{
			API:    adminKey,
			Label:  apiconfig.RoleAdmin,
			Models: apiconfig.NewModelList(apiconfig.DefaultKeyModel),
		}},
		Providers: apiconfig.ProviderList{},
	}
	if errCreate := apiconfig.NewStore(path).Create(doc); errCreate != nil {
		return "", errCreate
	}
	return adminKey, nil
}
