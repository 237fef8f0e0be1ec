// Package apiconfig models the gateway's YAML config document and provides
// load/save access to it.
package apiconfig

import (
	"strings"
)

// Billing modes accepted for API key preferences.
const (
	BillingModeToken  = "token"
	BillingModeCount  = "count"
	BillingModeHybrid = "hybrid"
)

// Role values derived from an entry's stored label.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Pricing fallbacks used when the document does not configure a value.
const (
	DefaultTokenPrice     = "1,2"
	DefaultCountPrice     = 0.001
	DefaultModelPriceKey  = "default"
	DefaultKeyModel       = "all"
	DefaultKeyBillingMode = BillingModeToken
)

// Document is the whole gateway config: key list, provider list and pricing preferences.
type Document struct {
	APIKeys     []APIKeyEntry `yaml:"api_keys"`
	Providers   ProviderList  `yaml:"providers,omitempty"`
	Preferences *Preferences  `yaml:"preferences,omitempty"`

	Extra map[string]any `yaml:",inline"` // Fields the console does not manage.
}

// APIKeyEntry is one gateway credential.
//
// The stored role field doubles as the display name of ordinary keys and as
// the admin marker. Role, DisplayName and Protected separate those meanings
// without changing the file format the gateway reads.
type APIKeyEntry struct {
	API         string          `yaml:"api"`
	Label       string          `yaml:"role,omitempty"`
	Models      ModelList       `yaml:"model,omitempty"`
	Preferences *KeyPreferences `yaml:"preferences,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// KeyPreferences holds per-key billing settings.
type KeyPreferences struct {
	BillingMode string   `yaml:"billing_mode,omitempty"`
	Credits     *float64 `yaml:"credits,omitempty"`
	CreatedAt   string   `yaml:"created_at,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// ProviderList is the document's provider section. A nil list is omitted on
// save; an empty one is written as "providers: []".
type ProviderList []ProviderEntry

// IsZero reports whether the section is absent.
func (l ProviderList) IsZero() bool { return l == nil }

// ProviderEntry is one upstream provider.
type ProviderEntry struct {
	Provider string         `yaml:"provider" json:"provider"`
	BaseURL  string         `yaml:"base_url" json:"base_url"`
	API      ProviderKeys   `yaml:"api,omitempty" json:"api"`
	Models   []ModelMapping `yaml:"model,omitempty" json:"model,omitempty"`

	Extra map[string]any `yaml:",inline" json:"-"`
}

// Preferences holds global pricing settings.
type Preferences struct {
	ModelPrice   map[string]TokenPrice `yaml:"model_price,omitempty"`
	CountBilling *CountBilling         `yaml:"count_billing,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// CountBilling configures per-request pricing.
type CountBilling struct {
	Enabled           bool               `yaml:"enabled"`
	DefaultCountPrice float64            `yaml:"default_count_price"`
	ModelCountPrices  map[string]float64 `yaml:"model_count_prices"`

	Extra map[string]any `yaml:",inline"`
}

// Role reports the entry's role. Only the exact label "admin" grants admin.
func (e APIKeyEntry) Role() string {
	if e.Label == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// IsAdmin reports whether the entry may perform admin operations.
func (e APIKeyEntry) IsAdmin() bool { return e.Role() == RoleAdmin }

// DisplayName is the human label of a non-admin entry.
func (e APIKeyEntry) DisplayName() string { return e.Label }

// Protected reports whether registry operations must refuse to touch the entry.
// Any label containing "admin" counts, so near-miss labels stay protected too.
func (e APIKeyEntry) Protected() bool {
	return strings.Contains(e.Label, RoleAdmin)
}

// BillingMode returns the entry's billing mode or the default.
func (e APIKeyEntry) BillingMode() string {
	if e.Preferences != nil && e.Preferences.BillingMode != "" {
		return e.Preferences.BillingMode
	}
	return DefaultKeyBillingMode
}

// Credits returns the entry's credit balance or zero.
func (e APIKeyEntry) Credits() float64 {
	if e.Preferences != nil && e.Preferences.Credits != nil {
		return *e.Preferences.Credits
	}
	return 0
}

// CreatedAt returns the stored creation timestamp, if any.
func (e APIKeyEntry) CreatedAt() string {
	if e.Preferences == nil {
		return ""
	}
	return e.Preferences.CreatedAt
}

// FindKey returns the index of the entry with credential, or -1.
func (d *Document) FindKey(credential string) int {
	if d == nil || credential == "" {
		return -1
	}
	for i := range d.APIKeys {
		if d.APIKeys[i].API == credential {
			return i
		}
	}
	return -1
}

// FindProvider returns the index of the provider named name, or -1.
func (d *Document) FindProvider(name string) int {
	if d == nil {
		return -1
	}
	for i := range d.Providers {
		if d.Providers[i].Provider == name {
			return i
		}
	}
	return -1
}

// EnsurePricing creates the pricing sections that are missing.
func (d *Document) EnsurePricing() *Preferences {
	if d.Preferences == nil {
		d.Preferences = &Preferences{}
	}
	if d.Preferences.ModelPrice == nil {
		d.Preferences.ModelPrice = make(map[string]TokenPrice)
	}
	if d.Preferences.CountBilling == nil {
		d.Preferences.CountBilling = &CountBilling{
			Enabled:           true,
			DefaultCountPrice: DefaultCountPrice,
		}
	}
	if d.Preferences.CountBilling.ModelCountPrices == nil {
		d.Preferences.CountBilling.ModelCountPrices = make(map[string]float64)
	}
	return d.Preferences
}

// ResolveTokenPrice returns the token price for a display name:
// the model's own price, then the "default" entry, then "1,2".
func (d *Document) ResolveTokenPrice(displayName string) TokenPrice {
	if d != nil && d.Preferences != nil {
		if price, ok := d.Preferences.ModelPrice[displayName]; ok && !price.IsZero() {
			return price
		}
		if price, ok := d.Preferences.ModelPrice[DefaultModelPriceKey]; ok && !price.IsZero() {
			return price
		}
	}
	return StringPrice(DefaultTokenPrice)
}

// ResolveCountPrice returns the per-request price for a display name:
// the model's own price, then the configured default, then 0.001.
func (d *Document) ResolveCountPrice(displayName string) float64 {
	if d != nil && d.Preferences != nil && d.Preferences.CountBilling != nil {
		cb := d.Preferences.CountBilling
		if price := cb.ModelCountPrices[displayName]; price > 0 {
			return price
		}
		if cb.DefaultCountPrice > 0 {
			return cb.DefaultCountPrice
		}
	}
	return DefaultCountPrice
}
