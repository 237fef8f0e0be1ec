// Package providerregistry manages upstream provider entries and their
// per-model pricing in the config document.
package providerregistry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/router-for-me/gatewayconsole/internal/access"
	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/errs"
)

// Store is the config document access the registry needs.
type Store interface {
	access.Loader
	Update(fn func(doc *apiconfig.Document) error) error
}

// Registry lists and edits provider entries.
type Registry struct {
	store Store
}

// New constructs a Registry over store.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// Payload is a provider as submitted for create or update.
type Payload struct {
	Provider    string                   `json:"provider"`
	BaseURL     string                   `json:"base_url"`
	API         apiconfig.ProviderKeys   `json:"api"`
	Models      []apiconfig.ModelMapping `json:"model"`
	ModelPrices map[string]PriceInput    `json:"modelPrices"`
}

// PriceInput is the submitted pricing for one display name.
type PriceInput struct {
	TokenPrice apiconfig.TokenPrice `json:"tokenPrice"`
	CountPrice Amount               `json:"countPrice"`
}

// Amount is a price that may arrive as a JSON number or a numeric string.
type Amount float64

// UnmarshalJSON accepts 0.002, "0.002" and "" (zero).
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if errUnmarshal := json.Unmarshal(data, &raw); errUnmarshal != nil {
			return errUnmarshal
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*a = 0
			return nil
		}
		value, errParse := strconv.ParseFloat(raw, 64)
		if errParse != nil {
			return fmt.Errorf("invalid price %q", raw)
		}
		*a = Amount(value)
		return nil
	}
	var value float64
	if errUnmarshal := json.Unmarshal(data, &value); errUnmarshal != nil {
		return errUnmarshal
	}
	*a = Amount(value)
	return nil
}

// ModelPrice is the resolved pricing shown for one model of a provider.
type ModelPrice struct {
	TokenPrice   apiconfig.TokenPrice `json:"tokenPrice"`
	CountPrice   float64              `json:"countPrice"`
	OriginalName string               `json:"originalName"`
}

// Provider is a stored entry annotated with resolved pricing.
type Provider struct {
	Entry       apiconfig.ProviderEntry
	ModelPrices map[string]ModelPrice
}

// MarshalJSON flattens the entry, including fields the console does not manage,
// and adds modelPrices.
func (p Provider) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Entry.Extra)+5)
	for key, value := range p.Entry.Extra {
		out[key] = value
	}
	out["provider"] = p.Entry.Provider
	out["base_url"] = p.Entry.BaseURL
	out["api"] = p.Entry.API
	if len(p.Entry.Models) > 0 {
		out["model"] = p.Entry.Models
	}
	out["modelPrices"] = p.ModelPrices
	return json.Marshal(out)
}

// List returns every provider with its resolved pricing. Any known credential may read.
func (r *Registry) List(credential string) ([]Provider, error) {
	doc, errAuth := access.AuthorizeAny(r.store, credential)
	if errAuth != nil {
		return nil, errAuth
	}
	return Annotate(doc), nil
}

// Annotate resolves the pricing of every model mapping in doc.
func Annotate(doc *apiconfig.Document) []Provider {
	providers := make([]Provider, 0, len(doc.Providers))
	for _, entry := range doc.Providers {
		prices := make(map[string]ModelPrice, len(entry.Models))
		for _, mapping := range entry.Models {
			display := mapping.Display()
			if display == "" {
				continue
			}
			prices[display] = ModelPrice{
				TokenPrice:   doc.ResolveTokenPrice(display),
				CountPrice:   doc.ResolveCountPrice(display),
				OriginalName: mapping.Original(),
			}
		}
		providers = append(providers, Provider{Entry: entry, ModelPrices: prices})
	}
	return providers
}

// Validate returns every problem with p; an empty result means p is acceptable.
func Validate(p Payload) []string {
	var problems []string
	if strings.TrimSpace(p.Provider) == "" {
		problems = append(problems, "provider name is required")
	}
	baseURL := strings.TrimSpace(p.BaseURL)
	if baseURL == "" {
		problems = append(problems, "base_url is required")
	}
	if p.API.IsZero() {
		problems = append(problems, "api key is required")
	}
	if baseURL != "" {
		if parsed, errParse := url.Parse(baseURL); errParse != nil || parsed.Scheme == "" || parsed.Host == "" {
			problems = append(problems, "base_url is not a valid URL")
		}
	}
	return problems
}

// Create appends a new provider. A duplicate name is a conflict and leaves
// the document unchanged.
func (r *Registry) Create(adminCredential string, p Payload) (apiconfig.ProviderEntry, error) {
	var created apiconfig.ProviderEntry
	errUpdate := r.store.Update(func(doc *apiconfig.Document) error {
		if _, errCheck := access.Check(doc, adminCredential, true); errCheck != nil {
			return errCheck
		}
		if problems := Validate(p); len(problems) > 0 {
			return errs.NewValidation(problems...)
		}
		created = normalize(p)
		if doc.FindProvider(created.Provider) >= 0 {
			return fmt.Errorf("%w: provider %q already exists", errs.ErrConflict, created.Provider)
		}
		doc.Providers = append(doc.Providers, created)
		ApplyPricing(doc, p.ModelPrices)
		return nil
	})
	if errUpdate != nil {
		return apiconfig.ProviderEntry{}, errUpdate
	}
	return created, nil
}

// Update replaces the provider named originalName with p. Renaming checks
// the new name for collisions first.
func (r *Registry) Update(adminCredential, originalName string, p Payload) (apiconfig.ProviderEntry, error) {
	var updated apiconfig.ProviderEntry
	errUpdate := r.store.Update(func(doc *apiconfig.Document) error {
		if _, errCheck := access.Check(doc, adminCredential, true); errCheck != nil {
			return errCheck
		}
		if problems := Validate(p); len(problems) > 0 {
			return errs.NewValidation(problems...)
		}
		idx := doc.FindProvider(strings.TrimSpace(originalName))
		if idx < 0 {
			return fmt.Errorf("%w: provider %q", errs.ErrNotFound, originalName)
		}
		updated = normalize(p)
		if updated.Provider != doc.Providers[idx].Provider && doc.FindProvider(updated.Provider) >= 0 {
			return fmt.Errorf("%w: provider %q already exists", errs.ErrConflict, updated.Provider)
		}
		doc.Providers[idx] = updated
		ApplyPricing(doc, p.ModelPrices)
		return nil
	})
	if errUpdate != nil {
		return apiconfig.ProviderEntry{}, errUpdate
	}
	return updated, nil
}

// Delete removes the provider named name.
func (r *Registry) Delete(adminCredential, name string) error {
	name = strings.TrimSpace(name)
	return r.store.Update(func(doc *apiconfig.Document) error {
		if _, errCheck := access.Check(doc, adminCredential, true); errCheck != nil {
			return errCheck
		}
		if name == "" {
			return errs.NewValidation("provider name is required")
		}
		idx := doc.FindProvider(name)
		if idx < 0 {
			return fmt.Errorf("%w: provider %q", errs.ErrNotFound, name)
		}
		doc.Providers = append(doc.Providers[:idx], doc.Providers[idx+1:]...)
		return nil
	})
}

// ApplyPricing writes submitted prices into the document's preferences.
//
// A positive count price marks the model count-billed: the count price is
// stored and a supplied token price is kept beside it. Otherwise a supplied
// token price marks it token-billed and any count price for it is removed.
// A nil map leaves preferences alone; an empty one still creates the sections.
func ApplyPricing(doc *apiconfig.Document, prices map[string]PriceInput) {
	if prices == nil {
		return
	}
	prefs := doc.EnsurePricing()
	names := make([]string, 0, len(prices))
	for name := range prices {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		price := prices[name]
		switch {
		case price.CountPrice > 0:
			prefs.CountBilling.ModelCountPrices[name] = float64(price.CountPrice)
			if !price.TokenPrice.IsZero() {
				prefs.ModelPrice[name] = price.TokenPrice
			}
		case !price.TokenPrice.IsZero():
			prefs.ModelPrice[name] = price.TokenPrice
			delete(prefs.CountBilling.ModelCountPrices, name)
		}
	}
}

// normalize keeps only the stored fields; the model list only when supplied.
func normalize(p Payload) apiconfig.ProviderEntry {
	entry := apiconfig.ProviderEntry{
		Provider: strings.TrimSpace(p.Provider),
		BaseURL:  strings.TrimSpace(p.BaseURL),
		API:      apiconfig.NewProviderKeys(p.API.Keys()...),
	}
	if len(p.Models) > 0 {
		entry.Models = append([]apiconfig.ModelMapping(nil), p.Models...)
	}
	return entry
}
