// Package keyregistry manages non-admin API key entries in the config document.
package keyregistry

import (
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/gatewayconsole/internal/access"
	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/errs"
	"github.com/router-for-me/gatewayconsole/internal/security"
)

// createdAtLayout matches the ISO timestamps the gateway writes.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// maxGenerateAttempts bounds retries when a generated key collides.
const maxGenerateAttempts = 5

// Store is the config document access the registry needs.
type Store interface {
	access.Loader
	Update(fn func(doc *apiconfig.Document) error) error
}

// Registry lists, creates, updates and deletes secondary API keys.
type Registry struct {
	store    Store
	now      func() time.Time
	generate func() (string, error)
}

// New constructs a Registry over store.
func New(store Store) *Registry {
	return &Registry{
		store:    store,
		now:      time.Now,
		generate: security.GenerateAPIKey,
	}
}

// Key is the projection of an entry returned to callers.
type Key struct {
	API         string   `json:"api"`
	Name        string   `json:"name"`
	Credits     float64  `json:"credits"`
	BillingMode string   `json:"billing_mode"`
	Models      []string `json:"model"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

// CreateParams describes a new key.
type CreateParams struct {
	DisplayName string
	Credits     *float64
	BillingMode string
	Models      []string
}

// UpdateParams holds the fields to change. Nil fields are left as they are.
type UpdateParams struct {
	DisplayName *string
	Credits     *float64
	BillingMode *string
	Models      *[]string
}

// List returns every entry that registry operations may manage.
func (r *Registry) List(adminCredential string) ([]Key, error) {
	doc, errAuth := access.AuthorizeAdmin(r.store, adminCredential)
	if errAuth != nil {
		return nil, errAuth
	}
	keys := make([]Key, 0, len(doc.APIKeys))
	for _, entry := range doc.APIKeys {
		if entry.Protected() {
			continue
		}
		keys = append(keys, project(entry))
	}
	return keys, nil
}

// Create appends a new entry with a freshly generated credential.
func (r *Registry) Create(adminCredential string, params CreateParams) (Key, error) {
	name := strings.TrimSpace(params.DisplayName)
	mode := strings.TrimSpace(params.BillingMode)
	if mode == "" {
		mode = apiconfig.DefaultKeyBillingMode
	}
	credits := 0.0
	if params.Credits != nil {
		credits = *params.Credits
	}

	var created apiconfig.APIKeyEntry
	errUpdate := r.store.Update(func(doc *apiconfig.Document) error {
		if _, errCheck := access.Check(doc, adminCredential, true); errCheck != nil {
			return errCheck
		}
		if errValidate := validate(name, mode, credits, true); errValidate != nil {
			return errValidate
		}
		credential, errGenerate := r.uniqueCredential(doc)
		if errGenerate != nil {
			return errGenerate
		}
		created = apiconfig.APIKeyEntry{
			API:    credential,
			Label:  name,
			Models: apiconfig.NewModelList(normalizeModels(params.Models)...),
			Preferences: &apiconfig.KeyPreferences{
				BillingMode: mode,
				Credits:     &credits,
				CreatedAt:   r.now().UTC().Format(createdAtLayout),
			},
		}
		doc.APIKeys = append(doc.APIKeys, created)
		return nil
	})
	if errUpdate != nil {
		return Key{}, errUpdate
	}
	return project(created), nil
}

// Update applies the supplied fields to the entry with targetCredential.
func (r *Registry) Update(adminCredential, targetCredential string, params UpdateParams) (Key, error) {
	var updated apiconfig.APIKeyEntry
	errUpdate := r.store.Update(func(doc *apiconfig.Document) error {
		if _, errCheck := access.Check(doc, adminCredential, true); errCheck != nil {
			return errCheck
		}
		entry, errTarget := target(doc, targetCredential, "modify")
		if errTarget != nil {
			return errTarget
		}

		name := entry.Label
		if params.DisplayName != nil {
			name = strings.TrimSpace(*params.DisplayName)
		}
		mode := entry.BillingMode()
		if params.BillingMode != nil {
			mode = strings.TrimSpace(*params.BillingMode)
		}
		credits := entry.Credits()
		if params.Credits != nil {
			credits = *params.Credits
		}
		if errValidate := validate(name, mode, credits, params.DisplayName != nil); errValidate != nil {
			return errValidate
		}

		if entry.Preferences == nil && (params.Credits != nil || params.BillingMode != nil) {
			entry.Preferences = &apiconfig.KeyPreferences{}
		}
		if params.DisplayName != nil {
			entry.Label = name
		}
		if params.Credits != nil {
			entry.Preferences.Credits = &credits
		}
		if params.BillingMode != nil {
			entry.Preferences.BillingMode = mode
		}
		if params.Models != nil {
			entry.Models = apiconfig.NewModelList(normalizeModels(*params.Models)...)
		}
		updated = *entry
		return nil
	})
	if errUpdate != nil {
		return Key{}, errUpdate
	}
	return project(updated), nil
}

// Delete removes the entry with targetCredential.
func (r *Registry) Delete(adminCredential, targetCredential string) error {
	return r.store.Update(func(doc *apiconfig.Document) error {
		if _, errCheck := access.Check(doc, adminCredential, true); errCheck != nil {
			return errCheck
		}
		if _, errTarget := target(doc, targetCredential, "delete"); errTarget != nil {
			return errTarget
		}
		idx := doc.FindKey(targetCredential)
		doc.APIKeys = append(doc.APIKeys[:idx], doc.APIKeys[idx+1:]...)
		return nil
	})
}

func target(doc *apiconfig.Document, credential, verb string) (*apiconfig.APIKeyEntry, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, errs.NewValidation("target key is required")
	}
	idx := doc.FindKey(credential)
	if idx < 0 {
		return nil, fmt.Errorf("%w: target key", errs.ErrNotFound)
	}
	entry := &doc.APIKeys[idx]
	if entry.Protected() {
		return nil, fmt.Errorf("%w: cannot %s an admin key", errs.ErrForbidden, verb)
	}
	return entry, nil
}

func (r *Registry) uniqueCredential(doc *apiconfig.Document) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		credential, errGenerate := r.generate()
		if errGenerate != nil {
			return "", fmt.Errorf("generate api key: %w", errGenerate)
		}
		if doc.FindKey(credential) < 0 {
			return credential, nil
		}
	}
	return "", fmt.Errorf("generate api key: %d collisions in a row", maxGenerateAttempts)
}

// validate checks the effective values of an entry. The display name is
// only checked when it is being set.
func validate(name, mode string, credits float64, checkName bool) error {
	var problems []string
	if checkName {
		switch {
		case name == "":
			problems = append(problems, "display name is required")
		case strings.Contains(strings.ToLower(name), apiconfig.RoleAdmin):
			problems = append(problems, "display name must not contain \"admin\"")
		}
	}
	switch mode {
	case apiconfig.BillingModeToken, apiconfig.BillingModeCount, apiconfig.BillingModeHybrid:
	default:
		problems = append(problems, fmt.Sprintf("billing mode must be one of token, count, hybrid (got %q)", mode))
	}
	if credits < 0 {
		problems = append(problems, "credits must not be negative")
	}
	if len(problems) > 0 {
		return errs.NewValidation(problems...)
	}
	return nil
}

func normalizeModels(models []string) []string {
	out := make([]string, 0, len(models))
	for _, model := range models {
		if model = strings.TrimSpace(model); model != "" {
			out = append(out, model)
		}
	}
	if len(out) == 0 {
		return []string{apiconfig.DefaultKeyModel}
	}
	return out
}

func project(entry apiconfig.APIKeyEntry) Key {
	return Key{
		API:         entry.API,
		Name:        entry.DisplayName(),
		Credits:     entry.Credits(),
		BillingMode: entry.BillingMode(),
		Models:      entry.Models.Names(),
		CreatedAt:   entry.CreatedAt(),
	}
}
