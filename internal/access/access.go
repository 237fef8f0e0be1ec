// Package access checks presented credentials against the config document.
package access

import (
	"fmt"
	"strings"

	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/errs"
)

// Loader is the part of the config store needed to authorize a request.
type Loader interface {
	Load() (*apiconfig.Document, error)
}

// Check verifies credential against doc. An unknown or empty credential is
// ErrUnauthorized; the role is only inspected after the lookup succeeds.
func Check(doc *apiconfig.Document, credential string, requireAdmin bool) (*apiconfig.APIKeyEntry, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: missing api key", errs.ErrUnauthorized)
	}
	idx := doc.FindKey(credential)
	if idx < 0 {
		return nil, fmt.Errorf("%w: unknown api key", errs.ErrUnauthorized)
	}
	entry := &doc.APIKeys[idx]
	if requireAdmin && !entry.IsAdmin() {
		return nil, fmt.Errorf("%w: admin api key required", errs.ErrForbidden)
	}
	return entry, nil
}

// AuthorizeAdmin loads the document and requires an admin credential. The
// loaded document is returned so read-only callers need no second load.
func AuthorizeAdmin(loader Loader, credential string) (*apiconfig.Document, error) {
	return authorize(loader, credential, true)
}

// AuthorizeAny loads the document and accepts any known credential.
func AuthorizeAny(loader Loader, credential string) (*apiconfig.Document, error) {
	return authorize(loader, credential, false)
}

func authorize(loader Loader, credential string, requireAdmin bool) (*apiconfig.Document, error) {
	doc, errLoad := loader.Load()
	if errLoad != nil {
		return nil, errLoad
	}
	if _, errCheck := Check(doc, credential, requireAdmin); errCheck != nil {
		return nil, errCheck
	}
	return doc, nil
}
