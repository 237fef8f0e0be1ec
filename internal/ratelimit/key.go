package ratelimit

import (
	"strings"

	"github.com/router-for-me/gatewayconsole/internal/security"
)

// KeyForCredential builds the limiter key of a console credential. The raw
// credential never reaches the backend. Empty credentials are not limited.
func KeyForCredential(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ""
	}
	return "k:" + security.Fingerprint(credential)
}
