package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// APIKeyPrefix is prepended to every generated gateway credential.
const APIKeyPrefix = "sk-"

// apiKeyBodyLength is the number of alphanumeric characters after the prefix.
const apiKeyBodyLength = 48

// GenerateAPIKey returns "sk-" followed by exactly 48 characters from [A-Za-z0-9].
func GenerateAPIKey() (string, error) {
	return generateAPIKey(rand.Read)
}

// generateAPIKey draws random bytes until enough alphanumeric base64 characters
// have been collected. Stripping +, / and = shortens a chunk, so a single draw
// is not always enough.
func generateAPIKey(read func([]byte) (int, error)) (string, error) {
	var body strings.Builder
	buf := make([]byte, 48)
	for body.Len() < apiKeyBodyLength {
		if _, errRead := read(buf); errRead != nil {
			return "", fmt.Errorf("security: read random bytes: %w", errRead)
		}
		for _, ch := range base64.StdEncoding.EncodeToString(buf) {
			if !isAlphanumeric(ch) {
				continue
			}
			body.WriteRune(ch)
			if body.Len() == apiKeyBodyLength {
				break
			}
		}
	}
	return APIKeyPrefix + body.String(), nil
}

func isAlphanumeric(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

// Fingerprint returns a short stable digest of a credential for logs and
// limiter keys. The raw credential is never recoverable from it.
func Fingerprint(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}

// MaskKey keeps the prefix and last four characters of a credential.
func MaskKey(credential string) string {
	credential = strings.TrimSpace(credential)
	if len(credential) <= 8 {
		return strings.Repeat("*", len(credential))
	}
	return credential[:3] + strings.Repeat("*", len(credential)-7) + credential[len(credential)-4:]
}
