package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// CredentialContextKey holds the resolved credential in the gin context.
	CredentialContextKey = "consoleCredential"

	maxPeekBytes = 1 << 20
)

// msgInvalidAuthorization is the response for a missing or non-bearer header
// where one is required.
const msgInvalidAuthorization = "Missing or invalid authorization header"

var errMalformedAuthorization = errors.New("malformed authorization header")

// BearerToken returns the token of an "Authorization: Bearer <k>" header.
func BearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// ResolveCredential finds the caller's credential in the Authorization header,
// the apiKey query parameter or the apiKey field of a JSON body, in that order.
// A JSON body is restored after reading. A header that is present but not a
// bearer token is an error.
func ResolveCredential(c *gin.Context) (string, error) {
	if c.GetHeader("Authorization") != "" {
		token, ok := BearerToken(c)
		if !ok {
			return "", errMalformedAuthorization
		}
		return token, nil
	}
	if key := strings.TrimSpace(c.Query("apiKey")); key != "" {
		return key, nil
	}
	return peekBodyCredential(c.Request), nil
}

func peekBodyCredential(req *http.Request) string {
	if req.Body == nil || req.Method == http.MethodGet || req.Method == http.MethodHead {
		return ""
	}
	if !strings.Contains(strings.ToLower(req.Header.Get("Content-Type")), "json") {
		return ""
	}
	data, errRead := io.ReadAll(io.LimitReader(req.Body, maxPeekBytes))
	req.Body = io.NopCloser(bytes.NewReader(data))
	if errRead != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		APIKey string `json:"apiKey"`
	}
	if errUnmarshal := json.Unmarshal(data, &body); errUnmarshal != nil {
		return ""
	}
	return strings.TrimSpace(body.APIKey)
}

// CredentialMiddleware resolves the credential once per request.
func CredentialMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, errResolve := ResolveCredential(c)
		if errResolve != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgInvalidAuthorization})
			return
		}
		c.Set(CredentialContextKey, credential)
		c.Next()
	}
}

// CredentialFrom returns the credential resolved by CredentialMiddleware,
// resolving it directly when the middleware did not run.
func CredentialFrom(c *gin.Context) string {
	if value, ok := c.Get(CredentialContextKey); ok {
		if credential, okString := value.(string); okString {
			return credential
		}
	}
	credential, _ := ResolveCredential(c)
	return credential
}
