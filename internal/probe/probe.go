// Package probe checks that an upstream provider is reachable with a given
// credential by listing its models and sending a minimal chat request.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultCallTimeout bounds each of the two outbound calls.
	DefaultCallTimeout = 30 * time.Second
	// FallbackModel is tested when neither the caller nor the listing names a model.
	FallbackModel = "gpt-3.5-turbo"

	anthropicVersion = "2023-06-01"
	detailsLimit     = 200
	maxBodyBytes     = 1 << 20
)

// Target is the provider being probed.
type Target struct {
	Provider string
	BaseURL  string
	APIKey   string
}

// Result reports the outcome of a probe.
type Result struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	AvailableModels []string `json:"availableModels"`
	TestedModel     string   `json:"testedModel,omitempty"`
	ResponseTime    float64  `json:"responseTime"` // Seconds from probe start to the final response or timeout.
	Details         string   `json:"details,omitempty"`
	ModelsError     string   `json:"modelsError,omitempty"`
}

// Prober runs connectivity probes.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// New constructs a Prober. A nil client uses a plain http.Client; the
// per-call bound comes from request contexts.
func New(client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{client: client, timeout: DefaultCallTimeout, now: time.Now}
}

// ModelsURL derives the model listing endpoint from a provider base URL.
func ModelsURL(baseURL string) string {
	u := baseURL
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	switch {
	case strings.Contains(u, "/chat/completions"):
		return strings.Replace(u, "/chat/completions", "/models", 1)
	case strings.Contains(u, "/v1/messages"):
		return strings.Replace(u, "/v1/messages", "/v1/models", 1)
	case !strings.Contains(u, "/models"):
		return u + "v1/models"
	default:
		return u
	}
}

// ChatURL derives the chat endpoint from a provider base URL.
func ChatURL(baseURL string) string {
	if strings.Contains(baseURL, "/chat/completions") || strings.Contains(baseURL, "/v1/messages") {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + "/v1/chat/completions"
}

// usesAnthropicAuth reports whether the endpoint expects x-api-key instead of bearer auth.
func usesAnthropicAuth(chatURL string) bool {
	return strings.Contains(chatURL, "/v1/messages")
}

// Test lists the provider's models, then sends one chat request using model,
// the first listed model, or FallbackModel. A listing failure is reported in
// ModelsError and does not stop the chat request.
func (p *Prober) Test(ctx context.Context, target Target, model string) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	start := p.now()
	elapsed := func() float64 { return p.now().Sub(start).Seconds() }

	result := Result{AvailableModels: []string{}}
	models, errModels := p.listModels(ctx, target)
	if errModels != nil {
		result.ModelsError = fmt.Sprintf("fetch model list failed: %v", errModels)
		log.WithError(errModels).WithField("provider", target.Provider).Debug("probe: model listing failed")
	} else {
		result.AvailableModels = models
	}

	testModel := strings.TrimSpace(model)
	if testModel == "" && len(result.AvailableModels) > 0 {
		testModel = result.AvailableModels[0]
	}
	if testModel == "" {
		testModel = FallbackModel
	}
	result.TestedModel = testModel

	status, body, errChat := p.chat(ctx, target, testModel)
	result.ResponseTime = elapsed()
	switch {
	case errChat != nil && isTimeout(errChat):
		result.Message = fmt.Sprintf("chat test timed out after %s", p.timeout)
	case errChat != nil:
		result.Message = fmt.Sprintf("chat test failed: %v", errChat)
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		result.Success = true
		result.Message = "connection test succeeded"
		result.ModelsError = ""
	default:
		result.Message = fmt.Sprintf("chat test failed: %d %s", status, http.StatusText(status))
		result.Details = truncate(body, detailsLimit)
	}
	return result
}

func (p *Prober) listModels(ctx context.Context, target Target) ([]string, error) {
	requestCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(requestCtx, http.MethodGet, ModelsURL(target.BaseURL), nil)
	if errReq != nil {
		return nil, errReq
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+target.APIKey)

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return nil, errDo
	}
	defer closeBody(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var payload struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if errDecode := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); errDecode != nil {
		return nil, fmt.Errorf("decode model list: %w", errDecode)
	}
	models := make([]string, 0, len(payload.Data))
	for _, item := range payload.Data {
		name := item.ID
		if name == "" {
			name = item.Name
		}
		if name != "" {
			models = append(models, name)
		}
	}
	return models, nil
}

func (p *Prober) chat(ctx context.Context, target Target, model string) (int, string, error) {
	requestCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload, errMarshal := json.Marshal(map[string]any{
		"model":      model,
		"messages":   []map[string]string{{"role": "user", "content": "Hello"}},
		"max_tokens": 10,
	})
	if errMarshal != nil {
		return 0, "", errMarshal
	}

	chatURL := ChatURL(target.BaseURL)
	req, errReq := http.NewRequestWithContext(requestCtx, http.MethodPost, chatURL, bytes.NewReader(payload))
	if errReq != nil {
		return 0, "", errReq
	}
	req.Header.Set("Content-Type", "application/json")
	if usesAnthropicAuth(chatURL) {
		req.Header.Set("x-api-key", target.APIKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	} else {
		req.Header.Set("Authorization", "Bearer "+target.APIKey)
	}

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return 0, "", errDo
	}
	defer closeBody(resp)

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if errRead != nil && isTimeout(errRead) {
		return 0, "", errRead
	}
	return resp.StatusCode, string(body), nil
}

func closeBody(resp *http.Response) {
	if errClose := resp.Body.Close(); errClose != nil {
		log.WithError(errClose).Warn("probe: close response body failed")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
