package probe

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestModelsURL(t *testing.T) {
	cases := map[string]string{
		"https://api.openai.com/v1/chat/completions": "https://api.openai.com/v1/models/",
		"https://api.anthropic.com/v1/messages":      "https://api.anthropic.com/v1/models/",
		"https://example.com":                        "https://example.com/v1/models",
		"https://example.com/":                       "https://example.com/v1/models",
		"https://example.com/v1/models":              "https://example.com/v1/models/",
	}
	for in, want := range cases {
		if got := ModelsURL(in); got != want {
			t.Fatalf("ModelsURL(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestChatURL(t *testing.T) {
	cases := map[string]string{
		"https://api.openai.com/v1/chat/completions": "https://api.openai.com/v1/chat/completions",
		"https://api.anthropic.com/v1/messages":      "https://api.anthropic.com/v1/messages",
		"https://example.com//":                      "https://example.com/v1/chat/completions",
	}
	for in, want := range cases {
		if got := ChatURL(in); got != want {
			t.Fatalf("ChatURL(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestTest_OpenAIStyleUsesFirstListedModel(t *testing.T) {
	var chatBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-up" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/models"):
			_, _ = w.Write([]byte(`{"data":[{"id":"model-a"},{"name":"model-b"},{}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/chat/completions":
			_ = json.NewDecoder(r.Body).Decode(&chatBody)
			_, _ = w.Write([]byte(`{"choices":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	result := New(server.Client()).Test(testContext(t), Target{Provider: "p", BaseURL: server.URL, APIKey: "sk-up"}, "")
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.AvailableModels) != 2 || result.AvailableModels[1] != "model-b" {
		t.Fatalf("unexpected models %v", result.AvailableModels)
	}
	if result.TestedModel != "model-a" || chatBody["model"] != "model-a" {
		t.Fatalf("expected model-a to be tested, got %q / %v", result.TestedModel, chatBody["model"])
	}
	if chatBody["max_tokens"] != float64(10) {
		t.Fatalf("expected max_tokens=10, got %v", chatBody["max_tokens"])
	}
}

func TestTest_AnthropicHeadersAndModelsWarning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("x-api-key") != "sk-ant" || r.Header.Get("anthropic-version") != "2023-06-01" || r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(strings.Repeat("x", 500)))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	prober := New(server.Client())
	result := prober.Test(testContext(t), Target{BaseURL: server.URL + "/v1/messages", APIKey: "sk-ant"}, "claude-3-haiku")
	if !result.Success || result.TestedModel != "claude-3-haiku" {
		t.Fatalf("expected success with explicit model, got %+v", result)
	}

	result = prober.Test(testContext(t), Target{BaseURL: server.URL + "/v1/messages", APIKey: "wrong"}, "")
	if result.Success {
		t.Fatalf("expected failure with wrong key")
	}
	if result.ModelsError == "" {
		t.Fatalf("expected models warning to be recorded")
	}
	if result.TestedModel != FallbackModel {
		t.Fatalf("expected fallback model, got %q", result.TestedModel)
	}
	if len(result.Details) != 200 {
		t.Fatalf("expected details truncated to 200, got %d", len(result.Details))
	}
	if !strings.Contains(result.Message, "401") {
		t.Fatalf("expected status in message, got %q", result.Message)
	}
}

func TestTest_TimeoutIsDistinct(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	prober := New(server.Client())
	prober.timeout = 50 * time.Millisecond
	result := prober.Test(testContext(t), Target{BaseURL: server.URL, APIKey: "k"}, "m")
	if result.Success {
		t.Fatalf("expected failure on timeout")
	}
	if !strings.Contains(result.Message, "timed out") {
		t.Fatalf("expected timeout message, got %q", result.Message)
	}
	if result.ResponseTime <= 0 {
		t.Fatalf("expected response time to be measured, got %v", result.ResponseTime)
	}
}

func TestTest_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	result := New(nil).Test(testContext(t), Target{BaseURL: url, APIKey: "k"}, "")
	if result.Success || strings.Contains(result.Message, "timed out") {
		t.Fatalf("expected plain failure, got %+v", result)
	}
	if result.ModelsError == "" {
		t.Fatalf("expected models error on refused connection")
	}
}
