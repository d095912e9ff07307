package apitools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/parley-ai/parley/pkg/models"
)

// cannedLLM returns a fixed completion.
type cannedLLM struct {
	reply string
	err   error
}

func (c *cannedLLM) Complete(ctx context.Context, req *contracts.CompletionRequest) (*contracts.Completion, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &contracts.Completion{Content: c.reply}, nil
}

func (c *cannedLLM) CompleteStream(ctx context.Context, req *contracts.CompletionRequest, onChunk func(*models.StreamChunk) error) (*contracts.Completion, error) {
	return c.Complete(ctx, req)
}

func TestInvokeGraphQL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if !strings.Contains(body["query"], "events") {
			t.Errorf("query = %q, want synthesized query", body["query"])
		}
		fmt.Fprint(w, `{"data": {"events": [{"name": "open mic"}]}}`)
	}))
	defer srv.Close()

	inv := NewInvoker(&cannedLLM{reply: "```graphql\n{ events { name } }\n```"}, 5*time.Second)
	tool := models.APIToolConfig{Name: "events-api", Kind: models.APIToolGraphQL, URL: srv.URL}

	text, err := inv.Invoke(context.Background(), tool, "what events are on?")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.Contains(text, "open mic") {
		t.Errorf("text = %q, want data passed through", text)
	}
}

func TestInvokeGraphQLErrorsOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "field 'events' not found"}]}`)
	}))
	defer srv.Close()

	inv := NewInvoker(&cannedLLM{reply: "{ events { name } }"}, 5*time.Second)
	tool := models.APIToolConfig{Name: "events-api", Kind: models.APIToolGraphQL, URL: srv.URL}

	text, err := inv.Invoke(context.Background(), tool, "what events are on?")
	if err != nil {
		t.Fatalf("Invoke() error = %v, errors-only response must not fail", err)
	}
	if !strings.Contains(text, "field 'events' not found") {
		t.Errorf("text = %q, want diagnostic with server error message", text)
	}
}

func TestInvokeGraphQLPartialData(t *testing.T) {
	raw := []byte(`{"data": {"a": 1}, "errors": [{"message": "b failed"}]}`)
	text, err := parseGraphQLResponse(raw)
	if err != nil {
		t.Fatalf("parseGraphQLResponse() error = %v", err)
	}
	if !strings.Contains(text, "b failed") || !strings.Contains(text, `"a":`) {
		t.Errorf("text = %q, want both diagnostic and partial data", text)
	}
}

func TestInvokeOpenAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("X-Api-Key = %q", got)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["city"] != "Lisbon" {
			t.Errorf("body = %v, want synthesized JSON", body)
		}
		fmt.Fprint(w, `{"forecast": "sunny"}`)
	}))
	defer srv.Close()

	inv := NewInvoker(&cannedLLM{reply: `{"city": "Lisbon"}`}, 5*time.Second)
	tool := models.APIToolConfig{
		Name:    "weather",
		Kind:    models.APIToolOpenAPI,
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
	}

	text, err := inv.Invoke(context.Background(), tool, "weather in Lisbon?")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.Contains(text, "sunny") {
		t.Errorf("text = %q", text)
	}
}

func TestInvokeOpenAPIInvalidSynthesis(t *testing.T) {
	inv := NewInvoker(&cannedLLM{reply: "sorry, I cannot do that"}, 5*time.Second)
	tool := models.APIToolConfig{Name: "weather", Kind: models.APIToolOpenAPI, URL: "http://unused.local"}

	if _, err := inv.Invoke(context.Background(), tool, "weather?"); err == nil {
		t.Fatal("Invoke() error = nil, want invalid JSON body rejected")
	}
}

func TestInvokeGeneric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		for _, field := range []string{"message", "query", "input"} {
			if body[field] != "ping" {
				t.Errorf("body[%q] = %q, want message under common field names", field, body[field])
			}
		}
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer srv.Close()

	inv := NewInvoker(&cannedLLM{}, 5*time.Second)
	tool := models.APIToolConfig{Name: "hook", Kind: models.APIToolGeneric, URL: srv.URL}

	if _, err := inv.Invoke(context.Background(), tool, "ping"); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
}

func TestInvokeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	inv := NewInvoker(&cannedLLM{}, 5*time.Second)
	tool := models.APIToolConfig{Name: "hook", Kind: models.APIToolGeneric, URL: srv.URL}

	if _, err := inv.Invoke(context.Background(), tool, "ping"); err == nil {
		t.Fatal("Invoke() error = nil, want status error")
	}
}

func TestInvokeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	inv := NewInvoker(&cannedLLM{}, 100*time.Millisecond)
	tool := models.APIToolConfig{Name: "slow", Kind: models.APIToolGeneric, URL: srv.URL}

	start := time.Now()
	_, err := inv.Invoke(context.Background(), tool, "ping")
	if err == nil {
		t.Fatal("Invoke() error = nil, want timeout")
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not enforced")
	}
}

func TestAPIToolRelevant(t *testing.T) {
	tests := []struct {
		name    string
		tool    models.APIToolConfig
		message string
		want    bool
	}{
		{"always", models.APIToolConfig{Instructions: "always call before answering"}, "hi", true},
		{"name mention", models.APIToolConfig{Name: "weather"}, "check the weather api", true},
		{"explicit use", models.APIToolConfig{Name: "x"}, "please use the api for this", true},
		{"doc intent", models.APIToolConfig{Name: "x"}, "what can you do?", true},
		{"metadata overlap", models.APIToolConfig{Name: "x", Description: "Queries upcoming concerts"}, "any concerts this week?", true},
		{"unrelated", models.APIToolConfig{Name: "crm", Description: "customer records"}, "good morning", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Relevant(tt.tool, tt.message); got != tt.want {
				t.Errorf("Relevant() = %v, want %v", got, tt.want)
			}
		})
	}
}
