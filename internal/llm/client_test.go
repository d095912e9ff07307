package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/parley-ai/parley/pkg/models"
)

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"choices": [{"message": {"content": "hi there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key", srv.URL, "gpt-4o-mini", 5*time.Second)
	resp, err := c.Complete(context.Background(), &contracts.CompletionRequest{
		System:   "be brief",
		Messages: []models.ChatMessage{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("Content = %q, want %q", resp.Content, "hi there")
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d, want 16", resp.Usage.TotalTokens)
	}
	if resp.Usage.EstimatedCost <= 0 {
		t.Errorf("EstimatedCost = %f, want > 0", resp.Usage.EstimatedCost)
	}
}

func TestOpenAICompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"hel"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", srv.URL, "gpt-4o-mini", 5*time.Second)

	var chunks []string
	resp, err := c.CompleteStream(context.Background(), &contracts.CompletionRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
	}, func(ch *models.StreamChunk) error {
		chunks = append(chunks, ch.Content)
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream() error = %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want %q", resp.Content, "hello")
	}
	if len(chunks) != 2 {
		t.Errorf("got %d chunks, want 2", len(chunks))
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, want 7", resp.Usage.TotalTokens)
	}
}

func TestOpenAICompleteStream_ChunkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"x"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", srv.URL, "m", 5*time.Second)
	_, err := c.CompleteStream(context.Background(), &contracts.CompletionRequest{}, func(*models.StreamChunk) error {
		return fmt.Errorf("consumer gone")
	})
	if err == nil || !strings.Contains(err.Error(), "consumer gone") {
		t.Fatalf("CompleteStream() error = %v, want consumer error propagated", err)
	}
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "anth-key" {
			t.Errorf("x-api-key = %q, want anth-key", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("anthropic-version header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg-1",
			"content": [{"type": "text", "text": "sure, "}, {"type": "text", "text": "done"}],
			"usage": {"input_tokens": 20, "output_tokens": 6}
		}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("anth-key", srv.URL, "claude-3-5-haiku-20241022", 5*time.Second)
	resp, err := c.Complete(context.Background(), &contracts.CompletionRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "sure, done" {
		t.Errorf("Content = %q, want %q", resp.Content, "sure, done")
	}
	if resp.Usage.TotalTokens != 26 {
		t.Errorf("TotalTokens = %d, want 26", resp.Usage.TotalTokens)
	}
}

func TestAnthropicCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"type":"message_start","message":{"usage":{"input_tokens":9}}}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"ok"}}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"message_delta","usage":{"output_tokens":3}}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", srv.URL, "claude-3-5-haiku-20241022", 5*time.Second)

	var got string
	resp, err := c.CompleteStream(context.Background(), &contracts.CompletionRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
	}, func(ch *models.StreamChunk) error {
		got += ch.Content
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("streamed content = %q, want ok", got)
	}
	if resp.Usage.InputTokens != 9 || resp.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v, want input 9 output 3", resp.Usage)
	}
}

func TestCompleteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAIClient("bad", srv.URL, "m", 5*time.Second)
	_, err := c.Complete(context.Background(), &contracts.CompletionRequest{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Complete() error = %v, want status 401 error", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"openai", false},
		{"anthropic", false},
		{"", false},
		{"custom", true}, // no endpoint
	}
	for _, tt := range tests {
		_, err := New(config.LLMConfig{Provider: tt.provider, Model: "m"})
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) error = %v, wantErr %v", tt.provider, err, tt.wantErr)
		}
	}
}
