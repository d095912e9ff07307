// Package apitools invokes agent-configured third-party APIs. Each
// tool is tagged with a kind (GraphQL, OpenAPI, generic) and request
// construction dispatches on that tag; GraphQL and OpenAPI bodies are
// synthesized by the model from the stored schema.
package apitools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/metrics"
	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single external API call.
const DefaultTimeout = 15 * time.Second

// maxResultChars caps the text folded into turn context.
const maxResultChars = 10000

// Invoker calls configured external APIs on behalf of a turn.
type Invoker struct {
	llm     contracts.LLMService
	client  *http.Client
	timeout time.Duration
}

// NewInvoker creates an invoker. timeout <= 0 selects the default.
func NewInvoker(llm contracts.LLMService, timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{
		llm:     llm,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Invoke calls the tool once for the user's message. The result text
// is ready for prompt context; failures come back as errors for the
// caller to record, never to retry.
func (inv *Invoker) Invoke(ctx context.Context, tool models.APIToolConfig, message string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	var (
		text string
		err  error
	)
	switch tool.Kind {
	case models.APIToolGraphQL:
		text, err = inv.invokeGraphQL(callCtx, tool, message)
	case models.APIToolOpenAPI:
		text, err = inv.invokeOpenAPI(callCtx, tool, message)
	default:
		text, err = inv.invokeGeneric(callCtx, tool, message)
	}
	if err != nil {
		metrics.RecordToolCall(tool.Name, string(tool.Kind), "error")
		return "", err
	}

	metrics.RecordToolCall(tool.Name, string(tool.Kind), "ok")
	if len(text) > maxResultChars {
		text = text[:maxResultChars]
	}
	return text, nil
}

// ── GraphQL ──────────────────────────────────────────────────

func (inv *Invoker) invokeGraphQL(ctx context.Context, tool models.APIToolConfig, message string) (string, error) {
	query, err := inv.synthesize(ctx, tool, message,
		"Write a single GraphQL query answering the user's message against this API. "+
			"Respond with the query only, no prose.")
	if err != nil {
		return "", fmt.Errorf("synthesize graphql query: %w", err)
	}
	query = stripCodeFences(query)

	body, _ := json.Marshal(map[string]string{"query": query})
	raw, err := inv.send(ctx, tool, http.MethodPost, body)
	if err != nil {
		return "", err
	}
	return parseGraphQLResponse(raw)
}

// graphQLResponse is parsed permissively: servers disagree on error
// shapes and partial data plus errors is still usable.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// parseGraphQLResponse folds data and errors into context text. A
// response carrying only errors becomes a diagnostic string rather
// than vanishing.
func parseGraphQLResponse(raw []byte) (string, error) {
	var resp graphQLResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		// Not JSON at all; pass the raw text through.
		return string(raw), nil
	}

	hasData := len(resp.Data) > 0 && string(resp.Data) != "null"
	if len(resp.Errors) == 0 {
		return string(raw), nil
	}

	var msgs []string
	for _, e := range resp.Errors {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	diag := "the API reported errors: " + strings.Join(msgs, "; ")

	if hasData {
		return fmt.Sprintf("%s (partial data follows)\n%s", diag, string(resp.Data)), nil
	}
	return diag, nil
}

// ── OpenAPI ──────────────────────────────────────────────────

func (inv *Invoker) invokeOpenAPI(ctx context.Context, tool models.APIToolConfig, message string) (string, error) {
	method := tool.Method
	if method == "" {
		method = http.MethodPost
	}

	var body []byte
	if method != http.MethodGet {
		payload, err := inv.synthesize(ctx, tool, message,
			"Write the JSON request body for this API call answering the user's message. "+
				"Respond with valid JSON only, no prose.")
		if err != nil {
			return "", fmt.Errorf("synthesize request body: %w", err)
		}
		payload = stripCodeFences(payload)
		if !json.Valid([]byte(payload)) {
			return "", fmt.Errorf("synthesized body is not valid JSON")
		}
		body = []byte(payload)
	}

	raw, err := inv.send(ctx, tool, method, body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ── Generic ──────────────────────────────────────────────────

func (inv *Invoker) invokeGeneric(ctx context.Context, tool models.APIToolConfig, message string) (string, error) {
	method := tool.Method
	if method == "" {
		method = http.MethodPost
	}

	var body []byte
	if method != http.MethodGet {
		// No schema to go on; send the message under the field names
		// generic endpoints commonly accept.
		body, _ = json.Marshal(map[string]string{
			"message": message,
			"query":   message,
			"input":   message,
		})
	}

	raw, err := inv.send(ctx, tool, method, body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ── Shared ───────────────────────────────────────────────────

// synthesize asks the model to construct a request from the tool's
// stored schema and description.
func (inv *Invoker) synthesize(ctx context.Context, tool models.APIToolConfig, message, instruction string) (string, error) {
	var sb strings.Builder
	sb.WriteString(instruction)
	if tool.Description != "" {
		sb.WriteString("\n\nAPI description: ")
		sb.WriteString(tool.Description)
	}
	if tool.Schema != "" {
		sb.WriteString("\n\nSchema:\n")
		sb.WriteString(tool.Schema)
	}
	if tool.Instructions != "" {
		sb.WriteString("\n\nUsage notes: ")
		sb.WriteString(tool.Instructions)
	}

	resp, err := inv.llm.Complete(ctx, &contracts.CompletionRequest{
		System:   sb.String(),
		Messages: []models.ChatMessage{{Role: "user", Content: message}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (inv *Invoker) send(ctx context.Context, tool models.APIToolConfig, method string, body []byte) ([]byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, tool.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range tool.Headers {
		req.Header.Set(k, v)
	}

	resp, err := inv.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, tool.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		log.Debug().Str("tool", tool.Name).Int("status", resp.StatusCode).Msg("api tool returned error status")
		return nil, fmt.Errorf("%s returned status %d: %s", tool.Name, resp.StatusCode, truncateForError(raw))
	}
	return raw, nil
}

func truncateForError(b []byte) string {
	const max = 500
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}

// stripCodeFences unwraps ``` fenced model output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := s[:idx]
		if !strings.ContainsAny(first, "{[(") && len(first) < 20 {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
