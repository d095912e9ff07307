package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/parley-ai/parley/pkg/models"
)

// OpenAIClient speaks the OpenAI chat completions API. It also serves
// Azure deployments, Ollama's /v1 surface and any other compatible
// endpoint.
type OpenAIClient struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

// NewOpenAIClient creates the client. endpoint defaults to
// https://api.openai.com/v1; model is the default when a request does
// not name one.
func NewOpenAIClient(apiKey, endpoint, model string, timeout time.Duration) *OpenAIClient {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		apiKey:   apiKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []models.ChatMessage `json:"messages"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openAIStreamOpts    `json:"stream_options,omitempty"`
}

type openAIStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

func (c *OpenAIClient) resolveModel(req *contracts.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// buildMessages prepends the system prompt as a system-role message.
func buildMessages(req *contracts.CompletionRequest) []models.ChatMessage {
	msgs := make([]models.ChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, models.ChatMessage{Role: "system", Content: req.System})
	}
	return append(msgs, req.Messages...)
}

// Complete sends a non-streaming chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *contracts.CompletionRequest) (*contracts.Completion, error) {
	model := c.resolveModel(req)
	body, _ := json.Marshal(openAIRequest{Model: model, Messages: buildMessages(req)})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}

	content := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
	}

	return &contracts.Completion{
		Content: content,
		Model:   model,
		Usage: models.TokenUsage{
			InputTokens:   oaiResp.Usage.PromptTokens,
			OutputTokens:  oaiResp.Usage.CompletionTokens,
			TotalTokens:   oaiResp.Usage.TotalTokens,
			EstimatedCost: estimateCost(model, oaiResp.Usage.PromptTokens, oaiResp.Usage.CompletionTokens),
		},
	}, nil
}

// CompleteStream sends a streaming chat completion request and invokes
// onChunk for every content delta. The returned Completion carries the
// assembled text and final usage.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req *contracts.CompletionRequest, onChunk func(*models.StreamChunk) error) (*contracts.Completion, error) {
	model := c.resolveModel(req)
	body, _ := json.Marshal(openAIRequest{
		Model:         model,
		Messages:      buildMessages(req),
		Stream:        true,
		StreamOptions: &openAIStreamOpts{IncludeUsage: true},
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var full strings.Builder
	var usage models.TokenUsage

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev openAIStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Usage != nil {
			usage.InputTokens = ev.Usage.PromptTokens
			usage.OutputTokens = ev.Usage.CompletionTokens
			usage.TotalTokens = ev.Usage.TotalTokens
		}
		if len(ev.Choices) == 0 {
			continue
		}
		if delta := ev.Choices[0].Delta.Content; delta != "" {
			full.WriteString(delta)
			if err := onChunk(&models.StreamChunk{Content: delta}); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("openai: read stream: %w", err)
	}

	usage.EstimatedCost = estimateCost(model, usage.InputTokens, usage.OutputTokens)
	return &contracts.Completion{Content: full.String(), Model: model, Usage: usage}, nil
}

func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
