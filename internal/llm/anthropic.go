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

const anthropicVersion = "2023-06-01"

// AnthropicClient speaks the Anthropic messages API.
type AnthropicClient struct {
	apiKey    string
	endpoint  string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicClient creates the client. endpoint defaults to
// https://api.anthropic.com.
func NewAnthropicClient(apiKey, endpoint, model string, timeout time.Duration) *AnthropicClient {
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	return &AnthropicClient{
		apiKey:    apiKey,
		endpoint:  strings.TrimRight(endpoint, "/"),
		model:     model,
		maxTokens: 4096,
		client:    &http.Client{Timeout: timeout},
	}
}

type anthropicRequest struct {
	Model     string               `json:"model"`
	System    string               `json:"system,omitempty"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens"`
	Stream    bool                 `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

// anthropicStreamEvent covers the event payloads we care about:
// message_start (input usage), content_block_delta (text) and
// message_delta (output usage).
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
}

func (c *AnthropicClient) resolveModel(req *contracts.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// Complete sends a non-streaming messages request.
func (c *AnthropicClient) Complete(ctx context.Context, req *contracts.CompletionRequest) (*contracts.Completion, error) {
	model := c.resolveModel(req)
	body, _ := json.Marshal(anthropicRequest{
		Model:     model,
		System:    req.System,
		Messages:  req.Messages,
		MaxTokens: c.maxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	var content strings.Builder
	for _, block := range anthResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	usage := models.TokenUsage{
		InputTokens:  anthResp.Usage.InputTokens,
		OutputTokens: anthResp.Usage.OutputTokens,
		TotalTokens:  anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
	}
	usage.EstimatedCost = estimateCost(model, usage.InputTokens, usage.OutputTokens)

	return &contracts.Completion{Content: content.String(), Model: model, Usage: usage}, nil
}

// CompleteStream sends a streaming messages request and invokes onChunk
// for every text delta.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req *contracts.CompletionRequest, onChunk func(*models.StreamChunk) error) (*contracts.Completion, error) {
	model := c.resolveModel(req)
	body, _ := json.Marshal(anthropicRequest{
		Model:     model,
		System:    req.System,
		Messages:  req.Messages,
		MaxTokens: c.maxTokens,
		Stream:    true,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody))
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

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				full.WriteString(ev.Delta.Text)
				if err := onChunk(&models.StreamChunk{Content: ev.Delta.Text}); err != nil {
					return nil, err
				}
			}
		case "message_delta":
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: read stream: %w", err)
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	usage.EstimatedCost = estimateCost(model, usage.InputTokens, usage.OutputTokens)
	return &contracts.Completion{Content: full.String(), Model: model, Usage: usage}, nil
}

func (c *AnthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}
