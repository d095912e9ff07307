// Package toolgw talks to external tool servers over JSON-RPC 2.0:
// discovery (tools/list) with a TTL cache, invocation (tools/call),
// and the bounded LLM-guided planning loop that decides which tools a
// turn actually needs.
package toolgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parley-ai/parley/internal/metrics"
	"github.com/parley-ai/parley/pkg/models"
)

// Client speaks the tool-server wire protocol against a base URL.
type Client struct {
	client *http.Client
}

// NewClient creates a tool-server client with the given call timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{client: &http.Client{Timeout: timeout}}
}

// ListTools calls tools/list on the server.
func (c *Client) ListTools(ctx context.Context, serverAddress string) ([]models.ToolDescriptor, error) {
	resp, err := c.call(ctx, serverAddress, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var result models.ToolListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool calls tools/call with the given name and arguments. A tool
// error response is returned as a result with IsError set, not as a Go
// error: the distinction matters to the planner.
func (c *Client) CallTool(ctx context.Context, serverAddress, name string, arguments map[string]interface{}) (*models.ToolInvocationResult, error) {
	params, err := json.Marshal(models.ToolCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("marshal tool arguments: %w", err)
	}

	resp, err := c.call(ctx, serverAddress, "tools/call", params)
	if err != nil {
		metrics.RecordToolCall(serverAddress, name, "transport_error")
		return nil, err
	}

	var result models.ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}

	var sb strings.Builder
	for _, part := range result.Content {
		if part.Type == "text" && part.Text != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(part.Text)
		}
	}

	out := &models.ToolInvocationResult{
		Server:   serverAddress,
		ToolName: name,
		Text:     sb.String(),
		IsError:  result.IsError,
	}
	if result.IsError {
		out.ErrorMsg = sb.String()
		metrics.RecordToolCall(serverAddress, name, "tool_error")
	} else {
		metrics.RecordToolCall(serverAddress, name, "ok")
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, serverAddress, method string, params json.RawMessage) (*models.ToolRPCResponse, error) {
	body, err := json.Marshal(models.ToolRPCRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverAddress, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("%s returned status %d: %s", method, httpResp.StatusCode, string(respBody))
	}

	var resp models.ToolRPCResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s error %d: %s", method, resp.Error.Code, resp.Error.Message)
	}
	return &resp, nil
}
