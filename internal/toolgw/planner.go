package toolgw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxIterations bounds the select/invoke loop per server.
	DefaultMaxIterations = 3

	// maxIntermediateChars caps an intermediate result fed back into
	// the next selection prompt.
	maxIntermediateChars = 5000

	// maxFinalChars caps the final result appended to turn context.
	maxFinalChars = 10000
)

// intermediateMarkers in a result text suggest the tool returned a
// reference that needs a follow-up call rather than a final answer.
var intermediateMarkers = []string{"next_page", "cursor", "page_token", "continuation"}

// ToolCaller is the invocation dependency of the planner.
type ToolCaller interface {
	CallTool(ctx context.Context, serverAddress, name string, arguments map[string]interface{}) (*models.ToolInvocationResult, error)
}

// Discoverer is the discovery dependency of the planner.
type Discoverer interface {
	Discover(ctx context.Context, serverAddress string) []models.ToolDescriptor
}

// Planner runs the bounded LLM-guided tool loop against one server:
// the model selects a tool and arguments, the planner invokes it,
// classifies the result, and either feeds it back or finishes.
type Planner struct {
	discoverer    Discoverer
	caller        ToolCaller
	llm           contracts.LLMService
	maxIterations int
}

// NewPlanner creates a planner. maxIterations <= 0 selects the default.
func NewPlanner(discoverer Discoverer, caller ToolCaller, llm contracts.LLMService, maxIterations int) *Planner {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Planner{
		discoverer:    discoverer,
		caller:        caller,
		llm:           llm,
		maxIterations: maxIterations,
	}
}

// selection is the model's tool choice for one iteration.
type selection struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Run executes the loop for one server and message. A nil result means
// the server had nothing useful for this turn. A result with IsError
// set records a failed invocation; it is never retried.
func (p *Planner) Run(ctx context.Context, server models.ToolServerConfig, message string) *models.ToolInvocationResult {
	tools := p.discoverer.Discover(ctx, server.Address)
	if len(tools) == 0 {
		return nil
	}

	// Accumulated intermediate context, truncated per iteration.
	var priorResults []string

	for i := 0; i < p.maxIterations; i++ {
		sel, err := p.selectTool(ctx, server, tools, message, priorResults)
		if err != nil {
			log.Warn().Err(err).Str("server", server.Name).Msg("tool selection failed")
			return nil
		}
		if sel == nil || sel.Tool == "" || sel.Tool == "none" {
			return nil
		}

		result, err := p.caller.CallTool(ctx, server.Address, sel.Tool, sel.Arguments)
		if err != nil {
			log.Warn().Err(err).Str("server", server.Name).Str("tool", sel.Tool).Msg("tool invocation failed")
			return &models.ToolInvocationResult{
				Server:   server.Name,
				ToolName: sel.Tool,
				IsError:  true,
				ErrorMsg: err.Error(),
			}
		}
		if result.IsError {
			result.Server = server.Name
			return result
		}

		if p.isIntermediate(sel.Tool, result.Text) {
			priorResults = append(priorResults, truncate(result.Text, maxIntermediateChars))
			continue
		}

		return &models.ToolInvocationResult{
			Server:   server.Name,
			ToolName: sel.Tool,
			Text:     truncate(result.Text, maxFinalChars),
		}
	}

	// Iteration cap reached without a final result. Intermediate text
	// is reference data, not an answer, so it is discarded.
	log.Debug().Str("server", server.Name).Int("iterations", p.maxIterations).Msg("tool loop hit iteration cap")
	return nil
}

// selectTool asks the model which tool to call next, if any.
func (p *Planner) selectTool(ctx context.Context, server models.ToolServerConfig, tools []models.ToolDescriptor, message string, priorResults []string) (*selection, error) {
	catalog, err := json.Marshal(tools)
	if err != nil {
		return nil, fmt.Errorf("marshal tool catalog: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("You select tools for an assistant. Available tools from server \"")
	sb.WriteString(server.Name)
	sb.WriteString("\":\n")
	sb.Write(catalog)
	if server.Instructions != "" {
		sb.WriteString("\n\nServer instructions: ")
		sb.WriteString(server.Instructions)
	}
	for i, r := range priorResults {
		fmt.Fprintf(&sb, "\n\nResult of call %d:\n%s", i+1, r)
	}
	sb.WriteString("\n\nRespond with JSON only: {\"tool\": \"<name>\", \"arguments\": {...}}. " +
		"If no tool is useful for the user's message, respond {\"tool\": \"none\"}.")

	resp, err := p.llm.Complete(ctx, &contracts.CompletionRequest{
		System:   sb.String(),
		Messages: []models.ChatMessage{{Role: "user", Content: message}},
	})
	if err != nil {
		return nil, err
	}

	var sel selection
	if err := json.Unmarshal([]byte(stripCodeFences(resp.Content)), &sel); err != nil {
		return nil, fmt.Errorf("parse tool selection %q: %w", resp.Content, err)
	}
	return &sel, nil
}

// isIntermediate classifies a successful result: resolver-style tool
// names and continuation markers mean the loop should keep going.
func (p *Planner) isIntermediate(toolName, text string) bool {
	name := strings.ToLower(toolName)
	for _, hint := range []string{"resolve", "search", "list"} {
		if strings.Contains(name, hint) {
			return true
		}
	}
	lower := strings.ToLower(text)
	for _, marker := range intermediateMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// stripCodeFences unwraps ```json ... ``` style fenced output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && !strings.ContainsAny(s[:idx], "{[") {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
