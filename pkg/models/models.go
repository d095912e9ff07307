// Package models defines the shared domain types for the Parley
// conversational agent backend: agents and their feature toggles,
// conversation turns and usage records, knowledge chunks, discovered
// tools, availability slots, and the tool-server wire protocol.
package models

import (
	"encoding/json"
	"time"
)

// ── Feature Toggles ──────────────────────────────────────────

// Feature is a tri-state toggle. The zero value means "unset": the
// feature falls back to its documented default instead of silently
// diverging between call sites.
type Feature string

const (
	FeatureUnset    Feature = ""
	FeatureEnabled  Feature = "enabled"
	FeatureDisabled Feature = "disabled"
)

// On resolves the tri-state against the feature's default. This is the
// single place where "unset" is interpreted.
func (f Feature) On(fallback bool) bool {
	switch f {
	case FeatureEnabled:
		return true
	case FeatureDisabled:
		return false
	default:
		return fallback
	}
}

// FeatureSet holds the per-agent feature toggles.
type FeatureSet struct {
	KnowledgeBase Feature `json:"knowledge_base,omitempty" yaml:"knowledge_base"`
	ToolServers   Feature `json:"tool_servers,omitempty" yaml:"tool_servers"`
	APITools      Feature `json:"api_tools,omitempty" yaml:"api_tools"`
	Scheduling    Feature `json:"scheduling,omitempty" yaml:"scheduling"`
	Events        Feature `json:"events,omitempty" yaml:"events"`
	WebSearch     Feature `json:"web_search,omitempty" yaml:"web_search"`
}

// ── Agent ────────────────────────────────────────────────────

// Agent is the immutable-per-turn configuration for a conversational
// agent. The orchestrator reads it at turn start and never mutates it
// (the message counter is bumped through the store, not the struct).
type Agent struct {
	ID        string     `json:"id" yaml:"id"`
	Address   string     `json:"address" yaml:"address"` // public handle in the turn endpoint path
	Name      string     `json:"name" yaml:"name"`
	OwnerName string     `json:"owner_name,omitempty" yaml:"owner_name"`
	Persona   string     `json:"persona,omitempty" yaml:"persona"`
	Timezone  string     `json:"timezone,omitempty" yaml:"timezone"` // owner timezone, IANA name
	Features  FeatureSet `json:"features" yaml:"features"`

	ToolServers []ToolServerConfig `json:"tool_servers,omitempty" yaml:"tool_servers"`
	APITools    []APIToolConfig    `json:"api_tools,omitempty" yaml:"api_tools"`

	// MeetingDurationMin is the meeting length offered by the scheduling
	// stage (default 30).
	MeetingDurationMin int `json:"meeting_duration_min,omitempty" yaml:"meeting_duration_min"`

	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToolServerConfig points at a remote tool server speaking the
// tools/list + tools/call protocol.
type ToolServerConfig struct {
	Name         string `json:"name" yaml:"name"`
	Address      string `json:"address" yaml:"address"` // base URL
	Instructions string `json:"instructions,omitempty" yaml:"instructions"`
}

// APIToolKind tags how a configured third-party API is described, so
// request construction dispatches once instead of string-sniffing.
type APIToolKind string

const (
	APIToolGraphQL APIToolKind = "graphql"
	APIToolOpenAPI APIToolKind = "openapi"
	APIToolGeneric APIToolKind = "generic"
)

// APIToolConfig is a configured third-party HTTP API the agent may
// consult during a turn.
type APIToolConfig struct {
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description"`
	Kind         APIToolKind       `json:"kind" yaml:"kind"`
	Method       string            `json:"method,omitempty" yaml:"method"` // default POST
	URL          string            `json:"url" yaml:"url"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers"`
	Schema       string            `json:"schema,omitempty" yaml:"schema"` // GraphQL SDL or OpenAPI fragment
	Instructions string            `json:"instructions,omitempty" yaml:"instructions"`
}

// ── Conversation ─────────────────────────────────────────────

// TurnRole is the author of a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// ConversationTurn is one persisted message. Created once per inbound
// message and once per generated reply; never mutated afterwards.
type ConversationTurn struct {
	ID          string       `json:"id"`
	AgentID     string       `json:"agent_id"`
	UserAddress string       `json:"user_address"`
	Role        TurnRole     `json:"role"`
	Content     string       `json:"content"`
	Source      string       `json:"source,omitempty"` // e.g. "widget", "api"
	Usage       *UsageRecord `json:"usage,omitempty"`  // assistant turns only
	CreatedAt   time.Time    `json:"created_at"`
}

// UsageRecord carries the token/cost telemetry attached 1:1 to an
// assistant turn.
type UsageRecord struct {
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	TotalTokens   int64   `json:"total_tokens"`
	LatencyMs     int64   `json:"latency_ms"`
	EstimatedCost float64 `json:"estimated_cost_usd"`
	ErrorCode     string  `json:"error_code,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

// ChatMessage is one message in an LLM conversation payload.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// TokenUsage is the usage metadata reported by an LLM provider.
type TokenUsage struct {
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	TotalTokens   int64   `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost_usd"`
}

// StreamChunk is a single event from a streaming model response.
type StreamChunk struct {
	Content string      `json:"content,omitempty"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"` // latest seen; final on done
}

// ── Knowledge ────────────────────────────────────────────────

// KnowledgeSource is an item of the agent's private knowledge base.
// Indexed sources have chunks in the vector store; unindexed ones are
// fetched directly as a retrieval fallback.
type KnowledgeSource struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Indexed   bool      `json:"indexed"`
	CreatedAt time.Time `json:"created_at"`
}

// KnowledgeChunk is a transient retrieval result, produced per turn and
// never persisted by the orchestration core.
type KnowledgeChunk struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// VectorDoc is a stored embedding document.
type VectorDoc struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agent_id"`
	Content   string            `json:"content"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Vector    []float64         `json:"vector,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SearchResult pairs a stored document with its similarity score.
type SearchResult struct {
	Doc   VectorDoc `json:"doc"`
	Score float64   `json:"score"`
}

// ── Tools ────────────────────────────────────────────────────

// ToolDescriptor is a callable tool discovered from a tool server.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolInvocationResult is the tagged outcome of a single tool call.
// It is never silently dropped: either folded into context or recorded
// as a tool error.
type ToolInvocationResult struct {
	Server   string `json:"server"`
	ToolName string `json:"tool_name"`
	Text     string `json:"text,omitempty"`
	IsError  bool   `json:"is_error"`
	ErrorMsg string `json:"error,omitempty"`
}

// ── Tool-Server Wire Protocol (JSON-RPC 2.0) ─────────────────

type ToolRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

type ToolRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ToolRPCError   `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type ToolRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// ToolCallParams is the params payload for tools/call.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolListResult is the result payload for tools/list.
type ToolListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolCallResult is the result payload for tools/call.
type ToolCallResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ToolContent is one content part of a tool result.
type ToolContent struct {
	Type string `json:"type"` // "text"
	Text string `json:"text,omitempty"`
}

// ── Scheduling ───────────────────────────────────────────────

// AvailabilityWindow is a recurring weekly window in its own timezone,
// owned by an agent's owner.
type AvailabilityWindow struct {
	ID       string       `json:"id" yaml:"id"`
	AgentID  string       `json:"agent_id" yaml:"agent_id"`
	Weekday  time.Weekday `json:"weekday" yaml:"weekday"`
	Start    string       `json:"start" yaml:"start"` // "HH:MM" local to Timezone
	End      string       `json:"end" yaml:"end"`     // "HH:MM" local to Timezone
	Timezone string       `json:"timezone" yaml:"timezone"`
}

// CandidateSlot is a computed (start, end) instant pair. Not persisted.
type CandidateSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SlotGroup groups slot start times under a local date label in the
// owner's timezone.
type SlotGroup struct {
	Date  string   `json:"date"`  // e.g. "Monday, 2026-08-31"
	Times []string `json:"times"` // e.g. "09:00"
}

// SlotSet carries the two privacy-segregated availability projections.
// AIFacing is derived from availability windows alone and is the only
// slot data that may enter LLM context. UIFacing has been filtered by
// calendar busy periods and is returned to the caller for rendering.
type SlotSet struct {
	AIFacing []SlotGroup     `json:"ai_facing"`
	UIFacing []CandidateSlot `json:"ui_facing"`
}

// BusyInterval is an opaque busy period reported by a calendar
// provider's free/busy query.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CalendarConnection is the OAuth2 credential linking an agent's owner
// to an external calendar.
type CalendarConnection struct {
	AgentID      string    `json:"agent_id"`
	Provider     string    `json:"provider"` // e.g. "google"
	CalendarID   string    `json:"calendar_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
}

// ── Events ───────────────────────────────────────────────────

// EventRecord is an extracted community/space event. Uniqueness is
// (lowercased name, date); conflicting inserts are counted as skipped.
type EventRecord struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	Name        string    `json:"name"`
	Date        string    `json:"date"` // "YYYY-MM-DD"
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ── Turn Endpoint Payloads ───────────────────────────────────

// TurnRequest is the inbound body of the turn endpoint.
type TurnRequest struct {
	UserAddress string `json:"user_address"`
	Message     string `json:"message"`
	Stream      bool   `json:"stream,omitempty"`
}

// TurnResponse is the non-streaming reply.
type TurnResponse struct {
	Message    string   `json:"message"`
	Scheduling *SlotSet `json:"scheduling,omitempty"`
}

// TurnEvent is one newline-delimited streaming event: a sequence of
// "chunk" events followed by exactly one "done" or "error".
type TurnEvent struct {
	Type       string   `json:"type"` // "chunk", "done", "error"
	Text       string   `json:"text,omitempty"`
	Message    string   `json:"message,omitempty"`
	Scheduling *SlotSet `json:"scheduling,omitempty"`
	Error      string   `json:"error,omitempty"`
}
