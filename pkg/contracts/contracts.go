// Package contracts defines the service interfaces the turn pipeline
// depends on. Implementations live under internal/; tests substitute
// fakes.
package contracts

import (
	"context"

	"github.com/parley-ai/parley/pkg/models"
)

// ── Embedding Driver ─────────────────────────────────────────

// EmbeddingDriver generates vector embeddings for text.
type EmbeddingDriver interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// Kind identifies the driver ("openai", "ollama").
	Kind() string
}

// ── Vector Store Driver ──────────────────────────────────────

// VectorStoreDriver stores and searches embedding documents, scoped by
// agent.
type VectorStoreDriver interface {
	Upsert(ctx context.Context, agentID string, docs []models.VectorDoc) error
	Search(ctx context.Context, agentID string, vector []float64, topK int) ([]models.SearchResult, error)
	Delete(ctx context.Context, agentID string, ids []string) error
	Count(ctx context.Context, agentID string) (int, error)
	Kind() string
}

// ── LLM Service ──────────────────────────────────────────────

// CompletionRequest is a provider-agnostic chat completion request.
type CompletionRequest struct {
	System   string
	Messages []models.ChatMessage
	Model    string // empty → provider default
}

// Completion is the full result of a chat completion.
type Completion struct {
	Content string
	Usage   models.TokenUsage
	Model   string
}

// LLMService sends chat completion requests to a model provider.
type LLMService interface {
	// Complete returns the full response once available.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// CompleteStream invokes onChunk for each streamed token event and
	// returns the accumulated completion. onChunk errors cancel the
	// stream.
	CompleteStream(ctx context.Context, req *CompletionRequest, onChunk func(*models.StreamChunk) error) (*Completion, error)
}
