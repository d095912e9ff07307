// Package retrieval implements knowledge retrieval for the turn
// pipeline: embedding-based similarity search over the agent's indexed
// sources, plus a best-effort direct fetch of sources that have not
// been indexed yet.
package retrieval

import (
	"context"
	"regexp"
	"time"

	"github.com/parley-ai/parley/internal/guardrails"
	"github.com/parley-ai/parley/internal/metrics"
	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// minRelevance drops chunks whose similarity score is too low to
	// be useful prompt context.
	minRelevance = 0.25

	// DefaultTopK is the chunk count for a normal turn; MaxTopK is the
	// ceiling when the caller asks for comprehensive context.
	DefaultTopK = 5
	MaxTopK     = 8
)

// base64Image matches inline base64 image payloads (data URIs and bare
// base64 runs long enough to only be binary blobs).
var base64Image = regexp.MustCompile(`data:image/[a-zA-Z+]+;base64,[A-Za-z0-9+/=]+|[A-Za-z0-9+/]{200,}={0,2}`)

// Service performs similarity search over an agent's knowledge base.
type Service struct {
	embedder contracts.EmbeddingDriver
	vectors  contracts.VectorStoreDriver
}

// NewService creates a retrieval service over the given drivers.
func NewService(embedder contracts.EmbeddingDriver, vectors contracts.VectorStoreDriver) *Service {
	return &Service{embedder: embedder, vectors: vectors}
}

// Search embeds the query and returns the chunks scoring at or above
// the relevance floor, best first. Embedding or search failure yields
// an empty result, not an error: retrieval is an enrichment, never a
// turn-fatal dependency.
func (s *Service) Search(ctx context.Context, agentID, query string, topK int) []models.KnowledgeChunk {
	start := time.Now()

	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("query embedding failed, skipping retrieval")
		metrics.RecordRetrievalSearch("embed_error", time.Since(start))
		return nil
	}

	results, err := s.vectors.Search(ctx, agentID, vectors[0], topK)
	if err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("vector search failed, skipping retrieval")
		metrics.RecordRetrievalSearch("search_error", time.Since(start))
		return nil
	}

	var chunks []models.KnowledgeChunk
	for _, r := range results {
		if r.Score < minRelevance {
			continue
		}
		chunks = append(chunks, models.KnowledgeChunk{
			Text:   ScrubBinaryPayloads(r.Doc.Content),
			Score:  r.Score,
			Source: r.Doc.Source,
		})
	}
	chunks = guardrails.CleanChunks(chunks)

	metrics.RecordRetrievalSearch("ok", time.Since(start))
	log.Debug().
		Str("agent_id", agentID).
		Int("results", len(results)).
		Int("relevant", len(chunks)).
		Msg("knowledge search complete")
	return chunks
}

// ScrubBinaryPayloads removes inline base64 image payloads so they
// never inflate a prompt.
func ScrubBinaryPayloads(text string) string {
	return base64Image.ReplaceAllString(text, "[image omitted]")
}
