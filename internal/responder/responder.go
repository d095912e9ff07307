// Package responder produces the final assistant reply for a turn,
// in one shot or streamed. It owns the fallback message for empty
// completions and never lets raw provider error text reach a user.
package responder

import (
	"context"

	"github.com/parley-ai/parley/internal/apperror"
	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

// FallbackMessage replaces an empty completion in both modes.
const FallbackMessage = "I'm sorry, I couldn't come up with a response to that. Could you rephrase?"

// SanitizedErrorMessage is the only generation-failure text a user
// ever sees.
const SanitizedErrorMessage = "I'm having trouble responding right now. Please try again in a moment."

// Streamer wraps the model service for turn responses.
type Streamer struct {
	llm contracts.LLMService
}

// NewStreamer creates a responder over the model service.
func NewStreamer(llm contracts.LLMService) *Streamer {
	return &Streamer{llm: llm}
}

// Respond generates the reply in one shot. An empty completion becomes
// the fallback message rather than an empty reply.
func (s *Streamer) Respond(ctx context.Context, req *contracts.CompletionRequest) (*contracts.Completion, error) {
	comp, err := s.llm.Complete(ctx, req)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeGeneration, "completion failed", err)
	}
	if comp.Content == "" {
		log.Warn().Str("model", comp.Model).Msg("empty completion, using fallback message")
		comp.Content = FallbackMessage
	}
	return comp, nil
}

// RespondStream generates the reply as a stream of chunk events on the
// channel, followed by exactly one terminal event: Done with final
// usage, or Done with a sanitized Error. The returned completion holds
// the accumulated text; it is nil exactly when the error event fired.
// The caller owns the channel and closes it after this returns.
func (s *Streamer) RespondStream(ctx context.Context, req *contracts.CompletionRequest, events chan<- models.StreamChunk) (*contracts.Completion, error) {
	comp, err := s.llm.CompleteStream(ctx, req, func(ch *models.StreamChunk) error {
		select {
		case events <- *ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		wrapped := apperror.Wrap(apperror.CodeGeneration, "streaming completion failed", err)
		s.emit(ctx, events, models.StreamChunk{Done: true, Error: SanitizedErrorMessage})
		return nil, wrapped
	}

	if comp.Content == "" {
		log.Warn().Str("model", comp.Model).Msg("empty streamed completion, using fallback message")
		comp.Content = FallbackMessage
		s.emit(ctx, events, models.StreamChunk{Content: FallbackMessage})
	}

	s.emit(ctx, events, models.StreamChunk{Done: true, Usage: &comp.Usage})
	return comp, nil
}

func (s *Streamer) emit(ctx context.Context, events chan<- models.StreamChunk, ev models.StreamChunk) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
