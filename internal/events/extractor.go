// Package events extracts structured event listings from tool and
// knowledge context so an agent can answer "what's on" questions from
// its own store on later turns.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxContextChars bounds how much context is handed to the extraction
// prompt.
const maxContextChars = 8000

// Extractor parses event listings out of free text via the model and
// persists them with (lowercased name, date) uniqueness.
type Extractor struct {
	llm   contracts.LLMService
	store store.EventStore
}

// NewExtractor creates an extractor.
func NewExtractor(llm contracts.LLMService, s store.EventStore) *Extractor {
	return &Extractor{llm: llm, store: s}
}

// rawEvent is the model's output shape for one event.
type rawEvent struct {
	Name        string `json:"name"`
	Date        string `json:"date"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

// Extract pulls events from contextText and stores the new ones.
// Returns how many were stored and how many were skipped (in-batch
// duplicates plus store conflicts).
func (e *Extractor) Extract(ctx context.Context, agentID, contextText string) (stored, skipped int, err error) {
	if strings.TrimSpace(contextText) == "" {
		return 0, 0, nil
	}
	if len(contextText) > maxContextChars {
		contextText = contextText[:maxContextChars]
	}

	resp, err := e.llm.Complete(ctx, &contracts.CompletionRequest{
		System: "Extract every distinct event (concerts, meetups, classes, community happenings) " +
			"from the text. Respond with a JSON array only: " +
			`[{"name": "...", "date": "YYYY-MM-DD", "location": "...", "description": "..."}]. ` +
			"Respond [] if there are none.",
		Messages: []models.ChatMessage{{Role: "user", Content: contextText}},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("event extraction completion: %w", err)
	}

	var raw []rawEvent
	if err := json.Unmarshal([]byte(stripCodeFences(resp.Content)), &raw); err != nil {
		return 0, 0, fmt.Errorf("parse extracted events %q: %w", resp.Content, err)
	}

	seen := map[string]bool{}
	for _, r := range raw {
		ev, ok := normalize(agentID, r)
		if !ok {
			skipped++
			continue
		}

		key := strings.ToLower(ev.Name) + "\x00" + ev.Date
		if seen[key] {
			skipped++
			continue
		}
		seen[key] = true

		if err := e.store.CreateEvent(ctx, ev); err != nil {
			var conflict *store.ErrConflict
			if errors.As(err, &conflict) {
				skipped++
				continue
			}
			log.Warn().Err(err).Str("event", ev.Name).Msg("storing extracted event failed")
			skipped++
			continue
		}
		stored++
	}

	if stored > 0 || skipped > 0 {
		log.Debug().
			Str("agent_id", agentID).
			Int("stored", stored).
			Int("skipped", skipped).
			Msg("event extraction complete")
	}
	return stored, skipped, nil
}

// normalize validates and canonicalizes one raw event.
func normalize(agentID string, r rawEvent) (*models.EventRecord, bool) {
	name := strings.TrimSpace(r.Name)
	date := strings.TrimSpace(r.Date)
	if name == "" || date == "" {
		return nil, false
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, false
	}
	return &models.EventRecord{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		Name:        name,
		Date:        date,
		Location:    strings.TrimSpace(r.Location),
		Description: strings.TrimSpace(r.Description),
		CreatedAt:   time.Now(),
	}, true
}

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
