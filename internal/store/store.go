// Package store provides the storage interface and implementations for
// the Parley backend. Conversation turns are append-only; everything
// else is plain CRUD. Handlers and the orchestrator depend only on the
// Store interface so tests can use the in-memory implementation.
package store

import (
	"context"
	"time"

	"github.com/parley-ai/parley/pkg/models"
)

// Store is the primary storage interface.
type Store interface {
	AgentStore
	TurnStore
	KnowledgeSourceStore
	WindowStore
	EventStore
	CalendarStore

	// Close releases all resources held by the store.
	Close() error
}

// ── Agent Store ──────────────────────────────────────────────

type AgentStore interface {
	GetAgentByAddress(ctx context.Context, address string) (*models.Agent, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgent(ctx context.Context, agent *models.Agent) error

	// IncrementMessageCount bumps the agent's counter. Called exactly
	// once per completed turn.
	IncrementMessageCount(ctx context.Context, id string) error
}

// ── Turn Store ───────────────────────────────────────────────

type TurnStore interface {
	// AppendTurn persists a turn record. Records are never mutated
	// after creation.
	AppendTurn(ctx context.Context, turn *models.ConversationTurn) error

	// ListRecentTurns returns up to limit turns for the (agent, user)
	// pair, oldest first.
	ListRecentTurns(ctx context.Context, agentID, userAddress string, limit int) ([]models.ConversationTurn, error)

	// ListExpiredTurns returns turns created before cutoff, across all
	// conversations, up to limit. Used by the retention janitor.
	ListExpiredTurns(ctx context.Context, cutoff time.Time, limit int) ([]models.ConversationTurn, error)

	// DeleteTurnsBefore removes turns created before cutoff and returns
	// how many were removed.
	DeleteTurnsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ── Knowledge Source Store ───────────────────────────────────

type KnowledgeSourceStore interface {
	CreateKnowledgeSource(ctx context.Context, src *models.KnowledgeSource) error
	ListKnowledgeSources(ctx context.Context, agentID string) ([]models.KnowledgeSource, error)

	// ListUnindexedSources returns up to limit sources that have no
	// chunks in the vector store yet. Used as the retrieval fallback.
	ListUnindexedSources(ctx context.Context, agentID string, limit int) ([]models.KnowledgeSource, error)
}

// ── Availability Window Store ────────────────────────────────

type WindowStore interface {
	CreateWindow(ctx context.Context, w *models.AvailabilityWindow) error
	ListWindows(ctx context.Context, agentID string) ([]models.AvailabilityWindow, error)
}

// ── Event Store ──────────────────────────────────────────────

type EventStore interface {
	// CreateEvent persists an extracted event. Returns *ErrConflict
	// when an event with the same lowercased name and date already
	// exists, so callers can count the insert as skipped.
	CreateEvent(ctx context.Context, ev *models.EventRecord) error
	ListEvents(ctx context.Context, agentID string) ([]models.EventRecord, error)
}

// ── Calendar Store ───────────────────────────────────────────

type CalendarStore interface {
	GetCalendarConnection(ctx context.Context, agentID string) (*models.CalendarConnection, error)
	UpsertCalendarConnection(ctx context.Context, conn *models.CalendarConnection) error
}

// ── Errors ───────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when an insert violates a uniqueness
// constraint.
type ErrConflict struct {
	Entity string
	Key    string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " already exists: " + e.Key
}
