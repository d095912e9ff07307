package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parley-ai/parley/pkg/models"
)

// MemoryStore is a thread-safe in-memory Store. It is the default
// backend for development and tests; turn records are kept per
// (agent, user) pair in append order.
type MemoryStore struct {
	mu sync.RWMutex

	agents    map[string]*models.Agent // key: agent ID
	byAddress map[string]string        // address → agent ID

	turns map[string][]models.ConversationTurn // key: agentID + "\x00" + userAddress

	sources map[string][]models.KnowledgeSource // key: agent ID

	windows map[string][]models.AvailabilityWindow // key: agent ID

	events    map[string][]models.EventRecord // key: agent ID
	eventKeys map[string]struct{}             // agentID + "\x00" + lower(name) + "\x00" + date

	calendars map[string]*models.CalendarConnection // key: agent ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[string]*models.Agent),
		byAddress: make(map[string]string),
		turns:     make(map[string][]models.ConversationTurn),
		sources:   make(map[string][]models.KnowledgeSource),
		windows:   make(map[string][]models.AvailabilityWindow),
		events:    make(map[string][]models.EventRecord),
		eventKeys: make(map[string]struct{}),
		calendars: make(map[string]*models.CalendarConnection),
	}
}

func (s *MemoryStore) Close() error { return nil }

// ── Agents ───────────────────────────────────────────────────

func (s *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	cp := *agent
	s.agents[agent.ID] = &cp
	s.byAddress[agent.Address] = agent.ID
	return nil
}

func (s *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[agent.ID]
	if !ok {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	delete(s.byAddress, existing.Address)

	agent.UpdatedAt = time.Now().UTC()
	cp := *agent
	s.agents[agent.ID] = &cp
	s.byAddress[agent.Address] = agent.ID
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	cp := *agent
	return &cp, nil
}

func (s *MemoryStore) GetAgentByAddress(_ context.Context, address string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: address}
	}
	cp := *s.agents[id]
	return &cp, nil
}

func (s *MemoryStore) ListAgents(_ context.Context) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *MemoryStore) IncrementMessageCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	agent.MessageCount++
	return nil
}

// ── Turns ────────────────────────────────────────────────────

func turnKey(agentID, userAddress string) string {
	return agentID + "\x00" + userAddress
}

func (s *MemoryStore) AppendTurn(_ context.Context, turn *models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	k := turnKey(turn.AgentID, turn.UserAddress)
	s.turns[k] = append(s.turns[k], *turn)
	return nil
}

func (s *MemoryStore) ListRecentTurns(_ context.Context, agentID, userAddress string, limit int) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[turnKey(agentID, userAddress)]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.ConversationTurn, len(all))
	copy(out, all)
	return out, nil
}

func (s *MemoryStore) ListExpiredTurns(_ context.Context, cutoff time.Time, limit int) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ConversationTurn
	for _, turns := range s.turns {
		for _, t := range turns {
			if !t.CreatedAt.Before(cutoff) {
				continue
			}
			out = append(out, t)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteTurnsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, turns := range s.turns {
		kept := turns[:0]
		for _, t := range turns {
			if t.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(s.turns, k)
			continue
		}
		s.turns[k] = kept
	}
	return removed, nil
}

// ── Knowledge Sources ────────────────────────────────────────

func (s *MemoryStore) CreateKnowledgeSource(_ context.Context, src *models.KnowledgeSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	s.sources[src.AgentID] = append(s.sources[src.AgentID], *src)
	return nil
}

func (s *MemoryStore) ListKnowledgeSources(_ context.Context, agentID string) ([]models.KnowledgeSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.KnowledgeSource, len(s.sources[agentID]))
	copy(out, s.sources[agentID])
	return out, nil
}

func (s *MemoryStore) ListUnindexedSources(_ context.Context, agentID string, limit int) ([]models.KnowledgeSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.KnowledgeSource
	for _, src := range s.sources[agentID] {
		if src.Indexed {
			continue
		}
		out = append(out, src)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ── Availability Windows ─────────────────────────────────────

func (s *MemoryStore) CreateWindow(_ context.Context, w *models.AvailabilityWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	s.windows[w.AgentID] = append(s.windows[w.AgentID], *w)
	return nil
}

func (s *MemoryStore) ListWindows(_ context.Context, agentID string) ([]models.AvailabilityWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AvailabilityWindow, len(s.windows[agentID]))
	copy(out, s.windows[agentID])
	return out, nil
}

// ── Events ───────────────────────────────────────────────────

func eventKey(agentID, name, date string) string {
	return agentID + "\x00" + strings.ToLower(strings.TrimSpace(name)) + "\x00" + date
}

func (s *MemoryStore) CreateEvent(_ context.Context, ev *models.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := eventKey(ev.AgentID, ev.Name, ev.Date)
	if _, exists := s.eventKeys[k]; exists {
		return &ErrConflict{Entity: "event", Key: ev.Name + " @ " + ev.Date}
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.eventKeys[k] = struct{}{}
	s.events[ev.AgentID] = append(s.events[ev.AgentID], *ev)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, agentID string) ([]models.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.EventRecord, len(s.events[agentID]))
	copy(out, s.events[agentID])
	return out, nil
}

// ── Calendar Connections ─────────────────────────────────────

func (s *MemoryStore) GetCalendarConnection(_ context.Context, agentID string) (*models.CalendarConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.calendars[agentID]
	if !ok {
		return nil, &ErrNotFound{Entity: "calendar connection", Key: agentID}
	}
	cp := *conn
	return &cp, nil
}

func (s *MemoryStore) UpsertCalendarConnection(_ context.Context, conn *models.CalendarConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *conn
	s.calendars[conn.AgentID] = &cp
	return nil
}
