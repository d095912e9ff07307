// Package handlers implements the HTTP handlers for the Parley API:
// the conversation turn endpoint (plain and streaming), agent reads,
// and turn history.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/parley-ai/parley/internal/apperror"
	"github.com/parley-ai/parley/internal/orchestrator"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

// Turner runs conversation turns. Implemented by the orchestrator.
type Turner interface {
	Converse(ctx context.Context, agentAddr string, req *models.TurnRequest) (*models.TurnResponse, error)
	ConverseStream(ctx context.Context, agentAddr string, req *models.TurnRequest, events chan<- models.TurnEvent) error
}

var _ Turner = (*orchestrator.Orchestrator)(nil)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store  store.Store
	Turner Turner
}

// New creates a Handlers instance.
func New(s store.Store, t Turner) *Handlers {
	return &Handlers{Store: s, Turner: t}
}

// ── Turn Endpoint ────────────────────────────────────────────

// Converse handles POST /api/v1/agents/{agentAddr}/converse.
func (h *Handlers) Converse(w http.ResponseWriter, r *http.Request) {
	agentAddr := chi.URLParam(r, "agentAddr")

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.Wrap(apperror.CodeValidation, "invalid request body", err))
		return
	}

	if req.Stream {
		h.converseStream(w, r, agentAddr, &req)
		return
	}

	resp, err := h.Turner.Converse(r.Context(), agentAddr, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// converseStream writes newline-delimited JSON events. The request
// context cancels generation when the client goes away.
func (h *Handlers) converseStream(w http.ResponseWriter, r *http.Request, agentAddr string, req *models.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperror.New(apperror.CodeInternal, "streaming unsupported by connection"))
		return
	}

	events := make(chan models.TurnEvent, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Turner.ConverseStream(r.Context(), agentAddr, req, events)
		close(events)
	}()

	enc := json.NewEncoder(w)
	started := false
	for ev := range events {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(ev); err != nil {
			log.Debug().Err(err).Msg("client disconnected mid-stream")
			break
		}
		flusher.Flush()
	}

	if err := <-errCh; err != nil && !started {
		writeError(w, err)
	}
}

// ── Agent Reads ──────────────────────────────────────────────

// agentView is the public projection of an agent.
type agentView struct {
	Address            string    `json:"address"`
	Name               string    `json:"name"`
	OwnerName          string    `json:"owner_name,omitempty"`
	Timezone           string    `json:"timezone,omitempty"`
	MeetingDurationMin int       `json:"meeting_duration_min,omitempty"`
	MessageCount       int64     `json:"message_count"`
	Features           models.FeatureSet `json:"features"`
}

// GetAgent handles GET /api/v1/agents/{agentAddr}.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Store.GetAgentByAddress(r.Context(), chi.URLParam(r, "agentAddr"))
	if err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			writeError(w, apperror.Wrap(apperror.CodeNotFound, "agent not found", err))
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, agentView{
		Address:            agent.Address,
		Name:               agent.Name,
		OwnerName:          agent.OwnerName,
		Timezone:           agent.Timezone,
		MeetingDurationMin: agent.MeetingDurationMin,
		MessageCount:       agent.MessageCount,
		Features:           agent.Features,
	})
}

// ListTurns handles GET /api/v1/agents/{agentAddr}/turns.
func (h *Handlers) ListTurns(w http.ResponseWriter, r *http.Request) {
	userAddress := r.URL.Query().Get("user_address")
	if userAddress == "" {
		writeError(w, apperror.New(apperror.CodeValidation, "user_address query parameter is required"))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	agent, err := h.Store.GetAgentByAddress(r.Context(), chi.URLParam(r, "agentAddr"))
	if err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			writeError(w, apperror.Wrap(apperror.CodeNotFound, "agent not found", err))
			return
		}
		writeError(w, err)
		return
	}

	turns, err := h.Store.ListRecentTurns(r.Context(), agent.ID, userAddress, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"turns": turns})
}

// ── Helpers ──────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	var ae *apperror.Error
	if !errors.As(err, &ae) {
		ae = apperror.Wrap(apperror.CodeInternal, "internal error", err)
	}
	writeJSON(w, ae.HTTPStatus(), map[string]string{
		"error": ae.Message,
		"code":  string(ae.Code),
	})
}
