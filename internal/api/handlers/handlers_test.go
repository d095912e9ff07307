package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/parley-ai/parley/internal/apperror"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/models"
)

type fakeTurner struct {
	resp   *models.TurnResponse
	events []models.TurnEvent
	err    error
}

func (f *fakeTurner) Converse(ctx context.Context, agentAddr string, req *models.TurnRequest) (*models.TurnResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeTurner) ConverseStream(ctx context.Context, agentAddr string, req *models.TurnRequest, events chan<- models.TurnEvent) error {
	if f.err != nil {
		return f.err
	}
	for _, ev := range f.events {
		events <- ev
	}
	return nil
}

func testRouter(t *testing.T, turner Turner) (http.Handler, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	s.CreateAgent(context.Background(), &models.Agent{
		ID: "ag1", Address: "demo", Name: "Demo", OwnerName: "Ana",
		ToolServers: []models.ToolServerConfig{{Name: "secret-internal", Address: "http://internal"}},
	})
	h := New(s, turner)

	r := chi.NewRouter()
	r.Route("/api/v1/agents/{agentAddr}", func(r chi.Router) {
		r.Get("/", h.GetAgent)
		r.Get("/turns", h.ListTurns)
		r.Post("/converse", h.Converse)
	})
	return r, s
}

func TestConverseNonStreaming(t *testing.T) {
	turner := &fakeTurner{resp: &models.TurnResponse{Message: "hi there"}}
	r, _ := testRouter(t, turner)

	body := `{"user_address": "u@example.com", "message": "hello"}`
	req := httptest.NewRequest("POST", "/api/v1/agents/demo/converse", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp models.TurnResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "hi there" {
		t.Errorf("Message = %q", resp.Message)
	}
}

func TestConverseNotFound(t *testing.T) {
	turner := &fakeTurner{err: apperror.New(apperror.CodeNotFound, "agent not found")}
	r, _ := testRouter(t, turner)

	req := httptest.NewRequest("POST", "/api/v1/agents/ghost/converse",
		strings.NewReader(`{"user_address": "u", "message": "hi"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var errResp map[string]string
	json.Unmarshal(w.Body.Bytes(), &errResp)
	if errResp["code"] != "NOT_FOUND" {
		t.Errorf("code = %q", errResp["code"])
	}
}

func TestConverseInvalidBody(t *testing.T) {
	r, _ := testRouter(t, &fakeTurner{})

	req := httptest.NewRequest("POST", "/api/v1/agents/demo/converse", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestConverseStreamingNDJSON(t *testing.T) {
	turner := &fakeTurner{events: []models.TurnEvent{
		{Type: "chunk", Text: "hel"},
		{Type: "chunk", Text: "lo"},
		{Type: "done", Message: "hello"},
	}}
	r, _ := testRouter(t, turner)

	req := httptest.NewRequest("POST", "/api/v1/agents/demo/converse",
		strings.NewReader(`{"user_address": "u", "message": "hi", "stream": true}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	var events []models.TurnEvent
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var ev models.TurnEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %q not valid JSON: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[2].Type != "done" || events[2].Message != "hello" {
		t.Errorf("terminal event = %+v", events[2])
	}
}

func TestConverseStreamingFatalError(t *testing.T) {
	turner := &fakeTurner{err: apperror.New(apperror.CodeNotFound, "agent not found")}
	r, _ := testRouter(t, turner)

	req := httptest.NewRequest("POST", "/api/v1/agents/ghost/converse",
		strings.NewReader(`{"user_address": "u", "message": "hi", "stream": true}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when turn fails before streaming", w.Code)
	}
}

func TestGetAgentPublicView(t *testing.T) {
	r, _ := testRouter(t, &fakeTurner{})

	req := httptest.NewRequest("GET", "/api/v1/agents/demo/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"name":"Demo"`) {
		t.Errorf("body = %s", body)
	}
	if strings.Contains(body, "secret-internal") || strings.Contains(body, "http://internal") {
		t.Error("tool server configuration leaked in public view")
	}
}

func TestListTurns(t *testing.T) {
	r, s := testRouter(t, &fakeTurner{})
	s.AppendTurn(context.Background(), &models.ConversationTurn{
		ID: "t1", AgentID: "ag1", UserAddress: "u@example.com", Role: models.RoleUser, Content: "hi",
	})

	req := httptest.NewRequest("GET", "/api/v1/agents/demo/turns?user_address=u@example.com", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Turns []models.ConversationTurn `json:"turns"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Turns) != 1 || resp.Turns[0].Content != "hi" {
		t.Errorf("turns = %+v", resp.Turns)
	}
}

func TestListTurnsRequiresUserAddress(t *testing.T) {
	r, _ := testRouter(t, &fakeTurner{})

	req := httptest.NewRequest("GET", "/api/v1/agents/demo/turns", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
