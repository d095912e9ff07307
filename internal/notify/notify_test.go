package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishSignsPayload(t *testing.T) {
	var gotSig, gotEvent string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Parley-Signature")
		gotEvent = r.Header.Get("X-Parley-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "topsecret")
	n.Publish(context.Background(), TurnOutcome{
		AgentAddress: "demo",
		UserAddress:  "u@example.com",
		Status:       "ok",
		LatencyMs:    120,
		Timestamp:    time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	})

	if gotEvent != "turn.ok" {
		t.Errorf("X-Parley-Event = %q", gotEvent)
	}
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
	if !strings.Contains(string(gotBody), `"agent_address":"demo"`) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestPublishRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	n.Publish(context.Background(), TurnOutcome{AgentAddress: "demo", Status: "ok"})

	if got := calls.Load(); got != 3 {
		t.Errorf("webhook called %d times, want 3", got)
	}
}

func TestPublishDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	n.Publish(context.Background(), TurnOutcome{AgentAddress: "demo", Status: "ok"})

	if got := calls.Load(); got != 1 {
		t.Errorf("webhook called %d times, want 1 for a 4xx", got)
	}
}
