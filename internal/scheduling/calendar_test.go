package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/models"
)

type fakeCalendarStore struct {
	conn     *models.CalendarConnection
	upserted *models.CalendarConnection
}

func (f *fakeCalendarStore) GetCalendarConnection(ctx context.Context, agentID string) (*models.CalendarConnection, error) {
	if f.conn == nil {
		return nil, &store.ErrNotFound{Entity: "calendar connection", Key: agentID}
	}
	return f.conn, nil
}

func (f *fakeCalendarStore) UpsertCalendarConnection(ctx context.Context, conn *models.CalendarConnection) error {
	f.upserted = conn
	return nil
}

func TestBusyIntervalsNoConnection(t *testing.T) {
	c := NewCalendarClient(config.CalendarConfig{}, &fakeCalendarStore{})

	intervals, err := c.BusyIntervals(context.Background(), "ag1", time.Now(), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("BusyIntervals() error = %v, want nil for unconnected agent", err)
	}
	if intervals != nil {
		t.Errorf("intervals = %v, want nil", intervals)
	}
}

func TestBusyIntervalsQueriesFreeBusy(t *testing.T) {
	freeBusy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer valid-token" {
			t.Errorf("Authorization = %q", got)
		}
		var req freeBusyRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Items) != 1 || req.Items[0].ID != "primary" {
			t.Errorf("items = %v", req.Items)
		}
		fmt.Fprint(w, `{"calendars": {"primary": {"busy": [
			{"start": "2026-08-24T09:00:00Z", "end": "2026-08-24T10:00:00Z"}
		]}}}`)
	}))
	defer freeBusy.Close()

	st := &fakeCalendarStore{conn: &models.CalendarConnection{
		AgentID:     "ag1",
		CalendarID:  "primary",
		AccessToken: "valid-token",
		Expiry:      time.Now().Add(time.Hour),
	}}
	c := NewCalendarClient(config.CalendarConfig{FreeBusyURL: freeBusy.URL}, st)

	intervals, err := c.BusyIntervals(context.Background(), "ag1", time.Now(), time.Now().Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("BusyIntervals() error = %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("got %d intervals, want 1", len(intervals))
	}
	if intervals[0].End.Sub(intervals[0].Start) != time.Hour {
		t.Errorf("interval = %+v", intervals[0])
	}
}

func TestBusyIntervalsRefreshesExpiredToken(t *testing.T) {
	var refreshes int
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "fresh-token", "token_type": "Bearer", "expires_in": 3600}`)
	}))
	defer tokenSrv.Close()

	freeBusy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer fresh-token" {
			t.Errorf("Authorization = %q, want refreshed token", got)
		}
		fmt.Fprint(w, `{"calendars": {}}`)
	}))
	defer freeBusy.Close()

	st := &fakeCalendarStore{conn: &models.CalendarConnection{
		AgentID:      "ag1",
		CalendarID:   "primary",
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}}
	c := NewCalendarClient(config.CalendarConfig{
		TokenURL:    tokenSrv.URL,
		FreeBusyURL: freeBusy.URL,
	}, st)

	if _, err := c.BusyIntervals(context.Background(), "ag1", time.Now(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("BusyIntervals() error = %v", err)
	}
	if refreshes != 1 {
		t.Errorf("token endpoint hit %d times, want 1", refreshes)
	}
	if st.upserted == nil || st.upserted.AccessToken != "fresh-token" {
		t.Errorf("refreshed token not persisted: %+v", st.upserted)
	}
}

func TestBusyIntervalsExpiredWithoutRefreshToken(t *testing.T) {
	st := &fakeCalendarStore{conn: &models.CalendarConnection{
		AgentID:     "ag1",
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Minute),
	}}
	c := NewCalendarClient(config.CalendarConfig{}, st)

	if _, err := c.BusyIntervals(context.Background(), "ag1", time.Now(), time.Now().Add(time.Hour)); err == nil {
		t.Fatal("BusyIntervals() error = nil, want credential error")
	}
}
