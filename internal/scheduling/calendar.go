package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// CalendarClient queries a calendar provider's free/busy endpoint with
// the agent owner's stored OAuth2 credential. An expired access token
// gets exactly one refresh attempt.
type CalendarClient struct {
	cfg    config.CalendarConfig
	store  store.CalendarStore
	client *http.Client
}

// NewCalendarClient creates the free/busy client.
func NewCalendarClient(cfg config.CalendarConfig, s store.CalendarStore) *CalendarClient {
	return &CalendarClient{
		cfg:    cfg,
		store:  s,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type freeBusyRequest struct {
	TimeMin string               `json:"timeMin"`
	TimeMax string               `json:"timeMax"`
	Items   []freeBusyRequestCal `json:"items"`
}

type freeBusyRequestCal struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

// BusyIntervals returns the owner's busy periods in [from, to). An
// agent without a calendar connection has no busy periods.
func (c *CalendarClient) BusyIntervals(ctx context.Context, agentID string, from, to time.Time) ([]models.BusyInterval, error) {
	conn, err := c.store.GetCalendarConnection(ctx, agentID)
	if err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load calendar connection: %w", err)
	}

	token, err := c.freshToken(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("calendar credential: %w", err)
	}

	body, _ := json.Marshal(freeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []freeBusyRequestCal{{ID: conn.CalendarID}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.FreeBusyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create free/busy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("free/busy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("free/busy returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var fb freeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&fb); err != nil {
		return nil, fmt.Errorf("decode free/busy response: %w", err)
	}

	var intervals []models.BusyInterval
	for _, cal := range fb.Calendars {
		for _, b := range cal.Busy {
			intervals = append(intervals, models.BusyInterval{Start: b.Start, End: b.End})
		}
	}
	return intervals, nil
}

// freshToken returns a usable access token, refreshing once when the
// stored one is expired and persisting the result.
func (c *CalendarClient) freshToken(ctx context.Context, conn *models.CalendarConnection) (string, error) {
	tok := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.Expiry,
	}
	if tok.Valid() {
		return tok.AccessToken, nil
	}
	if conn.RefreshToken == "" {
		return "", fmt.Errorf("access token expired and no refresh token stored")
	}

	oc := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: c.cfg.TokenURL},
	}
	refreshed, err := oc.TokenSource(ctx, tok).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	conn.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		conn.RefreshToken = refreshed.RefreshToken
	}
	conn.Expiry = refreshed.Expiry
	if err := c.store.UpsertCalendarConnection(ctx, conn); err != nil {
		log.Warn().Err(err).Str("agent_id", conn.AgentID).Msg("persisting refreshed calendar token failed")
	}
	return refreshed.AccessToken, nil
}
