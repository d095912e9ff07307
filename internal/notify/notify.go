// Package notify posts turn outcomes to a configured owner webhook so
// an agent owner can follow conversations and failures without polling
// the API. Payloads are signed with HMAC-SHA256 when a secret is set.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// TurnOutcome is the webhook payload describing one completed turn.
type TurnOutcome struct {
	AgentAddress string    `json:"agent_address"`
	UserAddress  string    `json:"user_address"`
	Status       string    `json:"status"` // "ok" or "generation_error"
	ErrorCode    string    `json:"error_code,omitempty"`
	TotalTokens  int64     `json:"total_tokens,omitempty"`
	LatencyMs    int64     `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier delivers turn outcomes to a single webhook URL.
type Notifier struct {
	url    string
	secret string
	client *http.Client
}

// NewNotifier creates a webhook notifier. secret may be empty, which
// disables signing.
func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Publish posts the outcome, retrying transient failures with
// exponential backoff. Delivery failure only logs; notifications are
// best effort.
func (n *Notifier) Publish(ctx context.Context, outcome TurnOutcome) {
	body, err := json.Marshal(outcome)
	if err != nil {
		log.Warn().Err(err).Msg("marshaling webhook payload failed")
		return
	}

	op := func() error {
		return n.send(ctx, body, outcome.Status)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		log.Warn().Err(err).Str("agent", outcome.AgentAddress).Msg("webhook delivery failed")
		return
	}

	log.Debug().
		Str("agent", outcome.AgentAddress).
		Str("status", outcome.Status).
		Msg("webhook delivered")
}

func (n *Notifier) send(ctx context.Context, body []byte, status string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Parley-Webhook/1.0")
	req.Header.Set("X-Parley-Event", "turn."+status)

	if n.secret != "" {
		mac := hmac.New(sha256.New, []byte(n.secret))
		mac.Write(body)
		req.Header.Set("X-Parley-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return backoff.Permanent(fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, n.url))
	}
	return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, n.url)
}
