// Package exchange implements the HTTP fallback path to the dashboard:
// heartbeat POSTs that may carry queued commands back, and per-command
// result POSTs. It is always available, whether or not the realtime
// channel is up.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fleetprint/agent/internal/dispatch"
	"github.com/fleetprint/agent/internal/httputil"
	"github.com/fleetprint/agent/internal/logging"
)

var log = logging.L("exchange")

// HeartbeatAck is the dashboard's response to a heartbeat. Commands ride
// back on it when the realtime channel was unavailable.
type HeartbeatAck struct {
	Success  bool               `json:"success"`
	Commands []dispatch.Command `json:"commands,omitempty"`
}

// Client talks to the dashboard's agent REST endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func New(dashboardURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(dashboardURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      httputil.DefaultRetryConfig(),
	}
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("X-API-Key", c.apiKey)
	h.Set("Content-Type", "application/json")
	return h
}

// PublishHeartbeat POSTs a heartbeat payload and decodes the ack,
// including any commands the dashboard queued while the agent was
// unreachable over the realtime channel.
func (c *Client) PublishHeartbeat(ctx context.Context, payload any) (*HeartbeatAck, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	resp, err := httputil.Do(ctx, c.httpClient, http.MethodPost,
		c.baseURL+"/api/agents/heartbeat", body, c.headers(), c.retry)
	if err != nil {
		return nil, fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("heartbeat rejected with status %d", resp.StatusCode)
	}

	var ack HeartbeatAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeat ack: %w", err)
	}
	if len(ack.Commands) > 0 {
		log.Info("heartbeat ack carried commands", "count", len(ack.Commands))
	}
	return &ack, nil
}

// PublishCommandResult POSTs the single correlated result for a command.
func (c *Client) PublishCommandResult(ctx context.Context, commandID string, result dispatch.CommandResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/agents/command/%s/result", c.baseURL, url.PathEscape(commandID))
	resp, err := httputil.Do(ctx, c.httpClient, http.MethodPost, endpoint, body, c.headers(), c.retry)
	if err != nil {
		return fmt.Errorf("result request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("result rejected with status %d", resp.StatusCode)
	}
	return nil
}
