package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetprint/agent/internal/dispatch"
	"github.com/fleetprint/agent/internal/logging"
)

var log = logging.L("transport")

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 512 * 1024
	handshakeTimeout = 10 * time.Second
)

// ErrNotConnected is returned by publish calls while the channel is down so
// callers can route through the fallback exchange instead.
var ErrNotConnected = errors.New("transport channel not connected")

// State is the connection state cell. The channel is its single writer;
// everyone else reads snapshots.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds channel connection settings.
type Config struct {
	DashboardURL   string
	APIKey         string
	AgentID        string
	ReconnectDelay time.Duration
}

// Outbound envelopes.

type heartbeatEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type resultEnvelope struct {
	Type      string                 `json:"type"`
	CommandID string                 `json:"commandId"`
	Result    dispatch.CommandResult `json:"result"`
}

// inboundEnvelope is the typed frame received from the dashboard.
type inboundEnvelope struct {
	Type    string          `json:"type"`
	Command json.RawMessage `json:"command,omitempty"`
}

// Channel maintains the persistent websocket connection to the dashboard.
// Inbound commands are pushed onto the commands channel given at
// construction; outbound frames are serialized through a write mutex so
// racing publishers never interleave.
type Channel struct {
	cfg      Config
	commands chan<- dispatch.Command

	state  atomic.Int32
	conn   *websocket.Conn
	connMu sync.RWMutex

	writeMu sync.Mutex
}

func New(cfg Config, commands chan<- dispatch.Command) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Channel{cfg: cfg, commands: commands}
}

// State returns a snapshot of the connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Connected reports whether the realtime channel is currently live.
func (c *Channel) Connected() bool {
	return c.State() == Connected
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

// Run drives the Disconnected → Connecting → Connected cycle until ctx is
// cancelled. Every wait (dial, read, reconnect delay) observes ctx.
func (c *Channel) Run(ctx context.Context) {
	defer c.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(Connecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(Disconnected)
			if ctx.Err() != nil {
				return
			}
			log.Warn("connection failed", "error", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.setConn(conn)
		c.setState(Connected)
		log.Info("connected", "dashboard", c.cfg.DashboardURL)

		c.serve(ctx, conn)

		c.clearConn()
		c.setState(Disconnected)
		if ctx.Err() != nil {
			return
		}
		log.Info("connection lost, reconnecting", "delay", c.cfg.ReconnectDelay)
		if !c.sleep(ctx) {
			return
		}
	}
}

// sleep waits the reconnect delay, returning false if shutdown arrived.
func (c *Channel) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.cfg.ReconnectDelay):
		return true
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.buildURL()
	if err != nil {
		return nil, fmt.Errorf("failed to build channel URL: %w", err)
	}

	header := http.Header{}
	header.Set("X-API-Key", c.cfg.APIKey)
	if c.cfg.AgentID != "" {
		header.Set("X-Agent-ID", c.cfg.AgentID)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

func (c *Channel) buildURL() (string, error) {
	u, err := url.Parse(c.cfg.DashboardURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/ws/agent"
	return u.String(), nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Channel) clearConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// serve runs the receive loop for one connection, alongside a keepalive
// pinger and a watcher that closes the connection on shutdown so the
// blocked read returns promptly.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	connDone := make(chan struct{})
	defer close(connDone)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-connDone:
		}
	}()
	go c.keepalive(conn, connDone)

	c.readLoop(ctx, conn)
}

func (c *Channel) keepalive(conn *websocket.Conn, connDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-connDone:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				// A failed ping is a transport fault; closing the
				// connection unblocks the read loop and triggers reconnect.
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", "error", err)
			}
			return
		}

		var env inboundEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			// Malformed frame: drop the message, keep the connection.
			log.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case "command":
			var cmd dispatch.Command
			if err := json.Unmarshal(env.Command, &cmd); err != nil {
				log.Warn("dropping malformed command", "error", err)
				continue
			}
			select {
			case c.commands <- cmd:
			case <-ctx.Done():
				return
			}
		default:
			log.Debug("ignoring message", "type", env.Type)
		}
	}
}

// PublishHeartbeat sends a heartbeat envelope over the live connection.
func (c *Channel) PublishHeartbeat(payload any) error {
	return c.publish(heartbeatEnvelope{Type: "heartbeat", Payload: payload})
}

// PublishCommandResult sends a command result envelope over the live
// connection.
func (c *Channel) PublishCommandResult(commandID string, result dispatch.CommandResult) error {
	return c.publish(resultEnvelope{Type: "command_result", CommandID: commandID, Result: result})
}

// publish is safe to call concurrently; actual writes are serialized so
// frames never interleave. It fails fast with ErrNotConnected so callers
// can fall back.
func (c *Channel) publish(v any) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}
