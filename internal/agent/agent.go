// Package agent wires the transport channel, the fallback exchange, the
// heartbeat loop, and the command dispatcher into one long-running process.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/fleetprint/agent/internal/config"
	"github.com/fleetprint/agent/internal/dispatch"
	"github.com/fleetprint/agent/internal/exchange"
	"github.com/fleetprint/agent/internal/health"
	"github.com/fleetprint/agent/internal/heartbeat"
	"github.com/fleetprint/agent/internal/logging"
	"github.com/fleetprint/agent/internal/printers"
	"github.com/fleetprint/agent/internal/transport"
	"github.com/fleetprint/agent/internal/workerpool"
)

var log = logging.L("agent")

const (
	readinessPollInterval = 30 * time.Second
	shutdownDrainTimeout  = 10 * time.Second
)

// realtimeLink is the slice of the transport channel the agent uses.
type realtimeLink interface {
	Run(ctx context.Context)
	Connected() bool
	PublishHeartbeat(payload any) error
	PublishCommandResult(commandID string, result dispatch.CommandResult) error
}

// fallbackLink is the slice of the HTTP exchange the agent uses.
type fallbackLink interface {
	PublishHeartbeat(ctx context.Context, payload any) (*exchange.HeartbeatAck, error)
	PublishCommandResult(ctx context.Context, commandID string, result dispatch.CommandResult) error
}

// Agent owns the control-plane relationship with the dashboard.
type Agent struct {
	cfg      config.Config
	cfgFile  string
	version  string
	provider printers.Provider

	dispatcher *dispatch.Dispatcher
	pool       *workerpool.Pool
	healthMon  *health.Monitor
	channel    realtimeLink
	exch       fallbackLink
	commands   chan dispatch.Command

	seenCommands   map[string]time.Time
	seenCommandsMu sync.Mutex

	readinessPoll time.Duration
	wg            sync.WaitGroup
}

func New(cfg config.Config, cfgFile, version string, provider printers.Provider) *Agent {
	a := &Agent{
		cfg:           cfg,
		cfgFile:       cfgFile,
		version:       version,
		provider:      provider,
		dispatcher:    dispatch.New(provider),
		healthMon:     health.NewMonitor(),
		seenCommands:  make(map[string]time.Time),
		readinessPoll: readinessPollInterval,
	}
	if cfg.Ready() {
		a.buildLinks()
	}
	return a
}

// buildLinks constructs the pool, command stream, exchange client and
// transport channel from the current config. Called once the config is
// ready: an agent started before enrollment must not bake the empty
// pre-enrollment URL and key into its clients.
func (a *Agent) buildLinks() {
	a.pool = workerpool.New(a.cfg.MaxConcurrentCommands, a.cfg.CommandQueueSize)
	a.commands = make(chan dispatch.Command, a.cfg.CommandQueueSize)
	a.exch = exchange.New(a.cfg.DashboardURL, a.cfg.APIKey)
	if a.cfg.UseRealtimeTransport {
		a.channel = transport.New(transport.Config{
			DashboardURL:   a.cfg.DashboardURL,
			APIKey:         a.cfg.APIKey,
			AgentID:        a.cfg.AgentID,
			ReconnectDelay: time.Duration(a.cfg.ReconnectDelaySeconds) * time.Second,
		}, a.commands)
	}
}

// Run blocks until ctx is cancelled, then drains in-flight commands and
// returns.
func (a *Agent) Run(ctx context.Context) error {
	if !a.cfg.Ready() {
		if !a.awaitReadiness(ctx) {
			return ctx.Err()
		}
		a.buildLinks()
	}

	log.Info("agent starting", "agentId", a.cfg.AgentID, "version", a.version,
		"realtime", a.cfg.UseRealtimeTransport)

	if a.channel != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.channel.Run(ctx)
		}()
	}

	loop := heartbeat.NewLoop(a.cfg.AgentID, a.version,
		time.Duration(a.cfg.HeartbeatIntervalSeconds)*time.Second,
		a.provider, a.realtimeOrNil(), a.exch, a.healthMon, a.commands)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		loop.Run(ctx)
	}()

	a.consumeCommands(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	a.pool.Shutdown(drainCtx)
	a.wg.Wait()
	log.Info("agent stopped")
	return nil
}

func (a *Agent) realtimeOrNil() heartbeat.RealtimePublisher {
	if a.channel == nil {
		return nil
	}
	return a.channel
}

// awaitReadiness polls the config file until an API key and dashboard URL
// appear. Returns false if ctx was cancelled first.
func (a *Agent) awaitReadiness(ctx context.Context) bool {
	log.Info("configuration incomplete, waiting for enrollment", "configFile", a.cfgFile)

	ticker := time.NewTicker(a.readinessPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				log.Debug("config reload failed", "error", err)
				continue
			}
			if cfg.Ready() {
				a.cfg = *cfg
				log.Info("configuration ready", "agentId", a.cfg.AgentID)
				return true
			}
		}
	}
}

// consumeCommands is the single consumer of the inbound command stream.
// Each accepted command is handed to the worker pool; per-printer ordering
// is enforced further down by the dispatcher's locks.
func (a *Agent) consumeCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.commands:
			if !a.markCommandSeen(cmd.ID) {
				log.Debug("skipping duplicate command", logging.KeyCommandID, cmd.ID)
				continue
			}
			c := cmd
			if !a.pool.Submit(func() {
				a.execute(ctx, c)
			}) {
				log.Warn("command rejected, queue saturated", logging.KeyCommandID, c.ID)
				a.deliver(ctx, c.ID, dispatch.CommandResult{
					Success:     false,
					Message:     "agent busy: command queue is full",
					PrinterName: c.PrinterName,
				})
			}
		}
	}
}

func (a *Agent) execute(ctx context.Context, cmd dispatch.Command) {
	result := a.dispatcher.Handle(ctx, cmd)
	a.deliver(ctx, cmd.ID, result)
}

// deliver publishes exactly one result for a command. The path is chosen at
// send time: realtime when connected, otherwise (or on realtime failure)
// the HTTP exchange.
func (a *Agent) deliver(ctx context.Context, commandID string, result dispatch.CommandResult) {
	if a.channel != nil && a.channel.Connected() {
		err := a.channel.PublishCommandResult(commandID, result)
		if err == nil {
			return
		}
		log.Warn("realtime result publish failed, using fallback",
			logging.KeyCommandID, commandID, "error", err)
	}

	// Result delivery must survive shutdown of the run context.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := a.exch.PublishCommandResult(sendCtx, commandID, result); err != nil {
		log.Error("failed to deliver command result", logging.KeyCommandID, commandID, "error", err)
	}
}

// markCommandSeen returns true the first time a command ID is observed.
// Commands can arrive over both the realtime channel and a heartbeat ack;
// only the first copy runs. Entries older than 2 minutes are evicted once
// the map grows past 100.
func (a *Agent) markCommandSeen(id string) bool {
	if id == "" {
		return true
	}

	a.seenCommandsMu.Lock()
	defer a.seenCommandsMu.Unlock()

	if _, seen := a.seenCommands[id]; seen {
		return false
	}
	a.seenCommands[id] = time.Now()

	if len(a.seenCommands) > 100 {
		cutoff := time.Now().Add(-2 * time.Minute)
		for k, t := range a.seenCommands {
			if t.Before(cutoff) {
				delete(a.seenCommands, k)
			}
		}
	}
	return true
}
