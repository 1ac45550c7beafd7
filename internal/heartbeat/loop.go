// Package heartbeat periodically snapshots the printer fleet and publishes
// it to the dashboard, preferring the realtime channel and falling back to
// the HTTP exchange. Commands riding back on fallback acks are fed into the
// agent's single command stream.
package heartbeat

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/fleetprint/agent/internal/dispatch"
	"github.com/fleetprint/agent/internal/exchange"
	"github.com/fleetprint/agent/internal/health"
	"github.com/fleetprint/agent/internal/logging"
	"github.com/fleetprint/agent/internal/printers"
)

var log = logging.L("heartbeat")

// Payload is the device snapshot sent on every beat.
type Payload struct {
	AgentID      string              `json:"agentId"`
	Hostname     string              `json:"hostname"`
	OSDescriptor string              `json:"os"`
	AgentVersion string              `json:"agentVersion"`
	IPAddress    string              `json:"ipAddress,omitempty"`
	Printers     []printers.Snapshot `json:"printers"`
	HealthStatus map[string]any      `json:"healthStatus,omitempty"`
}

// RealtimePublisher is the realtime channel surface the loop needs.
type RealtimePublisher interface {
	Connected() bool
	PublishHeartbeat(payload any) error
}

// FallbackPublisher is the HTTP exchange surface the loop needs.
type FallbackPublisher interface {
	PublishHeartbeat(ctx context.Context, payload any) (*exchange.HeartbeatAck, error)
}

// Loop drives the periodic heartbeat.
type Loop struct {
	agentID      string
	agentVersion string
	interval     time.Duration

	provider  printers.Provider
	realtime  RealtimePublisher
	fallback  FallbackPublisher
	healthMon *health.Monitor
	commands  chan<- dispatch.Command
}

func NewLoop(agentID, agentVersion string, interval time.Duration,
	provider printers.Provider, realtime RealtimePublisher, fallback FallbackPublisher,
	healthMon *health.Monitor, commands chan<- dispatch.Command) *Loop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Loop{
		agentID:      agentID,
		agentVersion: agentVersion,
		interval:     interval,
		provider:     provider,
		realtime:     realtime,
		fallback:     fallback,
		healthMon:    healthMon,
		commands:     commands,
	}
}

// Run beats immediately, then on every interval tick until ctx is
// cancelled. A failed beat is recorded and logged; the loop never stops on
// its own.
func (l *Loop) Run(ctx context.Context) {
	l.beat(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.beat(ctx)
		}
	}
}

func (l *Loop) beat(ctx context.Context) {
	payload := l.buildPayload(ctx)

	if l.realtime != nil && l.realtime.Connected() {
		err := l.realtime.PublishHeartbeat(payload)
		if err == nil {
			l.recordHealth(nil)
			log.Debug("heartbeat sent", "path", "realtime", "printers", len(payload.Printers))
			return
		}
		log.Warn("realtime heartbeat failed, using fallback", "error", err)
	}

	ack, err := l.fallback.PublishHeartbeat(ctx, payload)
	l.recordHealth(err)
	if err != nil {
		log.Warn("heartbeat failed", "error", err)
		return
	}
	log.Debug("heartbeat sent", "path", "fallback", "printers", len(payload.Printers))

	for _, cmd := range ack.Commands {
		select {
		case l.commands <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) buildPayload(ctx context.Context) Payload {
	hostname, _ := os.Hostname()

	devices, err := l.provider.ListDevices(ctx)
	if err != nil {
		// A beat with an empty fleet still tells the dashboard we are alive.
		log.Warn("printer enumeration failed", "error", err)
		devices = nil
	}

	p := Payload{
		AgentID:      l.agentID,
		Hostname:     hostname,
		OSDescriptor: osDescriptor(),
		AgentVersion: l.agentVersion,
		IPAddress:    localIP(),
		Printers:     devices,
	}
	if l.healthMon != nil {
		p.HealthStatus = l.healthMon.Summary()
	}
	return p
}

func (l *Loop) recordHealth(err error) {
	if l.healthMon == nil {
		return
	}
	if err != nil {
		l.healthMon.Update("heartbeat", health.Degraded, err.Error())
		return
	}
	l.healthMon.Update("heartbeat", health.Healthy, "")
}

func osDescriptor() string {
	info, err := host.Info()
	if err != nil {
		return runtime.GOOS
	}
	return fmt.Sprintf("%s %s (%s)", info.Platform, info.PlatformVersion, info.KernelArch)
}

// localIP returns the first non-loopback IPv4 address, or empty when the
// host has none.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
