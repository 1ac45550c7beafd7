package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetprint/agent/internal/logging"
	"github.com/fleetprint/agent/internal/printers"
)

var log = logging.L("dispatch")

// handler executes one command kind against the capability provider.
type handler func(d *Dispatcher, ctx context.Context, cmd Command) CommandResult

// handlerRegistry maps command kinds to their handlers. Written only
// during package init, read-only thereafter.
var handlerRegistry = map[string]handler{
	KindRestartSubsystem: handleRestartSubsystem,
	KindClearQueue:       handleClearQueue,
	KindFixDevice:        handleFixDevice,
	KindTestOutput:       handleTestOutput,
	KindGetStatus:        handleGetStatus,
	KindInstallDriver:    handleInstallDriver,
	KindUpdateDriver:     handleUpdateDriver,
}

// mutatingKinds take the per-printer lock; get_status reads concurrently.
var mutatingKinds = map[string]bool{
	KindRestartSubsystem: true,
	KindClearQueue:       true,
	KindFixDevice:        true,
	KindTestOutput:       true,
	KindInstallDriver:    true,
	KindUpdateDriver:     true,
}

// Dispatcher maps command kinds to handlers and executes them against the
// capability provider. Handle never panics past its boundary and always
// returns exactly one result.
type Dispatcher struct {
	provider   printers.Provider
	locks      *printerLocks
	httpClient *http.Client
	timeout    time.Duration
}

func New(provider printers.Provider) *Dispatcher {
	return &Dispatcher{
		provider:   provider,
		locks:      newPrinterLocks(),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		timeout:    2 * time.Minute,
	}
}

// Handle executes a command and returns its single correlated result. Any
// provider failure or unexpected fault is converted into a failed result;
// nothing propagates to the caller.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) (result CommandResult) {
	cmdLog := logging.WithCommand(log, cmd.ID, cmd.Kind)

	defer func() {
		if r := recover(); r != nil {
			cmdLog.Error("command handler panicked", "panic", r)
			result = CommandResult{
				Success:     false,
				Message:     fmt.Sprintf("internal fault handling command: %v", r),
				PrinterName: cmd.PrinterName,
			}
		}
	}()

	h, ok := handlerRegistry[cmd.Kind]
	if !ok {
		cmdLog.Warn("no handler registered for command kind")
		return CommandResult{
			Success:     false,
			Message:     fmt.Sprintf("unknown command kind: %s", cmd.Kind),
			PrinterName: cmd.PrinterName,
		}
	}

	if mutatingKinds[cmd.Kind] {
		lock := d.locks.forPrinter(cmd.PrinterName)
		lock.Lock()
		defer lock.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmdLog.Info("processing command", logging.KeyPrinter, cmd.PrinterName)
	result = h(d, ctx, cmd)
	result.PrinterName = cmd.PrinterName
	cmdLog.Info("command completed", "success", result.Success)
	return result
}
