package dispatch

import (
	"context"
	"fmt"

	"github.com/fleetprint/agent/internal/printers"
)

func handleRestartSubsystem(d *Dispatcher, ctx context.Context, cmd Command) CommandResult {
	detail, err := d.provider.RestartSubsystem(ctx)
	if err != nil {
		return CommandResult{Success: false, Message: err.Error()}
	}
	return CommandResult{
		Success:      true,
		Message:      detail,
		ActionsTaken: []string{"Restarted print spooler"},
	}
}

func handleClearQueue(d *Dispatcher, ctx context.Context, cmd Command) CommandResult {
	if cmd.PrinterName == "" {
		return CommandResult{Success: false, Message: "Printer name is required"}
	}
	detail, err := d.provider.ClearQueue(ctx, cmd.PrinterName)
	if err != nil {
		return CommandResult{Success: false, Message: err.Error()}
	}
	return CommandResult{
		Success:      true,
		Message:      detail,
		ActionsTaken: []string{fmt.Sprintf("Cleared print queue for %s", cmd.PrinterName)},
	}
}

// handleFixDevice is the only composite handler. Steps run in a fixed
// order: restart the spooler, clear the queue if a printer was named, then
// re-read the printer status. A failed step withholds only its own
// ActionsTaken entry; later independent steps still run.
func handleFixDevice(d *Dispatcher, ctx context.Context, cmd Command) CommandResult {
	var actions []string

	if _, err := d.provider.RestartSubsystem(ctx); err != nil {
		log.Warn("fix_device: spooler restart failed", "error", err)
	} else {
		actions = append(actions, "Restarted print spooler")
	}

	if cmd.PrinterName != "" {
		if _, err := d.provider.ClearQueue(ctx, cmd.PrinterName); err != nil {
			log.Warn("fix_device: queue clear failed", "printer", cmd.PrinterName, "error", err)
		} else {
			actions = append(actions, fmt.Sprintf("Cleared print queue for %s", cmd.PrinterName))
		}
	}

	snapshot, found := d.lookupPrinter(ctx, cmd.PrinterName)
	if !found {
		// Unresolved printer: remediation still counts if anything ran.
		if len(actions) > 0 {
			return CommandResult{
				Success:      true,
				Message:      fmt.Sprintf("Printer %q not found; remediation steps completed", cmd.PrinterName),
				ActionsTaken: actions,
			}
		}
		return CommandResult{
			Success:      false,
			Message:      fmt.Sprintf("Printer %q not found and no remediation steps completed", cmd.PrinterName),
			ActionsTaken: actions,
		}
	}

	healthy := snapshot.Status == printers.StatusOnline || snapshot.Status == printers.StatusWarning
	return CommandResult{
		Success:      healthy,
		Message:      fmt.Sprintf("Printer status after remediation: %s", snapshot.Status),
		ActionsTaken: actions,
	}
}

func handleTestOutput(d *Dispatcher, ctx context.Context, cmd Command) CommandResult {
	if cmd.PrinterName == "" {
		return CommandResult{Success: false, Message: "Printer name is required"}
	}
	detail, err := d.provider.TestOutput(ctx, cmd.PrinterName)
	if err != nil {
		return CommandResult{Success: false, Message: err.Error()}
	}
	if detail == "" {
		detail = fmt.Sprintf("Test page queued on %s", cmd.PrinterName)
	}
	return CommandResult{
		Success:      true,
		Message:      detail,
		ActionsTaken: []string{fmt.Sprintf("Queued test page on %s", cmd.PrinterName)},
	}
}

func handleGetStatus(d *Dispatcher, ctx context.Context, cmd Command) CommandResult {
	devices, err := d.provider.ListDevices(ctx)
	if err != nil {
		return CommandResult{Success: false, Message: err.Error()}
	}

	if cmd.PrinterName == "" {
		return CommandResult{
			Success: true,
			Message: fmt.Sprintf("Found %d printers", len(devices)),
		}
	}

	for _, dev := range devices {
		if dev.Name == cmd.PrinterName {
			return CommandResult{
				Success: true,
				Message: fmt.Sprintf("Status: %s, Jobs: %d", dev.Status, dev.PendingJobCount),
			}
		}
	}
	return CommandResult{
		Success: true,
		Message: fmt.Sprintf("No printer matching %q", cmd.PrinterName),
	}
}

func handleInstallDriver(d *Dispatcher, ctx context.Context, cmd Command) CommandResult {
	driverPath := payloadString(cmd.Payload, "driverPath")
	pkg := payloadString(cmd.Payload, "packageName")
	if driverPath == "" {
		return CommandResult{Success: false, Message: "Driver path is required"}
	}
	if pkg == "" {
		return CommandResult{Success: false, Message: "Driver package name is required"}
	}

	detail, err := d.provider.InstallDriver(ctx, driverPath, pkg)
	if err != nil {
		return CommandResult{Success: false, Message: err.Error()}
	}
	return CommandResult{
		Success:      true,
		Message:      detail,
		ActionsTaken: []string{fmt.Sprintf("Installed driver package %s", pkg)},
	}
}

// handleUpdateDriver downloads the driver package, then delegates the
// install to the provider. Both canonical steps are recorded.
func handleUpdateDriver(d *Dispatcher, ctx context.Context, cmd Command) CommandResult {
	if cmd.PrinterName == "" {
		return CommandResult{Success: false, Message: "Printer name is required"}
	}
	downloadURL := payloadString(cmd.Payload, "downloadUrl")
	if downloadURL == "" {
		return CommandResult{Success: false, Message: "Download URL is required"}
	}

	var actions []string

	localPath, err := d.downloadDriver(ctx, downloadURL)
	if err != nil {
		return CommandResult{
			Success: false,
			Message: fmt.Sprintf("driver download failed: %v", err),
		}
	}
	actions = append(actions, fmt.Sprintf("Downloaded driver from %s", downloadURL))

	pkg := payloadString(cmd.Payload, "packageName")
	if pkg == "" {
		pkg = cmd.PrinterName
	}

	detail, err := d.provider.InstallDriver(ctx, localPath, pkg)
	if err != nil {
		return CommandResult{Success: false, Message: err.Error(), ActionsTaken: actions}
	}
	actions = append(actions, "Installed driver")

	return CommandResult{Success: true, Message: detail, ActionsTaken: actions}
}

// lookupPrinter re-reads the device list and finds a printer by name.
func (d *Dispatcher) lookupPrinter(ctx context.Context, name string) (printers.Snapshot, bool) {
	if name == "" {
		return printers.Snapshot{}, false
	}
	devices, err := d.provider.ListDevices(ctx)
	if err != nil {
		log.Warn("status verification failed", "error", err)
		return printers.Snapshot{}, false
	}
	for _, dev := range devices {
		if dev.Name == name {
			return dev, true
		}
	}
	return printers.Snapshot{}, false
}
