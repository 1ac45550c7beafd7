//go:build windows

package printers

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fleetprint/agent/internal/logging"
)

var log = logging.L("printers")

// SystemProvider drives the Windows print subsystem through PowerShell.
type SystemProvider struct{}

func NewSystemProvider() *SystemProvider {
	return &SystemProvider{}
}

func powershell(ctx context.Context, script string) ([]byte, error) {
	return exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script).Output()
}

type winPrinter struct {
	Name          string `json:"Name"`
	DriverName    string `json:"DriverName"`
	PortName      string `json:"PortName"`
	PrinterStatus int    `json:"PrinterStatus"`
	JobCount      int    `json:"JobCount"`
}

func (p *SystemProvider) ListDevices(ctx context.Context) ([]Snapshot, error) {
	out, err := powershell(ctx, `Get-Printer | Select-Object Name,DriverName,PortName,PrinterStatus,JobCount | ConvertTo-Json -Compress`)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	return parseWinPrinters(out)
}

func parseWinPrinters(out []byte) ([]Snapshot, error) {
	raw := strings.TrimSpace(string(out))
	if raw == "" {
		return nil, nil
	}
	// ConvertTo-Json emits a bare object for a single printer.
	if strings.HasPrefix(raw, "{") {
		raw = "[" + raw + "]"
	}

	var entries []winPrinter
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse printer list: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		snapshots = append(snapshots, Snapshot{
			Name:            e.Name,
			Port:            e.PortName,
			Status:          winStatus(e.PrinterStatus),
			DriverStatus:    e.DriverName,
			PendingJobCount: e.JobCount,
		})
	}
	return snapshots, nil
}

// winStatus maps the Win32 PrinterStatus enumeration to snapshot statuses.
func winStatus(code int) Status {
	switch code {
	case 0, 3: // idle / printing (MSFT_Printer "Normal")
		return StatusOnline
	case 1, 2: // paused / error states surfaced as warning vs error
		return StatusWarning
	case 7:
		return StatusOffline
	default:
		return StatusUnknown
	}
}

func (p *SystemProvider) RestartSubsystem(ctx context.Context) (string, error) {
	if out, err := powershell(ctx, `Restart-Service -Name Spooler -Force`); err != nil {
		return "", fmt.Errorf("failed to restart spooler: %w: %s", err, strings.TrimSpace(string(out)))
	}

	out, err := powershell(ctx, `(Get-Service -Name Spooler).Status`)
	if err != nil {
		return "", fmt.Errorf("spooler status check failed: %w", err)
	}
	status := strings.TrimSpace(string(out))
	if !strings.EqualFold(status, "Running") {
		return "", fmt.Errorf("spooler did not come back up: %s", status)
	}
	return "print spooler restarted", nil
}

func (p *SystemProvider) ClearQueue(ctx context.Context, name string) (string, error) {
	script := fmt.Sprintf(`Get-PrintJob -PrinterName %q | Remove-PrintJob`, name)
	if out, err := powershell(ctx, script); err != nil {
		return "", fmt.Errorf("failed to clear queue for %q: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return fmt.Sprintf("queue cleared for %s", name), nil
}

func (p *SystemProvider) TestOutput(ctx context.Context, name string) (string, error) {
	out, err := exec.CommandContext(ctx, "rundll32", "printui.dll,PrintUIEntry", "/k", "/n", name).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to queue test page on %q: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *SystemProvider) InstallDriver(ctx context.Context, path, pkg string) (string, error) {
	out, err := exec.CommandContext(ctx, "pnputil", "/add-driver", path, "/install").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("driver install failed for %q: %w: %s", pkg, err, strings.TrimSpace(string(out)))
	}
	log.Info("driver package installed", "package", pkg, "path", path)
	return fmt.Sprintf("driver %s installed", pkg), nil
}
