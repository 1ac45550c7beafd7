//go:build !windows

package printers

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/fleetprint/agent/internal/logging"
)

var log = logging.L("printers")

// SystemProvider drives the CUPS scheduler through its command-line tools.
type SystemProvider struct{}

func NewSystemProvider() *SystemProvider {
	return &SystemProvider{}
}

func (p *SystemProvider) ListDevices(ctx context.Context) ([]Snapshot, error) {
	out, err := exec.CommandContext(ctx, "lpstat", "-p").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	snapshots := parsePrinterList(string(out))

	// Pending job counts come from a second query; a failure here degrades
	// the snapshot but does not fail the listing.
	if jobsOut, jobsErr := exec.CommandContext(ctx, "lpstat", "-o").Output(); jobsErr == nil {
		jobs := parseJobCounts(string(jobsOut))
		for i := range snapshots {
			snapshots[i].PendingJobCount = jobs[snapshots[i].Name]
		}
	} else {
		log.Warn("failed to query print jobs", "error", jobsErr)
	}

	return snapshots, nil
}

func (p *SystemProvider) RestartSubsystem(ctx context.Context) (string, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		cmd = exec.CommandContext(ctx, "launchctl", "kickstart", "-k", "system/org.cups.cupsd")
	} else {
		cmd = exec.CommandContext(ctx, "systemctl", "restart", "cups")
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to restart print scheduler: %w: %s", err, strings.TrimSpace(string(out)))
	}

	// Verify the scheduler came back up.
	out, err := exec.CommandContext(ctx, "lpstat", "-r").Output()
	if err != nil {
		return "", fmt.Errorf("scheduler status check failed: %w", err)
	}
	status := strings.TrimSpace(string(out))
	if !strings.Contains(status, "is running") {
		return "", fmt.Errorf("scheduler did not come back up: %s", status)
	}
	return "print scheduler restarted", nil
}

func (p *SystemProvider) ClearQueue(ctx context.Context, name string) (string, error) {
	if out, err := exec.CommandContext(ctx, "cancel", "-a", name).CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to clear queue for %q: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return fmt.Sprintf("queue cleared for %s", name), nil
}

func (p *SystemProvider) TestOutput(ctx context.Context, name string) (string, error) {
	out, err := exec.CommandContext(ctx, "lp", "-d", name, "/usr/share/cups/data/testprint").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to queue test page on %q: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *SystemProvider) InstallDriver(ctx context.Context, path, pkg string) (string, error) {
	out, err := exec.CommandContext(ctx, "lpadmin", "-p", pkg, "-P", path, "-E").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("driver install failed for %q: %w: %s", pkg, err, strings.TrimSpace(string(out)))
	}
	return fmt.Sprintf("driver %s installed", pkg), nil
}

// parsePrinterList parses `lpstat -p` output. Lines look like:
//
//	printer Office_Laser is idle.  enabled since Mon 01 Jan 2026
//	printer Front_Desk disabled since Mon 01 Jan 2026 -
func parsePrinterList(out string) []Snapshot {
	var snapshots []Snapshot
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "printer ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		name := fields[1]
		status := StatusUnknown
		rest := strings.Join(fields[2:], " ")
		switch {
		case strings.Contains(rest, "is idle"):
			status = StatusOnline
		case strings.Contains(rest, "now printing"):
			status = StatusOnline
		case strings.Contains(rest, "disabled"):
			status = StatusError
		case strings.Contains(rest, "paused"):
			status = StatusWarning
		}
		snapshots = append(snapshots, Snapshot{
			Name:   name,
			Port:   "cups",
			Status: status,
		})
	}
	return snapshots
}

// parseJobCounts parses `lpstat -o` output and counts queued jobs per
// printer. Job IDs have the form <printer>-<number> in the first column.
func parseJobCounts(out string) map[string]int {
	counts := make(map[string]int)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		id := fields[0]
		dash := strings.LastIndex(id, "-")
		if dash <= 0 {
			continue
		}
		counts[id[:dash]]++
	}
	return counts
}
