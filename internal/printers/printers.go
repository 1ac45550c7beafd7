package printers

import "context"

// Status is the reported condition of a managed printer.
type Status string

const (
	StatusOnline  Status = "online"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// Snapshot is a point-in-time view of one printer. Snapshots are built
// fresh on every collection and never mutated in place.
type Snapshot struct {
	Name             string         `json:"name"`
	Model            string         `json:"model,omitempty"`
	Manufacturer     string         `json:"manufacturer,omitempty"`
	Port             string         `json:"port,omitempty"`
	Status           Status         `json:"status"`
	DriverVersion    string         `json:"driverVersion,omitempty"`
	DriverStatus     string         `json:"driverStatus,omitempty"`
	ConsumableLevels map[string]int `json:"consumableLevels,omitempty"`
	PendingJobCount  int            `json:"pendingJobCount"`
}

// Provider abstracts platform-specific printer enumeration and control.
// Mutating calls return diagnostic text describing what happened; a non-nil
// error means the operation failed. Status reads are safe to issue
// concurrently; callers must not issue two mutating calls for the same
// printer at once.
type Provider interface {
	ListDevices(ctx context.Context) ([]Snapshot, error)
	RestartSubsystem(ctx context.Context) (string, error)
	ClearQueue(ctx context.Context, name string) (string, error)
	TestOutput(ctx context.Context, name string) (string, error)
	InstallDriver(ctx context.Context, path, pkg string) (string, error)
}
