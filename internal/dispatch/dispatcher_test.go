package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fleetprint/agent/internal/printers"
)

// fakeProvider is a scriptable capability provider for dispatcher tests.
type fakeProvider struct {
	mu sync.Mutex

	devices    []printers.Snapshot
	listErr    error
	restartErr error
	clearErr   error
	testErr    error
	installErr error

	calls []string
}

func (f *fakeProvider) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeProvider) ListDevices(ctx context.Context) ([]printers.Snapshot, error) {
	f.record("list")
	return f.devices, f.listErr
}

func (f *fakeProvider) RestartSubsystem(ctx context.Context) (string, error) {
	f.record("restart")
	if f.restartErr != nil {
		return "", f.restartErr
	}
	return "print spooler restarted", nil
}

func (f *fakeProvider) ClearQueue(ctx context.Context, name string) (string, error) {
	f.record("clear:" + name)
	if f.clearErr != nil {
		return "", f.clearErr
	}
	return "queue cleared for " + name, nil
}

func (f *fakeProvider) TestOutput(ctx context.Context, name string) (string, error) {
	f.record("test:" + name)
	if f.testErr != nil {
		return "", f.testErr
	}
	return "", nil
}

func (f *fakeProvider) InstallDriver(ctx context.Context, path, pkg string) (string, error) {
	f.record("install:" + pkg)
	if f.installErr != nil {
		return "", f.installErr
	}
	return "driver " + pkg + " installed", nil
}

func TestGetStatusSingleDevice(t *testing.T) {
	p := &fakeProvider{devices: []printers.Snapshot{
		{Name: "LaserJet-1", Status: printers.StatusWarning, PendingJobCount: 3},
	}}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "7", Kind: KindGetStatus, PrinterName: "LaserJet-1"})

	if !result.Success {
		t.Fatal("get_status should succeed")
	}
	if result.Message != "Status: warning, Jobs: 3" {
		t.Fatalf("message = %q, want %q", result.Message, "Status: warning, Jobs: 3")
	}
	if result.PrinterName != "LaserJet-1" {
		t.Fatalf("printerName = %q, want LaserJet-1", result.PrinterName)
	}
}

func TestGetStatusAllDevices(t *testing.T) {
	p := &fakeProvider{devices: []printers.Snapshot{
		{Name: "A", Status: printers.StatusOnline},
		{Name: "B", Status: printers.StatusOffline},
	}}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "1", Kind: KindGetStatus})
	if !result.Success {
		t.Fatal("get_status should succeed")
	}
	if result.Message != "Found 2 printers" {
		t.Fatalf("message = %q, want summary of 2 printers", result.Message)
	}
}

func TestGetStatusUnknownPrinterStillSucceeds(t *testing.T) {
	p := &fakeProvider{}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "2", Kind: KindGetStatus, PrinterName: "Ghost"})
	if !result.Success {
		t.Fatal("status reads never fail")
	}
}

func TestClearQueueRequiresPrinterName(t *testing.T) {
	d := New(&fakeProvider{})

	result := d.Handle(context.Background(), Command{ID: "8", Kind: KindClearQueue})
	if result.Success {
		t.Fatal("clear_queue without a printer should fail")
	}
	if result.Message != "Printer name is required" {
		t.Fatalf("message = %q, want %q", result.Message, "Printer name is required")
	}
}

func TestClearQueueSuccess(t *testing.T) {
	p := &fakeProvider{}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "9", Kind: KindClearQueue, PrinterName: "Office_Laser"})
	if !result.Success {
		t.Fatalf("clear_queue failed: %s", result.Message)
	}
	if len(result.ActionsTaken) != 1 {
		t.Fatalf("actionsTaken = %v, want one entry", result.ActionsTaken)
	}
}

func TestUnknownKindNamesTheKind(t *testing.T) {
	d := New(&fakeProvider{})

	result := d.Handle(context.Background(), Command{ID: "3", Kind: "reticulate_splines"})
	if result.Success {
		t.Fatal("unknown kind should fail")
	}
	if want := "reticulate_splines"; !strings.Contains(result.Message, want) {
		t.Fatalf("message %q should contain the unknown kind %q verbatim", result.Message, want)
	}
}

func TestFixDeviceHealthyAfterRemediation(t *testing.T) {
	p := &fakeProvider{devices: []printers.Snapshot{
		{Name: "LaserJet-1", Status: printers.StatusOnline},
	}}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "4", Kind: KindFixDevice, PrinterName: "LaserJet-1"})
	if !result.Success {
		t.Fatalf("fix_device should succeed when device ends online: %s", result.Message)
	}
	want := []string{"Restarted print spooler", "Cleared print queue for LaserJet-1"}
	if len(result.ActionsTaken) != len(want) {
		t.Fatalf("actionsTaken = %v, want %v", result.ActionsTaken, want)
	}
	for i := range want {
		if result.ActionsTaken[i] != want[i] {
			t.Fatalf("actionsTaken[%d] = %q, want %q", i, result.ActionsTaken[i], want[i])
		}
	}
}

func TestFixDeviceStillErroredAfterRemediation(t *testing.T) {
	p := &fakeProvider{devices: []printers.Snapshot{
		{Name: "LaserJet-1", Status: printers.StatusError},
	}}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "5", Kind: KindFixDevice, PrinterName: "LaserJet-1"})
	if result.Success {
		t.Fatal("fix_device should fail when device stays in error")
	}
	// Partial progress remains visible even though the fix failed.
	if len(result.ActionsTaken) != 2 {
		t.Fatalf("actionsTaken = %v, want both remediation steps", result.ActionsTaken)
	}
}

func TestFixDeviceUnresolvableNameSucceedsIfAnyStepRan(t *testing.T) {
	p := &fakeProvider{}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "6", Kind: KindFixDevice, PrinterName: "Ghost"})
	if !result.Success {
		t.Fatalf("fix_device with steps run should succeed: %s", result.Message)
	}
}

func TestFixDeviceUnresolvableNameFailsIfNoStepRan(t *testing.T) {
	p := &fakeProvider{
		restartErr: errors.New("spooler stuck"),
		clearErr:   errors.New("queue locked"),
	}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "6", Kind: KindFixDevice, PrinterName: "Ghost"})
	if result.Success {
		t.Fatal("fix_device should fail when nothing ran and the printer is unknown")
	}
	if len(result.ActionsTaken) != 0 {
		t.Fatalf("actionsTaken = %v, want empty", result.ActionsTaken)
	}
}

func TestFixDeviceClearFailureDoesNotAbortVerification(t *testing.T) {
	p := &fakeProvider{
		clearErr: errors.New("queue locked"),
		devices: []printers.Snapshot{
			{Name: "LaserJet-1", Status: printers.StatusOnline},
		},
	}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "10", Kind: KindFixDevice, PrinterName: "LaserJet-1"})
	if !result.Success {
		t.Fatalf("verification should still run after a failed clear: %s", result.Message)
	}
	if len(result.ActionsTaken) != 1 || result.ActionsTaken[0] != "Restarted print spooler" {
		t.Fatalf("actionsTaken = %v, want only the restart entry", result.ActionsTaken)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	sawList := false
	for _, c := range p.calls {
		if c == "list" {
			sawList = true
		}
	}
	if !sawList {
		t.Fatal("status verification never ran")
	}
}

func TestProviderFaultSurfacesAsFailedResult(t *testing.T) {
	p := &fakeProvider{restartErr: errors.New("spooler service missing")}
	d := New(p)

	result := d.Handle(context.Background(), Command{ID: "11", Kind: KindRestartSubsystem})
	if result.Success {
		t.Fatal("provider fault should yield a failed result")
	}
	if !strings.Contains(result.Message, "spooler service missing") {
		t.Fatalf("message %q should carry the provider diagnostic", result.Message)
	}
}

func TestInstallDriverRequiresPathAndPackage(t *testing.T) {
	d := New(&fakeProvider{})

	result := d.Handle(context.Background(), Command{ID: "12", Kind: KindInstallDriver, Payload: map[string]any{}})
	if result.Success {
		t.Fatal("install_driver without a path should fail")
	}

	result = d.Handle(context.Background(), Command{
		ID:      "13",
		Kind:    KindInstallDriver,
		Payload: map[string]any{"driverPath": "/tmp/driver.ppd"},
	})
	if result.Success {
		t.Fatal("install_driver without a package name should fail")
	}
}

func TestUpdateDriverRecordsBothSteps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "driver-bytes")
	}))
	defer srv.Close()

	p := &fakeProvider{}
	d := New(p)

	result := d.Handle(context.Background(), Command{
		ID:          "14",
		Kind:        KindUpdateDriver,
		PrinterName: "LaserJet-1",
		Payload:     map[string]any{"downloadUrl": srv.URL + "/driver.ppd"},
	})
	if !result.Success {
		t.Fatalf("update_driver failed: %s", result.Message)
	}
	if len(result.ActionsTaken) != 2 {
		t.Fatalf("actionsTaken = %v, want download and install steps", result.ActionsTaken)
	}
}

func TestUpdateDriverDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := &fakeProvider{}
	d := New(p)

	result := d.Handle(context.Background(), Command{
		ID:          "15",
		Kind:        KindUpdateDriver,
		PrinterName: "LaserJet-1",
		Payload:     map[string]any{"downloadUrl": srv.URL + "/missing.ppd"},
	})
	if result.Success {
		t.Fatal("update_driver should fail when the download fails")
	}
	if len(result.ActionsTaken) != 0 {
		t.Fatalf("actionsTaken = %v, want empty on download failure", result.ActionsTaken)
	}
	for _, c := range p.calls {
		if c == "install:LaserJet-1" {
			t.Fatal("install should not run after a failed download")
		}
	}
}

func TestSameKindResultCarriesInputPrinterName(t *testing.T) {
	p := &fakeProvider{devices: []printers.Snapshot{{Name: "X", Status: printers.StatusOnline}}}
	d := New(p)

	for _, kind := range []string{KindRestartSubsystem, KindClearQueue, KindFixDevice, KindTestOutput, KindGetStatus} {
		result := d.Handle(context.Background(), Command{ID: "16", Kind: kind, PrinterName: "X"})
		if result.PrinterName != "X" {
			t.Fatalf("%s: printerName = %q, want X", kind, result.PrinterName)
		}
	}
}

func TestMutatingCommandsForSamePrinterSerialize(t *testing.T) {
	p := &fakeProvider{}
	d := New(p)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Handle(context.Background(), Command{ID: "17", Kind: KindClearQueue, PrinterName: "Shared"})
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("serialized commands deadlocked")
	}

	if len(p.calls) != 4 {
		t.Fatalf("calls = %d, want 4", len(p.calls))
	}
}

func TestCommandIDUnmarshalAcceptsNumbersAndStrings(t *testing.T) {
	var numeric Command
	if err := json.Unmarshal([]byte(`{"id":7,"kind":"get_status","printerName":"LaserJet-1"}`), &numeric); err != nil {
		t.Fatalf("numeric id: %v", err)
	}
	if numeric.ID != "7" {
		t.Fatalf("numeric id normalized to %q, want \"7\"", numeric.ID)
	}

	var str Command
	if err := json.Unmarshal([]byte(`{"id":"cmd-abc","kind":"clear_queue"}`), &str); err != nil {
		t.Fatalf("string id: %v", err)
	}
	if str.ID != "cmd-abc" {
		t.Fatalf("string id = %q, want cmd-abc", str.ID)
	}
}
