//go:build !windows

package printers

import "testing"

const lpstatSample = `printer Office_Laser is idle.  enabled since Mon 05 Jan 2026 09:12:00 AM UTC
printer Front_Desk disabled since Mon 05 Jan 2026 09:12:00 AM UTC -
	reason unknown
printer Warehouse now printing Warehouse-101.  enabled since Mon 05 Jan 2026
`

func TestParsePrinterList(t *testing.T) {
	snapshots := parsePrinterList(lpstatSample)
	if len(snapshots) != 3 {
		t.Fatalf("parsed %d printers, want 3", len(snapshots))
	}

	byName := make(map[string]Snapshot)
	for _, s := range snapshots {
		byName[s.Name] = s
	}

	if got := byName["Office_Laser"].Status; got != StatusOnline {
		t.Errorf("Office_Laser status = %q, want online", got)
	}
	if got := byName["Front_Desk"].Status; got != StatusError {
		t.Errorf("Front_Desk status = %q, want error", got)
	}
	if got := byName["Warehouse"].Status; got != StatusOnline {
		t.Errorf("Warehouse status = %q, want online", got)
	}
}

func TestParsePrinterListIgnoresGarbage(t *testing.T) {
	if got := parsePrinterList("no printers found\n\n"); len(got) != 0 {
		t.Fatalf("parsed %d printers from garbage, want 0", len(got))
	}
}

func TestParseJobCounts(t *testing.T) {
	out := `Office_Laser-101        alice  1024   Mon 05 Jan 2026
Office_Laser-102        bob    2048   Mon 05 Jan 2026
Front_Desk-7            carol  512    Mon 05 Jan 2026
`
	counts := parseJobCounts(out)
	if counts["Office_Laser"] != 2 {
		t.Errorf("Office_Laser jobs = %d, want 2", counts["Office_Laser"])
	}
	if counts["Front_Desk"] != 1 {
		t.Errorf("Front_Desk jobs = %d, want 1", counts["Front_Desk"])
	}
	if counts["Warehouse"] != 0 {
		t.Errorf("Warehouse jobs = %d, want 0", counts["Warehouse"])
	}
}
