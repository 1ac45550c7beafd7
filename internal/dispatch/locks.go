package dispatch

import "sync"

// subsystemKey serializes commands that mutate the whole print subsystem
// rather than a single printer.
const subsystemKey = "\x00subsystem"

// printerLocks hands out one mutex per printer name so two mutating
// commands for the same printer never run concurrently, while commands
// for different printers proceed in parallel.
type printerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPrinterLocks() *printerLocks {
	return &printerLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *printerLocks) forPrinter(name string) *sync.Mutex {
	if name == "" {
		name = subsystemKey
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	return m
}
