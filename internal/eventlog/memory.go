package eventlog

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryLog is an in-process Store. It backs the self-test harness and tests.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Store = (*MemoryLog)(nil)

// NewMemory returns an empty MemoryLog.
func NewMemory() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryLog) ListByOrder(_ context.Context, orderID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryLog) ListSince(_ context.Context, since time.Time, gateway string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if e.Timestamp.Before(since) {
			continue
		}
		if gateway != "" && e.Gateway != gateway {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Entries returns a copy of everything appended so far.
func (m *MemoryLog) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries)
}

// Events returns the event names in append order.
func (m *MemoryLog) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Event
	}
	return out
}
