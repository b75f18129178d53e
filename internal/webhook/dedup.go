package webhook

import (
	"context"
	"sync"
	"time"
)

// DedupStore remembers delivered event ids so a redelivered notification is
// not applied twice.
type DedupStore interface {
	// Claim marks the event as being processed. It returns false when the
	// event was already claimed within ttl.
	Claim(ctx context.Context, gateway, eventID string, ttl time.Duration) (bool, error)
	// Release forgets a claim so the provider's next redelivery is processed.
	Release(ctx context.Context, gateway, eventID string) error
}

// MemoryDedup is a DedupStore for a single instance.
type MemoryDedup struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

var _ DedupStore = (*MemoryDedup)(nil)

// NewMemoryDedup returns an empty MemoryDedup.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryDedup) Claim(_ context.Context, gateway, eventID string, ttl time.Duration) (bool, error) {
	key := gateway + ":" + eventID
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.claims[key] = now.Add(ttl)

	// Sweep expired claims once the map grows.
	if len(m.claims) > 4096 {
		for k, exp := range m.claims {
			if !now.Before(exp) {
				delete(m.claims, k)
			}
		}
	}
	return true, nil
}

func (m *MemoryDedup) Release(_ context.Context, gateway, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, gateway+":"+eventID)
	return nil
}
