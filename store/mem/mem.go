package mem

import (
	"sync"
	"time"

	"github.com/rtczone/sigrelay/store"
)

// Config represents the InMemory store config structure.
type Config struct{}

type item struct {
	value     string
	expiresAt time.Time
}

// InMemory represents the in-memory implementation of the Store
// interface. It is meant for single-node development setups and tests.
type InMemory struct {
	cfg  *Config
	data map[string]item
	mu   sync.Mutex
	now  func() time.Time
}

// New returns a new in-memory store.
func New(cfg Config) (*InMemory, error) {
	s := &InMemory{
		cfg:  &cfg,
		data: map[string]item{},
		now:  time.Now,
	}
	go s.watch()
	return s, nil
}

// SetClock overrides the store's time source. Tests use it to simulate
// TTL expiry without sleeping.
func (m *InMemory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// watch the store to clean it up.
func (m *InMemory) watch() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for range t.C {
		m.cleanup()
	}
}

// cleanup removes expired items.
func (m *InMemory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, it := range m.data {
		if it.expiresAt.Before(now) {
			delete(m.data, k)
		}
	}
}

// Get value from a key. Expired items are indistinguishable from ones
// that were never written.
func (m *InMemory) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.data[key]
	if !ok || it.expiresAt.Before(m.now()) {
		return "", store.ErrNotFound
	}
	return it.value, nil
}

// Set a value. Each write re-arms the key's own TTL.
func (m *InMemory) Set(key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = item{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}
