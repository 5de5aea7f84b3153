package lock

import (
	"context"
	"sort"
	"sync"
)

// Local keeps the set of held keys in process memory. A key is present
// only while held, so the table is bounded by the number of running
// pipelines.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Manager = (*Local)(nil)

// NewLocal creates an in-process lock manager
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (m *Local) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() { once.Do(func() { m.release(key) }) }, true, nil
}

func (m *Local) release(key string) {
	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()
}

func (m *Local) IsHeld(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok, nil
}

func (m *Local) Held(_ context.Context) ([]string, error) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.held))
	for k := range m.held {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys, nil
}
