package connectivity

import (
	"context"
	"sync"
)

// MockBackend is an in-memory backend for development and tests. It can be
// primed to fail a number of times before succeeding.
type MockBackend struct {
	mu       sync.Mutex
	states   map[string]bool
	failWith error
	failures int
	applies  int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{states: make(map[string]bool)}
}

func (b *MockBackend) Name() string { return "mock" }

// FailNext makes the next n Apply calls return err.
func (b *MockBackend) FailNext(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = n
	b.failWith = err
}

// ApplyCount reports how many Apply calls were made.
func (b *MockBackend) ApplyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applies
}

func (b *MockBackend) Apply(ctx context.Context, userID string, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.applies++
	if b.failures > 0 {
		b.failures--
		return b.failWith
	}
	b.states[userID] = enabled
	return nil
}

func (b *MockBackend) CheckStatus(ctx context.Context, userID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	enabled, ok := b.states[userID]
	if !ok {
		return false, ErrDeviceNotFound
	}
	return enabled, nil
}
