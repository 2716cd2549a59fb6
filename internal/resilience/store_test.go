package resilience

import (
	"context"
	"sync"

	"github.com/sells-group/ingest-cli/internal/model"
)

// memStore is an in-process BreakerStore and LimiterStore for tests.
type memStore struct {
	mu       sync.Mutex
	breakers map[string]model.BreakerState
	limiters map[string]model.LimiterState
}

func newMemStore() *memStore {
	return &memStore{
		breakers: make(map[string]model.BreakerState),
		limiters: make(map[string]model.LimiterState),
	}
}

func (m *memStore) GetBreaker(_ context.Context, provider string) (*model.BreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.breakers[provider]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) UpdateBreaker(_ context.Context, provider string, fn func(*model.BreakerState) error) (*model.BreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.breakers[provider]
	if !ok {
		s = model.BreakerState{Provider: provider}
	}
	if err := fn(&s); err != nil {
		return nil, err
	}
	m.breakers[provider] = s
	return &s, nil
}

func (m *memStore) GetLimiter(_ context.Context, provider string) (*model.LimiterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.limiters[provider]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) UpdateLimiter(_ context.Context, provider string, fn func(*model.LimiterState) error) (*model.LimiterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.limiters[provider]
	if !ok {
		s = model.LimiterState{Provider: provider}
	}
	if err := fn(&s); err != nil {
		return nil, err
	}
	m.limiters[provider] = s
	return &s, nil
}
