package cache

import (
	"context"
	"sync"

	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
)

// MemoryCache is the in-process fallback used when no redis address is set.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string][]domain.Installment
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string][]domain.Installment)}
}

func (m *MemoryCache) Get(ctx context.Context, loanID string) ([]domain.Installment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.data[loanID]
	if !ok {
		return nil, false, nil
	}
	out := make([]domain.Installment, len(val))
	copy(out, val)
	return out, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, loanID string, schedule []domain.Installment) error {
	stored := make([]domain.Installment, len(schedule))
	copy(stored, schedule)

	m.mu.Lock()
	m.data[loanID] = stored
	m.mu.Unlock()
	return nil
}

var _ repository.ScheduleCache = (*MemoryCache)(nil)
