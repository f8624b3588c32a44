package usage

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/prompt-refiner-go/internal/models"
)

// MemoryStore keeps usage records in process memory. Records survive only
// as long as the process; use it for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: cache.New(cache.NoExpiration, cache.NoExpiration)}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(userID), nil
}

func (m *MemoryStore) get(userID string) *models.UsageRecord {
	if val, found := m.records.Get(userID); found {
		record := val.(models.UsageRecord)
		return &record
	}
	return nil
}

func (m *MemoryStore) Put(ctx context.Context, record *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records.Set(record.UserID, *record, cache.NoExpiration)
	return nil
}

func (m *MemoryStore) Increment(ctx context.Context, userID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := nextCount(m.get(userID), day)
	m.records.Set(userID, models.UsageRecord{UserID: userID, Date: day, Count: count}, cache.NoExpiration)
	return count, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
