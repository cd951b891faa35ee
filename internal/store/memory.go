package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]VerseRecord
	quota *quota
	now   func() time.Time
}

// NewMemoryStore creates an empty store. quotaBytes <= 0 disables the quota.
func NewMemoryStore(quotaBytes int64) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]VerseRecord),
		quota: newQuota(quotaBytes),
		now:   time.Now,
	}
}

// Keys returns all keys in sorted order.
func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns a copy of the record or nil.
func (m *MemoryStore) Get(ctx context.Context, key string) (*VerseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Set stores rec under key, stamping LastUpdated.
func (m *MemoryStore) Set(ctx context.Context, key string, rec VerseRecord) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.quota.check(key, rec.Size()); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	rec.LastUpdated = m.now().UTC()
	m.items[key] = rec
	m.quota.record(key, rec.Size())
	return nil
}

// Clear removes everything.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]VerseRecord)
	m.quota.reset()
	return nil
}

// MemoryOpener hands out one MemoryStore per project.
type MemoryOpener struct {
	mu         sync.Mutex
	quotaBytes int64
	stores     map[string]*MemoryStore
}

// NewMemoryOpener creates an opener whose stores share quotaBytes as their limit.
func NewMemoryOpener(quotaBytes int64) *MemoryOpener {
	return &MemoryOpener{quotaBytes: quotaBytes, stores: make(map[string]*MemoryStore)}
}

// Open returns the store for projectID, creating it on first use.
func (o *MemoryOpener) Open(projectID string) Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stores[projectID]
	if !ok {
		s = NewMemoryStore(o.quotaBytes)
		o.stores[projectID] = s
	}
	return s
}

// Forget drops the store of a deleted project.
func (o *MemoryOpener) Forget(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.stores, projectID)
}
