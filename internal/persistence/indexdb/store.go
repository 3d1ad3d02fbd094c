package indexdb

import (
	"sync"

	"voxelweather.ai/internal/sim/weather"
)

// Store keeps named per-region blobs.
type Store interface {
	Put(key weather.RegionKey, name string, data []byte) error
	Get(key weather.RegionKey, name string) ([]byte, bool, error)
}

type rowKey struct {
	Key  weather.RegionKey
	Name string
}

// MemStore is an in-process Store.
type MemStore struct {
	mu   sync.RWMutex
	rows map[rowKey][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{rows: map[rowKey][]byte{}}
}

func (m *MemStore) Put(key weather.RegionKey, name string, data []byte) error {
	cp := append([]byte(nil), data...)
	m.mu.Lock()
	m.rows[rowKey{Key: key, Name: name}] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Get(key weather.RegionKey, name string) ([]byte, bool, error) {
	m.mu.RLock()
	b, ok := m.rows[rowKey{Key: key, Name: name}]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
