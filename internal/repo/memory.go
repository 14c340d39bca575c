package repo

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store with the same semantics as Repo.
type Memory struct {
	mu   sync.RWMutex
	data map[string]Record
	Now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{data: map[string]Record{}}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Memory) Get(_ context.Context, key string) (Record, error) {
	if _, _, err := SplitKey(key); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return rec, nil
}

func (m *Memory) Set(_ context.Context, key string, data []byte) error {
	if _, _, err := SplitKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.data[key]; ok && bytes.Equal(cur.Data, data) {
		return nil
	}
	m.data[key] = Record{Key: key, Data: append([]byte(nil), data...), UpdatedAt: m.now().UTC()}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListByNamespace(_ context.Context, namespace string) ([]Record, error) {
	prefix := strings.TrimSuffix(namespace, ":") + ":"
	m.mu.RLock()
	res := make([]Record, 0, len(m.data))
	for k, rec := range m.data {
		if strings.HasPrefix(k, prefix) {
			rec.Data = append([]byte(nil), rec.Data...)
			res = append(res, rec)
		}
	}
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].UpdatedAt.After(res[j].UpdatedAt)
		}
		return res[i].Key > res[j].Key
	})
	return res, nil
}
