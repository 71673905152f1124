package cache

import (
	"context"
	"sort"
	"sync"
)

// Memory 是进程内 Store；serve 默认使用它。
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]*memBucket
}

func NewMemory() *Memory {
	return &Memory{buckets: map[string]*memBucket{}}
}

func (m *Memory) Open(_ context.Context, name string) (Bucket, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[name]
	if !ok {
		b = &memBucket{entries: map[string]Entry{}}
		m.buckets[name] = b
	}
	return b, nil
}

func (m *Memory) Names(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; !ok {
		return false, nil
	}
	delete(m.buckets, name)
	return true, nil
}

func (m *Memory) Close() error { return nil }

type memBucket struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func (b *memBucket) Match(_ context.Context, key string) (Entry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(e), true, nil
}

func (b *memBucket) Put(_ context.Context, key string, e Entry) error {
	e = cloneEntry(e)
	e.Key = key
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = e
	return nil
}
