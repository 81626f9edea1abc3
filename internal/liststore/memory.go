package liststore

import (
	"bytes"
	"context"
	"sync"
)

// Memory is an in-process Client with the same atomicity guarantees as the
// sqlite store. Used in tests and keyless local runs; nothing survives a
// process restart.
type Memory struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	scalars map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		lists:   make(map[string][][]byte),
		scalars: make(map[string]string),
	}
}

func (m *Memory) Append(_ context.Context, key string, item []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(item))
	copy(cp, item)
	m.lists[key] = append(m.lists[key], cp)
	return len(m.lists[key]), nil
}

func (m *Memory) Pop(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[key]
	if len(items) == 0 {
		return nil, nil
	}
	head := items[0]
	m.lists[key] = items[1:]
	return head, nil
}

func (m *Memory) Range(_ context.Context, key string, start, stop int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[key]
	if start < 0 {
		start = 0
	}
	if start >= len(items) {
		return nil, nil
	}
	end := len(items)
	if stop >= 0 && stop+1 < end {
		end = stop + 1
	}
	if end <= start {
		return nil, nil
	}
	out := make([][]byte, 0, end-start)
	for _, item := range items[start:end] {
		cp := make([]byte, len(item))
		copy(cp, item)
		out = append(out, cp)
	}
	return out, nil
}

func (m *Memory) Len(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[key]), nil
}

func (m *Memory) Remove(_ context.Context, key string, item []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[key]
	for i, have := range items {
		if bytes.Equal(have, item) {
			m.lists[key] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, key)
	delete(m.scalars, key)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.scalars[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scalars[key] = value
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.scalars[key]; exists {
		return false, nil
	}
	m.scalars[key] = value
	return true, nil
}

func (m *Memory) Close() error { return nil }
