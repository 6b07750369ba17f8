package store

import (
	"context"
	"sync"
)

// Memory is a process-local Store. Nothing survives a restart.
type Memory struct {
	mu      sync.Mutex
	kv      map[string][]byte
	streams map[string][][]byte
}

func NewMemory() *Memory {
	return &Memory{
		kv:      make(map[string][]byte),
		streams: make(map[string][][]byte),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.kv[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.kv[key] = clone(value)
	return nil
}

func (m *Memory) Append(_ context.Context, stream string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streams[stream] = append(m.streams[stream], clone(value))
	return nil
}

func (m *Memory) Range(_ context.Context, stream string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.streams[stream]
	out := make([][]byte, len(src))
	for i, v := range src {
		out[i] = clone(v)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
