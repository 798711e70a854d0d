// Package presence tracks which participants have a live connection.
package presence

import (
	"context"
	"sync"
)

// Tracker counts connections per participant; a participant is online while
// at least one is open.
type Tracker interface {
	Online(ctx context.Context, id string) error
	Offline(ctx context.Context, id string) error
	IsOnline(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

type Memory struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewMemory() *Memory {
	return &Memory{conns: make(map[string]int)}
}

func (m *Memory) Online(_ context.Context, id string) error {
	m.mu.Lock()
	m.conns[id]++
	m.mu.Unlock()
	return nil
}

func (m *Memory) Offline(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[id] <= 1 {
		delete(m.conns, id)
		return nil
	}
	m.conns[id]--
	return nil
}

func (m *Memory) IsOnline(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[id] > 0, nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.conns))
	for id := range m.conns {
		out = append(out, id)
	}
	return out, nil
}
