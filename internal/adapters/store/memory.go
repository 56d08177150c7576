package store

import (
	"context"
	"sync"

	"account-humanizer/internal/domain"
)

// Memory — kv-хранилище в памяти. Используется по умолчанию и в тестах.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ domain.Store = (*Memory)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

// Load возвращает значение ключа.
func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// Save сохраняет значение ключа.
func (m *Memory) Save(_ context.Context, key string, value []byte) error {
	raw := make([]byte, len(value))
	copy(raw, value)
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}
