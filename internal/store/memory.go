package store

import (
	"context"
	"sync"
)

// Memory keeps rows in process. Used for dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]Row
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{tables: make(map[string][]Row)}
}

// AppendRow copies row onto the end of table
func (m *Memory) AppendRow(_ context.Context, table string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[table] = append(m.tables[table], append(Row(nil), row...))
	return nil
}

// ReadRows returns a copy of the rows in table in append order
func (m *Memory) ReadRows(_ context.Context, table string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]Row, len(m.tables[table]))
	copy(rows, m.tables[table])
	return rows, nil
}

// Close is a no-op
func (m *Memory) Close() error { return nil }
