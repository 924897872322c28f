package entity

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store keyed by (type, id). Safe for concurrent
// use. Used by tests and by hosts that keep entities in memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Entity
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Entity)}
}

func memoryKey(entityType string, id int64) string {
	return fmt.Sprintf("%s/%d", entityType, id)
}

// Put stores or replaces the entity under its current identity.
// Unsaved entities (no id) are ignored.
func (m *Memory) Put(e Entity) {
	id, ok := e.EntityID()
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[memoryKey(e.EntityType(), id)] = e
}

// Delete removes the entity stored under (type, id).
func (m *Memory) Delete(entityType string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, memoryKey(entityType, id))
}

// Get returns the stored entity or an error if no record exists.
func (m *Memory) Get(_ context.Context, entityType string, id int64) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.records[memoryKey(entityType, id)]
	if !ok {
		return nil, fmt.Errorf("entity %s/%d not found", entityType, id)
	}
	return e, nil
}
