package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is an in-process Cache. Expired entries are dropped lazily on access.
type Memory struct {
	mu     sync.Mutex
	audits map[string]map[string]memoryEntry
	now    func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		audits: make(map[string]map[string]memoryEntry),
		now:    time.Now,
	}
}

// SetNow replaces the time source. Used by tests.
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Get(_ context.Context, audit, key string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(audit, key)
	if !ok {
		return nil, false, nil
	}
	return json.RawMessage(e.value), true, nil
}

func (m *Memory) Set(_ context.Context, audit, key string, value any, ttl time.Duration) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.audits[audit]
	if !ok {
		entries = make(map[string]memoryEntry)
		m.audits[audit] = entries
	}
	e := memoryEntry{value: raw}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	entries[key] = e
	return nil
}

func (m *Memory) Check(_ context.Context, audit, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lookup(audit, key)
	return ok, nil
}

func (m *Memory) Remove(_ context.Context, audit, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.audits[audit], key)
	return nil
}

func (m *Memory) Clean(_ context.Context, audit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.audits, audit)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audits = make(map[string]map[string]memoryEntry)
	return nil
}

// Len returns the number of live entries for an audit.
func (m *Memory) Len(audit string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, e := range m.audits[audit] {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// lookup must be called with mu held.
func (m *Memory) lookup(audit, key string) (memoryEntry, bool) {
	e, ok := m.audits[audit][key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(m.now()) {
		delete(m.audits[audit], key)
		return memoryEntry{}, false
	}
	return e, true
}
