package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// memoryTier is a bounded map that evicts the oldest inserted entry first.
// Reads never reorder entries.
type memoryTier struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

func newMemoryTier(max int) *memoryTier {
	if max <= 0 {
		max = 500
	}
	return &memoryTier{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element, max),
	}
}

func (m *memoryTier) get(key string, now time.Time) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memEntry)
	if !now.Before(e.expiresAt) {
		m.removeLocked(el)
		return nil, false
	}
	return e.value, true
}

func (m *memoryTier) put(key string, value []byte, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// an overwrite counts as a fresh insertion
	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}
	for m.order.Len() >= m.max {
		m.removeLocked(m.order.Front())
	}
	m.entries[key] = m.order.PushBack(&memEntry{key: key, value: value, expiresAt: expiresAt})
}

func (m *memoryTier) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}
}

func (m *memoryTier) deletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if strings.HasPrefix(el.Value.(*memEntry).key, prefix) {
			m.removeLocked(el)
			n++
		}
		el = next
	}
	return n
}

func (m *memoryTier) purgeExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*memEntry).expiresAt) {
			m.removeLocked(el)
			n++
		}
		el = next
	}
	return n
}

func (m *memoryTier) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *memoryTier) removeLocked(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*memEntry).key)
}
