package repository

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDelayQueue is the in-process index used when Redis is not configured
// or unavailable.
type MemoryDelayQueue struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewMemoryDelayQueue() *MemoryDelayQueue {
	return &MemoryDelayQueue{items: make(map[string]time.Time)}
}

func (q *MemoryDelayQueue) Add(_ context.Context, key string, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[key] = runAt
	return nil
}

func (q *MemoryDelayQueue) Remove(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, key)
	return nil
}

func (q *MemoryDelayQueue) PopDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	type entry struct {
		key   string
		runAt time.Time
	}
	var due []entry
	for key, runAt := range q.items {
		if !runAt.After(now) {
			due = append(due, entry{key, runAt})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].runAt.Equal(due[j].runAt) {
			return due[i].key < due[j].key
		}
		return due[i].runAt.Before(due[j].runAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	keys := make([]string, 0, len(due))
	for _, e := range due {
		delete(q.items, e.key)
		keys = append(keys, e.key)
	}
	return keys, nil
}

func (q *MemoryDelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
