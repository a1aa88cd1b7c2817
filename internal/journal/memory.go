package journal

import (
	"context"
	"sync"
	"time"
)

// MemoryJournal keeps entries in process memory.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{byID: make(map[string]*Entry)}
}

func (j *MemoryJournal) Begin(ctx context.Context, entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prepare(entry)
	stored := *entry
	j.entries = append(j.entries, &stored)
	j.byID[stored.ID] = &stored
	return nil
}

func (j *MemoryJournal) Finish(ctx context.Context, id string, status Status, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.byID[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	e.Status = status
	e.Message = message
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (j *MemoryJournal) Get(ctx context.Context, id string) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	e, ok := j.byID[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	c := *e
	return &c, nil
}

func (j *MemoryJournal) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*Entry
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]
		if !filter.matches(e) {
			continue
		}
		c := *e
		out = append(out, &c)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (j *MemoryJournal) Close() error { return nil }
