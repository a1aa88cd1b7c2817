// Package journal records destructive document operations together with
// the snapshot taken before them, so an operation interrupted between its
// delete and insert steps can be found and rolled back later.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rand/docgraph/internal/graphdoc"
)

// Status is the state of a journal entry.
type Status string

const (
	// StatusPending is written before the first destructive step. An entry
	// left pending means the process stopped inside the operation.
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	// StatusFailed marks an operation that stopped after journaling but
	// before touching the store.
	StatusFailed     Status = "failed"
	StatusRecovered  Status = "recovered"
)

// Entry is one journaled operation.
type Entry struct {
	ID        string             `json:"id"`
	OpID      string             `json:"op_id"`
	Operation string             `json:"operation"`
	Scope     string             `json:"scope"`
	RootURI   string             `json:"root_uri"`
	Status    Status             `json:"status"`
	Message   string             `json:"message,omitempty"`
	Snapshot  *graphdoc.Snapshot `json:"snapshot,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Filter selects journal entries. Zero fields match everything.
type Filter struct {
	Scope    string
	Statuses []Status
	Limit    int
}

// Journal stores entries.
type Journal interface {
	// Begin assigns an ID when empty, stamps the entry pending and stores it.
	Begin(ctx context.Context, entry *Entry) error

	// Finish moves an entry to its final status.
	Finish(ctx context.Context, id string, status Status, message string) error

	Get(ctx context.Context, id string) (*Entry, error)

	// List returns matching entries, newest first.
	List(ctx context.Context, filter Filter) ([]*Entry, error)

	Close() error
}

// ErrNotFound is returned when an entry doesn't exist.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("journal entry not found: %s", e.ID)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

func prepare(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.Status = StatusPending
}

func (f Filter) matches(e *Entry) bool {
	if f.Scope != "" && e.Scope != f.Scope {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}
