package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a terminal operation failure.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindInvalidParent Kind = "invalid_parent_connection"
	KindPersistence   Kind = "persistence"
)

// Error is returned by every failed operation.
type Error struct {
	Kind Kind
	Op   Mode

	// URIs names the offending elements, when the failure has any.
	URIs []string

	// PartiallyApplied is set when some writes may have reached the store
	// and were not undone.
	PartiallyApplied bool

	// RolledBack is set when the prior version was re-inserted after a
	// failed destructive step; RestoreVerified when a re-read matched it.
	RolledBack      bool
	RestoreVerified bool

	// Phase is the last phase the operation completed.
	Phase string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Op, e.Kind)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	switch {
	case e.RolledBack && e.RestoreVerified:
		b.WriteString(" (rolled back, verified)")
	case e.RolledBack:
		b.WriteString(" (rolled back, unverified)")
	case e.PartiallyApplied:
		b.WriteString(" (may be partially applied)")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a lifecycle error, or "" for any other error.
func KindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return ""
}

// IsKind reports whether err is a lifecycle error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Mode names a lifecycle operation.
type Mode string

const (
	ModeCreate  Mode = "create"
	ModeUpdate  Mode = "update"
	ModeUpsert  Mode = "upsert"
	ModeDelete  Mode = "delete"
	ModeRecover Mode = "recover"
)

// Status is the outcome recorded in a Result.
type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusUpserted  Status = "upserted"
	StatusDeleted   Status = "deleted"
	StatusRecovered Status = "recovered"
	StatusFailed    Status = "failed"
)

var successStatus = map[Mode]Status{
	ModeCreate:  StatusCreated,
	ModeUpdate:  StatusUpdated,
	ModeUpsert:  StatusUpserted,
	ModeDelete:  StatusDeleted,
	ModeRecover: StatusRecovered,
}

// Result describes the outcome of one operation. Failed operations return
// a Result with Status failed alongside the *Error.
type Result struct {
	OpID      string `json:"op_id"`
	Status    Status `json:"status"`
	Kind      Kind   `json:"kind,omitempty"`
	RootURI   string `json:"root_uri"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
	Message   string `json:"message"`
	JournalID string `json:"journal_id,omitempty"`
}
