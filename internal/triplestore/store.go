// Package triplestore provides the graph store adapter used by the document
// lifecycle packages, with in-memory, SQLite and Neo4j backends.
//
// The adapter only offers primitive statement operations. It gives no
// multi-call atomicity and no recursive queries; callers build both on top.
package triplestore

import (
	"context"
	"errors"

	"github.com/rand/docgraph/internal/graphdoc"
)

// Store is the set of primitives a backend must provide. Every call is
// scoped to a named graph; the same URI may exist independently in two scopes.
type Store interface {
	// Exists reports whether uri has an rdf:type triple with the given
	// object. An empty typ matches any type.
	Exists(ctx context.Context, scope, uri, typ string) (bool, error)

	// FetchSubjectTriples returns every triple whose subject is uri.
	FetchSubjectTriples(ctx context.Context, scope, uri string) ([]graphdoc.Triple, error)

	// FetchByTag returns every triple of every subject carrying tag = value.
	FetchByTag(ctx context.Context, scope, tag, value string) ([]graphdoc.Triple, error)

	// DeleteTriples removes every triple whose subject is in subjects.
	DeleteTriples(ctx context.Context, scope string, subjects []string) error

	// InsertTriples adds triples. Triples already present are left as is.
	InsertTriples(ctx context.Context, scope string, triples []graphdoc.Triple) error

	// SubjectsOfType lists the subjects whose rdf:type object is typ.
	SubjectsOfType(ctx context.Context, scope, typ string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("triplestore: store closed")
