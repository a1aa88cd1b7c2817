package triplestore

import (
	"context"
	"slices"
	"sync"

	"github.com/rand/docgraph/internal/graphdoc"
)

// MemoryStore is an in-memory Store for tests and throwaway runs.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string]map[graphdoc.Triple]struct{}
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scopes: make(map[string]map[string]map[graphdoc.Triple]struct{}),
	}
}

// Exists reports whether uri is typed typ (any type when typ is empty).
func (s *MemoryStore) Exists(ctx context.Context, scope, uri, typ string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}

	for t := range s.scopes[scope][uri] {
		if t.Predicate == graphdoc.PredType && (typ == "" || t.Object == typ) {
			return true, nil
		}
	}
	return false, nil
}

// FetchSubjectTriples returns every triple of uri.
func (s *MemoryStore) FetchSubjectTriples(ctx context.Context, scope, uri string) ([]graphdoc.Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	return s.subjectLocked(scope, uri), nil
}

func (s *MemoryStore) subjectLocked(scope, uri string) []graphdoc.Triple {
	set := s.scopes[scope][uri]
	out := make([]graphdoc.Triple, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.SortFunc(out, graphdoc.CompareTriples)
	return out
}

// FetchByTag returns the triples of every subject carrying tag = value.
func (s *MemoryStore) FetchByTag(ctx context.Context, scope, tag, value string) ([]graphdoc.Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var out []graphdoc.Triple
	for subject, set := range s.scopes[scope] {
		if _, ok := set[graphdoc.Triple{Subject: subject, Predicate: tag, Object: value}]; ok {
			out = append(out, s.subjectLocked(scope, subject)...)
		}
	}
	slices.SortFunc(out, graphdoc.CompareTriples)
	return out, nil
}

// DeleteTriples removes every triple of the given subjects.
func (s *MemoryStore) DeleteTriples(ctx context.Context, scope string, subjects []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	graph := s.scopes[scope]
	for _, subject := range subjects {
		delete(graph, subject)
	}
	return nil
}

// InsertTriples adds triples to the scope.
func (s *MemoryStore) InsertTriples(ctx context.Context, scope string, triples []graphdoc.Triple) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	graph, ok := s.scopes[scope]
	if !ok {
		graph = make(map[string]map[graphdoc.Triple]struct{})
		s.scopes[scope] = graph
	}
	for _, t := range triples {
		set, ok := graph[t.Subject]
		if !ok {
			set = make(map[graphdoc.Triple]struct{})
			graph[t.Subject] = set
		}
		set[t] = struct{}{}
	}
	return nil
}

// SubjectsOfType lists the subjects typed typ, sorted.
func (s *MemoryStore) SubjectsOfType(ctx context.Context, scope, typ string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var out []string
	for subject, set := range s.scopes[scope] {
		if _, ok := set[graphdoc.Triple{Subject: subject, Predicate: graphdoc.PredType, Object: typ}]; ok {
			out = append(out, subject)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Triples returns every triple in scope in canonical order.
func (s *MemoryStore) Triples(scope string) []graphdoc.Triple {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graphdoc.Triple
	for _, set := range s.scopes[scope] {
		for t := range set {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, graphdoc.CompareTriples)
	return out
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
