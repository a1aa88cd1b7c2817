package graphdoc

import (
	"slices"
	"time"

	"github.com/zeebo/xxh3"
)

// Snapshot is a complete copy of one document's triples, captured before a
// destructive step so the prior state can be re-inserted verbatim.
type Snapshot struct {
	Scope    string    `json:"scope"`
	RootURI  string    `json:"root_uri"`
	Subjects []string  `json:"subjects"`
	Triples  []Triple  `json:"triples"`
	TakenAt  time.Time `json:"taken_at"`
}

// NewSnapshot copies ts into a canonical (sorted, de-duplicated) snapshot.
func NewSnapshot(scope, rootURI string, ts []Triple) *Snapshot {
	triples := SortTriples(slices.Clone(ts))
	return &Snapshot{
		Scope:    scope,
		RootURI:  rootURI,
		Subjects: Subjects(triples),
		Triples:  triples,
		TakenAt:  time.Now().UTC(),
	}
}

// Empty reports whether the snapshot holds no triples.
func (s *Snapshot) Empty() bool {
	return len(s.Triples) == 0
}

// Digest is the xxh3 hash of the canonical triple encoding.
func (s *Snapshot) Digest() uint64 {
	return DigestTriples(s.Triples)
}

// ByType groups the snapshot triples by the rdf:type of their subject, in
// canonical order within each group. Untyped subjects are grouped under "".
func (s *Snapshot) ByType() map[string][]Triple {
	typeOf := make(map[string]string, len(s.Subjects))
	for _, t := range s.Triples {
		if t.Predicate == PredType {
			typeOf[t.Subject] = t.Object
		}
	}
	groups := make(map[string][]Triple)
	for _, t := range s.Triples {
		key := typeOf[t.Subject]
		groups[key] = append(groups[key], t)
	}
	return groups
}

// DigestTriples hashes ts after sorting a copy, so the result does not depend
// on the order the store returned them in.
func DigestTriples(ts []Triple) uint64 {
	sorted := SortTriples(slices.Clone(ts))
	h := xxh3.New()
	for _, t := range sorted {
		h.WriteString(t.Subject)
		h.WriteString("\x00")
		h.WriteString(t.Predicate)
		h.WriteString("\x00")
		h.WriteString(t.Object)
		h.WriteString("\x00")
	}
	return h.Sum64()
}
