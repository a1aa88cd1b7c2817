// Package validate checks that a submitted document forms a well-typed,
// fully connected subgraph hanging off exactly one root.
//
// Validation is pure: it never touches the store.
package validate

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rand/docgraph/internal/graphdoc"
)

// Violation names the class of a structural failure.
type Violation string

const (
	WrongRootCount Violation = "wrong_root_count"
	DanglingEdge   Violation = "dangling_edge"
	TypeMismatch   Violation = "type_mismatch"
	OrphanedNode   Violation = "orphaned_node"
	UnknownType    Violation = "unknown_type"
	DuplicateURI   Violation = "duplicate_uri"
	MissingURI     Violation = "missing_uri"
)

// Error reports the first violation class found and every offending URI of
// that class, in declaration order.
type Error struct {
	Violation Violation
	URIs      []string
	Detail    string
}

func (e *Error) Error() string {
	msg := string(e.Violation)
	if len(e.URIs) > 0 {
		msg += ": " + strings.Join(e.URIs, ", ")
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// IsViolation reports whether err is a validation error of class v.
func IsViolation(err error, v Violation) bool {
	var verr *Error
	return errors.As(err, &verr) && verr.Violation == v
}

// Options parameterize one validation call.
type Options struct {
	// RootType is the node type expected at the top of the document.
	RootType graphdoc.NodeType

	// ParentURI, when set, names an existing node outside the document.
	// Edges leaving it are returned as ParentLinks rather than flagged as
	// dangling; their type is checked by the caller against the store.
	ParentURI string
}

// Result describes a document that passed validation.
type Result struct {
	Document    *graphdoc.Document
	RootURI     string
	AllURIs     map[string]struct{}
	NodesByType map[graphdoc.NodeType][]string
	EdgesByType map[graphdoc.EdgeType][]string

	// ParentLinks are the URIs of edges whose source is Options.ParentURI.
	ParentLinks []string
}

// Contains reports whether uri is one of the document's node or edge URIs.
func (r *Result) Contains(uri string) bool {
	_, ok := r.AllURIs[uri]
	return ok
}

// URIs returns every document URI, sorted.
func (r *Result) URIs() []string {
	out := make([]string, 0, len(r.AllURIs))
	for uri := range r.AllURIs {
		out = append(out, uri)
	}
	slices.Sort(out)
	return out
}

// IsParentLink reports whether the edge uri leaves the external parent.
func (r *Result) IsParentLink(uri string) bool {
	return slices.Contains(r.ParentLinks, uri)
}

// Validate checks doc and classifies its elements.
//
// Checks run in order and stop at the first failing class: identifiers,
// root count, edge endpoints, edge types, reachability.
func Validate(doc *graphdoc.Document, opts Options) (*Result, error) {
	if doc == nil {
		doc = &graphdoc.Document{}
	}
	rootType := opts.RootType
	if rootType == "" {
		rootType = graphdoc.NodeRoot
	}
	if !rootType.Valid() {
		return nil, &Error{Violation: UnknownType, Detail: "root type " + string(rootType)}
	}

	if err := checkIdentifiers(doc); err != nil {
		return nil, err
	}

	nodes := make(map[string]*graphdoc.Node, len(doc.Nodes))
	for i := range doc.Nodes {
		nodes[doc.Nodes[i].URI] = &doc.Nodes[i]
	}
	isParentLink := func(e *graphdoc.Edge) bool {
		_, internal := nodes[e.Source]
		return opts.ParentURI != "" && e.Source == opts.ParentURI && !internal
	}

	rootURI, err := findRoot(doc, nodes, rootType)
	if err != nil {
		return nil, err
	}

	var dangling, mismatched, parentLinks []string
	for i := range doc.Edges {
		e := &doc.Edges[i]
		dst, dstOK := nodes[e.Destination]
		if isParentLink(e) {
			if !dstOK {
				dangling = append(dangling, e.URI)
				continue
			}
			parentLinks = append(parentLinks, e.URI)
			continue
		}
		src, srcOK := nodes[e.Source]
		if !srcOK || !dstOK {
			dangling = append(dangling, e.URI)
			continue
		}
		wantSrc, wantDst, _ := graphdoc.AllowedEdge(e.Type)
		if src.Type != wantSrc || dst.Type != wantDst {
			mismatched = append(mismatched, e.URI)
		}
	}
	if len(dangling) > 0 {
		return nil, &Error{Violation: DanglingEdge, URIs: dangling}
	}
	if len(mismatched) > 0 {
		return nil, &Error{Violation: TypeMismatch, URIs: mismatched}
	}

	children := make(map[string][]string)
	for _, e := range doc.Edges {
		if isParentLink(&e) {
			continue
		}
		children[e.Source] = append(children[e.Source], e.Destination)
	}
	visited := map[string]bool{rootURI: true}
	queue := []string{rootURI}
	for len(queue) > 0 {
		uri := queue[0]
		queue = queue[1:]
		for _, child := range children[uri] {
			if !visited[child] {
				visited[child] = true
				queue = append(queue, child)
			}
		}
	}
	var orphans []string
	for _, n := range doc.Nodes {
		if !visited[n.URI] {
			orphans = append(orphans, n.URI)
		}
	}
	if len(orphans) > 0 {
		return nil, &Error{Violation: OrphanedNode, URIs: orphans}
	}

	res := &Result{
		Document:    doc,
		RootURI:     rootURI,
		AllURIs:     make(map[string]struct{}, len(doc.Nodes)+len(doc.Edges)),
		NodesByType: make(map[graphdoc.NodeType][]string),
		EdgesByType: make(map[graphdoc.EdgeType][]string),
		ParentLinks: parentLinks,
	}
	for _, n := range doc.Nodes {
		res.AllURIs[n.URI] = struct{}{}
		res.NodesByType[n.Type] = append(res.NodesByType[n.Type], n.URI)
	}
	for _, e := range doc.Edges {
		res.AllURIs[e.URI] = struct{}{}
		res.EdgesByType[e.Type] = append(res.EdgesByType[e.Type], e.URI)
	}
	return res, nil
}

func checkIdentifiers(doc *graphdoc.Document) error {
	var missing, unknown, duplicate []string
	seen := make(map[string]bool, len(doc.Nodes)+len(doc.Edges))
	note := func(uri string) {
		if uri == "" {
			return
		}
		if seen[uri] {
			if !slices.Contains(duplicate, uri) {
				duplicate = append(duplicate, uri)
			}
			return
		}
		seen[uri] = true
	}

	for i, n := range doc.Nodes {
		if n.URI == "" {
			missing = append(missing, fmt.Sprintf("nodes[%d]", i))
		}
		if !n.Type.Valid() {
			unknown = append(unknown, n.URI)
		}
		note(n.URI)
	}
	for i, e := range doc.Edges {
		if e.URI == "" {
			missing = append(missing, fmt.Sprintf("edges[%d]", i))
		}
		if !e.Type.Valid() {
			unknown = append(unknown, e.URI)
		}
		note(e.URI)
	}

	switch {
	case len(missing) > 0:
		return &Error{Violation: MissingURI, URIs: missing}
	case len(unknown) > 0:
		return &Error{Violation: UnknownType, URIs: unknown}
	case len(duplicate) > 0:
		return &Error{Violation: DuplicateURI, URIs: duplicate}
	}
	return nil
}

// findRoot returns the single node of rootType. For a branch sub-document
// only branches no document edge points at count, which separates the top
// of the subtree from nested branches. Edges into a root are left to the
// edge type check.
func findRoot(doc *graphdoc.Document, nodes map[string]*graphdoc.Node, rootType graphdoc.NodeType) (string, error) {
	targeted := make(map[string]bool)
	if rootType == graphdoc.NodeBranch {
		for _, e := range doc.Edges {
			if _, ok := nodes[e.Source]; ok {
				targeted[e.Destination] = true
			}
		}
	}

	var candidates []string
	for _, n := range doc.Nodes {
		if n.Type == rootType && !targeted[n.URI] {
			candidates = append(candidates, n.URI)
		}
	}
	if len(candidates) != 1 {
		return "", &Error{
			Violation: WrongRootCount,
			URIs:      candidates,
			Detail:    fmt.Sprintf("want exactly one %s, found %d", rootType, len(candidates)),
		}
	}
	return candidates[0], nil
}
