package graphdoc

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Triple is one (subject, predicate, object) statement.
type Triple struct {
	Subject   string `json:"s"`
	Predicate string `json:"p"`
	Object    string `json:"o"`
}

func (t Triple) String() string {
	return t.Subject + " " + t.Predicate + " " + t.Object
}

// Predicate vocabulary written by ToTriples.
const (
	PredType        = "rdf:type"
	PredSource      = "dg:source"
	PredDestination = "dg:destination"
	PredGraphGroup  = "dg:graph_group"
	PredBranchGroup = "dg:branch_group"
	PredRetain      = "dg:retain_on_replace"

	// PropertyPrefix prefixes the predicate of every scalar node property.
	PropertyPrefix = "prop:"

	typePrefix = "dg:"
)

// Tag names accepted by FetchByTag.
const (
	TagGraphGroup  = PredGraphGroup
	TagBranchGroup = PredBranchGroup
)

// NodeTypeObject is the rdf:type object written for a node of type t.
func NodeTypeObject(t NodeType) string { return typePrefix + string(t) }

// EdgeTypeObject is the rdf:type object written for an edge of type t.
func EdgeTypeObject(t EdgeType) string { return typePrefix + string(t) }

// ParseTypeObject maps an rdf:type object back to a node or edge type.
// Exactly one of the returned types is non-empty when ok is true.
func ParseTypeObject(object string) (NodeType, EdgeType, bool) {
	name, found := strings.CutPrefix(object, typePrefix)
	if !found {
		return "", "", false
	}
	if nt := NodeType(name); nt.Valid() {
		return nt, "", true
	}
	if et := EdgeType(name); et.Valid() {
		return "", et, true
	}
	return "", "", false
}

// CompareTriples orders triples by subject, predicate, then object.
func CompareTriples(a, b Triple) int {
	if c := cmp.Compare(a.Subject, b.Subject); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Predicate, b.Predicate); c != 0 {
		return c
	}
	return cmp.Compare(a.Object, b.Object)
}

// SortTriples sorts ts in place and removes duplicates.
func SortTriples(ts []Triple) []Triple {
	slices.SortFunc(ts, CompareTriples)
	return slices.Compact(ts)
}

// Subjects returns the sorted distinct subjects of ts.
func Subjects(ts []Triple) []string {
	seen := make(map[string]struct{}, len(ts))
	var out []string
	for _, t := range ts {
		if _, ok := seen[t.Subject]; ok {
			continue
		}
		seen[t.Subject] = struct{}{}
		out = append(out, t.Subject)
	}
	slices.Sort(out)
	return out
}

// NodeTriples encodes a node.
func NodeTriples(n Node) []Triple {
	ts := []Triple{{n.URI, PredType, NodeTypeObject(n.Type)}}
	for k, v := range n.Properties {
		ts = append(ts, Triple{n.URI, PropertyPrefix + k, v})
	}
	return appendTags(ts, n.URI, n.GraphGroup, n.BranchGroup)
}

// EdgeTriples encodes an edge.
func EdgeTriples(e Edge) []Triple {
	ts := []Triple{
		{e.URI, PredType, EdgeTypeObject(e.Type)},
		{e.URI, PredSource, e.Source},
		{e.URI, PredDestination, e.Destination},
	}
	if e.RetainOnReplace {
		ts = append(ts, Triple{e.URI, PredRetain, "true"})
	}
	return appendTags(ts, e.URI, e.GraphGroup, e.BranchGroup)
}

func appendTags(ts []Triple, uri, graphGroup, branchGroup string) []Triple {
	if graphGroup != "" {
		ts = append(ts, Triple{uri, PredGraphGroup, graphGroup})
	}
	if branchGroup != "" {
		ts = append(ts, Triple{uri, PredBranchGroup, branchGroup})
	}
	return ts
}

// ToTriples encodes a document as a sorted triple list.
func ToTriples(doc *Document) []Triple {
	var ts []Triple
	for _, n := range doc.Nodes {
		ts = append(ts, NodeTriples(n)...)
	}
	for _, e := range doc.Edges {
		ts = append(ts, EdgeTriples(e)...)
	}
	return SortTriples(ts)
}

// DecodeError reports a subject whose triples do not describe a node or edge.
type DecodeError struct {
	Subject string
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Subject, e.Reason)
}

// Element is a decoded subject: exactly one of Node and Edge is set.
type Element struct {
	Node *Node
	Edge *Edge
}

// URI returns the subject URI of the element.
func (el Element) URI() string {
	if el.Node != nil {
		return el.Node.URI
	}
	return el.Edge.URI
}

// GraphGroup returns the graph_group tag of the element.
func (el Element) GraphGroup() string {
	if el.Node != nil {
		return el.Node.GraphGroup
	}
	return el.Edge.GraphGroup
}

// BranchGroup returns the branch_group tag of the element.
func (el Element) BranchGroup() string {
	if el.Node != nil {
		return el.Node.BranchGroup
	}
	return el.Edge.BranchGroup
}

// Decode rebuilds the node or edge described by the triples of one subject.
// Triples for other subjects are ignored.
func Decode(subject string, ts []Triple) (Element, error) {
	var typeObj string
	for _, t := range ts {
		if t.Subject == subject && t.Predicate == PredType {
			if typeObj != "" && typeObj != t.Object {
				return Element{}, &DecodeError{Subject: subject, Reason: "conflicting rdf:type"}
			}
			typeObj = t.Object
		}
	}
	if typeObj == "" {
		return Element{}, &DecodeError{Subject: subject, Reason: "missing rdf:type"}
	}
	nt, et, ok := ParseTypeObject(typeObj)
	if !ok {
		return Element{}, &DecodeError{Subject: subject, Reason: "unknown type " + typeObj}
	}

	if nt != "" {
		n := &Node{URI: subject, Type: nt}
		for _, t := range ts {
			if t.Subject != subject {
				continue
			}
			switch {
			case t.Predicate == PredGraphGroup:
				n.GraphGroup = t.Object
			case t.Predicate == PredBranchGroup:
				n.BranchGroup = t.Object
			case strings.HasPrefix(t.Predicate, PropertyPrefix):
				if n.Properties == nil {
					n.Properties = make(map[string]string)
				}
				n.Properties[strings.TrimPrefix(t.Predicate, PropertyPrefix)] = t.Object
			}
		}
		return Element{Node: n}, nil
	}

	e := &Edge{URI: subject, Type: et}
	for _, t := range ts {
		if t.Subject != subject {
			continue
		}
		switch t.Predicate {
		case PredSource:
			e.Source = t.Object
		case PredDestination:
			e.Destination = t.Object
		case PredRetain:
			e.RetainOnReplace = t.Object == "true"
		case PredGraphGroup:
			e.GraphGroup = t.Object
		case PredBranchGroup:
			e.BranchGroup = t.Object
		}
	}
	return Element{Edge: e}, nil
}

// FromTriples reassembles a document from the triples of its subjects.
// Nodes and edges are returned sorted by URI.
func FromTriples(ts []Triple) (*Document, error) {
	bySubject := make(map[string][]Triple)
	for _, t := range ts {
		bySubject[t.Subject] = append(bySubject[t.Subject], t)
	}

	doc := &Document{}
	for _, subject := range Subjects(ts) {
		el, err := Decode(subject, bySubject[subject])
		if err != nil {
			return nil, err
		}
		if el.Node != nil {
			doc.Nodes = append(doc.Nodes, *el.Node)
		} else {
			doc.Edges = append(doc.Edges, *el.Edge)
		}
	}
	return doc, nil
}
