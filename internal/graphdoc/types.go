// Package graphdoc defines the node, edge and triple model shared by the
// document lifecycle packages.
//
// A document is one Root node plus every Branch, Leaf and Edge reachable
// from it. Edges are first-class subjects with their own URIs so they can
// carry grouping tags like any node.
package graphdoc

import (
	"maps"
	"slices"
)

// NodeType is the discriminant of a node. The set is closed.
type NodeType string

const (
	NodeRoot   NodeType = "root"   // Owning record
	NodeBranch NodeType = "branch" // Nested record owned by a Root or another Branch
	NodeLeaf   NodeType = "leaf"   // Terminal record holding scalar values
)

// NodeTypes lists every valid node type.
var NodeTypes = []NodeType{NodeRoot, NodeBranch, NodeLeaf}

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	return slices.Contains(NodeTypes, t)
}

// EdgeType is the discriminant of an edge. The set is closed.
type EdgeType string

const (
	EdgeRootBranch   EdgeType = "root_branch"
	EdgeBranchBranch EdgeType = "branch_branch"
	EdgeBranchLeaf   EdgeType = "branch_leaf"
)

// EdgeTypes lists every valid edge type.
var EdgeTypes = []EdgeType{EdgeRootBranch, EdgeBranchBranch, EdgeBranchLeaf}

// Valid reports whether t is one of the known edge types.
func (t EdgeType) Valid() bool {
	_, ok := allowedEdges[t]
	return ok
}

type endpoints struct {
	source      NodeType
	destination NodeType
}

// allowedEdges is the static table of which node types an edge type may connect.
var allowedEdges = map[EdgeType]endpoints{
	EdgeRootBranch:   {source: NodeRoot, destination: NodeBranch},
	EdgeBranchBranch: {source: NodeBranch, destination: NodeBranch},
	EdgeBranchLeaf:   {source: NodeBranch, destination: NodeLeaf},
}

// AllowedEdge returns the endpoint types an edge of type t must connect.
func AllowedEdge(t EdgeType) (source, destination NodeType, ok bool) {
	ep, ok := allowedEdges[t]
	return ep.source, ep.destination, ok
}

// EdgeTypeFor returns the edge type connecting source to destination, if any.
func EdgeTypeFor(source, destination NodeType) (EdgeType, bool) {
	for _, t := range EdgeTypes {
		ep := allowedEdges[t]
		if ep.source == source && ep.destination == destination {
			return t, true
		}
	}
	return "", false
}

// Node is one typed record.
type Node struct {
	URI         string            `json:"uri" yaml:"uri"`
	Type        NodeType          `json:"type" yaml:"type"`
	Properties  map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
	GraphGroup  string            `json:"graph_group,omitempty" yaml:"graph_group,omitempty"`
	BranchGroup string            `json:"branch_group,omitempty" yaml:"branch_group,omitempty"`
}

// Edge is one typed directed relationship between two nodes.
type Edge struct {
	URI         string   `json:"uri" yaml:"uri"`
	Type        EdgeType `json:"type" yaml:"type"`
	Source      string   `json:"source" yaml:"source"`
	Destination string   `json:"destination" yaml:"destination"`

	// RetainOnReplace keeps the edge in the store when an upsert replaces
	// the document that declares it (e.g. a parent-linking edge).
	RetainOnReplace bool `json:"retain_on_replace,omitempty" yaml:"retain_on_replace,omitempty"`

	GraphGroup  string `json:"graph_group,omitempty" yaml:"graph_group,omitempty"`
	BranchGroup string `json:"branch_group,omitempty" yaml:"branch_group,omitempty"`
}

// Document is the unit submitted to a lifecycle operation.
type Document struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// URIs returns every node and edge URI in declaration order, nodes first.
func (d *Document) URIs() []string {
	uris := make([]string, 0, len(d.Nodes)+len(d.Edges))
	for _, n := range d.Nodes {
		uris = append(uris, n.URI)
	}
	for _, e := range d.Edges {
		uris = append(uris, e.URI)
	}
	return uris
}

// Node returns the node with the given URI.
func (d *Document) Node(uri string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].URI == uri {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Edge returns the edge with the given URI.
func (d *Document) Edge(uri string) (*Edge, bool) {
	for i := range d.Edges {
		if d.Edges[i].URI == uri {
			return &d.Edges[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := &Document{
		Nodes: make([]Node, len(d.Nodes)),
		Edges: make([]Edge, len(d.Edges)),
	}
	for i, n := range d.Nodes {
		n.Properties = maps.Clone(n.Properties)
		c.Nodes[i] = n
	}
	copy(c.Edges, d.Edges)
	return c
}
