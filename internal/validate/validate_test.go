package validate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rand/docgraph/internal/graphdoc"
)

func node(uri string, t graphdoc.NodeType) graphdoc.Node {
	return graphdoc.Node{URI: uri, Type: t}
}

func edge(uri string, t graphdoc.EdgeType, src, dst string) graphdoc.Edge {
	return graphdoc.Edge{URI: uri, Type: t, Source: src, Destination: dst}
}

// scenarioDocument is R with branches B1, B2 and leaf L1 under B1.
func scenarioDocument() *graphdoc.Document {
	return &graphdoc.Document{
		Nodes: []graphdoc.Node{
			node("urn:R", graphdoc.NodeRoot),
			node("urn:B1", graphdoc.NodeBranch),
			node("urn:B2", graphdoc.NodeBranch),
			{URI: "urn:L1", Type: graphdoc.NodeLeaf, Properties: map[string]string{"value": "Alice"}},
		},
		Edges: []graphdoc.Edge{
			edge("urn:e1", graphdoc.EdgeRootBranch, "urn:R", "urn:B1"),
			edge("urn:e2", graphdoc.EdgeRootBranch, "urn:R", "urn:B2"),
			edge("urn:e3", graphdoc.EdgeBranchLeaf, "urn:B1", "urn:L1"),
		},
	}
}

func TestValidate_Scenario(t *testing.T) {
	res, err := Validate(scenarioDocument(), Options{})
	require.NoError(t, err)

	assert.Equal(t, "urn:R", res.RootURI)
	assert.Len(t, res.AllURIs, 7)
	assert.Equal(t, []string{"urn:B1", "urn:B2"}, res.NodesByType[graphdoc.NodeBranch])
	assert.Equal(t, []string{"urn:e3"}, res.EdgesByType[graphdoc.EdgeBranchLeaf])
	assert.Empty(t, res.ParentLinks)
	assert.True(t, res.Contains("urn:e2"))
	assert.False(t, res.Contains("urn:nope"))
}

func TestValidate_RootOnly(t *testing.T) {
	res, err := Validate(&graphdoc.Document{Nodes: []graphdoc.Node{node("urn:R", graphdoc.NodeRoot)}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "urn:R", res.RootURI)
	assert.Equal(t, []string{"urn:R"}, res.URIs())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(d *graphdoc.Document)
		opts      Options
		violation Violation
		uris      []string
	}{
		{
			name:      "empty document",
			mutate:    func(d *graphdoc.Document) { *d = graphdoc.Document{} },
			violation: WrongRootCount,
		},
		{
			name: "two roots",
			mutate: func(d *graphdoc.Document) {
				d.Nodes = append(d.Nodes, node("urn:R2", graphdoc.NodeRoot))
			},
			violation: WrongRootCount,
			uris:      []string{"urn:R", "urn:R2"},
		},
		{
			name:      "no root of requested type",
			mutate:    func(d *graphdoc.Document) { d.Nodes = d.Nodes[1:]; d.Edges = d.Edges[2:] },
			violation: WrongRootCount,
			uris:      []string{"urn:B1", "urn:B2"},
			opts:      Options{RootType: graphdoc.NodeBranch},
		},
		{
			name: "dangling destination",
			mutate: func(d *graphdoc.Document) {
				d.Edges = append(d.Edges, edge("urn:e9", graphdoc.EdgeBranchLeaf, "urn:B2", "urn:gone"))
			},
			violation: DanglingEdge,
			uris:      []string{"urn:e9"},
		},
		{
			name: "dangling source",
			mutate: func(d *graphdoc.Document) {
				d.Edges[2].Source = "urn:gone"
			},
			violation: DanglingEdge,
			uris:      []string{"urn:e3"},
		},
		{
			name: "root to leaf",
			mutate: func(d *graphdoc.Document) {
				d.Edges[2] = edge("urn:e3", graphdoc.EdgeBranchLeaf, "urn:R", "urn:L1")
			},
			violation: TypeMismatch,
			uris:      []string{"urn:e3"},
		},
		{
			name: "edge type disagrees with endpoints",
			mutate: func(d *graphdoc.Document) {
				d.Edges[0].Type = graphdoc.EdgeBranchBranch
			},
			violation: TypeMismatch,
			uris:      []string{"urn:e1"},
		},
		{
			name: "edge into the root",
			mutate: func(d *graphdoc.Document) {
				d.Edges = append(d.Edges, edge("urn:e9", graphdoc.EdgeBranchBranch, "urn:B2", "urn:R"))
			},
			violation: TypeMismatch,
			uris:      []string{"urn:e9"},
		},
		{
			name: "orphaned subtree",
			mutate: func(d *graphdoc.Document) {
				d.Edges = d.Edges[1:]
			},
			violation: OrphanedNode,
			uris:      []string{"urn:B1", "urn:L1"},
		},
		{
			name: "unknown node type",
			mutate: func(d *graphdoc.Document) {
				d.Nodes[3].Type = "twig"
			},
			violation: UnknownType,
			uris:      []string{"urn:L1"},
		},
		{
			name: "duplicate uri across node and edge",
			mutate: func(d *graphdoc.Document) {
				d.Edges[0].URI = "urn:B2"
			},
			violation: DuplicateURI,
			uris:      []string{"urn:B2"},
		},
		{
			name: "missing uri",
			mutate: func(d *graphdoc.Document) {
				d.Edges[1].URI = ""
			},
			violation: MissingURI,
			uris:      []string{"edges[1]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := scenarioDocument()
			tt.mutate(doc)

			_, err := Validate(doc, tt.opts)
			require.Error(t, err)
			assert.True(t, IsViolation(err, tt.violation), "got %v", err)

			var verr *Error
			require.ErrorAs(t, err, &verr)
			if tt.uris != nil {
				assert.Equal(t, tt.uris, verr.URIs)
			}
		})
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	doc := scenarioDocument()
	before := doc.Clone()

	_, err := Validate(doc, Options{})
	require.NoError(t, err)
	assert.Equal(t, before, doc)
}

func TestValidate_SubDocument(t *testing.T) {
	doc := &graphdoc.Document{
		Nodes: []graphdoc.Node{
			node("urn:B3", graphdoc.NodeBranch),
			node("urn:B4", graphdoc.NodeBranch),
			node("urn:L3", graphdoc.NodeLeaf),
		},
		Edges: []graphdoc.Edge{
			edge("urn:link", graphdoc.EdgeRootBranch, "urn:R", "urn:B3"),
			edge("urn:e1", graphdoc.EdgeBranchBranch, "urn:B3", "urn:B4"),
			edge("urn:e2", graphdoc.EdgeBranchLeaf, "urn:B4", "urn:L3"),
		},
	}

	t.Run("parent link accepted", func(t *testing.T) {
		res, err := Validate(doc, Options{RootType: graphdoc.NodeBranch, ParentURI: "urn:R"})
		require.NoError(t, err)
		assert.Equal(t, "urn:B3", res.RootURI)
		assert.Equal(t, []string{"urn:link"}, res.ParentLinks)
		assert.True(t, res.IsParentLink("urn:link"))
		assert.False(t, res.IsParentLink("urn:e1"))
	})

	t.Run("parent link type is not checked here", func(t *testing.T) {
		d := doc.Clone()
		d.Edges[0].Type = graphdoc.EdgeBranchLeaf
		res, err := Validate(d, Options{RootType: graphdoc.NodeBranch, ParentURI: "urn:R"})
		require.NoError(t, err)
		assert.Equal(t, []string{"urn:link"}, res.ParentLinks)
	})

	t.Run("without parent the link dangles", func(t *testing.T) {
		_, err := Validate(doc, Options{RootType: graphdoc.NodeBranch})
		assert.True(t, IsViolation(err, DanglingEdge))
	})

	t.Run("link to unknown node dangles", func(t *testing.T) {
		d := doc.Clone()
		d.Edges[0].Destination = "urn:elsewhere"
		_, err := Validate(d, Options{RootType: graphdoc.NodeBranch, ParentURI: "urn:R"})
		assert.True(t, IsViolation(err, DanglingEdge))
	})
}

func TestError_Message(t *testing.T) {
	err := &Error{Violation: OrphanedNode, URIs: []string{"urn:a", "urn:b"}}
	assert.Equal(t, "orphaned_node: urn:a, urn:b", err.Error())
	assert.False(t, IsViolation(nil, OrphanedNode))
	assert.False(t, IsViolation(fmt.Errorf("wrapped: %w", err), DanglingEdge))
	assert.True(t, IsViolation(fmt.Errorf("wrapped: %w", err), OrphanedNode))
}

// genTree draws a random well-formed document and the parent of every non-root node.
func genTree(t *rapid.T) (*graphdoc.Document, map[string]string) {
	doc := &graphdoc.Document{Nodes: []graphdoc.Node{node("urn:R", graphdoc.NodeRoot)}}
	parent := make(map[string]string)

	branches := []string{}
	for i := range rapid.IntRange(0, 6).Draw(t, "branches") {
		uri := fmt.Sprintf("urn:B%d", i)
		owner := "urn:R"
		if len(branches) > 0 && rapid.Bool().Draw(t, "nested") {
			owner = rapid.SampledFrom(branches).Draw(t, "owner")
		}
		typ := graphdoc.EdgeRootBranch
		if owner != "urn:R" {
			typ = graphdoc.EdgeBranchBranch
		}
		doc.Nodes = append(doc.Nodes, node(uri, graphdoc.NodeBranch))
		doc.Edges = append(doc.Edges, edge("urn:e-"+uri, typ, owner, uri))
		parent[uri] = owner
		branches = append(branches, uri)
	}
	if len(branches) > 0 {
		for i := range rapid.IntRange(0, 8).Draw(t, "leaves") {
			uri := fmt.Sprintf("urn:L%d", i)
			owner := rapid.SampledFrom(branches).Draw(t, "leafOwner")
			doc.Nodes = append(doc.Nodes, node(uri, graphdoc.NodeLeaf))
			doc.Edges = append(doc.Edges, edge("urn:e-"+uri, graphdoc.EdgeBranchLeaf, owner, uri))
			parent[uri] = owner
		}
	}
	return doc, parent
}

// TestProperty_TreesValidate verifies every connected tree passes.
func TestProperty_TreesValidate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		doc, _ := genTree(t)

		res, err := Validate(doc, Options{})
		require.NoError(t, err)
		assert.Equal(t, "urn:R", res.RootURI)
		assert.Len(t, res.AllURIs, len(doc.Nodes)+len(doc.Edges))
	})
}

// TestProperty_OrphansNamedExactly cuts random incoming edges and checks the
// violation lists exactly the nodes no longer reachable.
func TestProperty_OrphansNamedExactly(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		doc, parent := genTree(t)
		if len(doc.Nodes) < 2 {
			return
		}

		cut := make(map[string]bool)
		var kept []graphdoc.Edge
		for _, e := range doc.Edges {
			if rapid.Bool().Draw(t, "cut "+e.Destination) {
				cut[e.Destination] = true
				continue
			}
			kept = append(kept, e)
		}
		doc.Edges = kept

		var want []string
		for _, n := range doc.Nodes[1:] {
			for uri := n.URI; uri != "urn:R"; uri = parent[uri] {
				if cut[uri] {
					want = append(want, n.URI)
					break
				}
			}
		}

		_, err := Validate(doc, Options{})
		if len(want) == 0 {
			require.NoError(t, err)
			return
		}
		var verr *Error
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, OrphanedNode, verr.Violation)
		assert.Equal(t, want, verr.URIs)
	})
}
