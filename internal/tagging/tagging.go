// Package tagging writes the graph_group and branch_group ownership tags
// onto every element of a validated document.
//
// graph_group is the owning Root for the whole document. branch_group is
// the nearest Branch ancestor of an element (its source Branch for edges),
// or empty for elements that hang directly off a Root.
package tagging

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rand/docgraph/internal/graphdoc"
	"github.com/rand/docgraph/internal/validate"
)

// BranchGroupResolver returns the branch_group of the document root, which
// depends on where the document is attached.
type BranchGroupResolver func(rootURI string) string

// TopLevel is the resolver for documents with no parent.
func TopLevel(string) string { return "" }

// UnderParent returns a resolver for a sub-document attached below
// parentURI: a Branch parent owns the new subtree, a Root parent does not.
func UnderParent(parentURI string, parentType graphdoc.NodeType) BranchGroupResolver {
	return func(string) string {
		if parentType == graphdoc.NodeBranch {
			return parentURI
		}
		return ""
	}
}

// Error reports a node claimed by more than one unrelated Branch.
type Error struct {
	URI      string
	Branches []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ambiguous branch membership: %s reachable from %s", e.URI, strings.Join(e.Branches, ", "))
}

// Propagate returns a copy of the validated document with both tags set
// on every node and edge. Existing tags are overwritten, so the result
// depends only on the structure of the input.
func Propagate(res *validate.Result, graphGroup string, resolve BranchGroupResolver) (*graphdoc.Document, error) {
	if resolve == nil {
		resolve = TopLevel
	}
	doc := res.Document.Clone()

	types := make(map[string]graphdoc.NodeType, len(doc.Nodes))
	for _, n := range doc.Nodes {
		types[n.URI] = n.Type
	}

	parents := make(map[string][]string)
	branchChildren := make(map[string][]string)
	for _, e := range doc.Edges {
		if res.IsParentLink(e.URI) {
			continue
		}
		parents[e.Destination] = append(parents[e.Destination], e.Source)
		if types[e.Source] == graphdoc.NodeBranch && types[e.Destination] == graphdoc.NodeBranch {
			branchChildren[e.Source] = append(branchChildren[e.Source], e.Destination)
		}
	}

	// descendants[b] holds every Branch reachable from b over
	// branch_branch edges.
	descendants := make(map[string]map[string]bool)
	for _, b := range res.NodesByType[graphdoc.NodeBranch] {
		seen := make(map[string]bool)
		queue := slices.Clone(branchChildren[b])
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, branchChildren[next]...)
		}
		descendants[b] = seen
	}

	rootGroup := resolve(res.RootURI)
	groups := make(map[string]string, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.URI == res.RootURI {
			groups[n.URI] = rootGroup
			continue
		}
		group, err := nearestBranch(n.URI, parents[n.URI], types, descendants, rootGroup)
		if err != nil {
			return nil, err
		}
		groups[n.URI] = group
	}

	for i := range doc.Nodes {
		doc.Nodes[i].GraphGroup = graphGroup
		doc.Nodes[i].BranchGroup = groups[doc.Nodes[i].URI]
	}
	for i := range doc.Edges {
		e := &doc.Edges[i]
		e.GraphGroup = graphGroup
		switch {
		case res.IsParentLink(e.URI):
			e.BranchGroup = rootGroup
		case types[e.Source] == graphdoc.NodeBranch:
			e.BranchGroup = e.Source
		default:
			e.BranchGroup = groups[e.Source]
		}
	}
	return doc, nil
}

// nearestBranch picks the branch_group of a node from its direct parents.
// Parents that are not Branches contribute the enclosing group. Among
// Branch parents, one nested inside all the others wins.
func nearestBranch(uri string, parents []string, types map[string]graphdoc.NodeType, descendants map[string]map[string]bool, rootGroup string) (string, error) {
	var candidates []string
	for _, p := range parents {
		if types[p] == graphdoc.NodeBranch && !slices.Contains(candidates, p) {
			candidates = append(candidates, p)
		}
	}
	switch len(candidates) {
	case 0:
		return rootGroup, nil
	case 1:
		return candidates[0], nil
	}

	for _, c := range candidates {
		nearest := true
		for _, other := range candidates {
			if other == c {
				continue
			}
			if !descendants[other][c] || descendants[c][other] {
				nearest = false
				break
			}
		}
		if nearest {
			return c, nil
		}
	}

	slices.Sort(candidates)
	return "", &Error{URI: uri, Branches: candidates}
}
