// Package diagnostics finds and removes structural drift left in a scope
// by interrupted writes: children nobody points at, edges whose endpoints
// are gone, and ownership tags naming elements that no longer exist.
//
// Scan is read-only. Repair only deletes; it never reconnects or re-tags.
package diagnostics

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rand/docgraph/internal/graphdoc"
	"github.com/rand/docgraph/internal/triplestore"
)

// Category groups findings.
type Category string

const (
	CategoryOrphanedChild   Category = "orphaned_children"
	CategoryDanglingEdge    Category = "dangling_edges"
	CategoryInconsistentTag Category = "inconsistent_tags"
)

// Categories lists every category in report order.
var Categories = []Category{CategoryOrphanedChild, CategoryDanglingEdge, CategoryInconsistentTag}

// Finding is one drifted element.
type Finding struct {
	URI      string   `json:"uri"`
	Type     string   `json:"type"`
	Category Category `json:"category"`
	Reason   string   `json:"reason"`
}

// DriftReport is the result of one scan.
type DriftReport struct {
	Scope            string    `json:"scope"`
	ScannedAt        time.Time `json:"scanned_at"`
	Subjects         int       `json:"subjects"`
	OrphanedChildren []Finding `json:"orphaned_children"`
	DanglingEdges    []Finding `json:"dangling_edges"`
	InconsistentTags []Finding `json:"inconsistent_tags"`
}

// Findings returns the findings of category c.
func (r *DriftReport) Findings(c Category) []Finding {
	switch c {
	case CategoryOrphanedChild:
		return r.OrphanedChildren
	case CategoryDanglingEdge:
		return r.DanglingEdges
	case CategoryInconsistentTag:
		return r.InconsistentTags
	}
	return nil
}

// Counts returns the number of findings per category.
func (r *DriftReport) Counts() map[Category]int {
	out := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		out[c] = len(r.Findings(c))
	}
	return out
}

// Total is the number of findings across categories.
func (r *DriftReport) Total() int {
	return len(r.OrphanedChildren) + len(r.DanglingEdges) + len(r.InconsistentTags)
}

// Clean reports whether the scan found nothing.
func (r *DriftReport) Clean() bool { return r.Total() == 0 }

// URIs returns the distinct flagged URIs, sorted.
func (r *DriftReport) URIs() []string {
	var out []string
	for _, c := range Categories {
		for _, f := range r.Findings(c) {
			out = append(out, f.URI)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// RepairError records a flagged URI that could not be deleted.
type RepairError struct {
	URI string `json:"uri"`
	Err string `json:"error"`
}

// RepairResult summarizes one repair pass.
type RepairResult struct {
	Scope   string           `json:"scope"`
	Deleted int              `json:"deleted"`
	Counts  map[Category]int `json:"counts"`
	Errors  []RepairError    `json:"errors,omitempty"`
}

// Observer receives scan and repair outcomes.
type Observer interface {
	ObserveScan(report *DriftReport)
	ObserveRepair(result *RepairResult)
}

// Scanner scans and repairs one store.
type Scanner struct {
	store    triplestore.Store
	observer Observer
	logger   *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithObserver reports outcomes to obs.
func WithObserver(obs Observer) Option {
	return func(s *Scanner) { s.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.SetLogger(l) }
}

// New creates a scanner over store.
func New(store triplestore.Store, opts ...Option) *Scanner {
	s := &Scanner{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger sets the logger for scan output.
func (s *Scanner) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	s.logger = l
}

// inventory is every typed element of a scope.
type inventory struct {
	nodes map[string]*graphdoc.Node
	edges []*graphdoc.Edge
	total int
}

var typeObjects = []string{
	graphdoc.NodeTypeObject(graphdoc.NodeRoot),
	graphdoc.NodeTypeObject(graphdoc.NodeBranch),
	graphdoc.NodeTypeObject(graphdoc.NodeLeaf),
	graphdoc.EdgeTypeObject(graphdoc.EdgeRootBranch),
	graphdoc.EdgeTypeObject(graphdoc.EdgeBranchBranch),
	graphdoc.EdgeTypeObject(graphdoc.EdgeBranchLeaf),
}

func (s *Scanner) load(ctx context.Context, scope string) (*inventory, error) {
	inv := &inventory{nodes: make(map[string]*graphdoc.Node)}
	seen := make(map[string]bool)

	for _, typ := range typeObjects {
		subjects, err := s.store.SubjectsOfType(ctx, scope, typ)
		if err != nil {
			return nil, fmt.Errorf("list %s subjects: %w", typ, err)
		}
		for _, subject := range subjects {
			if seen[subject] {
				continue
			}
			seen[subject] = true

			ts, err := s.store.FetchSubjectTriples(ctx, scope, subject)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", subject, err)
			}
			el, err := graphdoc.Decode(subject, ts)
			if err != nil {
				s.logger.WarnContext(ctx, "skipping undecodable subject", "scope", scope, "subject", subject, "error", err)
				continue
			}
			inv.total++
			if el.Node != nil {
				inv.nodes[subject] = el.Node
			} else {
				inv.edges = append(inv.edges, el.Edge)
			}
		}
	}
	return inv, nil
}

// Scan sweeps scope and reports every drifted element. It writes nothing.
func (s *Scanner) Scan(ctx context.Context, scope string) (*DriftReport, error) {
	started := time.Now()
	inv, err := s.load(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", scope, err)
	}

	report := &DriftReport{
		Scope:     scope,
		ScannedAt: started.UTC(),
		Subjects:  inv.total,
	}

	// parented holds the nodes with at least one well-typed edge from a
	// live node of the right type.
	parented := make(map[string]bool)
	for _, e := range inv.edges {
		if reason := danglingReason(e, inv.nodes); reason != "" {
			report.DanglingEdges = append(report.DanglingEdges, Finding{
				URI: e.URI, Type: string(e.Type), Category: CategoryDanglingEdge, Reason: reason,
			})
			continue
		}
		wantSrc, wantDst, _ := graphdoc.AllowedEdge(e.Type)
		if inv.nodes[e.Source].Type == wantSrc && inv.nodes[e.Destination].Type == wantDst {
			parented[e.Destination] = true
		}
	}

	for uri, n := range inv.nodes {
		if n.Type == graphdoc.NodeRoot || parented[uri] {
			continue
		}
		report.OrphanedChildren = append(report.OrphanedChildren, Finding{
			URI: uri, Type: string(n.Type), Category: CategoryOrphanedChild,
			Reason: fmt.Sprintf("no incoming edge to %s from a live parent", n.Type),
		})
	}

	for uri, n := range inv.nodes {
		if reason := tagReason(n.GraphGroup, n.BranchGroup, inv.nodes); reason != "" {
			report.InconsistentTags = append(report.InconsistentTags, Finding{
				URI: uri, Type: string(n.Type), Category: CategoryInconsistentTag, Reason: reason,
			})
		}
	}
	for _, e := range inv.edges {
		if reason := tagReason(e.GraphGroup, e.BranchGroup, inv.nodes); reason != "" {
			report.InconsistentTags = append(report.InconsistentTags, Finding{
				URI: e.URI, Type: string(e.Type), Category: CategoryInconsistentTag, Reason: reason,
			})
		}
	}

	for _, c := range Categories {
		slices.SortFunc(report.Findings(c), func(a, b Finding) int { return cmp.Compare(a.URI, b.URI) })
	}

	s.logger.InfoContext(ctx, "scan finished",
		"scope", scope,
		"subjects", inv.total,
		"orphaned_children", len(report.OrphanedChildren),
		"dangling_edges", len(report.DanglingEdges),
		"inconsistent_tags", len(report.InconsistentTags),
		"duration", time.Since(started))
	if s.observer != nil {
		s.observer.ObserveScan(report)
	}
	return report, nil
}

func danglingReason(e *graphdoc.Edge, nodes map[string]*graphdoc.Node) string {
	switch {
	case e.Source == "":
		return "edge has no source"
	case e.Destination == "":
		return "edge has no destination"
	case nodes[e.Source] == nil:
		return fmt.Sprintf("source %s does not exist", e.Source)
	case nodes[e.Destination] == nil:
		return fmt.Sprintf("destination %s does not exist", e.Destination)
	}
	return ""
}

func tagReason(graphGroup, branchGroup string, nodes map[string]*graphdoc.Node) string {
	switch {
	case graphGroup == "":
		return "missing graph_group"
	case nodes[graphGroup] == nil || nodes[graphGroup].Type != graphdoc.NodeRoot:
		return fmt.Sprintf("graph_group %s is not a live root", graphGroup)
	case branchGroup != "" && (nodes[branchGroup] == nil || nodes[branchGroup].Type != graphdoc.NodeBranch):
		return fmt.Sprintf("branch_group %s is not a live branch", branchGroup)
	}
	return ""
}

// Repair deletes every URI flagged in report. Deletion failures are
// collected per URI and do not stop the pass. The returned error is set
// only when report does not belong to scope.
func (s *Scanner) Repair(ctx context.Context, scope string, report *DriftReport) (*RepairResult, error) {
	if report == nil {
		return nil, fmt.Errorf("repair %s: no report", scope)
	}
	if report.Scope != scope {
		return nil, fmt.Errorf("repair %s: report was taken for scope %s", scope, report.Scope)
	}

	res := &RepairResult{Scope: scope, Counts: make(map[Category]int, len(Categories))}
	deleted := make(map[string]bool)
	for _, uri := range report.URIs() {
		if err := s.store.DeleteTriples(ctx, scope, []string{uri}); err != nil {
			res.Errors = append(res.Errors, RepairError{URI: uri, Err: err.Error()})
			s.logger.WarnContext(ctx, "repair delete failed", "scope", scope, "uri", uri, "error", err)
			continue
		}
		deleted[uri] = true
		res.Deleted++
	}
	for _, c := range Categories {
		for _, f := range report.Findings(c) {
			if deleted[f.URI] {
				res.Counts[c]++
			}
		}
	}

	s.logger.InfoContext(ctx, "repair finished",
		"scope", scope, "deleted", res.Deleted, "errors", len(res.Errors))
	if s.observer != nil {
		s.observer.ObserveRepair(res)
	}
	return res, nil
}

// RepairUntilClean alternates scan and repair until a scan comes back
// clean or passes runs out. Each repair can orphan the children of what
// it removed, so one pass is not always enough.
func (s *Scanner) RepairUntilClean(ctx context.Context, scope string, passes int) (*DriftReport, []*RepairResult, error) {
	var results []*RepairResult
	for range max(passes, 1) {
		report, err := s.Scan(ctx, scope)
		if err != nil {
			return nil, results, err
		}
		if report.Clean() {
			return report, results, nil
		}
		res, err := s.Repair(ctx, scope, report)
		if err != nil {
			return nil, results, err
		}
		results = append(results, res)
	}
	report, err := s.Scan(ctx, scope)
	return report, results, err
}
