// Package lifecycle runs create, update, upsert and delete operations on
// graph documents over a store that offers no multi-statement atomicity.
//
// Every destructive step is preceded by a snapshot of the prior version.
// If a later step fails the snapshot is re-inserted and re-read to confirm
// the store is back where it started. The orchestrator takes no locks:
// callers that may write the same root concurrently must serialize those
// writes themselves.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rand/docgraph/internal/graphdoc"
	"github.com/rand/docgraph/internal/journal"
	"github.com/rand/docgraph/internal/tagging"
	"github.com/rand/docgraph/internal/triplestore"
	"github.com/rand/docgraph/internal/validate"
)

// Observer receives one call per finished operation.
type Observer interface {
	ObserveOperation(op Mode, status Status, elapsed time.Duration)
}

// Orchestrator executes lifecycle operations against a store.
type Orchestrator struct {
	store    triplestore.Store
	journal  journal.Journal
	observer Observer
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records destructive operations in j.
func WithJournal(j journal.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithObserver reports operation outcomes to obs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.SetLogger(l) }
}

// New creates an orchestrator over store.
func New(store triplestore.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetLogger sets the logger for operation output.
func (o *Orchestrator) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	o.logger = l
}

// operation carries the state of one call.
type operation struct {
	o       *Orchestrator
	id      string
	mode    Mode
	scope   string
	rootURI string
	log     *slog.Logger
	phases  *phaseMachine
	started time.Time
	entry   *journal.Entry

	nodes, edges int
}

func (o *Orchestrator) begin(mode Mode, scope string) *operation {
	op := &operation{
		o:       o,
		id:      uuid.New().String(),
		mode:    mode,
		scope:   scope,
		started: time.Now(),
	}
	op.log = o.logger.With("op_id", op.id, "scope", scope, "mode", string(mode))
	op.phases = newPhaseMachine(func() *slog.Logger { return op.log })
	return op
}

func (op *operation) setRoot(uri string) {
	op.rootURI = uri
	op.log = op.log.With("root_uri", uri)
}

func (op *operation) fail(kind Kind, err error, uris []string) *Error {
	return &Error{
		Kind:  kind,
		Op:    op.mode,
		URIs:  uris,
		Phase: op.phases.current(),
		Err:   err,
	}
}

func (op *operation) step(ctx context.Context, event string) error {
	if err := op.phases.advance(ctx, event); err != nil {
		return op.fail(KindPersistence, fmt.Errorf("phase %s: %s: %w", op.phases.current(), event, err), nil)
	}
	return nil
}

func (op *operation) finish(ctx context.Context, err error) (Result, error) {
	elapsed := time.Since(op.started)
	res := Result{
		OpID:      op.id,
		RootURI:   op.rootURI,
		NodeCount: op.nodes,
		EdgeCount: op.edges,
	}
	if op.entry != nil {
		res.JournalID = op.entry.ID
	}

	if err != nil {
		phase := op.phases.current()
		_ = op.phases.advance(ctx, eventFail)
		res.Status = StatusFailed
		res.Kind = KindOf(err)
		res.Message = err.Error()
		op.log.WarnContext(ctx, "operation failed",
			"kind", res.Kind, "phase", phase, "error", err, "duration", elapsed)
	} else {
		if cerr := op.phases.advance(ctx, eventComplete); cerr != nil {
			op.log.ErrorContext(ctx, "complete phase", "error", cerr)
		}
		res.Status = successStatus[op.mode]
		res.Message = fmt.Sprintf("%s %s: %d nodes, %d edges", res.Status, op.rootURI, op.nodes, op.edges)
		op.log.InfoContext(ctx, "operation finished",
			"status", res.Status, "nodes", op.nodes, "edges", op.edges, "duration", elapsed)
	}

	if op.o.observer != nil {
		op.o.observer.ObserveOperation(op.mode, res.Status, elapsed)
	}
	return res, err
}

func (op *operation) countDocument(doc *graphdoc.Document) {
	op.nodes, op.edges = len(doc.Nodes), len(doc.Edges)
}

func (op *operation) countSnapshot(snap *graphdoc.Snapshot) {
	op.nodes, op.edges = 0, 0
	for typeObj, ts := range snap.ByType() {
		switch nt, et, _ := graphdoc.ParseTypeObject(typeObj); {
		case nt != "":
			op.nodes += len(graphdoc.Subjects(ts))
		case et != "":
			op.edges += len(graphdoc.Subjects(ts))
		}
	}
}

// validateDocument checks doc structurally. A parent makes the document a
// sub-record whose top node is a Branch.
func (op *operation) validateDocument(ctx context.Context, doc *graphdoc.Document, parentURI string) (*validate.Result, error) {
	rootType := graphdoc.NodeRoot
	if parentURI != "" {
		rootType = graphdoc.NodeBranch
	}

	res, err := validate.Validate(doc, validate.Options{RootType: rootType, ParentURI: parentURI})
	if err != nil {
		var verr *validate.Error
		var uris []string
		if errors.As(err, &verr) {
			uris = verr.URIs
		}
		return nil, op.fail(KindValidation, err, uris)
	}

	op.setRoot(res.RootURI)
	if err := op.step(ctx, eventValidate); err != nil {
		return nil, err
	}
	return res, nil
}

// rootExists probes for the document root with the expected type.
func (op *operation) rootExists(ctx context.Context, rootType graphdoc.NodeType) (bool, error) {
	ok, err := op.o.store.Exists(ctx, op.scope, op.rootURI, graphdoc.NodeTypeObject(rootType))
	if err != nil {
		return false, op.fail(KindPersistence, fmt.Errorf("probe root: %w", err), nil)
	}
	return ok, nil
}

// assertNoneExist fails with a conflict if any uri outside except exists.
func (op *operation) assertNoneExist(ctx context.Context, uris []string, except map[string]bool) error {
	var hits []string
	for _, uri := range uris {
		if except[uri] {
			continue
		}
		ok, err := op.o.store.Exists(ctx, op.scope, uri, "")
		if err != nil {
			return op.fail(KindPersistence, fmt.Errorf("probe %s: %w", uri, err), nil)
		}
		if ok {
			hits = append(hits, uri)
		}
	}
	if len(hits) > 0 {
		return op.fail(KindConflict, fmt.Errorf("%d uri(s) already exist", len(hits)), hits)
	}
	return nil
}

type parentNode struct {
	uri        string
	typ        graphdoc.NodeType
	graphGroup string
}

func (op *operation) loadParent(ctx context.Context, parentURI string) (*parentNode, error) {
	ts, err := op.o.store.FetchSubjectTriples(ctx, op.scope, parentURI)
	if err != nil {
		return nil, op.fail(KindPersistence, fmt.Errorf("fetch parent: %w", err), nil)
	}
	if len(ts) == 0 {
		return nil, op.fail(KindNotFound, fmt.Errorf("parent %s does not exist", parentURI), []string{parentURI})
	}

	el, err := graphdoc.Decode(parentURI, ts)
	if err != nil || el.Node == nil || el.Node.Type == graphdoc.NodeLeaf {
		return nil, op.fail(KindInvalidParent, fmt.Errorf("%s cannot own a branch", parentURI), []string{parentURI})
	}

	graphGroup := el.Node.GraphGroup
	if graphGroup == "" && el.Node.Type == graphdoc.NodeRoot {
		graphGroup = parentURI
	}
	return &parentNode{uri: parentURI, typ: el.Node.Type, graphGroup: graphGroup}, nil
}

// incomingEdges decodes the stored edges whose destination is uri.
func (op *operation) incomingEdges(ctx context.Context, uri string) ([]graphdoc.Edge, []graphdoc.Triple, error) {
	ts, err := op.o.store.FetchByTag(ctx, op.scope, graphdoc.PredDestination, uri)
	if err != nil {
		return nil, nil, op.fail(KindPersistence, fmt.Errorf("fetch incoming edges: %w", err), nil)
	}
	var edges []graphdoc.Edge
	for _, subject := range graphdoc.Subjects(ts) {
		el, err := graphdoc.Decode(subject, ts)
		if err != nil || el.Edge == nil {
			// Drift; the scanner reports it.
			continue
		}
		edges = append(edges, *el.Edge)
	}
	return edges, ts, nil
}

// attach checks the link between the document root and its parent, then
// computes the tagged document. Without a parent only tags are computed.
// stored holds the edges into the root already in the store; it is only
// consulted when the document does not carry its own parent link.
func (op *operation) attach(ctx context.Context, res *validate.Result, parentURI string, stored []graphdoc.Edge) (*graphdoc.Document, error) {
	if parentURI == "" {
		return op.tag(res, res.RootURI, tagging.TopLevel)
	}

	parent, err := op.loadParent(ctx, parentURI)
	if err != nil {
		return nil, err
	}
	want, _ := graphdoc.EdgeTypeFor(parent.typ, graphdoc.NodeBranch)

	switch {
	case len(res.ParentLinks) > 0 || op.mode != ModeUpdate:
		if len(res.ParentLinks) != 1 {
			return nil, op.fail(KindInvalidParent,
				fmt.Errorf("want exactly one edge from %s to %s, found %d", parentURI, res.RootURI, len(res.ParentLinks)),
				res.ParentLinks)
		}
		link, _ := res.Document.Edge(res.ParentLinks[0])
		if link.Destination != res.RootURI {
			return nil, op.fail(KindInvalidParent,
				fmt.Errorf("parent link %s points at %s, not %s", link.URI, link.Destination, res.RootURI),
				[]string{link.URI})
		}
		if link.Type != want {
			return nil, op.fail(KindInvalidParent,
				fmt.Errorf("parent link %s is %s, want %s", link.URI, link.Type, want),
				[]string{link.URI})
		}
	default:
		found := slices.ContainsFunc(stored, func(e graphdoc.Edge) bool {
			return e.Source == parentURI && e.Type == want
		})
		if !found {
			return nil, op.fail(KindInvalidParent,
				fmt.Errorf("no %s edge from %s to %s in store", want, parentURI, res.RootURI),
				[]string{parentURI})
		}
	}

	if err := op.step(ctx, eventAttach); err != nil {
		return nil, err
	}
	return op.tag(res, parent.graphGroup, tagging.UnderParent(parent.uri, parent.typ))
}

// tag computes the grouping tags. It runs before any destructive step
// even though the tag phase is entered right before insert.
func (op *operation) tag(res *validate.Result, graphGroup string, resolve tagging.BranchGroupResolver) (*graphdoc.Document, error) {
	tagged, err := tagging.Propagate(res, graphGroup, resolve)
	if err != nil {
		var terr *tagging.Error
		var uris []string
		if errors.As(err, &terr) {
			uris = []string{terr.URI}
		}
		return nil, op.fail(KindValidation, err, uris)
	}
	return tagged, nil
}

// priorVersion collects the stored triples of the document rooted at
// rootURI by tag lookup. A Root owns its whole graph group; a Branch owns
// itself and everything tagged with it or with a Branch nested below it.
func (op *operation) priorVersion(ctx context.Context, rootURI string, rootType graphdoc.NodeType) ([]graphdoc.Triple, error) {
	own, err := op.o.store.FetchSubjectTriples(ctx, op.scope, rootURI)
	if err != nil {
		return nil, op.fail(KindPersistence, fmt.Errorf("fetch root: %w", err), nil)
	}
	triples := slices.Clone(own)
	branchType := graphdoc.NodeTypeObject(graphdoc.NodeBranch)

	if rootType == graphdoc.NodeRoot {
		ts, err := op.o.store.FetchByTag(ctx, op.scope, graphdoc.TagGraphGroup, rootURI)
		if err != nil {
			return nil, op.fail(KindPersistence, fmt.Errorf("fetch graph group: %w", err), nil)
		}
		return graphdoc.SortTriples(append(triples, ts...)), nil
	}

	collected := map[string]bool{rootURI: true}
	frontier := []string{rootURI}
	for len(frontier) > 0 {
		branch := frontier[0]
		frontier = frontier[1:]

		ts, err := op.o.store.FetchByTag(ctx, op.scope, graphdoc.TagBranchGroup, branch)
		if err != nil {
			return nil, op.fail(KindPersistence, fmt.Errorf("fetch branch group: %w", err), nil)
		}
		for _, t := range ts {
			if collected[t.Subject] {
				continue
			}
			triples = append(triples, t)
		}
		for _, subject := range graphdoc.Subjects(ts) {
			if collected[subject] {
				continue
			}
			collected[subject] = true
			if slices.Contains(ts, graphdoc.Triple{Subject: subject, Predicate: graphdoc.PredType, Object: branchType}) {
				frontier = append(frontier, subject)
			}
		}
	}
	return graphdoc.SortTriples(triples), nil
}

// backup snapshots triples and journals the snapshot before anything is
// deleted.
func (op *operation) backup(ctx context.Context, triples []graphdoc.Triple) (*graphdoc.Snapshot, error) {
	snap := graphdoc.NewSnapshot(op.scope, op.rootURI, triples)

	if op.o.journal != nil {
		entry := &journal.Entry{
			OpID:      op.id,
			Operation: string(op.mode),
			Scope:     op.scope,
			RootURI:   op.rootURI,
			Snapshot:  snap,
		}
		if err := op.o.journal.Begin(ctx, entry); err != nil {
			return nil, op.fail(KindPersistence, fmt.Errorf("journal backup: %w", err), nil)
		}
		op.entry = entry
	}

	if err := op.step(ctx, eventBackup); err != nil {
		// Nothing was deleted yet, so there is nothing to recover.
		op.finishJournal(ctx, journal.StatusFailed, err.Error())
		return nil, err
	}
	op.log.DebugContext(ctx, "backup taken", "subjects", len(snap.Subjects), "triples", len(snap.Triples))
	return snap, nil
}

func (op *operation) finishJournal(ctx context.Context, status journal.Status, message string) {
	if op.entry == nil {
		return
	}
	if err := op.o.journal.Finish(ctx, op.entry.ID, status, message); err != nil {
		op.log.WarnContext(ctx, "journal finish", "entry", op.entry.ID, "error", err)
	}
}

// restore removes every subject in snap and extra, re-inserts snap, and
// reads the snapshot subjects back to compare digests.
func (op *operation) restore(ctx context.Context, snap *graphdoc.Snapshot, extra []string) (bool, error) {
	subjects := slices.Concat(snap.Subjects, extra)
	slices.Sort(subjects)
	subjects = slices.Compact(subjects)

	if err := op.o.store.DeleteTriples(ctx, op.scope, subjects); err != nil {
		return false, fmt.Errorf("clear partial write: %w", err)
	}
	if err := op.o.store.InsertTriples(ctx, op.scope, snap.Triples); err != nil {
		return false, fmt.Errorf("reinsert snapshot: %w", err)
	}
	if err := op.step(ctx, eventRestore); err != nil {
		return false, err
	}

	var got []graphdoc.Triple
	for _, s := range snap.Subjects {
		ts, err := op.o.store.FetchSubjectTriples(ctx, op.scope, s)
		if err != nil {
			op.log.WarnContext(ctx, "restore verification read failed", "subject", s, "error", err)
			return false, nil
		}
		got = append(got, ts...)
	}
	verified := graphdoc.DigestTriples(got) == snap.Digest()
	if !verified {
		op.log.WarnContext(ctx, "restored content does not match snapshot")
	}
	return verified, nil
}

// rollback restores snap after a failed destructive step and builds the
// persistence error describing the outcome. When restore itself fails the
// journal entry stays pending so Recover can finish the job.
func (op *operation) rollback(ctx context.Context, snap *graphdoc.Snapshot, written []string, cause error) error {
	phase := op.phases.current()
	op.log.WarnContext(ctx, "restoring prior version", "phase", phase, "error", cause)

	verified, err := op.restore(ctx, snap, written)
	if err != nil {
		lerr := op.fail(KindPersistence, fmt.Errorf("%w; restore failed: %v", cause, err), nil)
		lerr.Phase = phase
		lerr.PartiallyApplied = true
		op.log.ErrorContext(ctx, "restore failed, store left inconsistent", "journal_entry", op.journalID(), "error", err)
		return lerr
	}

	lerr := op.fail(KindPersistence, cause, nil)
	lerr.Phase = phase
	lerr.RolledBack = true
	lerr.RestoreVerified = verified
	op.finishJournal(ctx, journal.StatusRolledBack, cause.Error())
	return lerr
}

func (op *operation) journalID() string {
	if op.entry == nil {
		return ""
	}
	return op.entry.ID
}

// retainedSubjects lists the prior-version edges marked retain_on_replace.
func retainedSubjects(triples []graphdoc.Triple) map[string]bool {
	out := make(map[string]bool)
	for _, t := range triples {
		if t.Predicate == graphdoc.PredRetain && t.Object == "true" {
			out[t.Subject] = true
		}
	}
	return out
}

func toSet(uris []string) map[string]bool {
	out := make(map[string]bool, len(uris))
	for _, u := range uris {
		out[u] = true
	}
	return out
}
