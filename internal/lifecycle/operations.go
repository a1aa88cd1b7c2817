package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rand/docgraph/internal/graphdoc"
	"github.com/rand/docgraph/internal/journal"
)

// ModeGet names read-only document lookups in errors.
const ModeGet Mode = "get"

// Create inserts a new document. Every URI of the document must be new to
// the scope. With parentURI the document is attached below an existing
// Root or Branch and must carry the linking edge.
func (o *Orchestrator) Create(ctx context.Context, scope string, doc *graphdoc.Document, parentURI string) (Result, error) {
	op := o.begin(ModeCreate, scope)
	return op.finish(ctx, op.create(ctx, doc, parentURI))
}

func (op *operation) create(ctx context.Context, doc *graphdoc.Document, parentURI string) error {
	res, err := op.validateDocument(ctx, doc, parentURI)
	if err != nil {
		return err
	}

	if err := op.assertNoneExist(ctx, res.URIs(), nil); err != nil {
		return err
	}
	if err := op.step(ctx, eventCheck); err != nil {
		return err
	}

	tagged, err := op.attach(ctx, res, parentURI, nil)
	if err != nil {
		return err
	}
	if err := op.step(ctx, eventTag); err != nil {
		return err
	}

	if err := op.o.store.InsertTriples(ctx, op.scope, graphdoc.ToTriples(tagged)); err != nil {
		lerr := op.fail(KindPersistence, fmt.Errorf("insert document: %w", err), nil)
		lerr.PartiallyApplied = true
		return lerr
	}
	op.countDocument(tagged)
	return op.step(ctx, eventInsert)
}

// Update replaces an existing document with doc. The prior version is
// snapshotted and restored if the replace fails part way.
func (o *Orchestrator) Update(ctx context.Context, scope string, doc *graphdoc.Document, parentURI string) (Result, error) {
	op := o.begin(ModeUpdate, scope)
	return op.finish(ctx, op.replace(ctx, doc, parentURI))
}

// Upsert creates doc, or replaces it when its root already exists. Prior
// edges marked retain_on_replace survive the replace.
func (o *Orchestrator) Upsert(ctx context.Context, scope string, doc *graphdoc.Document, parentURI string) (Result, error) {
	op := o.begin(ModeUpsert, scope)
	return op.finish(ctx, op.replace(ctx, doc, parentURI))
}

// replace implements update and upsert.
func (op *operation) replace(ctx context.Context, doc *graphdoc.Document, parentURI string) error {
	res, err := op.validateDocument(ctx, doc, parentURI)
	if err != nil {
		return err
	}
	rootType := graphdoc.NodeRoot
	if parentURI != "" {
		rootType = graphdoc.NodeBranch
	}

	exists, err := op.rootExists(ctx, rootType)
	if err != nil {
		return err
	}
	if !exists && op.mode == ModeUpdate {
		return op.fail(KindNotFound, fmt.Errorf("%s %s does not exist", rootType, op.rootURI), []string{op.rootURI})
	}

	var prior []graphdoc.Triple
	var incoming []graphdoc.Edge
	if exists {
		if prior, err = op.priorVersion(ctx, op.rootURI, rootType); err != nil {
			return err
		}
		if parentURI != "" {
			var incomingTriples []graphdoc.Triple
			if incoming, incomingTriples, err = op.incomingEdges(ctx, op.rootURI); err != nil {
				return err
			}
			// A resubmitted parent link replaces the stored one.
			if len(res.ParentLinks) > 0 {
				links := make(map[string]bool)
				for _, e := range incoming {
					if e.Source == parentURI {
						links[e.URI] = true
					}
				}
				for _, t := range incomingTriples {
					if links[t.Subject] {
						prior = append(prior, t)
					}
				}
				prior = graphdoc.SortTriples(prior)
			}
		}
	}

	replaced := toSet(graphdoc.Subjects(prior))
	if err := op.assertNoneExist(ctx, res.URIs(), replaced); err != nil {
		return err
	}
	if err := op.step(ctx, eventCheck); err != nil {
		return err
	}

	tagged, err := op.attach(ctx, res, parentURI, incoming)
	if err != nil {
		return err
	}
	newTriples := graphdoc.ToTriples(tagged)

	if !exists {
		if err := op.step(ctx, eventTag); err != nil {
			return err
		}
		if err := op.o.store.InsertTriples(ctx, op.scope, newTriples); err != nil {
			lerr := op.fail(KindPersistence, fmt.Errorf("insert document: %w", err), nil)
			lerr.PartiallyApplied = true
			return lerr
		}
		op.countDocument(tagged)
		return op.step(ctx, eventInsert)
	}

	snap, err := op.backup(ctx, prior)
	if err != nil {
		return err
	}

	// A retained edge the new document declares again is replaced by the
	// new version.
	var retained map[string]bool
	if op.mode == ModeUpsert {
		retained = retainedSubjects(prior)
		for _, uri := range tagged.URIs() {
			delete(retained, uri)
		}
	}
	var doomed []string
	for _, s := range snap.Subjects {
		if !retained[s] {
			doomed = append(doomed, s)
		}
	}

	if err := op.o.store.DeleteTriples(ctx, op.scope, doomed); err != nil {
		return op.rollback(ctx, snap, nil, fmt.Errorf("delete prior version: %w", err))
	}
	if err := op.step(ctx, eventClear); err != nil {
		return err
	}
	if err := op.step(ctx, eventTag); err != nil {
		return err
	}

	if err := op.o.store.InsertTriples(ctx, op.scope, newTriples); err != nil {
		return op.rollback(ctx, snap, tagged.URIs(), fmt.Errorf("insert document: %w", err))
	}
	op.countDocument(tagged)
	if err := op.step(ctx, eventInsert); err != nil {
		return err
	}
	op.finishJournal(ctx, journal.StatusCommitted, "")
	return nil
}

// Delete removes the document rooted at rootURI together with the edge
// linking it to its parent, if any.
func (o *Orchestrator) Delete(ctx context.Context, scope, rootURI string) (Result, error) {
	op := o.begin(ModeDelete, scope)
	return op.finish(ctx, op.delete(ctx, rootURI))
}

func (op *operation) delete(ctx context.Context, rootURI string) error {
	op.setRoot(rootURI)

	root, err := op.loadRoot(ctx, rootURI)
	if err != nil {
		return err
	}

	prior, err := op.priorVersion(ctx, rootURI, root.Type)
	if err != nil {
		return err
	}
	incoming, incomingTriples, err := op.incomingEdges(ctx, rootURI)
	if err != nil {
		return err
	}
	graphGroup := root.GraphGroup
	if graphGroup == "" && root.Type == graphdoc.NodeRoot {
		graphGroup = rootURI
	}
	links := make(map[string]bool)
	for _, e := range incoming {
		if e.GraphGroup == graphGroup {
			links[e.URI] = true
		}
	}
	for _, t := range incomingTriples {
		if links[t.Subject] {
			prior = append(prior, t)
		}
	}
	if err := op.step(ctx, eventCheck); err != nil {
		return err
	}

	snap, err := op.backup(ctx, prior)
	if err != nil {
		return err
	}
	if err := op.o.store.DeleteTriples(ctx, op.scope, snap.Subjects); err != nil {
		return op.rollback(ctx, snap, nil, fmt.Errorf("delete document: %w", err))
	}
	op.countSnapshot(snap)
	if err := op.step(ctx, eventClear); err != nil {
		return err
	}
	op.finishJournal(ctx, journal.StatusCommitted, "")
	return nil
}

// loadRoot decodes the top node of a stored document.
func (op *operation) loadRoot(ctx context.Context, rootURI string) (*graphdoc.Node, error) {
	ts, err := op.o.store.FetchSubjectTriples(ctx, op.scope, rootURI)
	if err != nil {
		return nil, op.fail(KindPersistence, fmt.Errorf("fetch root: %w", err), nil)
	}
	if len(ts) == 0 {
		return nil, op.fail(KindNotFound, fmt.Errorf("%s does not exist", rootURI), []string{rootURI})
	}
	el, err := graphdoc.Decode(rootURI, ts)
	if err != nil {
		return nil, op.fail(KindValidation, err, []string{rootURI})
	}
	if el.Node == nil || el.Node.Type == graphdoc.NodeLeaf {
		return nil, op.fail(KindValidation, fmt.Errorf("%s is not a root or branch", rootURI), []string{rootURI})
	}
	return el.Node, nil
}

// Recover re-applies the snapshot of a journal entry left pending by an
// interrupted operation, removing whatever the interrupted attempt wrote.
func (o *Orchestrator) Recover(ctx context.Context, scope, entryID string) (Result, error) {
	op := o.begin(ModeRecover, scope)
	return op.finish(ctx, op.recover(ctx, entryID))
}

func (op *operation) recover(ctx context.Context, entryID string) error {
	if op.o.journal == nil {
		return op.fail(KindNotFound, errors.New("journal is not enabled"), nil)
	}

	entry, err := op.o.journal.Get(ctx, entryID)
	if journal.IsNotFound(err) || (err == nil && entry.Scope != op.scope) {
		return op.fail(KindNotFound, fmt.Errorf("journal entry %s not found in scope %s", entryID, op.scope), []string{entryID})
	}
	if err != nil {
		return op.fail(KindPersistence, fmt.Errorf("read journal: %w", err), nil)
	}
	op.setRoot(entry.RootURI)
	if entry.Status != journal.StatusPending {
		return op.fail(KindConflict, fmt.Errorf("journal entry %s is %s", entryID, entry.Status), []string{entryID})
	}
	if entry.Snapshot == nil || entry.Snapshot.Empty() {
		return op.fail(KindConflict, fmt.Errorf("journal entry %s has no snapshot", entryID), []string{entryID})
	}
	op.entry = entry
	snap := entry.Snapshot

	rootType := graphdoc.NodeRoot
	for _, t := range snap.Triples {
		if t.Subject == snap.RootURI && t.Predicate == graphdoc.PredType {
			if nt, _, ok := graphdoc.ParseTypeObject(t.Object); ok && nt != "" {
				rootType = nt
			}
		}
	}
	current, err := op.priorVersion(ctx, snap.RootURI, rootType)
	if err != nil {
		return err
	}
	if err := op.step(ctx, eventCheck); err != nil {
		return err
	}

	verified, err := op.restore(ctx, snap, graphdoc.Subjects(current))
	if err != nil {
		lerr := op.fail(KindPersistence, err, nil)
		lerr.PartiallyApplied = true
		return lerr
	}
	op.countSnapshot(snap)

	message := "recovered"
	if !verified {
		message = "recovered, verification mismatch"
		op.log.WarnContext(ctx, "recovered content does not match snapshot")
	}
	op.finishJournal(ctx, journal.StatusRecovered, message)
	return nil
}

// Get reassembles the stored document rooted at rootURI from its tags.
func (o *Orchestrator) Get(ctx context.Context, scope, rootURI string) (*graphdoc.Document, error) {
	op := o.begin(ModeGet, scope)
	op.setRoot(rootURI)

	root, err := op.loadRoot(ctx, rootURI)
	if err != nil {
		return nil, err
	}
	ts, err := op.priorVersion(ctx, rootURI, root.Type)
	if err != nil {
		return nil, err
	}
	doc, err := graphdoc.FromTriples(ts)
	if err != nil {
		return nil, op.fail(KindValidation, fmt.Errorf("decode document: %w", err), nil)
	}
	return doc, nil
}
