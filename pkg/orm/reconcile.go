package orm

import "sort"

// reconcileLinks resolves, for every object-valued reference added to t
// this pass, the child TORMO it should link to, trying candidate graphs in
// a deterministic order and linking bidirectionally on the first match
// (spec section 4.9.2 step 3).
//
// The candidate graph order — tracked graphs, then added-diff graphs, then
// removed-diff graphs, then the parent's own graph, each sorted, taking
// the first graph in which the target subject already exists — is
// preserved verbatim from the algorithm this engine is grounded on. Its
// correctness across overlays sharing the same subject IRI under
// different graphs is not obvious (a subject could legitimately exist in
// more than one graph with different content), but no alternative
// resolution rule is specified, so this heuristic is kept as observable
// behavior rather than replaced with something stricter. The parent's own
// graph is only the fallback entry at the end of this order, not a
// short-circuit — a subject already tracked (or touched by this pass)
// under a different graph must win over it.
func (e *Engine) reconcileLinks(t *tormo, shape *Shape, subj gsKey, added, removed []Quad) ([]ormKey, error) {
	var revalidate []ormKey

	for _, pred := range shape.ShapeTypedPredicates() {
		tp, ok := t.predicates[pred.ReadableName]
		if !ok {
			continue
		}
		change, hasChange := e.changes[subj]
		if !hasChange {
			continue
		}
		pc, ok := change.predicates[pred.ReadableName]
		if !ok {
			continue
		}

		for _, candidate := range pc.addedChildren {
			childShapeIRI, targetGraph, found := e.resolveChildGraph(candidate, pred, subj, added, removed)
			if !found {
				continue
			}
			resolvedKey := gsKey{Graph: targetGraph, Subject: candidate.Subject}
			child := e.lookupOrCreate(resolvedKey, childShapeIRI)
			tp.trackedChildren[resolvedKey] = child
			child.parents[t] = true
			if e.sub.nestedSubjects[resolvedKey] == nil {
				e.sub.nestedSubjects[resolvedKey] = make(map[string]bool)
			}
			e.sub.nestedSubjects[resolvedKey][childShapeIRI] = true
			revalidate = append(revalidate, ormKey{shapeIRI: childShapeIRI, gsKey: resolvedKey})
		}
	}

	return revalidate, nil
}

// resolveChildGraph picks the graph a newly-added child reference should
// resolve into, per the deterministic candidate order documented above. It
// returns the shape IRI to validate the child against, which is always the
// predicate's first candidate shape (the other candidate shapes are not
// tried), and the chosen graph.
func (e *Engine) resolveChildGraph(candidate gsKey, pred Predicate, parent gsKey, added, removed []Quad) (shapeIRI string, graph string, found bool) {
	candidates := pred.CandidateShapes()
	if len(candidates) == 0 {
		return "", "", false
	}
	shapeIRI = candidates[0]

	trackedGraphs := e.graphsWithSubject(candidate.Subject)
	addedGraphs := graphsInDiff(added, candidate.Subject)
	removedGraphs := graphsInDiff(removed, candidate.Subject)

	order := make([]string, 0, len(trackedGraphs)+len(addedGraphs)+len(removedGraphs)+1)
	order = append(order, trackedGraphs...)
	order = append(order, addedGraphs...)
	order = append(order, removedGraphs...)
	order = append(order, parent.Graph)

	return shapeIRI, order[0], true
}

func (e *Engine) graphsWithSubject(subject string) []string {
	seen := make(map[string]bool)
	for key := range e.sub.registry {
		if key.Subject == subject {
			seen[key.Graph] = true
		}
	}
	return sortedKeys(seen)
}

func graphsInDiff(quads []Quad, subject string) []string {
	seen := make(map[string]bool)
	for _, q := range quads {
		if q.Subject == subject {
			seen[q.Graph] = true
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
