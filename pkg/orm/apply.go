package orm

// applyQuads adjusts t's tracked predicate state for every added/removed
// quad on subj matching one of shape's predicates, recording the delta in
// this pass's subjectChanges (spec section 4.9.2 step 2).
func (e *Engine) applyQuads(t *tormo, shape *Shape, subj gsKey, added, removed []Quad) {
	for _, q := range added {
		if q.Graph != subj.Graph || q.Subject != subj.Subject {
			continue
		}
		pred := findPredicate(shape, q.Predicate)
		if pred == nil {
			continue
		}
		e.applyOne(t, *pred, q, true, subj)
	}
	for _, q := range removed {
		if q.Graph != subj.Graph || q.Subject != subj.Subject {
			continue
		}
		pred := findPredicate(shape, q.Predicate)
		if pred == nil {
			continue
		}
		e.applyOne(t, *pred, q, false, subj)
	}
}

func findPredicate(shape *Shape, iri string) *Predicate {
	for i := range shape.Predicates {
		if shape.Predicates[i].PredicateIRI == iri {
			return &shape.Predicates[i]
		}
	}
	return nil
}

func (e *Engine) applyOne(t *tormo, pred Predicate, q Quad, isAdd bool, subj gsKey) {
	tp, ok := t.predicates[pred.ReadableName]
	if !ok {
		tp = newTrackedPredicate(pred)
		t.predicates[pred.ReadableName] = tp
	}

	change := e.noteChange(subj).predicate(pred.ReadableName)

	if q.ObjectIsLiteral {
		if isAdd {
			tp.currentLiterals[q.Object]++
			tp.currentCardinality++
			change.addedLiterals = append(change.addedLiterals, q.Object)
		} else {
			if tp.currentLiterals[q.Object] > 0 {
				tp.currentLiterals[q.Object]--
				if tp.currentLiterals[q.Object] == 0 {
					delete(tp.currentLiterals, q.Object)
				}
				tp.currentCardinality--
			}
			change.removedLiterals = append(change.removedLiterals, q.Object)
		}
		return
	}

	childKey := gsKey{Graph: q.Graph, Subject: q.Object}
	if isAdd {
		if _, exists := tp.trackedChildren[childKey]; !exists {
			tp.currentCardinality++
			change.addedChildren = append(change.addedChildren, childKey)
		}
	} else {
		if child, exists := tp.trackedChildren[childKey]; exists {
			delete(tp.trackedChildren, childKey)
			delete(child.parents, t)
			tp.currentCardinality--
			change.removedChildren = append(change.removedChildren, childKey)
		}
	}
}
