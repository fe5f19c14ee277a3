package orm

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

var ormLog = log.WithField("component", "orm")

// stackItem is one (shape, subjects-to-validate) unit of work on the
// Phase 2 LIFO stack (spec section 4.9.2).
type stackItem struct {
	shapeIRI string
	subjects []gsKey
}

// Engine drives quad ingestion for a single Subscription.
type Engine struct {
	sub *Subscription

	// MaxStackIterations bounds the Phase 2 stack loop. Left at zero,
	// maxIterations uses a default of 100 * max(1, len(schema)) on every
	// Phase 2 call (Open Question OQ1: made configurable rather than a
	// hard 100, per the spec's own suggested proof sketch).
	MaxStackIterations int

	// fetch, when set, lets Ingest recursively ingest quads returned by a
	// CONSTRUCT query scoped to specific child subjects (spec section
	// 4.9.2 step 4, NeedsFetch). Tests may leave this nil: in a
	// closed-world ingestion nothing sets NeedsFetch.
	fetch FetchFunc

	currentlyValidating map[ormKey]bool
	changes             map[gsKey]*subjectChanges

	// applied marks the (shape, subject) pairs that have already had step
	// 2 (apply quads) and step 3 (reconcile links) run against them during
	// the current Ingest call. A TORMO can be pushed back onto the stack
	// multiple times in one pass — as a NeedsReeval self-reschedule, or by
	// a child/parent revalidation — but the quads themselves must only be
	// applied once (spec section 4.9.2 step 2: "Apply quads once"); without
	// this guard a second visit would double-count every literal.
	applied map[ormKey]bool
}

// FetchFunc executes a CONSTRUCT query (spec section 4.8) scoped to the
// given child subjects within shapeIRI and returns the resulting quads.
type FetchFunc func(shapeIRI string, subjects []gsKey) ([]Quad, error)

// NewEngine builds an ingestion engine over sub. fetch may be nil.
func NewEngine(sub *Subscription, fetch FetchFunc) *Engine {
	return &Engine{sub: sub, fetch: fetch}
}

func (e *Engine) maxIterations() int {
	if e.MaxStackIterations > 0 {
		return e.MaxStackIterations
	}
	n := len(e.sub.Schema)
	if n < 1 {
		n = 1
	}
	return 100 * n
}

// Ingest runs the full Phase 1 (group-and-seed) + Phase 2 (stack-based
// validation) algorithm of spec section 4.9.2 over added/removed quads,
// returning the accumulated per-subject changes for diff emission.
func (e *Engine) Ingest(added, removed []Quad) (map[gsKey]*subjectChanges, error) {
	e.changes = make(map[gsKey]*subjectChanges)
	e.currentlyValidating = make(map[ormKey]bool)
	e.applied = make(map[ormKey]bool)

	stack := e.phase1(added, removed)
	if err := e.phase2(stack, added, removed, false); err != nil {
		return nil, err
	}
	return e.changes, nil
}

// phase1 groups added/removed quads by (graph, subject) and seeds the
// initial stack: the root shape is scheduled against every modified
// subject, and any modified subject already tracked as some shape's
// nested child is additionally scheduled against each referencing shape
// (spec section 4.9.2 Phase 1).
func (e *Engine) phase1(added, removed []Quad) []stackItem {
	modified := make(map[gsKey]bool)
	for _, q := range added {
		modified[gsKey{Graph: q.Graph, Subject: q.Subject}] = true
	}
	for _, q := range removed {
		modified[gsKey{Graph: q.Graph, Subject: q.Subject}] = true
	}

	byShape := make(map[string][]gsKey)
	for key := range modified {
		byShape[e.sub.ShapeType] = append(byShape[e.sub.ShapeType], key)
		if shapes, ok := e.sub.nestedSubjects[key]; ok {
			for shapeIRI := range shapes {
				if shapeIRI == e.sub.ShapeType {
					continue
				}
				byShape[shapeIRI] = append(byShape[shapeIRI], key)
			}
		}
	}

	shapeIRIs := make([]string, 0, len(byShape))
	for shapeIRI := range byShape {
		shapeIRIs = append(shapeIRIs, shapeIRI)
	}
	sort.Strings(shapeIRIs)

	stack := make([]stackItem, 0, len(shapeIRIs))
	for _, shapeIRI := range shapeIRIs {
		subs := byShape[shapeIRI]
		sort.Slice(subs, func(i, j int) bool {
			if subs[i].Graph != subs[j].Graph {
				return subs[i].Graph < subs[j].Graph
			}
			return subs[i].Subject < subs[j].Subject
		})
		stack = append(stack, stackItem{shapeIRI: shapeIRI, subjects: subs})
	}
	return stack
}

// phase2 drains the stack, applying quads and validating each item's
// subjects in turn, pushing newly-discovered work as it is found (spec
// section 4.9.2 Phase 2). dataAlreadyFetched distinguishes the top-level
// call from a recursive call made after a NeedsFetch CONSTRUCT round-trip,
// preventing infinite re-fetching.
func (e *Engine) phase2(stack []stackItem, added, removed []Quad, dataAlreadyFetched bool) error {
	iterations := 0
	maxIter := e.maxIterations()

	for len(stack) > 0 {
		iterations++
		if iterations > maxIter {
			panic(fmt.Sprintf("orm: stack-based validation exceeded %d iterations", maxIter))
		}

		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		shape, ok := e.sub.Schema[item.shapeIRI]
		if !ok {
			ormLog.WithField("shape", item.shapeIRI).Warn("validation item references unknown shape, dropping")
			continue
		}

		for _, subj := range item.subjects {
			more, err := e.processSubject(shape, subj, added, removed, dataAlreadyFetched)
			if err != nil {
				return err
			}
			stack = append(stack, more...)
		}
	}
	return nil
}

// processSubject runs steps 1-4 of spec section 4.9.2 for one (shape,
// subject) pair, returning any further stack work it discovered (children
// pushed first, then self re-eval, then parents).
func (e *Engine) processSubject(shape *Shape, subj gsKey, added, removed []Quad, dataAlreadyFetched bool) ([]stackItem, error) {
	vk := ormKey{shapeIRI: shape.IRI, gsKey: subj}

	t := e.lookupOrCreate(subj, shape.IRI)
	wasValid := t.valid == StateValid

	// Step 1: cycle guard.
	if e.currentlyValidating[vk] {
		t.valid = StateInvalid
		t.clearPredicates()
		return nil, nil
	}
	e.currentlyValidating[vk] = true
	defer delete(e.currentlyValidating, vk)

	// Steps 2-3 run at most once per (shape, subject) per Ingest call. A
	// later revisit (self re-schedule on NeedsReeval, or a parent/child
	// bouncing back) only re-runs step 4 against state already applied.
	var reval []ormKey
	if !e.applied[vk] {
		e.applied[vk] = true

		// Step 2: apply quads once.
		e.applyQuads(t, shape, subj, added, removed)

		// Step 3: reconcile links.
		var err error
		reval, err = e.reconcileLinks(t, shape, subj, added, removed)
		if err != nil {
			return nil, err
		}
	}

	// Step 4: validate.
	result := e.validate(t, shape)

	var more []stackItem
	switch result.outcome {
	case outcomeValid:
		if !wasValid {
			e.noteChange(subj).created = true
		}
	case outcomeInvalid:
		t.valid = StateInvalid
		t.clearPredicates()
		if wasValid {
			// Valid -> Invalid cascades a removal from every root path
			// that reached it, unless a parent is also being deleted
			// (suppressed to avoid double-remove); see spec section
			// 4.9.3.
			parentBeingDeleted := false
			for parent := range t.parents {
				if pc, ok := e.changes[parent.key]; ok && pc.deletedThisPass {
					parentBeingDeleted = true
					break
				}
			}
			if !parentBeingDeleted {
				e.noteChange(subj).deletedThisPass = true
			}
		}
		for parent := range t.parents {
			if parent == t {
				// A self-reference was already re-evaluated by this very
				// call; rescheduling it as "its own parent" would just
				// repeat the same Invalid outcome forever.
				continue
			}
			more = append(more, stackItem{shapeIRI: parent.shape, subjects: []gsKey{parent.key}})
		}
	case outcomeNeedsReeval:
		if result.needsFetch && e.fetch != nil && !dataAlreadyFetched {
			byShape := make(map[string][]gsKey)
			for _, child := range result.needyChildren {
				byShape[child.shapeIRI] = append(byShape[child.shapeIRI], child.gsKey)
			}
			for childShapeIRI, subjects := range byShape {
				fetched, ferr := e.fetch(childShapeIRI, subjects)
				if ferr != nil {
					return nil, ferr
				}
				if len(fetched) > 0 {
					if err := e.phase2([]stackItem{{shapeIRI: childShapeIRI, subjects: subjects}}, fetched, nil, true); err != nil {
						return nil, err
					}
				}
			}
		}
		for _, child := range result.needyChildren {
			more = append(more, stackItem{shapeIRI: child.shapeIRI, subjects: []gsKey{child.gsKey}})
		}
		more = append(more, stackItem{shapeIRI: shape.IRI, subjects: []gsKey{subj}})
		for parent := range t.parents {
			if parent == t {
				continue
			}
			more = append(more, stackItem{shapeIRI: parent.shape, subjects: []gsKey{parent.key}})
		}
	}

	for _, pair := range reval {
		more = append(more, stackItem{shapeIRI: pair.shapeIRI, subjects: []gsKey{pair.gsKey}})
	}

	return more, nil
}

func (e *Engine) lookupOrCreate(key gsKey, shapeIRI string) *tormo {
	fk := ormKey{shapeIRI: shapeIRI, gsKey: key}
	if t, ok := e.sub.registry[fk]; ok {
		return t
	}
	t := newTormo(key, shapeIRI)
	if _, isRoot := e.sub.roots[fk]; isRoot {
		t.isRoot = true
	}
	e.sub.registry[fk] = t
	return t
}

// lookupTracked finds the tormo diff emission should report for a
// (graph, subject) pair that changed this pass, regardless of which shape
// it is tracked under. A subject can in principle be registered under more
// than one shape (Phase 1's root-shape scheduling visits every modified
// subject even when it turns out to be some other shape's child); the
// Valid entry, if any, is the one worth reporting, with a deterministic
// fallback otherwise so output never depends on map iteration order.
func (e *Engine) lookupTracked(key gsKey) (*tormo, bool) {
	var fallback *tormo
	var fallbackShape string
	for fk, t := range e.sub.registry {
		if fk.gsKey != key {
			continue
		}
		if t.valid == StateValid {
			return t, true
		}
		if fallback == nil || fk.shapeIRI < fallbackShape {
			fallback = t
			fallbackShape = fk.shapeIRI
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

func (e *Engine) noteChange(key gsKey) *subjectChanges {
	c, ok := e.changes[key]
	if !ok {
		c = newSubjectChanges(key)
		e.changes[key] = c
	}
	return c
}
