// Package orm implements Module I: the reactive ORM subscription engine
// that projects a live RDF quad stream into tracked JSON objects and emits
// JSON-Patch deltas as the underlying graph changes (spec section 4.9).
package orm

import (
	"github.com/google/uuid"
	"github.com/nextgraph-org/ng-verifier-core/pkg/shapequery"
)

// Quad is one RDF statement flowing through the engine.
type Quad struct {
	Graph     string
	Subject   string
	Predicate string
	Object    string
	// ObjectIsLiteral distinguishes an object-position IRI (a link to
	// another subject) from a literal value.
	ObjectIsLiteral bool
}

// ValidState is the lifecycle state of a TrackedOrmObject (spec section
// 4.9.1).
type ValidState uint8

const (
	StatePending ValidState = iota
	StateValid
	StateInvalid
	StateToDelete
	StateUntracked
)

func (s ValidState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateValid:
		return "Valid"
	case StateInvalid:
		return "Invalid"
	case StateToDelete:
		return "ToDelete"
	case StateUntracked:
		return "Untracked"
	default:
		return "Unknown"
	}
}

// gsKey identifies a subject within a graph, the (graph, subject) pair
// used throughout the ingestion algorithm as the unit of tracking.
type gsKey struct {
	Graph   string
	Subject string
}

// ormKey identifies one TORMO: a (shape, graph, subject) triple (spec
// section 4.9.2 step 1: "If (shape, graph, subject) is in
// currently_validating"). The same subject tracked against two different
// shapes — for instance while Phase 1's blanket root-shape scheduling
// visits a subject that turns out to actually be some predicate's
// differently-shaped child — is two distinct TORMOs, not one; keying the
// registry by gsKey alone would let the wrong one's stale shape/state
// leak into the other.
type ormKey struct {
	shapeIRI string
	gsKey
}

// trackedPredicate is one predicate's tracked state on a TORMO: a literal
// multiset (for literal-kind data types) and/or a set of child TORMOs (for
// shape-kind data types).
type trackedPredicate struct {
	def Predicate

	// currentLiterals counts occurrences of each literal value observed
	// for this predicate (a multiset, since the same literal may be
	// asserted more than once across added quads before a matching
	// removal).
	currentLiterals map[string]int

	// trackedChildren holds the object-valued children linked through
	// this predicate, keyed by (graph, subject).
	trackedChildren map[gsKey]*tormo

	currentCardinality int
}

func newTrackedPredicate(def Predicate) *trackedPredicate {
	return &trackedPredicate{
		def:             def,
		currentLiterals: make(map[string]int),
		trackedChildren: make(map[gsKey]*tormo),
	}
}

// predicateChange records one pass's added/removed literal and child
// values for a single predicate, the raw material for diff emission
// (spec section 4.9.3).
type predicateChange struct {
	addedLiterals   []string
	removedLiterals []string
	addedChildren   []gsKey
	removedChildren []gsKey
}

// subjectChanges accumulates, for one (graph, subject) during a single
// ingestion pass, the per-predicate deltas plus whether the subject was
// newly created or is being deleted this pass.
type subjectChanges struct {
	key             gsKey
	predicates      map[string]*predicateChange // readable name -> change
	created         bool
	deletedThisPass bool
}

func newSubjectChanges(key gsKey) *subjectChanges {
	return &subjectChanges{key: key, predicates: make(map[string]*predicateChange)}
}

func (c *subjectChanges) predicate(name string) *predicateChange {
	pc, ok := c.predicates[name]
	if !ok {
		pc = &predicateChange{}
		c.predicates[name] = pc
	}
	return pc
}

// tormo ("tracked ORM object") is one subject tracked by a subscription.
// Go has no built-in Weak<T>, so parent links are plain pointers. Every
// tormo stays in its subscription's registry for the subscription's whole
// lifetime: nothing removes a registry entry or moves a tormo to
// StateUntracked once no predicate's trackedChildren map points at it.
type tormo struct {
	key   gsKey
	shape string

	valid ValidState

	predicates map[string]*trackedPredicate // readable name -> state

	parents map[*tormo]bool
	isRoot  bool
}

func newTormo(key gsKey, shape string) *tormo {
	return &tormo{
		key:        key,
		shape:      shape,
		valid:      StatePending,
		predicates: make(map[string]*trackedPredicate),
		parents:    make(map[*tormo]bool),
	}
}

// clearPredicates drops every tracked predicate's literals and children,
// used when a cycle guard or invalidation fires (spec section 4.9.1 rule
// 4, 4.9.2 step 1/4).
func (t *tormo) clearPredicates() {
	t.predicates = make(map[string]*trackedPredicate)
}

// hasLiveParent reports whether t is a subscription root or any parent
// link remains. No engine path calls it.
func (t *tormo) hasLiveParent() bool {
	return t.isRoot || len(t.parents) > 0
}

// Predicate and Shape are re-exported aliases so callers of this package
// need only import pkg/shapequery for building a Schema, not for everyday
// ORM types.
type (
	Predicate = shapequery.Predicate
	Shape     = shapequery.Shape
	Schema    = shapequery.Schema
	DataType  = shapequery.DataType
)

// Subscription is the engine's live tracking state for one OrmStart call
// (spec section 4.9.4), holding every tormo reachable from its scope.
type Subscription struct {
	ID          string
	ShapeType   string
	ScopeNuris  []string
	SessionID   string
	Schema      Schema

	// roots holds one tormo per (graph, subject) pair the initial
	// CONSTRUCT query returned at the top level, keyed together with the
	// root shape type.
	roots map[ormKey]*tormo

	// registry is the full set of tracked tormos across the
	// subscription, used for the deterministic graph-candidate lookup
	// order in reconcile (spec section 4.9.2 step 3).
	registry map[ormKey]*tormo

	// nestedSubjects is the set of (graph, subject) pairs already
	// tracked as some predicate's child, used in Phase 1 to schedule
	// validation against every shape that references a modified
	// subject (spec section 4.9.2).
	nestedSubjects map[gsKey]map[string]bool // gsKey -> set of referencing shape IRIs

	closed bool
}

// NewSubscription allocates a fresh subscription id and empty tracking
// state for shapeType against schema.
func NewSubscription(shapeType string, scopeNuris []string, sessionID string, schema Schema) *Subscription {
	return &Subscription{
		ID:             uuid.NewString(),
		ShapeType:      shapeType,
		ScopeNuris:     scopeNuris,
		SessionID:      sessionID,
		Schema:         schema,
		roots:          make(map[ormKey]*tormo),
		registry:       make(map[ormKey]*tormo),
		nestedSubjects: make(map[gsKey]map[string]bool),
	}
}

// Closed reports whether OrmStop has closed this subscription's sender
// channel (spec section 4.9.4: "subscriptions whose channels are closed
// are reaped at the next quad-update pass").
func (s *Subscription) Closed() bool { return s.closed }

// Close marks the subscription closed.
func (s *Subscription) Close() { s.closed = true }
