package orm

import (
	"fmt"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/shapequery"
)

// ConstructFunc executes a compiled CONSTRUCT query against the external
// RDF store collaborator (spec section 4.8) and returns the resulting
// quads.
type ConstructFunc func(query string) ([]Quad, error)

// Manager owns every live subscription for one orchestrator, keyed by
// subscription id (spec section 4.10: "orm_subscriptions: map<nuri_scope,
// list<OrmSubscription>>" — indexed here by id for direct OrmStop/OrmUpdate
// lookup, with NuriScope available via Subscription.ScopeNuris for the
// orchestrator's own scope-keyed view).
type Manager struct {
	subscriptions map[string]*Subscription
	construct     ConstructFunc
}

// NewManager builds an empty subscription manager backed by construct for
// running CONSTRUCT queries.
func NewManager(construct ConstructFunc) *Manager {
	return &Manager{subscriptions: make(map[string]*Subscription), construct: construct}
}

// OrmInitial is the response to OrmStart: the freshly computed JSON tree
// plus the subscription id to address future OrmUpdate/OrmStop calls.
type OrmInitial struct {
	Value          map[string]interface{}
	SubscriptionID string
}

// Start implements OrmStart(shape_type, scope_nuris, subject_filter) (spec
// section 4.9.4): compiles and runs the CONSTRUCT query, seeds the engine
// with the result as quads_added, and returns the resulting initial JSON
// object.
func (m *Manager) Start(schema Schema, shapeType string, scopeNuris []string, subjectFilter []string, sessionID string) (*OrmInitial, error) {
	shape, ok := schema[shapeType]
	if !ok {
		return nil, fmt.Errorf("shape %s: %w", shapeType, ngerrors.ErrInvalidOrmSchema)
	}

	query, err := shapequery.Compile(schema, shape.IRI, subjectFilter, shapequery.DefaultMaxDepth)
	if err != nil {
		return nil, err
	}
	quads, err := m.construct(query)
	if err != nil {
		return nil, err
	}

	sub := NewSubscription(shapeType, scopeNuris, sessionID, schema)
	engine := NewEngine(sub, m.constructFetcher(schema))
	if _, err := engine.Ingest(quads, nil); err != nil {
		return nil, err
	}
	for key, t := range sub.registry {
		if key.shapeIRI == shapeType && t.valid == StateValid {
			t.isRoot = true
			sub.roots[key] = t
		}
	}

	value := BuildTree(sub)
	m.subscriptions[sub.ID] = sub
	return &OrmInitial{Value: value, SubscriptionID: sub.ID}, nil
}

// constructFetcher adapts Manager.construct into the engine's FetchFunc,
// scoping a fresh CONSTRUCT query to the specific child subjects a
// NeedsFetch validation step asked for (spec section 4.9.2 step 4).
func (m *Manager) constructFetcher(schema Schema) FetchFunc {
	return func(shapeIRI string, subjects []gsKey) ([]Quad, error) {
		shape, ok := schema[shapeIRI]
		if !ok {
			return nil, fmt.Errorf("shape %s: %w", shapeIRI, ngerrors.ErrInvalidOrmSchema)
		}
		iris := make([]string, len(subjects))
		for i, s := range subjects {
			iris[i] = s.Subject
		}
		query, err := shapequery.Compile(schema, shape.IRI, iris, shapequery.DefaultMaxDepth)
		if err != nil {
			return nil, err
		}
		return m.construct(query)
	}
}

// Update implements both the server-driven quad-change path and the
// client-originated OrmUpdate(patches, subscription_id) path: in the
// latter case, the caller is responsible for translating the client's
// patches into quads_added/quads_removed before calling Update, and for
// suppressing re-delivery to originatingSessionID (spec section 4.9.4:
// "applied through the same path but without re-emitting to the
// originating subscription").
func (m *Manager) Update(subscriptionID string, added, removed []Quad) ([]Patch, error) {
	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", subscriptionID, ngerrors.ErrOrmSubscriptionNotFound)
	}
	if sub.Closed() {
		return nil, nil
	}
	engine := NewEngine(sub, m.constructFetcher(sub.Schema))
	if _, err := engine.Ingest(added, removed); err != nil {
		return nil, err
	}
	return engine.EmitPatches(), nil
}

// Stop implements OrmStop(subscription_id): closes the subscription's
// sender channel. The subscription itself is reaped from m at the next
// Sweep call (spec section 4.9.4: "subscriptions whose channels are closed
// are reaped at the next quad-update pass").
func (m *Manager) Stop(subscriptionID string) {
	if sub, ok := m.subscriptions[subscriptionID]; ok {
		sub.Close()
	}
}

// Sweep removes every closed subscription from m, returning how many were
// reaped.
func (m *Manager) Sweep() int {
	reaped := 0
	for id, sub := range m.subscriptions {
		if sub.Closed() {
			delete(m.subscriptions, id)
			reaped++
		}
	}
	return reaped
}

// Subscription looks up a live subscription by id.
func (m *Manager) Subscription(id string) (*Subscription, bool) {
	sub, ok := m.subscriptions[id]
	return sub, ok
}
