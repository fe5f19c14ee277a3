package orchestrator

import (
	"github.com/nextgraph-org/ng-verifier-core/pkg/orm"
)

// OrmStart implements the ORM entry point of spec section 4.9.4, indexing
// the new subscription under every nuri scope it covers so later calls can
// address "every subscription touching this scope" the way spec section
// 4.10's orm_subscriptions map is described (map<nuri_scope,
// list<OrmSubscription>>).
func (o *Orchestrator) OrmStart(schema orm.Schema, shapeType string, scopeNuris []string, subjectFilter []string, sessionID string) (*orm.OrmInitial, error) {
	initial, err := o.orm.Start(schema, shapeType, scopeNuris, subjectFilter, sessionID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	for _, scope := range scopeNuris {
		o.ormScopes[scope] = append(o.ormScopes[scope], initial.SubscriptionID)
	}
	o.mu.Unlock()

	return initial, nil
}

// OrmUpdate implements OrmUpdate(patches, subscription_id) (spec section
// 4.9.4).
func (o *Orchestrator) OrmUpdate(subscriptionID string, added, removed []orm.Quad) ([]orm.Patch, error) {
	return o.orm.Update(subscriptionID, added, removed)
}

// OrmStop implements OrmStop(subscription_id) (spec section 4.9.4).
func (o *Orchestrator) OrmStop(subscriptionID string) {
	o.orm.Stop(subscriptionID)
}

// SubscriptionsForScope returns the ids of every subscription started
// against nuriScope, live or since-closed (callers that need only live
// ones should cross-reference orm.Manager.Subscription).
func (o *Orchestrator) SubscriptionsForScope(nuriScope string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.ormScopes[nuriScope]))
	copy(out, o.ormScopes[nuriScope])
	return out
}

// SweepSubscriptions reaps closed subscriptions from both the ORM manager
// and the scope index, returning how many were removed.
func (o *Orchestrator) SweepSubscriptions() int {
	reaped := o.orm.Sweep()

	o.mu.Lock()
	defer o.mu.Unlock()
	for scope, ids := range o.ormScopes {
		kept := ids[:0]
		for _, id := range ids {
			if _, live := o.orm.Subscription(id); live {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(o.ormScopes, scope)
		} else {
			o.ormScopes[scope] = kept
		}
	}
	return reaped
}
