// Package orchestrator implements Module J: the per-user coordinator that
// owns every store, repo, topic route and live ORM subscription, and wires
// inbound/outbound events through the verifier and ORM engine (spec
// section 4.10).
package orchestrator

import (
	"fmt"
	"sync"

	"github.com/nextgraph-org/ng-verifier-core/pkg/blockstore"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/orm"
	"github.com/nextgraph-org/ng-verifier-core/pkg/outbox"
	"github.com/nextgraph-org/ng-verifier-core/pkg/topicindex"
	"github.com/nextgraph-org/ng-verifier-core/pkg/verifier"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "orchestrator")

// StoreEntry is the orchestrator's record for one store it has opened,
// keyed by its overlay id (spec section 4.10: "stores: map<overlay_id,
// Store>").
type StoreEntry struct {
	RepoID    ngtypes.RepoID
	ReadCap   ngtypes.ObjectRef
	IsPrivate bool
}

// Orchestrator is the Verifier of spec section 4.10. It is not itself
// concurrency-safe across goroutines: spec section 5 serializes every
// mutation through a per-user task, so the host is expected to run one
// Orchestrator on a single goroutine (or guard it externally) rather than
// have this type duplicate that discipline internally.
type Orchestrator struct {
	store blockstore.Store
	topic *topicindex.Index

	stores map[ngtypes.OverlayID]*StoreEntry
	repos  map[ngtypes.RepoID]*verifier.RepoState

	// topicKeys holds the decrypted per-branch topic symmetric key, the
	// material Deliver needs to open an inbound Event. Resolving
	// CommitBody.EncryptedTopicPrivKey/BranchEncTopicPrivKey into this key
	// is an identity/keychain concern outside Module J's scope; the host
	// calls SetBranchTopicKey once it has done that resolution (e.g. while
	// processing the Branch/RootBranch commit that introduced the branch).
	topicKeys map[ngtypes.BranchID]ngtypes.SymKey

	outbox outbox.Outbox

	orm       *orm.Manager
	ormScopes map[string][]string // nuri_scope -> subscription ids

	// onCommitApplied, if set, is invoked after a commit is accepted by the
	// verifier, letting the host feed a Transaction/AddFile commit's
	// payload into the quad store that backs ORM subscriptions scoped to
	// this repo/branch (verifier.go: "applied by the orchestrator via the
	// ORM ingestion path").
	onCommitApplied func(repo ngtypes.RepoID, branch ngtypes.BranchID, commit *ngtypes.Commit)

	mu sync.Mutex
}

// New builds an empty Orchestrator. construct backs the ORM manager's
// CONSTRUCT query execution (spec section 4.8); ob is the per-peer event
// outbox (spec section 4.4).
func New(store blockstore.Store, construct orm.ConstructFunc, ob outbox.Outbox) *Orchestrator {
	return &Orchestrator{
		store:     store,
		topic:     topicindex.New(),
		stores:    make(map[ngtypes.OverlayID]*StoreEntry),
		repos:     make(map[ngtypes.RepoID]*verifier.RepoState),
		topicKeys: make(map[ngtypes.BranchID]ngtypes.SymKey),
		outbox:    ob,
		orm:       orm.NewManager(construct),
		ormScopes: make(map[string][]string),
	}
}

// OnCommitApplied registers the quad-ingestion hook described on
// onCommitApplied's doc comment.
func (o *Orchestrator) OnCommitApplied(fn func(repo ngtypes.RepoID, branch ngtypes.BranchID, commit *ngtypes.Commit)) {
	o.onCommitApplied = fn
}

// SetBranchTopicKey records the decrypted topic key for branch, the
// prerequisite for Deliver to open events routed to it.
func (o *Orchestrator) SetBranchTopicKey(branch ngtypes.BranchID, key ngtypes.SymKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.topicKeys[branch] = key
}

// Topics exposes the shared (overlay, topic) -> (repo, branch) route table,
// also consulted by the broker's own dispatch path.
func (o *Orchestrator) Topics() *topicindex.Index { return o.topic }

// NewStore implements new_store(spec section 4.10): registers a store's
// outer and inner overlay ids, derived per spec section 4.2, so Deliver and
// block lookups can resolve an inbound overlay id back to its repo.
func (o *Orchestrator) NewStore(repoID ngtypes.RepoID, readCap ngtypes.ObjectRef, readCapSecret ngtypes.SymKey, isPrivate bool) (outer, inner ngtypes.OverlayID) {
	outer, inner = blockstore.DeriveOverlays(repoID, readCapSecret)
	entry := &StoreEntry{RepoID: repoID, ReadCap: readCap, IsPrivate: isPrivate}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stores[outer] = entry
	o.stores[inner] = entry
	return outer, inner
}

// StoreForOverlay resolves overlay to the store entry NewStore registered
// for it.
func (o *Orchestrator) StoreForOverlay(overlay ngtypes.OverlayID) (*StoreEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.stores[overlay]
	if !ok {
		return nil, fmt.Errorf("overlay %s: %w", overlay, ngerrors.ErrStoreNotFound)
	}
	return e, nil
}

// NewRepo implements new_repo (spec section 4.10): returns the RepoState
// for repoID, creating an empty one on first use. Repeated calls for the
// same id return the same RepoState.
func (o *Orchestrator) NewRepo(repoID ngtypes.RepoID) *verifier.RepoState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.repos[repoID]; ok {
		return r
	}
	r := verifier.NewRepoState()
	o.repos[repoID] = r
	return r
}

// Repo looks up an already-created repo's state.
func (o *Orchestrator) Repo(repoID ngtypes.RepoID) (*verifier.RepoState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.repos[repoID]
	return r, ok
}

// ORM exposes the subscription manager for the ORM entry points
// (OrmStart/OrmUpdate/OrmStop, implemented in orm.go).
func (o *Orchestrator) ORM() *orm.Manager { return o.orm }
