package verifier

import "github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"

// RepoState is the verifier's in-memory reconstruction of one repository:
// its Repository record, root branch, and every branch reachable from it.
// The orchestrator (Module J) owns one RepoState per repo_id.
type RepoState struct {
	Repo       ngtypes.Repository
	RootBranch ngtypes.RootBranch
	Branches   map[ngtypes.BranchID]*ngtypes.Branch

	// PendingAddSignerCap holds AddSignerCap commits seen during bootstrap,
	// applied only after the main walk completes (spec section 4.10).
	PendingAddSignerCap []*ngtypes.Commit

	// IsOwnStoreRoot marks a repo that is its own store (spec section 4.3:
	// "store_sig validated... unless this repo is its own store root").
	IsOwnStoreRoot bool

	bootstrapping bool
}

// NewRepoState constructs an empty RepoState.
func NewRepoState() *RepoState {
	return &RepoState{Branches: make(map[ngtypes.BranchID]*ngtypes.Branch)}
}

// BeginBootstrap marks the repo as being bootstrapped, deferring
// AddSignerCap application.
func (r *RepoState) BeginBootstrap() { r.bootstrapping = true }

// EndBootstrap applies every deferred AddSignerCap commit and clears the
// bootstrapping flag. The caller supplies the apply function since
// applying an AddSignerCap commit requires the full Verify machinery.
func (r *RepoState) EndBootstrap(apply func(*ngtypes.Commit) error) error {
	r.bootstrapping = false
	for _, c := range r.PendingAddSignerCap {
		if err := apply(c); err != nil {
			return err
		}
	}
	r.PendingAddSignerCap = nil
	return nil
}
