package outbox

import "github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"

// HeadsLookup resolves a branch's currently known local heads. ok is false
// if the branch (or its repo) is unknown locally.
type HeadsLookup func(branch ngtypes.BranchID) (heads []ngtypes.ObjectRef, ok bool)

// CheckDivergence walks queued entries in order, simulating the
// branch.current_heads each event would produce locally, and reports
// whether the broker could safely receive them as-is.
//
// Per spec section 4.4 ("Replay-on-divergence"): "the orchestrator walks
// the queue computing expected branch.current_heads after each event. If
// any event's acks do not match the expected heads for its branch (or the
// branch/repo is unknown locally), the orchestrator triggers a full local
// replay... before resuming publication."
//
// It returns the index of the first diverging entry, or -1 if none
// diverge.
func CheckDivergence(entries []Entry, lookup HeadsLookup) int {
	expected := make(map[ngtypes.BranchID][]ngtypes.ObjectRef)
	for i, e := range entries {
		heads, ok := expected[e.Branch]
		if !ok {
			heads, ok = lookup(e.Branch)
			if !ok {
				return i
			}
		}
		if !headsMatch(heads, e.Acks) {
			return i
		}
		expected[e.Branch] = []ngtypes.ObjectRef{e.SelfRef}
	}
	return -1
}

func headsMatch(heads, acks []ngtypes.ObjectRef) bool {
	if len(acks) == 0 {
		return true
	}
	set := make(map[ngtypes.BlockID]bool, len(heads))
	for _, h := range heads {
		set[h.ID] = true
	}
	for _, a := range acks {
		if !set[a.ID] {
			return false
		}
	}
	return true
}
