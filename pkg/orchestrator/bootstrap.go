package orchestrator

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/verifier"
)

// BranchCommits fetches every commit known for branch, already ordered so
// that each commit appears after everything it depends on (spec section
// 4.10: "decrypting and verifying commits in topological order"). Sorting a
// commit-DAG into that order is a network/storage concern belonging to
// whatever layer actually fetches blocks over the wire, not to the
// orchestrator itself, so Bootstrap takes it as a collaborator rather than
// reimplementing dependency resolution here.
type BranchCommits func(branch ngtypes.BranchID) ([]*ngtypes.Commit, error)

// Bootstrap implements spec section 4.10's bootstrap procedure: starting
// from the personal private store's root branch (branch id == repo id),
// walk every branch it discovers breadth-first, verifying each branch's
// commits in turn. AddSignerCap commits are deferred by RepoState until the
// whole walk completes, then applied.
func (o *Orchestrator) Bootstrap(overlay ngtypes.OverlayID, repoID ngtypes.RepoID, fetch BranchCommits) error {
	repo := o.NewRepo(repoID)
	repo.BeginBootstrap()

	visited := map[ngtypes.BranchID]bool{}
	queue := []ngtypes.BranchID{ngtypes.BranchID(repoID)}

	for len(queue) > 0 {
		branch := queue[0]
		queue = queue[1:]
		if visited[branch] {
			continue
		}
		visited[branch] = true

		commits, err := fetch(branch)
		if err != nil {
			return fmt.Errorf("bootstrap: fetch branch %s: %w", branch, err)
		}
		for _, c := range commits {
			if err := verifier.Verify(c, repo, o.topic, overlay); err != nil {
				return fmt.Errorf("bootstrap: branch %s commit %s: %w", branch, c.ID(), err)
			}
		}

		queue = append(queue, newlyDiscoveredBranches(repo, visited)...)
	}

	return repo.EndBootstrap(func(c *ngtypes.Commit) error {
		return verifier.Verify(c, repo, o.topic, overlay)
	})
}

// newlyDiscoveredBranches returns the branches repo now knows about that
// the walk hasn't queued yet, sorted for deterministic iteration order
// (repo.Branches is a map; nothing about which branch is walked before
// another affects correctness here, since ordering only matters within a
// single branch's own commit list, but deterministic output makes the
// walk reproducible for tests and logs).
func newlyDiscoveredBranches(repo *verifier.RepoState, visited map[ngtypes.BranchID]bool) []ngtypes.BranchID {
	var out []ngtypes.BranchID
	for id := range repo.Branches {
		if !visited[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
