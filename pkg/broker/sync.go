package broker

import (
	"github.com/nextgraph-org/ng-verifier-core/pkg/blockstore"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/object"
)

// MissingCommits computes the set of commit refs a peer needs to catch up
// to heads: a breadth-first walk over the deps/acks graph seeded at heads,
// stopping at any ref the filter already reports as known (spec section
// 4.7: "TopicSyncReq(heads, known_heads, known_commits) streams missing
// commits computed by a breadth-first walk over deps/acks seeded at heads,
// pruned by the Bloom filter of known_commits").
//
// knownHeads short-circuits the walk at refs the requester already listed
// explicitly, in addition to whatever the (lossy) Bloom filter catches.
func MissingCommits(store blockstore.Store, overlay ngtypes.OverlayID, heads []ngtypes.ObjectRef, knownHeads []ngtypes.ObjectRef, filter *KnownCommitsFilter) ([]ngtypes.ObjectRef, error) {
	known := make(map[ngtypes.BlockID]bool, len(knownHeads))
	for _, h := range knownHeads {
		known[h.ID] = true
	}

	visited := make(map[ngtypes.BlockID]bool)
	queue := append([]ngtypes.ObjectRef{}, heads...)
	var missing []ngtypes.ObjectRef

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		if visited[ref.ID] || known[ref.ID] {
			continue
		}
		visited[ref.ID] = true

		if filter != nil && filter.MightContain(ref.ID) {
			continue
		}

		missing = append(missing, ref)

		blk, err := store.Get(overlay, ref.ID)
		if err != nil {
			return nil, err
		}
		if !blk.IsCommitRoot() {
			continue
		}
		headerRef := ngtypes.ObjectRef{ID: *blk.CommitHeaderID, Key: *blk.CommitHeaderKey}
		header, err := object.Load(store, overlay, headerRef)
		if err != nil {
			return nil, err
		}
		if header.Header == nil {
			continue
		}
		queue = append(queue, header.Header.Deps...)
		queue = append(queue, header.Header.Acks...)
	}

	return missing, nil
}
