// Package topicindex implements the global (overlay_id, topic_id) ->
// (repo_id, branch_id) mapping of spec section 3, injective on the first
// component pair.
package topicindex

import (
	"fmt"
	"sync"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

// Index is safe for concurrent use; in the single-threaded-per-user
// scheduling model of spec section 5 it is written only from within the
// verifier's serialized task, but read from the broker's dispatch path.
type Index struct {
	mu      sync.RWMutex
	entries map[ngtypes.TopicKey]ngtypes.TopicIndexEntry
}

func New() *Index {
	return &Index{entries: make(map[ngtypes.TopicKey]ngtypes.TopicIndexEntry)}
}

// Add inserts a new topic route. It fails with ngerrors.ErrBranchAlreadyExists
// if the (overlay, topic) pair is already routed (injectivity invariant).
func (idx *Index) Add(overlay ngtypes.OverlayID, topic ngtypes.TopicID, entry ngtypes.TopicIndexEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := ngtypes.TopicKey{Overlay: overlay, Topic: topic}
	if _, exists := idx.entries[key]; exists {
		return fmt.Errorf("topic %s already routed: %w", topic, ngerrors.ErrBranchAlreadyExists)
	}
	idx.entries[key] = entry
	return nil
}

// Lookup resolves a topic to its (repo, branch), or ngerrors.ErrTopicNotFound.
func (idx *Index) Lookup(overlay ngtypes.OverlayID, topic ngtypes.TopicID) (ngtypes.TopicIndexEntry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	key := ngtypes.TopicKey{Overlay: overlay, Topic: topic}
	entry, ok := idx.entries[key]
	if !ok {
		return ngtypes.TopicIndexEntry{}, fmt.Errorf("topic %s: %w", topic, ngerrors.ErrTopicNotFound)
	}
	return entry, nil
}
