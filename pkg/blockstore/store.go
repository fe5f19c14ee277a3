// Package blockstore implements the Store facade of spec section 4.2: a
// pure key-value mapping from (overlay, block id) to block bytes, with no
// semantic awareness of commits.
package blockstore

import (
	"fmt"
	"sync"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"lukechampine.com/blake3"
)

// Store is the block storage facade. Implementations must be safe for
// concurrent reads; writes are serialized per overlay by the caller (spec
// section 5: "the block store is concurrency-safe for reads; writes are
// serialized per overlay").
type Store interface {
	Put(overlay ngtypes.OverlayID, b ngtypes.Block) (ngtypes.BlockID, error)
	Get(overlay ngtypes.OverlayID, id ngtypes.BlockID) (ngtypes.Block, error)
	Has(overlay ngtypes.OverlayID, id ngtypes.BlockID) bool
	Del(overlay ngtypes.OverlayID, id ngtypes.BlockID) error
}

type key struct {
	overlay ngtypes.OverlayID
	id      ngtypes.BlockID
}

// MemStore is the default in-memory Store, map-backed and guarded by a
// single RWMutex (the teacher's idiom for shared in-memory maps, e.g.
// core/network.go's replicatedMessages cache).
type MemStore struct {
	mu     sync.RWMutex
	blocks map[key]ngtypes.Block
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blocks: make(map[key]ngtypes.Block)}
}

// Put stores b if not already present and returns its content id. Put is
// idempotent: storing the same block twice is a no-op on the second call.
func (s *MemStore) Put(overlay ngtypes.OverlayID, b ngtypes.Block) (ngtypes.BlockID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{overlay, b.ContentID}
	if _, exists := s.blocks[k]; !exists {
		s.blocks[k] = b
	}
	return b.ContentID, nil
}

// Get retrieves a block by id, returning ngerrors.ErrNotFound if absent.
func (s *MemStore) Get(overlay ngtypes.OverlayID, id ngtypes.BlockID) (ngtypes.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[key{overlay, id}]
	if !ok {
		return ngtypes.Block{}, fmt.Errorf("block %s: %w", id, ngerrors.ErrNotFound)
	}
	return b, nil
}

func (s *MemStore) Has(overlay ngtypes.OverlayID, id ngtypes.BlockID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[key{overlay, id}]
	return ok
}

func (s *MemStore) Del(overlay ngtypes.OverlayID, id ngtypes.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, key{overlay, id})
	return nil
}

// DeriveOverlays computes the outer and inner overlay ids for a store repo,
// per spec section 4.2: outer = hash(store_repo_id), inner =
// hash(store_repo_id || store_read_cap_key). Only the inner overlay is used
// for authenticated subscriptions.
func DeriveOverlays(storeRepoID ngtypes.RepoID, storeReadCapKey ngtypes.SymKey) (outer, inner ngtypes.OverlayID) {
	outer = ngtypes.OverlayID(blake3.Sum256(storeRepoID[:]))
	material := make([]byte, 0, 64)
	material = append(material, storeRepoID[:]...)
	material = append(material, storeReadCapKey[:]...)
	inner = ngtypes.OverlayID(blake3.Sum256(material))
	return outer, inner
}
