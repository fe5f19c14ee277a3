package object

import (
	"bytes"
	"testing"

	"github.com/nextgraph-org/ng-verifier-core/pkg/blockstore"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

// TestPutLoadRoundTrip checks BlockPut/BlockGet ∘ Put/Load recovers the
// original payload (spec section 8: "BlockPut(b); BlockGet(b.id) == b").
func TestPutLoadRoundTrip(t *testing.T) {
	store := blockstore.NewMemStore()
	var overlay ngtypes.OverlayID
	var convergenceKey [32]byte
	convergenceKey[0] = 0x42

	want := []byte("hello nextgraph")
	ref, err := Put(store, overlay, convergenceKey, ContentFileMeta, nil, nil, want)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	content, err := Load(store, overlay, ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(content.Raw, want) {
		t.Fatalf("round trip mismatch: got %q want %q", content.Raw, want)
	}
	if content.Kind != ContentFileMeta {
		t.Fatalf("expected kind preserved, got %v", content.Kind)
	}
}

// TestPutChunksLargePayload checks a payload over MaxChunkSize is split into
// an internal node plus leaves, and still reassembles correctly on Load.
func TestPutChunksLargePayload(t *testing.T) {
	store := blockstore.NewMemStore()
	var overlay ngtypes.OverlayID
	var convergenceKey [32]byte

	want := bytes.Repeat([]byte("x"), MaxChunkSize*3+17)
	ref, err := Put(store, overlay, convergenceKey, ContentFileMeta, nil, nil, want)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	root, err := store.Get(overlay, ref.ID)
	if err != nil {
		t.Fatalf("Get root: %v", err)
	}
	if len(root.Children) == 0 {
		t.Fatal("expected root block to be an internal node with children")
	}

	content, err := Load(store, overlay, ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(content.Raw, want) {
		t.Fatalf("chunked round trip mismatch: got %d bytes want %d bytes", len(content.Raw), len(want))
	}
}

// TestVerifyBlockIntegrity checks the universal block-integrity invariant
// (spec section 8): Blake3(ciphertext(b)) == b.id, and that tampering with
// either side breaks it.
func TestVerifyBlockIntegrity(t *testing.T) {
	store := blockstore.NewMemStore()
	var overlay ngtypes.OverlayID
	var convergenceKey [32]byte

	ref, err := Put(store, overlay, convergenceKey, ContentFileMeta, nil, nil, []byte("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	blk, err := store.Get(overlay, ref.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !VerifyBlockIntegrity(blk) {
		t.Fatal("expected stored block to satisfy block integrity invariant")
	}

	tampered := blk
	tampered.ContentID[0] ^= 0xFF
	if VerifyBlockIntegrity(tampered) {
		t.Fatal("expected tampered content id to fail block integrity check")
	}
}

// TestLoadMissingBlockFails checks Load surfaces a clear error rather than
// a zero-value Content when the root block was never stored.
func TestLoadMissingBlockFails(t *testing.T) {
	store := blockstore.NewMemStore()
	var overlay ngtypes.OverlayID
	var key ngtypes.SymKey

	if _, err := Load(store, overlay, ngtypes.ObjectRef{Key: key}); err == nil {
		t.Fatal("expected Load of an unstored ref to fail")
	}
}
