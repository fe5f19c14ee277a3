// Package object implements Module A's Object operations: recursive
// decryption of a Merkle-chunked payload into an ObjectContent, and the
// inverse (chunking + convergent encryption) used to Put a new object.
package object

import (
	"encoding/json"
	"fmt"

	"github.com/nextgraph-org/ng-verifier-core/pkg/blockstore"
	"github.com/nextgraph-org/ng-verifier-core/pkg/crypto"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

// MaxChunkSize is the largest plaintext payload stored in a single leaf
// block before Merkle-chunking splits it further.
const MaxChunkSize = 16 * 1024

// ContentKind tags the decrypted ObjectContent union (spec section 3: an
// Object is "either a CommitBody, a CommitHeader, a RandomAccessFileMeta,
// a Certificate, a Signature, or a Snapshot").
type ContentKind uint8

const (
	ContentCommitBody ContentKind = iota
	ContentCommitHeader
	ContentFileMeta
	ContentCertificate
	ContentSignature
	ContentSnapshot
)

// Content is the logical view reconstructed by Load.
type Content struct {
	Kind   ContentKind
	Raw    []byte // decrypted, reassembled plaintext
	Commit *ngtypes.CommitBody
	Header *ngtypes.CommitHeader
}

// wireEnvelope is the plaintext serialization format wrapped by convergent
// encryption: a content-kind tag plus either raw leaf bytes or, for an
// internal Merkle node, the ordered list of child (id, key) pairs.
type wireEnvelope struct {
	Kind     ContentKind          `json:"kind"`
	Leaf     []byte               `json:"leaf,omitempty"`
	Children []childRef           `json:"children,omitempty"`
	Commit   *ngtypes.CommitBody  `json:"commit,omitempty"`
	Header   *ngtypes.CommitHeader `json:"header,omitempty"`
}

type childRef struct {
	ID  ngtypes.BlockID  `json:"id"`
	Key ngtypes.SymKey   `json:"key"`
}

// Load recursively fetches and decrypts blocks starting from root,
// reconstructing the ObjectContent. It fails with ngerrors.ErrMissingBlocks
// if the root cannot be fetched, or ngerrors.ErrObjectParse if the
// decrypted payload does not match the expected envelope shape.
func Load(store blockstore.Store, overlay ngtypes.OverlayID, root ngtypes.ObjectRef) (*Content, error) {
	payload, err := loadPayload(store, overlay, root, 0)
	if err != nil {
		return nil, err
	}
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w: %w", err, ngerrors.ErrObjectParse)
	}
	return &Content{
		Kind:   env.Kind,
		Raw:    env.Leaf,
		Commit: env.Commit,
		Header: env.Header,
	}, nil
}

// loadPayload walks the Merkle tree rooted at ref, decrypting each block
// along the way and reassembling leaf bytes in order, bounded by
// ngtypes.MaxObjectLoadDepth.
func loadPayload(store blockstore.Store, overlay ngtypes.OverlayID, ref ngtypes.ObjectRef, depth int) ([]byte, error) {
	if depth > ngtypes.MaxObjectLoadDepth {
		return nil, fmt.Errorf("depth %d exceeds max: %w", depth, ngerrors.ErrObjectParse)
	}
	blk, err := store.Get(overlay, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.ID, ngerrors.ErrMissingBlocks)
	}
	plaintext, err := crypto.Decrypt(ref.Key, blk.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("decrypt block %s: %w", ref.ID, err)
	}
	if blk.IsLeaf() {
		return plaintext, nil
	}
	var node struct {
		Children []childRef `json:"children"`
	}
	if err := json.Unmarshal(plaintext, &node); err != nil {
		return nil, fmt.Errorf("decode internal node: %w: %w", err, ngerrors.ErrObjectParse)
	}
	var out []byte
	for _, c := range node.Children {
		childRef := ngtypes.ObjectRef{ID: c.ID, Key: c.Key}
		childPlain, err := loadPayload(store, overlay, childRef, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, childPlain...)
	}
	return out, nil
}

// Put serializes content, convergently encrypts it (optionally
// Merkle-chunking if it exceeds MaxChunkSize) and stores the resulting
// block(s), returning the root ObjectRef.
func Put(store blockstore.Store, overlay ngtypes.OverlayID, convergenceKey [crypto.KeySize]byte, kind ContentKind, commit *ngtypes.CommitBody, header *ngtypes.CommitHeader, raw []byte) (ngtypes.ObjectRef, error) {
	env := wireEnvelope{Kind: kind, Leaf: raw, Commit: commit, Header: header}
	payload, err := json.Marshal(env)
	if err != nil {
		return ngtypes.ObjectRef{}, fmt.Errorf("encode envelope: %w", err)
	}
	return putChunked(store, overlay, convergenceKey, payload)
}

func putChunked(store blockstore.Store, overlay ngtypes.OverlayID, convergenceKey [crypto.KeySize]byte, payload []byte) (ngtypes.ObjectRef, error) {
	if len(payload) <= MaxChunkSize {
		return putLeaf(store, overlay, convergenceKey, payload)
	}
	var children []childRef
	for start := 0; start < len(payload); start += MaxChunkSize {
		end := start + MaxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		ref, err := putLeaf(store, overlay, convergenceKey, payload[start:end])
		if err != nil {
			return ngtypes.ObjectRef{}, err
		}
		children = append(children, childRef{ID: ref.ID, Key: ref.Key})
	}
	node := struct {
		Children []childRef `json:"children"`
	}{Children: children}
	nodePlain, err := json.Marshal(node)
	if err != nil {
		return ngtypes.ObjectRef{}, err
	}
	key := crypto.ContentKey(convergenceKey, nodePlain)
	ciphertext, err := crypto.Encrypt(key, nodePlain)
	if err != nil {
		return ngtypes.ObjectRef{}, err
	}
	childIDs := make([]ngtypes.BlockID, len(children))
	for i, c := range children {
		childIDs[i] = c.ID
	}
	blk := ngtypes.Block{
		ContentKey:       ngtypes.SymKey(key),
		Children:         childIDs,
		EncryptedPayload: ciphertext,
	}
	blk.ContentID = ngtypes.BlockID(crypto.ContentID(ciphertext))
	id, err := store.Put(overlay, blk)
	if err != nil {
		return ngtypes.ObjectRef{}, err
	}
	return ngtypes.ObjectRef{ID: id, Key: ngtypes.SymKey(key)}, nil
}

func putLeaf(store blockstore.Store, overlay ngtypes.OverlayID, convergenceKey [crypto.KeySize]byte, plaintext []byte) (ngtypes.ObjectRef, error) {
	key := crypto.ContentKey(convergenceKey, plaintext)
	ciphertext, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return ngtypes.ObjectRef{}, err
	}
	blk := ngtypes.Block{
		ContentKey:       ngtypes.SymKey(key),
		EncryptedPayload: ciphertext,
	}
	blk.ContentID = ngtypes.BlockID(crypto.ContentID(ciphertext))
	id, err := store.Put(overlay, blk)
	if err != nil {
		return ngtypes.ObjectRef{}, err
	}
	return ngtypes.ObjectRef{ID: id, Key: ngtypes.SymKey(key)}, nil
}

// VerifyBlockIntegrity checks the block-integrity universal invariant of
// spec section 8: Blake3(ciphertext(b)) == b.id.
func VerifyBlockIntegrity(b ngtypes.Block) bool {
	return ngtypes.BlockID(crypto.ContentID(b.EncryptedPayload)) == b.ContentID
}
