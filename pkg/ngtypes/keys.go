package ngtypes

import (
	"encoding/base64"
)

// KeyKind tags the two curves used throughout the protocol: Ed25519 for
// signing identities (users, peers, repos) and X25519 for Diffie-Hellman
// (Noise handshakes, topic keys).
type KeyKind uint8

const (
	KeyKindEd25519 KeyKind = iota
	KeyKindX25519
)

// PubKey is a 32-byte public key tagged with its curve, mirroring the
// PubKey sum type of the original implementation (spec section 9: "sum
// types over inheritance").
type PubKey struct {
	Kind  KeyKind
	Bytes [32]byte
}

func (k PubKey) String() string {
	return base64.RawURLEncoding.EncodeToString(k.Bytes[:])
}

// PrivKey is a 32-byte private key tagged with its curve.
type PrivKey struct {
	Kind  KeyKind
	Bytes [32]byte
}

// SymKey is a 32-byte ChaCha20 symmetric key.
type SymKey [32]byte

func (k SymKey) String() string {
	return base64.RawURLEncoding.EncodeToString(k[:])
}

// BlockID is the BLAKE3 content digest naming a block.
type BlockID [32]byte

func (id BlockID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value (used as a "not set" sentinel
// in optional reference fields).
func (id BlockID) IsZero() bool {
	return id == BlockID{}
}

// ObjectRef is a read capability: a block id paired with the symmetric key
// needed to decrypt it, as used for commit body refs, header refs and
// root-branch read caps throughout the spec.
type ObjectRef struct {
	ID  BlockID
	Key SymKey
}

func (r ObjectRef) IsZero() bool {
	return r.ID.IsZero()
}

// OverlayID identifies a logical block-store namespace (spec section 4.2).
type OverlayID [32]byte

func (o OverlayID) String() string {
	return base64.RawURLEncoding.EncodeToString(o[:])
}

// TopicID identifies a pub/sub topic; topics are keyed by a public key.
type TopicID PubKey

func (t TopicID) String() string { return PubKey(t).String() }

// RepoID identifies a repository; it is the same value as the root branch id.
type RepoID BlockID

func (r RepoID) String() string { return BlockID(r).String() }

// BranchID identifies a branch.
type BranchID BlockID

func (b BranchID) String() string { return BlockID(b).String() }
