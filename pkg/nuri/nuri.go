// Package nuri parses and formats NURI identifiers, the
// did:ng:<type>:<base64-key>[:<type>:<base64-key>...] addressing scheme
// used to name every object in the system (spec section 6).
package nuri

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

const scheme = "did:ng"

// Type tags one segment of a NURI.
type Type byte

const (
	TypeRepo      Type = 'o'
	TypeOverlay   Type = 'v'
	TypeBranch    Type = 'b'
	TypeCommit    Type = 'c'
	TypeTopic     Type = 'h'
	TypeSymKey    Type = 'k'
	TypeSignature Type = 's'
	TypeLocator   Type = 'l'
	TypeToken     Type = 'n'
	TypeObject    Type = 'j'
	TypeIdentity  Type = 'i'
	// TypeStore introduces a store-class segment; the class letter
	// (a/b/c/g/d) is carried in this segment's one-byte Key, not its Type,
	// so it never collides with TypeBranch/TypeCommit's own 'b'/'c' tags.
	TypeStore Type = 't'
)

// StoreClass distinguishes the five store kinds a TypeStore segment names.
type StoreClass byte

const (
	StoreClassPublic  StoreClass = 'a'
	StoreClassProtected StoreClass = 'b'
	StoreClassPrivate  StoreClass = 'c'
	StoreClassGroup   StoreClass = 'g'
	StoreClassDialog  StoreClass = 'd'
)

func (c StoreClass) valid() bool {
	switch c {
	case StoreClassPublic, StoreClassProtected, StoreClassPrivate, StoreClassGroup, StoreClassDialog:
		return true
	default:
		return false
	}
}

// Segment is one <type>:<key> pair of a NURI.
type Segment struct {
	Type Type
	Key  []byte
}

// Nuri is a parsed did:ng: identifier: one or more segments, the first of
// which names the primary object the NURI addresses.
type Nuri struct {
	Segments []Segment
}

// Parse decodes s into a Nuri, validating the did:ng: prefix and that
// every segment's key is valid URL-safe base64 without padding.
func Parse(s string) (*Nuri, error) {
	rest := strings.TrimPrefix(s, scheme+":")
	if rest == s {
		return nil, fmt.Errorf("nuri %q: missing %s: prefix: %w", s, scheme, ngerrors.ErrInvalidNuri)
	}
	parts := strings.Split(rest, ":")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return nil, fmt.Errorf("nuri %q: malformed segment list: %w", s, ngerrors.ErrInvalidNuri)
	}

	segments := make([]Segment, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		typeTok, keyTok := parts[i], parts[i+1]
		if len(typeTok) != 1 {
			return nil, fmt.Errorf("nuri %q: type tag %q must be one character: %w", s, typeTok, ngerrors.ErrInvalidNuri)
		}
		key, err := base64.RawURLEncoding.DecodeString(keyTok)
		if err != nil {
			return nil, fmt.Errorf("nuri %q: segment %d: %w: %v", s, i/2, ngerrors.ErrInvalidNuri, err)
		}
		segments = append(segments, Segment{Type: Type(typeTok[0]), Key: key})
	}

	if err := validate(segments); err != nil {
		return nil, fmt.Errorf("nuri %q: %w", s, err)
	}
	return &Nuri{Segments: segments}, nil
}

func validate(segments []Segment) error {
	for _, seg := range segments {
		switch seg.Type {
		case TypeRepo, TypeOverlay, TypeBranch, TypeCommit, TypeObject, TypeSymKey:
			if len(seg.Key) != 32 {
				return fmt.Errorf("%c segment must carry a 32-byte key: %w", seg.Type, ngerrors.ErrInvalidNuri)
			}
		case TypeTopic, TypeIdentity:
			if len(seg.Key) != 33 {
				return fmt.Errorf("%c segment must carry a 33-byte kind-tagged key: %w", seg.Type, ngerrors.ErrInvalidNuri)
			}
		case TypeStore:
			if len(seg.Key) != 1 || !StoreClass(seg.Key[0]).valid() {
				return fmt.Errorf("store segment must carry one valid class byte: %w", ngerrors.ErrInvalidNuri)
			}
		case TypeSignature, TypeLocator, TypeToken:
			// variable-length payloads (signature bytes, locator string,
			// opaque token), no fixed size to validate.
		default:
			return fmt.Errorf("unknown nuri type %q: %w", seg.Type, ngerrors.ErrInvalidNuri)
		}
	}
	return nil
}

// String renders n back into its did:ng:<type>:<key>[...] form.
func (n *Nuri) String() string {
	var b strings.Builder
	b.WriteString(scheme)
	for _, seg := range n.Segments {
		b.WriteByte(':')
		b.WriteByte(byte(seg.Type))
		b.WriteByte(':')
		b.WriteString(base64.RawURLEncoding.EncodeToString(seg.Key))
	}
	return b.String()
}

// Primary returns the first (defining) segment, the one every NURI must
// have.
func (n *Nuri) Primary() Segment {
	return n.Segments[0]
}

func pubKeyBytes(k ngtypes.PubKey) []byte {
	out := make([]byte, 33)
	out[0] = byte(k.Kind)
	copy(out[1:], k.Bytes[:])
	return out
}

func pubKeyFromBytes(b []byte) (ngtypes.PubKey, error) {
	if len(b) != 33 {
		return ngtypes.PubKey{}, fmt.Errorf("pubkey segment must be 33 bytes: %w", ngerrors.ErrInvalidNuri)
	}
	var k ngtypes.PubKey
	k.Kind = ngtypes.KeyKind(b[0])
	copy(k.Bytes[:], b[1:])
	return k, nil
}

// ForRepo builds the NURI addressing a repository.
func ForRepo(id ngtypes.RepoID) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeRepo, Key: append([]byte(nil), id[:]...)}}}
}

// ForOverlay builds the NURI addressing an overlay.
func ForOverlay(id ngtypes.OverlayID) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeOverlay, Key: append([]byte(nil), id[:]...)}}}
}

// ForBranch builds the NURI addressing a branch.
func ForBranch(id ngtypes.BranchID) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeBranch, Key: append([]byte(nil), id[:]...)}}}
}

// ForCommit builds the NURI addressing a commit.
func ForCommit(id ngtypes.BlockID) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeCommit, Key: append([]byte(nil), id[:]...)}}}
}

// ForObject builds the NURI addressing a raw block/object.
func ForObject(id ngtypes.BlockID) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeObject, Key: append([]byte(nil), id[:]...)}}}
}

// ForTopic builds the NURI addressing a pub/sub topic.
func ForTopic(id ngtypes.TopicID) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeTopic, Key: pubKeyBytes(ngtypes.PubKey(id))}}}
}

// ForSymKey builds the NURI carrying a symmetric key (e.g. a read
// capability handed out of band).
func ForSymKey(k ngtypes.SymKey) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeSymKey, Key: append([]byte(nil), k[:]...)}}}
}

// ForIdentity builds the NURI addressing a user or peer identity.
func ForIdentity(k ngtypes.PubKey) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeIdentity, Key: pubKeyBytes(k)}}}
}

// ForSignature builds the NURI carrying a detached signature over the
// preceding segment.
func ForSignature(sig []byte) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeSignature, Key: append([]byte(nil), sig...)}}}
}

// ForLocator builds the NURI carrying a network locator string.
func ForLocator(locator string) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeLocator, Key: []byte(locator)}}}
}

// ForToken builds the NURI carrying an opaque invitation/auth token.
func ForToken(token []byte) *Nuri {
	return &Nuri{Segments: []Segment{{Type: TypeToken, Key: append([]byte(nil), token...)}}}
}

// WithStoreClass appends a store-class segment to n, for NURIs that name
// which of the five store kinds (public/protected/private/group/dialog)
// an overlay or repo belongs to.
func (n *Nuri) WithStoreClass(class StoreClass) *Nuri {
	n.Segments = append(n.Segments, Segment{Type: TypeStore, Key: []byte{byte(class)}})
	return n
}

// RepoID extracts the repo this NURI's primary segment names.
func (n *Nuri) RepoID() (ngtypes.RepoID, error) {
	seg := n.Primary()
	if seg.Type != TypeRepo {
		return ngtypes.RepoID{}, fmt.Errorf("nuri does not address a repo: %w", ngerrors.ErrInvalidNuri)
	}
	var id ngtypes.RepoID
	copy(id[:], seg.Key)
	return id, nil
}

// OverlayID extracts the overlay this NURI's primary segment names.
func (n *Nuri) OverlayID() (ngtypes.OverlayID, error) {
	seg := n.Primary()
	if seg.Type != TypeOverlay {
		return ngtypes.OverlayID{}, fmt.Errorf("nuri does not address an overlay: %w", ngerrors.ErrInvalidNuri)
	}
	var id ngtypes.OverlayID
	copy(id[:], seg.Key)
	return id, nil
}

// BranchID extracts the branch this NURI's primary segment names.
func (n *Nuri) BranchID() (ngtypes.BranchID, error) {
	seg := n.Primary()
	if seg.Type != TypeBranch {
		return ngtypes.BranchID{}, fmt.Errorf("nuri does not address a branch: %w", ngerrors.ErrInvalidNuri)
	}
	var id ngtypes.BranchID
	copy(id[:], seg.Key)
	return id, nil
}

// CommitID extracts the commit this NURI's primary segment names.
func (n *Nuri) CommitID() (ngtypes.BlockID, error) {
	seg := n.Primary()
	if seg.Type != TypeCommit {
		return ngtypes.BlockID{}, fmt.Errorf("nuri does not address a commit: %w", ngerrors.ErrInvalidNuri)
	}
	var id ngtypes.BlockID
	copy(id[:], seg.Key)
	return id, nil
}

// ObjectID extracts the block this NURI's primary segment names.
func (n *Nuri) ObjectID() (ngtypes.BlockID, error) {
	seg := n.Primary()
	if seg.Type != TypeObject {
		return ngtypes.BlockID{}, fmt.Errorf("nuri does not address an object: %w", ngerrors.ErrInvalidNuri)
	}
	var id ngtypes.BlockID
	copy(id[:], seg.Key)
	return id, nil
}

// TopicID extracts the topic this NURI's primary segment names.
func (n *Nuri) TopicID() (ngtypes.TopicID, error) {
	seg := n.Primary()
	if seg.Type != TypeTopic {
		return ngtypes.TopicID{}, fmt.Errorf("nuri does not address a topic: %w", ngerrors.ErrInvalidNuri)
	}
	pk, err := pubKeyFromBytes(seg.Key)
	if err != nil {
		return ngtypes.TopicID{}, err
	}
	return ngtypes.TopicID(pk), nil
}

// SymKey extracts the symmetric key this NURI's primary segment names.
func (n *Nuri) SymKey() (ngtypes.SymKey, error) {
	seg := n.Primary()
	if seg.Type != TypeSymKey {
		return ngtypes.SymKey{}, fmt.Errorf("nuri does not carry a symmetric key: %w", ngerrors.ErrInvalidNuri)
	}
	var k ngtypes.SymKey
	copy(k[:], seg.Key)
	return k, nil
}

// Identity extracts the user/peer identity this NURI's primary segment
// names.
func (n *Nuri) Identity() (ngtypes.PubKey, error) {
	seg := n.Primary()
	if seg.Type != TypeIdentity {
		return ngtypes.PubKey{}, fmt.Errorf("nuri does not address an identity: %w", ngerrors.ErrInvalidNuri)
	}
	return pubKeyFromBytes(seg.Key)
}

// StoreClass returns the store class segment appended to n, if any.
func (n *Nuri) StoreClass() (StoreClass, bool) {
	for _, seg := range n.Segments {
		if seg.Type == TypeStore {
			return StoreClass(seg.Key[0]), true
		}
	}
	return 0, false
}
