package verifier

import (
	"crypto/ed25519"
	"testing"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/topicindex"
)

func signedCommit(t *testing.T, priv ed25519.PrivateKey, pub ed25519.PublicKey, branch ngtypes.BranchID, body *ngtypes.CommitBody, qt ngtypes.QuorumType) *ngtypes.Commit {
	t.Helper()
	var author ngtypes.PubKey
	copy(author.Bytes[:], pub)
	bodyID := ngtypes.BlockID{0x01}
	sig := ed25519.Sign(priv, bodyID[:])
	return &ngtypes.Commit{
		Author:     author,
		Branch:     branch,
		QuorumType: qt,
		BodyRef:    ngtypes.ObjectRef{ID: bodyID},
		Signature:  sig,
		Body:       body,
	}
}

func TestRepositoryMustBeFirst(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var authorKey ngtypes.PubKey
	copy(authorKey.Bytes[:], pub)

	repo := NewRepoState()
	idx := topicindex.New()
	branchID := ngtypes.BranchID{0xAA}

	c := signedCommit(t, priv, pub, branchID, &ngtypes.CommitBody{Kind: ngtypes.BodyRepository, RepoCreator: authorKey}, ngtypes.QuorumNone)
	if err := Verify(c, repo, idx, ngtypes.OverlayID{}); err != nil {
		t.Fatalf("first Repository commit should succeed: %v", err)
	}
	if repo.Repo.ID != ngtypes.RepoID(branchID) {
		t.Fatalf("repo id not set")
	}

	// A second Repository commit on the same (already-initialized) repo
	// state must be rejected as out of order.
	c2 := signedCommit(t, priv, pub, branchID, &ngtypes.CommitBody{Kind: ngtypes.BodyRepository, RepoCreator: authorKey}, ngtypes.QuorumNone)
	if err := Verify(c2, repo, idx, ngtypes.OverlayID{}); err == nil {
		t.Fatalf("second Repository commit should fail")
	}
}

func TestUpdateRootBranchRequiresTotalOrder(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var authorKey ngtypes.PubKey
	copy(authorKey.Bytes[:], pub)

	repo := NewRepoState()
	idx := topicindex.New()
	branchID := ngtypes.BranchID{0xAA}
	repo.Repo.ID = ngtypes.RepoID(branchID)
	repo.Branches[branchID] = &ngtypes.Branch{
		ID:      branchID,
		Members: map[string][]ngtypes.Permission{authorKey.String(): {ngtypes.PermRemoveMember}},
	}

	c := signedCommit(t, priv, pub, branchID, &ngtypes.CommitBody{Kind: ngtypes.BodyUpdateRootBranch}, ngtypes.QuorumPartialOrder)
	if err := Verify(c, repo, idx, ngtypes.OverlayID{}); err == nil {
		t.Fatalf("expected InvalidQuorum error for PartialOrder on UpdateRootBranch")
	}

	c2 := signedCommit(t, priv, pub, branchID, &ngtypes.CommitBody{Kind: ngtypes.BodyUpdateRootBranch}, ngtypes.QuorumTotalOrder)
	if err := Verify(c2, repo, idx, ngtypes.OverlayID{}); err != nil {
		t.Fatalf("TotalOrder UpdateRootBranch by permitted author should succeed: %v", err)
	}
}

func TestTransactionRequiresPermission(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	other, _, _ := ed25519.GenerateKey(nil)
	var authorKey, otherKey ngtypes.PubKey
	copy(authorKey.Bytes[:], pub)
	copy(otherKey.Bytes[:], other)

	repo := NewRepoState()
	idx := topicindex.New()
	branchID := ngtypes.BranchID{0xBB}
	repo.Repo.ID = ngtypes.RepoID{0xCC}
	repo.Branches[branchID] = &ngtypes.Branch{
		ID:      branchID,
		RepoRef: repo.Repo.ID,
		Members: map[string][]ngtypes.Permission{otherKey.String(): {ngtypes.PermTransaction}},
	}

	c := signedCommit(t, priv, pub, branchID, &ngtypes.CommitBody{Kind: ngtypes.BodyTransaction}, ngtypes.QuorumPartialOrder)
	if err := Verify(c, repo, idx, ngtypes.OverlayID{}); err == nil {
		t.Fatalf("expected PermissionDenied for author without Transaction permission")
	}
}

func TestBranchAddsTopicIndexAndRejectsDuplicate(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var authorKey ngtypes.PubKey
	copy(authorKey.Bytes[:], pub)

	repo := NewRepoState()
	repo.Repo.ID = ngtypes.RepoID{0x01}
	idx := topicindex.New()
	branchID := ngtypes.BranchID{0x02}
	topic := ngtypes.TopicID{Kind: ngtypes.KeyKindX25519, Bytes: [32]byte{0x09}}

	body := &ngtypes.CommitBody{Kind: ngtypes.BodyBranch, RepoRef: repo.Repo.ID, BranchTopicID: topic}
	c := signedCommit(t, priv, pub, branchID, body, ngtypes.QuorumNone)
	if err := Verify(c, repo, idx, ngtypes.OverlayID{}); err != nil {
		t.Fatalf("first Branch commit should succeed: %v", err)
	}

	branchID2 := ngtypes.BranchID{0x03}
	body2 := &ngtypes.CommitBody{Kind: ngtypes.BodyBranch, RepoRef: repo.Repo.ID, BranchTopicID: topic}
	c2 := signedCommit(t, priv, pub, branchID2, body2, ngtypes.QuorumNone)
	if err := Verify(c2, repo, idx, ngtypes.OverlayID{}); err == nil {
		t.Fatalf("expected duplicate topic route to be rejected")
	}
}
