package orchestrator

import (
	"crypto/ed25519"
	"testing"

	"github.com/nextgraph-org/ng-verifier-core/pkg/blockstore"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/orm"
	"github.com/nextgraph-org/ng-verifier-core/pkg/outbox"
	"github.com/nextgraph-org/ng-verifier-core/pkg/shapequery"
)

func signedCommit(t *testing.T, priv ed25519.PrivateKey, pub ed25519.PublicKey, branch ngtypes.BranchID, seq uint64, body *ngtypes.CommitBody) *ngtypes.Commit {
	t.Helper()
	var author ngtypes.PubKey
	copy(author.Bytes[:], pub)
	bodyID := ngtypes.BlockID{byte(seq + 1)}
	sig := ed25519.Sign(priv, bodyID[:])
	return &ngtypes.Commit{
		Author:     author,
		Seq:        seq,
		Branch:     branch,
		QuorumType: ngtypes.QuorumNone,
		BodyRef:    ngtypes.ObjectRef{ID: bodyID},
		Signature:  sig,
		Body:       body,
	}
}

func noopConstruct(query string) ([]orm.Quad, error) { return nil, nil }

func TestBootstrapAppliesCommitsAndDefersAddSignerCap(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var authorKey ngtypes.PubKey
	copy(authorKey.Bytes[:], pub)

	repoID := ngtypes.RepoID{0x01}
	rootBranch := ngtypes.BranchID(repoID)

	repoCommit := signedCommit(t, priv, pub, rootBranch, 0, &ngtypes.CommitBody{Kind: ngtypes.BodyRepository, RepoCreator: authorKey})
	rootBranchCommit := signedCommit(t, priv, pub, rootBranch, 1, &ngtypes.CommitBody{Kind: ngtypes.BodyRootBranch})
	addSignerCapCommit := signedCommit(t, priv, pub, rootBranch, 2, &ngtypes.CommitBody{Kind: ngtypes.BodyAddSignerCap})

	o := New(blockstore.NewMemStore(), noopConstruct, outbox.NewMemOutbox())
	// The personal private store is its own root: RootBranch's missing
	// store-signature check only applies to stores signed by another store.
	o.NewRepo(repoID).IsOwnStoreRoot = true

	fetch := func(branch ngtypes.BranchID) ([]*ngtypes.Commit, error) {
		if branch != rootBranch {
			return nil, nil
		}
		return []*ngtypes.Commit{repoCommit, rootBranchCommit, addSignerCapCommit}, nil
	}

	if err := o.Bootstrap(ngtypes.OverlayID{}, repoID, fetch); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	repo, ok := o.Repo(repoID)
	if !ok {
		t.Fatalf("repo not registered after bootstrap")
	}
	if repo.Repo.ID != repoID {
		t.Fatalf("repo id not applied")
	}
	if _, ok := repo.Branches[rootBranch]; !ok {
		t.Fatalf("root branch not created")
	}
	if len(repo.PendingAddSignerCap) != 0 {
		t.Fatalf("AddSignerCap commit should have been drained after bootstrap ends")
	}
}

func TestSendOutboxPublishesInOrderAndAcks(t *testing.T) {
	ob := outbox.NewMemOutbox()
	o := New(blockstore.NewMemStore(), noopConstruct, ob)

	branch := ngtypes.BranchID{0x02}
	repo := o.NewRepo(ngtypes.RepoID{0x02})
	repo.Branches[branch] = &ngtypes.Branch{ID: branch}

	e1 := outbox.Entry{Branch: branch, SelfRef: ngtypes.ObjectRef{ID: ngtypes.BlockID{0x01}}}
	e2 := outbox.Entry{Branch: branch, Acks: []ngtypes.ObjectRef{e1.SelfRef}, SelfRef: ngtypes.ObjectRef{ID: ngtypes.BlockID{0x02}}}
	if err := ob.Enqueue(e1); err != nil {
		t.Fatalf("enqueue e1: %v", err)
	}
	if err := ob.Enqueue(e2); err != nil {
		t.Fatalf("enqueue e2: %v", err)
	}

	var published []outbox.Entry
	publish := func(e outbox.Entry) error {
		published = append(published, e)
		repo.Branches[branch].CurrentHeads = []ngtypes.ObjectRef{e.SelfRef}
		return nil
	}

	if err := o.SendOutbox(publish, nil); err != nil {
		t.Fatalf("send outbox: %v", err)
	}
	if len(published) != 2 {
		t.Fatalf("expected 2 entries published, got %d", len(published))
	}

	remaining, err := ob.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected outbox empty after ack, got %d entries", len(remaining))
	}
}

func TestSendOutboxReplaysOnDivergence(t *testing.T) {
	ob := outbox.NewMemOutbox()
	o := New(blockstore.NewMemStore(), noopConstruct, ob)

	branch := ngtypes.BranchID{0x03}
	repo := o.NewRepo(ngtypes.RepoID{0x03})
	staleHead := ngtypes.ObjectRef{ID: ngtypes.BlockID{0xFF}}
	repo.Branches[branch] = &ngtypes.Branch{ID: branch, CurrentHeads: []ngtypes.ObjectRef{staleHead}}

	// Acks an unknown ancestor: branchHeads reports staleHead as current, so
	// this entry's Acks diverge from it.
	e := outbox.Entry{Branch: branch, Acks: []ngtypes.ObjectRef{{ID: ngtypes.BlockID{0x01}}}, SelfRef: ngtypes.ObjectRef{ID: ngtypes.BlockID{0x02}}}
	if err := ob.Enqueue(e); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var replayed bool
	replay := func() error {
		replayed = true
		return nil
	}
	publish := func(outbox.Entry) error { return nil }

	if err := o.SendOutbox(publish, replay); err != nil {
		t.Fatalf("send outbox: %v", err)
	}
	if !replayed {
		t.Fatalf("expected replay to be triggered on divergence")
	}
}

func TestEventCodecRoundTrip(t *testing.T) {
	var topicKey ngtypes.SymKey
	copy(topicKey[:], []byte("0123456789abcdef0123456789abcdef"))

	commit := &ngtypes.Commit{Seq: 7, Branch: ngtypes.BranchID{0x04}}

	ciphertext, err := encryptEventCommit(topicKey, commit)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	event := ngtypes.Event{Seq: 7, EncryptedBody: ciphertext}

	got, err := decryptEventCommit(topicKey, event)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got.Branch != commit.Branch || got.Seq != commit.Seq {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestOrmScopeIndexingAndSweep(t *testing.T) {
	o := New(blockstore.NewMemStore(), noopConstruct, outbox.NewMemOutbox())

	schema := orm.Schema{"Shape": &shapequery.Shape{IRI: "Shape"}}
	initial, err := o.OrmStart(schema, "Shape", []string{"did:ng:x:scope1"}, nil, "session-1")
	if err != nil {
		t.Fatalf("orm start: %v", err)
	}
	ids := o.SubscriptionsForScope("did:ng:x:scope1")
	if len(ids) != 1 || ids[0] != initial.SubscriptionID {
		t.Fatalf("expected subscription indexed under its scope, got %v", ids)
	}

	o.OrmStop(initial.SubscriptionID)
	if n := o.SweepSubscriptions(); n != 1 {
		t.Fatalf("expected sweep to reap 1 subscription, got %d", n)
	}
	if ids := o.SubscriptionsForScope("did:ng:x:scope1"); len(ids) != 0 {
		t.Fatalf("expected scope index cleared after sweep, got %v", ids)
	}
}
