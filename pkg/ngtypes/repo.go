package ngtypes

// Repository is created by a Repository commit at branch root (spec
// section 3).
type Repository struct {
	ID                RepoID
	VerificationProg  []byte
	Creator           PubKey
	Metadata          []byte
}

// RootBranch holds the per-repo root branch definition.
type RootBranch struct {
	BranchID               BranchID // == RepoID
	StoreOverlay           OverlayID
	TopicID                TopicID
	EncryptedTopicPrivKey  []byte
	InheritPerms           *ObjectRef
	ReconciliationInterval uint32
	StoreSignature         []byte
	Metadata               []byte
}

// Branch is a mutable per-branch record: its current heads and which peers
// have it open (and as which role).
type Branch struct {
	ID              BranchID
	RepoRef         RepoID
	RootBranchDefID BlockID
	TopicID         TopicID
	EncTopicPrivKey []byte
	Metadata        []byte

	CurrentHeads   []ObjectRef
	// OpenedBranches maps a peer's string identity to whether it is
	// connected as publisher (true) or subscriber (false).
	OpenedBranches map[string]bool

	Members     map[string][]Permission // member pubkey string -> permissions
	Quorum      []PubKey
	QuorumMin   int
	MainBranch  bool
}

// HasPermission reports whether author holds any of the required
// permissions on this branch.
func (b *Branch) HasPermission(author PubKey, required []Permission) bool {
	if len(required) == 0 {
		return true
	}
	held, ok := b.Members[author.String()]
	if !ok {
		return false
	}
	heldSet := make(map[Permission]bool, len(held))
	for _, p := range held {
		heldSet[p] = true
	}
	for _, r := range required {
		if heldSet[r] {
			return true
		}
	}
	return false
}

// ReplaceHeadsWithAck sets CurrentHeads = [commitRef], per spec section 4.3
// ("The verifier also maintains branch.current_heads: replace commit.acks
// with [commit.ref]").
func (b *Branch) ReplaceHeadsWithAck(commitRef ObjectRef) {
	b.CurrentHeads = []ObjectRef{commitRef}
}

// TopicKey uniquely identifies a topic within an overlay, used as the key
// of the global topic index (spec section 3).
type TopicKey struct {
	Overlay OverlayID
	Topic   TopicID
}

// TopicIndexEntry is the value side of the topic index: which (repo,
// branch) pair a topic routes to.
type TopicIndexEntry struct {
	Repo   RepoID
	Branch BranchID
}

// Event is the unit carried over a topic: a published commit plus the
// auxiliary blocks a subscriber needs to reconstruct it (spec section 3).
type Event struct {
	PublisherPeer PubKey
	Seq           uint64
	TopicID       TopicID
	EncryptedBody []byte
	AuxBlocks     []Block
}
