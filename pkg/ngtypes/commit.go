package ngtypes

// QuorumType is the signature policy required to accept a commit (glossary:
// Quorum).
type QuorumType uint8

const (
	QuorumNone QuorumType = iota
	QuorumPartialOrder
	QuorumTotalOrder
)

// Permission is a capability an author must hold for the verifier to accept
// a given commit body (spec section 4.3).
type Permission uint8

const (
	PermCreate Permission = iota
	PermAddMember
	PermRemoveMember
	PermAddPermission
	PermRemovePermission
	PermTransaction
	PermMoveToStore
)

// CommitBodyKind tags the CommitBody union. Dispatch throughout the
// verifier is a switch on Kind, per spec section 9 ("sum types over
// inheritance... dispatch is a match on the tag").
type CommitBodyKind uint8

const (
	BodyRepository CommitBodyKind = iota
	BodyRootBranch
	BodyUpdateRootBranch
	BodyAddMember
	BodyRemoveMember
	BodyQuorum
	BodyAddPermission
	BodyRemovePermission
	BodyAddBranch
	BodyChangeMainBranch
	BodyRemoveBranch
	BodyAddName
	BodyRemoveName
	BodyBranch
	BodyUpdateBranch
	BodySnapshot
	BodyTransaction
	BodyAddFile
	BodyRemoveFile
	BodySyncSignature
	BodyAsyncSignature
	BodyStoreUpdate
	BodyAddSignerCap
)

func (k CommitBodyKind) String() string {
	names := map[CommitBodyKind]string{
		BodyRepository: "Repository", BodyRootBranch: "RootBranch",
		BodyUpdateRootBranch: "UpdateRootBranch", BodyAddMember: "AddMember",
		BodyRemoveMember: "RemoveMember", BodyQuorum: "Quorum",
		BodyAddPermission: "AddPermission", BodyRemovePermission: "RemovePermission",
		BodyAddBranch: "AddBranch", BodyChangeMainBranch: "ChangeMainBranch",
		BodyRemoveBranch: "RemoveBranch", BodyAddName: "AddName",
		BodyRemoveName: "RemoveName", BodyBranch: "Branch",
		BodyUpdateBranch: "UpdateBranch", BodySnapshot: "Snapshot",
		BodyTransaction: "Transaction", BodyAddFile: "AddFile",
		BodyRemoveFile: "RemoveFile", BodySyncSignature: "SyncSignature",
		BodyAsyncSignature: "AsyncSignature", BodyStoreUpdate: "StoreUpdate",
		BodyAddSignerCap: "AddSignerCap",
	}
	if n, ok := names[k]; ok {
		return n
	}
	return "Unknown"
}

// MustBeRootCommit reports whether a commit of this body kind must be the
// first commit on its branch: Repository and Branch. RootBranch is not
// included.
func (k CommitBodyKind) MustBeRootCommit() bool {
	switch k {
	case BodyRepository, BodyBranch:
		return true
	default:
		return false
	}
}

// RequiresTotalOrder reports whether this body kind requires a TotalOrder
// quorum signature (spec section 4.3 table). Snapshot is handled separately
// since it depends on the Hard flag, not just the kind.
func (k CommitBodyKind) RequiresTotalOrder() bool {
	switch k {
	case BodyUpdateRootBranch, BodyAddMember, BodyRemoveMember, BodyQuorum,
		BodyAddPermission, BodyRemovePermission, BodyUpdateBranch, BodyRemoveBranch:
		return true
	default:
		return false
	}
}

// RequiredPermissions returns the set of permissions, any one of which
// suffices for the author to be authorized to commit this body kind.
// Grounded on original_source/p2p-repo/src/types.rs's
// CommitBodyV0::required_permission match.
func (k CommitBodyKind) RequiredPermissions() []Permission {
	switch k {
	case BodyRepository, BodyRootBranch:
		return []Permission{PermCreate}
	case BodyUpdateRootBranch:
		return []Permission{PermRemoveMember, PermMoveToStore}
	case BodyAddMember:
		return []Permission{PermCreate, PermAddMember}
	case BodyRemoveMember:
		return []Permission{PermRemoveMember}
	case BodyQuorum:
		return []Permission{PermCreate, PermAddMember, PermRemoveMember}
	case BodyAddPermission, BodyRemovePermission:
		return []Permission{PermAddPermission, PermRemovePermission}
	case BodyAddBranch, BodyChangeMainBranch, BodyRemoveBranch, BodyAddName, BodyRemoveName:
		return []Permission{PermCreate, PermAddMember}
	case BodyBranch:
		return nil // authorized by topic/branch-creation flow, not a member permission
	case BodyUpdateBranch:
		return []Permission{PermTransaction, PermAddMember}
	case BodyTransaction, BodyAddFile, BodyRemoveFile:
		return []Permission{PermTransaction}
	case BodySnapshot:
		return []Permission{PermTransaction}
	case BodySyncSignature, BodyAsyncSignature, BodyStoreUpdate, BodyAddSignerCap:
		return nil
	default:
		return nil
	}
}

// CommitBody is the decrypted payload of a commit's root object. Only the
// fields relevant to the active Kind are populated; this mirrors a tagged
// union without resorting to an interface, matching the teacher's
// struct-with-discriminant idiom used for wire messages.
type CommitBody struct {
	Kind CommitBodyKind

	// Repository
	RepoCreator     PubKey
	VerificationProg []byte

	// RootBranch
	StoreOverlay           OverlayID
	RootTopicID            TopicID
	EncryptedTopicPrivKey  []byte
	InheritPerms           *ObjectRef
	ReconciliationInterval uint32
	StoreSignature         []byte

	// Branch / AddBranch
	RepoRef               RepoID
	BranchTopicID         TopicID
	BranchEncTopicPrivKey []byte
	RootBranchDefID       BlockID

	// AddMember / RemoveMember
	MemberID    PubKey
	Permissions []Permission

	// Quorum
	QuorumMembers   []PubKey
	QuorumThreshold int

	// AddPermission / RemovePermission
	TargetMember PubKey
	Permission   Permission

	// Transaction / AddFile / RemoveFile
	TransactionPayload []byte
	FileRef            ObjectRef

	// Snapshot
	Hard bool

	// SyncSignature / AsyncSignature
	SignatureBytes []byte
	CoveredCommits []BlockID
	Threshold      int

	// StoreUpdate
	NewStoreOverlay OverlayID

	// AddSignerCap
	SignerCapRef ObjectRef

	// Naming (AddName/RemoveName/ChangeMainBranch)
	Name string

	Metadata []byte
}

// CommitHeader carries the non-empty deps/acks/refs of a commit, when
// present (spec section 3: "a commit-root block must carry a header
// reference iff the commit has non-empty deps/acks/refs").
type CommitHeader struct {
	Deps []ObjectRef
	Acks []ObjectRef
	Refs []ObjectRef
}

func (h *CommitHeader) IsEmpty() bool {
	return h == nil || (len(h.Deps) == 0 && len(h.Acks) == 0 && len(h.Refs) == 0)
}

// Commit is the logical commit record: (author, seq, branch, header_keys?,
// quorum_type, metadata, body_ref, signature) per spec section 3.
type Commit struct {
	Author       PubKey
	Seq          uint64
	Branch       BranchID
	HeaderRef    *ObjectRef // set iff the commit has a non-empty header
	QuorumType   QuorumType
	Metadata     []byte
	BodyRef      ObjectRef
	Signature    []byte

	// Resolved lazily by Object.Load; nil until loaded.
	Body   *CommitBody
	Header *CommitHeader
}

// ID is the block id of the commit's root object.
func (c *Commit) ID() BlockID {
	return c.BodyRef.ID
}

// Ref returns the ObjectRef an ack/dep/ref entry would use to point at this
// commit.
func (c *Commit) Ref() ObjectRef {
	return c.BodyRef
}
