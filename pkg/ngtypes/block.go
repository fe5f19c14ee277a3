package ngtypes

// Block is the immutable, content-addressed unit of storage (spec section
// 3). It is either a leaf chunk, an internal Merkle node, or the root of a
// commit (in which case CommitHeaderID/-Key are set).
type Block struct {
	ContentID        BlockID
	ContentKey       SymKey
	Children         []BlockID
	CommitHeaderID   *BlockID
	CommitHeaderKey  *SymKey
	EncryptedPayload []byte
}

// IsLeaf reports whether the block has no children, i.e. it is a terminal
// chunk rather than an internal Merkle node.
func (b *Block) IsLeaf() bool {
	return len(b.Children) == 0
}

// IsCommitRoot reports whether this block is the root of a commit, i.e. it
// carries a header reference.
func (b *Block) IsCommitRoot() bool {
	return b.CommitHeaderID != nil
}

// MaxObjectLoadDepth bounds the recursive descent Object.Load performs
// through a Merkle tree, preventing a malicious or corrupted chain of
// children from causing unbounded recursion.
const MaxObjectLoadDepth = 256
