package broker

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"lukechampine.com/blake3"
)

// bloomBits and bloomHashes size the known-commits filter attached to a
// TopicSyncReq: small enough to fit in a frame, generous enough that false
// positives only ever cost an extra (harmless) commit re-send (spec
// section 4.7: "pruned by the Bloom filter of known_commits").
const (
	bloomBits   = 8 * 1024
	bloomHashes = 4
)

// KnownCommitsFilter is the wire-encodable Bloom filter a peer attaches to
// a TopicSyncReq to tell the other side which commits it already has.
type KnownCommitsFilter struct {
	set *bitset.BitSet
}

// NewKnownCommitsFilter builds an empty filter.
func NewKnownCommitsFilter() *KnownCommitsFilter {
	return &KnownCommitsFilter{set: bitset.New(bloomBits)}
}

func (f *KnownCommitsFilter) positions(id ngtypes.BlockID) [bloomHashes]uint {
	sum := blake3.Sum256(id[:])
	h1 := binary.LittleEndian.Uint64(sum[0:8])
	h2 := binary.LittleEndian.Uint64(sum[8:16])
	var pos [bloomHashes]uint
	for i := 0; i < bloomHashes; i++ {
		pos[i] = uint((h1 + uint64(i)*h2) % bloomBits)
	}
	return pos
}

// Add marks id as known.
func (f *KnownCommitsFilter) Add(id ngtypes.BlockID) {
	for _, p := range f.positions(id) {
		f.set.Set(p)
	}
}

// MightContain reports whether id is possibly known; false negatives never
// occur, false positives are expected at a low rate.
func (f *KnownCommitsFilter) MightContain(id ngtypes.BlockID) bool {
	for _, p := range f.positions(id) {
		if !f.set.Test(p) {
			return false
		}
	}
	return true
}

// Bytes serializes the filter for the wire.Message.KnownCommits field.
func (f *KnownCommitsFilter) Bytes() []byte {
	b, _ := f.set.MarshalBinary()
	return b
}

// DecodeKnownCommitsFilter reconstructs a filter from its wire bytes.
func DecodeKnownCommitsFilter(raw []byte) (*KnownCommitsFilter, error) {
	set := &bitset.BitSet{}
	if len(raw) > 0 {
		if err := set.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
	} else {
		set = bitset.New(bloomBits)
	}
	return &KnownCommitsFilter{set: set}, nil
}
