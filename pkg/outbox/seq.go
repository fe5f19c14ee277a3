package outbox

import (
	"encoding/binary"
	"os"
	"sync"
	"time"
)

// Reservation batch sizes, chosen by elapsed time since the previous
// reservation (spec section 4.4).
const (
	batchSlow   = 1   // >= 5s since last reservation
	batchMedium = 10  // 1-5s
	batchFast   = 100 // < 1s
)

// SeqStore persists the last reserved seq number per peer so seq never
// regresses across restarts (spec section 4.4 and the universal invariant
// in spec section 8: "seq monotonicity").
type SeqStore interface {
	Load() (uint64, error)
	Save(uint64) error
}

// MemSeqStore is an in-memory SeqStore, useful for tests and ephemeral
// connections (e.g. Local0 / Probe).
type MemSeqStore struct {
	mu  sync.Mutex
	seq uint64
}

func (m *MemSeqStore) Load() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq, nil
}

func (m *MemSeqStore) Save(v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = v
	return nil
}

// FileSeqStore persists a little-endian u64 to the `lastseq<peerid-hash>`
// file named in spec section 6's persisted-state table.
type FileSeqStore struct {
	Path string
}

func (f *FileSeqStore) Load() (uint64, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(data) < 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(data[:8]), nil
}

func (f *FileSeqStore) Save(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return os.WriteFile(f.Path, buf[:], 0o600)
}

// SeqReserver hands out batches of sequence numbers per peer, reserving
// ahead of actual use so a crash never causes seq reuse, and sizing the
// batch by how recently the peer last reserved (spec section 4.4: "size
// heuristically 1, 10, or 100 based on the elapsed time since the last
// reservation").
type SeqReserver struct {
	mu       sync.Mutex
	store    SeqStore
	lastAt   time.Time
	nextFree uint64
	reserved uint64 // reserved-but-maybe-unused upper bound, persisted
}

// NewSeqReserver loads the current persisted seq as the starting point.
func NewSeqReserver(store SeqStore) (*SeqReserver, error) {
	v, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &SeqReserver{store: store, nextFree: v + 1, reserved: v}, nil
}

// Reserve hands out the next seq number, growing the persisted reservation
// in a batch when the in-memory pool is exhausted.
func (r *SeqReserver) Reserve(now time.Time) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextFree > r.reserved {
		batch := batchSize(now, r.lastAt)
		r.reserved += uint64(batch)
		if err := r.store.Save(r.reserved); err != nil {
			return 0, err
		}
	}
	seq := r.nextFree
	r.nextFree++
	r.lastAt = now
	return seq, nil
}

func batchSize(now, last time.Time) int {
	if last.IsZero() {
		return batchSlow
	}
	elapsed := now.Sub(last)
	switch {
	case elapsed >= 5*time.Second:
		return batchSlow
	case elapsed >= 1*time.Second:
		return batchMedium
	default:
		return batchFast
	}
}
