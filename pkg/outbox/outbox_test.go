package outbox

import (
	"testing"
	"time"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

func TestMemOutboxFIFO(t *testing.T) {
	ob := NewMemOutbox()
	e1 := Entry{Event: ngtypes.Event{Seq: 1}}
	e2 := Entry{Event: ngtypes.Event{Seq: 2}}
	if err := ob.Enqueue(e1); err != nil {
		t.Fatal(err)
	}
	if err := ob.Enqueue(e2); err != nil {
		t.Fatal(err)
	}
	got, _ := ob.Drain()
	if len(got) != 2 || got[0].Event.Seq != 1 || got[1].Event.Seq != 2 {
		t.Fatalf("unexpected drain order: %+v", got)
	}
	if err := ob.Ack(1); err != nil {
		t.Fatal(err)
	}
	got, _ = ob.Drain()
	if len(got) != 1 || got[0].Event.Seq != 2 {
		t.Fatalf("ack did not remove head: %+v", got)
	}
}

// TestReplayOnDivergence models end-to-end scenario 7: two events exist in
// the outbox for branch B; between writes local state was cleared, so B is
// unknown. CheckDivergence must flag the first entry.
func TestReplayOnDivergence(t *testing.T) {
	branch := ngtypes.BranchID{0x01}
	c1 := ngtypes.ObjectRef{ID: ngtypes.BlockID{0x10}}
	c2 := ngtypes.ObjectRef{ID: ngtypes.BlockID{0x20}}

	entries := []Entry{
		{Branch: branch, Acks: nil, SelfRef: c1},
		{Branch: branch, Acks: []ngtypes.ObjectRef{c1}, SelfRef: c2},
	}

	unknown := func(b ngtypes.BranchID) ([]ngtypes.ObjectRef, bool) { return nil, false }
	if idx := CheckDivergence(entries, unknown); idx != 0 {
		t.Fatalf("expected divergence at index 0 when branch unknown, got %d", idx)
	}

	known := func(b ngtypes.BranchID) ([]ngtypes.ObjectRef, bool) { return nil, true }
	if idx := CheckDivergence(entries, known); idx != -1 {
		t.Fatalf("expected no divergence once branch state is rebuilt, got %d", idx)
	}
}

func TestSeqReserverMonotonicAcrossRestart(t *testing.T) {
	store := &MemSeqStore{}
	r1, err := NewSeqReserver(store)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	var last uint64
	for i := 0; i < 5; i++ {
		seq, err := r1.Reserve(now)
		if err != nil {
			t.Fatal(err)
		}
		if seq <= last {
			t.Fatalf("seq did not increase: %d <= %d", seq, last)
		}
		last = seq
	}

	// Simulate a restart: a fresh reserver loads from the same store.
	r2, err := NewSeqReserver(store)
	if err != nil {
		t.Fatal(err)
	}
	seq, err := r2.Reserve(now)
	if err != nil {
		t.Fatal(err)
	}
	if seq <= last {
		t.Fatalf("seq regressed across restart: %d <= %d", seq, last)
	}
}
