package orchestrator

import (
	"fmt"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/outbox"
	"github.com/nextgraph-org/ng-verifier-core/pkg/verifier"
)

// Deliver implements deliver(event, overlay, user) (spec section 4.10): the
// broker's inbound ForwardedEvent hook. It routes the event to its repo and
// branch via the topic index, stores any auxiliary blocks it carried,
// decrypts and verifies the commit it wraps, and — on acceptance — invokes
// the onCommitApplied hook so the quad layer backing ORM subscriptions can
// pick up the change.
func (o *Orchestrator) Deliver(event ngtypes.Event, overlay ngtypes.OverlayID, user *ngtypes.PubKey) error {
	route, err := o.topic.Lookup(overlay, event.TopicID)
	if err != nil {
		return err
	}

	repo, ok := o.Repo(route.Repo)
	if !ok {
		return fmt.Errorf("deliver: %w", ngerrors.ErrRepoNotFound)
	}
	branch, ok := repo.Branches[route.Branch]
	if !ok {
		return fmt.Errorf("deliver: %w", ngerrors.ErrBranchNotFound)
	}

	for _, blk := range event.AuxBlocks {
		if _, err := o.store.Put(overlay, blk); err != nil {
			return fmt.Errorf("deliver: store aux block: %w", err)
		}
	}

	o.mu.Lock()
	topicKey, known := o.topicKeys[route.Branch]
	o.mu.Unlock()
	if !known {
		return fmt.Errorf("deliver: branch %s: %w", route.Branch, ngerrors.ErrTopicKeyUnknown)
	}

	commit, err := decryptEventCommit(topicKey, event)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	if err := verifier.Verify(commit, repo, o.topic, overlay); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	if o.onCommitApplied != nil {
		o.onCommitApplied(route.Repo, route.Branch, commit)
	}
	return nil
}

// PublishFunc hands one outbox entry to the broker for publication (spec
// section 4.6's PublishEvent), returning an error if the send failed.
type PublishFunc func(outbox.Entry) error

// ReplayFunc performs a full local replay of credentials and events,
// called when SendOutbox detects the outbox has diverged from locally
// known branch state (spec section 4.4: "the orchestrator triggers a full
// local replay... before resuming publication").
type ReplayFunc func() error

// SendOutbox implements send_outbox (spec sections 4.4 and 4.10): drains
// the outbox, checks for divergence against locally known branch heads,
// replays if needed, then publishes every entry in order. A publish
// failure re-queues the entries from that point onward, matching "on
// disconnect, new events are re-appended" semantics, and leaves already
// sent entries acknowledged.
func (o *Orchestrator) SendOutbox(publish PublishFunc, replay ReplayFunc) error {
	entries, err := o.outbox.Drain()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	if idx := outbox.CheckDivergence(entries, o.branchHeads); idx >= 0 {
		if replay == nil {
			return fmt.Errorf("send outbox: diverged at entry %d: %w", idx, ngerrors.ErrOutboxDiverged)
		}
		if err := replay(); err != nil {
			return fmt.Errorf("send outbox: replay: %w", err)
		}
	}

	for i, e := range entries {
		if err := publish(e); err != nil {
			if rqErr := o.outbox.Requeue(entries[i:]); rqErr != nil {
				return rqErr
			}
			return fmt.Errorf("send outbox: publish entry %d: %w", i, err)
		}
	}
	return o.outbox.Ack(len(entries))
}

// branchHeads is the outbox.HeadsLookup over this orchestrator's known
// repos, used by SendOutbox's divergence check.
func (o *Orchestrator) branchHeads(branch ngtypes.BranchID) ([]ngtypes.ObjectRef, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, repo := range o.repos {
		if b, ok := repo.Branches[branch]; ok {
			return b.CurrentHeads, true
		}
	}
	return nil, false
}
