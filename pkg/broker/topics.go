package broker

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

// topicKey is the subscription table's key, identical in shape to
// ngtypes.TopicKey but kept local so broker can evolve independently of
// the verifier's topic index.
type topicKey struct {
	Overlay ngtypes.OverlayID
	Topic   ngtypes.TopicID
}

// topicState holds the publisher/subscriber sets for one (overlay, topic)
// pair, enforcing the at-most-one-publisher invariant of spec section 4.7.
type topicState struct {
	publisher   *PeerKey
	subscribers map[PeerKey]bool
	pinned      map[PeerKey]bool
}

// TopicTable is the server-side subscription bookkeeping of Module G.
type TopicTable struct {
	mu     sync.Mutex
	topics map[topicKey]*topicState
}

func NewTopicTable() *TopicTable {
	return &TopicTable{topics: make(map[topicKey]*topicState)}
}

func (t *TopicTable) stateFor(overlay ngtypes.OverlayID, topic ngtypes.TopicID) *topicState {
	key := topicKey{Overlay: overlay, Topic: topic}
	s, ok := t.topics[key]
	if !ok {
		s = &topicState{subscribers: make(map[PeerKey]bool), pinned: make(map[PeerKey]bool)}
		t.topics[key] = s
	}
	return s
}

// PinRepo records that peer has pinned the repo owning this topic, the
// prerequisite for subscribing as publisher (spec section 4.7: "a peer
// must first PinRepo (or be pinned) before subscribing as publisher").
func (t *TopicTable) PinRepo(overlay ngtypes.OverlayID, topic ngtypes.TopicID, peer PeerKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateFor(overlay, topic).pinned[peer] = true
}

// Subscribe adds peer as a subscriber, or as the sole publisher if
// asPublisher is set. proof must be a valid signature by the topic's
// private key over the peer's own DH public key, demonstrating possession
// (spec section 4.7: "TopicSub with as_publisher requires the requester to
// prove possession of the topic private key via signature").
func (t *TopicTable) Subscribe(overlay ngtypes.OverlayID, topic ngtypes.TopicID, peer PeerKey, asPublisher bool, proof []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stateFor(overlay, topic)

	if asPublisher {
		if !s.pinned[peer] {
			return fmt.Errorf("peer must pin repo before publishing on topic %s: %w", topic, ngerrors.ErrAccessDenied)
		}
		if !ed25519.Verify(ed25519.PublicKey(topic.Bytes[:]), peer.PeerDH.Bytes[:], proof) {
			return fmt.Errorf("topic sub proof invalid for topic %s: %w", topic, ngerrors.ErrInvalidSignature)
		}
		if s.publisher != nil && *s.publisher != peer {
			return fmt.Errorf("topic %s already has a publisher: %w", topic, ngerrors.ErrAccessDenied)
		}
		s.publisher = &peer
		return nil
	}

	s.subscribers[peer] = true
	return nil
}

// Subscribers returns every peer currently subscribed to (overlay, topic),
// publisher included, as a stable slice snapshot.
func (t *TopicTable) Subscribers(overlay ngtypes.OverlayID, topic ngtypes.TopicID) []PeerKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.topics[topicKey{Overlay: overlay, Topic: topic}]
	if !ok {
		return nil
	}
	out := make([]PeerKey, 0, len(s.subscribers)+1)
	if s.publisher != nil {
		out = append(out, *s.publisher)
	}
	for p := range s.subscribers {
		out = append(out, p)
	}
	return out
}

// dropPeerFromTopic removes peer from one topic's publisher/subscriber
// sets, called when a ForwardedEvent send to it fails.
func (t *TopicTable) dropPeerFromTopic(overlay ngtypes.OverlayID, topic ngtypes.TopicID, peer PeerKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.topics[topicKey{Overlay: overlay, Topic: topic}]
	if !ok {
		return
	}
	delete(s.subscribers, peer)
	if s.publisher != nil && *s.publisher == peer {
		s.publisher = nil
	}
}

// dropPeer removes peer from every topic it is subscribed to, called once
// its connection's shutdown channel fires.
func (t *TopicTable) dropPeer(peer PeerKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.topics {
		delete(s.subscribers, peer)
		if s.publisher != nil && *s.publisher == peer {
			s.publisher = nil
		}
	}
}

// ValidatePublish checks that event.TopicID actually routes within overlay
// before DispatchEvent fans it out (spec section 4.7: "PublishEvent
// validates the event's topic matches the declared overlay").
func (t *TopicTable) ValidatePublish(overlay ngtypes.OverlayID, event ngtypes.Event, publisher PeerKey) error {
	t.mu.Lock()
	s, ok := t.topics[topicKey{Overlay: overlay, Topic: event.TopicID}]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("topic %s not routed in overlay %s: %w", event.TopicID, overlay, ngerrors.ErrTopicNotFound)
	}
	if s.publisher == nil || *s.publisher != publisher {
		return fmt.Errorf("peer is not the publisher of topic %s: %w", event.TopicID, ngerrors.ErrAccessDenied)
	}
	return nil
}
