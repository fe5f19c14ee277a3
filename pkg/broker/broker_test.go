package broker

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
)

type fakeSender struct {
	sent    []wire.Message
	failAll bool
}

func (f *fakeSender) Send(msg wire.Message) error {
	if f.failAll {
		return errSendFailed
	}
	f.sent = append(f.sent, msg)
	return nil
}

var errSendFailed = errors.New("send failed")

func topicFromKeypair(pub ed25519.PublicKey) ngtypes.TopicID {
	var t ngtypes.TopicID
	t.Kind = ngtypes.KeyKindEd25519
	copy(t.Bytes[:], pub)
	return t
}

// TestTopicSubscribePublisherRequiresPin checks a peer cannot subscribe as
// publisher before pinning the owning repo.
func TestTopicSubscribePublisherRequiresPin(t *testing.T) {
	table := NewTopicTable()
	pub, priv, _ := ed25519.GenerateKey(nil)
	topic := topicFromKeypair(pub)
	var overlay ngtypes.OverlayID
	peer := PeerKey{PeerDH: ngtypes.PubKey{Kind: ngtypes.KeyKindX25519}}

	proof := ed25519.Sign(priv, peer.PeerDH.Bytes[:])
	if err := table.Subscribe(overlay, topic, peer, true, proof); err == nil {
		t.Fatal("expected subscribe-as-publisher to fail before PinRepo")
	}

	table.PinRepo(overlay, topic, peer)
	if err := table.Subscribe(overlay, topic, peer, true, proof); err != nil {
		t.Fatalf("expected subscribe-as-publisher to succeed after PinRepo, got %v", err)
	}
}

// TestTopicAtMostOnePublisher checks a second distinct peer cannot become
// publisher while one is already registered.
func TestTopicAtMostOnePublisher(t *testing.T) {
	table := NewTopicTable()
	pub, priv, _ := ed25519.GenerateKey(nil)
	topic := topicFromKeypair(pub)
	var overlay ngtypes.OverlayID

	peer1 := PeerKey{PeerDH: ngtypes.PubKey{Bytes: [32]byte{1}}}
	peer2 := PeerKey{PeerDH: ngtypes.PubKey{Bytes: [32]byte{2}}}
	table.PinRepo(overlay, topic, peer1)
	table.PinRepo(overlay, topic, peer2)

	proof1 := ed25519.Sign(priv, peer1.PeerDH.Bytes[:])
	proof2 := ed25519.Sign(priv, peer2.PeerDH.Bytes[:])

	if err := table.Subscribe(overlay, topic, peer1, true, proof1); err != nil {
		t.Fatalf("first publisher subscribe failed: %v", err)
	}
	if err := table.Subscribe(overlay, topic, peer2, true, proof2); err == nil {
		t.Fatal("expected second publisher subscribe to fail")
	}
}

// TestDispatchEventPrunesFailedPeer checks a subscriber whose send fails is
// removed from the topic's subscriber set.
func TestDispatchEventPrunesFailedPeer(t *testing.T) {
	reg := NewRegistry()
	pub, _, _ := ed25519.GenerateKey(nil)
	topic := topicFromKeypair(pub)
	var overlay ngtypes.OverlayID

	good := PeerKey{PeerDH: ngtypes.PubKey{Bytes: [32]byte{1}}}
	bad := PeerKey{PeerDH: ngtypes.PubKey{Bytes: [32]byte{2}}}
	reg.topics.stateFor(overlay, topic).subscribers[good] = true
	reg.topics.stateFor(overlay, topic).subscribers[bad] = true

	goodSender := &fakeSender{}
	badSender := &fakeSender{failAll: true}
	reg.peers[good] = &BrokerPeerInfo{Sender: goodSender, PeerDH: good.PeerDH}
	reg.peers[bad] = &BrokerPeerInfo{Sender: badSender, PeerDH: bad.PeerDH}

	event := ngtypes.Event{TopicID: topic}
	delivered := reg.DispatchEvent(overlay, event, PeerKey{})

	if len(delivered) != 1 || delivered[0] != good {
		t.Fatalf("expected only good peer delivered, got %v", delivered)
	}
	remaining := reg.Topics().Subscribers(overlay, topic)
	for _, p := range remaining {
		if p == bad {
			t.Fatal("expected bad peer to be pruned from subscriber set")
		}
	}
}

// TestBloomFilterNoFalseNegatives checks every added id is always reported
// as possibly-known.
func TestBloomFilterNoFalseNegatives(t *testing.T) {
	f := NewKnownCommitsFilter()
	ids := make([]ngtypes.BlockID, 10)
	for i := range ids {
		ids[i][0] = byte(i)
		ids[i][1] = byte(i * 7)
		f.Add(ids[i])
	}
	for _, id := range ids {
		if !f.MightContain(id) {
			t.Fatalf("expected id %s to be reported known", id)
		}
	}

	roundTripped, err := DecodeKnownCommitsFilter(f.Bytes())
	if err != nil {
		t.Fatalf("decode filter: %v", err)
	}
	for _, id := range ids {
		if !roundTripped.MightContain(id) {
			t.Fatalf("round-tripped filter lost id %s", id)
		}
	}
}
