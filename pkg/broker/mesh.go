package broker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	log "github.com/sirupsen/logrus"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

// Mesh is the broker-to-broker replication transport: a libp2p host
// running gossipsub, one topic per overlay this process serves. It is
// separate from the Noise-authenticated client/core protocol conn.go
// drives — that protocol terminates at one broker; Mesh is how an event
// accepted by one broker reaches every other broker covering the same
// overlay, so their own locally-subscribed clients see it too.
type Mesh struct {
	host   libp2phost
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[ngtypes.OverlayID]*pubsub.Topic

	// OnEvent is invoked for every event received from a remote broker,
	// after mesh-level decoding but before any local dispatch; the host
	// wires this to Registry.DispatchEvent.
	OnEvent func(overlay ngtypes.OverlayID, event ngtypes.Event)
}

// libp2phost is the subset of host.Host Mesh depends on, named so Mesh's
// field doesn't repeat the libp2p import alias at every call site.
type libp2phost interface {
	Close() error
}

// meshMessage is the gossipsub wire envelope carrying one event; it is
// deliberately flatter than wire.Message since it never crosses the
// Noise-framed client protocol.
type meshMessage struct {
	Event ngtypes.Event `json:"event"`
}

// overlayTopicName derives the gossipsub topic name for an overlay, used
// both to Join and to log which mesh topic a peer subscribed to.
func overlayTopicName(overlay ngtypes.OverlayID) string {
	return "ng-overlay-" + hex.EncodeToString(overlay[:])
}

// NewMesh bootstraps a libp2p host with gossipsub and mDNS discovery,
// listening on listenAddr (a libp2p multiaddr string, e.g.
// "/ip4/0.0.0.0/tcp/0") and dialing the given bootstrap peer multiaddrs.
func NewMesh(listenAddr string, bootstrapPeers []string, discoveryTag string) (*Mesh, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("new libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("new gossipsub: %w", err)
	}

	m := &Mesh{host: h, pubsub: ps, ctx: ctx, cancel: cancel, topics: make(map[ngtypes.OverlayID]*pubsub.Topic)}

	for _, addr := range bootstrapPeers {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			log.WithError(err).WithField("addr", addr).Warn("mesh: invalid bootstrap addr")
			continue
		}
		if err := h.Connect(ctx, *pi); err != nil {
			log.WithError(err).WithField("addr", addr).Warn("mesh: bootstrap dial failed")
			continue
		}
	}

	mdns.NewMdnsService(h, discoveryTag, meshNotifee{host: h, ctx: ctx})

	return m, nil
}

// meshNotifee connects to peers mDNS discovers on the local network,
// mirroring the teacher's HandlePeerFound behavior without the
// NodeID-keyed bookkeeping this package's Registry already owns.
type meshNotifee struct {
	host libp2phost
	ctx  context.Context
}

func (n meshNotifee) HandlePeerFound(info peer.AddrInfo) {
	h, ok := n.host.(interface {
		Connect(context.Context, peer.AddrInfo) error
		ID() peer.ID
	})
	if !ok {
		return
	}
	if info.ID == h.ID() {
		return
	}
	if err := h.Connect(n.ctx, info); err != nil {
		log.WithError(err).WithField("peer", info.ID.String()).Debug("mesh: mDNS connect failed")
		return
	}
	log.WithField("peer", info.ID.String()).Info("mesh: connected via mDNS")
}

func (m *Mesh) topicFor(overlay ngtypes.OverlayID) (*pubsub.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.topics[overlay]; ok {
		return t, nil
	}
	t, err := m.pubsub.Join(overlayTopicName(overlay))
	if err != nil {
		return nil, fmt.Errorf("join overlay topic: %w", err)
	}
	m.topics[overlay] = t

	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe overlay topic: %w", err)
	}
	go m.readLoop(overlay, sub)

	return t, nil
}

func (m *Mesh) readLoop(overlay ngtypes.OverlayID, sub *pubsub.Subscription) {
	self := m.selfID()
	for {
		msg, err := sub.Next(m.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == self {
			continue
		}
		var env meshMessage
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.WithError(err).Debug("mesh: malformed event envelope")
			continue
		}
		if m.OnEvent != nil {
			m.OnEvent(overlay, env.Event)
		}
	}
}

func (m *Mesh) selfID() peer.ID {
	h, ok := m.host.(interface{ ID() peer.ID })
	if !ok {
		return ""
	}
	return h.ID()
}

// Broadcast gossips event to every other broker subscribed to overlay's
// mesh topic, joining it first if this is the first event seen for that
// overlay (spec section 4.7: a PublishEvent accepted by one broker must
// reach every subscriber, wherever in the broker fleet they connected).
func (m *Mesh) Broadcast(overlay ngtypes.OverlayID, event ngtypes.Event) error {
	t, err := m.topicFor(overlay)
	if err != nil {
		return err
	}
	data, err := json.Marshal(meshMessage{Event: event})
	if err != nil {
		return fmt.Errorf("marshal mesh event: %w", err)
	}
	if err := t.Publish(m.ctx, data); err != nil {
		return fmt.Errorf("publish overlay topic: %w", err)
	}
	return nil
}

// Close tears down the mesh's libp2p host and cancels its context.
func (m *Mesh) Close() error {
	m.cancel()
	return m.host.Close()
}
