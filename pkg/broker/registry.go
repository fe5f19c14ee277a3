// Package broker implements Modules F and G: the process-singleton
// connection registry and the per-topic publish/subscribe bookkeeping that
// sits on top of it.
package broker

import (
	"fmt"
	"sync"

	"github.com/nextgraph-org/ng-verifier-core/pkg/connfsm"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
	log "github.com/sirupsen/logrus"
)

var brokerLog = log.WithField("component", "broker")

// PeerKey identifies an authenticated peer: an optional user (nil for a
// core-to-core link with no end user) paired with the peer's DH public key.
type PeerKey struct {
	User   *ngtypes.PubKey
	PeerDH ngtypes.PubKey
}

// BindAddrPair keys a pre-authentication connection by its local and
// remote bind addresses.
type BindAddrPair struct {
	Local  string
	Remote string
}

// BrokerPeerInfo is the registry's record for one authenticated peer.
type BrokerPeerInfo struct {
	FSM    *connfsm.FSM
	Sender connfsm.Sender
	User   *ngtypes.PubKey
	PeerDH ngtypes.PubKey
}

// DirectConnection is a core-to-core link, keyed by bind address rather
// than by authenticated peer.
type DirectConnection struct {
	FSM    *connfsm.FSM
	Sender connfsm.Sender
}

// Registry is the process-singleton connection table of spec section 4.6.
type Registry struct {
	mu                   sync.Mutex
	peers                map[PeerKey]*BrokerPeerInfo
	anonymousConnections map[BindAddrPair]*connfsm.FSM
	directConnections    map[string]*DirectConnection

	topics *TopicTable
}

// NewRegistry builds an empty broker registry.
func NewRegistry() *Registry {
	return &Registry{
		peers:                make(map[PeerKey]*BrokerPeerInfo),
		anonymousConnections: make(map[BindAddrPair]*connfsm.FSM),
		directConnections:    make(map[string]*DirectConnection),
		topics:               NewTopicTable(),
	}
}

// Topics exposes the registry's topic subscription table.
func (r *Registry) Topics() *TopicTable { return r.topics }

// Accept parks a pre-authentication connection under anonymousConnections
// and spawns a goroutine watching its shutdown channel, removing it from
// the registry once the connection terminates (spec section 4.6: "accept
// parks the pre-auth connection... spawns a watcher on its shutdown
// channel").
func (r *Registry) Accept(fsm *connfsm.FSM, local, remote string) {
	key := BindAddrPair{Local: local, Remote: remote}
	r.mu.Lock()
	r.anonymousConnections[key] = fsm
	r.mu.Unlock()

	go func() {
		reason := <-fsm.Shutdown()
		r.mu.Lock()
		delete(r.anonymousConnections, key)
		r.mu.Unlock()
		if reason.NetError != nil {
			brokerLog.WithField("remote", remote).WithError(reason.NetError).Debug("anonymous connection closed")
		}
	}()
}

// AttachAndAuthorizePeerID moves a connection from anonymousConnections
// into peers once ClientAuth succeeds, recording the authenticated user on
// the FSM and spawning the peers-table watcher (spec section 4.6).
func (r *Registry) AttachAndAuthorizePeerID(local, remote string, user *ngtypes.PubKey, peerDH ngtypes.PubKey, fsm *connfsm.FSM, sender connfsm.Sender) *BrokerPeerInfo {
	key := BindAddrPair{Local: local, Remote: remote}
	peerKey := PeerKey{User: user, PeerDH: peerDH}
	info := &BrokerPeerInfo{FSM: fsm, Sender: sender, User: user, PeerDH: peerDH}

	r.mu.Lock()
	delete(r.anonymousConnections, key)
	r.peers[peerKey] = info
	r.mu.Unlock()

	go func() {
		reason := <-fsm.Shutdown()
		r.mu.Lock()
		delete(r.peers, peerKey)
		r.mu.Unlock()
		r.topics.dropPeer(peerKey)
		if reason.PeerID != nil {
			brokerLog.WithField("peer", reason.PeerID.String()).Debug("peer connection closed cleanly")
		} else if reason.NetError != nil {
			brokerLog.WithField("peer", peerDH.String()).WithError(reason.NetError).Warn("peer connection closed with error")
		}
	}()

	return info
}

// AttachDirect registers a core-to-core link.
func (r *Registry) AttachDirect(bindAddr string, fsm *connfsm.FSM, sender connfsm.Sender) {
	r.mu.Lock()
	r.directConnections[bindAddr] = &DirectConnection{FSM: fsm, Sender: sender}
	r.mu.Unlock()
}

// Peer looks up an authenticated peer by key.
func (r *Registry) Peer(key PeerKey) (*BrokerPeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[key]
	return p, ok
}

// DispatchEvent fans an event out to every locally subscribed peer for the
// event's topic, excluding the sender. Any peer whose send fails is pruned
// from the topic's subscriber set (spec section 4.6).
func (r *Registry) DispatchEvent(overlay ngtypes.OverlayID, event ngtypes.Event, sender PeerKey) []PeerKey {
	subscribers := r.topics.Subscribers(overlay, event.TopicID)
	delivered := make([]PeerKey, 0, len(subscribers))

	for _, peerKey := range subscribers {
		if peerKey == sender {
			continue
		}
		info, ok := r.Peer(peerKey)
		if !ok {
			r.topics.dropPeerFromTopic(overlay, event.TopicID, peerKey)
			continue
		}
		msg := wire.Message{Kind: wire.KindForwardedEvent, Event: &event}
		if err := info.Sender.Send(msg); err != nil {
			brokerLog.WithField("peer", peerKey.PeerDH.String()).WithError(err).Warn("forwarded event send failed, pruning subscriber")
			r.topics.dropPeerFromTopic(overlay, event.TopicID, peerKey)
			continue
		}
		delivered = append(delivered, peerKey)
	}
	return delivered
}

// GracefulShutdown closes every connection currently held by the registry.
func (r *Registry) GracefulShutdown() {
	r.mu.Lock()
	fsms := make([]*connfsm.FSM, 0, len(r.peers)+len(r.anonymousConnections)+len(r.directConnections))
	for _, p := range r.peers {
		fsms = append(fsms, p.FSM)
	}
	for _, f := range r.anonymousConnections {
		fsms = append(fsms, f)
	}
	for _, d := range r.directConnections {
		fsms = append(fsms, d.FSM)
	}
	r.mu.Unlock()

	for _, f := range fsms {
		f.Close(connfsm.ShutdownReason{})
	}
	brokerLog.WithField("count", len(fsms)).Info("broker graceful shutdown complete")
}

// errPeerNotConnected is returned by Request when the target peer has no
// live connection.
var errPeerNotConnected = fmt.Errorf("peer not connected: %w", ngerrors.ErrPeerNotConnected)
