package broker

import (
	"context"
	"fmt"

	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
)

// Request sends msg to peer and waits for its matching reply, the broker's
// generic request/response primitive (spec section 4.6: "request<A,B>(user,
// peer, msg) -> SoS<B>"; this implementation returns a single reply rather
// than a stream, since nothing built on top of it needs streaming yet).
func (r *Registry) Request(ctx context.Context, peer PeerKey, msg wire.Message) (wire.Message, error) {
	info, ok := r.Peer(peer)
	if !ok {
		return wire.Message{}, fmt.Errorf("request to %s: %w", peer.PeerDH, errPeerNotConnected)
	}
	return info.FSM.Call(ctx, info.Sender, msg)
}
