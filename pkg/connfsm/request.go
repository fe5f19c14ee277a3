package connfsm

import (
	"context"
	"fmt"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
)

// Sender abstracts the underlying framed transport so Call can be tested
// without a real socket.
type Sender interface {
	Send(msg wire.Message) error
}

// Call registers an actor, sends req over sender with the allocated
// RequestID attached, and blocks until either a reply arrives, ctx is
// cancelled, or the FSM is closed (spec section 4.5: "every outbound
// request is matched to its response by a signed id; cancellation simply
// drops the actor").
func (f *FSM) Call(ctx context.Context, sender Sender, req wire.Message) (wire.Message, error) {
	id, replies := f.RegisterActor()
	req.RequestID = id
	if err := sender.Send(req); err != nil {
		f.mu.Lock()
		delete(f.actors, id)
		f.mu.Unlock()
		return wire.Message{}, fmt.Errorf("send request: %w", err)
	}
	select {
	case reply, ok := <-replies:
		if !ok {
			return wire.Message{}, fmt.Errorf("request %d cancelled: %w", id, ngerrors.ErrProtocol)
		}
		return reply, nil
	case <-ctx.Done():
		f.mu.Lock()
		delete(f.actors, id)
		f.mu.Unlock()
		return wire.Message{}, ctx.Err()
	}
}

// Reply sends a response carrying the same RequestID as the original
// request, per the server/client id-sign convention (spec section 4.5).
func Reply(sender Sender, requestID int64, resp wire.Message) error {
	resp.RequestID = requestID
	return sender.Send(resp)
}
