// Package connfsm implements Module E: the per-connection Noise-XK
// handshake and the half-duplex state machine that follows it (spec
// section 4.5).
package connfsm

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// State is one node of the connection state machine diagrammed in spec
// section 4.5.
type State uint8

const (
	StateStart State = iota
	StateNoise1
	StateNoise2
	StateNoise3
	StateAdminRequest
	StateClientHello
	StateServerHello
	StateClientAuth
	StateAuthResult
	StateLocal0
	StateProbe
	StateClosing
)

func (s State) String() string {
	names := [...]string{"Start", "Noise1", "Noise2", "Noise3", "AdminRequest",
		"ClientHello", "ServerHello", "ClientAuth", "AuthResult", "Local0",
		"Probe", "Closing"}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Role distinguishes which side of the handshake this FSM drives.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// ProbeTimeout is the hard timeout for an unauthenticated Probe exchange
// (spec section 4.5 and the boundary-case test in spec section 8).
const ProbeTimeout = 2 * time.Second

// actor is a one-shot waiter for a single outstanding request's response.
type actor struct {
	replies chan wire.Message
}

// FSM drives one connection's lifecycle: handshake, authentication, and the
// request/response multiplexing that follows.
type FSM struct {
	mu    sync.Mutex
	State State
	Role  Role

	noise  *noiseHandshake
	cipher *cipherWrapper

	// AuthenticatedUser/Peer are set once AuthResult succeeds.
	AuthenticatedUser *ngtypes.PubKey
	PeerDHPubKey      ngtypes.PubKey

	nextReqID int64 // server: increments from 1; client: decrements from -1
	actors    map[int64]*actor

	shutdown chan ShutdownReason
	closed   bool

	serverNonce []byte
}

// ShutdownReason reports why a connection's FSM terminated (spec section
// 4.5: "a one-shot shutdown channel delivers either NetError... or the
// remote peer ID").
type ShutdownReason struct {
	NetError error
	PeerID   *ngtypes.PubKey
}

// NewClientFSM constructs an FSM for an outbound (client-initiated)
// connection.
func NewClientFSM(staticKeypair noise.DHKey, serverStatic []byte) (*FSM, error) {
	nh, err := newClientHandshake(staticKeypair, serverStatic)
	if err != nil {
		return nil, err
	}
	return &FSM{
		State:    StateStart,
		Role:     RoleClient,
		noise:    nh,
		actors:   make(map[int64]*actor),
		shutdown: make(chan ShutdownReason, 1),
	}, nil
}

// NewServerFSM constructs an FSM for an inbound (server-side) connection.
func NewServerFSM(staticKeypair noise.DHKey) (*FSM, error) {
	nh, err := newServerHandshake(staticKeypair)
	if err != nil {
		return nil, err
	}
	return &FSM{
		State:    StateStart,
		Role:     RoleServer,
		noise:    nh,
		actors:   make(map[int64]*actor),
		shutdown: make(chan ShutdownReason, 1),
	}, nil
}

// NewLocal0FSM constructs the short-circuit FSM used for in-process
// connections, skipping the Noise handshake entirely (spec section 4.5).
func NewLocal0FSM() *FSM {
	return &FSM{
		State:    StateLocal0,
		actors:   make(map[int64]*actor),
		shutdown: make(chan ShutdownReason, 1),
	}
}

// Shutdown returns the one-shot channel that delivers this connection's
// terminal ShutdownReason.
func (f *FSM) Shutdown() <-chan ShutdownReason { return f.shutdown }

// Close transitions the FSM to Closing, draining every outstanding actor
// and signalling shutdown (spec section 4.5: "Closing the FSM drains
// outstanding actors with Closing").
func (f *FSM) Close(reason ShutdownReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.State = StateClosing
	fsmLog.WithField("pending_actors", len(f.actors)).Debug("closing connection fsm")
	for id, a := range f.actors {
		close(a.replies)
		delete(f.actors, id)
	}
	f.shutdown <- reason
	close(f.shutdown)
}

// allocRequestID returns the next outstanding request id for this FSM's
// role: the server allocates positive ids, the client negative ids, with a
// two's-complement flip across directions so collisions between the two
// numbering spaces are structurally impossible (spec section 4.5).
func (f *FSM) allocRequestID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Role == RoleServer {
		f.nextReqID++
		return f.nextReqID
	}
	f.nextReqID--
	return f.nextReqID
}

// RegisterActor allocates a request id and a one-shot reply channel for it.
func (f *FSM) RegisterActor() (id int64, replies <-chan wire.Message) {
	id = f.allocRequestID()
	a := &actor{replies: make(chan wire.Message, 1)}
	f.mu.Lock()
	f.actors[id] = a
	f.mu.Unlock()
	return id, a.replies
}

// Dispatch routes an inbound message either to its waiting actor (by
// RequestID) or, for RequestID == 0, returns ok == false so the caller can
// hand it to the broker's local-delivery hook (spec section 4.5).
func (f *FSM) Dispatch(msg wire.Message) (ok bool) {
	if msg.RequestID == 0 {
		return false
	}
	f.mu.Lock()
	a, exists := f.actors[msg.RequestID]
	if exists {
		delete(f.actors, msg.RequestID)
	}
	f.mu.Unlock()
	if !exists {
		return false
	}
	a.replies <- msg
	close(a.replies)
	return true
}

// StepNoise0 produces the client's first handshake message (spec section
// 4.5: "the client initiates with a one-message handshake using its static
// key").
func (f *FSM) StepNoise0() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Role != RoleClient || f.State != StateStart {
		return nil, fmt.Errorf("StepNoise0 in state %s: %w", f.State, ngerrors.ErrProtocol)
	}
	out, err := f.noise.step1Client()
	if err != nil {
		f.State = StateClosing
		return nil, fmt.Errorf("%v: %w", err, ngerrors.ErrCryptoFailure)
	}
	f.State = StateNoise1
	return out, nil
}

// StepNoise1 processes the client's first Noise message (server side).
func (f *FSM) StepNoise1(msg1 []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.State != StateStart {
		return nil, fmt.Errorf("StepNoise1 in state %s: %w", f.State, ngerrors.ErrProtocol)
	}
	out, err := f.noise.step1Server(msg1)
	if err != nil {
		f.State = StateClosing
		fsmLog.WithField("state", f.State).WithError(err).Warn("noise handshake step1 failed")
		return nil, fmt.Errorf("%v: %w", err, ngerrors.ErrCryptoFailure)
	}
	f.State = StateNoise2
	return out, nil
}

// StepNoise2 processes the server's response (client side) and produces the
// final handshake message.
func (f *FSM) StepNoise2(msg2 []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.State != StateStart && f.State != StateNoise1 {
		return nil, fmt.Errorf("StepNoise2 in state %s: %w", f.State, ngerrors.ErrProtocol)
	}
	final, send, recv, err := f.noise.step2Client(msg2)
	if err != nil {
		f.State = StateClosing
		return nil, fmt.Errorf("%v: %w", err, ngerrors.ErrCryptoFailure)
	}
	f.cipher = &cipherWrapper{send: send, recv: recv}
	f.State = StateNoise3
	return final, nil
}

// StepNoise3 processes the client's final handshake message (server side),
// completing the handshake.
func (f *FSM) StepNoise3(msg3 []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.State != StateNoise2 {
		return fmt.Errorf("StepNoise3 in state %s: %w", f.State, ngerrors.ErrProtocol)
	}
	recv, send, err := f.noise.step2Server(msg3)
	if err != nil {
		f.State = StateClosing
		return fmt.Errorf("%v: %w", err, ngerrors.ErrCryptoFailure)
	}
	f.cipher = &cipherWrapper{send: send, recv: recv}
	f.State = StateNoise3
	return nil
}

// Cipher exposes the established transport cipher for framing, nil until
// the Noise handshake completes.
func (f *FSM) Cipher() wire.Cipher {
	if f.cipher == nil {
		return nil
	}
	return f.cipher
}

// IssueServerNonce generates the ServerHello nonce sent to begin client
// authentication.
func (f *FSM) IssueServerNonce() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	f.serverNonce = nonce
	f.State = StateServerHello
	return nonce, nil
}

// CheckClientNonce verifies an incoming ClientAuth's nonce matches the one
// issued, returning ngerrors.ErrInvalidNonce on mismatch (spec section 8
// boundary case: "ClientAuth with a stale nonce returns InvalidNonce").
func (f *FSM) CheckClientNonce(nonce []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.serverNonce) == 0 || string(f.serverNonce) != string(nonce) {
		return ngerrors.ErrInvalidNonce
	}
	f.State = StateClientAuth
	return nil
}

// CompleteAuth records the authenticated user/peer pair and transitions to
// AuthResult.
func (f *FSM) CompleteAuth(user ngtypes.PubKey, peerDH ngtypes.PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AuthenticatedUser = &user
	f.PeerDHPubKey = peerDH
	f.State = StateAuthResult
}

var fsmLog = log.WithField("component", "connfsm")

// EnterProbe transitions into the unauthenticated Probe state; the caller
// is responsible for enforcing ProbeTimeout on the underlying connection.
func (f *FSM) EnterProbe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.State = StateProbe
}
