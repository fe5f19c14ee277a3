// Package wire implements the external protocol surface of spec section 6:
// the ProtocolMessage tagged union, its length-prefixed encrypted framing,
// the listener authorization matrix, and registration policy.
package wire

import "github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"

// Magic values exchanged during an unauthenticated Probe (spec section 6
// and the boundary-case test in spec section 8).
const (
	MagicNgRequest  uint64 = 0x3A4E6747_5F4E472E
	MagicNgResponse uint64 = 0x3A4E6747_5F4E472F
)

// MessageKind tags the ProtocolMessage union.
type MessageKind uint8

const (
	KindProbe MessageKind = iota
	KindProbeResponse
	KindRelay
	KindTunnel
	KindNoise
	KindStart
	KindServerHello
	KindClientAuth
	KindAuthResult
	KindClientMessage
	KindAdminRequest
	KindAdminResponse
	KindForwardedEvent
	KindPublishEvent
	KindTopicSub
	KindTopicSyncReq
	KindExtObjectGet
)

// StartProtocolKind selects which authenticated flow a connection follows
// after the Noise handshake completes (spec section 4.5).
type StartProtocolKind uint8

const (
	StartClient StartProtocolKind = iota
	StartCore
	StartAdmin
	StartProbe
	StartExt
)

// Message is the ProtocolMessage tagged union. As with CommitBody, only the
// fields relevant to Kind are populated.
type Message struct {
	Kind MessageKind

	ProbeMagic uint64 // Probe

	RespMagic  uint64      // ProbeResponse
	RespPeerID *ngtypes.PubKey

	RelayTo   ngtypes.PubKey // Relay
	TunnelID  uint64         // Tunnel

	NoisePayload []byte // Noise

	StartKind StartProtocolKind // Start

	Nonce []byte // ServerHello

	// ClientAuth
	UserPubKey   ngtypes.PubKey
	ClientPubKey ngtypes.PubKey
	AuthNonce    []byte
	Info         []byte
	Registration *RegistrationAttempt
	UserSig      []byte
	ClientSig    []byte

	// AuthResult
	Code     uint16
	Metadata []byte

	// ClientMessage
	Overlay ngtypes.OverlayID
	Padding []byte
	Content []byte

	// AdminRequest / AdminResponse
	AdminUser    ngtypes.PubKey
	AdminSig     []byte
	AdminContent []byte
	AdminReply   []byte

	// ForwardedEvent / PublishEvent
	Event *ngtypes.Event

	// TopicSub
	TopicID     ngtypes.TopicID
	AsPublisher bool
	ProofSig    []byte

	// TopicSyncReq
	Heads        []ngtypes.ObjectRef
	KnownHeads   []ngtypes.ObjectRef
	KnownCommits []byte // bloom filter bytes

	// ExtObjectGet
	ExtIDs         []ngtypes.BlockID
	ExtIncludeFile bool

	// RequestID is 0 for unsolicited messages (e.g. ForwardedEvent);
	// otherwise positive for server-originated requests and negative for
	// client-originated requests (spec section 4.5).
	RequestID int64
}

// RegistrationAttempt is the optional registration payload carried in a
// ClientAuth message, used when a new user registers via an invitation
// code (spec section 6).
type RegistrationAttempt struct {
	InvitationCode *string
}
