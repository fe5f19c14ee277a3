package broker

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/flynn/noise"
	"github.com/nextgraph-org/ng-verifier-core/pkg/blockstore"
	"github.com/nextgraph-org/ng-verifier-core/pkg/connfsm"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
)

// connSender adapts a net.Conn plus its (possibly still nil, pre-handshake)
// cipher to connfsm.Sender, so FSM.Call/Reply can write frames directly to
// the socket (spec section 6: "each frame is length-prefixed and encrypted
// once Noise is complete").
type connSender struct {
	conn   net.Conn
	cipher func() wire.Cipher
}

func (s *connSender) Send(msg wire.Message) error {
	return wire.WriteFrame(s.conn, msg, s.cipher())
}

// Server holds everything one ngd process needs to drive inbound
// connections: its own Noise static identity, the registry every
// authenticated peer lands in, and the authorization backends consulted
// during ClientAuth/AdminRequest (spec sections 4.5, 4.6, 6).
type Server struct {
	StaticKeypair noise.DHKey
	Registry      *Registry
	Users         *wire.UserDirectory
	Invitations   *wire.InvitationRegistry
	Listener      wire.ListenerConfig

	// Store backs the anonymous Ext object-retrieval flow (StartExt);
	// nil disables it (an Ext request then gets the same Code 1 reply as
	// a missing block).
	Store blockstore.Store

	// DispatchEvent is invoked once a PublishEvent passes topic validation;
	// the host wires this to its Orchestrator.Deliver.
	DispatchEvent func(overlay ngtypes.OverlayID, event ngtypes.Event) error
}

// HandleConn drives one inbound TCP connection through Probe, the Noise
// handshake, and whichever authenticated flow Start selects, until the
// connection closes (spec section 4.5's connection state diagram).
func (srv *Server) HandleConn(conn net.Conn) {
	defer conn.Close()

	first, err := wire.ReadFrame(conn, nil)
	if err != nil {
		brokerLog.WithError(err).Debug("connection closed before first frame")
		return
	}

	switch first.Kind {
	case wire.KindProbe:
		srv.handleProbe(conn, first)
		return
	case wire.KindNoise:
		srv.handleNoise(conn, first)
		return
	default:
		brokerLog.WithField("kind", first.Kind).Warn("unexpected first frame kind")
	}
}

// handleProbe answers an unauthenticated liveness check. The exchange runs
// under a ProbeTimeout deadline, a wrong magic gets no reply, and the
// connection closes as soon as this returns (spec section 8: "a Probe to an
// address with no matching listener returns HTTP 403 within 2s; to a
// matching listener returns ProbeResponse").
func (srv *Server) handleProbe(conn net.Conn, msg wire.Message) {
	conn.SetDeadline(time.Now().Add(connfsm.ProbeTimeout))
	if msg.ProbeMagic != wire.MagicNgRequest {
		return
	}
	var pub ngtypes.PubKey
	pub.Kind = ngtypes.KeyKindX25519
	copy(pub.Bytes[:], srv.StaticKeypair.Public)
	resp := wire.Message{Kind: wire.KindProbeResponse, RespMagic: wire.MagicNgResponse, RespPeerID: &pub}
	if err := wire.WriteFrame(conn, resp, nil); err != nil {
		brokerLog.WithError(err).Debug("probe response write failed")
	}
}

func (srv *Server) handleNoise(conn net.Conn, first wire.Message) {
	fsm, err := connfsm.NewServerFSM(srv.StaticKeypair)
	if err != nil {
		brokerLog.WithError(err).Warn("new server fsm failed")
		return
	}

	out, err := fsm.StepNoise1(first.NoisePayload)
	if err != nil {
		brokerLog.WithError(err).Warn("noise step1 failed")
		return
	}
	if err := wire.WriteFrame(conn, wire.Message{Kind: wire.KindNoise, NoisePayload: out}, nil); err != nil {
		return
	}

	final, err := wire.ReadFrame(conn, nil)
	if err != nil || final.Kind != wire.KindNoise {
		brokerLog.WithError(err).Debug("noise step3 frame missing")
		return
	}
	if err := fsm.StepNoise3(final.NoisePayload); err != nil {
		brokerLog.WithError(err).Warn("noise step3 failed")
		return
	}

	sender := &connSender{conn: conn, cipher: fsm.Cipher}
	srv.Registry.Accept(fsm, conn.LocalAddr().String(), conn.RemoteAddr().String())

	start, err := wire.ReadFrame(conn, fsm.Cipher())
	if err != nil || start.Kind != wire.KindStart {
		brokerLog.WithError(err).Debug("start frame missing")
		return
	}

	switch start.StartKind {
	case wire.StartAdmin:
		srv.handleAdmin(conn, fsm, sender)
	case wire.StartClient:
		srv.handleClient(conn, fsm, sender)
	case wire.StartProbe:
		fsm.EnterProbe()
		pub := pubKeyFromDH(srv.StaticKeypair.Public)
		wire.WriteFrame(conn, wire.Message{Kind: wire.KindProbeResponse, RespMagic: wire.MagicNgResponse, RespPeerID: &pub}, fsm.Cipher())
	case wire.StartCore:
		srv.Registry.AttachDirect(conn.RemoteAddr().String(), fsm, sender)
		srv.serveAuthenticated(conn, fsm, PeerKey{PeerDH: pubKeyFromDH(srv.StaticKeypair.Public)})
	case wire.StartExt:
		srv.handleExt(conn, fsm)
	default:
		brokerLog.WithField("start_kind", start.StartKind).Warn("unsupported start kind")
	}
}

func pubKeyFromDH(raw []byte) ngtypes.PubKey {
	var pub ngtypes.PubKey
	pub.Kind = ngtypes.KeyKindX25519
	copy(pub.Bytes[:], raw)
	return pub
}

// handleClient drives ServerHello/ClientAuth/AuthResult, then hands the
// connection into the registry and the shared request loop (spec section
// 4.5).
func (srv *Server) handleClient(conn net.Conn, fsm *connfsm.FSM, sender *connSender) {
	nonce, err := fsm.IssueServerNonce()
	if err != nil {
		return
	}
	if err := wire.WriteFrame(conn, wire.Message{Kind: wire.KindServerHello, Nonce: nonce}, fsm.Cipher()); err != nil {
		return
	}

	auth, err := wire.ReadFrame(conn, fsm.Cipher())
	if err != nil || auth.Kind != wire.KindClientAuth {
		return
	}
	if err := fsm.CheckClientNonce(auth.AuthNonce); err != nil {
		wire.WriteFrame(conn, wire.Message{Kind: wire.KindAuthResult, Code: 401}, fsm.Cipher())
		return
	}

	content := append(append([]byte{}, auth.AuthNonce...), auth.Info...)
	if !ed25519.Verify(ed25519.PublicKey(auth.UserPubKey.Bytes[:]), content, auth.UserSig) ||
		!ed25519.Verify(ed25519.PublicKey(auth.ClientPubKey.Bytes[:]), content, auth.ClientSig) {
		wire.WriteFrame(conn, wire.Message{Kind: wire.KindAuthResult, Code: 401}, fsm.Cipher())
		return
	}

	admit, _, err := srv.Users.Authorize(auth.UserPubKey, srv.Invitations, auth.Registration)
	if err != nil || !admit {
		wire.WriteFrame(conn, wire.Message{Kind: wire.KindAuthResult, Code: 403}, fsm.Cipher())
		return
	}

	fsm.CompleteAuth(auth.UserPubKey, auth.ClientPubKey)
	if err := wire.WriteFrame(conn, wire.Message{Kind: wire.KindAuthResult, Code: 0}, fsm.Cipher()); err != nil {
		return
	}

	peerKey := PeerKey{User: &auth.UserPubKey, PeerDH: auth.ClientPubKey}
	srv.Registry.AttachAndAuthorizePeerID(conn.LocalAddr().String(), conn.RemoteAddr().String(), &auth.UserPubKey, auth.ClientPubKey, fsm, sender)
	srv.serveAuthenticated(conn, fsm, peerKey)
}

// handleExt serves one anonymous ExtObjectGet request and closes (spec
// section 6: the Ext flow needs no ClientAuth — it answers unauthenticated
// reads of published objects by content id).
func (srv *Server) handleExt(conn net.Conn, fsm *connfsm.FSM) {
	req, err := wire.ReadFrame(conn, fsm.Cipher())
	if err != nil || req.Kind != wire.KindExtObjectGet {
		return
	}
	if srv.Store == nil || len(req.ExtIDs) == 0 {
		wire.WriteFrame(conn, wire.Message{Kind: wire.KindExtObjectGet, Code: 1}, fsm.Cipher())
		return
	}

	block, err := srv.Store.Get(req.Overlay, req.ExtIDs[0])
	if err != nil {
		wire.WriteFrame(conn, wire.Message{Kind: wire.KindExtObjectGet, Code: 1}, fsm.Cipher())
		return
	}
	wire.WriteFrame(conn, wire.Message{Kind: wire.KindExtObjectGet, Code: 0, Content: block.EncryptedPayload}, fsm.Cipher())
}

// adminCommand is the JSON envelope AdminRequest.AdminContent carries for
// the administrative operations ngcli's admin subcommand issues.
type adminCommand struct {
	Op         string `json:"op"`
	UserID     string `json:"user_id,omitempty"`
	IsAdmin    bool   `json:"is_admin,omitempty"`
	AdminOnly  bool   `json:"admin_only,omitempty"`
	InviteType uint8  `json:"invite_type,omitempty"`
	Name       string `json:"name,omitempty"`
	Memo       string `json:"memo,omitempty"`
}

type adminReply struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Users   []string `json:"users,omitempty"`
	Invites []string `json:"invites,omitempty"`
	Code    string   `json:"code,omitempty"`
}

func (srv *Server) handleAdmin(conn net.Conn, fsm *connfsm.FSM, sender *connSender) {
	req, err := wire.ReadFrame(conn, fsm.Cipher())
	if err != nil || req.Kind != wire.KindAdminRequest {
		return
	}
	if !ed25519.Verify(ed25519.PublicKey(req.AdminUser.Bytes[:]), req.AdminContent, req.AdminSig) {
		wire.WriteFrame(conn, wire.Message{Kind: wire.KindAdminResponse, AdminReply: mustJSON(adminReply{Error: "invalid signature"})}, fsm.Cipher())
		return
	}
	if !srv.Users.IsAdmin(req.AdminUser) {
		wire.WriteFrame(conn, wire.Message{Kind: wire.KindAdminResponse, AdminReply: mustJSON(adminReply{Error: ngerrors.ErrAccessDenied.Error()})}, fsm.Cipher())
		return
	}

	var cmd adminCommand
	reply := adminReply{OK: true}
	if err := json.Unmarshal(req.AdminContent, &cmd); err != nil {
		reply = adminReply{Error: fmt.Sprintf("malformed admin command: %v", err)}
	} else {
		reply = srv.dispatchAdmin(cmd)
	}
	wire.WriteFrame(conn, wire.Message{Kind: wire.KindAdminResponse, AdminReply: mustJSON(reply)}, fsm.Cipher())
}

// parseUserID decodes the base64url user id string ngcli's admin
// subcommand takes on the command line back into a PubKey, matching the
// encoding PubKey.String() produces.
func parseUserID(s string) (ngtypes.PubKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return ngtypes.PubKey{}, fmt.Errorf("user id %q: not a valid pubkey: %w", s, ngerrors.ErrProtocol)
	}
	var pub ngtypes.PubKey
	pub.Kind = ngtypes.KeyKindEd25519
	copy(pub.Bytes[:], raw)
	return pub, nil
}

func (srv *Server) dispatchAdmin(cmd adminCommand) adminReply {
	switch cmd.Op {
	case "add_user":
		user, err := parseUserID(cmd.UserID)
		if err != nil {
			return adminReply{Error: err.Error()}
		}
		srv.Users.AddUser(user, cmd.IsAdmin)
		return adminReply{OK: true}
	case "del_user":
		user, err := parseUserID(cmd.UserID)
		if err != nil {
			return adminReply{Error: err.Error()}
		}
		srv.Users.DelUser(user)
		return adminReply{OK: true}
	case "list_users":
		return adminReply{OK: true, Users: srv.Users.ListUsers(cmd.AdminOnly)}
	case "add_invitation":
		inv := srv.Invitations.Add(wire.InvitationType(cmd.InviteType), cmd.Name, cmd.Memo, nil)
		return adminReply{OK: true, Code: inv.Code}
	case "list_invitations":
		var codes []string
		for _, inv := range srv.Invitations.List() {
			codes = append(codes, inv.Code)
		}
		return adminReply{OK: true, Invites: codes}
	default:
		return adminReply{Error: fmt.Sprintf("unknown admin op %q", cmd.Op)}
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"marshal failure"}`)
	}
	return b
}

// serveAuthenticated is the post-AuthResult request loop: it reads frames
// until the connection closes, routing PublishEvent through topic
// validation and dispatch, and TopicSub through the topic table (spec
// sections 4.6, 4.7).
func (srv *Server) serveAuthenticated(conn net.Conn, fsm *connfsm.FSM, peer PeerKey) {
	for {
		msg, err := wire.ReadFrame(conn, fsm.Cipher())
		if err != nil {
			fsm.Close(connfsm.ShutdownReason{NetError: err})
			return
		}
		if fsm.Dispatch(msg) {
			continue
		}

		switch msg.Kind {
		case wire.KindTopicSub:
			err := srv.Registry.Topics().Subscribe(msg.Overlay, msg.TopicID, peer, msg.AsPublisher, msg.ProofSig)
			code := uint16(0)
			if err != nil {
				code = 1
			}
			wire.WriteFrame(conn, wire.Message{Kind: wire.KindTopicSub, RequestID: msg.RequestID, Code: code}, fsm.Cipher())
		case wire.KindPublishEvent:
			srv.handlePublish(conn, fsm, peer, msg)
		default:
			brokerLog.WithField("kind", msg.Kind).Debug("unhandled authenticated frame kind")
		}
	}
}

func (srv *Server) handlePublish(conn net.Conn, fsm *connfsm.FSM, peer PeerKey, msg wire.Message) {
	if msg.Event == nil {
		return
	}
	if err := srv.Registry.Topics().ValidatePublish(msg.Overlay, *msg.Event, peer); err != nil {
		wire.WriteFrame(conn, wire.Message{Kind: wire.KindPublishEvent, RequestID: msg.RequestID, Code: 1}, fsm.Cipher())
		return
	}
	srv.Registry.DispatchEvent(msg.Overlay, *msg.Event, peer)
	if srv.DispatchEvent != nil {
		if err := srv.DispatchEvent(msg.Overlay, *msg.Event); err != nil {
			brokerLog.WithError(err).Warn("local event dispatch failed")
		}
	}
	wire.WriteFrame(conn, wire.Message{Kind: wire.KindPublishEvent, RequestID: msg.RequestID, Code: 0}, fsm.Cipher())
}
