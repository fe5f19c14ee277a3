package broker

import (
	"crypto/ed25519"
	"encoding/json"
	"net"
	"testing"

	"github.com/nextgraph-org/ng-verifier-core/pkg/connfsm"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	kp, err := connfsm.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate static keypair: %v", err)
	}
	return &Server{
		StaticKeypair: kp,
		Registry:      NewRegistry(),
		Users:         wire.NewUserDirectory(wire.RegClosed, ngtypes.PubKey{}),
		Invitations:   wire.NewInvitationRegistry(),
	}
}

// TestProbeRespondsWithServerStaticKey exercises scenario 1 of spec
// section 8: a Probe to a matching listener returns ProbeResponse{magic,
// peer_id} carrying the server's own static public key.
func TestProbeRespondsWithServerStaticKey(t *testing.T) {
	srv := newTestServer(t)
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	go srv.HandleConn(serverEnd)

	probe := wire.Message{Kind: wire.KindProbe, ProbeMagic: wire.MagicNgRequest}
	if err := wire.WriteFrame(clientEnd, probe, nil); err != nil {
		t.Fatalf("write probe: %v", err)
	}

	resp, err := wire.ReadFrame(clientEnd, nil)
	if err != nil {
		t.Fatalf("read probe response: %v", err)
	}
	if resp.Kind != wire.KindProbeResponse || resp.RespMagic != wire.MagicNgResponse {
		t.Fatalf("unexpected probe response: %+v", resp)
	}
	want := pubKeyFromDH(srv.StaticKeypair.Public)
	if resp.RespPeerID == nil || *resp.RespPeerID != want {
		t.Fatalf("expected peer id %+v, got %+v", want, resp.RespPeerID)
	}
}

// TestProbeWrongMagicClosesWithoutResponse checks a Probe carrying an
// unrecognized magic gets no ProbeResponse at all — the connection is
// simply closed, mirroring how a non-matching listener behaves (spec
// section 8: "a Probe to an address with no matching listener returns
// HTTP 403... to a matching listener returns ProbeResponse").
func TestProbeWrongMagicClosesWithoutResponse(t *testing.T) {
	srv := newTestServer(t)
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	go srv.HandleConn(serverEnd)

	probe := wire.Message{Kind: wire.KindProbe, ProbeMagic: 0xBAD}
	if err := wire.WriteFrame(clientEnd, probe, nil); err != nil {
		t.Fatalf("write probe: %v", err)
	}

	if _, err := wire.ReadFrame(clientEnd, nil); err == nil {
		t.Fatal("expected connection to close without a probe response")
	}
}

// handshakeClient drives a full client-side Noise-XK exchange against a
// Server's HandleConn already running on serverEnd, returning a client FSM
// whose Cipher() is ready for the authenticated flows.
func handshakeClient(t *testing.T, srv *Server, clientEnd net.Conn) *connfsm.FSM {
	t.Helper()
	clientStatic, err := connfsm.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate client keypair: %v", err)
	}
	client, err := connfsm.NewClientFSM(clientStatic, srv.StaticKeypair.Public)
	if err != nil {
		t.Fatalf("new client fsm: %v", err)
	}

	msg1, err := client.StepNoise0()
	if err != nil {
		t.Fatalf("step noise0: %v", err)
	}
	if err := wire.WriteFrame(clientEnd, wire.Message{Kind: wire.KindNoise, NoisePayload: msg1}, nil); err != nil {
		t.Fatalf("write noise1: %v", err)
	}

	msg2Frame, err := wire.ReadFrame(clientEnd, nil)
	if err != nil || msg2Frame.Kind != wire.KindNoise {
		t.Fatalf("read noise2: %v", err)
	}
	msg3, err := client.StepNoise2(msg2Frame.NoisePayload)
	if err != nil {
		t.Fatalf("step noise2: %v", err)
	}
	if err := wire.WriteFrame(clientEnd, wire.Message{Kind: wire.KindNoise, NoisePayload: msg3}, nil); err != nil {
		t.Fatalf("write noise3: %v", err)
	}

	return client
}

// TestAdminRequestByNonAdminDenied checks an AdminRequest signed by a
// known, non-admin user is rejected with AccessDenied end to end, over a
// real Noise handshake (spec section 8 boundary case and section 4.5).
func TestAdminRequestByNonAdminDenied(t *testing.T) {
	srv := newTestServer(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate user key: %v", err)
	}
	var user ngtypes.PubKey
	user.Kind = ngtypes.KeyKindEd25519
	copy(user.Bytes[:], pub)
	srv.Users.AddUser(user, false)

	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	go srv.HandleConn(serverEnd)

	client := handshakeClient(t, srv, clientEnd)

	if err := wire.WriteFrame(clientEnd, wire.Message{Kind: wire.KindStart, StartKind: wire.StartAdmin}, client.Cipher()); err != nil {
		t.Fatalf("send start: %v", err)
	}

	cmd := adminCommand{Op: "list_users"}
	content, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal admin command: %v", err)
	}
	sig := ed25519.Sign(priv, content)
	req := wire.Message{Kind: wire.KindAdminRequest, AdminUser: user, AdminSig: sig, AdminContent: content}
	if err := wire.WriteFrame(clientEnd, req, client.Cipher()); err != nil {
		t.Fatalf("send admin request: %v", err)
	}

	resp, err := wire.ReadFrame(clientEnd, client.Cipher())
	if err != nil {
		t.Fatalf("read admin response: %v", err)
	}
	if resp.Kind != wire.KindAdminResponse {
		t.Fatalf("expected admin response, got kind %v", resp.Kind)
	}
	var reply adminReply
	if err := json.Unmarshal(resp.AdminReply, &reply); err != nil {
		t.Fatalf("unmarshal admin reply: %v", err)
	}
	if reply.Error == "" {
		t.Fatalf("expected non-admin request to be denied, got %+v", reply)
	}
}

// TestAdminRequestByAdminSucceeds is the positive counterpart: the
// configured admin user's list_users request is served normally.
func TestAdminRequestByAdminSucceeds(t *testing.T) {
	adminPub, adminPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate admin key: %v", err)
	}
	var admin ngtypes.PubKey
	admin.Kind = ngtypes.KeyKindEd25519
	copy(admin.Bytes[:], adminPub)

	kp, err := connfsm.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate static keypair: %v", err)
	}
	srv := &Server{
		StaticKeypair: kp,
		Registry:      NewRegistry(),
		Users:         wire.NewUserDirectory(wire.RegClosed, admin),
		Invitations:   wire.NewInvitationRegistry(),
	}

	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	go srv.HandleConn(serverEnd)

	client := handshakeClient(t, srv, clientEnd)

	if err := wire.WriteFrame(clientEnd, wire.Message{Kind: wire.KindStart, StartKind: wire.StartAdmin}, client.Cipher()); err != nil {
		t.Fatalf("send start: %v", err)
	}

	cmd := adminCommand{Op: "list_users"}
	content, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal admin command: %v", err)
	}
	sig := ed25519.Sign(adminPriv, content)
	req := wire.Message{Kind: wire.KindAdminRequest, AdminUser: admin, AdminSig: sig, AdminContent: content}
	if err := wire.WriteFrame(clientEnd, req, client.Cipher()); err != nil {
		t.Fatalf("send admin request: %v", err)
	}

	resp, err := wire.ReadFrame(clientEnd, client.Cipher())
	if err != nil {
		t.Fatalf("read admin response: %v", err)
	}
	var reply adminReply
	if err := json.Unmarshal(resp.AdminReply, &reply); err != nil {
		t.Fatalf("unmarshal admin reply: %v", err)
	}
	if !reply.OK || reply.Error != "" {
		t.Fatalf("expected admin request to succeed, got %+v", reply)
	}
}
