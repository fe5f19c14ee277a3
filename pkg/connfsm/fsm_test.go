package connfsm

import (
	"testing"

	"github.com/flynn/noise"
)

func genKeypair(t *testing.T) noise.DHKey {
	t.Helper()
	kp, err := noiseSuite.GenerateKeypair(nil)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

// TestHandshakeEstablishesMatchingCiphers drives a full client/server
// Noise-XK exchange in-process and checks both sides derive usable, paired
// transport ciphers.
func TestHandshakeEstablishesMatchingCiphers(t *testing.T) {
	serverStatic := genKeypair(t)
	clientStatic := genKeypair(t)

	client, err := NewClientFSM(clientStatic, serverStatic.Public)
	if err != nil {
		t.Fatalf("new client fsm: %v", err)
	}
	server, err := NewServerFSM(serverStatic)
	if err != nil {
		t.Fatalf("new server fsm: %v", err)
	}

	msg1, err := client.noise.step1Client()
	if err != nil {
		t.Fatalf("step1Client: %v", err)
	}
	msg2, err := server.StepNoise1(msg1)
	if err != nil {
		t.Fatalf("StepNoise1: %v", err)
	}
	if server.State != StateNoise2 {
		t.Fatalf("server state = %s, want Noise2", server.State)
	}
	msg3, err := client.StepNoise2(msg2)
	if err != nil {
		t.Fatalf("StepNoise2: %v", err)
	}
	if client.State != StateNoise3 {
		t.Fatalf("client state = %s, want Noise3", client.State)
	}
	if err := server.StepNoise3(msg3); err != nil {
		t.Fatalf("StepNoise3: %v", err)
	}
	if server.State != StateNoise3 {
		t.Fatalf("server state = %s, want Noise3", server.State)
	}

	plaintext := []byte("hello over the wire")
	ct, err := client.Cipher().Encrypt(plaintext)
	if err != nil {
		t.Fatalf("client encrypt: %v", err)
	}
	pt, err := server.Cipher().Decrypt(ct)
	if err != nil {
		t.Fatalf("server decrypt: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q", pt)
	}
}

// TestStepNoise1WrongStateRejected checks the FSM refuses to process a
// Noise message outside of its expected state.
func TestStepNoise1WrongStateRejected(t *testing.T) {
	serverStatic := genKeypair(t)
	server, err := NewServerFSM(serverStatic)
	if err != nil {
		t.Fatalf("new server fsm: %v", err)
	}
	server.State = StateNoise2
	if _, err := server.StepNoise1([]byte("garbage")); err == nil {
		t.Fatal("expected error processing Noise1 from wrong state")
	}
}

// TestClientAuthRejectsStaleNonce models the boundary case: a ClientAuth
// carrying a nonce that does not match the one issued in ServerHello must
// be rejected rather than silently authenticated.
func TestClientAuthRejectsStaleNonce(t *testing.T) {
	f := NewLocal0FSM()
	nonce, err := f.IssueServerNonce()
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	stale := append([]byte{}, nonce...)
	stale[0] ^= 0xFF
	if err := f.CheckClientNonce(stale); err == nil {
		t.Fatal("expected stale nonce to be rejected")
	}
	if err := f.CheckClientNonce(nonce); err != nil {
		t.Fatalf("expected matching nonce to be accepted, got %v", err)
	}
	if f.State != StateClientAuth {
		t.Fatalf("state = %s, want ClientAuth", f.State)
	}
}

// TestRequestIDAllocationSplitsByRole checks the server/client request id
// numbering spaces never collide: server ids are positive and ascending,
// client ids are negative and descending.
func TestRequestIDAllocationSplitsByRole(t *testing.T) {
	server, err := NewServerFSM(genKeypair(t))
	if err != nil {
		t.Fatalf("new server fsm: %v", err)
	}
	client, err := NewClientFSM(genKeypair(t), genKeypair(t).Public)
	if err != nil {
		t.Fatalf("new client fsm: %v", err)
	}
	s1, _ := server.RegisterActor()
	s2, _ := server.RegisterActor()
	c1, _ := client.RegisterActor()
	c2, _ := client.RegisterActor()
	if s1 <= 0 || s2 <= s1 {
		t.Fatalf("server ids not positive ascending: %d, %d", s1, s2)
	}
	if c1 >= 0 || c2 >= c1 {
		t.Fatalf("client ids not negative descending: %d, %d", c1, c2)
	}
}

// TestCloseDrainsActors checks every outstanding actor's reply channel is
// closed when the connection shuts down, so waiters unblock instead of
// hanging forever.
func TestCloseDrainsActors(t *testing.T) {
	f := NewLocal0FSM()
	_, replies := f.RegisterActor()
	f.Close(ShutdownReason{NetError: nil})
	if _, ok := <-replies; ok {
		t.Fatal("expected actor reply channel to be closed")
	}
	if _, ok := <-f.Shutdown(); !ok {
		t.Fatal("expected shutdown channel to deliver the close reason")
	}
	if _, ok := <-f.Shutdown(); ok {
		t.Fatal("expected shutdown channel to have delivered exactly one value")
	}
}
