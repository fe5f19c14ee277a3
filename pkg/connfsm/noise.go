package connfsm

import (
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"
)

// noiseSuite is the cipher suite used for every Noise-XK handshake: X25519
// for DH, ChaChaPoly for AEAD, BLAKE2s for the transcript hash — the suite
// github.com/flynn/noise documents as its default pairing.
var noiseSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// GenerateStaticKeypair produces a fresh X25519 keypair in the shape this
// package's handshakes expect, for a host standing up a new client or
// server FSM.
func GenerateStaticKeypair() (noise.DHKey, error) {
	return noiseSuite.GenerateKeypair(rand.Reader)
}

// noiseHandshake drives one side of the three-message Noise-XK pattern: the
// client (initiator) knows the server's static key in advance (hence "XK" —
// responder's key known); spec section 4.5: "The client initiates with a
// one-message handshake using its static key; the server responds with its
// static key; the client finalizes."
type noiseHandshake struct {
	hs *noise.HandshakeState
}

func newClientHandshake(staticKeypair noise.DHKey, serverStatic []byte) (*noiseHandshake, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseSuite,
		Pattern:       noise.HandshakeXK,
		Initiator:     true,
		StaticKeypair: staticKeypair,
		PeerStatic:    serverStatic,
	})
	if err != nil {
		return nil, fmt.Errorf("new client handshake: %w", err)
	}
	return &noiseHandshake{hs: hs}, nil
}

func newServerHandshake(staticKeypair noise.DHKey) (*noiseHandshake, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseSuite,
		Pattern:       noise.HandshakeXK,
		Initiator:     false,
		StaticKeypair: staticKeypair,
	})
	if err != nil {
		return nil, fmt.Errorf("new server handshake: %w", err)
	}
	return &noiseHandshake{hs: hs}, nil
}

// step1Client produces the first handshake message: "-> e, es".
func (n *noiseHandshake) step1Client() ([]byte, error) {
	out, _, _, err := n.hs.WriteMessage(nil, nil)
	return out, err
}

// step1Server consumes "-> e, es" and produces "<- e, ee".
func (n *noiseHandshake) step1Server(msg1 []byte) ([]byte, error) {
	if _, _, _, err := n.hs.ReadMessage(nil, msg1); err != nil {
		return nil, fmt.Errorf("read noise msg1: %w", err)
	}
	out, _, _, err := n.hs.WriteMessage(nil, nil)
	return out, err
}

// step2Client consumes "<- e, ee" and produces the final "-> s, se",
// completing the handshake and returning the two directional cipher states.
func (n *noiseHandshake) step2Client(msg2 []byte) (finalMsg []byte, send, recv *noise.CipherState, err error) {
	if _, _, _, err = n.hs.ReadMessage(nil, msg2); err != nil {
		return nil, nil, nil, fmt.Errorf("read noise msg2: %w", err)
	}
	finalMsg, send, recv, err = n.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write noise msg3: %w", err)
	}
	return finalMsg, send, recv, nil
}

// step2Server consumes the final "-> s, se", completing the handshake.
func (n *noiseHandshake) step2Server(msg3 []byte) (recv, send *noise.CipherState, err error) {
	_, recv, send, err = n.hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, nil, fmt.Errorf("read noise msg3: %w", err)
	}
	return recv, send, nil
}

// cipherWrapper adapts a pair of noise.CipherState (one per direction) to
// wire.Cipher.
type cipherWrapper struct {
	send *noise.CipherState
	recv *noise.CipherState
}

func (c *cipherWrapper) Encrypt(plaintext []byte) ([]byte, error) {
	return c.send.Encrypt(nil, nil, plaintext)
}

func (c *cipherWrapper) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.recv.Decrypt(nil, nil, ciphertext)
}
