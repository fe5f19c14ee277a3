// Package crypto implements the primitives NextGraph's block store and
// connection layer are built on: convergent encryption of block payloads,
// BLAKE3 content addressing, and the subkey derivation scheme of spec
// section 6. It wraps lukechampine.com/blake3 and golang.org/x/crypto the
// same way the broker/connection packages wrap github.com/flynn/noise:
// thin, typed helpers over a well-known third-party primitive.
package crypto

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"lukechampine.com/blake3"
)

// KeySize is the width, in bytes, of every symmetric key and content digest
// used in the block store.
const KeySize = 32

// ConvergenceContext is the BLAKE3 key-derivation context used to derive a
// repo's convergence key from its keypair, per spec section 4.1.
const ConvergenceContext = "NextGraph Data BLAKE3 key"

// DeriveConvergenceKey computes convergence_key = blake3_derive_key(ctx,
// repo_pubkey || repo_secret), the key used to deterministically derive a
// per-chunk content key from plaintext.
func DeriveConvergenceKey(repoPubKey, repoSecret []byte) [KeySize]byte {
	material := make([]byte, 0, len(repoPubKey)+len(repoSecret))
	material = append(material, repoPubKey...)
	material = append(material, repoSecret...)
	var out [KeySize]byte
	blake3.DeriveKey(out[:], ConvergenceContext, material)
	return out
}

// ContentKey computes content_key = blake3_keyed_hash(convergence_key,
// plaintext), the symmetric key used to both encrypt a chunk and recompute
// its block id, guaranteeing that identical plaintexts under the same
// convergence key always produce identical ciphertext and block id.
func ContentKey(convergenceKey [KeySize]byte, plaintext []byte) [KeySize]byte {
	h := blake3.New(KeySize, convergenceKey[:])
	h.Write(plaintext)
	var out [KeySize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Encrypt applies the convergent chacha20 cipher used for block payloads:
// nonce is always the zero nonce, which is safe here only because every
// key is itself unique to its plaintext (convergent encryption never
// reuses a key across distinct plaintexts).
func Encrypt(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	out := make([]byte, len(plaintext))
	c.XORKeyStream(out, plaintext)
	return out, nil
}

// Decrypt is Encrypt's inverse; chacha20 is a stream cipher so the two are
// identical operations.
func Decrypt(key [KeySize]byte, ciphertext []byte) ([]byte, error) {
	return Encrypt(key, ciphertext)
}

// ContentID computes the block's content_id: the BLAKE3 digest of the
// ciphertext-bearing serialized body.
func ContentID(serializedBody []byte) [KeySize]byte {
	return blake3.Sum256(serializedBody)
}

// Subkey derivation contexts for the per-peer master key (spec section 6).
const (
	ContextPeerIDPrivKey     = "NextGraph PeerId privkey"
	ContextWalletEncryption  = "NextGraph wallet encryption"
	ContextConfigSignature   = "NextGraph config signature"
)

// DeriveSubkey derives a 32-byte subkey from a context string and the
// peer's master key, per spec section 6's key derivation scheme.
func DeriveSubkey(context string, master [KeySize]byte) [KeySize]byte {
	var out [KeySize]byte
	blake3.DeriveKey(out[:], context, master[:])
	return out
}

// SignProof signs the fixed literal "ngd" with the signing subkey, producing
// the on-disk `sign` proof-of-key-possession file described in spec section 6.
func SignProof(signingKey ed25519.PrivateKey) []byte {
	return ed25519.Sign(signingKey, []byte("ngd"))
}

// VerifyProof checks a `sign` file against a peer's claimed public signing
// key.
func VerifyProof(pub ed25519.PublicKey, sig []byte) bool {
	return ed25519.Verify(pub, []byte("ngd"), sig)
}
