// Package cryptoutil implements the crypto primitives the connection core
// needs: Ed25519 signature verification against the rendezvous server's
// long-term key, X25519 key agreement for the post-handshake symmetric
// session key, SHA-256 hashing for the login challenge, and base64 helpers
// for the config/wire string forms of keys.
package cryptoutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// DefaultRendezvousKey is the built-in fallback Ed25519 public key used when
// a peer ID carries no explicit "?key=" override. Real deployments replace
// this at build time; it exists so VerifySigned has a key to check against
// even when the caller supplies none.
var DefaultRendezvousKey = make([]byte, ed25519.PublicKeySize)

// DecodeKey decodes a base64 rendezvous/peer public key. An empty string
// falls back to DefaultRendezvousKey, matching "derive ... else from the
// built-in default" in the secure-handshake algorithm.
func DecodeKey(s string) ([]byte, error) {
	if s == "" {
		return DefaultRendezvousKey, nil
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return key, nil
}

// EncodeKey base64-encodes a public key for storage/display.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// VerifySigned verifies an Ed25519 signature produced by the rendezvous
// server over an arbitrary message (the wire form of "peer_id, peer_pk").
func VerifySigned(rendezvousKey, message, signature []byte) bool {
	if len(rendezvousKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(rendezvousKey, message, signature)
}

// Sha256 returns the SHA-256 digest of the concatenation of parts.
func Sha256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// HashPassword implements the login hash law: SHA256(SHA256(password||salt)||challenge).
func HashPassword(password, salt, challenge []byte) []byte {
	hashed := Sha256(password, salt)
	return Sha256(hashed, challenge)
}

// HashWithSalt returns SHA256(password||salt) — the once-hashed form of a
// plaintext password. A stored config password is already in this form and
// skips this step; either way the caller then folds in the challenge.
func HashWithSalt(password, salt []byte) []byte {
	return Sha256(password, salt)
}

// KeyPair is an X25519 key pair used for the asymmetric wrap of the
// post-handshake symmetric session key.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a fresh ephemeral X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// GenerateSessionKey returns a fresh random symmetric session key for the
// framed-stream AEAD (see internal/wire), sized for chacha20poly1305.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}

// SealSessionKey wraps a symmetric session key under the peer's X25519
// public key: an ephemeral key exchange followed by an AEAD seal, so only
// the holder of the matching private key can recover it ("wrap it under the
// peer's asymmetric key" in the secure-handshake algorithm, step 4).
func SealSessionKey(peerPublic [32]byte, sessionKey []byte) (ephemeralPublic [32]byte, sealed []byte, err error) {
	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return ephemeralPublic, nil, err
	}
	shared, err := curve25519.X25519(ephemeral.Private[:], peerPublic[:])
	if err != nil {
		return ephemeralPublic, nil, fmt.Errorf("x25519 agree: %w", err)
	}
	aead, err := chacha20poly1305.New(shared)
	if err != nil {
		return ephemeralPublic, nil, fmt.Errorf("new aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	sealed = aead.Seal(nil, nonce, sessionKey, nil)
	return ephemeral.Public, sealed, nil
}

// OpenSessionKey reverses SealSessionKey on the peer side: given the local
// private key and the sender's ephemeral public key, recovers the sealed
// symmetric session key.
func OpenSessionKey(localPrivate [32]byte, ephemeralPublic [32]byte, sealed []byte) ([]byte, error) {
	shared, err := curve25519.X25519(localPrivate[:], ephemeralPublic[:])
	if err != nil {
		return nil, fmt.Errorf("x25519 agree: %w", err)
	}
	aead, err := chacha20poly1305.New(shared)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	opened, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.New("open session key: authentication failed")
	}
	return opened, nil
}
