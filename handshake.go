package rdclient

import (
	"fmt"
	"time"

	"rdclient/internal/cryptoutil"
	"rdclient/internal/protocol"
	"rdclient/internal/wire"
)

// readTimeoutDefault bounds how long the secure handshake waits for the
// peer's SignedID after the transport is established, per §4.3/READ_TIMEOUT.
const readTimeoutDefault = 30 * time.Second

// HandshakeResult carries what the secure handshake learned about the peer.
type HandshakeResult struct {
	PeerID    string
	PeerPk    [32]byte
	SessionOK bool // false if the session key could not be verified/installed
}

// secureHandshake implements §4.3: verify the peer's signed identity against
// the rendezvous key, generate a fresh symmetric session key, wrap it under
// the peer's X25519 public key, send it, and install the plaintext key on
// stream so subsequent frames are sealed.
//
// rendezvousKeyB64 is the base64 form from the peer address (empty falls
// back to the built-in default key). expectedPeerID is used only to detect
// a mismatched SignedID; an empty expectedPeerID skips that check.
func secureHandshake(stream *wire.Stream, rendezvousKeyB64, expectedPeerID string) (HandshakeResult, error) {
	rendezvousKey, err := cryptoutil.DecodeKey(rendezvousKeyB64)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("decode rendezvous key: %w", err)
	}

	if err := stream.SetDeadline(time.Now().Add(readTimeoutDefault)); err != nil {
		return HandshakeResult{}, err
	}
	var msg protocol.Message
	if err := stream.ReadJSON(&msg); err != nil {
		return HandshakeResult{}, fmt.Errorf("read signed_id: %w", err)
	}
	if msg.SignedID == nil {
		return HandshakeResult{}, fmt.Errorf("expected signed_id, got %q", msg.Kind)
	}
	signed := msg.SignedID
	if expectedPeerID != "" && signed.ID != expectedPeerID {
		return HandshakeResult{}, fmt.Errorf("signed_id mismatch: got %q, want %q", signed.ID, expectedPeerID)
	}
	if len(signed.Pk) != 32 {
		return HandshakeResult{}, fmt.Errorf("signed_id: invalid public key length %d", len(signed.Pk))
	}

	verifyMsg := append(append([]byte(signed.ID), ':'), signed.Pk...)
	verified := cryptoutil.VerifySigned(rendezvousKey, verifyMsg, signed.Signature)

	result := HandshakeResult{PeerID: signed.ID}
	copy(result.PeerPk[:], signed.Pk)

	if !verified {
		// Verification failed: proceed unsigned rather than stalling the
		// peer. Send an empty PublicKey so it falls back to cleartext, and
		// hand the caller the best-effort peer key so the UI can warn.
		if err := stream.SetDeadline(time.Now().Add(readTimeoutDefault)); err != nil {
			return result, err
		}
		if err := stream.WriteJSON(&protocol.Message{Kind: protocol.KindPublicKey, PublicKey: &protocol.PublicKey{}}); err != nil {
			return result, fmt.Errorf("send empty public_key: %w", err)
		}
		_ = stream.SetDeadline(time.Time{})
		return result, nil
	}

	sessionKey, err := cryptoutil.GenerateSessionKey()
	if err != nil {
		return result, fmt.Errorf("generate session key: %w", err)
	}
	ephemeralPub, sealed, err := cryptoutil.SealSessionKey(result.PeerPk, sessionKey)
	if err != nil {
		return result, fmt.Errorf("seal session key: %w", err)
	}

	reply := protocol.Message{
		Kind: protocol.KindPublicKey,
		PublicKey: &protocol.PublicKey{
			AsymmetricValue: ephemeralPub[:],
			SymmetricValue:  sealed,
		},
	}
	if err := stream.SetDeadline(time.Now().Add(readTimeoutDefault)); err != nil {
		return result, err
	}
	if err := stream.WriteJSON(&reply); err != nil {
		return result, fmt.Errorf("send public_key: %w", err)
	}
	if err := stream.SetKey(sessionKey); err != nil {
		return result, fmt.Errorf("install session key: %w", err)
	}
	if err := stream.SetDeadline(time.Time{}); err != nil {
		return result, err
	}
	result.SessionOK = true
	return result, nil
}
