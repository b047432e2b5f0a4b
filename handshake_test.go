package rdclient

import (
	"crypto/ed25519"
	"net"
	"testing"

	"rdclient/internal/cryptoutil"
	"rdclient/internal/protocol"
	"rdclient/internal/wire"
)

// peerPipe wires a Stream/conn pair connected by net.Pipe, so the peer side
// can be driven directly from the test goroutine.
func peerPipe() (*wire.Stream, net.Conn) {
	a, b := net.Pipe()
	return wire.NewStream(a), b
}

func TestSecureHandshakeVerifiedPeer(t *testing.T) {
	rendezvousPub, rendezvousPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	peerKP, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	stream, raw := peerPipe()
	peerStream := wire.NewStream(raw)

	done := make(chan struct{})
	var result HandshakeResult
	var hsErr error
	go func() {
		result, hsErr = secureHandshake(stream, cryptoutil.EncodeKey(rendezvousPub), "peer-1")
		close(done)
	}()

	verifyMsg := append(append([]byte("peer-1"), ':'), peerKP.Public[:]...)
	sig := ed25519.Sign(rendezvousPriv, verifyMsg)
	if err := peerStream.WriteJSON(&protocol.Message{
		Kind: protocol.KindSignedID,
		SignedID: &protocol.SignedID{
			ID:        "peer-1",
			Pk:        peerKP.Public[:],
			Signature: sig,
		},
	}); err != nil {
		t.Fatal(err)
	}

	var reply protocol.Message
	if err := peerStream.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	<-done
	if hsErr != nil {
		t.Fatalf("secureHandshake error: %v", hsErr)
	}
	if !result.SessionOK {
		t.Fatal("expected SessionOK for a verified signature")
	}
	if reply.PublicKey == nil || len(reply.PublicKey.SymmetricValue) == 0 {
		t.Fatal("expected a sealed symmetric key in the reply")
	}
	if result.PeerID != "peer-1" {
		t.Errorf("PeerID = %q, want peer-1", result.PeerID)
	}
}

func TestSecureHandshakeUnverifiedPeerDegradesWithoutError(t *testing.T) {
	rendezvousPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	peerKP, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	stream, raw := peerPipe()
	peerStream := wire.NewStream(raw)

	done := make(chan struct{})
	var result HandshakeResult
	var hsErr error
	go func() {
		result, hsErr = secureHandshake(stream, cryptoutil.EncodeKey(rendezvousPub), "")
		close(done)
	}()

	if err := peerStream.WriteJSON(&protocol.Message{
		Kind: protocol.KindSignedID,
		SignedID: &protocol.SignedID{
			ID:        "peer-2",
			Pk:        peerKP.Public[:],
			Signature: []byte("not-a-real-signature-of-the-right-length-xx"),
		},
	}); err != nil {
		t.Fatal(err)
	}

	var reply protocol.Message
	if err := peerStream.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	<-done
	if hsErr != nil {
		t.Fatalf("expected no error on a degraded/unverified handshake, got %v", hsErr)
	}
	if result.SessionOK {
		t.Fatal("SessionOK should be false when verification fails")
	}
	if reply.PublicKey == nil || len(reply.PublicKey.SymmetricValue) != 0 {
		t.Fatal("expected an empty public_key fallback reply")
	}
}

func TestSecureHandshakeRejectsMismatchedPeerID(t *testing.T) {
	rendezvousPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	stream, raw := peerPipe()
	peerStream := wire.NewStream(raw)

	done := make(chan struct{})
	var hsErr error
	go func() {
		_, hsErr = secureHandshake(stream, cryptoutil.EncodeKey(rendezvousPub), "expected-id")
		close(done)
	}()

	_ = peerStream.WriteJSON(&protocol.Message{
		Kind:     protocol.KindSignedID,
		SignedID: &protocol.SignedID{ID: "other-id", Pk: make([]byte, 32), Signature: []byte("sig")},
	})
	<-done
	if hsErr == nil {
		t.Fatal("expected an error for a mismatched peer id")
	}
}
