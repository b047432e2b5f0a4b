package wire_test

import (
	"net"
	"testing"

	"rdclient/internal/protocol"
	"rdclient/internal/wire"
)

func TestWriteReadFrameUnkeyed(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sa := wire.NewStream(a)
	sb := wire.NewStream(b)

	msg := protocol.RendezvousMessage{
		Kind: protocol.KindPunchHoleRequest,
		PunchHoleRequest: &protocol.PunchHoleRequest{
			ID:      "peer-1",
			NatType: protocol.NatAsymmetric,
		},
	}

	done := make(chan error, 1)
	go func() { done <- sa.WriteJSON(msg) }()

	var got protocol.RendezvousMessage
	if err := sb.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got.Kind != msg.Kind || got.PunchHoleRequest.ID != "peer-1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestWriteReadFrameKeyed(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sa := wire.NewStream(a)
	sb := wire.NewStream(b)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	if err := sa.SetKey(key); err != nil {
		t.Fatal(err)
	}
	if err := sb.SetKey(key); err != nil {
		t.Fatal(err)
	}

	payload := []byte("hello, peer")
	done := make(chan error, 1)
	go func() { done <- sa.WriteFrame(payload) }()

	got, err := sb.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestReadFrameRejectsMismatchedKey(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sa := wire.NewStream(a)
	sb := wire.NewStream(b)

	keyA := make([]byte, 32)
	keyB := make([]byte, 32)
	keyB[0] = 1
	if err := sa.SetKey(keyA); err != nil {
		t.Fatal(err)
	}
	if err := sb.SetKey(keyB); err != nil {
		t.Fatal(err)
	}

	go sa.WriteFrame([]byte("payload"))

	if _, err := sb.ReadFrame(); err == nil {
		t.Error("expected authentication failure with mismatched keys")
	}
}
