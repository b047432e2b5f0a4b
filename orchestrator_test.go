package rdclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"rdclient/internal/protocol"
	"rdclient/internal/wire"
)

func TestComputeConnectTimeoutLocalOrPeerSymmetricUsesMin(t *testing.T) {
	got := computeConnectTimeout(connectTopology{isLocal: true})
	if got != minConnectTimeout {
		t.Errorf("isLocal: got %v, want MIN", got)
	}
	got = computeConnectTimeout(connectTopology{peerNat: protocol.NatSymmetric})
	if got != minConnectTimeout {
		t.Errorf("peer-symmetric: got %v, want MIN", got)
	}
}

func TestComputeConnectTimeoutNoRelayHintUsesDefault(t *testing.T) {
	got := computeConnectTimeout(connectTopology{hasRelayHint: false})
	if got != connectTimeoutDefault {
		t.Errorf("got %v, want CONNECT_TIMEOUT", got)
	}
}

func TestComputeConnectTimeoutBothAsymmetric(t *testing.T) {
	topo := connectTopology{hasRelayHint: true, selfNat: protocol.NatAsymmetric, peerNat: protocol.NatAsymmetric}
	if got := computeConnectTimeout(topo); got != connectTimeoutDefault {
		t.Errorf("no prior failures: got %v, want CONNECT_TIMEOUT", got)
	}
	topo.priorFailures = true
	topo.punchTime = 2 * time.Second
	if got := computeConnectTimeout(topo); got != 12*time.Second {
		t.Errorf("with prior failures: got %v, want 6x punch time", got)
	}
}

func TestComputeConnectTimeoutPeerAsymmetricSelfSymmetric(t *testing.T) {
	topo := connectTopology{hasRelayHint: true, peerNat: protocol.NatAsymmetric, selfNat: protocol.NatSymmetric}
	if got := computeConnectTimeout(topo); got != minConnectTimeout {
		t.Errorf("got %v, want MIN", got)
	}
}

func TestComputeConnectTimeoutOtherwise(t *testing.T) {
	topo := connectTopology{hasRelayHint: true, punchTime: 1 * time.Second}
	if got := computeConnectTimeout(topo); got != 6*time.Second {
		t.Errorf("no prior failures: got %v, want 6x punch time", got)
	}
	topo.priorFailures = true
	if got := computeConnectTimeout(topo); got != 3*time.Second {
		t.Errorf("with prior failures: got %v, want 3x punch time", got)
	}
}

func TestComputeConnectTimeoutFloorsAtMin(t *testing.T) {
	topo := connectTopology{hasRelayHint: true, punchTime: 10 * time.Millisecond}
	if got := computeConnectTimeout(topo); got != minConnectTimeout {
		t.Errorf("got %v, want floored at MIN", got)
	}
}

func TestWrapFailedErrAddsSuffixOnlyForFailedPrefix(t *testing.T) {
	wrapped := wrapFailedErr(errors.New("Failed to connect"))
	if wrapped.Error() != "Failed to connect: Please try later" {
		t.Errorf("got %q", wrapped.Error())
	}
	plain := wrapFailedErr(errors.New("connection refused"))
	if plain.Error() != "connection refused" {
		t.Errorf("got %q, want unchanged", plain.Error())
	}
	if wrapFailedErr(nil) != nil {
		t.Error("wrapFailedErr(nil) should return nil")
	}
}

func TestDialFirstTriesAlternatesInOrder(t *testing.T) {
	var tried []string
	d := dialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
		tried = append(tried, addr)
		if addr == "good:1" {
			a, _ := net.Pipe()
			return a, nil
		}
		return nil, errors.New("refused")
	})
	conn, used, err := dialFirst(context.Background(), d, time.Second, []string{"bad:1", "bad:2", "good:1"})
	if err != nil {
		t.Fatalf("dialFirst: %v", err)
	}
	defer conn.Close()
	if used != "good:1" {
		t.Errorf("used = %q, want good:1", used)
	}
	if len(tried) != 3 {
		t.Errorf("tried %v, want 3 attempts", tried)
	}
}

func TestSecureUpgradeRendezvousSkipsEmptyKey(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	stream := wire.NewStream(a)
	if err := secureUpgradeRendezvous(stream, ""); err != nil {
		t.Fatalf("unexpected error for empty key: %v", err)
	}
}

func TestSecureUpgradeRendezvousSendsKeyExchange(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	stream := wire.NewStream(a)
	peerStream := wire.NewStream(b)

	done := make(chan error, 1)
	go func() { done <- secureUpgradeRendezvous(stream, "shared-secret") }()

	var msg protocol.RendezvousMessage
	if err := peerStream.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("secureUpgradeRendezvous: %v", err)
	}
	if msg.Kind != protocol.KindKeyExchange || msg.KeyExchange == nil || string(msg.KeyExchange.Keys[0]) != "shared-secret" {
		t.Errorf("unexpected key_exchange message: %+v", msg)
	}
}

func TestPunchHoleAttemptSkipsKeyExchangeReplies(t *testing.T) {
	a, b := net.Pipe()
	stream := wire.NewStream(a)
	peerStream := wire.NewStream(b)

	o := &Orchestrator{}
	done := make(chan struct{})
	var resp *protocol.PunchHoleResponse
	var relayResp *protocol.RelayResponse
	var attemptErr error
	go func() {
		resp, relayResp, attemptErr = o.punchHoleAttempt(stream, "peer-1", "tok", protocol.NatUnknown, protocol.ConnType(""), time.Second)
		close(done)
	}()

	var req protocol.RendezvousMessage
	if err := peerStream.ReadJSON(&req); err != nil {
		t.Fatal(err)
	}
	if req.Kind != protocol.KindPunchHoleRequest {
		t.Fatalf("kind = %q", req.Kind)
	}

	// A spurious key_exchange reply should be skipped, not treated terminal.
	if err := peerStream.WriteJSON(&protocol.RendezvousMessage{Kind: protocol.KindKeyExchange}); err != nil {
		t.Fatal(err)
	}
	if err := peerStream.WriteJSON(&protocol.RendezvousMessage{
		Kind:              protocol.KindPunchHoleResponse,
		PunchHoleResponse: &protocol.PunchHoleResponse{RelayServer: "relay.example.com:21117"},
	}); err != nil {
		t.Fatal(err)
	}

	<-done
	if attemptErr != nil {
		t.Fatalf("unexpected error: %v", attemptErr)
	}
	if relayResp != nil {
		t.Error("expected no relay response in this reply")
	}
	if resp == nil || resp.RelayServer != "relay.example.com:21117" {
		t.Errorf("unexpected punch-hole response: %+v", resp)
	}
}

func TestStartIncomingOnlyRejectsImmediately(t *testing.T) {
	o := &Orchestrator{IncomingOnly: true}
	_, err := o.Start(context.Background(), "peer-1", "", "", protocol.ConnType(""), UIHooks{})
	if err == nil {
		t.Fatal("expected an error in incoming-only mode")
	}
}
