package rdclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"rdclient/internal/protocol"
	"rdclient/internal/wire"
)

// RendezvousPort and RelayPort are the default rendezvous/relay service
// ports, per §9 Ports. Direct IP connections target RelayPort+1.
const (
	RendezvousPort = 21116
	RelayPort      = 21117
)

const relayRequestRetries = 3

// dialer abstracts the rendezvous/relay dial so tests can substitute an
// in-memory pipe instead of a real socket.
type dialer func(ctx context.Context, network, addr string) (net.Conn, error)

var defaultDialer dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, addr)
}

// requestRelay implements §4.2: ask the rendezvous server to arrange a
// relay session for peerID, retrying up to relayRequestRetries times with a
// fresh socket each attempt. rendezvousAddr is host:port of the rendezvous
// server; relayServer is the hint returned in the punch-hole response.
func requestRelay(ctx context.Context, rendezvousAddr, relayServer, peerID, token string, secure bool, connType protocol.ConnType, dial dialer) (*protocol.RelayResponse, error) {
	if dial == nil {
		dial = defaultDialer
	}
	var lastErr error
	for attempt := 0; attempt < relayRequestRetries; attempt++ {
		resp, err := requestRelayOnce(ctx, rendezvousAddr, relayServer, peerID, token, secure, connType, dial)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("request relay: %d attempts failed: %w", relayRequestRetries, lastErr)
}

func requestRelayOnce(ctx context.Context, rendezvousAddr, relayServer, peerID, token string, secure bool, connType protocol.ConnType, dial dialer) (*protocol.RelayResponse, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeoutDefault)
	defer cancel()
	conn, err := dial(dialCtx, "tcp", rendezvousAddr)
	if err != nil {
		return nil, err
	}
	stream := wire.NewStream(conn)
	defer stream.Close()

	reqUUID := uuid.NewString()
	req := protocol.RendezvousMessage{
		Kind: protocol.KindRequestRelay,
		RequestRelay: &protocol.RequestRelay{
			ID:          peerID,
			Token:       token,
			UUID:        reqUUID,
			RelayServer: relayServer,
			Secure:      secure,
			ConnType:    connType,
		},
	}
	if err := stream.SetDeadline(time.Now().Add(connectTimeoutDefault)); err != nil {
		return nil, err
	}
	if err := stream.WriteJSON(&req); err != nil {
		return nil, fmt.Errorf("send request_relay: %w", err)
	}

	var resp protocol.RendezvousMessage
	if err := stream.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read relay_response: %w", err)
	}
	if resp.RelayResponse == nil {
		return nil, fmt.Errorf("unexpected rendezvous reply while requesting relay")
	}
	if resp.RelayResponse.RefuseReason != "" {
		return nil, fmt.Errorf("relay refused: %s", resp.RelayResponse.RefuseReason)
	}
	if resp.RelayResponse.UUID == "" {
		resp.RelayResponse.UUID = reqUUID
	}
	return resp.RelayResponse, nil
}

// createRelay implements the second half of §4.2: connect to the relay
// server itself and open the actual relayed stream for the given id/uuid.
func createRelay(ctx context.Context, relayResp *protocol.RelayResponse, peerID, licenceKey string, connType protocol.ConnType, dial dialer) (*wire.Stream, error) {
	if dial == nil {
		dial = defaultDialer
	}
	addr := relayResp.RelayServer
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = net.JoinHostPort(host, fmt.Sprintf("%d", RelayPort))
	} else {
		addr = fmt.Sprintf("%s:%d", addr, RelayPort)
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeoutDefault)
	defer cancel()
	conn, err := dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial relay server: %w", err)
	}
	stream := wire.NewStream(conn)

	req := protocol.RendezvousMessage{
		Kind: protocol.KindRequestRelay,
		RequestRelay: &protocol.RequestRelay{
			ID:          peerID,
			UUID:        relayResp.UUID,
			LicenceKey:  licenceKey,
			RelayServer: relayResp.RelayServer,
			ConnType:    connType,
		},
	}
	if err := stream.SetDeadline(time.Now().Add(connectTimeoutDefault)); err != nil {
		stream.Close()
		return nil, err
	}
	if err := stream.WriteJSON(&req); err != nil {
		stream.Close()
		return nil, fmt.Errorf("send relay create request: %w", err)
	}
	if err := stream.SetDeadline(time.Time{}); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}
