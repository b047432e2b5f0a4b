package rdclient

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"rdclient/internal/adapt"
	"rdclient/internal/config"
	"rdclient/internal/protocol"
	"rdclient/internal/wire"
)

// metricsInterval is how often Session refreshes its cached quality metrics
// and runs the adaptive-bitrate step.
const metricsInterval = 5 * time.Second

// Metrics holds connection quality figures surfaced to the UI, grounded on
// the equivalent struct in the voice-chat transport this session replaces.
type Metrics struct {
	RTTMs           float64 `json:"rtt_ms"`
	PacketLoss      float64 `json:"packet_loss"`
	JitterMs        float64 `json:"jitter_ms"`
	BitrateKbps     float64 `json:"bitrate_kbps"`
	OpusTargetKbps  int     `json:"opus_target_kbps"`
	QualityLevel    string  `json:"quality_level"`
	CaptureDropped  uint64  `json:"capture_dropped"`
	PlaybackDropped uint64  `json:"playback_dropped"`
}

// qualityLevel classifies connection quality from the same thresholds as
// the teacher's voice transport: good (loss<2%, RTT<100ms, jitter<20ms,
// drops<1/s), moderate (loss<10%, RTT<300ms, jitter<50ms, drops<5/s), poor
// otherwise.
func qualityLevel(loss, rttMs, jitterMs, dropRate float64) string {
	if loss >= 0.10 || rttMs >= 300 || jitterMs >= 50 || dropRate >= 5 {
		return "poor"
	}
	if loss >= 0.02 || rttMs >= 100 || jitterMs >= 20 || dropRate >= 1 {
		return "moderate"
	}
	return "good"
}

// Session is the top-level handle for one remote-desktop connection: it
// drives the orchestrator to establish the stream, then owns the login
// handshake, video/audio pipelines, input encoder, and metrics loop for the
// life of the connection.
type Session struct {
	PeerID string

	store        *config.Store
	orchestrator *Orchestrator

	mu          sync.Mutex
	stream      *wire.Stream
	direct      bool
	sessionID   uint64
	loginState  LoginState
	addressBook AddressBook

	Video *VideoPipeline
	Audio *AudioPipeline
	Input *InputEncoder

	metricsMu     sync.Mutex
	cachedMetrics Metrics
	lastRTT       atomic.Uint64 // bits of float64, sampled by a latency probe
	lastLoss      atomic.Uint64 // bits of float64

	connected atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup

	clipboardSub ClipboardSubscription

	OnDisconnected func(reason string)
	OnLoginError   func(LoginError)
	OnStatus       func(string)
}

// NewSession constructs a Session for peerID, wiring an orchestrator against
// the shared config store and address book.
func NewSession(peerID string, store *config.Store, book AddressBook) *Session {
	if store == nil {
		store = config.Default()
	}
	if book == nil {
		book = NewMemAddressBook()
	}
	return &Session{
		PeerID:      peerID,
		store:       store,
		addressBook: book,
		orchestrator: &Orchestrator{
			Store: store,
		},
		Video: NewVideoPipeline(nil),
		Audio: NewAudioPipeline(),
		Input: &InputEncoder{},
		stopCh: make(chan struct{}),
	}
}

// Connect runs the orchestrator's start() and, on success, starts the
// metrics/decoder loops and the clipboard subscription. It does not run the
// login exchange; callers drive it with SendLoginRequest and
// HandleLoginResponse.
func (s *Session) Connect(ctx context.Context, key, token string, connType protocol.ConnType) error {
	ui := UIHooks{OnStatus: s.OnStatus}
	result, err := s.orchestrator.Start(ctx, s.PeerID, key, token, connType, ui)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stream = result.Stream
	s.direct = result.Direct
	s.mu.Unlock()

	s.connected.Store(true)
	s.wg.Add(1)
	go s.metricsLoop()
	s.Video.Run(s.stopCh)
	s.clipboardSub = SubscribeClipboard(s.onClipboardChange)
	return nil
}

// onClipboardChange forwards a locally-observed clipboard change to the
// peer, unless clipboard sync is disabled for this peer.
func (s *Session) onClipboardChange(text string) {
	cfg := s.store.Peer(s.PeerID)
	if cfg.GetToggleOption("disable-clipboard") {
		return
	}
	// Clipboard payload delivery to the peer is out of scope here (it rides
	// the platform file-transfer/clipboard channel, an external
	// collaborator listed as out of scope in §1); this hook exists so a real
	// implementation has a single attachment point.
	_ = text
}

// HandleLoginResponse implements the login-response half of §4.4: resolve
// peer info or the hash challenge, and surface any error through the
// Error Classifier.
func (s *Session) HandleLoginResponse(resp protocol.LoginResponse, sessionPassword, preseeded, sharedAB, personalAB []byte, switchUUID string) (HandleHashResult, error) {
	if resp.Error != "" {
		cls := ClassifyLoginError(resp.Error)
		if s.OnLoginError != nil {
			s.OnLoginError(cls)
		}
		return HandleHashResult{}, fmt.Errorf("login error: %s", cls.Text)
	}
	if resp.PeerInfo != nil {
		cfg := HandlePeerInfo(s.store, s.PeerID, *resp.PeerInfo, sessionPassword, true, s.loginState.PasswordSrc, "", false)
		s.loginState.KeyboardMode = cfg.KeyboardMode
		s.loginState.PeerSupported = resp.PeerInfo.SupportsMap
	}
	if resp.Hash == nil {
		return HandleHashResult{}, nil
	}
	storedConfig := s.store.Peer(s.PeerID).Password
	result := HandleHash(*resp.Hash, switchUUID, sessionPassword, preseeded, sharedAB, storedConfig, personalAB)
	s.loginState.PasswordSrc = result.Source
	return result, nil
}

// SendLoginRequest assembles and writes a login request over the stream.
func (s *Session) SendLoginRequest(username string, password []byte, myID, myName string, version int64, osLogin *protocol.OSLogin, connType protocol.ConnType, fileTransfer *protocol.FileTransferOption, portForward *protocol.PortForwardOption, onPublicRendezvous bool) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("session not connected")
	}
	option := BuildOptionMessage(s.store.Peer(s.PeerID), s.Video.SupportedDecoding(), onPublicRendezvous, s.direct)
	req := BuildLoginRequest(username, password, myID, myName, s.sessionID, version, osLogin, connType, option, fileTransfer, portForward)
	return stream.WriteJSON(&protocol.Message{Kind: protocol.KindLoginRequest, LoginRequest: &req})
}

// Metrics returns the most recently cached quality snapshot.
func (s *Session) Metrics() Metrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	return s.cachedMetrics
}

// metricsLoop refreshes cached metrics and drives the adaptive Opus bitrate
// ladder from measured loss/RTT, per the teacher's adaptBitrateLoop pattern
// generalized to this single-peer session (adapt.NextBitrate takes the
// place of the teacher's removed adaptive-bitrate step).
func (s *Session) metricsLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refreshMetrics()
		}
	}
}

func (s *Session) refreshMetrics() {
	captureDrops, playbackDrops := s.Audio.DroppedFrames()
	dropRate := float64(captureDrops+playbackDrops) / metricsInterval.Seconds()

	rtt := math.Float64frombits(s.lastRTT.Load())
	loss := math.Float64frombits(s.lastLoss.Load())

	m := Metrics{
		RTTMs:           rtt,
		PacketLoss:      loss,
		OpusTargetKbps:  s.Audio.CurrentBitrate(),
		CaptureDropped:  captureDrops,
		PlaybackDropped: playbackDrops,
	}
	m.QualityLevel = qualityLevel(m.PacketLoss, m.RTTMs, m.JitterMs, dropRate)

	next := adapt.NextBitrate(s.Audio.CurrentBitrate(), loss, rtt)
	if next != s.Audio.CurrentBitrate() {
		s.Audio.SetBitrate(next)
	}

	s.metricsMu.Lock()
	s.cachedMetrics = m
	s.metricsMu.Unlock()
}

// RecordRTT and RecordPacketLoss let a latency/loss probe (e.g. TestDelay
// round-trips) feed the metrics loop without a direct dependency on how
// that probe is implemented.
func (s *Session) RecordRTT(rttMs float64) {
	s.lastRTT.Store(math.Float64bits(rttMs))
}

func (s *Session) RecordPacketLoss(loss float64) {
	s.lastLoss.Store(math.Float64bits(loss))
}

// IsConnected reports whether Connect succeeded and Disconnect has not yet
// been called.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// Disconnect tears down the session: stops the decoder loops, the audio
// pipeline, the clipboard subscription, and closes the stream.
func (s *Session) Disconnect(reason string) {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
	s.Audio.Stop()
	s.clipboardSub.Close()

	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
	if s.OnDisconnected != nil {
		s.OnDisconnected(reason)
	}
}
