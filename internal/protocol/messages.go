// Package protocol defines the rendezvous and peer message envelopes
// exchanged over the wire codec (internal/wire). Each envelope is a single
// struct with a Kind discriminator and omitempty variant fields, the same
// shape the teacher's control-plane protocol used for its own tagged
// union (see ControlMsg in the teacher's transport layer) — adopted here
// in place of generated protobuf, since no protobuf code generator runs in
// this environment.
package protocol

// Default ports, per the EXTERNAL INTERFACES section.
const (
	RendezvousPort = 21116
	RelayPort      = 21117
)

// NatType enumerates the NAT classifications the orchestrator reasons
// about when choosing a connect timeout and punch strategy.
type NatType string

const (
	NatUnknown   NatType = "UNKNOWN_NAT"
	NatAsymmetric NatType = "ASYMMETRIC"
	NatSymmetric NatType = "SYMMETRIC"
)

// ConnType enumerates the kind of session being requested.
type ConnType string

const (
	ConnDefault     ConnType = "default"
	ConnFileTransfer ConnType = "file_transfer"
	ConnPortForward ConnType = "port_forward"
)

// CodecFormat enumerates video codecs a decoder may (or may not) support.
type CodecFormat string

const (
	CodecVP8  CodecFormat = "vp8"
	CodecVP9  CodecFormat = "vp9"
	CodecH264 CodecFormat = "h264"
	CodecH265 CodecFormat = "h265"
	CodecAV1  CodecFormat = "av1"
)

// PunchHoleFailure enumerates the reasons a rendezvous server refuses a
// punch-hole request.
type PunchHoleFailure string

const (
	FailureIDNotExist   PunchHoleFailure = "id_not_exist"
	FailureOffline      PunchHoleFailure = "offline"
	FailureKeyMismatch  PunchHoleFailure = "key_mismatch"
	FailureLicenseOveruse PunchHoleFailure = "license_overuse"
)

// FailureMessage maps a PunchHoleFailure to the user-facing string named
// in §4.1 step 6.
func FailureMessage(f PunchHoleFailure, otherFailure string) string {
	switch f {
	case FailureIDNotExist:
		return "ID does not exist"
	case FailureOffline:
		return "Remote desktop is offline"
	case FailureKeyMismatch:
		return "Key mismatch"
	case FailureLicenseOveruse:
		return "Key overuse"
	default:
		return otherFailure
	}
}

// RendezvousMessage is the application-layer envelope exchanged with the
// rendezvous server before a peer connection exists.
type RendezvousMessage struct {
	Kind string `json:"kind"`

	PunchHoleRequest  *PunchHoleRequest  `json:"punch_hole_request,omitempty"`
	PunchHoleResponse *PunchHoleResponse `json:"punch_hole_response,omitempty"`
	RequestRelay      *RequestRelay      `json:"request_relay,omitempty"`
	RelayResponse     *RelayResponse     `json:"relay_response,omitempty"`
	KeyExchange       *KeyExchange       `json:"key_exchange,omitempty"`
}

const (
	KindPunchHoleRequest  = "punch_hole_request"
	KindPunchHoleResponse = "punch_hole_response"
	KindRequestRelay      = "request_relay"
	KindRelayResponse     = "relay_response"
	KindKeyExchange       = "key_exchange"
)

// PunchHoleRequest asks the rendezvous server to initiate hole punching
// (or relay selection) toward a listening peer.
type PunchHoleRequest struct {
	ID         string   `json:"id"`
	Token      string   `json:"token"`
	NatType    NatType  `json:"nat_type"`
	LicenceKey string   `json:"licence_key"`
	ConnType   ConnType `json:"conn_type"`
}

// PunchHoleResponse carries either the mangled peer address to dial, a
// relay hint, or a failure reason.
type PunchHoleResponse struct {
	SocketAddr   []byte           `json:"socket_addr,omitempty"`
	NatType      NatType          `json:"nat_type,omitempty"`
	RelayServer  string           `json:"relay_server,omitempty"`
	Pk           []byte           `json:"pk,omitempty"`
	IsLocal      bool             `json:"is_local,omitempty"`
	Failure      PunchHoleFailure `json:"failure,omitempty"`
	OtherFailure string           `json:"other_failure,omitempty"`
}

// RequestRelay asks for a relay session, either from the rendezvous server
// (requesting a relay_server assignment) or from the relay server itself
// (to open the actual relay stream for an id/uuid pair).
type RequestRelay struct {
	ID          string   `json:"id"`
	Token       string   `json:"token"`
	UUID        string   `json:"uuid"`
	RelayServer string   `json:"relay_server"`
	Secure      bool     `json:"secure"`
	LicenceKey  string   `json:"licence_key,omitempty"`
	ConnType    ConnType `json:"conn_type,omitempty"`
}

// RelayResponse answers a RequestRelay with the assigned relay and peer
// public key, or a refusal reason.
type RelayResponse struct {
	RelayServer  string `json:"relay_server"`
	UUID         string `json:"uuid"`
	Pk           []byte `json:"pk,omitempty"`
	RefuseReason string `json:"refuse_reason,omitempty"`
}

// KeyExchange upgrades a rendezvous (or relay) socket to a secure channel
// before the caller's token is sent, per §4.1 step 5.
type KeyExchange struct {
	Keys [][]byte `json:"keys,omitempty"`
}

// Message is the application-layer envelope exchanged with a peer after
// the secure handshake.
type Message struct {
	Kind string `json:"kind"`

	SignedID            *SignedID            `json:"signed_id,omitempty"`
	PublicKey           *PublicKey           `json:"public_key,omitempty"`
	LoginRequest        *LoginRequest        `json:"login_request,omitempty"`
	LoginResponse       *LoginResponse       `json:"login_response,omitempty"`
	VideoFrame          *VideoFrame          `json:"video_frame,omitempty"`
	AudioFrame          *AudioFrame          `json:"audio_frame,omitempty"`
	AudioFormatMsg      *AudioFormat         `json:"audio_format,omitempty"`
	Misc                *Misc                `json:"misc,omitempty"`
	MouseEvent          *MouseEvent          `json:"mouse_event,omitempty"`
	KeyEvent            *KeyEvent            `json:"key_event,omitempty"`
	PointerDeviceEvent  *PointerDeviceEvent  `json:"pointer_device_event,omitempty"`
	TestDelay           *TestDelay           `json:"test_delay,omitempty"`
	SwitchSidesResponse *SwitchSidesResponse `json:"switch_sides_response,omitempty"`
}

const (
	KindSignedID            = "signed_id"
	KindPublicKey           = "public_key"
	KindLoginRequest        = "login_request"
	KindLoginResponse       = "login_response"
	KindVideoFrame          = "video_frame"
	KindAudioFrame          = "audio_frame"
	KindAudioFormat         = "audio_format"
	KindMisc                = "misc"
	KindMouseEvent          = "mouse_event"
	KindKeyEvent            = "key_event"
	KindPointerDeviceEvent  = "pointer_device_event"
	KindTestDelay           = "test_delay"
	KindSwitchSidesResponse = "switch_sides_response"
)

// SignedID is the peer's first message in the secure handshake: its id and
// public key, signed by the rendezvous server's long-term key.
type SignedID struct {
	ID        string `json:"id"`
	Pk        []byte `json:"pk"`
	Signature []byte `json:"signature"`
}

// PublicKey installs (or, if empty, declines) the post-handshake symmetric
// session key.
type PublicKey struct {
	AsymmetricValue []byte `json:"asymmetric_value,omitempty"`
	SymmetricValue  []byte `json:"symmetric_value,omitempty"`
}

// OSLogin carries local OS credentials for unattended access scenarios.
type OSLogin struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// FileTransferOption configures a file-transfer session.
type FileTransferOption struct {
	Dir        string `json:"dir"`
	ShowHidden bool   `json:"show_hidden"`
}

// PortForwardOption configures a port-forward session.
type PortForwardOption struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SupportedDecoding describes the codecs this client can currently decode,
// accounting for anything marked unsupported this session.
type SupportedDecoding struct {
	AbilityVp8  bool `json:"ability_vp8"`
	AbilityVp9  bool `json:"ability_vp9"`
	AbilityH264 bool `json:"ability_h264"`
	AbilityH265 bool `json:"ability_h265"`
	AbilityAv1  bool `json:"ability_av1"`
}

// OptionMessage carries image-quality/fps settings, toggles, and the
// client's current decoding capability.
type OptionMessage struct {
	ImageQuality       string             `json:"image_quality,omitempty"`
	CustomImageQuality int                `json:"custom_image_quality,omitempty"`
	CustomFps          int                `json:"custom_fps,omitempty"`
	Toggles            map[string]bool    `json:"toggles,omitempty"`
	SupportedDecoding  *SupportedDecoding `json:"supported_decoding,omitempty"`
}

// LoginRequest is the assembled login message, per §4.4 "Login message
// construction".
type LoginRequest struct {
	Username    string               `json:"username"`
	Password    []byte               `json:"password"`
	MyID        string               `json:"my_id"`
	MyName      string               `json:"my_name"`
	Option      *OptionMessage       `json:"option,omitempty"`
	SessionID   uint64               `json:"session_id"`
	Version     int64                `json:"version"`
	OSLogin     *OSLogin             `json:"os_login,omitempty"`
	FileTransfer *FileTransferOption `json:"file_transfer,omitempty"`
	PortForward *PortForwardOption   `json:"port_forward,omitempty"`
}

// LoginResponse answers a LoginRequest with either an error string or the
// peer's info (and a hash challenge arrives separately, as a Hash message
// folded into LoginResponse for the taxonomy the spec names as "hash
// handling").
type LoginResponse struct {
	Error    string    `json:"error,omitempty"`
	PeerInfo *PeerInfo `json:"peer_info,omitempty"`
	Hash     *Hash     `json:"hash,omitempty"`
}

// Hash carries the per-session salt and login challenge.
type Hash struct {
	Salt      []byte `json:"salt"`
	Challenge []byte `json:"challenge"`
}

// DisplayInfo describes one of the peer's displays.
type DisplayInfo struct {
	ID     int `json:"id"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PeerInfo is the identity and capability block the peer sends after a
// successful login.
type PeerInfo struct {
	Username     string        `json:"username"`
	Hostname     string        `json:"hostname"`
	Platform     string        `json:"platform"`
	Version      int64         `json:"version"`
	Displays     []DisplayInfo `json:"displays"`
	SupportsMap  bool          `json:"supports_map"`
}

// VideoFrame carries one compressed video frame for a specific display.
type VideoFrame struct {
	Display   int         `json:"display"`
	Format    CodecFormat `json:"format"`
	Data      []byte      `json:"data"`
	KeyFrame  bool        `json:"key_frame"`
	Timestamp int64       `json:"timestamp"`
	ChromaSub string      `json:"chroma_sub,omitempty"`
}

// AudioFrame carries one Opus-encoded audio frame.
type AudioFrame struct {
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// AudioFormat announces the sample rate and channel count of the audio
// stream about to begin.
type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Misc is a grab-bag control message: an option update, a refresh-video
// request, or a restart-remote-device request.
type Misc struct {
	Option              *OptionMessage `json:"option,omitempty"`
	RefreshVideo        *int           `json:"refresh_video,omitempty"`
	RestartRemoteDevice bool           `json:"restart_remote_device,omitempty"`
}

// MouseEvent is a packed mouse/wheel/trackpad event, per §4.7.
type MouseEvent struct {
	Mask      int      `json:"mask"`
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// KeyEvent is a keyboard event; Seq carries a macro-typed string (used by
// the OS-password macro).
type KeyEvent struct {
	Code    int      `json:"code,omitempty"`
	Down    bool     `json:"down,omitempty"`
	Seq     string   `json:"seq,omitempty"`
	Press   bool     `json:"press,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// PointerDeviceEvent is a trackpad/touch pointer event distinct from a
// synthesized mouse wheel event.
type PointerDeviceEvent struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	DeltaX int `json:"delta_x"`
	DeltaY int `json:"delta_y"`
}

// TestDelay round-trips a timestamp for latency probing.
type TestDelay struct {
	Time int64 `json:"time"`
}

// SwitchSidesResponse answers a switch_uuid hash-handling branch with a
// fresh login request for the other side of a relayed pairing.
type SwitchSidesResponse struct {
	UUID         []byte        `json:"uuid"`
	LoginRequest *LoginRequest `json:"login_request"`
}
