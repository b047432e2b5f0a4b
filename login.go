package rdclient

import (
	"rdclient/internal/config"
	"rdclient/internal/cryptoutil"
	"rdclient/internal/protocol"
)

// PasswordSourceKind tags where a candidate password came from, so
// handle_peer_info can decide whether to persist or clear it.
type PasswordSourceKind int

const (
	SourceNone PasswordSourceKind = iota
	SourceSession
	SourcePreseeded
	SourceSharedAb
	SourceStoredConfig
	SourcePersonalAb
)

// PasswordCandidate is one entry considered by handle_hash's priority chain.
type PasswordCandidate struct {
	Source   PasswordSourceKind
	Password []byte // already hashed with the salt where the doc says "hashed once"
}

// LoginState accumulates what the login handshake has learned for one peer.
type LoginState struct {
	PeerID        string
	SwitchUUID    string
	SessionID     uint64
	PasswordSrc   PasswordSourceKind
	KeyboardMode  string
	PeerSupported bool // peer advertised Map-mode support
}

// HandlePeerInfo implements §4.4's handle_peer_info: reconcile the stored
// password and keyboard mode against what the peer reported.
func HandlePeerInfo(store *config.Store, peerID string, info protocol.PeerInfo, sessionPassword []byte, remember bool, currentSrc PasswordSourceKind, otherServerKey string, forceRelay bool) config.PeerConfig {
	cfg := store.Peer(peerID)

	switch {
	case remember:
		if currentSrc != SourceSharedAb && string(sessionPassword) != string(cfg.Password) {
			cfg.Password = sessionPassword
		}
	default:
		if currentSrc == SourcePersonalAb {
			cfg.Password = sessionPassword
		} else {
			cfg.Password = nil
		}
	}

	if otherServerKey != "" && otherServerKey != "public" {
		if cfg.Options == nil {
			cfg.Options = map[string]string{}
		}
		cfg.Options["other-server-key"] = otherServerKey
	}
	if forceRelay {
		if cfg.Options == nil {
			cfg.Options = map[string]string{}
		}
		cfg.Options["force-always-relay"] = "Y"
	}

	if info.SupportsMap {
		cfg.KeyboardMode = "map"
	} else if cfg.KeyboardMode == "map" {
		cfg.KeyboardMode = "legacy"
	}

	store.SetPeer(peerID, cfg)
	return cfg
}

// HandleHashResult is what handle_hash decided to do.
type HandleHashResult struct {
	// Switch is true when the hash carried a switch_uuid: the caller should
	// send a SwitchSidesResponse instead of a login request.
	Switch        bool
	SwitchUUID    string
	LoginPassword []byte // the SHA256(hashed||challenge) response, or empty
	Source        PasswordSourceKind
	NeedsPrompt   bool // true when no candidate was found; UI must prompt
}

// HandleHash implements §4.4's handle_hash: strict priority chain over
// password candidates, collapsing to a login response hashed with the
// challenge, or a prompt request.
//
// switchUUID is non-empty when the Hash message indicates the peer wants to
// switch sides. sessionPassword is the in-memory password for this attempt
// (if any). preseeded is a caller-supplied one-shot password (e.g. from a
// CLI flag). sharedAB/personalAB are resolved address-book lookups; empty
// slices mean "not found".
func HandleHash(hash protocol.Hash, switchUUID string, sessionPassword, preseeded, sharedAB, storedConfig, personalAB []byte) HandleHashResult {
	if switchUUID != "" {
		return HandleHashResult{Switch: true, SwitchUUID: switchUUID}
	}

	var candidate []byte
	var source PasswordSourceKind
	switch {
	case len(sessionPassword) > 0:
		candidate = cryptoutil.HashWithSalt(sessionPassword, hash.Salt)
		source = SourceSession
	case len(preseeded) > 0:
		candidate = cryptoutil.HashWithSalt(preseeded, hash.Salt)
		source = SourcePreseeded
	case len(sharedAB) > 0:
		candidate = cryptoutil.HashWithSalt(sharedAB, hash.Salt)
		source = SourceSharedAb
	case len(storedConfig) > 0:
		candidate = storedConfig // already hashed with salt per the doc
		source = SourceStoredConfig
	case len(personalAB) > 0:
		candidate = cryptoutil.HashWithSalt(personalAB, hash.Salt)
		source = SourcePersonalAb
	default:
		return HandleHashResult{NeedsPrompt: true, Source: SourceNone}
	}

	response := cryptoutil.Sha256(candidate, hash.Challenge)
	return HandleHashResult{LoginPassword: response, Source: source}
}

// BuildLoginRequest implements §4.4's "Login message construction".
func BuildLoginRequest(username string, password []byte, myID, myName string, sessionID uint64, version int64, osLogin *protocol.OSLogin, connType protocol.ConnType, option *protocol.OptionMessage, fileTransfer *protocol.FileTransferOption, portForward *protocol.PortForwardOption) protocol.LoginRequest {
	req := protocol.LoginRequest{
		Username:  username,
		Password:  password,
		MyID:      myID,
		MyName:    myName,
		SessionID: sessionID,
		Version:   version,
		OSLogin:   osLogin,
	}
	switch connType {
	case protocol.ConnFileTransfer:
		req.FileTransfer = fileTransfer
	case protocol.ConnPortForward:
		req.PortForward = portForward
	default:
		req.Option = option
	}
	return req
}

const (
	publicQualityCap = 100
	publicFpsCap     = 30
)

// BuildOptionMessage implements §4.4's "Option message" rule, including the
// public-rendezvous bitrate caps.
func BuildOptionMessage(cfg config.PeerConfig, decoding protocol.SupportedDecoding, onPublicRendezvous, direct bool) *protocol.OptionMessage {
	opt := &protocol.OptionMessage{
		Toggles:           cfg.Toggles,
		SupportedDecoding: &decoding,
	}
	quality := cfg.CustomImageQuality
	fps := cfg.CustomFps
	if onPublicRendezvous && !direct {
		if quality > publicQualityCap {
			quality = publicQualityCap
		}
		if fps > publicFpsCap {
			fps = publicFpsCap
		}
	}
	if quality > 0 || fps > 0 {
		opt.CustomImageQuality = quality << 8
		opt.CustomFps = fps
	} else {
		opt.ImageQuality = cfg.ImageQuality
	}
	return opt
}
