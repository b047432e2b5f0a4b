package rdclient

import (
	"bytes"
	"testing"

	"rdclient/internal/config"
	"rdclient/internal/cryptoutil"
	"rdclient/internal/protocol"
)

func TestHandleHashPriorityChain(t *testing.T) {
	hash := protocol.Hash{Salt: []byte("salt"), Challenge: []byte("chal")}

	session := []byte("session-pw")
	preseeded := []byte("preseeded-pw")
	sharedAB := []byte("shared-ab-pw")
	personalAB := []byte("personal-ab-pw")
	storedConfig := cryptoutil.HashWithSalt([]byte("stored-pw"), hash.Salt)

	// Session password always wins when present.
	result := HandleHash(hash, "", session, preseeded, sharedAB, storedConfig, personalAB)
	want := cryptoutil.Sha256(cryptoutil.HashWithSalt(session, hash.Salt), hash.Challenge)
	if !bytes.Equal(result.LoginPassword, want) || result.Source != SourceSession {
		t.Errorf("session password should win: source=%v", result.Source)
	}

	// Without a session password, preseeded wins.
	result = HandleHash(hash, "", nil, preseeded, sharedAB, storedConfig, personalAB)
	if result.Source != SourcePreseeded {
		t.Errorf("source = %v, want SourcePreseeded", result.Source)
	}

	// Without session/preseeded, shared address book wins.
	result = HandleHash(hash, "", nil, nil, sharedAB, storedConfig, personalAB)
	if result.Source != SourceSharedAb {
		t.Errorf("source = %v, want SourceSharedAb", result.Source)
	}

	// Without those, the already-hashed stored config wins and is used as-is.
	result = HandleHash(hash, "", nil, nil, nil, storedConfig, personalAB)
	wantStored := cryptoutil.Sha256(storedConfig, hash.Challenge)
	if !bytes.Equal(result.LoginPassword, wantStored) || result.Source != SourceStoredConfig {
		t.Errorf("stored config candidate should be used pre-hashed: source=%v", result.Source)
	}

	// Without any of those, personal address book is the last resort.
	result = HandleHash(hash, "", nil, nil, nil, nil, personalAB)
	if result.Source != SourcePersonalAb {
		t.Errorf("source = %v, want SourcePersonalAb", result.Source)
	}

	// With nothing at all, the caller must prompt.
	result = HandleHash(hash, "", nil, nil, nil, nil, nil)
	if !result.NeedsPrompt || result.Source != SourceNone {
		t.Errorf("expected NeedsPrompt with SourceNone, got %+v", result)
	}
}

func TestHandleHashSwitchSidesShortCircuits(t *testing.T) {
	hash := protocol.Hash{Salt: []byte("s"), Challenge: []byte("c")}
	result := HandleHash(hash, "switch-1", []byte("ignored"), nil, nil, nil, nil)
	if !result.Switch || result.SwitchUUID != "switch-1" {
		t.Errorf("expected a switch result, got %+v", result)
	}
	if len(result.LoginPassword) != 0 {
		t.Error("a switch-sides result should not carry a login password")
	}
}

func TestHandlePeerInfoRemembersSessionPassword(t *testing.T) {
	store := config.Default()
	cfg := HandlePeerInfo(store, "peer-1", protocol.PeerInfo{SupportsMap: true}, []byte("new-pw"), true, SourceNone, "", false)
	if !bytes.Equal(cfg.Password, []byte("new-pw")) {
		t.Errorf("password = %q, want new-pw remembered", cfg.Password)
	}
	if cfg.KeyboardMode != "map" {
		t.Errorf("keyboard mode = %q, want map when the peer supports it", cfg.KeyboardMode)
	}
}

func TestHandlePeerInfoClearsPasswordWhenNotRemembered(t *testing.T) {
	store := config.Default()
	cfg := HandlePeerInfo(store, "peer-2", protocol.PeerInfo{SupportsMap: true}, []byte("one-shot-pw"), false, SourceNone, "", false)
	if cfg.Password != nil {
		t.Errorf("password should be cleared when not remembered and not from a personal address book, got %q", cfg.Password)
	}
}

func TestHandlePeerInfoKeepsPersonalAddressBookPassword(t *testing.T) {
	store := config.Default()
	cfg := HandlePeerInfo(store, "peer-3", protocol.PeerInfo{SupportsMap: true}, []byte("ab-pw"), false, SourcePersonalAb, "", false)
	if !bytes.Equal(cfg.Password, []byte("ab-pw")) {
		t.Errorf("password from a personal address book should survive even without remember, got %q", cfg.Password)
	}
}

func TestHandlePeerInfoDowngradesKeyboardModeWhenUnsupported(t *testing.T) {
	store := config.Default()
	existing := store.Peer("peer-4")
	existing.KeyboardMode = "map"
	store.SetPeer("peer-4", existing)

	cfg := HandlePeerInfo(store, "peer-4", protocol.PeerInfo{SupportsMap: false}, nil, true, SourceNone, "", false)
	if cfg.KeyboardMode != "legacy" {
		t.Errorf("keyboard mode = %q, want legacy once the peer stops supporting map", cfg.KeyboardMode)
	}
}

func TestHandlePeerInfoPersistsServerKeyAndForceRelay(t *testing.T) {
	store := config.Default()
	cfg := HandlePeerInfo(store, "peer-5", protocol.PeerInfo{}, nil, true, SourceNone, "custom-key", true)
	if cfg.Options["other-server-key"] != "custom-key" {
		t.Errorf("other-server-key = %q", cfg.Options["other-server-key"])
	}
	if cfg.Options["force-always-relay"] != "Y" {
		t.Errorf("force-always-relay = %q", cfg.Options["force-always-relay"])
	}
}

func TestBuildLoginRequestRoutesByConnType(t *testing.T) {
	opt := &protocol.OptionMessage{ImageQuality: "balanced"}
	ft := &protocol.FileTransferOption{Dir: "/tmp"}
	pf := &protocol.PortForwardOption{Host: "localhost", Port: 8080}

	req := BuildLoginRequest("alice", nil, "id", "name", 1, 1, nil, protocol.ConnFileTransfer, opt, ft, pf)
	if req.FileTransfer != ft || req.Option != nil || req.PortForward != nil {
		t.Errorf("file-transfer conn type should only attach FileTransfer: %+v", req)
	}

	req = BuildLoginRequest("alice", nil, "id", "name", 1, 1, nil, protocol.ConnPortForward, opt, ft, pf)
	if req.PortForward != pf || req.Option != nil || req.FileTransfer != nil {
		t.Errorf("port-forward conn type should only attach PortForward: %+v", req)
	}

	req = BuildLoginRequest("alice", nil, "id", "name", 1, 1, nil, protocol.ConnType(""), opt, ft, pf)
	if req.Option != opt || req.FileTransfer != nil || req.PortForward != nil {
		t.Errorf("default conn type should only attach Option: %+v", req)
	}
}

func TestBuildOptionMessageCapsOnPublicRendezvous(t *testing.T) {
	cfg := config.PeerConfig{CustomImageQuality: 150, CustomFps: 60}
	decoding := protocol.SupportedDecoding{AbilityVp8: true}

	opt := BuildOptionMessage(cfg, decoding, true, false)
	if opt.CustomImageQuality != publicQualityCap<<8 {
		t.Errorf("quality = %d, want capped at %d<<8", opt.CustomImageQuality, publicQualityCap)
	}
	if opt.CustomFps != publicFpsCap {
		t.Errorf("fps = %d, want capped at %d", opt.CustomFps, publicFpsCap)
	}
}

func TestBuildOptionMessageUncappedWhenDirect(t *testing.T) {
	cfg := config.PeerConfig{CustomImageQuality: 100, CustomFps: 60}
	decoding := protocol.SupportedDecoding{}

	opt := BuildOptionMessage(cfg, decoding, true, true)
	if opt.CustomImageQuality != 100<<8 || opt.CustomFps != 60 {
		t.Errorf("direct connections should not be capped, got quality=%d fps=%d", opt.CustomImageQuality, opt.CustomFps)
	}
}

func TestBuildOptionMessageFallsBackToNamedQuality(t *testing.T) {
	cfg := config.PeerConfig{ImageQuality: "low"}
	opt := BuildOptionMessage(cfg, protocol.SupportedDecoding{}, false, false)
	if opt.ImageQuality != "low" {
		t.Errorf("ImageQuality = %q, want low when no custom quality/fps is set", opt.ImageQuality)
	}
}
