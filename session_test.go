package rdclient

import (
	"testing"

	"rdclient/internal/config"
	"rdclient/internal/protocol"
)

func TestQualityLevelThresholds(t *testing.T) {
	cases := []struct {
		loss, rtt, jitter, dropRate float64
		want                        string
	}{
		{0, 10, 5, 0, "good"},
		{0.03, 10, 5, 0, "moderate"},
		{0, 150, 5, 0, "moderate"},
		{0.12, 10, 5, 0, "poor"},
		{0, 10, 5, 6, "poor"},
	}
	for _, c := range cases {
		got := qualityLevel(c.loss, c.rtt, c.jitter, c.dropRate)
		if got != c.want {
			t.Errorf("qualityLevel(%v,%v,%v,%v) = %q, want %q", c.loss, c.rtt, c.jitter, c.dropRate, got, c.want)
		}
	}
}

func TestHandleLoginResponseSurfacesClassifiedError(t *testing.T) {
	s := NewSession("peer-1", config.Default(), nil)
	var got LoginError
	s.OnLoginError = func(e LoginError) { got = e }

	_, err := s.HandleLoginResponse(protocol.LoginResponse{Error: "Wrong Password"}, nil, nil, nil, nil, "")
	if err == nil {
		t.Fatal("expected an error for a login-error response")
	}
	if got.Title == "" {
		t.Fatal("expected OnLoginError to be invoked with a classified error")
	}
}

func TestHandleLoginResponseUpdatesKeyboardMode(t *testing.T) {
	store := config.Default()
	s := NewSession("peer-2", store, nil)
	_, err := s.HandleLoginResponse(protocol.LoginResponse{
		PeerInfo: &protocol.PeerInfo{SupportsMap: false},
	}, nil, nil, nil, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.loginState.KeyboardMode != "legacy" {
		t.Errorf("keyboard mode = %q, want legacy after a peer without map support", s.loginState.KeyboardMode)
	}
}

func TestHandleLoginResponseResolvesHash(t *testing.T) {
	s := NewSession("peer-3", config.Default(), nil)
	result, err := s.HandleLoginResponse(protocol.LoginResponse{
		Hash: &protocol.Hash{Salt: []byte("salt"), Challenge: []byte("chal")},
	}, []byte("hunter2"), nil, nil, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != SourceSession {
		t.Errorf("source = %v, want SourceSession", result.Source)
	}
	if len(result.LoginPassword) == 0 {
		t.Error("expected a non-empty hashed login response")
	}
}

func TestHandleLoginResponseSwitchSides(t *testing.T) {
	s := NewSession("peer-4", config.Default(), nil)
	result, err := s.HandleLoginResponse(protocol.LoginResponse{
		Hash: &protocol.Hash{Salt: []byte("salt"), Challenge: []byte("chal")},
	}, nil, nil, nil, nil, "switch-uuid-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Switch || result.SwitchUUID != "switch-uuid-1" {
		t.Errorf("expected a switch-sides result, got %+v", result)
	}
}

func TestRefreshMetricsUsesRecordedSamples(t *testing.T) {
	s := NewSession("peer-5", config.Default(), nil)
	s.RecordRTT(50)
	s.RecordPacketLoss(0.001)
	s.refreshMetrics()

	m := s.Metrics()
	if m.RTTMs != 50 {
		t.Errorf("RTTMs = %v, want 50", m.RTTMs)
	}
	if m.QualityLevel != "good" {
		t.Errorf("QualityLevel = %q, want good", m.QualityLevel)
	}
}

func TestDisconnectWithoutConnectIsNoop(t *testing.T) {
	s := NewSession("peer-6", config.Default(), nil)
	called := false
	s.OnDisconnected = func(string) { called = true }
	s.Disconnect("never connected")
	if called {
		t.Error("OnDisconnected should not fire when the session never connected")
	}
}

func TestSendLoginRequestRequiresStream(t *testing.T) {
	s := NewSession("peer-7", config.Default(), nil)
	err := s.SendLoginRequest("alice", nil, "my-id", "my-name", 1, nil, protocol.ConnType(""), nil, nil, false)
	if err == nil {
		t.Fatal("expected an error when no stream is established yet")
	}
}
