package rdclient_test

import (
	"testing"

	rdclient "rdclient"
)

func TestParsePeerIDNoSuffix(t *testing.T) {
	addr := rdclient.ParsePeerID("abc123")
	if addr.ID != "abc123" || addr.Server != "" || addr.Key != "" {
		t.Errorf("unexpected parse: %+v", addr)
	}
}

func TestParsePeerIDWithServerAndKey(t *testing.T) {
	addr := rdclient.ParsePeerID("abc123@rs.example.com?key=dGVzdA==")
	if addr.ID != "abc123" {
		t.Errorf("id: got %q", addr.ID)
	}
	if addr.Server != "rs.example.com" {
		t.Errorf("server: got %q", addr.Server)
	}
	if addr.Key != "dGVzdA==" {
		t.Errorf("key: got %q", addr.Key)
	}
}

func TestParsePeerIDPublicServerTreatedAsDefault(t *testing.T) {
	addr := rdclient.ParsePeerID("abc123@public?key=")
	if addr.Server != "" {
		t.Errorf("expected 'public' override to mean default list, got %q", addr.Server)
	}
}

func TestIsLiteralIP(t *testing.T) {
	if !rdclient.IsLiteralIP("192.168.1.5") {
		t.Error("expected 192.168.1.5 to be a literal IP")
	}
	if rdclient.IsLiteralIP("not-an-ip") {
		t.Error("expected non-IP string to fail")
	}
}

func TestIsDomainPort(t *testing.T) {
	if !rdclient.IsDomainPort("example.com:21118") {
		t.Error("expected host:port to match")
	}
	if rdclient.IsDomainPort("example.com") {
		t.Error("expected bare host to not match")
	}
}
