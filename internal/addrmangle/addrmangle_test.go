package addrmangle_test

import (
	"net/netip"
	"testing"

	"rdclient/internal/addrmangle"
)

func TestRoundTripIPv4(t *testing.T) {
	addr := netip.MustParseAddrPort("203.0.113.7:40000")
	blob := addrmangle.Encode(addr)
	got, err := addrmangle.Decode(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got != addr {
		t.Errorf("round trip mismatch: got %v want %v", got, addr)
	}
}

func TestRoundTripIPv6(t *testing.T) {
	addr := netip.MustParseAddrPort("[2001:db8::1]:443")
	blob := addrmangle.Encode(addr)
	got, err := addrmangle.Decode(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got != addr {
		t.Errorf("round trip mismatch: got %v want %v", got, addr)
	}
}

func TestEncodeObfuscates(t *testing.T) {
	addr := netip.MustParseAddrPort("192.168.1.5:21116")
	blob := addrmangle.Encode(addr)
	raw := addr.Addr().As4()
	if string(blob[1:5]) == string(raw[:]) {
		t.Error("expected mangled bytes to differ from raw address bytes")
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, err := addrmangle.Decode(nil); err == nil {
		t.Error("expected error on empty blob")
	}
	if _, err := addrmangle.Decode([]byte{9, 1, 2, 3}); err == nil {
		t.Error("expected error on unknown family tag")
	}
}
