// Package addrmangle implements the XOR-obfuscated socket-address encoding
// the rendezvous protocol uses on the wire, so a plain packet sniffer does
// not trivially see raw peer IPs. It is not cryptographic; it is an
// obfuscation layer the orchestrator must decode before dialing.
package addrmangle

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
)

// key is the fixed XOR mask applied to mangled address bytes. Its exact
// value is not load-bearing (obfuscation, not confidentiality) but must be
// shared by encode and decode.
var key = [8]byte{0x32, 0x66, 0xc1, 0x0c, 0x55, 0x77, 0xe4, 0x88}

// Encode mangles a socket address into the wire blob form: a one-byte
// version/family tag, the XOR'd address bytes, then the XOR'd big-endian
// port.
func Encode(addr netip.AddrPort) []byte {
	ip := addr.Addr()
	var out []byte
	if ip.Is4() {
		out = make([]byte, 1+4)
		out[0] = 4
		b := ip.As4()
		for i := 0; i < 4; i++ {
			out[1+i] = b[i] ^ key[i%len(key)]
		}
	} else {
		b16 := ip.As16()
		out = make([]byte, 1+16)
		out[0] = 6
		for i := 0; i < 16; i++ {
			out[1+i] = b16[i] ^ key[i%len(key)]
		}
	}
	port := make([]byte, 2)
	binary.BigEndian.PutUint16(port, addr.Port())
	for i := range port {
		port[i] ^= key[i]
	}
	return append(out, port...)
}

// Decode reverses Encode. It is the law AddrMangle.decode(AddrMangle.encode(addr)) == addr.
func Decode(blob []byte) (netip.AddrPort, error) {
	if len(blob) < 1 {
		return netip.AddrPort{}, fmt.Errorf("addrmangle: empty blob")
	}
	switch blob[0] {
	case 4:
		if len(blob) != 1+4+2 {
			return netip.AddrPort{}, fmt.Errorf("addrmangle: bad ipv4 length %d", len(blob))
		}
		var b [4]byte
		for i := 0; i < 4; i++ {
			b[i] = blob[1+i] ^ key[i%len(key)]
		}
		port := decodePort(blob[5:7])
		return netip.AddrPortFrom(netip.AddrFrom4(b), port), nil
	case 6:
		if len(blob) != 1+16+2 {
			return netip.AddrPort{}, fmt.Errorf("addrmangle: bad ipv6 length %d", len(blob))
		}
		var b [16]byte
		for i := 0; i < 16; i++ {
			b[i] = blob[1+i] ^ key[i%len(key)]
		}
		port := decodePort(blob[17:19])
		return netip.AddrPortFrom(netip.AddrFrom16(b), port), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("addrmangle: unknown family tag %d", blob[0])
	}
}

func decodePort(b []byte) uint16 {
	var unmangled [2]byte
	unmangled[0] = b[0] ^ key[0]
	unmangled[1] = b[1] ^ key[1]
	return binary.BigEndian.Uint16(unmangled[:])
}

// EncodeTCPAddr is a convenience wrapper for *net.TCPAddr callers.
func EncodeTCPAddr(addr *net.TCPAddr) ([]byte, error) {
	ap, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return nil, fmt.Errorf("addrmangle: invalid ip %v", addr.IP)
	}
	return Encode(netip.AddrPortFrom(ap.Unmap(), uint16(addr.Port))), nil
}
