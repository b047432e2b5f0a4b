package rdclient

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// PeerAddr is the parsed form of a peer identity string:
// "id" or "id@server?key=base64key". Any of the three fields may be the
// empty string — never a null reference — per the DATA MODEL invariant.
type PeerAddr struct {
	ID     string
	Server string
	Key    string
}

// ParsePeerID splits a free-form peer id into (id, server, key). When no
// "@server?key=..." suffix is present, Server and Key are empty and the
// caller falls back to the default rendezvous list, per §3 "Peer identity".
func ParsePeerID(raw string) PeerAddr {
	s := strings.TrimSpace(raw)
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return PeerAddr{ID: s}
	}
	id := s[:at]
	rest := s[at+1:]

	server := rest
	key := ""
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		server = rest[:q]
		query, err := url.ParseQuery(rest[q+1:])
		if err == nil {
			key = query.Get("key")
		}
	}
	if server == "public" {
		server = ""
	}
	return PeerAddr{ID: id, Server: server, Key: key}
}

// IsLiteralIP reports whether s parses as a bare IP literal (no port), the
// first fast path in the connection orchestrator (§4.1 step 2).
func IsLiteralIP(s string) bool {
	return net.ParseIP(s) != nil
}

// IsDomainPort reports whether s looks like "host:port" with a syntactically
// valid port, the second fast path in §4.1 step 2. Bare IP literals are
// excluded — those are handled by IsLiteralIP.
func IsDomainPort(s string) bool {
	host, port, err := net.SplitHostPort(s)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}
