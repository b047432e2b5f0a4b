// Package wire implements the framed message stream the rest of the
// connection core talks over: a 4-byte big-endian length prefix around
// each message, with an optional symmetric AEAD seal installed once the
// secure handshake completes. Message bodies are JSON-encoded envelopes
// (see internal/protocol) rather than generated protobuf, since no
// protobuf code generator runs in this environment — see DESIGN.md.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// MaxFrameSize bounds a single frame so a corrupt or hostile length prefix
// cannot cause an unbounded allocation.
const MaxFrameSize = 16 << 20

// Stream is a framed, optionally-encrypted message stream over a net.Conn.
// Send and receive each hold their own nonce counter so sealing is safe for
// one writer and one reader operating concurrently (the orchestrator hands
// the stream to the I/O loop after handshake, per the ownership note in
// DATA MODEL).
type Stream struct {
	conn net.Conn
	r    *bufio.Reader

	mu        sync.Mutex
	sendAEAD  sendSealer
	recvAEAD  sendSealer
	sendNonce uint64
	recvNonce uint64
	keyed     atomic.Bool
}

type sendSealer interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// NewStream wraps conn in a framed Stream with no cipher installed.
func NewStream(conn net.Conn) *Stream {
	return &Stream{conn: conn, r: bufio.NewReader(conn)}
}

// SetKey installs a symmetric session key for all subsequent frames. Both
// ends must install the same key (the secure handshake arranges this via
// internal/cryptoutil). Calling SetKey again replaces the key and resets
// both nonce counters, matching a fresh stream's sequencing.
func (s *Stream) SetKey(key []byte) error {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("wire: install key: %w", err)
	}
	s.mu.Lock()
	s.sendAEAD = aead
	s.recvAEAD = aead
	s.sendNonce = 0
	s.recvNonce = 0
	s.mu.Unlock()
	s.keyed.Store(true)
	return nil
}

// Keyed reports whether a symmetric session key is installed.
func (s *Stream) Keyed() bool { return s.keyed.Load() }

// SetDeadline forwards to the underlying connection; callers use this to
// implement the CONNECT_TIMEOUT/READ_TIMEOUT budgets from §5.
func (s *Stream) SetDeadline(t time.Time) error { return s.conn.SetDeadline(t) }

// Close closes the underlying connection.
func (s *Stream) Close() error { return s.conn.Close() }

// LocalAddr exposes the underlying connection's local address so the
// orchestrator can reuse it for the subsequent direct-connect attempt.
func (s *Stream) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *Stream) nonceFor(counter uint64, size int) []byte {
	nonce := make([]byte, size)
	binary.BigEndian.PutUint64(nonce[size-8:], counter)
	return nonce
}

// WriteFrame sends one length-prefixed frame, sealing it if a key is
// installed.
func (s *Stream) WriteFrame(payload []byte) error {
	s.mu.Lock()
	aead := s.sendAEAD
	var nonce []byte
	if aead != nil {
		nonce = s.nonceFor(s.sendNonce, aead.NonceSize())
		s.sendNonce++
	}
	s.mu.Unlock()

	out := payload
	if aead != nil {
		out = aead.Seal(nil, nonce, payload, nil)
	}
	if len(out) > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", len(out))
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(out)))
	if _, err := s.conn.Write(header); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := s.conn.Write(out); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads and, if keyed, opens one length-prefixed frame.
func (s *Stream) ReadFrame() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(s.r, header); err != nil {
		return nil, fmt.Errorf("wire: read header: %w", err)
	}
	n := binary.BigEndian.Uint32(header)
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}

	s.mu.Lock()
	aead := s.recvAEAD
	var nonce []byte
	if aead != nil {
		nonce = s.nonceFor(s.recvNonce, aead.NonceSize())
		s.recvNonce++
	}
	s.mu.Unlock()
	if aead == nil {
		return buf, nil
	}
	opened, err := aead.Open(nil, nonce, buf, nil)
	if err != nil {
		return nil, errors.New("wire: frame authentication failed")
	}
	return opened, nil
}

// WriteJSON JSON-encodes v and sends it as one frame.
func (s *Stream) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	return s.WriteFrame(data)
}

// ReadJSON reads one frame and JSON-decodes it into v.
func (s *Stream) ReadJSON(v any) error {
	data, err := s.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}
