// Package clipboard runs the single process-wide clipboard poller shared by
// every active session, per §5. It never touches the real OS clipboard
// itself — that's an external collaborator (§1's out-of-scope list) — but exposes a
// pluggable Provider so a real platform binding can be wired in later.
package clipboard

import (
	"sync"
	"time"
)

// PollInterval is CLIPBOARD_INTERVAL: how often the poller reads the
// clipboard provider looking for a change.
const PollInterval = 333 * time.Millisecond

// Provider abstracts OS clipboard access.
type Provider interface {
	Read() (string, error)
}

// noopProvider never reports any clipboard content; it is the default when
// no platform Provider is wired in.
type noopProvider struct{}

func (noopProvider) Read() (string, error) { return "", nil }

// sharedPoller is the process-wide (is_required, running) singleton named
// in §9: a typed handle rather than bare package-level mutable globals.
type sharedPoller struct {
	mu        sync.Mutex
	running   bool
	sessions  int
	provider  Provider
	lastText  string
	stopCh    chan struct{}
	listeners map[int]func(string)
	nextID    int
}

var (
	instance     *sharedPoller
	instanceOnce sync.Once
)

func shared() *sharedPoller {
	instanceOnce.Do(func() {
		instance = &sharedPoller{provider: noopProvider{}, listeners: make(map[int]func(string))}
	})
	return instance
}

// SetProvider installs a real clipboard backend. Safe to call before or
// during polling; takes effect on the next poll tick.
func SetProvider(p Provider) {
	s := shared()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		p = noopProvider{}
	}
	s.provider = p
}

// Subscription is returned by Subscribe; call Cancel to unregister and
// potentially stop the poller if no session remains.
type Subscription struct {
	id int
}

// Subscribe registers a session for clipboard-change notifications and
// starts the shared poller if this is the first session ("try_start_clipboard"
// returning early for subsequent callers, per §5).
func Subscribe(onChange func(string)) Subscription {
	s := shared()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
	id := s.nextID
	s.nextID++
	s.listeners[id] = onChange
	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})
		go s.loop(s.stopCh)
	}
	return Subscription{id: id}
}

// Cancel unregisters a session; the poller stops once the last session
// cancels.
func (sub Subscription) Cancel() {
	s := shared()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, sub.id)
	s.sessions--
	if s.sessions <= 0 && s.running {
		s.running = false
		close(s.stopCh)
	}
}

// Running reports whether the poller is currently active. Exposed for
// tests; not meant to drive application logic.
func Running() bool {
	s := shared()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *sharedPoller) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *sharedPoller) poll() {
	s.mu.Lock()
	provider := s.provider
	last := s.lastText
	s.mu.Unlock()

	text, err := provider.Read()
	if err != nil || text == last {
		return
	}

	s.mu.Lock()
	s.lastText = text
	listeners := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(text)
	}
}
