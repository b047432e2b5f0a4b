// Package config manages persistent client preferences: per-peer connection
// options and the shared rendezvous-server selection cache. Settings are
// stored as JSON at os.UserConfigDir()/rdclient/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CustomResolution is a per-display override (display id -> size).
type CustomResolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PeerConfig is the persisted configuration for one remote peer, per the
// DATA MODEL "Config options" section.
type PeerConfig struct {
	Password           []byte                      `json:"password,omitempty"`
	ImageQuality       string                      `json:"image_quality"`
	CustomImageQuality int                         `json:"custom_image_quality"`
	CustomFps          int                         `json:"custom_fps"`
	ViewStyle          string                      `json:"view_style"`
	ScrollStyle        string                      `json:"scroll_style"`
	KeyboardMode       string                      `json:"keyboard_mode"`
	Toggles            map[string]bool             `json:"toggles"`
	Options            map[string]string           `json:"options"`
	DirectFailures     int                         `json:"direct_failures"`
	CustomResolutions  map[string]CustomResolution `json:"custom_resolutions,omitempty"`
	UIHints            map[string]string           `json:"ui_hints,omitempty"`

	// savedToggles holds the pre-view-only values, restored when view-only
	// is cleared. Not persisted: it only matters within a live process.
	savedToggles map[string]bool `json:"-"`
}

// viewOnlyForced are the toggle values forced while view-only is active.
var viewOnlyForced = map[string]bool{
	"disable-keyboard":      true,
	"disable-clipboard":     true,
	"show-remote-cursor":    true,
	"enable-file-transfer":  false,
	"lock-after-session-end": false,
}

// DefaultPeerConfig returns a PeerConfig populated with sensible defaults.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		ImageQuality: "balanced",
		CustomFps:    30,
		KeyboardMode: "map",
		Toggles: map[string]bool{
			"show-remote-cursor": true,
		},
		Options: map[string]string{},
	}
}

// ToggleOption sets a named boolean toggle. Toggling "view-only" on saves
// the prior values of the forced set and applies them; toggling it off
// restores the saved values, per the view-only invariant in §3.
func (c *PeerConfig) ToggleOption(name string, value bool) {
	if c.Toggles == nil {
		c.Toggles = map[string]bool{}
	}
	if name == "view-only" {
		if value && !c.Toggles["view-only"] {
			c.savedToggles = map[string]bool{}
			for k := range viewOnlyForced {
				c.savedToggles[k] = c.Toggles[k]
			}
			for k, v := range viewOnlyForced {
				c.Toggles[k] = v
			}
		} else if !value && c.Toggles["view-only"] {
			for k, v := range c.savedToggles {
				c.Toggles[k] = v
			}
			c.savedToggles = nil
		}
	}
	c.Toggles[name] = value
}

// GetToggleOption reports the current value of a named toggle.
func (c *PeerConfig) GetToggleOption(name string) bool {
	if c.Toggles == nil {
		return false
	}
	return c.Toggles[name]
}

// RendezvousCacheEntry is the shared "best rendezvous server" selection,
// refreshed opportunistically by the orchestrator (§4.1 step 3).
type RendezvousCacheEntry struct {
	Host      string    `json:"host"`
	CheckedAt time.Time `json:"checked_at"`
}

// Store is the persisted client configuration root.
type Store struct {
	Peers      map[string]PeerConfig `json:"peers"`
	Rendezvous RendezvousCacheEntry  `json:"rendezvous"`

	mu sync.RWMutex `json:"-"`
}

// Default returns a Store with no saved peers.
func Default() *Store {
	return &Store{Peers: map[string]PeerConfig{}}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "rdclient", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default store is returned — never an error.
func Load() *Store {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	store := Default()
	if err := json.Unmarshal(data, store); err != nil {
		return Default()
	}
	if store.Peers == nil {
		store.Peers = map[string]PeerConfig{}
	}
	return store
}

// Save writes the store to disk, creating the directory if needed.
func (s *Store) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Peer returns a copy of the named peer's config, creating defaults if absent.
func (s *Store) Peer(id string) PeerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.Peers[id]; ok {
		return cfg
	}
	return DefaultPeerConfig()
}

// SetPeer stores cfg for the named peer.
func (s *Store) SetPeer(id string, cfg PeerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Peers == nil {
		s.Peers = map[string]PeerConfig{}
	}
	s.Peers[id] = cfg
}

// SetDirectFailures persists direct_failures only when the recorded value
// changes sense (0 <-> nonzero), per the no-spurious-writes invariant.
func (s *Store) SetDirectFailures(id string, direct bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.Peers[id]
	if !ok {
		cfg = DefaultPeerConfig()
	}
	if (cfg.DirectFailures == 0) == direct {
		return false
	}
	if direct {
		cfg.DirectFailures = 0
	} else {
		cfg.DirectFailures = 1
	}
	if s.Peers == nil {
		s.Peers = map[string]PeerConfig{}
	}
	s.Peers[id] = cfg
	return true
}

// RendezvousCache returns the cached best-rendezvous entry if it is fresh
// enough to use without a new probe.
func (s *Store) RendezvousCache(maxAge time.Duration) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Rendezvous.Host == "" {
		return "", false
	}
	if time.Since(s.Rendezvous.CheckedAt) > maxAge {
		return "", false
	}
	return s.Rendezvous.Host, true
}

// SetRendezvousCache records the chosen rendezvous host after a probe.
func (s *Store) SetRendezvousCache(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rendezvous = RendezvousCacheEntry{Host: host, CheckedAt: time.Now()}
}
