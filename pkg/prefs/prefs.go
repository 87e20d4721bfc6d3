// Package prefs persists the settings the federation layer owns: local
// identity, the current record server and the feature toggles flipped when
// whole-home recording is switched on or off.
package prefs

import (
	"strconv"
	"sync"
)

// Preference paths. Every path lives under PathRoot.
const (
	PathRoot = "/users/preferences/"

	PathEnabled             = "/users/preferences/whpvr/enabled"
	PathServerName          = "/users/preferences/whpvr/serverName"
	PathServerUDN           = "/users/preferences/whpvr/serverUdn"
	PathCurrentRecordServer = "/users/preferences/whpvr/currentRecordServer"

	PathNetworkSharing  = "/users/preferences/network/sharing/enabled"
	PathCDSURLExposed   = "/users/preferences/network/dlna/cdsUrlExposed"
	PathPluginRecording = "/users/preferences/plugins/recording/enabled"
	PathPluginLiveTuner = "/users/preferences/plugins/liveTuner/enabled"
	PathPluginEPG       = "/users/preferences/plugins/epg/enabled"
	PathPluginNowPlay   = "/users/preferences/plugins/nowPlaying/enabled"
	PathPluginDiskMedia = "/users/preferences/plugins/diskMedia/enabled"
)

// FeatureToggles are written together when the feature is enabled or disabled.
var FeatureToggles = []string{
	PathNetworkSharing,
	PathCDSURLExposed,
	PathPluginRecording,
	PathPluginLiveTuner,
	PathPluginEPG,
	PathPluginNowPlay,
	PathPluginDiskMedia,
}

// Store is a flat path -> value preference store.
type Store interface {
	Get(path string) (string, bool)
	Set(path, value string) error
}

// GetBool reads a boolean preference; missing or malformed values are false.
func GetBool(s Store, path string) bool {
	v, ok := s.Get(path)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func SetBool(s Store, path string, value bool) error {
	return s.Set(path, strconv.FormatBool(value))
}

// MemoryStore keeps preferences in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[path]
	return v, ok
}

func (m *MemoryStore) Set(path, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[path] = value
	m.writes++
	return nil
}

// Writes returns how many Set calls the store has seen.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
