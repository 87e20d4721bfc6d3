package whpvr

import (
	"strings"

	"whpvr/pkg/prefs"
	"whpvr/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalName returns the name this box advertises. The first call reads the
// preference store; when nothing is stored the configured default is
// written back.
func (s *Service) LocalName() string {
	s.mu.RLock()
	name := s.name
	s.mu.RUnlock()
	if name != "" {
		return name
	}

	name, ok := s.prefs.Get(prefs.PathServerName)
	if !ok || name == "" {
		name = s.cfg.DefaultServerName
		if err := s.prefs.Set(prefs.PathServerName, name); err != nil {
			s.logger.Warn("Failed to store default server name", zap.Error(err))
		}
	}

	s.mu.Lock()
	if s.name == "" {
		s.name = name
	}
	name = s.name
	s.mu.Unlock()
	return name
}

func (s *Service) SetLocalName(name string) error {
	if err := s.prefs.Set(prefs.PathServerName, name); err != nil {
		return err
	}
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	return nil
}

// LocalServerUDN returns this box's device name, generating and storing
// one on first use.
func (s *Service) LocalServerUDN() string {
	s.mu.RLock()
	udn := s.udn
	s.mu.RUnlock()
	if udn != "" {
		return udn
	}

	udn, ok := s.prefs.Get(prefs.PathServerUDN)
	if !ok || udn == "" {
		udn = types.UDNPrefix + uuid.NewString()
		if err := s.prefs.Set(prefs.PathServerUDN, udn); err != nil {
			s.logger.Warn("Failed to store server UDN", zap.Error(err))
		}
		s.logger.Info("Generated local server UDN", zap.String("udn", udn))
	}

	s.mu.Lock()
	if s.udn == "" {
		s.udn = udn
	}
	udn = s.udn
	s.mu.Unlock()
	return udn
}

// CurrentRecordServer returns the stored record server: empty for local
// recording, otherwise a peer UDN that may no longer be present.
func (s *Service) CurrentRecordServer() string {
	v, _ := s.prefs.Get(prefs.PathCurrentRecordServer)
	return v
}

func (s *Service) SetCurrentRecordServer(udn string) error {
	if udn != "" && !strings.HasPrefix(udn, types.UDNPrefix) {
		return ErrInvalidRecordServer
	}
	if err := s.prefs.Set(prefs.PathCurrentRecordServer, udn); err != nil {
		return err
	}
	s.logger.Info("Current record server changed", zap.String("udn", udn))
	s.listeners.fire(EventCurrentRecordServerChanged, udn)
	return nil
}

// IsLocalRecordServer reports whether new recordings should be made on
// this box.
func (s *Service) IsLocalRecordServer() bool {
	registry := s.currentRegistry()
	if registry == nil {
		return true
	}
	current := s.CurrentRecordServer()
	if current == "" || current == s.LocalServerUDN() {
		return true
	}
	return registry.Len() == 0
}

// IsRemoteRecordServerValid reports whether the stored record server is a
// live peer.
func (s *Service) IsRemoteRecordServerValid() bool {
	registry := s.currentRegistry()
	if registry == nil {
		return false
	}
	current := s.CurrentRecordServer()
	if current == "" {
		return false
	}
	_, ok := registry.Peer(current)
	return ok
}

func (s *Service) HasRemoteServers() bool {
	registry := s.currentRegistry()
	return registry != nil && registry.Len() > 0
}

// CurrentRecordServerName returns the friendly name of the box new
// recordings go to, or "" when the stored peer has gone.
func (s *Service) CurrentRecordServerName() string {
	if s.IsLocalRecordServer() {
		return s.LocalName()
	}
	return s.TVNameByUDN(s.CurrentRecordServer())
}

func (s *Service) TVNameByUDN(udn string) string {
	if udn == "" {
		return ""
	}
	if udn == s.LocalServerUDN() {
		return s.LocalName()
	}
	registry := s.currentRegistry()
	if registry == nil {
		return ""
	}
	if p, ok := registry.Peer(udn); ok {
		return p.Device().FriendlyName
	}
	return ""
}

func (s *Service) TVNameByRecording(rec types.Recording) string {
	return s.TVNameByUDN(rec.UDN)
}
