// Package whpvr is the entry point to whole-home recording. A Service owns
// the enable/disable lifecycle, the local identity, the choice of record
// server and the listeners interested in federation changes. Everything
// that touches peers is delegated to a federation.Registry.
package whpvr

import (
	"context"
	"errors"
	"sync"

	"whpvr/pkg/config"
	"whpvr/pkg/federation"
	"whpvr/pkg/prefs"
	"whpvr/pkg/transport"
	"whpvr/pkg/types"

	"go.uber.org/zap"
)

// Bus topics published on lifecycle changes.
const (
	TopicEnabled  = "whpvr:enabled"
	TopicDisabled = "whpvr:disabled"
)

// Restart notice shown once when the feature is switched on.
const (
	RestartDialogID      = "whpvr-restart"
	RestartDialogTitle   = "Restart required"
	RestartDialogMessage = "Whole-home recording has been enabled. Restart the box to start sharing recordings."
)

var (
	ErrInvalidRecordServer = errors.New("record server must be empty or a uuid: device name")
	ErrDisabled            = errors.New("whole-home recording is disabled")
)

// Dialog shows a notice to the user.
type Dialog interface {
	CreateAndShowDialogue(id, title, message string)
}

// Bus broadcasts lifecycle changes to the rest of the application. An
// EventBus.Bus satisfies it.
type Bus interface {
	Publish(topic string, args ...interface{})
}

type Options struct {
	Transport transport.Transport
	Prefs     prefs.Store
	Dialog    Dialog
	Bus       Bus
	Logger    *zap.Logger
	Metrics   *federation.Metrics
	Config    *config.Config

	// Factory overrides proxy construction, mostly for tests.
	Factory federation.ProxyFactory
}

type Service struct {
	transport transport.Transport
	prefs     prefs.Store
	dialog    Dialog
	bus       Bus
	logger    *zap.Logger
	metrics   *federation.Metrics
	cfg       *config.Config
	factory   federation.ProxyFactory

	listeners *listenerTable

	mu       sync.RWMutex
	state    lifecycle
	registry *federation.Registry
	name     string
	udn      string
}

// lifecycle is the enablement state. Enabling covers the preference writes
// and the restart notice; neither Enable nor Disable act on it.
type lifecycle int

const (
	stateDisabled lifecycle = iota
	stateEnabling
	stateEnabled
)

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := opts.Prefs
	if store == nil {
		store = prefs.NewMemoryStore()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	return &Service{
		transport: opts.Transport,
		prefs:     store,
		dialog:    opts.Dialog,
		bus:       opts.Bus,
		logger:    logger,
		metrics:   opts.Metrics,
		cfg:       cfg,
		factory:   opts.Factory,
		listeners: newListenerTable(),
	}
}

// Init reads the persisted enablement flag. When the feature is on it
// resolves the local identity, builds the registry and runs discovery.
// Calling Init again re-runs discovery against the existing registry.
func (s *Service) Init() {
	enabled := prefs.GetBool(s.prefs, prefs.PathEnabled)

	s.mu.Lock()
	s.state = stateDisabled
	if enabled {
		s.state = stateEnabled
	}
	s.mu.Unlock()

	if !enabled {
		s.logger.Info("Whole-home recording disabled")
		return
	}

	name := s.LocalName()
	udn := s.LocalServerUDN()

	s.mu.Lock()
	registry := s.registry
	if registry == nil {
		registry = federation.NewRegistry(s.transport, federation.Options{
			LocalUDN:         udn,
			Capability:       s.cfg.Capability,
			Factory:          s.factory,
			PageSize:         s.cfg.BrowsePageSize,
			SearchTimeout:    s.cfg.SearchTimeout.Std(),
			Logger:           s.logger.Named("registry"),
			Metrics:          s.metrics,
			OnChanged:        s.serversChanged,
			OnContentUpdated: s.contentChanged,
		})
		s.registry = registry
	}
	s.mu.Unlock()

	s.logger.Info("Whole-home recording initialised",
		zap.String("name", name),
		zap.String("udn", udn))

	registry.Discover()
}

// Serve pumps transport events until ctx is done or the event stream
// closes. It satisfies suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				s.logger.Info("Transport event stream closed")
				return nil
			}
			s.HandleEvent(ev)
		}
	}
}

// HandleEvent processes one transport event. Device found/lost signals
// trigger rediscovery; everything else is routed to the owning peer.
func (s *Service) HandleEvent(ev transport.Event) {
	registry := s.currentRegistry()
	if registry == nil {
		return
	}
	if ev.Name.IsSignal() {
		registry.Discover()
		return
	}
	registry.Route(ev)
}

// Release drops the registry without touching persisted settings.
func (s *Service) Release() {
	s.mu.Lock()
	registry := s.registry
	s.registry = nil
	s.mu.Unlock()

	if registry != nil {
		registry.Release()
	}
}

func (s *Service) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateEnabled
}

// Enable switches the feature on and shows the restart notice. It reports
// false when the feature was already on or is being switched on. Discovery
// starts on the next Init.
func (s *Service) Enable() bool {
	s.mu.Lock()
	if s.state != stateDisabled {
		s.mu.Unlock()
		return false
	}
	s.state = stateEnabling
	s.mu.Unlock()

	s.writeToggles(true)
	if s.dialog != nil {
		s.dialog.CreateAndShowDialogue(RestartDialogID, RestartDialogTitle, RestartDialogMessage)
	}

	s.mu.Lock()
	s.state = stateEnabled
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(TopicEnabled)
	}

	s.logger.Info("Whole-home recording enabled")
	s.listeners.fire(EventEnabled, nil)
	return true
}

// Disable switches the feature off, releasing every peer and forgetting
// the cached identity. It reports false unless the feature is fully on.
func (s *Service) Disable() bool {
	s.mu.Lock()
	if s.state != stateEnabled {
		s.mu.Unlock()
		return false
	}
	s.state = stateDisabled
	registry := s.registry
	s.registry = nil
	s.name = ""
	s.udn = ""
	s.mu.Unlock()

	if registry != nil {
		registry.Release()
	}
	s.writeToggles(false)
	if s.bus != nil {
		s.bus.Publish(TopicDisabled)
	}

	s.logger.Info("Whole-home recording disabled")
	s.listeners.fire(EventDisabled, nil)
	return true
}

// Preference writes here are best effort.
func (s *Service) writeToggles(on bool) {
	paths := append([]string{prefs.PathEnabled}, prefs.FeatureToggles...)
	for _, path := range paths {
		if err := prefs.SetBool(s.prefs, path, on); err != nil {
			s.logger.Warn("Failed to write preference",
				zap.String("path", path),
				zap.Error(err))
		}
	}
}

func (s *Service) currentRegistry() *federation.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != stateEnabled {
		return nil
	}
	return s.registry
}

func (s *Service) serversChanged(peers []federation.Peer) {
	s.listeners.fire(EventServersChanged, devices(peers))
}

func (s *Service) contentChanged(udn string) {
	s.listeners.fire(EventContentChanged, udn)
}

func devices(peers []federation.Peer) []types.Device {
	out := make([]types.Device, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Device())
	}
	return out
}
