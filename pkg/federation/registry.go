package federation

import (
	"sync"
	"time"

	"whpvr/pkg/transport"
	"whpvr/pkg/types"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// FinishedCallback is invoked once per fan-out search round. complete is
// false only when the round was abandoned by the search watchdog.
type FinishedCallback func(complete bool)

// ProxyFactory builds the proxy for a newly discovered peer.
type ProxyFactory func(dev types.Device, issuer Issuer, onUpdate func(udn string)) Peer

// Options configures a Registry.
type Options struct {
	LocalUDN   string
	Capability types.Capability
	// Factory defaults to NewDeviceProxy.
	Factory  ProxyFactory
	PageSize int
	// SearchTimeout abandons a fan-out search round that has not completed
	// in time. Zero disables the watchdog.
	SearchTimeout time.Duration
	Logger        *zap.Logger
	Metrics       *Metrics

	// OnChanged receives the full peer list after every reconciliation and
	// after any peer's content changes.
	OnChanged func(peers []Peer)
	// OnContentUpdated receives the UDN of a peer whose recordings or
	// schedules changed.
	OnContentUpdated func(udn string)
}

// Registry keeps one Peer per live recording device, routes protocol
// events to the peer that issued the matching request and aggregates
// operations across peers.
//
// Peer methods are never called while mu is held; peers call back into the
// registry through their Issuer.
type Registry struct {
	mu          sync.Mutex
	reconcileMu sync.Mutex

	transport     transport.Transport
	localUDN      string
	capability    types.Capability
	factory       ProxyFactory
	searchTimeout time.Duration
	logger        *zap.Logger
	metrics       *Metrics

	onChanged        func(peers []Peer)
	onContentUpdated func(udn string)

	peers  []Peer
	byUDN  map[string]Peer
	owners map[string]string // handle -> udn

	round    searchRound
	released bool
}

type searchRound struct {
	id       uint64
	finished FinishedCallback
	fired    bool
	// dispatching is set until every peer has been asked; until then a peer
	// may still report the previous round as finished.
	dispatching bool
	timer       *time.Timer
}

// NewRegistry creates an empty registry bound to t.
func NewRegistry(t transport.Transport, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	capability := opts.Capability
	if capability == (types.Capability{}) {
		capability = types.DefaultCapability
	}

	r := &Registry{
		transport:        t,
		localUDN:         opts.LocalUDN,
		capability:       capability,
		factory:          opts.Factory,
		searchTimeout:    opts.SearchTimeout,
		logger:           logger,
		metrics:          metrics,
		onChanged:        opts.OnChanged,
		onContentUpdated: opts.OnContentUpdated,
		byUDN:            make(map[string]Peer),
		owners:           make(map[string]string),
	}

	if r.factory == nil {
		proxyOpts := ProxyOptions{PageSize: opts.PageSize, Logger: logger}
		r.factory = func(dev types.Device, issuer Issuer, onUpdate func(string)) Peer {
			return NewDeviceProxy(dev, issuer, onUpdate, proxyOpts)
		}
	}

	return r
}

// Discover reconciles against the transport's current device list.
func (r *Registry) Discover() {
	r.Reconcile(r.transport.DiscoverDevices())
}

// Reconcile brings the peer set in line with a fresh discovery list. Peers
// still present keep their proxy; lost peers are released before any new
// proxy is constructed.
func (r *Registry) Reconcile(raw []types.RawDevice) {
	r.reconcileMu.Lock()
	defer r.reconcileMu.Unlock()

	devices := r.filter(raw)
	present := make(map[string]bool, len(devices))
	for _, d := range devices {
		present[d.UDN] = true
	}

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}

	var kept, lost []Peer
	for _, p := range r.peers {
		if present[p.UDN()] {
			kept = append(kept, p)
		} else {
			lost = append(lost, p)
		}
	}

	byUDN := make(map[string]Peer, len(devices))
	for _, p := range kept {
		byUDN[p.UDN()] = p
	}

	var fresh []types.Device
	for _, d := range devices {
		if _, ok := byUDN[d.UDN]; !ok {
			fresh = append(fresh, d)
		}
	}

	r.peers = kept
	r.byUDN = byUDN
	for _, p := range lost {
		r.forgetPeerLocked(p.UDN())
	}
	r.mu.Unlock()

	for _, p := range lost {
		r.logger.Info("Peer lost", zap.String("udn", p.UDN()))
		p.Release()
		r.metrics.PeersLost.Inc()
	}

	created := make([]Peer, 0, len(fresh))
	for _, d := range fresh {
		r.logger.Info("Peer discovered",
			zap.String("udn", d.UDN),
			zap.String("name", d.FriendlyName))
		created = append(created, r.factory(d, &peerIssuer{registry: r, udn: d.UDN}, r.contentUpdated))
		r.metrics.PeersDiscovered.Inc()
	}

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		for _, p := range created {
			p.Release()
		}
		return
	}
	for _, p := range created {
		r.peers = append(r.peers, p)
		r.byUDN[p.UDN()] = p
	}
	peers := r.snapshotLocked()
	r.mu.Unlock()

	// Registered first: a bootstrap reply may be routed before Start returns.
	for _, p := range created {
		p.Start()
	}

	r.metrics.Reconciliations.Inc()
	r.metrics.Peers.Set(float64(len(peers)))
	r.logger.Debug("Reconciled peers",
		zap.Int("peers", len(peers)),
		zap.Int("lost", len(lost)),
		zap.Int("new", len(created)))

	if r.onChanged != nil {
		r.onChanged(peers)
	}

	// A lost peer can no longer finish the running search round.
	if len(lost) > 0 {
		r.checkSearchComplete()
	}
}

func (r *Registry) filter(raw []types.RawDevice) []types.Device {
	seen := make(map[string]bool, len(raw))
	devices := make([]types.Device, 0, len(raw))
	for _, rd := range raw {
		d, err := types.ParseDevice(rd)
		if err != nil {
			r.logger.Debug("Ignoring device", zap.Error(err))
			r.metrics.DevicesFiltered.WithLabelValues("invalid").Inc()
			continue
		}
		if d.UDN == r.localUDN {
			r.metrics.DevicesFiltered.WithLabelValues("self").Inc()
			continue
		}
		if !r.capability.Matches(d) {
			r.metrics.DevicesFiltered.WithLabelValues("capability").Inc()
			continue
		}
		if seen[d.UDN] {
			continue
		}
		seen[d.UDN] = true
		devices = append(devices, d)
	}
	return devices
}

// Route hands a protocol event to the peer that issued the request it
// answers. Events nobody claims are dropped. Route reports whether the
// event was claimed.
func (r *Registry) Route(ev transport.Event) bool {
	r.mu.Lock()
	udn, known := r.owners[ev.Handle]
	target := r.byUDN[udn]
	var candidates []Peer
	if !known {
		candidates = r.snapshotLocked()
	}
	r.mu.Unlock()

	claimed := false
	switch {
	case target != nil:
		claimed = target.EventNotify(ev)
	case !known:
		for _, p := range candidates {
			if p.EventNotify(ev) {
				claimed = true
				break
			}
		}
	}

	if claimed {
		r.metrics.EventsRouted.WithLabelValues(string(ev.Name)).Inc()
	} else {
		r.metrics.EventsUnclaimed.WithLabelValues(string(ev.Name)).Inc()
		r.logger.Debug("Dropping unclaimed event",
			zap.String("event", string(ev.Name)),
			zap.String("handle", ev.Handle))
	}

	if ev.Name.IsTerminalSearch() {
		r.checkSearchComplete()
	}
	return claimed
}

// SearchByCriteria sends q to every peer. data receives results as they
// arrive; finished fires once when every peer has finished.
func (r *Registry) SearchByCriteria(q types.SearchQuery, data DataCallback, finished FinishedCallback) {
	r.mu.Lock()
	if r.round.timer != nil {
		r.round.timer.Stop()
	}
	id := r.round.id + 1
	r.round = searchRound{id: id, finished: finished, dispatching: true}
	if r.searchTimeout > 0 {
		r.round.timer = time.AfterFunc(r.searchTimeout, func() { r.expireSearch(id) })
	}
	peers := r.snapshotLocked()
	r.mu.Unlock()

	r.metrics.SearchRounds.Inc()
	r.logger.Debug("Starting fan-out search",
		zap.String("criteria", q.Criteria),
		zap.Int("peers", len(peers)))

	for _, p := range peers {
		p.SearchByCriteria(q, data)
	}

	r.mu.Lock()
	if r.round.id == id {
		r.round.dispatching = false
	}
	r.mu.Unlock()
	r.checkSearchComplete()
}

func (r *Registry) SearchByActorsDirector(name string, exact bool, properties []string, sort string, data DataCallback, finished FinishedCallback) {
	r.SearchByCriteria(types.ActorsDirectorQuery(name, exact, properties, sort), data, finished)
}

func (r *Registry) checkSearchComplete() {
	r.mu.Lock()
	if r.round.finished == nil || r.round.fired || r.round.dispatching {
		r.mu.Unlock()
		return
	}
	id := r.round.id
	peers := r.snapshotLocked()
	r.mu.Unlock()

	for _, p := range peers {
		if !p.IsSearchFinished() {
			return
		}
	}

	r.mu.Lock()
	if r.round.id != id || r.round.fired {
		r.mu.Unlock()
		return
	}
	r.round.fired = true
	if r.round.timer != nil {
		r.round.timer.Stop()
	}
	cb := r.round.finished
	r.mu.Unlock()

	r.metrics.SearchCompleted.Inc()
	cb(true)
}

func (r *Registry) expireSearch(id uint64) {
	r.mu.Lock()
	if r.round.id != id || r.round.fired || r.round.finished == nil {
		r.mu.Unlock()
		return
	}
	r.round.fired = true
	cb := r.round.finished
	peers := r.snapshotLocked()
	r.mu.Unlock()

	var stalled []string
	for _, p := range peers {
		if !p.IsSearchFinished() {
			stalled = append(stalled, p.UDN())
		}
	}
	r.logger.Warn("Fan-out search timed out",
		zap.Duration("timeout", r.searchTimeout),
		zap.Strings("stalled", stalled))
	r.metrics.SearchTimeouts.Inc()
	cb(false)
}

func (r *Registry) RequestEventRecording(udn string, meta types.RecordingMetadata) bool {
	p, ok := r.route(udn, "requestEventRecording")
	if ok {
		p.RequestEventRecording(meta)
	}
	return ok
}

func (r *Registry) RequestSeriesRecording(udn string, meta types.RecordingMetadata) bool {
	p, ok := r.route(udn, "requestSeriesRecording")
	if ok {
		p.RequestSeriesRecording(meta)
	}
	return ok
}

func (r *Registry) DeleteSeriesSchedule(udn, seriesID string) bool {
	p, ok := r.route(udn, "deleteSeriesSchedule")
	if ok {
		p.DeleteSeriesSchedule(seriesID)
	}
	return ok
}

func (r *Registry) DeleteSingleSchedule(udn string, ev types.EventRef) bool {
	p, ok := r.route(udn, "deleteSingleSchedule")
	if ok {
		p.DeleteSingleSchedule(ev)
	}
	return ok
}

// GetTaskByEvent returns the peer's task for ev. The boolean reports
// whether the peer is registered, not whether a task was found.
func (r *Registry) GetTaskByEvent(udn string, ev types.EventRef) (*types.Task, bool) {
	p, ok := r.route(udn, "getTaskByEvent")
	if !ok {
		return nil, false
	}
	return p.GetTaskByEvent(ev), true
}

func (r *Registry) DeleteTask(task types.Task) bool {
	p, ok := r.route(task.UDN, "deleteTask")
	if ok {
		p.DeleteTask(task)
	}
	return ok
}

func (r *Registry) UpdateTask(task types.Task, meta types.RecordingMetadata) bool {
	p, ok := r.route(task.UDN, "updateTask")
	if ok {
		p.UpdateTask(task, meta)
	}
	return ok
}

func (r *Registry) SaveBookmark(task types.Task, position time.Duration) bool {
	p, ok := r.route(task.UDN, "saveBookmark")
	if ok {
		p.SaveBookmark(task, position)
	}
	return ok
}

func (r *Registry) route(udn, command string) (Peer, bool) {
	p, ok := r.Peer(udn)
	if !ok {
		r.metrics.CommandMisses.WithLabelValues(command).Inc()
		r.logger.Debug("Command for unknown peer",
			zap.String("command", command),
			zap.String("udn", udn))
	}
	return p, ok
}

// Peer returns the proxy registered for udn.
func (r *Registry) Peer(udn string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byUDN[udn]
	return p, ok
}

// Peers returns the registered proxies in registry order.
func (r *Registry) Peers() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Registry) AllSchedules() []types.Schedule {
	var out []types.Schedule
	for _, p := range r.Peers() {
		out = append(out, p.Schedules()...)
	}
	return out
}

func (r *Registry) AllRecordings() []types.Recording {
	var out []types.Recording
	for _, p := range r.Peers() {
		out = append(out, p.Recordings()...)
	}
	return out
}

// RecordingsByFolderName filters the combined recordings of every peer.
func (r *Registry) RecordingsByFolderName(folder string) []types.Recording {
	var out []types.Recording
	for _, rec := range r.AllRecordings() {
		if rec.UIFolder == folder {
			out = append(out, rec)
		}
	}
	return out
}

// Release releases every peer. The registry cannot be reused afterwards.
func (r *Registry) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	if r.round.timer != nil {
		r.round.timer.Stop()
	}
	peers := r.peers
	r.peers = nil
	r.byUDN = make(map[string]Peer)
	r.owners = make(map[string]string)
	r.mu.Unlock()

	for _, p := range peers {
		p.Release()
	}
	r.metrics.Peers.Set(0)
	r.logger.Info("Registry released", zap.Int("peers", len(peers)))
}

func (r *Registry) contentUpdated(udn string) {
	if r.onContentUpdated != nil {
		r.onContentUpdated(udn)
	}
	if r.onChanged != nil {
		r.onChanged(r.Peers())
	}
}

func (r *Registry) snapshotLocked() []Peer {
	return append([]Peer(nil), r.peers...)
}

func (r *Registry) forgetPeerLocked(udn string) {
	for handle, owner := range r.owners {
		if owner == udn {
			delete(r.owners, handle)
		}
	}
}

// peerIssuer stamps requests with a fresh correlation handle and records
// which peer owns it.
type peerIssuer struct {
	registry *Registry
	udn      string
}

func (i *peerIssuer) Issue(req transport.Request) (string, error) {
	r := i.registry
	handle := uuid.NewString()
	req.Handle = handle
	req.UDN = i.udn

	r.mu.Lock()
	r.owners[handle] = i.udn
	r.mu.Unlock()

	if err := r.transport.Send(req); err != nil {
		r.mu.Lock()
		delete(r.owners, handle)
		r.mu.Unlock()
		r.metrics.RequestFailures.WithLabelValues(string(req.Action)).Inc()
		return "", err
	}
	r.metrics.RequestsIssued.WithLabelValues(string(req.Action)).Inc()
	return handle, nil
}

func (i *peerIssuer) Forget(handle string) {
	r := i.registry
	r.mu.Lock()
	if r.owners[handle] == i.udn {
		delete(r.owners, handle)
	}
	r.mu.Unlock()
}
