package federation

import (
	"sync"
	"time"

	"whpvr/pkg/transport"
	"whpvr/pkg/types"

	"go.uber.org/zap"
)

// Issuer sends requests on behalf of a single peer. Issue assigns the
// correlation handle; Forget drops a handle that will not be answered or
// whose answer is no longer wanted.
type Issuer interface {
	Issue(req transport.Request) (string, error)
	Forget(handle string)
}

// DataCallback receives search results as they arrive from a peer.
type DataCallback func(udn string, objects []types.ContentObject)

// Peer is the registry's view of a device proxy. The registry calls Start
// once the peer is registered, so every reply to the bootstrap requests has
// a target.
type Peer interface {
	Start()
	UDN() string
	Device() types.Device
	EventNotify(ev transport.Event) bool
	IsSearchFinished() bool
	SearchByCriteria(q types.SearchQuery, data DataCallback)
	Recordings() []types.Recording
	Schedules() []types.Schedule
	RequestEventRecording(meta types.RecordingMetadata)
	RequestSeriesRecording(meta types.RecordingMetadata)
	DeleteSeriesSchedule(seriesID string)
	DeleteSingleSchedule(ev types.EventRef)
	GetTaskByEvent(ev types.EventRef) *types.Task
	DeleteTask(task types.Task)
	UpdateTask(task types.Task, meta types.RecordingMetadata)
	SaveBookmark(task types.Task, position time.Duration)
	Release()
}

// ProxyOptions tunes a DeviceProxy.
type ProxyOptions struct {
	PageSize int
	Logger   *zap.Logger
}

// DeviceProxy represents one recording peer. It owns the peer's recordings
// and schedules and the continuations of every request it has outstanding.
type DeviceProxy struct {
	mu       sync.Mutex
	device   types.Device
	issuer   Issuer
	onUpdate func(udn string)
	pageSize int
	logger   *zap.Logger

	recordings []types.Recording
	schedules  []types.Schedule

	// handle -> continuation
	pending      map[string]*continuation
	subscription string
	refreshGen   map[string]uint64

	searchHandle   string
	searchFinished bool

	started     bool
	released    bool
	releaseOnce sync.Once
}

// effects collects what a continuation wants done once the proxy lock is
// released.
type effects struct {
	updated bool
	calls   []func()
}

type continuation struct {
	persistent bool
	fn         func(ev transport.Event, fx *effects)
}

// NewDeviceProxy creates an idle proxy. Nothing is sent until Start.
func NewDeviceProxy(dev types.Device, issuer Issuer, onUpdate func(udn string), opts ProxyOptions) *DeviceProxy {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeviceProxy{
		device:         dev,
		issuer:         issuer,
		onUpdate:       onUpdate,
		pageSize:       opts.PageSize,
		logger:         logger.With(zap.String("udn", dev.UDN)),
		pending:        make(map[string]*continuation),
		refreshGen:     make(map[string]uint64),
		searchFinished: true,
	}
}

// Start issues the bootstrap subscription and content browse. Calls after
// the first, or after Release, do nothing.
func (p *DeviceProxy) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.released {
		return
	}
	p.started = true
	p.subscribeLocked()
	p.refreshLocked(transport.ContainerRecordings)
	p.refreshLocked(transport.ContainerSchedules)
}

func (p *DeviceProxy) UDN() string {
	return p.device.UDN
}

func (p *DeviceProxy) Device() types.Device {
	return p.device
}

// EventNotify claims ev if its handle belongs to a request this proxy
// issued and is still waiting for.
func (p *DeviceProxy) EventNotify(ev transport.Event) bool {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return false
	}
	c, ok := p.pending[ev.Handle]
	if !ok {
		p.mu.Unlock()
		return false
	}
	if !c.persistent {
		delete(p.pending, ev.Handle)
		p.issuer.Forget(ev.Handle)
	}

	var fx effects
	c.fn(ev, &fx)
	p.mu.Unlock()

	for _, call := range fx.calls {
		call()
	}
	if fx.updated && p.onUpdate != nil {
		p.onUpdate(p.device.UDN)
	}
	return true
}

func (p *DeviceProxy) pendingRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *DeviceProxy) IsSearchFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.searchFinished
}

// SearchByCriteria starts a new search round on this peer. Results of a
// previous round still in flight are no longer claimed.
func (p *DeviceProxy) SearchByCriteria(q types.SearchQuery, data DataCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.searchHandle != "" {
		delete(p.pending, p.searchHandle)
		p.issuer.Forget(p.searchHandle)
		p.searchHandle = ""
	}
	if p.released {
		p.searchFinished = true
		return
	}
	p.searchFinished = false
	p.searchLocked(q, 0, data)
}

func (p *DeviceProxy) SearchByActorsDirector(name string, exact bool, properties []string, sort string, data DataCallback) {
	p.SearchByCriteria(types.ActorsDirectorQuery(name, exact, properties, sort), data)
}

func (p *DeviceProxy) searchLocked(q types.SearchQuery, start int, data DataCallback) {
	handle, ok := p.issueLocked(transport.Request{
		Action:      transport.ActionSearch,
		ContainerID: "0",
		Criteria:    q.Criteria,
		Filter:      q.Properties,
		Sort:        q.Sort,
		ExactMatch:  q.ExactMatch,
		StartIndex:  start,
		Count:       p.pageSize,
	}, func(ev transport.Event, fx *effects) {
		p.searchHandle = ""
		if ev.Name.IsFailure() {
			p.logger.Debug("Search failed",
				zap.Int("code", ev.ErrorCode),
				zap.String("message", ev.Message))
			p.searchFinished = true
			return
		}

		if len(ev.Objects) > 0 && data != nil {
			udn := p.device.UDN
			objects := append([]types.ContentObject(nil), ev.Objects...)
			fx.calls = append(fx.calls, func() { data(udn, objects) })
		}

		next := start + len(ev.Objects)
		if len(ev.Objects) > 0 && next < ev.Total {
			p.searchLocked(q, next, data)
			return
		}
		p.searchFinished = true
	})
	if !ok {
		p.searchFinished = true
		return
	}
	p.searchHandle = handle
}

func (p *DeviceProxy) Recordings() []types.Recording {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Recording(nil), p.recordings...)
}

func (p *DeviceProxy) Schedules() []types.Schedule {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Schedule(nil), p.schedules...)
}

func (p *DeviceProxy) RequestEventRecording(meta types.RecordingMetadata) {
	p.requestRecording("event", meta)
}

func (p *DeviceProxy) RequestSeriesRecording(meta types.RecordingMetadata) {
	p.requestRecording("series", meta)
}

func (p *DeviceProxy) requestRecording(kind string, meta types.RecordingMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}

	md := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		md[k] = v
	}
	md[types.MetaKind] = kind

	p.issueLocked(transport.Request{
		Action:      transport.ActionCreate,
		ContainerID: transport.ContainerSchedules,
		Metadata:    md,
	}, func(ev transport.Event, fx *effects) {
		if ev.Name.IsFailure() {
			p.logger.Warn("Recording request rejected",
				zap.String("kind", kind),
				zap.Int("code", ev.ErrorCode),
				zap.String("message", ev.Message))
			return
		}
		p.refreshLocked(transport.ContainerSchedules)
	})
}

func (p *DeviceProxy) DeleteSeriesSchedule(seriesID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}

	for _, s := range p.schedules {
		if s.SeriesID == seriesID {
			p.deleteLocked(s.ID)
		}
	}
}

func (p *DeviceProxy) DeleteSingleSchedule(ev types.EventRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}

	for _, s := range p.schedules {
		if ev.Matches(s.EventID, s.ServiceID, s.Start) {
			p.deleteLocked(s.ID)
			return
		}
	}
}

// GetTaskByEvent finds the schedule or recording made for a guide event.
func (p *DeviceProxy) GetTaskByEvent(ev types.EventRef) *types.Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.schedules {
		if ev.Matches(s.EventID, s.ServiceID, s.Start) {
			return &types.Task{ObjectID: s.ID, UDN: p.device.UDN, Title: s.Title, EventID: s.EventID, Kind: types.TaskSchedule}
		}
	}
	for _, r := range p.recordings {
		if ev.Matches(r.EventID, r.ServiceID, r.Start) {
			return &types.Task{ObjectID: r.ID, UDN: p.device.UDN, Title: r.Title, EventID: r.EventID, Kind: types.TaskRecording}
		}
	}
	return nil
}

func (p *DeviceProxy) DeleteTask(task types.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.deleteLocked(task.ObjectID)
}

func (p *DeviceProxy) UpdateTask(task types.Task, meta types.RecordingMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}

	container := transport.ContainerSchedules
	if task.Kind == types.TaskRecording {
		container = transport.ContainerRecordings
	}

	p.issueLocked(transport.Request{
		Action:   transport.ActionUpdate,
		ObjectID: task.ObjectID,
		Metadata: map[string]string(meta),
	}, func(ev transport.Event, fx *effects) {
		if ev.Name.IsFailure() {
			p.logger.Warn("Task update rejected",
				zap.String("object_id", task.ObjectID),
				zap.Int("code", ev.ErrorCode))
			return
		}
		p.refreshLocked(container)
	})
}

// SaveBookmark stores a resume position on a recording.
func (p *DeviceProxy) SaveBookmark(task types.Task, position time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}

	p.issueLocked(transport.Request{
		Action:   transport.ActionBookmark,
		ObjectID: task.ObjectID,
		Position: position.Milliseconds(),
	}, func(ev transport.Event, fx *effects) {
		if ev.Name.IsFailure() {
			p.logger.Warn("Bookmark rejected",
				zap.String("object_id", task.ObjectID),
				zap.Int("code", ev.ErrorCode))
			return
		}
		for i := range p.recordings {
			if p.recordings[i].ID == task.ObjectID {
				p.recordings[i].Bookmark = position
				fx.updated = true
			}
		}
	})
}

// Release cancels the subscription and every outstanding request. Events
// for those requests arriving later are not claimed.
func (p *DeviceProxy) Release() {
	p.releaseOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		p.released = true
		for handle := range p.pending {
			p.issuer.Forget(handle)
		}
		p.pending = make(map[string]*continuation)
		p.searchHandle = ""

		if p.subscription != "" {
			handle, err := p.issuer.Issue(transport.Request{
				Action:   transport.ActionUnsubscribe,
				ObjectID: p.subscription,
			})
			if err == nil {
				p.issuer.Forget(handle)
			}
			p.subscription = ""
		}
		p.logger.Debug("Device proxy released")
	})
}

func (p *DeviceProxy) subscribeLocked() {
	handle, ok := p.issueLocked(transport.Request{
		Action: transport.ActionSubscribe,
	}, nil)
	if !ok {
		return
	}

	p.subscription = handle
	p.pending[handle] = &continuation{
		persistent: true,
		fn: func(ev transport.Event, fx *effects) {
			switch ev.Name {
			case transport.SubscribeServiceFailed:
				p.logger.Warn("Subscription refused",
					zap.Int("code", ev.ErrorCode),
					zap.String("message", ev.Message))
				delete(p.pending, ev.Handle)
				p.issuer.Forget(ev.Handle)
				p.subscription = ""
			case transport.OnSubscribedEvent:
				p.refreshLocked(transport.ContainerRecordings)
				p.refreshLocked(transport.ContainerSchedules)
			}
		},
	}
}

// refreshLocked re-reads a container. Only the most recent refresh of a
// container is applied.
func (p *DeviceProxy) refreshLocked(container string) {
	p.refreshGen[container]++
	p.browseLocked(container, p.refreshGen[container], 0, nil)
}

func (p *DeviceProxy) browseLocked(container string, gen uint64, start int, acc []types.ContentObject) {
	p.issueLocked(transport.Request{
		Action:      transport.ActionBrowseContainer,
		ContainerID: container,
		StartIndex:  start,
		Count:       p.pageSize,
	}, func(ev transport.Event, fx *effects) {
		if p.refreshGen[container] != gen {
			return
		}
		if ev.Name.IsFailure() {
			p.logger.Warn("Browse failed",
				zap.String("container", container),
				zap.Int("code", ev.ErrorCode),
				zap.String("message", ev.Message))
			return
		}

		acc = append(acc, ev.Objects...)
		if len(ev.Objects) > 0 && len(acc) < ev.Total {
			p.browseLocked(container, gen, len(acc), acc)
			return
		}
		p.applyLocked(container, acc)
		fx.updated = true
	})
}

func (p *DeviceProxy) applyLocked(container string, objects []types.ContentObject) {
	udn := p.device.UDN
	switch container {
	case transport.ContainerRecordings:
		recordings := make([]types.Recording, 0, len(objects))
		for _, obj := range objects {
			if obj.Class == types.ClassRecording {
				recordings = append(recordings, types.RecordingFromObject(udn, obj))
			}
		}
		p.recordings = recordings
	case transport.ContainerSchedules:
		schedules := make([]types.Schedule, 0, len(objects))
		for _, obj := range objects {
			if obj.Class == types.ClassSchedule {
				schedules = append(schedules, types.ScheduleFromObject(udn, obj))
			}
		}
		p.schedules = schedules
	}
}

func (p *DeviceProxy) deleteLocked(objectID string) {
	p.issueLocked(transport.Request{
		Action:   transport.ActionDelete,
		ObjectID: objectID,
	}, func(ev transport.Event, fx *effects) {
		if ev.Name.IsFailure() {
			p.logger.Warn("Delete rejected",
				zap.String("object_id", objectID),
				zap.Int("code", ev.ErrorCode))
			return
		}
		p.removeLocked(objectID)
		fx.updated = true
	})
}

func (p *DeviceProxy) removeLocked(objectID string) {
	for i, r := range p.recordings {
		if r.ID == objectID {
			p.recordings = append(p.recordings[:i:i], p.recordings[i+1:]...)
			return
		}
	}
	for i, s := range p.schedules {
		if s.ID == objectID {
			p.schedules = append(p.schedules[:i:i], p.schedules[i+1:]...)
			return
		}
	}
}

// issueLocked sends req and, when fn is non-nil, registers it as the
// continuation for the returned handle.
func (p *DeviceProxy) issueLocked(req transport.Request, fn func(transport.Event, *effects)) (string, bool) {
	req.UDN = p.device.UDN
	handle, err := p.issuer.Issue(req)
	if err != nil {
		p.logger.Warn("Failed to send request",
			zap.String("action", string(req.Action)),
			zap.Error(err))
		return "", false
	}
	if fn != nil {
		p.pending[handle] = &continuation{fn: fn}
	}
	return handle, true
}
