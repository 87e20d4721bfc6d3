package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"whpvr/pkg/types"

	"go.uber.org/zap"
)

// Simulator is an in-process home network. It answers requests the way a
// recording-capable peer would, queueing response events on the shared
// stream. Events can be consumed through Events or pumped synchronously
// with Flush.
type Simulator struct {
	mu       sync.Mutex
	devices  []*simDevice
	queue    []Event
	requests []Request
	pageSize int
	nextID   int
	logger   *zap.Logger

	notify    chan struct{}
	events    chan Event
	startOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
}

type simDevice struct {
	raw           types.RawDevice
	udn           string
	objects       []types.ContentObject
	muted         bool
	subscriptions map[string]struct{}
}

// NewSimulator creates an empty network. pageSize bounds the number of
// objects returned per browse or search response; zero means unbounded.
func NewSimulator(pageSize int, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		pageSize: pageSize,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		events:   make(chan Event),
		stopCh:   make(chan struct{}),
	}
}

// AddDevice attaches a device described by a raw descriptor. Devices that
// are not recording peers can be added this way as well.
func (s *Simulator) AddDevice(raw types.RawDevice, objects ...types.ContentObject) {
	udn, _ := raw[types.KeyUDN].(string)

	s.mu.Lock()
	s.removeLocked(udn)
	s.devices = append(s.devices, &simDevice{
		raw:           raw,
		udn:           udn,
		objects:       append([]types.ContentObject(nil), objects...),
		subscriptions: make(map[string]struct{}),
	})
	s.enqueueLocked(Event{Name: DeviceFound, UDN: udn})
	s.mu.Unlock()
}

// AddPeer attaches a typed device.
func (s *Simulator) AddPeer(dev types.Device, objects ...types.ContentObject) {
	s.AddDevice(dev.Raw(), objects...)
}

// RemovePeer detaches a device and signals its loss.
func (s *Simulator) RemovePeer(udn string) {
	s.mu.Lock()
	if s.removeLocked(udn) {
		s.enqueueLocked(Event{Name: DeviceLost, UDN: udn})
	}
	s.mu.Unlock()
}

func (s *Simulator) removeLocked(udn string) bool {
	for i, d := range s.devices {
		if d.udn == udn {
			s.devices = append(s.devices[:i:i], s.devices[i+1:]...)
			return true
		}
	}
	return false
}

// Mute makes a device swallow every request without answering.
func (s *Simulator) Mute(udn string, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.deviceLocked(udn); d != nil {
		d.muted = muted
	}
}

// SetObjects replaces a device's content and notifies its subscribers.
func (s *Simulator) SetObjects(udn string, objects []types.ContentObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deviceLocked(udn)
	if d == nil {
		return
	}
	d.objects = append([]types.ContentObject(nil), objects...)
	s.notifySubscribersLocked(d)
}

// Objects returns a copy of a device's content.
func (s *Simulator) Objects(udn string) []types.ContentObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deviceLocked(udn)
	if d == nil {
		return nil
	}
	return append([]types.ContentObject(nil), d.objects...)
}

// Requests returns every request received so far.
func (s *Simulator) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Simulator) DiscoverDevices() []types.RawDevice {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.RawDevice, 0, len(s.devices))
	for _, d := range s.devices {
		raw := make(types.RawDevice, len(d.raw))
		for k, v := range d.raw {
			raw[k] = v
		}
		out = append(out, raw)
	}
	return out
}

func (s *Simulator) Send(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	d := s.deviceLocked(req.UDN)
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, req.UDN)
	}
	if d.muted {
		s.logger.Debug("Muted device dropped request",
			zap.String("udn", req.UDN),
			zap.String("action", string(req.Action)))
		return nil
	}

	switch req.Action {
	case ActionBrowseContainer:
		var matched []types.ContentObject
		for _, obj := range d.objects {
			if obj.ParentID == req.ContainerID {
				matched = append(matched, obj)
			}
		}
		s.replyPageLocked(req, BrowseContainerOK, matched)

	case ActionBrowseObject:
		if i := d.indexOf(req.ObjectID); i >= 0 {
			s.replyLocked(req, BrowseObjectOK, []types.ContentObject{d.objects[i]}, 1)
		} else {
			s.failLocked(req, BrowseObjectFailed, 701, "no such object")
		}

	case ActionSearch:
		s.replyPageLocked(req, SearchContainerOK, search(d.objects, req.Criteria, req.ExactMatch))

	case ActionDelete:
		i := d.indexOf(req.ObjectID)
		if i < 0 {
			s.failLocked(req, DeleteObjectFailed, 701, "no such object")
			return nil
		}
		d.objects = append(d.objects[:i:i], d.objects[i+1:]...)
		s.replyLocked(req, DeleteObjectOK, nil, 0)
		s.notifySubscribersLocked(d)

	case ActionUpdate:
		i := d.indexOf(req.ObjectID)
		if i < 0 {
			s.failLocked(req, UpdateObjectFailed, 701, "no such object")
			return nil
		}
		obj := &d.objects[i]
		obj.Metadata = mergeMeta(obj.Metadata, req.Metadata)
		if title, ok := req.Metadata["title"]; ok {
			obj.Title = title
		}
		s.replyLocked(req, UpdateObjectOK, []types.ContentObject{*obj}, 1)
		s.notifySubscribersLocked(d)

	case ActionBookmark:
		i := d.indexOf(req.ObjectID)
		if i < 0 {
			s.failLocked(req, UpdateBookmarkFailed, 701, "no such object")
			return nil
		}
		obj := &d.objects[i]
		obj.Metadata = mergeMeta(obj.Metadata, map[string]string{
			types.MetaBookmark: strconv.FormatInt(req.Position, 10) + "ms",
		})
		s.replyLocked(req, UpdateBookmarkOK, []types.ContentObject{*obj}, 1)

	case ActionCreate:
		s.nextID++
		obj := types.ContentObject{
			ID:       fmt.Sprintf("sched-%d", s.nextID),
			ParentID: ContainerSchedules,
			Class:    types.ClassSchedule,
			Title:    req.Metadata["title"],
			Metadata: mergeMeta(nil, req.Metadata),
		}
		d.objects = append(d.objects, obj)
		s.replyLocked(req, CreateObjectOK, []types.ContentObject{obj}, 1)
		s.notifySubscribersLocked(d)

	case ActionSubscribe:
		d.subscriptions[req.Handle] = struct{}{}
		s.replyLocked(req, SubscribeServiceOK, nil, 0)

	case ActionUnsubscribe:
		delete(d.subscriptions, req.ObjectID)

	default:
		return fmt.Errorf("unsupported action %q", req.Action)
	}
	return nil
}

func (s *Simulator) Events() <-chan Event {
	s.startOnce.Do(func() {
		go s.forward()
	})
	return s.events
}

// Close stops the event forwarder.
func (s *Simulator) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
}

// Flush delivers queued events to fn until the queue is empty, including
// events fn itself causes to be queued. It returns the number delivered.
func (s *Simulator) Flush(fn func(Event)) int {
	n := 0
	for {
		ev, ok := s.pop()
		if !ok {
			return n
		}
		fn(ev)
		n++
	}
}

// Pending returns the number of queued events.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Simulator) forward() {
	for {
		ev, ok := s.pop()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.stopCh:
				return
			}
		}
		select {
		case s.events <- ev:
		case <-s.stopCh:
			return
		}
	}
}

func (s *Simulator) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *Simulator) enqueueLocked(ev Event) {
	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Simulator) replyPageLocked(req Request, name EventName, matched []types.ContentObject) {
	total := len(matched)
	start := req.StartIndex
	if start > total {
		start = total
	}
	end := total
	count := req.Count
	if s.pageSize > 0 && (count == 0 || count > s.pageSize) {
		count = s.pageSize
	}
	if count > 0 && start+count < end {
		end = start + count
	}
	s.replyLocked(req, name, matched[start:end], total)
}

func (s *Simulator) replyLocked(req Request, name EventName, objects []types.ContentObject, total int) {
	s.enqueueLocked(Event{
		Name:    name,
		Handle:  req.Handle,
		UDN:     req.UDN,
		Objects: append([]types.ContentObject(nil), objects...),
		Total:   total,
	})
}

func (s *Simulator) failLocked(req Request, name EventName, code int, msg string) {
	s.enqueueLocked(Event{
		Name:      name,
		Handle:    req.Handle,
		UDN:       req.UDN,
		ErrorCode: code,
		Message:   msg,
	})
}

func (s *Simulator) notifySubscribersLocked(d *simDevice) {
	for handle := range d.subscriptions {
		s.enqueueLocked(Event{Name: OnSubscribedEvent, Handle: handle, UDN: d.udn})
	}
}

func (s *Simulator) deviceLocked(udn string) *simDevice {
	for _, d := range s.devices {
		if d.udn == udn {
			return d
		}
	}
	return nil
}

func (d *simDevice) indexOf(id string) int {
	for i, obj := range d.objects {
		if obj.ID == id {
			return i
		}
	}
	return -1
}

var quotedTerm = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

// search matches objects whose title or metadata contain any quoted term of
// the criteria.
func search(objects []types.ContentObject, criteria string, exact bool) []types.ContentObject {
	var terms []string
	for _, m := range quotedTerm.FindAllStringSubmatch(criteria, -1) {
		terms = append(terms, strings.ToLower(strings.ReplaceAll(m[1], `\"`, `"`)))
	}
	if len(terms) == 0 {
		return nil
	}

	match := func(v string) bool {
		v = strings.ToLower(v)
		for _, t := range terms {
			if exact && v == t || !exact && strings.Contains(v, t) {
				return true
			}
		}
		return false
	}

	var out []types.ContentObject
	for _, obj := range objects {
		hit := match(obj.Title)
		for _, v := range obj.Metadata {
			if hit {
				break
			}
			hit = match(v)
		}
		if hit {
			out = append(out, obj)
		}
	}
	return out
}

func mergeMeta(dst, src map[string]string) map[string]string {
	out := make(map[string]string, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// PeersFile is the JSON description of a simulated home network.
type PeersFile struct {
	Peers []PeerSpec `json:"peers"`
}

type PeerSpec struct {
	UDN          string       `json:"udn"`
	FriendlyName string       `json:"friendly_name"`
	ModelName    string       `json:"model_name"`
	ModelNumber  string       `json:"model_number"`
	Objects      []ObjectSpec `json:"objects"`
}

type ObjectSpec struct {
	ID       string            `json:"id"`
	Parent   string            `json:"parent"`
	Class    string            `json:"class"`
	Title    string            `json:"title"`
	UIFolder string            `json:"ui_folder,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LoadPeers reads a peers file and attaches every peer it describes.
func (s *Simulator) LoadPeers(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read peers file: %w", err)
	}

	var pf PeersFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse peers file: %w", err)
	}

	for _, p := range pf.Peers {
		objects := make([]types.ContentObject, 0, len(p.Objects))
		for _, o := range p.Objects {
			objects = append(objects, types.ContentObject{
				ID:       o.ID,
				ParentID: o.Parent,
				Class:    o.Class,
				Title:    o.Title,
				UIFolder: o.UIFolder,
				Metadata: o.Metadata,
			})
		}
		s.AddPeer(types.Device{
			UDN:          p.UDN,
			FriendlyName: p.FriendlyName,
			ModelName:    p.ModelName,
			ModelNumber:  p.ModelNumber,
		}, objects...)
		s.logger.Info("Simulated peer attached",
			zap.String("udn", p.UDN),
			zap.String("name", p.FriendlyName),
			zap.Int("objects", len(objects)))
	}
	return nil
}
