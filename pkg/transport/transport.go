// Package transport defines the boundary between the federation layer and
// the home-networking stack. Requests carry an opaque handle that the
// transport echoes on every response event, which is how responses on the
// shared event stream are matched back to the peer that asked for them.
package transport

import (
	"errors"
	"strings"

	"whpvr/pkg/types"
)

var ErrUnknownDevice = errors.New("unknown device")

// EventName identifies an event delivered on the shared stream.
type EventName string

const (
	BrowseContainerOK      EventName = "browseContainerOK"
	BrowseContainerFailed  EventName = "browseContainerFailed"
	BrowseObjectOK         EventName = "browseObjectOK"
	BrowseObjectFailed     EventName = "browseObjectFailed"
	DeleteObjectOK         EventName = "deleteObjectOK"
	DeleteObjectFailed     EventName = "deleteObjectFailed"
	UpdateObjectOK         EventName = "updateObjectOK"
	UpdateObjectFailed     EventName = "updateObjectFailed"
	CreateObjectOK         EventName = "createObjectOK"
	CreateObjectFailed     EventName = "createObjectFailed"
	SearchContainerOK      EventName = "searchContainerOK"
	SearchContainerFailed  EventName = "searchContainerFailed"
	SubscribeServiceOK     EventName = "subscribeServiceOK"
	SubscribeServiceFailed EventName = "subscribeServiceFailed"
	OnSubscribedEvent      EventName = "onSubscribedEvent"
	UpdateBookmarkOK       EventName = "updateBookmarkOK"
	UpdateBookmarkFailed   EventName = "updateBookmarkFailed"

	// Device presence signals. They carry no handle.
	DeviceFound EventName = "deviceFound"
	DeviceLost  EventName = "deviceLost"
)

func (n EventName) IsFailure() bool {
	return strings.HasSuffix(string(n), "Failed")
}

// IsSignal reports whether the event is a presence change rather than a
// protocol response.
func (n EventName) IsSignal() bool {
	return n == DeviceFound || n == DeviceLost
}

func (n EventName) IsTerminalSearch() bool {
	return n == SearchContainerOK || n == SearchContainerFailed
}

// Action is the operation requested from a peer.
type Action string

const (
	ActionBrowseContainer Action = "browseContainer"
	ActionBrowseObject    Action = "browseObject"
	ActionSearch          Action = "search"
	ActionDelete          Action = "delete"
	ActionUpdate          Action = "update"
	ActionCreate          Action = "create"
	ActionBookmark        Action = "bookmark"
	ActionSubscribe       Action = "subscribe"
	ActionUnsubscribe     Action = "unsubscribe"
)

// Containers exposed by a recording-capable peer.
const (
	ContainerRecordings = "recordings"
	ContainerSchedules  = "schedules"
)

// Request is an outbound call to a single peer.
type Request struct {
	Handle      string
	UDN         string
	Action      Action
	ObjectID    string
	ContainerID string
	Criteria    string
	Filter      []string
	Sort        string
	ExactMatch  bool
	StartIndex  int
	Count       int
	Metadata    map[string]string
	Position    int64 // bookmark position in milliseconds
}

// Event is delivered on the shared stream. Handle echoes Request.Handle.
type Event struct {
	Name      EventName
	Handle    string
	UDN       string
	Objects   []types.ContentObject
	Total     int
	ErrorCode int
	Message   string
}

// Transport is the home-network stack as seen by the federation layer.
type Transport interface {
	// DiscoverDevices returns the current raw device list.
	DiscoverDevices() []types.RawDevice
	// Send issues a request. Results arrive later on Events.
	Send(req Request) error
	// Events is the shared, multiplexed event stream.
	Events() <-chan Event
}
