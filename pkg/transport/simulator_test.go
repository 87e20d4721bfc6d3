package transport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"whpvr/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func object(id, parent, title string, meta map[string]string) types.ContentObject {
	return types.ContentObject{ID: id, ParentID: parent, Title: title, Metadata: meta}
}

func drain(s *Simulator) []Event {
	var out []Event
	s.Flush(func(ev Event) { out = append(out, ev) })
	return out
}

func TestSimulatorDiscovery(t *testing.T) {
	s := NewSimulator(0, zaptest.NewLogger(t))
	s.AddPeer(types.Device{UDN: "uuid:A", FriendlyName: "A", ModelName: "Gateway", ModelNumber: "OpenTV5"})
	s.AddDevice(types.RawDevice{types.KeyUDN: "uuid:B"})

	devices := s.DiscoverDevices()
	require.Len(t, devices, 2)
	assert.Equal(t, "uuid:A", devices[0][types.KeyUDN])
	assert.Equal(t, "Gateway", devices[0][types.KeyModelName])

	s.RemovePeer("uuid:B")
	s.RemovePeer("uuid:missing")

	events := drain(s)
	require.Len(t, events, 3)
	assert.Equal(t, DeviceFound, events[0].Name)
	assert.Equal(t, DeviceFound, events[1].Name)
	assert.Equal(t, DeviceLost, events[2].Name)
	assert.Equal(t, "uuid:B", events[2].UDN)
	assert.True(t, events[2].Name.IsSignal())
	assert.Len(t, s.DiscoverDevices(), 1)
}

func TestSimulatorBrowsePages(t *testing.T) {
	s := NewSimulator(2, zaptest.NewLogger(t))
	s.AddPeer(types.Device{UDN: "uuid:A"},
		object("r1", ContainerRecordings, "One", nil),
		object("r2", ContainerRecordings, "Two", nil),
		object("r3", ContainerRecordings, "Three", nil),
		object("s1", ContainerSchedules, "Later", nil),
	)
	drain(s)

	require.NoError(t, s.Send(Request{Handle: "h1", UDN: "uuid:A", Action: ActionBrowseContainer, ContainerID: ContainerRecordings}))
	require.NoError(t, s.Send(Request{Handle: "h2", UDN: "uuid:A", Action: ActionBrowseContainer, ContainerID: ContainerRecordings, StartIndex: 2}))

	events := drain(s)
	require.Len(t, events, 2)
	assert.Equal(t, BrowseContainerOK, events[0].Name)
	assert.Equal(t, "h1", events[0].Handle)
	assert.Equal(t, 3, events[0].Total)
	assert.Len(t, events[0].Objects, 2)
	assert.Equal(t, "h2", events[1].Handle)
	require.Len(t, events[1].Objects, 1)
	assert.Equal(t, "r3", events[1].Objects[0].ID)
}

func TestSimulatorSearch(t *testing.T) {
	s := NewSimulator(0, zaptest.NewLogger(t))
	s.AddPeer(types.Device{UDN: "uuid:A"},
		object("r1", ContainerRecordings, "Heat", map[string]string{"actor": "Al Pacino"}),
		object("r2", ContainerRecordings, "Alien", map[string]string{"director": "Ridley Scott"}),
	)
	drain(s)

	q := types.ActorsDirectorQuery("pacino", false, nil, "")
	require.NoError(t, s.Send(Request{Handle: "h", UDN: "uuid:A", Action: ActionSearch, Criteria: q.Criteria}))

	exact := types.ActorsDirectorQuery("Ridley", true, nil, "")
	require.NoError(t, s.Send(Request{Handle: "x", UDN: "uuid:A", Action: ActionSearch, Criteria: exact.Criteria, ExactMatch: true}))

	events := drain(s)
	require.Len(t, events, 2)
	require.Len(t, events[0].Objects, 1)
	assert.Equal(t, "r1", events[0].Objects[0].ID)
	assert.True(t, events[0].Name.IsTerminalSearch())
	assert.Empty(t, events[1].Objects)
}

func TestSimulatorMutations(t *testing.T) {
	s := NewSimulator(0, zaptest.NewLogger(t))
	s.AddPeer(types.Device{UDN: "uuid:A"}, object("r1", ContainerRecordings, "Film", nil))
	drain(s)

	require.NoError(t, s.Send(Request{Handle: "sub", UDN: "uuid:A", Action: ActionSubscribe}))
	require.NoError(t, s.Send(Request{Handle: "u", UDN: "uuid:A", Action: ActionUpdate, ObjectID: "r1", Metadata: map[string]string{"title": "Renamed"}}))
	require.NoError(t, s.Send(Request{Handle: "b", UDN: "uuid:A", Action: ActionBookmark, ObjectID: "r1", Position: (90 * time.Second).Milliseconds()}))
	require.NoError(t, s.Send(Request{Handle: "c", UDN: "uuid:A", Action: ActionCreate, Metadata: map[string]string{"title": "News", types.MetaKind: "event"}}))
	require.NoError(t, s.Send(Request{Handle: "d", UDN: "uuid:A", Action: ActionDelete, ObjectID: "missing"}))

	var names []EventName
	for _, ev := range drain(s) {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []EventName{
		SubscribeServiceOK,
		UpdateObjectOK, OnSubscribedEvent,
		UpdateBookmarkOK,
		CreateObjectOK, OnSubscribedEvent,
		DeleteObjectFailed,
	}, names)

	objects := s.Objects("uuid:A")
	require.Len(t, objects, 2)
	assert.Equal(t, "Renamed", objects[0].Title)
	assert.Equal(t, "90000ms", objects[0].Metadata[types.MetaBookmark])
	assert.Equal(t, ContainerSchedules, objects[1].ParentID)
	assert.Equal(t, "News", objects[1].Title)

	// Unsubscribed devices stop notifying
	require.NoError(t, s.Send(Request{Handle: "un", UDN: "uuid:A", Action: ActionUnsubscribe, ObjectID: "sub"}))
	s.SetObjects("uuid:A", nil)
	assert.Equal(t, 0, s.Pending())
}

func TestSimulatorUnknownAndMuted(t *testing.T) {
	s := NewSimulator(0, zaptest.NewLogger(t))
	err := s.Send(Request{UDN: "uuid:nobody", Action: ActionBrowseContainer})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	s.AddPeer(types.Device{UDN: "uuid:A"})
	drain(s)
	s.Mute("uuid:A", true)
	require.NoError(t, s.Send(Request{Handle: "h", UDN: "uuid:A", Action: ActionBrowseContainer}))
	assert.Equal(t, 0, s.Pending())
	assert.Len(t, s.Requests(), 2)

	s.Mute("uuid:A", false)
	assert.Error(t, s.Send(Request{UDN: "uuid:A", Action: Action("reboot")}))
}

func TestSimulatorEventsChannel(t *testing.T) {
	s := NewSimulator(0, zaptest.NewLogger(t))
	defer s.Close()

	events := s.Events()
	s.AddPeer(types.Device{UDN: "uuid:A"})

	select {
	case ev := <-events:
		assert.Equal(t, DeviceFound, ev.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestLoadPeers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")
	data := `{"peers": [{
		"udn": "uuid:K",
		"friendly_name": "Kitchen",
		"model_name": "Gateway",
		"model_number": "OpenTV5",
		"objects": [{"id": "r1", "parent": "recordings", "class": "object.item.videoItem.recording", "title": "Film", "ui_folder": "Movies"}]
	}]}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	s := NewSimulator(0, zaptest.NewLogger(t))
	require.NoError(t, s.LoadPeers(path))

	devices := s.DiscoverDevices()
	require.Len(t, devices, 1)
	dev, err := types.ParseDevice(devices[0])
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", dev.FriendlyName)

	objects := s.Objects("uuid:K")
	require.Len(t, objects, 1)
	assert.Equal(t, "Movies", objects[0].UIFolder)

	assert.Error(t, s.LoadPeers(filepath.Join(t.TempDir(), "missing.json")))
}
