package whpvr

import (
	"reflect"
	"sync"
)

type EventName string

const (
	EventServersChanged             EventName = "serversChanged"
	EventContentChanged             EventName = "contentChanged"
	EventEnabled                    EventName = "enabled"
	EventDisabled                   EventName = "disabled"
	EventCurrentRecordServerChanged EventName = "currentRecordServerChanged"
)

// Listener receives named federation events. data depends on the event:
// []types.Device for serversChanged, a UDN string for contentChanged and
// currentRecordServerChanged, nil otherwise.
//
// Removal matches by identity, so a listener should be a pointer. One whose
// dynamic type is not comparable can be added but never removed.
type Listener interface {
	OnWHPVREvent(name EventName, data interface{})
}

// ListenerFunc adapts a function to Listener. Use it through a pointer so
// that RemoveEventListener can find it again.
type ListenerFunc struct {
	fn func(name EventName, data interface{})
}

func NewListenerFunc(fn func(name EventName, data interface{})) *ListenerFunc {
	return &ListenerFunc{fn: fn}
}

func (l *ListenerFunc) OnWHPVREvent(name EventName, data interface{}) {
	l.fn(name, data)
}

func (s *Service) AddEventListener(name EventName, l Listener) {
	s.listeners.add(name, l)
}

func (s *Service) RemoveEventListener(name EventName, l Listener) {
	s.listeners.remove(name, l)
}

type listenerTable struct {
	mu        sync.Mutex
	listeners map[EventName][]Listener
}

func newListenerTable() *listenerTable {
	return &listenerTable{listeners: make(map[EventName][]Listener)}
}

func (t *listenerTable) add(name EventName, l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[name] = append(t.listeners[name], l)
}

// remove drops the first registration of l under name.
func (t *listenerTable) remove(name EventName, l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.listeners[name]
	for i, existing := range list {
		if sameListener(existing, l) {
			next := make([]Listener, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			t.listeners[name] = next
			return
		}
	}
}

func sameListener(a, b Listener) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// fire calls listeners in registration order on a snapshot, so listeners
// may add or remove registrations while being called.
func (t *listenerTable) fire(name EventName, data interface{}) {
	t.mu.Lock()
	list := t.listeners[name]
	t.mu.Unlock()

	for _, l := range list {
		l.OnWHPVREvent(name, data)
	}
}

func (t *listenerTable) count(name EventName) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners[name])
}
