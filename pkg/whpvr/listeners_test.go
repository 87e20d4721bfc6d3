package whpvr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenerTable(t *testing.T) {
	table := newListenerTable()

	var calls []string
	first := NewListenerFunc(func(name EventName, data interface{}) {
		calls = append(calls, "first:"+data.(string))
	})
	second := NewListenerFunc(func(name EventName, data interface{}) {
		calls = append(calls, "second:"+data.(string))
	})

	table.add(EventContentChanged, first)
	table.add(EventContentChanged, second)
	table.add(EventServersChanged, first)
	assert.Equal(t, 2, table.count(EventContentChanged))

	table.fire(EventContentChanged, "a")
	assert.Equal(t, []string{"first:a", "second:a"}, calls)

	// Same function body, different registration: not removed
	table.remove(EventContentChanged, NewListenerFunc(func(EventName, interface{}) {}))
	assert.Equal(t, 2, table.count(EventContentChanged))

	table.remove(EventContentChanged, first)
	assert.Equal(t, 1, table.count(EventContentChanged))
	assert.Equal(t, 1, table.count(EventServersChanged))

	calls = nil
	table.fire(EventContentChanged, "b")
	assert.Equal(t, []string{"second:b"}, calls)

	// Unknown names are fine
	table.remove(EventDisabled, second)
	table.fire(EventDisabled, nil)
}

func TestListenerRemovesItselfWhileFiring(t *testing.T) {
	table := newListenerTable()

	var fired int
	var self *ListenerFunc
	self = NewListenerFunc(func(name EventName, _ interface{}) {
		fired++
		table.remove(name, self)
	})
	other := NewListenerFunc(func(EventName, interface{}) { fired++ })

	table.add(EventEnabled, self)
	table.add(EventEnabled, other)

	table.fire(EventEnabled, nil)
	assert.Equal(t, 2, fired)

	table.fire(EventEnabled, nil)
	assert.Equal(t, 3, fired)
}

// tally is a listener whose dynamic type cannot be compared.
type tally map[EventName]int

func (c tally) OnWHPVREvent(name EventName, _ interface{}) { c[name]++ }

func TestListenerRemoveNonComparable(t *testing.T) {
	table := newListenerTable()
	counts := tally{}
	other := NewListenerFunc(func(EventName, interface{}) {})
	table.add(EventEnabled, counts)
	table.add(EventEnabled, other)

	table.fire(EventEnabled, nil)
	assert.Equal(t, 1, counts[EventEnabled])

	assert.NotPanics(t, func() { table.remove(EventEnabled, counts) })
	assert.NotPanics(t, func() { table.remove(EventEnabled, tally{}) })
	assert.Equal(t, 2, table.count(EventEnabled))

	table.remove(EventEnabled, other)
	assert.Equal(t, 1, table.count(EventEnabled))
}
