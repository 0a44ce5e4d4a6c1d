package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusFireStopsAtFirstHandler(t *testing.T) {
	bus := NewEventBus()
	var calls []string

	first, second := "first", "second"
	bus.Register(EventCodeResized, first, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return data.U32[0] == 0
	})
	bus.Register(EventCodeResized, second, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return true
	})

	handled := bus.Fire(EventCodeResized, nil, EventContext{U32: [4]uint32{1920, 1080}})
	assert.True(t, handled)
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	handled = bus.Fire(EventCodeResized, nil, EventContext{})
	assert.True(t, handled)
	assert.Equal(t, []string{"first"}, calls)
}

func TestEventBusRegisterUnregister(t *testing.T) {
	bus := NewEventBus()
	noop := func(SystemEventCode, interface{}, interface{}, EventContext) bool { return true }

	assert.True(t, bus.Register(EventCodeApplicationQuit, "engine", noop))
	assert.False(t, bus.Register(EventCodeApplicationQuit, "engine", noop))
	assert.True(t, bus.Fire(EventCodeApplicationQuit, nil, EventContext{}))

	assert.True(t, bus.Unregister(EventCodeApplicationQuit, "engine"))
	assert.False(t, bus.Unregister(EventCodeApplicationQuit, "engine"))
	assert.False(t, bus.Fire(EventCodeApplicationQuit, nil, EventContext{}))
}
