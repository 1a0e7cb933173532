package consensus

import (
	"sync"
	"testing"
	"time"

	"hotledger/interfaces"
	"hotledger/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusSubscribeAndCancel(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var got []interface{}
	cancel := bus.Subscribe(types.EventViewChanged, func(e interfaces.Event) { got = append(got, e.Data()) })
	bus.Subscribe(types.EventViewChanged, func(e interfaces.Event) { panic("bad handler") })
	assert.Equal(t, 2, bus.Subscribers(types.EventViewChanged))

	bus.Publish(types.BaseEvent{EventType: types.EventViewChanged, EventData: uint64(3)})
	bus.Publish(types.BaseEvent{EventType: types.EventViewTimeout, EventData: uint64(4)})
	assert.Equal(t, []interface{}{uint64(3)}, got, "panicking handler does not stop delivery")

	cancel()
	cancel()
	assert.Equal(t, 1, bus.Subscribers(types.EventViewChanged))
	bus.Publish(types.BaseEvent{EventType: types.EventViewChanged, EventData: uint64(5)})
	assert.Len(t, got, 1)
}

func TestEventBusAsyncKeepsOrder(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var mu sync.Mutex
	var heights []uint64
	bus.Subscribe(types.EventBlockDecided, func(e interfaces.Event) {
		mu.Lock()
		heights = append(heights, e.Data().(uint64))
		mu.Unlock()
	})
	for h := uint64(1); h <= 50; h++ {
		bus.PublishAsync(types.BaseEvent{EventType: types.EventBlockDecided, EventData: h})
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(heights) == 50
	}, 2*time.Second, 5*time.Millisecond)
	for i, h := range heights {
		assert.Equal(t, uint64(i+1), h)
	}
	assert.Zero(t, bus.Dropped())
}

func TestEventBusAsyncQueueFull(t *testing.T) {
	bus := NewEventBusSize(1)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(types.EventQCFormed, func(e interfaces.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.PublishAsync(types.BaseEvent{EventType: types.EventQCFormed})
	<-started
	// 投递协程阻塞在第一个事件上，队列容量 1
	bus.PublishAsync(types.BaseEvent{EventType: types.EventQCFormed})
	bus.PublishAsync(types.BaseEvent{EventType: types.EventQCFormed})
	assert.Equal(t, uint64(1), bus.Dropped())

	bus.Close()
	close(release)
	bus.PublishAsync(types.BaseEvent{EventType: types.EventQCFormed})
	assert.Equal(t, uint64(1), bus.Dropped(), "closed bus ignores events")
}
