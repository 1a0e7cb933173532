package consensus

import (
	"sync"
	"sync/atomic"

	"hotledger/interfaces"
	"hotledger/logs"
	"hotledger/stats"
	"hotledger/types"
)

const defaultAsyncQueue = 1024

type subscription struct {
	id uint64
	fn interfaces.EventHandler
}

// EventBus 按主题分发共识与提交事件。
// PublishAsync 进入单个投递 goroutine，同一发布者的事件按顺序到达
type EventBus struct {
	mu     sync.RWMutex
	subs   map[types.EventType][]subscription
	nextID uint64

	queue     chan interfaces.Event
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	dropped   atomic.Uint64

	Logger logs.Logger
}

func NewEventBus() *EventBus {
	return NewEventBusSize(defaultAsyncQueue)
}

// NewEventBusSize queue 为异步队列容量，队列满时丢弃并计数
func NewEventBusSize(queue int) *EventBus {
	if queue <= 0 {
		queue = defaultAsyncQueue
	}
	return &EventBus{
		subs:   make(map[types.EventType][]subscription),
		queue:  make(chan interfaces.Event, queue),
		done:   make(chan struct{}),
		Logger: logs.NewNodeLogger("events", 0),
	}
}

// Subscribe 返回取消订阅函数，可重复调用
func (eb *EventBus) Subscribe(topic types.EventType, handler interfaces.EventHandler) func() {
	eb.mu.Lock()
	eb.nextID++
	id := eb.nextID
	eb.subs[topic] = append(eb.subs[topic], subscription{id: id, fn: handler})
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { eb.unsubscribe(topic, id) })
	}
}

func (eb *EventBus) unsubscribe(topic types.EventType, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	cur := eb.subs[topic]
	kept := make([]subscription, 0, len(cur))
	for _, s := range cur {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(eb.subs, topic)
		return
	}
	eb.subs[topic] = kept
}

// Subscribers 某主题当前的订阅数
func (eb *EventBus) Subscribers(topic types.EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[topic])
}

// Publish 同步调用全部订阅者，引擎 goroutine 中调用时订阅者不能阻塞
func (eb *EventBus) Publish(event interfaces.Event) {
	eb.mu.RLock()
	subs := eb.subs[event.Type()]
	eb.mu.RUnlock()

	for _, s := range subs {
		eb.deliver(s, event)
	}
}

// deliver 订阅者 panic 不影响其余订阅者和发布者
func (eb *EventBus) deliver(s subscription, event interfaces.Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.Logger.Error("[Events] handler %d for %s panicked: %v", s.id, event.Type(), r)
		}
	}()
	s.fn(event)
}

func (eb *EventBus) PublishAsync(event interfaces.Event) {
	eb.startOnce.Do(func() { go eb.run() })
	select {
	case <-eb.done:
		return
	default:
	}
	select {
	case eb.queue <- event:
	default:
		eb.dropped.Add(1)
		eb.Logger.Warn("[Events] async queue full, dropped %s", event.Type())
	}
}

func (eb *EventBus) run() {
	for {
		select {
		case <-eb.done:
			return
		case ev := <-eb.queue:
			eb.Publish(ev)
		}
	}
}

func (eb *EventBus) QueueStats() []stats.QueueStat {
	return []stats.QueueStat{stats.QueueOf("events", "async", eb.queue)}
}

// Dropped 因异步队列已满丢弃的事件数
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// Close 停止异步投递，队列中未投递的事件被丢弃
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() { close(eb.done) })
}
