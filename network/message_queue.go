package network

import (
	"sync"
	"sync/atomic"
	"time"

	"hotledger/logs"
	"hotledger/stats"
	"hotledger/types"
)

// Priority 控制面（共识消息）优先于数据面（交易转发）
type Priority int

const (
	PriorityData Priority = iota
	PriorityControl
)

// Message 待发送的一次 POST
type Message struct {
	To        types.Address
	Path      string
	Body      []byte
	Gossip    bool
	Retry     int
	Priority  Priority
	CreatedAt time.Time
}

// SendFunc 真正执行发送的函数
type SendFunc func(msg *Message) error

// MessageQueue 双队列 + worker 池
type MessageQueue struct {
	control  chan *Message
	data     chan *Message
	expire   time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	Logger   logs.Logger

	dropFull  atomic.Uint64
	dropStale atomic.Uint64
	exhausted atomic.Uint64
}

// NewMessageQueue size 为数据面容量，控制面取其 1/4（至少 64）
func NewMessageQueue(size int, expire time.Duration, logger logs.Logger) *MessageQueue {
	if size <= 0 {
		size = 1024
	}
	controlSize := size / 4
	if controlSize < 64 {
		controlSize = 64
	}
	if logger == nil {
		logger = logs.NewNodeLogger("network", 0)
	}
	return &MessageQueue{
		control:  make(chan *Message, controlSize),
		data:     make(chan *Message, size),
		expire:   expire,
		stopChan: make(chan struct{}),
		Logger:   logger,
	}
}

// Start 启动 workers 个发送协程
func (mq *MessageQueue) Start(workers int, send SendFunc) {
	if workers <= 0 {
		workers = 1
	}
	mq.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go mq.processLoop(i, send)
	}
}

func (mq *MessageQueue) Stop() {
	mq.stopOnce.Do(func() { close(mq.stopChan) })
	mq.wg.Wait()
}

// Enqueue 非阻塞入队，队列满时丢弃并返回 false
func (mq *MessageQueue) Enqueue(msg *Message) bool {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	ch := mq.data
	if msg.Priority == PriorityControl {
		ch = mq.control
	}
	select {
	case <-mq.stopChan:
		return false
	default:
	}
	select {
	case ch <- msg:
		return true
	default:
		mq.dropFull.Add(1)
		mq.Logger.Warn("[MessageQueue] queue full, dropping %s to %s", msg.Path, msg.To.Short())
		return false
	}
}

func (mq *MessageQueue) next() (*Message, bool) {
	// 控制面优先
	select {
	case msg := <-mq.control:
		return msg, true
	default:
	}
	select {
	case <-mq.stopChan:
		return nil, false
	case msg := <-mq.control:
		return msg, true
	case msg := <-mq.data:
		return msg, true
	}
}

func (mq *MessageQueue) processLoop(workerID int, send SendFunc) {
	defer mq.wg.Done()
	for {
		msg, ok := mq.next()
		if !ok {
			return
		}
		if mq.expire > 0 && time.Since(msg.CreatedAt) > mq.expire {
			mq.dropStale.Add(1)
			continue
		}
		if err := send(msg); err != nil {
			if msg.Retry > 0 {
				msg.Retry--
				mq.Enqueue(msg)
				continue
			}
			mq.exhausted.Add(1)
			mq.Logger.Debug("[MessageQueue] worker=%d send %s to %s failed: %v", workerID, msg.Path, msg.To.Short(), err)
		}
	}
}

// Dropped 满队列丢弃、过期丢弃、重试耗尽的次数
func (mq *MessageQueue) Dropped() (full, stale, exhausted uint64) {
	return mq.dropFull.Load(), mq.dropStale.Load(), mq.exhausted.Load()
}

// QueueStats 控制消息与数据消息两条发送队列
func (mq *MessageQueue) QueueStats() []stats.QueueStat {
	return []stats.QueueStat{
		stats.QueueOf("network", "send_control", mq.control),
		stats.QueueOf("network", "send_data", mq.data),
	}
}
