package vm

import (
	"sync"

	"hotledger/logs"
	"hotledger/stats"
	"hotledger/types"
)

// CommitHook 区块提交成功后的回调，在提交 goroutine 中同步调用
type CommitHook func(b *types.Block, res *SpecResult)

// CommitQueue 唯一的提交 goroutine，按序提交已决区块
type CommitQueue struct {
	exec   *Executor
	ch     chan *types.Block
	hooks  []CommitHook
	Logger logs.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCommitQueue(exec *Executor, size int, logger logs.Logger) *CommitQueue {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = exec.Logger
	}
	return &CommitQueue{
		exec:   exec,
		ch:     make(chan *types.Block, size),
		Logger: logger,
		stopCh: make(chan struct{}),
	}
}

// OnCommit 注册回调，需在 Start 之前调用
func (q *CommitQueue) OnCommit(h CommitHook) {
	q.hooks = append(q.hooks, h)
}

func (q *CommitQueue) Start() {
	q.wg.Add(1)
	go q.runLoop()
}

func (q *CommitQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

// Submit 投递已决区块，调用方保证祖先在前
func (q *CommitQueue) Submit(blocks ...*types.Block) bool {
	for _, b := range blocks {
		select {
		case q.ch <- b:
		case <-q.stopCh:
			return false
		}
	}
	return true
}

func (q *CommitQueue) Len() int {
	return len(q.ch)
}

func (q *CommitQueue) runLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case b := <-q.ch:
			res, err := q.exec.Commit(b)
			if err != nil {
				q.Logger.Error("[CommitQueue] commit height=%d failed: %v", b.Height, err)
				continue
			}
			if res == nil {
				// 已经提交过
				continue
			}
			for _, h := range q.hooks {
				h(b, res)
			}
		}
	}
}

func (q *CommitQueue) QueueStats() []stats.QueueStat {
	return []stats.QueueStat{stats.QueueOf("vm", "commit", q.ch)}
}
