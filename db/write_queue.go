package db

import (
	"fmt"
	"sync/atomic"
	"time"

	"hotledger/config"
	"hotledger/stats"
)

type WriteTask struct {
	Key   []byte
	Value []byte
	Op    WriteOp // Set 或 Delete
}

type WriteOp int

const (
	OpSet WriteOp = iota
	OpDelete
)

type flushRequest struct {
	done chan error
}

// writeQueueMetrics 写队列运行统计（用于观测吞吐与背压）
type writeQueueMetrics struct {
	enqueueTotal    atomic.Uint64
	dequeuedTotal   atomic.Uint64
	flushBatchTotal atomic.Uint64
	flushedTotal    atomic.Uint64
	flushErrTotal   atomic.Uint64
	forceFlushTotal atomic.Uint64
	maxDepth        atomic.Uint64
}

// WriteQueueStats 写队列计数快照
type WriteQueueStats struct {
	Enqueued    uint64 `json:"enqueued"`
	Dequeued    uint64 `json:"dequeued"`
	Batches     uint64 `json:"batches"`
	Flushed     uint64 `json:"flushed"`
	FlushErrors uint64 `json:"flushErrors"`
	ForceFlush  uint64 `json:"forceFlush"`
	MaxDepth    uint64 `json:"maxDepth"`
}

func (manager *Manager) InitWriteQueue(maxBatchSize int, flushInterval time.Duration) {
	cfg := manager.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	manager.maxBatchSize = maxBatchSize
	manager.flushInterval = flushInterval
	manager.writeQueueChan = make(chan WriteTask, cfg.Database.WriteQueueSize)
	manager.forceFlushChan = make(chan flushRequest, 1)
	manager.stopChan = make(chan struct{})
	manager.wg.Add(1)
	go manager.runWriteQueue()
}

func (manager *Manager) observeQueueDepth() {
	q := uint64(len(manager.writeQueueChan))
	for {
		old := manager.metrics.maxDepth.Load()
		if q <= old || manager.metrics.maxDepth.CompareAndSwap(old, q) {
			return
		}
	}
}

// WriteQueueStats 返回写队列计数
func (manager *Manager) WriteQueueStats() WriteQueueStats {
	m := &manager.metrics
	return WriteQueueStats{
		Enqueued:    m.enqueueTotal.Load(),
		Dequeued:    m.dequeuedTotal.Load(),
		Batches:     m.flushBatchTotal.Load(),
		Flushed:     m.flushedTotal.Load(),
		FlushErrors: m.flushErrTotal.Load(),
		ForceFlush:  m.forceFlushTotal.Load(),
		MaxDepth:    m.maxDepth.Load(),
	}
}

// 写队列的核心 goroutine 逻辑
func (manager *Manager) runWriteQueue() {
	defer manager.wg.Done()

	batch := make([]WriteTask, 0, manager.maxBatchSize)
	ticker := time.NewTicker(manager.flushInterval)
	defer ticker.Stop()

	flushCurrentBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		count := len(batch)
		start := time.Now()
		err := manager.flushBatch(batch)
		manager.metrics.flushBatchTotal.Add(1)
		manager.metrics.flushedTotal.Add(uint64(count))
		if err != nil {
			manager.metrics.flushErrTotal.Add(1)
		}
		if d := time.Since(start); d >= 2*time.Second {
			manager.Logger.Warn("[DBQueue] slow flush batch=%d took=%s", count, d)
		}
		batch = batch[:0]
		return err
	}

	for {
		select {
		case <-manager.stopChan:
			// 退出前先排空队列，再刷掉最后一批
			batch = manager.drainWriteQueue(batch)
			err := flushCurrentBatch()
			manager.resolvePendingForceFlush(err)
			return

		case task := <-manager.writeQueueChan:
			manager.metrics.dequeuedTotal.Add(1)
			batch = append(batch, task)
			if len(batch) >= manager.maxBatchSize {
				if err := flushCurrentBatch(); err != nil {
					manager.Logger.Error("[DBQueue] flush by size failed: %v", err)
				}
			}

		case <-ticker.C:
			batch = manager.drainWriteQueue(batch)
			if err := flushCurrentBatch(); err != nil {
				manager.Logger.Error("[DBQueue] flush by ticker failed: %v", err)
			}

		case req := <-manager.forceFlushChan:
			// 同步 flush：排空已入队写请求并等待落盘完成
			manager.metrics.forceFlushTotal.Add(1)
			batch = manager.drainWriteQueue(batch)
			req.done <- flushCurrentBatch()
			close(req.done)
		}
	}
}

// ForceFlush 把已入队的写请求同步落盘
func (manager *Manager) ForceFlush() error {
	if manager.forceFlushChan == nil || manager.stopChan == nil {
		return nil
	}
	req := flushRequest{done: make(chan error, 1)}
	select {
	case manager.forceFlushChan <- req:
	case <-manager.stopChan:
		return fmt.Errorf("write queue already stopped")
	}
	select {
	case err := <-req.done:
		return err
	case <-manager.stopChan:
		select {
		case err := <-req.done:
			return err
		default:
		}
		return fmt.Errorf("write queue stopped before flush completed")
	}
}

func (manager *Manager) drainWriteQueue(batch []WriteTask) []WriteTask {
	for {
		select {
		case task := <-manager.writeQueueChan:
			manager.metrics.dequeuedTotal.Add(1)
			batch = append(batch, task)
		default:
			return batch
		}
	}
}

func (manager *Manager) resolvePendingForceFlush(err error) {
	for {
		select {
		case req := <-manager.forceFlushChan:
			req.done <- err
			close(req.done)
		default:
			return
		}
	}
}

// flushBatch 把 batch 写入 badger。WriteBatch 超过事务上限时自动切分
func (manager *Manager) flushBatch(batch []WriteTask) error {
	db, err := manager.handle()
	if err != nil {
		return err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, task := range batch {
		switch task.Op {
		case OpSet:
			err = wb.Set(task.Key, task.Value)
		case OpDelete:
			err = wb.Delete(task.Key)
		}
		if err != nil {
			manager.Logger.Error("[flushBatch] set/delete %s error: %v", task.Key, err)
			return err
		}
	}
	return wb.Flush()
}

// EnqueueSet 投递写请求；写队列未启动时直接同步写
func (manager *Manager) EnqueueSet(key, value string) {
	if manager.writeQueueChan == nil {
		if err := manager.Set(key, []byte(value)); err != nil {
			manager.Logger.Error("[DBQueue] direct set %s failed: %v", key, err)
		}
		return
	}
	manager.writeQueueChan <- WriteTask{Key: []byte(key), Value: []byte(value), Op: OpSet}
	manager.metrics.enqueueTotal.Add(1)
	manager.observeQueueDepth()
}

func (manager *Manager) EnqueueDelete(key string) {
	if manager.writeQueueChan == nil {
		if err := manager.deleteNow(key); err != nil {
			manager.Logger.Error("[DBQueue] direct delete %s failed: %v", key, err)
		}
		return
	}
	manager.writeQueueChan <- WriteTask{Key: []byte(key), Op: OpDelete}
	manager.metrics.enqueueTotal.Add(1)
	manager.observeQueueDepth()
}

func (manager *Manager) deleteNow(key string) error {
	return manager.flushBatch([]WriteTask{{Key: []byte(key), Op: OpDelete}})
}

// QueueStats 异步写队列深度，内存模式下没有写队列
func (manager *Manager) QueueStats() []stats.QueueStat {
	if manager.writeQueueChan == nil {
		return nil
	}
	return []stats.QueueStat{stats.QueueOf("db", "write", manager.writeQueueChan)}
}
