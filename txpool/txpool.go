package txpool

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"hotledger/config"
	"hotledger/logs"
	"hotledger/stats"
	"hotledger/types"
	"hotledger/utils"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru"
)

var (
	ErrPoolFull        = errors.New("txpool is full")
	ErrAlreadyIncluded = errors.New("transaction already included")
	ErrNonceTaken      = errors.New("nonce already pending for sender")
	ErrStopped         = errors.New("txpool is stopping")
)

// TxValidator 入池前的无状态检查与已提交 nonce 检查（vm.Executor 实现）
type TxValidator interface {
	ValidateTx(tx *types.Transaction) error
}

// NonceReader 在 parent 之上的投机状态中读账户（vm.Executor 实现）
type NonceReader interface {
	AccountAt(parent types.Hash, addr types.Address) (*types.Account, error)
}

// Store 待打包交易的持久化（db.Manager 实现）
type Store interface {
	SavePendingTx(tx *types.Transaction) error
	DeletePendingTx(txID types.Hash)
	LoadPendingTxs() ([]*types.Transaction, error)
}

// entry 按 (sender, nonce) 排序
type entry struct {
	sender types.Address
	nonce  uint64
	id     types.Hash
	tx     *types.Transaction
}

func entryLess(a, b *entry) bool {
	if c := bytes.Compare(a.sender[:], b.sender[:]); c != 0 {
		return c < 0
	}
	return a.nonce < b.nonce
}

// TxPool 交易池结构体
type TxPool struct {
	mu      sync.RWMutex
	Logger  logs.Logger
	byID    map[types.Hash]*entry
	ordered *btree.BTreeG[*entry]
	// 已打包交易的短 ID，避免同一交易被再次加入
	included *lru.Cache
	k0, k1   uint64

	validator TxValidator
	nonces    NonceReader
	store     Store
	cfg       config.TxPoolConfig

	// 内部队列管理
	Queue *txPoolQueue

	// DB 持久化队列
	pendingSaveQueue   chan *types.Transaction
	pendingSaveWorkers int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTxPool 创建交易池并从存储恢复上次未打包的交易
func NewTxPool(store Store, validator TxValidator, nonces NonceReader, cfg config.TxPoolConfig, logger logs.Logger) (*TxPool, error) {
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = 100000
	}
	if cfg.MessageQueueSize <= 0 {
		cfg.MessageQueueSize = 10000
	}
	if logger == nil {
		logger = logs.NewNodeLogger("txpool", 0)
	}
	included, err := lru.New(cfg.SeenCacheSize)
	if err != nil {
		return nil, err
	}
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	tp := &TxPool{
		Logger:             logger,
		byID:               make(map[types.Hash]*entry),
		ordered:            btree.NewG[*entry](16, entryLess),
		included:           included,
		k0:                 binary.LittleEndian.Uint64(seed[:8]),
		k1:                 binary.LittleEndian.Uint64(seed[8:]),
		validator:          validator,
		nonces:             nonces,
		store:              store,
		cfg:                cfg,
		pendingSaveQueue:   make(chan *types.Transaction, cfg.MessageQueueSize),
		pendingSaveWorkers: 4,
		stopChan:           make(chan struct{}),
	}
	tp.Queue = newTxPoolQueue(tp, cfg.MessageQueueSize)
	tp.loadFromDB()
	return tp, nil
}

// Start 启动入站队列和落盘 worker
func (tp *TxPool) Start() {
	tp.wg.Add(1)
	go tp.Queue.runLoop()
	for i := 0; i < tp.pendingSaveWorkers; i++ {
		tp.wg.Add(1)
		go tp.runPendingSaveWorker(i)
	}
	tp.Logger.Info("[TxPool] Started with %d pending txs", tp.Len())
}

func (tp *TxPool) Stop() {
	tp.stopOnce.Do(func() { close(tp.stopChan) })
	tp.wg.Wait()
	tp.Logger.Info("[TxPool] Stopped")
}

// ShortID 本节点私有密钥下的交易短 ID
func (tp *TxPool) ShortID(id types.Hash) uint64 {
	return utils.ShortID(tp.k0, tp.k1, id[:])
}

// Add 校验并加入交易，重复提交视为成功
func (tp *TxPool) Add(tx *types.Transaction) (types.Hash, error) {
	if tx == nil {
		return types.ZeroHash, fmt.Errorf("%w: nil tx", types.ErrMalformedMessage)
	}
	id := tx.ID()
	if tp.Has(id) {
		return id, nil
	}
	if tp.included.Contains(tp.ShortID(id)) {
		// 已上链的交易再次提交，其 nonce 必然已被消耗
		return id, fmt.Errorf("%w: %w", types.ErrNonceMismatch, ErrAlreadyIncluded)
	}
	if err := tp.validator.ValidateTx(tx); err != nil {
		return id, err
	}

	tp.mu.Lock()
	if _, ok := tp.byID[id]; ok {
		tp.mu.Unlock()
		return id, nil
	}
	if max := tp.cfg.MaxPendingTxs; max > 0 && len(tp.byID) >= max {
		tp.mu.Unlock()
		return id, fmt.Errorf("%w (%d)", ErrPoolFull, max)
	}
	e := &entry{sender: tx.From, nonce: tx.Nonce, id: id, tx: tx}
	if prev, ok := tp.ordered.Get(e); ok {
		tp.mu.Unlock()
		return id, fmt.Errorf("%w: %s nonce %d held by %s", ErrNonceTaken, tx.From.Short(), tx.Nonce, prev.id.Short())
	}
	tp.ordered.ReplaceOrInsert(e)
	tp.byID[id] = e
	tp.mu.Unlock()

	tp.enqueuePendingSave(tx)
	tp.Logger.Debug("[TxPool] added %s from %s nonce=%d", id.Short(), tx.From.Short(), tx.Nonce)
	return id, nil
}

func (tp *TxPool) Has(id types.Hash) bool {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	_, ok := tp.byID[id]
	return ok
}

func (tp *TxPool) Get(id types.Hash) (*types.Transaction, bool) {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	e, ok := tp.byID[id]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

func (tp *TxPool) Len() int {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return len(tp.byID)
}

// Reap 按发送者取在 parent 状态下 nonce 连续的交易，最多 max 笔
func (tp *TxPool) Reap(parent types.Hash, max int) []*types.Transaction {
	if max <= 0 {
		max = tp.cfg.MaxTxsPerBlock
	}
	tp.mu.RLock()
	defer tp.mu.RUnlock()

	var (
		out     []*types.Transaction
		sender  types.Address
		next    uint64
		skip    bool
		started bool
	)
	tp.ordered.Ascend(func(e *entry) bool {
		if len(out) >= max {
			return false
		}
		if !started || e.sender != sender {
			started, sender, skip = true, e.sender, false
			acc, err := tp.nonces.AccountAt(parent, e.sender)
			if err != nil {
				tp.Logger.Debug("[TxPool] reap: account %s at %s: %v", e.sender.Short(), parent.Short(), err)
				skip = true
				return true
			}
			next = acc.Nonce
		}
		if skip || e.nonce < next {
			// 已被祖先区块打包，等提交后清理
			return true
		}
		if e.nonce > next {
			skip = true
			return true
		}
		out = append(out, e.tx)
		next++
		return true
	})
	return out
}

// RemoveIncluded 区块提交后移除已打包交易及同一发送者更低 nonce 的交易
func (tp *TxPool) RemoveIncluded(txs []*types.Transaction) int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	var stale []types.Hash
	removed := 0
	for _, tx := range txs {
		id := tx.ID()
		tp.included.Add(tp.ShortID(id), struct{}{})
		if e, ok := tp.byID[id]; ok {
			tp.ordered.Delete(e)
			delete(tp.byID, id)
			removed++
		}
		// 同一发送者 nonce 不高于已打包交易的替代交易不再可能上链
		var obsolete []*entry
		tp.ordered.AscendGreaterOrEqual(&entry{sender: tx.From}, func(e *entry) bool {
			if e.sender != tx.From || e.nonce > tx.Nonce {
				return false
			}
			obsolete = append(obsolete, e)
			return true
		})
		for _, e := range obsolete {
			tp.ordered.Delete(e)
			delete(tp.byID, e.id)
			stale = append(stale, e.id)
			removed++
		}
	}
	if tp.store != nil {
		for _, id := range stale {
			tp.store.DeletePendingTx(id)
		}
	}
	return removed
}

// Pending 按 (sender, nonce) 顺序列出，limit<=0 表示全部
func (tp *TxPool) Pending(limit int) []*types.Transaction {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	var out []*types.Transaction
	tp.ordered.Ascend(func(e *entry) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		out = append(out, e.tx)
		return true
	})
	return out
}

func (tp *TxPool) enqueuePendingSave(tx *types.Transaction) {
	if tp.store == nil {
		return
	}
	select {
	case tp.pendingSaveQueue <- tx:
	case <-tp.stopChan:
	default:
		// 队列满时同步落盘
		tp.persistPendingTx(tx, -1)
	}
}

func (tp *TxPool) runPendingSaveWorker(workerID int) {
	defer tp.wg.Done()
	for {
		select {
		case <-tp.stopChan:
			// 停止前尽量排空队列，避免丢最后一批待落盘交易
			for {
				select {
				case tx := <-tp.pendingSaveQueue:
					tp.persistPendingTx(tx, workerID)
				default:
					return
				}
			}
		case tx := <-tp.pendingSaveQueue:
			tp.persistPendingTx(tx, workerID)
		}
	}
}

func (tp *TxPool) persistPendingTx(tx *types.Transaction, workerID int) {
	if !tp.Has(tx.ID()) {
		return
	}
	if err := tp.store.SavePendingTx(tx); err != nil {
		tp.Logger.Debug("[TxPool] pending save worker=%d failed for tx %s: %v", workerID, tx.ID().Short(), err)
	}
}

// loadFromDB 重新校验上次保存的交易，已失效的删除
func (tp *TxPool) loadFromDB() {
	if tp.store == nil {
		return
	}
	txs, err := tp.store.LoadPendingTxs()
	if err != nil {
		tp.Logger.Warn("[TxPool] Failed to load pending txs from DB: %v", err)
		return
	}
	dropped := 0
	for _, tx := range txs {
		if err := tp.validator.ValidateTx(tx); err != nil {
			tp.store.DeletePendingTx(tx.ID())
			dropped++
			continue
		}
		e := &entry{sender: tx.From, nonce: tx.Nonce, id: tx.ID(), tx: tx}
		if _, dup := tp.ordered.Get(e); dup {
			tp.store.DeletePendingTx(e.id)
			dropped++
			continue
		}
		tp.ordered.ReplaceOrInsert(e)
		tp.byID[e.id] = e
	}
	if dropped > 0 {
		tp.Logger.Warn("[TxPool] Dropped %d stale pending txs", dropped)
	}
	tp.Logger.Info("[TxPool] Loaded %d pending txs from DB", len(tp.byID))
}

func (tp *TxPool) QueueStats() []stats.QueueStat {
	return []stats.QueueStat{
		stats.QueueOf("txpool", "inbound", tp.Queue.MsgChan),
		stats.QueueOf("txpool", "pending_save", tp.pendingSaveQueue),
	}
}
