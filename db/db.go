package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"hotledger/config"
	"hotledger/logs"
	"hotledger/types"

	"github.com/dgraph-io/badger/v2"
	lru "github.com/hashicorp/golang-lru"
)

var ErrClosed = errors.New("database is not initialized or closed")

// Manager 封装 BadgerDB 的管理器
type Manager struct {
	Db *badger.DB
	mu sync.RWMutex

	// 队列通道，批量写的 goroutine 用它来取写请求
	writeQueueChan chan WriteTask
	// 强制刷盘通道
	forceFlushChan chan flushRequest
	// 用于通知写队列 goroutine 停止
	stopChan chan struct{}
	metrics  writeQueueMetrics

	maxBatchSize  int           // 累计多少条就写一次
	flushInterval time.Duration // 间隔多久强制写一次
	wg            sync.WaitGroup

	// 已决区块缓存，按高度
	blockCache *lru.Cache
	Logger     logs.Logger
	cfg        *config.Config
}

// NewManager 创建 DBManager。cfg 为 nil 时使用默认配置
func NewManager(path string, logger logs.Logger, cfg *config.Config) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logs.NewNodeLogger("db", 0)
	}
	var opts badger.Options
	if cfg.Database.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// badger v2 不自动创建父目录，需要手动创建
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
		opts.ValueLogFileSize = cfg.Database.ValueLogFileSize
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	cacheSize := cfg.Database.BlockCacheSize
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Manager{
		Db:         db,
		blockCache: cache,
		Logger:     logger,
		cfg:        cfg,
	}, nil
}

func (manager *Manager) Close() {
	// 1. 先做一次同步 flush，确保已经入队的写请求全部落盘
	if err := manager.ForceFlush(); err != nil {
		manager.Logger.Error("[db.Close] force flush failed: %v", err)
	}

	// 2. 通知写队列 goroutine 停止并等待退出
	if manager.stopChan != nil {
		select {
		case <-manager.stopChan:
		default:
			close(manager.stopChan)
		}
	}
	manager.wg.Wait()

	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.stopChan = nil
	manager.forceFlushChan = nil
	if manager.Db != nil {
		_ = manager.Db.Close()
		manager.Db = nil
	}
}

func (manager *Manager) handle() (*badger.DB, error) {
	manager.mu.RLock()
	db := manager.Db
	manager.mu.RUnlock()
	if db == nil {
		return nil, ErrClosed
	}
	return db, nil
}

// Get 读取键对应的值，不存在时返回 types.ErrNotFound
func (manager *Manager) Get(key string) ([]byte, error) {
	db, err := manager.handle()
	if err != nil {
		return nil, err
	}
	var value []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set 同步写入，不经过写队列
func (manager *Manager) Set(key string, value []byte) error {
	db, err := manager.handle()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Scan scans all keys with the given prefix and returns a map of key-value pairs
func (manager *Manager) Scan(prefix string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := manager.ScanOrdered(prefix, 0, func(k string, v []byte) error {
		result[k] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ScanOrdered 按键的字典序遍历前缀，limit<=0 表示不限
func (manager *Manager) ScanOrdered(prefix string, limit int, fn func(key string, val []byte) error) error {
	db, err := manager.handle()
	if err != nil {
		return err
	}
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		count := 0
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if limit > 0 && count >= limit {
				break
			}
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.KeyCopy(nil)), v); err != nil {
				return err
			}
			count++
		}
		return nil
	})
}

// getJSON 读取并反序列化
func (manager *Manager) getJSON(key string, v interface{}) error {
	data, err := manager.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// enqueueJSON 序列化后投递到写队列
func (manager *Manager) enqueueJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	manager.EnqueueSet(key, string(data))
	return nil
}
