package vm

import (
	"hotledger/db"
	"hotledger/types"
)

// ========== 核心接口定义 ==========

// StateView 状态视图接口
type StateView interface {
	// 读/写/删某个 key 的状态；写入只写进这个视图，不直接落到底层 DB。
	Get(key string) ([]byte, bool, error)
	Set(key string, val []byte)
	Del(key string)
	// 做一个快照点、必要时回滚到该点，实现单笔交易失败回滚。
	Snapshot() int
	Revert(snap int) error
	// 把预执行期间累积的写集导出来，按 key 排序
	Diff() []WriteOp
}

// TxHandler 交易处理器接口
type TxHandler interface {
	// 标识这个 Handler 处理哪种交易类型
	Kind() types.TxKind
	// 在给定 WorldState 上执行，失败时由执行器回滚到交易前的快照
	DryRun(tx *types.Transaction, ws *WorldState, ctx *ExecContext) error
}

// SpecExecCache 按区块哈希缓存预执行结果
type SpecExecCache interface {
	Get(blockHash types.Hash) (*SpecResult, bool)
	Put(res *SpecResult)
	// 把不高于某高度的缓存淘汰，已提交或已被放弃的分叉
	EvictBelow(height uint64)
	Size() int
}

// StateStore 执行器需要的持久层能力，由 db.Manager 实现
type StateStore interface {
	Get(key string) ([]byte, error)
	ScanAccounts(fn func(acc *types.Account) error) error
	CommitBlock(b *db.CommitBatch) error
	GetLatestHeight() (uint64, error)
	GetBlockByHeight(height uint64) (*types.Block, error)
	GetStateRoot(height uint64) (types.Hash, error)
}

// ReadThroughFn 当 StateView 本地 overlay 没命中时，从下层读取；不存在返回 (nil, nil)
type ReadThroughFn func(key string) ([]byte, error)
