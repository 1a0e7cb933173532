package vm

import (
	"hotledger/keys"
	"hotledger/types"
)

// WriteOp 写集中的一条
type WriteOp struct {
	Key      string
	Value    []byte
	Del      bool
	Category keys.KeyCategory
}

func (w *WriteOp) GetKey() string   { return w.Key }
func (w *WriteOp) GetValue() []byte { return w.Value }
func (w *WriteOp) IsDel() bool      { return w.Del }

// ExecContext 区块级执行参数
type ExecContext struct {
	Height      uint64
	Proposer    types.Address
	Issuer      types.Address
	MaxDenoms   int
	MaxDenomLen int
}

// SpecResult 预执行结果，按区块哈希缓存，提交时直接落盘
type SpecResult struct {
	BlockHash  types.Hash
	ParentHash types.Hash
	Height     uint64
	Receipts   []*types.Receipt
	Diff       []WriteOp
	StateRoot  types.Hash

	// 本块写过的账户叶子，计算子块状态根时叠加
	leaves map[types.Address]types.Hash
	// 按 key 索引的写集，子块读穿时使用
	index map[string]*WriteOp
}

func (r *SpecResult) lookup(key string) (*WriteOp, bool) {
	op, ok := r.index[key]
	return op, ok
}

// FailedCount 失败交易数
func (r *SpecResult) FailedCount() int {
	n := 0
	for _, rc := range r.Receipts {
		if !rc.Succeeded() {
			n++
		}
	}
	return n
}
