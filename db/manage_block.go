package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"hotledger/keys"
	"hotledger/types"

	"github.com/dgraph-io/badger/v2"
	"github.com/holiman/uint256"
)

// CommitBatch 一个已决区块执行后需要落盘的全部内容
type CommitBatch struct {
	Block     *types.Block
	Receipts  []*types.Receipt
	Accounts  []*types.Account
	Supply    map[string]*uint256.Int
	StateRoot types.Hash
}

func (b *CommitBatch) entries() ([]WriteTask, error) {
	blk := b.Block
	hash := blk.Hash()
	out := make([]WriteTask, 0, 5+len(b.Receipts)+2*len(b.Accounts)+len(b.Supply))
	set := func(k string, v interface{}) error {
		var data []byte
		switch x := v.(type) {
		case []byte:
			data = x
		case string:
			data = []byte(x)
		default:
			var err error
			if data, err = json.Marshal(v); err != nil {
				return fmt.Errorf("encode %s: %w", k, err)
			}
		}
		out = append(out, WriteTask{Key: []byte(k), Value: data, Op: OpSet})
		return nil
	}

	if err := set(keys.KeyBlock(blk.Height, hash.Hex()), blk); err != nil {
		return nil, err
	}
	_ = set(keys.KeyHeight(blk.Height), hash.Hex())
	_ = set(keys.KeyBlockHash(hash.Hex()), strconv.FormatUint(blk.Height, 10))
	_ = set(keys.KeyStateRoot(blk.Height), b.StateRoot.Hex())
	for _, acc := range b.Accounts {
		if err := set(keys.KeyAccount(acc.Address.String()), acc); err != nil {
			return nil, err
		}
	}
	for denom, amt := range b.Supply {
		_ = set(keys.KeySupply(denom), amt.Dec())
	}
	for _, r := range b.Receipts {
		if err := set(keys.KeyReceipt(r.TxID.Hex()), r); err != nil {
			return nil, err
		}
	}
	for _, ev := range blk.Evidence {
		if err := set(keys.KeyEvidence(ev.Validator.String(), ev.View, uint8(ev.Kind)), ev); err != nil {
			return nil, err
		}
	}
	for _, tx := range blk.Txs {
		out = append(out, WriteTask{Key: []byte(keys.KeyPendingTx(tx.ID().Hex())), Op: OpDelete})
	}
	return out, nil
}

// CommitBlock 原子写入已决区块、账户变更、回执与最新高度。
// 超过 badger 单事务上限时，先用 WriteBatch 写正文，最后单独写最新高度，
// 以最新高度作为提交标记。
func (manager *Manager) CommitBlock(b *CommitBatch) error {
	if b == nil || b.Block == nil {
		return fmt.Errorf("commit: empty batch")
	}
	db, err := manager.handle()
	if err != nil {
		return err
	}
	entries, err := b.entries()
	if err != nil {
		return err
	}
	marker := WriteTask{
		Key:   []byte(keys.KeyLatestHeight()),
		Value: []byte(strconv.FormatUint(b.Block.Height, 10)),
		Op:    OpSet,
	}

	err = db.Update(func(txn *badger.Txn) error {
		for _, e := range append(entries, marker) {
			var err error
			if e.Op == OpDelete {
				err = txn.Delete(e.Key)
			} else {
				err = txn.Set(e.Key, e.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		manager.Logger.Warn("[db] block %d too big for one txn, splitting", b.Block.Height)
		if err = manager.flushBatch(entries); err == nil {
			err = manager.flushBatch([]WriteTask{marker})
		}
	}
	if err != nil {
		return fmt.Errorf("commit block %d: %w", b.Block.Height, err)
	}
	manager.blockCache.Add(b.Block.Height, b.Block)
	return nil
}

// GetLatestHeight 最新已决高度，尚未写入创世块时返回 ErrNotFound
func (manager *Manager) GetLatestHeight() (uint64, error) {
	data, err := manager.Get(keys.KeyLatestHeight())
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// GetBlockByHeight 先查缓存，再查 DB
func (manager *Manager) GetBlockByHeight(height uint64) (*types.Block, error) {
	if v, ok := manager.blockCache.Get(height); ok {
		return v.(*types.Block), nil
	}
	hashHex, err := manager.Get(keys.KeyHeight(height))
	if err != nil {
		return nil, err
	}
	blk := &types.Block{}
	if err := manager.getJSON(keys.KeyBlock(height, string(hashHex)), blk); err != nil {
		return nil, err
	}
	manager.blockCache.Add(height, blk)
	return blk, nil
}

// GetBlockByHash 根据区块哈希获取已决区块
func (manager *Manager) GetBlockByHash(hash types.Hash) (*types.Block, error) {
	data, err := manager.Get(keys.KeyBlockHash(hash.Hex()))
	if err != nil {
		return nil, err
	}
	height, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return nil, err
	}
	return manager.GetBlockByHeight(height)
}

// GetStateRoot 已决高度执行后的状态根
func (manager *Manager) GetStateRoot(height uint64) (types.Hash, error) {
	data, err := manager.Get(keys.KeyStateRoot(height))
	if err != nil {
		return types.ZeroHash, err
	}
	return types.HashFromHex(string(data))
}

// GetReceipt 交易回执
func (manager *Manager) GetReceipt(txID types.Hash) (*types.Receipt, error) {
	r := &types.Receipt{}
	if err := manager.getJSON(keys.KeyReceipt(txID.Hex()), r); err != nil {
		return nil, err
	}
	return r, nil
}
