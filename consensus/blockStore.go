package consensus

import (
	"fmt"
	"sort"
	"sync"

	"hotledger/types"
)

// ============================================
// 未提交区块树
// ============================================

// BlockTree 已验证但尚未提交的区块，根为本节点已决的最新区块
type BlockTree struct {
	mu          sync.RWMutex
	blocks      map[types.Hash]*types.Block
	heightIndex map[uint64][]types.Hash
	committed   *types.Block
	store       BlockReader
}

func NewBlockTree(committed *types.Block, store BlockReader) *BlockTree {
	t := &BlockTree{
		blocks:      make(map[types.Hash]*types.Block),
		heightIndex: make(map[uint64][]types.Hash),
		committed:   committed,
		store:       store,
	}
	t.blocks[committed.Hash()] = committed
	t.heightIndex[committed.Height] = []types.Hash{committed.Hash()}
	return t
}

// Add 加入区块，父块必须已在树中。返回 false 表示已存在
func (t *BlockTree) Add(b *types.Block) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := b.Hash()
	if _, ok := t.blocks[h]; ok {
		return false, nil
	}
	parent, ok := t.blocks[b.Parent]
	if !ok {
		return false, fmt.Errorf("unknown parent %s", b.Parent.Short())
	}
	if b.Height != parent.Height+1 {
		return false, fmt.Errorf("%w: height %d after parent %d", types.ErrMalformedMessage, b.Height, parent.Height)
	}
	if b.Height <= t.committed.Height {
		return false, fmt.Errorf("block %s at height %d is below committed %d", h.Short(), b.Height, t.committed.Height)
	}
	t.blocks[h] = b
	t.heightIndex[b.Height] = append(t.heightIndex[b.Height], h)
	return true, nil
}

func (t *BlockTree) Get(h types.Hash) (*types.Block, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.blocks[h]
	return b, ok
}

func (t *BlockTree) Has(h types.Hash) bool {
	_, ok := t.Get(h)
	return ok
}

func (t *BlockTree) Committed() *types.Block {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.committed
}

// Extends desc 是否为 anc 的后代（含相等）。anc 已提交时查存储
func (t *BlockTree) Extends(desc, anc types.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if desc == anc {
		return true
	}
	target, ok := t.blocks[anc]
	if !ok {
		// 更早的已提交区块：只要 desc 接在本地已提交链上即可
		if t.store == nil {
			return false
		}
		ab, err := t.store.GetBlockByHash(anc)
		if err != nil || ab.Height > t.committed.Height {
			return false
		}
		_, connected := t.pathLocked(desc)
		return connected
	}
	cur, ok := t.blocks[desc]
	for ok && cur.Height > target.Height {
		cur, ok = t.blocks[cur.Parent]
	}
	return ok && cur.Hash() == anc
}

// pathLocked 从已提交区块的子块到 h 的路径，旧的在前
func (t *BlockTree) pathLocked(h types.Hash) ([]*types.Block, bool) {
	committed := t.committed.Hash()
	var path []*types.Block
	cur := h
	for cur != committed {
		b, ok := t.blocks[cur]
		if !ok || b.Height <= t.committed.Height {
			return nil, false
		}
		path = append(path, b)
		cur = b.Parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

// UncommittedPath 决议 h 时需要依次提交的区块
func (t *BlockTree) UncommittedPath(h types.Hash) ([]*types.Block, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	path, ok := t.pathLocked(h)
	if !ok {
		return nil, fmt.Errorf("block %s does not extend committed %s", h.Short(), t.committed.Hash().Short())
	}
	return path, nil
}

// MarkCommitted 把 b 设为新根并剪掉所有不高于它的区块
func (t *BlockTree) MarkCommitted(b *types.Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b.Height <= t.committed.Height {
		return
	}
	for h := t.committed.Height; h <= b.Height; h++ {
		for _, id := range t.heightIndex[h] {
			delete(t.blocks, id)
		}
		delete(t.heightIndex, h)
	}
	t.committed = b
	t.blocks[b.Hash()] = b
	t.heightIndex[b.Height] = []types.Hash{b.Hash()}
	// 其他分叉上高于 b 的区块无法再被提交，按高度从低到高清理
	heights := make([]uint64, 0, len(t.heightIndex))
	for h := range t.heightIndex {
		if h > b.Height {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, h := range heights {
		ids := t.heightIndex[h]
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := t.pathLocked(id); ok {
				kept = append(kept, id)
			} else {
				delete(t.blocks, id)
			}
		}
		t.heightIndex[h] = kept
	}
}

// Size 树中区块数（含根）
func (t *BlockTree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.blocks)
}
