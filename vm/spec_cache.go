package vm

import (
	"hotledger/types"

	lru "github.com/hashicorp/golang-lru"
)

// ========== 预执行结果缓存 ==========

const defaultSpecCacheSize = 1024

type specCache struct {
	c *lru.Cache
}

// NewSpecExecLRU 创建LRU缓存
func NewSpecExecLRU(capacity int) SpecExecCache {
	if capacity <= 0 {
		capacity = defaultSpecCacheSize
	}
	c, _ := lru.New(capacity)
	return &specCache{c: c}
}

func (s *specCache) Get(blockHash types.Hash) (*SpecResult, bool) {
	v, ok := s.c.Get(blockHash)
	if !ok {
		return nil, false
	}
	return v.(*SpecResult), true
}

func (s *specCache) Put(res *SpecResult) {
	if res == nil {
		return
	}
	s.c.Add(res.BlockHash, res)
}

// EvictBelow 淘汰高度不超过 height 的结果（已提交或被放弃的分叉）
func (s *specCache) EvictBelow(height uint64) {
	for _, k := range s.c.Keys() {
		v, ok := s.c.Peek(k)
		if !ok {
			continue
		}
		if v.(*SpecResult).Height <= height {
			s.c.Remove(k)
		}
	}
}

func (s *specCache) Size() int {
	return s.c.Len()
}
