package vm

import (
	"bytes"
	"errors"

	"hotledger/keys"

	"github.com/google/btree"
)

var ErrInvalidSnapshot = errors.New("invalid snapshot")

// pendingWrite 执行期间尚未落盘的一次写入，deleted 表示删除
type pendingWrite struct {
	key     string
	val     []byte
	deleted bool
	cat     keys.KeyCategory
}

func writeLess(a, b *pendingWrite) bool { return a.key < b.key }

// undo 撤销日志的一项；prev 为 nil 说明该 key 之前不在写缓冲里
type undo struct {
	key  string
	prev *pendingWrite
}

// bufferedView 按 key 有序的写缓冲，外加撤销日志。
// 一个区块的执行独占一个视图，不做并发保护
type bufferedView struct {
	read    ReadThroughFn
	writes  *btree.BTreeG[*pendingWrite]
	journal []undo
}

// NewStateView read 为 nil 时未命中的 key 视为不存在
func NewStateView(read ReadThroughFn) StateView {
	return &bufferedView{
		read:   read,
		writes: btree.NewG[*pendingWrite](16, writeLess),
	}
}

func (s *bufferedView) lookup(key string) (*pendingWrite, bool) {
	return s.writes.Get(&pendingWrite{key: key})
}

func (s *bufferedView) Get(key string) ([]byte, bool, error) {
	if w, ok := s.lookup(key); ok {
		if w.deleted {
			return nil, false, nil
		}
		return bytes.Clone(w.val), true, nil
	}
	if s.read == nil {
		return nil, false, nil
	}
	val, err := s.read(key)
	if err != nil || val == nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *bufferedView) put(w *pendingWrite) {
	w.cat = keys.CategorizeKey(w.key)
	prev, _ := s.writes.ReplaceOrInsert(w)
	s.journal = append(s.journal, undo{key: w.key, prev: prev})
}

func (s *bufferedView) Set(key string, val []byte) {
	s.put(&pendingWrite{key: key, val: bytes.Clone(val)})
}

func (s *bufferedView) Del(key string) {
	s.put(&pendingWrite{key: key, deleted: true})
}

// Snapshot 当前撤销日志长度
func (s *bufferedView) Snapshot() int {
	return len(s.journal)
}

// Revert 倒序撤销 snap 之后的写入
func (s *bufferedView) Revert(snap int) error {
	if snap < 0 || snap > len(s.journal) {
		return ErrInvalidSnapshot
	}
	for i := len(s.journal) - 1; i >= snap; i-- {
		u := s.journal[i]
		if u.prev != nil {
			s.writes.ReplaceOrInsert(u.prev)
		} else {
			s.writes.Delete(&pendingWrite{key: u.key})
		}
	}
	s.journal = s.journal[:snap]
	return nil
}

// Diff 写集按 key 升序导出
func (s *bufferedView) Diff() []WriteOp {
	diff := make([]WriteOp, 0, s.writes.Len())
	s.writes.Ascend(func(w *pendingWrite) bool {
		diff = append(diff, WriteOp{
			Key:      w.key,
			Value:    bytes.Clone(w.val),
			Del:      w.deleted,
			Category: w.cat,
		})
		return true
	})
	return diff
}
