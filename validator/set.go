package validator

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"hotledger/types"
)

var (
	ErrEmptySet           = errors.New("empty validator set")
	ErrDuplicateValidator = errors.New("duplicate validator")
	ErrStakeOverflow      = errors.New("total stake overflows uint64")
)

// Set 某个 epoch 的验证者快照，创建后不可变
type Set struct {
	epoch  uint64
	vals   []*types.ValidatorInfo // 按地址字节序
	index  map[types.Address]int
	active []int
	total  uint64
	hash   types.Hash
}

// NewSet 复制并排序验证者，计算总活跃权益与集合哈希
func NewSet(epoch uint64, vals []*types.ValidatorInfo) (*Set, error) {
	if len(vals) == 0 {
		return nil, ErrEmptySet
	}
	s := &Set{
		epoch: epoch,
		vals:  make([]*types.ValidatorInfo, 0, len(vals)),
		index: make(map[types.Address]int, len(vals)),
	}
	for _, v := range vals {
		s.vals = append(s.vals, v.Clone())
	}
	sort.Slice(s.vals, func(i, j int) bool {
		return bytes.Compare(s.vals[i].Address[:], s.vals[j].Address[:]) < 0
	})

	enc := make([]byte, 0, 64*len(s.vals))
	for i, v := range s.vals {
		if _, dup := s.index[v.Address]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateValidator, v.Address)
		}
		s.index[v.Address] = i
		if v.Active() {
			sum, carry := bits.Add64(s.total, v.Stake, 0)
			if carry != 0 {
				return nil, ErrStakeOverflow
			}
			s.total = sum
			s.active = append(s.active, i)
		}
		enc = append(enc, v.CanonicalBytes()...)
	}
	s.hash = types.ContentHash(enc)
	return s, nil
}

func (s *Set) Epoch() uint64    { return s.epoch }
func (s *Set) Len() int         { return len(s.vals) }
func (s *Set) Hash() types.Hash { return s.hash }

// TotalStake 活跃（未被惩罚、未被监禁）验证者的权益之和
func (s *Set) TotalStake() uint64 { return s.total }

// IndexOf 验证者在集合中的下标，即 QC 位图中的位置
func (s *Set) IndexOf(addr types.Address) (int, bool) {
	i, ok := s.index[addr]
	return i, ok
}

// Get 返回验证者信息副本
func (s *Set) Get(addr types.Address) (*types.ValidatorInfo, bool) {
	i, ok := s.index[addr]
	if !ok {
		return nil, false
	}
	return s.vals[i].Clone(), true
}

// ByIndex 按下标取验证者（只读）
func (s *Set) ByIndex(i int) (*types.ValidatorInfo, bool) {
	if i < 0 || i >= len(s.vals) {
		return nil, false
	}
	return s.vals[i], true
}

func (s *Set) IsActive(addr types.Address) bool {
	i, ok := s.index[addr]
	return ok && s.vals[i].Active()
}

// StakeOf 活跃验证者的权益，非活跃为 0
func (s *Set) StakeOf(addr types.Address) uint64 {
	i, ok := s.index[addr]
	if !ok || !s.vals[i].Active() {
		return 0
	}
	return s.vals[i].Stake
}

// Validators 全部验证者副本
func (s *Set) Validators() []*types.ValidatorInfo {
	out := make([]*types.ValidatorInfo, len(s.vals))
	for i, v := range s.vals {
		out[i] = v.Clone()
	}
	return out
}

// Active 活跃验证者副本，按地址排序
func (s *Set) Active() []*types.ValidatorInfo {
	out := make([]*types.ValidatorInfo, len(s.active))
	for i, idx := range s.active {
		out[i] = s.vals[idx].Clone()
	}
	return out
}

func (s *Set) ActiveCount() int { return len(s.active) }

// ActiveAddresses 活跃验证者地址
func (s *Set) ActiveAddresses() []types.Address {
	out := make([]types.Address, len(s.active))
	for i, idx := range s.active {
		out[i] = s.vals[idx].Address
	}
	return out
}

// HasQuorum stake 是否严格超过活跃总权益的 2/3，即 3*stake > 2*total
func (s *Set) HasQuorum(stake uint64) bool {
	return ExceedsTwoThirds(stake, s.total)
}

// ExceedsTwoThirds 128 位比较 3*stake > 2*total，避免溢出
func ExceedsTwoThirds(stake, total uint64) bool {
	if total == 0 {
		return false
	}
	lh, ll := bits.Mul64(stake, 3)
	rh, rl := bits.Mul64(total, 2)
	if lh != rh {
		return lh > rh
	}
	return ll > rl
}

// HasOneThird stake 是否严格超过活跃总权益的 1/3，至少包含一个诚实验证者
func (s *Set) HasOneThird(stake uint64) bool {
	if s.total == 0 {
		return false
	}
	h, l := bits.Mul64(stake, 3)
	return h > 0 || l > s.total
}

func (s *Set) String() string {
	return fmt.Sprintf("valset<epoch=%d n=%d active=%d stake=%d %s>", s.epoch, len(s.vals), len(s.active), s.total, s.hash.Short())
}
