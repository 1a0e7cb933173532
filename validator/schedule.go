package validator

import (
	"encoding/binary"
	"fmt"

	"hotledger/types"
	"hotledger/utils"
)

const (
	ScheduleRoundRobin = "round_robin"
	ScheduleWeighted   = "weighted"
)

// LeaderSchedule 视图到领导者的确定性映射
type LeaderSchedule interface {
	Leader(view uint64) types.Address
}

// NewSchedule 按配置名称创建调度
func NewSchedule(kind string, set *Set) (LeaderSchedule, error) {
	switch kind {
	case "", ScheduleRoundRobin:
		return &RoundRobin{set: set}, nil
	case ScheduleWeighted:
		return &Weighted{set: set}, nil
	default:
		return nil, fmt.Errorf("unknown leader schedule %q", kind)
	}
}

// RoundRobin active[view mod N]
type RoundRobin struct {
	set *Set
}

func (r *RoundRobin) Leader(view uint64) types.Address {
	n := uint64(len(r.set.active))
	if n == 0 {
		return types.ZeroAddress
	}
	return r.set.vals[r.set.active[view%n]].Address
}

// Weighted 按权益加权选择，种子只取决于 sha256(view || 集合哈希)
type Weighted struct {
	set *Set
}

func (w *Weighted) Leader(view uint64) types.Address {
	s := w.set
	if s.total == 0 {
		return types.ZeroAddress
	}
	var buf [8 + 32]byte
	binary.BigEndian.PutUint64(buf[:8], view)
	copy(buf[8:], s.hash[:])
	seed := utils.Sha256Hash(buf[:])
	target := binary.BigEndian.Uint64(seed[:8]) % s.total

	var acc uint64
	for _, idx := range s.active {
		acc += s.vals[idx].Stake
		if target < acc {
			return s.vals[idx].Address
		}
	}
	return s.vals[s.active[len(s.active)-1]].Address
}
