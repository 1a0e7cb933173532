package consensus

import (
	"fmt"

	"hotledger/types"
)

// SafetyRules 锁定规则与投票记录，只由引擎 goroutine 访问
type SafetyRules struct {
	locked    *types.QuorumCertificate
	high      *types.QuorumCertificate
	lastVoted [3]uint64 // 每个可投票阶段最后投票的视图
}

func NewSafetyRules(locked, high *types.QuorumCertificate) *SafetyRules {
	if high == nil || locked.HigherThan(high) {
		high = locked
	}
	return &SafetyRules{locked: locked, high: high}
}

func (s *SafetyRules) Locked() *types.QuorumCertificate { return s.locked }
func (s *SafetyRules) High() *types.QuorumCertificate   { return s.high }

// SafeToExtend justify.View >= locked.View，或区块扩展了锁定区块
func (s *SafetyRules) SafeToExtend(b *types.Block, extends func(desc, anc types.Hash) bool) error {
	justify := b.JustifyQC
	if justify.View >= s.locked.View {
		return nil
	}
	if extends(b.Hash(), s.locked.BlockHash) {
		return nil
	}
	return fmt.Errorf("%w: justify view %d < locked view %d", types.ErrUnsafeExtension, justify.View, s.locked.View)
}

// UpdateHigh 记录更高的 QC
func (s *SafetyRules) UpdateHigh(qc *types.QuorumCertificate) bool {
	if qc.HigherThan(s.high) {
		s.high = qc
		return true
	}
	return false
}

// UpdateLock PreCommit-QC 更新锁
func (s *SafetyRules) UpdateLock(qc *types.QuorumCertificate) bool {
	if qc.HigherThan(s.locked) {
		s.locked = qc
		s.UpdateHigh(qc)
		return true
	}
	return false
}

// CanVote 每个 (view, phase) 只投一次票，且不回退
func (s *SafetyRules) CanVote(view uint64, phase types.Phase) bool {
	if !phase.Votable() {
		return false
	}
	return view > s.lastVoted[phase-1]
}

func (s *SafetyRules) RecordVote(view uint64, phase types.Phase) {
	if phase.Votable() && view > s.lastVoted[phase-1] {
		s.lastVoted[phase-1] = view
	}
}
