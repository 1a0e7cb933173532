package consensus

import (
	"time"

	"hotledger/types"
	"hotledger/validator"
	"hotledger/vm"
)

// ValidatorSource 验证者快照来源（validator.Manager 实现）
type ValidatorSource interface {
	Schedule() (*validator.Set, validator.LeaderSchedule)
	SetForEpoch(epoch uint64) (*validator.Set, error)
}

// EpochSource 决议时登记惩罚并在 epoch 边界切换集合（validator.Manager 实现）
type EpochSource interface {
	Stage(c validator.Change) error
	AdvanceEpoch() (*validator.Set, error)
}

// Executor 投机执行（vm.Executor 实现）
type Executor interface {
	SealBlock(b *types.Block) (*vm.SpecResult, error)
	PreExecute(b *types.Block) (*vm.SpecResult, error)
	Head() (*types.Block, types.Hash)
}

// TxSource 提案时从交易池取交易
type TxSource interface {
	Reap(parent types.Hash, max int) []*types.Transaction
}

// Committer 已决区块的提交队列（vm.CommitQueue 实现）
type Committer interface {
	Submit(blocks ...*types.Block) bool
}

// EvidencePool 惩罚监控（slashing.Monitor 实现）
type EvidencePool interface {
	ObserveVote(v *types.Vote) *types.Evidence
	ReportEquivocation(a, b *types.Vote) *types.Evidence
	ObserveNewView(nv *types.NewView, currentView uint64) *types.Evidence
	ObserveUnsafeExtension(proposer types.Address, view, justifyView, lockedView uint64)
	Pending(max int) []*types.Evidence
	CheckBlockEvidence(evs []*types.Evidence, set *validator.Set) error
}

// SafetyStore 视图与锁定 QC 的持久化（db.Manager 实现）
type SafetyStore interface {
	SaveSafetyState(vs *types.ViewState) error
	LoadSafetyState() (*types.ViewState, error)
}

// BlockReader 已提交区块查询
type BlockReader interface {
	GetBlockByHash(hash types.Hash) (*types.Block, error)
}

// Metrics 共识指标（stats.Stats 实现）
type Metrics interface {
	SetView(v uint64)
	SetEpoch(e uint64)
	Timeout()
	QCFormed(phase string)
	Decided()
	MessageDropped(reason string)
}

// PhaseLatency 阶段耗时（stats.LatencyRecorder 实现）
type PhaseLatency interface {
	StartView(view uint64, at time.Time)
	ObservePhase(view uint64, phase string, at time.Time)
	Forget(view uint64)
}

type nopMetrics struct{}

func (nopMetrics) SetView(uint64)        {}
func (nopMetrics) SetEpoch(uint64)       {}
func (nopMetrics) Timeout()              {}
func (nopMetrics) QCFormed(string)       {}
func (nopMetrics) Decided()              {}
func (nopMetrics) MessageDropped(string) {}
