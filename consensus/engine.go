package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hotledger/config"
	"hotledger/interfaces"
	"hotledger/logs"
	"hotledger/types"
	"hotledger/validator"
)

const (
	maxFutureMessages = 1024
	maxOrphanMessages = 256
)

// ============================================
// HotStuff 共识引擎
// ============================================

// EngineConfig 引擎参数
type EngineConfig struct {
	Consensus   config.ConsensusConfig
	MaxBlockTxs int
	MaxEvidence int
	Genesis     *types.Block
}

// Deps 引擎依赖
type Deps struct {
	Signer     interfaces.NodeSigner
	Transport  interfaces.Transport
	Validators ValidatorSource
	// Epochs 为 nil 时集合固定不变
	Epochs     EpochSource
	Executor   Executor
	TxSource   TxSource
	Committer  Committer
	Evidence   EvidencePool
	Safety     SafetyStore
	Blocks     BlockReader
	Events     interfaces.EventBus
	Metrics    Metrics
	Latency    PhaseLatency
	Logger     logs.Logger
}

// Status 引擎状态快照，可被任意 goroutine 读取
type Status struct {
	View            uint64
	Epoch           uint64
	Leader          types.Address
	HighQCView      uint64
	LockedQCView    uint64
	CommittedHeight uint64
	CommittedHash   types.Hash
	TimeoutStreak   int
}

type Engine struct {
	self    types.Address
	cfg     EngineConfig
	genesis types.Hash

	signer    interfaces.NodeSigner
	transport interfaces.Transport
	vals      ValidatorSource
	epochs    EpochSource
	exec      Executor
	txs       TxSource
	committer Committer
	evidence  EvidencePool
	safetyDB  SafetyStore
	blocks    BlockReader
	events    interfaces.EventBus
	metrics   Metrics
	latency   PhaseLatency
	Logger    logs.Logger

	sigs     *SigCache
	verifier *Verifier
	agg      *VoteAggregator
	tree     *BlockTree
	safety   *SafetyRules
	views    *ViewTracker
	pm       *Pacemaker

	// 以下字段只由引擎 goroutine 访问
	set         *validator.Set
	sched       validator.LeaderSchedule
	proposed    map[uint64]bool
	newViews    map[uint64]map[types.Address]*types.NewView
	nvHigh      map[types.Address]uint64
	future      map[uint64][]types.Message
	futureCount int
	orphans     map[types.Hash][]types.Message
	orphanCount int
	queue       []types.Message
	delay       *time.Timer // 空块提案的等待计时
	delayView   uint64

	status atomic.Pointer[Status]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine 从执行器的已提交区块和持久化的安全状态恢复
func NewEngine(cfg EngineConfig, d Deps) (*Engine, error) {
	if d.Signer == nil || d.Transport == nil || d.Validators == nil || d.Executor == nil || d.Committer == nil || d.Evidence == nil {
		return nil, errors.New("consensus: missing engine dependency")
	}
	if d.Logger == nil {
		d.Logger = logs.NewNodeLogger("engine", 0)
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = 16
	}
	// 等待过久会让副本在空块视图里超时
	if max := cfg.Consensus.BaseTimeout / 4; cfg.Consensus.ProposalInterval > max {
		cfg.Consensus.ProposalInterval = max
	}
	head, _ := d.Executor.Head()
	if head == nil {
		return nil, errors.New("consensus: executor has no committed block")
	}
	genesis := head
	if cfg.Genesis != nil {
		genesis = cfg.Genesis
	} else if head.Height != 0 {
		return nil, errors.New("consensus: genesis block required when restarting above height 0")
	}
	genesisHash := genesis.Hash()

	locked, high := types.GenesisQC(genesisHash), types.GenesisQC(genesisHash)
	var start uint64
	if d.Safety != nil {
		vs, err := d.Safety.LoadSafetyState()
		switch {
		case err == nil:
			if vs.LockedQC != nil {
				locked = vs.LockedQC
			}
			if vs.HighestQC != nil {
				high = vs.HighestQC
			}
			start = vs.CurrentView
		case errors.Is(err, types.ErrNotFound):
			if head.Height != 0 {
				return nil, fmt.Errorf("consensus: committed height %d without safety state", head.Height)
			}
		default:
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		self:      types.AddressFromPubKey(d.Signer.PublicKeyBytes()),
		cfg:       cfg,
		genesis:   genesisHash,
		signer:    d.Signer,
		transport: d.Transport,
		vals:      d.Validators,
		epochs:    d.Epochs,
		exec:      d.Executor,
		txs:       d.TxSource,
		committer: d.Committer,
		evidence:  d.Evidence,
		safetyDB:  d.Safety,
		blocks:    d.Blocks,
		events:    d.Events,
		metrics:   d.Metrics,
		latency:   d.Latency,
		Logger:    d.Logger,
		sigs:      NewSigCache(0),
		tree:      NewBlockTree(head, d.Blocks),
		safety:    NewSafetyRules(locked, high),
		views:     NewViewTracker(start, cfg.Consensus.MaxViewJump),
		pm:        NewPacemaker(cfg.Consensus.BaseTimeout, cfg.Consensus.TimeoutMultiplier, cfg.Consensus.MaxTimeout),
		proposed:  make(map[uint64]bool),
		newViews:  make(map[uint64]map[types.Address]*types.NewView),
		nvHigh:    make(map[types.Address]uint64),
		future:    make(map[uint64][]types.Message),
		orphans:   make(map[types.Hash][]types.Message),
		ctx:       ctx,
		cancel:    cancel,
	}
	e.set, e.sched = d.Validators.Schedule()
	e.agg = NewVoteAggregator(func() *validator.Set { return e.set }, d.Evidence, e.sigs)
	e.verifier = NewVerifier(d.Validators, genesisHash, e.sigs, cfg.Consensus.VerifierWorkers, cfg.Consensus.VerifierQueueSize, d.Metrics, d.Logger)
	e.publishStatus()
	return e, nil
}

func (e *Engine) Address() types.Address { return e.self }

// Start 启动验证器和事件循环
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(2)
		go func() {
			defer e.wg.Done()
			e.verifier.Run(e.ctx, e.transport.Receive())
		}()
		go func() {
			defer e.wg.Done()
			e.run()
		}()
	})
}

// Stop 停止并等待所有 goroutine 退出
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.pm.Stop()
	})
}

// Status 最近一次状态快照
func (e *Engine) Status() Status {
	return *e.status.Load()
}

func (e *Engine) run() {
	// 重启后从保存的视图之后开始，避免在同一视图内重复投票
	if err := e.views.Advance(e.views.Current() + 1); err != nil {
		e.Logger.Error("[Engine] cannot start: %v", err)
		return
	}
	e.enterView(e.views.Current())
	e.Logger.Info("[Engine] started at view %d, committed height %d, leader %s",
		e.views.Current(), e.tree.Committed().Height, e.sched.Leader(e.views.Current()).Short())
	e.sendNewView()

	for {
		for len(e.queue) > 0 {
			if e.ctx.Err() != nil {
				return
			}
			msg := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.handle(msg)
		}
		select {
		case <-e.ctx.Done():
			return
		case msg := <-e.verifier.Out():
			e.handle(msg)
		case <-e.pm.C():
			e.onTimeout()
		case <-e.delayC():
			e.onProposalDue()
		}
	}
}

// enterView 进入 views 已推进到的视图：固定验证者快照，清理旧状态，重新计时
func (e *Engine) enterView(view uint64) {
	e.set, e.sched = e.vals.Schedule()
	e.agg.Reset(view)
	for v := range e.newViews {
		if v < view {
			delete(e.newViews, v)
		}
	}
	for v := range e.proposed {
		if v < view {
			delete(e.proposed, v)
		}
	}
	if e.latency != nil {
		e.latency.Forget(view)
	}
	d := e.pm.Start(view)
	e.metrics.SetView(view)
	e.persist()
	e.publishStatus()
	e.publish(types.EventViewChanged, view)
	e.Logger.Debug("[Engine] enter view %d leader=%s timeout=%v", view, e.sched.Leader(view).Short(), d)

	for v, msgs := range e.future {
		if v <= view {
			e.queue = append(e.queue, msgs...)
			e.futureCount -= len(msgs)
			delete(e.future, v)
		}
	}
}

func (e *Engine) onTimeout() {
	view := e.views.Current()
	if e.pm.View() != view {
		return
	}
	e.metrics.Timeout()
	e.pm.OnTimeout()
	e.publish(types.EventViewTimeout, view)
	e.Logger.Warn("[Engine] view %d timed out (streak=%d), sending new-view to %s",
		view, e.pm.Failures(), e.sched.Leader(view+1).Short())
	if err := e.views.Advance(view + 1); err != nil {
		e.Logger.Error("[Engine] advance after timeout: %v", err)
		return
	}
	e.enterView(view + 1)
	e.sendNewView()
}

// syncTo 对端消息证明了更高视图时快进；返回错误表示消息应丢弃
func (e *Engine) syncTo(view uint64) error {
	dir, err := e.views.Classify(view)
	if err != nil {
		return err
	}
	if dir > 0 {
		from := e.views.Current()
		if _, err := e.views.FastForward(view); err != nil {
			return err
		}
		e.Logger.Info("[Engine] fast-forward view %d -> %d", from, view)
		e.enterView(view)
	}
	return nil
}

func (e *Engine) sendNewView() {
	if !e.set.IsActive(e.self) {
		return
	}
	nv := &types.NewView{View: e.views.Current(), HighQC: e.safety.High()}
	if err := nv.Sign(e.signer); err != nil {
		e.Logger.Error("[Engine] sign new-view: %v", err)
		return
	}
	e.broadcast(nv)
}

func (e *Engine) isCommitted(h types.Hash) bool {
	if h == e.tree.Committed().Hash() {
		return true
	}
	if e.blocks == nil {
		return false
	}
	_, err := e.blocks.GetBlockByHash(h)
	return err == nil
}

func (e *Engine) isLeader(view uint64) bool {
	return e.sched.Leader(view) == e.self
}

// broadcast 发给所有对端，并放入本地队列
func (e *Engine) broadcast(msg types.Message) {
	e.transport.Broadcast(msg, e.transport.Peers())
	e.queue = append(e.queue, msg)
}

func (e *Engine) sendTo(to types.Address, msg types.Message) {
	if to == e.self {
		e.queue = append(e.queue, msg)
		return
	}
	if err := e.transport.Send(to, msg); err != nil {
		e.Logger.Warn("[Engine] send %s to %s: %v", msg.Type(), to.Short(), err)
	}
}

func (e *Engine) bufferFuture(msg types.Message) {
	if e.futureCount >= maxFutureMessages {
		e.metrics.MessageDropped("future_overflow")
		return
	}
	v := msg.MsgView()
	e.future[v] = append(e.future[v], msg)
	e.futureCount++
}

func (e *Engine) addOrphan(missing types.Hash, msg types.Message) {
	if e.orphanCount >= maxOrphanMessages {
		e.orphans = make(map[types.Hash][]types.Message)
		e.orphanCount = 0
		e.metrics.MessageDropped("orphan_overflow")
	}
	e.orphans[missing] = append(e.orphans[missing], msg)
	e.orphanCount++
	e.Logger.Debug("[Engine] %s waits for block %s", msg.Type(), missing.Short())
}

func (e *Engine) replayOrphans(h types.Hash) {
	if msgs, ok := e.orphans[h]; ok {
		delete(e.orphans, h)
		e.orphanCount -= len(msgs)
		e.queue = append(e.queue, msgs...)
	}
}

// persist 在发出投票前同步落盘视图与 QC
func (e *Engine) persist() {
	if e.safetyDB == nil {
		return
	}
	vs := &types.ViewState{
		CurrentView: e.views.Current(),
		HighestQC:   e.safety.High(),
		LockedQC:    e.safety.Locked(),
		Height:      e.tree.Committed().Height,
	}
	if err := e.safetyDB.SaveSafetyState(vs); err != nil {
		e.Logger.Error("[Engine] persist safety state: %v", err)
	}
}

func (e *Engine) publishStatus() {
	view := e.views.Current()
	committed := e.tree.Committed()
	e.status.Store(&Status{
		View:            view,
		Epoch:           e.set.Epoch(),
		Leader:          e.sched.Leader(view),
		HighQCView:      e.safety.High().View,
		LockedQCView:    e.safety.Locked().View,
		CommittedHeight: committed.Height,
		CommittedHash:   committed.Hash(),
		TimeoutStreak:   e.pm.Failures(),
	})
}

func (e *Engine) publish(t types.EventType, data interface{}) {
	if e.events != nil {
		e.events.Publish(types.BaseEvent{EventType: t, EventData: data})
	}
}

func (e *Engine) observe(view uint64, phase string) {
	if e.latency != nil {
		e.latency.ObservePhase(view, phase, time.Now())
	}
}
