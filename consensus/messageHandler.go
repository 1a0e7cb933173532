package consensus

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"hotledger/types"
)

// dropReason 丢弃原因，用作指标标签
func dropReason(err error) string {
	switch {
	case errors.Is(err, types.ErrStaleView):
		return "stale_view"
	case errors.Is(err, types.ErrSuspiciousViewJump):
		return "view_jump"
	case errors.Is(err, types.ErrWrongLeader):
		return "wrong_leader"
	case errors.Is(err, types.ErrDuplicateVote):
		return "duplicate_vote"
	case errors.Is(err, types.ErrEquivocation):
		return "equivocation"
	case errors.Is(err, types.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, types.ErrUnsafeExtension):
		return "unsafe_extension"
	case errors.Is(err, ErrNotValidator):
		return "not_validator"
	case errors.Is(err, types.ErrMalformedMessage):
		return "malformed"
	default:
		return "other"
	}
}

func (e *Engine) handle(msg types.Message) {
	var err error
	switch m := msg.(type) {
	case *types.Proposal:
		err = e.onProposal(m)
	case *types.Vote:
		err = e.onVote(m)
	case *types.QCMessage:
		err = e.onQC(m.QC)
	case *types.NewView:
		err = e.onNewView(m)
	}
	if err != nil {
		e.drop(msg, err)
	}
}

func (e *Engine) drop(msg types.Message, err error) {
	reason := dropReason(err)
	e.metrics.MessageDropped(reason)
	switch reason {
	case "stale_view", "duplicate_vote", "wrong_leader":
		e.Logger.Debug("[Engine] drop %s v=%d: %v", msg.Type(), msg.MsgView(), err)
	default:
		e.Logger.Warn("[Engine] drop %s v=%d: %v", msg.Type(), msg.MsgView(), err)
	}
}

// ============================================
// Prepare: 校验提案并投票
// ============================================

func (e *Engine) onProposal(p *types.Proposal) error {
	b := p.Block
	dir, err := e.views.Classify(p.View)
	if err != nil {
		return err
	}
	if dir > 0 && e.sched.Leader(p.View) != p.Proposer {
		// 本节点可能还没决议 epoch 边界区块，进入该视图后按届时的集合再判断
		e.bufferFuture(p)
		return nil
	}
	if err := e.syncTo(p.View); err != nil {
		return err
	}
	if leader := e.sched.Leader(p.View); leader != p.Proposer {
		return fmt.Errorf("%w: view %d proposer %s, leader %s", types.ErrWrongLeader, p.View, p.Proposer.Short(), leader.Short())
	}
	if e.tree.Has(b.Hash()) {
		return nil
	}
	if err := b.ValidateBasic(e.cfg.MaxBlockTxs); err != nil {
		return err
	}
	parent, ok := e.tree.Get(b.Parent)
	if !ok {
		if b.Height <= e.tree.Committed().Height {
			return fmt.Errorf("%w: block height %d below committed %d", types.ErrStaleView, b.Height, e.tree.Committed().Height)
		}
		e.addOrphan(b.Parent, p)
		return nil
	}
	if b.Timestamp < parent.Timestamp {
		return fmt.Errorf("%w: timestamp %d before parent %d", types.ErrMalformedMessage, b.Timestamp, parent.Timestamp)
	}
	if err := e.evidence.CheckBlockEvidence(b.Evidence, e.set); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedMessage, err)
	}
	if err := e.safety.SafeToExtend(b, e.tree.Extends); err != nil {
		e.evidence.ObserveUnsafeExtension(p.Proposer, p.View, b.JustifyQC.View, e.safety.Locked().View)
		return err
	}
	if e.safety.UpdateHigh(b.JustifyQC) {
		e.persist()
	}

	res, err := e.exec.PreExecute(b)
	if err != nil {
		return fmt.Errorf("%w: execute %s: %v", types.ErrMalformedMessage, b.Hash().Short(), err)
	}
	if res.StateRoot != b.StateRoot {
		return fmt.Errorf("%w: state root %s, executed %s", types.ErrMalformedMessage, b.StateRoot.Short(), res.StateRoot.Short())
	}
	if _, err := e.tree.Add(b); err != nil {
		return err
	}
	if e.latency != nil {
		e.latency.StartView(p.View, time.Now())
	}
	e.Logger.Debug("[Engine] accepted %s from %s", b, p.Proposer.Short())
	e.replayOrphans(b.Hash())
	e.vote(p.View, b.Hash(), types.PhasePrepare)
	return nil
}

// vote 签名、持久化、发给本视图领导者
func (e *Engine) vote(view uint64, block types.Hash, phase types.Phase) {
	if view != e.views.Current() || !e.safety.CanVote(view, phase) || !e.set.IsActive(e.self) {
		return
	}
	v, err := types.NewVote(view, block, phase, e.signer)
	if err != nil {
		e.Logger.Error("[Engine] sign vote: %v", err)
		return
	}
	e.safety.RecordVote(view, phase)
	e.persist()
	e.sendTo(e.sched.Leader(view), v)
}

// ============================================
// 领导者：收集投票
// ============================================

func (e *Engine) onVote(v *types.Vote) error {
	e.evidence.ObserveVote(v)
	dir, err := e.views.Classify(v.View)
	if err != nil {
		return err
	}
	if dir > 0 {
		e.bufferFuture(v)
		return nil
	}
	if !e.isLeader(v.View) {
		return fmt.Errorf("%w: vote for view %d sent to non-leader", types.ErrWrongLeader, v.View)
	}
	qc, err := e.agg.AddVote(v)
	if err != nil || qc == nil {
		return err
	}
	e.metrics.QCFormed(qc.Phase.String())
	e.observe(qc.View, qc.Phase.String())
	e.publish(types.EventQCFormed, qc)
	e.Logger.Debug("[Engine] formed %s", qc)
	if next := qc.Phase.Next(); next.Votable() {
		e.agg.Begin(qc.View, next, qc.BlockHash)
	}
	e.broadcast(&types.QCMessage{QC: qc})
	return nil
}

// ============================================
// 副本：处理阶段 QC
// ============================================

func (e *Engine) onQC(qc *types.QuorumCertificate) error {
	b, known := e.tree.Get(qc.BlockHash)

	if qc.Phase == types.PhaseCommit {
		// Commit-QC 不受视图过期限制，迟到的也能用来决议
		if _, err := e.views.Classify(qc.View); errors.Is(err, types.ErrSuspiciousViewJump) {
			return err
		}
		if !known {
			if e.isCommitted(qc.BlockHash) {
				return nil
			}
			e.addOrphan(qc.BlockHash, &types.QCMessage{QC: qc})
			return nil
		}
		if e.safety.UpdateHigh(qc) {
			e.persist()
		}
		e.decide(b, qc)
		return nil
	}

	dir, err := e.views.Classify(qc.View)
	if dir < 0 {
		if known && e.safety.UpdateHigh(qc) {
			e.persist()
		}
		return nil
	}
	if err != nil {
		return err
	}
	if !known {
		e.addOrphan(qc.BlockHash, &types.QCMessage{QC: qc})
		return nil
	}
	if err := e.syncTo(qc.View); err != nil {
		return err
	}

	switch qc.Phase {
	case types.PhasePrepare:
		if e.safety.UpdateHigh(qc) {
			e.persist()
		}
		e.vote(qc.View, qc.BlockHash, types.PhasePreCommit)
	case types.PhasePreCommit:
		if e.safety.UpdateLock(qc) {
			e.persist()
		}
		e.vote(qc.View, qc.BlockHash, types.PhaseCommit)
	default:
		return fmt.Errorf("%w: qc phase %s", types.ErrMalformedMessage, qc.Phase)
	}
	return nil
}

// decide 提交 b 及其所有未提交祖先，然后进入下一视图
func (e *Engine) decide(b *types.Block, qc *types.QuorumCertificate) {
	if b.Height <= e.tree.Committed().Height {
		return
	}
	path, err := e.tree.UncommittedPath(b.Hash())
	if err != nil {
		e.Logger.Error("[Engine] commit %s: %v", b, err)
		return
	}
	if !e.committer.Submit(path...) {
		return
	}
	e.tree.MarkCommitted(b)
	for range path {
		e.metrics.Decided()
	}
	e.applyEpochs(path)
	e.observe(qc.View, types.PhaseDecide.String())
	e.pm.OnProgress()
	e.Logger.Info("[Engine] decided %s (%d blocks) by %s", b, len(path), qc)

	cur := e.views.Current()
	if qc.View < cur {
		e.persist()
		e.publishStatus()
		return
	}
	next := qc.View + 1
	var stepErr error
	if next == cur+1 {
		stepErr = e.views.Advance(next)
	} else {
		_, stepErr = e.views.FastForward(next)
	}
	if stepErr != nil {
		e.Logger.Error("[Engine] advance after decide: %v", stepErr)
		return
	}
	e.enterView(next)
	if e.isLeader(next) {
		e.propose(next)
	}
}

// ============================================
// 视图同步
// ============================================

func (e *Engine) onNewView(nv *types.NewView) error {
	cur := e.views.Current()
	if nv.Sender != e.self {
		e.evidence.ObserveNewView(nv, cur)
	}
	dir, err := e.views.Classify(nv.View)
	if err != nil {
		return err
	}
	if !e.set.IsActive(nv.Sender) {
		return fmt.Errorf("%w: new-view from %s", ErrNotValidator, nv.Sender.Short())
	}
	if e.tree.Has(nv.HighQC.BlockHash) && e.safety.UpdateHigh(nv.HighQC) {
		e.persist()
	}

	byView, ok := e.newViews[nv.View]
	if !ok {
		byView = make(map[types.Address]*types.NewView)
		e.newViews[nv.View] = byView
	}
	byView[nv.Sender] = nv
	if nv.View > e.nvHigh[nv.Sender] {
		e.nvHigh[nv.Sender] = nv.View
	}

	if dir > 0 {
		e.syncByNewViews()
	}
	e.tryProposeFromNewViews()
	return nil
}

// syncByNewViews 超过 1/3 权益已处在更高视图时跟进，
// 至少有一个诚实节点到达了该视图
func (e *Engine) syncByNewViews() {
	cur := e.views.Current()
	type claim struct {
		view  uint64
		stake uint64
	}
	var claims []claim
	for addr, v := range e.nvHigh {
		if v > cur && e.set.IsActive(addr) {
			claims = append(claims, claim{v, e.set.StakeOf(addr)})
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].view > claims[j].view })

	var acc uint64
	for _, c := range claims {
		acc += c.stake
		if e.set.HasOneThird(acc) {
			if err := e.syncTo(c.view); err != nil {
				e.Logger.Warn("[Engine] view sync to %d: %v", c.view, err)
				return
			}
			e.sendNewView()
			return
		}
	}
}

// tryProposeFromNewViews 当前视图的领导者收齐 2/3 NewView 后提案
func (e *Engine) tryProposeFromNewViews() {
	view := e.views.Current()
	if !e.isLeader(view) || e.proposed[view] {
		return
	}
	var stake uint64
	for addr := range e.newViews[view] {
		stake += e.set.StakeOf(addr)
	}
	if !e.set.HasQuorum(stake) {
		return
	}
	e.propose(view)
}
