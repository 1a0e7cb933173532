package consensus

import (
	"time"

	"hotledger/types"
)

type evidenceKey struct {
	validator types.Address
	view      uint64
	kind      types.EvidenceKind
}

func keyOf(ev *types.Evidence) evidenceKey {
	return evidenceKey{ev.Validator, ev.View, ev.Kind}
}

// propose 在 highQC 认证的区块之上构造、执行、签名并广播提案
func (e *Engine) propose(view uint64) {
	if e.proposed[view] {
		return
	}
	high := e.safety.High()
	parent, ok := e.tree.Get(high.BlockHash)
	if !ok {
		e.Logger.Warn("[Engine] cannot propose view %d: high qc block %s unknown", view, high.BlockHash.Short())
		return
	}

	evidence := e.selectEvidence(parent.Hash())
	var txs []*types.Transaction
	if e.txs != nil {
		txs = e.txs.Reap(parent.Hash(), e.cfg.MaxBlockTxs)
	}
	now := time.Now()
	if len(txs) == 0 && len(evidence) == 0 {
		if wait := e.emptyBlockWait(parent, now); wait > 0 {
			e.armProposal(view, wait)
			return
		}
	}

	ts := now.UnixMilli()
	if ts < parent.Timestamp {
		ts = parent.Timestamp
	}
	b := &types.Block{
		Height:    parent.Height + 1,
		Parent:    parent.Hash(),
		View:      view,
		Proposer:  e.self,
		Timestamp: ts,
		JustifyQC: high,
		Evidence:  evidence,
		Txs:       txs,
	}
	b.Seal()
	if _, err := e.exec.SealBlock(b); err != nil {
		e.Logger.Error("[Engine] execute proposal for view %d: %v", view, err)
		return
	}

	p := &types.Proposal{View: view, Block: b, JustifyQC: high}
	if err := p.Sign(e.signer); err != nil {
		e.Logger.Error("[Engine] sign proposal: %v", err)
		return
	}
	e.proposed[view] = true
	e.agg.Begin(view, types.PhasePrepare, b.Hash())
	if e.latency != nil {
		e.latency.StartView(view, time.Now())
	}
	e.publish(types.EventBlockProposed, b)
	e.Logger.Info("[Engine] propose %s on %s evidence=%d", b, high, len(b.Evidence))
	e.broadcast(p)
}

// emptyBlockWait 空块距父块时间戳不足 ProposalInterval 时还需等待的时长
func (e *Engine) emptyBlockWait(parent *types.Block, now time.Time) time.Duration {
	interval := e.cfg.Consensus.ProposalInterval
	if interval <= 0 {
		return 0
	}
	return time.UnixMilli(parent.Timestamp).Add(interval).Sub(now)
}

// armProposal 到期后在引擎 goroutine 中重试 view 的提案
func (e *Engine) armProposal(view uint64, wait time.Duration) {
	if e.delay != nil {
		if e.delayView == view {
			return
		}
		e.delay.Stop()
	}
	e.delay = time.NewTimer(wait)
	e.delayView = view
	e.Logger.Trace("[Engine] idle, delay proposal for view %d by %v", view, wait)
}

func (e *Engine) delayC() <-chan time.Time {
	if e.delay == nil {
		return nil
	}
	return e.delay.C
}

func (e *Engine) onProposalDue() {
	view := e.delayView
	e.delay = nil
	if view != e.views.Current() || !e.isLeader(view) {
		return
	}
	e.propose(view)
}

// selectEvidence 待打包证据中去掉已在未提交祖先中出现的，
// 并逐条用当前集合校验
func (e *Engine) selectEvidence(parent types.Hash) []*types.Evidence {
	pending := e.evidence.Pending(e.cfg.MaxEvidence * 2)
	if len(pending) == 0 {
		return nil
	}
	included := make(map[evidenceKey]struct{})
	if path, err := e.tree.UncommittedPath(parent); err == nil {
		for _, blk := range path {
			for _, ev := range blk.Evidence {
				included[keyOf(ev)] = struct{}{}
			}
		}
	}

	var out []*types.Evidence
	for _, ev := range pending {
		if len(out) >= e.cfg.MaxEvidence {
			break
		}
		k := keyOf(ev)
		if _, dup := included[k]; dup {
			continue
		}
		if err := e.evidence.CheckBlockEvidence([]*types.Evidence{ev}, e.set); err != nil {
			e.Logger.Debug("[Engine] skip %s: %v", ev, err)
			continue
		}
		included[k] = struct{}{}
		out = append(out, ev)
	}
	return out
}
