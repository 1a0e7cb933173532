package consensus

import (
	"hotledger/types"
	"hotledger/validator"
)

// applyEpochs 在引擎 goroutine 内按区块顺序登记惩罚，到 epoch 边界时切换集合。
// 必须在 enterView 之前调用，下一视图的领导者只取决于已决的链
func (e *Engine) applyEpochs(path []*types.Block) {
	if e.epochs == nil {
		return
	}
	epochLen := e.cfg.Consensus.EpochLength
	for _, b := range path {
		for _, ev := range b.Evidence {
			if !ev.Provable() {
				continue
			}
			err := e.epochs.Stage(validator.Change{Kind: validator.ChangeSlash, Address: ev.Validator, Reason: ev.Kind.String()})
			if err != nil {
				e.Logger.Warn("[Engine] cannot stage slash for %s: %v", ev.Validator.Short(), err)
				continue
			}
			e.publish(types.EventEvidence, ev)
		}
		if epochLen == 0 || b.Height%epochLen != 0 {
			continue
		}
		set, err := e.epochs.AdvanceEpoch()
		if err != nil {
			e.Logger.Error("[Engine] advance epoch at height %d: %v", b.Height, err)
			continue
		}
		e.metrics.SetEpoch(set.Epoch())
		e.publish(types.EventEpochChanged, set.Epoch())
		e.Logger.Info("[Engine] epoch %d at height %d, %d active validators", set.Epoch(), b.Height, set.ActiveCount())
	}
}
