package db

import (
	"encoding/json"
	"fmt"
	"strconv"

	"hotledger/keys"
	"hotledger/types"
)

// SaveValidatorSet 同步写入某个 epoch 的验证者快照并更新当前 epoch
func (manager *Manager) SaveValidatorSet(epoch uint64, vals []*types.ValidatorInfo) error {
	data, err := json.Marshal(vals)
	if err != nil {
		return err
	}
	if err := manager.Set(keys.KeyValidatorSet(epoch), data); err != nil {
		return err
	}
	return manager.Set(keys.KeyLatestEpoch(), []byte(strconv.FormatUint(epoch, 10)))
}

// LoadValidatorSet 读取某个 epoch 的验证者快照
func (manager *Manager) LoadValidatorSet(epoch uint64) ([]*types.ValidatorInfo, error) {
	var vals []*types.ValidatorInfo
	if err := manager.getJSON(keys.KeyValidatorSet(epoch), &vals); err != nil {
		return nil, err
	}
	return vals, nil
}

// GetLatestEpoch 最近一次保存的 epoch
func (manager *Manager) GetLatestEpoch() (uint64, error) {
	data, err := manager.Get(keys.KeyLatestEpoch())
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// SaveSafetyState 投票前同步落盘视图与锁定 QC
func (manager *Manager) SaveSafetyState(vs *types.ViewState) error {
	data, err := json.Marshal(vs)
	if err != nil {
		return err
	}
	return manager.Set(keys.KeySafetyState(), data)
}

// LoadSafetyState 读取上次保存的视图状态
func (manager *Manager) LoadSafetyState() (*types.ViewState, error) {
	vs := &types.ViewState{}
	if err := manager.getJSON(keys.KeySafetyState(), vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// SaveEvidence 本地观测到的证据存档，经写队列异步落盘；区块内证据随 CommitBlock 写入
func (manager *Manager) SaveEvidence(ev *types.Evidence) error {
	if ev == nil {
		return fmt.Errorf("nil evidence")
	}
	return manager.enqueueJSON(keys.KeyEvidence(ev.Validator.String(), ev.View, uint8(ev.Kind)), ev)
}

// ListEvidence 全部存档证据，按验证者和视图排序
func (manager *Manager) ListEvidence() ([]*types.Evidence, error) {
	var out []*types.Evidence
	err := manager.ScanOrdered(keys.KeyEvidencePrefix(), 0, func(k string, v []byte) error {
		ev := &types.Evidence{}
		if err := json.Unmarshal(v, ev); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// HasEvidence 同一 (验证者, 视图, 类型) 的证据是否已存档
func (manager *Manager) HasEvidence(ev *types.Evidence) bool {
	_, err := manager.Get(keys.KeyEvidence(ev.Validator.String(), ev.View, uint8(ev.Kind)))
	return err == nil
}
