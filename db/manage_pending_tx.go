package db

import (
	"encoding/json"
	"fmt"

	"hotledger/keys"
	"hotledger/types"
)

// SavePendingTx 交易池收到的交易，重启后重新载入
func (manager *Manager) SavePendingTx(tx *types.Transaction) error {
	if tx == nil {
		return fmt.Errorf("SavePendingTx: nil tx")
	}
	return manager.enqueueJSON(keys.KeyPendingTx(tx.ID().Hex()), tx)
}

func (manager *Manager) DeletePendingTx(txID types.Hash) {
	manager.EnqueueDelete(keys.KeyPendingTx(txID.Hex()))
}

// LoadPendingTxs 载入全部待打包交易
func (manager *Manager) LoadPendingTxs() ([]*types.Transaction, error) {
	var out []*types.Transaction
	err := manager.ScanOrdered(keys.KeyPendingTxPrefix(), 0, func(k string, v []byte) error {
		tx := &types.Transaction{}
		if err := json.Unmarshal(v, tx); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, tx)
		return nil
	})
	return out, err
}
