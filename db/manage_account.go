package db

import (
	"encoding/json"
	"errors"
	"fmt"

	"hotledger/keys"
	"hotledger/types"

	"github.com/holiman/uint256"
)

// GetAccount 读取已提交的账户状态，不存在时返回 ErrNotFound
func (manager *Manager) GetAccount(addr types.Address) (*types.Account, error) {
	acc := &types.Account{}
	if err := manager.getJSON(keys.KeyAccount(addr.String()), acc); err != nil {
		return nil, err
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*uint256.Int)
	}
	return acc, nil
}

// ScanAccounts 按地址字符串顺序遍历全部账户
func (manager *Manager) ScanAccounts(fn func(acc *types.Account) error) error {
	return manager.ScanOrdered(keys.KeyAccountPrefix(), 0, func(k string, v []byte) error {
		acc := &types.Account{}
		if err := json.Unmarshal(v, acc); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if acc.Balances == nil {
			acc.Balances = make(map[string]*uint256.Int)
		}
		return fn(acc)
	})
}

// GetSupply 币种总供应，未发行的币种为 0
func (manager *Manager) GetSupply(denom string) (*uint256.Int, error) {
	data, err := manager.Get(keys.KeySupply(denom))
	if errors.Is(err, types.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return uint256.FromDecimal(string(data))
}

// ScanSupply 全部币种的总供应
func (manager *Manager) ScanSupply() (map[string]*uint256.Int, error) {
	out := make(map[string]*uint256.Int)
	prefix := keys.KeySupplyPrefix()
	err := manager.ScanOrdered(prefix, 0, func(k string, v []byte) error {
		amt, err := uint256.FromDecimal(string(v))
		if err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		out[k[len(prefix):]] = amt
		return nil
	})
	return out, err
}
