package vm

import (
	"encoding/json"
	"fmt"

	"hotledger/keys"
	"hotledger/types"

	"github.com/holiman/uint256"
)

// WorldState 在 StateView 之上的账户与供应量读写
type WorldState struct {
	sv        StateView
	maxDenoms int
}

func NewWorldState(sv StateView, maxDenoms int) *WorldState {
	return &WorldState{sv: sv, maxDenoms: maxDenoms}
}

func (ws *WorldState) View() StateView { return ws.sv }

// GetAccount 返回账户副本；不存在时返回一个空账户和 false
func (ws *WorldState) GetAccount(addr types.Address) (*types.Account, bool, error) {
	data, ok, err := ws.sv.Get(keys.KeyAccount(addr.String()))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return types.NewAccount(addr), false, nil
	}
	acc := &types.Account{}
	if err := json.Unmarshal(data, acc); err != nil {
		return nil, false, fmt.Errorf("decode account %s: %w", addr, err)
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*uint256.Int)
	}
	return acc, true, nil
}

func (ws *WorldState) PutAccount(acc *types.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	ws.sv.Set(keys.KeyAccount(acc.Address.String()), data)
	return nil
}

// Credit 入账，首次持有新币种时检查币种数量上限
func (ws *WorldState) Credit(addr types.Address, denom string, amt *uint256.Int) error {
	acc, _, err := ws.GetAccount(addr)
	if err != nil {
		return err
	}
	if !acc.HasDenom(denom) && ws.maxDenoms > 0 && acc.DenomCount() >= ws.maxDenoms {
		return fmt.Errorf("%w: %s holds %d denominations", types.ErrTooManyDenominations, addr.Short(), acc.DenomCount())
	}
	bal, err := SafeAdd(acc.Balance(denom), amt)
	if err != nil {
		return err
	}
	acc.Balances[denom] = bal
	return ws.PutAccount(acc)
}

// Debit 出账，余额不足返回 ErrInsufficientBalance
func (ws *WorldState) Debit(addr types.Address, denom string, amt *uint256.Int) error {
	acc, _, err := ws.GetAccount(addr)
	if err != nil {
		return err
	}
	bal, err := SafeSub(acc.Balance(denom), amt)
	if err != nil {
		return err
	}
	acc.Balances[denom] = bal
	return ws.PutAccount(acc)
}

// Supply 币种总供应
func (ws *WorldState) Supply(denom string) (*uint256.Int, error) {
	data, ok, err := ws.sv.Get(keys.KeySupply(denom))
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	return uint256.FromDecimal(string(data))
}

func (ws *WorldState) setSupply(denom string, v *uint256.Int) {
	ws.sv.Set(keys.KeySupply(denom), []byte(v.Dec()))
}

func (ws *WorldState) IncreaseSupply(denom string, amt *uint256.Int) error {
	cur, err := ws.Supply(denom)
	if err != nil {
		return err
	}
	next, err := SafeAdd(cur, amt)
	if err != nil {
		return err
	}
	ws.setSupply(denom, next)
	return nil
}

func (ws *WorldState) DecreaseSupply(denom string, amt *uint256.Int) error {
	cur, err := ws.Supply(denom)
	if err != nil {
		return err
	}
	next, err := SafeSub(cur, amt)
	if err != nil {
		return fmt.Errorf("supply of %s: %w", denom, err)
	}
	ws.setSupply(denom, next)
	return nil
}
