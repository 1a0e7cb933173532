package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// ValidatorInfo 验证者信息，在 epoch 快照中不可变
type ValidatorInfo struct {
	Address    Address         `json:"address"`
	PubKey     hexutil.Bytes   `json:"pubKey"`
	BLSPubKey  hexutil.Bytes   `json:"blsPubKey"`
	Stake      uint64          `json:"stake"`
	Slashed    bool            `json:"slashed"`
	Jailed     bool            `json:"jailed"`
	Reputation decimal.Decimal `json:"reputation"`
	Moniker    string          `json:"moniker,omitempty"`
	Commission decimal.Decimal `json:"commission"`
	URL        string          `json:"url,omitempty"`
}

// Active 参与出块和投票的验证者
func (v *ValidatorInfo) Active() bool {
	return v != nil && !v.Slashed && !v.Jailed && v.Stake > 0
}

func (v *ValidatorInfo) Clone() *ValidatorInfo {
	c := *v
	c.PubKey = append(hexutil.Bytes(nil), v.PubKey...)
	c.BLSPubKey = append(hexutil.Bytes(nil), v.BLSPubKey...)
	return &c
}

// CanonicalBytes 验证者集合哈希使用的规范编码
func (v *ValidatorInfo) CanonicalBytes() []byte {
	e := newEncoder(domainValSet)
	e.addr(2, v.Address)
	e.bytes(3, v.PubKey)
	e.bytes(4, v.BLSPubKey)
	e.uint(5, v.Stake)
	e.bool(6, v.Slashed)
	e.bool(7, v.Jailed)
	e.str(8, v.Reputation.String())
	e.str(9, v.Commission.String())
	return e.done()
}

func (v *ValidatorInfo) String() string {
	return fmt.Sprintf("validator<%s stake=%d slashed=%v>", v.Address.Short(), v.Stake, v.Slashed)
}
