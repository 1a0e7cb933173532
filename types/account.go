package types

import (
	"sort"

	"github.com/holiman/uint256"
)

// Account 多资产账户。首次入账时创建，余额归零后仍保留以跟踪 nonce
type Account struct {
	Address  Address                 `json:"address"`
	Nonce    uint64                  `json:"nonce"`
	Balances map[string]*uint256.Int `json:"balances"`
}

func NewAccount(addr Address) *Account {
	return &Account{
		Address:  addr,
		Balances: make(map[string]*uint256.Int),
	}
}

// Balance 返回余额副本，不存在的币种为 0
func (a *Account) Balance(denom string) *uint256.Int {
	if a == nil {
		return new(uint256.Int)
	}
	if b, ok := a.Balances[denom]; ok && b != nil {
		return b.Clone()
	}
	return new(uint256.Int)
}

// HasDenom 账户是否持有该币种条目（包括余额为 0 的条目）
func (a *Account) HasDenom(denom string) bool {
	_, ok := a.Balances[denom]
	return ok
}

func (a *Account) DenomCount() int {
	return len(a.Balances)
}

// SortedDenoms 币种按字典序
func (a *Account) SortedDenoms() []string {
	out := make([]string, 0, len(a.Balances))
	for d := range a.Balances {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (a *Account) Clone() *Account {
	c := &Account{
		Address:  a.Address,
		Nonce:    a.Nonce,
		Balances: make(map[string]*uint256.Int, len(a.Balances)),
	}
	for d, b := range a.Balances {
		if b == nil {
			b = new(uint256.Int)
		}
		c.Balances[d] = b.Clone()
	}
	return c
}

// CanonicalBytes 状态根叶子的规范编码
func (a *Account) CanonicalBytes() []byte {
	e := newEncoder(domainAccount)
	e.addr(2, a.Address)
	e.uint(3, a.Nonce)
	for _, d := range a.SortedDenoms() {
		e.str(4, d)
		e.u256(5, a.Balances[d])
	}
	return e.done()
}

// LeafHash 状态根中该账户的叶子
func (a *Account) LeafHash() Hash {
	return ContentHash(a.CanonicalBytes())
}
