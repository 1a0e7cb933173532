package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// GenesisValidator 创世验证者
type GenesisValidator struct {
	Address    string `json:"address"`   // bech32
	PubKey     string `json:"pubKey"`    // hex, 压缩 secp256k1 公钥
	BLSPubKey  string `json:"blsPubKey"` // hex, bn256 G2 点
	Stake      uint64 `json:"stake"`
	Moniker    string `json:"moniker"`
	Commission string `json:"commission"` // "0.1"
	URL        string `json:"url"`        // 对外 https 地址，可空
}

// GenesisBalance 创世余额
type GenesisBalance struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
	Amount  string `json:"amount"` // 十进制字符串
}

// Genesis 创世配置
type Genesis struct {
	ChainID    string             `json:"chainId"`
	Timestamp  int64              `json:"timestamp"`
	Issuer     string             `json:"issuer"` // 允许 mint 的地址，可空
	Validators []GenesisValidator `json:"validators"`
	Balances   []GenesisBalance   `json:"balances"`
}

// DefaultGenesis 返回一个空的创世配置（无验证者，需要 genesis 命令生成）
func DefaultGenesis() *Genesis {
	return &Genesis{
		ChainID:   "hotledger-local",
		Timestamp: 0,
	}
}

// LoadGenesis 从 JSON 文件读取创世配置
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveToFile 写出创世配置
func (g *Genesis) SaveToFile(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate 检查创世配置的结构合法性（地址与公钥的一致性由 node 在加载时校验）
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("genesis: empty chain id")
	}
	if len(g.Validators) == 0 {
		return fmt.Errorf("genesis: no validators")
	}
	seen := make(map[string]struct{}, len(g.Validators))
	for i, v := range g.Validators {
		if v.Address == "" || v.PubKey == "" || v.BLSPubKey == "" {
			return fmt.Errorf("genesis: validator %d missing address or keys", i)
		}
		if v.Stake == 0 {
			return fmt.Errorf("genesis: validator %s has zero stake", v.Address)
		}
		if _, dup := seen[v.Address]; dup {
			return fmt.Errorf("genesis: duplicate validator %s", v.Address)
		}
		seen[v.Address] = struct{}{}
		if v.Commission != "" {
			c, err := decimal.NewFromString(v.Commission)
			if err != nil || c.IsNegative() || c.GreaterThan(decimal.NewFromInt(1)) {
				return fmt.Errorf("genesis: validator %s invalid commission %q", v.Address, v.Commission)
			}
		}
	}
	for i, b := range g.Balances {
		if b.Address == "" || b.Denom == "" {
			return fmt.Errorf("genesis: balance %d missing address or denom", i)
		}
		if _, err := uint256.FromDecimal(b.Amount); err != nil {
			return fmt.Errorf("genesis: balance %d invalid amount %q: %w", i, b.Amount, err)
		}
	}
	return nil
}
