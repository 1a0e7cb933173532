package validator

import (
	"encoding/hex"
	"fmt"
	"strings"

	"hotledger/config"
	"hotledger/types"
	"hotledger/utils"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// SetFromGenesis 由创世配置构造 epoch 0 的验证者集合
func SetFromGenesis(g *config.Genesis) (*Set, error) {
	vals := make([]*types.ValidatorInfo, 0, len(g.Validators))
	for _, gv := range g.Validators {
		v, err := validatorFromGenesis(gv)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return NewSet(0, vals)
}

func validatorFromGenesis(gv config.GenesisValidator) (*types.ValidatorInfo, error) {
	addr, err := types.ParseAddress(gv.Address)
	if err != nil {
		return nil, err
	}
	pub, err := decodeHex(gv.PubKey)
	if err != nil {
		return nil, fmt.Errorf("validator %s: pubkey: %w", gv.Address, err)
	}
	if types.AddressFromPubKey(pub) != addr {
		return nil, fmt.Errorf("validator %s: address does not match pubkey", gv.Address)
	}
	blsPub, err := decodeHex(gv.BLSPubKey)
	if err != nil {
		return nil, fmt.Errorf("validator %s: bls pubkey: %w", gv.Address, err)
	}
	if _, err := utils.BLSPublicKeyFromBytes(blsPub); err != nil {
		return nil, fmt.Errorf("validator %s: bls pubkey: %w", gv.Address, err)
	}
	commission := decimal.Zero
	if gv.Commission != "" {
		commission, err = decimal.NewFromString(gv.Commission)
		if err != nil {
			return nil, fmt.Errorf("validator %s: commission: %w", gv.Address, err)
		}
	}
	return &types.ValidatorInfo{
		Address:    addr,
		PubKey:     pub,
		BLSPubKey:  blsPub,
		Stake:      gv.Stake,
		Reputation: decimal.NewFromInt(1),
		Moniker:    gv.Moniker,
		Commission: commission,
		URL:        gv.URL,
	}, nil
}

// 接受带或不带 0x 前缀的 hex
func decodeHex(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hexutil.Decode(s)
	}
	return hex.DecodeString(s)
}
