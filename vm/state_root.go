package vm

import (
	"bytes"
	"encoding/json"
	"sort"

	"hotledger/keys"
	"hotledger/types"
	"hotledger/utils"

	"github.com/holiman/uint256"
)

// ComputeStateRoot 账户叶子按地址字节序排列后的默克尔根
func ComputeStateRoot(leaves map[types.Address]types.Hash) types.Hash {
	addrs := make([]types.Address, 0, len(leaves))
	for a := range leaves {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	hs := make([][32]byte, len(addrs))
	for i, a := range addrs {
		hs[i] = leaves[a]
	}
	return types.Hash(utils.MerkleRoot(hs))
}

// accountsFromDiff 写集中的账户与供应量
func accountsFromDiff(diff []WriteOp) ([]*types.Account, map[string]*uint256.Int, error) {
	var accs []*types.Account
	supply := make(map[string]*uint256.Int)
	supplyPrefix := keys.KeySupplyPrefix()
	for i := range diff {
		op := &diff[i]
		if op.Del {
			continue
		}
		switch op.Category {
		case keys.CategoryState:
			acc := &types.Account{}
			if err := json.Unmarshal(op.Value, acc); err != nil {
				return nil, nil, err
			}
			accs = append(accs, acc)
		case keys.CategoryMeta:
			amt, err := uint256.FromDecimal(string(op.Value))
			if err != nil {
				return nil, nil, err
			}
			supply[op.Key[len(supplyPrefix):]] = amt
		}
	}
	return accs, supply, nil
}
