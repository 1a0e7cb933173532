package vm

import (
	"fmt"

	"hotledger/types"

	"github.com/holiman/uint256"
)

// safe_math.go 提供带溢出检查的 uint256 运算，用于余额与供应量

// SafeAdd 安全加法：a + b，溢出时返回 ErrOverflow
func SafeAdd(a, b *uint256.Int) (*uint256.Int, error) {
	a, b = orZero(a), orZero(b)
	result, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, types.ErrOverflow
	}
	return result, nil
}

// SafeSub 安全减法：a - b，a < b 时返回 ErrInsufficientBalance
func SafeSub(a, b *uint256.Int) (*uint256.Int, error) {
	a, b = orZero(a), orZero(b)
	if a.Lt(b) {
		return nil, fmt.Errorf("%w: have %s, need %s", types.ErrInsufficientBalance, a.Dec(), b.Dec())
	}
	return new(uint256.Int).Sub(a, b), nil
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
