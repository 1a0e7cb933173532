package types

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"hotledger/utils"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hash 32 字节内容哈希
type Hash [32]byte

var ZeroHash Hash

// ContentHash 对规范编码求哈希
func ContentHash(data []byte) Hash {
	return Hash(utils.Sha256Hash(data))
}

func (h Hash) Bytes() []byte { return h[:] }
func (h Hash) IsZero() bool  { return h == ZeroHash }
func (h Hash) Hex() string   { return hexutil.Encode(h[:]) }
func (h Hash) String() string {
	return h.Hex()
}

// Short 日志用的前 8 个 hex 字符
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("invalid hash %q: %w", text, err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return nil
}

// HashFromHex 解析 0x 前缀的哈希
func HashFromHex(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// AddressHRP bech32 地址前缀
const AddressHRP = "hot"

// Address Hash160(压缩公钥)
type Address [20]byte

var ZeroAddress Address

// AddressFromPubKey 由压缩公钥推导地址
func AddressFromPubKey(pub []byte) Address {
	return Address(utils.AddressFromPubKey(pub))
}

func (a Address) Bytes() []byte { return a[:] }
func (a Address) IsZero() bool  { return a == ZeroAddress }

// Compare 按字节序比较，验证者排序使用
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

func (a Address) String() string {
	s, err := bech32.EncodeFromBase256(AddressHRP, a[:])
	if err != nil {
		return hex.EncodeToString(a[:])
	}
	return s
}

// Short 日志用
func (a Address) Short() string {
	s := a.String()
	if len(s) > 12 {
		return s[len(s)-8:]
	}
	return s
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress 解析 bech32 地址
func ParseAddress(s string) (Address, error) {
	var a Address
	hrp, data, err := bech32.DecodeToBase256(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if hrp != AddressHRP {
		return a, fmt.Errorf("invalid address prefix %q", hrp)
	}
	if len(data) != len(a) {
		return a, fmt.Errorf("invalid address length %d", len(data))
	}
	copy(a[:], data)
	return a, nil
}
