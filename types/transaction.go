package types

import (
	"fmt"

	"hotledger/utils"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// TxKind 交易类型
type TxKind uint8

const (
	TxTransfer TxKind = iota
	TxMint
	TxBurn
)

func (k TxKind) String() string {
	switch k {
	case TxTransfer:
		return "transfer"
	case TxMint:
		return "mint"
	case TxBurn:
		return "burn"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Transaction 账户模型交易
// Expiry 为区块高度，高于该高度的区块不再接受此交易；0 表示不过期
type Transaction struct {
	Kind      TxKind        `json:"kind"`
	From      Address       `json:"from"`
	To        Address       `json:"to"`
	Denom     string        `json:"denom"`
	Amount    *uint256.Int  `json:"amount"`
	Fee       *uint256.Int  `json:"fee"`
	Nonce     uint64        `json:"nonce"`
	Expiry    uint64        `json:"expiry"`
	PubKey    hexutil.Bytes `json:"pubKey"`
	Signature hexutil.Bytes `json:"signature"`
}

// SigningBytes 签名覆盖除签名外的所有字段
func (tx *Transaction) SigningBytes() []byte {
	e := newEncoder(domainTx)
	e.uint(2, uint64(tx.Kind))
	e.addr(3, tx.From)
	e.addr(4, tx.To)
	e.str(5, tx.Denom)
	e.u256(6, tx.Amount)
	e.u256(7, tx.Fee)
	e.uint(8, tx.Nonce)
	e.uint(9, tx.Expiry)
	e.bytes(10, tx.PubKey)
	return e.done()
}

// ID 交易 ID 即签名内容的哈希
func (tx *Transaction) ID() Hash {
	return ContentHash(tx.SigningBytes())
}

// Sign 由持有 From 私钥的一方签名
func (tx *Transaction) Sign(signer Signer) error {
	tx.PubKey = signer.PublicKeyBytes()
	id := tx.ID()
	sig, err := signer.Sign(id[:])
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// VerifySignature 公钥必须推导出 From，签名覆盖 ID
func (tx *Transaction) VerifySignature() error {
	if len(tx.PubKey) == 0 || len(tx.Signature) == 0 {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	if AddressFromPubKey(tx.PubKey) != tx.From {
		return fmt.Errorf("%w: pubkey does not match sender", ErrInvalidSignature)
	}
	id := tx.ID()
	if err := utils.VerifyECDSA(tx.PubKey, id[:], tx.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// ValidateBasic 结构检查，不涉及状态
func (tx *Transaction) ValidateBasic(maxDenomLen int) error {
	if tx.Kind > TxBurn {
		return fmt.Errorf("%w: unknown tx kind %d", ErrMalformedMessage, tx.Kind)
	}
	if tx.Denom == "" || (maxDenomLen > 0 && len(tx.Denom) > maxDenomLen) {
		return fmt.Errorf("%w: invalid denom %q", ErrMalformedMessage, tx.Denom)
	}
	if tx.Amount == nil || tx.Fee == nil {
		return fmt.Errorf("%w: missing amount or fee", ErrMalformedMessage)
	}
	if tx.Amount.IsZero() {
		return fmt.Errorf("%w: zero amount", ErrMalformedMessage)
	}
	if tx.From.IsZero() {
		return fmt.Errorf("%w: missing sender", ErrMalformedMessage)
	}
	if tx.Kind != TxBurn && tx.To.IsZero() {
		return fmt.Errorf("%w: missing recipient", ErrMalformedMessage)
	}
	return nil
}

// Expired 判断在给定区块高度是否已过期
func (tx *Transaction) Expired(height uint64) bool {
	return tx.Expiry != 0 && height > tx.Expiry
}

// Signer 交易、提案、NewView 使用的签名器
type Signer interface {
	Sign(digest []byte) ([]byte, error)
	PublicKeyBytes() []byte
}
