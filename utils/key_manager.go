package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrBadSignature      = errors.New("signature verification failed")
)

const blsKeyInfo = "hotledger-bls-key-v1"

// KeyManager 保存单个节点的签名密钥
// secp256k1 用于交易、提案和 NewView；BLS 用于投票与 QC 聚合
type KeyManager struct {
	priv    *btcec.PrivateKey
	pub     *btcec.PublicKey
	blsPriv kyber.Scalar
	blsPub  kyber.Point
	address [20]byte
}

// GenerateKeyManager 随机生成新密钥
func GenerateKeyManager() (*KeyManager, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return NewKeyManager(priv)
}

// NewKeyManagerFromHex 从 32 字节 hex 私钥构造
func NewKeyManagerFromHex(s string) (*KeyManager, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidPrivateKey
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return NewKeyManager(priv)
}

// NewKeyManager 由 secp256k1 私钥推导 BLS 密钥与地址
func NewKeyManager(priv *btcec.PrivateKey) (*KeyManager, error) {
	if priv == nil {
		return nil, ErrInvalidPrivateKey
	}
	blsPriv, err := deriveBLSKey(priv.Serialize())
	if err != nil {
		return nil, err
	}
	suite := bn256.NewSuite()
	km := &KeyManager{
		priv:    priv,
		pub:     priv.PubKey(),
		blsPriv: blsPriv,
		blsPub:  suite.G2().Point().Mul(blsPriv, nil),
	}
	km.address = AddressFromPubKey(km.pub.SerializeCompressed())
	return km, nil
}

// deriveBLSKey HKDF-SHA256 扩展出 64 字节后规约到标量域
func deriveBLSKey(secret []byte) (kyber.Scalar, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(blsKeyInfo))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("derive bls key: %w", err)
	}
	return bn256.NewSuite().G2().Scalar().SetBytes(buf), nil
}

func (km *KeyManager) PrivateKeyHex() string {
	return hex.EncodeToString(km.priv.Serialize())
}

// PublicKeyBytes 返回压缩公钥字节（33 字节）
func (km *KeyManager) PublicKeyBytes() []byte {
	return km.pub.SerializeCompressed()
}

// BLSPublicKeyBytes 返回 G2 公钥
func (km *KeyManager) BLSPublicKeyBytes() []byte {
	b, err := km.blsPub.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

func (km *KeyManager) Address() [20]byte {
	return km.address
}

// Sign 对 32 字节摘要做 ECDSA 签名，返回 DER 编码
func (km *KeyManager) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return ecdsa.Sign(km.priv, digest).Serialize(), nil
}

// BLSSign 对消息做 BLS 签名
func (km *KeyManager) BLSSign(msg []byte) ([]byte, error) {
	return BLSSign(km.blsPriv, msg)
}

// VerifyECDSA 验证 DER 签名
func VerifyECDSA(pubKey, digest, sig []byte) error {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !s.Verify(digest, pub) {
		return ErrBadSignature
	}
	return nil
}

// AddressFromPubKey Hash160(压缩公钥)
func AddressFromPubKey(pubKey []byte) [20]byte {
	var a [20]byte
	copy(a[:], btcutil.Hash160(pubKey))
	return a
}

// SaveKeyFile 以 hex 写出私钥
func (km *KeyManager) SaveKeyFile(path string) error {
	return os.WriteFile(path, []byte(km.PrivateKeyHex()+"\n"), 0o600)
}

// LoadKeyFile 读取 hex 私钥文件
func LoadKeyFile(path string) (*KeyManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return NewKeyManagerFromHex(string(data))
}
