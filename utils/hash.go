package utils

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/dchest/siphash"
	"github.com/spaolacci/murmur3"
)

// Sha256Hash 内容哈希，所有验证者必须使用同一算法
func Sha256Hash(data []byte) [32]byte {
	return [32]byte(chainhash.HashH(data))
}

// MurmurHash 非密码学哈希，只用于本地索引
func MurmurHash(data []byte) uint64 {
	return murmur3.Sum64(data)
}

// MurmurHashPair hashes two values into one 64-bit index key.
func MurmurHashPair(a []byte, b uint64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], b)
	h := murmur3.New64()
	h.Write(a)
	h.Write(buf[:])
	return h.Sum64()
}

// ShortID 带密钥的短 ID（SipHash-2-4），避免外部构造碰撞
func ShortID(k0, k1 uint64, data []byte) uint64 {
	return siphash.Hash(k0, k1, data)
}

// ShortHex 日志中使用的短哈希
func ShortHex(data []byte) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], MurmurHash(data))
	return hex.EncodeToString(buf[:4])
}
