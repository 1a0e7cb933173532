package types

import (
	"github.com/holiman/uint256"
	"google.golang.org/protobuf/encoding/protowire"
)

// 规范编码：protobuf wire 格式，字段号固定、按字段号递增写出。
// 仅用于签名和哈希，不做反序列化；JSON 用于存储和网络传输。

// 域分隔标签，写在字段 1
const (
	domainTx       = "hotledger/tx"
	domainBlock    = "hotledger/block"
	domainVote     = "hotledger/vote"
	domainQC       = "hotledger/qc"
	domainProposal = "hotledger/proposal"
	domainNewView  = "hotledger/newview"
	domainAccount  = "hotledger/account"
	domainValSet   = "hotledger/valset"
	domainEvidence = "hotledger/evidence"
)

type canonicalEncoder struct {
	b []byte
}

func newEncoder(domain string) *canonicalEncoder {
	e := &canonicalEncoder{b: make([]byte, 0, 128)}
	e.str(1, domain)
	return e
}

func (e *canonicalEncoder) uint(num protowire.Number, v uint64) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *canonicalEncoder) int(num protowire.Number, v int64) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, protowire.EncodeZigZag(v))
}

func (e *canonicalEncoder) bytes(num protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *canonicalEncoder) str(num protowire.Number, s string) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, s)
}

func (e *canonicalEncoder) bool(num protowire.Number, v bool) {
	var x uint64
	if v {
		x = 1
	}
	e.uint(num, x)
}

// u256 固定 32 字节大端，nil 视为 0
func (e *canonicalEncoder) u256(num protowire.Number, v *uint256.Int) {
	var b [32]byte
	if v != nil {
		b = v.Bytes32()
	}
	e.bytes(num, b[:])
}

func (e *canonicalEncoder) hash(num protowire.Number, h Hash) {
	e.bytes(num, h[:])
}

func (e *canonicalEncoder) addr(num protowire.Number, a Address) {
	e.bytes(num, a[:])
}

func (e *canonicalEncoder) done() []byte {
	return e.b
}
