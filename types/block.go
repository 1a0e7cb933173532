package types

import (
	"fmt"

	"hotledger/utils"
)

// Block 区块。StateRoot 为执行本块之后的账户状态根
type Block struct {
	Height       uint64             `json:"height"`
	Parent       Hash               `json:"parent"`
	View         uint64             `json:"view"`
	Proposer     Address            `json:"proposer"`
	Timestamp    int64              `json:"timestamp"`
	TxRoot       Hash               `json:"txRoot"`
	EvidenceRoot Hash               `json:"evidenceRoot"`
	StateRoot    Hash               `json:"stateRoot"`
	JustifyQC    *QuorumCertificate `json:"justifyQc"`
	Txs          []*Transaction     `json:"txs"`
	Evidence     []*Evidence        `json:"evidence,omitempty"`
}

// NewGenesisBlock 高度 0，无父块无 QC
func NewGenesisBlock(stateRoot Hash, timestamp int64) *Block {
	b := &Block{
		Height:    0,
		Timestamp: timestamp,
		StateRoot: stateRoot,
	}
	b.Seal()
	return b
}

// HeaderBytes 区块头规范编码，交易和证据通过各自的默克尔根承诺
func (b *Block) HeaderBytes() []byte {
	e := newEncoder(domainBlock)
	e.uint(2, b.Height)
	e.hash(3, b.Parent)
	e.uint(4, b.View)
	e.addr(5, b.Proposer)
	e.int(6, b.Timestamp)
	e.hash(7, b.TxRoot)
	e.hash(8, b.EvidenceRoot)
	e.hash(9, b.StateRoot)
	e.hash(10, b.JustifyQC.Hash())
	return e.done()
}

func (b *Block) Hash() Hash {
	return ContentHash(b.HeaderBytes())
}

func (b *Block) TxIDs() []Hash {
	ids := make([]Hash, len(b.Txs))
	for i, tx := range b.Txs {
		ids[i] = tx.ID()
	}
	return ids
}

// ComputeTxRoot 交易 ID 的默克尔根
func ComputeTxRoot(txs []*Transaction) Hash {
	leaves := make([][32]byte, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.ID()
	}
	return Hash(utils.MerkleRoot(leaves))
}

// ComputeEvidenceRoot 证据哈希的默克尔根
func ComputeEvidenceRoot(ev []*Evidence) Hash {
	leaves := make([][32]byte, len(ev))
	for i, e := range ev {
		leaves[i] = e.Hash()
	}
	return Hash(utils.MerkleRoot(leaves))
}

// Seal 填充 TxRoot 和 EvidenceRoot
func (b *Block) Seal() {
	b.TxRoot = ComputeTxRoot(b.Txs)
	b.EvidenceRoot = ComputeEvidenceRoot(b.Evidence)
}

// ValidateBasic 与状态无关的结构检查
func (b *Block) ValidateBasic(maxTxs int) error {
	if b.Height == 0 {
		return fmt.Errorf("%w: genesis block cannot be proposed", ErrMalformedMessage)
	}
	if b.JustifyQC == nil {
		return fmt.Errorf("%w: missing justify qc", ErrMalformedMessage)
	}
	if b.JustifyQC.BlockHash != b.Parent {
		return fmt.Errorf("%w: justify qc does not certify parent", ErrMalformedMessage)
	}
	if maxTxs > 0 && len(b.Txs) > maxTxs {
		return fmt.Errorf("%w: %d txs exceeds limit %d", ErrMalformedMessage, len(b.Txs), maxTxs)
	}
	if ComputeTxRoot(b.Txs) != b.TxRoot {
		return fmt.Errorf("%w: tx root mismatch", ErrMalformedMessage)
	}
	if ComputeEvidenceRoot(b.Evidence) != b.EvidenceRoot {
		return fmt.Errorf("%w: evidence root mismatch", ErrMalformedMessage)
	}
	seen := make(map[Hash]struct{}, len(b.Txs))
	for _, tx := range b.Txs {
		if tx == nil {
			return fmt.Errorf("%w: nil tx", ErrMalformedMessage)
		}
		id := tx.ID()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate tx %s", ErrMalformedMessage, id.Short())
		}
		seen[id] = struct{}{}
	}
	for _, ev := range b.Evidence {
		if ev == nil {
			return fmt.Errorf("%w: nil evidence", ErrMalformedMessage)
		}
	}
	return nil
}

func (b *Block) String() string {
	return fmt.Sprintf("block<h=%d v=%d %s txs=%d>", b.Height, b.View, b.Hash().Short(), len(b.Txs))
}
