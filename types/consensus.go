package types

import (
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Phase HotStuff 阶段
type Phase uint8

const (
	PhasePrepare Phase = iota + 1
	PhasePreCommit
	PhaseCommit
	PhaseDecide
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhasePreCommit:
		return "precommit"
	case PhaseCommit:
		return "commit"
	case PhaseDecide:
		return "decide"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Next 收到本阶段 QC 之后应当投票的阶段
func (p Phase) Next() Phase {
	if p >= PhaseDecide {
		return PhaseDecide
	}
	return p + 1
}

// Votable 只有前三个阶段需要投票
func (p Phase) Votable() bool {
	return p >= PhasePrepare && p <= PhaseCommit
}

// VoteSigningBytes 投票签名覆盖 (view, block hash, phase)
func VoteSigningBytes(view uint64, block Hash, phase Phase) []byte {
	e := newEncoder(domainVote)
	e.uint(2, view)
	e.hash(3, block)
	e.uint(4, uint64(phase))
	return e.done()
}

// Vote 验证者对 (view, block, phase) 的 BLS 签名
type Vote struct {
	View      uint64        `json:"view"`
	BlockHash Hash          `json:"blockHash"`
	Phase     Phase         `json:"phase"`
	Voter     Address       `json:"voter"`
	Signature hexutil.Bytes `json:"signature"`
}

func (v *Vote) SigningBytes() []byte {
	return VoteSigningBytes(v.View, v.BlockHash, v.Phase)
}

// VoteSigner 持有 BLS 私钥的签名者
type VoteSigner interface {
	BLSSign(msg []byte) ([]byte, error)
	PublicKeyBytes() []byte
}

// NewVote 构造并签名一张投票，Voter 由 secp256k1 公钥推导
func NewVote(view uint64, block Hash, phase Phase, signer VoteSigner) (*Vote, error) {
	v := &Vote{
		View:      view,
		BlockHash: block,
		Phase:     phase,
		Voter:     AddressFromPubKey(signer.PublicKeyBytes()),
	}
	sig, err := signer.BLSSign(v.SigningBytes())
	if err != nil {
		return nil, err
	}
	v.Signature = sig
	return v, nil
}

// ConflictsWith 同一验证者同一 (view, phase) 下对不同区块投票
func (v *Vote) ConflictsWith(o *Vote) bool {
	return v.Voter == o.Voter && v.View == o.View && v.Phase == o.Phase && v.BlockHash != o.BlockHash
}

// QuorumCertificate 超过 2/3 权益的聚合投票
// Signers 为该 epoch 验证者集合中的下标
type QuorumCertificate struct {
	View      uint64
	BlockHash Hash
	Phase     Phase
	Epoch     uint64
	Stake     uint64
	Signers   *roaring.Bitmap
	AggSig    []byte
}

// GenesisQC 创世区块的占位 QC，不含签名
func GenesisQC(genesis Hash) *QuorumCertificate {
	return &QuorumCertificate{
		View:      0,
		BlockHash: genesis,
		Phase:     PhasePrepare,
		Signers:   roaring.New(),
	}
}

func (qc *QuorumCertificate) IsGenesis() bool {
	return qc != nil && qc.View == 0
}

// SigningBytes 聚合签名所覆盖的投票内容
func (qc *QuorumCertificate) SigningBytes() []byte {
	return VoteSigningBytes(qc.View, qc.BlockHash, qc.Phase)
}

// Hash QC 自身的内容哈希
func (qc *QuorumCertificate) Hash() Hash {
	if qc == nil {
		return ZeroHash
	}
	e := newEncoder(domainQC)
	e.uint(2, qc.View)
	e.hash(3, qc.BlockHash)
	e.uint(4, uint64(qc.Phase))
	e.uint(5, qc.Epoch)
	e.uint(6, qc.Stake)
	if qc.Signers != nil {
		it := qc.Signers.Iterator()
		for it.HasNext() {
			e.uint(7, uint64(it.Next()))
		}
	}
	e.bytes(8, qc.AggSig)
	return ContentHash(e.done())
}

// HigherThan 比较视图号
func (qc *QuorumCertificate) HigherThan(o *QuorumCertificate) bool {
	if o == nil {
		return qc != nil
	}
	return qc != nil && qc.View > o.View
}

func (qc *QuorumCertificate) String() string {
	if qc == nil {
		return "qc<nil>"
	}
	n := uint64(0)
	if qc.Signers != nil {
		n = qc.Signers.GetCardinality()
	}
	return fmt.Sprintf("qc<%s v=%d blk=%s signers=%d stake=%d>", qc.Phase, qc.View, qc.BlockHash.Short(), n, qc.Stake)
}

type qcJSON struct {
	View      uint64        `json:"view"`
	BlockHash Hash          `json:"blockHash"`
	Phase     Phase         `json:"phase"`
	Epoch     uint64        `json:"epoch"`
	Stake     uint64        `json:"stake"`
	Signers   hexutil.Bytes `json:"signers"`
	AggSig    hexutil.Bytes `json:"aggSig"`
}

func (qc *QuorumCertificate) MarshalJSON() ([]byte, error) {
	j := qcJSON{
		View:      qc.View,
		BlockHash: qc.BlockHash,
		Phase:     qc.Phase,
		Epoch:     qc.Epoch,
		Stake:     qc.Stake,
		AggSig:    qc.AggSig,
	}
	if qc.Signers != nil {
		b, err := qc.Signers.ToBytes()
		if err != nil {
			return nil, err
		}
		j.Signers = b
	}
	return json.Marshal(j)
}

func (qc *QuorumCertificate) UnmarshalJSON(data []byte) error {
	var j qcJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	bm := roaring.New()
	if len(j.Signers) > 0 {
		if err := bm.UnmarshalBinary(j.Signers); err != nil {
			return fmt.Errorf("%w: signer bitmap: %v", ErrMalformedMessage, err)
		}
	}
	*qc = QuorumCertificate{
		View:      j.View,
		BlockHash: j.BlockHash,
		Phase:     j.Phase,
		Epoch:     j.Epoch,
		Stake:     j.Stake,
		Signers:   bm,
		AggSig:    j.AggSig,
	}
	return nil
}

// ViewState 节点本地的视图状态
type ViewState struct {
	CurrentView uint64             `json:"currentView"`
	HighestQC   *QuorumCertificate `json:"highestQc"`
	LockedQC    *QuorumCertificate `json:"lockedQc"`
	Height      uint64             `json:"height"`
}
