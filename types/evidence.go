package types

import "fmt"

// EvidenceKind 违规类型
type EvidenceKind uint8

const (
	EvidenceEquivocation EvidenceKind = iota + 1
	EvidenceViewRegression
	EvidenceViewJump
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceEquivocation:
		return "equivocation"
	case EvidenceViewRegression:
		return "view_regression"
	case EvidenceViewJump:
		return "view_jump"
	default:
		return fmt.Sprintf("evidence(%d)", uint8(k))
	}
}

// Evidence 可被任何节点独立验证的违规证据
//   - Equivocation: VoteA、VoteB 为同一 (view, phase) 下对不同区块的两张签名投票
//   - ViewRegression: NewView 声称的视图低于其携带 QC 的视图
//   - ViewJump: 只在本地记录，不打包进区块
type Evidence struct {
	Kind      EvidenceKind `json:"kind"`
	Validator Address      `json:"validator"`
	View      uint64       `json:"view"`
	VoteA     *Vote        `json:"voteA,omitempty"`
	VoteB     *Vote        `json:"voteB,omitempty"`
	NewView   *NewView     `json:"newView,omitempty"`
}

func (e *Evidence) Hash() Hash {
	enc := newEncoder(domainEvidence)
	enc.uint(2, uint64(e.Kind))
	enc.addr(3, e.Validator)
	enc.uint(4, e.View)
	if e.VoteA != nil && e.VoteB != nil {
		// 两张票按区块哈希排序，同一对投票得到同一证据哈希
		a, b := e.VoteA, e.VoteB
		if b.BlockHash.Hex() < a.BlockHash.Hex() {
			a, b = b, a
		}
		enc.bytes(5, a.SigningBytes())
		enc.bytes(6, a.Signature)
		enc.bytes(7, b.SigningBytes())
		enc.bytes(8, b.Signature)
	}
	if e.NewView != nil {
		enc.bytes(9, e.NewView.SigningBytes())
		enc.bytes(10, e.NewView.Signature)
	}
	return ContentHash(enc.done())
}

// Provable 可打包进区块并触发惩罚的证据
func (e *Evidence) Provable() bool {
	return e.Kind == EvidenceEquivocation || e.Kind == EvidenceViewRegression
}

// ValidateBasic 检查证据内部一致性（签名由 slashing 包用验证者公钥验证）
func (e *Evidence) ValidateBasic() error {
	switch e.Kind {
	case EvidenceEquivocation:
		if e.VoteA == nil || e.VoteB == nil {
			return fmt.Errorf("%w: equivocation needs two votes", ErrMalformedMessage)
		}
		if !e.VoteA.ConflictsWith(e.VoteB) {
			return fmt.Errorf("%w: votes do not conflict", ErrMalformedMessage)
		}
		if e.VoteA.Voter != e.Validator || e.VoteA.View != e.View {
			return fmt.Errorf("%w: evidence header mismatch", ErrMalformedMessage)
		}
	case EvidenceViewRegression:
		nv := e.NewView
		if nv == nil || nv.HighQC == nil {
			return fmt.Errorf("%w: regression needs a new-view", ErrMalformedMessage)
		}
		if nv.Sender != e.Validator || nv.View != e.View {
			return fmt.Errorf("%w: evidence header mismatch", ErrMalformedMessage)
		}
		if nv.HighQC.View < nv.View {
			return fmt.Errorf("%w: new-view does not regress", ErrMalformedMessage)
		}
	case EvidenceViewJump:
		return fmt.Errorf("%w: view jump evidence is local only", ErrMalformedMessage)
	default:
		return fmt.Errorf("%w: unknown evidence kind %d", ErrMalformedMessage, e.Kind)
	}
	return nil
}

func (e *Evidence) String() string {
	return fmt.Sprintf("evidence<%s %s v=%d>", e.Kind, e.Validator.Short(), e.View)
}
