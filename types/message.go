package types

import (
	"encoding/json"
	"fmt"

	"hotledger/utils"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// 消息类型
type MessageType string

const (
	MsgProposal MessageType = "proposal"
	MsgVote     MessageType = "vote"
	MsgQC       MessageType = "qc"
	MsgNewView  MessageType = "newview"
)

// Message 共识消息的封闭变体：*Proposal | *Vote | *QCMessage | *NewView
type Message interface {
	Type() MessageType
	MsgView() uint64
	isMessage()
}

// Proposal 领导者提案
type Proposal struct {
	View      uint64             `json:"view"`
	Block     *Block             `json:"block"`
	JustifyQC *QuorumCertificate `json:"justifyQc"`
	Proposer  Address            `json:"proposer"`
	PubKey    hexutil.Bytes      `json:"pubKey"`
	Signature hexutil.Bytes      `json:"signature"`
}

// QCMessage 领导者广播的阶段 QC
type QCMessage struct {
	QC *QuorumCertificate `json:"qc"`
}

// NewView 超时或区块决议后发给下一任领导者
type NewView struct {
	View      uint64             `json:"view"`
	HighQC    *QuorumCertificate `json:"highQc"`
	Sender    Address            `json:"sender"`
	PubKey    hexutil.Bytes      `json:"pubKey"`
	Signature hexutil.Bytes      `json:"signature"`
}

func (*Proposal) Type() MessageType  { return MsgProposal }
func (*Vote) Type() MessageType      { return MsgVote }
func (*QCMessage) Type() MessageType { return MsgQC }
func (*NewView) Type() MessageType   { return MsgNewView }

func (p *Proposal) MsgView() uint64  { return p.View }
func (v *Vote) MsgView() uint64      { return v.View }
func (q *QCMessage) MsgView() uint64 { return q.QC.View }
func (n *NewView) MsgView() uint64   { return n.View }

func (*Proposal) isMessage()  {}
func (*Vote) isMessage()      {}
func (*QCMessage) isMessage() {}
func (*NewView) isMessage()   {}

// SigningBytes 提案签名覆盖 (view, block hash, justify qc hash, proposer)
func (p *Proposal) SigningBytes() []byte {
	e := newEncoder(domainProposal)
	e.uint(2, p.View)
	if p.Block != nil {
		e.hash(3, p.Block.Hash())
	}
	e.hash(4, p.JustifyQC.Hash())
	e.addr(5, p.Proposer)
	return e.done()
}

func (p *Proposal) Sign(signer Signer) error {
	p.PubKey = signer.PublicKeyBytes()
	p.Proposer = AddressFromPubKey(p.PubKey)
	digest := ContentHash(p.SigningBytes())
	sig, err := signer.Sign(digest[:])
	if err != nil {
		return err
	}
	p.Signature = sig
	return nil
}

func (p *Proposal) VerifySignature() error {
	return verifySigned(p.PubKey, p.Proposer, p.SigningBytes(), p.Signature)
}

// SigningBytes NewView 签名覆盖 (view, high qc hash, high qc view, sender)
func (n *NewView) SigningBytes() []byte {
	e := newEncoder(domainNewView)
	e.uint(2, n.View)
	e.hash(3, n.HighQC.Hash())
	if n.HighQC != nil {
		e.uint(4, n.HighQC.View)
	}
	e.addr(5, n.Sender)
	return e.done()
}

func (n *NewView) Sign(signer Signer) error {
	n.PubKey = signer.PublicKeyBytes()
	n.Sender = AddressFromPubKey(n.PubKey)
	digest := ContentHash(n.SigningBytes())
	sig, err := signer.Sign(digest[:])
	if err != nil {
		return err
	}
	n.Signature = sig
	return nil
}

func (n *NewView) VerifySignature() error {
	return verifySigned(n.PubKey, n.Sender, n.SigningBytes(), n.Signature)
}

func verifySigned(pub []byte, author Address, signing []byte, sig []byte) error {
	if len(pub) == 0 || len(sig) == 0 {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	if AddressFromPubKey(pub) != author {
		return fmt.Errorf("%w: pubkey does not match author", ErrInvalidSignature)
	}
	digest := ContentHash(signing)
	if err := utils.VerifyECDSA(pub, digest[:], sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Envelope 网络传输的 JSON 外层
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeMessage 序列化为 Envelope JSON
func EncodeMessage(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: m.Type(), Payload: payload})
}

// DecodeMessage 反序列化并做最基本的非空检查
func DecodeMessage(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	var m Message
	switch env.Type {
	case MsgProposal:
		p := &Proposal{}
		if err := json.Unmarshal(env.Payload, p); err != nil {
			return nil, fmt.Errorf("%w: proposal: %v", ErrMalformedMessage, err)
		}
		if p.Block == nil || p.JustifyQC == nil {
			return nil, fmt.Errorf("%w: proposal missing block or qc", ErrMalformedMessage)
		}
		m = p
	case MsgVote:
		v := &Vote{}
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return nil, fmt.Errorf("%w: vote: %v", ErrMalformedMessage, err)
		}
		m = v
	case MsgQC:
		q := &QCMessage{}
		if err := json.Unmarshal(env.Payload, q); err != nil {
			return nil, fmt.Errorf("%w: qc: %v", ErrMalformedMessage, err)
		}
		if q.QC == nil {
			return nil, fmt.Errorf("%w: empty qc message", ErrMalformedMessage)
		}
		m = q
	case MsgNewView:
		n := &NewView{}
		if err := json.Unmarshal(env.Payload, n); err != nil {
			return nil, fmt.Errorf("%w: newview: %v", ErrMalformedMessage, err)
		}
		if n.HighQC == nil {
			return nil, fmt.Errorf("%w: newview missing qc", ErrMalformedMessage)
		}
		m = n
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformedMessage, env.Type)
	}
	return m, nil
}

// MessageAuthor 消息签名者；QC 消息自证，没有单一作者
func MessageAuthor(m Message) (Address, bool) {
	switch msg := m.(type) {
	case *Proposal:
		return msg.Proposer, true
	case *Vote:
		return msg.Voter, true
	case *NewView:
		return msg.Sender, true
	case *QCMessage:
		return ZeroAddress, false
	}
	return ZeroAddress, false
}
