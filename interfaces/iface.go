package interfaces

import (
	"hotledger/types"

	"github.com/holiman/uint256"
)

type Event interface {
	Type() types.EventType
	Data() interface{}
}

type EventBus interface {
	// Subscribe 返回取消订阅函数
	Subscribe(topic types.EventType, handler EventHandler) func()
	Publish(event Event)
	PublishAsync(event Event)
}

type EventHandler func(Event)

// ============================================
// 网络传输层接口
// ============================================

//go:generate mockgen -destination=mock_transport.go -package=interfaces hotledger/interfaces Transport

type Transport interface {
	Send(to types.Address, msg types.Message) error
	Receive() <-chan types.Message
	Broadcast(msg types.Message, peers []types.Address)
	Peers() []types.Address
}

// NodeSigner 节点签名器接口（每个节点持有一个 KeyManager 实例）
type NodeSigner interface {
	// Sign 对 32 字节 digest 进行 ECDSA 签名，返回 DER 编码
	Sign(digest []byte) ([]byte, error)
	// PublicKeyBytes 返回压缩公钥字节（33 字节）
	PublicKeyBytes() []byte
	// BLSSign 投票使用的 BLS 签名
	BLSSign(msg []byte) ([]byte, error)
	BLSPublicKeyBytes() []byte
}

// ============================================
// 账本对外接口 (handlers 通过它访问节点，避免循环依赖)
// ============================================

// NodeStatus 节点状态快照
type NodeStatus struct {
	Address       string            `json:"address"`
	ChainID       string            `json:"chainId"`
	Height        uint64            `json:"height"`
	View          uint64            `json:"view"`
	Epoch         uint64            `json:"epoch"`
	Leader        string            `json:"leader"`
	LockedQCView  uint64            `json:"lockedQcView"`
	HighQCView    uint64            `json:"highQcView"`
	StateRoot     string            `json:"stateRoot"`
	PendingTxs    int               `json:"pendingTxs"`
	Validators    int               `json:"validators"`
	Counters      map[string]uint64 `json:"counters"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
}

type Ledger interface {
	GetBalance(addr types.Address, denom string) (*uint256.Int, error)
	GetAccount(addr types.Address) (*types.Account, error)
	GetBlock(height uint64) (*types.Block, error)
	GetReceipt(txID types.Hash) (*types.Receipt, error)
	TotalSupply(denom string) (*uint256.Int, error)
	SubmitTransaction(tx *types.Transaction) (types.Hash, error)
	Status() NodeStatus
}

// ConsensusInbox 入站共识消息的接收端
type ConsensusInbox interface {
	Deliver(msg types.Message) error
}
