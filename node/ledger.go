package node

import (
	"errors"
	"fmt"

	"hotledger/interfaces"
	"hotledger/types"

	"github.com/holiman/uint256"
)

var _ interfaces.Ledger = (*Node)(nil)

// GetBalance 已提交状态下的余额，未知账户为 0
func (n *Node) GetBalance(addr types.Address, denom string) (*uint256.Int, error) {
	acc, err := n.Exec.CommittedAccount(addr)
	if err != nil {
		if errors.Is(err, types.ErrUnknownAccount) {
			return new(uint256.Int), nil
		}
		return nil, err
	}
	return acc.Balance(denom), nil
}

func (n *Node) GetAccount(addr types.Address) (*types.Account, error) {
	acc, err := n.Exec.CommittedAccount(addr)
	if err != nil {
		if errors.Is(err, types.ErrUnknownAccount) {
			return nil, fmt.Errorf("%w: %w", types.ErrNotFound, err)
		}
		return nil, err
	}
	return acc, nil
}

func (n *Node) GetBlock(height uint64) (*types.Block, error) {
	return n.DB.GetBlockByHeight(height)
}

func (n *Node) GetReceipt(txID types.Hash) (*types.Receipt, error) {
	return n.DB.GetReceipt(txID)
}

func (n *Node) TotalSupply(denom string) (*uint256.Int, error) {
	return n.Exec.TotalSupply(denom)
}

// SubmitTransaction 同步校验入池，新交易转发给对端
func (n *Node) SubmitTransaction(tx *types.Transaction) (types.Hash, error) {
	if tx == nil {
		return types.ZeroHash, fmt.Errorf("%w: nil tx", types.ErrMalformedMessage)
	}
	known := n.TxPool.Has(tx.ID())
	id, err := n.TxPool.Add(tx)
	if err != nil {
		return id, err
	}
	if !known {
		n.gossip(tx)
	}
	return id, nil
}

// SubmitPeerTx 对端转发的交易走交易池异步队列，入池后继续转发
func (n *Node) SubmitPeerTx(tx *types.Transaction, from string) error {
	return n.TxPool.SubmitTx(tx, from, n.gossip)
}

func (n *Node) gossip(tx *types.Transaction) {
	if n.http != nil {
		n.http.GossipTx(tx)
	}
}

// Status 节点状态快照
func (n *Node) Status() interfaces.NodeStatus {
	es := n.Engine.Status()
	_, root := n.Exec.Head()
	return interfaces.NodeStatus{
		Address:       n.address.String(),
		ChainID:       n.genesis.ChainID,
		Height:        n.height(),
		View:          es.View,
		Epoch:         es.Epoch,
		Leader:        es.Leader.String(),
		LockedQCView:  es.LockedQCView,
		HighQCView:    es.HighQCView,
		StateRoot:     root.Hex(),
		PendingTxs:    n.TxPool.Len(),
		Validators:    n.Validators.Current().Len(),
		Counters:      n.Stats.Snapshot(),
		UptimeSeconds: int64(n.Stats.Uptime().Seconds()),
	}
}
