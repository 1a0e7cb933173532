package txpool

import (
	"fmt"

	"hotledger/types"
)

// OnTxAddedCallback 交易真正进入交易池之后调用（例如继续转发给对端）
type OnTxAddedCallback func(tx *types.Transaction)

// txPoolMessage 对端转发过来的交易
type txPoolMessage struct {
	Tx      *types.Transaction
	From    string
	OnAdded OnTxAddedCallback
}

// txPoolQueue 异步处理对端转发的交易，API 提交走同步的 Add
type txPoolQueue struct {
	pool    *TxPool
	MsgChan chan *txPoolMessage
}

func newTxPoolQueue(pool *TxPool, size int) *txPoolQueue {
	return &txPoolQueue{
		pool:    pool,
		MsgChan: make(chan *txPoolMessage, size),
	}
}

// SubmitTx 排队等待校验，队列满时直接拒绝
func (tp *TxPool) SubmitTx(tx *types.Transaction, from string, onAdded OnTxAddedCallback) error {
	if tx == nil {
		return fmt.Errorf("%w: nil tx", types.ErrMalformedMessage)
	}
	if tp.Has(tx.ID()) {
		return nil
	}
	select {
	case tp.Queue.MsgChan <- &txPoolMessage{Tx: tx, From: from, OnAdded: onAdded}:
		return nil
	case <-tp.stopChan:
		return ErrStopped
	default:
		return fmt.Errorf("txpool queue is full (%d/%d)", len(tp.Queue.MsgChan), cap(tp.Queue.MsgChan))
	}
}

func (tq *txPoolQueue) runLoop() {
	defer tq.pool.wg.Done()
	for {
		select {
		case <-tq.pool.stopChan:
			return
		case msg := <-tq.MsgChan:
			if msg == nil || msg.Tx == nil {
				continue
			}
			tq.handleAddTx(msg)
		}
	}
}

func (tq *txPoolQueue) handleAddTx(msg *txPoolMessage) {
	known := tq.pool.Has(msg.Tx.ID())
	id, err := tq.pool.Add(msg.Tx)
	if err != nil {
		tq.pool.Logger.Debug("[TxPoolQueue] tx=%s from %s rejected: %v", id.Short(), msg.From, err)
		return
	}
	if !known && msg.OnAdded != nil {
		msg.OnAdded(msg.Tx)
	}
}
