package vm

import (
	"fmt"

	"hotledger/types"
)

// TransferTxHandler 转账交易处理器
type TransferTxHandler struct{}

func (h *TransferTxHandler) Kind() types.TxKind {
	return types.TxTransfer
}

// DryRun 扣发送方 amount+fee，收款方入账 amount，手续费给提案者，nonce++
func (h *TransferTxHandler) DryRun(tx *types.Transaction, ws *WorldState, ctx *ExecContext) error {
	sender, err := checkNonce(ws, tx)
	if err != nil {
		return err
	}
	total, err := SafeAdd(tx.Amount, tx.Fee)
	if err != nil {
		return err
	}
	if bal := sender.Balance(tx.Denom); bal.Lt(total) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", types.ErrInsufficientBalance,
			tx.From.Short(), bal.Dec(), tx.Denom, total.Dec())
	}
	if err := ws.Debit(tx.From, tx.Denom, total); err != nil {
		return err
	}
	if err := ws.Credit(tx.To, tx.Denom, tx.Amount); err != nil {
		return err
	}
	if err := payFee(ws, ctx, tx); err != nil {
		return err
	}
	return bumpNonce(ws, tx.From)
}
