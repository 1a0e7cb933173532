package vm

import (
	"fmt"

	"hotledger/types"
)

// MintTxHandler 发行方增发，供应量同步增加
type MintTxHandler struct{}

func (h *MintTxHandler) Kind() types.TxKind {
	return types.TxMint
}

func (h *MintTxHandler) DryRun(tx *types.Transaction, ws *WorldState, ctx *ExecContext) error {
	if ctx.Issuer.IsZero() || tx.From != ctx.Issuer {
		return fmt.Errorf("%w: %s is not the issuer", types.ErrUnauthorized, tx.From.Short())
	}
	if _, err := checkNonce(ws, tx); err != nil {
		return err
	}
	if !tx.Fee.IsZero() {
		if err := ws.Debit(tx.From, tx.Denom, tx.Fee); err != nil {
			return err
		}
	}
	if err := ws.Credit(tx.To, tx.Denom, tx.Amount); err != nil {
		return err
	}
	if err := ws.IncreaseSupply(tx.Denom, tx.Amount); err != nil {
		return err
	}
	if err := payFee(ws, ctx, tx); err != nil {
		return err
	}
	return bumpNonce(ws, tx.From)
}

// BurnTxHandler 持有人销毁自己的余额
type BurnTxHandler struct{}

func (h *BurnTxHandler) Kind() types.TxKind {
	return types.TxBurn
}

func (h *BurnTxHandler) DryRun(tx *types.Transaction, ws *WorldState, ctx *ExecContext) error {
	if _, err := checkNonce(ws, tx); err != nil {
		return err
	}
	total, err := SafeAdd(tx.Amount, tx.Fee)
	if err != nil {
		return err
	}
	if err := ws.Debit(tx.From, tx.Denom, total); err != nil {
		return err
	}
	if err := ws.DecreaseSupply(tx.Denom, tx.Amount); err != nil {
		return err
	}
	if err := payFee(ws, ctx, tx); err != nil {
		return err
	}
	return bumpNonce(ws, tx.From)
}
