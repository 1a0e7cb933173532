package vm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"hotledger/types"
)

// HandlerRegistry Handler注册表
type HandlerRegistry struct {
	mu sync.RWMutex
	m  map[types.TxKind]TxHandler
}

// NewHandlerRegistry 创建新的注册表
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{m: make(map[types.TxKind]TxHandler)}
}

// 注册Handler
func (r *HandlerRegistry) Register(h TxHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil {
		return errors.New("nil handler")
	}
	kind := h.Kind()
	if _, ok := r.m[kind]; ok {
		return fmt.Errorf("duplicate handler kind: %s", kind)
	}
	r.m[kind] = h
	return nil
}

// Get 获取Handler
func (r *HandlerRegistry) Get(kind types.TxKind) (TxHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.m[kind]
	return h, ok
}

// List 列出所有已注册的Handler类型
func (r *HandlerRegistry) List() []types.TxKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]types.TxKind, 0, len(r.m))
	for k := range r.m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ========== 各 Handler 共用的步骤 ==========

// checkNonce 严格相等，防止重放
func checkNonce(ws *WorldState, tx *types.Transaction) (*types.Account, error) {
	sender, _, err := ws.GetAccount(tx.From)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != sender.Nonce {
		return nil, fmt.Errorf("%w: account %s expects %d, got %d", types.ErrNonceMismatch, tx.From.Short(), sender.Nonce, tx.Nonce)
	}
	return sender, nil
}

// bumpNonce nonce++
func bumpNonce(ws *WorldState, addr types.Address) error {
	acc, _, err := ws.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Nonce == ^uint64(0) {
		return fmt.Errorf("%w: nonce", types.ErrOverflow)
	}
	acc.Nonce++
	return ws.PutAccount(acc)
}

// payFee 手续费以同币种记给提案者；没有提案者时销毁
func payFee(ws *WorldState, ctx *ExecContext, tx *types.Transaction) error {
	if tx.Fee == nil || tx.Fee.IsZero() {
		return nil
	}
	if ctx.Proposer.IsZero() {
		return ws.DecreaseSupply(tx.Denom, tx.Fee)
	}
	return ws.Credit(ctx.Proposer, tx.Denom, tx.Fee)
}
