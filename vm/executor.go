package vm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"hotledger/config"
	"hotledger/db"
	"hotledger/keys"
	"hotledger/logs"
	"hotledger/types"

	"github.com/holiman/uint256"
)

var (
	ErrNilBlock       = errors.New("nil block")
	ErrNotInitialized = errors.New("executor has no committed genesis")
	ErrUnknownParent  = errors.New("unknown parent block")
)

// Executor 区块执行器：预执行候选区块、缓存结果、提交已决区块
type Executor struct {
	mu     sync.Mutex
	store  StateStore
	reg    *HandlerRegistry
	cache  SpecExecCache
	ledger config.LedgerConfig
	issuer types.Address
	Logger logs.Logger

	// 已提交状态
	head   *types.Block
	root   types.Hash
	leaves map[types.Address]types.Hash
}

// NewExecutor 创建执行器；store 中已有链数据时载入已提交状态
func NewExecutor(store StateStore, issuer types.Address, ledger config.LedgerConfig, logger logs.Logger) (*Executor, error) {
	if logger == nil {
		logger = logs.NewNodeLogger("vm", 0)
	}
	reg := NewHandlerRegistry()
	if err := RegisterDefaultHandlers(reg); err != nil {
		return nil, err
	}
	x := &Executor{
		store:  store,
		reg:    reg,
		cache:  NewSpecExecLRU(defaultSpecCacheSize),
		ledger: ledger,
		issuer: issuer,
		Logger: logger,
		leaves: make(map[types.Address]types.Hash),
	}
	if err := x.loadCommitted(); err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	return x, nil
}

func (x *Executor) loadCommitted() error {
	height, err := x.store.GetLatestHeight()
	if err != nil {
		return err
	}
	blk, err := x.store.GetBlockByHeight(height)
	if err != nil {
		return err
	}
	root, err := x.store.GetStateRoot(height)
	if err != nil {
		return err
	}
	leaves := make(map[types.Address]types.Hash)
	err = x.store.ScanAccounts(func(acc *types.Account) error {
		leaves[acc.Address] = acc.LeafHash()
		return nil
	})
	if err != nil {
		return err
	}
	if got := ComputeStateRoot(leaves); got != root {
		return fmt.Errorf("stored state root %s does not match accounts %s", root.Short(), got.Short())
	}
	x.head, x.root, x.leaves = blk, root, leaves
	x.Logger.Info("[VM] loaded committed state height=%d root=%s accounts=%d", height, root.Short(), len(leaves))
	return nil
}

// Head 已提交的最新区块与状态根
func (x *Executor) Head() (*types.Block, types.Hash) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.head, x.root
}

func (x *Executor) Issuer() types.Address { return x.issuer }

func (x *Executor) Registry() *HandlerRegistry { return x.reg }

// ApplyGenesis 写入创世余额与供应量，返回高度 0 的区块；已有链数据时直接返回当前创世块
func (x *Executor) ApplyGenesis(g *config.Genesis) (*types.Block, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.head != nil {
		return x.store.GetBlockByHeight(0)
	}

	sv := NewStateView(nil)
	ws := NewWorldState(sv, x.ledger.MaxDenomsPerAccount)
	for i, b := range g.Balances {
		addr, err := types.ParseAddress(b.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		amt, err := uint256.FromDecimal(b.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		if err := ws.Credit(addr, b.Denom, amt); err != nil {
			return nil, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		if err := ws.IncreaseSupply(b.Denom, amt); err != nil {
			return nil, err
		}
	}
	accs, supply, err := accountsFromDiff(sv.Diff())
	if err != nil {
		return nil, err
	}
	leaves := make(map[types.Address]types.Hash, len(accs))
	for _, a := range accs {
		leaves[a.Address] = a.LeafHash()
	}
	root := ComputeStateRoot(leaves)
	genesis := types.NewGenesisBlock(root, g.Timestamp)
	err = x.store.CommitBlock(&db.CommitBatch{
		Block:     genesis,
		Accounts:  accs,
		Supply:    supply,
		StateRoot: root,
	})
	if err != nil {
		return nil, err
	}
	x.head, x.root, x.leaves = genesis, root, leaves
	x.Logger.Info("[VM] genesis committed hash=%s root=%s accounts=%d", genesis.Hash().Short(), root.Short(), len(accs))
	return genesis, nil
}

// chainFor 从已提交区块到 parent 的预执行结果链，旧的在前
func (x *Executor) chainFor(parent types.Hash) ([]*SpecResult, error) {
	if x.head == nil {
		return nil, ErrNotInitialized
	}
	var chain []*SpecResult
	cur := parent
	for cur != x.head.Hash() {
		res, ok := x.cache.Get(cur)
		if !ok || res.Height <= x.head.Height {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, cur.Short())
		}
		chain = append(chain, res)
		cur = res.ParentHash
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// readThrough 先查祖先的预执行写集（新的优先），再查已提交存储
func (x *Executor) readThrough(chain []*SpecResult) ReadThroughFn {
	return func(key string) ([]byte, error) {
		for i := len(chain) - 1; i >= 0; i-- {
			if op, ok := chain[i].lookup(key); ok {
				if op.Del {
					return nil, nil
				}
				out := make([]byte, len(op.Value))
				copy(out, op.Value)
				return out, nil
			}
		}
		val, err := x.store.Get(key)
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil
		}
		return val, err
	}
}

func (x *Executor) parentHeight(chain []*SpecResult) uint64 {
	if len(chain) == 0 {
		return x.head.Height
	}
	return chain[len(chain)-1].Height
}

// PreExecute 在父块（可能尚未提交）的状态之上执行区块并缓存结果
func (x *Executor) PreExecute(b *types.Block) (*SpecResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.preExecute(b, false)
}

// Execute 执行区块，返回执行后的状态根和回执
func (x *Executor) Execute(b *types.Block) (types.Hash, []*types.Receipt, error) {
	res, err := x.PreExecute(b)
	if err != nil {
		return types.ZeroHash, nil, err
	}
	return res.StateRoot, res.Receipts, nil
}

// SealBlock 提案者使用：执行后把状态根写入区块，再按最终哈希缓存
func (x *Executor) SealBlock(b *types.Block) (*SpecResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.preExecute(b, true)
}

func (x *Executor) preExecute(b *types.Block, seal bool) (*SpecResult, error) {
	if b == nil {
		return nil, ErrNilBlock
	}
	if !seal {
		if cached, ok := x.cache.Get(b.Hash()); ok {
			return cached, nil
		}
	}
	chain, err := x.chainFor(b.Parent)
	if err != nil {
		return nil, err
	}
	if want := x.parentHeight(chain) + 1; b.Height != want {
		return nil, fmt.Errorf("%w: block height %d, expected %d", types.ErrMalformedMessage, b.Height, want)
	}

	sv := NewStateView(x.readThrough(chain))
	ws := NewWorldState(sv, x.ledger.MaxDenomsPerAccount)
	ctx := &ExecContext{
		Height:      b.Height,
		Proposer:    b.Proposer,
		Issuer:      x.issuer,
		MaxDenoms:   x.ledger.MaxDenomsPerAccount,
		MaxDenomLen: x.ledger.MaxDenomLength,
	}
	receipts := make([]*types.Receipt, 0, len(b.Txs))
	for i, tx := range b.Txs {
		receipts = append(receipts, x.applyTx(ws, tx, ctx, i))
	}

	diff := sv.Diff()
	res := &SpecResult{
		ParentHash: b.Parent,
		Height:     b.Height,
		Receipts:   receipts,
		Diff:       diff,
		leaves:     make(map[types.Address]types.Hash),
		index:      make(map[string]*WriteOp, len(diff)),
	}
	for i := range diff {
		op := &diff[i]
		res.index[op.Key] = op
		if op.Category != keys.CategoryState || op.Del {
			continue
		}
		acc := &types.Account{}
		if err := json.Unmarshal(op.Value, acc); err != nil {
			return nil, err
		}
		res.leaves[acc.Address] = acc.LeafHash()
	}

	merged := make(map[types.Address]types.Hash, len(x.leaves)+len(res.leaves))
	for a, h := range x.leaves {
		merged[a] = h
	}
	for _, anc := range chain {
		for a, h := range anc.leaves {
			merged[a] = h
		}
	}
	for a, h := range res.leaves {
		merged[a] = h
	}
	res.StateRoot = ComputeStateRoot(merged)
	if seal {
		b.StateRoot = res.StateRoot
	}
	res.BlockHash = b.Hash()
	x.cache.Put(res)
	return res, nil
}

// applyTx 单笔交易失败只回滚自身
func (x *Executor) applyTx(ws *WorldState, tx *types.Transaction, ctx *ExecContext, idx int) *types.Receipt {
	r := &types.Receipt{Height: ctx.Height, Index: idx, Status: types.ReceiptSucceed}
	if tx != nil {
		r.TxID = tx.ID()
	}
	snap := ws.View().Snapshot()
	if err := x.runTx(ws, tx, ctx); err != nil {
		if rerr := ws.View().Revert(snap); rerr != nil {
			x.Logger.Error("[VM] revert failed: %v", rerr)
		}
		r.Status = types.ReceiptFailed
		r.Error = err.Error()
		x.Logger.Debug("[VM] tx %s failed at height %d: %v", r.TxID.Short(), ctx.Height, err)
	}
	return r
}

func (x *Executor) runTx(ws *WorldState, tx *types.Transaction, ctx *ExecContext) error {
	if tx == nil {
		return fmt.Errorf("%w: nil tx", types.ErrMalformedMessage)
	}
	if err := tx.ValidateBasic(ctx.MaxDenomLen); err != nil {
		return err
	}
	if err := tx.VerifySignature(); err != nil {
		return err
	}
	if tx.Expired(ctx.Height) {
		return fmt.Errorf("%w: expiry %d < height %d", types.ErrExpired, tx.Expiry, ctx.Height)
	}
	h, ok := x.reg.Get(tx.Kind)
	if !ok {
		return fmt.Errorf("%w: no handler for %s", types.ErrMalformedMessage, tx.Kind)
	}
	return h.DryRun(tx, ws, ctx)
}

// Commit 提交已决区块：父块必须是当前已提交区块
func (x *Executor) Commit(b *types.Block) (*SpecResult, error) {
	if b == nil {
		return nil, ErrNilBlock
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.head == nil {
		return nil, ErrNotInitialized
	}
	hash := b.Hash()
	if b.Height <= x.head.Height {
		existing, err := x.store.GetBlockByHeight(b.Height)
		if err == nil && existing.Hash() == hash {
			return nil, nil
		}
		return nil, fmt.Errorf("block at height %d already committed with a different hash", b.Height)
	}
	if b.Parent != x.head.Hash() {
		return nil, fmt.Errorf("%w: %s does not extend committed head %s", ErrUnknownParent, hash.Short(), x.head.Hash().Short())
	}

	res, err := x.preExecute(b, false)
	if err != nil {
		return nil, fmt.Errorf("re-execute block failed: %w", err)
	}
	if res.StateRoot != b.StateRoot {
		return nil, fmt.Errorf("%w: state root %s, block claims %s", types.ErrMalformedMessage, res.StateRoot.Short(), b.StateRoot.Short())
	}
	accs, supply, err := accountsFromDiff(res.Diff)
	if err != nil {
		return nil, err
	}
	err = x.store.CommitBlock(&db.CommitBatch{
		Block:     b,
		Receipts:  res.Receipts,
		Accounts:  accs,
		Supply:    supply,
		StateRoot: res.StateRoot,
	})
	if err != nil {
		return nil, err
	}
	for a, h := range res.leaves {
		x.leaves[a] = h
	}
	x.head, x.root = b, res.StateRoot
	x.cache.EvictBelow(b.Height)
	x.Logger.Info("[VM] committed height=%d hash=%s txs=%d failed=%d root=%s",
		b.Height, hash.Short(), len(b.Txs), res.FailedCount(), res.StateRoot.Short())
	return res, nil
}

// AccountAt 在 parent 的（可能未提交的）状态下读取账户
func (x *Executor) AccountAt(parent types.Hash, addr types.Address) (*types.Account, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	chain, err := x.chainFor(parent)
	if err != nil {
		return nil, err
	}
	ws := NewWorldState(NewStateView(x.readThrough(chain)), x.ledger.MaxDenomsPerAccount)
	acc, _, err := ws.GetAccount(addr)
	return acc, err
}

// CommittedAccount 已提交状态中的账户，不存在返回 ErrUnknownAccount
func (x *Executor) CommittedAccount(addr types.Address) (*types.Account, error) {
	ws := NewWorldState(NewStateView(x.readThrough(nil)), x.ledger.MaxDenomsPerAccount)
	acc, ok, err := ws.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownAccount, addr)
	}
	return acc, nil
}

// TotalSupply 已提交状态中的币种总供应
func (x *Executor) TotalSupply(denom string) (*uint256.Int, error) {
	ws := NewWorldState(NewStateView(x.readThrough(nil)), x.ledger.MaxDenomsPerAccount)
	return ws.Supply(denom)
}

// ValidateTx 入池前的检查：结构、签名、过期、已提交 nonce
func (x *Executor) ValidateTx(tx *types.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil tx", types.ErrMalformedMessage)
	}
	if err := tx.ValidateBasic(x.ledger.MaxDenomLength); err != nil {
		return err
	}
	if err := tx.VerifySignature(); err != nil {
		return err
	}
	head, _ := x.Head()
	if head != nil && tx.Expired(head.Height+1) {
		return fmt.Errorf("%w: expiry %d", types.ErrExpired, tx.Expiry)
	}
	if _, ok := x.reg.Get(tx.Kind); !ok {
		return fmt.Errorf("%w: unsupported kind %s", types.ErrMalformedMessage, tx.Kind)
	}
	if tx.Kind == types.TxMint && tx.From != x.issuer {
		return fmt.Errorf("%w: %s is not the issuer", types.ErrUnauthorized, tx.From.Short())
	}
	acc, err := x.CommittedAccount(tx.From)
	if errors.Is(err, types.ErrUnknownAccount) {
		acc = types.NewAccount(tx.From)
	} else if err != nil {
		return err
	}
	if tx.Nonce < acc.Nonce {
		return fmt.Errorf("%w: stale nonce %d, account at %d", types.ErrNonceMismatch, tx.Nonce, acc.Nonce)
	}
	return nil
}

// CacheSize 预执行缓存中的区块数
func (x *Executor) CacheSize() int {
	return x.cache.Size()
}
