package vm

import (
	"errors"
	"strings"
	"testing"
	"time"

	"hotledger/config"
	"hotledger/db"
	"hotledger/logs"
	"hotledger/types"
	"hotledger/utils"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	t       *testing.T
	exec    *Executor
	mgr     *db.Manager
	genesis *types.Block
	alice   *utils.KeyManager
	bob     *utils.KeyManager
	carol   *utils.KeyManager
}

func addrOf(km *utils.KeyManager) types.Address {
	return types.Address(km.Address())
}

func newKey(t *testing.T) *utils.KeyManager {
	km, err := utils.GenerateKeyManager()
	require.NoError(t, err)
	return km
}

func newTestEnv(t *testing.T, maxDenoms int) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.InMemory = true
	cfg.Ledger.MaxDenomsPerAccount = maxDenoms
	mgr, err := db.NewManager("", logs.NewNodeLogger("vm-db", 0), cfg)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	env := &testEnv{t: t, mgr: mgr, alice: newKey(t), bob: newKey(t), carol: newKey(t)}
	env.exec, err = NewExecutor(mgr, addrOf(env.alice), cfg.Ledger, logs.NewNodeLogger("vm-test", 0))
	require.NoError(t, err)

	g := config.DefaultGenesis()
	g.Balances = []config.GenesisBalance{
		{Address: addrOf(env.alice).String(), Denom: "X", Amount: "100"},
	}
	env.genesis, err = env.exec.ApplyGenesis(g)
	require.NoError(t, err)
	return env
}

func (e *testEnv) tx(km *utils.KeyManager, kind types.TxKind, to types.Address, denom string, amount, fee, nonce uint64) *types.Transaction {
	tx := &types.Transaction{
		Kind:   kind,
		From:   addrOf(km),
		To:     to,
		Denom:  denom,
		Amount: uint256.NewInt(amount),
		Fee:    uint256.NewInt(fee),
		Nonce:  nonce,
	}
	require.NoError(e.t, tx.Sign(km))
	return tx
}

func (e *testEnv) transfer(km *utils.KeyManager, to *utils.KeyManager, amount, fee, nonce uint64) *types.Transaction {
	return e.tx(km, types.TxTransfer, addrOf(to), "X", amount, fee, nonce)
}

// block 在 parent 之上构造并密封区块（状态根由预执行得出）
func (e *testEnv) block(parent *types.Block, proposer types.Address, txs ...*types.Transaction) *types.Block {
	b := &types.Block{
		Height:    parent.Height + 1,
		Parent:    parent.Hash(),
		View:      parent.Height + 1,
		Proposer:  proposer,
		JustifyQC: types.GenesisQC(parent.Hash()),
		Txs:       txs,
	}
	b.Seal()
	_, err := e.exec.SealBlock(b)
	require.NoError(e.t, err)
	return b
}

func (e *testEnv) balance(km *utils.KeyManager, denom string) uint64 {
	acc, err := e.exec.CommittedAccount(addrOf(km))
	if errors.Is(err, types.ErrUnknownAccount) {
		return 0
	}
	require.NoError(e.t, err)
	return acc.Balance(denom).Uint64()
}

func (e *testEnv) supplyConserved(denom string) {
	total := new(uint256.Int)
	require.NoError(e.t, e.mgr.ScanAccounts(func(acc *types.Account) error {
		total.Add(total, acc.Balance(denom))
		return nil
	}))
	supply, err := e.exec.TotalSupply(denom)
	require.NoError(e.t, err)
	assert.Equal(e.t, supply.Dec(), total.Dec(), "sum of balances must equal supply")
}

func TestAliceBobCarolScenario(t *testing.T) {
	env := newTestEnv(t, 16)
	carol := addrOf(env.carol)

	b1 := env.block(env.genesis, carol,
		env.transfer(env.alice, env.bob, 30, 1, 0),
	)
	res, err := env.exec.Commit(b1)
	require.NoError(t, err)
	require.Len(t, res.Receipts, 1)
	assert.True(t, res.Receipts[0].Succeeded())

	b2 := env.block(b1, carol,
		env.transfer(env.bob, env.carol, 10, 1, 0),
	)
	_, err = env.exec.Commit(b2)
	require.NoError(t, err)

	assert.Equal(t, uint64(69), env.balance(env.alice, "X"))
	assert.Equal(t, uint64(19), env.balance(env.bob, "X"))
	assert.Equal(t, uint64(12), env.balance(env.carol, "X"))
	env.supplyConserved("X")

	acc, err := env.exec.CommittedAccount(addrOf(env.alice))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Nonce)

	head, root := env.exec.Head()
	assert.Equal(t, b2.Hash(), head.Hash())
	assert.Equal(t, b2.StateRoot, root)

	r, err := env.mgr.GetReceipt(b2.Txs[0].ID())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Height)
}

func TestReplayRejected(t *testing.T) {
	env := newTestEnv(t, 16)
	tx := env.transfer(env.alice, env.bob, 5, 0, 0)

	b1 := env.block(env.genesis, addrOf(env.carol), tx)
	_, err := env.exec.Commit(b1)
	require.NoError(t, err)

	assert.ErrorIs(t, env.exec.ValidateTx(tx), types.ErrNonceMismatch)

	b2 := env.block(b1, addrOf(env.carol), tx)
	res, err := env.exec.Commit(b2)
	require.NoError(t, err)
	require.Len(t, res.Receipts, 1)
	assert.False(t, res.Receipts[0].Succeeded())
	assert.Contains(t, res.Receipts[0].Error, types.ErrNonceMismatch.Error())
	assert.Equal(t, uint64(5), env.balance(env.bob, "X"))
}

func TestFailedTxDoesNotUndoEarlierTxs(t *testing.T) {
	env := newTestEnv(t, 16)
	good := env.transfer(env.alice, env.bob, 10, 0, 0)
	tooMuch := env.transfer(env.bob, env.carol, 50, 0, 0)
	good2 := env.transfer(env.alice, env.carol, 5, 0, 1)

	b1 := env.block(env.genesis, addrOf(env.carol), good, tooMuch, good2)
	res, err := env.exec.Commit(b1)
	require.NoError(t, err)

	assert.True(t, res.Receipts[0].Succeeded())
	assert.False(t, res.Receipts[1].Succeeded())
	assert.Contains(t, res.Receipts[1].Error, types.ErrInsufficientBalance.Error())
	assert.True(t, res.Receipts[2].Succeeded())
	assert.Equal(t, 1, res.FailedCount())

	assert.Equal(t, uint64(85), env.balance(env.alice, "X"))
	assert.Equal(t, uint64(10), env.balance(env.bob, "X"))
	assert.Equal(t, uint64(5), env.balance(env.carol, "X"))
	env.supplyConserved("X")
}

func TestExpiredTx(t *testing.T) {
	env := newTestEnv(t, 16)
	b1 := env.block(env.genesis, addrOf(env.carol))
	_, err := env.exec.Commit(b1)
	require.NoError(t, err)

	tx := &types.Transaction{
		From: addrOf(env.alice), To: addrOf(env.bob), Denom: "X",
		Amount: uint256.NewInt(1), Fee: uint256.NewInt(0), Expiry: 1,
	}
	require.NoError(t, tx.Sign(env.alice))
	assert.ErrorIs(t, env.exec.ValidateTx(tx), types.ErrExpired)

	b2 := env.block(b1, addrOf(env.carol), tx)
	res, err := env.exec.Commit(b2)
	require.NoError(t, err)
	assert.False(t, res.Receipts[0].Succeeded())
	assert.True(t, strings.Contains(res.Receipts[0].Error, types.ErrExpired.Error()))
}

func TestMintBurnAndConservation(t *testing.T) {
	env := newTestEnv(t, 16)
	carol := addrOf(env.carol)

	mint := env.tx(env.alice, types.TxMint, addrOf(env.bob), "Y", 500, 0, 0)
	notIssuer := env.tx(env.bob, types.TxMint, addrOf(env.bob), "Y", 500, 0, 0)
	burn := env.tx(env.alice, types.TxBurn, types.ZeroAddress, "X", 40, 2, 1)

	b1 := env.block(env.genesis, carol, mint, notIssuer, burn)
	res, err := env.exec.Commit(b1)
	require.NoError(t, err)
	assert.True(t, res.Receipts[0].Succeeded())
	assert.Contains(t, res.Receipts[1].Error, types.ErrUnauthorized.Error())
	assert.True(t, res.Receipts[2].Succeeded())

	assert.Equal(t, uint64(500), env.balance(env.bob, "Y"))
	assert.Equal(t, uint64(58), env.balance(env.alice, "X"))
	assert.Equal(t, uint64(2), env.balance(env.carol, "X"))

	sx, err := env.exec.TotalSupply("X")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), sx.Uint64(), "100 minted at genesis minus 40 burned")
	env.supplyConserved("X")
	env.supplyConserved("Y")

	assert.ErrorIs(t, env.exec.ValidateTx(env.tx(env.bob, types.TxMint, addrOf(env.bob), "Y", 1, 0, 0)), types.ErrUnauthorized)
}

func TestTooManyDenominations(t *testing.T) {
	env := newTestEnv(t, 2)
	bob := addrOf(env.bob)
	b1 := env.block(env.genesis, addrOf(env.alice),
		env.tx(env.alice, types.TxMint, bob, "Y", 1, 0, 0),
		env.tx(env.alice, types.TxMint, bob, "Z", 1, 0, 1),
		env.tx(env.alice, types.TxMint, bob, "W", 1, 0, 2),
	)
	res, err := env.exec.Commit(b1)
	require.NoError(t, err)
	assert.True(t, res.Receipts[0].Succeeded())
	assert.True(t, res.Receipts[1].Succeeded())
	assert.Contains(t, res.Receipts[2].Error, types.ErrTooManyDenominations.Error())

	acc, err := env.exec.CommittedAccount(bob)
	require.NoError(t, err)
	assert.Equal(t, 2, acc.DenomCount())
	sw, err := env.exec.TotalSupply("W")
	require.NoError(t, err)
	assert.True(t, sw.IsZero())
}

func TestSpeculativeChainMatchesCommit(t *testing.T) {
	env := newTestEnv(t, 16)
	carol := addrOf(env.carol)

	b1 := env.block(env.genesis, carol, env.transfer(env.alice, env.bob, 20, 1, 0))
	// b2 在未提交的 b1 之上预执行
	b2 := env.block(b1, carol, env.transfer(env.bob, env.carol, 5, 1, 0))
	assert.Equal(t, 2, env.exec.CacheSize())

	acc, err := env.exec.AccountAt(b1.Hash(), addrOf(env.bob))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), acc.Balance("X").Uint64())

	// 另一个节点只看到区块，重新执行得到相同的状态根
	other := newTestEnvLike(t, env)
	root, _, err := other.exec.Execute(b1)
	require.NoError(t, err)
	assert.Equal(t, b1.StateRoot, root)

	_, err = env.exec.Commit(b2)
	assert.ErrorIs(t, err, ErrUnknownParent, "b2 cannot commit before b1")

	_, err = env.exec.Commit(b1)
	require.NoError(t, err)
	_, err = env.exec.Commit(b2)
	require.NoError(t, err)
	assert.Equal(t, 0, env.exec.CacheSize())

	tampered := *b2
	tampered.Height = 3
	tampered.Parent = b2.Hash()
	tampered.StateRoot = types.ContentHash([]byte("bogus"))
	_, err = env.exec.Commit(&tampered)
	assert.ErrorIs(t, err, types.ErrMalformedMessage)
}

// newTestEnvLike 用相同的密钥与创世状态构造另一个独立执行器
func newTestEnvLike(t *testing.T, src *testEnv) *testEnv {
	cfg := config.DefaultConfig()
	cfg.Database.InMemory = true
	mgr, err := db.NewManager("", logs.NewNodeLogger("vm-db2", 0), cfg)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	exec, err := NewExecutor(mgr, addrOf(src.alice), cfg.Ledger, logs.NewNodeLogger("vm-test2", 0))
	require.NoError(t, err)
	g := config.DefaultGenesis()
	g.Balances = []config.GenesisBalance{{Address: addrOf(src.alice).String(), Denom: "X", Amount: "100"}}
	genesis, err := exec.ApplyGenesis(g)
	require.NoError(t, err)
	require.Equal(t, src.genesis.Hash(), genesis.Hash())
	return &testEnv{t: t, exec: exec, mgr: mgr, genesis: genesis, alice: src.alice, bob: src.bob, carol: src.carol}
}

func TestReloadCommittedState(t *testing.T) {
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	alice := newKey(t)

	mgr, err := db.NewManager(dir, nil, cfg)
	require.NoError(t, err)
	exec, err := NewExecutor(mgr, addrOf(alice), cfg.Ledger, nil)
	require.NoError(t, err)
	g := config.DefaultGenesis()
	g.Balances = []config.GenesisBalance{{Address: addrOf(alice).String(), Denom: "X", Amount: "7"}}
	genesis, err := exec.ApplyGenesis(g)
	require.NoError(t, err)
	mgr.Close()

	mgr, err = db.NewManager(dir, nil, cfg)
	require.NoError(t, err)
	defer mgr.Close()
	exec, err = NewExecutor(mgr, addrOf(alice), cfg.Ledger, nil)
	require.NoError(t, err)
	head, root := exec.Head()
	require.NotNil(t, head)
	assert.Equal(t, genesis.Hash(), head.Hash())
	assert.Equal(t, genesis.StateRoot, root)
}

func TestCommitQueueOrder(t *testing.T) {
	env := newTestEnv(t, 16)
	carol := addrOf(env.carol)
	b1 := env.block(env.genesis, carol, env.transfer(env.alice, env.bob, 1, 0, 0))
	b2 := env.block(b1, carol, env.transfer(env.alice, env.bob, 1, 0, 1))

	q := NewCommitQueue(env.exec, 4, nil)
	done := make(chan uint64, 2)
	q.OnCommit(func(b *types.Block, res *SpecResult) { done <- b.Height })
	q.Start()
	defer q.Stop()

	require.True(t, q.Submit(b1, b2))
	for _, want := range []uint64{1, 2} {
		select {
		case h := <-done:
			assert.Equal(t, want, h)
		case <-time.After(5 * time.Second):
			t.Fatal("commit queue stalled")
		}
	}
	assert.Equal(t, uint64(2), env.balance(env.bob, "X"))
}
