package db

import (
	"testing"
	"time"

	"hotledger/config"
	"hotledger/logs"
	"hotledger/types"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.BlockCacheSize = 2
	mgr, err := NewManager(t.TempDir(), logs.NewNodeLogger("db-test", 16), cfg)
	require.NoError(t, err)
	mgr.InitWriteQueue(10, 20*time.Millisecond)
	t.Cleanup(mgr.Close)
	return mgr
}

func testBlock(height uint64, parent types.Hash) *types.Block {
	b := &types.Block{
		Height:    height,
		Parent:    parent,
		View:      height,
		JustifyQC: types.GenesisQC(parent),
		StateRoot: types.ContentHash([]byte{byte(height)}),
	}
	b.Seal()
	return b
}

func TestCommitBlockAndRead(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.GetLatestHeight()
	assert.ErrorIs(t, err, types.ErrNotFound)

	alice := types.NewAccount(types.Address{1})
	alice.Nonce = 2
	alice.Balances["X"] = uint256.NewInt(40)
	bob := types.NewAccount(types.Address{2})
	bob.Balances["X"] = uint256.NewInt(60)

	genesis := types.NewGenesisBlock(types.ZeroHash, 0)
	blk := testBlock(1, genesis.Hash())
	receipt := &types.Receipt{TxID: types.ContentHash([]byte("tx")), Height: 1, Status: types.ReceiptSucceed}

	require.NoError(t, mgr.CommitBlock(&CommitBatch{
		Block:     blk,
		Receipts:  []*types.Receipt{receipt},
		Accounts:  []*types.Account{alice, bob},
		Supply:    map[string]*uint256.Int{"X": uint256.NewInt(100)},
		StateRoot: blk.StateRoot,
	}))

	h, err := mgr.GetLatestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h)

	got, err := mgr.GetBlockByHash(blk.Hash())
	require.NoError(t, err)
	assert.Equal(t, blk.Hash(), got.Hash())

	// 绕过缓存直接读 DB
	mgr.blockCache.Purge()
	got, err = mgr.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, blk.Hash(), got.Hash())

	acc, err := mgr.GetAccount(alice.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), acc.Nonce)
	assert.Equal(t, uint64(40), acc.Balance("X").Uint64())

	var scanned []types.Address
	require.NoError(t, mgr.ScanAccounts(func(a *types.Account) error {
		scanned = append(scanned, a.Address)
		return nil
	}))
	assert.Len(t, scanned, 2)

	supply, err := mgr.GetSupply("X")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), supply.Uint64())
	zero, err := mgr.GetSupply("Y")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	r, err := mgr.GetReceipt(receipt.TxID)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())

	root, err := mgr.GetStateRoot(1)
	require.NoError(t, err)
	assert.Equal(t, blk.StateRoot, root)

	_, err = mgr.GetBlockByHeight(9)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestWriteQueueFlush(t *testing.T) {
	mgr := newTestManager(t)
	for i := 0; i < 25; i++ {
		mgr.EnqueueSet("k"+string(rune('a'+i)), "v")
	}
	mgr.EnqueueDelete("ka")
	require.NoError(t, mgr.ForceFlush())

	kv, err := mgr.Scan("k")
	require.NoError(t, err)
	assert.Len(t, kv, 24)
	st := mgr.WriteQueueStats()
	assert.Equal(t, uint64(26), st.Enqueued)
	assert.Equal(t, uint64(26), st.Flushed)
}

func TestValidatorSetAndSafetyState(t *testing.T) {
	mgr := newTestManager(t)
	vals := []*types.ValidatorInfo{
		{Address: types.Address{1}, Stake: 10, Reputation: decimal.NewFromInt(1)},
		{Address: types.Address{2}, Stake: 20, Slashed: true, Reputation: decimal.RequireFromString("0.75")},
	}
	require.NoError(t, mgr.SaveValidatorSet(3, vals))
	epoch, err := mgr.GetLatestEpoch()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), epoch)

	back, err := mgr.LoadValidatorSet(3)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.True(t, back[1].Slashed)
	assert.True(t, back[1].Reputation.Equal(decimal.RequireFromString("0.75")))

	qc := types.GenesisQC(types.ContentHash([]byte("g")))
	require.NoError(t, mgr.SaveSafetyState(&types.ViewState{CurrentView: 7, LockedQC: qc, HighestQC: qc, Height: 4}))
	vs, err := mgr.LoadSafetyState()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), vs.CurrentView)
	assert.Equal(t, qc.Hash(), vs.LockedQC.Hash())
}

func TestEvidenceAndPendingTx(t *testing.T) {
	mgr := newTestManager(t)
	voter := types.Address{5}
	ev := &types.Evidence{
		Kind:      types.EvidenceEquivocation,
		Validator: voter,
		View:      9,
		VoteA:     &types.Vote{View: 9, BlockHash: types.Hash{1}, Phase: types.PhasePrepare, Voter: voter},
		VoteB:     &types.Vote{View: 9, BlockHash: types.Hash{2}, Phase: types.PhasePrepare, Voter: voter},
	}
	require.NoError(t, mgr.SaveEvidence(ev))

	tx := &types.Transaction{From: types.Address{1}, To: types.Address{2}, Denom: "X",
		Amount: uint256.NewInt(1), Fee: uint256.NewInt(0)}
	require.NoError(t, mgr.SavePendingTx(tx))
	require.NoError(t, mgr.ForceFlush())

	list, err := mgr.ListEvidence()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ev.Hash(), list[0].Hash())

	pending, err := mgr.LoadPendingTxs()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, tx.ID(), pending[0].ID())

	mgr.DeletePendingTx(tx.ID())
	require.NoError(t, mgr.ForceFlush())
	pending, err = mgr.LoadPendingTxs()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
