package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hotledger/config"
	"hotledger/consensus"
	"hotledger/types"
	"hotledger/utils"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.InMemory = true
	cfg.Node.DataDir = ""
	cfg.Consensus.BaseTimeout = 300 * time.Millisecond
	cfg.Consensus.MaxTimeout = 2 * time.Second
	return cfg
}

func newKeys(t *testing.T, n int) []*utils.KeyManager {
	t.Helper()
	keys := make([]*utils.KeyManager, n)
	for i := range keys {
		km, err := utils.GenerateKeyManager()
		require.NoError(t, err)
		keys[i] = km
	}
	return keys
}

func addrOf(km *utils.KeyManager) types.Address {
	return types.AddressFromPubKey(km.PublicKeyBytes())
}

func transfer(t *testing.T, from *utils.KeyManager, to types.Address, amount, nonce uint64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Kind:   types.TxTransfer,
		From:   addrOf(from),
		To:     to,
		Denom:  "X",
		Amount: uint256.NewInt(amount),
		Fee:    uint256.NewInt(1),
		Nonce:  nonce,
	}
	require.NoError(t, tx.Sign(from))
	return tx
}

func startSingle(t *testing.T, cfg *config.Config, km *utils.KeyManager, g *config.Genesis) *Node {
	t.Helper()
	nm := consensus.NewNetworkManager(consensus.NetworkConfig{NumNodes: 1, InboxSize: 256})
	t.Cleanup(nm.Close)
	n, err := New(Options{Config: cfg, Genesis: g, Key: km, Transport: nm.Join(addrOf(km))})
	require.NoError(t, err)
	n.Start()
	return n
}

func TestSingleValidatorLedger(t *testing.T) {
	keys := newKeys(t, 2)
	alice, bob := keys[0], addrOf(keys[1])
	g := LocalGenesis("test", keys[:1], 10, "X", 1000)

	n := startSingle(t, fastConfig(), alice, g)
	defer n.Stop()

	supply, err := n.TotalSupply("X")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), supply.Uint64())

	tx := transfer(t, alice, bob, 100, 0)
	id, err := n.SubmitTransaction(tx)
	require.NoError(t, err)
	assert.Equal(t, tx.ID(), id)

	require.Eventually(t, func() bool {
		r, err := n.GetReceipt(id)
		return err == nil && r.Succeeded()
	}, 20*time.Second, 50*time.Millisecond)

	bal, err := n.GetBalance(bob, "X")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal.Uint64())
	bal, err = n.GetBalance(addrOf(alice), "X")
	require.NoError(t, err)
	// 唯一验证者同时是提案者，手续费回到自己账上
	assert.Equal(t, uint64(900), bal.Uint64())

	supply, err = n.TotalSupply("X")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), supply.Uint64())

	// 已上链交易原样重放，以及同一 nonce 的另一笔交易
	require.Eventually(t, func() bool { return !n.TxPool.Has(id) }, 5*time.Second, 20*time.Millisecond)
	_, err = n.SubmitTransaction(tx)
	assert.ErrorIs(t, err, types.ErrNonceMismatch)
	_, err = n.SubmitTransaction(transfer(t, alice, bob, 5, 0))
	assert.ErrorIs(t, err, types.ErrNonceMismatch)

	acc, err := n.GetAccount(addrOf(alice))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Nonce)
	_, err = n.GetAccount(addrOf(newKeys(t, 1)[0]))
	assert.ErrorIs(t, err, types.ErrNotFound)

	r, err := n.GetReceipt(id)
	require.NoError(t, err)
	b, err := n.GetBlock(r.Height)
	require.NoError(t, err)
	assert.Contains(t, b.TxIDs(), id)

	st := n.Status()
	assert.Equal(t, "test", st.ChainID)
	assert.GreaterOrEqual(t, st.Height, r.Height)
	assert.Equal(t, 1, st.Validators)
	assert.Equal(t, n.Address().String(), st.Leader)
}

func TestNodeHTTPRoutes(t *testing.T) {
	keys := newKeys(t, 2)
	g := LocalGenesis("test", keys[:1], 10, "X", 1000)
	n := startSingle(t, fastConfig(), keys[0], g)
	defer n.Stop()
	require.True(t, n.WaitForHeight(1, 20*time.Second))

	queues := map[string]bool{}
	for _, q := range n.Stats.Queues() {
		queues[q.Module+"/"+q.Queue] = true
	}
	assert.True(t, queues["vm/commit"])
	assert.True(t, queues["txpool/inbound"])
	assert.True(t, queues["events/async"])
	assert.Contains(t, n.Stats.Snapshot(), "queue_capacity{module=vm,queue=commit}")

	srv := httptest.NewServer(NewServer(n, 0).handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "test", st["chainId"])

	resp2, err := http.Get(srv.URL + "/balance/" + addrOf(keys[0]).String() + "/X")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/block/latest")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestRestartKeepsCommittedState(t *testing.T) {
	keys := newKeys(t, 2)
	alice, bob := keys[0], addrOf(keys[1])
	g := LocalGenesis("test", keys[:1], 10, "X", 1000)

	cfg := fastConfig()
	cfg.Database.InMemory = false
	cfg.Node.DataDir = t.TempDir()

	n := startSingle(t, cfg, alice, g)
	_, err := n.SubmitTransaction(transfer(t, alice, bob, 7, 0))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		bal, err := n.GetBalance(bob, "X")
		return err == nil && bal.Uint64() == 7
	}, 20*time.Second, 50*time.Millisecond)
	height := n.height()
	n.Stop()

	again := startSingle(t, cfg, alice, g)
	defer again.Stop()
	assert.GreaterOrEqual(t, again.height(), height)
	bal, err := again.GetBalance(bob, "X")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), bal.Uint64())
	supply, err := again.TotalSupply("X")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), supply.Uint64())
}

func TestSimulateWithSilentValidator(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-node simulation")
	}
	sim := &consensus.SimConfig{
		Network: consensus.NetworkConfig{
			NumNodes:          4,
			NumByzantineNodes: 1,
			NetworkLatency:    5 * time.Millisecond,
			InboxSize:         1024,
		},
		TargetHeight: 3,
		Deadline:     60 * time.Second,
	}
	res, err := Simulate(context.Background(), sim, fastConfig())
	require.NoError(t, err)
	assert.True(t, res.Agreed)
	assert.GreaterOrEqual(t, res.Checked, uint64(3))
	assert.Len(t, res.Heights, 3)
}
