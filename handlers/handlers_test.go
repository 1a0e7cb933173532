package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hotledger/interfaces"
	"hotledger/logs"
	"hotledger/network"
	"hotledger/stats"
	"hotledger/txpool"
	"hotledger/types"
	"hotledger/utils"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	accounts  map[types.Address]*types.Account
	blocks    map[uint64]*types.Block
	receipts  map[types.Hash]*types.Receipt
	submitted []*types.Transaction
	submitErr error
}

func (l *fakeLedger) GetBalance(addr types.Address, denom string) (*uint256.Int, error) {
	return l.accounts[addr].Balance(denom), nil
}

func (l *fakeLedger) GetAccount(addr types.Address) (*types.Account, error) {
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", addr.Short(), types.ErrNotFound)
	}
	return acc, nil
}

func (l *fakeLedger) GetBlock(height uint64) (*types.Block, error) {
	b, ok := l.blocks[height]
	if !ok {
		return nil, types.ErrNotFound
	}
	return b, nil
}

func (l *fakeLedger) GetReceipt(id types.Hash) (*types.Receipt, error) {
	r, ok := l.receipts[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return r, nil
}

func (l *fakeLedger) TotalSupply(denom string) (*uint256.Int, error) {
	return uint256.NewInt(1000), nil
}

func (l *fakeLedger) SubmitTransaction(tx *types.Transaction) (types.Hash, error) {
	if l.submitErr != nil {
		return tx.ID(), l.submitErr
	}
	l.submitted = append(l.submitted, tx)
	return tx.ID(), nil
}

func (l *fakeLedger) Status() interfaces.NodeStatus {
	return interfaces.NodeStatus{Height: 1, View: 4, ChainID: "test"}
}

type fakeInbox struct{ got []types.Message }

func (f *fakeInbox) Deliver(m types.Message) error {
	f.got = append(f.got, m)
	return nil
}

type fakePeerTx struct{ from []string }

func (f *fakePeerTx) SubmitPeerTx(tx *types.Transaction, from string) error {
	f.from = append(f.from, from)
	return nil
}

type fakePeers struct{}

func (fakePeers) PeerInfos() []network.PeerInfo {
	return []network.PeerInfo{{URL: "https://peer", IsOnline: true}}
}

type env struct {
	ledger *fakeLedger
	inbox  *fakeInbox
	peerTx *fakePeerTx
	srv    *httptest.Server
	km     *utils.KeyManager
	addr   types.Address
}

func newEnv(t *testing.T) *env {
	t.Helper()
	km, err := utils.GenerateKeyManager()
	require.NoError(t, err)
	addr := types.AddressFromPubKey(km.PublicKeyBytes())
	acc := types.NewAccount(addr)
	acc.Balances["X"] = uint256.NewInt(42)

	genesis := types.NewGenesisBlock(types.ZeroHash, 0)
	e := &env{
		ledger: &fakeLedger{
			accounts: map[types.Address]*types.Account{addr: acc},
			blocks:   map[uint64]*types.Block{0: genesis, 1: genesis},
			receipts: map[types.Hash]*types.Receipt{},
		},
		inbox:  &fakeInbox{},
		peerTx: &fakePeerTx{},
		km:     km,
		addr:   addr,
	}
	logger := logs.NewNodeLogger("handlers-test", 16)
	logger.Info("hello from the node")
	hm := NewHandlerManager(e.ledger, e.inbox, e.peerTx, fakePeers{}, stats.NewStats("handlers-test"), "handlers-test", logger)
	e.srv = httptest.NewServer(hm.Router())
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *env) post(t *testing.T, path string, body []byte, header map[string]string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestQueryRoutes(t *testing.T) {
	e := newEnv(t)

	var bal balanceResponse
	assert.Equal(t, http.StatusOK, e.get(t, "/balance/"+e.addr.String()+"/X", &bal))
	assert.Equal(t, "42", bal.Balance)

	var acc types.Account
	assert.Equal(t, http.StatusOK, e.get(t, "/account/"+e.addr.String(), &acc))
	assert.Equal(t, e.addr, acc.Address)

	assert.Equal(t, http.StatusBadRequest, e.get(t, "/account/garbage", nil))
	other := types.Address{1}
	assert.Equal(t, http.StatusNotFound, e.get(t, "/account/"+other.String(), nil))

	var blk types.Block
	assert.Equal(t, http.StatusOK, e.get(t, "/block/latest", &blk))
	assert.Equal(t, http.StatusNotFound, e.get(t, "/block/9", nil))
	assert.Equal(t, http.StatusBadRequest, e.get(t, "/block/abc", nil))

	assert.Equal(t, http.StatusNotFound, e.get(t, "/receipt/"+types.ContentHash([]byte("x")).Hex(), nil))

	var sup supplyResponse
	assert.Equal(t, http.StatusOK, e.get(t, "/supply/X", &sup))
	assert.Equal(t, "1000", sup.Supply)

	var st interfaces.NodeStatus
	assert.Equal(t, http.StatusOK, e.get(t, "/status", &st))
	assert.Equal(t, uint64(4), st.View)

	var lr logsResponse
	assert.Equal(t, http.StatusOK, e.get(t, "/logs?max=1", &lr))
	require.Len(t, lr.Logs, 1)
	assert.Contains(t, lr.Logs[0], "hello from the node")

	var peers []network.PeerInfo
	assert.Equal(t, http.StatusOK, e.get(t, "/peers", &peers))
	assert.Len(t, peers, 1)
}

func TestSubmitTx(t *testing.T) {
	e := newEnv(t)
	tx := &types.Transaction{Kind: types.TxTransfer, From: e.addr, To: types.Address{2}, Denom: "X", Amount: uint256.NewInt(1), Fee: uint256.NewInt(1)}
	require.NoError(t, tx.Sign(e.km))
	body, err := json.Marshal(tx)
	require.NoError(t, err)

	code, resp := e.post(t, "/tx", body, nil)
	assert.Equal(t, http.StatusOK, code, resp)
	assert.Contains(t, resp, tx.ID().Hex())
	require.Len(t, e.ledger.submitted, 1)

	code, _ = e.post(t, "/tx", body, map[string]string{network.GossipHeader: "peer-a"})
	assert.Equal(t, http.StatusAccepted, code)
	require.Len(t, e.peerTx.from, 1)
	assert.True(t, strings.HasPrefix(e.peerTx.from[0], "peer-a@"))

	cases := map[error]int{
		types.ErrNonceMismatch:    http.StatusBadRequest,
		types.ErrInvalidSignature: http.StatusBadRequest,
		txpool.ErrPoolFull:        http.StatusTooManyRequests,
		txpool.ErrAlreadyIncluded: http.StatusConflict,
	}
	for err, want := range cases {
		e.ledger.submitErr = fmt.Errorf("submit: %w", err)
		code, _ = e.post(t, "/tx", body, nil)
		assert.Equal(t, want, code, err.Error())
	}

	code, _ = e.post(t, "/tx", []byte("{nope"), nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestConsensusInbox(t *testing.T) {
	e := newEnv(t)
	nv := &types.NewView{View: 2, HighQC: types.GenesisQC(types.ZeroHash)}
	require.NoError(t, nv.Sign(e.km))
	body, err := types.EncodeMessage(nv)
	require.NoError(t, err)

	code, _ := e.post(t, "/consensus", body, nil)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, e.inbox.got, 1)
	assert.Equal(t, types.MsgNewView, e.inbox.got[0].Type())

	code, _ = e.post(t, "/consensus", []byte(`{"type":"bogus","payload":{}}`), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(data), "HandleConsensus")
}
