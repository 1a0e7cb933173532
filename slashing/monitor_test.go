package slashing

import (
	"fmt"
	"testing"

	"hotledger/types"
	"hotledger/utils"
	"hotledger/validator"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	saved     []*types.Evidence
	committed map[string]bool
}

func (s *fakeStore) SaveEvidence(ev *types.Evidence) error {
	s.saved = append(s.saved, ev)
	return nil
}

func (s *fakeStore) HasEvidence(ev *types.Evidence) bool {
	return s.committed[evidenceKey(ev)]
}

type countMetrics map[string]int

func (c countMetrics) EvidenceObserved(kind string) { c[kind]++ }

func setup(t *testing.T, n int) ([]*utils.KeyManager, *validator.Set) {
	t.Helper()
	kms := make([]*utils.KeyManager, n)
	vals := make([]*types.ValidatorInfo, n)
	for i := range kms {
		km, err := utils.GenerateKeyManager()
		require.NoError(t, err)
		kms[i] = km
		vals[i] = &types.ValidatorInfo{
			Address:    types.AddressFromPubKey(km.PublicKeyBytes()),
			PubKey:     km.PublicKeyBytes(),
			BLSPubKey:  km.BLSPublicKeyBytes(),
			Stake:      10,
			Reputation: decimal.NewFromInt(1),
		}
	}
	set, err := validator.NewSet(0, vals)
	require.NoError(t, err)
	return kms, set
}

func vote(t *testing.T, km *utils.KeyManager, view uint64, block string, phase types.Phase) *types.Vote {
	t.Helper()
	v, err := types.NewVote(view, types.ContentHash([]byte(block)), phase, km)
	require.NoError(t, err)
	return v
}

func newTestMonitor(t *testing.T, store *fakeStore, metrics countMetrics) *Monitor {
	t.Helper()
	m, err := NewMonitor(Config{Window: 64, MaxViewJump: 100}, store, metrics, nil)
	require.NoError(t, err)
	return m
}

func TestEquivocationDetected(t *testing.T) {
	kms, set := setup(t, 4)
	store := &fakeStore{committed: map[string]bool{}}
	metrics := countMetrics{}
	m := newTestMonitor(t, store, metrics)

	assert.Nil(t, m.ObserveVote(vote(t, kms[0], 5, "a", types.PhasePrepare)))
	assert.Nil(t, m.ObserveVote(vote(t, kms[0], 5, "a", types.PhasePrepare)), "same vote twice is not equivocation")
	assert.Nil(t, m.ObserveVote(vote(t, kms[0], 5, "b", types.PhasePreCommit)), "different phase")

	ev := m.ObserveVote(vote(t, kms[0], 5, "b", types.PhasePrepare))
	require.NotNil(t, ev)
	assert.Equal(t, types.EvidenceEquivocation, ev.Kind)
	require.NoError(t, VerifyEvidence(ev, set))

	// 第三张冲突票不会重复排队
	assert.Nil(t, m.ObserveVote(vote(t, kms[0], 5, "c", types.PhasePrepare)))
	assert.Equal(t, 1, m.PendingCount())
	assert.Equal(t, 1, metrics["equivocation"])
	assert.Equal(t, uint64(5), m.HighestView(types.AddressFromPubKey(kms[0].PublicKeyBytes())))

	// 伪造的证据：签名来自另一个验证者
	forged := *ev
	forged.VoteB = vote(t, kms[1], 5, "z", types.PhasePrepare)
	forged.VoteB.Voter = ev.Validator
	assert.ErrorIs(t, VerifyEvidence(&forged, set), types.ErrInvalidSignature)
}

func TestPendingAndMarkIncluded(t *testing.T) {
	kms, set := setup(t, 4)
	store := &fakeStore{committed: map[string]bool{}}
	m := newTestMonitor(t, store, countMetrics{})

	for i := 0; i < 3; i++ {
		m.ObserveVote(vote(t, kms[i], 9, "x", types.PhasePrepare))
		require.NotNil(t, m.ObserveVote(vote(t, kms[i], 9, "y", types.PhasePrepare)))
	}
	batch := m.Pending(2)
	require.Len(t, batch, 2)
	assert.Equal(t, 3, m.PendingCount())
	require.NoError(t, m.CheckBlockEvidence(batch, set))
	assert.ErrorIs(t, m.CheckBlockEvidence([]*types.Evidence{batch[0], batch[0]}, set), ErrDuplicateInBlock)

	m.MarkIncluded(batch)
	assert.Equal(t, 1, m.PendingCount())
	for _, ev := range batch {
		store.committed[evidenceKey(ev)] = true
	}
	assert.ErrorIs(t, m.CheckBlockEvidence(batch, set), ErrAlreadyCommitted)

	rest := m.Drain()
	assert.Len(t, rest, 1)
	assert.Zero(t, m.PendingCount())
}

func TestNewViewRegressionAndJump(t *testing.T) {
	kms, set := setup(t, 4)
	store := &fakeStore{committed: map[string]bool{}}
	metrics := countMetrics{}
	m := newTestMonitor(t, store, metrics)
	genesis := types.NewGenesisBlock(types.ZeroHash, 0)

	ok := &types.NewView{View: 4, HighQC: &types.QuorumCertificate{View: 3, BlockHash: genesis.Hash()}}
	require.NoError(t, ok.Sign(kms[0]))
	assert.Nil(t, m.ObserveNewView(ok, 3))
	assert.Equal(t, uint64(4), m.HighestView(ok.Sender))

	bad := &types.NewView{View: 4, HighQC: &types.QuorumCertificate{View: 8, BlockHash: genesis.Hash()}}
	require.NoError(t, bad.Sign(kms[1]))
	ev := m.ObserveNewView(bad, 3)
	require.NotNil(t, ev)
	assert.Equal(t, types.EvidenceViewRegression, ev.Kind)
	require.NoError(t, VerifyEvidence(ev, set))

	jump := &types.NewView{View: 500, HighQC: types.GenesisQC(genesis.Hash())}
	require.NoError(t, jump.Sign(kms[2]))
	local := m.ObserveNewView(jump, 3)
	require.NotNil(t, local)
	assert.Equal(t, types.EvidenceViewJump, local.Kind)
	assert.False(t, local.Provable())

	// 跳跃只存档不打包
	assert.Equal(t, 1, m.PendingCount())
	require.Len(t, store.saved, 1)
	assert.Equal(t, 1, metrics["view_jump"])
	assert.Equal(t, 1, metrics["view_regression"])
}

func TestVoteViewRegression(t *testing.T) {
	kms, _ := setup(t, 4)
	store := &fakeStore{committed: map[string]bool{}}
	metrics := countMetrics{}
	m := newTestMonitor(t, store, metrics)
	addr := types.AddressFromPubKey(kms[0].PublicKeyBytes())

	assert.Nil(t, m.ObserveVote(vote(t, kms[0], 10, "a", types.PhaseCommit)))
	assert.Nil(t, m.ObserveVote(vote(t, kms[0], 10, "a", types.PhasePrepare)), "same view, other phase")

	ev := m.ObserveVote(vote(t, kms[0], 5, "b", types.PhasePrepare))
	require.NotNil(t, ev)
	assert.Equal(t, types.EvidenceViewRegression, ev.Kind)
	assert.Equal(t, addr, ev.Validator)
	assert.Equal(t, uint64(5), ev.View)
	assert.Equal(t, uint64(10), ev.VoteA.View)

	// 无法证明签名顺序，只存档不打包
	assert.Zero(t, m.PendingCount())
	require.Len(t, store.saved, 1)
	assert.Equal(t, 1, metrics["view_regression"])
	assert.Nil(t, m.ObserveVote(vote(t, kms[0], 5, "b", types.PhasePrepare)), "reported once")
	assert.Equal(t, uint64(10), m.HighestView(addr))

	// 其他验证者按视图递增投票不受影响
	assert.Nil(t, m.ObserveVote(vote(t, kms[1], 5, "b", types.PhasePrepare)))
	assert.Nil(t, m.ObserveVote(vote(t, kms[1], 6, "c", types.PhasePrepare)))
}

func TestUnknownValidatorEvidence(t *testing.T) {
	kms, _ := setup(t, 1)
	_, other := setup(t, 2)
	a := vote(t, kms[0], 1, "a", types.PhasePrepare)
	b := vote(t, kms[0], 1, "b", types.PhasePrepare)
	ev := &types.Evidence{Kind: types.EvidenceEquivocation, Validator: a.Voter, View: 1, VoteA: a, VoteB: b}
	err := VerifyEvidence(ev, other)
	assert.ErrorIs(t, err, ErrUnknownValidator, fmt.Sprint(err))
}
