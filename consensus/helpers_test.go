package consensus

import (
	"testing"

	"hotledger/types"
	"hotledger/utils"
	"hotledger/validator"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newKeys(t *testing.T, n int) []*utils.KeyManager {
	t.Helper()
	out := make([]*utils.KeyManager, n)
	for i := range out {
		km, err := utils.GenerateKeyManager()
		require.NoError(t, err)
		out[i] = km
	}
	return out
}

func addrOf(km *utils.KeyManager) types.Address {
	return types.AddressFromPubKey(km.PublicKeyBytes())
}

func newTestSet(t *testing.T, keys []*utils.KeyManager, stake uint64) *validator.Set {
	t.Helper()
	vals := make([]*types.ValidatorInfo, len(keys))
	for i, km := range keys {
		vals[i] = &types.ValidatorInfo{
			Address:    addrOf(km),
			PubKey:     km.PublicKeyBytes(),
			BLSPubKey:  km.BLSPublicKeyBytes(),
			Stake:      stake,
			Reputation: decimal.NewFromInt(1),
		}
	}
	set, err := validator.NewSet(1, vals)
	require.NoError(t, err)
	return set
}

// staticSource 只有一个 epoch 的验证者来源
type staticSource struct {
	set   *validator.Set
	sched validator.LeaderSchedule
}

func newStaticSource(t *testing.T, set *validator.Set) *staticSource {
	t.Helper()
	sched, err := validator.NewSchedule(validator.ScheduleRoundRobin, set)
	require.NoError(t, err)
	return &staticSource{set: set, sched: sched}
}

func (s *staticSource) Schedule() (*validator.Set, validator.LeaderSchedule) {
	return s.set, s.sched
}

func (s *staticSource) SetForEpoch(epoch uint64) (*validator.Set, error) {
	if epoch != s.set.Epoch() {
		return nil, validator.ErrUnknownEpoch
	}
	return s.set, nil
}

func signVote(t *testing.T, km *utils.KeyManager, view uint64, block types.Hash, phase types.Phase) *types.Vote {
	t.Helper()
	v, err := types.NewVote(view, block, phase, km)
	require.NoError(t, err)
	return v
}

type recordingReporter struct {
	pairs [][2]*types.Vote
}

func (r *recordingReporter) ReportEquivocation(a, b *types.Vote) *types.Evidence {
	r.pairs = append(r.pairs, [2]*types.Vote{a, b})
	return &types.Evidence{Kind: types.EvidenceEquivocation, Validator: a.Voter, View: a.View, VoteA: a, VoteB: b}
}

// chainBlock 不经执行直接构造区块，salt 用来区分同高度的分叉
func chainBlock(parent *types.Block, view uint64, salt int64) *types.Block {
	b := &types.Block{
		Height:    parent.Height + 1,
		Parent:    parent.Hash(),
		View:      view,
		Timestamp: parent.Timestamp + salt,
		JustifyQC: types.GenesisQC(parent.Hash()),
	}
	b.Seal()
	return b
}
