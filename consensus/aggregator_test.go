package consensus

import (
	"testing"

	"hotledger/types"
	"hotledger/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorFormsQCAtTwoThirds(t *testing.T) {
	keys := newKeys(t, 4)
	set := newTestSet(t, keys, 10)
	src := newStaticSource(t, set)
	sigs := NewSigCache(0)
	agg := NewVoteAggregator(func() *validator.Set { return set }, nil, sigs)

	block := types.ContentHash([]byte("block"))
	for i := 0; i < 2; i++ {
		qc, err := agg.AddVote(signVote(t, keys[i], 3, block, types.PhasePrepare))
		require.NoError(t, err)
		assert.Nil(t, qc, "20 of 40 is not a quorum")
	}
	qc, err := agg.AddVote(signVote(t, keys[2], 3, block, types.PhasePrepare))
	require.NoError(t, err)
	require.NotNil(t, qc)
	assert.Equal(t, uint64(30), qc.Stake)
	assert.Equal(t, uint64(3), qc.Signers.GetCardinality())
	assert.Equal(t, block, qc.BlockHash)
	assert.Equal(t, set.Epoch(), qc.Epoch)
	require.NoError(t, VerifyQC(qc, src, types.ZeroHash))

	// QC 之后的投票被接受但不再产生 QC
	late, err := agg.AddVote(signVote(t, keys[3], 3, block, types.PhasePrepare))
	require.NoError(t, err)
	assert.Nil(t, late)

	tampered := *qc
	tampered.Stake = 40
	assert.ErrorIs(t, VerifyQC(&tampered, src, types.ZeroHash), types.ErrMalformedMessage)
	tampered = *qc
	tampered.BlockHash = types.ContentHash([]byte("other"))
	assert.ErrorIs(t, VerifyQC(&tampered, src, types.ZeroHash), types.ErrInvalidSignature)
	tampered = *qc
	tampered.Epoch = 9
	assert.Error(t, VerifyQC(&tampered, src, types.ZeroHash))
}

func TestAggregatorExactTwoThirdsIsNotQuorum(t *testing.T) {
	keys := newKeys(t, 3)
	set := newTestSet(t, keys, 10)
	agg := NewVoteAggregator(func() *validator.Set { return set }, nil, NewSigCache(0))

	// 20 == 2*30/3，必须严格大于三分之二
	assert.False(t, set.HasQuorum(20))
	assert.True(t, set.HasQuorum(21))

	block := types.ContentHash([]byte("block"))
	for i := 0; i < 2; i++ {
		qc, err := agg.AddVote(signVote(t, keys[i], 4, block, types.PhaseCommit))
		require.NoError(t, err)
		assert.Nil(t, qc, "stake exactly two thirds")
	}
	qc, err := agg.AddVote(signVote(t, keys[2], 4, block, types.PhaseCommit))
	require.NoError(t, err)
	require.NotNil(t, qc)
	assert.Equal(t, uint64(30), qc.Stake)
}

func TestAggregatorRejectsBadVotes(t *testing.T) {
	keys := newKeys(t, 4)
	set := newTestSet(t, keys, 10)
	reporter := &recordingReporter{}
	agg := NewVoteAggregator(func() *validator.Set { return set }, reporter, NewSigCache(0))

	a := types.ContentHash([]byte("a"))
	b := types.ContentHash([]byte("b"))

	_, err := agg.AddVote(signVote(t, keys[0], 1, a, types.PhasePrepare))
	require.NoError(t, err)

	_, err = agg.AddVote(signVote(t, keys[0], 1, a, types.PhasePrepare))
	assert.ErrorIs(t, err, types.ErrDuplicateVote)

	_, err = agg.AddVote(signVote(t, keys[0], 1, b, types.PhasePrepare))
	assert.ErrorIs(t, err, types.ErrEquivocation)
	require.Len(t, reporter.pairs, 1)
	assert.Equal(t, a, reporter.pairs[0][0].BlockHash)
	assert.Equal(t, b, reporter.pairs[0][1].BlockHash)

	forged := signVote(t, keys[2], 1, a, types.PhasePrepare)
	forged.Voter = addrOf(keys[1])
	_, err = agg.AddVote(forged)
	assert.ErrorIs(t, err, types.ErrInvalidSignature)

	outsider := newKeys(t, 1)[0]
	_, err = agg.AddVote(signVote(t, outsider, 1, a, types.PhasePrepare))
	assert.ErrorIs(t, err, ErrNotValidator)

	_, err = agg.AddVote(signVote(t, keys[1], 1, a, types.PhaseDecide))
	assert.ErrorIs(t, err, types.ErrMalformedMessage)
}

func TestAggregatorBeginAndReset(t *testing.T) {
	keys := newKeys(t, 4)
	set := newTestSet(t, keys, 10)
	agg := NewVoteAggregator(func() *validator.Set { return set }, nil, NewSigCache(0))

	want := types.ContentHash([]byte("want"))
	other := types.ContentHash([]byte("other"))
	agg.Begin(5, types.PhasePrepare, want)

	_, err := agg.AddVote(signVote(t, keys[0], 5, other, types.PhasePrepare))
	assert.ErrorIs(t, err, types.ErrMalformedMessage)

	for i := 1; i < 3; i++ {
		_, err := agg.AddVote(signVote(t, keys[i], 5, want, types.PhasePrepare))
		require.NoError(t, err)
	}
	qc, err := agg.AddVote(signVote(t, keys[3], 5, want, types.PhasePrepare))
	require.NoError(t, err)
	require.NotNil(t, qc, "the vote for the wrong block does not count")
	idx, ok := set.IndexOf(addrOf(keys[0]))
	require.True(t, ok)
	assert.False(t, qc.Signers.Contains(uint32(idx)))

	agg.Begin(6, types.PhasePrepare, want)
	assert.Equal(t, 2, agg.Size())
	agg.Reset(6)
	assert.Equal(t, 1, agg.Size())
}

func TestVerifyGenesisQC(t *testing.T) {
	keys := newKeys(t, 1)
	src := newStaticSource(t, newTestSet(t, keys, 10))
	genesis := types.ContentHash([]byte("genesis"))

	require.NoError(t, VerifyQC(types.GenesisQC(genesis), src, genesis))
	assert.ErrorIs(t, VerifyQC(types.GenesisQC(types.ZeroHash), src, genesis), types.ErrMalformedMessage)

	bogus := types.GenesisQC(genesis)
	bogus.Signers.Add(0)
	assert.ErrorIs(t, VerifyQC(bogus, src, genesis), types.ErrMalformedMessage)
}
