package consensus

import (
	"testing"
	"time"

	"hotledger/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewTrackerMonotonic(t *testing.T) {
	vt := NewViewTracker(0, 100)
	require.NoError(t, vt.Advance(1))
	require.NoError(t, vt.Advance(2))
	require.NoError(t, vt.Advance(3))

	assert.ErrorIs(t, vt.Advance(1), types.ErrStaleView)
	assert.ErrorIs(t, vt.Advance(3), types.ErrStaleView)
	assert.ErrorIs(t, vt.Advance(200), types.ErrSuspiciousViewJump)
	assert.ErrorIs(t, vt.Advance(5), ErrNonSequentialView)
	require.NoError(t, vt.Advance(4))
	assert.Equal(t, uint64(4), vt.Current())
}

func TestViewTrackerClassify(t *testing.T) {
	vt := NewViewTracker(10, 5)

	dir, err := vt.Classify(9)
	assert.Equal(t, -1, dir)
	assert.ErrorIs(t, err, types.ErrStaleView)

	dir, err = vt.Classify(10)
	assert.Equal(t, 0, dir)
	assert.NoError(t, err)

	dir, err = vt.Classify(15)
	assert.Equal(t, 1, dir)
	assert.NoError(t, err)

	_, err = vt.Classify(16)
	assert.ErrorIs(t, err, types.ErrSuspiciousViewJump)

	steps, err := vt.FastForward(14)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), steps)
	assert.Equal(t, uint64(14), vt.Current())

	_, err = vt.FastForward(100)
	assert.ErrorIs(t, err, types.ErrSuspiciousViewJump)
	assert.Equal(t, uint64(14), vt.Current())
}

func TestPacemakerBackoff(t *testing.T) {
	pm := NewPacemaker(3*time.Second, 1.5, 30*time.Second)
	defer pm.Stop()

	assert.Equal(t, 3*time.Second, pm.Start(1))
	pm.OnTimeout()
	assert.Equal(t, 4500*time.Millisecond, pm.Start(2))
	pm.OnTimeout()
	assert.Equal(t, 6750*time.Millisecond, pm.Start(3))

	for i := 0; i < 20; i++ {
		pm.OnTimeout()
	}
	assert.Equal(t, 30*time.Second, pm.Start(4))
	assert.Equal(t, 30*time.Second, pm.Duration(1000))

	pm.OnProgress()
	assert.Equal(t, 0, pm.Failures())
	assert.Equal(t, 3*time.Second, pm.Start(5))
	assert.Equal(t, uint64(5), pm.View())
}

func TestPacemakerFires(t *testing.T) {
	pm := NewPacemaker(20*time.Millisecond, 2, time.Second)
	defer pm.Stop()
	pm.Start(7)
	select {
	case <-pm.C():
	case <-time.After(2 * time.Second):
		t.Fatal("pacemaker did not fire")
	}

	// 重新计时后旧的超时不会再触发
	pm.Start(8)
	pm.Stop()
	select {
	case <-pm.C():
		t.Fatal("stopped pacemaker fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSafetyRules(t *testing.T) {
	genesis := types.NewGenesisBlock(types.ZeroHash, 0)
	b1 := chainBlock(genesis, 1, 1)
	b2 := chainBlock(b1, 2, 1)
	fork := chainBlock(genesis, 3, 2)

	tree := NewBlockTree(genesis, nil)
	for _, b := range []*types.Block{b1, b2, fork} {
		_, err := tree.Add(b)
		require.NoError(t, err)
	}

	sr := NewSafetyRules(types.GenesisQC(genesis.Hash()), nil)
	lock := &types.QuorumCertificate{View: 2, BlockHash: b1.Hash(), Phase: types.PhasePreCommit}
	assert.True(t, sr.UpdateLock(lock))
	assert.Equal(t, uint64(2), sr.High().View, "lock raises high qc")
	assert.False(t, sr.UpdateLock(&types.QuorumCertificate{View: 1, Phase: types.PhasePreCommit}))

	// 扩展锁定区块：安全
	require.NoError(t, sr.SafeToExtend(b2, tree.Extends))

	// 分叉且 justify 视图低于锁：不安全
	forkChild := chainBlock(fork, 4, 1)
	forkChild.JustifyQC = &types.QuorumCertificate{View: 1, BlockHash: fork.Hash(), Phase: types.PhasePrepare}
	assert.ErrorIs(t, sr.SafeToExtend(forkChild, tree.Extends), types.ErrUnsafeExtension)

	// 活性规则：justify 视图不低于锁即可
	forkChild.JustifyQC.View = 2
	require.NoError(t, sr.SafeToExtend(forkChild, tree.Extends))

	assert.True(t, sr.CanVote(5, types.PhasePrepare))
	sr.RecordVote(5, types.PhasePrepare)
	assert.False(t, sr.CanVote(5, types.PhasePrepare))
	assert.False(t, sr.CanVote(4, types.PhasePrepare))
	assert.True(t, sr.CanVote(5, types.PhasePreCommit))
	assert.False(t, sr.CanVote(6, types.PhaseDecide))
}
