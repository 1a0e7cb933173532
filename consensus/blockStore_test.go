package consensus

import (
	"testing"

	"hotledger/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTreeForksAndCommit(t *testing.T) {
	genesis := types.NewGenesisBlock(types.ZeroHash, 0)
	tree := NewBlockTree(genesis, nil)

	a1 := chainBlock(genesis, 1, 1)
	a2 := chainBlock(a1, 2, 1)
	b1 := chainBlock(genesis, 3, 2)
	b2 := chainBlock(b1, 4, 1)
	for _, b := range []*types.Block{a1, a2, b1, b2} {
		added, err := tree.Add(b)
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := tree.Add(a1)
	require.NoError(t, err)
	assert.False(t, added, "second add is a no-op")
	assert.Equal(t, 5, tree.Size())

	assert.True(t, tree.Extends(a2.Hash(), a1.Hash()))
	assert.True(t, tree.Extends(a2.Hash(), genesis.Hash()))
	assert.False(t, tree.Extends(a2.Hash(), b1.Hash()))
	assert.False(t, tree.Extends(a1.Hash(), a2.Hash()))

	path, err := tree.UncommittedPath(a2.Hash())
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, a1.Hash(), path[0].Hash())
	assert.Equal(t, a2.Hash(), path[1].Hash())

	tree.MarkCommitted(a1)
	assert.Equal(t, a1.Hash(), tree.Committed().Hash())
	assert.True(t, tree.Has(a2.Hash()))
	assert.False(t, tree.Has(b1.Hash()), "fork pruned")
	assert.False(t, tree.Has(b2.Hash()), "fork descendants pruned")
	assert.False(t, tree.Has(genesis.Hash()))

	_, err = tree.Add(chainBlock(genesis, 9, 9))
	assert.Error(t, err, "parent below committed")

	orphan := chainBlock(chainBlock(a2, 5, 1), 6, 1)
	_, err = tree.Add(orphan)
	assert.Error(t, err)
}
