package vm

import (
	"testing"

	"hotledger/keys"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateViewSnapshotRevert(t *testing.T) {
	base := map[string][]byte{"a": []byte("1")}
	sv := NewStateView(func(k string) ([]byte, error) { return base[k], nil })

	v, ok, err := sv.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	snap := sv.Snapshot()
	sv.Set("a", []byte("2"))
	sv.Set(keys.KeyAccount("x"), []byte("{}"))
	sv.Del("b")
	v, _, _ = sv.Get("a")
	assert.Equal(t, "2", string(v))

	require.NoError(t, sv.Revert(snap))
	v, _, _ = sv.Get("a")
	assert.Equal(t, "1", string(v))
	assert.Empty(t, sv.Diff())

	sv.Set(keys.KeySupply("X"), []byte("5"))
	sv.Set(keys.KeyAccount("x"), []byte("{}"))
	diff := sv.Diff()
	require.Len(t, diff, 2)
	assert.Equal(t, keys.KeyAccount("x"), diff[0].Key)
	assert.Equal(t, keys.CategoryState, diff[0].Category)
	assert.Equal(t, keys.CategoryMeta, diff[1].Category)

	assert.ErrorIs(t, sv.Revert(99), ErrInvalidSnapshot)
}

func TestStateViewNestedRevertRestoresPriorWrite(t *testing.T) {
	sv := NewStateView(nil)
	acc := keys.KeyAccount("y")

	sv.Set(acc, []byte("v1"))
	outer := sv.Snapshot()
	sv.Set(acc, []byte("v2"))
	inner := sv.Snapshot()
	sv.Del(acc)
	_, ok, err := sv.Get(acc)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sv.Revert(inner))
	v, ok, _ := sv.Get(acc)
	assert.True(t, ok)
	assert.Equal(t, "v2", string(v))

	require.NoError(t, sv.Revert(outer))
	v, _, _ = sv.Get(acc)
	assert.Equal(t, "v1", string(v))

	// 读出的值是副本
	v[0] = 'x'
	v, _, _ = sv.Get(acc)
	assert.Equal(t, "v1", string(v))

	sv.Del(keys.KeySupply("Z"))
	diff := sv.Diff()
	require.Len(t, diff, 2)
	assert.True(t, diff[0].Key < diff[1].Key)
	for _, op := range diff {
		if op.Key == acc {
			assert.False(t, op.Del)
		} else {
			assert.True(t, op.Del)
			assert.Equal(t, keys.CategoryMeta, op.Category)
		}
	}
}
