// keys/keys_test.go
package keys

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockKeysSortByHeight(t *testing.T) {
	ks := []string{KeyBlock(10, "aa"), KeyBlock(2, "ff"), KeyBlock(100, "00")}
	sort.Strings(ks)
	assert.Equal(t, []string{KeyBlock(2, "ff"), KeyBlock(10, "aa"), KeyBlock(100, "00")}, ks)
	assert.Equal(t, "v1_height_00000000000000000007", KeyHeight(7))
}

func TestAccountKeys(t *testing.T) {
	k := KeyAccount("hot1xyz")
	assert.Equal(t, "v1_account_hot1xyz", k)
	addr, ok := AccountAddressFromKey(k)
	assert.True(t, ok)
	assert.Equal(t, "hot1xyz", addr)

	_, ok = AccountAddressFromKey(KeySupply("X"))
	assert.False(t, ok)
	assert.Equal(t, "account_hot1xyz", StripVersion(k))
}

func TestCategorizeKey(t *testing.T) {
	assert.Equal(t, CategoryState, CategorizeKey(KeyAccount("a")))
	assert.Equal(t, CategoryMeta, CategorizeKey(KeySupply("X")))
	assert.Equal(t, CategoryKV, CategorizeKey(KeyReceipt("r")))
	assert.Equal(t, CategoryKV, CategorizeKey(KeyValidatorSet(1)))
	assert.True(t, IsStateKey(KeyAccount("b")))
	assert.Equal(t, "meta", CategoryMeta.String())
}
