package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func leavesOf(n int) [][32]byte {
	out := make([][32]byte, n)
	for i := range out {
		out[i] = Sha256Hash([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return out
}

func TestMerkleRootBasics(t *testing.T) {
	assert.Equal(t, emptyMerkleRoot, MerkleRoot(nil))

	one := leavesOf(1)
	assert.Equal(t, hashLeaf(one[0]), MerkleRoot(one))

	l := leavesOf(4)
	r1 := MerkleRoot(l)
	l[1], l[2] = l[2], l[1]
	if MerkleRoot(l) == r1 {
		t.Fatal("merkle root must depend on leaf order")
	}
}

func TestMerkleRootDoesNotMutateInput(t *testing.T) {
	l := leavesOf(3)
	cp := append([][32]byte(nil), l...)
	MerkleRoot(l)
	assert.Equal(t, cp, l)
}

func TestMerkleProofs(t *testing.T) {
	for n := 1; n <= 9; n++ {
		leaves := leavesOf(n)
		root := MerkleRoot(leaves)
		for i := 0; i < n; i++ {
			proof, ok := MerkleProof(leaves, i)
			if !ok {
				t.Fatalf("n=%d i=%d: no proof", n, i)
			}
			if !VerifyMerkleProof(root, leaves[i], i, proof) {
				t.Errorf("n=%d i=%d: proof rejected", n, i)
			}
			if n > 1 && VerifyMerkleProof(root, leaves[(i+1)%n], i, proof) {
				t.Errorf("n=%d i=%d: proof accepted wrong leaf", n, i)
			}
		}
	}
	_, ok := MerkleProof(leavesOf(2), 5)
	assert.False(t, ok)
}

func TestShortID(t *testing.T) {
	data := []byte("tx")
	assert.Equal(t, ShortID(1, 2, data), ShortID(1, 2, data))
	assert.NotEqual(t, ShortID(1, 2, data), ShortID(3, 4, data))
	assert.Len(t, ShortHex(data), 8)
	assert.NotEqual(t, MurmurHashPair(data, 1), MurmurHashPair(data, 2))
}
