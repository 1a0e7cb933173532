package utils

const (
	merkleLeafPrefix = 0x00
	merkleNodePrefix = 0x01
)

var emptyMerkleRoot = Sha256Hash([]byte("empty_merkle"))

// MerkleRoot 计算叶子哈希列表的默克尔根
// 叶子和内部节点使用不同前缀；奇数层重复最后一个节点
func MerkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return emptyMerkleRoot
	}
	level := make([][32]byte, len(leaves))
	for i, l := range leaves {
		level[i] = hashLeaf(l)
	}
	for len(level) > 1 {
		level = buildMerkleLevel(level)
	}
	return level[0]
}

func hashLeaf(leaf [32]byte) [32]byte {
	var buf [33]byte
	buf[0] = merkleLeafPrefix
	copy(buf[1:], leaf[:])
	return Sha256Hash(buf[:])
}

func hashNode(left, right [32]byte) [32]byte {
	var buf [65]byte
	buf[0] = merkleNodePrefix
	copy(buf[1:33], left[:])
	copy(buf[33:], right[:])
	return Sha256Hash(buf[:])
}

func buildMerkleLevel(nodes [][32]byte) [][32]byte {
	if len(nodes)%2 == 1 {
		nodes = append(nodes, nodes[len(nodes)-1])
	}
	next := make([][32]byte, 0, len(nodes)/2)
	for i := 0; i < len(nodes); i += 2 {
		next = append(next, hashNode(nodes[i], nodes[i+1]))
	}
	return next
}

// MerkleProof 返回 index 处叶子的兄弟路径
func MerkleProof(leaves [][32]byte, index int) ([][32]byte, bool) {
	if index < 0 || index >= len(leaves) {
		return nil, false
	}
	level := make([][32]byte, len(leaves))
	for i, l := range leaves {
		level[i] = hashLeaf(l)
	}
	var proof [][32]byte
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		proof = append(proof, level[index^1])
		level = buildMerkleLevel(level)
		index /= 2
	}
	return proof, true
}

// VerifyMerkleProof 校验叶子在给定位置属于 root
func VerifyMerkleProof(root, leaf [32]byte, index int, proof [][32]byte) bool {
	h := hashLeaf(leaf)
	for _, sib := range proof {
		if index%2 == 0 {
			h = hashNode(h, sib)
		} else {
			h = hashNode(sib, h)
		}
		index /= 2
	}
	return h == root
}
