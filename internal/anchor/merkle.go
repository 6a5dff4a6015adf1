package anchor

import "lukechampine.com/blake3"

// merkleRoot computes a binary Merkle root over leaves using blake3,
// the teacher's existing hashing dependency. An odd level duplicates
// its last node, the common convention also used by the original's
// merkle_root_from_leaves_bytes.
func merkleRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		sum := blake3.Sum256(nil)
		return sum[:]
	}
	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		sum := blake3.Sum256(leaf)
		level[i] = sum[:]
	}
	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, hashPair(level[i], level[i]))
			} else {
				next = append(next, hashPair(level[i], level[i+1]))
			}
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b []byte) []byte {
	buf := make([]byte, 0, len(a)+len(b))
	buf = append(buf, a...)
	buf = append(buf, b...)
	sum := blake3.Sum256(buf)
	return sum[:]
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
