package memory

import "math/bits"

// MaxNodes is the largest cluster a NodeSet can describe.
const MaxNodes = 64

// NodeSet is a set of node ids stored as a bitmask.
type NodeSet uint64

// Add returns the set with id added. Ids outside [0, MaxNodes) are ignored.
func (s NodeSet) Add(id int) NodeSet {
	if id < 0 || id >= MaxNodes {
		return s
	}
	return s | 1<<uint(id)
}

// Remove returns the set without id.
func (s NodeSet) Remove(id int) NodeSet {
	if id < 0 || id >= MaxNodes {
		return s
	}
	return s &^ (1 << uint(id))
}

// Has ...
func (s NodeSet) Has(id int) bool {
	if id < 0 || id >= MaxNodes {
		return false
	}
	return s&(1<<uint(id)) != 0
}

// Len ...
func (s NodeSet) Len() int {
	return bits.OnesCount64(uint64(s))
}

// IDs returns the members in ascending order.
func (s NodeSet) IDs() []int {
	ids := make([]int, 0, s.Len())
	for v := uint64(s); v != 0; v &= v - 1 {
		ids = append(ids, bits.TrailingZeros64(v))
	}
	return ids
}
