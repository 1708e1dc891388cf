// Package merkle builds balanced binary Merkle trees over leaf byte
// strings and produces/verifies directed inclusion proofs.
package merkle

import "github.com/cohkernel/gmk/kernel/khash"

// Side identifies which side of a proof step the sibling sits on.
type Side string

const (
	Left  Side = "L"
	Right Side = "R"
)

// ProofStep is one hop of a directed Merkle inclusion path.
type ProofStep struct {
	Side    Side
	Sibling khash.Digest
}

// Tree is a balanced binary Merkle tree built from ordered leaf data.
// The last node of an odd-sized level is duplicated leftward (paired
// with itself) so every level halves exactly.
type Tree struct {
	levels [][]khash.Digest // levels[0] = leaves, levels[len-1] = [root]
}

// Build constructs a Tree from ordered leaf payloads. An empty leaf set
// yields a tree whose root is the hash of an empty leaf.
func Build(leaves [][]byte) (*Tree, error) {
	hashed := make([]khash.Digest, len(leaves))
	for i, l := range leaves {
		hashed[i] = khash.MerkleLeaf(l)
	}
	if len(hashed) == 0 {
		hashed = []khash.Digest{khash.MerkleLeaf(nil)}
	}
	t := &Tree{levels: [][]khash.Digest{hashed}}
	cur := hashed
	for len(cur) > 1 {
		next := make([]khash.Digest, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			left := cur[i]
			right := left
			if i+1 < len(cur) {
				right = cur[i+1]
			}
			node, err := khash.MerkleInterior(left, right)
			if err != nil {
				return nil, err
			}
			next = append(next, node)
		}
		t.levels = append(t.levels, next)
		cur = next
	}
	return t, nil
}

// Root returns the tree's root digest.
func (t *Tree) Root() khash.Digest {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof returns the directed inclusion path for the leaf at index.
func (t *Tree) Proof(index int) ([]ProofStep, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, errOutOfRange
	}
	var steps []ProofStep
	idx := index
	for level := 0; level < len(t.levels)-1; level++ {
		cur := t.levels[level]
		isRightChild := idx%2 == 1
		var siblingIdx int
		var side Side
		if isRightChild {
			siblingIdx = idx - 1
			side = Left
		} else {
			siblingIdx = idx + 1
			side = Right
			if siblingIdx >= len(cur) {
				siblingIdx = idx // duplicated self-pair
			}
		}
		steps = append(steps, ProofStep{Side: side, Sibling: cur[siblingIdx]})
		idx /= 2
	}
	return steps, nil
}

// VerifyProof recomputes the root from a leaf payload and a directed
// path, returning true iff it matches want: combine
// hash(0x01 || left || right) at each step according to the recorded
// side.
func VerifyProof(leaf []byte, path []ProofStep, want khash.Digest) (bool, error) {
	cur := khash.MerkleLeaf(leaf)
	for _, step := range path {
		var err error
		switch step.Side {
		case Left:
			cur, err = khash.MerkleInterior(step.Sibling, cur)
		case Right:
			cur, err = khash.MerkleInterior(cur, step.Sibling)
		default:
			return false, errBadSide
		}
		if err != nil {
			return false, err
		}
	}
	return cur == want, nil
}

type merkleError string

func (e merkleError) Error() string { return string(e) }

const (
	errOutOfRange merkleError = "merkle: index out of range"
	errBadSide    merkleError = "merkle: invalid proof step side"
)
