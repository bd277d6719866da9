// Package merkle implements a binary hash tree over an ordered sequence of
// leaf hashes, with inclusion proof generation and verification.
//
// Odd levels promote the trailing node unchanged to the next level (no
// duplication), so every interior node hashes two distinct children. This
// keeps proofs unambiguous: a promoted node simply contributes no sibling
// step at that level.
package merkle

import (
	"errors"
	"fmt"

	"github.com/emberhq/ember-core/pkg/crypto"
	"github.com/emberhq/ember-core/pkg/types"
)

// ErrNoLeaves is returned when building a tree from zero leaves.
// A block always contains at least a coinbase transaction, so an empty
// tree is a caller bug, not a valid state.
var ErrNoLeaves = errors.New("merkle tree requires at least one leaf")

// ProofStep is one hop of an inclusion proof: the sibling hash at a level
// and its position relative to the running hash.
type ProofStep struct {
	Sibling types.Hash `json:"sibling"`
	Left    bool       `json:"left"` // Sibling is the left child at this level.
}

// Proof is an ordered sequence of steps from leaf to root.
type Proof []ProofStep

// Tree is a binary merkle tree. Levels are stored bottom-up:
// levels[0] holds the leaves, the last level holds the single root.
type Tree struct {
	levels [][]types.Hash
}

// NewTree builds a merkle tree over the given leaf hashes.
// The input slice is copied; the caller's slice is never mutated.
func NewTree(leaves []types.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := make([]types.Hash, len(leaves))
	copy(level, leaves)

	t := &Tree{levels: [][]types.Hash{level}}
	for len(level) > 1 {
		next := make([]types.Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, crypto.HashConcat(level[i], level[i+1]))
		}
		if len(level)%2 != 0 {
			// Promote the odd trailing node unchanged.
			next = append(next, level[len(level)-1])
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// Root returns the root hash.
func (t *Tree) Root() types.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built over.
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Prove generates an inclusion proof for the leaf at the given index.
func (t *Tree) Prove(leafIndex int) (Proof, error) {
	if leafIndex < 0 || leafIndex >= len(t.levels[0]) {
		return nil, fmt.Errorf("leaf index %d out of range [0,%d)", leafIndex, len(t.levels[0]))
	}

	var proof Proof
	idx := leafIndex
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := idx ^ 1
		if sib < len(level) {
			proof = append(proof, ProofStep{
				Sibling: level[sib],
				Left:    sib < idx,
			})
		}
		// A promoted node keeps its position as the last element of the
		// next level, which is exactly idx/2 since len(level) is odd.
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the path from leafHash through the proof and
// reports whether it reaches root. Pure function, no side effects.
func VerifyProof(leafHash types.Hash, proof Proof, root types.Hash) bool {
	h := leafHash
	for _, step := range proof {
		if step.Left {
			h = crypto.HashConcat(step.Sibling, h)
		} else {
			h = crypto.HashConcat(h, step.Sibling)
		}
	}
	return h == root
}
