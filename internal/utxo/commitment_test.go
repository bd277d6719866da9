package utxo

import (
	"testing"

	"github.com/emberhq/ember-core/pkg/types"
)

func TestCommitment_EmptySetIsZero(t *testing.T) {
	s := testStore(t)
	root, err := Commitment(s)
	if err != nil {
		t.Fatalf("Commitment() error: %v", err)
	}
	if !root.IsZero() {
		t.Errorf("Commitment() of empty set = %s, want zero hash", root)
	}
}

func TestCommitment_Deterministic(t *testing.T) {
	addr := testAddress(0x01)

	build := func(order []byte) types.Hash {
		s := testStore(t)
		for _, seed := range order {
			s.Put(p2pkhUTXO(seed, 0, uint64(seed)*100, addr))
		}
		root, err := Commitment(s)
		if err != nil {
			t.Fatalf("Commitment() error: %v", err)
		}
		return root
	}

	// Insertion order must not matter.
	a := build([]byte{1, 2, 3, 4})
	b := build([]byte{4, 2, 1, 3})
	if a != b {
		t.Errorf("commitment differs by insertion order: %s vs %s", a, b)
	}
}

func TestCommitment_SensitiveToContents(t *testing.T) {
	addr := testAddress(0x02)

	s1 := testStore(t)
	s1.Put(p2pkhUTXO(1, 0, 100, addr))
	root1, _ := Commitment(s1)

	s2 := testStore(t)
	s2.Put(p2pkhUTXO(1, 0, 101, addr))
	root2, _ := Commitment(s2)

	if root1 == root2 {
		t.Error("commitment unchanged by value difference")
	}

	s3 := testStore(t)
	s3.Put(p2pkhUTXO(1, 0, 100, addr))
	s3.Put(p2pkhUTXO(2, 0, 50, addr))
	root3, _ := Commitment(s3)

	if root1 == root3 {
		t.Error("commitment unchanged by added UTXO")
	}
}

func TestCommitment_SingleUTXO(t *testing.T) {
	s := testStore(t)
	s.Put(p2pkhUTXO(1, 0, 100, testAddress(0x03)))

	root, err := Commitment(s)
	if err != nil {
		t.Fatalf("Commitment() error: %v", err)
	}
	if root.IsZero() {
		t.Error("Commitment() of non-empty set is zero")
	}
}
