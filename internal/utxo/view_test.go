package utxo

import (
	"errors"
	"testing"

	"github.com/emberhq/ember-core/internal/storage"
)

func TestView_GetFallsThroughToStore(t *testing.T) {
	s := testStore(t)
	addr := testAddress(0x01)
	u := p2pkhUTXO(1, 0, 100, addr)
	s.Put(u)

	v := NewView(s)
	got, err := v.Get(u.Outpoint)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Value != 100 {
		t.Errorf("Get() value = %d, want 100", got.Value)
	}
}

func TestView_SpendHidesOutpoint(t *testing.T) {
	s := testStore(t)
	addr := testAddress(0x02)
	u := p2pkhUTXO(1, 0, 100, addr)
	s.Put(u)

	v := NewView(s)
	spent, err := v.Spend(u.Outpoint)
	if err != nil {
		t.Fatalf("Spend() error: %v", err)
	}
	if spent.Value != 100 {
		t.Errorf("Spend() returned value %d, want 100", spent.Value)
	}

	if _, err := v.Get(u.Outpoint); !errors.Is(err, ErrSpent) {
		t.Errorf("Get() after spend: %v, want ErrSpent", err)
	}
	if ok, _ := v.Has(u.Outpoint); ok {
		t.Error("Has() = true for spent outpoint")
	}

	// Store untouched until Flush.
	if ok, _ := s.Has(u.Outpoint); !ok {
		t.Error("spend leaked to backing store before Flush")
	}
}

func TestView_DoubleSpend(t *testing.T) {
	s := testStore(t)
	u := p2pkhUTXO(1, 0, 100, testAddress(0x03))
	s.Put(u)

	v := NewView(s)
	if _, err := v.Spend(u.Outpoint); err != nil {
		t.Fatalf("first Spend() error: %v", err)
	}
	if _, err := v.Spend(u.Outpoint); !errors.Is(err, ErrSpent) {
		t.Errorf("second Spend(): %v, want ErrSpent", err)
	}
}

func TestView_SpendMissing(t *testing.T) {
	v := NewView(testStore(t))
	if _, err := v.Spend(testOutpoint(9, 0)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Spend() missing outpoint: %v, want ErrNotFound", err)
	}
}

func TestView_AddVisibleInView(t *testing.T) {
	s := testStore(t)
	v := NewView(s)

	u := p2pkhUTXO(5, 0, 777, testAddress(0x04))
	v.Add(u)

	got, err := v.Get(u.Outpoint)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Value != 777 {
		t.Errorf("Get() value = %d, want 777", got.Value)
	}

	// Not in the store yet.
	if ok, _ := s.Has(u.Outpoint); ok {
		t.Error("Add() leaked to backing store before Flush")
	}
}

func TestView_EphemeralCreateAndSpend(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)
	v := NewView(s)

	u := p2pkhUTXO(6, 0, 42, testAddress(0x05))
	v.Add(u)
	if _, err := v.Spend(u.Outpoint); err != nil {
		t.Fatalf("Spend() of in-view output error: %v", err)
	}

	batch := db.NewBatch()
	if err := v.Flush(batch); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	// An output created and spent in the same view never persists.
	if ok, _ := s.Has(u.Outpoint); ok {
		t.Error("ephemeral output reached the backing store")
	}
}

func TestView_FlushNetEffect(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)
	addr := testAddress(0x06)

	existing := p2pkhUTXO(1, 0, 500, addr)
	s.Put(existing)

	v := NewView(s)
	if _, err := v.Spend(existing.Outpoint); err != nil {
		t.Fatalf("Spend() error: %v", err)
	}
	created := p2pkhUTXO(2, 0, 490, addr)
	v.Add(created)

	batch := db.NewBatch()
	if err := v.Flush(batch); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	if ok, _ := s.Has(existing.Outpoint); ok {
		t.Error("spent UTXO still in store after Flush")
	}
	if ok, _ := s.Has(created.Outpoint); !ok {
		t.Error("created UTXO missing after Flush")
	}
	if bal, _ := s.BalanceOf(addr); bal != 490 {
		t.Errorf("BalanceOf() after Flush = %d, want 490", bal)
	}
}

func TestView_ConsumedReportsPreSpendState(t *testing.T) {
	s := testStore(t)
	u := p2pkhUTXO(1, 0, 321, testAddress(0x07))
	s.Put(u)

	v := NewView(s)
	v.Spend(u.Outpoint)

	consumed := v.Consumed()
	if len(consumed) != 1 {
		t.Fatalf("Consumed() length = %d, want 1", len(consumed))
	}
	if consumed[0].Value != 321 || consumed[0].Outpoint != u.Outpoint {
		t.Errorf("Consumed()[0] = %+v, want pre-spend UTXO", consumed[0])
	}
}

func TestView_ChainedSpendAcrossTransactions(t *testing.T) {
	// Simulates tx B spending an output created by tx A in the same block.
	s := testStore(t)
	v := NewView(s)

	a := p2pkhUTXO(1, 0, 1000, testAddress(0x08))
	v.Add(a)

	got, err := v.Get(a.Outpoint)
	if err != nil {
		t.Fatalf("later tx cannot see earlier tx's output: %v", err)
	}
	if got.Value != 1000 {
		t.Errorf("chained output value = %d, want 1000", got.Value)
	}

	if _, err := v.Spend(a.Outpoint); err != nil {
		t.Fatalf("chained Spend() error: %v", err)
	}
	b := p2pkhUTXO(2, 0, 990, testAddress(0x09))
	v.Add(b)

	if ok, _ := v.Has(a.Outpoint); ok {
		t.Error("chained-spent output still spendable")
	}
	if ok, _ := v.Has(b.Outpoint); !ok {
		t.Error("chained tx's own output not visible")
	}
}
