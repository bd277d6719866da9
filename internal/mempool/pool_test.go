package mempool

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emberhq/ember-core/internal/utxo"
	"github.com/emberhq/ember-core/pkg/crypto"
	"github.com/emberhq/ember-core/pkg/tx"
	"github.com/emberhq/ember-core/pkg/types"
)

// poolHarness bundles a pool with a funded key and UTXO provider.
type poolHarness struct {
	pool     *Pool
	key      *crypto.PrivateKey
	addr     types.Address
	provider *mockProvider
	nextSeed byte
}

type mockProvider struct {
	utxos map[types.Outpoint]mockUTXO
}

type mockUTXO struct {
	value  uint64
	script types.Script
}

func (m *mockProvider) GetUTXO(op types.Outpoint) (uint64, types.Script, error) {
	u, ok := m.utxos[op]
	if !ok {
		return 0, types.Script{}, fmt.Errorf("not found")
	}
	return u.value, u.script, nil
}

func (m *mockProvider) HasUTXO(op types.Outpoint) bool {
	_, ok := m.utxos[op]
	return ok
}

func newHarness(t *testing.T, maxSize int) *poolHarness {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	provider := &mockProvider{utxos: make(map[types.Outpoint]mockUTXO)}
	return &poolHarness{
		pool:     New(provider, crypto.SchnorrVerifier{}, maxSize),
		key:      key,
		addr:     crypto.AddressFromPubKey(key.PublicKey()),
		provider: provider,
		nextSeed: 1,
	}
}

// fund creates a spendable UTXO worth value and returns its outpoint.
func (h *poolHarness) fund(value uint64) types.Outpoint {
	op := types.Outpoint{TxID: types.Hash{0xF0, h.nextSeed}, Index: 0}
	h.nextSeed++
	h.provider.utxos[op] = mockUTXO{
		value:  value,
		script: types.Script{Type: types.ScriptTypeP2PKH, Data: h.addr[:]},
	}
	return op
}

// spend builds a signed tx consuming prevOut and paying outValue, so its
// fee is the input value minus outValue.
func (h *poolHarness) spend(t *testing.T, prevOut types.Outpoint, outValue uint64) *tx.Transaction {
	t.Helper()
	b := tx.NewBuilder().
		AddInput(prevOut).
		AddOutput(outValue, types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, 20)})
	if err := b.Sign(h.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return b.Build()
}

func TestPool_AddReturnsFee(t *testing.T) {
	h := newHarness(t, 0)
	op := h.fund(5000)
	transaction := h.spend(t, op, 4000)

	fee, err := h.pool.Add(transaction)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if fee != 1000 {
		t.Errorf("Add() fee = %d, want 1000", fee)
	}
	if !h.pool.Has(transaction.Hash()) {
		t.Error("Has() = false after Add()")
	}
	if h.pool.Count() != 1 {
		t.Errorf("Count() = %d, want 1", h.pool.Count())
	}
	if got := h.pool.GetFee(transaction.Hash()); got != 1000 {
		t.Errorf("GetFee() = %d, want 1000", got)
	}
}

func TestPool_RejectsDuplicate(t *testing.T) {
	h := newHarness(t, 0)
	transaction := h.spend(t, h.fund(5000), 4000)

	if _, err := h.pool.Add(transaction); err != nil {
		t.Fatalf("first Add() error: %v", err)
	}
	if _, err := h.pool.Add(transaction); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Add(): %v, want ErrAlreadyExists", err)
	}
}

func TestPool_RejectsConflict(t *testing.T) {
	h := newHarness(t, 0)
	op := h.fund(5000)

	first := h.spend(t, op, 4000)
	second := h.spend(t, op, 3000) // same input, different outputs

	if _, err := h.pool.Add(first); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := h.pool.Add(second); !errors.Is(err, ErrConflict) {
		t.Errorf("conflicting Add(): %v, want ErrConflict", err)
	}
}

func TestPool_RejectsCoinbase(t *testing.T) {
	h := newHarness(t, 0)
	cb := tx.NewCoinbase(5, []tx.Output{{
		Value:  1000,
		Script: types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, 20)},
	}})
	if _, err := h.pool.Add(cb); !errors.Is(err, ErrCoinbaseInPool) {
		t.Errorf("Add(coinbase): %v, want ErrCoinbaseInPool", err)
	}
}

func TestPool_RejectsInvalid(t *testing.T) {
	h := newHarness(t, 0)
	// Spends an outpoint the provider doesn't know about.
	transaction := h.spend(t, types.Outpoint{TxID: types.Hash{0xEE}, Index: 1}, 100)
	if _, err := h.pool.Add(transaction); !errors.Is(err, ErrValidation) {
		t.Errorf("Add(unknown input): %v, want ErrValidation", err)
	}
}

func TestPool_MinFeeRate(t *testing.T) {
	h := newHarness(t, 0)
	h.pool.SetMinFeeRate(100)

	// A signed single-input single-output tx is well over 1 byte,
	// so a 1-unit fee cannot meet a 100/byte floor.
	cheap := h.spend(t, h.fund(5000), 4999)
	if _, err := h.pool.Add(cheap); !errors.Is(err, ErrFeeTooLow) {
		t.Errorf("Add(cheap): %v, want ErrFeeTooLow", err)
	}

	generous := h.spend(t, h.fund(1_000_000), 100)
	if _, err := h.pool.Add(generous); err != nil {
		t.Errorf("Add(generous): %v", err)
	}
}

func TestPool_FullEvictsCheaper(t *testing.T) {
	h := newHarness(t, 2)

	low := h.spend(t, h.fund(5000), 4900)  // fee 100
	mid := h.spend(t, h.fund(5000), 4500)  // fee 500
	high := h.spend(t, h.fund(5000), 3000) // fee 2000

	h.pool.Add(low)
	h.pool.Add(mid)

	// Pool full; the higher-paying tx evicts the cheapest entry.
	if _, err := h.pool.Add(high); err != nil {
		t.Fatalf("Add(high) into full pool: %v", err)
	}
	if h.pool.Has(low.Hash()) {
		t.Error("lowest fee-rate entry not evicted")
	}
	if !h.pool.Has(mid.Hash()) || !h.pool.Has(high.Hash()) {
		t.Error("surviving entries missing after eviction")
	}

	// A tx paying no more than the current floor is refused.
	floor := h.spend(t, h.fund(5000), 4950) // fee 50
	if _, err := h.pool.Add(floor); !errors.Is(err, ErrPoolFull) {
		t.Errorf("Add(floor): %v, want ErrPoolFull", err)
	}
}

func TestPool_CoinbaseMaturity(t *testing.T) {
	h := newHarness(t, 0)

	op := h.fund(5000)
	set := &mockSet{utxos: map[types.Outpoint]*mockSetUTXO{
		op: {value: 5000, height: 95, coinbase: true},
	}}
	height := uint64(100)
	h.pool.SetCoinbaseMaturity(20, func() uint64 { return height }, set)

	transaction := h.spend(t, op, 4000)
	if _, err := h.pool.Add(transaction); !errors.Is(err, ErrCoinbaseNotMature) {
		t.Errorf("Add(immature coinbase spend): %v, want ErrCoinbaseNotMature", err)
	}

	// After enough confirmations the same spend is accepted.
	height = 115
	if _, err := h.pool.Add(transaction); err != nil {
		t.Errorf("Add(mature coinbase spend): %v", err)
	}
}

func TestPool_RemoveConfirmed(t *testing.T) {
	h := newHarness(t, 0)

	op := h.fund(5000)
	included := h.spend(t, op, 4000)
	h.pool.Add(included)

	other := h.spend(t, h.fund(3000), 2500)
	h.pool.Add(other)

	h.pool.RemoveConfirmed([]*tx.Transaction{included})

	if h.pool.Has(included.Hash()) {
		t.Error("confirmed tx still in pool")
	}
	if !h.pool.Has(other.Hash()) {
		t.Error("unrelated tx removed")
	}
}

func TestPool_RemoveConfirmedPurgesConflicts(t *testing.T) {
	h := newHarness(t, 0)

	op := h.fund(5000)
	pooled := h.spend(t, op, 4000)
	h.pool.Add(pooled)

	// A different tx spending the same outpoint confirms in a block.
	confirmed := h.spend(t, op, 3500)
	h.pool.RemoveConfirmed([]*tx.Transaction{confirmed})

	if h.pool.Has(pooled.Hash()) {
		t.Error("entry spending a block-consumed outpoint not purged")
	}
}

func TestPool_SelectForBlockOrdering(t *testing.T) {
	h := newHarness(t, 0)

	low := h.spend(t, h.fund(5000), 4900)  // fee 100
	high := h.spend(t, h.fund(5000), 2000) // fee 3000
	mid := h.spend(t, h.fund(5000), 4000)  // fee 1000

	h.pool.Add(low)
	h.pool.Add(high)
	h.pool.Add(mid)

	selected := h.pool.SelectForBlock(0, 0)
	if len(selected) != 3 {
		t.Fatalf("SelectForBlock() returned %d txs, want 3", len(selected))
	}
	want := []types.Hash{high.Hash(), mid.Hash(), low.Hash()}
	for i, s := range selected {
		if s.Hash() != want[i] {
			t.Errorf("selection[%d] = %s, want %s", i, s.Hash(), want[i])
		}
	}
}

func TestPool_SelectForBlockFIFOTieBreak(t *testing.T) {
	h := newHarness(t, 0)

	// Identical structure means identical size and, with equal fees,
	// identical fee rate. Admission order decides.
	now := time.Unix(1_700_000_000, 0)
	h.pool.clock = func() time.Time { return now }
	first := h.spend(t, h.fund(5000), 4000)
	h.pool.Add(first)

	h.pool.clock = func() time.Time { return now.Add(time.Second) }
	second := h.spend(t, h.fund(5000), 4000)
	h.pool.Add(second)

	selected := h.pool.SelectForBlock(0, 0)
	if len(selected) != 2 {
		t.Fatalf("SelectForBlock() returned %d txs, want 2", len(selected))
	}
	if selected[0].Hash() != first.Hash() {
		t.Error("earlier-admitted tx not selected first among equal fee rates")
	}
}

func TestPool_SelectForBlockCountLimit(t *testing.T) {
	h := newHarness(t, 0)
	for i := 0; i < 5; i++ {
		h.pool.Add(h.spend(t, h.fund(5000), 4000))
	}
	if got := h.pool.SelectForBlock(0, 3); len(got) != 3 {
		t.Errorf("SelectForBlock(0, 3) returned %d txs, want 3", len(got))
	}
}

func TestPool_SelectForBlockSkipsOversize(t *testing.T) {
	h := newHarness(t, 0)

	a := h.spend(t, h.fund(5000), 2000) // fee 3000, highest rate
	b := h.spend(t, h.fund(5000), 4000) // fee 1000
	h.pool.Add(a)
	h.pool.Add(b)

	// Budget for exactly one tx: the best one fills it, the next is
	// skipped rather than terminating selection.
	budget := a.Size()
	selected := h.pool.SelectForBlock(budget, 0)
	if len(selected) != 1 {
		t.Fatalf("SelectForBlock(%d, 0) returned %d txs, want 1", budget, len(selected))
	}
	if selected[0].Hash() != a.Hash() {
		t.Error("byte budget did not keep the highest fee-rate tx")
	}
}

func TestPool_SelectForBlockSkipsConflictingInputs(t *testing.T) {
	h := newHarness(t, 0)

	op := h.fund(10_000)
	a := h.spend(t, op, 9000) // fee 1000
	b := h.spend(t, op, 8000) // fee 2000, spends the same outpoint
	if _, err := h.pool.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Admission rejects b, so plant it directly: even with a conflicting
	// entry in the pool, the selected batch never double-spends.
	h.pool.txs[b.Hash()] = &entry{
		tx:       b,
		txHash:   b.Hash(),
		fee:      2000,
		size:     b.Size(),
		feeRate:  2000 / float64(b.Size()),
		admitted: time.Now(),
	}

	selected := h.pool.SelectForBlock(0, 0)
	if len(selected) != 1 {
		t.Fatalf("SelectForBlock returned %d txs, want 1", len(selected))
	}
	// b carries the higher fee rate, so it wins and a is skipped.
	if selected[0].Hash() != b.Hash() {
		t.Error("selection did not keep the higher fee-rate spender")
	}
}

func TestPool_Hashes(t *testing.T) {
	h := newHarness(t, 0)
	a := h.spend(t, h.fund(5000), 4000)
	b := h.spend(t, h.fund(5000), 4000)
	h.pool.Add(a)
	h.pool.Add(b)

	hashes := h.pool.Hashes()
	if len(hashes) != 2 {
		t.Fatalf("Hashes() returned %d entries, want 2", len(hashes))
	}
	seen := map[types.Hash]bool{}
	for _, hs := range hashes {
		seen[hs] = true
	}
	if !seen[a.Hash()] || !seen[b.Hash()] {
		t.Error("Hashes() missing an admitted tx")
	}
}

func TestPool_Remove(t *testing.T) {
	h := newHarness(t, 0)
	op := h.fund(5000)
	transaction := h.spend(t, op, 4000)
	h.pool.Add(transaction)

	h.pool.Remove(transaction.Hash())
	if h.pool.Has(transaction.Hash()) {
		t.Error("tx still present after Remove()")
	}

	// The spend index is cleared: the same outpoint is spendable again.
	if _, err := h.pool.Add(h.spend(t, op, 3000)); err != nil {
		t.Errorf("Add() respend after Remove(): %v", err)
	}
}

// mockSet implements utxo.Set lookups for maturity checks.
type mockSet struct {
	utxos map[types.Outpoint]*mockSetUTXO
}

type mockSetUTXO struct {
	value    uint64
	height   uint64
	coinbase bool
}

func (m *mockSet) Get(op types.Outpoint) (*utxo.UTXO, error) {
	u, ok := m.utxos[op]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return &utxo.UTXO{
		Outpoint: op,
		Value:    u.value,
		Height:   u.height,
		Coinbase: u.coinbase,
	}, nil
}

func (m *mockSet) Put(u *utxo.UTXO) error {
	m.utxos[u.Outpoint] = &mockSetUTXO{value: u.Value, height: u.Height, coinbase: u.Coinbase}
	return nil
}

func (m *mockSet) Delete(op types.Outpoint) error {
	delete(m.utxos, op)
	return nil
}

func (m *mockSet) Has(op types.Outpoint) (bool, error) {
	_, ok := m.utxos[op]
	return ok, nil
}
