package utxo

import (
	"errors"
	"fmt"

	"github.com/emberhq/ember-core/internal/storage"
	"github.com/emberhq/ember-core/pkg/types"
)

// ErrSpent is returned when a view lookup hits an outpoint already
// consumed within the view.
var ErrSpent = errors.New("outpoint spent in view")

// View is a copy-on-write overlay on top of a Store. Transactions applied
// to the view see the effects of earlier transactions in the same batch:
// outputs they created are visible, outpoints they consumed read as spent.
// Nothing touches the backing store until Flush.
type View struct {
	back *Store

	// fresh holds outputs created within the view, keyed by outpoint.
	fresh map[types.Outpoint]*UTXO
	// consumed holds outputs spent within the view, with their full
	// pre-spend state so they can be staged for deletion and recorded
	// in undo data.
	consumed map[types.Outpoint]*UTXO
}

// NewView creates an empty view over the given store.
func NewView(back *Store) *View {
	return &View{
		back:     back,
		fresh:    make(map[types.Outpoint]*UTXO),
		consumed: make(map[types.Outpoint]*UTXO),
	}
}

// Get retrieves a UTXO, honoring in-view spends and creations.
func (v *View) Get(outpoint types.Outpoint) (*UTXO, error) {
	if _, ok := v.consumed[outpoint]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSpent, outpoint)
	}
	if u, ok := v.fresh[outpoint]; ok {
		return u, nil
	}
	return v.back.Get(outpoint)
}

// Has reports whether a UTXO is spendable in the view.
func (v *View) Has(outpoint types.Outpoint) (bool, error) {
	if _, ok := v.consumed[outpoint]; ok {
		return false, nil
	}
	if _, ok := v.fresh[outpoint]; ok {
		return true, nil
	}
	return v.back.Has(outpoint)
}

// Add records a newly created output in the view.
func (v *View) Add(u *UTXO) {
	v.fresh[u.Outpoint] = u
}

// Spend consumes an outpoint in the view and returns the UTXO as it
// existed before the spend. Spending an outpoint that does not exist,
// or one already consumed in the view, is an error.
func (v *View) Spend(outpoint types.Outpoint) (*UTXO, error) {
	if _, ok := v.consumed[outpoint]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSpent, outpoint)
	}

	// An output created and spent within the same view never reaches
	// the backing store.
	if u, ok := v.fresh[outpoint]; ok {
		delete(v.fresh, outpoint)
		v.consumed[outpoint] = u
		return u, nil
	}

	u, err := v.back.Get(outpoint)
	if err != nil {
		return nil, err
	}
	v.consumed[outpoint] = u
	return u, nil
}

// Consumed returns the UTXOs spent in the view, as they existed before
// the spend. Order is unspecified.
func (v *View) Consumed() []*UTXO {
	out := make([]*UTXO, 0, len(v.consumed))
	for _, u := range v.consumed {
		out = append(out, u)
	}
	return out
}

// Flush stages the view's net effect into a storage batch: consumed
// outputs are deleted, surviving fresh outputs are written. The batch
// is committed by the caller alongside the rest of the block data.
func (v *View) Flush(batch storage.Batch) error {
	for _, u := range v.consumed {
		// Skip outputs that only ever existed inside the view.
		exists, err := v.back.Has(u.Outpoint)
		if err != nil {
			return fmt.Errorf("view flush: %w", err)
		}
		if !exists {
			continue
		}
		if err := v.back.DeleteFromBatch(batch, u); err != nil {
			return fmt.Errorf("view flush: %w", err)
		}
	}
	for _, u := range v.fresh {
		if err := v.back.PutToBatch(batch, u); err != nil {
			return fmt.Errorf("view flush: %w", err)
		}
	}
	return nil
}
