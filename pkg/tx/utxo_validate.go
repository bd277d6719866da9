package tx

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/emberhq/ember-core/pkg/crypto"
	"github.com/emberhq/ember-core/pkg/types"
)

// UTXO-aware validation errors. Missing-input and insufficient-funds
// failures are state conflicts: the transaction may become valid later
// if chain state changes, so callers may accept a re-submission.
var (
	ErrInputNotFound     = errors.New("input UTXO not found")
	ErrInsufficientFunds = errors.New("insufficient input value")
	ErrInputOverflow     = errors.New("input values overflow")
	ErrScriptMismatch    = errors.New("pubkey does not satisfy UTXO script")
	ErrUnspendableOutput = errors.New("output is unspendable")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	GetUTXO(outpoint types.Outpoint) (value uint64, script types.Script, err error)
	HasUTXO(outpoint types.Outpoint) bool
}

// ValidateWithUTXOs performs full validation of a transaction against the
// UTXO set: every input must exist and be unspent, the pubkey must satisfy
// the referenced script, signatures must verify through the injected
// verifier, and inputs must cover outputs. Returns the fee (inputs − outputs).
func (tx *Transaction) ValidateWithUTXOs(provider UTXOProvider, verifier crypto.Verifier) (uint64, error) {
	if err := tx.ValidateStructure(); err != nil {
		return 0, err
	}

	var totalInput uint64
	for i, in := range tx.Inputs {
		// Coinbase inputs mint value; they reference nothing.
		if in.IsCoinbase() {
			continue
		}

		if !provider.HasUTXO(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}

		value, script, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, err)
		}

		if !script.Type.Spendable() {
			return 0, fmt.Errorf("input %d (%s): %w: %s output cannot be spent",
				i, in.PrevOut, ErrUnspendableOutput, script.Type)
		}

		if err := verifyOwnership(in.PubKey, script); err != nil {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, err)
		}

		if totalInput > math.MaxUint64-value {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += value
	}

	if err := tx.VerifySignatures(verifier); err != nil {
		return 0, err
	}

	totalOutput, err := tx.TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("output overflow: %w", err)
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFunds, totalInput, totalOutput)
	}

	return totalInput - totalOutput, nil
}

// VerifySignatures checks every non-coinbase input's signature over the
// transaction hash using the injected verifier.
func (tx *Transaction) VerifySignatures(verifier crypto.Verifier) error {
	hash := tx.Hash()
	for i, in := range tx.Inputs {
		if in.IsCoinbase() {
			continue
		}
		if !verifier.Verify(hash[:], in.Signature, in.PubKey) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}

// verifyOwnership checks the input pubkey against the UTXO's lock condition.
func verifyOwnership(pubKey []byte, script types.Script) error {
	switch script.Type {
	case types.ScriptTypeP2PKH:
		if len(script.Data) != types.AddressSize {
			return fmt.Errorf("%w: script data length %d, want %d", ErrScriptMismatch, len(script.Data), types.AddressSize)
		}
		if len(pubKey) == 0 {
			return ErrMissingPubKey
		}
		derived := crypto.AddressFromPubKey(pubKey)
		if !bytes.Equal(script.Data, derived[:]) {
			return fmt.Errorf("%w: expected %x, derived %s", ErrScriptMismatch, script.Data, derived)
		}
		return nil
	case types.ScriptTypeP2PK:
		if !bytes.Equal(pubKey, script.Data) {
			return fmt.Errorf("%w: pubkey does not match lock key", ErrScriptMismatch)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown script type 0x%02x", ErrScriptMismatch, byte(script.Type))
	}
}
