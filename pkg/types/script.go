package types

import (
	"encoding/hex"
	"encoding/json"
)

// ScriptType identifies the kind of locking condition on an output.
// The set is closed by consensus; new kinds require a version bump.
type ScriptType uint8

const (
	ScriptTypeP2PKH ScriptType = 0x01 // Pay to public key hash (data = 20-byte address)
	ScriptTypeP2PK  ScriptType = 0x02 // Pay to raw public key (data = 33-byte compressed pubkey)
	ScriptTypeBurn  ScriptType = 0x10 // Provably unspendable data carrier
)

// String returns a human-readable name for the script type.
func (st ScriptType) String() string {
	switch st {
	case ScriptTypeP2PKH:
		return "P2PKH"
	case ScriptTypeP2PK:
		return "P2PK"
	case ScriptTypeBurn:
		return "Burn"
	default:
		return "Unknown"
	}
}

// Spendable reports whether outputs of this type can ever be consumed.
func (st ScriptType) Spendable() bool {
	return st != ScriptTypeBurn
}

// Script defines the locking condition for a UTXO.
type Script struct {
	Type ScriptType `json:"type"`
	Data []byte     `json:"data"`
}

// scriptJSON is the JSON representation of a Script with hex-encoded data.
type scriptJSON struct {
	Type ScriptType `json:"type"`
	Data string     `json:"data"`
}

// MarshalJSON encodes the script with hex-encoded data.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(scriptJSON{
		Type: s.Type,
		Data: hex.EncodeToString(s.Data),
	})
}

// UnmarshalJSON decodes a script with hex-encoded data.
func (s *Script) UnmarshalJSON(data []byte) error {
	var j scriptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	s.Type = j.Type
	if j.Data != "" {
		b, err := hex.DecodeString(j.Data)
		if err != nil {
			return err
		}
		s.Data = b
	}
	return nil
}
