package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/emberhq/ember-core/pkg/crypto"
	"github.com/emberhq/ember-core/pkg/types"
)

// Header contains block metadata. Extra carries consensus-specific fields
// (nonce, validator signature, ...) that this core treats as opaque bytes.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Height     uint64     `json:"height"`
	Extra      []byte     `json:"extra,omitempty"`
}

// headerJSON is the JSON representation of Header with hex-encoded extra data.
type headerJSON struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Height     uint64     `json:"height"`
	Extra      string     `json:"extra,omitempty"`
}

// MarshalJSON encodes the header with hex-encoded extra data.
func (h *Header) MarshalJSON() ([]byte, error) {
	j := headerJSON{
		Version:    h.Version,
		PrevHash:   h.PrevHash,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  h.Timestamp,
		Height:     h.Height,
	}
	if h.Extra != nil {
		j.Extra = hex.EncodeToString(h.Extra)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a header with hex-encoded extra data.
func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h.Version = j.Version
	h.PrevHash = j.PrevHash
	h.MerkleRoot = j.MerkleRoot
	h.Timestamp = j.Timestamp
	h.Height = j.Height
	if j.Extra != "" {
		b, err := hex.DecodeString(j.Extra)
		if err != nil {
			return err
		}
		h.Extra = b
	}
	return nil
}

// Hash computes the block header hash.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// SigningBytes returns the canonical bytes for hashing.
// Format: version(4) | prev_hash(32) | merkle_root(32) | timestamp(8) | height(8) | extra_len(4) | extra
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 88+len(h.Extra))
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(h.Extra)))
	buf = append(buf, h.Extra...)
	return buf
}
