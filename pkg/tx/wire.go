package tx

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/emberhq/ember-core/config"
	"github.com/emberhq/ember-core/pkg/types"
)

// Wire decoding errors.
var (
	ErrTruncated     = errors.New("transaction bytes truncated")
	ErrTrailingBytes = errors.New("trailing bytes after transaction")
)

// maxWireField caps variable-length fields during decoding so a hostile
// length prefix cannot force a huge allocation.
const maxWireField = config.MaxScriptData

// WireBytes returns the full wire encoding of the transaction, including
// witness data (signature and pubkey per input). This is the transport
// format for the mempool feed; Decode is its inverse.
//
// Layout (all integers little-endian):
//
//	version(4) | input_count(4) |
//	[txid(32) index(4) sig_len(4) sig pubkey_len(4) pubkey]... |
//	output_count(4) | [value(8) script_type(1) script_data_len(4) script_data]... |
//	locktime(8)
func (tx *Transaction) WireBytes() []byte {
	var buf []byte

	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.Signature)))
		buf = append(buf, in.Signature...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.PubKey)))
		buf = append(buf, in.PubKey...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, byte(out.Script.Type))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Script.Data)))
		buf = append(buf, out.Script.Data...)
	}

	buf = binary.LittleEndian.AppendUint64(buf, tx.LockTime)

	return buf
}

// decoder is a cursor over a wire buffer with bounds checking.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) uint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) uint64() (uint64, error) {
	if d.off+8 > len(d.buf) {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) byte() (byte, error) {
	if d.off+1 > len(d.buf) {
		return 0, ErrTruncated
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) hash() (types.Hash, error) {
	var h types.Hash
	if d.off+types.HashSize > len(d.buf) {
		return h, ErrTruncated
	}
	copy(h[:], d.buf[d.off:])
	d.off += types.HashSize
	return h, nil
}

// bytes reads a length-prefixed byte field. A zero length yields nil.
func (d *decoder) bytes() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > maxWireField {
		return nil, fmt.Errorf("field length %d exceeds max %d", n, maxWireField)
	}
	if d.off+int(n) > len(d.buf) {
		return nil, ErrTruncated
	}
	b := make([]byte, n)
	copy(b, d.buf[d.off:])
	d.off += int(n)
	return b, nil
}

// Decode parses a transaction from its wire encoding.
// The entire buffer must be consumed; trailing bytes are an error.
func Decode(b []byte) (*Transaction, error) {
	d := &decoder{buf: b}
	tx := &Transaction{}

	var err error
	if tx.Version, err = d.uint32(); err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}

	inCount, err := d.uint32()
	if err != nil {
		return nil, fmt.Errorf("input count: %w", err)
	}
	if inCount > config.MaxTxInputs {
		return nil, fmt.Errorf("input count %d exceeds max %d", inCount, config.MaxTxInputs)
	}
	tx.Inputs = make([]Input, inCount)
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if in.PrevOut.TxID, err = d.hash(); err != nil {
			return nil, fmt.Errorf("input %d txid: %w", i, err)
		}
		if in.PrevOut.Index, err = d.uint32(); err != nil {
			return nil, fmt.Errorf("input %d index: %w", i, err)
		}
		if in.Signature, err = d.bytes(); err != nil {
			return nil, fmt.Errorf("input %d signature: %w", i, err)
		}
		if in.PubKey, err = d.bytes(); err != nil {
			return nil, fmt.Errorf("input %d pubkey: %w", i, err)
		}
	}

	outCount, err := d.uint32()
	if err != nil {
		return nil, fmt.Errorf("output count: %w", err)
	}
	if outCount > config.MaxTxOutputs {
		return nil, fmt.Errorf("output count %d exceeds max %d", outCount, config.MaxTxOutputs)
	}
	tx.Outputs = make([]Output, outCount)
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if out.Value, err = d.uint64(); err != nil {
			return nil, fmt.Errorf("output %d value: %w", i, err)
		}
		st, err := d.byte()
		if err != nil {
			return nil, fmt.Errorf("output %d script type: %w", i, err)
		}
		out.Script.Type = types.ScriptType(st)
		if out.Script.Data, err = d.bytes(); err != nil {
			return nil, fmt.Errorf("output %d script data: %w", i, err)
		}
	}

	if tx.LockTime, err = d.uint64(); err != nil {
		return nil, fmt.Errorf("locktime: %w", err)
	}

	if d.off != len(b) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(b)-d.off)
	}

	return tx, nil
}
