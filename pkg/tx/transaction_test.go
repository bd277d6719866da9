package tx

import (
	"encoding/json"
	"testing"

	"github.com/emberhq/ember-core/pkg/crypto"
	"github.com/emberhq/ember-core/pkg/types"
)

func TestHash_ExcludesWitness(t *testing.T) {
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()

	build := func(key *crypto.PrivateKey) *Transaction {
		b := NewBuilder().
			AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
			AddOutput(1000, types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, 20)})
		b.Sign(key)
		return b.Build()
	}

	tx1 := build(key1)
	tx2 := build(key2)

	// Different keys produce different witnesses but identical IDs.
	if string(tx1.Inputs[0].Signature) == string(tx2.Inputs[0].Signature) {
		t.Fatal("test expects distinct signatures")
	}
	if tx1.Hash() != tx2.Hash() {
		t.Error("transaction ID must not depend on witness data")
	}
}

func TestHash_Deterministic(t *testing.T) {
	tx := validTx(t)
	if tx.Hash() != tx.Hash() {
		t.Error("hash not deterministic")
	}
}

func TestHash_SensitiveToOutputs(t *testing.T) {
	tx := validTx(t)
	h1 := tx.Hash()
	tx.Outputs[0].Value++
	if tx.Hash() == h1 {
		t.Error("hash unchanged after output mutation")
	}
}

func TestSigningBytes_WitnessExcluded(t *testing.T) {
	tx := validTx(t)
	before := tx.SigningBytes()
	tx.Inputs[0].Signature = []byte("something else entirely")
	after := tx.SigningBytes()
	if string(before) != string(after) {
		t.Error("signing bytes changed with witness data")
	}
}

func TestBuilder_Pay(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	built := NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
		Pay(5000, addr).
		Build()

	if len(built.Outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(built.Outputs))
	}
	out := built.Outputs[0]
	if out.Value != 5000 {
		t.Errorf("output value = %d, want 5000", out.Value)
	}
	if out.Script.Type != types.ScriptTypeP2PKH {
		t.Errorf("script type = %d, want P2PKH", out.Script.Type)
	}
	if string(out.Script.Data) != string(addr.Bytes()) {
		t.Error("script data is not the payee address")
	}
}

func TestTotalOutputValue(t *testing.T) {
	tx := &Transaction{
		Outputs: []Output{{Value: 100}, {Value: 250}},
	}
	total, err := tx.TotalOutputValue()
	if err != nil {
		t.Fatalf("TotalOutputValue: %v", err)
	}
	if total != 350 {
		t.Errorf("total = %d, want 350", total)
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	original := validTx(t)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Transaction
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Hash() != original.Hash() {
		t.Error("hash changed across JSON round trip")
	}
}
