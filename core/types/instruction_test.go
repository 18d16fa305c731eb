package types

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func newSignedTransfer(t *testing.T) (*Instruction, solana.PrivateKey) {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	to, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	data, err := EncodePayload(&TransferPayload{Amount: 42})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	ins := &Instruction{
		Type:     InstructionTransfer,
		Accounts: []solana.PublicKey{to.PublicKey()},
		Data:     data,
		Nonce:    7,
		Expiry:   1_900_000_000,
	}
	if err := ins.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ins, key
}

func TestInstructionSignVerify(t *testing.T) {
	ins, key := newSignedTransfer(t)
	if ins.Signer != key.PublicKey() {
		t.Fatalf("signer not set by Sign")
	}
	if err := ins.VerifySignature(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	tampered := *ins
	tampered.Nonce++
	if err := tampered.VerifySignature(); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature after tampering, got %v", err)
	}
	unsigned := *ins
	unsigned.Signature = solana.Signature{}
	if err := unsigned.VerifySignature(); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestInstructionHexRoundTrip(t *testing.T) {
	ins, _ := newSignedTransfer(t)
	raw, err := ins.EncodeHex()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeInstructionHex(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := decoded.VerifySignature(); err != nil {
		t.Fatalf("decoded instruction does not verify: %v", err)
	}
	want, _ := ins.Hash()
	got, _ := decoded.Hash()
	if want != got {
		t.Fatalf("hash changed across encoding")
	}
	var payload TransferPayload
	if err := decoded.DecodePayload(&payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Amount != 42 {
		t.Fatalf("unexpected amount %d", payload.Amount)
	}
	if _, err := decoded.Account(1, "extra"); err == nil {
		t.Fatalf("expected missing account error")
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	ins := &Instruction{Type: InstructionType(0x7f)}
	raw, err := ins.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeInstruction(raw); err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}
}

func TestInstructionTypeNames(t *testing.T) {
	for typ, name := range instructionNames {
		parsed, err := ParseInstructionType(name)
		if err != nil || parsed != typ {
			t.Fatalf("parse %q = %v, %v", name, parsed, err)
		}
	}
	if InstructionReadContract.Mutating() {
		t.Fatalf("read_contract must not be mutating")
	}
	if !InstructionStartContract.Mutating() {
		t.Fatalf("start_contract must be mutating")
	}
}
