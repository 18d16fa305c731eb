package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gagliardetto/solana-go"
)

// InstructionType defines which handler an instruction is routed to.
type InstructionType byte

const (
	InstructionTransfer               InstructionType = 0x01 // Host-level value transfer
	InstructionInitializeGlobalState  InstructionType = 0x10
	InstructionUpdateAdmin            InstructionType = 0x11
	InstructionUpdateBuyerFee         InstructionType = 0x12
	InstructionUpdateSellerFee        InstructionType = 0x13
	InstructionInitializeBuyerCounter InstructionType = 0x14
	InstructionStartContract          InstructionType = 0x15
	InstructionReleasePayment         InstructionType = 0x16
	InstructionRefundBuyer            InstructionType = 0x17
	InstructionCollectPlatformFees    InstructionType = 0x18
	InstructionReadContract           InstructionType = 0x19
)

var instructionNames = map[InstructionType]string{
	InstructionTransfer:               "transfer",
	InstructionInitializeGlobalState:  "initialize_global_state",
	InstructionUpdateAdmin:            "update_admin",
	InstructionUpdateBuyerFee:         "update_buyer_fee",
	InstructionUpdateSellerFee:        "update_seller_fee",
	InstructionInitializeBuyerCounter: "initialize_buyer_contract_counter",
	InstructionStartContract:          "start_contract",
	InstructionReleasePayment:         "release_payment",
	InstructionRefundBuyer:            "refund_buyer",
	InstructionCollectPlatformFees:    "collect_platform_fees",
	InstructionReadContract:           "read_contract",
}

func (t InstructionType) String() string {
	if name, ok := instructionNames[t]; ok {
		return name
	}
	return fmt.Sprintf("instruction(0x%02x)", byte(t))
}

// Valid reports whether t names a known handler.
func (t InstructionType) Valid() bool {
	_, ok := instructionNames[t]
	return ok
}

// Mutating reports whether the instruction may change state.
func (t InstructionType) Mutating() bool {
	return t.Valid() && t != InstructionReadContract
}

// ParseInstructionType resolves the snake_case instruction name.
func ParseInstructionType(name string) (InstructionType, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for t, n := range instructionNames {
		if n == normalized {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown instruction %q", name)
}

var (
	ErrMissingSignature = errors.New("instruction: missing signature")
	ErrInvalidSignature = errors.New("instruction: invalid signature")
)

// Instruction is the signed envelope submitted to the node. Accounts lists the
// record and vault addresses the handler touches in handler-defined order.
type Instruction struct {
	Type      InstructionType    `json:"type"`
	Signer    solana.PublicKey   `json:"signer"`
	Accounts  []solana.PublicKey `json:"accounts"`
	Data      []byte             `json:"data"`
	Nonce     uint64             `json:"nonce"`
	Expiry    uint64             `json:"expiry"`
	Signature solana.Signature   `json:"signature"`
}

type unsignedInstruction struct {
	Type     InstructionType
	Signer   solana.PublicKey
	Accounts []solana.PublicKey
	Data     []byte
	Nonce    uint64
	Expiry   uint64
}

// Hash returns keccak256 over the RLP encoding of every field except the
// signature.
func (ins *Instruction) Hash() ([32]byte, error) {
	encoded, err := rlp.EncodeToBytes(unsignedInstruction{
		Type:     ins.Type,
		Signer:   ins.Signer,
		Accounts: ins.Accounts,
		Data:     ins.Data,
		Nonce:    ins.Nonce,
		Expiry:   ins.Expiry,
	})
	if err != nil {
		return [32]byte{}, err
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}

// Sign sets Signer to the key's identity and attaches an ed25519 signature
// over Hash.
func (ins *Instruction) Sign(key solana.PrivateKey) error {
	ins.Signer = key.PublicKey()
	hash, err := ins.Hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash[:])
	if err != nil {
		return err
	}
	ins.Signature = sig
	return nil
}

// VerifySignature checks the signature against Signer.
func (ins *Instruction) VerifySignature() error {
	if ins.Signature == (solana.Signature{}) {
		return ErrMissingSignature
	}
	hash, err := ins.Hash()
	if err != nil {
		return err
	}
	if !ins.Signature.Verify(ins.Signer, hash[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// Account returns the i-th account or an error naming the missing slot.
func (ins *Instruction) Account(i int, name string) (solana.PublicKey, error) {
	if i < 0 || i >= len(ins.Accounts) {
		return solana.PublicKey{}, fmt.Errorf("instruction %s: missing account %d (%s)", ins.Type, i, name)
	}
	return ins.Accounts[i], nil
}

// Encode returns the RLP encoding of the full instruction.
func (ins *Instruction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(ins)
}

// EncodeHex returns the 0x-prefixed hex form of Encode.
func (ins *Instruction) EncodeHex() (string, error) {
	encoded, err := ins.Encode()
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(encoded), nil
}

// DecodeInstruction parses the RLP encoding produced by Encode.
func DecodeInstruction(data []byte) (*Instruction, error) {
	ins := new(Instruction)
	if err := rlp.DecodeBytes(data, ins); err != nil {
		return nil, fmt.Errorf("instruction: decode: %w", err)
	}
	if !ins.Type.Valid() {
		return nil, fmt.Errorf("instruction: unknown type 0x%02x", byte(ins.Type))
	}
	return ins, nil
}

// DecodeInstructionHex parses the hex form produced by EncodeHex.
func DecodeInstructionHex(raw string) (*Instruction, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	data, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("instruction: decode hex: %w", err)
	}
	return DecodeInstruction(data)
}

// TransferPayload is the Data of InstructionTransfer. Accounts: [recipient].
type TransferPayload struct {
	Amount uint64
}

// UpdateAdminPayload is the Data of InstructionUpdateAdmin.
type UpdateAdminPayload struct {
	NewAdmin solana.PublicKey
}

// FeePayload is the Data of the fee update instructions.
type FeePayload struct {
	Pct uint64
}

// StartContractPayload is the Data of InstructionStartContract.
type StartContractPayload struct {
	Reference string
	Seller    solana.PublicKey
	Amount    uint64
}

// EncodePayload RLP-encodes an instruction payload.
func EncodePayload(payload interface{}) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return rlp.EncodeToBytes(payload)
}

// DecodePayload decodes ins.Data into out.
func (ins *Instruction) DecodePayload(out interface{}) error {
	if len(ins.Data) == 0 {
		return fmt.Errorf("instruction %s: empty payload", ins.Type)
	}
	if err := rlp.DecodeBytes(ins.Data, out); err != nil {
		return fmt.Errorf("instruction %s: decode payload: %w", ins.Type, err)
	}
	return nil
}

// Receipt reports the outcome of an executed instruction.
type Receipt struct {
	Hash   string      `json:"hash"`
	Type   string      `json:"type"`
	Signer string      `json:"signer"`
	Events []Event     `json:"events"`
	Result interface{} `json:"result,omitempty"`
}
