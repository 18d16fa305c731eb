package rpc

import (
	"encoding/json"

	"github.com/gagliardetto/solana-go"

	"payai/native/escrow"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
	codeEscrowPaused        = -32026
	codeEscrowQuota         = -32027
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// SubmitParams carries a signed instruction. Signature, when present,
// replaces the one embedded in Instruction.
type SubmitParams struct {
	Instruction string `json:"instruction"`
	Signature   string `json:"signature,omitempty"`
}

type AddressParams struct {
	Address string `json:"address"`
}

type BuyerParams struct {
	Buyer string `json:"buyer"`
}

// DeriveParams asks for the program accounts of a buyer. When Instruction is
// set the ordered account list of that instruction, signed by Buyer, is
// returned as well.
type DeriveParams struct {
	Buyer       string `json:"buyer"`
	Instruction string `json:"instruction,omitempty"`
	Agreement   string `json:"agreement,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
}

type QuoteParams struct {
	Amount uint64 `json:"amount"`
}

type AgreementResult struct {
	Address   string            `json:"address" yaml:"address"`
	Agreement *escrow.Agreement `json:"agreement" yaml:"agreement"`
}

type GlobalStateResult struct {
	Address     string              `json:"address" yaml:"address"`
	GlobalState *escrow.GlobalState `json:"globalState" yaml:"globalState"`
}

type CounterResult struct {
	Address string `json:"address" yaml:"address"`
	Buyer   string `json:"buyer" yaml:"buyer"`
	Counter uint64 `json:"counter" yaml:"counter"`
}

type BalanceResult struct {
	Address string `json:"address" yaml:"address"`
	Balance uint64 `json:"balance" yaml:"balance"`
}

type DeriveResult struct {
	ProgramID           string             `json:"programId" yaml:"programId"`
	Counter             uint64             `json:"counter" yaml:"counter"`
	Accounts            escrow.Accounts    `json:"accounts" yaml:"accounts"`
	InstructionAccounts []solana.PublicKey `json:"instructionAccounts,omitempty" yaml:"instructionAccounts,omitempty"`
}
