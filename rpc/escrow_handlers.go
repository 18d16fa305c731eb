package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"

	coreerrors "payai/core/errors"
	"payai/core/state"
	"payai/core/types"
	"payai/crypto"
	"payai/native/common"
	"payai/native/escrow"
)

func invalidParams(err error) *httpError {
	return &httpError{status: http.StatusBadRequest, err: &RPCError{Code: codeEscrowInvalidParams, Message: "invalid_params", Data: err.Error()}}
}

// decodeParams unmarshals the single parameter object of req into out.
func decodeParams(req *RPCRequest, out interface{}) *httpError {
	if len(req.Params) != 1 {
		return invalidParams(fmt.Errorf("exactly one parameter object expected"))
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams(err)
	}
	return nil
}

func parseIdentity(field, value string) (solana.PublicKey, *httpError) {
	key, err := crypto.ParseIdentity(value)
	if err != nil {
		return solana.PublicKey{}, invalidParams(fmt.Errorf("%s: %w", field, err))
	}
	return key, nil
}

// escrowError maps ledger and escrow failures onto JSON-RPC errors.
func escrowError(err error) *httpError {
	status, code := http.StatusInternalServerError, codeEscrowInternal
	switch {
	case errors.Is(err, escrow.ErrUnauthorized):
		status, code = http.StatusForbidden, codeEscrowForbidden
	case errors.Is(err, escrow.ErrRecordNotFound):
		status, code = http.StatusNotFound, codeEscrowNotFound
	case errors.Is(err, escrow.ErrAlreadyReleased),
		errors.Is(err, escrow.ErrAlreadyRefunded),
		errors.Is(err, escrow.ErrDuplicateInitialization),
		errors.Is(err, coreerrors.ErrReplay):
		status, code = http.StatusConflict, codeEscrowConflict
	case errors.Is(err, escrow.ErrModulePaused):
		status, code = http.StatusLocked, codeEscrowPaused
	case errors.Is(err, common.ErrQuotaRequestsExceeded),
		errors.Is(err, common.ErrQuotaLamportsExceeded):
		status, code = http.StatusTooManyRequests, codeEscrowQuota
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidReference),
		errors.Is(err, escrow.ErrAddressMismatch),
		errors.Is(err, escrow.ErrArithmetic),
		errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, state.ErrInsufficientBalance),
		errors.Is(err, state.ErrBalanceOverflow),
		errors.Is(err, state.ErrDerivedDebit),
		errors.Is(err, coreerrors.ErrInvalidTransfer),
		errors.Is(err, coreerrors.ErrExpired),
		errors.Is(err, coreerrors.ErrExpiryTooFar),
		errors.Is(err, coreerrors.ErrUnknownInstruction),
		errors.Is(err, types.ErrMissingSignature),
		errors.Is(err, types.ErrInvalidSignature):
		status, code = http.StatusBadRequest, codeEscrowInvalidParams
	}
	return &httpError{status: status, err: &RPCError{Code: code, Message: err.Error()}}
}

func (s *Server) handleSubmit(ctx context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params SubmitParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	ins, err := types.DecodeInstructionHex(params.Instruction)
	if err != nil {
		return nil, invalidParams(err)
	}
	if sig := strings.TrimSpace(params.Signature); sig != "" {
		parsed, err := solana.SignatureFromBase58(sig)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("signature: %w", err))
		}
		ins.Signature = parsed
	}
	receipt, err := s.node.Execute(ctx, ins)
	if err != nil {
		return nil, escrowError(err)
	}
	return receipt, nil
}

func (s *Server) handleGetAgreement(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params AddressParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	addr, herr := parseIdentity("address", params.Address)
	if herr != nil {
		return nil, herr
	}
	agreement, err := s.node.Agreement(addr)
	if err != nil {
		return nil, escrowError(err)
	}
	return &AgreementResult{Address: addr.String(), Agreement: agreement}, nil
}

func (s *Server) handleGetGlobalState(_ context.Context, _ *RPCRequest) (interface{}, *httpError) {
	global, err := s.node.GlobalState()
	if err != nil {
		return nil, escrowError(err)
	}
	accounts, _, err := s.node.DeriveAccounts(solana.PublicKey{})
	if err != nil {
		return nil, escrowError(err)
	}
	return &GlobalStateResult{Address: accounts.GlobalState.String(), GlobalState: global}, nil
}

func (s *Server) handleGetCounter(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params BuyerParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	buyer, herr := parseIdentity("buyer", params.Buyer)
	if herr != nil {
		return nil, herr
	}
	counter, err := s.node.BuyerCounter(buyer)
	if err != nil {
		return nil, escrowError(err)
	}
	accounts, _, err := s.node.DeriveAccounts(buyer)
	if err != nil {
		return nil, escrowError(err)
	}
	return &CounterResult{Address: accounts.BuyerCounter.String(), Buyer: buyer.String(), Counter: counter.Counter}, nil
}

func (s *Server) handleGetBalance(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params AddressParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	addr, herr := parseIdentity("address", params.Address)
	if herr != nil {
		return nil, herr
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		return nil, escrowError(err)
	}
	return &BalanceResult{Address: addr.String(), Balance: balance}, nil
}

func (s *Server) handleDeriveAccounts(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params DeriveParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	buyer, herr := parseIdentity("buyer", params.Buyer)
	if herr != nil {
		return nil, herr
	}
	accounts, counter, err := s.node.DeriveAccounts(buyer)
	if err != nil {
		return nil, escrowError(err)
	}
	result := &DeriveResult{
		ProgramID: s.node.ProgramID().String(),
		Counter:   counter,
		Accounts:  accounts,
	}
	if params.Instruction == "" {
		return result, nil
	}
	typ, err := types.ParseInstructionType(params.Instruction)
	if err != nil {
		return nil, invalidParams(err)
	}
	var agreement, recipient solana.PublicKey
	if params.Agreement != "" {
		if agreement, herr = parseIdentity("agreement", params.Agreement); herr != nil {
			return nil, herr
		}
	}
	if params.Recipient != "" {
		if recipient, herr = parseIdentity("recipient", params.Recipient); herr != nil {
			return nil, herr
		}
	}
	list, err := s.node.InstructionAccounts(typ, buyer, agreement, recipient)
	if err != nil {
		return nil, escrowError(err)
	}
	result.InstructionAccounts = list
	return result, nil
}

func (s *Server) handleQuote(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params QuoteParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	if params.Amount == 0 {
		return nil, escrowError(escrow.ErrInvalidAmount)
	}
	quote, err := s.node.Quote(params.Amount)
	if err != nil {
		return nil, escrowError(err)
	}
	return quote, nil
}
