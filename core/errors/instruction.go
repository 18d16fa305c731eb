package errors

import stderrors "errors"

var (
	ErrNilInstruction     = stderrors.New("node: nil instruction")
	ErrUnknownInstruction = stderrors.New("node: unknown instruction type")
	ErrExpired            = stderrors.New("node: instruction expired")
	ErrExpiryTooFar       = stderrors.New("node: instruction expiry beyond allowed window")
	ErrReplay             = stderrors.New("node: instruction already executed")
	ErrInvalidTransfer    = stderrors.New("node: invalid transfer")
	ErrProgramMismatch    = stderrors.New("node: genesis program id does not match node")
	ErrNoBootstrapAdmin   = stderrors.New("node: bootstrap admin must be set")
)
