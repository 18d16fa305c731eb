package escrow

import (
	"errors"

	"payai/native/common"
)

var (
	ErrUnauthorized            = errors.New("escrow: unauthorized action")
	ErrAlreadyReleased         = errors.New("escrow: payment has already been released")
	ErrAlreadyRefunded         = errors.New("escrow: agreement has already been refunded")
	ErrInvalidAmount           = errors.New("escrow: invalid escrow amount")
	ErrInvalidReference        = errors.New("escrow: invalid agreement reference")
	ErrArithmetic              = errors.New("escrow: arithmetic overflow")
	ErrAddressMismatch         = errors.New("escrow: account address mismatch")
	ErrDuplicateInitialization = errors.New("escrow: account already initialized")
	ErrRecordNotFound          = errors.New("escrow: record not found")
	ErrInsufficientFunds       = errors.New("escrow: insufficient funds")

	// ErrModulePaused is returned by every mutating handler while the module
	// is paused.
	ErrModulePaused = common.ErrModulePaused

	errNilState = errors.New("escrow engine: state not configured")
	errNilVault = errors.New("escrow engine: vault authority not configured")
)
