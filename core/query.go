package core

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"payai/core/events"
	"payai/core/state"
	"payai/core/types"
	"payai/native/escrow"
	"payai/native/fees"
)

// view runs fn against a discarded overlay under the read lock.
func (n *Node) view(fn func(tx *state.Tx, engine *escrow.Engine) error) error {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	tx := n.state.Begin()
	defer tx.Discard()
	return fn(tx, n.newEngine(tx, events.NoopEmitter{}))
}

// Agreement returns the agreement stored at addr.
func (n *Node) Agreement(addr solana.PublicKey) (*escrow.Agreement, error) {
	var out *escrow.Agreement
	err := n.view(func(_ *state.Tx, engine *escrow.Engine) error {
		agreement, err := engine.ReadContract(addr)
		out = agreement
		return err
	})
	return out, err
}

// GlobalState returns the singleton global state.
func (n *Node) GlobalState() (*escrow.GlobalState, error) {
	addr, _, err := n.vaults.Derive(escrow.SeedGlobalState)
	if err != nil {
		return nil, err
	}
	var out *escrow.GlobalState
	err = n.view(func(_ *state.Tx, engine *escrow.Engine) error {
		global, err := engine.GlobalState(addr)
		out = global
		return err
	})
	return out, err
}

// BuyerCounter returns the agreement counter of buyer.
func (n *Node) BuyerCounter(buyer solana.PublicKey) (*escrow.BuyerCounter, error) {
	addr, _, err := n.vaults.Derive(escrow.SeedBuyerCounter, buyer[:])
	if err != nil {
		return nil, err
	}
	var out *escrow.BuyerCounter
	err = n.view(func(_ *state.Tx, engine *escrow.Engine) error {
		counter, err := engine.BuyerCounter(addr)
		out = counter
		return err
	})
	return out, err
}

// Balance returns the lamports held by addr.
func (n *Node) Balance(addr solana.PublicKey) (uint64, error) {
	var out uint64
	err := n.view(func(tx *state.Tx, _ *escrow.Engine) error {
		balance, err := tx.Balance(addr)
		out = balance
		return err
	})
	return out, err
}

// DeriveAccounts returns the program accounts of buyer's next agreement. A
// buyer without a counter is reported at counter zero.
func (n *Node) DeriveAccounts(buyer solana.PublicKey) (escrow.Accounts, uint64, error) {
	var counter uint64
	if buyer != (solana.PublicKey{}) {
		current, err := n.BuyerCounter(buyer)
		switch {
		case err == nil:
			counter = current.Counter
		case isNotFound(err):
		default:
			return escrow.Accounts{}, 0, err
		}
	}
	accounts, err := escrow.DeriveAccounts(n.vaults, buyer, counter)
	return accounts, counter, err
}

// AgreementAccounts derives the accounts of buyer's agreement number counter.
func (n *Node) AgreementAccounts(buyer solana.PublicKey, counter uint64) (escrow.Accounts, error) {
	return escrow.DeriveAccounts(n.vaults, buyer, counter)
}

// InstructionAccounts returns the account list of an instruction of type typ
// sent by signer, in the order the handler expects. agreement names the
// target of release_payment, refund_buyer and read_contract; recipient is
// used by transfer only.
func (n *Node) InstructionAccounts(typ types.InstructionType, signer, agreement, recipient solana.PublicKey) ([]solana.PublicKey, error) {
	derived, _, err := n.DeriveAccounts(signer)
	if err != nil {
		return nil, err
	}
	switch typ {
	case types.InstructionTransfer:
		return []solana.PublicKey{recipient}, nil
	case types.InstructionInitializeGlobalState, types.InstructionUpdateAdmin,
		types.InstructionUpdateBuyerFee, types.InstructionUpdateSellerFee:
		return []solana.PublicKey{derived.GlobalState}, nil
	case types.InstructionInitializeBuyerCounter:
		return []solana.PublicKey{derived.BuyerCounter}, nil
	case types.InstructionStartContract:
		return []solana.PublicKey{derived.BuyerCounter, derived.Agreement, derived.EscrowVault, derived.GlobalState}, nil
	case types.InstructionReadContract:
		return []solana.PublicKey{agreement}, nil
	case types.InstructionCollectPlatformFees:
		global, err := n.GlobalState()
		if err != nil {
			return nil, err
		}
		return []solana.PublicKey{derived.GlobalState, derived.PlatformFeeVault, global.Admin}, nil
	case types.InstructionReleasePayment, types.InstructionRefundBuyer:
		record, err := n.Agreement(agreement)
		if err != nil {
			return nil, err
		}
		vault, _, err := n.vaults.Derive(escrow.SeedEscrowVault, agreement[:])
		if err != nil {
			return nil, err
		}
		if typ == types.InstructionReleasePayment {
			return []solana.PublicKey{agreement, vault, record.Seller, derived.GlobalState, derived.PlatformFeeVault}, nil
		}
		return []solana.PublicKey{agreement, vault, record.Buyer, derived.GlobalState}, nil
	}
	return nil, fmt.Errorf("no account layout for %s", typ)
}

// Quote prices amount under the current global fee schedule.
func (n *Node) Quote(amount uint64) (fees.Quote, error) {
	global, err := n.GlobalState()
	if err != nil {
		return fees.Quote{}, err
	}
	quote, err := fees.NewQuote(amount, global.BuyerFeePct, global.SellerFeePct)
	if err != nil {
		return fees.Quote{}, fmt.Errorf("%w: %v", escrow.ErrArithmetic, err)
	}
	return quote, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, escrow.ErrRecordNotFound)
}
