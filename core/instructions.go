package core

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	coreerrors "payai/core/errors"
	"payai/core/events"
	"payai/core/state"
	"payai/core/types"
	"payai/native/escrow"
)

// Account order expected in Instruction.Accounts for each instruction type.
//
//	transfer                          [recipient]
//	initialize_global_state           [globalState]
//	update_admin, update_*_fee        [globalState]
//	initialize_buyer_contract_counter [buyerCounter]
//	start_contract                    [buyerCounter, agreement, escrowVault, globalState]
//	release_payment                   [agreement, escrowVault, seller, globalState, platformFeeVault]
//	refund_buyer                      [agreement, escrowVault, buyer, globalState]
//	collect_platform_fees             [globalState, platformFeeVault, admin]
//	read_contract                     [agreement]

// AgreementResult is the receipt result of start_contract, release_payment and
// refund_buyer.
type AgreementResult struct {
	Address   string            `json:"address" yaml:"address"`
	Agreement *escrow.Agreement `json:"agreement" yaml:"agreement"`
}

// CollectResult is the receipt result of collect_platform_fees.
type CollectResult struct {
	Amount uint64 `json:"amount" yaml:"amount"`
}

// newEngine builds an escrow engine bound to one instruction's overlay.
func (n *Node) newEngine(tx *state.Tx, emitter events.Emitter) *escrow.Engine {
	engine := escrow.NewEngine(n.cfg.BootstrapAdmin)
	engine.SetState(tx)
	engine.SetVaults(escrow.NewProgramVaults(n.cfg.ProgramID, tx))
	engine.SetPauses(n.cfg.Pauses)
	engine.SetDefaultFeePct(n.cfg.DefaultFeePct)
	engine.SetEmitter(emitter)
	return engine
}

func (n *Node) dispatch(tx *state.Tx, buf *events.Buffer, hash [32]byte, ins *types.Instruction) (interface{}, error) {
	engine := n.newEngine(tx, buf)
	signer := ins.Signer
	switch ins.Type {
	case types.InstructionTransfer:
		return nil, n.applyTransfer(tx, buf, hash, ins)

	case types.InstructionInitializeGlobalState:
		acc, err := ins.Account(0, "global state")
		if err != nil {
			return nil, err
		}
		global, err := engine.InitializeGlobalState(signer, escrow.GlobalStateAccounts{GlobalState: acc})
		if err != nil {
			return nil, err
		}
		return global, nil

	case types.InstructionUpdateAdmin:
		acc, err := ins.Account(0, "global state")
		if err != nil {
			return nil, err
		}
		var payload types.UpdateAdminPayload
		if err := ins.DecodePayload(&payload); err != nil {
			return nil, err
		}
		return nil, engine.UpdateAdmin(signer, escrow.GlobalStateAccounts{GlobalState: acc}, payload.NewAdmin)

	case types.InstructionUpdateBuyerFee, types.InstructionUpdateSellerFee:
		acc, err := ins.Account(0, "global state")
		if err != nil {
			return nil, err
		}
		var payload types.FeePayload
		if err := ins.DecodePayload(&payload); err != nil {
			return nil, err
		}
		accounts := escrow.GlobalStateAccounts{GlobalState: acc}
		if ins.Type == types.InstructionUpdateBuyerFee {
			return nil, engine.UpdateBuyerFee(signer, accounts, payload.Pct)
		}
		return nil, engine.UpdateSellerFee(signer, accounts, payload.Pct)

	case types.InstructionInitializeBuyerCounter:
		acc, err := ins.Account(0, "buyer counter")
		if err != nil {
			return nil, err
		}
		return nil, engine.InitializeBuyerCounter(signer, escrow.CounterAccounts{BuyerCounter: acc})

	case types.InstructionStartContract:
		keys, err := accounts(ins, "buyer counter", "agreement", "escrow vault", "global state")
		if err != nil {
			return nil, err
		}
		var payload types.StartContractPayload
		if err := ins.DecodePayload(&payload); err != nil {
			return nil, err
		}
		agreement, err := engine.StartContract(signer, escrow.StartAccounts{
			BuyerCounter: keys[0],
			Agreement:    keys[1],
			EscrowVault:  keys[2],
			GlobalState:  keys[3],
		}, payload.Reference, payload.Seller, payload.Amount)
		if err != nil {
			return nil, err
		}
		return &AgreementResult{Address: keys[1].String(), Agreement: agreement}, nil

	case types.InstructionReleasePayment:
		keys, err := accounts(ins, "agreement", "escrow vault", "seller", "global state", "platform fee vault")
		if err != nil {
			return nil, err
		}
		agreement, err := engine.ReleasePayment(signer, escrow.ReleaseAccounts{
			Agreement:        keys[0],
			EscrowVault:      keys[1],
			Seller:           keys[2],
			GlobalState:      keys[3],
			PlatformFeeVault: keys[4],
		})
		if err != nil {
			return nil, err
		}
		return &AgreementResult{Address: keys[0].String(), Agreement: agreement}, nil

	case types.InstructionRefundBuyer:
		keys, err := accounts(ins, "agreement", "escrow vault", "buyer", "global state")
		if err != nil {
			return nil, err
		}
		agreement, err := engine.RefundBuyer(signer, escrow.RefundAccounts{
			Agreement:   keys[0],
			EscrowVault: keys[1],
			Buyer:       keys[2],
			GlobalState: keys[3],
		})
		if err != nil {
			return nil, err
		}
		return &AgreementResult{Address: keys[0].String(), Agreement: agreement}, nil

	case types.InstructionCollectPlatformFees:
		keys, err := accounts(ins, "global state", "platform fee vault", "admin")
		if err != nil {
			return nil, err
		}
		amount, err := engine.CollectPlatformFees(signer, escrow.CollectAccounts{
			GlobalState:      keys[0],
			PlatformFeeVault: keys[1],
			Admin:            keys[2],
		})
		if err != nil {
			return nil, err
		}
		return &CollectResult{Amount: amount}, nil

	case types.InstructionReadContract:
		acc, err := ins.Account(0, "agreement")
		if err != nil {
			return nil, err
		}
		agreement, err := engine.ReadContract(acc)
		if err != nil {
			return nil, err
		}
		return agreement, nil
	}
	return nil, fmt.Errorf("%w: %s", coreerrors.ErrUnknownInstruction, ins.Type)
}

// applyTransfer moves lamports between plain identities. Derived addresses
// may receive but never send through this path.
func (n *Node) applyTransfer(tx *state.Tx, buf *events.Buffer, hash [32]byte, ins *types.Instruction) error {
	to, err := ins.Account(0, "recipient")
	if err != nil {
		return err
	}
	var payload types.TransferPayload
	if err := ins.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", coreerrors.ErrInvalidTransfer)
	}
	if to == (solana.PublicKey{}) {
		return fmt.Errorf("%w: empty recipient", coreerrors.ErrInvalidTransfer)
	}
	if err := tx.Transfer(ins.Signer, to, payload.Amount); err != nil {
		return err
	}
	buf.Emit(events.Transfer{From: ins.Signer, To: to, Amount: payload.Amount, TxHash: hash})
	return nil
}

func accounts(ins *types.Instruction, names ...string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, len(names))
	for i, name := range names {
		key, err := ins.Account(i, name)
		if err != nil {
			return nil, err
		}
		out[i] = key
	}
	return out, nil
}
