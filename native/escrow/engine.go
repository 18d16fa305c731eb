package escrow

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"payai/core/events"
	"payai/core/state"
	"payai/core/types"
	"payai/native/common"
	"payai/native/fees"
)

// ModuleName is the pause switch consulted by mutating handlers.
const ModuleName = "escrow"

// DefaultFeePct is the buyer and seller fee applied when the global state is
// initialised.
const DefaultFeePct = 1

type engineState interface {
	CreateRecord(kind state.RecordKind, addr solana.PublicKey, value interface{}) error
	PutRecord(kind state.RecordKind, addr solana.PublicKey, value interface{}) error
	GetRecord(kind state.RecordKind, addr solana.PublicKey, out interface{}) (bool, error)
	Balance(addr solana.PublicKey) (uint64, error)
	Transfer(from, to solana.PublicKey, amount uint64) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine executes the escrow program against an instruction-scoped state
// overlay. An engine is cheap to construct; callers typically build one per
// instruction with the state and vault authority of that instruction.
type Engine struct {
	state          engineState
	vaults         VaultAuthority
	emitter        events.Emitter
	pauses         common.PauseView
	bootstrapAdmin solana.PublicKey
	defaultFeePct  uint64
}

// NewEngine creates an escrow engine with a no-op emitter and the default fee
// schedule.
func NewEngine(bootstrapAdmin solana.PublicKey) *Engine {
	return &Engine{
		emitter:        events.NoopEmitter{},
		bootstrapAdmin: bootstrapAdmin,
		defaultFeePct:  DefaultFeePct,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVaults configures the authority used to move value out of vaults.
func (e *Engine) SetVaults(v VaultAuthority) { e.vaults = v }

// SetPauses configures the pause view consulted before mutations.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetDefaultFeePct overrides the fee percentage written by
// InitializeGlobalState.
func (e *Engine) SetDefaultFeePct(pct uint64) { e.defaultFeePct = pct }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// BootstrapAdmin returns the identity allowed to initialise the global state.
func (e *Engine) BootstrapAdmin() solana.PublicKey { return e.bootstrapAdmin }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vaults == nil {
		return errNilVault
	}
	return nil
}

func (e *Engine) guard() error {
	if err := e.ready(); err != nil {
		return err
	}
	return common.Guard(e.pauses, ModuleName)
}

// GlobalStateAccounts names the accounts of the administrative handlers.
type GlobalStateAccounts struct {
	GlobalState solana.PublicKey
}

// CounterAccounts names the accounts of InitializeBuyerCounter.
type CounterAccounts struct {
	BuyerCounter solana.PublicKey
}

// StartAccounts names the accounts of StartContract.
type StartAccounts struct {
	BuyerCounter solana.PublicKey
	Agreement    solana.PublicKey
	EscrowVault  solana.PublicKey
	GlobalState  solana.PublicKey
}

// ReleaseAccounts names the accounts of ReleasePayment.
type ReleaseAccounts struct {
	Agreement        solana.PublicKey
	EscrowVault      solana.PublicKey
	Seller           solana.PublicKey
	GlobalState      solana.PublicKey
	PlatformFeeVault solana.PublicKey
}

// RefundAccounts names the accounts of RefundBuyer.
type RefundAccounts struct {
	Agreement   solana.PublicKey
	EscrowVault solana.PublicKey
	Buyer       solana.PublicKey
	GlobalState solana.PublicKey
}

// CollectAccounts names the accounts of CollectPlatformFees.
type CollectAccounts struct {
	GlobalState      solana.PublicKey
	PlatformFeeVault solana.PublicKey
	Admin            solana.PublicKey
}

// InitializeGlobalState creates the singleton global state. Only the bootstrap
// administrator may call it, and only once.
func (e *Engine) InitializeGlobalState(signer solana.PublicKey, acc GlobalStateAccounts) (*GlobalState, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if _, err := expect(e.vaults, acc.GlobalState, "global state", SeedGlobalState); err != nil {
		return nil, err
	}
	exists, err := e.state.GetRecord(state.KindGlobalState, acc.GlobalState, nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: global state %s", ErrDuplicateInitialization, acc.GlobalState)
	}
	if signer != e.bootstrapAdmin {
		return nil, fmt.Errorf("%w: %s is not the bootstrap admin", ErrUnauthorized, signer)
	}
	global := &GlobalState{
		Admin:        e.bootstrapAdmin,
		BuyerFeePct:  e.defaultFeePct,
		SellerFeePct: e.defaultFeePct,
	}
	if err := e.createRecord(state.KindGlobalState, acc.GlobalState, global); err != nil {
		return nil, err
	}
	e.emit(NewGlobalInitializedEvent(acc.GlobalState, global))
	return global, nil
}

// UpdateAdmin hands the administrator role to newAdmin. The new identity is
// not validated.
func (e *Engine) UpdateAdmin(signer solana.PublicKey, acc GlobalStateAccounts, newAdmin solana.PublicKey) error {
	global, err := e.adminGlobal(signer, acc.GlobalState)
	if err != nil {
		return err
	}
	previous := global.Admin
	global.Admin = newAdmin
	if err := e.state.PutRecord(state.KindGlobalState, acc.GlobalState, global); err != nil {
		return err
	}
	e.emit(NewAdminUpdatedEvent(previous, newAdmin))
	return nil
}

// UpdateBuyerFee replaces the buyer fee percentage. No upper bound is applied;
// an unusable value surfaces as ErrArithmetic when an agreement is started.
func (e *Engine) UpdateBuyerFee(signer solana.PublicKey, acc GlobalStateAccounts, pct uint64) error {
	return e.updateFee(signer, acc, "buyer", pct)
}

// UpdateSellerFee replaces the seller fee percentage. A value above 100 makes
// every later release fail with ErrArithmetic.
func (e *Engine) UpdateSellerFee(signer solana.PublicKey, acc GlobalStateAccounts, pct uint64) error {
	return e.updateFee(signer, acc, "seller", pct)
}

func (e *Engine) updateFee(signer solana.PublicKey, acc GlobalStateAccounts, side string, pct uint64) error {
	global, err := e.adminGlobal(signer, acc.GlobalState)
	if err != nil {
		return err
	}
	var previous uint64
	switch side {
	case "buyer":
		previous, global.BuyerFeePct = global.BuyerFeePct, pct
	case "seller":
		previous, global.SellerFeePct = global.SellerFeePct, pct
	default:
		return fmt.Errorf("escrow: unknown fee side %q", side)
	}
	if err := e.state.PutRecord(state.KindGlobalState, acc.GlobalState, global); err != nil {
		return err
	}
	e.emit(NewFeeUpdatedEvent(side, previous, pct))
	return nil
}

// adminGlobal validates the global state account and that signer is its
// administrator.
func (e *Engine) adminGlobal(signer, addr solana.PublicKey) (*GlobalState, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	global, err := e.loadGlobal(addr)
	if err != nil {
		return nil, err
	}
	if signer != global.Admin {
		return nil, fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, signer)
	}
	return global, nil
}

// InitializeBuyerCounter opens the agreement counter of signer at zero.
func (e *Engine) InitializeBuyerCounter(signer solana.PublicKey, acc CounterAccounts) error {
	if err := e.guard(); err != nil {
		return err
	}
	if _, err := expect(e.vaults, acc.BuyerCounter, "buyer counter", SeedBuyerCounter, signer[:]); err != nil {
		return err
	}
	if err := e.createRecord(state.KindBuyerCounter, acc.BuyerCounter, &BuyerCounter{}); err != nil {
		return err
	}
	e.emit(NewCounterInitializedEvent(signer, acc.BuyerCounter))
	return nil
}

// StartContract records a new agreement between signer (the buyer) and
// seller, advances the buyer's counter and deposits amount plus the buyer fee
// into the agreement's vault.
func (e *Engine) StartContract(signer solana.PublicKey, acc StartAccounts, reference string, seller solana.PublicKey, amount uint64) (*Agreement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if err := ValidateReference(reference); err != nil {
		return nil, err
	}
	global, err := e.loadGlobal(acc.GlobalState)
	if err != nil {
		return nil, err
	}
	if _, err := expect(e.vaults, acc.BuyerCounter, "buyer counter", SeedBuyerCounter, signer[:]); err != nil {
		return nil, err
	}
	counter := new(BuyerCounter)
	if err := e.loadRecord(state.KindBuyerCounter, acc.BuyerCounter, counter); err != nil {
		return nil, err
	}
	if _, err := expect(e.vaults, acc.Agreement, "agreement", SeedContract, signer[:], CounterSeed(counter.Counter)); err != nil {
		return nil, err
	}
	if _, err := expect(e.vaults, acc.EscrowVault, "escrow vault", SeedEscrowVault, acc.Agreement[:]); err != nil {
		return nil, err
	}

	next := counter.Counter + 1
	if next < counter.Counter {
		return nil, fmt.Errorf("%w: buyer counter exhausted", ErrArithmetic)
	}
	gross, err := fees.Gross(amount, global.BuyerFeePct)
	if err != nil {
		return nil, fmt.Errorf("%w: deposit for %d at %d%%: %v", ErrArithmetic, amount, global.BuyerFeePct, err)
	}
	balance, err := e.state.Balance(signer)
	if err != nil {
		return nil, err
	}
	if balance < gross {
		return nil, fmt.Errorf("%w: buyer holds %d, deposit needs %d", ErrInsufficientFunds, balance, gross)
	}

	agreement := &Agreement{
		Reference:    reference,
		Buyer:        signer,
		Seller:       seller,
		Amount:       amount,
		BuyerCounter: counter.Counter,
		Status:       StatusFunded,
	}
	if err := e.createRecord(state.KindAgreement, acc.Agreement, agreement); err != nil {
		return nil, err
	}
	counter.Counter = next
	if err := e.state.PutRecord(state.KindBuyerCounter, acc.BuyerCounter, counter); err != nil {
		return nil, err
	}
	if err := e.transfer(signer, acc.EscrowVault, gross); err != nil {
		return nil, err
	}
	e.emit(NewAgreementStartedEvent(acc.Agreement, acc.EscrowVault, agreement, gross))
	return agreement.Clone(), nil
}

// ReleasePayment pays the seller the agreement amount net of the seller fee
// and sweeps whatever remains in the vault to the platform fee vault. The
// buyer or the administrator may release.
func (e *Engine) ReleasePayment(signer solana.PublicKey, acc ReleaseAccounts) (*Agreement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, vaultBump, err := e.loadAgreementWithVault(acc.Agreement, acc.EscrowVault)
	if err != nil {
		return nil, err
	}
	global, err := e.loadGlobal(acc.GlobalState)
	if err != nil {
		return nil, err
	}
	if _, err := expect(e.vaults, acc.PlatformFeeVault, "platform fee vault", SeedPlatformFeeVault); err != nil {
		return nil, err
	}
	if acc.Seller != agreement.Seller {
		return nil, fmt.Errorf("%w: seller is %s, agreement pays %s", ErrAddressMismatch, acc.Seller, agreement.Seller)
	}
	if signer != agreement.Buyer && signer != global.Admin {
		return nil, fmt.Errorf("%w: %s may not release", ErrUnauthorized, signer)
	}
	if err := checkOpen(agreement); err != nil {
		return nil, err
	}
	payout, err := fees.Net(agreement.Amount, global.SellerFeePct)
	if err != nil {
		return nil, fmt.Errorf("%w: payout for %d at %d%%: %v", ErrArithmetic, agreement.Amount, global.SellerFeePct, err)
	}
	held, err := e.state.Balance(acc.EscrowVault)
	if err != nil {
		return nil, err
	}
	if held < payout {
		return nil, fmt.Errorf("%w: vault holds %d, payout needs %d", ErrInsufficientFunds, held, payout)
	}

	agreement.Status = StatusReleased
	if err := e.state.PutRecord(state.KindAgreement, acc.Agreement, agreement); err != nil {
		return nil, err
	}
	seeds := [][]byte{SeedEscrowVault, acc.Agreement[:]}
	if err := e.withdraw(acc.EscrowVault, vaultBump, seeds, agreement.Seller, payout); err != nil {
		return nil, err
	}
	residue, err := e.state.Balance(acc.EscrowVault)
	if err != nil {
		return nil, err
	}
	if err := e.withdraw(acc.EscrowVault, vaultBump, seeds, acc.PlatformFeeVault, residue); err != nil {
		return nil, err
	}
	e.emit(NewAgreementReleasedEvent(acc.Agreement, agreement, payout, residue))
	return agreement.Clone(), nil
}

// RefundBuyer returns the entire vault balance to the buyer. Only the
// administrator may refund.
func (e *Engine) RefundBuyer(signer solana.PublicKey, acc RefundAccounts) (*Agreement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, vaultBump, err := e.loadAgreementWithVault(acc.Agreement, acc.EscrowVault)
	if err != nil {
		return nil, err
	}
	global, err := e.loadGlobal(acc.GlobalState)
	if err != nil {
		return nil, err
	}
	if acc.Buyer != agreement.Buyer {
		return nil, fmt.Errorf("%w: buyer is %s, agreement was funded by %s", ErrAddressMismatch, acc.Buyer, agreement.Buyer)
	}
	if signer != global.Admin {
		return nil, fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, signer)
	}
	if err := checkOpen(agreement); err != nil {
		return nil, err
	}
	held, err := e.state.Balance(acc.EscrowVault)
	if err != nil {
		return nil, err
	}

	agreement.Status = StatusRefunded
	if err := e.state.PutRecord(state.KindAgreement, acc.Agreement, agreement); err != nil {
		return nil, err
	}
	seeds := [][]byte{SeedEscrowVault, acc.Agreement[:]}
	if err := e.withdraw(acc.EscrowVault, vaultBump, seeds, agreement.Buyer, held); err != nil {
		return nil, err
	}
	e.emit(NewAgreementRefundedEvent(acc.Agreement, agreement, held))
	return agreement.Clone(), nil
}

// CollectPlatformFees sweeps the platform fee vault to the administrator and
// returns the amount moved. An empty vault moves nothing.
func (e *Engine) CollectPlatformFees(signer solana.PublicKey, acc CollectAccounts) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	global, err := e.loadGlobal(acc.GlobalState)
	if err != nil {
		return 0, err
	}
	bump, err := expect(e.vaults, acc.PlatformFeeVault, "platform fee vault", SeedPlatformFeeVault)
	if err != nil {
		return 0, err
	}
	if acc.Admin != global.Admin {
		return 0, fmt.Errorf("%w: admin account is %s, expected %s", ErrAddressMismatch, acc.Admin, global.Admin)
	}
	if signer != global.Admin {
		return 0, fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, signer)
	}
	held, err := e.state.Balance(acc.PlatformFeeVault)
	if err != nil {
		return 0, err
	}
	if err := e.withdraw(acc.PlatformFeeVault, bump, [][]byte{SeedPlatformFeeVault}, global.Admin, held); err != nil {
		return 0, err
	}
	e.emit(NewFeesCollectedEvent(acc.PlatformFeeVault, global.Admin, held))
	return held, nil
}

// ReadContract returns the agreement stored at addr without mutating state.
func (e *Engine) ReadContract(addr solana.PublicKey) (*Agreement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	agreement := new(Agreement)
	if err := e.loadRecord(state.KindAgreement, addr, agreement); err != nil {
		return nil, err
	}
	e.emit(NewAgreementReadEvent(addr, agreement))
	return agreement, nil
}

// GlobalState returns the global state stored at addr.
func (e *Engine) GlobalState(addr solana.PublicKey) (*GlobalState, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadGlobal(addr)
}

// BuyerCounter returns the counter record stored at addr.
func (e *Engine) BuyerCounter(addr solana.PublicKey) (*BuyerCounter, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	counter := new(BuyerCounter)
	if err := e.loadRecord(state.KindBuyerCounter, addr, counter); err != nil {
		return nil, err
	}
	return counter, nil
}

func checkOpen(a *Agreement) error {
	switch a.Status {
	case StatusReleased:
		return ErrAlreadyReleased
	case StatusRefunded:
		return ErrAlreadyRefunded
	case StatusFunded:
		return nil
	default:
		return fmt.Errorf("escrow: agreement in unknown status %d", a.Status)
	}
}

func (e *Engine) loadGlobal(addr solana.PublicKey) (*GlobalState, error) {
	if _, err := expect(e.vaults, addr, "global state", SeedGlobalState); err != nil {
		return nil, err
	}
	global := new(GlobalState)
	if err := e.loadRecord(state.KindGlobalState, addr, global); err != nil {
		return nil, err
	}
	return global, nil
}

// loadAgreementWithVault loads the agreement at addr, checks that addr is
// derived from the buyer and counter the agreement records, and checks the
// vault address. The vault bump is returned for withdrawals.
func (e *Engine) loadAgreementWithVault(addr, vault solana.PublicKey) (*Agreement, uint8, error) {
	agreement := new(Agreement)
	if err := e.loadRecord(state.KindAgreement, addr, agreement); err != nil {
		return nil, 0, err
	}
	if _, err := expect(e.vaults, addr, "agreement", SeedContract, agreement.Buyer[:], CounterSeed(agreement.BuyerCounter)); err != nil {
		return nil, 0, err
	}
	bump, err := expect(e.vaults, vault, "escrow vault", SeedEscrowVault, addr[:])
	if err != nil {
		return nil, 0, err
	}
	return agreement, bump, nil
}

func (e *Engine) loadRecord(kind state.RecordKind, addr solana.PublicKey, out interface{}) error {
	ok, err := e.state.GetRecord(kind, addr, out)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrRecordNotFound, kind, addr)
	}
	return nil
}

func (e *Engine) createRecord(kind state.RecordKind, addr solana.PublicKey, value interface{}) error {
	err := e.state.CreateRecord(kind, addr, value)
	if errors.Is(err, state.ErrRecordExists) {
		return fmt.Errorf("%w: %v", ErrDuplicateInitialization, err)
	}
	return err
}

func (e *Engine) transfer(from, to solana.PublicKey, amount uint64) error {
	return mapLedgerError(e.state.Transfer(from, to, amount))
}

func (e *Engine) withdraw(vault solana.PublicKey, bump uint8, seeds [][]byte, to solana.PublicKey, amount uint64) error {
	return mapLedgerError(e.vaults.AuthorizeTransfer(vault, bump, seeds, to, amount))
}

func mapLedgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, state.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case errors.Is(err, state.ErrBalanceOverflow):
		return fmt.Errorf("%w: %v", ErrArithmetic, err)
	default:
		return err
	}
}
