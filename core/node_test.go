package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	coreerrors "payai/core/errors"
	"payai/core/events"
	"payai/core/genesis"
	"payai/core/state"
	"payai/core/types"
	"payai/crypto"
	"payai/native/common"
	"payai/native/escrow"
	"payai/storage"
)

type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, evt.EventType())
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types)
}

type harness struct {
	node   *Node
	events *recorder
	admin  solana.PrivateKey
	buyer  solana.PrivateKey
	seller solana.PrivateKey
	now    time.Time
	nonce  uint64
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newHarness(t *testing.T, pauses common.PauseView) *harness {
	t.Helper()
	h := &harness{
		events: &recorder{},
		admin:  newKey(t),
		buyer:  newKey(t),
		seller: newKey(t),
		now:    time.Unix(1_700_000_000, 0),
	}
	node, err := NewNode(storage.NewMemDB(), NodeConfig{
		BootstrapAdmin: h.admin.PublicKey(),
		DefaultFeePct:  1,
		InstructionTTL: time.Minute,
		Pauses:         pauses,
		Logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(node.Close)
	node.SetClock(func() time.Time { return h.now })
	node.Subscribe(h.events)

	spec, err := genesis.ParseGenesisSpec([]byte(fmt.Sprintf(
		`{"genesisTime":"2024-01-01T00:00:00Z","alloc":{%q:"10000"}}`, h.buyer.PublicKey())))
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	if applied, err := node.ApplyGenesis(spec); err != nil || !applied {
		t.Fatalf("apply genesis: applied=%v err=%v", applied, err)
	}
	h.node = node
	return h
}

func (h *harness) instruction(t *testing.T, key solana.PrivateKey, typ types.InstructionType, payload interface{}, agreement, recipient solana.PublicKey) *types.Instruction {
	t.Helper()
	accounts, err := h.node.InstructionAccounts(typ, key.PublicKey(), agreement, recipient)
	if err != nil {
		t.Fatalf("accounts for %s: %v", typ, err)
	}
	data, err := types.EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	h.nonce++
	ins := &types.Instruction{
		Type:     typ,
		Accounts: accounts,
		Data:     data,
		Nonce:    h.nonce,
		Expiry:   uint64(h.now.Unix()) + 30,
	}
	if err := ins.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ins
}

func (h *harness) submit(t *testing.T, key solana.PrivateKey, typ types.InstructionType, payload interface{}, agreement solana.PublicKey) (*types.Receipt, error) {
	t.Helper()
	return h.node.Execute(context.Background(), h.instruction(t, key, typ, payload, agreement, solana.PublicKey{}))
}

func (h *harness) mustSubmit(t *testing.T, key solana.PrivateKey, typ types.InstructionType, payload interface{}, agreement solana.PublicKey) *types.Receipt {
	t.Helper()
	receipt, err := h.submit(t, key, typ, payload, agreement)
	if err != nil {
		t.Fatalf("%s: %v", typ, err)
	}
	return receipt
}

func (h *harness) setup(t *testing.T) {
	t.Helper()
	h.mustSubmit(t, h.admin, types.InstructionInitializeGlobalState, nil, solana.PublicKey{})
	h.mustSubmit(t, h.buyer, types.InstructionInitializeBuyerCounter, nil, solana.PublicKey{})
}

func (h *harness) start(t *testing.T, amount uint64) solana.PublicKey {
	t.Helper()
	receipt := h.mustSubmit(t, h.buyer, types.InstructionStartContract, &types.StartContractPayload{
		Reference: "order-1",
		Seller:    h.seller.PublicKey(),
		Amount:    amount,
	}, solana.PublicKey{})
	result, ok := receipt.Result.(*AgreementResult)
	if !ok {
		t.Fatalf("unexpected start result %T", receipt.Result)
	}
	return solana.MustPublicKeyFromBase58(result.Address)
}

func (h *harness) expectBalance(t *testing.T, addr solana.PublicKey, want uint64) {
	t.Helper()
	got, err := h.node.Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != want {
		t.Fatalf("balance of %s = %d, want %d", addr, got, want)
	}
}

func TestNodeEscrowLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)

	quote, err := h.node.Quote(1000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Gross != 1010 || quote.Payout != 990 || quote.PlatformFee != 20 {
		t.Fatalf("unexpected quote %+v", quote)
	}

	agreement := h.start(t, 1000)
	accounts, err := h.node.AgreementAccounts(h.buyer.PublicKey(), 0)
	if err != nil {
		t.Fatalf("derive accounts: %v", err)
	}
	if accounts.Agreement != agreement {
		t.Fatalf("agreement %s not derived from counter 0 (%s)", agreement, accounts.Agreement)
	}
	h.expectBalance(t, h.buyer.PublicKey(), 8990)
	h.expectBalance(t, accounts.EscrowVault, 1010)

	counter, err := h.node.BuyerCounter(h.buyer.PublicKey())
	if err != nil || counter.Counter != 1 {
		t.Fatalf("counter after start: %+v err=%v", counter, err)
	}

	receipt := h.mustSubmit(t, h.buyer, types.InstructionReleasePayment, nil, agreement)
	if len(receipt.Events) != 1 || receipt.Events[0].Type != escrow.EventTypeAgreementReleased {
		t.Fatalf("unexpected release events %+v", receipt.Events)
	}
	h.expectBalance(t, h.seller.PublicKey(), 990)
	h.expectBalance(t, accounts.EscrowVault, 0)
	h.expectBalance(t, accounts.PlatformFeeVault, 20)

	stored, err := h.node.Agreement(agreement)
	if err != nil {
		t.Fatalf("agreement: %v", err)
	}
	if !stored.IsReleased() {
		t.Fatalf("agreement not released: %+v", stored)
	}

	if _, err := h.submit(t, h.buyer, types.InstructionReleasePayment, nil, agreement); !errors.Is(err, escrow.ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}

	receipt = h.mustSubmit(t, h.admin, types.InstructionCollectPlatformFees, nil, solana.PublicKey{})
	if result, ok := receipt.Result.(*CollectResult); !ok || result.Amount != 20 {
		t.Fatalf("unexpected collect result %#v", receipt.Result)
	}
	h.expectBalance(t, h.admin.PublicKey(), 20)
	h.expectBalance(t, accounts.PlatformFeeVault, 0)

	if got := h.events.count(); got != 5 {
		t.Fatalf("expected 5 published events, got %d", got)
	}
}

func TestNodeRefundAndAdminRotation(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)
	agreement := h.start(t, 1000)

	if _, err := h.submit(t, h.buyer, types.InstructionRefundBuyer, nil, agreement); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("expected buyer refund to be unauthorized, got %v", err)
	}

	newAdmin := newKey(t)
	h.mustSubmit(t, h.admin, types.InstructionUpdateAdmin, &types.UpdateAdminPayload{NewAdmin: newAdmin.PublicKey()}, solana.PublicKey{})
	if _, err := h.submit(t, h.admin, types.InstructionRefundBuyer, nil, agreement); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("expected former admin to be unauthorized, got %v", err)
	}
	h.mustSubmit(t, newAdmin, types.InstructionRefundBuyer, nil, agreement)
	h.expectBalance(t, h.buyer.PublicKey(), 10000)

	if _, err := h.submit(t, newAdmin, types.InstructionRefundBuyer, nil, agreement); !errors.Is(err, escrow.ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}

	h.mustSubmit(t, newAdmin, types.InstructionUpdateSellerFee, &types.FeePayload{Pct: 5}, solana.PublicKey{})
	global, err := h.node.GlobalState()
	if err != nil {
		t.Fatalf("global state: %v", err)
	}
	if global.Admin != newAdmin.PublicKey() || global.SellerFeePct != 5 || global.BuyerFeePct != 1 {
		t.Fatalf("unexpected global state %+v", global)
	}
}

func TestNodeRejectsInvalidEnvelopes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	ins := h.instruction(t, h.admin, types.InstructionInitializeGlobalState, nil, solana.PublicKey{}, solana.PublicKey{})
	if _, err := h.node.Execute(ctx, ins); err != nil {
		t.Fatalf("first execution: %v", err)
	}
	if _, err := h.node.Execute(ctx, ins); !errors.Is(err, coreerrors.ErrReplay) {
		t.Fatalf("expected ErrReplay, got %v", err)
	}

	expired := h.instruction(t, h.buyer, types.InstructionInitializeBuyerCounter, nil, solana.PublicKey{}, solana.PublicKey{})
	h.now = h.now.Add(time.Minute)
	if _, err := h.node.Execute(ctx, expired); !errors.Is(err, coreerrors.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	far := h.instruction(t, h.buyer, types.InstructionInitializeBuyerCounter, nil, solana.PublicKey{}, solana.PublicKey{})
	far.Expiry = uint64(h.now.Add(time.Hour).Unix())
	if err := far.Sign(h.buyer); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := h.node.Execute(ctx, far); !errors.Is(err, coreerrors.ErrExpiryTooFar) {
		t.Fatalf("expected ErrExpiryTooFar, got %v", err)
	}

	tampered := h.instruction(t, h.buyer, types.InstructionInitializeBuyerCounter, nil, solana.PublicKey{}, solana.PublicKey{})
	tampered.Nonce++
	if _, err := h.node.Execute(ctx, tampered); !errors.Is(err, types.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	unsigned := h.instruction(t, h.buyer, types.InstructionInitializeBuyerCounter, nil, solana.PublicKey{}, solana.PublicKey{})
	unsigned.Signature = solana.Signature{}
	if _, err := h.node.Execute(ctx, unsigned); !errors.Is(err, types.ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}

	unknown := &types.Instruction{Type: types.InstructionType(0x7f)}
	if _, err := h.node.ExecuteUnsigned(ctx, unknown); !errors.Is(err, coreerrors.ErrUnknownInstruction) {
		t.Fatalf("expected ErrUnknownInstruction, got %v", err)
	}
	if _, err := h.node.Execute(ctx, nil); !errors.Is(err, coreerrors.ErrNilInstruction) {
		t.Fatalf("expected ErrNilInstruction, got %v", err)
	}
}

func TestNodeFailedInstructionIsAtomic(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)
	published := h.events.count()

	tooMuch := h.instruction(t, h.buyer, types.InstructionStartContract, &types.StartContractPayload{
		Reference: "order-1",
		Seller:    h.seller.PublicKey(),
		Amount:    10_000,
	}, solana.PublicKey{}, solana.PublicKey{})
	for i := 0; i < 2; i++ {
		if _, err := h.node.Execute(context.Background(), tooMuch); !errors.Is(err, escrow.ErrInsufficientFunds) {
			t.Fatalf("attempt %d: expected ErrInsufficientFunds, got %v", i, err)
		}
	}
	counter, err := h.node.BuyerCounter(h.buyer.PublicKey())
	if err != nil || counter.Counter != 0 {
		t.Fatalf("counter advanced by failed start: %+v err=%v", counter, err)
	}
	h.expectBalance(t, h.buyer.PublicKey(), 10000)
	if h.events.count() != published {
		t.Fatalf("failed instruction published events")
	}

	h.start(t, 1000)
	h.expectBalance(t, h.buyer.PublicKey(), 8990)
}

func TestNodeHostTransfer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	data, err := types.EncodePayload(&types.TransferPayload{Amount: 2500})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ins := h.instruction(t, h.buyer, types.InstructionTransfer, &types.TransferPayload{Amount: 2500}, solana.PublicKey{}, h.seller.PublicKey())
	receipt, err := h.node.Execute(ctx, ins)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Type != events.TypeTransfer || receipt.Events[0].Attributes["txHash"] != receipt.Hash {
		t.Fatalf("unexpected transfer receipt %+v", receipt)
	}
	h.expectBalance(t, h.buyer.PublicKey(), 7500)
	h.expectBalance(t, h.seller.PublicKey(), 2500)

	zero, _ := types.EncodePayload(&types.TransferPayload{})
	if _, err := h.node.ExecuteUnsigned(ctx, &types.Instruction{
		Type: types.InstructionTransfer, Signer: h.buyer.PublicKey(), Accounts: []solana.PublicKey{h.seller.PublicKey()}, Data: zero,
	}); !errors.Is(err, coreerrors.ErrInvalidTransfer) {
		t.Fatalf("expected ErrInvalidTransfer, got %v", err)
	}
	if _, err := h.node.ExecuteUnsigned(ctx, &types.Instruction{
		Type: types.InstructionTransfer, Signer: h.buyer.PublicKey(), Data: data,
	}); err == nil {
		t.Fatalf("expected missing recipient to fail")
	}
}

func TestNodeReadContract(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)
	agreement := h.start(t, 400)

	for i := 0; i < 2; i++ {
		receipt := h.mustSubmit(t, h.seller, types.InstructionReadContract, nil, agreement)
		stored, ok := receipt.Result.(*escrow.Agreement)
		if !ok || stored.Amount != 400 || stored.Seller != h.seller.PublicKey() {
			t.Fatalf("unexpected read result %#v", receipt.Result)
		}
		if len(receipt.Events) != 1 || receipt.Events[0].Type != escrow.EventTypeAgreementRead {
			t.Fatalf("unexpected read events %+v", receipt.Events)
		}
	}

	missing := newKey(t).PublicKey()
	if _, err := h.node.Agreement(missing); !errors.Is(err, escrow.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestNodePausedEscrow(t *testing.T) {
	h := newHarness(t, common.Pauses{escrow.ModuleName: true})
	if _, err := h.submit(t, h.admin, types.InstructionInitializeGlobalState, nil, solana.PublicKey{}); !errors.Is(err, escrow.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	ins := h.instruction(t, h.buyer, types.InstructionTransfer, &types.TransferPayload{Amount: 1}, solana.PublicKey{}, h.seller.PublicKey())
	if _, err := h.node.Execute(context.Background(), ins); err != nil {
		t.Fatalf("host transfer should ignore escrow pause: %v", err)
	}
}

func TestApplyGenesisProgramMismatch(t *testing.T) {
	h := newHarness(t, nil)
	other := newKey(t).PublicKey()
	spec, err := genesis.ParseGenesisSpec([]byte(fmt.Sprintf(
		`{"genesisTime":"2024-01-01T00:00:00Z","programId":%q,"alloc":{}}`, other)))
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	if _, err := h.node.ApplyGenesis(spec); !errors.Is(err, coreerrors.ErrProgramMismatch) {
		t.Fatalf("expected ErrProgramMismatch, got %v", err)
	}
}

func TestNewNodeValidation(t *testing.T) {
	if _, err := NewNode(nil, NodeConfig{}); err == nil {
		t.Fatalf("expected nil database to fail")
	}
	admin := newKey(t).PublicKey()
	if _, err := NewNode(storage.NewMemDB(), NodeConfig{BootstrapAdmin: admin, DefaultFeePct: 101}); err == nil {
		t.Fatalf("expected fee above 100 to fail")
	}
	if _, err := NewNode(storage.NewMemDB(), NodeConfig{}); !errors.Is(err, coreerrors.ErrNoBootstrapAdmin) {
		t.Fatalf("expected ErrNoBootstrapAdmin, got %v", err)
	}
	node, err := NewNode(storage.NewMemDB(), NodeConfig{BootstrapAdmin: newKey(t).PublicKey()})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer node.Close()
	if node.ProgramID().String() != escrow.DefaultProgramID {
		t.Fatalf("unexpected default program id %s", node.ProgramID())
	}
}

func TestNodeQuotaLimitsSignerOutflow(t *testing.T) {
	h := newHarness(t, nil)
	h.node.cfg.Quota = common.Quota{MaxLamportsPerEpoch: 1500, EpochSeconds: 60}
	h.setup(t)
	h.start(t, 1000)

	_, err := h.submit(t, h.buyer, types.InstructionStartContract, &types.StartContractPayload{
		Reference: "order-2",
		Seller:    h.seller.PublicKey(),
		Amount:    1000,
	}, solana.PublicKey{})
	if !errors.Is(err, common.ErrQuotaLamportsExceeded) {
		t.Fatalf("expected ErrQuotaLamportsExceeded, got %v", err)
	}
	h.expectBalance(t, h.buyer.PublicKey(), 10000-1010)
	counter, err := h.node.BuyerCounter(h.buyer.PublicKey())
	if err != nil || counter.Counter != 1 {
		t.Fatalf("rejected start must not advance the counter: %+v %v", counter, err)
	}

	h.now = h.now.Add(time.Minute)
	h.start(t, 1000)
	h.expectBalance(t, h.buyer.PublicKey(), 10000-2020)
}

func TestNodeQuotaLimitsInstructionCount(t *testing.T) {
	h := newHarness(t, nil)
	h.node.cfg.Quota = common.Quota{MaxRequestsPerEpoch: 2}
	h.setup(t)

	recipient := h.seller.PublicKey()
	send := func() error {
		ins := h.instruction(t, h.buyer, types.InstructionTransfer, &types.TransferPayload{Amount: 1}, solana.PublicKey{}, recipient)
		_, err := h.node.Execute(context.Background(), ins)
		return err
	}
	if err := send(); err != nil {
		t.Fatalf("second buyer instruction: %v", err)
	}
	if err := send(); !errors.Is(err, common.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if _, err := h.node.ExecuteUnsigned(context.Background(), h.instruction(t, h.buyer, types.InstructionTransfer, &types.TransferPayload{Amount: 1}, solana.PublicKey{}, recipient)); err != nil {
		t.Fatalf("unsigned execution is not metered: %v", err)
	}
	h.expectBalance(t, recipient, 2)
}

func TestNewNodeRejectsSchemaMismatch(t *testing.T) {
	db := storage.NewMemDB()
	if err := state.NewManager(db).SetStateVersion(state.StateVersion + 1); err != nil {
		t.Fatalf("set version: %v", err)
	}
	admin := newKey(t).PublicKey()
	if _, err := NewNode(db, NodeConfig{BootstrapAdmin: admin}); !errors.Is(err, state.ErrStateVersionMismatch) {
		t.Fatalf("expected ErrStateVersionMismatch, got %v", err)
	}
	if _, err := NewNode(db, NodeConfig{BootstrapAdmin: admin, AllowMigrate: true}); err != nil {
		t.Fatalf("allow migrate: %v", err)
	}
}
