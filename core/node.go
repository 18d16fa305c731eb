package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "payai/core/errors"
	"payai/core/events"
	"payai/core/genesis"
	"payai/core/state"
	"payai/core/types"
	"payai/native/common"
	"payai/native/escrow"
	"payai/native/fees"
	"payai/observability"
	telemetry "payai/observability/otel"
	"payai/storage"
)

// DefaultInstructionTTL bounds how far in the future a signed instruction may
// set its expiry when NodeConfig leaves it unset.
const DefaultInstructionTTL = 5 * time.Minute

// NodeConfig carries the runtime parameters of a Node.
type NodeConfig struct {
	ProgramID      solana.PublicKey
	BootstrapAdmin solana.PublicKey
	DefaultFeePct  uint64
	InstructionTTL time.Duration
	Pauses         common.PauseView
	// Quota limits the signed mutating instructions and the lamport outflow
	// of each signer per quota epoch.
	Quota common.Quota
	// AllowMigrate starts the node on a database whose schema version differs
	// from state.StateVersion.
	AllowMigrate bool
	Logger       *slog.Logger
}

// Node is the central controller, wiring the ledger state and the escrow
// program together. Mutating instructions are serialised behind a single
// writer lock; queries and ReadContract share a read lock.
type Node struct {
	db     storage.Database
	state  *state.Manager
	vaults *escrow.ProgramVaults
	cfg    NodeConfig
	logger *slog.Logger

	stateMu sync.RWMutex
	emitter events.Fanout
	stream  eventStream
	now     func() time.Time
}

// NewNode opens a node on db.
func NewNode(db storage.Database, cfg NodeConfig) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database must not be nil")
	}
	if cfg.ProgramID == (solana.PublicKey{}) {
		cfg.ProgramID = solana.MustPublicKeyFromBase58(escrow.DefaultProgramID)
	}
	if cfg.BootstrapAdmin == (solana.PublicKey{}) {
		return nil, coreerrors.ErrNoBootstrapAdmin
	}
	if cfg.DefaultFeePct > fees.Divisor {
		return nil, fmt.Errorf("node: default fee %d%% exceeds %d%%", cfg.DefaultFeePct, fees.Divisor)
	}
	if cfg.InstructionTTL <= 0 {
		cfg.InstructionTTL = DefaultInstructionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	manager := state.NewManager(db)
	if err := state.EnsureStateVersion(manager, cfg.AllowMigrate); err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	return &Node{
		db:     db,
		state:  manager,
		vaults: escrow.NewProgramVaults(cfg.ProgramID, nil),
		cfg:    cfg,
		logger: logger.With(slog.String("component", "node")),
		now:    time.Now,
	}, nil
}

// ProgramID returns the identity mixed into every derived address.
func (n *Node) ProgramID() solana.PublicKey { return n.cfg.ProgramID }

// Subscribe registers an emitter that receives every event published after a
// successful commit.
func (n *Node) Subscribe(e events.Emitter) { n.emitter.Add(e) }

// SetClock overrides the time source used for expiry checks.
func (n *Node) SetClock(now func() time.Time) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if now == nil {
		now = time.Now
	}
	n.now = now
}

// Close waits for in-flight instructions and closes the database.
func (n *Node) Close() {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.db.Close()
}

// ApplyGenesis credits the allocations of spec once. It returns whether the
// allocations were written by this call.
func (n *Node) ApplyGenesis(spec *genesis.GenesisSpec) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("node: genesis spec must not be nil")
	}
	if id, ok := spec.ProgramIDValue(); ok && id != n.cfg.ProgramID {
		return false, fmt.Errorf("%w: genesis %s, node %s", coreerrors.ErrProgramMismatch, id, n.cfg.ProgramID)
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return genesis.Apply(spec, n.state)
}

// Execute verifies the signature and validity window of ins and runs it.
func (n *Node) Execute(ctx context.Context, ins *types.Instruction) (*types.Receipt, error) {
	if ins == nil {
		return nil, coreerrors.ErrNilInstruction
	}
	return n.execute(ctx, ins, true)
}

// ExecuteUnsigned runs ins with Signer taken as already authenticated. It
// skips the signature, expiry and replay checks and is meant for in-process
// callers only.
func (n *Node) ExecuteUnsigned(ctx context.Context, ins *types.Instruction) (*types.Receipt, error) {
	if ins == nil {
		return nil, coreerrors.ErrNilInstruction
	}
	return n.execute(ctx, ins, false)
}

func (n *Node) execute(ctx context.Context, ins *types.Instruction, signed bool) (*types.Receipt, error) {
	start := time.Now()
	name := ins.Type.String()
	_, span := telemetry.Tracer().Start(ctx, "payai.instruction."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("payai.instruction", name),
			attribute.String("payai.signer", ins.Signer.String()),
		))
	defer span.End()

	receipt, err := n.run(ins, signed)

	outcome := outcomeOf(err)
	observability.EscrowMetrics().ObserveInstruction(name, outcome, time.Since(start))
	attrs := []any{
		slog.String("instruction", name),
		slog.String("signer", ins.Signer.String()),
		slog.String("outcome", outcome),
	}
	if receipt != nil {
		attrs = append(attrs, slog.String("hash", receipt.Hash))
		span.SetAttributes(attribute.String("payai.hash", receipt.Hash))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.logger.Warn("instruction failed", append(attrs, slog.String("error", err.Error()))...)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	n.logger.Info("instruction executed", attrs...)
	return receipt, nil
}

func (n *Node) run(ins *types.Instruction, signed bool) (*types.Receipt, error) {
	if !ins.Type.Valid() {
		return nil, fmt.Errorf("%w: 0x%02x", coreerrors.ErrUnknownInstruction, byte(ins.Type))
	}
	if signed {
		if err := ins.VerifySignature(); err != nil {
			return nil, err
		}
	}
	hash, err := ins.Hash()
	if err != nil {
		return nil, err
	}

	mutating := ins.Type.Mutating()
	if mutating {
		n.stateMu.Lock()
		defer n.stateMu.Unlock()
	} else {
		n.stateMu.RLock()
		defer n.stateMu.RUnlock()
	}

	if signed {
		if err := n.checkExpiry(ins); err != nil {
			return nil, err
		}
	}

	tx := n.state.Begin()
	defer tx.Discard()

	if signed && mutating {
		seen, err := tx.KVGet(replayKey(hash), nil)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, fmt.Errorf("%w: 0x%x", coreerrors.ErrReplay, hash)
		}
	}

	metered := signed && mutating && n.cfg.Quota.Enabled()
	var before uint64
	if metered {
		if before, err = tx.Balance(ins.Signer); err != nil {
			return nil, err
		}
	}

	buf := &events.Buffer{}
	result, err := n.dispatch(tx, buf, hash, ins)
	if err != nil {
		return nil, err
	}
	if metered {
		if err := n.chargeQuota(tx, ins.Signer, before); err != nil {
			return nil, err
		}
	}
	if mutating {
		if signed {
			if err := tx.KVPut(replayKey(hash), ins.Expiry); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
	}

	receipt := &types.Receipt{
		Hash:   "0x" + hex.EncodeToString(hash[:]),
		Type:   ins.Type.String(),
		Signer: ins.Signer.String(),
		Events: buf.Payloads(),
		Result: result,
	}
	n.publish(receipt.Hash, buf)
	return receipt, nil
}

// checkExpiry requires now <= Expiry <= now + InstructionTTL.
func (n *Node) checkExpiry(ins *types.Instruction) error {
	now := n.now().Unix()
	if now < 0 {
		now = 0
	}
	current := uint64(now)
	if ins.Expiry < current {
		return fmt.Errorf("%w: expiry %d before %d", coreerrors.ErrExpired, ins.Expiry, current)
	}
	limit := current + uint64(n.cfg.InstructionTTL/time.Second)
	if ins.Expiry > limit {
		return fmt.Errorf("%w: expiry %d after %d", coreerrors.ErrExpiryTooFar, ins.Expiry, limit)
	}
	return nil
}

// replayKey namespaces executed instruction hashes in the generic KV space.
// TODO: prune markers whose expiry has passed once storage exposes prefix
// iteration.
func replayKey(hash [32]byte) []byte {
	return append([]byte("replay/"), hash[:]...)
}

// chargeQuota counts one instruction and the signer's net outflow against
// its quota for the current epoch.
func (n *Node) chargeQuota(tx *state.Tx, signer solana.PublicKey, before uint64) error {
	after, err := tx.Balance(signer)
	if err != nil {
		return err
	}
	var outflow uint64
	if before > after {
		outflow = before - after
	}
	var prev common.QuotaNow
	if _, err := tx.KVGet(quotaKey(signer), &prev); err != nil {
		return err
	}
	next, err := common.CheckQuota(n.cfg.Quota, n.cfg.Quota.EpochID(n.now()), prev, 1, outflow)
	if err != nil {
		return fmt.Errorf("%w: signer %s", err, signer)
	}
	return tx.KVPut(quotaKey(signer), next)
}

func quotaKey(signer solana.PublicKey) []byte {
	return append([]byte("quota/"), signer[:]...)
}

// publish records metrics for the committed events and hands them to the
// subscribers and the event stream.
func (n *Node) publish(hash string, buf *events.Buffer) {
	metrics := observability.EscrowMetrics()
	for _, payload := range buf.Payloads() {
		observability.Events().RecordEmitted(payload.Type)
		n.stream.publish(hash, payload)
		for attr, route := range transferRoutes[payload.Type] {
			if amount, err := strconv.ParseUint(payload.Attributes[attr], 10, 64); err == nil {
				metrics.RecordTransfer(route, amount)
			}
		}
	}
	buf.Flush(&n.emitter)
}

var transferRoutes = map[string]map[string]string{
	escrow.EventTypeAgreementStarted:  {"deposit": observability.RouteDeposit},
	escrow.EventTypeAgreementReleased: {"payout": observability.RoutePayout, "platformFee": observability.RouteFee},
	escrow.EventTypeAgreementRefunded: {"refunded": observability.RouteRefund},
	escrow.EventTypeFeesCollected:     {"amount": observability.RouteWithdraw},
	events.TypeTransfer:               {"amount": observability.RouteHost},
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrMissingSignature),
		errors.Is(err, types.ErrInvalidSignature),
		errors.Is(err, coreerrors.ErrUnknownInstruction),
		errors.Is(err, coreerrors.ErrExpired),
		errors.Is(err, coreerrors.ErrExpiryTooFar),
		errors.Is(err, coreerrors.ErrReplay),
		errors.Is(err, common.ErrQuotaRequestsExceeded),
		errors.Is(err, common.ErrQuotaLamportsExceeded):
		return "rejected"
	default:
		return "failed"
	}
}
