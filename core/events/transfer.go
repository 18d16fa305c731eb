package events

import (
	"encoding/hex"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"payai/core/types"
)

const (
	// TypeTransfer is emitted for host-level balance movements between
	// signing identities.
	TypeTransfer = "transfer.native"
)

type Transfer struct {
	From   solana.PublicKey
	To     solana.PublicKey
	Amount uint64
	TxHash [32]byte
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   e.From.String(),
		"to":     e.To.String(),
		"amount": strconv.FormatUint(e.Amount, 10),
	}
	if e.TxHash != ([32]byte{}) {
		attrs["txHash"] = "0x" + hex.EncodeToString(e.TxHash[:])
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
