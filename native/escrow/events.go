package escrow

import (
	"strconv"

	"github.com/gagliardetto/solana-go"

	"payai/core/types"
)

const (
	EventTypeGlobalInitialized  = "escrow.global.initialized"
	EventTypeAdminUpdated       = "escrow.admin.updated"
	EventTypeFeeUpdated         = "escrow.fee.updated"
	EventTypeCounterInitialized = "escrow.counter.initialized"
	EventTypeAgreementStarted   = "escrow.agreement.started"
	EventTypeAgreementReleased  = "escrow.agreement.released"
	EventTypeAgreementRefunded  = "escrow.agreement.refunded"
	EventTypeAgreementRead      = "escrow.agreement.read"
	EventTypeFeesCollected      = "escrow.fees.collected"
)

// NewGlobalInitializedEvent returns the payload emitted once the singleton
// global state is created.
func NewGlobalInitializedEvent(addr solana.PublicKey, g *GlobalState) *types.Event {
	attrs := globalAttributes(g)
	attrs["globalState"] = addr.String()
	return &types.Event{Type: EventTypeGlobalInitialized, Attributes: attrs}
}

// NewAdminUpdatedEvent returns the payload for an administrator handover.
func NewAdminUpdatedEvent(previous, next solana.PublicKey) *types.Event {
	return &types.Event{Type: EventTypeAdminUpdated, Attributes: map[string]string{
		"previousAdmin": previous.String(),
		"admin":         next.String(),
	}}
}

// NewFeeUpdatedEvent returns the payload for a change of the buyer or seller
// fee percentage. side is "buyer" or "seller".
func NewFeeUpdatedEvent(side string, previous, next uint64) *types.Event {
	return &types.Event{Type: EventTypeFeeUpdated, Attributes: map[string]string{
		"side":     side,
		"previous": strconv.FormatUint(previous, 10),
		"pct":      strconv.FormatUint(next, 10),
	}}
}

// NewCounterInitializedEvent returns the payload emitted when a buyer opens
// their agreement counter.
func NewCounterInitializedEvent(buyer, counter solana.PublicKey) *types.Event {
	return &types.Event{Type: EventTypeCounterInitialized, Attributes: map[string]string{
		"buyer":        buyer.String(),
		"buyerCounter": counter.String(),
	}}
}

// NewAgreementStartedEvent returns the payload emitted when an agreement is
// created and its vault funded with gross.
func NewAgreementStartedEvent(addr, vault solana.PublicKey, a *Agreement, gross uint64) *types.Event {
	attrs := agreementAttributes(addr, a)
	attrs["escrowVault"] = vault.String()
	attrs["deposit"] = strconv.FormatUint(gross, 10)
	return &types.Event{Type: EventTypeAgreementStarted, Attributes: attrs}
}

// NewAgreementReleasedEvent returns the payload emitted when the seller is paid
// and the residue swept to the platform vault.
func NewAgreementReleasedEvent(addr solana.PublicKey, a *Agreement, payout, platformFee uint64) *types.Event {
	attrs := agreementAttributes(addr, a)
	attrs["payout"] = strconv.FormatUint(payout, 10)
	attrs["platformFee"] = strconv.FormatUint(platformFee, 10)
	return &types.Event{Type: EventTypeAgreementReleased, Attributes: attrs}
}

// NewAgreementRefundedEvent returns the payload emitted when the vault is
// returned to the buyer.
func NewAgreementRefundedEvent(addr solana.PublicKey, a *Agreement, refunded uint64) *types.Event {
	attrs := agreementAttributes(addr, a)
	attrs["refunded"] = strconv.FormatUint(refunded, 10)
	return &types.Event{Type: EventTypeAgreementRefunded, Attributes: attrs}
}

// NewAgreementReadEvent carries the agreement fields to observers of a read.
func NewAgreementReadEvent(addr solana.PublicKey, a *Agreement) *types.Event {
	return &types.Event{Type: EventTypeAgreementRead, Attributes: agreementAttributes(addr, a)}
}

// NewFeesCollectedEvent returns the payload for a platform fee sweep.
func NewFeesCollectedEvent(vault, admin solana.PublicKey, amount uint64) *types.Event {
	return &types.Event{Type: EventTypeFeesCollected, Attributes: map[string]string{
		"platformFeeVault": vault.String(),
		"admin":            admin.String(),
		"amount":           strconv.FormatUint(amount, 10),
	}}
}

func globalAttributes(g *GlobalState) map[string]string {
	attrs := make(map[string]string)
	if g == nil {
		return attrs
	}
	attrs["admin"] = g.Admin.String()
	attrs["buyerFeePct"] = strconv.FormatUint(g.BuyerFeePct, 10)
	attrs["sellerFeePct"] = strconv.FormatUint(g.SellerFeePct, 10)
	return attrs
}

func agreementAttributes(addr solana.PublicKey, a *Agreement) map[string]string {
	attrs := map[string]string{"agreement": addr.String()}
	if a == nil {
		return attrs
	}
	attrs["reference"] = a.Reference
	attrs["buyer"] = a.Buyer.String()
	attrs["seller"] = a.Seller.String()
	attrs["amount"] = strconv.FormatUint(a.Amount, 10)
	attrs["buyerCounter"] = strconv.FormatUint(a.BuyerCounter, 10)
	attrs["status"] = a.Status.String()
	return attrs
}
