package escrow

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
)

// MaxReferenceLength bounds the agreement reference (an IPFS CID in practice).
const MaxReferenceLength = 64

// Status represents the lifecycle states of an agreement. Released and
// Refunded are terminal.
type Status uint8

const (
	StatusFunded Status = iota + 1
	StatusReleased
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusFunded, StatusReleased, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusFunded:
		return "funded"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus converts the textual form produced by String back into a Status.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "funded":
		return StatusFunded, nil
	case "released":
		return StatusReleased, nil
	case "refunded":
		return StatusRefunded, nil
	default:
		return 0, fmt.Errorf("escrow: unknown status %q", raw)
	}
}

// MarshalText renders the status as a lowercase word for JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses the lowercase word form.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// GlobalState is the program-wide singleton holding the administrator and the
// fee schedule.
type GlobalState struct {
	Admin        solana.PublicKey `json:"admin" yaml:"admin"`
	BuyerFeePct  uint64           `json:"buyerFeePct" yaml:"buyerFeePct"`
	SellerFeePct uint64           `json:"sellerFeePct" yaml:"sellerFeePct"`
}

// BuyerCounter is the per-buyer sequence used to derive agreement addresses.
type BuyerCounter struct {
	Counter uint64 `json:"counter" yaml:"counter"`
}

// Agreement is a single escrowed deal between a buyer and a seller. Its address
// is derived from the buyer and the counter value captured in BuyerCounter.
type Agreement struct {
	Reference    string           `json:"reference" yaml:"reference"`
	Buyer        solana.PublicKey `json:"buyer" yaml:"buyer"`
	Seller       solana.PublicKey `json:"seller" yaml:"seller"`
	Amount       uint64           `json:"amount" yaml:"amount"`
	BuyerCounter uint64           `json:"buyerCounter" yaml:"buyerCounter"`
	Status       Status           `json:"status" yaml:"status"`
}

// IsReleased reports whether the seller has been paid.
func (a *Agreement) IsReleased() bool { return a != nil && a.Status == StatusReleased }

// Settled reports whether the agreement reached a terminal state.
func (a *Agreement) Settled() bool {
	return a != nil && (a.Status == StatusReleased || a.Status == StatusRefunded)
}

// Clone returns a copy of the agreement so callers can mutate it without
// affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// ValidateReference checks that a reference is non-empty valid UTF-8 of at most
// MaxReferenceLength bytes.
func ValidateReference(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidReference)
	}
	if len(ref) > MaxReferenceLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidReference, len(ref), MaxReferenceLength)
	}
	if !utf8.ValidString(ref) {
		return fmt.Errorf("%w: not valid utf-8", ErrInvalidReference)
	}
	return nil
}
