package fees

import (
	"errors"

	"github.com/holiman/uint256"
)

// Divisor is the denominator applied to fee percentages. The amount is divided
// before the percentage is applied, so amounts below Divisor carry no fee.
const Divisor = 100

// ErrArithmetic reports an overflow or underflow while computing fee totals.
var ErrArithmetic = errors.New("fees: arithmetic overflow")

var divisor = uint256.NewInt(Divisor)

// Fee returns floor(amount/Divisor) * pct.
func Fee(amount, pct uint64) (uint64, error) {
	fee, err := fee(amount, pct)
	if err != nil {
		return 0, err
	}
	return fee.Uint64(), nil
}

// Gross returns the amount a buyer must deposit: amount plus its fee.
func Gross(amount, pct uint64) (uint64, error) {
	f, err := fee(amount, pct)
	if err != nil {
		return 0, err
	}
	total, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(amount), f)
	if overflow || !total.IsUint64() {
		return 0, ErrArithmetic
	}
	return total.Uint64(), nil
}

// Net returns the amount a seller receives: amount minus its fee. A fee larger
// than the amount (pct above Divisor) fails rather than saturating at zero.
func Net(amount, pct uint64) (uint64, error) {
	f, err := fee(amount, pct)
	if err != nil {
		return 0, err
	}
	remaining, underflow := new(uint256.Int).SubOverflow(uint256.NewInt(amount), f)
	if underflow {
		return 0, ErrArithmetic
	}
	return remaining.Uint64(), nil
}

func fee(amount, pct uint64) (*uint256.Int, error) {
	units := new(uint256.Int).Div(uint256.NewInt(amount), divisor)
	out, overflow := new(uint256.Int).MulOverflow(units, uint256.NewInt(pct))
	if overflow || !out.IsUint64() {
		return nil, ErrArithmetic
	}
	return out, nil
}

// Quote summarises the value movements of an agreement for a given amount and
// fee schedule.
type Quote struct {
	Amount      uint64 `json:"amount" yaml:"amount"`
	BuyerFee    uint64 `json:"buyerFee" yaml:"buyerFee"`
	Gross       uint64 `json:"gross" yaml:"gross"`
	SellerFee   uint64 `json:"sellerFee" yaml:"sellerFee"`
	Payout      uint64 `json:"payout" yaml:"payout"`
	PlatformFee uint64 `json:"platformFee" yaml:"platformFee"`
}

// NewQuote computes the deposit, seller payout and the residue swept to the
// platform vault on release.
func NewQuote(amount, buyerPct, sellerPct uint64) (Quote, error) {
	q := Quote{Amount: amount}
	var err error
	if q.BuyerFee, err = Fee(amount, buyerPct); err != nil {
		return Quote{}, err
	}
	if q.Gross, err = Gross(amount, buyerPct); err != nil {
		return Quote{}, err
	}
	if q.SellerFee, err = Fee(amount, sellerPct); err != nil {
		return Quote{}, err
	}
	if q.Payout, err = Net(amount, sellerPct); err != nil {
		return Quote{}, err
	}
	// Payout <= amount <= Gross once both calls above succeed.
	q.PlatformFee = q.Gross - q.Payout
	return q, nil
}
