package domain

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	dErrors "remitgate/pkg/domain-errors"
)

// FXRateDecimals is the fixed-point precision the escrow contract stores rates
// with: a rate of 1.1345 is recorded as 11345.
const FXRateDecimals = 4

// FXRate is an exchange rate in ledger fixed-point form. The pipeline treats it
// as an opaque value; it is carried into the escrow record, never applied.
type FXRate struct {
	scaled *big.Int
}

// ParseFXRate parses a decimal rate such as "1.1345" into fixed-point form.
// More than FXRateDecimals fractional digits are rejected rather than rounded.
func ParseFXRate(s string) (FXRate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FXRate{}, dErrors.New(dErrors.CodeInvalidInput, "fx_rate is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return FXRate{}, dErrors.Newf(dErrors.CodeInvalidInput, "invalid fx_rate: %q", s)
	}
	if !d.IsPositive() {
		return FXRate{}, dErrors.New(dErrors.CodeInvalidInput, "fx_rate must be positive")
	}
	shifted := d.Shift(FXRateDecimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return FXRate{}, dErrors.Newf(dErrors.CodeInvalidInput, "fx_rate supports at most %d decimal places", FXRateDecimals)
	}
	return FXRate{scaled: shifted.BigInt()}, nil
}

// FXRateFromScaled wraps a fixed-point value read back from the ledger.
func FXRateFromScaled(v *big.Int) FXRate {
	return FXRate{scaled: CloneAmount(v)}
}

// Scaled returns the fixed-point integer form.
func (r FXRate) Scaled() *big.Int {
	if r.scaled == nil {
		return new(big.Int)
	}
	return CloneAmount(r.scaled)
}

// IsZero reports whether the rate is unset.
func (r FXRate) IsZero() bool {
	return r.scaled == nil || r.scaled.Sign() == 0
}

// String renders the decimal form, e.g. "1.1345".
func (r FXRate) String() string {
	if r.scaled == nil {
		return "0"
	}
	return decimal.NewFromBigInt(r.scaled, -FXRateDecimals).String()
}
