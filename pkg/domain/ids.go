package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	dErrors "remitgate/pkg/domain-errors"
)

// Address is a ledger account address in EIP-55 checksummed hex form.
// Parsing normalizes case so two spellings of one account compare equal.
type Address string

// UnknownAddress is recorded in audit entries when a sender could not be resolved.
const UnknownAddress Address = "unknown"

// ParseAddress validates a hex ledger address and returns its checksummed form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	if !common.IsHexAddress(s) {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid ledger address: %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "zero address is not a valid participant")
	}
	return Address(addr.Hex()), nil
}

// AddressFrom converts a go-ethereum address.
func AddressFrom(a common.Address) Address {
	return Address(a.Hex())
}

func (a Address) String() string { return string(a) }

// IsNil reports whether the address is unset.
func (a Address) IsNil() bool { return a == "" }

// Common returns the go-ethereum representation.
func (a Address) Common() common.Address {
	return common.HexToAddress(string(a))
}

// Lower returns the lowercase hex form used for suffix and set matching.
func (a Address) Lower() string {
	return strings.ToLower(string(a))
}

// TransferID identifies one escrow record. The ledger issues ids monotonically
// starting at 1, so zero means unset.
type TransferID uint64

// ParseTransferID parses a decimal transfer id.
func ParseTransferID(s string) (TransferID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "transfer id is required")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, dErrors.Newf(dErrors.CodeInvalidInput, "invalid transfer id: %q", s)
	}
	return TransferID(v), nil
}

func (t TransferID) String() string { return strconv.FormatUint(uint64(t), 10) }

// IsNil reports whether the id is unset.
func (t TransferID) IsNil() bool { return t == 0 }

// Currency is an upper-case ISO 4217 style code.
type Currency string

// ParseCurrency normalizes and checks a currency code against the recognized set.
func ParseCurrency(s string, recognized CurrencySet) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if c == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "currency is required")
	}
	if !recognized.Contains(c) {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unrecognized currency: %s", c)
	}
	return c, nil
}

func (c Currency) String() string { return string(c) }

// CurrencySet is the set of currencies the pipeline accepts.
type CurrencySet map[Currency]struct{}

// NewCurrencySet builds a set from codes, normalizing case.
func NewCurrencySet(codes ...string) CurrencySet {
	set := make(CurrencySet, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			set[Currency(code)] = struct{}{}
		}
	}
	return set
}

// Contains reports membership.
func (s CurrencySet) Contains(c Currency) bool {
	_, ok := s[c]
	return ok
}

// MaxAmountBits is the ledger's native amount width (uint256).
const MaxAmountBits = 256

// ParseAmount parses a positive integer amount in ledger minor units.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "amount is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "amount must be an integer in minor units: %q", s)
	}
	if v.Sign() <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}
	if v.BitLen() > MaxAmountBits {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "amount exceeds the ledger's 256-bit range")
	}
	return v, nil
}

// CloneAmount returns an independent copy so callers cannot mutate shared state.
func CloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// FormatAmount renders an amount for logs and audit entries.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// MustAmount is a test and seed helper; it panics on malformed input.
func MustAmount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(fmt.Sprintf("domain: bad amount %q: %v", s, err))
	}
	return v
}
