package memory

import (
	"fmt"
	"math/big"
	"strings"

	id "remitgate/pkg/domain"
)

// MintAll parses "address=amount" pairs and credits each one. Nothing is
// minted unless every pair parses.
func (l *Ledger) MintAll(pairs []string) error {
	grants := make(map[id.Address]*big.Int, len(pairs))
	for _, pair := range pairs {
		rawAddr, rawAmount, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("balance %q: want address=amount", pair)
		}
		addr, err := id.ParseAddress(rawAddr)
		if err != nil {
			return fmt.Errorf("balance %q: %w", pair, err)
		}
		amount, err := id.ParseAmount(rawAmount)
		if err != nil {
			return fmt.Errorf("balance %q: %w", pair, err)
		}
		if prev, ok := grants[addr]; ok {
			amount.Add(amount, prev)
		}
		grants[addr] = amount
	}
	for addr, amount := range grants {
		l.Mint(addr, amount)
	}
	return nil
}
