// Package risk computes the AML risk score for a transfer from a versioned,
// data-driven table of weighted factors. Scoring is a pure function of its
// Input: no I/O, no clock, no shared state.
package risk

import (
	"fmt"
	"math/big"
	"strings"

	id "remitgate/pkg/domain"
)

// Input carries every attribute a rule may inspect. Flag memberships are
// resolved by the caller so scoring stays side-effect free.
type Input struct {
	Sender          id.Address
	Recipient       id.Address
	Amount          *big.Int
	HourUTC         int
	SenderListed    bool
	RecipientListed bool
}

// Assessment is the outcome of one scoring pass. Factors are in rule order.
type Assessment struct {
	Score     int
	Factors   []string
	Threshold int
	Version   string
}

// Exceeded reports whether the score reaches the threshold.
func (a Assessment) Exceeded() bool {
	return a.Score >= a.Threshold
}

// Reason renders the audit message for the assessment, e.g.
// "Risk score too high (80): High amount, Flagged recipient address".
func (a Assessment) Reason() string {
	prefix := "Risk score accepted"
	if a.Exceeded() {
		prefix = "Risk score too high"
	}
	if len(a.Factors) == 0 {
		return fmt.Sprintf("%s (%d)", prefix, a.Score)
	}
	return fmt.Sprintf("%s (%d): %s", prefix, a.Score, strings.Join(a.Factors, ", "))
}

// Scorer applies a compiled RuleSet.
type Scorer struct {
	version   string
	threshold int
	rules     []compiledRule
}

// NewScorer compiles rs.
func NewScorer(rs RuleSet) (*Scorer, error) {
	rules, err := compile(rs)
	if err != nil {
		return nil, err
	}
	return &Scorer{version: rs.Version, threshold: rs.Threshold, rules: rules}, nil
}

// NewDefaultScorer returns a Scorer over DefaultRuleSet.
func NewDefaultScorer() *Scorer {
	s, err := NewScorer(DefaultRuleSet())
	if err != nil {
		panic(fmt.Sprintf("default risk rules invalid: %v", err))
	}
	return s
}

// Threshold returns the denial threshold.
func (s *Scorer) Threshold() int { return s.threshold }

// Version returns the rule table version.
func (s *Scorer) Version() string { return s.version }

// Score evaluates every rule independently and sums the applicable weights.
func (s *Scorer) Score(in Input) Assessment {
	a := Assessment{Threshold: s.threshold, Version: s.version, Factors: []string{}}
	for _, r := range s.rules {
		weight, factor, ok := r.apply(in)
		if !ok {
			continue
		}
		a.Score += weight
		a.Factors = append(a.Factors, factor)
	}
	return a
}

func (r compiledRule) apply(in Input) (int, string, bool) {
	switch r.Kind {
	case KindAmountTier:
		if in.Amount == nil {
			return 0, "", false
		}
		for _, t := range r.tiers {
			if in.Amount.Cmp(t.above) > 0 {
				return t.weight, t.factor, true
			}
		}
	case KindRecipientFlagged:
		if in.RecipientListed || hasSuffix(in.Recipient, r.Suffixes) {
			return r.Weight, r.Factor, true
		}
	case KindSenderFlagged:
		if in.SenderListed || hasSuffix(in.Sender, r.Suffixes) {
			return r.Weight, r.Factor, true
		}
	case KindHourOutside:
		if in.HourUTC < r.StartHour || in.HourUTC > r.EndHour {
			return r.Weight, r.Factor, true
		}
	}
	return 0, "", false
}

func hasSuffix(addr id.Address, suffixes []string) bool {
	if addr.IsNil() {
		return false
	}
	lower := addr.Lower()
	for _, sfx := range suffixes {
		if sfx != "" && strings.HasSuffix(lower, sfx) {
			return true
		}
	}
	return false
}
