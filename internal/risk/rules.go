package risk

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind selects how a rule inspects the Input.
type Kind string

const (
	KindAmountTier       Kind = "amount_tier"
	KindRecipientFlagged Kind = "recipient_flagged"
	KindHourOutside      Kind = "hour_outside"
	KindSenderFlagged    Kind = "sender_flagged"
)

// DefaultThreshold is the score at or above which a transfer is non-compliant.
const DefaultThreshold = 70

// Tier is one amount band. Above is a decimal integer in ledger minor units.
type Tier struct {
	Above  string `yaml:"above"`
	Weight int    `yaml:"weight"`
	Factor string `yaml:"factor"`
}

// Rule is one weighted factor. Fields not used by Kind are ignored.
type Rule struct {
	Kind   Kind   `yaml:"kind"`
	Factor string `yaml:"factor"`
	Weight int    `yaml:"weight"`

	// amount_tier
	Tiers []Tier `yaml:"tiers,omitempty"`

	// recipient_flagged: lowercase hex suffixes treated as reserved
	Suffixes []string `yaml:"suffixes,omitempty"`

	// hour_outside: inclusive UTC hour window considered normal
	StartHour int `yaml:"start_hour,omitempty"`
	EndHour   int `yaml:"end_hour,omitempty"`
}

// RuleSet is a versioned scoring table.
type RuleSet struct {
	Version   string `yaml:"version"`
	Threshold int    `yaml:"threshold"`
	Rules     []Rule `yaml:"rules"`
}

// DefaultRuleSet returns the v1 table. Factors are listed in rule order,
// which is also the order they appear in reasons.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Version:   "v1",
		Threshold: DefaultThreshold,
		Rules: []Rule{
			{
				Kind: KindAmountTier,
				Tiers: []Tier{
					{Above: "1000000", Weight: 40, Factor: "High amount"},
					{Above: "500000", Weight: 20, Factor: "Medium amount"},
				},
			},
			{
				Kind:     KindRecipientFlagged,
				Factor:   "Flagged recipient address",
				Weight:   25,
				Suffixes: []string{"dead"},
			},
			{
				Kind:      KindHourOutside,
				Factor:    "Unusual transaction hour",
				Weight:    15,
				StartHour: 6,
				EndHour:   22,
			},
			{
				Kind:   KindSenderFlagged,
				Factor: "Flagged sender address",
				Weight: 20,
			},
		},
	}
}

// LoadRuleSet reads a YAML rule table from path. Unknown fields are rejected.
func LoadRuleSet(path string) (RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read risk rules: %w", err)
	}
	return ParseRuleSet(raw)
}

// ParseRuleSet decodes a YAML rule table. A missing threshold falls back to
// DefaultThreshold.
func ParseRuleSet(raw []byte) (RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return RuleSet{}, fmt.Errorf("decode risk rules: %w", err)
	}
	if rs.Threshold == 0 {
		rs.Threshold = DefaultThreshold
	}
	if _, err := compile(rs); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

type compiledTier struct {
	above  *big.Int
	weight int
	factor string
}

type compiledRule struct {
	Rule
	tiers []compiledTier
}

func compile(rs RuleSet) ([]compiledRule, error) {
	if rs.Threshold <= 0 {
		return nil, fmt.Errorf("risk rules %s: threshold must be positive", rs.Version)
	}
	out := make([]compiledRule, 0, len(rs.Rules))
	for i, r := range rs.Rules {
		cr := compiledRule{Rule: r}
		switch r.Kind {
		case KindAmountTier:
			if len(r.Tiers) == 0 {
				return nil, fmt.Errorf("risk rule %d: amount_tier needs tiers", i)
			}
			for _, t := range r.Tiers {
				above, ok := new(big.Int).SetString(strings.TrimSpace(t.Above), 10)
				if !ok || above.Sign() < 0 {
					return nil, fmt.Errorf("risk rule %d: invalid tier bound %q", i, t.Above)
				}
				if t.Weight < 0 || t.Factor == "" {
					return nil, fmt.Errorf("risk rule %d: tier needs factor and non-negative weight", i)
				}
				cr.tiers = append(cr.tiers, compiledTier{above: above, weight: t.Weight, factor: t.Factor})
			}
			// highest bound first so the first match is the winning tier
			slices.SortFunc(cr.tiers, func(a, b compiledTier) int { return b.above.Cmp(a.above) })
		case KindRecipientFlagged, KindSenderFlagged:
			if err := checkWeighted(i, r); err != nil {
				return nil, err
			}
			cr.Suffixes = make([]string, len(r.Suffixes))
			for j, sfx := range r.Suffixes {
				cr.Suffixes[j] = strings.ToLower(strings.TrimPrefix(sfx, "0x"))
			}
		case KindHourOutside:
			if err := checkWeighted(i, r); err != nil {
				return nil, err
			}
			if r.StartHour < 0 || r.EndHour > 23 || r.StartHour > r.EndHour {
				return nil, fmt.Errorf("risk rule %d: invalid hour window %d-%d", i, r.StartHour, r.EndHour)
			}
		default:
			return nil, fmt.Errorf("risk rule %d: unknown kind %q", i, r.Kind)
		}
		out = append(out, cr)
	}
	return out, nil
}

func checkWeighted(i int, r Rule) error {
	if r.Factor == "" || r.Weight < 0 {
		return fmt.Errorf("risk rule %d (%s): needs factor and non-negative weight", i, r.Kind)
	}
	return nil
}
