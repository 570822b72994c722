// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrimFunc trims each element, applies normalize, and drops empty
// values and duplicates. Order of first occurrence is preserved.
func DedupeAndTrimFunc(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if normalize != nil {
			trimmed = normalize(trimmed)
		}
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}

	return result
}

// DedupeAndTrimLower is used for ledger addresses and address suffixes, which
// compare case-insensitively.
//
//	DedupeAndTrimLower([]string{" 0xABC", "0xabc", ""}) // []string{"0xabc"}
func DedupeAndTrimLower(values []string) []string {
	return DedupeAndTrimFunc(values, strings.ToLower)
}

// DedupeAndTrimUpper is used for currency codes.
//
//	DedupeAndTrimUpper([]string{"usd", " USD", "ngn"}) // []string{"USD", "NGN"}
func DedupeAndTrimUpper(values []string) []string {
	return DedupeAndTrimFunc(values, strings.ToUpper)
}

// SplitList splits a comma separated environment value and dedupes it.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrimFunc(strings.Split(raw, ","), nil)
}
