// Package core provides the ledger domain types and input parsing helpers.
//
// Amounts are signed integers in the smallest unit of the currency: negative
// values are losses, positive values are gains.
package core

import (
	"strconv"
	"strings"
)

// ParseAmount converts a base-10 integer string to an amount.
//
// A leading sign is accepted, surrounding whitespace is ignored. Decimal
// separators are rejected since amounts are already in the smallest unit.
//
// Examples:
//
//	ParseAmount("500")  -> 500, nil
//	ParseAmount("-200") -> -200, nil
//	ParseAmount("1.50") -> 0, ErrInvalidAmount
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// ParseGameID converts a game identifier string to its integer form.
func ParseGameID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidGameID
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidGameID
	}
	return v, nil
}
