package money

import (
	"strings"

	"golang.org/x/text/cases"
)

// Method is a normalised payment method bucket.
type Method string

const (
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
	MethodTransfer Method = "transfer"
)

// Methods lists the buckets in report order.
func Methods() []Method {
	return []Method{MethodCash, MethodCard, MethodTransfer}
}

// methodRules is evaluated in order; the first matching fragment wins.
// Unmatched and empty inputs fall through to cash.
var methodRules = []struct {
	fragment string
	method   Method
}{
	{"card", MethodCard},
	{"visa", MethodCard},
	{"master", MethodCard},
	{"credit", MethodCard},
	{"debit", MethodCard},
	{"transfer", MethodTransfer},
	{"bank", MethodTransfer},
}

// NormalizeMethod maps a free-text payment method to a bucket.
func NormalizeMethod(raw string) Method {
	folded := Fold(raw)
	if folded == "" {
		return MethodCash
	}
	for _, rule := range methodRules {
		if strings.Contains(folded, rule.fragment) {
			return rule.method
		}
	}
	return MethodCash
}

// Fold trims and case-folds s for loose comparisons.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// IsNonCash reports whether m is settled outside the cash drawer.
func (m Method) IsNonCash() bool {
	return m == MethodCard || m == MethodTransfer
}
