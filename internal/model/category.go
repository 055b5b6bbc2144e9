package model

import (
	"strings"

	"golang.org/x/text/cases"
)

// RiskCategory is the enumerated risk level of a monitoring location.
// The zero value means unset.
type RiskCategory string

const (
	RiskCritical RiskCategory = "Critical"
	RiskHigh     RiskCategory = "High"
	RiskMedium   RiskCategory = "Medium"
	RiskLow      RiskCategory = "Low"
)

// RiskCategories lists the categories from most to least severe.
var RiskCategories = []RiskCategory{RiskCritical, RiskHigh, RiskMedium, RiskLow}

// riskLookup maps folded, underscore-joined keys to categories. Built once.
var riskLookup = func() map[string]RiskCategory {
	m := make(map[string]RiskCategory, len(RiskCategories)*2)
	for _, c := range RiskCategories {
		key := categoryKey(string(c))
		m[key] = c
		m[key+"_risk"] = c
	}
	return m
}()

// categoryKey folds case with a fresh Caser; Casers are stateful and not
// safe to share across goroutines.
func categoryKey(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), "_")
}

// ParseRiskCategory normalizes a raw category string: surrounding
// whitespace is ignored, case is folded and inner whitespace runs become
// underscores before the table lookup. "high", "HIGH " and "High Risk"
// all resolve to RiskHigh. A miss returns ErrUnknownCategory.
func ParseRiskCategory(raw string) (RiskCategory, error) {
	if c, ok := riskLookup[categoryKey(raw)]; ok {
		return c, nil
	}
	return "", ErrUnknownCategory
}

// Ordinal ranks the category, 0 for Critical through 3 for Low, -1 unset.
func (c RiskCategory) Ordinal() int {
	for i, rc := range RiskCategories {
		if rc == c {
			return i
		}
	}
	return -1
}

// Valid reports whether c is one of the enumerated categories.
func (c RiskCategory) Valid() bool { return c.Ordinal() >= 0 }
