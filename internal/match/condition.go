// Package match implements the transaction-rule matching engine:
// condition evaluation, composite pattern matching, and the per-request
// matching session.
package match

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetbooks/kestrel/internal/domain"
)

// fieldValue resolves one transaction attribute by name. The registry
// is closed: rules referencing unknown fields are rejected at creation,
// and an unknown field reaching evaluation degrades to no-match.
type fieldAccessor func(tx *domain.Transaction) any

var fieldRegistry = map[string]fieldAccessor{
	"id":          func(tx *domain.Transaction) any { return tx.ID },
	"description": func(tx *domain.Transaction) any { return tx.Description },
	"amount":      func(tx *domain.Transaction) any { return tx.Amount },
	"type":        func(tx *domain.Transaction) any { return tx.Type },
	"date":        func(tx *domain.Transaction) any { return tx.Date.UTC().Format("2006-01-02") },
	"category":    func(tx *domain.Transaction) any { return tx.Category },
	"vendor":      func(tx *domain.Transaction) any { return tx.Vendor },
}

// KnownField reports whether the condition field name is in the closed
// accessor registry.
func KnownField(name string) bool {
	_, ok := fieldRegistry[name]
	return ok
}

// KnownOperator reports whether op is a recognized condition operator.
func KnownOperator(op string) bool {
	switch op {
	case domain.OpEquals, domain.OpContains, domain.OpStartsWith,
		domain.OpEndsWith, domain.OpGreaterThan, domain.OpLessThan,
		domain.OpBetween:
		return true
	}
	return false
}

// EvaluateCondition evaluates one condition against a transaction.
// It never returns an error: malformed conditions (unknown field or
// operator, unparseable numerics, bad between pair) evaluate to false
// so a single bad condition cannot abort a batch scan.
func EvaluateCondition(tx *domain.Transaction, cond domain.Condition) bool {
	accessor, ok := fieldRegistry[cond.Field]
	if !ok {
		return false
	}
	fieldVal := accessor(tx)

	switch cond.Operator {
	case domain.OpEquals:
		return strings.EqualFold(stringify(fieldVal), stringify(cond.Value))

	case domain.OpContains:
		return strings.Contains(strings.ToLower(stringify(fieldVal)), strings.ToLower(stringify(cond.Value)))

	case domain.OpStartsWith:
		return strings.HasPrefix(strings.ToLower(stringify(fieldVal)), strings.ToLower(stringify(cond.Value)))

	case domain.OpEndsWith:
		return strings.HasSuffix(strings.ToLower(stringify(fieldVal)), strings.ToLower(stringify(cond.Value)))

	case domain.OpGreaterThan:
		a, aok := numeric(fieldVal)
		b, bok := numeric(cond.Value)
		return aok && bok && a > b

	case domain.OpLessThan:
		a, aok := numeric(fieldVal)
		b, bok := numeric(cond.Value)
		return aok && bok && a < b

	case domain.OpBetween:
		a, aok := numeric(fieldVal)
		lo, hi, rok := numericRange(cond.Value)
		return aok && rok && a >= lo && a <= hi
	}

	// Unknown operator: the rule silently never matches.
	return false
}

// stringify renders a condition or field value for string comparison.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// numeric parses a value as float64. JSON numbers arrive as float64;
// strings are parsed leniently. Anything else fails.
func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// numericRange extracts the [min, max] pair of a between condition.
func numericRange(v any) (lo, hi float64, ok bool) {
	pair, isSlice := v.([]any)
	if !isSlice || len(pair) != 2 {
		// Already-typed pairs show up from internal callers.
		if typed, isTyped := v.([]float64); isTyped && len(typed) == 2 {
			return typed[0], typed[1], true
		}
		return 0, 0, false
	}

	lo, lok := numeric(pair[0])
	hi, hok := numeric(pair[1])
	if !lok || !hok {
		return 0, 0, false
	}
	return lo, hi, true
}
