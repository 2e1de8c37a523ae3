package match

import (
	"testing"
	"time"

	"github.com/fleetbooks/kestrel/internal/domain"
)

func testTx() *domain.Transaction {
	return &domain.Transaction{
		ID:          "tx-001",
		TenantID:    "company-001",
		Description: "Shell Fuel Station #42",
		Amount:      150.0,
		Type:        domain.TxTypeExpense,
		Date:        domain.TxTime{Time: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)}, // a Monday
		Vendor:      "Shell",
	}
}

func TestEvaluateCondition(t *testing.T) {
	tx := testTx()

	t.Run("EqualsCaseInsensitive", func(t *testing.T) {
		cond := domain.Condition{Field: "vendor", Operator: domain.OpEquals, Value: "SHELL"}
		if !EvaluateCondition(tx, cond) {
			t.Error("equals should be case-insensitive")
		}
	})

	t.Run("ContainsCaseInsensitive", func(t *testing.T) {
		cond := domain.Condition{Field: "description", Operator: domain.OpContains, Value: "fuel"}
		if !EvaluateCondition(tx, cond) {
			t.Error("contains should be case-insensitive")
		}

		cond.Value = "parking"
		if EvaluateCondition(tx, cond) {
			t.Error("contains should not match absent substring")
		}
	})

	t.Run("StartsWithEndsWith", func(t *testing.T) {
		if !EvaluateCondition(tx, domain.Condition{Field: "description", Operator: domain.OpStartsWith, Value: "shell"}) {
			t.Error("startsWith failed")
		}
		if !EvaluateCondition(tx, domain.Condition{Field: "description", Operator: domain.OpEndsWith, Value: "#42"}) {
			t.Error("endsWith failed")
		}
	})

	t.Run("GreaterThanLessThan", func(t *testing.T) {
		if !EvaluateCondition(tx, domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: 100.0}) {
			t.Error("150 > 100 should match")
		}
		if EvaluateCondition(tx, domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: 150.0}) {
			t.Error("greaterThan is strict; 150 > 150 should not match")
		}
		if !EvaluateCondition(tx, domain.Condition{Field: "amount", Operator: domain.OpLessThan, Value: 200.0}) {
			t.Error("150 < 200 should match")
		}
	})

	t.Run("NumericStringValue", func(t *testing.T) {
		cond := domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: "100"}
		if !EvaluateCondition(tx, cond) {
			t.Error("numeric comparison should parse string values")
		}
	})

	t.Run("UnparseableNumericIsFalse", func(t *testing.T) {
		cond := domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: "not-a-number"}
		if EvaluateCondition(tx, cond) {
			t.Error("unparseable numeric value must evaluate to false, not panic")
		}
	})

	t.Run("BetweenInclusive", func(t *testing.T) {
		onMin := testTx()
		onMin.Amount = 100
		onMax := testTx()
		onMax.Amount = 200
		outside := testTx()
		outside.Amount = 200.01

		cond := domain.Condition{Field: "amount", Operator: domain.OpBetween, Value: []any{100.0, 200.0}}
		if !EvaluateCondition(onMin, cond) {
			t.Error("between should include the lower bound")
		}
		if !EvaluateCondition(onMax, cond) {
			t.Error("between should include the upper bound")
		}
		if EvaluateCondition(outside, cond) {
			t.Error("between should exclude values above max")
		}
	})

	t.Run("BetweenMalformedPair", func(t *testing.T) {
		cond := domain.Condition{Field: "amount", Operator: domain.OpBetween, Value: []any{100.0}}
		if EvaluateCondition(tx, cond) {
			t.Error("between with a single-element pair must be false")
		}

		cond.Value = "100-200"
		if EvaluateCondition(tx, cond) {
			t.Error("between with a non-pair value must be false")
		}
	})

	t.Run("DateAsFormattedString", func(t *testing.T) {
		cond := domain.Condition{Field: "date", Operator: domain.OpEquals, Value: "2025-03-10"}
		if !EvaluateCondition(tx, cond) {
			t.Error("date should compare as YYYY-MM-DD")
		}
	})

	t.Run("UnknownFieldIsFalse", func(t *testing.T) {
		cond := domain.Condition{Field: "balance", Operator: domain.OpEquals, Value: "x"}
		if EvaluateCondition(tx, cond) {
			t.Error("unknown field must evaluate to false")
		}
	})

	t.Run("UnknownOperatorIsFalse", func(t *testing.T) {
		cond := domain.Condition{Field: "description", Operator: "matches", Value: ".*"}
		if EvaluateCondition(tx, cond) {
			t.Error("unknown operator must evaluate to false")
		}
	})
}

func TestKnownFieldAndOperator(t *testing.T) {
	for _, f := range []string{"id", "description", "amount", "type", "date", "category", "vendor"} {
		if !KnownField(f) {
			t.Errorf("field %q should be known", f)
		}
	}
	if KnownField("account_number") {
		t.Error("account_number should not be a known field")
	}

	for _, op := range []string{"equals", "contains", "startsWith", "endsWith", "greaterThan", "lessThan", "between"} {
		if !KnownOperator(op) {
			t.Errorf("operator %q should be known", op)
		}
	}
	if KnownOperator("regex") {
		t.Error("regex should not be a known operator")
	}
}
