package match

import (
	"testing"
	"time"

	"github.com/fleetbooks/kestrel/internal/domain"
)

func floatPtr(f float64) *float64 { return &f }

func TestMatchPattern(t *testing.T) {
	tx := testTx() // Monday 2025-03-10 14:30 UTC, amount 150

	t.Run("AllConditionsMustMatch", func(t *testing.T) {
		p := &domain.Pattern{
			Conditions: []domain.Condition{
				{Field: "description", Operator: domain.OpContains, Value: "fuel"},
				{Field: "amount", Operator: domain.OpGreaterThan, Value: 500.0},
			},
		}

		conds, ok := MatchPattern(tx, p)
		if ok {
			t.Error("pattern should not match when one condition fails")
		}
		if len(conds) != 2 {
			t.Fatalf("expected trace for both conditions, got %d", len(conds))
		}
		if !conds[0].Matched {
			t.Error("first condition should be marked matched")
		}
		if conds[1].Matched {
			t.Error("second condition should be marked unmatched")
		}
	})

	t.Run("TracePreservesConditionOrder", func(t *testing.T) {
		p := &domain.Pattern{
			Conditions: []domain.Condition{
				{Field: "vendor", Operator: domain.OpEquals, Value: "Shell"},
				{Field: "type", Operator: domain.OpEquals, Value: "expense"},
				{Field: "amount", Operator: domain.OpLessThan, Value: 1000.0},
			},
		}

		conds, ok := MatchPattern(tx, p)
		if !ok {
			t.Fatal("pattern should match")
		}
		want := []string{"vendor", "type", "amount"}
		for i, field := range want {
			if conds[i].Field != field {
				t.Errorf("trace[%d]: expected field %s, got %s", i, field, conds[i].Field)
			}
		}
	})

	t.Run("AmountRangeInclusive", func(t *testing.T) {
		p := &domain.Pattern{
			Conditions:  []domain.Condition{{Field: "type", Operator: domain.OpEquals, Value: "expense"}},
			AmountRange: &domain.AmountRange{Min: floatPtr(150), Max: floatPtr(300)},
		}
		if _, ok := MatchPattern(tx, p); !ok {
			t.Error("amount on the min bound should match")
		}

		p.AmountRange = &domain.AmountRange{Min: floatPtr(150.01)}
		if _, ok := MatchPattern(tx, p); ok {
			t.Error("amount below min should not match")
		}
	})

	t.Run("AmountRangeMinOnly", func(t *testing.T) {
		p := &domain.Pattern{
			Conditions:  []domain.Condition{{Field: "type", Operator: domain.OpEquals, Value: "expense"}},
			AmountRange: &domain.AmountRange{Min: floatPtr(100)},
		}
		if _, ok := MatchPattern(tx, p); !ok {
			t.Error("open-ended max should impose no upper bound")
		}
	})

	t.Run("TemporalDayOfWeek", func(t *testing.T) {
		p := &domain.Pattern{
			Conditions:    []domain.Condition{{Field: "type", Operator: domain.OpEquals, Value: "expense"}},
			TemporalMatch: &domain.TemporalMatch{Type: domain.TemporalDayOfWeek, Value: 1}, // Monday
		}
		if _, ok := MatchPattern(tx, p); !ok {
			t.Error("Monday transaction should match dayOfWeek=1")
		}

		p.TemporalMatch.Value = 0 // Sunday
		if _, ok := MatchPattern(tx, p); ok {
			t.Error("Monday transaction should not match dayOfWeek=0")
		}
	})

	t.Run("TemporalDayOfMonthAndMonth", func(t *testing.T) {
		p := &domain.Pattern{
			Conditions:    []domain.Condition{{Field: "type", Operator: domain.OpEquals, Value: "expense"}},
			TemporalMatch: &domain.TemporalMatch{Type: domain.TemporalDayOfMonth, Value: 10},
		}
		if _, ok := MatchPattern(tx, p); !ok {
			t.Error("dayOfMonth=10 should match the 10th")
		}

		p.TemporalMatch = &domain.TemporalMatch{Type: domain.TemporalMonthOfYear, Value: 3}
		if _, ok := MatchPattern(tx, p); !ok {
			t.Error("monthOfYear=3 should match March")
		}
	})

	t.Run("TemporalTimeRangeInclusive", func(t *testing.T) {
		// 14:30 = 870 minutes since midnight
		p := &domain.Pattern{
			Conditions:    []domain.Condition{{Field: "type", Operator: domain.OpEquals, Value: "expense"}},
			TemporalMatch: &domain.TemporalMatch{Type: domain.TemporalTimeRange, Start: 870, End: 870},
		}
		if _, ok := MatchPattern(tx, p); !ok {
			t.Error("time range bounds are inclusive")
		}

		p.TemporalMatch = &domain.TemporalMatch{Type: domain.TemporalTimeRange, Start: 0, End: 869}
		if _, ok := MatchPattern(tx, p); ok {
			t.Error("14:30 should fall outside [00:00, 14:29]")
		}
	})

	t.Run("UnknownTemporalTypeIsSatisfied", func(t *testing.T) {
		p := &domain.Pattern{
			Conditions:    []domain.Condition{{Field: "type", Operator: domain.OpEquals, Value: "expense"}},
			TemporalMatch: &domain.TemporalMatch{Type: "lunarPhase", Value: 3},
		}
		if _, ok := MatchPattern(tx, p); !ok {
			t.Error("unknown temporal type must not veto the match")
		}
	})

	t.Run("PlaceholderMatchersAreNoOps", func(t *testing.T) {
		p := &domain.Pattern{
			Conditions:    []domain.Condition{{Field: "type", Operator: domain.OpEquals, Value: "expense"}},
			MetadataMatch: []byte(`{"fleet":"north"}`),
			LocationMatch: []byte(`{"country":"DE"}`),
			CustomMatch:   []byte(`{"anything":true}`),
		}
		if _, ok := MatchPattern(tx, p); !ok {
			t.Error("placeholder matcher payloads must not affect the outcome")
		}
	})
}

func TestMatchTemporalMidnightBoundary(t *testing.T) {
	midnight := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	tm := &domain.TemporalMatch{Type: domain.TemporalTimeRange, Start: 0, End: 120}
	if !matchTemporal(midnight, tm) {
		t.Error("00:00 should be inside [0, 120]")
	}
}
