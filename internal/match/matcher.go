package match

import (
	"time"

	"github.com/fleetbooks/kestrel/internal/domain"
)

// MatcherKind tags the optional pattern matchers beyond conditions,
// amount range and temporal match. The placeholder kinds are part of
// the persisted schema but have no evaluation contract yet; they are
// explicit always-true no-ops so that implementing one later is
// additive and type-checked rather than a silent gap.
type MatcherKind int

const (
	MatcherMetadata MatcherKind = iota
	MatcherLocation
	MatcherVendor
	MatcherAccountRelations
	MatcherCustom
)

var placeholderKinds = []MatcherKind{
	MatcherMetadata,
	MatcherLocation,
	MatcherVendor,
	MatcherAccountRelations,
	MatcherCustom,
}

// evaluatePlaceholder is the named no-op for unimplemented matcher
// kinds. Every kind must be listed here; a new kind without a branch is
// a compile-time reminder to give it a real contract.
func evaluatePlaceholder(kind MatcherKind, tx *domain.Transaction, p *domain.Pattern) bool {
	switch kind {
	case MatcherMetadata, MatcherLocation, MatcherVendor,
		MatcherAccountRelations, MatcherCustom:
		return true
	}
	return true
}

// matchConditions evaluates every pattern condition in order and
// reports whether all matched. The returned slice mirrors the
// pattern's condition order exactly for explainability.
func matchConditions(tx *domain.Transaction, p *domain.Pattern) ([]domain.MatchedCondition, bool) {
	results := make([]domain.MatchedCondition, 0, len(p.Conditions))
	all := true
	for _, cond := range p.Conditions {
		ok := EvaluateCondition(tx, cond)
		if !ok {
			all = false
		}
		results = append(results, domain.MatchedCondition{
			Field:    cond.Field,
			Operator: cond.Operator,
			Value:    cond.Value,
			Matched:  ok,
		})
	}
	return results, all
}

// matchAmountRange checks the inclusive amount bounds. Absent bounds
// impose no constraint.
func matchAmountRange(amount float64, r *domain.AmountRange) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && amount < *r.Min {
		return false
	}
	if r.Max != nil && amount > *r.Max {
		return false
	}
	return true
}

// matchTemporal applies the temporal predicate to the transaction date.
// An unknown temporal type is treated as satisfied (permissive default).
func matchTemporal(date time.Time, tm *domain.TemporalMatch) bool {
	if tm == nil {
		return true
	}
	switch tm.Type {
	case domain.TemporalDayOfWeek:
		// 0=Sunday .. 6=Saturday, matching time.Weekday.
		return int(date.Weekday()) == tm.Value
	case domain.TemporalDayOfMonth:
		return date.Day() == tm.Value
	case domain.TemporalMonthOfYear:
		return int(date.Month()) == tm.Value
	case domain.TemporalTimeRange:
		minutes := date.Hour()*60 + date.Minute()
		return minutes >= tm.Start && minutes <= tm.End
	}
	return true
}

// MatchPattern evaluates the full composite pattern against a
// transaction: all conditions AND amount range AND temporal match AND
// the placeholder matchers. The matched-condition trace is returned
// even on failure so callers can explain the miss.
func MatchPattern(tx *domain.Transaction, p *domain.Pattern) ([]domain.MatchedCondition, bool) {
	conds, condsOK := matchConditions(tx, p)
	if !condsOK {
		return conds, false
	}
	if !matchAmountRange(tx.Amount, p.AmountRange) {
		return conds, false
	}
	if !matchTemporal(tx.Date.Time, p.TemporalMatch) {
		return conds, false
	}
	for _, kind := range placeholderKinds {
		if !evaluatePlaceholder(kind, tx, p) {
			return conds, false
		}
	}
	return conds, true
}
