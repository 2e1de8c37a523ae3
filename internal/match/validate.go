package match

import (
	"github.com/fleetbooks/kestrel/internal/apperrors"
	"github.com/fleetbooks/kestrel/internal/domain"
)

// ValidateDraft checks a rule candidate before it may reach the
// repository. Every violation is a hard rejection: name, category and
// at least one well-formed condition are required, the confidence score
// must lie in [0,1], and expression rules must carry a compilable
// boolean CEL expression.
func (e *Engine) ValidateDraft(d *domain.RuleDraft) error {
	if d == nil {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule draft is required")
	}
	if d.Name == "" {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule name is required")
	}
	if d.Category == "" {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule %q: category is required", d.Name)
	}
	if d.ConfidenceScore < 0 || d.ConfidenceScore > 1 {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule %q: confidence_score %v outside [0,1]", d.Name, d.ConfidenceScore)
	}
	if err := ValidatePattern(&d.Pattern); err != nil {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule %q: %v", d.Name, err)
	}

	if d.RuleType == domain.RuleTypeExpression && d.Expression == "" {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule %q: expression rules require an expression", d.Name)
	}
	if d.Expression != "" {
		if err := e.ValidateExpression(d.Expression); err != nil {
			return apperrors.Validation(apperrors.CodeInvalidRule, "rule %q: %v", d.Name, err)
		}
	}

	if d.ValidFrom != nil && d.ValidUntil != nil && d.ValidUntil.Before(*d.ValidFrom) {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule %q: valid_until precedes valid_from", d.Name)
	}

	return nil
}

// ValidatePatch checks the mutable fields of a rule update.
func (e *Engine) ValidatePatch(p *domain.RulePatch) error {
	if p == nil {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule patch is required")
	}
	if p.Name != nil && *p.Name == "" {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule name cannot be cleared")
	}
	if p.Category != nil && *p.Category == "" {
		return apperrors.Validation(apperrors.CodeInvalidRule, "rule category cannot be cleared")
	}
	if p.Pattern != nil {
		if err := ValidatePattern(p.Pattern); err != nil {
			return apperrors.Validation(apperrors.CodeInvalidRule, "%v", err)
		}
	}
	if p.Expression != nil && *p.Expression != "" {
		if err := e.ValidateExpression(*p.Expression); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePattern rejects patterns with zero conditions or conditions
// referencing unknown fields or operators. Unknown fields are rejected
// here, at creation time, rather than silently producing no-match
// comparisons during evaluation.
func ValidatePattern(p *domain.Pattern) error {
	if p == nil || len(p.Conditions) == 0 {
		return apperrors.Validation(apperrors.CodeInvalidCondition, "pattern requires at least one condition")
	}

	for i, cond := range p.Conditions {
		if !KnownField(cond.Field) {
			return apperrors.Validation(apperrors.CodeInvalidCondition, "condition %d references unknown field %q", i, cond.Field)
		}
		if !KnownOperator(cond.Operator) {
			return apperrors.Validation(apperrors.CodeInvalidCondition, "condition %d uses unknown operator %q", i, cond.Operator)
		}
		if cond.Operator == domain.OpBetween {
			if _, _, ok := numericRange(cond.Value); !ok {
				return apperrors.Validation(apperrors.CodeInvalidCondition, "condition %d: between requires a numeric [min,max] pair", i)
			}
		}
	}

	if r := p.AmountRange; r != nil && r.Min != nil && r.Max != nil && *r.Max < *r.Min {
		return apperrors.Validation(apperrors.CodeInvalidCondition, "amount_range max below min")
	}

	if tm := p.TemporalMatch; tm != nil {
		switch tm.Type {
		case domain.TemporalDayOfWeek:
			if tm.Value < 0 || tm.Value > 6 {
				return apperrors.Validation(apperrors.CodeInvalidCondition, "dayOfWeek value %d outside 0..6", tm.Value)
			}
		case domain.TemporalDayOfMonth:
			if tm.Value < 1 || tm.Value > 31 {
				return apperrors.Validation(apperrors.CodeInvalidCondition, "dayOfMonth value %d outside 1..31", tm.Value)
			}
		case domain.TemporalMonthOfYear:
			if tm.Value < 1 || tm.Value > 12 {
				return apperrors.Validation(apperrors.CodeInvalidCondition, "monthOfYear value %d outside 1..12", tm.Value)
			}
		case domain.TemporalTimeRange:
			if tm.Start < 0 || tm.End > 1439 || tm.End < tm.Start {
				return apperrors.Validation(apperrors.CodeInvalidCondition, "timeRange [%d,%d] invalid", tm.Start, tm.End)
			}
		}
		// Unknown temporal types are permitted at creation; the matcher
		// treats them as satisfied.
	}

	return nil
}
