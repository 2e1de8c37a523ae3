package domain

import (
	"encoding/json"
	"time"
)

// Condition operators. Unknown operators evaluate to no-match rather
// than erroring so one malformed condition cannot abort a batch scan.
const (
	OpEquals      = "equals"
	OpContains    = "contains"
	OpStartsWith  = "startsWith"
	OpEndsWith    = "endsWith"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
	OpBetween     = "between"
)

// Condition is a single field/operator/value predicate over a
// transaction attribute. Pure value object, no lifecycle.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`

	// Value is a string, a number, or a 2-element [min,max] pair when
	// Operator is "between". Kept loosely typed because rules arrive as
	// JSON from both the dashboard and the generation oracle.
	Value any `json:"value"`
}

// AmountRange constrains the transaction amount, inclusive on both
// ends. Absent bounds impose no constraint.
type AmountRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Temporal match types.
const (
	TemporalDayOfWeek   = "dayOfWeek"
	TemporalDayOfMonth  = "dayOfMonth"
	TemporalMonthOfYear = "monthOfYear"
	TemporalTimeRange   = "timeRange"
)

// TemporalMatch constrains the transaction date.
//   - dayOfWeek: weekday index, 0=Sunday..6=Saturday, must equal Value
//   - dayOfMonth: day of month must equal Value
//   - monthOfYear: 1-based month must equal Value
//   - timeRange: minutes since midnight must lie in [Start, End] inclusive
type TemporalMatch struct {
	Type  string `json:"type"`
	Value int    `json:"value,omitempty"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
}

// Pattern is the composite matching specification attached to a rule: a
// conjunction of conditions plus optional amount/temporal constraints.
//
// The placeholder matchers (metadata, location, vendor, account
// relations, custom) are part of the persisted schema but have no
// evaluation contract yet; the matcher treats them as explicit
// always-true no-ops. Their payloads are carried opaquely.
type Pattern struct {
	Conditions    []Condition    `json:"conditions"`
	AmountRange   *AmountRange   `json:"amount_range,omitempty"`
	TemporalMatch *TemporalMatch `json:"temporal_match,omitempty"`

	MetadataMatch    json.RawMessage `json:"metadata_match,omitempty"`
	LocationMatch    json.RawMessage `json:"location_match,omitempty"`
	VendorMatch      json.RawMessage `json:"vendor_match,omitempty"`
	AccountRelations json.RawMessage `json:"account_relations,omitempty"`
	CustomMatch      json.RawMessage `json:"custom_match,omitempty"`
}

// Rule types. RuleTypeExpression rules carry an additional CEL
// expression evaluated as an extra conjunct.
const (
	RuleTypeStandard   = "standard"
	RuleTypeExpression = "expression"
)

// TransactionRule is a tenant-owned categorization rule, either
// user-authored (confidence pinned to 1.0) or oracle-generated
// (variable confidence).
type TransactionRule struct {
	ID       string `json:"id"`
	TenantID string `json:"companyId"`

	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Pattern     Pattern `json:"pattern"`

	// Category is the label applied when the rule matches.
	Category string `json:"category"`

	// ConfidenceScore is static: assigned at authoring time, never
	// adjusted from observed match outcomes.
	ConfidenceScore float64 `json:"confidence_score"`
	IsAIGenerated   bool    `json:"is_ai_generated"`

	// Usage telemetry, bumped by the async categorization worker.
	TimesApplied  int        `json:"times_applied"`
	LastAppliedAt *time.Time `json:"last_applied_at,omitempty"`

	// Priority is reserved for tie-breaking; match output keeps fetch
	// order regardless.
	Priority int      `json:"priority"`
	RuleType string   `json:"rule_type"`
	Tags     []string `json:"tags,omitempty"`

	// Expression is an optional CEL expression for expression-type
	// rules, validated at creation and AND-ed with the pattern.
	Expression string `json:"expression,omitempty"`

	IsActive   bool       `json:"is_active"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ActiveAt reports whether the rule participates in matching at the
// given evaluation time: enabled and inside its validity window.
func (r *TransactionRule) ActiveAt(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	return true
}

// RuleDraft is an unpersisted rule candidate: either a manual creation
// request or one entry of an oracle response. Drafts are validated
// before they reach the repository.
type RuleDraft struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Pattern         Pattern  `json:"pattern"`
	Category        string   `json:"category"`
	ConfidenceScore float64  `json:"confidence_score"`
	IsAIGenerated   bool     `json:"is_ai_generated"`
	Priority        int      `json:"priority"`
	RuleType        string   `json:"rule_type,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Expression      string   `json:"expression,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`

	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// RulePatch carries partial updates for a rule. Nil fields are left
// untouched.
type RulePatch struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Pattern     *Pattern `json:"pattern,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	RuleType    *string  `json:"rule_type,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Expression  *string  `json:"expression,omitempty"`
	IsActive    *bool    `json:"is_active,omitempty"`

	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// MatchedCondition mirrors one pattern condition in a match result,
// with its individual outcome, for explainability.
type MatchedCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Matched  bool   `json:"matched"`
}

// MatchResult is the per-rule outcome of a matching session. Produced
// fresh per session, never persisted individually (match runs persist
// the full list as a document).
type MatchResult struct {
	RuleID   string `json:"rule_id"`
	Name     string `json:"name"`
	Category string `json:"category"`

	// Confidence is copied from the rule's static score at match time.
	Confidence float64 `json:"confidence"`

	MatchedConditions []MatchedCondition `json:"matched_conditions"`
}

// MatchRun is the audit record of one matching session over an
// ingested transaction.
type MatchRun struct {
	ID       string `json:"id"`
	TenantID string `json:"companyId"`
	TxID     string `json:"txId"`

	Results []MatchResult `json:"results"`

	RulesEvaluated int       `json:"rulesEvaluated"`
	ProcessMs      int64     `json:"processMs"`
	TraceID        string    `json:"traceId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
