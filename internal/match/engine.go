package match

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/fleetbooks/kestrel/internal/apperrors"
	"github.com/fleetbooks/kestrel/internal/domain"
)

// Engine evaluates transaction rules. Pattern matching is stateless;
// the engine exists to hold the CEL environment and a compiled-program
// cache for expression rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("description", cel.StringType),
		cel.Variable("vendor", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("day", cel.IntType),
		cel.Variable("month", cel.IntType),
		cel.Variable("time_minutes", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Match evaluates a rule against a transaction at the given evaluation
// time. Returns nil when the rule is excluded (inactive or outside its
// validity window) or does not match. An error means the rule itself is
// malformed (bad expression); callers log and skip it so one broken
// rule cannot abort a batch scan.
func (e *Engine) Match(tx *domain.Transaction, rule *domain.TransactionRule, now time.Time) (*domain.MatchResult, error) {
	if !rule.ActiveAt(now) {
		return nil, nil
	}

	conds, ok := MatchPattern(tx, &rule.Pattern)
	if !ok {
		return nil, nil
	}

	if rule.Expression != "" {
		exprOK, err := e.expressionMatches(rule, tx)
		if err != nil {
			return nil, err
		}
		if !exprOK {
			return nil, nil
		}
	}

	return &domain.MatchResult{
		RuleID:            rule.ID,
		Name:              rule.Name,
		Category:          rule.Category,
		Confidence:        rule.ConfidenceScore,
		MatchedConditions: conds,
	}, nil
}

// ValidateExpression compiles an expression-rule CEL program without
// caching it. The expression must return bool.
func (e *Engine) ValidateExpression(expr string) error {
	_, err := e.compile(expr)
	return err
}

// expressionMatches evaluates the rule's CEL conjunct, compiling and
// caching the program on first use. The cache key includes the
// expression text so rule edits invalidate naturally.
func (e *Engine) expressionMatches(rule *domain.TransactionRule, tx *domain.Transaction) (bool, error) {
	key := rule.ID + "\x00" + rule.Expression

	e.mu.RLock()
	prg, ok := e.programs[key]
	e.mu.RUnlock()

	if !ok {
		var err error
		prg, err = e.compile(rule.Expression)
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.programs[key] = prg
		e.mu.Unlock()
	}

	activation := map[string]any{
		"amount":       tx.Amount,
		"description":  tx.Description,
		"vendor":       tx.Vendor,
		"category":     tx.Category,
		"tx_type":      tx.Type,
		"weekday":      int64(tx.Date.Weekday()),
		"day":          int64(tx.Date.Day()),
		"month":        int64(tx.Date.Month()),
		"time_minutes": int64(tx.Date.Hour()*60 + tx.Date.Minute()),
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, apperrors.Validation(apperrors.CodeInvalidRule, "rule %s: expression evaluation failed: %v", rule.ID, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, apperrors.Validation(apperrors.CodeInvalidRule, "rule %s: expression did not return bool", rule.ID)
	}
	return bool(b), nil
}

func (e *Engine) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidRule, "failed to compile expression: %v", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, apperrors.Validation(apperrors.CodeInvalidRule, "expression must return bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidRule, "failed to build expression program: %v", err)
	}
	return prg, nil
}

// ProgramCount returns the number of cached compiled expressions.
func (e *Engine) ProgramCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// Close drops all cached programs.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
	return nil
}
