package match

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetbooks/kestrel/internal/domain"
)

// Session orchestrates one-shot matching: load the tenant's active
// rule set, evaluate every rule against a candidate transaction, and
// report all matches. Each call works over an immutable fetched
// snapshot; concurrent sessions for the same tenant are safe.
type Session struct {
	repo        domain.Repository
	cache       domain.Cache
	engine      *Engine
	snapshotTTL time.Duration
}

// NewSession creates a matching session service. The cache is optional;
// without it every call fetches from the repository.
func NewSession(repo domain.Repository, cache domain.Cache, engine *Engine, snapshotTTL time.Duration) *Session {
	if snapshotTTL <= 0 {
		snapshotTTL = 30 * time.Second
	}
	return &Session{
		repo:        repo,
		cache:       cache,
		engine:      engine,
		snapshotTTL: snapshotTTL,
	}
}

// TestTransaction evaluates every active rule for the tenant against
// the transaction and returns all matches in the stable order the rule
// set was fetched. No early exit: categorization is multi-label, so a
// transaction may match zero, one, or many rules. Repository failures
// propagate after the gateway's own retries; no partial results.
func (s *Session) TestTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) ([]domain.MatchResult, error) {
	rules, err := s.loadRuleSet(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	matches := make([]domain.MatchResult, 0, 4)

	for _, rule := range rules {
		result, err := s.engine.Match(tx, rule, now)
		if err != nil {
			// A malformed rule is logged and skipped; it must not abort
			// evaluation of the remaining rule set.
			slog.Warn("skipping malformed rule",
				"tenant_id", tenantID,
				"rule_id", rule.ID,
				"error", err,
			)
			continue
		}
		if result != nil {
			matches = append(matches, *result)
		}
	}

	return matches, nil
}

// RuleCount returns the size of the tenant's current active rule set.
func (s *Session) RuleCount(ctx context.Context, tenantID string) (int, error) {
	rules, err := s.loadRuleSet(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return len(rules), nil
}

// InvalidateSnapshot drops the cached rule set after a rule write so
// the next session observes the change promptly. Without a cache this
// is a no-op.
func (s *Session) InvalidateSnapshot(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRuleSet(ctx, tenantID); err != nil {
		slog.Warn("failed to invalidate rule snapshot",
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

// loadRuleSet fetches the tenant's active rules, cache-aside. A cache
// failure degrades to a direct repository read rather than failing the
// session.
func (s *Session) loadRuleSet(ctx context.Context, tenantID string) ([]*domain.TransactionRule, error) {
	if s.cache != nil {
		cached, err := s.cache.GetRuleSet(ctx, tenantID)
		if err != nil {
			slog.Warn("rule snapshot cache read failed", "tenant_id", tenantID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	rules, err := s.repo.ListActiveRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRuleSet(ctx, tenantID, rules, s.snapshotTTL); err != nil {
			slog.Warn("rule snapshot cache write failed", "tenant_id", tenantID, "error", err)
		}
	}

	return rules, nil
}
