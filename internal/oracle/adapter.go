package oracle

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fleetbooks/kestrel/internal/apperrors"
	"github.com/fleetbooks/kestrel/internal/domain"
	"github.com/fleetbooks/kestrel/internal/history"
	"github.com/fleetbooks/kestrel/internal/match"
)

// rateLimitKey is the per-tenant counter for generation calls.
const rateLimitKey = "oracle:generate"

// Adapter drives the full generation flow: rate limit, history sample,
// oracle call with retries, all-or-nothing validation, persistence.
type Adapter struct {
	oracle  Oracle
	history *history.Service
	engine  *match.Engine
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	cfg     domain.OracleConfig
}

// NewAdapter wires the generation pipeline. The cache and bus are
// optional; without them rate limiting and event publication are
// skipped.
func NewAdapter(oracle Oracle, hist *history.Service, engine *match.Engine, repo domain.Repository, cache domain.Cache, bus domain.EventBus, cfg domain.OracleConfig) *Adapter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxTransactions <= 0 {
		cfg.MaxTransactions = 100
	}
	if cfg.MinTransactions <= 0 {
		cfg.MinTransactions = 5
	}

	return &Adapter{
		oracle:  oracle,
		history: hist,
		engine:  engine,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		cfg:     cfg,
	}
}

// Generate proposes, validates, and persists rules for a tenant.
// Validation is all-or-nothing: one malformed candidate rejects the
// entire batch and nothing is persisted.
func (a *Adapter) Generate(ctx context.Context, tenantID string, hint string) ([]*domain.TransactionRule, error) {
	if err := a.checkRateLimit(ctx, tenantID); err != nil {
		return nil, err
	}

	sample, err := a.history.Sample(ctx, tenantID, a.cfg.MinTransactions, a.cfg.MaxTransactions)
	if err != nil {
		return nil, err
	}

	req := &GenerateRequest{
		TenantID:     tenantID,
		Transactions: sample,
		Hint:         hint,
	}

	payload, err := a.callWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	drafts, err := ParseRules(payload)
	if err != nil {
		return nil, apperrors.Validation(apperrors.CodeOracleResponse, "%v", err)
	}

	for i, d := range drafts {
		d.IsAIGenerated = true
		if d.ConfidenceScore <= 0 {
			return nil, apperrors.Validation(apperrors.CodeOracleResponse,
				"candidate %d (%s): missing or non-positive confidence_score", i, d.Name)
		}
		if err := a.engine.ValidateDraft(d); err != nil {
			return nil, apperrors.Validation(apperrors.CodeOracleResponse,
				"candidate %d rejected: %v", i, err)
		}
	}

	rules, err := a.repo.InsertRules(ctx, tenantID, drafts)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if err := a.cache.InvalidateRuleSet(ctx, tenantID); err != nil {
			slog.Warn("failed to invalidate rule snapshot after generation",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	a.publishGenerated(ctx, tenantID, rules)

	slog.Info("generated rules",
		"tenant_id", tenantID,
		"count", len(rules),
		"sample_size", len(sample),
	)

	return rules, nil
}

// callWithRetry invokes the oracle up to MaxRetries times, backing off
// on transient failures only. The delay grows linearly per attempt.
func (a *Adapter) callWithRetry(ctx context.Context, req *GenerateRequest) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := a.cfg.RetryDelay * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		payload, err := a.oracle.Generate(ctx, req)
		if err == nil {
			return payload, nil
		}

		if !apperrors.IsTransient(err) {
			return nil, err
		}

		slog.Warn("oracle call failed, will retry",
			"tenant_id", req.TenantID,
			"attempt", attempt,
			"max_attempts", a.cfg.MaxRetries,
			"error", err,
		)
		lastErr = err
	}

	return nil, lastErr
}

// checkRateLimit enforces the per-tenant hourly generation budget via
// the distributed counter.
func (a *Adapter) checkRateLimit(ctx context.Context, tenantID string) error {
	if a.cache == nil || a.cfg.RateLimitPerHour <= 0 {
		return nil
	}

	count, err := a.cache.IncrementCounter(ctx, tenantID, rateLimitKey, time.Hour)
	if err != nil {
		// A broken counter must not block generation.
		slog.Warn("rate limit counter failed", "tenant_id", tenantID, "error", err)
		return nil
	}

	if count > int64(a.cfg.RateLimitPerHour) {
		return apperrors.RateLimited("rule generation limit reached, try again later")
	}
	return nil
}

func (a *Adapter) publishGenerated(ctx context.Context, tenantID string, rules []*domain.TransactionRule) {
	if a.bus == nil {
		return
	}

	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}

	payload, _ := json.Marshal(map[string]any{
		"rule_ids": ids,
		"count":    len(ids),
	})

	if err := a.bus.Publish(ctx, tenantID, domain.TopicRulesGenerated, payload); err != nil {
		slog.Warn("failed to publish generation event",
			"tenant_id", tenantID,
			"error", err,
		)
	}
}
