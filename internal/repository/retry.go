package repository

import (
	"context"
	"time"

	"github.com/fleetbooks/kestrel/internal/apperrors"
	"github.com/fleetbooks/kestrel/internal/domain"
)

// Retrying decorates a Repository with bounded retries on transient
// failures. Validation and not-found errors return immediately; only
// errors classified transient are retried, with a doubling backoff
// between attempts.
type Retrying struct {
	inner    domain.Repository
	attempts int
	backoff  time.Duration
}

// NewRetrying wraps a repository. attempts is the total number of
// tries including the first; values below 1 default to 3.
func NewRetrying(inner domain.Repository, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Retrying{
		inner:    inner,
		attempts: attempts,
		backoff:  backoff,
	}
}

func (r *Retrying) do(ctx context.Context, op func() error) error {
	var err error
	delay := r.backoff

	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err = op()
		if err == nil {
			return nil
		}
		if !apperrors.IsTransient(err) {
			return err
		}
	}

	return err
}

func (r *Retrying) ListActiveRules(ctx context.Context, tenantID string) ([]*domain.TransactionRule, error) {
	var rules []*domain.TransactionRule
	err := r.do(ctx, func() error {
		var opErr error
		rules, opErr = r.inner.ListActiveRules(ctx, tenantID)
		return opErr
	})
	return rules, err
}

func (r *Retrying) ListRules(ctx context.Context, tenantID string) ([]*domain.TransactionRule, error) {
	var rules []*domain.TransactionRule
	err := r.do(ctx, func() error {
		var opErr error
		rules, opErr = r.inner.ListRules(ctx, tenantID)
		return opErr
	})
	return rules, err
}

func (r *Retrying) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.TransactionRule, error) {
	var rule *domain.TransactionRule
	err := r.do(ctx, func() error {
		var opErr error
		rule, opErr = r.inner.GetRule(ctx, tenantID, ruleID)
		return opErr
	})
	return rule, err
}

// InsertRules is not retried: the batch is transactional and a
// transient failure after commit would double-insert.
func (r *Retrying) InsertRules(ctx context.Context, tenantID string, drafts []*domain.RuleDraft) ([]*domain.TransactionRule, error) {
	return r.inner.InsertRules(ctx, tenantID, drafts)
}

// UpdateRule and DeleteRule target a single row by ID, so repeating
// them after an ambiguous failure converges on the same state.
func (r *Retrying) UpdateRule(ctx context.Context, tenantID string, ruleID string, patch *domain.RulePatch) (*domain.TransactionRule, error) {
	var rule *domain.TransactionRule
	err := r.do(ctx, func() error {
		var opErr error
		rule, opErr = r.inner.UpdateRule(ctx, tenantID, ruleID, patch)
		return opErr
	})
	return rule, err
}

func (r *Retrying) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	return r.do(ctx, func() error {
		return r.inner.DeleteRule(ctx, tenantID, ruleID)
	})
}

func (r *Retrying) RecordRuleApplied(ctx context.Context, tenantID string, ruleID string, at time.Time) error {
	return r.do(ctx, func() error {
		return r.inner.RecordRuleApplied(ctx, tenantID, ruleID, at)
	})
}

func (r *Retrying) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	return r.inner.SaveTransaction(ctx, tenantID, tx)
}

func (r *Retrying) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	var tx *domain.Transaction
	err := r.do(ctx, func() error {
		var opErr error
		tx, opErr = r.inner.GetTransaction(ctx, tenantID, txID)
		return opErr
	})
	return tx, err
}

func (r *Retrying) ListRecentTransactions(ctx context.Context, tenantID string, limit int) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	err := r.do(ctx, func() error {
		var opErr error
		txs, opErr = r.inner.ListRecentTransactions(ctx, tenantID, limit)
		return opErr
	})
	return txs, err
}

func (r *Retrying) SaveMatchRun(ctx context.Context, tenantID string, run *domain.MatchRun) error {
	return r.inner.SaveMatchRun(ctx, tenantID, run)
}

func (r *Retrying) GetMatchRun(ctx context.Context, tenantID string, runID string) (*domain.MatchRun, error) {
	var run *domain.MatchRun
	err := r.do(ctx, func() error {
		var opErr error
		run, opErr = r.inner.GetMatchRun(ctx, tenantID, runID)
		return opErr
	})
	return run, err
}

func (r *Retrying) Ping(ctx context.Context) error {
	return r.do(ctx, func() error {
		return r.inner.Ping(ctx)
	})
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}
