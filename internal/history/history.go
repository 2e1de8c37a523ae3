// Package history provides access to a tenant's recent transaction
// activity. The rule generation oracle samples this history to propose
// new categorization rules.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetbooks/kestrel/internal/apperrors"
	"github.com/fleetbooks/kestrel/internal/domain"
)

// Service reads transaction history with a short cache in front of the
// repository.
type Service struct {
	repo     domain.Repository
	cache    domain.Cache
	cacheTTL time.Duration
}

// NewService creates a new history service. The cache is optional;
// without it every call reads from the repository.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: 30 * time.Second,
	}
}

// RecentTransactions returns up to limit recent transactions for the
// tenant, newest first. Reads are cache-aside: a cache failure degrades
// to a direct repository read rather than failing the caller.
func (s *Service) RecentTransactions(ctx context.Context, tenantID string, limit int) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if limit <= 0 {
		limit = 100
	}

	key := fmt.Sprintf("history:recent:%d", limit)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, tenantID, key)
		if err != nil {
			slog.Warn("history cache read failed", "tenant_id", tenantID, "error", err)
		} else if cached != nil {
			var txs []*domain.Transaction
			if err := json.Unmarshal(cached, &txs); err == nil {
				return txs, nil
			}
			slog.Warn("dropping undecodable history cache entry", "tenant_id", tenantID, "key", key)
		}
	}

	txs, err := s.repo.ListRecentTransactions(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(txs); err == nil {
			if err := s.cache.Set(ctx, tenantID, key, encoded, s.cacheTTL); err != nil {
				slog.Warn("history cache write failed", "tenant_id", tenantID, "error", err)
			}
		}
	}

	return txs, nil
}

// Sample returns a history window suitable for rule generation. The
// window is capped at max transactions and must hold at least min; too
// little history is a hard rejection, not a degraded generation.
func (s *Service) Sample(ctx context.Context, tenantID string, min, max int) ([]*domain.Transaction, error) {
	if max <= 0 {
		max = 100
	}

	txs, err := s.RecentTransactions(ctx, tenantID, max)
	if err != nil {
		return nil, err
	}

	if len(txs) < min {
		return nil, apperrors.Integrity(apperrors.CodeInsufficientData,
			"need at least %d transactions to generate rules, have %d", min, len(txs))
	}

	return txs, nil
}
