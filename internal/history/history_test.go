package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fleetbooks/kestrel/internal/apperrors"
	"github.com/fleetbooks/kestrel/internal/cache"
	"github.com/fleetbooks/kestrel/internal/domain"
)

type fakeRepo struct {
	domain.Repository

	txs     []*domain.Transaction
	listErr error
	fetches int
}

func (f *fakeRepo) ListRecentTransactions(ctx context.Context, tenantID string, limit int) ([]*domain.Transaction, error) {
	f.fetches++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit < len(f.txs) {
		return f.txs[:limit], nil
	}
	return f.txs, nil
}

type brokenCache struct {
	domain.Cache
}

func (brokenCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	return nil, errors.New("cache backend unavailable")
}

func (brokenCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	return errors.New("cache backend unavailable")
}

func sampleTxs(n int) []*domain.Transaction {
	txs := make([]*domain.Transaction, n)
	for i := range txs {
		txs[i] = &domain.Transaction{
			ID:          fmt.Sprintf("tx-%03d", i),
			Description: fmt.Sprintf("Fuel stop %d", i),
			Amount:      -42.50,
			Type:        domain.TxTypeExpense,
		}
	}
	return txs
}

func TestRecentTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("SecondReadServedFromCache", func(t *testing.T) {
		repo := &fakeRepo{txs: sampleTxs(3)}
		lru := cache.NewLRUCache(10)
		defer lru.Close()

		svc := NewService(repo, lru)

		first, err := svc.RecentTransactions(ctx, "company-001", 50)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(first) != 3 {
			t.Fatalf("expected 3 transactions, got %d", len(first))
		}

		second, err := svc.RecentTransactions(ctx, "company-001", 50)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(second) != 3 {
			t.Fatalf("expected 3 transactions, got %d", len(second))
		}
		if second[0].ID != "tx-000" || second[0].Description != "Fuel stop 0" {
			t.Errorf("cached transaction lost fields: %+v", second[0])
		}
		if repo.fetches != 1 {
			t.Errorf("expected 1 repository fetch, got %d", repo.fetches)
		}
	})

	t.Run("DifferentLimitsDoNotShareEntries", func(t *testing.T) {
		repo := &fakeRepo{txs: sampleTxs(5)}
		lru := cache.NewLRUCache(10)
		defer lru.Close()

		svc := NewService(repo, lru)

		if _, err := svc.RecentTransactions(ctx, "company-001", 2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := svc.RecentTransactions(ctx, "company-001", 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 5 {
			t.Errorf("limit 5 must not reuse the limit-2 entry, got %d transactions", len(got))
		}
		if repo.fetches != 2 {
			t.Errorf("expected 2 repository fetches, got %d", repo.fetches)
		}
	})

	t.Run("CacheFailureDegradesToRepository", func(t *testing.T) {
		repo := &fakeRepo{txs: sampleTxs(2)}
		svc := NewService(repo, brokenCache{})

		for i := 0; i < 2; i++ {
			txs, err := svc.RecentTransactions(ctx, "company-001", 10)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(txs) != 2 {
				t.Fatalf("expected 2 transactions, got %d", len(txs))
			}
		}
		if repo.fetches != 2 {
			t.Errorf("expected every read to hit the repository, got %d fetches", repo.fetches)
		}
	})

	t.Run("NilCacheReadsRepository", func(t *testing.T) {
		repo := &fakeRepo{txs: sampleTxs(1)}
		svc := NewService(repo, nil)

		txs, err := svc.RecentTransactions(ctx, "company-001", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 1 {
			t.Fatalf("expected 1 transaction, got %d", len(txs))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		svc := NewService(&fakeRepo{}, nil)
		if _, err := svc.RecentTransactions(ctx, "", 10); err == nil {
			t.Error("expected error for empty tenant ID")
		}
	})

	t.Run("RepositoryErrorPropagates", func(t *testing.T) {
		repo := &fakeRepo{listErr: errors.New("connection reset")}
		svc := NewService(repo, nil)
		if _, err := svc.RecentTransactions(ctx, "company-001", 10); err == nil {
			t.Error("expected repository error to propagate")
		}
	})
}

func TestSample(t *testing.T) {
	ctx := context.Background()

	t.Run("EnoughHistory", func(t *testing.T) {
		svc := NewService(&fakeRepo{txs: sampleTxs(10)}, nil)
		txs, err := svc.Sample(ctx, "company-001", 5, 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 10 {
			t.Errorf("expected 10 transactions, got %d", len(txs))
		}
	})

	t.Run("CappedAtMax", func(t *testing.T) {
		svc := NewService(&fakeRepo{txs: sampleTxs(10)}, nil)
		txs, err := svc.Sample(ctx, "company-001", 5, 7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 7 {
			t.Errorf("expected sample capped at 7, got %d", len(txs))
		}
	})

	t.Run("TooLittleHistoryRejected", func(t *testing.T) {
		svc := NewService(&fakeRepo{txs: sampleTxs(2)}, nil)
		_, err := svc.Sample(ctx, "company-001", 5, 100)
		if err == nil {
			t.Fatal("expected insufficient-data rejection")
		}
		if apperrors.KindOf(err) != apperrors.KindIntegrity {
			t.Errorf("expected integrity error, got %v", err)
		}
	})
}
