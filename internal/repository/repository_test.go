package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fleetbooks/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func fuelDraft() *domain.RuleDraft {
	return &domain.RuleDraft{
		Name:            "Fuel purchases",
		Description:     "Fleet refueling",
		Category:        "vehicle:fuel",
		ConfidenceScore: 1.0,
		Pattern: domain.Pattern{
			Conditions: []domain.Condition{
				{Field: "description", Operator: domain.OpContains, Value: "fuel"},
			},
		},
		Tags: []string{"vehicle", "recurring"},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "company-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("InsertAndGetRule", func(t *testing.T) {
		rules, err := repo.InsertRules(ctx, tenantID, []*domain.RuleDraft{fuelDraft()})
		if err != nil {
			t.Fatalf("InsertRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(rules))
		}

		rule := rules[0]
		if rule.ID == "" {
			t.Error("inserted rule should have an assigned ID")
		}
		if !rule.IsActive {
			t.Error("rules default to active")
		}

		retrieved, err := repo.GetRule(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if retrieved.Name != "Fuel purchases" {
			t.Errorf("expected name preserved, got %s", retrieved.Name)
		}
		if len(retrieved.Pattern.Conditions) != 1 {
			t.Errorf("pattern should round-trip, got %d conditions", len(retrieved.Pattern.Conditions))
		}
		if len(retrieved.Tags) != 2 {
			t.Errorf("tags should round-trip, got %v", retrieved.Tags)
		}
	})

	t.Run("InsertBatchAllOrNothing", func(t *testing.T) {
		bad := fuelDraft()
		bad.Name = ""

		_, err := repo.InsertRules(ctx, "company-batch", []*domain.RuleDraft{fuelDraft(), bad})
		if err == nil {
			t.Fatal("batch with malformed draft should be rejected")
		}

		rules, err := repo.ListRules(ctx, "company-batch")
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("no rules should be persisted from a rejected batch, got %d", len(rules))
		}
	})

	t.Run("ListActiveRulesStableOrder", func(t *testing.T) {
		tenant := "company-order"

		first := fuelDraft()
		first.Name = "Alpha"
		second := fuelDraft()
		second.Name = "Beta"
		inactive := fuelDraft()
		inactive.Name = "Disabled"
		off := false
		inactive.IsActive = &off

		if _, err := repo.InsertRules(ctx, tenant, []*domain.RuleDraft{first, second, inactive}); err != nil {
			t.Fatalf("InsertRules failed: %v", err)
		}

		active, err := repo.ListActiveRules(ctx, tenant)
		if err != nil {
			t.Fatalf("ListActiveRules failed: %v", err)
		}
		if len(active) != 2 {
			t.Fatalf("expected 2 active rules, got %d", len(active))
		}
		if active[0].Name != "Alpha" || active[1].Name != "Beta" {
			t.Errorf("expected stable creation order, got %s then %s", active[0].Name, active[1].Name)
		}
	})

	t.Run("UpdateRulePartial", func(t *testing.T) {
		rules, err := repo.InsertRules(ctx, tenantID, []*domain.RuleDraft{fuelDraft()})
		if err != nil {
			t.Fatalf("InsertRules failed: %v", err)
		}
		ruleID := rules[0].ID

		newName := "Fuel and tolls"
		off := false
		updated, err := repo.UpdateRule(ctx, tenantID, ruleID, &domain.RulePatch{
			Name:     &newName,
			IsActive: &off,
		})
		if err != nil {
			t.Fatalf("UpdateRule failed: %v", err)
		}
		if updated.Name != newName {
			t.Errorf("name not updated: %s", updated.Name)
		}
		if updated.IsActive {
			t.Error("is_active not updated")
		}
		if updated.Category != "vehicle:fuel" {
			t.Error("untouched field changed")
		}
	})

	t.Run("DeleteRule", func(t *testing.T) {
		rules, err := repo.InsertRules(ctx, tenantID, []*domain.RuleDraft{fuelDraft()})
		if err != nil {
			t.Fatalf("InsertRules failed: %v", err)
		}
		ruleID := rules[0].ID

		if err := repo.DeleteRule(ctx, tenantID, ruleID); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if _, err := repo.GetRule(ctx, tenantID, ruleID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.DeleteRule(ctx, tenantID, ruleID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on double delete, got %v", err)
		}
	})

	t.Run("RecordRuleApplied", func(t *testing.T) {
		rules, err := repo.InsertRules(ctx, tenantID, []*domain.RuleDraft{fuelDraft()})
		if err != nil {
			t.Fatalf("InsertRules failed: %v", err)
		}
		ruleID := rules[0].ID

		at := time.Now().UTC()
		if err := repo.RecordRuleApplied(ctx, tenantID, ruleID, at); err != nil {
			t.Fatalf("RecordRuleApplied failed: %v", err)
		}
		if err := repo.RecordRuleApplied(ctx, tenantID, ruleID, at); err != nil {
			t.Fatalf("RecordRuleApplied failed: %v", err)
		}

		rule, err := repo.GetRule(ctx, tenantID, ruleID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if rule.TimesApplied != 2 {
			t.Errorf("expected times_applied 2, got %d", rule.TimesApplied)
		}
		if rule.LastAppliedAt == nil {
			t.Error("last_applied_at should be set")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		rules, err := repo.InsertRules(ctx, "company-a", []*domain.RuleDraft{fuelDraft()})
		if err != nil {
			t.Fatalf("InsertRules failed: %v", err)
		}

		if _, err := repo.GetRule(ctx, "company-b", rules[0].ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for foreign tenant, got %v", err)
		}
		if err := repo.DeleteRule(ctx, "company-b", rules[0].ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("foreign tenant delete should be ErrNotFound, got %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if _, err := repo.ListActiveRules(ctx, ""); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := repo.InsertRules(ctx, "", []*domain.RuleDraft{fuelDraft()}); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestTransactionsAndMatchRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "company-001"

	tx := &domain.Transaction{
		ID:          "tx-001",
		TenantID:    tenantID,
		Description: "Shell Fuel Station #42",
		Amount:      150.0,
		Type:        domain.TxTypeExpense,
		Date:        domain.TxTime{Time: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)},
		Vendor:      "Shell",
		CreatedAt:   time.Now().UTC(),
	}

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if retrieved.Description != tx.Description {
			t.Errorf("description mismatch: %s", retrieved.Description)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("amount mismatch: %v", retrieved.Amount)
		}
	})

	t.Run("ListRecentNewestFirst", func(t *testing.T) {
		older := *tx
		older.ID = "tx-000"
		older.Date = domain.TxTime{Time: tx.Date.Add(-48 * time.Hour)}
		if err := repo.SaveTransaction(ctx, tenantID, &older); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		txs, err := repo.ListRecentTransactions(ctx, tenantID, 10)
		if err != nil {
			t.Fatalf("ListRecentTransactions failed: %v", err)
		}
		if len(txs) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(txs))
		}
		if txs[0].ID != "tx-001" {
			t.Errorf("expected newest first, got %s", txs[0].ID)
		}
	})

	t.Run("ListRecentHonorsLimit", func(t *testing.T) {
		txs, err := repo.ListRecentTransactions(ctx, tenantID, 1)
		if err != nil {
			t.Fatalf("ListRecentTransactions failed: %v", err)
		}
		if len(txs) != 1 {
			t.Errorf("expected limit 1, got %d", len(txs))
		}
	})

	t.Run("SaveAndGetMatchRun", func(t *testing.T) {
		run := &domain.MatchRun{
			ID:       "run-001",
			TenantID: tenantID,
			TxID:     tx.ID,
			Results: []domain.MatchResult{
				{
					RuleID:     "rule-001",
					Name:       "Fuel purchases",
					Category:   "vehicle:fuel",
					Confidence: 0.9,
					MatchedConditions: []domain.MatchedCondition{
						{Field: "description", Operator: "contains", Value: "fuel", Matched: true},
					},
				},
			},
			RulesEvaluated: 3,
			ProcessMs:      12,
			TraceID:        "trace-001",
			Timestamp:      time.Now().UTC(),
		}

		if err := repo.SaveMatchRun(ctx, tenantID, run); err != nil {
			t.Fatalf("SaveMatchRun failed: %v", err)
		}

		retrieved, err := repo.GetMatchRun(ctx, tenantID, run.ID)
		if err != nil {
			t.Fatalf("GetMatchRun failed: %v", err)
		}
		if len(retrieved.Results) != 1 {
			t.Fatalf("results should round-trip, got %d", len(retrieved.Results))
		}
		if retrieved.Results[0].Category != "vehicle:fuel" {
			t.Errorf("result category mismatch: %s", retrieved.Results[0].Category)
		}
		if retrieved.RulesEvaluated != 3 {
			t.Errorf("rules_evaluated mismatch: %d", retrieved.RulesEvaluated)
		}
	})

	t.Run("MatchRunTenantIsolation", func(t *testing.T) {
		if _, err := repo.GetMatchRun(ctx, "company-other", "run-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for foreign tenant, got %v", err)
		}
	})
}
