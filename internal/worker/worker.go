// Package worker provides async transaction categorization from the
// event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetbooks/kestrel/internal/domain"
	"github.com/fleetbooks/kestrel/internal/match"
)

// Worker consumes ingested transactions, runs them through the
// matching session, records the match run, and publishes results.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	session *match.Session

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string
}

// NewWorker creates a new async categorization worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, session *match.Session) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		session: session,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processTransaction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processTransaction(ctx, msg.TenantID, msg)
}

// processTransaction categorizes one ingested transaction.
func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if tx.TenantID != "" {
		tenantID = tx.TenantID
	}

	slog.Debug("categorizing transaction",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
	)

	results, err := w.session.TestTransaction(ctx, tenantID, &tx)
	if err != nil {
		slog.Error("matching failed",
			"tx_id", tx.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	ruleCount, _ := w.session.RuleCount(ctx, tenantID)

	run := &domain.MatchRun{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		TxID:           tx.ID,
		Results:        results,
		RulesEvaluated: ruleCount,
		ProcessMs:      time.Since(start).Milliseconds(),
		TraceID:        msg.ID,
		Timestamp:      time.Now().UTC(),
	}

	if w.repo != nil {
		if err := w.repo.SaveMatchRun(ctx, tenantID, run); err != nil {
			slog.Error("failed to save match run",
				"tx_id", tx.ID,
				"error", err,
			)
		}

		// Usage telemetry on the winning rule only. The full result
		// list stays in the match run.
		if len(results) > 0 {
			if err := w.repo.RecordRuleApplied(ctx, tenantID, results[0].RuleID, run.Timestamp); err != nil {
				slog.Error("failed to record rule application",
					"rule_id", results[0].RuleID,
					"error", err,
				)
			}
		}
	}

	if len(results) > 0 {
		payload, _ := json.Marshal(run)
		if err := w.bus.Publish(ctx, tenantID, domain.TopicRuleMatched, payload); err != nil {
			slog.Error("failed to publish match event",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction categorized",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
		"matches", len(results),
		"rules_evaluated", run.RulesEvaluated,
		"duration_ms", run.ProcessMs,
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
