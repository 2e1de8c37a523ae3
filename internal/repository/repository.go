// Package repository provides the tenant-scoped data gateway.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetbooks/kestrel/internal/apperrors"
	"github.com/fleetbooks/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration, wrapped in the
// transient-failure retry decorator.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewRetrying(repo, cfg.MaxRetries, cfg.RetryBackoff), nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const ruleColumns = `id, tenant_id, name, description, pattern, category,
	   confidence_score, is_ai_generated, times_applied, last_applied_at,
	   priority, rule_type, tags, expression, is_active,
	   valid_from, valid_until, created_at, updated_at`

// ListActiveRules retrieves the tenant's enabled rules in stable
// creation order. Matching sessions preserve this order in output.
func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID string) ([]*domain.TransactionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM transaction_rules
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY created_at, id
	`
	return r.queryRules(ctx, query, tenantID)
}

// ListRules retrieves all of the tenant's rules, including disabled
// ones, for dashboard listing.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string) ([]*domain.TransactionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM transaction_rules
		WHERE tenant_id = ?
		ORDER BY created_at, id
	`
	return r.queryRules(ctx, query, tenantID)
}

// GetRule retrieves a single rule with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.TransactionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM transaction_rules
		WHERE tenant_id = ? AND id = ?
	`
	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// InsertRules persists a batch of validated drafts atomically: if any
// draft fails the gateway's shape checks, no row is written. Returns
// the persisted rules with assigned identities.
func (r *SQLRepository) InsertRules(ctx context.Context, tenantID string, drafts []*domain.RuleDraft) ([]*domain.TransactionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: at least one rule draft is required", ErrInvalidInput)
	}

	// Shape checks before any write: all-or-nothing per batch, and the
	// caller is told exactly which candidates were rejected and why.
	var rejects []string
	for i, d := range drafts {
		if d.Name == "" || d.Category == "" {
			rejects = append(rejects, fmt.Sprintf("draft %d: name and category are required", i))
			continue
		}
		if len(d.Pattern.Conditions) == 0 {
			rejects = append(rejects, fmt.Sprintf("draft %d (%s): pattern requires at least one condition", i, d.Name))
			continue
		}
		if d.ConfidenceScore < 0 || d.ConfidenceScore > 1 {
			rejects = append(rejects, fmt.Sprintf("draft %d (%s): confidence_score outside [0,1]", i, d.Name))
		}
	}
	if len(rejects) > 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidRule, "rejected rule drafts: %s", strings.Join(rejects, "; "))
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	now := time.Now().UTC()
	query := `
		INSERT INTO transaction_rules (
			id, tenant_id, name, description, pattern, category,
			confidence_score, is_ai_generated, times_applied, last_applied_at,
			priority, rule_type, tags, expression, is_active,
			valid_from, valid_until, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	rules := make([]*domain.TransactionRule, 0, len(drafts))
	for _, d := range drafts {
		rule := draftToRule(tenantID, d, now)

		pattern, err := json.Marshal(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: unserializable pattern for %q", ErrInvalidInput, rule.Name)
		}
		tags, _ := json.Marshal(rule.Tags)

		_, err = dbTx.ExecContext(ctx, r.rebind(query),
			rule.ID, tenantID, rule.Name, rule.Description,
			string(pattern), rule.Category,
			rule.ConfidenceScore, boolToInt(rule.IsAIGenerated),
			rule.Priority, rule.RuleType, string(tags), rule.Expression,
			boolToInt(rule.IsActive),
			rule.ValidFrom, rule.ValidUntil, now, now,
		)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}
	return rules, nil
}

// UpdateRule applies a partial update with tenant isolation and
// returns the updated rule.
func (r *SQLRepository) UpdateRule(ctx context.Context, tenantID string, ruleID string, patch *domain.RulePatch) (*domain.TransactionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if patch == nil {
		return nil, fmt.Errorf("%w: patch is required", ErrInvalidInput)
	}

	rule, err := r.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	applyPatch(rule, patch)
	rule.UpdatedAt = time.Now().UTC()

	pattern, err := json.Marshal(rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: unserializable pattern", ErrInvalidInput)
	}
	tags, _ := json.Marshal(rule.Tags)

	query := `
		UPDATE transaction_rules SET
			name = ?, description = ?, pattern = ?, category = ?,
			priority = ?, rule_type = ?, tags = ?, expression = ?,
			is_active = ?, valid_from = ?, valid_until = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, string(pattern), rule.Category,
		rule.Priority, rule.RuleType, string(tags), rule.Expression,
		boolToInt(rule.IsActive), rule.ValidFrom, rule.ValidUntil, rule.UpdatedAt,
		tenantID, ruleID,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return rule, nil
}

// DeleteRule removes a rule with tenant isolation.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM transaction_rules WHERE tenant_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRuleApplied bumps usage telemetry when the categorization
// worker applies a rule. The matching engine itself never calls this.
func (r *SQLRepository) RecordRuleApplied(ctx context.Context, tenantID string, ruleID string, at time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE transaction_rules
		SET times_applied = times_applied + 1, last_applied_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query), at.UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTransaction stores a transaction in history with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, description, amount, type, date, category, vendor, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.Description, tx.Amount, tx.Type,
		tx.Date.UTC(), tx.Category, tx.Vendor, tx.CreatedAt.UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, description, amount, type, date, category, vendor, created_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	var date time.Time
	var category, vendor sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.Description, &tx.Amount, &tx.Type,
		&date, &category, &vendor, &tx.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Date = domain.TxTime{Time: date}
	tx.Category = category.String
	tx.Vendor = vendor.String
	return &tx, nil
}

// ListRecentTransactions returns up to limit transactions for a
// tenant, newest first. Feeds the generation oracle's history sample.
func (r *SQLRepository) ListRecentTransactions(ctx context.Context, tenantID string, limit int) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, description, amount, type, date, category, vendor, created_at
		FROM transactions
		WHERE tenant_id = ?
		ORDER BY date DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var date time.Time
		var category, vendor sql.NullString

		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.Description, &tx.Amount, &tx.Type,
			&date, &category, &vendor, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}

		tx.Date = domain.TxTime{Time: date}
		tx.Category = category.String
		tx.Vendor = vendor.String
		txs = append(txs, &tx)
	}

	return txs, rows.Err()
}

// SaveMatchRun stores a matching session audit record.
func (r *SQLRepository) SaveMatchRun(ctx context.Context, tenantID string, run *domain.MatchRun) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	results, _ := json.Marshal(run.Results)

	query := `
		INSERT INTO match_runs (
			id, tenant_id, tx_id, results, rules_evaluated, process_ms, trace_id, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.TxID, string(results),
		run.RulesEvaluated, run.ProcessMs, run.TraceID, run.Timestamp.UTC(),
	)
	return err
}

// GetMatchRun retrieves a match run by ID with tenant isolation.
func (r *SQLRepository) GetMatchRun(ctx context.Context, tenantID string, runID string) (*domain.MatchRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, results, rules_evaluated, process_ms, trace_id, timestamp
		FROM match_runs
		WHERE tenant_id = ? AND id = ?
	`

	var run domain.MatchRun
	var results string
	var traceID sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&run.ID, &run.TenantID, &run.TxID, &results,
		&run.RulesEvaluated, &run.ProcessMs, &traceID, &run.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.TraceID = traceID.String
	if err := json.Unmarshal([]byte(results), &run.Results); err != nil {
		return nil, fmt.Errorf("failed to parse match results for %s: %w", run.ID, err)
	}
	return &run, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.TransactionRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.TransactionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.TransactionRule, error) {
	var rule domain.TransactionRule
	var description, tags, expression sql.NullString
	var pattern string
	var isAI, isActive int
	var lastApplied, validFrom, validUntil sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description,
		&pattern, &rule.Category,
		&rule.ConfidenceScore, &isAI, &rule.TimesApplied, &lastApplied,
		&rule.Priority, &rule.RuleType, &tags, &expression, &isActive,
		&validFrom, &validUntil, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Expression = expression.String
	rule.IsAIGenerated = isAI == 1
	rule.IsActive = isActive == 1
	if lastApplied.Valid {
		t := lastApplied.Time
		rule.LastAppliedAt = &t
	}
	if validFrom.Valid {
		t := validFrom.Time
		rule.ValidFrom = &t
	}
	if validUntil.Valid {
		t := validUntil.Time
		rule.ValidUntil = &t
	}

	if err := json.Unmarshal([]byte(pattern), &rule.Pattern); err != nil {
		return nil, fmt.Errorf("failed to parse pattern for rule %s: %w", rule.ID, err)
	}
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &rule.Tags)
	}

	return &rule, nil
}

func draftToRule(tenantID string, d *domain.RuleDraft, now time.Time) *domain.TransactionRule {
	ruleType := d.RuleType
	if ruleType == "" {
		ruleType = domain.RuleTypeStandard
	}
	active := true
	if d.IsActive != nil {
		active = *d.IsActive
	}

	return &domain.TransactionRule{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		Name:            d.Name,
		Description:     d.Description,
		Pattern:         d.Pattern,
		Category:        d.Category,
		ConfidenceScore: d.ConfidenceScore,
		IsAIGenerated:   d.IsAIGenerated,
		Priority:        d.Priority,
		RuleType:        ruleType,
		Tags:            d.Tags,
		Expression:      d.Expression,
		IsActive:        active,
		ValidFrom:       d.ValidFrom,
		ValidUntil:      d.ValidUntil,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func applyPatch(rule *domain.TransactionRule, patch *domain.RulePatch) {
	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Pattern != nil {
		rule.Pattern = *patch.Pattern
	}
	if patch.Category != nil {
		rule.Category = *patch.Category
	}
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.RuleType != nil {
		rule.RuleType = *patch.RuleType
	}
	if patch.Tags != nil {
		rule.Tags = patch.Tags
	}
	if patch.Expression != nil {
		rule.Expression = *patch.Expression
	}
	if patch.IsActive != nil {
		rule.IsActive = *patch.IsActive
	}
	if patch.ValidFrom != nil {
		rule.ValidFrom = patch.ValidFrom
	}
	if patch.ValidUntil != nil {
		rule.ValidUntil = patch.ValidUntil
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
