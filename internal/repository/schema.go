package repository

// Schema definitions for Kestrel.
// Compatible with both SQLite and PostgreSQL.

const schemaRules = `
CREATE TABLE IF NOT EXISTS transaction_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    pattern TEXT NOT NULL,
    category TEXT NOT NULL,
    confidence_score REAL NOT NULL DEFAULT 1.0,
    is_ai_generated INTEGER NOT NULL DEFAULT 0,
    times_applied INTEGER NOT NULL DEFAULT 0,
    last_applied_at TIMESTAMP,
    priority INTEGER NOT NULL DEFAULT 0,
    rule_type TEXT NOT NULL DEFAULT 'standard',
    tags TEXT,
    expression TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    valid_from TIMESTAMP,
    valid_until TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_tenant ON transaction_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rules_active ON transaction_rules(tenant_id, is_active);
CREATE INDEX IF NOT EXISTS idx_rules_category ON transaction_rules(tenant_id, category);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    description TEXT NOT NULL,
    amount REAL NOT NULL,
    type TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    category TEXT,
    vendor TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(tenant_id, date);
`

const schemaMatchRuns = `
CREATE TABLE IF NOT EXISTS match_runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    results TEXT NOT NULL,
    rules_evaluated INTEGER NOT NULL,
    process_ms INTEGER NOT NULL,
    trace_id TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_runs_tenant ON match_runs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_match_runs_tx ON match_runs(tenant_id, tx_id);
CREATE INDEX IF NOT EXISTS idx_match_runs_timestamp ON match_runs(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaTransactions,
		schemaMatchRuns,
	}
}
