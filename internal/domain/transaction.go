package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Transaction types understood by the matching engine.
const (
	TxTypeExpense  = "expense"
	TxTypeIncome   = "income"
	TxTypeTransfer = "transfer"
)

// TxTime wraps time.Time and accepts both RFC 3339 timestamps and bare
// ISO-8601 dates ("2025-03-10") on the wire. Dashboards send bare dates
// for ad-hoc test transactions.
type TxTime struct {
	time.Time
}

// UnmarshalJSON parses RFC 3339 first, then falls back to a bare date.
func (t *TxTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		parsed, err = time.Parse("2006-01-02", raw)
	}
	if err != nil {
		return fmt.Errorf("invalid date %q: expected RFC 3339 or YYYY-MM-DD", raw)
	}

	t.Time = parsed
	return nil
}

// MarshalJSON emits RFC 3339 in UTC.
func (t TxTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// Transaction represents a financial event owned by the accounting
// subsystem. The matching engine references transactions but never
// mutates them.
type Transaction struct {
	// ID may be empty for ad-hoc test transactions sent by the dashboard.
	ID       string `json:"id,omitempty"`
	TenantID string `json:"companyId,omitempty"`

	Description string  `json:"description"`
	Amount      float64 `json:"amount"`

	// Type is one of "expense", "income", "transfer".
	Type string `json:"type"`

	Date TxTime `json:"date"`

	Category string `json:"category,omitempty"`
	Vendor   string `json:"vendor,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// ValidTxType reports whether t is one of the recognized transaction types.
func ValidTxType(t string) bool {
	switch t {
	case TxTypeExpense, TxTypeIncome, TxTypeTransfer:
		return true
	}
	return false
}
