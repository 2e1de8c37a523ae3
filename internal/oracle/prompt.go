package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fleetbooks/kestrel/internal/domain"
)

// promptTx is the trimmed transaction shape sent to the model. IDs and
// tenant identifiers never leave the service.
type promptTx struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Type        string  `json:"type"`
	Date        string  `json:"date"`
	Category    string  `json:"category,omitempty"`
	Vendor      string  `json:"vendor,omitempty"`
}

// BuildPrompt renders the generation prompt for a history sample. The
// output is deterministic for a given request so retries send the
// same payload.
func BuildPrompt(req *GenerateRequest) (string, error) {
	if len(req.Transactions) == 0 {
		return "", fmt.Errorf("at least one transaction is required")
	}

	sample := make([]promptTx, 0, len(req.Transactions))
	for _, tx := range req.Transactions {
		sample = append(sample, promptTx{
			Description: tx.Description,
			Amount:      tx.Amount,
			Type:        tx.Type,
			Date:        tx.Date.Format("2006-01-02"),
			Category:    tx.Category,
			Vendor:      tx.Vendor,
		})
	}

	encoded, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction sample: %w", err)
	}

	var b strings.Builder
	b.WriteString("Analyze the following transactions and propose categorization rules.\n\n")
	b.WriteString("Each rule must be a JSON object with these fields:\n")
	b.WriteString(`  "name": short human-readable rule name` + "\n")
	b.WriteString(`  "description": what the rule captures` + "\n")
	b.WriteString(`  "category": the category to assign on match` + "\n")
	b.WriteString(`  "confidence_score": number in [0,1]` + "\n")
	b.WriteString(`  "pattern": {"conditions": [{"field", "operator", "value"}], "amount_range": optional {"min","max"}}` + "\n\n")
	b.WriteString("Valid condition fields: description, amount, type, category, vendor, date.\n")
	b.WriteString("Valid operators: equals, contains, startsWith, endsWith, greaterThan, lessThan, between.\n\n")

	if req.Hint != "" {
		b.WriteString("Guidance: ")
		b.WriteString(req.Hint)
		b.WriteString("\n\n")
	}

	b.WriteString("Transactions:\n")
	b.Write(encoded)
	b.WriteString("\n\nRespond with a JSON object: {\"rules\": [...]}")

	return b.String(), nil
}

// ParseRules decodes the oracle's output into rule drafts. A payload
// that is not the expected envelope is a validation failure; field
// level checks happen later in the adapter.
func ParseRules(payload []byte) ([]*domain.RuleDraft, error) {
	var envelope struct {
		Rules []*domain.RuleDraft `json:"rules"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("oracle output is not valid JSON: %w", err)
	}
	if len(envelope.Rules) == 0 {
		return nil, fmt.Errorf("oracle output contains no rules")
	}
	return envelope.Rules, nil
}
