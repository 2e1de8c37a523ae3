// Package oracle integrates an external language-model service that
// proposes categorization rules from a tenant's transaction history.
package oracle

import (
	"context"

	"github.com/fleetbooks/kestrel/internal/domain"
)

// GenerateRequest carries one rule generation call to the oracle.
type GenerateRequest struct {
	TenantID     string
	Transactions []*domain.Transaction
	// Hint is optional operator guidance, e.g. "focus on recurring
	// vendor payments".
	Hint string
}

// Oracle produces raw rule candidates. The response payload is the
// model's text output; the adapter owns parsing and validation.
type Oracle interface {
	Generate(ctx context.Context, req *GenerateRequest) ([]byte, error)
}
