package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fleetbooks/kestrel/internal/apperrors"
	"github.com/fleetbooks/kestrel/internal/domain"
	"github.com/fleetbooks/kestrel/internal/match"
	"github.com/fleetbooks/kestrel/internal/oracle"
	"github.com/fleetbooks/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *match.Engine
	session   *match.Session
	generator *oracle.Adapter
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *match.Engine, session *match.Session, generator *oracle.Adapter, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		session:   session,
		generator: generator,
		version:   version,
	}
}

// TestResponse is the response for POST /rules/test.
type TestResponse struct {
	MatchedRules []domain.MatchResult `json:"matched_rules"`
	Count        int                  `json:"count"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// TestRule handles POST /rules/test: evaluate a candidate transaction
// against the tenant's active rule set without persisting anything.
func (h *Handler) TestRule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	tx, err := decodeTestTransaction(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := validateTransaction(tx); err != nil {
		writeError(w, r, err)
		return
	}
	tx.TenantID = tenantID

	results, err := h.session.TestTransaction(ctx, tenantID, tx)
	if err != nil {
		slog.Error("matching failed", "tenant_id", tenantID, "error", err)
		writeError(w, r, err)
		return
	}

	resp := TestResponse{
		MatchedRules: results,
		Count:        len(results),
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// ListRules returns all of the tenant's rules, active or not.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules", "tenant_id", tenantID, "error", err)
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		writeError(w, r, mapRepoErr(err, "rule %s not found", ruleID))
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /rules. Manual rules are trusted: the
// confidence score is pinned to 1.0 and the AI flag cleared regardless
// of what the caller sends.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var draft domain.RuleDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, r, apperrors.Validation(apperrors.CodeInvalidInput, "invalid JSON request body"))
		return
	}

	draft.ConfidenceScore = 1.0
	draft.IsAIGenerated = false

	if err := h.engine.ValidateDraft(&draft); err != nil {
		writeError(w, r, err)
		return
	}

	rules, err := h.repo.InsertRules(ctx, tenantID, []*domain.RuleDraft{&draft})
	if err != nil {
		slog.Error("failed to create rule", "tenant_id", tenantID, "error", err)
		writeError(w, r, err)
		return
	}

	h.afterRuleWrite(ctx, tenantID)

	slog.Info("rule created",
		"tenant_id", tenantID,
		"rule_id", rules[0].ID,
		"name", rules[0].Name,
	)
	writeJSON(w, http.StatusCreated, rules[0])
}

// UpdateRule handles PATCH /rules/{id} with partial updates.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	var patch domain.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, r, apperrors.Validation(apperrors.CodeInvalidInput, "invalid JSON request body"))
		return
	}

	if err := h.engine.ValidatePatch(&patch); err != nil {
		writeError(w, r, err)
		return
	}

	rule, err := h.repo.UpdateRule(ctx, tenantID, ruleID, &patch)
	if err != nil {
		writeError(w, r, mapRepoErr(err, "rule %s not found", ruleID))
		return
	}

	h.afterRuleWrite(ctx, tenantID)

	slog.Info("rule updated", "tenant_id", tenantID, "rule_id", ruleID)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteRule(ctx, tenantID, ruleID); err != nil {
		writeError(w, r, mapRepoErr(err, "rule %s not found", ruleID))
		return
	}

	h.afterRuleWrite(ctx, tenantID)

	slog.Info("rule deleted", "tenant_id", tenantID, "rule_id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// GenerateRequest is the request body for POST /rules/generate.
type GenerateRequest struct {
	Hint string `json:"hint,omitempty"`
}

// GenerateRules handles POST /rules/generate: ask the oracle for rule
// candidates derived from the tenant's recent transactions. The batch
// is all-or-nothing; one malformed candidate rejects everything.
func (h *Handler) GenerateRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.generator == nil {
		writeError(w, r, apperrors.Internal("rule generation is not configured", nil))
		return
	}

	var req GenerateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, apperrors.Validation(apperrors.CodeInvalidInput, "invalid JSON request body"))
			return
		}
	}

	rules, err := h.generator.Generate(ctx, tenantID, req.Hint)
	if err != nil {
		slog.Error("rule generation failed", "tenant_id", tenantID, "error", err)
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// IngestTransaction handles POST /transactions: persist the
// transaction and hand it to the async categorization pipeline.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, r, apperrors.Validation(apperrors.CodeInvalidInput, "invalid JSON request body"))
		return
	}

	if err := validateTransaction(&tx); err != nil {
		writeError(w, r, err)
		return
	}

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.TenantID = tenantID
	tx.CreatedAt = time.Now().UTC()

	if err := h.repo.SaveTransaction(ctx, tenantID, &tx); err != nil {
		slog.Error("failed to save transaction", "tenant_id", tenantID, "error", err)
		writeError(w, r, err)
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(&tx)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionIngested, payload); err != nil {
			slog.Error("failed to publish ingestion event",
				"tx_id", tx.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     tx.ID,
		"status": "accepted",
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeError(w, r, mapRepoErr(err, "transaction %s not found", txID))
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetMatchRun retrieves a match run audit record by ID.
func (h *Handler) GetMatchRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	run, err := h.repo.GetMatchRun(ctx, tenantID, runID)
	if err != nil {
		writeError(w, r, mapRepoErr(err, "match run %s not found", runID))
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// afterRuleWrite drops the cached rule snapshot and broadcasts the
// change so other nodes and workers pick it up.
func (h *Handler) afterRuleWrite(ctx context.Context, tenantID string) {
	if h.session != nil {
		h.session.InvalidateSnapshot(ctx, tenantID)
	}
	if h.bus != nil {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicRulesChanged, nil); err != nil {
			slog.Warn("failed to publish rules changed event",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}
}

// decodeTestTransaction reads a /rules/test request body. The
// documented shape wraps the transaction in an envelope
// ({"transaction": {...}}); a bare transaction object is accepted too
// for dashboard callers that predate the envelope.
func decodeTestTransaction(body io.Reader) (*domain.Transaction, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "invalid JSON request body")
	}

	var envelope struct {
		Transaction *domain.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Transaction != nil {
		return envelope.Transaction, nil
	}

	var tx domain.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "invalid JSON request body")
	}
	return &tx, nil
}

func validateTransaction(tx *domain.Transaction) error {
	if tx.Description == "" {
		return apperrors.Validation(apperrors.CodeInvalidInput, "description is required")
	}
	if tx.Type != "" && !domain.ValidTxType(tx.Type) {
		return apperrors.Validation(apperrors.CodeInvalidInput, "unknown transaction type %q", tx.Type)
	}
	if tx.Date.IsZero() {
		return apperrors.Validation(apperrors.CodeInvalidInput, "date is required")
	}
	return nil
}

// mapRepoErr translates gateway sentinel errors into the API taxonomy.
func mapRepoErr(err error, notFoundFormat string, args ...any) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound(notFoundFormat, args...)
	case errors.Is(err, repository.ErrInvalidInput):
		return apperrors.Validation(apperrors.CodeInvalidInput, "%v", err)
	default:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError renders the error contract: message, stable code, and the
// request ID for correlation.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), map[string]string{
		"error":      err.Error(),
		"error_code": apperrors.CodeOf(err),
		"request_id": GetRequestID(r.Context()),
	})
}
