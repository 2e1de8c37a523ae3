//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel rule
// matching engine against a running instance.
//
// The tests exercise the complete categorization pipeline:
//
//	Rule creation → Snapshot refresh → One-shot matching → Ingestion
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The target instance is taken from KESTREL_TEST_URL (default
// http://localhost:8080) and must run without an API token, or with the
// token exported as KESTREL_TEST_TOKEN. Each run uses a fresh tenant ID
// so repeated runs do not interfere with each other.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

type testConfig struct {
	BaseURL  string
	Token    string
	TenantID string
}

func getTestConfig() testConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return testConfig{
		BaseURL:  baseURL,
		Token:    os.Getenv("KESTREL_TEST_TOKEN"),
		TenantID: fmt.Sprintf("integration-%d", time.Now().UnixNano()),
	}
}

func (c testConfig) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Company-ID", c.TenantID)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp.StatusCode, payload
}

func requireServer(t *testing.T, cfg testConfig) {
	t.Helper()
	resp, err := http.Get(cfg.BaseURL + "/health")
	if err != nil {
		t.Skipf("no server at %s: %v", cfg.BaseURL, err)
	}
	resp.Body.Close()
}

func fuelRule() map[string]any {
	return map[string]any{
		"name":        "Fuel purchases",
		"description": "Fleet refueling at gas stations",
		"category":    "vehicle:fuel",
		"pattern": map[string]any{
			"conditions": []map[string]any{
				{"field": "description", "operator": "contains", "value": "fuel"},
			},
			"amount_range": map[string]any{"min": 10.0, "max": 500.0},
		},
		"tags": []string{"vehicle"},
	}
}

func fuelTransaction() map[string]any {
	return map[string]any{
		"description": "Shell Fuel Station #42",
		"amount":      150.0,
		"type":        "expense",
		"date":        "2025-03-10",
		"vendor":      "Shell",
	}
}

func TestCategorizationPipeline(t *testing.T) {
	cfg := getTestConfig()
	requireServer(t, cfg)

	// Seed a rule for this tenant.
	status, body := cfg.do(t, http.MethodPost, "/rules", fuelRule())
	if status != http.StatusCreated {
		t.Fatalf("rule creation failed (%d): %s", status, body)
	}

	var created struct {
		ID              string  `json:"id"`
		ConfidenceScore float64 `json:"confidence_score"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("failed to decode rule: %v", err)
	}
	if created.ConfidenceScore != 1.0 {
		t.Errorf("manual rule confidence should be 1.0, got %v", created.ConfidenceScore)
	}

	// One-shot match.
	status, body = cfg.do(t, http.MethodPost, "/rules/test", map[string]any{
		"transaction": fuelTransaction(),
	})
	if status != http.StatusOK {
		t.Fatalf("rule test failed (%d): %s", status, body)
	}

	var testResp struct {
		MatchedRules []struct {
			RuleID   string `json:"rule_id"`
			Category string `json:"category"`
		} `json:"matched_rules"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &testResp); err != nil {
		t.Fatalf("failed to decode test response: %v", err)
	}
	if testResp.Count != 1 {
		t.Fatalf("expected 1 match, got %d: %s", testResp.Count, body)
	}
	if testResp.MatchedRules[0].RuleID != created.ID {
		t.Errorf("matched wrong rule %s", testResp.MatchedRules[0].RuleID)
	}
	if testResp.MatchedRules[0].Category != "vehicle:fuel" {
		t.Errorf("expected category vehicle:fuel, got %s", testResp.MatchedRules[0].Category)
	}

	// Async ingestion.
	status, body = cfg.do(t, http.MethodPost, "/transactions", fuelTransaction())
	if status != http.StatusAccepted {
		t.Fatalf("ingestion failed (%d): %s", status, body)
	}

	var accepted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("failed to decode ingestion response: %v", err)
	}

	// The transaction is readable back regardless of worker timing.
	status, body = cfg.do(t, http.MethodGet, "/transactions/"+accepted.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("transaction lookup failed (%d): %s", status, body)
	}
}

func TestRuleDeactivation(t *testing.T) {
	cfg := getTestConfig()
	requireServer(t, cfg)

	status, body := cfg.do(t, http.MethodPost, "/rules", fuelRule())
	if status != http.StatusCreated {
		t.Fatalf("rule creation failed (%d): %s", status, body)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("failed to decode rule: %v", err)
	}

	status, body = cfg.do(t, http.MethodPatch, "/rules/"+created.ID, map[string]any{"is_active": false})
	if status != http.StatusOK {
		t.Fatalf("deactivation failed (%d): %s", status, body)
	}

	status, body = cfg.do(t, http.MethodPost, "/rules/test", map[string]any{
		"transaction": fuelTransaction(),
	})
	if status != http.StatusOK {
		t.Fatalf("rule test failed (%d): %s", status, body)
	}
	var testResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &testResp); err != nil {
		t.Fatalf("failed to decode test response: %v", err)
	}
	if testResp.Count != 0 {
		t.Errorf("deactivated rule still matches: %s", body)
	}
}

func TestErrorContract(t *testing.T) {
	cfg := getTestConfig()
	requireServer(t, cfg)

	// Missing tenant header.
	req, _ := http.NewRequest(http.MethodGet, cfg.BaseURL+"/rules", nil)
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant header, got %d", resp.StatusCode)
	}

	var errBody struct {
		Error     string `json:"error"`
		ErrorCode string `json:"error_code"`
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("error response is not the documented shape: %v", err)
	}
	if errBody.ErrorCode != "MISSING_TENANT" {
		t.Errorf("expected MISSING_TENANT, got %s", errBody.ErrorCode)
	}

	// Unknown rule.
	status, body := cfg.do(t, http.MethodGet, "/rules/does-not-exist", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", status, body)
	}
}
