package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetbooks/kestrel/internal/apperrors"
	"github.com/fleetbooks/kestrel/internal/domain"
)

const systemPrompt = "You are a transaction categorization rule designer. " +
	"You MUST respond with ONLY a valid JSON object. Do not include any " +
	"explanatory text, markdown formatting, or commentary before or after " +
	"the JSON. Start your response directly with { and end with }."

// openAIOracle implements Oracle against an OpenAI-compatible
// chat completions endpoint.
type openAIOracle struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// NewOpenAI creates an oracle backed by a chat completions API.
func NewOpenAI(cfg domain.OracleConfig) (Oracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &openAIOracle{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    model,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the tenant's history sample to the model and returns
// its raw JSON output. Timeouts and 5xx/429 responses are tagged
// transient so the adapter's retry loop picks them up.
func (o *openAIOracle) Generate(ctx context.Context, req *GenerateRequest) ([]byte, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	requestBody := map[string]any{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.3,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.Transient(apperrors.CodeTimeout, "oracle request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transient(apperrors.CodeUnavailable, "failed to read oracle response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to parsing.
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.Transient(apperrors.CodeRateLimited,
			"oracle rate limited", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	case resp.StatusCode >= 500:
		return nil, apperrors.Transient(apperrors.CodeUnavailable,
			"oracle unavailable", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	default:
		return nil, apperrors.Validation(apperrors.CodeOracleResponse,
			"oracle rejected request (status %d): %s", resp.StatusCode, body)
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, apperrors.Validation(apperrors.CodeOracleResponse, "failed to parse oracle response: %v", err)
	}

	if len(response.Choices) == 0 {
		return nil, apperrors.Validation(apperrors.CodeOracleResponse, "no completion choices returned")
	}

	return []byte(cleanContent(response.Choices[0].Message.Content)), nil
}

// cleanContent strips markdown code fences some models wrap JSON in.
func cleanContent(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}
