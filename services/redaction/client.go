package redaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/llm-safety-gateway/models"
	"go.uber.org/zap"
)

// Result is the redaction engine's answer for one payload.
type Result struct {
	Redacted string         `json:"redacted"`
	Counts   map[string]int `json:"counts,omitempty"`
}

// Redactor strips sensitive material from provider-bound payloads. The
// engine is authoritative; the gateway's own PII classifier is advisory.
type Redactor interface {
	Redact(ctx context.Context, tenantID string, content string, policy *models.PolicySnapshot) (Result, error)
}

// Passthrough returns content unchanged. Used when no redaction endpoint is
// configured.
type Passthrough struct{}

// Redact implements Redactor.
func (Passthrough) Redact(_ context.Context, _ string, content string, _ *models.PolicySnapshot) (Result, error) {
	return Result{Redacted: content}, nil
}

// HTTPClient calls the external redaction engine.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient creates a redaction client with a bounded request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type redactRequest struct {
	TenantID         string `json:"tenant_id"`
	Content          string `json:"content"`
	PolicySnapshotID string `json:"policy_snapshot_id,omitempty"`
}

// Redact implements Redactor.
func (c *HTTPClient) Redact(ctx context.Context, tenantID string, content string, policy *models.PolicySnapshot) (Result, error) {
	payload := redactRequest{TenantID: tenantID, Content: content}
	if policy != nil {
		payload.PolicySnapshotID = policy.SnapshotID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/redact", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("redaction engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("redaction engine returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, err
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("redaction engine returned malformed body: %w", err)
	}

	c.logger.Debug("payload redacted",
		zap.String("tenant_id", tenantID),
		zap.Int("categories", len(result.Counts)))
	return result, nil
}
