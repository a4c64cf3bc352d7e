package policycache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/upb/llm-safety-gateway/models"
)

const maxSnapshotBytes = 1 << 20

// HTTPFetcher retrieves policy snapshots from the policy authority over HTTP.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the given policy authority base URL.
// Per-fetch deadlines come from the caller's context; the client timeout is a
// hard upper bound.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchSnapshot implements SnapshotFetcher.
func (f *HTTPFetcher) FetchSnapshot(ctx context.Context, tenantID string) (*models.PolicySnapshot, error) {
	endpoint := fmt.Sprintf("%s/v1/tenants/%s/policy-snapshot", f.baseURL, url.PathEscape(tenantID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy authority unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy authority returned status %d", resp.StatusCode)
	}

	var snapshot models.PolicySnapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSnapshotBytes)).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("malformed policy snapshot: %w", err)
	}
	if snapshot.SnapshotID == "" {
		return nil, fmt.Errorf("policy snapshot missing snapshot_id")
	}
	return &snapshot, nil
}
