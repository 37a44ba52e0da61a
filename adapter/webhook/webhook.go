// Package webhook POSTs match outcome events as JSON to an HTTP
// endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/leagueofsolvers/satclient/adapter"
	"github.com/leagueofsolvers/satclient/iox"
)

// DefaultTimeout bounds one delivery attempt.
const DefaultTimeout = 10 * time.Second

// Adapter delivers MatchReportedEvent to a webhook URL.
type Adapter struct {
	endpoint string
	client   *http.Client
}

var _ adapter.Adapter = (*Adapter)(nil)

// New validates the endpoint URL and returns an adapter. A nil client
// selects http.DefaultClient semantics with DefaultTimeout.
func New(endpoint string, client *http.Client) (*Adapter, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook url %q: scheme must be http or https", endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Adapter{endpoint: endpoint, client: client}, nil
}

// MatchReported implements adapter.Adapter.
func (a *Adapter) MatchReported(ctx context.Context, ev adapter.MatchReportedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver event: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
