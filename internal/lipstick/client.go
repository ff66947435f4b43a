package lipstick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tunnel-billing/internal/metrics"
)

const providerName = "lipstick"

// maxErrorBody caps how much of an error response is kept for logging.
const maxErrorBody = 1024

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

func NewClient(baseURL, apiKey string, timeout time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Metrics: m,
	}
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return nil, NewAPIError(resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// FetchDomain returns the provider record for domain, including its API key.
func (c *Client) FetchDomain(ctx context.Context, domain string) (result *Domain, err error) {
	defer func(start time.Time) { c.Metrics.ObserveProvider(providerName, "fetch_domain", start, err) }(time.Now())

	resp, err := c.doRequest(ctx, http.MethodGet, "/domains/"+url.PathEscape(domain), nil)
	if err != nil {
		return nil, err
	}

	var d Domain
	if err := json.Unmarshal(resp, &d); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", ErrUnavailable, err)
	}
	return &d, nil
}

// CreateDomain registers domain with the given API key.
func (c *Client) CreateDomain(ctx context.Context, domain, apiKey string) (err error) {
	defer func(start time.Time) { c.Metrics.ObserveProvider(providerName, "create_domain", start, err) }(time.Now())

	_, err = c.doRequest(ctx, http.MethodPost, "/domains", CreateDomainRequest{
		Name:   domain,
		APIKey: apiKey,
	})
	return err
}
