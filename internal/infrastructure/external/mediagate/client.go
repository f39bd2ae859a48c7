// Package mediagate implements the optimized media resolution service
// client. The service maps a canonical content identifier to a CDN-backed
// playback URL tuned for the media kind; when it is down or answers badly,
// the resolver falls back to public gateways.
package mediagate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/chainacademy/entitlement-core/internal/application/resolve"
	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/pkg/circuitbreaker"
)

// ClientConfig contains configuration for the mediagate client.
type ClientConfig struct {
	// BaseURL is the resolution service base URL.
	BaseURL string

	// APIKey authenticates requests.
	APIKey string

	// Timeout is deliberately short: a slow optimized answer is worse
	// than an immediate fallback to a public gateway.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		Timeout: 3 * time.Second,
	}
}

// Client is the resolution service client. It implements
// resolve.OptimizedService.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	breaker    *circuitbreaker.CircuitBreaker
}

var _ resolve.OptimizedService = (*Client)(nil)

// NewClient creates a new mediagate client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger,
		breaker: circuitbreaker.New("mediagate",
			circuitbreaker.WithFailureThreshold(3),
			circuitbreaker.WithTimeout(15*time.Second),
		),
	}
}

// resolveResponse is the service's answer.
type resolveResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

// Resolve asks the service for a playback URL. Any error here makes the
// caller fall back; the circuit breaker keeps a dead service from adding
// its full timeout to every resolution.
func (c *Client) Resolve(ctx context.Context, canonicalID string, kind content.MediaKind) (string, error) {
	var out string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		u, err := c.doResolve(ctx, canonicalID, kind)
		out = u
		return err
	})
	return out, err
}

func (c *Client) doResolve(ctx context.Context, canonicalID string, kind content.MediaKind) (string, error) {
	params := url.Values{}
	params.Set("cid", canonicalID)
	params.Set("kind", string(kind))
	fullURL := c.config.BaseURL + "/v1/resolve?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", shared.WrapError("mediagate", "Resolve", shared.ErrServiceUnavailable,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	var parsed resolveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return parsed.URL, nil
}

// IsHealthy checks whether the resolution service is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
