// Package ledger implements the chain index gateway client.
package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/license"
	"github.com/chainacademy/entitlement-core/internal/domain/progress"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/pkg/circuitbreaker"
	"github.com/chainacademy/entitlement-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the gateway client.
type ClientConfig struct {
	// BaseURL is the gateway base URL.
	BaseURL string

	// APIKey authenticates relayed writes. Reads work without one on
	// public gateways.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimiterConfig paces requests below the gateway's limits.
	RateLimiterConfig RateLimiterConfig

	// Retrier drives retry behavior for transient failures.
	Retrier *retry.Retrier

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables per-request debug logging.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           15 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
		Retrier:           retry.LedgerGatewayRetrier(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the chain index gateway client. It implements license.Querier,
// progress.Ledger and content.Catalog against the gateway's HTTP API.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
	mapper      *Mapper
}

var (
	_ license.Querier = (*Client)(nil)
	_ progress.Ledger = (*Client)(nil)
	_ content.Catalog = (*Client)(nil)
)

// NewClient creates a new gateway client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Retrier == nil {
		config.Retrier = retry.LedgerGatewayRetrier()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      config.Logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker: circuitbreaker.New("ledger-gateway",
			circuitbreaker.WithIsFailure(func(err error) bool {
				// Clean negative answers are not gateway failures.
				return !shared.IsNotFound(err)
			}),
		),
		retrier: config.Retrier,
		mapper:  NewMapper(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LICENSE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// QueryLicense fetches the license for (principal, courseID). A clean
// "no license" answer maps to shared.ErrLicenseNotFound; anything else is a
// transport failure the verifier must fail closed on.
func (c *Client) QueryLicense(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (*license.License, error) {
	path := fmt.Sprintf("/v1/licenses/%s/%s", url.PathEscape(principal.String()), url.PathEscape(courseID.String()))

	var response APIResponse[LicenseDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, shared.ErrLicenseNotFound
		}
		return nil, c.transportError("QueryLicense", err)
	}
	if !response.Success {
		return nil, c.transportError("QueryLicense", fmt.Errorf("api error: %s", response.Error))
	}

	return c.mapper.LicenseFromDTO(&response.Data)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// QueryProgress fetches the indexed completion record for the pair.
func (c *Client) QueryProgress(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (*progress.Record, error) {
	path := fmt.Sprintf("/v1/progress/%s/%s", url.PathEscape(principal.String()), url.PathEscape(courseID.String()))

	var response APIResponse[ProgressDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, c.transportError("QueryProgress", err)
	}
	if !response.Success {
		return nil, c.transportError("QueryProgress", fmt.Errorf("api error: %s", response.Error))
	}

	return c.mapper.RecordFromDTO(&response.Data)
}

// WriteCompletion relays one completion transaction through the gateway. The
// idempotency key is derived from the completion's identity, so a retried
// write lands as the same transaction instead of a duplicate.
func (c *Client) WriteCompletion(ctx context.Context, principal shared.Principal, courseID shared.CourseID, unitIndex int) (*progress.Receipt, error) {
	body := CompletionRequestDTO{
		Principal:      principal.String(),
		CourseID:       courseID.String(),
		UnitIndex:      unitIndex,
		IdempotencyKey: CompletionKey(principal, courseID, unitIndex),
	}

	var response APIResponse[ReceiptDTO]
	if err := c.doRequest(ctx, http.MethodPost, "/v1/completions", body, &response); err != nil {
		return nil, c.transportError("WriteCompletion", err)
	}
	if !response.Success {
		return nil, c.transportError("WriteCompletion", fmt.Errorf("api error: %s", response.Error))
	}

	return c.mapper.ReceiptFromDTO(&response.Data)
}

// CompletionKey derives the deterministic idempotency key for one completion.
// Keccak over the identity tuple keeps the key format aligned with chain-side
// hashing.
func CompletionKey(principal shared.Principal, courseID shared.CourseID, unitIndex int) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(principal.String()))
	h.Write([]byte{0})
	h.Write([]byte(courseID.String()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(unitIndex)))
	return hex.EncodeToString(h.Sum(nil))
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// CourseUnits fetches the ordered content units of a published course.
func (c *Client) CourseUnits(ctx context.Context, courseID shared.CourseID) ([]content.ContentUnit, error) {
	path := fmt.Sprintf("/v1/courses/%s", url.PathEscape(courseID.String()))

	var response APIResponse[CourseDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, shared.ErrCourseNotFound
		}
		return nil, c.transportError("CourseUnits", err)
	}
	if !response.Success {
		return nil, c.transportError("CourseUnits", fmt.Errorf("api error: %s", response.Error))
	}

	return c.mapper.UnitsFromDTO(&response.Data)
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs a request with rate limiting, circuit breaking and
// retries. 4xx answers are permanent; 429, 5xx and network failures retry.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	if err := c.breaker.Allow(); err != nil {
		return fmt.Errorf("circuit breaker: %w", err)
	}

	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		err := c.doSingleRequest(ctx, method, path, body, result)
		if err == nil {
			return nil
		}

		var apiErr *APIErrorDTO
		if errors.As(err, &apiErr) {
			if apiErr.Status == http.StatusTooManyRequests {
				return retry.Retryable(err)
			}
			if apiErr.Status >= 500 {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		}
		// Network-level failure.
		return retry.Retryable(err)
	})

	if err == nil {
		c.breaker.RecordSuccess()
		return nil
	}

	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		// A 404 is an answer, not an outage.
		c.breaker.RecordSuccess()
	} else {
		c.breaker.RecordFailure()
	}
	return err
}

// doSingleRequest performs a single HTTP round trip.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body any, result any) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Debug {
		c.logger.Debug("gateway request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 30 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		c.rateLimiter.RecordRateLimitHit(retryAfter)
		return &APIErrorDTO{Code: "RATE_LIMITED", Message: "gateway rate limit exceeded", Status: resp.StatusCode}
	}

	if resp.StatusCode >= 400 {
		apiErr := APIErrorDTO{Status: resp.StatusCode}
		if uerr := json.Unmarshal(respBody, &apiErr); uerr != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return &apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// transportError wraps a gateway failure in the domain transport error so
// callers can fail closed uniformly.
func (c *Client) transportError(op string, err error) error {
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			return shared.WrapError("ledger", op, shared.ErrRateLimited, "gateway rate limited", err)
		case apiErr.Status >= 500:
			return shared.WrapError("ledger", op, shared.ErrServiceUnavailable, "gateway unavailable", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("ledger", op, shared.ErrTimeout, "gateway request timed out", err)
	}
	return shared.WrapError("ledger", op, shared.ErrTransport, "gateway request failed", err)
}

// isStatus reports whether err carries the given HTTP status.
func isStatus(err error, status int) bool {
	var apiErr *APIErrorDTO
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks whether the gateway is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var response APIResponse[map[string]any]
	err := c.doSingleRequest(ctx, http.MethodGet, "/health", nil, &response)
	return err == nil && response.Success
}

// Reset clears the rate limiter and circuit breaker, e.g. after a config
// reload pointed the client at a different gateway.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
