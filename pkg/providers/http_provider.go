package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultRetryBaseDelay is the first backoff delay between attempts.
const DefaultRetryBaseDelay = 500 * time.Millisecond

// unhealthyAfter is the number of consecutive failed requests after which a
// provider reports itself unhealthy.
const unhealthyAfter = 3

// HTTPProvider is the base implementation for HTTP-based provider adapters.
// It provides connection pooling, retry with exponential backoff, timeout
// handling, and health tracking.
//
// Concrete adapters embed it and implement SendCompletion.
type HTTPProvider struct {
	config ProviderConfig
	client *http.Client
	logger *slog.Logger

	health   ProviderHealth
	healthMu sync.RWMutex
}

// NewHTTPProvider creates a new base HTTP provider with connection pooling.
func NewHTTPProvider(config ProviderConfig, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = DefaultRetryBaseDelay
	}

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPProvider{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		logger: logger.With("component", "providers.http", "provider", config.Name),
		health: ProviderHealth{
			IsHealthy: true,
			LastCheck: time.Now(),
		},
	}
}

// GetName returns the provider's configured name.
func (p *HTTPProvider) GetName() string {
	return p.config.Name
}

// GetType returns the provider's type.
func (p *HTTPProvider) GetType() string {
	return p.config.Type
}

// GetConfig returns the provider's configuration.
func (p *HTTPProvider) GetConfig() ProviderConfig {
	return p.config
}

// Logger returns the provider's logger.
func (p *HTTPProvider) Logger() *slog.Logger {
	return p.logger
}

// IsHealthy returns the current health status.
func (p *HTTPProvider) IsHealthy() bool {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health.IsHealthy
}

// GetHealth returns detailed health information.
func (p *HTTPProvider) GetHealth() ProviderHealth {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health
}

// updateHealth records the outcome of a request.
func (p *HTTPProvider) updateHealth(success bool, err error) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()

	p.health.LastCheck = time.Now()
	p.health.TotalRequests++

	if success {
		p.health.IsHealthy = true
		p.health.ConsecutiveFailures = 0
		p.health.LastError = nil
		p.health.LastSuccessfulRequest = p.health.LastCheck
		return
	}

	p.health.FailedRequests++
	p.health.ConsecutiveFailures++
	p.health.LastError = err
	if p.health.ConsecutiveFailures >= unhealthyAfter && p.health.IsHealthy {
		p.health.IsHealthy = false
		p.logger.Warn("provider marked unhealthy",
			"consecutive_failures", p.health.ConsecutiveFailures,
			"error", err,
		)
	}
}

// DoRequest performs an HTTP request, retrying transient failures (transport
// errors and 5xx) with exponential backoff. Auth, rate limit and 4xx errors
// are returned immediately.
func (p *HTTPProvider) DoRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	backoff := retry.NewExponential(p.config.RetryBaseDelay)
	backoff = retry.WithCappedDuration(10*time.Second, backoff)
	backoff = retry.WithMaxRetries(uint64(max(p.config.MaxRetries, 0)), backoff)

	attempt := 0
	var resp *http.Response
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := p.doOnce(ctx, method, url, body, headers)
		if err != nil {
			p.updateHealth(false, err)
			if IsRetryable(err) {
				p.logger.Warn("request failed, will retry",
					"attempt", attempt,
					"max_retries", p.config.MaxRetries,
					"error", err,
				)
				return retry.RetryableError(err)
			}
			return err
		}
		p.updateHealth(true, nil)
		resp = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TimeoutError{Provider: p.config.Name, Timeout: p.config.Timeout, Cause: ctx.Err()}
		}
		return nil, err
	}
	return resp, nil
}

// doOnce performs a single attempt and classifies non-2xx responses.
func (p *HTTPProvider) doOnce(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, &ValidationError{Field: "url", Message: err.Error()}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	p.logger.Debug("sending request to provider", "method", method, "url", url)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: p.config.Name, Message: "transport error", Cause: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{Provider: p.config.Name, Message: string(errorBody)}
	case http.StatusTooManyRequests:
		return nil, &RateLimitError{
			Provider:   p.config.Name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    string(errorBody),
		}
	default:
		return nil, &ProviderError{
			Provider:   p.config.Name,
			StatusCode: resp.StatusCode,
			Message:    string(errorBody),
		}
	}
}

// DoJSONRequest performs a JSON request and decodes the response into respBody.
func (p *HTTPProvider) DoJSONRequest(ctx context.Context, method, url string, reqBody, respBody any, headers map[string]string) error {
	var bodyBytes []byte
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := p.DoRequest(ctx, method, url, bodyBytes, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ParseError{
			Provider: p.config.Name,
			Cause:    fmt.Errorf("failed to read response: %w", err),
		}
	}

	if respBody != nil && len(responseBytes) > 0 {
		if err := json.Unmarshal(responseBytes, respBody); err != nil {
			return &ParseError{
				Provider:    p.config.Name,
				RawResponse: string(responseBytes),
				Cause:       fmt.Errorf("failed to unmarshal response: %w", err),
			}
		}
	}
	return nil
}

// CheckURL issues a GET against url with headers and discards the body. It
// backs the adapters' HealthCheck.
func (p *HTTPProvider) CheckURL(ctx context.Context, url string, headers map[string]string) error {
	resp, err := p.doOnce(ctx, http.MethodGet, url, nil, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close releases idle connections.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	p.logger.Debug("provider closed")
	return nil
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}
