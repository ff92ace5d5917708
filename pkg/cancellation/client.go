// Package cancellation calls the payment cancellation API.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/payrecon/pkg/metrics"
	"github.com/cuemby/payrecon/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds one cancellation request
	DefaultTimeout = 30 * time.Second

	// maxDetailBytes caps the response body quoted in a failure detail
	maxDetailBytes = 512
)

// Config holds the API endpoint and credentials
type Config struct {
	BaseURL  string
	Login    string
	Password string
	Timeout  time.Duration

	// RateLimit is the maximum number of requests per second; 0 disables it
	RateLimit float64
}

// Client cancels payments through the payment API
type Client struct {
	baseURL  string
	login    string
	password string
	client   *http.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewClient creates a cancellation client
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		login:    cfg.Login,
		password: cfg.Password,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// Cancel asks the API to cancel one payment. It never returns an error: every
// failure is reported as a CancelResult with a human-readable detail.
func (c *Client) Cancel(ctx context.Context, paymentID string) types.CancelResult {
	timer := metrics.NewTimer()
	result := c.cancel(ctx, paymentID)
	timer.ObserveDuration(metrics.CancelRequestDuration)
	metrics.CancelRequests.WithLabelValues(string(result.Outcome)).Inc()

	event := c.logger.Debug()
	if !result.OK() {
		event = c.logger.Warn()
	}
	event.Str("payment_id", paymentID).
		Int("status_code", result.StatusCode).
		Str("outcome", string(result.Outcome)).
		Str("detail", result.Detail).
		Dur("took", timer.Duration()).
		Msg("Cancellation request finished")
	return result
}

func (c *Client) cancel(ctx context.Context, paymentID string) types.CancelResult {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return types.CancelFailure(0, fmt.Sprintf("request error: %v", err))
		}
	}

	endpoint := fmt.Sprintf("%s/api/v1/payments/%s/cancel", c.baseURL, url.PathEscape(paymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return types.CancelFailure(0, fmt.Sprintf("request error: %v", err))
	}
	req.SetBasicAuth(c.login, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return types.CancelFailure(0, "request timeout")
		}
		return types.CancelFailure(0, fmt.Sprintf("request error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return types.CancelSuccess(resp.StatusCode)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	return types.CancelFailure(resp.StatusCode, fmt.Sprintf("API returned status %d: %s", resp.StatusCode, body))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
