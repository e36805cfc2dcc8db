// Package httpclient wraps every outbound call the daemon makes.
//
// Each request passes through, in order:
//   - an HTTPS-only check (no I/O for anything else)
//   - an offline check
//   - a local call budget (N calls per window), independent of whatever the
//     remote enforces
//   - a hard per-attempt timeout
//   - retry with backoff for transient failures and 429s
//   - optional response transport checks, with violations kept in an audit log
//
// Anything other than 429 and 5xx is handed back to the caller as a Response;
// interpreting 404 or 409 is the caller's business.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/retry"
)

const maxBodyBytes = 10 << 20

// errLocalBudget marks rejections by our own limiter so they are never retried.
var errLocalBudget = errors.New("httpclient: local call budget exhausted")

type Config struct {
	CallsPerWindow int
	Window         time.Duration
	Timeout        time.Duration
	Attempts       int
	UserAgent      string
	// RequiredHeaders are response headers whose absence is a transport
	// security violation. Empty disables header checks.
	RequiredHeaders []string
}

func DefaultConfig() Config {
	return Config{
		CallsPerWindow: 30,
		Window:         time.Minute,
		Timeout:        8 * time.Second,
		Attempts:       3,
		UserAgent:      "streakwatch",
	}
}

// OnlineFunc reports whether the host currently has network connectivity.
type OnlineFunc func() bool

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Client struct {
	cfg     Config
	logger  *slog.Logger
	http    *http.Client
	limiter *rate.Limiter
	online  OnlineFunc
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	audit   *AuditLog
}

type Option func(*Client)

// WithHTTPClient swaps the underlying transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithOnline(fn OnlineFunc) Option {
	return func(c *Client) { c.online = fn }
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(logger *slog.Logger, cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.CallsPerWindow <= 0 {
		cfg.CallsPerWindow = def.CallsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.CallsPerWindow)), cfg.CallsPerWindow),
		online:  func() bool { return true },
		sleep:   retry.Sleep,
		now:     time.Now,
		audit:   NewAuditLog(auditCapacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Audit exposes recorded transport security violations.
func (c *Client) Audit() *AuditLog {
	return c.audit
}

func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, apperror.ValidationFailed("url", fmt.Sprintf("invalid URL: %v", err))
	}
	if target.Scheme != "https" {
		return nil, apperror.ValidationFailed("url", "only https URLs are allowed")
	}
	if !c.online() {
		return nil, apperror.Offline("no network connection")
	}

	policy := retry.Policy{
		Attempts:  c.cfg.Attempts,
		Retryable: retryable,
		Backoff:   backoff,
		Sleep:     c.sleep,
	}
	return retry.DoValue(ctx, policy, func(ctx context.Context, attempt int) (*Response, error) {
		resp, err := c.attempt(ctx, target, req, attempt)
		if err != nil {
			c.logger.Debug("outbound call failed",
				slog.String("host", target.Host),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return resp, err
	})
}

func retryable(err error) bool {
	if errors.Is(err, errLocalBudget) {
		return false
	}
	return apperror.IsRetryable(err) || errors.Is(err, apperror.ErrRateLimited)
}

func backoff(attempt int, err error) time.Duration {
	if wait, ok := apperror.RetryAfterOf(err); ok {
		return wait
	}
	return retry.Exponential(time.Second, 30*time.Second)(attempt, err)
}

func (c *Client) attempt(ctx context.Context, target *url.URL, req Request, attempt int) (*Response, error) {
	if err := c.reserve(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, apperror.ValidationFailed("request", err.Error())
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classifyTransport(ctx, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.classifyTransport(ctx, err)
	}

	if err := c.validateTransport(httpResp); err != nil {
		return nil, err
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		wait := retryAfter(httpResp.Header, attempt, c.now())
		return nil, apperror.RateLimited(fmt.Sprintf("%s rate limited the request", target.Host), wait)
	case httpResp.StatusCode >= 500:
		return nil, apperror.Transient(fmt.Sprintf("%s returned %d", target.Host, httpResp.StatusCode), nil)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// reserve takes one call from the local budget or rejects immediately.
func (c *Client) reserve() error {
	now := c.now()
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return &apperror.AppError{Err: apperror.ErrRateLimited, Message: "local call budget exhausted", Cause: errLocalBudget}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &apperror.AppError{
			Err:        apperror.ErrRateLimited,
			Message:    fmt.Sprintf("local call budget exhausted, retry in %s", delay.Round(time.Second)),
			RetryAfter: delay,
			Cause:      errLocalBudget,
		}
	}
	return nil
}

func (c *Client) classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, syscall.ENETUNREACH) {
		return apperror.Offline("network unreachable")
	}
	// the caller's own context ended; hand that back unchanged
	if parent := context.Cause(ctx); parent != nil && !errors.Is(parent, context.DeadlineExceeded) {
		return parent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Transient("request timed out", err)
	}
	return apperror.Transient("request failed", err)
}

// retryAfter reads a Retry-After header (seconds or HTTP date) and falls back
// to 2^attempt seconds.
func retryAfter(h http.Header, attempt int, now time.Time) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(raw); err == nil {
			if d := at.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}
