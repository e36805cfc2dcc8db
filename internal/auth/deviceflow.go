package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/httpclient"
	"github.com/sakif/streakwatch/internal/retry"
)

// DEVICE AUTHORIZATION FLOW (RFC 8628):
//  1. Ask GitHub for a device code and a short user code.
//  2. Show the user code and the verification URL.
//  3. Poll the token endpoint at the server's interval until the user
//     approves, denies, or the code expires.
//  4. Check the token with one identity lookup before accepting it.
//
//	Idle → RequestingCode → WaitingForUser → Polling → Success | Expired | Denied | Error

type State int

const (
	StateIdle State = iota
	StateRequestingCode
	StateWaitingForUser
	StatePolling
	StateSuccess
	StateExpired
	StateDenied
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingCode:
		return "requesting_code"
	case StateWaitingForUser:
		return "waiting_for_user"
	case StatePolling:
		return "polling"
	case StateSuccess:
		return "success"
	case StateExpired:
		return "expired"
	case StateDenied:
		return "denied"
	default:
		return "error"
	}
}

// Terminal reports whether the flow is over.
func (s State) Terminal() bool {
	return s >= StateSuccess
}

const (
	slowDownStep    = 5 * time.Second
	defaultInterval = 5 * time.Second
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

var (
	ErrExpired = errors.New("device code expired")
	ErrDenied  = errors.New("authorization denied")

	errPending  = errors.New("authorization pending")
	errSlowDown = errors.New("slow down")
)

// DeviceResult is what a successful flow hands back.
type DeviceResult struct {
	AccessToken string
	User        *GitHubUser
}

// DeviceFlow runs one device authorization at a time.
type DeviceFlow struct {
	config  *oauth2.Config
	http    Doer
	apiBase string
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	mu        sync.Mutex
	state     State
	observers []func(State)
}

type DeviceOption func(*DeviceFlow)

// WithAPIBase points the identity lookup at another GitHub API root.
func WithAPIBase(base string) DeviceOption {
	return func(f *DeviceFlow) { f.apiBase = base }
}

func WithDeviceSleep(fn func(ctx context.Context, d time.Duration) error) DeviceOption {
	return func(f *DeviceFlow) { f.sleep = fn }
}

func WithDeviceClock(now func() time.Time) DeviceOption {
	return func(f *DeviceFlow) { f.now = now }
}

func NewDeviceFlow(config *oauth2.Config, doer Doer, logger *slog.Logger, opts ...DeviceOption) *DeviceFlow {
	f := &DeviceFlow{
		config:  config,
		http:    doer,
		apiBase: DefaultGitHubAPI,
		logger:  logger,
		sleep:   retry.Sleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Observe registers fn to receive every state transition.
func (f *DeviceFlow) Observe(fn func(State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

func (f *DeviceFlow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *DeviceFlow) transition(s State) {
	f.mu.Lock()
	f.state = s
	observers := append([]func(State){}, f.observers...)
	f.mu.Unlock()

	f.logger.Debug("device flow transition", slog.String("state", s.String()))
	for _, fn := range observers {
		fn(s)
	}
}

// Run performs the whole flow. prompt is called once with the code the user
// must enter. Code issuance goes through oauth2, which uses the *http.Client
// stored in ctx under oauth2.HTTPClient when present.
func (f *DeviceFlow) Run(ctx context.Context, prompt func(*oauth2.DeviceAuthResponse)) (*DeviceResult, error) {
	f.transition(StateRequestingCode)
	code, err := f.config.DeviceAuth(ctx)
	if err != nil {
		f.transition(StateError)
		return nil, fmt.Errorf("auth: requesting device code: %w", err)
	}

	f.transition(StateWaitingForUser)
	prompt(code)

	f.transition(StatePolling)
	token, err := f.poll(ctx, code)
	switch {
	case errors.Is(err, ErrExpired):
		f.transition(StateExpired)
		return nil, &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "the device code expired before it was approved", Cause: ErrExpired}
	case errors.Is(err, ErrDenied):
		f.transition(StateDenied)
		return nil, &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "authorization was denied", Cause: ErrDenied}
	case err != nil:
		f.transition(StateError)
		return nil, err
	}

	user, err := FetchGitHubUser(ctx, f.http, f.apiBase, token)
	if err != nil {
		f.transition(StateError)
		return nil, err
	}
	f.transition(StateSuccess)
	return &DeviceResult{AccessToken: token, User: user}, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Interval         int64  `json:"interval"`
}

// poll exchanges the device code until the server gives a token or a
// terminal answer. Pending answers are retried at the current interval,
// which slow_down raises by five seconds each time.
func (f *DeviceFlow) poll(ctx context.Context, code *oauth2.DeviceAuthResponse) (string, error) {
	interval := time.Duration(code.Interval) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}
	if err := f.sleep(ctx, interval); err != nil {
		return "", err
	}

	policy := retry.Policy{
		Attempts: math.MaxInt32,
		Retryable: func(err error) bool {
			return errors.Is(err, errPending) || errors.Is(err, errSlowDown) || apperror.IsRetryable(err)
		},
		Backoff: func(_ int, err error) time.Duration {
			if errors.Is(err, errSlowDown) {
				interval += slowDownStep
			}
			return interval
		},
		Sleep: f.sleep,
	}
	return retry.DoValue(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		if !code.Expiry.IsZero() && !f.now().Before(code.Expiry) {
			return "", ErrExpired
		}
		return f.exchange(ctx, code.DeviceCode)
	})
}

func (f *DeviceFlow) exchange(ctx context.Context, deviceCode string) (string, error) {
	form := url.Values{
		"client_id":   {f.config.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {deviceGrantType},
	}
	resp, err := f.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    f.config.Endpoint.TokenURL,
		Header: http.Header{
			"Content-Type": {"application/x-www-form-urlencoded"},
			"Accept":       {"application/json"},
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return "", err
	}

	var body tokenResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("auth: decoding token response (status %d): %w", resp.StatusCode, err)
	}
	switch body.Error {
	case "":
		if body.AccessToken == "" {
			return "", fmt.Errorf("auth: token response had neither a token nor an error")
		}
		return body.AccessToken, nil
	case "authorization_pending":
		return "", errPending
	case "slow_down":
		return "", errSlowDown
	case "expired_token":
		return "", ErrExpired
	case "access_denied":
		return "", ErrDenied
	default:
		return "", fmt.Errorf("auth: device token exchange failed: %s %s", body.Error, body.ErrorDescription)
	}
}
