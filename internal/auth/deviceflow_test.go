package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/httpclient"
)

// deviceServer fakes GitHub's device, token and /user endpoints. Each token
// poll pops the next scripted answer.
type deviceServer struct {
	mu         sync.Mutex
	answers    []string
	polls      int
	userStatus int
}

func (d *deviceServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client-123", r.Form.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"device_code":"dc-1","user_code":"ABCD-1234","verification_uri":"https://github.com/login/device","expires_in":900,"interval":5}`)
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "dc-1", r.Form.Get("device_code"))
		assert.Equal(t, deviceGrantType, r.Form.Get("grant_type"))
		d.mu.Lock()
		answer := d.answers[min(d.polls, len(d.answers)-1)]
		d.polls++
		d.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, answer)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_token", r.Header.Get("Authorization"))
		if d.userStatus != 0 {
			w.WriteHeader(d.userStatus)
			return
		}
		io.WriteString(w, `{"id":42,"login":"octo","avatar_url":"https://a"}`)
	})
	return mux
}

type flowHarness struct {
	flow   *DeviceFlow
	ctx    context.Context
	waits  []time.Duration
	states []State
	server *deviceServer
}

func newFlowHarness(t *testing.T, ds *deviceServer, opts ...DeviceOption) *flowHarness {
	t.Helper()
	srv := httptest.NewTLSServer(ds.handler(t))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := httpclient.New(logger, httpclient.DefaultConfig(), httpclient.WithHTTPClient(srv.Client()))
	config := &oauth2.Config{
		ClientID: "client-123",
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: srv.URL + "/login/device/code",
			TokenURL:      srv.URL + "/login/oauth/access_token",
		},
	}

	h := &flowHarness{
		ctx:    context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client()),
		server: ds,
	}
	base := []DeviceOption{
		WithAPIBase(srv.URL),
		WithDeviceSleep(func(ctx context.Context, d time.Duration) error {
			h.waits = append(h.waits, d)
			return ctx.Err()
		}),
	}
	h.flow = NewDeviceFlow(config, client, logger, append(base, opts...)...)
	h.flow.Observe(func(s State) { h.states = append(h.states, s) })
	return h
}

// run executes the flow and also returns the user code that was shown.
func (h *flowHarness) run() (string, *DeviceResult, error) {
	var shown string
	res, err := h.flow.Run(h.ctx, func(code *oauth2.DeviceAuthResponse) { shown = code.UserCode })
	return shown, res, err
}

func TestDeviceFlow_Success(t *testing.T) {
	h := newFlowHarness(t, &deviceServer{answers: []string{
		`{"error":"authorization_pending"}`,
		`{"error":"slow_down","interval":10}`,
		`{"error":"authorization_pending"}`,
		`{"access_token":"gho_token","token_type":"bearer","scope":"repo"}`,
	}})

	shown, res, err := h.run()

	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", shown)
	assert.Equal(t, "gho_token", res.AccessToken)
	assert.Equal(t, "octo", res.User.Login)
	assert.Equal(t, []State{StateRequestingCode, StateWaitingForUser, StatePolling, StateSuccess}, h.states)
	// initial wait, then pending → 5s, slow_down → 10s, pending → 10s
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 10 * time.Second, 10 * time.Second}, h.waits)
	assert.Equal(t, 4, h.server.polls)
	assert.Equal(t, StateSuccess, h.flow.State())
}

func TestDeviceFlow_TerminalAnswers(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		state  State
		cause  error
	}{
		{"denied", `{"error":"access_denied"}`, StateDenied, ErrDenied},
		{"expired", `{"error":"expired_token"}`, StateExpired, ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFlowHarness(t, &deviceServer{answers: []string{`{"error":"authorization_pending"}`, tt.answer}})

			_, _, err := h.run()

			assert.ErrorIs(t, err, tt.cause)
			assert.ErrorIs(t, err, apperror.ErrUnauthorized)
			assert.Equal(t, tt.state, h.flow.State())
			assert.True(t, h.flow.State().Terminal())
			assert.Equal(t, 2, h.server.polls)
		})
	}
}

func TestDeviceFlow_ExpiresLocally(t *testing.T) {
	later := time.Now().Add(time.Hour)
	h := newFlowHarness(t, &deviceServer{answers: []string{`{"error":"authorization_pending"}`}},
		WithDeviceClock(func() time.Time { return later }))

	_, _, err := h.run()

	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, StateExpired, h.flow.State())
	assert.Zero(t, h.server.polls, "an expired code is never exchanged")
}

func TestDeviceFlow_TokenFailsValidation(t *testing.T) {
	h := newFlowHarness(t, &deviceServer{
		answers:    []string{`{"access_token":"gho_token","token_type":"bearer"}`},
		userStatus: http.StatusUnauthorized,
	})

	_, _, err := h.run()

	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Equal(t, StateError, h.flow.State())
}

func TestDeviceFlow_UnknownError(t *testing.T) {
	h := newFlowHarness(t, &deviceServer{answers: []string{`{"error":"unsupported_grant_type","error_description":"bad"}`}})

	_, _, err := h.run()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported_grant_type")
	assert.Equal(t, StateError, h.flow.State())
}
