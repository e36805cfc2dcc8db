package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/oauth2"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/auth"
	"github.com/sakif/streakwatch/internal/credential"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

type fakeFlow struct {
	result *auth.DeviceResult
	err    error
	code   *oauth2.DeviceAuthResponse
}

func (f *fakeFlow) Run(_ context.Context, prompt func(*oauth2.DeviceAuthResponse)) (*auth.DeviceResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	prompt(f.code)
	return f.result, nil
}

// fakeSecrets is an in-memory SecretStore.
type fakeSecrets struct {
	values map[string][]byte
	putErr error
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{values: map[string][]byte{}}
}

func (f *fakeSecrets) Put(_ context.Context, name string, secret []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.values[name] = secret
	return nil
}

func (f *fakeSecrets) Get(_ context.Context, name string) ([]byte, error) {
	v, ok := f.values[name]
	if !ok {
		return nil, apperror.NotFound("credential", name)
	}
	return v, nil
}

func (f *fakeSecrets) Delete(_ context.Context, name string) error {
	delete(f.values, name)
	return nil
}

type fakeRepo struct {
	ensured int
	err     error
}

func (f *fakeRepo) EnsureRepo(context.Context) error {
	f.ensured++
	return f.err
}

func (f *fakeRepo) Repository() string { return "octocat/leetcode-solutions" }

func newTestLoginService(flow *fakeFlow, secrets *fakeSecrets, repo RepoPreparer) *LoginService {
	identity := func(_ context.Context, token string) (*auth.GitHubUser, error) {
		if token != "gho_valid" {
			return nil, apperror.Unauthorized("GitHub rejected the access token")
		}
		return &auth.GitHubUser{ID: 42, Login: "octocat"}, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLoginService(flow, secrets, repo, identity, logger)
}

func successfulFlow() *fakeFlow {
	return &fakeFlow{
		code: &oauth2.DeviceAuthResponse{UserCode: "ABCD-1234", VerificationURI: "https://github.com/login/device"},
		result: &auth.DeviceResult{
			AccessToken: "gho_valid",
			User:        &auth.GitHubUser{ID: 42, Login: "octocat"},
		},
	}
}

// =========================================================================
// Login TESTS
// =========================================================================

func TestLogin_StoresTokenAndPreparesRepo(t *testing.T) {
	secrets := newFakeSecrets()
	repo := &fakeRepo{}
	svc := newTestLoginService(successfulFlow(), secrets, repo)

	var shown string
	result, err := svc.Login(context.Background(), func(code *oauth2.DeviceAuthResponse) {
		shown = code.UserCode
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if shown != "ABCD-1234" {
		t.Errorf("prompt saw code %q, want %q", shown, "ABCD-1234")
	}
	if got := string(secrets.values[credential.MirrorToken]); got != "gho_valid" {
		t.Errorf("stored token = %q, want %q", got, "gho_valid")
	}
	if repo.ensured != 1 {
		t.Errorf("EnsureRepo calls = %d, want 1", repo.ensured)
	}
	if result.Repository != "octocat/leetcode-solutions" {
		t.Errorf("Repository = %q", result.Repository)
	}
	if result.User.Login != "octocat" {
		t.Errorf("User.Login = %q", result.User.Login)
	}
}

func TestLogin_WithoutRepo(t *testing.T) {
	secrets := newFakeSecrets()
	svc := newTestLoginService(successfulFlow(), secrets, nil)

	result, err := svc.Login(context.Background(), func(*oauth2.DeviceAuthResponse) {})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.Repository != "" {
		t.Errorf("Repository = %q, want empty", result.Repository)
	}
	if _, ok := secrets.values[credential.MirrorToken]; !ok {
		t.Error("token should be stored even without a repository")
	}
}

func TestLogin_FlowErrorStoresNothing(t *testing.T) {
	secrets := newFakeSecrets()
	flow := &fakeFlow{err: apperror.Unauthorized("authorization was denied")}
	svc := newTestLoginService(flow, secrets, &fakeRepo{})

	_, err := svc.Login(context.Background(), func(*oauth2.DeviceAuthResponse) {})
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want unauthorized", err)
	}
	if len(secrets.values) != 0 {
		t.Errorf("secrets = %v, want none", secrets.values)
	}
}

func TestLogin_RepoFailureKeepsToken(t *testing.T) {
	secrets := newFakeSecrets()
	repo := &fakeRepo{err: apperror.Transient("GitHub returned status 502", nil)}
	svc := newTestLoginService(successfulFlow(), secrets, repo)

	result, err := svc.Login(context.Background(), func(*oauth2.DeviceAuthResponse) {})
	if !errors.Is(err, apperror.ErrTransient) {
		t.Fatalf("Login() error = %v, want transient", err)
	}
	if result == nil || result.User.Login != "octocat" {
		t.Errorf("result should still name the signed-in user, got %+v", result)
	}
	if _, ok := secrets.values[credential.MirrorToken]; !ok {
		t.Error("token should survive a repository failure")
	}
}

func TestLogin_StoreError(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.putErr = apperror.QuotaExceeded(100, 100)
	svc := newTestLoginService(successfulFlow(), secrets, &fakeRepo{})

	_, err := svc.Login(context.Background(), func(*oauth2.DeviceAuthResponse) {})
	if !errors.Is(err, apperror.ErrQuotaExceeded) {
		t.Fatalf("Login() error = %v, want quota exceeded", err)
	}
}

// =========================================================================
// Status / Logout TESTS
// =========================================================================

func TestStatus(t *testing.T) {
	secrets := newFakeSecrets()
	svc := newTestLoginService(successfulFlow(), secrets, nil)

	if _, err := svc.Status(context.Background()); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Status() before login error = %v, want not found", err)
	}

	secrets.values[credential.MirrorToken] = []byte("gho_valid")
	user, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if user.Login != "octocat" {
		t.Errorf("Login = %q", user.Login)
	}

	secrets.values[credential.MirrorToken] = []byte("gho_revoked")
	if _, err := svc.Status(context.Background()); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("Status() with revoked token error = %v, want unauthorized", err)
	}
}

func TestLogout(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.values[credential.MirrorToken] = []byte("gho_valid")
	svc := newTestLoginService(successfulFlow(), secrets, nil)

	if err := svc.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, ok := secrets.values[credential.MirrorToken]; ok {
		t.Error("token should be gone after logout")
	}
	if err := svc.Logout(context.Background()); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
}
