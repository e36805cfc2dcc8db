// Package service handles GitHub sign-in for the solution mirror.
//
// LoginService is the business logic between the CLI and the pieces that
// make up a sign-in:
//
//	login command → LoginService → DeviceAuthorizer (device flow)
//	                             ↘ SecretStore     (encrypted token)
//	                             ↘ RepoPreparer    (mirror repository)
//
// KEY RESPONSIBILITIES:
//   - Store the token only after the device flow validated it
//   - Create the mirror repository once a token exists
//   - Report who is signed in, and sign out
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/auth"
	"github.com/sakif/streakwatch/internal/credential"
	"github.com/sakif/streakwatch/internal/mirror"
)

type DeviceAuthorizer interface {
	Run(ctx context.Context, prompt func(*oauth2.DeviceAuthResponse)) (*auth.DeviceResult, error)
}

type SecretStore interface {
	Put(ctx context.Context, name string, secret []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

type RepoPreparer interface {
	EnsureRepo(ctx context.Context) error
	Repository() string
}

// IdentityFunc looks up the account behind a token.
type IdentityFunc func(ctx context.Context, token string) (*auth.GitHubUser, error)

var (
	_ DeviceAuthorizer = (*auth.DeviceFlow)(nil)
	_ SecretStore      = (*credential.Vault)(nil)
	_ RepoPreparer     = (*mirror.ContentClient)(nil)
)

type LoginService struct {
	flow     DeviceAuthorizer
	secrets  SecretStore
	repo     RepoPreparer
	identity IdentityFunc
	logger   *slog.Logger
}

// NewLoginService wires the sign-in flow. repo may be nil when no mirror
// owner is configured yet; Login then stores the token and stops there.
func NewLoginService(flow DeviceAuthorizer, secrets SecretStore, repo RepoPreparer, identity IdentityFunc, logger *slog.Logger) *LoginService {
	return &LoginService{
		flow:     flow,
		secrets:  secrets,
		repo:     repo,
		identity: identity,
		logger:   logger,
	}
}

// LoginResult is what the CLI prints after a sign-in.
type LoginResult struct {
	User *auth.GitHubUser
	// Repository is "owner/name", empty when no repository was prepared.
	Repository string
}

// Login runs the device flow and keeps the token. The token is stored before
// the repository is prepared, so a failed repository call does not cost the
// user a second approval.
func (s *LoginService) Login(ctx context.Context, prompt func(*oauth2.DeviceAuthResponse)) (*LoginResult, error) {
	result, err := s.flow.Run(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if result == nil || result.AccessToken == "" {
		return nil, apperror.Unauthorized("device flow returned no token")
	}

	if err := s.secrets.Put(ctx, credential.MirrorToken, []byte(result.AccessToken)); err != nil {
		return nil, fmt.Errorf("service/login: storing token: %w", err)
	}

	login := ""
	if result.User != nil {
		login = result.User.Login
	}
	s.logger.Info("GitHub sign-in complete", slog.String("login", login))

	out := &LoginResult{User: result.User}
	if s.repo == nil {
		return out, nil
	}
	if err := s.repo.EnsureRepo(ctx); err != nil {
		return out, fmt.Errorf("service/login: preparing %s: %w", s.repo.Repository(), err)
	}
	out.Repository = s.repo.Repository()
	return out, nil
}

// Status reports the signed-in account. NotFound means nobody signed in.
func (s *LoginService) Status(ctx context.Context) (*auth.GitHubUser, error) {
	token, err := s.secrets.Get(ctx, credential.MirrorToken)
	if err != nil {
		return nil, err
	}
	user, err := s.identity(ctx, string(token))
	if err != nil {
		return nil, fmt.Errorf("service/login: checking stored token: %w", err)
	}
	return user, nil
}

// Logout forgets the stored token. Signing out twice is not an error.
func (s *LoginService) Logout(ctx context.Context) error {
	err := s.secrets.Delete(ctx, credential.MirrorToken)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/login: removing token: %w", err)
	}
	s.logger.Info("GitHub token removed")
	return nil
}
