package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/httpclient"
)

const DefaultGitHubAPI = "https://api.github.com"

// Doer is the rate-limited client as this package sees it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// GitHubUser is the part of GET /user the daemon uses.
type GitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// NewGitHubConfig describes the OAuth app used for the device flow. Device
// flow apps have no secret and no redirect URL.
//
// Scopes:
//   - "repo"      write access to the mirror repository
//   - "read:user" the identity lookup that validates a fresh token
func NewGitHubConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   []string{"repo", "read:user"},
		Endpoint: github.Endpoint,
	}
}

// AuthHeader builds the GitHub API headers for an access token.
func AuthHeader(accessToken string) http.Header {
	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "bearer"}
	h := http.Header{}
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h
}

// FetchGitHubUser is the identity lookup: GET /user with the token.
func FetchGitHubUser(ctx context.Context, doer Doer, apiBase, accessToken string) (*GitHubUser, error) {
	resp, err := doer.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    strings.TrimRight(apiBase, "/") + "/user",
		Header: AuthHeader(accessToken),
	})
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, apperror.Unauthorized("GitHub rejected the access token")
	default:
		return nil, apperror.Transient(fmt.Sprintf("GitHub /user returned status %d", resp.StatusCode), nil)
	}

	var user GitHubUser
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub /user response: %w", err)
	}
	if user.ID == 0 || user.Login == "" {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user")
	}
	return &user, nil
}
