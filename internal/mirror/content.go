package mirror

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/auth"
	"github.com/sakif/streakwatch/internal/httpclient"
)

// Doer is the rate-limited client as this package sees it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// TokenFunc returns the current GitHub access token. It is asked on every
// call so a fresh login takes effect without a restart.
type TokenFunc func(ctx context.Context) (string, error)

// RemoteFile is a file as the contents API reports it.
type RemoteFile struct {
	SHA     string
	Content []byte
}

// ContentClient speaks the subset of the GitHub REST API the mirror needs.
type ContentClient struct {
	http    Doer
	apiBase string
	owner   string
	repo    string
	token   TokenFunc
}

func NewContentClient(doer Doer, apiBase, owner, repo string, token TokenFunc) *ContentClient {
	if apiBase == "" {
		apiBase = auth.DefaultGitHubAPI
	}
	return &ContentClient{
		http:    doer,
		apiBase: strings.TrimRight(apiBase, "/"),
		owner:   owner,
		repo:    repo,
		token:   token,
	}
}

// Repository is "owner/repo".
func (c *ContentClient) Repository() string {
	return c.owner + "/" + c.repo
}

type contentResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Type     string `json:"type"`
}

// GetContent fetches the file at path. A missing file is NotFound.
func (c *ContentClient) GetContent(ctx context.Context, path string) (*RemoteFile, error) {
	resp, err := c.call(ctx, http.MethodGet, c.contentsURL(path), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperror.NotFound("remote file", path)
	}
	if err := classify(resp, "get "+path); err != nil {
		return nil, err
	}

	var body contentResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("mirror: decoding contents of %s: %w", path, err)
	}
	if body.Type != "" && body.Type != "file" {
		return nil, apperror.Conflict("remote path", path)
	}
	content, err := decodeContent(body.Content, body.Encoding)
	if err != nil {
		return nil, fmt.Errorf("mirror: decoding contents of %s: %w", path, err)
	}
	return &RemoteFile{SHA: body.SHA, Content: content}, nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// PutContent creates the file when sha is empty and replaces it otherwise.
// It returns the new blob sha. A stale sha comes back as Conflict.
func (c *ContentClient) PutContent(ctx context.Context, path string, content []byte, sha, message string) (string, error) {
	body, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     sha,
	})
	if err != nil {
		return "", fmt.Errorf("mirror: encoding put %s: %w", path, err)
	}
	resp, err := c.call(ctx, http.MethodPut, c.contentsURL(path), body)
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusConflict, http.StatusNotFound, http.StatusUnprocessableEntity:
		return "", apperror.Conflict("remote file", path)
	}
	if err := classify(resp, "put "+path); err != nil {
		return "", err
	}

	var out putResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("mirror: decoding put response for %s: %w", path, err)
	}
	return out.Content.SHA, nil
}

type createRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	AutoInit    bool   `json:"auto_init"`
}

// EnsureRepo creates the mirror repository under the token's account when it
// does not exist yet.
func (c *ContentClient) EnsureRepo(ctx context.Context) error {
	resp, err := c.call(ctx, http.MethodGet, fmt.Sprintf("%s/repos/%s/%s", c.apiBase, url.PathEscape(c.owner), url.PathEscape(c.repo)), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNotFound {
		return classify(resp, "get repository")
	}

	body, err := json.Marshal(createRepoRequest{
		Name:        c.repo,
		Description: "Accepted LeetCode solutions, mirrored by streakwatch",
		Private:     true,
		AutoInit:    true,
	})
	if err != nil {
		return fmt.Errorf("mirror: encoding create repository: %w", err)
	}
	resp, err = c.call(ctx, http.MethodPost, c.apiBase+"/user/repos", body)
	if err != nil {
		return err
	}
	// 422 means the name already exists, which is what we wanted
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil
	}
	return classify(resp, "create repository")
}

func (c *ContentClient) contentsURL(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.apiBase, url.PathEscape(c.owner), url.PathEscape(c.repo), strings.Join(segments, "/"))
}

func (c *ContentClient) call(ctx context.Context, method, target string, body []byte) (*httpclient.Response, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror: loading access token: %w", err)
	}
	if token == "" {
		return nil, apperror.Unauthorized("mirror is not authorized, run login first")
	}
	header := auth.AuthHeader(token)
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(ctx, httpclient.Request{Method: method, URL: target, Header: header, Body: body})
	if err != nil {
		return nil, fmt.Errorf("mirror: %s %s: %w", method, target, err)
	}
	return resp, nil
}

// classify turns a non-success status into the error taxonomy.
func classify(resp *httpclient.Response, op string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return apperror.RateLimited("GitHub rate limit reached during "+op, RateLimitCooldown)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return apperror.Unauthorized("GitHub refused " + op)
	case resp.StatusCode == http.StatusNotFound:
		return apperror.NotFound("GitHub resource", op)
	case resp.StatusCode >= 500:
		return apperror.Transient(fmt.Sprintf("GitHub %s returned status %d", op, resp.StatusCode), nil)
	default:
		return fmt.Errorf("mirror: %s: unexpected status %d", op, resp.StatusCode)
	}
}

func decodeContent(content, encoding string) ([]byte, error) {
	if encoding != "" && encoding != "base64" {
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	// the API wraps base64 at 60 columns
	return base64.StdEncoding.DecodeString(strings.NewReplacer("\n", "", "\r", "").Replace(content))
}
