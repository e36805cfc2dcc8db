// Package leetcode talks to the public LeetCode GraphQL endpoint.
//
// Every query is a POST of {query, variables} to one URL. The profile query
// is the only one a sync cannot do without; badges and submission lists are
// best-effort and their callers are expected to carry on without them.
package leetcode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/httpclient"
)

const DefaultEndpoint = "https://leetcode.com/graphql"

// Doer is the slice of the rate-limited client this package needs.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

type Client struct {
	http     Doer
	logger   *slog.Logger
	endpoint string
	session  string
}

type Option func(*Client)

func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithSession sets the LEETCODE_SESSION cookie. Only submission details need it.
func WithSession(session string) Option {
	return func(c *Client) { c.session = session }
}

func New(doer Doer, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{http: doer, logger: logger, endpoint: DefaultEndpoint}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// query posts one GraphQL document and decodes its data into out. GraphQL
// errors are only fatal when no data came back with them.
func (c *Client) query(ctx context.Context, op, query string, vars map[string]any, out any, withSession bool) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("leetcode: encoding %s: %w", op, err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Referer", "https://leetcode.com")
	if withSession {
		if c.session == "" {
			return apperror.Unauthorized("leetcode session cookie is not configured")
		}
		header.Set("Cookie", "LEETCODE_SESSION="+c.session)
	}

	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    c.endpoint,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperror.Unauthorized(fmt.Sprintf("leetcode rejected %s with status %d", op, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return apperror.Transient(fmt.Sprintf("leetcode %s returned status %d", op, resp.StatusCode), nil)
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return apperror.Transient(fmt.Sprintf("leetcode %s returned malformed JSON", op), err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		if isNull(envelope.Data) {
			return apperror.Transient(fmt.Sprintf("leetcode %s: %s", op, strings.Join(msgs, "; ")), nil)
		}
		c.logger.Debug("partial graphql errors", "op", op, "errors", strings.Join(msgs, "; "))
	}
	if isNull(envelope.Data) {
		return apperror.Transient(fmt.Sprintf("leetcode %s returned no data", op), nil)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return apperror.Transient(fmt.Sprintf("leetcode %s returned unexpected data", op), err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
