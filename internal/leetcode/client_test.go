package leetcode

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/httpclient"
)

// fakeDoer answers every call with a canned status and body and records the request.
type fakeDoer struct {
	status int
	body   string
	err    error
	last   httpclient.Request
}

func (f *fakeDoer) Do(_ context.Context, req httpclient.Request) (*httpclient.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &httpclient.Response{StatusCode: f.status, Body: []byte(f.body)}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const profileBody = `{"data":{
  "matchedUser":{
    "username":"alice",
    "profile":{"realName":"Alice A","userAvatar":"https://img/a.png","ranking":1234},
    "submitStatsGlobal":{"acSubmissionNum":[
      {"difficulty":"All","count":60},{"difficulty":"Easy","count":30},
      {"difficulty":"Medium","count":25},{"difficulty":"Hard","count":5}]},
    "submissionCalendar":"{\"1710460800\": 2, \"1710374400\": 1}"
  },
  "userContestRanking":{"rating":1650.5,"attendedContestsCount":12,"globalRanking":9000}
}}`

func TestFetchProfile(t *testing.T) {
	doer := &fakeDoer{status: http.StatusOK, body: profileBody}
	c := New(doer, discardLogger())

	got, err := c.FetchProfile(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "Alice A", got.Profile.DisplayName)
	assert.Equal(t, 1234, got.Profile.GlobalRank)
	assert.Equal(t, 60, got.Stats.Total)
	assert.Equal(t, 5, got.Stats.Hard)
	assert.Equal(t, 12, got.Contest.Attended)
	day, _ := activity.ParseDay("2024-03-15")
	assert.Equal(t, 2, got.Calendar.Count(day))
	assert.Equal(t, 1, got.Calendar.Count(day-1))

	var sent graphQLRequest
	require.NoError(t, json.Unmarshal(doer.last.Body, &sent))
	assert.Equal(t, "alice", sent.Variables["username"])
	assert.Equal(t, DefaultEndpoint, doer.last.URL)
	assert.Equal(t, http.MethodPost, doer.last.Method)
	assert.Empty(t, doer.last.Header.Get("Cookie"))
}

func TestFetchProfile_UnknownUser(t *testing.T) {
	doer := &fakeDoer{status: http.StatusOK, body: `{"errors":[{"message":"That user does not exist."}],"data":{"matchedUser":null,"userContestRanking":null}}`}
	c := New(doer, discardLogger())

	_, err := c.FetchProfile(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestFetchProfile_Failures(t *testing.T) {
	tests := []struct {
		name string
		doer *fakeDoer
		want error
	}{
		{"forbidden", &fakeDoer{status: http.StatusForbidden}, apperror.ErrUnauthorized},
		{"bad request", &fakeDoer{status: http.StatusBadRequest}, apperror.ErrTransient},
		{"malformed json", &fakeDoer{status: http.StatusOK, body: `{"data":`}, apperror.ErrTransient},
		{"errors without data", &fakeDoer{status: http.StatusOK, body: `{"errors":[{"message":"boom"}],"data":null}`}, apperror.ErrTransient},
		{"transport", &fakeDoer{err: apperror.Offline("no network")}, apperror.ErrOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.doer, discardLogger()).FetchProfile(context.Background(), "alice")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchBadges(t *testing.T) {
	doer := &fakeDoer{status: http.StatusOK, body: `{"data":{"matchedUser":{"badges":[{"id":"1","displayName":"50 Days","icon":"/i.png"}]}}}`}
	badges, err := New(doer, discardLogger()).FetchBadges(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, badges, 1)
	assert.Equal(t, "50 Days", badges[0].DisplayName)
}

func TestFetchRecentSubmissions(t *testing.T) {
	doer := &fakeDoer{status: http.StatusOK, body: `{"data":{"recentSubmissionList":[
		{"id":"11","title":"Two Sum","titleSlug":"two-sum","timestamp":"1710460800","statusDisplay":"Accepted","lang":"golang"},
		{"id":"10","title":"Add Two Numbers","titleSlug":"add-two-numbers","timestamp":"bogus","statusDisplay":"Wrong Answer","lang":"python3"}]}}`}
	subs, err := New(doer, discardLogger()).FetchRecentSubmissions(context.Background(), "alice", 20)
	require.NoError(t, err)

	require.Len(t, subs, 2)
	assert.Equal(t, "Two Sum", subs[0].Title)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), subs[0].Timestamp)
	assert.True(t, subs[1].Timestamp.IsZero())

	var sent graphQLRequest
	require.NoError(t, json.Unmarshal(doer.last.Body, &sent))
	assert.EqualValues(t, 20, sent.Variables["limit"])
}

func TestFetchAcceptedSubmissions(t *testing.T) {
	doer := &fakeDoer{status: http.StatusOK, body: `{"data":{"recentAcSubmissionList":[{"id":"11","title":"Two Sum","titleSlug":"two-sum","timestamp":"1710460800"}]}}`}
	subs, err := New(doer, discardLogger()).FetchAcceptedSubmissions(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Accepted", subs[0].Status)
}

func TestFetchSubmissionDetail(t *testing.T) {
	body := `{"data":{"submissionDetails":{
		"runtime":4,"memory":3145728,"code":"package main","timestamp":1710460800,
		"lang":{"name":"golang"},
		"question":{"questionId":"1","title":"Two Sum","titleSlug":"two-sum","difficulty":"Easy","topicTags":[{"slug":"array"},{"slug":"hash-table"}]}}}}`

	t.Run("needs a session", func(t *testing.T) {
		doer := &fakeDoer{status: http.StatusOK, body: body}
		_, err := New(doer, discardLogger()).FetchSubmissionDetail(context.Background(), "11")
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("non numeric id", func(t *testing.T) {
		_, err := New(&fakeDoer{}, discardLogger(), WithSession("s")).FetchSubmissionDetail(context.Background(), "abc")
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("builds an artifact", func(t *testing.T) {
		doer := &fakeDoer{status: http.StatusOK, body: body}
		art, err := New(doer, discardLogger(), WithSession("cookie")).FetchSubmissionDetail(context.Background(), "11")
		require.NoError(t, err)

		assert.Equal(t, "LEETCODE_SESSION=cookie", doer.last.Header.Get("Cookie"))
		assert.Equal(t, "array", art.Category)
		assert.Equal(t, "Easy", art.Difficulty)
		assert.Equal(t, "golang", art.Language)
		assert.Equal(t, 4.0, art.Metrics.RuntimeMs)
		assert.Equal(t, 3.0, art.Metrics.MemoryMB)
		assert.Equal(t, "two-sum", art.Slug)
	})
}

// TestThroughRateLimitedClient exercises the real client stack against a TLS server.
func TestThroughRateLimitedClient(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		io.WriteString(w, profileBody)
	}))
	defer srv.Close()

	hc := httpclient.New(discardLogger(), httpclient.DefaultConfig(), httpclient.WithHTTPClient(srv.Client()))
	c := New(hc, discardLogger(), WithEndpoint(srv.URL))

	got, err := c.FetchProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}
