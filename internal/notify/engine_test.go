package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/streakwatch/internal/httpclient"
	"github.com/sakif/streakwatch/internal/kv"
	"github.com/sakif/streakwatch/internal/model"
	"github.com/sakif/streakwatch/internal/repository"
	"github.com/sakif/streakwatch/internal/writequeue"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

// recordingSink remembers every batch and optionally fails.
type recordingSink struct {
	batches []Batch
	err     error
}

func (s *recordingSink) Notify(_ context.Context, b Batch) error {
	s.batches = append(s.batches, b)
	return s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, sink Sink) (*Engine, *repository.Store) {
	t.Helper()
	logger := discardLogger()
	q := writequeue.New(logger, 16)
	t.Cleanup(q.Close)
	clock := func() time.Time { return testNow }
	repo := repository.New(kv.NewMemoryStore(0), q, logger, repository.WithClock(clock))
	return NewEngine(repo, sink, logger, WithClock(clock)), repo
}

func solved(id string) Detection {
	return Detection{EntityID: id, Kind: model.KindSolvedToday, Message: id + " solved 1 problem", Priority: model.PriorityNormal}
}

func TestDeliver_BatchesAndMarks(t *testing.T) {
	sink := &recordingSink{}
	e, repo := newTestEngine(t, sink)
	ctx := context.Background()

	events := e.Deliver(ctx, []Detection{solved("alice"), solved("bob")})

	require.Len(t, events, 2)
	require.Len(t, sink.batches, 1)
	assert.Equal(t, "2 new updates", sink.batches[0].Summary)

	state, err := repo.NotificationState(ctx)
	require.NoError(t, err)
	assert.True(t, state.NotifiedOn("alice", today))
	assert.True(t, state.NotifiedOn("bob", today))

	recent, err := e.Recent(ctx)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestDeliver_SingleEventHasNoSummary(t *testing.T) {
	sink := &recordingSink{}
	e, _ := newTestEngine(t, sink)

	e.Deliver(context.Background(), []Detection{solved("alice")})

	require.Len(t, sink.batches, 1)
	assert.Empty(t, sink.batches[0].Summary)
}

func TestDeliver_AtMostOncePerEntityPerDay(t *testing.T) {
	sink := &recordingSink{}
	e, _ := newTestEngine(t, sink)
	ctx := context.Background()

	first := e.Deliver(ctx, []Detection{solved("alice")})
	second := e.Deliver(ctx, []Detection{solved("alice"), solved("bob")})

	assert.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "bob", second[0].EntityID)
}

func TestDeliver_Muted(t *testing.T) {
	sink := &recordingSink{}
	e, _ := newTestEngine(t, sink)
	ctx := context.Background()

	require.NoError(t, e.Mute(ctx, today))
	muted, err := e.Muted(ctx)
	require.NoError(t, err)
	assert.True(t, muted)
	assert.Empty(t, e.Deliver(ctx, []Detection{solved("alice")}))
	assert.Empty(t, sink.batches)

	require.NoError(t, e.Unmute(ctx))
	assert.Len(t, e.Deliver(ctx, []Detection{solved("alice")}), 1)
}

func TestDeliver_MuteEndsAfterDate(t *testing.T) {
	sink := &recordingSink{}
	e, _ := newTestEngine(t, sink)

	require.NoError(t, e.Mute(context.Background(), today-1))
	assert.Len(t, e.Deliver(context.Background(), []Detection{solved("alice")}), 1)
}

func TestDeliver_SinkFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("display broke")}
	e, repo := newTestEngine(t, sink)
	ctx := context.Background()

	events := e.Deliver(ctx, []Detection{solved("alice")})

	assert.Len(t, events, 1)
	state, _ := repo.NotificationState(ctx)
	assert.True(t, state.NotifiedOn("alice", today), "detection state is not rolled back")
}

func TestWebhookSink(t *testing.T) {
	var got Batch
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := httpclient.New(discardLogger(), httpclient.DefaultConfig(), httpclient.WithHTTPClient(srv.Client()))
	sink := WebhookSink{Client: client, URL: srv.URL}

	err := sink.Notify(context.Background(), Batch{Events: []model.NotificationEvent{{ID: "1", Message: "hi"}}})
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "hi", got.Events[0].Message)
}

func TestFanout_JoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("nope")}

	err := Fanout{bad, ok}.Notify(context.Background(), Batch{})

	assert.Error(t, err)
	assert.Len(t, ok.batches, 1, "one failing sink does not stop the others")
}
