package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/httpclient"
	"github.com/sakif/streakwatch/internal/model"
)

// Batch is everything one sync cycle has to say. Summary is set when there
// is more than one event.
type Batch struct {
	Summary string                    `json:"summary,omitempty"`
	Events  []model.NotificationEvent `json:"events"`
}

// Sink displays a batch to the user.
type Sink interface {
	Notify(ctx context.Context, batch Batch) error
}

// LogSink writes notifications to the log.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(_ context.Context, batch Batch) error {
	if batch.Summary != "" {
		s.Logger.Info(batch.Summary)
	}
	for _, ev := range batch.Events {
		s.Logger.Info(ev.Message,
			slog.String("entity", ev.EntityID),
			slog.String("kind", string(ev.Kind)),
			slog.String("priority", ev.Priority.String()),
		)
	}
	return nil
}

// Doer is the rate-limited client as the webhook sink sees it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// WebhookSink posts each batch as JSON to a URL.
type WebhookSink struct {
	Client Doer
	URL    string
}

func (s WebhookSink) Notify(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("notify: encoding webhook batch: %w", err)
	}
	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    s.URL,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return apperror.Transient(fmt.Sprintf("webhook returned status %d", resp.StatusCode), nil)
	}
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, batch Batch) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
