package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/command"
	"github.com/sakif/streakwatch/internal/model"
)

const maxBodyBytes = 64 << 10

// Dispatcher runs one user command. *command.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) (any, error)
}

// ControlHandler exposes the daemon's user actions over HTTP. Each handler
// decodes the request into a command, dispatches it and writes the result;
// none of them touches storage or the remote APIs directly.
type ControlHandler struct {
	dispatch Dispatcher
	logger   *slog.Logger
}

func NewControlHandler(dispatch Dispatcher, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{dispatch: dispatch, logger: logger}
}

// HandleHealth is the only unauthenticated endpoint.
//
// HTTP: GET /api/health
func (h *ControlHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HTTP: GET /api/entities
func (h *ControlHandler) HandleListEntities(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, command.ListEntities{}, http.StatusOK)
}

// HandleAddEntity starts tracking a user.
//
// HTTP: POST /api/entities
// REQUEST BODY: {"id": "leetcode_handle"}
func (h *ControlHandler) HandleAddEntity(w http.ResponseWriter, r *http.Request) {
	var cmd command.AddEntity
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	h.run(w, r, cmd, http.StatusCreated)
}

// HTTP: DELETE /api/entities/{id}
func (h *ControlHandler) HandleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, command.RemoveEntity{ID: chi.URLParam(r, "id")}, http.StatusNoContent)
}

// HTTP: PUT /api/self
// REQUEST BODY: {"id": "leetcode_handle"}
func (h *ControlHandler) HandleSetSelf(w http.ResponseWriter, r *http.Request) {
	var cmd command.SetSelf
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	h.run(w, r, cmd, http.StatusNoContent)
}

// HandleSync runs a full cycle and answers with its report. The cycle keeps
// going if the client disconnects.
//
// HTTP: POST /api/sync
func (h *ControlHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, command.SyncNow{}, http.StatusOK)
}

// HTTP: GET /api/notifications
func (h *ControlHandler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, command.RecentNotifications{}, http.StatusOK)
}

// HandleMute silences notifications through the given UTC date.
//
// HTTP: POST /api/mute
// REQUEST BODY: {"until": "2024-03-20"}
func (h *ControlHandler) HandleMute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Until *string `json:"until"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Until == nil {
		writeError(w, apperror.ValidationFailed("until", "until is required"))
		return
	}
	var cmd command.Mute
	if err := cmd.Until.UnmarshalText([]byte(*body.Until)); err != nil {
		writeError(w, apperror.ValidationFailed("until", fmt.Sprintf("until must be YYYY-MM-DD: %v", err)))
		return
	}
	h.run(w, r, cmd, http.StatusNoContent)
}

// HTTP: DELETE /api/mute
func (h *ControlHandler) HandleUnmute(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, command.Unmute{}, http.StatusNoContent)
}

// HTTP: POST /api/mirror/retry
func (h *ControlHandler) HandleRetryMirror(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, command.RetryFailedMirror{}, http.StatusOK)
}

// HTTP: GET /api/schedule
func (h *ControlHandler) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, command.GetSchedule{}, http.StatusOK)
}

// HTTP: PUT /api/schedule
// REQUEST BODY: {"activeIntervalMinutes": 15, "quietIntervalMinutes": 60, "activeStartHour": 18, "activeEndHour": 2}
func (h *ControlHandler) HandlePutSchedule(w http.ResponseWriter, r *http.Request) {
	var pref model.SchedulePreference
	if err := decodeJSON(w, r, &pref); err != nil {
		writeError(w, err)
		return
	}
	h.run(w, r, command.SetSchedule{Preference: pref}, http.StatusNoContent)
}

func (h *ControlHandler) run(w http.ResponseWriter, r *http.Request, cmd command.Command, status int) {
	result, err := h.dispatch.Dispatch(r.Context(), cmd)
	if err != nil {
		h.logger.Warn("command failed",
			slog.String("command", fmt.Sprintf("%T", cmd)),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, result)
}

// decodeJSON reads one JSON object, rejecting unknown fields and oversized bodies.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
