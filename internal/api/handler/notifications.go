package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mrktfy/prospector/internal/api/respond"
	"github.com/mrktfy/prospector/internal/engine"
)

// GetNotifications lists the user's notifications, newest first.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	notifs := h.session(r).Store().Notifications()
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"notifications": notifs,
		"count":         len(notifs),
	})
}

// GetUnreadCount returns the live unread total.
func (h *Handler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"unreadCount": h.session(r).Store().UnreadCount(),
	})
}

// PostMarkRead marks one notification read. Marking twice is a no-op success.
func (h *Handler) PostMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.session(r).Store().MarkRead(r.Context(), id) {
		respond.WriteErrorDetail(w, http.StatusNotFound, "NOT_FOUND", "Unknown notification", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostMarkAllRead marks every notification read.
func (h *Handler) PostMarkAllRead(w http.ResponseWriter, r *http.Request) {
	h.session(r).Store().MarkAllRead(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type interactionRequest struct {
	Action engine.Action `json:"action"`
}

// PostInteraction attaches the user's response to a notification and feeds
// the engagement model.
func (h *Handler) PostInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Invalid interaction payload", err.Error())
		return
	}
	if !req.Action.Valid() {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ACTION", "Unknown action")
		return
	}

	id := chi.URLParam(r, "id")
	if !h.session(r).RecordInteraction(r.Context(), id, req.Action) {
		respond.WriteErrorDetail(w, http.StatusNotFound, "NOT_FOUND", "Unknown notification", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotification removes one notification and cancels any pending
// delivery timer for it.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s := h.session(r)
	s.Scheduler().Cancel(id)
	if !s.Store().Delete(r.Context(), id) {
		respond.WriteErrorDetail(w, http.StatusNotFound, "NOT_FOUND", "Unknown notification", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllNotifications clears the user's notification log.
func (h *Handler) DeleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	s.Scheduler().CancelAll()
	s.Store().ClearAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
