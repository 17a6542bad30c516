package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mrktfy/prospector/internal/api/respond"
	"github.com/mrktfy/prospector/internal/engine"
)

// session resolves the request's session from the userID path parameter.
func (h *Handler) session(r *http.Request) *engine.Session {
	return h.manager.Session(r.Context(), chi.URLParam(r, "userID"))
}

// PostLocation feeds one location sample into the user's detector.
func (h *Handler) PostLocation(w http.ResponseWriter, r *http.Request) {
	var sample engine.LocationSample
	if err := respond.DecodeJSON(r, &sample); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Invalid location sample", err.Error())
		return
	}
	if sample.Latitude < -90 || sample.Latitude > 90 || sample.Longitude < -180 || sample.Longitude > 180 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_COORDINATES", "Latitude/longitude out of range")
		return
	}

	s := h.session(r)
	s.HandleSample(r.Context(), sample)
	respond.WriteJSONObject(w, http.StatusAccepted, map[string]interface{}{
		"movementState": s.MovementState(),
	})
}

// PostListingView resets the session's context-delay clock.
func (h *Handler) PostListingView(w http.ResponseWriter, r *http.Request) {
	h.session(r).RecordListingView()
	w.WriteHeader(http.StatusNoContent)
}

type engagementRequest struct {
	Trigger engine.TriggerType `json:"trigger"`
	Action  engine.Action      `json:"action"`
}

// PostEngagement records an engagement signal not tied to a stored
// notification.
func (h *Handler) PostEngagement(w http.ResponseWriter, r *http.Request) {
	var req engagementRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Invalid engagement payload", err.Error())
		return
	}
	if !req.Trigger.Valid() {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_TRIGGER", "Unknown trigger type")
		return
	}
	if !req.Action.Valid() {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ACTION", "Unknown action")
		return
	}

	h.session(r).RecordUserEngagement(r.Context(), req.Trigger, req.Action)
	w.WriteHeader(http.StatusNoContent)
}

type appStateRequest struct {
	Active bool `json:"active"`
}

// PutAppState tracks whether the app is foregrounded.
func (h *Handler) PutAppState(w http.ResponseWriter, r *http.Request) {
	var req appStateRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Invalid app state payload", err.Error())
		return
	}
	h.session(r).SetAppActive(req.Active)
	w.WriteHeader(http.StatusNoContent)
}

type tierRequest struct {
	Tier string `json:"tier"`
}

// PutTier switches the session's subscription tier. Unknown tiers fall back
// to the lowest-privilege defaults and are reported as a client error.
func (h *Handler) PutTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Invalid tier payload", err.Error())
		return
	}

	s := h.session(r)
	if !s.SetTier(req.Tier) {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "UNKNOWN_TIER", "Unknown tier", req.Tier)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"tier": s.Tier()})
}

// PutCriteria replaces the session's saved search filters.
func (h *Handler) PutCriteria(w http.ResponseWriter, r *http.Request) {
	var criteria engine.UserCriteria
	if err := respond.DecodeJSON(r, &criteria); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Invalid criteria payload", err.Error())
		return
	}
	if criteria.PriceMax > 0 && criteria.PriceMax < criteria.PriceMin {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_CRITERIA", "priceMax must not be below priceMin")
		return
	}

	h.session(r).SetCriteria(criteria)
	w.WriteHeader(http.StatusNoContent)
}

// GetStats returns the session's composite statistics.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, h.session(r).Stats())
}
