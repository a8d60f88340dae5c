package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/serenemind/serenemind-backend/internal/api/respond"
	"github.com/serenemind/serenemind-backend/internal/api/validate"
	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/services"
)

// ProfileHandler serves decayed profile views, long-term facts, and the
// cache invalidation hook.
type ProfileHandler struct {
	profiles *services.ProfileService
	facts    *services.FactService
}

func NewProfileHandler(profiles *services.ProfileService, facts *services.FactService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, facts: facts}
}

// GetProfile handles GET /api/users/{userId}/profile.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := validate.UserID(userID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	p, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, err.Error())
			return
		}
		respond.WriteInternalError(w, "failed to load profile")
		return
	}
	respond.WriteJSON(w, http.StatusOK, p)
}

// Invalidate handles POST /api/users/{userId}/profile/invalidate. Called
// by the external profile editor after a write.
func (h *ProfileHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := validate.UserID(userID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	removed := h.profiles.Invalidate(userID)
	respond.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// ListFacts handles GET /api/users/{userId}/facts.
func (h *ProfileHandler) ListFacts(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := validate.UserID(userID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respond.WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	facts, err := h.facts.List(r.Context(), userID, limit)
	if err != nil {
		respond.WriteInternalError(w, "failed to list facts")
		return
	}
	if facts == nil {
		facts = []model.LongTermFact{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"userId": userID,
		"facts":  facts,
		"count":  len(facts),
	})
}
