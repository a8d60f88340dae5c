package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/serenemind/serenemind-backend/internal/api/respond"
	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/services"
)

// SessionHandler exposes the append-only message history.
type SessionHandler struct {
	svc *services.ChatService
}

func NewSessionHandler(svc *services.ChatService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// ListMessages handles GET /api/sessions/{sessionId}/messages.
func (h *SessionHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if sessionID == "" {
		respond.WriteBadRequest(w, "sessionId required")
		return
	}
	msgs, err := h.svc.ListSessionMessages(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, err.Error())
			return
		}
		respond.WriteInternalError(w, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []model.ConversationMessage{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"messages":  msgs,
		"count":     len(msgs),
	})
}
