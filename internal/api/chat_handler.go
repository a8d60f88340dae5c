package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/api/respond"
	"github.com/serenemind/serenemind-backend/internal/api/validate"
	"github.com/serenemind/serenemind-backend/internal/config"
	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/services"
	"github.com/serenemind/serenemind-backend/internal/throttle"
)

// ChatHandler serves the collaborator-facing chat contract.
type ChatHandler struct {
	svc *services.ChatService
	cfg *config.Config
	log zerolog.Logger
}

func NewChatHandler(svc *services.ChatService, cfg *config.Config, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, cfg: cfg, log: log}
}

// HandleChat handles POST /api/chat. With stream=true the response is
// delivered as server-sent events: interim "delta" events and a final
// "done" event carrying the full payload.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.ChatRequest(&req, h.cfg); err != nil {
		var fields validate.FieldErrors
		if errors.As(err, &fields) {
			respond.WriteValidationError(w, fields)
		} else {
			respond.WriteBadRequest(w, err.Error())
		}
		return
	}

	if req.Stream {
		h.streamChat(w, r, req)
		return
	}

	resp, err := h.svc.Chat(r.Context(), req, nil)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) streamChat(w http.ResponseWriter, r *http.Request, req model.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respond.WriteInternalError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	onDelta := func(chunk string) {
		writeEvent(w, "delta", map[string]string{"delta": chunk})
		flusher.Flush()
	}

	resp, err := h.svc.Chat(r.Context(), req, onDelta)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("streamed chat failed")
		writeEvent(w, "error", respond.ErrorResponse{
			Error:   "chat failed",
			Code:    http.StatusInternalServerError,
			Message: err.Error(),
		})
		flusher.Flush()
		return
	}
	writeEvent(w, "done", resp)
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (h *ChatHandler) writeChatError(w http.ResponseWriter, err error) {
	var rl *services.RateLimitError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(rl.RetryAfter.Seconds()))))
		respond.WriteJSON(w, http.StatusTooManyRequests, respond.ErrorResponse{
			Error:   http.StatusText(http.StatusTooManyRequests),
			Code:    http.StatusTooManyRequests,
			Message: throttle.RateLimitMessage,
		})
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, err.Error())
	case errors.Is(err, model.ErrQueueTimeout):
		respond.WriteError(w, http.StatusServiceUnavailable, "service is busy, please retry shortly")
	default:
		h.log.Error().Err(err).Msg("chat request failed")
		respond.WriteInternalError(w, "internal error")
	}
}
