package api

import (
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/api/recovery"
	"github.com/serenemind/serenemind-backend/internal/config"
	"github.com/serenemind/serenemind-backend/internal/services"
)

// NewRouter wires the HTTP routes to their handlers.
func NewRouter(
	chatSvc *services.ChatService,
	profileSvc *services.ProfileService,
	factSvc *services.FactService,
	cfg *config.Config,
	log zerolog.Logger,
) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	chat := NewChatHandler(chatSvc, cfg, log)
	root.HandleFunc("/api/chat", chat.HandleChat).Methods("POST")

	sessions := NewSessionHandler(chatSvc)
	root.HandleFunc("/api/sessions/{sessionId}/messages", sessions.ListMessages).Methods("GET")

	profiles := NewProfileHandler(profileSvc, factSvc)
	root.HandleFunc("/api/users/{userId}/facts", profiles.ListFacts).Methods("GET")
	root.HandleFunc("/api/users/{userId}/profile", profiles.GetProfile).Methods("GET")
	root.HandleFunc("/api/users/{userId}/profile/invalidate", profiles.Invalidate).Methods("POST")

	health := NewHealthHandler()
	root.HandleFunc("/api/health", health.CheckHealth).Methods("GET")

	return root
}
