package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xelth-com/chatrelay/internal/buildinfo"
	"github.com/xelth-com/chatrelay/internal/middleware"
	"github.com/xelth-com/chatrelay/internal/models"
	"github.com/xelth-com/chatrelay/internal/services/relay"
	"github.com/xelth-com/chatrelay/internal/websocket"
)

// maxPostBody bounds POST /api/messages request bodies.
const maxPostBody = 64 * 1024

// Relay is the service behind the HTTP API.
type Relay interface {
	Post(ctx context.Context, in relay.PostInput) (models.Message, error)
	Query(ctx context.Context, roomID string) []models.Message
	Conversations(ctx context.Context, user string) []models.ConversationSummary
	Stats() relay.Stats
}

// Router wraps the mux router and the relay service
type Router struct {
	*mux.Router
	relay Relay
	hub   *websocket.Hub
	log   *zap.Logger
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(svc Relay, hub *websocket.Hub, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{
		Router: mux.NewRouter(),
		relay:  svc,
		hub:    hub,
		log:    log,
	}

	r.Use(middleware.AccessLog(log))

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rooms/{roomId}/messages", r.listMessages).Methods("GET")
	api.HandleFunc("/users/{user}/conversations", r.userConversations).Methods("GET")
	api.HandleFunc("/messages", r.postMessage).Methods("POST")

	// Live subscriptions
	if hub != nil {
		r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWs(hub, w, req)
		})
	}

	return r
}

// Handler returns the router as an http.Handler
func (r *Router) Handler() http.Handler {
	return r.Router
}

// healthCheck returns the health status of the relay
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	clients := 0
	if r.hub != nil {
		clients = r.hub.Clients()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": buildinfo.Version(),
		"started": buildinfo.StartTime,
		"stats":   r.relay.Stats(),
		"clients": clients,
	})
}

// listMessages returns the decrypted history of one room
func (r *Router) listMessages(w http.ResponseWriter, req *http.Request) {
	roomID := mux.Vars(req)["roomId"]
	respondJSON(w, http.StatusOK, r.relay.Query(req.Context(), roomID))
}

// userConversations returns the latest message of every conversation of a user
func (r *Router) userConversations(w http.ResponseWriter, req *http.Request) {
	user := mux.Vars(req)["user"]
	respondJSON(w, http.StatusOK, r.relay.Conversations(req.Context(), user))
}

// postMessage stores a message and fans it out to live subscribers
func (r *Router) postMessage(w http.ResponseWriter, req *http.Request) {
	var in relay.PostInput
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxPostBody))
	if err := dec.Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := r.relay.Post(req.Context(), in)
	switch {
	case errors.Is(err, relay.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "message could not be stored")
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
