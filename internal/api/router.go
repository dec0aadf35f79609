package api

import (
	"net/http"

	"lostmatch/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)       // Add tracing spans to all requests
	r.Use(middleware.ErrorRecoveryMiddleware) // Catch panics
	r.Use(middleware.CORSMiddleware)          // Handle CORS

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	// Fingerprint endpoints
	api.HandleFunc("/fingerprints", h.CreateFingerprint).Methods("POST")
	api.HandleFunc("/fingerprints/{id}", h.GetFingerprint).Methods("GET")
	api.HandleFunc("/fingerprints/by-photo/{photoId}", h.GetFingerprintByPhoto).Methods("GET")
	api.HandleFunc("/fingerprints/{id}/matches", h.SearchMatches).Methods("POST")

	// Match endpoints
	api.HandleFunc("/cases/{id}/matches", h.ListCaseMatches).Methods("GET")
	api.HandleFunc("/users/{id}/matches", h.ListUserMatches).Methods("GET")
	api.HandleFunc("/matches/{id}", h.GetMatch).Methods("GET")

	// Feedback endpoints
	api.HandleFunc("/matches/{id}/feedback", h.SubmitFeedback).Methods("POST")
	api.HandleFunc("/matches/{id}/feedback", h.ListFeedback).Methods("GET")

	// Weight profile endpoints
	api.HandleFunc("/weights/runs/{id}", h.GetTuningRun).Methods("GET")
	api.HandleFunc("/weights/promote", h.PromoteWeightProfile).Methods("POST")
	api.HandleFunc("/weights/{name}", h.GetWeightProfile).Methods("GET")
	api.HandleFunc("/weights/{name}/versions", h.ListWeightVersions).Methods("GET")
	api.HandleFunc("/weights/{name}/retrain", h.StartRetrain).Methods("POST")

	// Health check endpoint
	api.HandleFunc("/health", h.Health).Methods("GET")

	// WebSocket routes
	r.HandleFunc("/ws/cases/{id}", h.HandleCaseWebSocket)

	// Catch-all for unknown API paths
	api.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	return r
}
