package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"lostmatch/internal/models"
	"lostmatch/internal/notify"
	"lostmatch/internal/repository"
	"lostmatch/internal/scoring"
	"lostmatch/internal/search"
	"lostmatch/internal/services"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests
// Learning: Uses INTERFACES defined in this package (consumer-driven)
type Handler struct {
	fpRepo     *repository.FingerprintRepositoryImpl // Concrete type for now
	matchRepo  *repository.MatchRepositoryImpl       // Concrete type for now
	weightRepo *repository.WeightRepositoryImpl      // Concrete type for now
	builder    FingerprintBuilder                    // Interface defined in this package!
	engine     SearchEngine
	feedback   FeedbackService
	tuning     TuningService
	hub        *notify.Hub // WebSocket event rooms

	defaultMaxResults int
}

func NewHandler(
	fpRepo *repository.FingerprintRepositoryImpl,
	matchRepo *repository.MatchRepositoryImpl,
	weightRepo *repository.WeightRepositoryImpl,
	builder FingerprintBuilder, // Accept interface
	engine SearchEngine,
	feedback FeedbackService,
	tuning TuningService,
	hub *notify.Hub,
	defaultMaxResults int,
) *Handler {
	return &Handler{
		fpRepo:            fpRepo,
		matchRepo:         matchRepo,
		weightRepo:        weightRepo,
		builder:           builder,
		engine:            engine,
		feedback:          feedback,
		tuning:            tuning,
		hub:               hub,
		defaultMaxResults: defaultMaxResults,
	}
}

// Fingerprint handlers

func (h *Handler) CreateFingerprint(w http.ResponseWriter, r *http.Request) {
	var create models.FingerprintCreate
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Submitting to the worker pool is non-blocking; the response carries
	// the pending record and callers poll or subscribe for completion
	fp, err := h.builder.Submit(r.Context(), &create)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"fingerprint":  fp,
		"queue_length": h.builder.QueueLength(),
	})
}

func (h *Handler) GetFingerprint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	fp, err := h.fpRepo.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fp)
}

func (h *Handler) GetFingerprintByPhoto(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	photoID := vars["photoId"]

	fp, err := h.fpRepo.GetByPhotoID(r.Context(), photoID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fp)
}

// Search handlers

func (h *Handler) SearchMatches(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var req struct {
		MaxResults int `json:"max_results,omitempty"`
	}
	// Body is optional, defaults apply
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.MaxResults <= 0 {
		req.MaxResults = h.defaultMaxResults
	}

	query, err := h.fpRepo.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	outcome, err := h.engine.Search(r.Context(), query, req.MaxResults)
	if err != nil {
		if errors.Is(err, search.ErrQueryNotReady) || errors.Is(err, scoring.ErrScoringRefused) {
			// Fingerprint exists but isn't scoreable yet (or failed)
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(outcome)
}

// Match handlers

func (h *Handler) ListCaseMatches(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	caseID := vars["id"]

	matches, err := h.matchRepo.ListByCase(r.Context(), caseID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"case_id": caseID,
		"matches": matches,
		"count":   len(matches),
	})
}

func (h *Handler) ListUserMatches(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]

	matches, err := h.matchRepo.ListByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user_id": userID,
		"matches": matches,
		"count":   len(matches),
	})
}

func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	// When the reader is one of the involved case owners, fetching the
	// match transitions it pending -> viewed (idempotently)
	match, err := h.feedback.GetForUser(r.Context(), id, requestUserID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(match)
}

// Feedback handlers

func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	matchID := vars["id"]

	var create models.FeedbackCreate
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if create.UserID == "" {
		create.UserID = requestUserID(r)
	}

	match, err := h.feedback.Submit(r.Context(), matchID, &create)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(match)
}

func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	matchID := vars["id"]

	feedbacks, err := h.feedback.ListForMatch(r.Context(), matchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"match_id": matchID,
		"feedback": feedbacks,
		"count":    len(feedbacks),
	})
}

// Weight profile handlers

func (h *Handler) GetWeightProfile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	profile, err := h.weightRepo.GetActive(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if profile == nil {
		http.Error(w, "no active weight profile: "+name, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profile)
}

func (h *Handler) ListWeightVersions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	versions, err := h.weightRepo.ListVersions(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"config_name": name,
		"versions":    versions,
		"count":       len(versions),
	})
}

func (h *Handler) StartRetrain(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	run, err := h.tuning.StartRetrain(r.Context(), name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(run)
}

func (h *Handler) GetTuningRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	run, ok := h.tuning.GetRun(id)
	if !ok {
		http.Error(w, "tuning run not found: "+id, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (h *Handler) PromoteWeightProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileID string `json:"profile_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ProfileID == "" {
		http.Error(w, "profile_id is required", http.StatusBadRequest)
		return
	}

	profile, err := h.tuning.Promote(r.Context(), req.ProfileID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profile)
}

// Health

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"queue_length": h.builder.QueueLength(),
	})
}

// Helpers

// requestUserID reads the caller identity header. Authentication is the
// main application's job, the engine trusts the gateway.
func requestUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// writeServiceError maps service errors onto HTTP statuses: validation
// errors get a structured 400 body, not-found gets 404, everything else 500
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":         verr.Message,
			"valid_options": verr.ValidOptions,
		})
		return
	}

	if strings.Contains(err.Error(), "not found") {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	http.Error(w, err.Error(), http.StatusInternalServerError)
}
