package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"quizcraft-live-service/internal/app"
	"quizcraft-live-service/internal/domain"
)

// APIHandler exposes the session lifecycle over plain HTTP: hosts create,
// start and end sessions; waiting clients poll status; finished clients
// fetch the leaderboard.
type APIHandler struct {
	service *app.SessionService
	log     zerolog.Logger
}

func NewAPIHandler(service *app.SessionService, log zerolog.Logger) *APIHandler {
	return &APIHandler{
		service: service,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the session API on a chi router.
func (h *APIHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/sessions", h.handleCreateSession)
	r.Post("/sessions/{id}/start", h.handleStartSession)
	r.Post("/sessions/{id}/end", h.handleEndSession)
	r.Get("/sessions/{id}/status", h.handleStatus)
	r.Get("/sessions/{id}/leaderboard", h.handleLeaderboard)
	r.Get("/sessions/pin/{pin}/questions", h.handleQuestions)
	return r
}

type createSessionRequest struct {
	QuizID string `json:"quizId"`
	HostID string `json:"hostId"`
}

func (h *APIHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizID == "" {
		writeError(w, http.StatusBadRequest, "quizId is required")
		return
	}
	session, err := h.service.CreateSession(r.Context(), req.QuizID, req.HostID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *APIHandler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.StartSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *APIHandler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.EndSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *APIHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *APIHandler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *APIHandler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.service.QuestionsForPIN(r.Context(), chi.URLParam(r, "pin"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

// writeServiceError maps the domain taxonomy onto HTTP statuses with
// specific, actionable messages.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, "session already running or ended")
	case errors.Is(err, domain.ErrPINConflict):
		writeError(w, http.StatusServiceUnavailable, "could not allocate a session pin, try again")
	default:
		h.log.Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
