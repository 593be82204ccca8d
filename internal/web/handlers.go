package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/conorfennell/songquiz/internal/domain"
	"github.com/conorfennell/songquiz/internal/quiz"
	"github.com/conorfennell/songquiz/internal/storage"
	"github.com/conorfennell/songquiz/internal/sync"
	"github.com/conorfennell/songquiz/internal/validation"
)

const maxBodyBytes = 1 << 20

type startSessionRequest struct {
	UserID string `json:"userId" validate:"required,max=200"`
	SongID string `json:"songId" validate:"required,max=200"`
	Locale string `json:"locale" validate:"omitempty,max=35"`
}

type answerRequest struct {
	UUID   string `json:"uuid" validate:"required"`
	Choice string `json:"choice" validate:"required"`
}

type addSourceRequest struct {
	Path string `json:"path" validate:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body into v and validates it.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return validation.Struct(v)
}

// writeServiceError maps domain errors to statuses. Anything unexpected is
// logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, quiz.ErrSessionNotFound),
		errors.Is(err, quiz.ErrNoQuestions),
		errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quiz.ErrQuestionNotInSession),
		errors.Is(err, quiz.ErrInvalidChoice):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListQuestions lists a song's bank in order. Correct options are not
// part of the response.
func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	locale := r.URL.Query().Get("locale")
	if locale == "" {
		locale = domain.DefaultLocale
	}
	questions, err := s.db.GetQuestions(r.Context(), chi.URLParam(r, "songID"), locale)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if questions == nil {
		questions = []domain.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.quiz.Start(r.Context(), req.UserID, req.SongID, req.Locale)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.quiz.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.quiz.Answer(r.Context(), chi.URLParam(r, "sessionID"), req.UUID, req.Choice)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	record, err := s.quiz.Complete(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.quiz.Progress(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "songID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleGetHistory lists past records, newest first. ?limit= caps the count.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.db.ListProgress(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "songID"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.ProgressRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.GetAllSources(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if sources == nil {
		sources = []storage.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handlePostSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	source, err := sync.AddSource(r.Context(), s.db, req.Path)
	if err != nil {
		if errors.Is(err, sync.ErrSourceExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, source)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sourceID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source ID")
		return
	}
	if err := s.db.DeleteSource(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	slog.Info("Source deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handlePostSync runs a sync in the foreground. Concurrent requests share one
// run and all receive its report.
func (s *Server) handlePostSync(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := s.syncs.Do("sync", func() (any, error) {
		report, err := sync.RunSync(ctx, s.db, s.opts.ReposDir)
		s.metrics.ObserveSync(report.Errors, err)
		return report, err
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if shared {
		slog.Debug("Joined a sync already in progress")
	}
	writeJSON(w, http.StatusOK, v)
}
