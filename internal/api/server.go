// Package api is the HTTP producer surface: it validates requests, inserts PENDING jobs and exposes
// read-only job and post listings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"content-agent/internal/models"
	"content-agent/internal/store"
	"content-agent/internal/telemetry"
)

// Store is the persistence the API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (store.Stats, error)
	InsertJob(ctx context.Context, jobType models.JobType, payload map[string]any) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
	ListPosts(ctx context.Context, status models.PostStatus, limit int) ([]models.GeneratedPost, error)
}

// Limiter admits or rejects one request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the producer API.
type Server struct {
	store    Store
	limiter  Limiter
	assetDir string
	log      *zap.Logger
}

// New constructs the API server. limiter may be nil; assetDir, when set, is served under /assets/.
func New(st Store, limiter Limiter, assetDir string, log *zap.Logger) *Server {
	return &Server{
		store:    st,
		limiter:  limiter,
		assetDir: assetDir,
		log:      log.Named("api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())
	if s.assetDir != "" {
		r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.Dir(s.assetDir))))
	}

	r.Route("/jobs", func(r chi.Router) {
		r.With(s.rateLimit).Post("/create", s.handleCreate)
		r.With(s.rateLimit).Post("/publish", s.handlePublish)
		r.With(s.rateLimit).Post("/feedback", s.handleFeedback)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
	})
	r.Get("/posts", s.handleListPosts)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": stats})
}

type createRequest struct {
	Format        string `json:"format"`
	Style         string `json:"style"`
	TargetChannel string `json:"target_channel"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payload := map[string]any{}
	if req.Format != "" {
		f, err := models.ParsePostFormat(req.Format)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload["format"] = string(f)
	}
	if req.TargetChannel != "" {
		if _, err := models.ParseChannelTarget(req.TargetChannel); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload["target_channel"] = req.TargetChannel
	}
	if style := strings.TrimSpace(req.Style); style != "" {
		payload["style"] = style
	}
	s.enqueue(w, r, models.JobCreatePost, payload)
}

type publishRequest struct {
	PostID    string `json:"postId"`
	PostIDAlt string `json:"post_id"`
	Force     bool   `json:"force"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.PostID)
	if id == "" {
		id = strings.TrimSpace(req.PostIDAlt)
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "postId is required")
		return
	}
	s.enqueue(w, r, models.JobPublishPost, map[string]any{"postId": id, "force": req.Force})
}

type feedbackRequest struct {
	PostID      string   `json:"post_id"`
	MinAgeHours *float64 `json:"min_age_hours"`
	MaxPosts    *int     `json:"max_posts"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payload := map[string]any{}
	if req.PostID != "" {
		payload["post_id"] = req.PostID
	}
	if req.MinAgeHours != nil {
		if *req.MinAgeHours < 0 {
			writeError(w, http.StatusBadRequest, "min_age_hours must not be negative")
			return
		}
		payload["min_age_hours"] = *req.MinAgeHours
	}
	if req.MaxPosts != nil {
		if *req.MaxPosts <= 0 {
			writeError(w, http.StatusBadRequest, "max_posts must be positive")
			return
		}
		payload["max_posts"] = *req.MaxPosts
	}
	s.enqueue(w, r, models.JobCollectFeedback, payload)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, jobType models.JobType, payload map[string]any) {
	job, err := s.store.InsertJob(r.Context(), jobType, payload)
	if err != nil {
		s.log.Error("insert job failed", zap.String("job_type", string(jobType)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	telemetry.JobsEnqueued.WithLabelValues(string(jobType)).Inc()
	s.log.Info("job enqueued", zap.String("job_id", job.ID), zap.String("job_type", string(jobType)))
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", models.StatusPending, models.StatusInProgress, models.StatusCompleted, models.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown job status")
		return
	}
	jobs, err := s.store.ListJobs(r.Context(), status, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	status := models.PostStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", models.PostDraft, models.PostQueued, models.PostPublished, models.PostFailed, models.PostArchived:
	default:
		writeError(w, http.StatusBadRequest, "unknown post status")
		return
	}
	posts, err := s.store.ListPosts(r.Context(), status, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if posts == nil {
		posts = []models.GeneratedPost{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// rateLimit applies the per-client token bucket to job inserts.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, _, err := s.limiter.Allow(r.Context(), "rl:"+clientFromRequest(r))
		if err != nil {
			s.log.Error("rate limiter unavailable", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "default"
	}
	return host
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 50
	}
	return n
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid json")
	return false
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
