package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bookforge/internal/app"
	"bookforge/internal/ratelimit"
	"bookforge/internal/servicetoken"
	"bookforge/internal/util"
	"bookforge/pkg/domain"
	"bookforge/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                   *app.App
	ServiceTokens         *servicetoken.Verifier
	RedisAddr             string
	RedisPassword         string
	AskRateLimitPerMinute int
}

// Server exposes the HTTP endpoints for the backend.
type Server struct {
	app           *app.App
	serviceTokens *servicetoken.Verifier
	mux           *http.ServeMux
	askLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	askLimit := cfg.AskRateLimitPerMinute
	if askLimit <= 0 {
		askLimit = 10
	}
	askLimiter, err := ratelimit.NewFixedWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "bookforge:ratelimit:ask", askLimit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init ask limiter: %w", err)
	}
	s := &Server{
		app:           cfg.App,
		serviceTokens: cfg.ServiceTokens,
		mux:           http.NewServeMux(),
		askLimiter:    askLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleLanding)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// public generation endpoint, IP rate limited
	s.mux.HandleFunc("/api/ask", s.handleAsk)

	// books (session required)
	s.mux.Handle("/api/books", s.authenticated(s.handleBooks))
	s.mux.Handle("/api/books/", s.authenticated(s.handleBookByID))

	// users
	s.mux.Handle("/api/users/create", s.serviceOnly(s.handleCreateUser))
	s.mux.Handle("/api/users/profile", s.authenticated(s.handleProfile))
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionCookie carries the access token for browser navigation, where no
// Authorization header is available.
const sessionCookie = "bookforge_session"

const landingPage = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>BookForge</title></head>
<body>
<h1>BookForge</h1>
<p>Generate complete books with AI. <a href="/login">Sign in</a> to start writing.</p>
</body>
</html>
`

// handleLanding is the root page: a signed-in visitor is sent straight to the
// dashboard, everyone else gets the marketing view. The catch-all pattern
// means unknown paths land here too and must 404.
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			token = strings.TrimSpace(cookie.Value)
			ok = token != ""
		}
	}
	if ok {
		if _, reason := s.app.ResolveUser(r.Context(), token); reason == app.ResolveOK {
			http.Redirect(w, r, "/dashboard", http.StatusFound)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, landingPage)
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "session.resolve", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, reason := s.app.ResolveUser(r.Context(), token)
		if reason != app.ResolveOK {
			s.audit(r, "session.resolve", "fail", "reason", reason)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) serviceOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-Service-Token"))
		if token == "" {
			s.audit(r, "service.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		caller, err := s.serviceTokens.Verify(token)
		if err != nil {
			s.audit(r, "service.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.audit(r, "service.authorize", "success", "caller", caller)
		next(w, r)
	})
}

// /api/ask streams the completion as chunked plain text. Validation failures
// are reported as JSON before the first body byte; once streaming has begun
// the only failure mode is cutting the connection.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.askLimiter, "too many generation requests") {
		s.audit(r, "ask", "rate_limited")
		return
	}
	var req app.AskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeAppError(w, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	err := s.app.StreamAnswer(r.Context(), req, func(chunk string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if !started {
			s.audit(r, "ask", "fail", "reason", err.Error())
			writeAppError(w, err)
			return
		}
		// Stream already underway: nothing useful to send, just log.
		util.LoggerFromContext(r.Context()).Warn("stream aborted", "error", err)
		return
	}
	// A stream that completes without a single chunk is a provider fault,
	// not an empty 200.
	if !started {
		s.audit(r, "ask", "fail", "reason", "empty_stream")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// /api/books
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		var req createBookRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		book, err := s.app.CreateBook(r.Context(), user.ID, req.Title, req.Premise)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	case http.MethodGet:
		books, err := s.app.ListBooks(user.ID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": books,
			"count": len(books),
		})
	default:
		methodNotAllowed(w)
	}
}

// /api/books/{id}, /api/books/{id}/story-memory, /api/books/{id}/download
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "story-memory":
			s.handleStoryMemory(w, id, user)
		case "download":
			s.handleDownload(w, r, id, user)
		default:
			http.NotFound(w, r)
		}
		return
	}
	book, err := s.app.GetBook(id, user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleStoryMemory(w http.ResponseWriter, id string, user domain.User) {
	memory, err := s.app.StoryMemory(id, user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	// data is null for books generated before memory was recorded
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"hasStoryMemory": memory != nil,
		"data":           memory,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string, user domain.User) {
	url, err := s.app.DownloadURL(r.Context(), id, user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// /api/users/create (trusted callers only)
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.CreateUserInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.CreateUser(req)
	if err != nil {
		s.audit(r, "user.create", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "user.create", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

// /api/users/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req updateProfileRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.app.UpdateProfile(user.ID, req.Name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    updated,
	})
}

// /api/users/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type createBookRequest struct {
	Title   string `json:"title"`
	Premise string `json:"premise"`
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application sentinels to HTTP statuses. Unknown errors
// never leak their message to the client.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrEmptyName),
		errors.Is(err, app.ErrEmptyTitle),
		errors.Is(err, app.ErrInvalidUser),
		errors.Is(err, app.ErrNoMessages),
		errors.Is(err, app.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrBookNotFound), errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}
