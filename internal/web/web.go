package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nudgecal/internal/apperr"
	"nudgecal/internal/config"
	appLog "nudgecal/internal/log"
	"nudgecal/internal/model"
	"nudgecal/internal/overlay"
	"nudgecal/internal/prefs"
	"nudgecal/internal/reminder"
)

const maxBodyBytes = 1 << 20

// Scheduler is the subset of *reminder.Scheduler the API drives.
type Scheduler interface {
	Snapshot() []reminder.EventStatus
	Refresh(ctx context.Context) error
	Apply(id string, a reminder.Action) error
	ToggleReminder(id string) bool
	SetDismissed(id string, dismissed bool)
	ClearSnooze(id string)
	Preferences() *prefs.Preferences
	SetLeadTime(minutes int) error
	SetDisplay(style model.DisplayStyle, format model.TimeFormat) error
	ReplacePreferences(p *prefs.Preferences)
	IsPresenting() bool
	LastRefresh() time.Time
	Reporter() *apperr.Reporter
}

// Overlay is the visible-reminder side of overlay.Web.
type Overlay interface {
	Current() (overlay.View, bool)
	Respond(token string, a reminder.Action) error
}

// Server exposes the reminder scheduler over HTTP for a menu-bar shell or
// a browser.
type Server struct {
	cfg     *config.Config
	sched   Scheduler
	overlay Overlay
	now     func() time.Time
	handler http.Handler
}

// NewServer wires routes. ov may be nil when reminders are not presented
// through the API.
func NewServer(cfg *config.Config, sched Scheduler, ov Overlay) *Server {
	s := &Server{
		cfg:     cfg,
		sched:   sched,
		overlay: ov,
		now:     time.Now,
	}
	s.setupHandler()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) setupHandler() {
	r := chi.NewMux()
	r.Use(requestLogger, middleware.Recoverer, middleware.StripSlashes)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		r.Use(s.basicAuthMiddleware)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Post("/refresh", s.handleRefresh)
		r.Route("/events/{id}", func(r chi.Router) {
			r.Post("/toggle", s.handleToggle)
			r.Post("/dismiss", s.handleDismiss)
			r.Delete("/dismiss", s.handleUndismiss)
			r.Delete("/snooze", s.handleClearSnooze)
			r.Post("/action", s.handleAction)
		})

		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)
		r.Get("/preferences/export", s.handleExport)
		r.Post("/preferences/import", s.handleImport)

		r.Get("/errors", s.handleErrors)

		r.Get("/overlay", s.handleOverlay)
		r.Post("/overlay/{token}", s.handleOverlayAnswer)
	})

	s.handler = r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects every route except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="nudgecal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug(r.URL.RequestURI(),
			"method", r.Method,
			"status", ww.Status(),
			"addr", r.RemoteAddr,
			"duration", time.Since(start).String(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reminder.ErrUnknownEvent), errors.Is(err, overlay.ErrNoPresentation):
		return http.StatusNotFound
	case errors.Is(err, reminder.ErrSnoozeNotInFuture):
		return http.StatusConflict
	case errors.Is(err, reminder.ErrInvalidAction),
		errors.Is(err, reminder.ErrInvalidLeadTime),
		errors.Is(err, reminder.ErrInvalidDisplay):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
