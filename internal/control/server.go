package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mentionrelay/internal/bus"
	"mentionrelay/internal/metrics"
	"mentionrelay/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/skip2/go-qrcode"
)

const (
	HeaderAdminSecret = "x-admin-secret"
	qrImageSize       = 256
	corsMaxAge        = 600
)

// Session is the slice of the lifecycle controller the control layer needs.
type Session interface {
	Status() session.Status
	PairingCode() (string, bool)
	Reset(ctx context.Context)
	Restart()
}

type Config struct {
	Port         int
	AdminSecret  string   // empty leaves admin actions unauthenticated
	AllowOrigins []string // "*" allows any origin
	FrontURL     string   // when set, "/" redirects here instead of serving the panel
	Session      Session
	Events       *bus.EventBus // optional; enables /instance/events
	Logger       *slog.Logger
}

// Server exposes health, pairing and admin endpoints for the single session.
type Server struct {
	port        int
	adminSecret string
	origins     []string
	frontURL    string
	session     Session
	events      *bus.EventBus
	logger      *slog.Logger
	server      *http.Server

	closing   chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"*"}
	}
	return &Server{
		port:        cfg.Port,
		adminSecret: cfg.AdminSecret,
		origins:     cfg.AllowOrigins,
		frontURL:    cfg.FrontURL,
		session:     cfg.Session,
		events:      cfg.Events,
		logger:      cfg.Logger,
		closing:     make(chan struct{}),
	}
}

// Handler builds the router. It is exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     s.origins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"content-type", HeaderAdminSecret},
		MaxAge:             corsMaxAge,
		OptionsPassthrough: true,
	}))

	r.Use(noContentOptions)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metrics.Collector.Handler())

	r.Route("/instance", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/qr", s.handleQR)
		r.Get("/qr.png", s.handleQRImage)
		r.Get("/events", s.handleEvents)
		r.With(s.requireAdmin).Post("/reset", s.handleReset)
		r.With(s.requireAdmin).Post("/restart", s.handleRestart)
	})

	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	s.server.RegisterOnShutdown(s.closeStreams)

	s.logger.Info("control server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.frontURL != "" {
		http.Redirect(w, r, s.frontURL, http.StatusFound)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(panelHTML)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	code, ok := s.session.PairingCode()
	if !ok {
		writeError(w, http.StatusNotFound, "no_qr")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qr": code})
}

func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request) {
	code, ok := s.session.PairingCode()
	if !ok {
		writeError(w, http.StatusNotFound, "no_qr")
		return
	}
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		s.logger.Error("qr render failed", "err", err)
		writeError(w, http.StatusInternalServerError, "qr_render_failed")
		return
	}
	w.Header().Set("content-type", "image/png")
	w.Header().Set("x-qr", code)
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.session.Reset(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "action": "resetting"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.session.Restart()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "action": "restarting"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found")
}

// noContentOptions answers every OPTIONS request once CORS headers are set.
func noContentOptions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin checks the shared admin secret when one is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminSecret != "" {
			got := r.Header.Get(HeaderAdminSecret)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminSecret)) != 1 {
				s.logger.Warn("admin action rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("control handler panic", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
