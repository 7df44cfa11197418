package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"equipviz/internal/core"
	"equipviz/internal/log"
	"equipviz/internal/metrics"
	"equipviz/internal/middleware/ratelimit"
	"equipviz/internal/middleware/security"
	"equipviz/internal/middleware/trace"
	"equipviz/internal/session"
	appweb "equipviz/web"
)

const (
	defaultMaxUploadBytes = 10 << 20
	recentActivityLimit   = 10
)

// ActivityLister returns a user's newest activities.
type ActivityLister interface {
	Recent(ctx context.Context, username string, limit int) ([]core.Activity, error)
}

// ReadinessCheck checks one dependency.
type ReadinessCheck struct {
	Name  string
	Check func(context.Context) error
}

// Config holds the HTTP server settings.
type Config struct {
	Addr              string
	CookieSecure      bool
	SessionKey        []byte
	MaxUploadBytes    int64
	RequestsPerMinute int
}

// Server serves the dashboard.
type Server struct {
	*http.Server

	manager   *session.Manager
	activity  ActivityLister
	readiness []ReadinessCheck
	templates *template.Template
	detector  *security.Detector
	limiter   *ratelimit.Limiter
	logger    *log.Logger

	cookies        *sessions.CookieStore
	maxUploadBytes int64
	started        time.Time
	shutdownOnce   sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithActivityLister shows recent activity on the dashboard.
func WithActivityLister(l ActivityLister) Option {
	return func(s *Server) { s.activity = l }
}

// WithReadinessCheck adds a dependency check to /readyz.
func WithReadinessCheck(name string, check func(context.Context) error) Option {
	return func(s *Server) {
		s.readiness = append(s.readiness, ReadinessCheck{Name: name, Check: check})
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.WithComponent(log.ComponentHTTP)
		}
	}
}

// NewServer parses the embedded templates and builds the router.
func NewServer(cfg Config, manager *session.Manager, opts ...Option) (*Server, error) {
	s := &Server{
		manager:        manager,
		detector:       security.NewDetector(),
		logger:         log.Default().WithComponent(log.ComponentHTTP),
		maxUploadBytes: cfg.MaxUploadBytes,
		started:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}
	// an empty key signs with a per-process random key
	key := cfg.SessionKey
	if len(key) == 0 {
		key = securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, errors.New("generate session key")
		}
	}
	s.cookies = newCookieStore(key, cfg.CookieSecure)

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s.templates = t

	if cfg.RequestsPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RequestsPerMinute})
	}

	router, err := s.routes()
	if err != nil {
		s.stopBackground()
		return nil, err
	}
	s.Server = &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}
	return s, nil
}

func (s *Server) routes() (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(log.Middleware(s.logger))
	r.Use(trace.NewMiddleware(s.detector.ExtractClientIP).Middleware)
	r.Use(log.RequestIDMiddleware(trace.GetRequestID))
	r.Use(s.detector.Middleware(s.logger))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited))
	}

	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}
	r.With(security.StaticAssetMiddleware(3600)).
		Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(security.NoStore)

		r.Get("/", s.handleIndex)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/upload", s.handleUpload)
		r.Post("/history/{id}/view", s.handleView)
		r.Get("/report", s.handleActiveReport)
		r.Get("/report/{id}", s.handleReport)
		r.Get("/ui/chart", s.handleChart)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("Page not found").Write(w)
	})
	return r, nil
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request, retry time.Duration) {
	metrics.RateLimited.Inc()
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path,
		"retry_after", retry.Round(time.Second))
	TooManyRequestsError("Too many requests, try again shortly", retry).Write(w)
}

func (s *Server) stopBackground() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Shutdown stops accepting requests and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.stopBackground()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
