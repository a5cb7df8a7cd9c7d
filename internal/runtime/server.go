package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/szaher/designs/listingmock/internal/artifact"
	"github.com/szaher/designs/listingmock/internal/auth"
	"github.com/szaher/designs/listingmock/internal/fixtures"
	"github.com/szaher/designs/listingmock/internal/rules"
	"github.com/szaher/designs/listingmock/internal/session"
	"github.com/szaher/designs/listingmock/internal/telemetry"
)

// Version is reported by the health endpoint and the version command.
var Version = "0.1.0"

// Routes that bypass the bearer check.
var publicPaths = []string{"/auth/login", "/healthz", "/metrics"}

// Server is the HTTP server for the listing workflow.
type Server struct {
	config      *Config
	mux         *http.ServeMux
	server      *http.Server
	logger      *slog.Logger
	store       artifact.Store
	fixtures    *fixtures.Holder
	tracker     *session.Tracker
	rules       []*rules.Rule
	limiter     *auth.RateLimiter
	metrics     *telemetry.Metrics
	corsOrigins []string
	startTime   time.Time
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithTracker enables step ordering. Without it any step may be called at
// any time.
func WithTracker(t *session.Tracker) ServerOption {
	return func(s *Server) { s.tracker = t }
}

// WithItemRules sets the rules every published item must satisfy.
func WithItemRules(r []*rules.Rule) ServerOption {
	return func(s *Server) { s.rules = r }
}

// WithUploadLimiter rate limits the upload endpoints per client.
func WithUploadLimiter(l *auth.RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = l }
}

// WithCORSOrigins restricts the origins allowed by CORS.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer creates the workflow HTTP server.
func NewServer(config *Config, store artifact.Store, fx *fixtures.Holder, opts ...ServerOption) *Server {
	s := &Server{
		config:    config,
		store:     store,
		fixtures:  fx,
		logger:    slog.Default(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewMetrics()
	}

	mux := http.NewServeMux()
	s.handle(mux, "POST /auth/login", "login", s.handleLogin)
	s.handle(mux, "POST /product/{marketplace}/recognize", "recognize", s.limitUploads(s.handleRecognize))
	s.handle(mux, "POST /product/{marketplace}/aspects", "aspects", s.handleAspects)
	s.handle(mux, "POST /product/{marketplace}/publish", "publish", s.limitUploads(s.handlePublish))
	s.handle(mux, "GET /settings/{marketplace}", "settings", s.handleSettings)
	s.handle(mux, "GET /healthz", "healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.routed("metrics", s.metrics.Handler()))
	mux.Handle("/", s.routed("not_found", http.HandlerFunc(handleNotFound)))

	s.mux = mux
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc) {
	mux.Handle(pattern, s.routed(route, h))
}

func (s *Server) routed(route string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setRoute(r.Context(), route)
		h.ServeHTTP(w, r)
	})
}

func (s *Server) limitUploads(h http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return h
	}
	mw := s.limiter.Middleware(auth.ClientIPKeyFunc, func(*http.Request) {
		s.metrics.RecordRejection("rate_limited")
	})
	return mw(h).ServeHTTP
}

// Handler returns the HTTP handler for use with httptest or custom servers.
func (s *Server) Handler() http.Handler {
	authn := auth.Middleware(publicPaths, func(*http.Request) {
		s.metrics.RecordRejection("unauthorized")
	})
	return s.observe(s.cors(authn(s.mux)))
}

// Serve accepts connections on ln until Shutdown. After Shutdown it
// closes ln and returns nil straight away.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listing mock listening",
		"addr", ln.Addr().String(),
		"backend", s.store.Backend(),
		"strict_order", s.tracker != nil)
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", telemetry.RequestID(r.Context()),
			"path", r.URL.Path,
			"error", err)
	} else {
		s.metrics.RecordRejection(code)
	}
	writeError(w, status, code, message)
}

// step runs fn as one workflow action, under the tracker when step ordering
// is enabled.
func (s *Server) step(r *http.Request, action session.Action, fn func() error) error {
	if s.tracker == nil {
		return fn()
	}
	token := auth.TokenFromContext(r.Context())
	return s.tracker.Do(r.Context(), token, r.PathValue("marketplace"), action, fn)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, formOverhead)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, fmt.Errorf("%w: invalid login body", ErrMalformedPayload))
		return
	}

	cred, err := auth.Login(req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanupForm(r)

	var result fixtures.Recognition
	err := s.step(r, session.ActionRecognize, func() error {
		files := formFiles(r, "image")
		if len(files) == 0 {
			return fmt.Errorf("%w: field \"image\" is required", ErrMissingUpload)
		}
		if err := s.checkLimits(r); err != nil {
			return err
		}
		if _, err := s.persist(r.Context(), files[:1]); err != nil {
			return err
		}
		result = s.fixtures.Get().Recognition
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAspects(w http.ResponseWriter, r *http.Request) {
	marketplace := r.PathValue("marketplace")

	var schema fixtures.AspectSchema
	err := s.step(r, session.ActionAspects, func() error {
		schema = s.fixtures.Get().AspectsFor(marketplace)
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanupForm(r)

	err := s.step(r, session.ActionPublish, func() error {
		item, err := decodeItem(r.PostFormValue("item"), r.PostForm.Has("item"))
		if err != nil {
			return err
		}
		if err := rules.Check(s.rules, item); err != nil {
			return err
		}
		if err := s.checkLimits(r); err != nil {
			return err
		}
		stored, err := s.persist(r.Context(), formFiles(r, "images"))
		if err != nil {
			return err
		}
		s.logger.Debug("item published",
			"request_id", telemetry.RequestID(r.Context()),
			"marketplace", r.PathValue("marketplace"),
			"images", len(stored))
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func decodeItem(raw string, present bool) (any, error) {
	if !present {
		return nil, fmt.Errorf("%w: field \"item\" is required", ErrMalformedPayload)
	}
	var item any
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("%w: item is not valid JSON: %v", ErrMalformedPayload, err)
	}
	return item, nil
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"settings": s.fixtures.Get().Settings,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"uptime":          time.Since(s.startTime).String(),
		"version":         Version,
		"backend":         s.store.Backend(),
		"artifacts":       s.store.Count(),
		"strict_order":    s.tracker != nil,
		"fixture_reloads": s.fixtures.Reloads(),
	})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}
