// Package api exposes product offers, news and scheduler control over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/engine"
	"github.com/IshaanNene/hotline-scraper/internal/fetcher"
	"github.com/IshaanNene/hotline-scraper/internal/parser"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

// Request limits accepted by POST /products.
const (
	MinTimeoutLimit = 1
	MaxTimeoutLimit = 30
	MinCountLimit   = 1
	MaxCountLimit   = 100
)

// Scraper is the query side of the service.
type Scraper interface {
	GetProduct(ctx context.Context, q engine.ProductQuery) (*engine.ProductResult, error)
	GetNews(ctx context.Context, q engine.NewsQuery) (*engine.NewsResult, error)
}

// SchedulerController is the control side of the scheduler.
type SchedulerController interface {
	ForceRun(kind parser.Kind) (engine.RunResult, error)
	Status() engine.Status
}

// Server provides the REST API.
type Server struct {
	cfg       config.ServerConfig
	scraper   Scraper
	scheduler SchedulerController
	metrics   http.Handler
	logger    *slog.Logger

	keys       map[string]struct{}
	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex

	router     chi.Router
	httpServer *http.Server
}

// NewServer creates the API server. scheduler and metrics may be nil, in
// which case their routes report 503 and 404.
func NewServer(cfg *config.Config, scraper Scraper, scheduler SchedulerController, metrics http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg.Server,
		scraper:   scraper,
		scheduler: scheduler,
		logger:    logger.With("component", "api_server"),
		keys:      make(map[string]struct{}, len(cfg.Server.APIKeys)),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, k := range cfg.Server.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			s.keys[k] = struct{}{}
		}
	}
	if len(s.keys) == 0 {
		s.logger.Warn("no API keys configured, authentication disabled")
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics
	}

	s.router = s.routes(cfg.Metrics.Path)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes(metricsPath string) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Method(http.MethodGet, metricsPath, s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Post("/products", s.handleProducts)
		r.Post("/news", s.handleNews)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/parse/{kind}", s.handleForceRun)
			r.Get("/scheduler/status", s.handleSchedulerStatus)
		})
	})

	return r
}

// --- Middleware ---

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).Round(time.Millisecond),
				"request_id", middleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.keys) > 0 {
			if _, ok := s.keys[r.Header.Get("X-API-Key")]; !ok {
				s.errorResponse(w, http.StatusUnauthorized, "Invalid API Key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimit > 0 && !s.limiter(r.Header.Get("X-API-Key")).Allow() {
			w.Header().Set("Retry-After", "1")
			s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(key string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	l, ok := s.limiters[key]
	if !ok {
		burst := s.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
		s.limiters[key] = l
	}
	return l
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": config.Version,
	})
}

type productRequest struct {
	URL          string `json:"url"`
	TimeoutLimit *int   `json:"timeout_limit"`
	CountLimit   *int   `json:"count_limit"`
	PriceSort    string `json:"price_sort"`
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("url"); v != "" {
		req.URL = v
	}
	for name, dst := range map[string]**int{"timeout_limit": &req.TimeoutLimit, "count_limit": &req.CountLimit} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				s.writeError(w, validationErrorf("%s must be an integer", name))
				return
			}
			*dst = &n
		}
	}
	if v := q.Get("price_sort"); v != "" {
		req.PriceSort = v
	}

	query, err := req.validate()
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.scraper.GetProduct(r.Context(), query)
	if err != nil {
		s.logger.Error("product request failed", "url", req.URL, "error", err)
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (req productRequest) validate() (engine.ProductQuery, error) {
	var q engine.ProductQuery
	if req.URL == "" {
		return q, validationErrorf("url is required")
	}
	if err := config.ValidateURL(req.URL); err != nil {
		return q, validationErrorf("invalid url: %v", err)
	}
	q.URL = req.URL

	if req.TimeoutLimit != nil {
		n := *req.TimeoutLimit
		if n < MinTimeoutLimit || n > MaxTimeoutLimit {
			return q, validationErrorf("timeout_limit must be between %d and %d", MinTimeoutLimit, MaxTimeoutLimit)
		}
		q.Timeout = time.Duration(n) * time.Second
	}
	if req.CountLimit != nil {
		n := *req.CountLimit
		if n < MinCountLimit || n > MaxCountLimit {
			return q, validationErrorf("count_limit must be between %d and %d", MinCountLimit, MaxCountLimit)
		}
		q.CountLimit = n
	}
	switch strings.ToLower(req.PriceSort) {
	case "", "asc", "desc":
		q.PriceSort = strings.ToLower(req.PriceSort)
	default:
		return q, validationErrorf("price_sort must be asc or desc")
	}
	return q, nil
}

type newsRequest struct {
	URL       string `json:"url"`
	UntilDate string `json:"until_date"`
	Client    string `json:"client"`
}

type newsResponse struct {
	*engine.NewsResult
	Source string `json:"source"`
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	var req newsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("url"); v != "" {
		req.URL = v
	}
	if v := q.Get("until_date"); v != "" {
		req.UntilDate = v
	}
	if v := q.Get("client"); v != "" {
		req.Client = v
	}

	query, err := req.validate()
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.scraper.GetNews(r.Context(), query)
	if err != nil {
		s.logger.Error("news request failed", "url", req.URL, "error", err)
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, newsResponse{NewsResult: res, Source: req.URL})
}

func (req newsRequest) validate() (engine.NewsQuery, error) {
	var q engine.NewsQuery
	if req.URL == "" {
		return q, validationErrorf("url is required")
	}
	if err := config.ValidateURL(req.URL); err != nil {
		return q, validationErrorf("invalid url: %v", err)
	}
	q.URL = req.URL

	if req.UntilDate == "" {
		return q, validationErrorf("until_date is required")
	}
	until, err := ParseUntil(req.UntilDate)
	if err != nil {
		return q, validationErrorf("until_date: %v", err)
	}
	q.Until = until

	mode, err := fetcher.ParseMode(req.Client)
	if err != nil {
		return q, validationErrorf("client: %v", err)
	}
	q.Mode = mode
	return q, nil
}

// ParseUntil accepts RFC 3339 timestamps and YYYY-MM-DD dates. A bare date
// means midnight UTC of that day.
func ParseUntil(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw)
}

func (s *Server) handleForceRun(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	kind := parser.Kind(chi.URLParam(r, "kind"))

	res, err := s.scheduler.ForceRun(kind)
	if errors.Is(err, engine.ErrUnknownKind) {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown kind %q", kind))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res == engine.Rejected {
		s.errorResponse(w, http.StatusConflict, fmt.Sprintf("%s cycle already running", kind))
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": res.String(), "kind": string(kind)})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	s.jsonResponse(w, http.StatusOK, s.scheduler.Status())
}

// --- Errors and encoding ---

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// StatusFor maps a service error onto an HTTP status code.
func StatusFor(err error) int {
	var (
		ve *validationError
		te *types.TimeoutError
		pe *types.ParsingError
		fe *types.FetchError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &te), errors.Is(err, types.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.As(err, &pe):
		return http.StatusInternalServerError
	case errors.As(err, &fe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.errorResponse(w, StatusFor(err), err.Error())
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, msg string) {
	s.jsonResponse(w, status, map[string]string{"error": msg})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("JSON encode error", "error", err)
	}
}

// decodeBody reads an optional JSON body. Requests without one are accepted;
// their parameters come from the query string.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return validationErrorf("invalid JSON body: %v", err)
	}
	return nil
}
