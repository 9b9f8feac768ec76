package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opa-platform/quotes-data/internal/config"
	"github.com/opa-platform/quotes-data/internal/model"
	"github.com/opa-platform/quotes-data/internal/quotes"
	"github.com/opa-platform/quotes-data/internal/registry"
	"github.com/opa-platform/quotes-data/internal/version"
)

// QuoteService is the read service the REST handlers delegate to.
// *quotes.Service satisfies it.
type QuoteService interface {
	GetLatest(ctx context.Context, ticker string) (*model.Quote, error)
	GetHistory(ctx context.Context, ticker string, start, end time.Time, interval model.Interval) (*model.History, error)
	GetBatch(ctx context.Context, tickers []string) (*model.BatchResult, error)
	ListSymbols(ctx context.Context, limit, offset int) ([]string, error)
	CreateBatch(ctx context.Context, rows []model.QuoteCreate) (int, error)
}

// Pinger is a reachability probe for a backing component.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the REST and WebSocket endpoints.
type Server struct {
	svc      QuoteService
	registry *registry.Registry
	cache    Pinger
	origin   Pinger
	cfg      config.ServerConfig
	subsCfg  config.SubscribersConfig
	logger   *slog.Logger

	upgrader websocket.Upgrader
	http     *http.Server
}

// New creates a Server. cache and origin are optional health probes; nil
// skips the component in /health.
func New(svc QuoteService, reg *registry.Registry, cache, origin Pinger, cfg config.ServerConfig, subsCfg config.SubscribersConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:      svc,
		registry: reg,
		cache:    cache,
		origin:   origin,
		cfg:      cfg,
		subsCfg:  subsCfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Subscribers connect from arbitrary dashboards.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /quotes", s.handleListSymbols)
	mux.HandleFunc("GET /quotes/{ticker}/latest", s.handleLatest)
	mux.HandleFunc("POST /quotes/{ticker}/history", s.handleHistory)
	mux.HandleFunc("GET /quotes/batch", s.handleBatchGet)
	mux.HandleFunc("POST /quotes/batch", s.handleBatchPost)
	mux.HandleFunc("POST /quotes/batch/create", s.handleBatchCreate)
	mux.HandleFunc("GET /ws/quotes", s.handleWS)
	mux.HandleFunc("GET /ws", s.handleWS)

	return mux
}

// ListenAndServe runs the HTTP server until it fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains the HTTP server within cfg.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// -----------------------------------------------------------------------------
// REST handlers
// -----------------------------------------------------------------------------

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.GetLatest(r.Context(), r.PathValue("ticker"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

type historyRequest struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Interval string    `json:"interval"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	interval := model.Interval(req.Interval)
	if req.Interval == "" {
		interval = model.Interval1m
	}

	h, err := s.svc.GetHistory(r.Context(), r.PathValue("ticker"), req.Start, req.End, interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("tickers")
	var tickers []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tickers = append(tickers, t)
		}
	}
	s.serveBatch(w, r, tickers)
}

type batchRequest struct {
	Tickers []string `json:"tickers"`
}

func (s *Server) handleBatchPost(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.serveBatch(w, r, req.Tickers)
}

func (s *Server) serveBatch(w http.ResponseWriter, r *http.Request, tickers []string) {
	result, err := s.svc.GetBatch(r.Context(), tickers)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type batchCreateRequest struct {
	Quotes []model.QuoteCreate `json:"quotes"`
}

func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inserted, err := s.svc.CreateBatch(r.Context(), req.Quotes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int{"inserted": inserted})
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	tickers, err := s.svc.ListSymbols(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tickers == nil {
		tickers = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tickers": tickers,
		"count":   len(tickers),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Version    string         `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.Version,
		Components: make(map[string]any),
	}

	if s.origin != nil {
		if err := s.origin.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["timescaledb"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["timescaledb"] = "connected"
		}
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			// Reads still work via origin fallback.
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
			health.Components["redis"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["redis"] = "connected"
		}
	}

	if s.registry != nil {
		health.Components["subscribers"] = s.registry.Len()
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

// -----------------------------------------------------------------------------
// WebSocket handler
// -----------------------------------------------------------------------------

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.writeErrorStatus(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	filter := registry.ParseFilter(r.URL.Query().Get("tickers"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ws := newWSConn(conn, s.subsCfg, s.logger, nil)
	connID := s.registry.Register(ws, filter)
	ws.onClose = func() { s.registry.Unregister(connID) }

	ws.run()
}

// -----------------------------------------------------------------------------
// Response helpers
// -----------------------------------------------------------------------------

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quotes.ErrInvalidQuery):
		s.writeErrorStatus(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, quotes.ErrNotFound):
		s.writeErrorStatus(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quotes.ErrUnavailable):
		s.writeErrorStatus(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("unhandled request error", "error", err)
		s.writeErrorStatus(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
