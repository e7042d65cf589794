// Package api serves the read-only status endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Reporting windows, matching the three columns of the console hashrate
// report: short, one minute, fifteen minutes.
const (
	windowShortMs  = 2_500
	windowMediumMs = 60_000
	windowLongMs   = 900_000
)

// StatsSource is the live mining session the API reads from.
type StatsSource interface {
	ThreadCount() int
	ThreadRate(thread int, windowMs uint64) (float64, bool)
	Hashrate(windowMs uint64) (float64, bool)
}

// ThreadStats is one thread's rates. Nil means not enough history yet.
type ThreadStats struct {
	Short  *float64 `json:"hashrate_2500ms"`
	Medium *float64 `json:"hashrate_60s"`
	Long   *float64 `json:"hashrate_15m"`
}

// StatsResponse is the GET /api/stats body.
type StatsResponse struct {
	Threads []ThreadStats `json:"threads"`
	Total   ThreadStats   `json:"total"`
	Uptime  int64         `json:"uptime_seconds"`
}

// Server exposes session statistics over HTTP.
type Server struct {
	logger  *zap.Logger
	source  StatsSource
	server  *http.Server
	started time.Time
}

// NewServer builds the API server for the given session.
func NewServer(source StatsSource, logger *zap.Logger) *Server {
	return &Server{
		logger:  logger,
		source:  source,
		started: time.Now(),
	}
}

// Router returns the route table, usable without the built-in listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Start serves the API on addr.
func (s *Server) Start(addr string) {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("Status API starting", zap.String("addr", addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status API failed", zap.Error(err))
		}
	}()
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	if s.server == nil {
		return
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("Status API shutdown", zap.Error(err))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		Uptime: int64(time.Since(s.started).Seconds()),
		Total:  s.rates(func(win uint64) (float64, bool) { return s.source.Hashrate(win) }),
	}
	for i := 0; i < s.source.ThreadCount(); i++ {
		thread := i
		resp.Threads = append(resp.Threads, s.rates(func(win uint64) (float64, bool) {
			return s.source.ThreadRate(thread, win)
		}))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Stats encode failed", zap.Error(err))
	}
}

func (s *Server) rates(read func(windowMs uint64) (float64, bool)) ThreadStats {
	var st ThreadStats
	if v, ok := read(windowShortMs); ok {
		st.Short = &v
	}
	if v, ok := read(windowMediumMs); ok {
		st.Medium = &v
	}
	if v, ok := read(windowLongMs); ok {
		st.Long = &v
	}
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
