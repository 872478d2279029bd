package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusProvider supplies the live snapshot rendered at /status.
type StatusProvider interface {
	Status() Status
}

// Status is the operational snapshot exposed over HTTP.
type Status struct {
	Running       bool              `json:"running"`
	Cycle         int64             `json:"cycle"`
	Universe      []string          `json:"universe"`
	OpenPositions []PositionStatus  `json:"open_positions"`
	Balance       float64           `json:"balance"`
	Equity        float64           `json:"equity"`
	DailyPnL      float64           `json:"daily_pnl"`
	TradesToday   int               `json:"trades_today"`
	Breaker       string            `json:"breaker"`
	States        map[string]string `json:"states"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// PositionStatus is one open position in the status payload.
type PositionStatus struct {
	Instrument string    `json:"instrument"`
	Strategy   string    `json:"strategy"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	TP         float64   `json:"tp"`
	SL         float64   `json:"sl"`
	EntryTime  time.Time `json:"entry_time"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig binds to localhost only.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the read-only operational HTTP surface: health, status and
// Prometheus metrics. It is never a control plane.
type Server struct {
	server   *http.Server
	provider StatusProvider
	log      zerolog.Logger
}

// NewServer wires the routes and returns an unstarted server.
func NewServer(cfg ServerConfig, provider StatusProvider, log zerolog.Logger) *Server {
	s := &Server{provider: provider, log: log}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, s.provider.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
