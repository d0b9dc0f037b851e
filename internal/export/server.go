package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/drmtop/internal/config"
	"github.com/skobkin/drmtop/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// Server exposes the latest cycle over HTTP: JSON device state, a
// websocket stream of per-cycle snapshots, and optionally Prometheus
// metrics.
type Server struct {
	cfg        config.ExportConfig
	logger     *slog.Logger
	httpServer *http.Server
	hub        *Hub

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
}

// NewServer assembles a Server with its handlers.
func NewServer(cfg config.ExportConfig, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "export"),
		hub:    hub,
	}

	if cfg.MaxClients > 0 {
		s.maxWSClients = int64(cfg.MaxClients)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.logged("healthz", s.handleHealthz))
	mux.HandleFunc("/version", s.logged("version", s.handleVersion))
	mux.HandleFunc("/api/devices", s.logged("devices", s.handleDevices))
	// Not wrapped: the handshake hijacks the connection, and the
	// handler logs its own lifecycle.
	mux.HandleFunc("/ws", s.handleWS)

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the response status for completion logging.
// The JSON endpoints need nothing more from the response path.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logged(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		h(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request complete",
			"handler", name,
			"method", r.Method,
			"remote_addr", r.RemoteAddr,
			"status", status,
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(version.Current()); err != nil {
		s.logger.Error("failed to encode version response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshots := s.hub.Latest()
	if snapshots == nil {
		http.Error(w, "no cycle completed yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshots); err != nil {
		s.logger.Error("failed to encode device list", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// handleWS streams one JSON message per completed refresh cycle. The
// stream is one-way; client frames are read only to detect closure.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.logger.With("remote_addr", r.RemoteAddr)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	connID := s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)
	logger.Info("websocket connected")
	defer logger.Info("websocket closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Discard inbound frames until the client closes or errors.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	updates, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	for {
		select {
		case snapshots, ok := <-updates:
			if !ok {
				return
			}
			if err := s.writeSnapshots(ctx, conn, snapshots); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					logger.Warn("websocket write failed", "err", err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeSnapshots(ctx context.Context, conn *websocket.Conn, snapshots []DeviceSnapshot) error {
	data, err := json.Marshal(snapshots)
	if err != nil {
		return err
	}

	writeCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.WriteTimeout > 0 {
		writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
	}
	if cancel != nil {
		defer cancel()
	}
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// reserveWS admits one client optimistically and backs the count out
// again when the cap is exceeded.
func (s *Server) reserveWS() bool {
	if s.maxWSClients > 0 && s.wsActive.Add(1) > s.maxWSClients {
		s.wsActive.Add(-1)
		s.wsRejected.Add(1)
		return false
	}
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
	}
	return true
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "drmtop",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "drmtop",
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "drmtop",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		newDeviceMetricsCollector(s.hub),
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// originPatterns maps the configured origin list to accept options; a
// wildcard anywhere in the list disables the origin check entirely.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			return nil
		}
		patterns = append(patterns, origin)
	}
	return patterns
}
