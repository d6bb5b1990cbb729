package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjboer/GoGNSS/internal/logging"
)

// WebServer exposes telemetry history, live updates and metrics over HTTP.
type WebServer struct {
	srv *http.Server
	hub *Hub
	log logging.Logger
}

// NewWebServer builds the HTTP server. gatherer may be nil to omit /metrics.
func NewWebServer(addr string, hub *Hub, gatherer prometheus.Gatherer) *WebServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/live", hub.handleLive)
	mux.HandleFunc("/api/ws", hub.handleWS)
	mux.HandleFunc("/api/channels", hub.handleChannels)
	mux.HandleFunc("/api/spectrum", hub.handleSpectrumSnapshot)
	mux.HandleFunc("/api/health", hub.handleHealth)
	mux.HandleFunc("/api/config", hub.handleGetConfig)
	mux.HandleFunc("/api/config/update", hub.handleSetConfig)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &WebServer{
		hub: hub,
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: hub.log,
	}
}

// Handler returns the server's request router.
func (w *WebServer) Handler() http.Handler { return w.srv.Handler }

// Start listens on the configured address and shuts down when ctx is
// canceled.
func (w *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return err
	}
	return w.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (w *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.log.Warn("web telemetry shutdown", logging.Err(err))
		}
	}()

	w.log.Info("web telemetry listening", logging.F("addr", ln.Addr().String()))
	if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
