// Package web serves the twin dashboard over HTTP: the status page and JSON,
// the charts page, the viewer websocket and the user controls.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/twin-monitor/internal/metrics"
	"github.com/sweeney/twin-monitor/internal/status"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// Controls are the user actions the dashboard accepts.
type Controls interface {
	Select(ctx context.Context, a telemetry.Asset)
	Pause()
	Resume()
	SetVisible(visible bool)
}

// AssetLister lists the selectable assets.
type AssetLister interface {
	Assets(ctx context.Context) ([]telemetry.Asset, error)
}

// Config wires a Server. Tracker is required; routes whose collaborator is
// nil are not served.
type Config struct {
	Tracker  *status.Tracker
	Controls Controls
	Assets   AssetLister
	Hub      *Hub
	Charts   *ChartBoard
}

// Server serves the dashboard over HTTP.
type Server struct {
	httpServer *http.Server
	cfg        Config
}

// New creates a Server listening on addr.
func New(addr string, cfg Config) *Server {
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.Handle("GET /metrics", metrics.Handler())
	if cfg.Assets != nil {
		mux.HandleFunc("GET /assets", s.handleAssets)
	}
	if cfg.Charts != nil {
		mux.HandleFunc("GET /charts", s.handleCharts)
	}
	if cfg.Hub != nil {
		mux.HandleFunc("GET /ws", cfg.Hub.ServeWS)
	}
	if cfg.Controls != nil {
		mux.HandleFunc("POST /select", s.handleSelect)
		mux.HandleFunc("POST /pause", s.handlePause)
		mux.HandleFunc("POST /resume", s.handleResume)
		mux.HandleFunc("POST /visibility", s.handleVisibility)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the request multiplexer. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := renderHTML(&buf, s.cfg.Tracker.Snapshot()); err != nil {
		log.Printf("web: render index: %v", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w)
}

func (s *Server) writeStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.cfg.Tracker.Snapshot()))
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.cfg.Assets.Assets(r.Context())
	if err != nil {
		log.Printf("web: list assets: %v", err)
		http.Error(w, "asset list unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(assets); err != nil {
		log.Printf("web: encode assets: %v", err)
	}
}

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	title := "Twin Monitor"
	if a := s.cfg.Tracker.Snapshot().Asset; a.Name != "" {
		title += ": " + a.Name
	}
	var buf bytes.Buffer
	if err := s.cfg.Charts.Render(&buf, title); err != nil {
		log.Printf("web: render charts: %v", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// handleSelect selects an asset by "key" or "id". With an asset lister the
// asset must be known to it.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	key := r.FormValue("key")
	var id int
	if v := r.FormValue("id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		id = n
	}
	if key == "" && id == 0 {
		http.Error(w, "key or id required", http.StatusBadRequest)
		return
	}

	a := telemetry.Asset{ID: id, Key: key}
	if s.cfg.Assets != nil {
		found, ok, err := s.lookup(r.Context(), key, id)
		if err != nil {
			log.Printf("web: list assets: %v", err)
			http.Error(w, "asset list unavailable", http.StatusBadGateway)
			return
		}
		if !ok {
			http.Error(w, "unknown asset", http.StatusNotFound)
			return
		}
		a = found
	}

	s.cfg.Controls.Select(r.Context(), a)
	s.writeStatus(w)
}

func (s *Server) lookup(ctx context.Context, key string, id int) (telemetry.Asset, bool, error) {
	assets, err := s.cfg.Assets.Assets(ctx)
	if err != nil {
		return telemetry.Asset{}, false, err
	}
	for _, a := range assets {
		if (key != "" && a.Key == key) || (id != 0 && a.ID == id) {
			return a, true, nil
		}
	}
	return telemetry.Asset{}, false, nil
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.cfg.Controls.Pause()
	s.writeStatus(w)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.cfg.Controls.Resume()
	s.writeStatus(w)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	visible, err := strconv.ParseBool(r.FormValue("visible"))
	if err != nil {
		http.Error(w, "visible must be true or false", http.StatusBadRequest)
		return
	}
	s.cfg.Controls.SetVisible(visible)
	s.writeStatus(w)
}
