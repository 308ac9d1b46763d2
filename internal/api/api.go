// Package api serves the telemetry backend: assets, latest values, icon
// mappings and historical reports, behind a bearer-token check.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sweeney/twin-monitor/internal/metrics"
	"github.com/sweeney/twin-monitor/internal/series"
	"github.com/sweeney/twin-monitor/internal/store"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// Store is the persistence the API reads from.
type Store interface {
	Assets(ctx context.Context) ([]telemetry.Asset, error)
	Asset(ctx context.Context, id int) (telemetry.Asset, error)
	AssetByKey(ctx context.Context, key string) (telemetry.Asset, error)
	Mappings(ctx context.Context, assetID int) ([]telemetry.Mapping, error)
	Series(ctx context.Context, assetID int, q store.Query) (map[string][]series.Point, error)
}

// Latest serves the newest cached payload per asset.
type Latest interface {
	Latest(assetID int) telemetry.Payload
}

// Server is the telemetry API HTTP server.
type Server struct {
	httpServer *http.Server
	store      Store
	latest     Latest
	tokens     [][]byte
}

// New creates a Server. Requests under /api must carry one of tokens as a
// bearer credential; with no tokens every /api request is rejected.
func New(addr string, st Store, latest Latest, tokens []string) *Server {
	s := &Server{store: st, latest: latest}
	for _, t := range tokens {
		if t != "" {
			s.tokens = append(s.tokens, []byte(t))
		}
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/assets", s.handleAssets)
		r.Get("/assets/{id}", s.handleAsset)
		r.Get("/assets/{id}/latest", s.handleLatest)
		r.Get("/assets/{id}/icon-mappings", s.handleMappings)
		r.Get("/reports/{key}", s.handleReport)
	})
	return r
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !s.validToken(tok) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="twin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validToken(tok string) bool {
	if tok == "" {
		return false
	}
	got := []byte(tok)
	valid := false
	for _, want := range s.tokens {
		if subtle.ConstantTimeCompare(got, want) == 1 {
			valid = true
		}
	}
	return valid
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.Assets(r.Context())
	if err != nil {
		s.internalError(w, "list assets", err)
		return
	}
	if assets == nil {
		assets = []telemetry.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	a, err := s.store.Asset(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	if err != nil {
		s.internalError(w, "get asset", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.latest.Latest(id))
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	ms, err := s.store.Mappings(r.Context(), id)
	if err != nil {
		s.internalError(w, "list mappings", err)
		return
	}
	if ms == nil {
		ms = []telemetry.Mapping{}
	}
	writeJSON(w, http.StatusOK, ms)
}

// handleReport writes {metric: [[iso, value], ...]} for one asset key.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	a, err := s.store.AssetByKey(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	if err != nil {
		s.internalError(w, "get asset", err)
		return
	}

	q := store.Query{Metric: r.URL.Query().Get("metric")}
	if q.Start, err = parseTime(r.URL.Query().Get("start")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	if q.End, err = parseTime(r.URL.Query().Get("end")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}

	data, err := s.store.Series(r.Context(), a.ID, q)
	if err != nil {
		s.internalError(w, "query series", err)
		return
	}

	out := make(map[string][][2]any, len(data))
	for metric, pts := range data {
		rows := make([][2]any, len(pts))
		for i, p := range pts {
			rows[i] = [2]any{p.Time.Format(time.RFC3339Nano), p.Value}
		}
		out[metric] = rows
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("api: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func assetID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return 0, false
	}
	return id, true
}

// parseTime accepts RFC 3339 or a bare date; empty means unbounded.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
