// Package api provides the operator HTTP API.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/evo-world/internal/engine"
	"github.com/talgya/evo-world/internal/llm"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/world"
)

// History serves past turns. Implemented by persistence.DB.
type History interface {
	Report(ctx context.Context, turn int) (*engine.TurnReport, error)
	RecentEvents(ctx context.Context, code species.Code, limit int) ([]engine.Event, error)
}

// Server serves the world state over HTTP.
type Server struct {
	Orch     *engine.Orchestrator
	Runner   *engine.Runner
	DB       History // Optional
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Admin limiter; nil disables limiting.
	Limiter *RateLimiter

	srv *http.Server
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/report", s.handleReport)
	mux.HandleFunc("GET /api/v1/report/{turn}", s.handleReportAt)
	mux.HandleFunc("GET /api/v1/species", s.handleSpecies)
	mux.HandleFunc("GET /api/v1/species/{code}", s.handleSpeciesDetail)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/map", s.handleMap)

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/watchlist", s.adminOnly(s.handleWatchlist))
	mux.HandleFunc("POST /api/v1/pressure", s.adminOnly(s.handlePressure))
	mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/cancel", s.adminOnly(s.handleCancel))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth and apply the
// admin rate limit.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	guarded := func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no EVOSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
	if s.Limiter == nil {
		return guarded
	}
	return RateLimitMiddleware(s.Limiter, guarded)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Orch.State()
	status := map[string]any{
		"name":      "evo-world",
		"run_id":    s.Orch.RunID(),
		"seed":      st.Seed,
		"turn":      st.Turn,
		"species":   st.Species.Len(),
		"living":    st.Species.LivingCount(),
		"genera":    len(st.Genera),
		"tiles":     st.World.TileCount(),
		"watchlist": st.Watchlist,
	}
	if s.Runner != nil {
		status["runner"] = s.Runner.Status()
	}
	if last := s.Orch.LastReport(); last != nil {
		status["era"] = last.Era
		status["stats"] = last.Stats
		status["tiers"] = last.Tiers
	}
	writeJSON(w, status)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.Orch.LastReport()
	if report == nil {
		http.Error(w, "no turn has completed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleReportAt(w http.ResponseWriter, r *http.Request) {
	turn, err := strconv.Atoi(r.PathValue("turn"))
	if err != nil || turn < 1 {
		http.Error(w, "invalid turn", http.StatusBadRequest)
		return
	}
	if last := s.Orch.LastReport(); last != nil && last.Turn == turn {
		writeJSON(w, last)
		return
	}
	if s.DB == nil {
		http.Error(w, "history not available", http.StatusServiceUnavailable)
		return
	}
	report, err := s.DB.Report(r.Context(), turn)
	if err != nil {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}
	writeJSON(w, report)
}

type speciesEntry struct {
	Code         species.Code `json:"code"`
	Name         string       `json:"name"`
	Status       string       `json:"status"`
	Tier         string       `json:"tier"`
	TrophicLevel float64      `json:"trophic_level"`
	Population   int64        `json:"population"`
	Tiles        int          `json:"tiles"`
	Parent       species.Code `json:"parent,omitempty"`
	Subspecies   bool         `json:"subspecies,omitempty"`
	Watchlisted  bool         `json:"watchlisted,omitempty"`
}

// handleSpecies lists living species by population, largest first.
// ?all=true includes extinct and split lineages.
func (s *Server) handleSpecies(w http.ResponseWriter, r *http.Request) {
	st := s.Orch.State()
	list := st.Species.Living()
	if r.URL.Query().Get("all") == "true" {
		list = st.Species.All()
	}
	out := make([]speciesEntry, 0, len(list))
	for _, sp := range list {
		out = append(out, speciesEntry{
			Code:         sp.Code,
			Name:         sp.Name,
			Status:       sp.Status.String(),
			Tier:         sp.Tier.String(),
			TrophicLevel: sp.TrophicLevel,
			Population:   sp.Population,
			Tiles:        len(sp.Distribution),
			Parent:       sp.ParentCode,
			Subspecies:   sp.Subspecies,
			Watchlisted:  sp.Watchlisted,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Population != out[j].Population {
			return out[i].Population > out[j].Population
		}
		return out[i].Code < out[j].Code
	})
	writeJSON(w, out)
}

func (s *Server) handleSpeciesDetail(w http.ResponseWriter, r *http.Request) {
	code := species.Code(r.PathValue("code"))
	sp, ok := s.Orch.Species(code)
	if !ok {
		http.Error(w, "species not found", http.StatusNotFound)
		return
	}
	resp := map[string]any{
		"species": sp,
		"traits":  llm.TraitMap(sp.Traits),
	}
	if s.DB != nil {
		events, err := s.DB.RecentEvents(r.Context(), code, 20)
		if err != nil {
			slog.Warn("species events lookup failed", "code", code, "error", err)
		} else {
			resp["events"] = events
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be 1-500", http.StatusBadRequest)
			return
		}
		limit = n
	}
	code := species.Code(r.URL.Query().Get("code"))

	if s.DB == nil {
		// Without history, only the last turn's events are available.
		var events []engine.Event
		if last := s.Orch.LastReport(); last != nil {
			for i := len(last.Events) - 1; i >= 0 && len(events) < limit; i-- {
				if e := last.Events[i]; code == "" || e.Code == code || e.Related == code {
					events = append(events, e)
				}
			}
		}
		writeJSON(w, events)
		return
	}
	events, err := s.DB.RecentEvents(r.Context(), code, limit)
	if err != nil {
		slog.Error("events query failed", "error", err)
		http.Error(w, "events query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

// handleMap returns every tile for map renderers.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	type tileEntry struct {
		Q           int     `json:"q"`
		R           int     `json:"r"`
		Terrain     string  `json:"terrain"`
		Temperature float64 `json:"temperature"`
		Humidity    float64 `json:"humidity"`
		Elevation   float64 `json:"elevation"`
		Resource    float64 `json:"resource"`
	}
	m := s.Orch.State().World
	tiles := make([]tileEntry, len(m.Tiles))
	for i, t := range m.Tiles {
		tiles[i] = tileEntry{
			Q:           t.Coord.Q,
			R:           t.Coord.R,
			Terrain:     world.TerrainName(t.Terrain),
			Temperature: t.Temperature,
			Humidity:    t.Humidity,
			Elevation:   t.Elevation,
			Resource:    t.Resource,
		}
	}
	writeJSON(w, map[string]any{"radius": m.Radius, "tiles": tiles})
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Codes []species.Code `json:"codes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Codes == nil {
		req.Codes = []species.Code{}
	}
	if limit := s.Orch.Config().Tiering.WatchlistMax; len(req.Codes) > limit {
		http.Error(w, fmt.Sprintf("watchlist holds at most %d species", limit), http.StatusBadRequest)
		return
	}
	for _, c := range req.Codes {
		if sp, ok := s.Orch.Species(c); !ok || !sp.Alive() {
			http.Error(w, fmt.Sprintf("no living species %q", c), http.StatusBadRequest)
			return
		}
	}
	if err := s.Runner.Submit(engine.Directives{Watchlist: req.Codes}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("watchlist queued", "codes", req.Codes)
	writeJSON(w, map[string]any{"queued": true, "codes": req.Codes})
}

func (s *Server) handlePressure(w http.ResponseWriter, r *http.Request) {
	var p engine.PressureDirective
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.Runner.Submit(engine.Directives{Pressures: []engine.PressureDirective{p}}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"queued": true, "directive": p})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed < 0 || req.Speed > 100 {
		http.Error(w, "speed must be 0-100", http.StatusBadRequest)
		return
	}
	s.Runner.SetSpeed(req.Speed)
	writeJSON(w, map[string]float64{"speed": req.Speed})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.Runner.CancelTurn()
	if cancelled {
		slog.Warn("in-flight turn cancelled by operator", "turn", s.Orch.Turn()+1)
	}
	writeJSON(w, map[string]any{"cancelled": cancelled, "turn": s.Orch.Turn()})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
