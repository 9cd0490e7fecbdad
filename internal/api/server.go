// Package api provides the HTTP API for running, archiving and watching arenas.
// Reads are public. Deleting archives and forcing LLM regeneration require the
// admin bearer token.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/tribute-arena/internal/catalog"
	"github.com/talgya/tribute-arena/internal/engine"
	"github.com/talgya/tribute-arena/internal/entropy"
	"github.com/talgya/tribute-arena/internal/llm"
	"github.com/talgya/tribute-arena/internal/persistence"
	"github.com/talgya/tribute-arena/internal/tributes"
	"github.com/talgya/tribute-arena/internal/wardrobe"
)

const (
	maxStreams    = 4
	maxTributes   = 48
	maxNameLength = 64
	defaultLimit  = 20
	maxLimit      = 100
)

// Server serves arenas over HTTP.
type Server struct {
	Events  *catalog.EventCatalog
	Items   *catalog.ItemCatalog
	Weights catalog.RarityWeights
	Arena   engine.Config // Defaults for new arenas.

	DB    *persistence.DB // nil disables the archive.
	LLM   *llm.Client
	Seeds *entropy.Client

	Port        int
	AdminKey    string        // Bearer token for admin actions. Empty = disabled.
	Interval    time.Duration // Default pace of streamed arenas.
	CORSOrigins []string

	// Active websocket streams (atomic).
	streams int32
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	// Rate limiters for CPU- and LLM-consuming endpoints.
	arenaLimiter := NewRateLimiter(120, time.Hour)
	recapLimiter := NewRateLimiter(10, time.Hour)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/items", s.handleItems)
	mux.HandleFunc("/api/v1/arenas", s.handleArenas)
	mux.HandleFunc("/api/v1/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/api/v1/wardrobe/draw", s.handleWardrobeDraw)

	mux.HandleFunc("/api/v1/arena", RateLimitMiddleware(arenaLimiter, s.handleRunArena))
	mux.HandleFunc("/api/v1/arena/stream", RateLimitMiddleware(arenaLimiter, s.handleStream))
	mux.HandleFunc("/api/v1/arena/", s.handleArenaRoutes(recapLimiter))

	return corsMiddleware(s.CORSOrigins, mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server can
// be shut down by the caller.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "archive", s.DB != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowed := allowedOrigins(origins)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigins(extra []string) map[string]bool {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	for _, o := range extra {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return allowed
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on mutating requests.
// GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no ARENA_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"name":            "Tribute Arena",
		"events":          s.Events.Len(),
		"events_by_phase": s.Events.PhaseCounts(),
		"items":           s.Items.Len(),
		"rarity_weights":  s.Weights,
		"defaults":        s.Arena,
		"max_tributes":    s.rosterLimit(s.Arena),
		"archive":         s.DB != nil,
		"llm_enabled":     s.LLM.Enabled(),
		"true_random":     s.Seeds.Enabled(),
		"live_streams":    atomic.LoadInt32(&s.streams),
	}
	if s.DB != nil {
		if stats, err := s.DB.Stats(); err == nil {
			status["stats"] = stats
		} else {
			slog.Error("archive stats failed", "error", err)
		}
	}
	writeJSON(w, status)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	phase := catalog.Phase(strings.ToLower(r.URL.Query().Get("phase")))
	if phase == "" {
		writeJSON(w, s.Events.All())
		return
	}
	if !phase.Valid() {
		http.Error(w, "unknown phase", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.Events.ForPhase(phase))
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("category")
	if name == "" {
		writeJSON(w, s.Items.All())
		return
	}
	c, err := catalog.ParseCategory(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.Items.InCategory(c))
}

// arenaRequest is the body of POST /api/v1/arena. Unset options fall back to
// the server defaults.
type arenaRequest struct {
	Tributes    []string `json:"tributes"`
	Seed        *int64   `json:"seed,omitempty"`
	MaxRounds   *int     `json:"max_rounds,omitempty"`
	FeastEvery  *int     `json:"feast_every,omitempty"`
	ExcludeUsed *bool    `json:"exclude_used,omitempty"`
	Lethality   *float64 `json:"lethality,omitempty"`
	Bloodbath   *bool    `json:"bloodbath,omitempty"`
}

func (req arenaRequest) config(base engine.Config) engine.Config {
	cfg := base
	if req.MaxRounds != nil {
		cfg.MaxRounds = *req.MaxRounds
	}
	if req.FeastEvery != nil {
		cfg.FeastEvery = *req.FeastEvery
	}
	if req.ExcludeUsed != nil {
		cfg.ExcludeUsed = *req.ExcludeUsed
	}
	if req.Lethality != nil {
		cfg.Lethality = *req.Lethality
	}
	if req.Bloodbath != nil {
		cfg.Bloodbath = *req.Bloodbath
	}
	return cfg
}

type arenaResponse struct {
	Seed     int64         `json:"seed"`
	Config   engine.Config `json:"config"`
	Archived bool          `json:"archived"`
	engine.Result
}

// rosterLimit is the largest roster accepted under cfg. Running out of rounds
// is a stalemate the caller asked for, so only running out of fatal events is
// refused.
func (s *Server) rosterLimit(cfg engine.Config) int {
	cfg.MaxRounds = math.MaxInt32
	return min(maxTributes, engine.MaxRoster(s.Events, cfg))
}

// newArena validates a request and builds the arena it describes.
func (s *Server) newArena(ctx context.Context, req arenaRequest) (*engine.Arena, int64, engine.Config, error) {
	var names []string
	for _, n := range req.Tributes {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if len(n) > maxNameLength {
			return nil, 0, engine.Config{}, fmt.Errorf("tribute name %.16q... is too long", n)
		}
		names = append(names, n)
	}
	if len(names) > maxTributes {
		return nil, 0, engine.Config{}, fmt.Errorf("at most %d tributes", maxTributes)
	}

	cfg := req.config(s.Arena)
	if cfg.MaxRounds > 500 {
		return nil, 0, engine.Config{}, errors.New("max_rounds is capped at 500")
	}
	if err := cfg.Validate(); err != nil {
		return nil, 0, engine.Config{}, err
	}
	if n := s.rosterLimit(cfg); len(names) > n {
		return nil, 0, engine.Config{}, fmt.Errorf("the event catalog can only settle %d tributes with these settings", n)
	}

	var seed int64
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = s.Seeds.Seed(ctx)
	}

	a, err := engine.NewArena(s.Events, tributes.Roster(names...), cfg, entropy.NewSource(seed))
	if err != nil {
		return nil, 0, engine.Config{}, err
	}
	return a, seed, cfg, nil
}

// archive stores a finished arena, reporting whether it was kept.
func (s *Server) archive(res engine.Result, seed int64, cfg engine.Config) bool {
	if s.DB == nil {
		return false
	}
	if err := s.DB.SaveArena(res, seed, cfg); err != nil {
		slog.Error("archive failed", "arena", res.ID, "error", err)
		return false
	}
	return true
}

func (s *Server) handleRunArena(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req arenaRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	a, seed, cfg, err := s.newArena(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := a.Run()
	if err != nil {
		slog.Error("arena aborted", "arena", a.ID(), "seed", seed, "error", err)
		http.Error(w, "arena aborted", http.StatusInternalServerError)
		return
	}
	slog.Info("arena run", "arena", res.ID, "seed", seed, "outcome", res.Outcome, "rounds", res.Rounds)

	writeJSON(w, arenaResponse{
		Seed:     seed,
		Config:   cfg,
		Archived: s.archive(res, seed, cfg),
		Result:   res,
	})
}

func (s *Server) handleArenas(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "archive disabled", http.StatusServiceUnavailable)
		return
	}
	list, err := s.DB.RecentArenas(queryLimit(r))
	if err != nil {
		slog.Error("list arenas failed", "error", err)
		http.Error(w, "archive error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []persistence.Summary{}
	}
	writeJSON(w, list)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "archive disabled", http.StatusServiceUnavailable)
		return
	}
	top, err := s.DB.TopKillers(queryLimit(r))
	if err != nil {
		slog.Error("leaderboard failed", "error", err)
		http.Error(w, "archive error", http.StatusInternalServerError)
		return
	}
	if top == nil {
		top = []persistence.Killer{}
	}
	writeJSON(w, top)
}

// handleArenaRoutes dispatches /api/v1/arena/:id and its sub-resources.
func (s *Server) handleArenaRoutes(recapLimiter *RateLimiter) http.HandlerFunc {
	recap := RateLimitMiddleware(recapLimiter, s.handleRecap)
	eulogy := RateLimitMiddleware(recapLimiter, s.handleEulogy)

	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 4 || parts[3] == "" {
			http.Error(w, "missing arena id", http.StatusBadRequest)
			return
		}
		if s.DB == nil {
			http.Error(w, "archive disabled", http.StatusServiceUnavailable)
			return
		}

		switch {
		case len(parts) == 4:
			s.adminOnly(s.handleArena)(w, r)
		case len(parts) == 5 && parts[4] == "recap":
			recap(w, r)
		case len(parts) == 5 && parts[4] == "replay":
			s.handleReplay(w, r)
		case len(parts) == 6 && parts[4] == "eulogy":
			eulogy(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}

// loadArena fetches the arena named in the path, writing the error response
// itself when it cannot.
func (s *Server) loadArena(w http.ResponseWriter, r *http.Request) (*persistence.Archive, bool) {
	id := strings.Split(strings.Trim(r.URL.Path, "/"), "/")[3]
	arc, err := s.DB.LoadArena(id)
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, "arena not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		slog.Error("load arena failed", "arena", id, "error", err)
		http.Error(w, "archive error", http.StatusInternalServerError)
		return nil, false
	}
	return arc, true
}

func (s *Server) handleArena(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		arc, ok := s.loadArena(w, r)
		if !ok {
			return
		}
		writeJSON(w, arc)

	case http.MethodDelete:
		id := strings.Split(strings.Trim(r.URL.Path, "/"), "/")[3]
		err := s.DB.DeleteArena(id)
		if errors.Is(err, persistence.ErrNotFound) {
			http.Error(w, "arena not found", http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("delete arena failed", "arena", id, "error", err)
			http.Error(w, "archive error", http.StatusInternalServerError)
			return
		}
		s.LLM.Forget(id)
		slog.Info("arena deleted", "arena", id)
		writeJSON(w, map[string]string{"deleted": id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleReplay reruns an archived arena from its seed and reports whether the
// narrative log comes out byte-identical under the current event catalog.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	arc, ok := s.loadArena(w, r)
	if !ok {
		return
	}

	a, err := engine.NewArena(s.Events, arc.Result.Tributes, arc.Config, entropy.NewSource(arc.Seed))
	if err != nil {
		http.Error(w, "archived arena cannot be replayed: "+err.Error(), http.StatusConflict)
		return
	}
	res, err := a.Run()
	if err != nil {
		http.Error(w, "replay aborted", http.StatusInternalServerError)
		return
	}

	want, _ := json.Marshal(arc.Result.Log)
	got, _ := json.Marshal(res.Log)
	writeJSON(w, map[string]any{
		"id":      arc.ID,
		"seed":    arc.Seed,
		"matches": bytes.Equal(want, got),
		"entries": len(res.Log),
		"outcome": res.Outcome,
	})
}

func (s *Server) handleRecap(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"

	// Refresh requires admin auth (LLM-consuming operation).
	if refresh && (s.AdminKey == "" || !s.checkBearerToken(r)) {
		http.Error(w, "refresh requires admin authorization", http.StatusUnauthorized)
		return
	}

	arc, ok := s.loadArena(w, r)
	if !ok {
		return
	}

	text, cached, err := s.LLM.Recap(r.Context(), arc.Result, refresh)
	if err != nil {
		writeLLMError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": arc.ID, "recap": text, "cached": cached})
}

func (s *Server) handleEulogy(w http.ResponseWriter, r *http.Request) {
	arc, ok := s.loadArena(w, r)
	if !ok {
		return
	}
	tid := tributes.ID(strings.Split(strings.Trim(r.URL.Path, "/"), "/")[5])

	text, cached, err := s.LLM.Eulogy(r.Context(), arc.Result, tid)
	if err != nil {
		writeLLMError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": arc.ID, "tribute": tid, "eulogy": text, "cached": cached})
}

func writeLLMError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, llm.ErrNotFallen):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, llm.ErrDisabled):
		http.Error(w, "recaps disabled (no ANTHROPIC_API_KEY set)", http.StatusServiceUnavailable)
	case errors.Is(err, llm.ErrRateLimited):
		http.Error(w, "recap budget exhausted, try again later", http.StatusTooManyRequests)
	default:
		slog.Error("LLM call failed", "error", err)
		http.Error(w, "recap generation failed", http.StatusBadGateway)
	}
}

type drawRequest struct {
	Category   string             `json:"category,omitempty"`
	Categories []string           `json:"categories,omitempty"`
	Tiered     bool               `json:"tiered,omitempty"`
	Seed       *int64             `json:"seed,omitempty"`
	Weights    map[string]float64 `json:"weights,omitempty"`
}

func (s *Server) handleWardrobeDraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req drawRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<14)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	weights := s.Weights
	if len(req.Weights) > 0 {
		var err error
		if weights, err = catalog.ParseRarityWeights(req.Weights); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	var seed int64
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = s.Seeds.Seed(r.Context())
	}
	src := entropy.NewSource(seed)

	if req.Category != "" {
		c, err := catalog.ParseCategory(req.Category)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		draw := wardrobe.Draw
		if req.Tiered {
			draw = wardrobe.DrawTiered
		}
		it, err := draw(s.Items, c, weights, src)
		if err != nil {
			writeDrawError(w, err)
			return
		}
		writeJSON(w, map[string]any{"seed": seed, "item": it})
		return
	}

	cats := make([]catalog.Category, 0, len(req.Categories))
	for _, name := range req.Categories {
		c, err := catalog.ParseCategory(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cats = append(cats, c)
	}
	outfit, err := wardrobe.DrawOutfit(s.Items, cats, weights, src)
	if err != nil {
		writeDrawError(w, err)
		return
	}
	writeJSON(w, map[string]any{"seed": seed, "outfit": outfit})
}

func writeDrawError(w http.ResponseWriter, err error) {
	if errors.Is(err, wardrobe.ErrEmptyCategory) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusUnprocessableEntity)
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
