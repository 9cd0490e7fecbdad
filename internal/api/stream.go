package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/tribute-arena/internal/engine"
)

const (
	writeWait   = 10 * time.Second
	maxInterval = 10 * time.Second
)

// streamMessage is every frame sent over a live arena socket.
type streamMessage struct {
	Type  string        `json:"type"` // "start", "phase", "result" or "error"
	Data  any           `json:"data,omitempty"`
	Error string        `json:"error,omitempty"`
	Frame *engine.Frame `json:"frame,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := allowedOrigins(s.CORSOrigins)
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

// handleStream plays a fresh arena over a websocket, one message per phase.
//
//	GET /api/v1/arena/stream?tributes=Ash,Briar,Cato&seed=7&interval=500ms
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := arenaRequest{Tributes: strings.Split(q.Get("tributes"), ",")}
	if v := q.Get("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid seed", http.StatusBadRequest)
			return
		}
		req.Seed = &seed
	}
	interval := s.Interval
	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			http.Error(w, "invalid interval", http.StatusBadRequest)
			return
		}
		interval = min(d, maxInterval)
	}

	a, seed, cfg, err := s.newArena(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if atomic.AddInt32(&s.streams, 1) > maxStreams {
		atomic.AddInt32(&s.streams, -1)
		http.Error(w, "too many live arenas, try again later", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.streams, -1)

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The client never sends anything useful; reading only notices the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("stream client error", "arena", a.ID(), "error", err)
				}
				return
			}
		}
	}()

	send := func(m streamMessage) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m)
	}

	if err := send(streamMessage{Type: "start", Data: map[string]any{
		"id":       a.ID(),
		"seed":     seed,
		"config":   cfg,
		"tributes": a.Tributes(),
	}}); err != nil {
		return
	}

	player := engine.NewPlayer(func(f engine.Frame) error {
		return send(streamMessage{Type: "phase", Frame: &f})
	})
	player.Interval = interval

	if err := player.Play(ctx, a); err != nil {
		if ctx.Err() == nil {
			slog.Warn("stream stopped", "arena", a.ID(), "error", err)
			send(streamMessage{Type: "error", Error: err.Error()})
		}
		return
	}

	res := a.Result()
	send(streamMessage{Type: "result", Data: arenaResponse{
		Seed:     seed,
		Config:   cfg,
		Archived: s.archive(res, seed, cfg),
		Result:   res,
	}})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "finished"))
}
