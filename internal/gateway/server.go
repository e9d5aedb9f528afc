// Package gateway exposes the runtime over HTTP: the chat endpoint (plain
// JSON or SSE streaming) and a websocket feed mirroring bus events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hearthstack/hearth/internal/agent"
	"github.com/hearthstack/hearth/internal/bus"
	"github.com/hearthstack/hearth/internal/config"
	"github.com/hearthstack/hearth/pkg/protocol"
)

// Server is the HTTP/WS gateway.
type Server struct {
	cfg      *config.Config
	orch     *agent.Orchestrator
	events   *bus.Bus
	upgrader websocket.Upgrader

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	httpServer *http.Server
}

// NewServer creates a gateway server.
func NewServer(cfg *config.Config, orch *agent.Orchestrator, events *bus.Bus) *Server {
	s := &Server{
		cfg:      cfg,
		orch:     orch,
		events:   events,
		limiters: make(map[string]*rate.Limiter),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates WS origins against the allowlist. No configured
// origins means allow all (local single-owner deployment); an empty Origin
// header (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: origin rejected", "origin", origin)
	return false
}

// Mux builds the route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Gateway.Host, fmt.Sprintf("%d", s.cfg.Gateway.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// limiter returns the per-client limiter; nil when rate limiting is off.
func (s *Server) limiter(clientKey string) *rate.Limiter {
	rpm := s.cfg.Gateway.RateLimitRPM
	if rpm <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[clientKey]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5)
		s.limiters[clientKey] = l
	}
	return l
}

type chatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Stream  bool   `json:"stream,omitempty"`
}

type chatResponse struct {
	Content string `json:"content"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" || req.UserID == "" {
		http.Error(w, "message and userId are required", http.StatusBadRequest)
		return
	}

	if l := s.limiter(req.UserID); l != nil && !l.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if req.Stream {
		s.streamChat(w, r, req)
		return
	}

	content, err := s.orch.AgentLoop(r.Context(), req.Message, req.UserID, nil)
	if err != nil {
		slog.Error("chat turn failed", "user", req.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatResponse{Content: content})
}

// streamChat replays loop events as SSE frames, ending with a done frame.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req chatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var mu sync.Mutex
	writeFrame := func(f protocol.ChatFrame) {
		mu.Lock()
		defer mu.Unlock()
		data, err := json.Marshal(f)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	_, err := s.orch.AgentLoop(r.Context(), req.Message, req.UserID, func(ev agent.Event) {
		writeFrame(protocol.ChatFrame{
			Type:    ev.Type,
			Content: ev.Content,
			Tool:    ev.Tool,
			IsError: ev.IsError,
		})
	})
	if err != nil {
		writeFrame(protocol.ChatFrame{Type: protocol.FrameError, Content: err.Error()})
	}
	writeFrame(protocol.ChatFrame{Type: protocol.FrameDone})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "ts": time.Now().UnixMilli()})
}

// handleWebSocket upgrades and mirrors every bus event to the client until
// it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := make(chan bus.Event, 64)
	off := s.events.SubscribeAny(func(ev bus.Event) {
		select {
		case send <- ev:
		default: // slow client: drop rather than block the emitter
		}
	})
	defer off()

	// Reader goroutine: detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-send:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
