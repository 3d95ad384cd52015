// Package web implements the HTTP surface spec.md §6 describes: a
// plain net/http.ServeMux dispatching to the router core, plus a
// supplemental websocket feed of router events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuteecarrot/agentrelay/internal/eventbus"
	"github.com/cuteecarrot/agentrelay/internal/router"
)

// Server is the HTTP front end over a Router.
type Server struct {
	router    *router.Router
	eventbus  *eventbus.Client
	hub       *Hub
	addr      string
	version   string
	startedAt time.Time
}

// NewServer builds a Server. busClient may be nil, in which case the
// websocket feed stays silent but HTTP routes still work.
func NewServer(rtr *router.Router, busClient *eventbus.Client, addr, version string) *Server {
	return &Server{
		router:    rtr,
		eventbus:  busClient,
		hub:       NewHub(),
		addr:      addr,
		version:   version,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is canceled, returning any
// non-graceful-shutdown error from ListenAndServe.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.subscribeEvents()

	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("GET /events/ws", s.handleWebSocket)

	server := &http.Server{Addr: s.addr, Handler: s.withMiddleware(mux)}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", s.addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// subscribeEvents forwards every message/ack/task event published to
// the internal bus onward to connected websocket clients.
func (s *Server) subscribeEvents() {
	if s.eventbus == nil {
		return
	}
	forward := func(eventType string) func(string, []byte) {
		return func(_ string, data []byte) {
			var payload any
			if err := json.Unmarshal(data, &payload); err != nil {
				slog.Warn("invalid event bus payload", "error", err, "type", eventType)
				return
			}
			s.hub.Broadcast(Event{Type: eventType, Payload: payload})
		}
	}
	if _, err := s.eventbus.Subscribe(eventbus.TopicMessageAll, forward("message")); err != nil {
		slog.Error("subscribe message events", "error", err)
	}
	if _, err := s.eventbus.Subscribe(eventbus.TopicAckAll, forward("ack")); err != nil {
		slog.Error("subscribe ack events", "error", err)
	}
	if _, err := s.eventbus.Subscribe(eventbus.TopicTaskAll, forward("task")); err != nil {
		slog.Error("subscribe task events", "error", err)
	}
}
