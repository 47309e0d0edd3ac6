// Package gateway exposes the admin surface: a small REST API for
// instructions, interaction history, and system state, plus a WebSocket
// event feed streaming orchestration lifecycle events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"leadpilot/internal/domain"
	"leadpilot/internal/infra/config"
	"leadpilot/internal/infra/middleware"
	"leadpilot/internal/usecase/eventbus"
	"leadpilot/internal/usecase/interactions"
	"leadpilot/internal/usecase/orchestrator"
	"leadpilot/internal/usecase/registry"
	"leadpilot/internal/usecase/scheduling"
	"leadpilot/internal/usecase/workflow"
)

// clientConn tracks one WebSocket subscriber.
type clientConn struct {
	ws        *websocket.Conn
	sendCh    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Server is the admin REST/WS gateway.
type Server struct {
	orch      *orchestrator.Orchestrator
	registry  *registry.Registry
	executor  *workflow.Executor
	scheduler *scheduling.Service // nil when disabled
	log       *interactions.Service
	bus       *eventbus.Bus
	cfg       config.GatewayConfig
	logger    *slog.Logger

	clients   sync.Map // connID (uint64) → *clientConn
	nextID    atomic.Uint64
	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
}

// NewServer creates the gateway.
func NewServer(
	orch *orchestrator.Orchestrator,
	reg *registry.Registry,
	executor *workflow.Executor,
	scheduler *scheduling.Service,
	log *interactions.Service,
	bus *eventbus.Bus,
	cfg config.GatewayConfig,
	logger *slog.Logger,
) *Server {
	return &Server{
		orch:      orch,
		registry:  reg,
		executor:  executor,
		scheduler: scheduler,
		log:       log,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start begins serving. Blocks until ctx is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/instructions", s.handleInstruction)
	mux.HandleFunc("GET /api/interactions", s.handleInteractions)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /api/workflows", s.handleWorkflows)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("/ws", s.handleUpgrade)

	handler := middleware.SecurityHeaders(
		middleware.RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.Burst)(mux),
	)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: handler}

	// Forward every bus event to connected WebSocket clients.
	s.unsubAll = s.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
		s.clients.Range(func(_, value any) bool {
			cc := value.(*clientConn)
			select {
			case cc.sendCh <- event:
			default:
				s.logger.Warn("gateway: dropped event for slow client")
			}
			return true
		})
	})

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the gateway down.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the bound listen address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		ws:     ws,
		sendCh: make(chan domain.Event, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID)

	go s.writeLoop(cc)

	// Drain incoming frames so pings and close frames are processed; the
	// feed is one-directional.
	readCtx := r.Context()
	for {
		if _, _, err := ws.Read(readCtx); err != nil {
			break
		}
	}

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case event := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, event)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
