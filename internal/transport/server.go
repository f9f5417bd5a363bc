// Package transport exposes the dispatcher to panels over WebSocket and
// serves health, readiness and command introspection over HTTP.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/config"
	"github.com/dokzlo13/panelhub/internal/dispatch"
	"github.com/dokzlo13/panelhub/internal/hue"
)

// SnapshotSource exposes the latest bridge snapshot, or nil before the
// first successful sync.
type SnapshotSource interface {
	Snapshot() *hue.Snapshot
}

// Server is the panel-facing HTTP and WebSocket server.
type Server struct {
	cfg        config.ServerConfig
	dispatcher *dispatch.Dispatcher
	snapshots  SnapshotSource
	echo       *echo.Echo
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewServer creates a server. snapshots may be nil.
func NewServer(cfg config.ServerConfig, d *dispatch.Dispatcher, snapshots SnapshotSource) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		snapshots:  snapshots,
		echo:       echo.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// panels connect from arbitrary origins on the local network
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))

	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleReady)
	s.echo.GET("/commands", s.handleCommands)
	s.echo.GET("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	addr := s.cfg.Addr()
	log.Info().Str("addr", addr).Msg("Starting panel server")

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every panel connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	return err
}

// Connections returns the number of open panel connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(c echo.Context) error {
	var snap *hue.Snapshot
	if s.snapshots != nil {
		snap = s.snapshots.Snapshot()
	}

	body := map[string]any{
		"subscriptions": s.dispatcher.Subscriptions(),
		"connections":   s.Connections(),
	}
	if snap == nil {
		body["status"] = "waiting_for_bridge"
		return c.JSON(http.StatusServiceUnavailable, body)
	}

	body["status"] = "ready"
	body["groups"] = len(snap.Groups)
	body["snapshot_age_ms"] = snap.Age().Milliseconds()
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleCommands(c echo.Context) error {
	commands := s.dispatcher.Commands(c.QueryParam("service"))
	return c.JSON(http.StatusOK, map[string]any{"commands": commands})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", c.RealIP()).Msg("Websocket upgrade failed")
		return nil
	}

	conn := newConn(ws, s.cfg.SendBuffer)
	s.serve(c.Request().Context(), conn)
	return nil
}

// serve runs the read loop on the calling goroutine until the connection
// closes.
func (s *Server) serve(ctx context.Context, c *Conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	total := len(s.conns)
	s.mu.Unlock()
	log.Info().Str("conn", c.id).Str("remote", c.remote).Int("connections", total).Msg("Panel connected")

	go c.writePump(s.cfg.PingInterval.Duration(), s.cfg.WriteTimeout.Duration())

	defer func() {
		s.dispatcher.Disconnect(c)
		c.close()

		s.mu.Lock()
		delete(s.conns, c.id)
		total := len(s.conns)
		s.mu.Unlock()
		log.Info().Str("conn", c.id).Int("connections", total).Msg("Panel disconnected")
	}()

	pongWait := s.cfg.PongTimeout.Duration()
	c.ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn", c.id).Msg("Websocket read error")
			}
			return
		}
		// any inbound frame counts as liveness
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(ctx, c, data)
	}
}
