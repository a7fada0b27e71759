// Package api exposes Gateway over HTTP: the command-submission and
// device-status routes, plus a WebSocket endpoint that fans out
// Gateway's TaskSucceeded/TaskFailed/TaskAlarm/BarcodeReceived event
// projections.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wcsconnector/core/pkg/config"
	"github.com/wcsconnector/core/pkg/gateway"
	"github.com/wcsconnector/core/pkg/version"
)

// wsWriteTimeout bounds how long a single event send to a WebSocket
// client may block before it is considered stalled.
const wsWriteTimeout = 5 * time.Second

// Server is the HTTP API server fronting a Gateway.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	gw         *gateway.Gateway
}

// NewServer builds a gin-based API server wired to gw.
func NewServer(cfg *config.Config, gw *gateway.Gateway) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(securityHeaders())

	s := &Server{engine: engine, cfg: cfg, gw: gw}
	s.setupRoutes()
	return s
}

// Engine exposes the underlying gin.Engine, primarily for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	s.engine.POST("/commands", s.sendCommandHandler)
	s.engine.POST("/commands/batch", s.sendMultipleCommandsHandler)
	s.engine.POST("/commands/:id/validation", s.sendValidationResultHandler)
	s.engine.DELETE("/commands/:id", s.removeCommandHandler)
	s.engine.POST("/commands/remove-batch", s.removeCommandsHandler)

	s.engine.POST("/queue/pause", s.pauseQueueHandler)
	s.engine.POST("/queue/resume", s.resumeQueueHandler)

	s.engine.GET("/devices/:id", s.deviceStatusHandler)
	s.engine.GET("/devices/:id/location", s.deviceLocationHandler)
	s.engine.POST("/devices/:id/recover", s.triggerRecoveryHandler)

	s.engine.GET("/ws/events", s.wsEventsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	stats := s.cfg.Stats()
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		Version:     version.Full(),
		DeviceCount: stats.Devices,
		QueuePaused: s.gw.IsPaused(),
		Configuration: ConfigurationStats{
			Devices:         stats.Devices,
			RealDevices:     stats.RealDevices,
			EmulatedDevices: stats.EmulatedDevices,
		},
	})
}

// wsEnvelope is the wire shape of every message sent on /ws/events.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsEventsHandler handles GET /ws/events, upgrading the connection and
// fanning out Gateway's event projections until the client disconnects.
func (s *Server) wsEventsHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server closing")

	connID := uuid.New().String()
	log := slog.With("component", "ws", "conn_id", connID)
	log.Info("ws client connected")
	defer log.Info("ws client disconnected")

	ctx := c.Request.Context()
	succeeded, failed, alarm, barcode := s.gw.Events()

	for {
		var payload wsEnvelope
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-succeeded:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			payload = wsEnvelope{Type: "task.succeeded", Data: ev}
		case ev, ok := <-failed:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			payload = wsEnvelope{Type: "task.failed", Data: ev}
		case ev, ok := <-alarm:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			payload = wsEnvelope{Type: "task.alarm", Data: ev}
		case ev, ok := <-barcode:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			payload = wsEnvelope{Type: "barcode.received", Data: ev}
		}

		if err := writeJSON(ctx, conn, payload); err != nil {
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
