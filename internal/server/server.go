// Package server exposes the HTTP surface: the WebSocket upgrade
// endpoint, the operational stats endpoints, and Prometheus metrics.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/internal/config"
	"github.com/tradewire/tradewire/internal/ws"
)

// Server is the HTTP front of tradewire.
type Server struct {
	manager  *ws.Manager
	logger   *zap.Logger
	upgrader websocket.Upgrader
	engine   *gin.Engine
}

// New builds the gin engine and routes.
func New(manager *ws.Manager, httpCfg config.HTTPConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(cors.New(cors.Config{
		AllowOrigins: httpCfg.AllowedOrigins,
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(httpCfg.AllowedOrigins),
		},
		engine: engine,
	}

	engine.GET("/ws", s.handleWS)
	engine.GET("/stats", s.handleStats)
	engine.GET("/connections/:id", s.handleConnectionInfo)
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Handler returns the root http.Handler, used by both the real listener
// and httptest servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// HTTPServer builds the http.Server for the configured listen address.
func (s *Server) HTTPServer(cfg config.HTTPConfig) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// handleWS upgrades the connection and hands it to the manager. The
// optional token comes from the query string or the Authorization header.
func (s *Server) handleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if _, err := s.manager.Accept(conn, token); err != nil {
		switch {
		case errors.Is(err, ws.ErrAuthentication):
			s.logger.Debug("connection rejected: bad token")
		case errors.Is(err, ws.ErrCapacity):
			s.logger.Warn("connection rejected: at capacity")
		default:
			s.logger.Error("accept failed", zap.Error(err))
		}
	}
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Stats())
}

func (s *Server) handleConnectionInfo(c *gin.Context) {
	id := c.Param("id")
	sess, ok := s.manager.Session(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	topics, symbols := s.manager.Interests(id)
	c.JSON(http.StatusOK, gin.H{
		"connection_id":    id,
		"connected_at":     sess.CreatedAt().UTC().Format(time.RFC3339),
		"last_activity":    sess.LastActivity().UTC().Format(time.RFC3339),
		"topics":           topics,
		"symbols":          symbols,
		"dropped_messages": sess.DroppedMessages(),
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
