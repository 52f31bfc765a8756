package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/factoryctrl/internal/api/websocket"
	"github.com/KevinKickass/factoryctrl/internal/controlloop"
	"github.com/KevinKickass/factoryctrl/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusProvider is implemented by *controlloop.Loop.
type StatusProvider interface {
	Status() controlloop.Status
}

type Server struct {
	router    *gin.Engine
	status    StatusProvider
	logger    *zap.Logger
	wsHub     *websocket.Hub
	server    *http.Server
	startedAt time.Time
}

// NewServer builds the status API. wsHub may be nil, which disables the event stream.
func NewServer(port int, status StatusProvider, wsHub *websocket.Hub, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:    gin.New(),
		status:    status,
		logger:    logger,
		wsHub:     wsHub,
		startedAt: time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start binds the port synchronously and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("Starting status API server", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status API server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down status API server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(gin.CustomRecovery(s.recoverPanic))

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.getStatus)
		if s.wsHub != nil {
			v1.GET("/events", func(c *gin.Context) {
				websocket.ServeWs(s.wsHub, c.Writer, c.Request)
			})
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeNotFound, "Route not found", c.Request.URL.Path))
	})
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	s.logger.Error("Status API handler panicked",
		zap.String("path", c.Request.URL.Path),
		zap.Any("panic", recovered))
	c.AbortWithStatusJSON(http.StatusInternalServerError,
		types.NewErrorResponse(types.CodeInternal, "Internal server error", nil))
}

// LoggerMiddleware logs each request at debug level, failures at warn.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("HTTP request failed", fields...)
			return
		}
		logger.Debug("HTTP request", fields...)
	}
}
