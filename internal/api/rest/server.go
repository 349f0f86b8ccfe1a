package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/address"
	"github.com/KevinKickass/OpenMachineSim/internal/api/websocket"
	"github.com/KevinKickass/OpenMachineSim/internal/auth"
	"github.com/KevinKickass/OpenMachineSim/internal/config"
	"github.com/KevinKickass/OpenMachineSim/internal/interfaces"
	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"github.com/KevinKickass/OpenMachineSim/internal/scheduler"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PointStore is the part of the point registry the API reads and writes.
type PointStore interface {
	Snapshot() []registry.Entry
	Lookup(name string) (registry.Sample, bool)
	DataType(name string) (types.DataType, bool)
	Writable(name string) bool
	Set(name string, value any) error
}

// WriteObserver is told about every client write and its outcome.
type WriteObserver interface {
	WriteObserved(surface string, err error)
}

type Server struct {
	router    *gin.Engine
	lm        interfaces.LifecycleManager
	points    PointStore
	addresses map[string]address.Native
	logger    *zap.Logger
	server    *http.Server
	listener  net.Listener

	wsHub       *websocket.Hub
	authService *auth.Service
	metrics     http.Handler
	writes      WriteObserver
	publishers  []scheduler.Publisher
}

type Option func(*Server)

// WithHub serves the live value stream and announces accepted writes on it.
func WithHub(hub *websocket.Hub) Option {
	return func(s *Server) {
		s.wsHub = hub
	}
}

// WithAuth guards point writes with bearer tokens.
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.authService = svc
	}
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithWriteObserver(o WriteObserver) Option {
	return func(s *Server) {
		s.writes = o
	}
}

// WithAddresses supplies the node id of every point, used in responses
// and in the updates handed to publishers.
func WithAddresses(addrs map[string]address.Native) Option {
	return func(s *Server) {
		s.addresses = addrs
	}
}

// WithPublishers forwards accepted writes, e.g. to OPC UA subscriptions.
func WithPublishers(p ...scheduler.Publisher) Option {
	return func(s *Server) {
		s.publishers = append(s.publishers, p...)
	}
}

func NewServer(cfg config.HTTPConfig, lm interfaces.LifecycleManager, points PointStore, logger *zap.Logger, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		lm:     lm,
		points: points,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. A bind
// failure is returned to the caller.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = lis

	s.logger.Info("Starting REST API server", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
			if s.authService != nil {
				system.POST("/shutdown",
					s.authService.AuthMiddleware(),
					auth.RequirePermission(auth.PermAdmin),
					s.shutdown)
			}
		}

		// ==================== POINTS ====================
		points := v1.Group("/points")
		{
			points.GET("", s.listPoints)
			points.GET("/:name", s.getPoint)

			// Writes: Operator+ when auth is enabled
			if s.authService != nil {
				points.PUT("/:name",
					s.authService.AuthMiddleware(),
					auth.RequirePermission(auth.PermOperator),
					s.writePoint)
			} else {
				points.PUT("/:name", s.writePoint)
			}
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		if s.wsHub != nil {
			ws := v1.Group("/ws")
			{
				ws.GET("/live", s.wsLiveConnection)
				ws.GET("/status", s.wsStatus)
			}
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
