package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/db"
	intnet "github.com/energizer-project/rconctl/internal/network"
	"github.com/energizer-project/rconctl/internal/server"
	"github.com/energizer-project/rconctl/internal/util"
)

// ServerManager is the part of server.Manager the API drives.
type ServerManager interface {
	GetAllInfo() []server.InstanceInfo
	GetInfo(name string) (server.InstanceInfo, error)
	GetTotalServers() int
	GetReadyCount() int
	Execute(ctx context.Context, name, command string, multiPacket bool) (string, error)
	Broadcast(ctx context.Context, command string, multiPacket bool) []server.BroadcastResult
	Reconnect(ctx context.Context, name string) error
}

// HistoryReader is the read side of db.History.
type HistoryReader interface {
	RecentCommands(ctx context.Context, server string, limit int) ([]db.CommandRecord, error)
	RecentConnections(ctx context.Context, server string, limit int) ([]db.ConnectionRecord, error)
	GetCommand(ctx context.Context, id string) (db.CommandRecord, error)
}

// Server is the REST API server.
type Server struct {
	cfg     *config.Config
	apiCfg  config.APIConfig
	manager ServerManager
	history HistoryReader
	logger  zerolog.Logger

	// Host sampling, replaced in tests.
	sampleHost func() (util.HostUsage, error)

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. history may be nil when command
// history is disabled.
func NewServer(cfg *config.Config, manager ServerManager, history HistoryReader) *Server {
	appData := cfg.GetApplicationData()

	if appData.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:        cfg,
		apiCfg:     appData.API,
		manager:    manager,
		history:    history,
		logger:     util.ComponentLogger("api"),
		sampleHost: util.GetHostUsage,
	}
}

// Router returns the gin engine, building it on first use.
func (s *Server) Router() *gin.Engine {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Addr is the listen address from configuration.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.apiCfg.Host, strconv.Itoa(s.apiCfg.Port))
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	useTLS := s.apiCfg.TLSCertFile != "" && s.apiCfg.TLSKeyFile != ""
	if useTLS {
		s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	// SO_REUSEADDR so a restarted daemon can rebind immediately.
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", addr, err)
	}

	s.logger.Info().Str("addr", addr).Bool("tls", useTLS).
		Bool("auth", s.apiCfg.Token != "").Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("api shutdown")
		}
	}()

	if useTLS {
		err = s.httpServer.ServeTLS(ln, s.apiCfg.TLSCertFile, s.apiCfg.TLSKeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := s.apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleGetInfo)
	}

	protected := router.Group("/api")
	protected.Use(TokenAuth(s.apiCfg.Token))
	{
		protected.GET("/servers", s.handleListServers)
		protected.GET("/servers/:name", s.handleGetServer)
		protected.POST("/servers/:name/command", s.handleCommand)
		protected.POST("/servers/:name/reconnect", s.handleReconnect)
		protected.POST("/broadcast", s.handleBroadcast)

		protected.GET("/history", s.handleGetHistory)
		protected.GET("/history/connections", s.handleGetConnections)
		protected.GET("/history/:id", s.handleGetHistoryEntry)

		protected.GET("/host", s.handleGetHostUsage)
		protected.GET("/config", s.handleGetConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "rconctl API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
