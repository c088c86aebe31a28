package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/flyerscan/constants"
	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/core/async"
	"github.com/joseph-ayodele/flyerscan/internal/export"
	"github.com/joseph-ayodele/flyerscan/internal/metrics"
	"github.com/joseph-ayodele/flyerscan/internal/session"
)

// Pinger reports whether a dependency is reachable. *cache.Service satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the long-lived services the HTTP layer calls into.
type Deps struct {
	Sessions *session.Manager
	Queue    async.Queue
	Cache    Pinger
	Exporter *export.Service
	Metrics  *metrics.Counters
	Logger   *slog.Logger
}

type Server struct {
	sessions  *session.Manager
	queue     async.Queue
	cache     Pinger
	exporter  *export.Service
	counters  *metrics.Counters
	logger    *slog.Logger
	maxImage  int64
	sendQueue int
	upgrader  websocket.Upgrader
}

func New(cfg *common.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exporter := deps.Exporter
	if exporter == nil {
		exporter = export.NewService(logger)
	}
	maxMB := cfg.Server.MaxImageMB
	if maxMB <= 0 {
		maxMB = constants.MaxImageMBDefault
	}
	return &Server{
		sessions:  deps.Sessions,
		queue:     deps.Queue,
		cache:     deps.Cache,
		exporter:  exporter,
		counters:  deps.Metrics,
		logger:    logger,
		maxImage:  int64(maxMB) << 20,
		sendQueue: cfg.Session.SendQueueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router wires every HTTP endpoint.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), s.requestContext())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness follows the durable cache tier.
	r.GET("/readyz", func(c *gin.Context) {
		if s.cache == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := s.cache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.counters.Snapshot())
	})

	r.POST("/events/process", s.handleProcess)
	r.GET("/jobs/:id", s.handleJob)
	r.GET("/sessions/:id/export.xlsx", s.handleExport)
	r.GET("/ws", s.handleWS)
	return r
}

// requestContext tags each request with an id and logs its outcome.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header("X-Request-ID", rid)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))

		c.Next()

		s.logger.Debug("http.request",
			"request_id", rid,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}

// ListenAndServe serves HTTP on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http.shutdown.failed", "error", err)
		}
	}()

	s.logger.Info("http.listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
