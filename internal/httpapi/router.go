// Package httpapi implements the Search Core's versioned HTTP surface of
// §6.1: session and task endpoints backed by a session.Manager, following
// the teacher's cmd_api gin.Default()-plus-route-groups layout.
package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/prismbench/searchcore/internal/metrics"
	"github.com/prismbench/searchcore/internal/session"
)

// ServiceName is reported on GET /health.
const ServiceName = "prismbench-searchcore"

// Server wires a session.Manager into a gin engine under a single
// version prefix.
type Server struct {
	manager *session.Manager
	logger  *logrus.Logger
	metrics *metrics.Metrics
	engine  *gin.Engine
}

// NewServer builds the gin engine and registers every route of §6.1.
// prefix is the versioned path prefix decided at deploy time (e.g.
// "/api/v1"); an empty prefix mounts routes at the root. metrics may be
// nil to get a fresh registration.
func NewServer(manager *session.Manager, logger *logrus.Logger, m *metrics.Metrics, prefix string) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if m == nil {
		m = metrics.New()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(instrument(m))
	engine.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s := &Server{manager: manager, logger: logger, metrics: m, engine: engine}

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	group := engine.Group(prefix)
	group.POST("/initialize", s.handleInitialize)
	group.GET("/sessions/:id", s.handleGetSession)
	group.POST("/run", s.handleRun)
	group.POST("/stop/:task_id", s.handleStop)
	group.GET("/status", s.handleStatus)
	group.GET("/tasks/:task_id", s.handleGetTask)
	group.GET("/tree/:session_id", s.handleGetTree)

	return s
}

// Engine returns the underlying gin engine, for tests and for Run's
// caller to wrap with an http.Server if graceful shutdown is needed.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts serving on addr, blocking until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.WithField("addr", addr).Info("starting search core HTTP API")
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// instrument is gin middleware recording HTTPRequestsTotal and
// HTTPRequestDuration for every request, keyed by the matched route
// template rather than the raw path so path parameters don't explode
// label cardinality.
func instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
