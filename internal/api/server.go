package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/failover-guardian/internal/api/middleware"
	"github.com/leozw/failover-guardian/internal/config"
	"github.com/leozw/failover-guardian/internal/failover"
	"github.com/leozw/failover-guardian/internal/incidents"
)

// Server exposes the controller's operational state. It carries explicit
// references instead of globals so multiple instances can coexist in tests.
type Server struct {
	Config     *config.Config
	Router     *gin.Engine
	Controller *failover.Controller
	Incidents  *incidents.Service
}

func NewServer(cfg *config.Config, controller *failover.Controller, incidentSvc *incidents.Service, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())

	server := &Server{
		Config:     cfg,
		Router:     router,
		Controller: controller,
		Incidents:  incidentSvc,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/status", s.status)
	s.Router.GET("/events", s.events)
	s.Router.GET("/incidents", s.incidents)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.Controller.Snapshot())
}

func (s *Server) events(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"events": s.Controller.RecentEvents(),
	})
}

func (s *Server) incidents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"open":     s.Incidents.Open(),
		"resolved": s.Incidents.Recent(),
		"summary":  s.Incidents.Summary(),
	})
}

func (s *Server) Run() error {
	return s.Router.Run(":" + s.Config.Server.Port)
}
