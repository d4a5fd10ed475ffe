package main

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/RodolfoSilva/live-data/internal/config"
	"github.com/RodolfoSilva/live-data/internal/router"
	"github.com/RodolfoSilva/live-data/internal/session"
	"github.com/RodolfoSilva/live-data/internal/transport"
	"github.com/RodolfoSilva/live-data/shared/logger"
)

func main() {
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Errorf("Failed to parse log level: %v", err)
			os.Exit(1)
		}
		logger.SetLevel(level)
	} else if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := router.NewRegistry()
	if err := registry.Register("counter", router.Route{View: CounterView{}}); err != nil {
		logger.Errorf("Failed to register route: %v", err)
		os.Exit(1)
	}

	sessionOpts := session.Options{
		HibernateAfter: cfg.HibernateAfter,
	}

	engine := gin.Default()

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Root endpoint - returns plain text for client validation
	engine.GET("/", func(c *gin.Context) {
		c.String(200, "Welcome to LiveData Server!")
	})

	engine.GET("/v1/livedata", func(c *gin.Context) {
		conn, err := transport.Upgrade(c.Writer, c.Request, registry, sessionOpts)
		if err != nil {
			logger.Warnf("Upgrade failed: %v", err)
			return
		}
		logger.Infof("Client connected")
		<-conn.Done()
		logger.Infof("Client disconnected")
	})

	logger.Infof("LiveData server starting on http://localhost%s", cfg.Addr)
	if err := engine.Run(cfg.Addr); err != nil {
		logger.Errorf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
