package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/cadenza/internal/config"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/middleware"
	"github.com/mantonx/cadenza/internal/modules/modulemanager"

	// Import all modules to trigger their registration
	_ "github.com/mantonx/cadenza/internal/modules/assetmodule"
	_ "github.com/mantonx/cadenza/internal/modules/databasemodule"
	_ "github.com/mantonx/cadenza/internal/modules/mediamodule"
	_ "github.com/mantonx/cadenza/internal/modules/scannermodule"
)

// Server ties together the event bus, the module system and the HTTP
// surface
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	eventBus   events.EventBus
}

// New builds a fully initialized server. The database must already be
// connected; modules migrate and initialize here, in dependency order.
func New() (*Server, error) {
	db := database.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database is not initialized")
	}

	eventBus, err := startEventBus()
	if err != nil {
		return nil, err
	}
	events.SetGlobalEventBus(eventBus)

	if err := modulemanager.LoadAll(db); err != nil {
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}
	logModuleStatus()

	cfg := config.Get()
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Server.EnableCORS {
		engine.Use(corsMiddleware())
	}
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.ErrorLogger())

	s := &Server{engine: engine, eventBus: eventBus}
	s.setupRoutes(db)
	modulemanager.RegisterRoutes(engine)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// Engine exposes the router, used by tests
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start() error {
	logger.Info("🚀 Server listening on %s", s.httpServer.Addr)
	s.eventBus.PublishAsync(events.NewEventWithData(events.EventSystemStarted,
		"server", "Server Started", "Cadenza is accepting requests",
		map[string]interface{}{"addr": s.httpServer.Addr}))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP listener, the modules and the event bus, in
// that order, so in-flight work can still publish events
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown did not finish cleanly: %v", err)
	}

	modulemanager.ShutdownAll()

	s.eventBus.PublishAsync(events.NewEventWithData(events.EventSystemStopped,
		"server", "Server Stopped", "Cadenza shut down", nil))

	busCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.eventBus.Stop(busCtx)
}

// startEventBus creates the system-wide event bus with database backed
// persistence
func startEventBus() (events.EventBus, error) {
	busConfig := events.DefaultEventBusConfig()

	storage := events.NewDatabaseEventStorage(database.GetDB())
	metrics := events.NewBasicEventMetrics()
	bus := events.NewEventBus(busConfig, &eventLogger{}, storage, metrics)

	if err := bus.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start event bus: %w", err)
	}
	logger.Info("✅ Event bus started")
	return bus, nil
}

// eventLogger adapts the application logger to the event bus interface
type eventLogger struct{}

func (l *eventLogger) Debug(msg string, fields ...interface{}) { logBusLine(logger.Debug, msg, fields) }
func (l *eventLogger) Info(msg string, fields ...interface{})  { logBusLine(logger.Info, msg, fields) }
func (l *eventLogger) Warn(msg string, fields ...interface{})  { logBusLine(logger.Warn, msg, fields) }
func (l *eventLogger) Error(msg string, fields ...interface{}) { logBusLine(logger.Error, msg, fields) }

func logBusLine(log func(string, ...interface{}), msg string, fields []interface{}) {
	if len(fields) == 0 {
		log("%s", msg)
		return
	}
	log("%s %v", msg, fields)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func logModuleStatus() {
	modules := modulemanager.ListModules()
	logger.Info("✅ Module system initialized with %d modules", len(modules))
	for _, module := range modules {
		core := ""
		if module.Core() {
			core = " [core]"
		}
		logger.Info("  📦 %s (%s)%s", module.Name(), module.ID(), core)
	}
}
