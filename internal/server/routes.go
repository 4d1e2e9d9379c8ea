package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/server/handlers"
)

// setupRoutes wires the server-level endpoints. Module specific routes
// are registered by the modules themselves.
func (s *Server) setupRoutes(db *gorm.DB) {
	libraries := handlers.NewLibraryHandler(db, s.eventBus)
	system := handlers.NewSystemHandler(db, s.eventBus)

	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": "cadenza", "status": "ok"})
	})

	api := s.engine.Group("/api")
	{
		api.GET("/health", system.Health)
		api.GET("/modules", system.ListModules)

		api.GET("/events", system.GetEvents)
		api.GET("/events/stats", system.GetEventStats)
		api.GET("/events/stream", system.StreamEvents)

		lib := api.Group("/libraries")
		{
			lib.POST("", libraries.CreateLibrary)
			lib.GET("", libraries.ListLibraries)
			lib.GET("/:id", libraries.GetLibrary)
			lib.PUT("/:id", libraries.UpdateLibrary)
			lib.DELETE("/:id", libraries.DeleteLibrary)
		}
	}
}
