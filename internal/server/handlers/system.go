package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
	"github.com/mantonx/cadenza/internal/modules/modulemanager"
)

// SystemHandler serves health, event history and the live event stream
type SystemHandler struct {
	db       *gorm.DB
	eventBus events.EventBus
	upgrader websocket.Upgrader
}

// NewSystemHandler creates a system handler
func NewSystemHandler(db *gorm.DB, eventBus events.EventBus) *SystemHandler {
	return &SystemHandler{
		db:       db,
		eventBus: eventBus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API is same-origin agnostic; auth sits in front of it
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Health reports component health. The response is 200 only when every
// component is healthy.
func (h *SystemHandler) Health(c *gin.Context) {
	components := gin.H{}
	healthy := true

	if mod, ok := modulemanager.GetModule(databasemodule.ModuleID); ok {
		dbMod := mod.(*databasemodule.Module)
		if err := dbMod.Health(); err != nil {
			components["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
			healthy = false
		} else {
			components["database"] = gin.H{"status": "healthy", "stats": dbMod.GetStats()}
		}
	} else {
		components["database"] = gin.H{"status": "unavailable"}
		healthy = false
	}

	if h.eventBus != nil {
		if err := h.eventBus.Health(); err != nil {
			components["event_bus"] = gin.H{"status": "unhealthy", "error": err.Error()}
			healthy = false
		} else {
			components["event_bus"] = gin.H{"status": "healthy"}
		}
	} else {
		components["event_bus"] = gin.H{"status": "unavailable"}
		healthy = false
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}

// ListModules reports the loaded modules
func (h *SystemHandler) ListModules(c *gin.Context) {
	type moduleInfo struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Core bool   `json:"core"`
	}
	var infos []moduleInfo
	for _, m := range modulemanager.ListModules() {
		infos = append(infos, moduleInfo{ID: m.ID(), Name: m.Name(), Core: m.Core()})
	}
	c.JSON(http.StatusOK, gin.H{"modules": infos})
}

// GetEvents returns stored events, newest first
func (h *SystemHandler) GetEvents(c *gin.Context) {
	if h.eventBus == nil {
		errors.HandleError(c, errors.NewInternalError("event bus is not available", nil))
		return
	}

	filter := events.EventFilter{}
	if t := c.Query("type"); t != "" {
		filter.Types = []events.EventType{events.EventType(t)}
	}
	if s := c.Query("source"); s != "" {
		filter.Sources = []string{s}
	}

	limit := intQueryDefault(c, "limit", 50)
	offset := intQueryDefault(c, "offset", 0)

	list, total, err := h.eventBus.GetEvents(filter, limit, offset)
	if err != nil {
		errors.HandleError(c, errors.NewStorageError("failed to load events", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": list,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetEventStats returns event bus counters
func (h *SystemHandler) GetEventStats(c *gin.Context) {
	if h.eventBus == nil {
		errors.HandleError(c, errors.NewInternalError("event bus is not available", nil))
		return
	}
	c.JSON(http.StatusOK, h.eventBus.GetStats())
}

// StreamEvents upgrades to a websocket and forwards live events. The
// optional "types" query narrows the subscription, comma separated.
func (h *SystemHandler) StreamEvents(c *gin.Context) {
	if h.eventBus == nil {
		errors.HandleError(c, errors.NewInternalError("event bus is not available", nil))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	filter := events.EventFilter{}
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, events.EventType(t))
			}
		}
	}

	// Buffered so a slow websocket never blocks the bus; overflowing
	// events are dropped for this subscriber only.
	queue := make(chan events.Event, 64)
	sub, err := h.eventBus.Subscribe(c.Request.Context(), filter, func(event events.Event) error {
		select {
		case queue <- event:
		default:
		}
		return nil
	})
	if err != nil {
		logger.Warn("Event subscription failed: %v", err)
		return
	}
	defer h.eventBus.Unsubscribe(sub.ID)

	// Reader goroutine notices the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case event := <-queue:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func intQueryDefault(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
