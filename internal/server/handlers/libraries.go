package handlers

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
)

// LibraryHandler manages media library records
type LibraryHandler struct {
	db       *gorm.DB
	eventBus events.EventBus
}

// NewLibraryHandler creates a library handler
func NewLibraryHandler(db *gorm.DB, eventBus events.EventBus) *LibraryHandler {
	return &LibraryHandler{db: db, eventBus: eventBus}
}

// CreateLibrary registers a new media library root
func (h *LibraryHandler) CreateLibrary(c *gin.Context) {
	var req database.MediaLibraryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.HandleError(c, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if !filepath.IsAbs(req.Path) {
		errors.HandleError(c, errors.NewValidationError("library path must be absolute"))
		return
	}

	libType := req.Type
	if libType == "" {
		libType = "music"
	}

	library := database.MediaLibrary{
		Name: req.Name,
		Path: filepath.Clean(req.Path),
		Type: libType,
	}
	if err := library.SetExcludeList(req.ExcludePaths); err != nil {
		errors.HandleError(c, errors.NewValidationError("invalid exclude paths: "+err.Error()))
		return
	}

	if err := h.db.Create(&library).Error; err != nil {
		errors.HandleError(c, errors.NewStorageError("failed to create library", err))
		return
	}

	logger.Info("📚 Media library created: %s (%s)", library.Name, library.Path)
	if h.eventBus != nil {
		h.eventBus.PublishAsync(events.NewEventWithData(events.EventMediaLibraryCreated,
			"server", "Library Created", library.Name,
			map[string]interface{}{"library_id": library.ID, "path": library.Path}))
	}
	c.JSON(http.StatusCreated, library)
}

// ListLibraries returns all media libraries
func (h *LibraryHandler) ListLibraries(c *gin.Context) {
	var libraries []database.MediaLibrary
	if err := h.db.Order("id").Find(&libraries).Error; err != nil {
		errors.HandleError(c, errors.NewStorageError("failed to list libraries", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"libraries": libraries})
}

// GetLibrary returns one media library
func (h *LibraryHandler) GetLibrary(c *gin.Context) {
	library, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, library)
}

// UpdateLibrary changes a library's name or exclusions. The path is
// immutable; moving a library means recreating it.
func (h *LibraryHandler) UpdateLibrary(c *gin.Context) {
	library, ok := h.load(c)
	if !ok {
		return
	}

	var req struct {
		Name         string   `json:"name"`
		ExcludePaths []string `json:"exclude_paths"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.HandleError(c, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	if req.Name != "" {
		library.Name = req.Name
	}
	if req.ExcludePaths != nil {
		if err := library.SetExcludeList(req.ExcludePaths); err != nil {
			errors.HandleError(c, errors.NewValidationError("invalid exclude paths: "+err.Error()))
			return
		}
	}

	if err := h.db.Save(library).Error; err != nil {
		errors.HandleError(c, errors.NewStorageError("failed to update library", err))
		return
	}
	c.JSON(http.StatusOK, library)
}

// DeleteLibrary removes a library and everything recorded under it:
// tracked directories, scan jobs, media sources and their tracks
func (h *LibraryHandler) DeleteLibrary(c *gin.Context) {
	library, ok := h.load(c)
	if !ok {
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		var sourceIDs []string
		if err := tx.Model(&database.MediaSource{}).
			Where("library_id = ?", library.ID).Pluck("id", &sourceIDs).Error; err != nil {
			return err
		}
		if len(sourceIDs) > 0 {
			if err := tx.Where("media_source_id IN ?", sourceIDs).Delete(&database.Track{}).Error; err != nil {
				return err
			}
		}
		for _, model := range []interface{}{
			&database.MediaSource{}, &database.TrackedDirectory{}, &database.ScanJob{},
		} {
			if err := tx.Where("library_id = ?", library.ID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(library).Error
	})
	if err != nil {
		errors.HandleError(c, errors.NewStorageError("failed to delete library", err))
		return
	}

	logger.Info("Media library %d deleted", library.ID)
	if h.eventBus != nil {
		h.eventBus.PublishAsync(events.NewEventWithData(events.EventMediaLibraryDeleted,
			"server", "Library Deleted", library.Name,
			map[string]interface{}{"library_id": library.ID}))
	}
	c.JSON(http.StatusOK, gin.H{"deleted": library.ID})
}

func (h *LibraryHandler) load(c *gin.Context) (*database.MediaLibrary, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		errors.HandleError(c, errors.NewValidationError("invalid library id"))
		return nil, false
	}

	var library database.MediaLibrary
	if err := h.db.First(&library, uint32(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			errors.HandleError(c, errors.NewNotFoundError("media library"))
		} else {
			errors.HandleError(c, errors.NewStorageError("failed to load library", err))
		}
		return nil, false
	}
	return &library, true
}
