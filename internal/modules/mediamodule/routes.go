package mediamodule

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/metadata"
)

// RegisterRoutes registers all media module routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/media")
	{
		api.POST("/libraries/:id/import", m.handleImport)
		api.POST("/libraries/:id/export", m.handleExport)
		api.GET("/libraries/:id/untracked", m.handleFindUntracked)
		api.GET("/libraries/:id/directories/counts", m.handleCountByDirectory)
		api.GET("/libraries/:id/sources", m.handleListSources)

		api.GET("/sources/:id", m.handleGetSource)
		api.GET("/sources/:id/track", m.handleGetSourceTrack)

		api.GET("/tracks/:id", m.handleGetTrack)
		api.PUT("/tracks/:id", m.handleUpdateTrack)
	}
}

type importRequest struct {
	RootOverride string   `json:"root_override"`
	StatusFilter []string `json:"status_filter"`
	BatchSize    int      `json:"batch_size"`
	DryRun       bool     `json:"dry_run"`
}

func (m *Module) handleImport(c *gin.Context) {
	libraryID, ok := libraryIDParam(c)
	if !ok {
		return
	}

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		errors.HandleError(c, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	statuses, err := parseStatuses(req.StatusFilter)
	if err != nil {
		errors.HandleError(c, err)
		return
	}

	summary, err := m.Importer().ImportFiles(c.Request.Context(), libraryID, ImportOptions{
		RootOverride: req.RootOverride,
		StatusFilter: statuses,
		BatchSize:    req.BatchSize,
		DryRun:       req.DryRun,
	})
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type exportRequest struct {
	TargetRoot      string `json:"target_root" binding:"required"`
	PathPrefix      string `json:"path_prefix"`
	MatchMode       string `json:"match_mode"`
	PurgeOtherFiles bool   `json:"purge_other_files"`
	BatchSize       int    `json:"batch_size"`
}

func (m *Module) handleExport(c *gin.Context) {
	libraryID, ok := libraryIDParam(c)
	if !ok {
		return
	}

	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.HandleError(c, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	mode := MatchMode(req.MatchMode)
	switch mode {
	case "", MatchModeStat, MatchModeDigest:
	default:
		errors.HandleError(c, errors.NewValidationError("match_mode must be stat or digest"))
		return
	}

	summary, err := m.Exporter().ExportFiles(c.Request.Context(), libraryID, ExportOptions{
		TargetRoot:      req.TargetRoot,
		PathPrefix:      req.PathPrefix,
		MatchMode:       mode,
		PurgeOtherFiles: req.PurgeOtherFiles,
		BatchSize:       req.BatchSize,
	})
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (m *Module) handleFindUntracked(c *gin.Context) {
	libraryID, ok := libraryIDParam(c)
	if !ok {
		return
	}

	result, err := m.Importer().FindUntrackedFiles(c.Request.Context(), libraryID, c.Query("root"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (m *Module) handleCountByDirectory(c *gin.Context) {
	libraryID, ok := libraryIDParam(c)
	if !ok {
		return
	}

	opts := CountOptions{
		PathPrefix: c.Query("prefix"),
		OrderBy:    c.DefaultQuery("order_by", "path"),
		Descending: c.Query("desc") == "true",
		Limit:      intQuery(c, "limit", 0),
		Offset:     intQuery(c, "offset", 0),
	}
	if opts.OrderBy != "path" && opts.OrderBy != "count" {
		errors.HandleError(c, errors.NewValidationError("order_by must be path or count"))
		return
	}

	counts, err := NewSourceRepository(m.db).CountByDirectory(libraryID, opts)
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"library_id":  libraryID,
		"directories": counts,
	})
}

func (m *Module) handleListSources(c *gin.Context) {
	libraryID, ok := libraryIDParam(c)
	if !ok {
		return
	}

	sources, err := NewSourceRepository(m.db).ListByPrefix(libraryID,
		c.Query("prefix"), intQuery(c, "limit", 100), intQuery(c, "offset", 0))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"library_id": libraryID,
		"sources":    sources,
	})
}

func (m *Module) handleGetSource(c *gin.Context) {
	source, err := NewSourceRepository(m.db).GetByID(c.Param("id"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, source)
}

func (m *Module) handleGetSourceTrack(c *gin.Context) {
	repo := NewSourceRepository(m.db)
	source, err := repo.GetByID(c.Param("id"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	track, err := repo.GetTrackForSource(source.ID)
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	if track == nil {
		errors.HandleError(c, errors.NewNotFoundError("track"))
		return
	}
	c.JSON(http.StatusOK, track)
}

func (m *Module) handleGetTrack(c *gin.Context) {
	track, err := NewSourceRepository(m.db).GetTrackByID(c.Param("id"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, track)
}

type updateTrackRequest struct {
	Revision uint32                  `json:"revision"`
	Metadata *metadata.TrackMetadata `json:"metadata" binding:"required"`
}

func (m *Module) handleUpdateTrack(c *gin.Context) {
	var req updateTrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.HandleError(c, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	track, err := m.Pipeline().UpdateTrack(c.Request.Context(), c.Param("id"), req.Revision, req.Metadata)
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, track)
}

// libraryIDParam parses the :id path parameter, writing the error
// response itself on failure
func libraryIDParam(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		errors.HandleError(c, errors.NewValidationError("invalid library id"))
		return 0, false
	}
	return uint32(id), true
}

func intQuery(c *gin.Context, name string, fallback int) int {
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

// parseStatuses validates caller supplied directory statuses
func parseStatuses(raw []string) ([]database.DirectoryStatus, error) {
	statuses := make([]database.DirectoryStatus, 0, len(raw))
	for _, s := range raw {
		status := database.DirectoryStatus(s)
		if !status.Valid() {
			return nil, errors.NewValidationError("unknown directory status: " + s)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
