package scannermodule

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/errors"
)

// RegisterRoutes registers all scanner module routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/scanner")
	{
		api.POST("/libraries/:id/scan", m.handleStartScan)
		api.GET("/libraries/:id/status", m.handleQueryStatus)
		api.POST("/libraries/:id/outdated", m.handleMarkOutdated)
		api.POST("/libraries/:id/untrack", m.handleUntrack)
		api.POST("/libraries/:id/purge", m.handlePurge)

		api.GET("/jobs", m.handleListJobs)
		api.GET("/jobs/:id", m.handleGetJob)
		api.POST("/jobs/:id/pause", m.handlePauseScan)
		api.POST("/jobs/:id/resume", m.handleResumeScan)
	}
}

type scanRequestBody struct {
	RootOverride string   `json:"root_override"`
	StatusFilter []string `json:"status_filter"`
	DryRun       bool     `json:"dry_run"`
}

func (m *Module) handleStartScan(c *gin.Context) {
	libraryID, ok := idParam(c)
	if !ok {
		return
	}

	var body scanRequestBody
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		errors.HandleError(c, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	statuses, err := parseStatuses(body.StatusFilter)
	if err != nil {
		errors.HandleError(c, err)
		return
	}

	job, err := m.Manager().StartScan(libraryID, ScanRequest{
		RootOverride: body.RootOverride,
		StatusFilter: statuses,
		DryRun:       body.DryRun,
	})
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (m *Module) handleQueryStatus(c *gin.Context) {
	libraryID, ok := idParam(c)
	if !ok {
		return
	}

	counts, err := m.Manager().QueryStatus(c.Request.Context(), libraryID, c.Query("root"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"library_id": libraryID,
		"statuses":   counts,
	})
}

type subtreeRequest struct {
	RootOverride string   `json:"root_override"`
	StatusFilter []string `json:"status_filter"`
}

func (m *Module) handleMarkOutdated(c *gin.Context) {
	libraryID, ok := idParam(c)
	if !ok {
		return
	}

	var body subtreeRequest
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		errors.HandleError(c, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	n, err := m.Manager().MarkOutdated(c.Request.Context(), libraryID, body.RootOverride)
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"library_id": libraryID,
		"marked":     n,
	})
}

func (m *Module) handleUntrack(c *gin.Context) {
	libraryID, ok := idParam(c)
	if !ok {
		return
	}

	var body subtreeRequest
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		errors.HandleError(c, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	statuses, err := parseStatuses(body.StatusFilter)
	if err != nil {
		errors.HandleError(c, err)
		return
	}

	n, err := m.Manager().UntrackDirectories(c.Request.Context(), libraryID, body.RootOverride, statuses)
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"library_id": libraryID,
		"untracked":  n,
	})
}

type purgeRequest struct {
	PathPredicates []string `json:"path_predicates"`
}

func (m *Module) handlePurge(c *gin.Context) {
	libraryID, ok := idParam(c)
	if !ok {
		return
	}

	var body purgeRequest
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		errors.HandleError(c, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	n, err := m.Manager().PurgeOrphanedSources(c.Request.Context(), libraryID, body.PathPredicates)
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"library_id": libraryID,
		"purged":     n,
	})
}

func (m *Module) handleListJobs(c *gin.Context) {
	var libraryID uint32
	if raw := c.Query("library_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			errors.HandleError(c, errors.NewValidationError("invalid library_id"))
			return
		}
		libraryID = uint32(id)
	}

	jobs, err := m.Manager().ListJobs(libraryID)
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (m *Module) handleGetJob(c *gin.Context) {
	jobID, ok := idParam(c)
	if !ok {
		return
	}

	job, err := m.Manager().GetJob(jobID)
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (m *Module) handlePauseScan(c *gin.Context) {
	jobID, ok := idParam(c)
	if !ok {
		return
	}

	if err := m.Manager().PauseScan(jobID); err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": JobStatusPaused})
}

func (m *Module) handleResumeScan(c *gin.Context) {
	jobID, ok := idParam(c)
	if !ok {
		return
	}

	if err := m.Manager().ResumeScan(jobID); err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": JobStatusRunning})
}

// idParam parses the :id path parameter, writing the error response
// itself on failure
func idParam(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		errors.HandleError(c, errors.NewValidationError("invalid id"))
		return 0, false
	}
	return uint32(id), true
}

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
