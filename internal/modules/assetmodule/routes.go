package assetmodule

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/cadenza/internal/errors"
)

// RegisterRoutes registers all asset module routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/assets")
	{
		api.GET("/:id", m.handleGetAsset)
		api.GET("/:id/data", m.handleGetAssetData)
		api.GET("/entity/:type/:id", m.handleListForEntity)
		api.GET("/entity/:type/:id/cover", m.handleGetCover)
		api.DELETE("/entity/:type/:id", m.handleDeleteForEntity)
	}
}

func (m *Module) handleGetAsset(c *gin.Context) {
	asset, err := m.Manager().GetAsset(c.Param("id"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (m *Module) handleGetAssetData(c *gin.Context) {
	data, asset, err := m.Manager().GetAssetData(c.Param("id"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/"+asset.Format, data)
}

func (m *Module) handleListForEntity(c *gin.Context) {
	assets, err := m.Manager().ListForEntity(c.Param("type"), c.Param("id"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets})
}

func (m *Module) handleGetCover(c *gin.Context) {
	asset, err := m.Manager().PreferredCover(c.Param("type"), c.Param("id"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	data, _, err := m.Manager().GetAssetData(asset.ID)
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/"+asset.Format, data)
}

func (m *Module) handleDeleteForEntity(c *gin.Context) {
	n, err := m.Manager().DeleteForEntity(c.Param("type"), c.Param("id"))
	if err != nil {
		errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
