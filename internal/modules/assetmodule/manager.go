package assetmodule

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/config"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/digest"
	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/metadata"
	"github.com/mantonx/cadenza/internal/utils"
)

// Entity and asset type values used in media_assets rows
const (
	EntityTypeTrack = "track"

	AssetTypeCover     = "cover"
	AssetTypeThumbnail = "thumbnail"

	SourceEmbedded = "embedded"
)

// Manager stores artwork on disk and its records in the database. Files
// are content addressed: the same image saved twice lands on the same
// path, so re-imports never duplicate artwork.
type Manager struct {
	db       *gorm.DB
	eventBus events.EventBus

	assetsPath string
}

// NewManager creates an asset manager
func NewManager(db *gorm.DB, eventBus events.EventBus) *Manager {
	return &Manager{
		db:       db,
		eventBus: eventBus,
	}
}

// Initialize prepares the on-disk layout under the configured asset
// data directory
func (m *Manager) Initialize() error {
	m.assetsPath = config.Get().Assets.DataDir
	if m.assetsPath == "" {
		return errors.NewPreconditionError("asset data directory is not configured", nil)
	}

	for _, dir := range []string{EntityTypeTrack} {
		if err := utils.EnsureDir(filepath.Join(m.assetsPath, dir)); err != nil {
			return errors.NewIOError("failed to create asset directory", err)
		}
	}

	logger.Info("Asset manager initialized (dir: %s)", m.assetsPath)
	return nil
}

// SaveTrackArtwork stores a track's embedded artwork as a cover plus a
// bounded thumbnail. Saving the same image again is a no-op.
func (m *Manager) SaveTrackArtwork(track *database.Track, art *metadata.Artwork) error {
	cfg := config.Get().Assets
	if !cfg.EnableExtraction {
		return nil
	}
	if len(art.Data) == 0 {
		return nil
	}
	if cfg.MaxFileSize > 0 && int64(len(art.Data)) > cfg.MaxFileSize {
		return errors.NewValidationError(
			fmt.Sprintf("artwork exceeds size limit (%d > %d bytes)", len(art.Data), cfg.MaxFileSize))
	}

	img, err := decodeImage(art.Data, art.MIMEType)
	if err != nil {
		return errors.NewDecodeError("failed to decode artwork", err)
	}

	coverData, coverFormat, err := m.encode(img, cfg)
	if err != nil {
		return err
	}
	bounds := img.Bounds()
	if err := m.saveAsset(track, AssetTypeCover, coverData, coverFormat,
		bounds.Dx(), bounds.Dy(), true); err != nil {
		return err
	}

	thumb := imaging.Fit(img, cfg.ThumbnailSize, cfg.ThumbnailSize, imaging.Lanczos)
	thumbData, thumbFormat, err := m.encode(thumb, cfg)
	if err != nil {
		return err
	}
	tb := thumb.Bounds()
	return m.saveAsset(track, AssetTypeThumbnail, thumbData, thumbFormat,
		tb.Dx(), tb.Dy(), false)
}

// encode renders an image as WebP, or JPEG when WebP output is disabled
func (m *Manager) encode(img image.Image, cfg config.AssetConfig) ([]byte, string, error) {
	var buf bytes.Buffer
	if cfg.EnableWebP {
		opts := &webp.Options{Quality: float32(cfg.WebPQuality)}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, "", errors.NewInternalError("failed to encode WebP", err)
		}
		return buf.Bytes(), "webp", nil
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: cfg.WebPQuality}); err != nil {
		return nil, "", errors.NewInternalError("failed to encode JPEG", err)
	}
	return buf.Bytes(), "jpeg", nil
}

// saveAsset writes the file and upserts its database record. An
// existing record for the same entity, type and source is replaced and
// its old file removed when the content changed.
func (m *Manager) saveAsset(track *database.Track, assetType string, data []byte, format string, width, height int, preferred bool) error {
	relPath := assetPath(track.ID, assetType, data, format)
	fullPath := filepath.Join(m.assetsPath, relPath)

	var existing database.MediaAsset
	err := m.db.Where("entity_type = ? AND entity_id = ? AND type = ? AND source = ?",
		EntityTypeTrack, track.ID, assetType, SourceEmbedded).First(&existing).Error
	switch {
	case err == nil:
		if existing.Path == relPath {
			return nil
		}
		return m.replaceAsset(&existing, relPath, fullPath, data, format, width, height)
	case err != gorm.ErrRecordNotFound:
		return errors.NewStorageError("failed to check existing asset", err)
	}

	if err := writeAssetFile(fullPath, data); err != nil {
		return err
	}

	asset := &database.MediaAsset{
		ID:         uuid.NewString(),
		EntityType: EntityTypeTrack,
		EntityID:   track.ID,
		Type:       assetType,
		Source:     SourceEmbedded,
		Path:       relPath,
		Format:     format,
		Width:      width,
		Height:     height,
		Preferred:  preferred,
		SizeBytes:  int64(len(data)),
	}
	if err := m.db.Create(asset).Error; err != nil {
		os.Remove(fullPath)
		return errors.NewStorageError("failed to save asset record", err)
	}

	m.publishAssetEvent(events.EventAssetCreated, asset)
	return nil
}

func (m *Manager) replaceAsset(existing *database.MediaAsset, relPath, fullPath string, data []byte, format string, width, height int) error {
	if err := writeAssetFile(fullPath, data); err != nil {
		return err
	}

	oldPath := filepath.Join(m.assetsPath, existing.Path)
	updates := map[string]interface{}{
		"path":       relPath,
		"format":     format,
		"width":      width,
		"height":     height,
		"size_bytes": int64(len(data)),
		"updated_at": time.Now(),
	}
	if err := m.db.Model(&database.MediaAsset{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		os.Remove(fullPath)
		return errors.NewStorageError("failed to update asset record", err)
	}

	if oldPath != fullPath {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove superseded asset file %s: %v", oldPath, err)
		}
	}
	return nil
}

// GetAsset retrieves one asset record
func (m *Manager) GetAsset(id string) (*database.MediaAsset, error) {
	var asset database.MediaAsset
	if err := m.db.Where("id = ?", id).First(&asset).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("asset")
		}
		return nil, errors.NewStorageError("failed to get asset", err)
	}
	return &asset, nil
}

// GetAssetData reads an asset's file
func (m *Manager) GetAssetData(id string) ([]byte, *database.MediaAsset, error) {
	asset, err := m.GetAsset(id)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(filepath.Join(m.assetsPath, asset.Path))
	if err != nil {
		return nil, nil, errors.NewIOError("failed to read asset file", err)
	}
	return data, asset, nil
}

// ListForEntity retrieves the assets of one entity
func (m *Manager) ListForEntity(entityType, entityID string) ([]database.MediaAsset, error) {
	var assets []database.MediaAsset
	err := m.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("type").Find(&assets).Error
	if err != nil {
		return nil, errors.NewStorageError("failed to list assets", err)
	}
	return assets, nil
}

// PreferredCover retrieves the preferred cover asset of an entity
func (m *Manager) PreferredCover(entityType, entityID string) (*database.MediaAsset, error) {
	var asset database.MediaAsset
	err := m.db.Where("entity_type = ? AND entity_id = ? AND type = ? AND preferred = ?",
		entityType, entityID, AssetTypeCover, true).First(&asset).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NewNotFoundError("cover asset")
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to get cover asset", err)
	}
	return &asset, nil
}

// DeleteForEntity removes an entity's asset records and files
func (m *Manager) DeleteForEntity(entityType, entityID string) (int64, error) {
	assets, err := m.ListForEntity(entityType, entityID)
	if err != nil {
		return 0, err
	}
	if len(assets) == 0 {
		return 0, nil
	}

	ids := make([]string, len(assets))
	for i := range assets {
		ids[i] = assets[i].ID
	}
	res := m.db.Where("id IN ?", ids).Delete(&database.MediaAsset{})
	if res.Error != nil {
		return 0, errors.NewStorageError("failed to delete asset records", res.Error)
	}

	for i := range assets {
		path := filepath.Join(m.assetsPath, assets[i].Path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove asset file %s: %v", path, err)
		}
		m.publishAssetEvent(events.EventAssetRemoved, &assets[i])
	}
	return res.RowsAffected, nil
}

func (m *Manager) publishAssetEvent(eventType events.EventType, asset *database.MediaAsset) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.PublishAsync(events.NewEventWithData(eventType,
		"module:media.assets", "Asset "+string(eventType),
		fmt.Sprintf("%s %s for %s %s", asset.Type, eventType, asset.EntityType, asset.EntityID),
		map[string]interface{}{
			"asset_id":    asset.ID,
			"entity_type": asset.EntityType,
			"entity_id":   asset.EntityID,
			"type":        asset.Type,
			"format":      asset.Format,
		}))
}

// assetPath builds the sharded, content addressed relative path:
// {entity_type}/{entity_shard}/{type}_{source}_{content_hash}.{ext}
func assetPath(entityID, assetType string, data []byte, format string) string {
	entityHash := digest.Bytes([]byte(EntityTypeTrack + ":" + entityID)).Hex()
	contentHash := digest.Bytes(data).Hex()
	filename := fmt.Sprintf("%s_%s_%s.%s", assetType, SourceEmbedded, contentHash[:16], format)
	return filepath.Join(EntityTypeTrack, entityHash[:2], filename)
}

func writeAssetFile(fullPath string, data []byte) error {
	if err := utils.EnsureDir(filepath.Dir(fullPath)); err != nil {
		return errors.NewIOError("failed to create asset directory", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return errors.NewIOError("failed to write asset file", err)
	}
	return nil
}

// decodeImage decodes artwork bytes using the MIME type as a hint,
// falling back to content sniffing
func decodeImage(data []byte, mimeType string) (image.Image, error) {
	reader := bytes.NewReader(data)
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return jpeg.Decode(reader)
	case "image/png":
		return png.Decode(reader)
	case "image/gif":
		return gif.Decode(reader)
	case "image/webp":
		return webp.Decode(reader)
	default:
		return imaging.Decode(reader)
	}
}
