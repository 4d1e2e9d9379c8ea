package assetmodule

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/config"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
	"github.com/mantonx/cadenza/internal/modules/mediamodule"
	"github.com/mantonx/cadenza/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the asset module
	ModuleID = "media.assets"

	// ModuleName is the display name for the asset module
	ModuleName = "Media Assets"
)

// Module extracts and serves artwork for imported tracks
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus

	manager *Manager

	mu          sync.RWMutex
	initialized bool
}

// NewModule creates a new asset module
func NewModule(db *gorm.DB, eventBus events.EventBus) *Module {
	return &Module{
		db:       db,
		eventBus: eventBus,
	}
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return false
}

// Dependencies declares the modules that must initialize first
func (m *Module) Dependencies() []string {
	return []string{databasemodule.ModuleID, mediamodule.ModuleID}
}

// Migrate ensures the asset table exists
func (m *Module) Migrate(db *gorm.DB) error {
	logger.Info("Migrating asset module schema")
	return db.AutoMigrate(&database.MediaAsset{})
}

// Init prepares the asset store and hooks artwork extraction into the
// importer
func (m *Module) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	logger.Info("Initializing asset module")

	if m.db == nil {
		m.db = database.GetDB()
		if m.db == nil {
			return fmt.Errorf("database connection is not available")
		}
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}

	m.manager = NewManager(m.db, m.eventBus)
	if err := m.manager.Initialize(); err != nil {
		return err
	}

	if config.Get().Assets.EnableExtraction {
		mod, ok := modulemanager.GetModule(mediamodule.ModuleID)
		if !ok {
			return fmt.Errorf("media module is not registered")
		}
		mediaMod, ok := mod.(*mediamodule.Module)
		if !ok {
			return fmt.Errorf("unexpected media module type %T", mod)
		}
		importer := mediaMod.Importer()
		if importer == nil {
			return fmt.Errorf("media module is not initialized")
		}
		importer.SetArtworkSink(m.manager)
		logger.Info("Artwork extraction enabled")
	}

	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewModuleLifecycleEvent(
			events.EventModuleInitialized, ModuleID, ModuleName, "initialized"))
	}

	m.initialized = true
	logger.Info("✅ Asset module initialized")

	return nil
}

// Manager returns the asset manager
func (m *Module) Manager() *Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manager
}

// Register registers this module with the module system
func Register() {
	module := &Module{}
	modulemanager.Register(module)
}
