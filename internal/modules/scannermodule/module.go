package scannermodule

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
	"github.com/mantonx/cadenza/internal/modules/mediamodule"
	"github.com/mantonx/cadenza/internal/modules/modulemanager"
	"github.com/mantonx/cadenza/internal/modules/scannermodule/scanner"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the scanner module
	ModuleID = "system.scanner"

	// ModuleName is the display name for the scanner module
	ModuleName = "Library Scanner"
)

// Module runs digest based reconciliation of media libraries against
// their filesystem trees
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus

	manager   *Manager
	throttler *scanner.Throttler

	mu          sync.RWMutex
	initialized bool
}

// NewModule creates a new scanner module
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
	return true
}

// Dependencies declares the modules that must initialize first
func (m *Module) Dependencies() []string {
	return []string{databasemodule.ModuleID, mediamodule.ModuleID}
}

// Migrate ensures the tracking tables exist
func (m *Module) Migrate(db *gorm.DB) error {
	logger.Info("Migrating scanner module schema")

	return db.AutoMigrate(
		&database.TrackedDirectory{},
		&database.ScanJob{},
	)
}

// Init wires the scan manager against the gatekeeper and the media
// importer, then recovers jobs orphaned by the previous shutdown
func (m *Module) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	logger.Info("Initializing scanner module")

	if m.db == nil {
		m.db = database.GetDB()
		if m.db == nil {
			return fmt.Errorf("database connection is not available")
		}
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}

	dbMod, err := resolveDatabaseModule()
	if err != nil {
		return err
	}
	mediaMod, err := resolveMediaModule()
	if err != nil {
		return err
	}

	m.manager = NewManager(m.db, m.eventBus, dbMod.Transactions(), mediaMod.Importer())

	settings := scanner.CurrentSettings()
	if settings.ThrottlingEnabled {
		m.throttler = scanner.NewThrottler(settings.CPUThreshold, settings.MemoryThreshold)
		m.throttler.Start()
		m.manager.SetThrottler(m.throttler)
		logger.Info("Adaptive scan throttling enabled (cpu %.0f%%, mem %.0f%%)",
			settings.CPUThreshold, settings.MemoryThreshold)
	}

	if err := m.manager.RecoverOrphanedJobs(); err != nil {
		logger.Warn("Scan job recovery failed: %v", err)
	}

	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewModuleLifecycleEvent(
			events.EventModuleInitialized, ModuleID, ModuleName, "initialized"))
	}

	m.initialized = true
	logger.Info("✅ Scanner module initialized")

	return nil
}

// Shutdown pauses running scans and stops the throttler
func (m *Module) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return
	}

	m.manager.Shutdown()
	if m.throttler != nil {
		m.throttler.Stop()
	}
	m.initialized = false

	logger.Info("Scanner module shut down")
}

// Manager returns the scan manager
func (m *Module) Manager() *Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manager
}

func resolveDatabaseModule() (*databasemodule.Module, error) {
	mod, ok := modulemanager.GetModule(databasemodule.ModuleID)
	if !ok {
		return nil, fmt.Errorf("database module is not registered")
	}
	dbMod, ok := mod.(*databasemodule.Module)
	if !ok {
		return nil, fmt.Errorf("unexpected database module type %T", mod)
	}
	if dbMod.Transactions() == nil {
		return nil, fmt.Errorf("database module is not initialized")
	}
	return dbMod, nil
}

func resolveMediaModule() (*mediamodule.Module, error) {
	mod, ok := modulemanager.GetModule(mediamodule.ModuleID)
	if !ok {
		return nil, fmt.Errorf("media module is not registered")
	}
	mediaMod, ok := mod.(*mediamodule.Module)
	if !ok {
		return nil, fmt.Errorf("unexpected media module type %T", mod)
	}
	if mediaMod.Importer() == nil {
		return nil, fmt.Errorf("media module is not initialized")
	}
	return mediaMod, nil
}

// Register registers this module with the module system
func Register() {
	module := &Module{}
	modulemanager.Register(module)
}
