package mediamodule

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
	"github.com/mantonx/cadenza/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the media module
	ModuleID = "media.sources"

	// ModuleName is the display name for the media module
	ModuleName = "Media Sources"
)

// Module owns the media source catalog: libraries, sources, tracks and
// the import, export and replace machinery on top of them
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus

	pipeline *ReplacePipeline
	importer *Importer
	exporter *Exporter

	mu          sync.RWMutex
	initialized bool
}

// NewModule creates a new media module
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
	return []string{databasemodule.ModuleID}
}

// Migrate ensures the catalog tables exist
func (m *Module) Migrate(db *gorm.DB) error {
	logger.Info("Migrating media module schema")

	return db.AutoMigrate(
		&database.MediaLibrary{},
		&database.MediaSource{},
		&database.Track{},
	)
}

// Init wires the replace pipeline, importer and exporter against the
// database gatekeeper
func (m *Module) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	logger.Info("Initializing media module")

	if m.db == nil {
		m.db = database.GetDB()
		if m.db == nil {
			return fmt.Errorf("database connection is not available")
		}
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}

	txMgr, err := transactionManager()
	if err != nil {
		return err
	}

	m.pipeline = NewReplacePipeline(txMgr)
	m.importer = NewImporter(m.db, txMgr, m.pipeline, m.eventBus)
	m.exporter = NewExporter(m.db, txMgr, m.eventBus)

	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewModuleLifecycleEvent(
			events.EventModuleInitialized, ModuleID, ModuleName, "initialized"))
	}

	m.initialized = true
	logger.Info("✅ Media module initialized")

	return nil
}

// Importer returns the file importer
func (m *Module) Importer() *Importer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.importer
}

// Exporter returns the file exporter
func (m *Module) Exporter() *Exporter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exporter
}

// Pipeline returns the track replace pipeline
func (m *Module) Pipeline() *ReplacePipeline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipeline
}

// transactionManager resolves the gatekeeper's transaction manager from
// the module registry
func transactionManager() (*databasemodule.TransactionManager, error) {
	mod, ok := modulemanager.GetModule(databasemodule.ModuleID)
	if !ok {
		return nil, fmt.Errorf("database module is not registered")
	}
	dbMod, ok := mod.(*databasemodule.Module)
	if !ok {
		return nil, fmt.Errorf("unexpected database module type %T", mod)
	}
	txMgr := dbMod.Transactions()
	if txMgr == nil {
		return nil, fmt.Errorf("database module is not initialized")
	}
	return txMgr, nil
}

// Register registers this module with the module system
func Register() {
	module := &Module{}
	modulemanager.Register(module)
}
