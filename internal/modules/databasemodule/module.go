package databasemodule

import (
	"fmt"
	"sync"

	"github.com/mantonx/cadenza/internal/config"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/modules/modulemanager"
	"gorm.io/gorm"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the database module
	ModuleID = "system.database"

	// ModuleName is the display name for the database module
	ModuleName = "Database Gatekeeper"
)

// Module is the single point of access to the persistence layer. It owns
// the admission gate, the blocking executor and the transaction manager
// that every other module goes through for storage work.
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus

	gate     *Gate
	executor *Executor
	txMgr    *TransactionManager

	mu          sync.RWMutex
	initialized bool
}

// NewModule creates a new database module
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

// Migrate ensures the system event table exists for persisted events
func (m *Module) Migrate(db *gorm.DB) error {
	logger.Info("Migrating database module schema")

	if err := db.AutoMigrate(&events.SystemEvent{}); err != nil {
		return fmt.Errorf("failed to migrate system events table: %w", err)
	}

	return nil
}

// Init initializes the database module
func (m *Module) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	logger.Info("Initializing database module")

	if m.db == nil {
		m.db = database.GetDB()
		if m.db == nil {
			return fmt.Errorf("database connection is not available")
		}
	}

	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}

	workers := 1
	if cfg := config.Get(); cfg != nil {
		workers = cfg.Database.BlockingWorkers
	}

	m.gate = NewGate()
	m.executor = NewExecutor(workers)
	m.executor.Start()
	m.txMgr = NewTransactionManager(m.db, m.gate, m.executor)

	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewModuleLifecycleEvent(
			events.EventModuleInitialized, ModuleID, ModuleName, "initialized"))
	}

	m.initialized = true
	logger.Info("✅ Database module initialized (blocking workers: %d)", workers)

	return nil
}

// Shutdown closes the gate and drains the executor. Queued waiters fail
// with ErrGateClosed; admitted work finishes first.
func (m *Module) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return
	}

	m.gate.Close()
	m.executor.Stop()
	m.initialized = false

	logger.Info("Database module shut down")
}

// Gate returns the admission gate
func (m *Module) Gate() *Gate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gate
}

// Executor returns the blocking executor
func (m *Module) Executor() *Executor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.executor
}

// Transactions returns the transaction manager
func (m *Module) Transactions() *TransactionManager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.txMgr
}

// Health performs a health check on the database module
func (m *Module) Health() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return fmt.Errorf("database module not initialized")
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// GetStats returns gate, executor and connection statistics
func (m *Module) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]interface{})

	if m.gate != nil {
		stats["gate"] = m.gate.Stats()
	}
	if m.executor != nil {
		stats["executor"] = map[string]interface{}{
			"workers":     m.executor.Workers(),
			"queue_depth": m.executor.QueueDepth(),
		}
	}
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			dbStats := sqlDB.Stats()
			stats["connections"] = map[string]interface{}{
				"open_connections": dbStats.OpenConnections,
				"in_use":           dbStats.InUse,
				"idle":             dbStats.Idle,
				"wait_count":       dbStats.WaitCount,
				"wait_duration":    dbStats.WaitDuration.String(),
			}
		}
	}

	return stats
}

// Register registers this module with the module system
func Register() {
	module := &Module{}
	modulemanager.Register(module)
}
