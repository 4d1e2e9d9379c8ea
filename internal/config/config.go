package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Sync engine configuration
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Artwork/asset configuration
	Assets AssetConfig `yaml:"assets" json:"assets"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Performance configuration
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"CADENZA_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" json:"port" env:"CADENZA_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"CADENZA_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"CADENZA_WRITE_TIMEOUT" default:"30s"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors" env:"CADENZA_ENABLE_CORS" default:"true"`
}

// DatabaseConfig holds persistence configuration, including the limits for
// the admission-controlled access layer.
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER" default:"cadenza"`
	Password        string        `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB" default:"cadenza"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"CADENZA_DATA_DIR" default:"./cadenza-data"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"CADENZA_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"50"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"2h"`
	BlockingWorkers int           `yaml:"blocking_workers" json:"blocking_workers" env:"DB_BLOCKING_WORKERS" default:"8"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// SyncConfig holds configuration for the media-source synchronization engine
type SyncConfig struct {
	WorkerCount      int           `yaml:"worker_count" json:"worker_count" env:"CADENZA_WORKER_COUNT" default:"0"`
	BatchSize        int           `yaml:"batch_size" json:"batch_size" env:"CADENZA_BATCH_SIZE" default:"50"`
	ExcludePaths     []string      `yaml:"exclude_paths" json:"exclude_paths" env:"CADENZA_EXCLUDE_PATHS"`
	IgnorePatterns   []string      `yaml:"ignore_patterns" json:"ignore_patterns" env:"CADENZA_IGNORE_PATTERNS"`
	AllowedMimeTypes []string      `yaml:"allowed_mime_types" json:"allowed_mime_types" env:"CADENZA_ALLOWED_MIME_TYPES"`
	MaxFileSize      int64         `yaml:"max_file_size" json:"max_file_size" env:"CADENZA_MAX_FILE_SIZE" default:"10737418240"`
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval" env:"CADENZA_PROGRESS_INTERVAL" default:"2s"`
	UntrackCascade   bool          `yaml:"untrack_cascade" json:"untrack_cascade" env:"CADENZA_UNTRACK_CASCADE" default:"false"`
}

// AssetConfig holds artwork extraction configuration
type AssetConfig struct {
	DataDir          string `yaml:"data_dir" json:"data_dir" env:"CADENZA_ASSETS_DIR"`
	EnableExtraction bool   `yaml:"enable_extraction" json:"enable_extraction" env:"CADENZA_ARTWORK_EXTRACTION" default:"true"`
	EnableWebP       bool   `yaml:"enable_webp" json:"enable_webp" env:"CADENZA_ENABLE_WEBP" default:"true"`
	ThumbnailSize    int    `yaml:"thumbnail_size" json:"thumbnail_size" env:"CADENZA_THUMBNAIL_SIZE" default:"300"`
	WebPQuality      int    `yaml:"webp_quality" json:"webp_quality" env:"CADENZA_WEBP_QUALITY" default:"90"`
	MaxFileSize      int64  `yaml:"max_file_size" json:"max_file_size" env:"CADENZA_MAX_ASSET_SIZE" default:"52428800"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" default:"text"`
}

// PerformanceConfig holds performance-related configuration
type PerformanceConfig struct {
	MaxConcurrentScans       int     `yaml:"max_concurrent_scans" json:"max_concurrent_scans" env:"CADENZA_MAX_CONCURRENT_SCANS" default:"2"`
	MemoryThreshold          float64 `yaml:"memory_threshold" json:"memory_threshold" env:"CADENZA_MEMORY_THRESHOLD" default:"85.0"`
	CPUThreshold             float64 `yaml:"cpu_threshold" json:"cpu_threshold" env:"CADENZA_CPU_THRESHOLD" default:"80.0"`
	EnableAdaptiveThrottling bool    `yaml:"enable_adaptive_throttling" json:"enable_adaptive_throttling" env:"CADENZA_ADAPTIVE_THROTTLING" default:"true"`
}

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config:   DefaultConfig(),
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			DataDir:         "./cadenza-data",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 2 * time.Hour,
			BlockingWorkers: 8,
			LogQueries:      false,
		},
		Sync: SyncConfig{
			WorkerCount:      0, // Auto-detect
			BatchSize:        50,
			ExcludePaths:     []string{},
			IgnorePatterns:   []string{".*", "Thumbs.db", ".DS_Store", "desktop.ini"},
			AllowedMimeTypes: []string{"audio/*"},
			MaxFileSize:      10 * 1024 * 1024 * 1024, // 10GB
			ProgressInterval: 2 * time.Second,
			UntrackCascade:   false,
		},
		Assets: AssetConfig{
			EnableExtraction: true,
			EnableWebP:       true,
			ThumbnailSize:    300,
			WebPQuality:      90,
			MaxFileSize:      50 * 1024 * 1024, // 50MB
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Performance: PerformanceConfig{
			MaxConcurrentScans:       2,
			MemoryThreshold:          85.0,
			CPUThreshold:             80.0,
			EnableAdaptiveThrottling: true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := *cm.config
	cm.configPath = configPath

	// Start with default configuration
	newConfig := DefaultConfig()

	// Load from file if it exists
	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := cm.loadFromEnv(newConfig); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cm.validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Apply derived configurations
	cm.applyDerivedConfig(newConfig)

	cm.config = newConfig

	// Notify watchers of config change
	for _, watcher := range cm.watchers {
		go watcher(&oldConfig, newConfig)
	}

	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modifications
	configCopy := *cm.config
	return &configCopy
}

// ConfigPath returns the path the configuration was loaded from, if any
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// SaveConfig saves the current configuration to file
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	return cm.saveToFile(cm.configPath, cm.config)
}

// Helper methods

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func (cm *ConfigManager) saveToFile(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (cm *ConfigManager) loadFromEnv(config *Config) error {
	return loadStructFromEnv(reflect.ValueOf(config).Elem())
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		} else if field.Type().Elem().Kind() == reflect.Int {
			stringValues := strings.Split(value, ",")
			intValues := make([]int, len(stringValues))
			for i, v := range stringValues {
				intVal, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil {
					return err
				}
				intValues[i] = intVal
			}
			field.Set(reflect.ValueOf(intValues))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Sync.WorkerCount < 0 {
		return fmt.Errorf("invalid worker count: %d", config.Sync.WorkerCount)
	}

	if config.Database.BlockingWorkers < 1 {
		return fmt.Errorf("invalid blocking worker count: %d", config.Database.BlockingWorkers)
	}

	if config.Assets.ThumbnailSize <= 0 {
		return fmt.Errorf("invalid thumbnail size: %d", config.Assets.ThumbnailSize)
	}

	return nil
}

func (cm *ConfigManager) applyDerivedConfig(config *Config) {
	// Set derived database path if not explicitly set
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "cadenza.db")
	}

	// Set derived asset data dir if not explicitly set
	if config.Assets.DataDir == "" {
		config.Assets.DataDir = filepath.Join(config.Database.DataDir, "artwork")
	}

	// Auto-detect worker count if not set
	if config.Sync.WorkerCount == 0 {
		config.Sync.WorkerCount = min(max(1, runtime.NumCPU()), 16)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}

// Save saves the current configuration
func Save() error {
	return GetConfigManager().SaveConfig()
}
