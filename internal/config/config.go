// Package config provides centralized configuration management for the
// ScrapperTV client. It handles configuration loading from multiple sources
// (files, environment variables), validation, and provides typed
// configuration structures for the connection, fetch, storage, scheduling,
// and export layers.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" yaml:"app_name" env:"SCRAPPERTV_APP_NAME"`
	Version    string `json:"version" yaml:"version" env:"SCRAPPERTV_VERSION"`
	ConfigPath string `json:"-" yaml:"-" env:"SCRAPPERTV_CONFIG_PATH"`

	// Connection configuration
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Fetch configuration
	Fetch FetchConfig `json:"fetch" yaml:"fetch"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Schedule configuration
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`

	// Export configuration
	Export ExportConfig `json:"export" yaml:"export"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// ConnectionConfig configures the websocket connection layer
type ConnectionConfig struct {
	Host                  string  `json:"host" yaml:"host" env:"SCRAPPERTV_HOST"`                               // Server host: data, prodata, widgetdata
	ConnType              string  `json:"conn_type" yaml:"conn_type" env:"SCRAPPERTV_CONN_TYPE"`                // Connection type query parameter
	AuthCookie            string  `json:"auth_cookie" yaml:"auth_cookie" env:"SCRAPPERTV_AUTH_COOKIE"`          // Session cookie for authenticated token resolution
	ConnectTimeout        string  `json:"connect_timeout" yaml:"connect_timeout"`                               // Ceiling for a single connection attempt
	ReadTimeout           string  `json:"read_timeout" yaml:"read_timeout"`                                     // Read deadline, refreshed on every inbound frame
	WriteInterval         string  `json:"write_interval" yaml:"write_interval"`                                 // Minimum spacing between outbound command frames
	ReconnectInitialDelay string  `json:"reconnect_initial_delay" yaml:"reconnect_initial_delay"`               // First reconnect delay
	ReconnectMaxDelay     string  `json:"reconnect_max_delay" yaml:"reconnect_max_delay"`                       // Reconnect delay ceiling
	ReconnectMultiplier   float64 `json:"reconnect_multiplier" yaml:"reconnect_multiplier"`                     // Growth factor between reconnect attempts
}

// FetchConfig configures series fetch behavior
type FetchConfig struct {
	Timeout             string `json:"timeout" yaml:"timeout"`                                                       // Overall deadline for a single fetch
	DefaultTargetAmount int    `json:"default_target_amount" yaml:"default_target_amount" env:"SCRAPPERTV_TARGET"`   // Bars requested when the caller gives no amount
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	Type         string `json:"type" yaml:"type" env:"SCRAPPERTV_STORAGE_TYPE"`                // "memory", "duckdb", "sqlite"
	DatabasePath string `json:"database_path" yaml:"database_path" env:"SCRAPPERTV_DB_PATH"`   // Database file path for file-backed stores
	BatchSize    int    `json:"batch_size" yaml:"batch_size" env:"SCRAPPERTV_BATCH_SIZE"`      // Batch size for bulk writes
	QueryTimeout string `json:"query_timeout" yaml:"query_timeout"`                            // Query execution timeout
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"SCRAPPERTV_LOG_LEVEL"`          // Log level: debug, info, warn, error
	Format     string `json:"format" yaml:"format" env:"SCRAPPERTV_LOG_FORMAT"`       // Log format: json, text
	Output     string `json:"output" yaml:"output" env:"SCRAPPERTV_LOG_OUTPUT"`       // Output: stdout, stderr, file
	FilePath   string `json:"file_path" yaml:"file_path" env:"SCRAPPERTV_LOG_FILE"`   // Log file path
	MaxSize    int    `json:"max_size" yaml:"max_size"`                               // Maximum log file size in MB
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`                         // Maximum log file backups
	MaxAge     int    `json:"max_age" yaml:"max_age"`                                 // Maximum log file age in days
	Compress   bool   `json:"compress" yaml:"compress"`                               // Compress old log files
}

// ScheduleConfig configures recurring collection jobs
type ScheduleConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled" env:"SCRAPPERTV_SCHEDULE_ENABLED"`   // Enable scheduled collection
	Cron          string   `json:"cron" yaml:"cron" env:"SCRAPPERTV_SCHEDULE_CRON"`            // Cron expression for job firing
	Symbols       []string `json:"symbols" yaml:"symbols" env:"SCRAPPERTV_SYMBOLS"`            // Symbols collected per run
	Timeframes    []string `json:"timeframes" yaml:"timeframes" env:"SCRAPPERTV_TIMEFRAMES"`   // Timeframes collected per symbol
	TargetAmount  int      `json:"target_amount" yaml:"target_amount"`                         // Bars requested per job
	JobTimeout    string   `json:"job_timeout" yaml:"job_timeout"`                             // Deadline for one scheduled run
	MaxConcurrent int      `json:"max_concurrent" yaml:"max_concurrent"`                       // Concurrent fetches per run
}

// ExportConfig configures series export output
type ExportConfig struct {
	OutputDir  string `json:"output_dir" yaml:"output_dir" env:"SCRAPPERTV_EXPORT_DIR"`   // Directory for exported files
	Format     string `json:"format" yaml:"format" env:"SCRAPPERTV_EXPORT_FORMAT"`        // Default export format: csv, json, chart
	ChartTheme string `json:"chart_theme" yaml:"chart_theme"`                             // Theme for kline chart rendering
}

// MetricsConfig configures runtime counters
type MetricsConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"SCRAPPERTV_METRICS_ENABLED"` // Enable counter collection
	LogInterval string `json:"log_interval" yaml:"log_interval"`                        // Interval between counter snapshots in the log
}

// Manager handles configuration loading, validation, and persistence
type Manager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewManager creates a new configuration manager
func NewManager(configPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		configPath: configPath,
		logger:     logger,
	}
}

// Load loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (m *Manager) Load(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	// Load from configuration file if it exists
	if m.configPath != "" {
		if err := m.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	m.loadFromEnv(config)

	// Validate the final configuration
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = config
	m.logger.Info("configuration loaded",
		"config_path", m.configPath,
		"host", config.Connection.Host,
		"storage_type", config.Storage.Type,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file, decided by
// the file extension.
func (m *Manager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.logger.Debug("config file does not exist, using defaults", "path", m.configPath)
		return nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", m.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(m.configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
		}
	}

	m.logger.Debug("loaded configuration from file", "path", m.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (m *Manager) loadFromEnv(config *AppConfig) {
	if val := os.Getenv("SCRAPPERTV_APP_NAME"); val != "" {
		config.AppName = val
	}
	if val := os.Getenv("SCRAPPERTV_VERSION"); val != "" {
		config.Version = val
	}

	// Connection config
	if val := os.Getenv("SCRAPPERTV_HOST"); val != "" {
		config.Connection.Host = val
	}
	if val := os.Getenv("SCRAPPERTV_CONN_TYPE"); val != "" {
		config.Connection.ConnType = val
	}
	if val := os.Getenv("SCRAPPERTV_AUTH_COOKIE"); val != "" {
		config.Connection.AuthCookie = val
	}

	// Fetch config
	if val := os.Getenv("SCRAPPERTV_TARGET"); val != "" {
		if target, err := strconv.Atoi(val); err == nil {
			config.Fetch.DefaultTargetAmount = target
		}
	}

	// Storage config
	if val := os.Getenv("SCRAPPERTV_STORAGE_TYPE"); val != "" {
		config.Storage.Type = val
	}
	if val := os.Getenv("SCRAPPERTV_DB_PATH"); val != "" {
		config.Storage.DatabasePath = val
	}
	if val := os.Getenv("SCRAPPERTV_BATCH_SIZE"); val != "" {
		if batchSize, err := strconv.Atoi(val); err == nil {
			config.Storage.BatchSize = batchSize
		}
	}

	// Logging config
	if val := os.Getenv("SCRAPPERTV_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("SCRAPPERTV_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("SCRAPPERTV_LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("SCRAPPERTV_LOG_FILE"); val != "" {
		config.Logging.FilePath = val
	}

	// Schedule config
	if val := os.Getenv("SCRAPPERTV_SCHEDULE_ENABLED"); val != "" {
		config.Schedule.Enabled = val == "true"
	}
	if val := os.Getenv("SCRAPPERTV_SCHEDULE_CRON"); val != "" {
		config.Schedule.Cron = val
	}
	if val := os.Getenv("SCRAPPERTV_SYMBOLS"); val != "" {
		config.Schedule.Symbols = strings.Split(val, ",")
	}
	if val := os.Getenv("SCRAPPERTV_TIMEFRAMES"); val != "" {
		config.Schedule.Timeframes = strings.Split(val, ",")
	}

	// Export config
	if val := os.Getenv("SCRAPPERTV_EXPORT_DIR"); val != "" {
		config.Export.OutputDir = val
	}
	if val := os.Getenv("SCRAPPERTV_EXPORT_FORMAT"); val != "" {
		config.Export.Format = val
	}

	// Metrics config
	if val := os.Getenv("SCRAPPERTV_METRICS_ENABLED"); val != "" {
		config.Metrics.Enabled = val == "true"
	}
}

// Validate validates the configuration for consistency and required fields
func Validate(config *AppConfig) error {
	var errors []string

	// Validate connection configuration
	validHosts := map[string]bool{"data": true, "prodata": true, "widgetdata": true}
	if !validHosts[config.Connection.Host] {
		errors = append(errors, "connection.host must be one of: data, prodata, widgetdata")
	}
	if config.Connection.ConnType == "" {
		errors = append(errors, "connection.conn_type is required")
	}
	if config.Connection.ReconnectMultiplier <= 1.0 {
		errors = append(errors, "connection.reconnect_multiplier must be greater than 1.0")
	}
	for name, val := range map[string]string{
		"connection.connect_timeout":         config.Connection.ConnectTimeout,
		"connection.read_timeout":            config.Connection.ReadTimeout,
		"connection.write_interval":          config.Connection.WriteInterval,
		"connection.reconnect_initial_delay": config.Connection.ReconnectInitialDelay,
		"connection.reconnect_max_delay":     config.Connection.ReconnectMaxDelay,
		"fetch.timeout":                      config.Fetch.Timeout,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			errors = append(errors, fmt.Sprintf("%s is not a valid duration: %v", name, err))
		}
	}

	// Validate fetch configuration
	if config.Fetch.DefaultTargetAmount <= 0 {
		errors = append(errors, "fetch.default_target_amount must be greater than 0")
	}

	// Validate storage configuration
	validStorageTypes := map[string]bool{"memory": true, "duckdb": true, "sqlite": true}
	if !validStorageTypes[config.Storage.Type] {
		errors = append(errors, "storage.type must be one of: memory, duckdb, sqlite")
	}
	if config.Storage.Type != "memory" && config.Storage.DatabasePath == "" {
		errors = append(errors, fmt.Sprintf("storage.database_path is required for %s storage", config.Storage.Type))
	}
	if config.Storage.BatchSize <= 0 {
		errors = append(errors, "storage.batch_size must be greater than 0")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	// Validate schedule configuration
	if config.Schedule.Enabled {
		if config.Schedule.Cron == "" {
			errors = append(errors, "schedule.cron is required when schedule is enabled")
		}
		if len(config.Schedule.Symbols) == 0 {
			errors = append(errors, "schedule.symbols must not be empty when schedule is enabled")
		}
		if len(config.Schedule.Timeframes) == 0 {
			errors = append(errors, "schedule.timeframes must not be empty when schedule is enabled")
		}
		if config.Schedule.MaxConcurrent <= 0 {
			errors = append(errors, "schedule.max_concurrent must be greater than 0")
		}
		if _, err := time.ParseDuration(config.Schedule.JobTimeout); err != nil {
			errors = append(errors, fmt.Sprintf("schedule.job_timeout is not a valid duration: %v", err))
		}
	}

	// Validate export configuration
	validExportFormats := map[string]bool{"csv": true, "json": true, "chart": true}
	if !validExportFormats[config.Export.Format] {
		errors = append(errors, "export.format must be one of: csv, json, chart")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Get returns the current configuration
func (m *Manager) Get() *AppConfig {
	return m.config
}

// Save saves the current configuration to the config file
func (m *Manager) Save(ctx context.Context) error {
	if m.configPath == "" {
		return fmt.Errorf("no config path specified")
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(m.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(m.config)
	default:
		data, err = json.MarshalIndent(m.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.logger.Info("configuration saved", "path", m.configPath)
	return nil
}

// WriteDefault writes the default configuration to the manager's path,
// replacing whatever is currently loaded. Used by config init.
func (m *Manager) WriteDefault(ctx context.Context) error {
	m.config = DefaultConfig()
	m.config.ConfigPath = m.configPath
	return m.Save(ctx)
}

// Duration parses a duration string, falling back to a default when the
// value is empty or malformed. Validation already rejects malformed values
// in loaded configs; the fallback covers zero-value structs in tests.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "scrappertv",
		Version: "1.0.0",
		Connection: ConnectionConfig{
			Host:                  "data",
			ConnType:              "chart",
			AuthCookie:            "",
			ConnectTimeout:        "30s",
			ReadTimeout:           "90s",
			WriteInterval:         "50ms",
			ReconnectInitialDelay: "5s",
			ReconnectMaxDelay:     "60s",
			ReconnectMultiplier:   1.5,
		},
		Fetch: FetchConfig{
			Timeout:             "2m",
			DefaultTargetAmount: 300,
		},
		Storage: StorageConfig{
			Type:         "memory",
			DatabasePath: "./data/scrappertv.db",
			BatchSize:    1000,
			QueryTimeout: "30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
		},
		Schedule: ScheduleConfig{
			Enabled:       false,
			Cron:          "0 * * * *",
			Symbols:       []string{"BINANCE:BTCUSDT"},
			Timeframes:    []string{"60", "240"},
			TargetAmount:  500,
			JobTimeout:    "10m",
			MaxConcurrent: 2,
		},
		Export: ExportConfig{
			OutputDir:  "./exports",
			Format:     "csv",
			ChartTheme: "westeros",
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			LogInterval: "1m",
		},
	}
}

// String returns a string representation of the configuration (excluding
// sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Connection.AuthCookie != "" {
		sanitized.Connection.AuthCookie = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
