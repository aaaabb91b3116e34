package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	Redis        RedisConfig        `yaml:"redis"`
	Logger       LoggerConfig       `yaml:"logger"`
	Paths        PathsConfig        `yaml:"paths"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Placement    PlacementConfig    `yaml:"placement"`
	Recovery     RecoveryConfig     `yaml:"recovery"`
	Maintenance  MaintenanceConfig  `yaml:"maintenance"`
	Backup       BackupConfig       `yaml:"backup"`
	Notification NotificationConfig `yaml:"notification"`
	Nodes        []NodeConfig       `yaml:"nodes"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for the management API (optional, if empty, auth is disabled)
}

// StoreConfig persistent store configuration
type StoreConfig struct {
	Driver string      `yaml:"driver"` // sqlite, mysql
	SQLite SQLiteConfig `yaml:"sqlite"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// SQLiteConfig SQLite configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN builds the go-sql-driver DSN.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig Redis configuration (optional, used for job locks across replicas)
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// PathsConfig working directories
type PathsConfig struct {
	Projects      string `yaml:"projects"`       // uploaded artifacts
	Logs          string `yaml:"logs"`           // per-deployment stdout/stderr logs
	Backups       string `yaml:"backups"`        // store snapshots
	Exports       string `yaml:"exports"`        // export archives written by the upload layer
	ScriptBackups string `yaml:"script_backups"` // per-script backups
	Scratch       string `yaml:"scratch"`        // test-run scratch directories (empty = os temp dir)
}

// RuntimeConfig process runtime configuration
type RuntimeConfig struct {
	Interpreters     map[string]string `yaml:"interpreters"`      // extension -> interpreter
	StabilizeSeconds float64           `yaml:"stabilize_seconds"` // wait after spawn before confirming
	PollSeconds      float64           `yaml:"poll_seconds"`      // liveness probe interval
	SampleSeconds    float64           `yaml:"sample_seconds"`    // resource sampling interval
	RollUpSeconds    float64           `yaml:"rollup_seconds"`    // analytics roll-up interval
	StopGraceSeconds float64           `yaml:"stop_grace_seconds"`
	TestRunTimeout   int               `yaml:"test_run_timeout"` // default test-run timeout (seconds)
	TestRunMaxOutput int               `yaml:"test_run_max_output"`
}

// PlacementConfig node placement configuration
type PlacementConfig struct {
	// EnforceCapacity turns placement into an admission gate: saturated nodes are skipped.
	// Off by default, placement is advisory.
	EnforceCapacity bool `yaml:"enforce_capacity"`
}

// RecoveryConfig crash recovery configuration
type RecoveryConfig struct {
	BackoffSeconds      float64 `yaml:"backoff_seconds"`       // delay before every auto-restart
	BackoffMaxSeconds   float64 `yaml:"backoff_max_seconds"`   // > backoff enables exponential backoff
	HealthyAfterSeconds float64 `yaml:"healthy_after_seconds"` // uptime that resets the consecutive crash counter
	Parallelism         int     `yaml:"parallelism"`           // cold-start sweep concurrency
}

// MaintenanceConfig background loop configuration
type MaintenanceConfig struct {
	SelfHealInterval      int `yaml:"self_heal_interval"`      // seconds
	CleanupInterval       int `yaml:"cleanup_interval"`        // seconds
	NodeReconcileInterval int `yaml:"node_reconcile_interval"` // seconds
	LogRetentionDays      int `yaml:"log_retention_days"`
	ExportRetentionDays   int `yaml:"export_retention_days"`
	ScriptBackupDays      int `yaml:"script_backup_days"`
}

// BackupConfig store snapshot configuration
type BackupConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval int      `yaml:"interval"` // seconds
	Keep     int      `yaml:"keep"`     // most recent archives retained
	S3       S3Config `yaml:"s3"`
}

// S3Config optional S3-compatible mirror for snapshots
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// NotificationConfig user notification configuration
type NotificationConfig struct {
	WebhookURL string `yaml:"webhook_url"` // optional, JSON POST per notification
}

// NodeConfig static node definition
type NodeConfig struct {
	Name     string `yaml:"name"`
	Region   string `yaml:"region"`
	Status   string `yaml:"status"`
	Capacity int    `yaml:"capacity"`
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults and env overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BOTHOST_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("BOTHOST_WEBHOOK_URL"); v != "" {
		c.Notification.WebhookURL = v
	}
}

// Seconds converts a fractional seconds setting into a duration.
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
