package config

import (
	"errors"
	"fmt"
)

var defaultNodes = []NodeConfig{
	{Name: "Node-1", Region: "Asia", Status: "active", Capacity: 300},
	{Name: "Node-2", Region: "Asia", Status: "active", Capacity: 300},
	{Name: "Node-3", Region: "Europe", Status: "active", Capacity: 300},
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 10000
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "data/bothost.db"
	}
	if c.Store.MySQL.Port == 0 {
		c.Store.MySQL.Port = 3306
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Output == "" {
		c.Logger.Output = "console"
	}
	if c.Logger.File.Path == "" {
		c.Logger.File.Path = "logs/system/bothost.log"
	}
	if c.Logger.File.MaxSizeMB == 0 {
		c.Logger.File.MaxSizeMB = 100
	}
	if c.Logger.File.MaxBackups == 0 {
		c.Logger.File.MaxBackups = 10
	}

	if c.Paths.Projects == "" {
		c.Paths.Projects = "projects"
	}
	if c.Paths.Logs == "" {
		c.Paths.Logs = "logs"
	}
	if c.Paths.Backups == "" {
		c.Paths.Backups = "backups"
	}
	if c.Paths.Exports == "" {
		c.Paths.Exports = "exports"
	}
	if c.Paths.ScriptBackups == "" {
		c.Paths.ScriptBackups = "script_backups"
	}

	if len(c.Runtime.Interpreters) == 0 {
		c.Runtime.Interpreters = map[string]string{
			".py": "python3",
			".js": "node",
			".sh": "sh",
		}
	}
	if c.Runtime.StabilizeSeconds == 0 {
		c.Runtime.StabilizeSeconds = 2
	}
	if c.Runtime.PollSeconds == 0 {
		c.Runtime.PollSeconds = 5
	}
	if c.Runtime.SampleSeconds == 0 {
		c.Runtime.SampleSeconds = 30
	}
	if c.Runtime.RollUpSeconds == 0 {
		c.Runtime.RollUpSeconds = 3600
	}
	if c.Runtime.StopGraceSeconds == 0 {
		c.Runtime.StopGraceSeconds = 5
	}
	if c.Runtime.TestRunTimeout == 0 {
		c.Runtime.TestRunTimeout = 30
	}
	if c.Runtime.TestRunMaxOutput == 0 {
		c.Runtime.TestRunMaxOutput = 2000
	}

	if c.Recovery.BackoffSeconds == 0 {
		c.Recovery.BackoffSeconds = 5
	}
	if c.Recovery.BackoffMaxSeconds < c.Recovery.BackoffSeconds {
		c.Recovery.BackoffMaxSeconds = c.Recovery.BackoffSeconds
	}
	if c.Recovery.HealthyAfterSeconds == 0 {
		c.Recovery.HealthyAfterSeconds = 60
	}
	if c.Recovery.Parallelism == 0 {
		c.Recovery.Parallelism = 4
	}

	if c.Maintenance.SelfHealInterval == 0 {
		c.Maintenance.SelfHealInterval = 60
	}
	if c.Maintenance.CleanupInterval == 0 {
		c.Maintenance.CleanupInterval = 3600
	}
	if c.Maintenance.NodeReconcileInterval == 0 {
		c.Maintenance.NodeReconcileInterval = 600
	}
	if c.Maintenance.LogRetentionDays == 0 {
		c.Maintenance.LogRetentionDays = 30
	}
	if c.Maintenance.ExportRetentionDays == 0 {
		c.Maintenance.ExportRetentionDays = 7
	}
	if c.Maintenance.ScriptBackupDays == 0 {
		c.Maintenance.ScriptBackupDays = 14
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 3600
	}
	if c.Backup.Keep == 0 {
		c.Backup.Keep = 30
	}
	if c.Backup.S3.Region == "" {
		c.Backup.S3.Region = "us-east-1"
	}

	if len(c.Nodes) == 0 {
		c.Nodes = append([]NodeConfig(nil), defaultNodes...)
	}
	for i := range c.Nodes {
		if c.Nodes[i].Status == "" {
			c.Nodes[i].Status = "active"
		}
	}
}

// Validate reports configuration errors that would break the supervisor at runtime.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode: unsupported mode %q", c.Server.Mode))
	}

	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver))
	}
	if c.Store.Driver == "mysql" && c.Store.MySQL.Host == "" {
		errs = append(errs, errors.New("store.mysql.host is required for the mysql driver"))
	}

	switch c.Logger.Output {
	case "console", "file", "both":
	default:
		errs = append(errs, fmt.Errorf("logger.output: unsupported output %q", c.Logger.Output))
	}

	if c.Recovery.Parallelism < 0 {
		errs = append(errs, errors.New("recovery.parallelism must not be negative"))
	}
	if c.Backup.Keep < 0 {
		errs = append(errs, errors.New("backup.keep must not be negative"))
	}

	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("nodes[%d]: name is required", i))
			continue
		}
		if seen[n.Name] {
			errs = append(errs, fmt.Errorf("nodes[%d]: duplicate node name %q", i, n.Name))
		}
		seen[n.Name] = true
		if n.Capacity < 0 {
			errs = append(errs, fmt.Errorf("nodes[%d]: capacity must not be negative", i))
		}
		if n.Status != "active" && n.Status != "inactive" {
			errs = append(errs, fmt.Errorf("nodes[%d]: status must be active or inactive", i))
		}
	}

	return errors.Join(errs...)
}
