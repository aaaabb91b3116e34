package deployment

import (
	"time"

	"bothost/pkg/config"
	"bothost/pkg/process"
)

// Options holds supervisor paths and timings
type Options struct {
	ProjectsDir      string
	LogsDir          string
	ScriptBackupsDir string
	ScratchDir       string // empty uses the OS temp dir

	Interpreters process.Interpreters

	Stabilize      time.Duration
	PollInterval   time.Duration
	SampleInterval time.Duration
	RollUpInterval time.Duration
	StopGrace      time.Duration

	Backoff      time.Duration
	BackoffMax   time.Duration
	HealthyAfter time.Duration
	Parallelism  int

	TestRunTimeout   time.Duration
	TestRunMaxOutput int

	EnforceCapacity bool
}

// OptionsFromConfig maps the runtime, recovery and path sections
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ProjectsDir:      cfg.Paths.Projects,
		LogsDir:          cfg.Paths.Logs,
		ScriptBackupsDir: cfg.Paths.ScriptBackups,
		ScratchDir:       cfg.Paths.Scratch,
		Interpreters:     process.Interpreters(cfg.Runtime.Interpreters),
		Stabilize:        config.Seconds(cfg.Runtime.StabilizeSeconds),
		PollInterval:     config.Seconds(cfg.Runtime.PollSeconds),
		SampleInterval:   config.Seconds(cfg.Runtime.SampleSeconds),
		RollUpInterval:   config.Seconds(cfg.Runtime.RollUpSeconds),
		StopGrace:        config.Seconds(cfg.Runtime.StopGraceSeconds),
		Backoff:          config.Seconds(cfg.Recovery.BackoffSeconds),
		BackoffMax:       config.Seconds(cfg.Recovery.BackoffMaxSeconds),
		HealthyAfter:     config.Seconds(cfg.Recovery.HealthyAfterSeconds),
		Parallelism:      cfg.Recovery.Parallelism,
		TestRunTimeout:   time.Duration(cfg.Runtime.TestRunTimeout) * time.Second,
		TestRunMaxOutput: cfg.Runtime.TestRunMaxOutput,
		EnforceCapacity:  cfg.Placement.EnforceCapacity,
	}
}

func (o *Options) applyDefaults() {
	if o.Interpreters == nil {
		o.Interpreters = process.Interpreters{".py": "python3", ".js": "node", ".sh": "sh"}
	}
	if o.Stabilize <= 0 {
		o.Stabilize = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = 30 * time.Second
	}
	if o.RollUpInterval <= 0 {
		o.RollUpInterval = time.Hour
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 5 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	if o.BackoffMax < o.Backoff {
		o.BackoffMax = o.Backoff
	}
	if o.HealthyAfter <= 0 {
		o.HealthyAfter = time.Minute
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
	if o.TestRunTimeout <= 0 {
		o.TestRunTimeout = 30 * time.Second
	}
	if o.TestRunMaxOutput <= 0 {
		o.TestRunMaxOutput = 2000
	}
}
