package agent

import (
	"slices"
	"time"
)

type Mode string

const (
	ModeNormal Mode = "NORMAL"
	ModeSafe   Mode = "SAFE"
	ModeLocked Mode = "LOCKED"
)

type Config struct {
	Platform string `mapstructure:"-"`
	Version  string `mapstructure:"-"`

	Control   ControlConfig   `mapstructure:"control"`
	Intervals IntervalsConfig `mapstructure:"intervals"`
	SafeMode  SafeModeConfig  `mapstructure:"safe_mode"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
}

type ControlConfig struct {
	// ApplyEnabled is the local half of the dual lock.
	ApplyEnabled bool     `mapstructure:"apply_enabled"`
	SafeModes    []string `mapstructure:"safe_modes"`
	RollbackCmd  string   `mapstructure:"rollback_cmd"`
}

type IntervalsConfig struct {
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	Pull      time.Duration `mapstructure:"pull"`
	Logs      time.Duration `mapstructure:"logs"`
}

type SafeModeConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	AutoClear        bool          `mapstructure:"auto_clear"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	BackoffFactor    float64       `mapstructure:"backoff_factor"`
}

type WatchConfig struct {
	Processes []ProcessConfig `mapstructure:"processes"`
	LogFiles  []string        `mapstructure:"log_files"`
	DiskPath  string          `mapstructure:"disk_path"`
}

type ProcessConfig struct {
	Name         string `mapstructure:"name"`
	AllowRestart bool   `mapstructure:"allow_restart"`
	RestartCmd   string `mapstructure:"restart_cmd"`
	StopCmd      string `mapstructure:"stop_cmd"`
}

type BufferConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
	BatchSize  int `mapstructure:"batch_size"`
}

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultPullInterval      = 10 * time.Second
	DefaultLogsInterval      = 15 * time.Second
	DefaultFailureThreshold  = 5
	DefaultInitialBackoff    = 2 * time.Second
	DefaultMaxBackoff        = 5 * time.Minute
	DefaultBackoffFactor     = 2.0
	DefaultBufferMaxEntries  = 1000
	DefaultBatchSize         = 100
)

// WithDefaults fills every unset field with its default.
func (c Config) WithDefaults() Config {
	if c.Intervals.Heartbeat <= 0 {
		c.Intervals.Heartbeat = DefaultHeartbeatInterval
	}
	if c.Intervals.Pull <= 0 {
		c.Intervals.Pull = DefaultPullInterval
	}
	if c.Intervals.Logs <= 0 {
		c.Intervals.Logs = DefaultLogsInterval
	}
	if c.SafeMode.FailureThreshold <= 0 {
		c.SafeMode.FailureThreshold = DefaultFailureThreshold
	}
	if c.SafeMode.InitialBackoff <= 0 {
		c.SafeMode.InitialBackoff = DefaultInitialBackoff
	}
	if c.SafeMode.MaxBackoff <= 0 {
		c.SafeMode.MaxBackoff = DefaultMaxBackoff
	}
	if c.SafeMode.BackoffFactor < 1 {
		c.SafeMode.BackoffFactor = DefaultBackoffFactor
	}
	if c.Buffer.MaxEntries <= 0 {
		c.Buffer.MaxEntries = DefaultBufferMaxEntries
	}
	if c.Buffer.BatchSize <= 0 {
		c.Buffer.BatchSize = DefaultBatchSize
	}
	if c.Control.SafeModes == nil {
		c.Control.SafeModes = []string{string(ModeNormal), string(ModeSafe)}
	}
	if c.Watch.DiskPath == "" {
		c.Watch.DiskPath = "/"
	}
	return c
}

// ModeAllowed reports whether SET_MODE may switch to m. LOCKED is always
// accepted.
func (c ControlConfig) ModeAllowed(m Mode) bool {
	return m == ModeLocked || slices.Contains(c.SafeModes, string(m))
}

func (w WatchConfig) Process(name string) (ProcessConfig, bool) {
	for _, p := range w.Processes {
		if p.Name == name {
			return p, true
		}
	}
	return ProcessConfig{}, false
}
