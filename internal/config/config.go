package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for unusable configurations.
var ErrInvalid = errors.New("invalid config")

const (
	DefaultScanPeriod      = 5 * time.Second
	DefaultRegistryPoll    = 5 * time.Second
	DefaultProcessPoll     = time.Second
	DefaultLoggingMode     = "production"
	DefaultLoggingLevel    = "info"
	uninstallKey           = `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`
	currentVersionKey      = `SOFTWARE\Microsoft\Windows NT\CurrentVersion`
	registeredOwnerValueID = "RegisteredOwner"
)

// Config is the root configuration.
type Config struct {
	InstallMonitor InstallMonitorConfig `yaml:"installmonitor"`
}

// InstallMonitorConfig is the project configuration.
type InstallMonitorConfig struct {
	Paths    PathsConfig    `yaml:"paths"`
	Log      LogConfig      `yaml:"log"`
	Scan     ScanConfig     `yaml:"scan"`
	Process  ProcessConfig  `yaml:"process"`
	Registry RegistryConfig `yaml:"registry"`
	Files    FilesConfig    `yaml:"files"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PathsConfig selects which parts of the filesystem are observed.
type PathsConfig struct {
	Monitored []string `yaml:"monitored"`
	Ignored   []string `yaml:"ignored"`
}

// LogConfig controls the human-readable event log.
type LogConfig struct {
	File    string            `yaml:"file"`
	Console *bool             `yaml:"console"`
	Color   *bool             `yaml:"color"`
	Markers map[string]string `yaml:"markers"` // kind name -> marker
}

// ScanConfig controls the reconciliation scanner.
type ScanConfig struct {
	Period time.Duration `yaml:"period"`
}

// ProcessConfig controls the process-start adapter.
type ProcessConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RegistryConfig controls the registry adapter. Ignored off Windows.
type RegistryConfig struct {
	Enabled      *bool           `yaml:"enabled"`
	PollInterval time.Duration   `yaml:"poll_interval"`
	Watches      []RegistryWatch `yaml:"watches"`
}

// RegistryWatch is one polled key.
type RegistryWatch struct {
	Key     string   `yaml:"key"`
	Subkeys bool     `yaml:"subkeys"`
	Values  []string `yaml:"values"`
}

// FilesConfig controls file event details.
type FilesConfig struct {
	SniffContentType bool `yaml:"sniff_content_type"`
}

// LoggingConfig controls the operational zap logger.
type LoggingConfig struct {
	Mode  string `yaml:"mode"` // development|production
	Level string `yaml:"level"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables
}

// LoadConfig reads and parses a YAML config file. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	im := &c.InstallMonitor
	if len(im.Paths.Monitored) == 0 {
		im.Paths.Monitored = defaultMonitored()
	}
	if im.Paths.Ignored == nil {
		im.Paths.Ignored = defaultIgnored()
	}
	if im.Log.File == "" {
		im.Log.File = defaultLogFile()
	}
	if im.Log.Console == nil {
		im.Log.Console = boolPtr(true)
	}
	if im.Log.Color == nil {
		im.Log.Color = boolPtr(true)
	}
	if im.Scan.Period == 0 {
		im.Scan.Period = DefaultScanPeriod
	}
	if im.Process.Enabled == nil {
		im.Process.Enabled = boolPtr(true)
	}
	if im.Process.PollInterval == 0 {
		im.Process.PollInterval = DefaultProcessPoll
	}
	if im.Registry.Enabled == nil {
		im.Registry.Enabled = boolPtr(true)
	}
	if im.Registry.PollInterval == 0 {
		im.Registry.PollInterval = DefaultRegistryPoll
	}
	if len(im.Registry.Watches) == 0 {
		im.Registry.Watches = []RegistryWatch{
			{Key: uninstallKey, Subkeys: true},
			{Key: currentVersionKey, Values: []string{registeredOwnerValueID}},
		}
	}
	if im.Logging.Mode == "" {
		im.Logging.Mode = DefaultLoggingMode
	}
	if im.Logging.Level == "" {
		im.Logging.Level = DefaultLoggingLevel
	}
}

// Validate rejects configurations the monitor cannot run with.
func (c *Config) Validate() error {
	im := c.InstallMonitor
	if len(im.Paths.Monitored) == 0 {
		return fmt.Errorf("%w: no monitored paths", ErrInvalid)
	}
	for _, p := range im.Paths.Monitored {
		if p == "" {
			return fmt.Errorf("%w: empty monitored path", ErrInvalid)
		}
	}
	if im.Log.File == "" {
		return fmt.Errorf("%w: log.file is empty", ErrInvalid)
	}
	if im.Scan.Period <= 0 {
		return fmt.Errorf("%w: scan.period must be positive, got %s", ErrInvalid, im.Scan.Period)
	}
	if im.Process.PollInterval <= 0 {
		return fmt.Errorf("%w: process.poll_interval must be positive, got %s", ErrInvalid, im.Process.PollInterval)
	}
	if im.Registry.PollInterval <= 0 {
		return fmt.Errorf("%w: registry.poll_interval must be positive, got %s", ErrInvalid, im.Registry.PollInterval)
	}
	for i, w := range im.Registry.Watches {
		if w.Key == "" {
			return fmt.Errorf("%w: registry.watches[%d].key is empty", ErrInvalid, i)
		}
		if !w.Subkeys && len(w.Values) == 0 {
			return fmt.Errorf("%w: registry.watches[%d] tracks neither subkeys nor values", ErrInvalid, i)
		}
	}
	switch im.Logging.Mode {
	case "development", "production":
	default:
		return fmt.Errorf("%w: logging.mode %q", ErrInvalid, im.Logging.Mode)
	}
	return nil
}

// Enabled reports a tri-state flag, treating unset as def.
func Enabled(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func boolPtr(b bool) *bool { return &b }
