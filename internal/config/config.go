// Package config sources engine options from defaults, an optional
// YAML file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the set of inputs the engine treats as immutable within a
// cycle. Display preferences are deliberately not part of it.
type Config struct {
	RefreshInterval time.Duration
	SnapshotWarmup  time.Duration
	SnapshotWindow  time.Duration

	SysfsRoot string
	ProcRoot  string

	DisableProcessList bool
	StrictAccounting   bool
	EnabledDevices     []string
	LogLevel           slog.Level

	Proc        ProcConfig
	Aggregation AggregationConfig
	Export      ExportConfig
}

// ProcConfig bounds the /proc walk performed per refresh.
type ProcConfig struct {
	MaxPIDs      int
	MaxFDsPerPID int
}

// AggregationConfig selects which engine classes feed the aggregate
// device utilization figure beyond render and compute.
type AggregationConfig struct {
	VideoInAggregate bool
	CopyInAggregate  bool
}

// ExportConfig covers the optional HTTP/websocket/Prometheus surface.
// An empty ListenAddr disables it entirely.
type ExportConfig struct {
	ListenAddr       string
	EnablePrometheus bool
	AllowedOrigins   []string
	MaxClients       int
	WriteTimeout     time.Duration
}

// Load builds a Config from defaults, the optional file at path (empty
// path = no file), and environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Config{
		RefreshInterval: 2 * time.Second,
		SnapshotWarmup:  250 * time.Millisecond,
		SnapshotWindow:  time.Second,
		SysfsRoot:       "/sys",
		ProcRoot:        "/proc",
		LogLevel:        slog.LevelInfo,
		Proc: ProcConfig{
			MaxPIDs:      5000,
			MaxFDsPerPID: 64,
		},
		Aggregation: AggregationConfig{
			VideoInAggregate: true,
			CopyInAggregate:  true,
		},
		Export: ExportConfig{
			AllowedOrigins: []string{"*"},
			MaxClients:     64,
			WriteTimeout:   3 * time.Second,
		},
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if cfg.RefreshInterval <= 0 {
		return Config{}, fmt.Errorf("refresh interval must be > 0")
	}
	return cfg, nil
}

// DeviceEnabled implements the per-device enable/disable set: an empty
// list monitors everything.
func (c Config) DeviceEnabled(busID string) bool {
	if len(c.EnabledDevices) == 0 {
		return true
	}
	for _, id := range c.EnabledDevices {
		if id == busID {
			return true
		}
	}
	return false
}

type fileConfig struct {
	RefreshInterval    string   `yaml:"refresh_interval"`
	Devices            []string `yaml:"devices"`
	DisableProcessList *bool    `yaml:"disable_process_list"`
	Aggregation        struct {
		VideoInAggregate *bool `yaml:"video_in_aggregate"`
		CopyInAggregate  *bool `yaml:"copy_in_aggregate"`
	} `yaml:"aggregation"`
	Export struct {
		ListenAddr       string   `yaml:"listen_addr"`
		EnablePrometheus *bool    `yaml:"enable_prometheus"`
		AllowedOrigins   []string `yaml:"allowed_origins"`
	} `yaml:"export"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if file.RefreshInterval != "" {
		interval, err := time.ParseDuration(file.RefreshInterval)
		if err != nil {
			return fmt.Errorf("parse refresh_interval: %w", err)
		}
		c.RefreshInterval = interval
	}
	if len(file.Devices) > 0 {
		c.EnabledDevices = file.Devices
	}
	if file.DisableProcessList != nil {
		c.DisableProcessList = *file.DisableProcessList
	}
	if file.Aggregation.VideoInAggregate != nil {
		c.Aggregation.VideoInAggregate = *file.Aggregation.VideoInAggregate
	}
	if file.Aggregation.CopyInAggregate != nil {
		c.Aggregation.CopyInAggregate = *file.Aggregation.CopyInAggregate
	}
	if file.Export.ListenAddr != "" {
		c.Export.ListenAddr = file.Export.ListenAddr
	}
	if file.Export.EnablePrometheus != nil {
		c.Export.EnablePrometheus = *file.Export.EnablePrometheus
	}
	if len(file.Export.AllowedOrigins) > 0 {
		c.Export.AllowedOrigins = file.Export.AllowedOrigins
	}
	return nil
}

func (c *Config) applyEnv() error {
	if value := strings.TrimSpace(os.Getenv("DRMTOP_REFRESH_INTERVAL")); value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse DRMTOP_REFRESH_INTERVAL: %w", err)
		}
		c.RefreshInterval = interval
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_SYSFS_ROOT")); value != "" {
		c.SysfsRoot = value
	}
	if value := strings.TrimSpace(os.Getenv("DRMTOP_PROC_ROOT")); value != "" {
		c.ProcRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_DEVICES")); value != "" {
		c.EnabledDevices = splitAndTrim(value, ",")
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_DISABLE_PROCESSES")); value != "" {
		disabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse DRMTOP_DISABLE_PROCESSES: %w", err)
		}
		c.DisableProcessList = disabled
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_STRICT_ACCOUNTING")); value != "" {
		strict, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse DRMTOP_STRICT_ACCOUNTING: %w", err)
		}
		c.StrictAccounting = strict
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return fmt.Errorf("parse DRMTOP_LOG_LEVEL: %w", err)
		}
		c.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_MAX_PIDS")); value != "" {
		maxPIDs, err := strconv.Atoi(value)
		if err != nil || maxPIDs <= 0 {
			return fmt.Errorf("DRMTOP_MAX_PIDS must be a positive integer")
		}
		c.Proc.MaxPIDs = maxPIDs
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_MAX_FDS_PER_PID")); value != "" {
		maxFDs, err := strconv.Atoi(value)
		if err != nil || maxFDs <= 0 {
			return fmt.Errorf("DRMTOP_MAX_FDS_PER_PID must be a positive integer")
		}
		c.Proc.MaxFDsPerPID = maxFDs
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_LISTEN_ADDR")); value != "" {
		c.Export.ListenAddr = value
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_ENABLE_PROMETHEUS")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse DRMTOP_ENABLE_PROMETHEUS: %w", err)
		}
		c.Export.EnablePrometheus = enabled
	}

	if value := strings.TrimSpace(os.Getenv("DRMTOP_ALLOWED_ORIGINS")); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return fmt.Errorf("DRMTOP_ALLOWED_ORIGINS must not be empty")
		}
		c.Export.AllowedOrigins = origins
	}

	return nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
