package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RefreshInterval != 2*time.Second {
		t.Fatalf("refresh interval = %s; want 2s", cfg.RefreshInterval)
	}
	if cfg.SnapshotWarmup != 250*time.Millisecond {
		t.Fatalf("snapshot warmup = %s; want 250ms", cfg.SnapshotWarmup)
	}
	if cfg.SnapshotWindow != time.Second {
		t.Fatalf("snapshot window = %s; want 1s", cfg.SnapshotWindow)
	}
	if cfg.SysfsRoot != "/sys" || cfg.ProcRoot != "/proc" {
		t.Fatalf("roots = %s, %s; want /sys, /proc", cfg.SysfsRoot, cfg.ProcRoot)
	}
	if !cfg.Aggregation.VideoInAggregate || !cfg.Aggregation.CopyInAggregate {
		t.Fatal("aggregation defaults should include video and copy")
	}
	if cfg.Proc.MaxPIDs != 5000 || cfg.Proc.MaxFDsPerPID != 64 {
		t.Fatalf("proc limits = %d, %d; want 5000, 64", cfg.Proc.MaxPIDs, cfg.Proc.MaxFDsPerPID)
	}
	if cfg.Export.ListenAddr != "" {
		t.Fatalf("export enabled by default: %q", cfg.Export.ListenAddr)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drmtop.yml")
	content := `
refresh_interval: 500ms
devices:
  - "0000:03:00.0"
disable_process_list: true
aggregation:
  video_in_aggregate: false
export:
  listen_addr: ":8080"
  enable_prometheus: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RefreshInterval != 500*time.Millisecond {
		t.Fatalf("refresh interval = %s; want 500ms", cfg.RefreshInterval)
	}
	if !cfg.DisableProcessList {
		t.Fatal("disable_process_list not applied")
	}
	if cfg.Aggregation.VideoInAggregate {
		t.Fatal("video_in_aggregate override not applied")
	}
	if !cfg.Aggregation.CopyInAggregate {
		t.Fatal("copy_in_aggregate default lost")
	}
	if cfg.Export.ListenAddr != ":8080" || !cfg.Export.EnablePrometheus {
		t.Fatalf("export = %+v; want :8080 with prometheus", cfg.Export)
	}
	if len(cfg.EnabledDevices) != 1 || cfg.EnabledDevices[0] != "0000:03:00.0" {
		t.Fatalf("devices = %v", cfg.EnabledDevices)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DRMTOP_REFRESH_INTERVAL", "750ms")
	t.Setenv("DRMTOP_SYSFS_ROOT", "/fake/sys")
	t.Setenv("DRMTOP_DEVICES", "0000:03:00.0, 0000:0a:00.0")
	t.Setenv("DRMTOP_STRICT_ACCOUNTING", "true")
	t.Setenv("DRMTOP_LOG_LEVEL", "debug")
	t.Setenv("DRMTOP_MAX_PIDS", "100")
	t.Setenv("DRMTOP_LISTEN_ADDR", "127.0.0.1:9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RefreshInterval != 750*time.Millisecond {
		t.Fatalf("refresh interval = %s; want 750ms", cfg.RefreshInterval)
	}
	if cfg.SysfsRoot != "/fake/sys" {
		t.Fatalf("sysfs root = %q", cfg.SysfsRoot)
	}
	if len(cfg.EnabledDevices) != 2 {
		t.Fatalf("devices = %v; want 2 entries", cfg.EnabledDevices)
	}
	if !cfg.StrictAccounting {
		t.Fatal("strict accounting not applied")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level = %v; want debug", cfg.LogLevel)
	}
	if cfg.Proc.MaxPIDs != 100 {
		t.Fatalf("max pids = %d; want 100", cfg.Proc.MaxPIDs)
	}
	if cfg.Export.ListenAddr != "127.0.0.1:9090" {
		t.Fatalf("listen addr = %q", cfg.Export.ListenAddr)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("DRMTOP_REFRESH_INTERVAL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unparseable interval")
	}
}

func TestLoadRejectsBadMaxPIDs(t *testing.T) {
	t.Setenv("DRMTOP_MAX_PIDS", "-5")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for negative max pids")
	}
}

func TestDeviceEnabled(t *testing.T) {
	var cfg Config
	if !cfg.DeviceEnabled("0000:03:00.0") {
		t.Fatal("empty filter must enable every device")
	}

	cfg.EnabledDevices = []string{"0000:0a:00.0"}
	if cfg.DeviceEnabled("0000:03:00.0") {
		t.Fatal("unlisted device enabled")
	}
	if !cfg.DeviceEnabled("0000:0a:00.0") {
		t.Fatal("listed device disabled")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tc := range tests {
		got, err := parseLogLevel(tc.in)
		if (err == nil) != tc.ok || (tc.ok && got != tc.want) {
			t.Errorf("parseLogLevel(%q) = %v, %v", tc.in, got, err)
		}
	}
}
