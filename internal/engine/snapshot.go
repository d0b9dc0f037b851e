package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skobkin/drmtop/internal/aggregate"
	"github.com/skobkin/drmtop/internal/gpu"
)

// SnapshotRecord is the fixed-shape scripting output, one element per
// monitored device. Pointer fields serialize as null when the hardware
// could not report the metric; gpu_util is always present because the
// aggregator falls back to summed process usage.
type SnapshotRecord struct {
	DeviceName string  `json:"device_name"`
	GPUClock   *string `json:"gpu_clock"`
	Temp       *string `json:"temp"`
	FanSpeed   *string `json:"fan_speed"`
	PowerDraw  *string `json:"power_draw"`
	GPUUtil    string  `json:"gpu_util"`
	MemUtil    *string `json:"mem_util"`
	MemTotal   *uint64 `json:"mem_total"`
	MemUsed    *uint64 `json:"mem_used"`
	MemFree    *uint64 `json:"mem_free"`
}

// Snapshotter implements the one-shot mode. The delta algorithm cannot
// produce a usage percentage from a single sample, so it runs a fixed
// three-phase sequence: a warm-up refresh that seeds the accounting
// caches, a measurement window, and a final refresh that is diffed
// against the window's start.
type Snapshotter struct {
	registry *gpu.Registry
	warmup   time.Duration
	window   time.Duration
	logger   *slog.Logger

	sleep func(time.Duration)
}

// NewSnapshotter assembles a one-shot snapshot run.
func NewSnapshotter(registry *gpu.Registry, warmup, window time.Duration, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Snapshotter{
		registry: registry,
		warmup:   warmup,
		window:   window,
		logger:   logger.With("component", "snapshot"),
		sleep:    time.Sleep,
	}
}

// Run performs the measurement sequence and writes the record array.
func (s *Snapshotter) Run(w io.Writer) error {
	s.refresh()
	s.sleep(s.warmup)
	s.refresh()
	s.sleep(s.window)
	s.refresh()

	devices := s.registry.Devices()
	for _, device := range devices {
		aggregate.Reconcile(device)
	}

	records := make([]SnapshotRecord, 0, len(devices))
	for _, device := range devices {
		records = append(records, buildRecord(device))
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(records)

	// Device handles are released even when the writer fails.
	closeErr := s.registry.Close()
	if encodeErr != nil {
		return fmt.Errorf("encode snapshot: %w", encodeErr)
	}
	return closeErr
}

func (s *Snapshotter) refresh() {
	s.registry.RefreshDynamic()
	s.registry.RefreshProcesses()
}

func buildRecord(d *gpu.Device) SnapshotRecord {
	rec := SnapshotRecord{
		DeviceName: d.Static.DeviceName.Or(d.BusID),
		GPUUtil:    fmt.Sprintf("%d%%", d.Dynamic.GPUUtilPct.Value()),
	}

	if v, ok := d.Dynamic.ClockMHz.Get(); ok {
		rec.GPUClock = stringPtr(fmt.Sprintf("%dMHz", v))
	}
	if v, ok := d.Dynamic.TempC.Get(); ok {
		rec.Temp = stringPtr(fmt.Sprintf("%dC", v))
	}
	if v, ok := d.Dynamic.FanRPM.Get(); ok {
		rec.FanSpeed = stringPtr(fmt.Sprintf("%dRPM", v))
	}
	if v, ok := d.Dynamic.PowerDrawMW.Get(); ok {
		rec.PowerDraw = stringPtr(fmt.Sprintf("%dW", v/1000))
	}
	if v, ok := d.Dynamic.MemUtilPct.Get(); ok {
		rec.MemUtil = stringPtr(fmt.Sprintf("%d%%", v))
	}

	// Memory details are reported as a group or not at all, so the
	// field shape stays stable across refreshes of the same hardware.
	total, haveTotal := d.Dynamic.MemTotalBytes.Get()
	used, haveUsed := d.Dynamic.MemUsedBytes.Get()
	free, haveFree := d.Dynamic.MemFreeBytes.Get()
	if haveTotal && haveUsed && haveFree {
		rec.MemTotal = uint64Ptr(total)
		rec.MemUsed = uint64Ptr(used)
		rec.MemFree = uint64Ptr(free)
	}

	return rec
}

func stringPtr(value string) *string {
	return &value
}

func uint64Ptr(value uint64) *uint64 {
	return &value
}
