// Package export publishes per-cycle device snapshots over HTTP,
// websocket, and Prometheus. The control loop hands it plain copies of
// the model; nothing here ever touches the registry directly.
package export

import (
	"time"

	"github.com/skobkin/drmtop/internal/gpu"
	"github.com/skobkin/drmtop/internal/telemetry"
)

// DeviceSnapshot is the wire form of one device's cycle. Pointer fields
// serialize as null when the underlying field was invalid.
type DeviceSnapshot struct {
	BusID     string    `json:"bus_id"`
	Vendor    string    `json:"vendor"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"ts"`

	ClockMHz      *uint64 `json:"clock_mhz"`
	TempC         *uint64 `json:"temp_c"`
	FanRPM        *uint64 `json:"fan_rpm"`
	PowerDrawMW   *uint64 `json:"power_draw_mw"`
	MemTotalBytes *uint64 `json:"mem_total_bytes"`
	MemUsedBytes  *uint64 `json:"mem_used_bytes"`
	MemFreeBytes  *uint64 `json:"mem_free_bytes"`
	MemUtilPct    *uint64 `json:"mem_util_pct"`
	GPUUtilPct    *uint64 `json:"gpu_util_pct"`

	Processes []ProcessSnapshot `json:"processes"`
}

// ProcessSnapshot is the wire form of one accounted process.
type ProcessSnapshot struct {
	PID      int    `json:"pid"`
	ClientID uint64 `json:"client_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`

	GPUUsagePct    *uint64 `json:"gpu_usage_pct"`
	DecodeUsagePct *uint64 `json:"decode_usage_pct"`
	EncodeUsagePct *uint64 `json:"encode_usage_pct"`
	MemoryBytes    *uint64 `json:"memory_bytes"`
}

// Snapshot copies one device's model into its wire form.
func Snapshot(d *gpu.Device, now time.Time) DeviceSnapshot {
	snap := DeviceSnapshot{
		BusID:     d.BusID,
		Vendor:    d.Vendor,
		Name:      d.Static.DeviceName.Or(""),
		Timestamp: now,

		ClockMHz:      fieldPtr(d.Dynamic.ClockMHz),
		TempC:         fieldPtr(d.Dynamic.TempC),
		FanRPM:        fieldPtr(d.Dynamic.FanRPM),
		PowerDrawMW:   fieldPtr(d.Dynamic.PowerDrawMW),
		MemTotalBytes: fieldPtr(d.Dynamic.MemTotalBytes),
		MemUsedBytes:  fieldPtr(d.Dynamic.MemUsedBytes),
		MemFreeBytes:  fieldPtr(d.Dynamic.MemFreeBytes),
		MemUtilPct:    fieldPtr(d.Dynamic.MemUtilPct),
		GPUUtilPct:    fieldPtr(d.Dynamic.GPUUtilPct),
	}

	snap.Processes = make([]ProcessSnapshot, 0, len(d.Processes))
	for i := range d.Processes {
		p := &d.Processes[i]
		snap.Processes = append(snap.Processes, ProcessSnapshot{
			PID:            p.PID,
			ClientID:       p.ClientID,
			Name:           p.Name,
			Type:           p.Type.String(),
			GPUUsagePct:    fieldPtr(p.GPUUsagePct),
			DecodeUsagePct: fieldPtr(p.DecodeUsagePct),
			EncodeUsagePct: fieldPtr(p.EncodeUsagePct),
			MemoryBytes:    fieldPtr(p.MemoryBytes),
		})
	}

	return snap
}

func fieldPtr(f telemetry.Field[uint64]) *uint64 {
	if v, ok := f.Get(); ok {
		return &v
	}
	return nil
}
