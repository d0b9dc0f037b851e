// Package gpu defines the vendor backend contract and the device
// registry that dispatches refreshes over heterogeneous hardware.
package gpu

import "github.com/skobkin/drmtop/internal/telemetry"

// Device is one monitored GPU. BusID is the stable bus/device path used
// as the primary key across cycles. Static info is populated once at
// startup; Dynamic and Processes are replaced wholesale each cycle.
// The registry owns devices exclusively; they are never shared for
// mutation across goroutines.
type Device struct {
	BusID    string
	Vendor   string
	CardNode string
	DRMNodes []string

	Static    telemetry.StaticInfo
	Dynamic   telemetry.DynamicInfo
	Processes []telemetry.Process

	backend Backend
}

// NewDevice binds a device identity to the backend that drives it.
func NewDevice(busID string, backend Backend) *Device {
	return &Device{
		BusID:   busID,
		Vendor:  backend.Name(),
		backend: backend,
	}
}

// Backend returns the vendor adapter driving this device.
func (d *Device) Backend() Backend {
	return d.backend
}

// Backend is the uniform operation set every vendor adapter implements.
// The registry dispatches purely through this set; vendor-specific call
// sites never appear in the scheduler or rendering code.
//
// Refresh operations never fail a whole cycle over a single counter: a
// query that errors or lacks privilege leaves the corresponding field
// invalid. Every call must enforce bounded latency against the kernel
// interface, since the control loop cannot cancel a refresh midway.
type Backend interface {
	// Name identifies the vendor adapter.
	Name() string

	// Discover enumerates device identities. A device that fails to
	// open is skipped with a warning, not a discovery failure; the
	// error covers enumeration itself.
	Discover() ([]*Device, error)

	// PopulateStatic fills immutable name/capacity fields once.
	PopulateStatic(*Device)

	// RefreshDynamic overwrites the device's dynamic info record.
	RefreshDynamic(*Device)

	// RefreshProcesses rebuilds the device's process list and, when the
	// adapter supports per-context accounting, updates usage fields
	// from the accounting cache.
	RefreshProcesses(*Device) error
}

// AccountingParser is an optional backend capability: consuming one
// textual per-context accounting record. Implementations must check
// the record's device-identity key first and return false for records
// belonging to a different device, before any other processing.
type AccountingParser interface {
	ParseAccountingRecord(device *Device, record []byte, proc *telemetry.Process) bool
}
