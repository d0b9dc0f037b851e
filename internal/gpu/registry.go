package gpu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/skobkin/drmtop/internal/telemetry"
)

// Registry owns every monitored device for the process lifetime and
// drives refreshes through each device's backend.
type Registry struct {
	logger  *slog.Logger
	devices []*Device
}

// NewRegistry discovers devices across the supplied backends. A backend
// whose enumeration fails is reported and skipped; the registry is
// usable with whatever devices remain. The enabled filter (nil = all)
// implements the per-device enable/disable set.
func NewRegistry(backends []Backend, enabled func(busID string) bool, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Registry{logger: logger.With("component", "registry")}

	for _, backend := range backends {
		devices, err := backend.Discover()
		if err != nil {
			r.logger.Warn("device enumeration failed", "backend", backend.Name(), "err", err)
			continue
		}
		for _, device := range devices {
			if enabled != nil && !enabled(device.BusID) {
				r.logger.Info("device disabled by configuration", "bus_id", device.BusID)
				continue
			}
			backend.PopulateStatic(device)
			r.devices = append(r.devices, device)
		}
	}

	return r, nil
}

// Devices returns the monitored devices. Callers outside the control
// loop must treat the result as read-only.
func (r *Registry) Devices() []*Device {
	return r.devices
}

// RefreshDynamic overwrites every device's dynamic info record. The
// record is cleared first so a counter that stopped reporting cannot
// leak last cycle's value.
func (r *Registry) RefreshDynamic() {
	for _, device := range r.devices {
		device.Dynamic = telemetry.DynamicInfo{}
		device.Backend().RefreshDynamic(device)
	}
}

// RefreshProcesses rebuilds every device's process list. Within one
// cycle this is always called after RefreshDynamic and before
// aggregation, because aggregation depends on process-level results.
func (r *Registry) RefreshProcesses() {
	for _, device := range r.devices {
		if err := device.Backend().RefreshProcesses(device); err != nil {
			r.logger.Warn("process refresh failed", "bus_id", device.BusID, "err", err)
		}
	}
}

// Close releases device handles held by the backends.
func (r *Registry) Close() error {
	var errs []error
	seen := make(map[Backend]struct{})
	for _, device := range r.devices {
		backend := device.Backend()
		if _, ok := seen[backend]; ok {
			continue
		}
		seen[backend] = struct{}{}
		if closer, ok := backend.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s backend: %w", backend.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
