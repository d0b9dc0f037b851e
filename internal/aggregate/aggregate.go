// Package aggregate reconciles device-wide utilization with per-process
// accounting results after each refresh, before the model reaches any
// consumer.
package aggregate

import "github.com/skobkin/drmtop/internal/gpu"

// Reconcile applies the fallback policies to one device:
//
// When the device-global utilization counter is unavailable, or reports
// zero while processes with measured usage exist, the device figure is
// recomputed as the clamped sum of per-process aggregate usage. "No
// global counter support" thereby degrades to an approximate value
// instead of surfacing unknown to consumers.
//
// Memory used/free/util are backfilled from the process list and the
// capacity total when the driver could not report them directly.
func Reconcile(d *gpu.Device) {
	reconcileUtilization(d)
	reconcileMemory(d)
}

func reconcileUtilization(d *gpu.Device) {
	var sum uint64
	anyMeasured := false
	for i := range d.Processes {
		if usage, ok := d.Processes[i].GPUUsagePct.Get(); ok {
			sum += usage
			anyMeasured = true
		}
	}
	if sum > 100 {
		sum = 100
	}

	global, ok := d.Dynamic.GPUUtilPct.Get()
	if !ok || (global == 0 && anyMeasured) {
		d.Dynamic.GPUUtilPct.Set(sum)
	}
}

func reconcileMemory(d *gpu.Device) {
	if !d.Dynamic.MemUsedBytes.Valid() {
		var used uint64
		anyMeasured := false
		for i := range d.Processes {
			if mem, ok := d.Processes[i].MemoryBytes.Get(); ok {
				used += mem
				anyMeasured = true
			}
		}
		if anyMeasured {
			d.Dynamic.MemUsedBytes.Set(used)
		}
	}

	total, haveTotal := d.Dynamic.MemTotalBytes.Get()
	used, haveUsed := d.Dynamic.MemUsedBytes.Get()
	if !haveTotal || !haveUsed || used > total {
		return
	}
	if !d.Dynamic.MemFreeBytes.Valid() {
		d.Dynamic.MemFreeBytes.Set(total - used)
	}
	if !d.Dynamic.MemUtilPct.Valid() && total > 0 {
		d.Dynamic.MemUtilPct.Set(used * 100 / total)
	}
}
