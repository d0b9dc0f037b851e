package xe

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/skobkin/drmtop/internal/accounting"
	"github.com/skobkin/drmtop/internal/gpu"
	"github.com/skobkin/drmtop/internal/telemetry"
)

// Keys of the xe DRM fdinfo accounting format. Each engine class
// exposes a cumulative busy counter and a cumulative total-elapsed
// counter; utilization is the ratio of their deltas between cycles.
const (
	keyPdev     = "drm-pdev"
	keyClientID = "drm-client-id"
	keyVRAM     = "drm-total-vram0"
)

var cycleKeys = map[string]accounting.EngineClass{
	"drm-cycles-rcs":  accounting.EngineRender,
	"drm-cycles-vcs":  accounting.EngineVideoDecode,
	"drm-cycles-vecs": accounting.EngineVideoEnhance,
	"drm-cycles-bcs":  accounting.EngineCopy,
	"drm-cycles-ccs":  accounting.EngineCompute,
}

var totalCycleKeys = map[string]accounting.EngineClass{
	"drm-total-cycles-rcs":  accounting.EngineRender,
	"drm-total-cycles-vcs":  accounting.EngineVideoDecode,
	"drm-total-cycles-vecs": accounting.EngineVideoEnhance,
	"drm-total-cycles-bcs":  accounting.EngineCopy,
	"drm-total-cycles-ccs":  accounting.EngineCompute,
}

type fdinfoRecord struct {
	pdev      string
	clientID  uint64
	hasClient bool
	vramBytes uint64
	hasVRAM   bool
	counters  accounting.Counters
}

func parseFdinfo(data []byte) fdinfoRecord {
	var rec fdinfoRecord

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}

		switch key {
		case keyPdev:
			rec.pdev = value
		case keyClientID:
			id, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				continue
			}
			rec.clientID = id
			rec.hasClient = true
		case keyVRAM:
			if size, ok := parseMemValue(value); ok {
				rec.vramBytes = size
				rec.hasVRAM = true
			}
		default:
			if class, ok := cycleKeys[key]; ok {
				if v, err := strconv.ParseUint(value, 10, 64); err == nil {
					rec.counters.Busy[class] = v
				}
			} else if class, ok := totalCycleKeys[key]; ok {
				if v, err := strconv.ParseUint(value, 10, 64); err == nil {
					rec.counters.Total[class] = v
				}
			}
		}
	}

	return rec
}

// parseMemValue parses a memory amount like "7232 KiB". A bare number
// is taken as KiB, matching the driver's reporting unit.
func parseMemValue(value string) (uint64, bool) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, false
	}
	amount, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	unit := "kib"
	if len(fields) > 1 {
		unit = strings.ToLower(fields[1])
	}
	switch unit {
	case "kib", "kb":
		return amount * 1024, true
	case "mib", "mb":
		return amount * 1024 * 1024, true
	case "gib", "gb":
		return amount * 1024 * 1024 * 1024, true
	default:
		return amount, true
	}
}

// ParseAccountingRecord consumes one fdinfo record for a process using
// the given device. The driver multiplexes records for every device it
// manages through the same format, so the record's device identity is
// checked first and foreign records are rejected before anything else
// is applied. Returns false for foreign or unusable records.
func (b *Backend) ParseAccountingRecord(d *gpu.Device, data []byte, proc *telemetry.Process) bool {
	rec := parseFdinfo(data)

	if rec.pdev == "" || rec.pdev != d.BusID {
		return false
	}
	if !rec.hasClient {
		return false
	}

	cache := b.cacheFor(d.BusID)
	key := accounting.Key{ClientID: rec.clientID, PID: proc.PID, Device: d.BusID}
	if cache.SeenThisCycle(key) {
		// Same context surfaced through a duplicated descriptor; the
		// cache records the defect signal, and applying the identical
		// counters again would double-count memory.
		cache.Observe(key, rec.counters)
		return true
	}

	proc.ClientID = rec.clientID
	if rec.hasVRAM {
		telemetry.Accumulate(&proc.MemoryBytes, rec.vramBytes)
	}
	telemetry.Accumulate(&proc.CumulativeCycles, rec.counters.Sum())

	if rec.counters.Busy[accounting.EngineRender] != 0 {
		proc.Type |= telemetry.ProcessGraphical
	}
	if rec.counters.Busy[accounting.EngineCompute] != 0 {
		proc.Type |= telemetry.ProcessCompute
	}
	if rec.counters.Busy[accounting.EngineVideoDecode] != 0 {
		proc.Type |= telemetry.ProcessDecode
	}
	if rec.counters.Busy[accounting.EngineVideoEnhance] != 0 {
		proc.Type |= telemetry.ProcessEncode
	}

	if usage, ok := cache.Observe(key, rec.counters); ok {
		b.policy.Apply(usage, proc)
	}

	return true
}
