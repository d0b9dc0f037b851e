// Package accounting converts the cumulative per-engine cycle counters
// exposed by DRM drivers into point-in-time utilization percentages by
// differencing them across refresh cycles.
package accounting

import (
	"fmt"
	"io"
	"log/slog"
)

// EngineClass identifies a category of hardware execution unit with
// independently tracked busy/total cycle counters.
type EngineClass int

const (
	EngineRender EngineClass = iota
	EngineVideoDecode
	EngineVideoEnhance
	EngineCopy
	EngineCompute

	// NumEngineClasses sizes per-class counter arrays.
	NumEngineClasses
)

func (c EngineClass) String() string {
	switch c {
	case EngineRender:
		return "render"
	case EngineVideoDecode:
		return "video-decode"
	case EngineVideoEnhance:
		return "video-enhance"
	case EngineCopy:
		return "copy"
	case EngineCompute:
		return "compute"
	default:
		return fmt.Sprintf("engine(%d)", int(c))
	}
}

// Key uniquely identifies one accounted device context across refresh
// cycles. Client ids are only unique per device and a pid alone can
// collide across containers sharing a device, so all three parts are
// required.
type Key struct {
	ClientID uint64
	PID      int
	Device   string
}

// Counters is one cumulative busy/total snapshot per engine class.
type Counters struct {
	Busy  [NumEngineClasses]uint64
	Total [NumEngineClasses]uint64
}

// Sum returns the total busy cycles across all engine classes.
func (c Counters) Sum() uint64 {
	var sum uint64
	for _, v := range c.Busy {
		sum += v
	}
	return sum
}

// Usage holds per-class utilization over the last refresh interval.
// A class with Known[i] false produced no measurable delta this cycle
// (zero elapsed total, or a counter reset).
type Usage struct {
	Pct   [NumEngineClasses]uint64
	Known [NumEngineClasses]bool
}

// Cache keeps two generations of counter snapshots for one device:
// the current generation being built this cycle and the previous one
// built last cycle. Entries whose key disappears are dropped with the
// previous generation when Advance runs, which gives O(live-entries)
// eviction without a separate garbage pass.
type Cache struct {
	logger   *slog.Logger
	strict   bool
	current  map[Key]Counters
	previous map[Key]Counters
}

// NewCache constructs an empty cache. In strict mode a duplicate key
// observed twice within one cycle panics instead of being tolerated;
// strict mode is meant for tests and debugging, not production.
func NewCache(strict bool, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		logger:   logger,
		strict:   strict,
		current:  make(map[Key]Counters),
		previous: make(map[Key]Counters),
	}
}

// SeenThisCycle reports whether the key was already recorded in the
// current generation.
func (c *Cache) SeenThisCycle(key Key) bool {
	_, ok := c.current[key]
	return ok
}

// Observe records the counters for key in the current generation and
// diffs them against the previous generation. The second return is
// false on the first observation of a key: usage cannot be computed
// from a single sample, the entry only seeds next cycle's comparison.
//
// A key observed twice within one cycle indicates a parser or driver
// bug; it is logged and the earlier record is overwritten.
func (c *Cache) Observe(key Key, counters Counters) (Usage, bool) {
	if _, dup := c.current[key]; dup {
		if c.strict {
			panic(fmt.Sprintf("accounting: client %d of pid %d on %s observed twice in one cycle", key.ClientID, key.PID, key.Device))
		}
		c.logger.Warn("duplicate accounting key in one cycle",
			"client_id", key.ClientID, "pid", key.PID, "device", key.Device)
	}
	c.current[key] = counters

	prev, ok := c.previous[key]
	if !ok {
		return Usage{}, false
	}

	var usage Usage
	for i := 0; i < int(NumEngineClasses); i++ {
		if counters.Busy[i] < prev.Busy[i] || counters.Total[i] < prev.Total[i] {
			// Counter reset (driver reload or context recreation):
			// unknown this cycle rather than a wrapped percentage.
			c.logger.Debug("engine counter regressed",
				"engine", EngineClass(i).String(), "client_id", key.ClientID, "pid", key.PID)
			continue
		}
		totalDelta := counters.Total[i] - prev.Total[i]
		if totalDelta == 0 {
			continue
		}
		busyDelta := counters.Busy[i] - prev.Busy[i]
		pct := busyDelta * 100 / totalDelta
		if pct > 100 {
			pct = 100
		}
		usage.Pct[i] = pct
		usage.Known[i] = true
	}
	return usage, true
}

// Advance ends the refresh cycle: the previous generation is discarded
// and the current generation becomes the previous one. Keys absent this
// cycle (process exited or context closed) vanish with the discarded
// generation.
func (c *Cache) Advance() {
	c.previous = c.current
	c.current = make(map[Key]Counters, len(c.previous))
}
