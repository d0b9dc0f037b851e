// Package xe implements the backend contract for Intel Xe GPUs using
// the driver's sysfs and DRM fdinfo interfaces.
package xe

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skobkin/drmtop/internal/accounting"
	"github.com/skobkin/drmtop/internal/gpu"
)

const (
	defaultSysfsRoot = "/sys"
	defaultProcRoot  = "/proc"
	defaultMaxPIDs   = 5000
	defaultMaxFDs    = 64
)

// Options tunes the backend. Zero values fall back to defaults.
type Options struct {
	SysfsRoot        string
	ProcRoot         string
	MaxPIDs          int
	MaxFDsPerPID     int
	Policy           accounting.Policy
	StrictAccounting bool
}

// Backend drives Intel Xe devices. One instance owns the accounting
// caches for every device it discovered; nothing outside the backend
// touches them.
type Backend struct {
	sysfsRoot string
	procRoot  *os.Root
	maxPIDs   int
	maxFDs    int
	policy    accounting.Policy
	strict    bool
	logger    *slog.Logger

	cards  map[string]cardIdent
	caches map[string]*accounting.Cache
}

// cardIdent is the per-device sysfs identity captured at discovery.
type cardIdent struct {
	card     string
	pciID    string
	hwmonDir string
}

// New opens the proc root and constructs an Xe backend.
func New(opts Options, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.SysfsRoot == "" {
		opts.SysfsRoot = defaultSysfsRoot
	}
	if opts.ProcRoot == "" {
		opts.ProcRoot = defaultProcRoot
	}
	if opts.MaxPIDs <= 0 {
		opts.MaxPIDs = defaultMaxPIDs
	}
	if opts.MaxFDsPerPID <= 0 {
		opts.MaxFDsPerPID = defaultMaxFDs
	}
	if len(opts.Policy.Aggregate) == 0 {
		opts.Policy = accounting.DefaultPolicy()
	}

	procRoot, err := os.OpenRoot(opts.ProcRoot)
	if err != nil {
		return nil, fmt.Errorf("open proc root: %w", err)
	}

	return &Backend{
		sysfsRoot: opts.SysfsRoot,
		procRoot:  procRoot,
		maxPIDs:   opts.MaxPIDs,
		maxFDs:    opts.MaxFDsPerPID,
		policy:    opts.Policy,
		strict:    opts.StrictAccounting,
		logger:    logger.With("component", "xe_backend"),
		cards:     make(map[string]cardIdent),
		caches:    make(map[string]*accounting.Cache),
	}, nil
}

// Name identifies the vendor adapter.
func (b *Backend) Name() string {
	return "xe"
}

// Close releases the proc root handle.
func (b *Backend) Close() error {
	return b.procRoot.Close()
}

func (b *Backend) cacheFor(busID string) *accounting.Cache {
	cache, ok := b.caches[busID]
	if !ok {
		cache = accounting.NewCache(b.strict, b.logger.With("bus_id", busID))
		b.caches[busID] = cache
	}
	return cache
}

// PopulateStatic fills the immutable name and capacity fields. Missing
// sysfs attributes leave the corresponding fields invalid.
func (b *Backend) PopulateStatic(d *gpu.Device) {
	ident, ok := b.cards[d.BusID]
	if !ok {
		return
	}

	name := resolveDeviceName(ident.pciID)
	if name == "" {
		name = "Intel Xe Graphics"
	}
	d.Static.DeviceName.Set(name)

	devicePath := b.devicePath(ident.card)
	if v, ok := readSysfsUint(filepath.Join(devicePath, "tile0", "gt0", "freq0", "rp0_freq")); ok {
		d.Static.MaxClockMHz.Set(v)
	}
	if v, ok := readSysfsUint(filepath.Join(devicePath, "tile0", "physical_vram_size_bytes")); ok {
		d.Static.VRAMBytes.Set(v)
	}
}

// RefreshDynamic fills the dynamic info record from sysfs. Any
// attribute that cannot be read (absent hardware, missing privilege)
// leaves its field invalid; the cycle itself never fails.
func (b *Backend) RefreshDynamic(d *gpu.Device) {
	ident, ok := b.cards[d.BusID]
	if !ok {
		return
	}
	devicePath := b.devicePath(ident.card)

	if v, ok := readSysfsUint(filepath.Join(devicePath, "tile0", "gt0", "freq0", "act_freq")); ok {
		d.Dynamic.ClockMHz.Set(v)
	}

	if ident.hwmonDir != "" {
		if v, ok := readSysfsUint(filepath.Join(ident.hwmonDir, "temp1_input")); ok {
			d.Dynamic.TempC.Set(v / 1000)
		}
		if v, ok := readSysfsUint(filepath.Join(ident.hwmonDir, "fan1_input")); ok {
			d.Dynamic.FanRPM.Set(v)
		}
		if v, ok := readSysfsUint(filepath.Join(ident.hwmonDir, "power1_input")); ok {
			d.Dynamic.PowerDrawMW.Set(v / 1000)
		} else if v, ok := readSysfsUint(filepath.Join(ident.hwmonDir, "power1_average")); ok {
			d.Dynamic.PowerDrawMW.Set(v / 1000)
		}
	}

	total, haveTotal := readSysfsUint(filepath.Join(devicePath, "tile0", "physical_vram_size_bytes"))
	if haveTotal {
		d.Dynamic.MemTotalBytes.Set(total)
		// The driver reports zero used memory when the caller lacks
		// CAP_PERFMON; zero therefore means unavailable here.
		if used, ok := readSysfsUint(filepath.Join(devicePath, "tile0", "vram_used_bytes")); ok && used != 0 && used <= total {
			d.Dynamic.MemUsedBytes.Set(used)
			d.Dynamic.MemFreeBytes.Set(total - used)
			d.Dynamic.MemUtilPct.Set(used * 100 / total)
		}
	}
}

func (b *Backend) devicePath(card string) string {
	return filepath.Join(b.sysfsRoot, "class", "drm", card, "device")
}

func readSysfsUint(path string) (uint64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, false
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
