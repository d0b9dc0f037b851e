package xe

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skobkin/drmtop/internal/gpu"
	"github.com/skobkin/drmtop/internal/telemetry"
)

// RefreshProcesses rebuilds the device's process list by walking /proc
// for descriptors open on the device's DRM nodes and feeding each
// fdinfo record through the accounting parser. The list is replaced
// wholesale; at the end the device's accounting cache advances one
// generation, which evicts entries for contexts that disappeared.
func (b *Backend) RefreshProcesses(d *gpu.Device) error {
	entries, err := fs.ReadDir(b.procRoot.FS(), ".")
	if err != nil {
		return err
	}

	nodeBases := make(map[string]struct{}, len(d.DRMNodes))
	for _, node := range d.DRMNodes {
		nodeBases[filepath.Base(node)] = struct{}{}
	}

	var processes []telemetry.Process
	scanned := 0
	for _, entry := range entries {
		if b.maxPIDs > 0 && scanned >= b.maxPIDs {
			break
		}
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}

		procDir, err := b.procRoot.OpenRoot(entry.Name())
		if err != nil {
			continue
		}
		if proc, ok := b.scanProcess(d, pid, procDir, nodeBases); ok {
			processes = append(processes, proc)
		}
		if err := procDir.Close(); err != nil {
			b.logger.Debug("failed to close proc dir", "pid", pid, "err", err)
		}

		scanned++
	}

	d.Processes = processes
	b.cacheFor(d.BusID).Advance()
	return nil
}

// scanProcess inspects one pid. It returns a process record only when
// at least one fdinfo record matched the device.
func (b *Backend) scanProcess(d *gpu.Device, pid int, procDir *os.Root, nodeBases map[string]struct{}) (telemetry.Process, bool) {
	fdEntries, err := fs.ReadDir(procDir.FS(), "fd")
	if err != nil {
		// Typically another user's process; not an error.
		return telemetry.Process{}, false
	}

	proc := telemetry.Process{PID: pid}
	matched := false

	fdCount := 0
	for _, fdEntry := range fdEntries {
		if b.maxFDs > 0 && fdCount >= b.maxFDs {
			break
		}
		fdCount++

		fdName := fdEntry.Name()
		target, err := procDir.Readlink(filepath.Join("fd", fdName))
		if err != nil {
			continue
		}
		target = strings.TrimSuffix(target, " (deleted)")
		if _, ok := nodeBases[filepath.Base(target)]; !ok {
			continue
		}

		data, err := procDir.ReadFile(filepath.Join("fdinfo", fdName))
		if err != nil {
			continue
		}
		if b.ParseAccountingRecord(d, data, &proc) {
			matched = true
		}
	}

	if !matched {
		return telemetry.Process{}, false
	}

	if comm, err := procDir.ReadFile("comm"); err == nil {
		proc.Name = strings.TrimSpace(string(comm))
	}
	return proc, true
}
