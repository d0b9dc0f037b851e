package xe

import (
	"os"
	"path/filepath"
	"testing"
)

// writeProcEntry lays out /proc/<pid> with one descriptor open on node
// and the given fdinfo content.
func writeProcEntry(t *testing.T, procRoot string, pid, fd, node, fdinfo, comm string) {
	t.Helper()
	pidDir := filepath.Join(procRoot, pid)
	for _, sub := range []string{"fd", "fdinfo"} {
		if err := os.MkdirAll(filepath.Join(pidDir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(node, filepath.Join(pidDir, "fd", fd)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pidDir, "fdinfo", fd), []byte(fdinfo), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pidDir, "comm"), []byte(comm+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func scanBackend(t *testing.T, procRoot string) *Backend {
	t.Helper()
	b, err := New(Options{
		SysfsRoot: t.TempDir(),
		ProcRoot:  procRoot,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRefreshProcessesFindsMatchingPIDs(t *testing.T) {
	procRoot := t.TempDir()

	fdinfo := "drm-pdev:\t" + busID + "\ndrm-client-id:\t5\ndrm-total-vram0:\t200 KiB\n"
	writeProcEntry(t, procRoot, "1234", "3", "/dev/dri/renderD128", fdinfo, "glxgears")

	// A process with no DRM descriptors.
	if err := os.MkdirAll(filepath.Join(procRoot, "5678", "fd"), 0o755); err != nil {
		t.Fatal(err)
	}
	// A non-pid entry the walk must skip.
	if err := os.MkdirAll(filepath.Join(procRoot, "sys"), 0o755); err != nil {
		t.Fatal(err)
	}

	b := scanBackend(t, procRoot)
	d := testDevice(b)

	if err := b.RefreshProcesses(d); err != nil {
		t.Fatalf("RefreshProcesses: %v", err)
	}

	if len(d.Processes) != 1 {
		t.Fatalf("got %d processes; want 1", len(d.Processes))
	}
	proc := d.Processes[0]
	if proc.PID != 1234 {
		t.Fatalf("pid = %d; want 1234", proc.PID)
	}
	if proc.Name != "glxgears" {
		t.Fatalf("name = %q; want glxgears", proc.Name)
	}
	if proc.ClientID != 5 {
		t.Fatalf("client id = %d; want 5", proc.ClientID)
	}
	if v := proc.MemoryBytes.Value(); v != 200*1024 {
		t.Fatalf("memory = %d; want %d", v, 200*1024)
	}
}

func TestRefreshProcessesIgnoresDeletedSuffix(t *testing.T) {
	procRoot := t.TempDir()
	fdinfo := "drm-pdev:\t" + busID + "\ndrm-client-id:\t5\n"
	writeProcEntry(t, procRoot, "42", "7", "/dev/dri/card0 (deleted)", fdinfo, "stale")

	b := scanBackend(t, procRoot)
	d := testDevice(b)

	if err := b.RefreshProcesses(d); err != nil {
		t.Fatalf("RefreshProcesses: %v", err)
	}
	if len(d.Processes) != 1 {
		t.Fatalf("got %d processes; want 1 (deleted suffix stripped)", len(d.Processes))
	}
}

func TestRefreshProcessesComputesUsageOverTwoCycles(t *testing.T) {
	procRoot := t.TempDir()
	first := "drm-pdev:\t" + busID + "\ndrm-client-id:\t5\n" +
		"drm-cycles-rcs:\t100\ndrm-total-cycles-rcs:\t1000\n"
	writeProcEntry(t, procRoot, "1234", "3", "/dev/dri/renderD128", first, "glxgears")

	b := scanBackend(t, procRoot)
	d := testDevice(b)

	if err := b.RefreshProcesses(d); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	second := "drm-pdev:\t" + busID + "\ndrm-client-id:\t5\n" +
		"drm-cycles-rcs:\t600\ndrm-total-cycles-rcs:\t2000\n"
	fdinfoPath := filepath.Join(procRoot, "1234", "fdinfo", "3")
	if err := os.WriteFile(fdinfoPath, []byte(second), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := b.RefreshProcesses(d); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	if len(d.Processes) != 1 {
		t.Fatalf("got %d processes; want 1", len(d.Processes))
	}
	if v := d.Processes[0].GPUUsagePct.Value(); v != 50 {
		t.Fatalf("usage = %d%%; want 50%%", v)
	}
}

func TestRefreshProcessesReplacesListWholesale(t *testing.T) {
	procRoot := t.TempDir()
	fdinfo := "drm-pdev:\t" + busID + "\ndrm-client-id:\t5\n"
	writeProcEntry(t, procRoot, "1234", "3", "/dev/dri/card0", fdinfo, "gone")

	b := scanBackend(t, procRoot)
	d := testDevice(b)

	if err := b.RefreshProcesses(d); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if len(d.Processes) != 1 {
		t.Fatalf("got %d processes; want 1", len(d.Processes))
	}

	if err := os.RemoveAll(filepath.Join(procRoot, "1234")); err != nil {
		t.Fatal(err)
	}
	if err := b.RefreshProcesses(d); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if len(d.Processes) != 0 {
		t.Fatalf("got %d processes after exit; want 0", len(d.Processes))
	}
}
