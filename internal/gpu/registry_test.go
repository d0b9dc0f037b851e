package gpu

import (
	"errors"
	"testing"
)

type fakeBackend struct {
	name        string
	busIDs      []string
	discoverErr error
	closeErr    error

	staticCalls int
	dynCalls    int
	procCalls   int
	closed      int
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Discover() ([]*Device, error) {
	if b.discoverErr != nil {
		return nil, b.discoverErr
	}
	devices := make([]*Device, 0, len(b.busIDs))
	for _, busID := range b.busIDs {
		devices = append(devices, NewDevice(busID, b))
	}
	return devices, nil
}

func (b *fakeBackend) PopulateStatic(d *Device) {
	b.staticCalls++
	d.Static.DeviceName.Set("Fake " + d.BusID)
}

func (b *fakeBackend) RefreshDynamic(d *Device) {
	b.dynCalls++
	d.Dynamic.ClockMHz.Set(1000)
}

func (b *fakeBackend) RefreshProcesses(*Device) error {
	b.procCalls++
	return nil
}

func (b *fakeBackend) Close() error {
	b.closed++
	return b.closeErr
}

func TestRegistryDiscoversAndPopulates(t *testing.T) {
	backend := &fakeBackend{name: "fake", busIDs: []string{"0000:03:00.0", "0000:0a:00.0"}}

	registry, err := NewRegistry([]Backend{backend}, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if len(registry.Devices()) != 2 {
		t.Fatalf("got %d devices; want 2", len(registry.Devices()))
	}
	if backend.staticCalls != 2 {
		t.Fatalf("static populated %d times; want 2", backend.staticCalls)
	}
	if name := registry.Devices()[0].Static.DeviceName.Value(); name != "Fake 0000:03:00.0" {
		t.Fatalf("device name = %q", name)
	}
}

func TestRegistrySkipsFailingBackend(t *testing.T) {
	broken := &fakeBackend{name: "broken", discoverErr: errors.New("boom")}
	working := &fakeBackend{name: "ok", busIDs: []string{"0000:03:00.0"}}

	registry, err := NewRegistry([]Backend{broken, working}, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if len(registry.Devices()) != 1 {
		t.Fatalf("got %d devices; want 1 from the working backend", len(registry.Devices()))
	}
}

func TestRegistryAppliesEnabledFilter(t *testing.T) {
	backend := &fakeBackend{name: "fake", busIDs: []string{"0000:03:00.0", "0000:0a:00.0"}}
	enabled := func(busID string) bool { return busID == "0000:0a:00.0" }

	registry, err := NewRegistry([]Backend{backend}, enabled, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	devices := registry.Devices()
	if len(devices) != 1 || devices[0].BusID != "0000:0a:00.0" {
		t.Fatalf("devices = %v; want only the enabled one", devices)
	}
}

func TestRefreshDynamicClearsStaleFields(t *testing.T) {
	backend := &fakeBackend{name: "fake", busIDs: []string{"0000:03:00.0"}}
	registry, err := NewRegistry([]Backend{backend}, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	d := registry.Devices()[0]
	d.Dynamic.TempC.Set(90)

	registry.RefreshDynamic()

	if d.Dynamic.TempC.Valid() {
		t.Fatal("stale temperature survived the refresh")
	}
	if v := d.Dynamic.ClockMHz.Value(); v != 1000 {
		t.Fatalf("clock = %d; want 1000", v)
	}
}

func TestRegistryCloseDeduplicatesBackends(t *testing.T) {
	backend := &fakeBackend{name: "fake", busIDs: []string{"0000:03:00.0", "0000:0a:00.0"}}
	registry, err := NewRegistry([]Backend{backend}, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := registry.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if backend.closed != 1 {
		t.Fatalf("backend closed %d times; want once", backend.closed)
	}
}

func TestRegistryClosePropagatesErrors(t *testing.T) {
	backend := &fakeBackend{name: "fake", busIDs: []string{"0000:03:00.0"}, closeErr: errors.New("boom")}
	registry, err := NewRegistry([]Backend{backend}, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := registry.Close(); err == nil {
		t.Fatal("Close swallowed the backend error")
	}
}
