package telemetry

import "strings"

// ProcessType is a flag set describing what kind of work a process ran
// on the device during the last cycle. Flags are independently settable
// and derived from observed engine activity, not static metadata.
type ProcessType uint8

const (
	ProcessGraphical ProcessType = 1 << iota
	ProcessCompute
	ProcessDecode
	ProcessEncode
)

// Has reports whether all flags in mask are set.
func (t ProcessType) Has(mask ProcessType) bool {
	return t&mask == mask
}

func (t ProcessType) String() string {
	if t == 0 {
		return "unknown"
	}
	var parts []string
	if t.Has(ProcessGraphical) {
		parts = append(parts, "graphical")
	}
	if t.Has(ProcessCompute) {
		parts = append(parts, "compute")
	}
	if t.Has(ProcessDecode) {
		parts = append(parts, "decode")
	}
	if t.Has(ProcessEncode) {
		parts = append(parts, "encode")
	}
	return strings.Join(parts, "+")
}

// Process describes one process using a device during the current
// refresh cycle. ClientID is the driver-assigned identity of one open
// device context; it is unique per device, not per system, and is not
// the OS process id. The record lives only within one cycle's device
// snapshot; consumers must not retain pointers into it across cycles.
type Process struct {
	PID      int
	ClientID uint64
	Name     string
	Type     ProcessType

	GPUUsagePct      Field[uint64]
	DecodeUsagePct   Field[uint64]
	EncodeUsagePct   Field[uint64]
	MemoryBytes      Field[uint64]
	CumulativeCycles Field[uint64]
}
