package telemetry

// StaticInfo holds device properties populated once at discovery time
// and immutable afterwards. Partial population is allowed; missing
// fields simply stay invalid.
type StaticInfo struct {
	DeviceName  Field[string]
	MaxClockMHz Field[uint64]
	VRAMBytes   Field[uint64]
}

// DynamicInfo holds per-cycle device telemetry. The whole record is
// replaced on every refresh so stale fields cannot leak between cycles.
type DynamicInfo struct {
	ClockMHz      Field[uint64]
	TempC         Field[uint64]
	FanRPM        Field[uint64]
	PowerDrawMW   Field[uint64]
	MemTotalBytes Field[uint64]
	MemUsedBytes  Field[uint64]
	MemFreeBytes  Field[uint64]
	MemUtilPct    Field[uint64]
	GPUUtilPct    Field[uint64]
}
