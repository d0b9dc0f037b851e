package accounting

import "github.com/skobkin/drmtop/internal/telemetry"

// Policy maps engine classes to the process usage fields they feed.
// Video work is visually indistinguishable from render load in headless
// accounting, so the default folds decode and encode deltas into the
// aggregate figure in addition to their dedicated fields. Both that and
// the copy-engine contribution are tunable.
type Policy struct {
	Aggregate []EngineClass
	Decode    []EngineClass
	Encode    []EngineClass
}

// DefaultPolicy returns the standard mapping: every class contributes
// to the aggregate, video-decode to the decode field, video-enhance to
// the encode field.
func DefaultPolicy() Policy {
	return Policy{
		Aggregate: []EngineClass{EngineRender, EngineVideoDecode, EngineVideoEnhance, EngineCopy, EngineCompute},
		Decode:    []EngineClass{EngineVideoDecode},
		Encode:    []EngineClass{EngineVideoEnhance},
	}
}

// Tuning selects which optional engine classes feed the aggregate
// usage figure.
type Tuning struct {
	VideoInAggregate bool
	CopyInAggregate  bool
}

// BuildPolicy derives a Policy from tuning switches. Render and compute
// always feed the aggregate.
func BuildPolicy(t Tuning) Policy {
	p := Policy{
		Aggregate: []EngineClass{EngineRender, EngineCompute},
		Decode:    []EngineClass{EngineVideoDecode},
		Encode:    []EngineClass{EngineVideoEnhance},
	}
	if t.VideoInAggregate {
		p.Aggregate = append(p.Aggregate, EngineVideoDecode, EngineVideoEnhance)
	}
	if t.CopyInAggregate {
		p.Aggregate = append(p.Aggregate, EngineCopy)
	}
	return p
}

// Apply folds per-class usage into the process record. On the first
// contribution each target field is forced to a valid zero so an idle
// context reports 0% rather than unknown; later contributions within
// the same cycle accumulate. The aggregate is clamped to 100 because
// independent engines can each be fully busy concurrently while the
// reported figure is a single bounded percentage.
func (p Policy) Apply(usage Usage, proc *telemetry.Process) {
	ensureZero(&proc.GPUUsagePct)
	ensureZero(&proc.DecodeUsagePct)
	ensureZero(&proc.EncodeUsagePct)

	for _, class := range p.Aggregate {
		if usage.Known[class] {
			telemetry.Accumulate(&proc.GPUUsagePct, usage.Pct[class])
		}
	}
	for _, class := range p.Decode {
		if usage.Known[class] {
			telemetry.Accumulate(&proc.DecodeUsagePct, usage.Pct[class])
		}
	}
	for _, class := range p.Encode {
		if usage.Known[class] {
			telemetry.Accumulate(&proc.EncodeUsagePct, usage.Pct[class])
		}
	}

	clampPct(&proc.GPUUsagePct)
	clampPct(&proc.DecodeUsagePct)
	clampPct(&proc.EncodeUsagePct)
}

func ensureZero(f *telemetry.Field[uint64]) {
	if !f.Valid() {
		f.Set(0)
	}
}

func clampPct(f *telemetry.Field[uint64]) {
	if v, ok := f.Get(); ok && v > 100 {
		f.Set(100)
	}
}
