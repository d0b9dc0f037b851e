// Package telemetry defines the typed device and process records shared
// by every backend. Metric fields carry their own validity flag: a field
// the last refresh could not populate stays invalid, and an invalid
// field's stored value is meaningless rather than zero.
package telemetry

import "fmt"

// Field holds a metric value together with its validity flag. The zero
// value of a Field is invalid.
type Field[T any] struct {
	value T
	valid bool
}

// Set stores a value and marks the field valid.
func (f *Field[T]) Set(value T) {
	f.value = value
	f.valid = true
}

// Invalidate clears the field.
func (f *Field[T]) Invalidate() {
	var zero T
	f.value = zero
	f.valid = false
}

// Valid reports whether the last refresh populated the field.
func (f Field[T]) Valid() bool {
	return f.valid
}

// Get returns the stored value and whether it is valid.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.valid
}

// Value returns the stored value. Reading an invalid field is a
// programming error and panics.
func (f Field[T]) Value() T {
	if !f.valid {
		panic(fmt.Sprintf("telemetry: read of invalid %T field", f.value))
	}
	return f.value
}

// Or returns the stored value when valid, otherwise the fallback.
func (f Field[T]) Or(fallback T) T {
	if !f.valid {
		return fallback
	}
	return f.value
}

// Accumulate adds delta to the field, treating an invalid field as zero.
// Used for values reported across multiple accounting records for the
// same process within one refresh cycle.
func Accumulate(f *Field[uint64], delta uint64) {
	if current, ok := f.Get(); ok {
		f.Set(current + delta)
		return
	}
	f.Set(delta)
}
