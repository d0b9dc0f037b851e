// Package ui is the rendering collaborator boundary. The engine talks
// to it through the UI interface only and never formats device output
// itself outside snapshot mode.
package ui

import (
	"time"

	"github.com/skobkin/drmtop/internal/gpu"
)

// Key is one decoded keyboard input byte.
type Key rune

const (
	KeyEscape Key = 0x1b
	KeyCtrlC  Key = 0x03
	KeyQuit   Key = 'q'
)

// UI is consumed by the poll scheduler once per cycle. Render receives
// the device registry read-only; implementations must not retain
// pointers into process records across cycles.
type UI interface {
	// RefreshInterval is the target cadence between full refreshes.
	RefreshInterval() time.Duration

	// ProcessListFrozen reports whether the user paused process
	// updates; the scheduler then skips process refresh and accounting.
	ProcessListFrozen() bool

	// HandleKey dispatches a non-quit control input.
	HandleKey(key Key)

	// HandleResize reacts to a terminal geometry change.
	HandleResize()

	// Render draws the current model.
	Render(devices []*gpu.Device)

	// Input delivers keystrokes; it is the scheduler's bounded
	// blocking point. The channel closes when input ends.
	Input() <-chan Key

	Close() error
}
