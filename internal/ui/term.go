package ui

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/skobkin/drmtop/internal/gpu"
	"github.com/skobkin/drmtop/internal/telemetry"
)

const (
	minInterval  = 100 * time.Millisecond
	maxInterval  = 10 * time.Second
	intervalStep = 100 * time.Millisecond
)

// Term is a plain-text terminal renderer. It is intentionally minimal:
// one status block per device and a short process table, redrawn in
// place each cycle.
type Term struct {
	out     io.Writer
	in      *os.File
	logger  *slog.Logger
	keys    chan Key
	restore func()

	interval time.Duration
	frozen   bool
	width    int
}

// NewTerm puts the controlling terminal into raw mode (when stdin is
// one) and starts the keyboard reader.
func NewTerm(interval time.Duration, frozen bool, logger *slog.Logger) (*Term, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t := &Term{
		out:      os.Stdout,
		in:       os.Stdin,
		logger:   logger.With("component", "term_ui"),
		keys:     make(chan Key, 8),
		interval: interval,
		frozen:   frozen,
		width:    80,
	}

	fd := int(t.in.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("enter raw mode: %w", err)
		}
		t.restore = func() {
			if err := term.Restore(fd, state); err != nil {
				t.logger.Warn("failed to restore terminal", "err", err)
			}
		}
		if width, _, err := term.GetSize(fd); err == nil && width > 0 {
			t.width = width
		}
	}

	go t.readInput()
	return t, nil
}

func (t *Term) readInput() {
	defer close(t.keys)
	buf := make([]byte, 1)
	for {
		n, err := t.in.Read(buf)
		if err != nil {
			return
		}
		if n == 1 {
			t.keys <- Key(buf[0])
		}
	}
}

// Input delivers raw keystrokes to the scheduler.
func (t *Term) Input() <-chan Key {
	return t.keys
}

// RefreshInterval returns the current target cadence.
func (t *Term) RefreshInterval() time.Duration {
	return t.interval
}

// ProcessListFrozen reports whether process updates are paused.
func (t *Term) ProcessListFrozen() bool {
	return t.frozen
}

// HandleKey applies interface controls: 'p' pauses process updates,
// '+'/'-' adjust the refresh cadence.
func (t *Term) HandleKey(key Key) {
	switch key {
	case 'p':
		t.frozen = !t.frozen
	case '+':
		if t.interval+intervalStep <= maxInterval {
			t.interval += intervalStep
		}
	case '-':
		if t.interval-intervalStep >= minInterval {
			t.interval -= intervalStep
		}
	}
}

// HandleResize re-queries the terminal geometry.
func (t *Term) HandleResize() {
	fd := int(t.in.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	if width, _, err := term.GetSize(fd); err == nil && width > 0 {
		t.width = width
	}
}

// Render redraws the device status block. Raw mode needs explicit
// carriage returns.
func (t *Term) Render(devices []*gpu.Device) {
	fmt.Fprint(t.out, "\x1b[H\x1b[2J")
	fmt.Fprintf(t.out, "drmtop  refresh %s  %s\r\n\r\n", t.interval, t.freezeMarker())

	for _, d := range devices {
		name := d.Static.DeviceName.Or(d.BusID)
		t.line("%s [%s] %s", d.BusID, d.Vendor, name)
		t.line("  util %s  mem %s/%s (%s)  clk %s  temp %s  fan %s  pwr %s",
			pct(d.Dynamic.GPUUtilPct),
			mib(d.Dynamic.MemUsedBytes), mib(d.Dynamic.MemTotalBytes), pct(d.Dynamic.MemUtilPct),
			unit(d.Dynamic.ClockMHz, "MHz"),
			unit(d.Dynamic.TempC, "C"),
			unit(d.Dynamic.FanRPM, "RPM"),
			watts(d.Dynamic.PowerDrawMW))

		if len(d.Processes) > 0 {
			t.line("  %7s %-18s %5s %5s %5s %9s  %s", "PID", "TYPE", "GPU%", "DEC%", "ENC%", "MEM", "NAME")
			for i := range d.Processes {
				p := &d.Processes[i]
				t.line("  %7d %-18s %5s %5s %5s %9s  %s",
					p.PID, p.Type.String(),
					pct(p.GPUUsagePct), pct(p.DecodeUsagePct), pct(p.EncodeUsagePct),
					mib(p.MemoryBytes), p.Name)
			}
		}
		t.line("")
	}
}

func (t *Term) line(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if t.width > 0 && len(text) > t.width {
		text = text[:t.width]
	}
	fmt.Fprint(t.out, text, "\r\n")
}

func (t *Term) freezeMarker() string {
	if t.frozen {
		return "[processes paused]"
	}
	return ""
}

// Close restores the terminal state.
func (t *Term) Close() error {
	if t.restore != nil {
		t.restore()
	}
	return nil
}

func pct(f telemetry.Field[uint64]) string {
	if v, ok := f.Get(); ok {
		return fmt.Sprintf("%d%%", v)
	}
	return "-"
}

func unit(f telemetry.Field[uint64], suffix string) string {
	if v, ok := f.Get(); ok {
		return fmt.Sprintf("%d%s", v, suffix)
	}
	return "-"
}

func watts(f telemetry.Field[uint64]) string {
	if v, ok := f.Get(); ok {
		return fmt.Sprintf("%dW", v/1000)
	}
	return "-"
}

func mib(f telemetry.Field[uint64]) string {
	if v, ok := f.Get(); ok {
		return fmt.Sprintf("%dMiB", v/(1024*1024))
	}
	return "-"
}
