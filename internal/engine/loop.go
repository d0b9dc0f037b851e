// Package engine drives the refresh cadence: it multiplexes blocking
// keyboard input with timeout-based refresh triggers and consumes
// asynchronously delivered OS signals at well-defined points.
package engine

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skobkin/drmtop/internal/aggregate"
	"github.com/skobkin/drmtop/internal/gpu"
	"github.com/skobkin/drmtop/internal/ui"
)

// escGracePeriod distinguishes a bare ESC press from the start of a
// terminal control sequence.
const escGracePeriod = 50 * time.Millisecond

// Publisher receives the updated model once per completed cycle.
type Publisher interface {
	Publish(devices []*gpu.Device)
}

// Loop is the interactive control loop. Everything except signal
// delivery runs on the goroutine calling Run: discovery, refresh,
// accounting, aggregation, and rendering never race each other.
type Loop struct {
	registry  *gpu.Registry
	ui        ui.UI
	publisher Publisher
	logger    *slog.Logger

	// Signal delivery is the only asynchronous input. The runtime
	// forwards signals into these buffered channels; the loop drains
	// them synchronously at the top of each iteration.
	interrupt chan os.Signal
	winch     chan os.Signal
	cont      chan os.Signal

	quit bool
}

// NewLoop installs signal routing and assembles the control loop.
// publisher may be nil.
func NewLoop(registry *gpu.Registry, u ui.UI, publisher Publisher, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := &Loop{
		registry:  registry,
		ui:        u,
		publisher: publisher,
		logger:    logger.With("component", "engine"),
		interrupt: make(chan os.Signal, 1),
		winch:     make(chan os.Signal, 1),
		cont:      make(chan os.Signal, 1),
	}
	signal.Notify(l.interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	signal.Notify(l.winch, unix.SIGWINCH)
	signal.Notify(l.cont, unix.SIGCONT)
	return l
}

// Run executes the loop until a quit key or delivered interrupt, then
// releases all device handles.
func (l *Loop) Run() error {
	defer signal.Stop(l.interrupt)
	defer signal.Stop(l.winch)
	defer signal.Stop(l.cont)

	// Start past the deadline so the first iteration refreshes.
	slept := l.ui.RefreshInterval()

	for {
		l.drainSignals()
		if l.quit {
			break
		}

		interval := l.ui.RefreshInterval()
		if slept >= interval {
			l.refresh()
			slept = 0
			interval = l.ui.RefreshInterval()
		}

		l.ui.Render(l.registry.Devices())

		// Shorten the wait by time already slept so refreshes keep a
		// steady cadence regardless of how long input-waiting took.
		wait := interval - slept
		if wait <= 0 {
			wait = time.Millisecond
		}
		slept += l.waitInput(wait)
	}

	l.logger.Info("shutting down")
	return l.registry.Close()
}

// refresh performs one full cycle in fixed order: dynamic info, then
// process list and accounting, then aggregation. Aggregation always
// runs so the device-wide figure stays non-null even while the process
// list is frozen.
func (l *Loop) refresh() {
	l.registry.RefreshDynamic()
	if !l.ui.ProcessListFrozen() {
		l.registry.RefreshProcesses()
	}
	for _, device := range l.registry.Devices() {
		aggregate.Reconcile(device)
	}
	if l.publisher != nil {
		l.publisher.Publish(l.registry.Devices())
	}
}

func (l *Loop) drainSignals() {
	for {
		select {
		case <-l.interrupt:
			l.quit = true
		case <-l.winch:
			l.ui.HandleResize()
		case <-l.cont:
			// Counters kept running while suspended; the terminal
			// geometry may not have.
			l.ui.HandleResize()
		default:
			return
		}
	}
}

// waitInput blocks up to wait for a keystroke or signal and returns the
// wall-clock time actually spent.
func (l *Loop) waitInput(wait time.Duration) time.Duration {
	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case key, ok := <-l.ui.Input():
		if !ok {
			l.quit = true
			break
		}
		l.dispatchKey(key)
	case <-l.interrupt:
		l.quit = true
	case <-l.winch:
		l.ui.HandleResize()
	case <-l.cont:
		l.ui.HandleResize()
	case <-timer.C:
	}

	return time.Since(start)
}

func (l *Loop) dispatchKey(key ui.Key) {
	switch key {
	case ui.KeyQuit, ui.KeyCtrlC:
		l.quit = true
	case ui.KeyEscape:
		l.handleEscape()
	default:
		l.ui.HandleKey(key)
	}
}

// seqF10 is the CSI sequence a terminal emits for the F10 key, minus
// the leading ESC.
const seqF10 = "[21~"

// handleEscape resolves what an ESC byte opened. A bare ESC (nothing
// follows within the grace period), a second ESC, or an F10 sequence
// all quit. Other control sequences are consumed and ignored; a plain
// byte after ESC is an alt-chord and is forwarded to the interface.
func (l *Loop) handleEscape() {
	first, ok := l.nextByte()
	if !ok {
		l.quit = true
		return
	}

	switch first {
	case ui.KeyEscape:
		l.quit = true
	case '[':
		if l.readCSI() == seqF10 {
			l.quit = true
		}
	case 'O':
		// SS3 sequences (F1-F4, some arrows) carry one more byte.
		l.nextByte()
	default:
		l.ui.HandleKey(first)
	}
}

// readCSI consumes a CSI sequence after "ESC [" and returns it with the
// leading '[' restored. Parameter and intermediate bytes run until a
// final byte in 0x40-0x7E; sequences longer than the cap are dropped.
func (l *Loop) readCSI() string {
	seq := []byte{'['}
	for len(seq) < 8 {
		b, ok := l.nextByte()
		if !ok {
			return ""
		}
		seq = append(seq, byte(b))
		if b >= 0x40 && b <= 0x7e {
			return string(seq)
		}
	}
	return ""
}

// nextByte waits up to the grace period for the next byte of a control
// sequence. The second value is false on timeout or closed input.
func (l *Loop) nextByte() (ui.Key, bool) {
	select {
	case key, ok := <-l.ui.Input():
		if !ok {
			l.quit = true
			return 0, false
		}
		return key, true
	case <-time.After(escGracePeriod):
		return 0, false
	}
}
