package export

import (
	"sync"
	"time"

	"github.com/skobkin/drmtop/internal/gpu"
)

// Hub caches the latest cycle's snapshots and fans them out to
// websocket subscribers. It is the boundary between the single-threaded
// control loop and the concurrent HTTP surface.
//
// Subscriber channels hold a single element. All sends happen under the
// hub lock, so a full channel can be drained and refilled without
// racing another sender: a subscriber that falls behind always reads
// the newest cycle.
type Hub struct {
	mu     sync.Mutex
	latest []DeviceSnapshot
	subs   map[chan []DeviceSnapshot]struct{}
	now    func() time.Time
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[chan []DeviceSnapshot]struct{}),
		now:  time.Now,
	}
}

// Publish converts the updated model and distributes it. Called by the
// control loop once per completed cycle.
func (h *Hub) Publish(devices []*gpu.Device) {
	now := h.now().UTC()
	snapshots := make([]DeviceSnapshot, 0, len(devices))
	for _, device := range devices {
		snapshots = append(snapshots, Snapshot(device, now))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = snapshots
	for ch := range h.subs {
		offer(ch, snapshots)
	}
}

// Latest returns the most recent cycle's snapshots.
func (h *Hub) Latest() []DeviceSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribe registers for per-cycle updates and immediately queues the
// last published cycle, if any. The returned cancel function is safe to
// call more than once.
func (h *Hub) Subscribe() (<-chan []DeviceSnapshot, func()) {
	ch := make(chan []DeviceSnapshot, 1)

	h.mu.Lock()
	if h.latest != nil {
		ch <- h.latest
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// offer replaces a pending stale cycle with the new one. Only the
// publisher sends on subscriber channels, and only under the hub lock,
// so the drain-then-send below cannot block.
func offer(ch chan []DeviceSnapshot, snapshots []DeviceSnapshot) {
	select {
	case ch <- snapshots:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- snapshots
	}
}
