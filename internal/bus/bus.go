package bus

import "sync"

// Update announces that the coordinator holds a fresh reading set for a
// device.
type Update struct {
	DeviceID string
}

// Bus provides fan-out pub/sub semantics for Update messages.
// Each Subscribe call gets its own channel that receives every future
// publication. Past messages are not replayed. The implementation is safe for
// concurrent publishers and subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Update
	closed      bool
}

// New creates a ready-to-use Bus.
func New() *Bus { return &Bus{} }

// Subscribe returns a read-only channel that will receive future updates.
// buffer sizes the channel; values below 1 are raised to 1.
func (b *Bus) Subscribe(buffer int) <-chan Update {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers the update to all subscribers in a best-effort,
// non-blocking way. A busy subscriber misses this update and picks up the
// next one.
func (b *Bus) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

// Close closes every subscriber channel. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
