package sync

import (
	stdsync "sync"

	"basetip/creator"
)

// View names a cached read model that can be invalidated.
type View string

const (
	ViewCreators View = "creators"
	ViewStats    View = "stats"
)

// Notice is an invalidation event. Creator is set when the notice was raised
// by a registration event and carries the already-refreshed profile; timer
// notices leave it nil.
type Notice struct {
	View    View
	Creator *creator.Record
}

const noticeBuffer = 16

// Bus fans invalidation notices out to subscribers. Publish never blocks; a
// subscriber that falls behind loses notices rather than stalling producers.
type Bus struct {
	mu   stdsync.Mutex
	subs map[chan Notice]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Notice]struct{})}
}

// Subscribe registers a new subscriber channel. The caller must drain it and
// release it with Unsubscribe.
func (b *Bus) Subscribe() chan Notice {
	ch := make(chan Notice, noticeBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Notice) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers a notice to every current subscriber without blocking.
func (b *Bus) Publish(n Notice) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}
