package hub

import (
	"sync"
	"time"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/params"
)

// ChangeEvent is one batch of changed parameter values on one peer channel.
type ChangeEvent struct {
	PeerID  int64             `json:"peerId"`
	Serial  string            `json:"serial"`
	Channel int               `json:"channel"`
	Values  map[string]string `json:"values"`
	Time    time.Time         `json:"time"`
}

// Broadcaster fans change events out to any number of subscribers. A slow
// subscriber loses events rather than blocking the sync path.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan ChangeEvent
	next int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan ChangeEvent)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called exactly once; the channel closes after that.
func (b *Broadcaster) Subscribe() (<-chan ChangeEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan ChangeEvent, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// PublishValues implements the sync engine's EventSink.
func (b *Broadcaster) PublishValues(peer *device.Peer, channel int, values map[string]params.Variable) {
	event := ChangeEvent{
		PeerID:  peer.ID,
		Serial:  peer.Serial,
		Channel: channel,
		Values:  make(map[string]string, len(values)),
		Time:    time.Now(),
	}
	for k, v := range values {
		event.Values[k] = v.String()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
