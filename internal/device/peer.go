// Package device holds the in-memory peer model and the registry that indexes
// peers by ID, serial number, and rincon ID.
package device

import (
	"sync"
	"time"

	"github.com/hgdev/sonos-bridge/internal/frames"
	"github.com/hgdev/sonos-bridge/internal/params"
)

// Link is one pairwise group membership record on a peer channel. A grouping
// always yields two records, one per peer, each pointing at the other. Sender
// marks this as the sender-role record: the remote is the peer this one
// receives audio from. The coordinator carries the receiver-role mirror.
type Link struct {
	RemoteSerial string
	Sender       bool
}

// RuntimeState is the volatile per-peer state the scheduler and sync engine
// share. It is never persisted.
type RuntimeState struct {
	TransportState string
	LastPosition   time.Time
	LastMediaInfo  time.Time
	LastRenewal    time.Time
	SubscribedAt   time.Time
	// One more position poll is due after playback stops, so the final
	// track position is captured.
	PositionPollPending bool
	Unreachable         bool
}

// Peer is one zone player the bridge talks to.
type Peer struct {
	ID       int64
	Serial   string
	IP       string
	Model    string
	Name     string
	Profile  *frames.Profile
	Params   *params.Store
	Playback *Lock

	mu       sync.Mutex
	rinconID string
	links    map[int][]Link
	runtime  RuntimeState
}

// NewPeer builds a peer with an empty link table and a free playback lock.
func NewPeer(id int64, serial, ip string, profile *frames.Profile, store *params.Store) *Peer {
	return &Peer{
		ID:       id,
		Serial:   serial,
		IP:       ip,
		Profile:  profile,
		Params:   store,
		Playback: NewLock(),
		links:    make(map[int][]Link),
	}
}

// RinconID returns the device's RINCON identifier, empty until first learned.
func (p *Peer) RinconID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rinconID
}

// Links returns a copy of the link list for one channel.
func (p *Peer) Links(channel int) []Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Link(nil), p.links[channel]...)
}

// LinkSerials returns just the remote serials of one channel's links.
func (p *Peer) LinkSerials(channel int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.links[channel]))
	for _, l := range p.links[channel] {
		out = append(out, l.RemoteSerial)
	}
	return out
}

// SetLinks replaces the link list for one channel.
func (p *Peer) SetLinks(channel int, links []Link) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links[channel] = append([]Link(nil), links...)
}

// HasLink reports whether the peer already links to the given serial.
func (p *Peer) HasLink(channel int, remoteSerial string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.links[channel] {
		if l.RemoteSerial == remoteSerial {
			return true
		}
	}
	return false
}

// AddLink records a link and reports whether the list changed. A record for
// the same remote is replaced rather than duplicated, so re-adding with a
// different role flips the role in place.
func (p *Peer) AddLink(channel int, link Link) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, l := range p.links[channel] {
		if l.RemoteSerial == link.RemoteSerial {
			if l == link {
				return false
			}
			p.links[channel][i] = link
			return true
		}
	}
	p.links[channel] = append(p.links[channel], link)
	return true
}

// RemoveLink drops a link and reports whether it was present.
func (p *Peer) RemoveLink(channel int, remoteSerial string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.links[channel]
	for i, l := range list {
		if l.RemoteSerial == remoteSerial {
			p.links[channel] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Runtime returns a snapshot of the volatile state.
func (p *Peer) Runtime() RuntimeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runtime
}

// UpdateRuntime mutates the volatile state under the peer lock.
func (p *Peer) UpdateRuntime(fn func(*RuntimeState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.runtime)
}
