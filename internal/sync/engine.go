// Package sync applies parsed packets to peer parameter stores and runs the
// derived-value cascades that keep track info, group state, and stream
// metadata coherent.
package sync

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/frames"
	"github.com/hgdev/sonos-bridge/internal/params"
	"github.com/hgdev/sonos-bridge/internal/soap"
)

// GroupSync is notified when a peer's transport URI moves between group
// coordinators, so the pairwise link lists can follow.
type GroupSync interface {
	TransportURIChanged(peer *device.Peer, oldURI, newURI string)
}

// EventSink receives one batch of changed values per channel per packet.
type EventSink interface {
	PublishValues(peer *device.Peer, channel int, values map[string]params.Variable)
}

// Engine matches packets against a peer's frame table and maintains the
// parameter store.
type Engine struct {
	registry *device.Registry
	groups   GroupSync
	events   EventSink
	logger   *log.Logger
}

// NewEngine creates a sync engine. groups and events may be nil.
func NewEngine(registry *device.Registry, groups GroupSync, events EventSink, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{registry: registry, groups: groups, events: events, logger: logger}
}

// SetGroupSync wires the group manager in after construction. The manager
// needs the command executor, which in turn needs this engine.
func (e *Engine) SetGroupSync(groups GroupSync) {
	e.groups = groups
}

// Process applies one packet to the peer. Values that did not change are
// dropped before they reach the event sink; the transport URI is the one
// exception because its cascades must run on every report.
func (e *Engine) Process(peer *device.Peer, pkt *soap.Packet) {
	matched := peer.Profile.FramesFor(pkt.FunctionName)
	if len(matched) == 0 {
		return
	}

	batches := make(map[int]map[string]params.Variable)
	for _, frame := range matched {
		for _, channel := range e.frameChannels(peer, frame) {
			for _, field := range frame.Fields {
				text, ok := fieldValue(pkt, field)
				if !ok {
					continue
				}
				e.apply(peer, channel, field.Parameter, text, false, batches)
			}
		}
	}

	// Channel 1 mirrors the device-wide values. Drop its entries that some
	// specific channel also carries, so subscribers see each change once.
	if ch1 := batches[1]; len(ch1) > 0 {
		for channel, values := range batches {
			if channel == 1 {
				continue
			}
			for key := range values {
				delete(ch1, key)
			}
		}
	}

	for channel, values := range batches {
		if len(values) == 0 {
			continue
		}
		if e.events != nil {
			e.events.PublishValues(peer, channel, values)
		}
	}
}

// frameChannels resolves a frame's channel spec against the channels the peer
// actually has.
func (e *Engine) frameChannels(peer *device.Peer, frame *frames.Frame) []int {
	if frame.Channel != frames.ChannelWildcard {
		return []int{int(frame.Channel)}
	}
	return peer.Params.Channels()
}

// fieldValue pulls the field's raw text out of the packet. Browse fields key
// on the result's parent ID; metadata fields key on the named metadata map.
func fieldValue(pkt *soap.Packet, field frames.Field) (string, bool) {
	if field.Subkey == "parent" {
		if pkt.Browse == nil || pkt.Browse.ParentID != field.Key {
			return "", false
		}
		raw, err := json.Marshal(pkt.Browse.Items)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
	if field.Subkey != "" {
		meta := pkt.MetadataMap(field.Key)
		if meta == nil {
			return "", false
		}
		v, ok := meta[field.Subkey]
		return v, ok
	}
	v, ok := pkt.Values[field.Key]
	return v, ok
}

func (e *Engine) apply(peer *device.Peer, channel int, param, text string, viaRemap bool, batches map[int]map[string]params.Variable) {
	switch param {
	case "CURRENT_ALBUM_ART", "NEXT_ALBUM_ART":
		text = absoluteArtURL(peer.IP, text)
	case "CURRENT_TITLE", "CURRENT_ALBUM":
		// While a radio stream plays, the track metadata carries stream
		// housekeeping, not the real title and album. Those arrive via
		// the remap below.
		if !viaRemap && e.streaming(peer, channel) {
			return
		}
	}

	old, _ := peer.Params.Get(channel, param)
	v, changed, ok := peer.Params.Set(channel, param, text)
	if !ok {
		return
	}
	if !changed && param != "AV_TRANSPORT_URI" {
		return
	}
	if changed {
		if batches[channel] == nil {
			batches[channel] = make(map[string]params.Variable)
		}
		batches[channel][param] = v
	}

	switch param {
	case "ID":
		e.registry.SetRincon(peer, v.Str)

	case "AV_TRANSPORT_URI":
		e.transportURIChanged(peer, channel, old.Str, v.Str, batches)

	case "CURRENT_TRACK_URI":
		if v.Str == "" {
			for _, p := range []string{"CURRENT_TITLE", "CURRENT_ALBUM", "CURRENT_ARTIST", "CURRENT_ALBUM_ART", "CURRENT_TRACK_DURATION", "CURRENT_TRACK_STREAM_CONTENT"} {
				e.apply(peer, channel, p, "", true, batches)
			}
		}

	case "NEXT_TRACK_URI":
		if v.Str == "" {
			for _, p := range []string{"NEXT_TITLE", "NEXT_ALBUM", "NEXT_ARTIST", "NEXT_ALBUM_ART"} {
				e.apply(peer, channel, p, "", true, batches)
			}
		}

	case "CURRENT_TRACK_STREAM_CONTENT":
		if e.streaming(peer, channel) {
			e.apply(peer, channel, "CURRENT_TITLE", v.Str, true, batches)
		}

	case "AV_TRANSPORT_TITLE":
		if e.streaming(peer, channel) {
			e.apply(peer, channel, "CURRENT_ALBUM", v.Str, true, batches)
		}

	case "TRANSPORT_STATE":
		peer.UpdateRuntime(func(rt *device.RuntimeState) {
			if rt.TransportState == "PLAYING" && v.Str != "PLAYING" {
				rt.PositionPollPending = true
			}
			rt.TransportState = v.Str
		})
	}
}

// transportURIChanged runs the cascades hanging off the transport URI: group
// link maintenance, master flags, stream mode, and track clearing.
func (e *Engine) transportURIChanged(peer *device.Peer, channel int, oldURI, newURI string, batches map[int]map[string]params.Variable) {
	if e.groups != nil {
		e.groups.TransportURIChanged(peer, oldURI, newURI)
	}

	master := !IsGroupSlaveURI(newURI)
	masterID := peer.RinconID()
	if !master {
		masterID = RinconFromURI(newURI)
	}
	e.apply(peer, channel, "IS_MASTER", boolText(master), true, batches)
	e.apply(peer, channel, "MASTER_ID", masterID, true, batches)

	if newURI == "" {
		e.apply(peer, channel, "CURRENT_TRACK_URI", "", true, batches)
		e.apply(peer, channel, "NEXT_TRACK_URI", "", true, batches)
		return
	}

	switch {
	case IsStreamURI(newURI) && !IsStreamURI(oldURI):
		// Entering a radio stream. Remap the stream fields into the
		// track slots and drop the fields a stream cannot fill.
		if sc, ok := peer.Params.Get(channel, "CURRENT_TRACK_STREAM_CONTENT"); ok {
			e.apply(peer, channel, "CURRENT_TITLE", sc.Str, true, batches)
		}
		if title, ok := peer.Params.Get(channel, "AV_TRANSPORT_TITLE"); ok {
			e.apply(peer, channel, "CURRENT_ALBUM", title.Str, true, batches)
		}
		e.apply(peer, channel, "CURRENT_ARTIST", "", true, batches)
		e.apply(peer, channel, "CURRENT_ALBUM_ART", "", true, batches)

	case IsStreamURI(oldURI) && !IsStreamURI(newURI):
		// Leaving the stream. Clear the remapped slots so the next track
		// metadata fills them instead of stale stream content.
		e.apply(peer, channel, "CURRENT_TITLE", "", true, batches)
		e.apply(peer, channel, "CURRENT_ALBUM", "", true, batches)
	}
}

// streaming reports whether the peer's current transport URI is a radio
// stream.
func (e *Engine) streaming(peer *device.Peer, channel int) bool {
	v, ok := peer.Params.Get(channel, "AV_TRANSPORT_URI")
	return ok && IsStreamURI(v.Str)
}

// IsGroupSlaveURI reports whether the transport URI points at another
// player's queue, which makes this peer a group slave.
func IsGroupSlaveURI(uri string) bool {
	return strings.HasPrefix(uri, "x-rincon:")
}

// IsStreamURI reports whether the transport URI is a radio stream.
func IsStreamURI(uri string) bool {
	return strings.HasPrefix(uri, "x-sonosapi-stream:")
}

// RinconFromURI extracts the coordinator's RINCON identifier from a group
// slave URI.
func RinconFromURI(uri string) string {
	return strings.TrimPrefix(uri, "x-rincon:")
}

// absoluteArtURL rewrites a player-relative album art path into a fetchable
// URL on the player itself.
func absoluteArtURL(ip, path string) string {
	if path == "" || !strings.HasPrefix(path, "/") {
		return path
	}
	return fmt.Sprintf("http://%s:1400%s", ip, path)
}

func boolText(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
