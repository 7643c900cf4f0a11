// Package soap parses and builds the UPnP/SOAP messages exchanged with Sonos
// zone players: eventing LastChange blobs, synchronous action responses,
// content-directory browse results and outbound action requests.
package soap

import "time"

// Function name sentinels for eventing packets that carry no SOAP body.
const (
	FunctionInfoBroadcast  = "InfoBroadcast"
	FunctionInfoBroadcast2 = "InfoBroadcast2"
)

// Packet is one parsed protocol message. It is constructed once per inbound
// message and not mutated afterwards.
type Packet struct {
	FunctionName string
	SerialNumber string
	TimeReceived time.Time

	// Values is the flat key -> value map. Keys are the local element names,
	// with the channel attribute appended when present (e.g. "VolumeMaster").
	Values map[string]string

	// Nested DIDL-Lite item maps. Nil when the corresponding element was not
	// present; empty (non-nil) when it was present but carried no payload.
	CurrentTrackMetadata       map[string]string
	NextTrackMetadata          map[string]string
	AVTransportURIMetadata     map[string]string
	NextAVTransportURIMetadata map[string]string

	// Browse is set for BrowseResponse packets only.
	Browse *BrowseResult
}

// BrowseItem is one row of a content-directory browse result.
type BrowseItem struct {
	Title       string
	Album       string
	Artist      string
	AlbumArt    string
	URI         string
	URIMetadata string
}

// BrowseResult holds the rows of one Browse call. ParentID is taken from the
// first complete row.
type BrowseResult struct {
	ParentID string
	Items    []BrowseItem
}

func newPacket(received time.Time) *Packet {
	return &Packet{
		TimeReceived: received,
		Values:       make(map[string]string),
	}
}

// MetadataMap returns the nested metadata map a frame field with the given
// source key resolves against, or nil when the key names no metadata source.
// EnqueuedTransportURIMetaData shares the current-track map.
func (p *Packet) MetadataMap(key string) map[string]string {
	switch key {
	case "CurrentTrackMetaData", "TrackMetaData", "EnqueuedTransportURIMetaData":
		return p.CurrentTrackMetadata
	case "NextTrackMetaData":
		return p.NextTrackMetadata
	case "AVTransportURIMetaData":
		return p.AVTransportURIMetadata
	case "NextAVTransportURIMetaData":
		return p.NextAVTransportURIMetadata
	}
	return nil
}
