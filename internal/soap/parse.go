package soap

import (
	"bytes"
	"encoding/xml"
	"log"
	"strings"
	"time"
)

// node is a generic XML tree used for the walks below. encoding/xml performs
// one level of entity decoding per parse, which is exactly what the
// double-encoded LastChange/DIDL payloads need: parse the carrier, then parse
// the decoded text again.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

func (n *node) child(local string) *node {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == local {
			return &n.Children[i]
		}
	}
	return nil
}

func (n *node) attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Parse turns one raw XML payload into a Packet. The payload is either a
// SOAP envelope (synchronous action response) or a bare <Event> fragment
// (a decoded LastChange value). Malformed XML never fails the call: the
// offending payload is logged and an empty-but-valid packet returned.
func Parse(raw []byte, serialNumber string, received time.Time) *Packet {
	p := newPacket(received)
	p.SerialNumber = serialNumber

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return p
	}

	var root node
	if err := xml.Unmarshal(raw, &root); err != nil {
		log.Printf("SOAP: unparseable packet: %v, payload: %s", err, truncateForLog(raw))
		return p
	}

	switch root.XMLName.Local {
	case "Envelope":
		parseEnvelope(p, &root)
	case "Event":
		parseEvent(p, &root)
	default:
		log.Printf("SOAP: unknown root element %q", root.XMLName.Local)
	}
	return p
}

// ParseProperty builds a packet from one non-LastChange eventing property
// node, flattening its children into the flat value map.
func ParseProperty(raw []byte, serialNumber string, received time.Time) *Packet {
	p := newPacket(received)
	p.SerialNumber = serialNumber
	p.FunctionName = FunctionInfoBroadcast2

	var root node
	if err := xml.Unmarshal(bytes.TrimSpace(raw), &root); err != nil {
		log.Printf("SOAP: unparseable property: %v, payload: %s", err, truncateForLog(raw))
		return p
	}
	for _, c := range root.Children {
		p.Values[c.XMLName.Local] = c.Text
	}
	if len(root.Children) == 0 {
		p.Values[root.XMLName.Local] = root.Text
	}
	return p
}

// ParsePropertySet expands one GENA NOTIFY body into packets. A LastChange
// property carries a full escaped <Event> document and yields an event
// packet; every other property becomes its own InfoBroadcast2 packet keyed
// by the property name.
func ParsePropertySet(raw []byte, serialNumber string, received time.Time) []*Packet {
	var root node
	if err := xml.Unmarshal(bytes.TrimSpace(raw), &root); err != nil {
		log.Printf("SOAP: unparseable propertyset: %v, payload: %s", err, truncateForLog(raw))
		return nil
	}
	if root.XMLName.Local != "propertyset" {
		log.Printf("SOAP: notify body root %q is not a propertyset", root.XMLName.Local)
		return nil
	}

	var packets []*Packet
	for i := range root.Children {
		property := &root.Children[i]
		if property.XMLName.Local != "property" {
			continue
		}
		for j := range property.Children {
			value := &property.Children[j]
			if value.XMLName.Local == "LastChange" {
				packets = append(packets, Parse([]byte(value.Text), serialNumber, received))
				continue
			}
			p := newPacket(received)
			p.SerialNumber = serialNumber
			p.FunctionName = FunctionInfoBroadcast2
			p.Values[value.XMLName.Local] = value.Text
			packets = append(packets, p)
		}
	}
	return packets
}

func parseEvent(p *Packet, root *node) {
	p.FunctionName = FunctionInfoBroadcast
	instance := root.child("InstanceID")
	if instance == nil {
		log.Printf("SOAP: event packet without InstanceID")
		return
	}

	for i := range instance.Children {
		c := &instance.Children[i]
		name := c.XMLName.Local
		if channel, ok := c.attr("channel"); ok {
			name += channel
		}
		value, ok := c.attr("val")
		if !ok {
			log.Printf("SOAP: event element %q without val attribute", name)
			continue
		}
		p.Values[name] = value

		switch c.XMLName.Local {
		case "CurrentTrackMetaData", "TrackMetaData", "EnqueuedTransportURIMetaData":
			merged := parseDIDLItem(value)
			if p.CurrentTrackMetadata == nil {
				p.CurrentTrackMetadata = merged
			} else {
				for k, v := range merged {
					p.CurrentTrackMetadata[k] = v
				}
			}
		case "NextTrackMetaData":
			p.NextTrackMetadata = parseDIDLItem(value)
		case "AVTransportURIMetaData":
			p.AVTransportURIMetadata = parseDIDLItem(value)
		case "NextAVTransportURIMetaData":
			p.NextAVTransportURIMetadata = parseDIDLItem(value)
		}
	}
}

// parseDIDLItem flattens the attributes and children of DIDL-Lite/item into a
// map keyed by local name. The res node contributes its text under "res" plus
// all of its attributes. An empty or malformed value yields an empty map so
// the caller can distinguish "element present" from "element absent".
func parseDIDLItem(value string) map[string]string {
	out := make(map[string]string)
	if value == "" {
		return out
	}

	var didl node
	if err := xml.Unmarshal([]byte(value), &didl); err != nil {
		log.Printf("SOAP: unparseable DIDL-Lite metadata: %v, payload: %s", err, truncateForLog([]byte(value)))
		return out
	}
	item := didl.child("item")
	if item == nil {
		return out
	}
	for _, a := range item.Attrs {
		out[a.Name.Local] = a.Value
	}
	for i := range item.Children {
		c := &item.Children[i]
		if c.XMLName.Local == "res" {
			out["res"] = strings.TrimSpace(c.Text)
			for _, a := range c.Attrs {
				out[a.Name.Local] = a.Value
			}
			continue
		}
		out[c.XMLName.Local] = strings.TrimSpace(c.Text)
	}
	return out
}

func parseEnvelope(p *Packet, root *node) {
	body := root.child("Body")
	if body == nil || len(body.Children) == 0 {
		return
	}
	action := &body.Children[0]
	p.FunctionName = action.XMLName.Local

	if p.FunctionName == "BrowseResponse" {
		result := action.child("Result")
		if result == nil {
			return
		}
		p.Browse = parseBrowseResult(result.Text)
		return
	}

	for _, c := range action.Children {
		p.Values[c.XMLName.Local] = c.Text
	}
}

// parseBrowseResult parses the DIDL-Lite document carried in a Browse
// response's Result element. Rows missing a required field (parentID, title,
// res, class) are skipped; the parent id of the whole result set comes from
// the first complete row.
func parseBrowseResult(didlText string) *BrowseResult {
	result := &BrowseResult{Items: []BrowseItem{}}

	var didl node
	if err := xml.Unmarshal([]byte(didlText), &didl); err != nil {
		log.Printf("SOAP: unparseable browse result: %v", err)
		return result
	}
	for i := range didl.Children {
		entry := &didl.Children[i]
		if entry.XMLName.Local != "item" && entry.XMLName.Local != "container" {
			continue
		}
		parentID, hasParent := entry.attr("parentID")
		title := entry.child("title")
		uri := entry.child("res")
		class := entry.child("class")
		if !hasParent || title == nil || uri == nil || class == nil {
			continue
		}

		metadata := ""
		if md := entry.child("resMD"); md != nil {
			patched, ok := patchUpnpClass(md.Text, strings.TrimSpace(class.Text))
			if !ok {
				continue
			}
			metadata = patched
		}

		if result.ParentID == "" {
			result.ParentID = parentID
		}

		item := BrowseItem{
			Title:       strings.TrimSpace(title.Text),
			URI:         strings.TrimSpace(uri.Text),
			URIMetadata: metadata,
		}
		if album := entry.child("album"); album != nil {
			item.Album = strings.TrimSpace(album.Text)
		}
		if artist := entry.child("creator"); artist != nil {
			item.Artist = strings.TrimSpace(artist.Text)
		}
		if art := entry.child("albumArtURI"); art != nil {
			item.AlbumArt = strings.TrimSpace(art.Text)
		}
		result.Items = append(result.Items, item)
	}
	return result
}

// patchUpnpClass substitutes the real upnp:class value into the metadata
// blob's placeholder. Devices reject queued items whose metadata class does
// not match the browsed class, so the substitution must happen verbatim.
func patchUpnpClass(metadata, class string) (string, bool) {
	const openTag = "<upnp:class>"
	const closeTag = "</upnp:class>"
	start := strings.Index(metadata, openTag)
	end := strings.Index(metadata, closeTag)
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return metadata[:start+len(openTag)] + class + metadata[end:], true
}

func truncateForLog(raw []byte) string {
	const max = 512
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
