package discovery

import (
	"encoding/xml"
	"strings"
)

// DeviceDescription is the subset of /xml/device_description.xml the bridge
// cares about.
type DeviceDescription struct {
	ModelName       string
	RoomName        string
	SerialNumber    string
	SoftwareVersion string
	RinconID        string
}

// ParseDeviceDescription extracts device identity from a description
// document.
func ParseDeviceDescription(payload []byte) (*DeviceDescription, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(payload)))
	var desc DeviceDescription

	var friendlyName string
	var udnRaw string
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "friendlyName":
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				friendlyName = strings.TrimSpace(value)
			}
		case "modelName":
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				desc.ModelName = strings.TrimSpace(value)
			}
		case "serialNum":
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				desc.SerialNumber = NormalizeSerial(value)
			}
		case "softwareVersion":
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				desc.SoftwareVersion = strings.TrimSpace(value)
			}
		case "UDN":
			// Only the first UDN counts: the root device's RINCON.
			// The MediaServer and MediaRenderer sub-devices repeat it
			// with _MS and _MR suffixes.
			if udnRaw == "" {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					udnRaw = strings.TrimSpace(value)
				}
			}
		}
	}

	if friendlyName != "" {
		desc.RoomName = parseRoomName(friendlyName)
	}
	if udnRaw != "" {
		desc.RinconID = strings.TrimPrefix(udnRaw, "uuid:")
	}

	return &desc, nil
}

// NormalizeSerial converts a description serial like "00-0E-58-AA-BB-CC:8"
// into the compact form embedded in subscription IDs: strip the channel
// suffix, drop the dashes, uppercase.
func NormalizeSerial(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, ":"); idx >= 0 {
		raw = raw[:idx]
	}
	raw = strings.ReplaceAll(raw, "-", "")
	return strings.ToUpper(raw)
}

// parseRoomName strips the model suffix from a friendly name like
// "Kitchen - Sonos Play:1".
func parseRoomName(friendlyName string) string {
	parts := strings.SplitN(friendlyName, "-", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0])
	}
	return strings.TrimSpace(friendlyName)
}
