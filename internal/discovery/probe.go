package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// httpClient is shared so unreachable addresses fail fast instead of tying
// up a sweep.
var httpClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
		IdleConnTimeout: 30 * time.Second,
	},
}

// RawDevice is one probed zone player, identity normalized and ready for
// registration.
type RawDevice struct {
	SerialNumber    string
	RinconID        string
	IP              string
	Model           string
	RoomName        string
	SoftwareVersion string
	Location        string
	DiscoveredAt    time.Time
}

// ProbeDevice fetches and parses the device description of one address.
// Returns nil without error when the address answers but is not a usable
// zone player.
func ProbeDevice(ctx context.Context, ip string) (*RawDevice, error) {
	location := "http://" + ip + ":1400/xml/device_description.xml"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	desc, err := ParseDeviceDescription(body)
	if err != nil || desc == nil {
		return nil, nil
	}
	if desc.SerialNumber == "" {
		return nil, fmt.Errorf("device at %s has no serial number", ip)
	}

	return &RawDevice{
		SerialNumber:    desc.SerialNumber,
		RinconID:        desc.RinconID,
		IP:              ip,
		Model:           desc.ModelName,
		RoomName:        desc.RoomName,
		SoftwareVersion: desc.SoftwareVersion,
		Location:        location,
		DiscoveredAt:    time.Now(),
	}, nil
}
