package discovery

import (
	"context"
	"log"
	"net/url"
	"strings"
	"time"
)

// DiscoverDevices runs a multi-pass SSDP search and then probes any known
// addresses the search missed, so players on multicast-hostile networks are
// still found.
func DiscoverDevices(ctx context.Context, passes int, passInterval, timeout time.Duration, knownIPs []string) ([]*RawDevice, error) {
	responses, err := Discover(ctx, passes, passInterval, timeout)
	if err != nil {
		log.Printf("SSDP: discovery error: %v", err)
		return nil, err
	}
	log.Printf("SSDP: %d responses", len(responses))

	devices := make([]*RawDevice, 0)
	seenIPs := make(map[string]struct{})

	for _, resp := range responses {
		ip := extractHost(resp.Location)
		if ip == "" {
			continue
		}
		seenIPs[ip] = struct{}{}

		probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		device, err := ProbeDevice(probeCtx, ip)
		cancel()
		if err != nil || device == nil {
			log.Printf("SSDP: probe %s failed: %v", ip, err)
			continue
		}
		device.Location = resp.Location
		devices = append(devices, device)
		log.Printf("SSDP: found %s (%s, serial %s)", device.RoomName, ip, device.SerialNumber)
	}

	for _, ip := range knownIPs {
		if _, ok := seenIPs[ip]; ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		device, err := ProbeDevice(probeCtx, ip)
		cancel()
		if err != nil || device == nil {
			log.Printf("SSDP: fallback probe %s failed: %v", ip, err)
			continue
		}
		devices = append(devices, device)
		log.Printf("SSDP: fallback found %s (%s)", device.RoomName, ip)
	}

	return devices, nil
}

func extractHost(location string) string {
	if location == "" {
		return ""
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Hostname())
}
