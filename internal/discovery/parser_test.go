package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const deviceDescription = `<?xml version="1.0" encoding="utf-8"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:ZonePlayer:1</deviceType>
    <friendlyName>Kitchen - Sonos Play:1</friendlyName>
    <modelName>Sonos Play:1</modelName>
    <serialNum>00-0E-58-AA-BB-CC:8</serialNum>
    <softwareVersion>57.9-31270</softwareVersion>
    <UDN>uuid:RINCON_000E58AABBCC01400</UDN>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
        <UDN>uuid:RINCON_000E58AABBCC01400_MS</UDN>
      </device>
    </deviceList>
  </device>
</root>`

func TestParseDeviceDescription(t *testing.T) {
	desc, err := ParseDeviceDescription([]byte(deviceDescription))
	require.NoError(t, err)
	require.Equal(t, "Kitchen", desc.RoomName)
	require.Equal(t, "Sonos Play:1", desc.ModelName)
	require.Equal(t, "000E58AABBCC", desc.SerialNumber)
	require.Equal(t, "RINCON_000E58AABBCC01400", desc.RinconID)
	require.Equal(t, "57.9-31270", desc.SoftwareVersion)
}

func TestNormalizeSerial(t *testing.T) {
	require.Equal(t, "000E58AABBCC", NormalizeSerial("00-0E-58-AA-BB-CC:8"))
	require.Equal(t, "000E58AABBCC", NormalizeSerial(" 00-0e-58-aa-bb-cc "))
	require.Equal(t, "ABC123", NormalizeSerial("ABC123"))
}

func TestParseResponse_SSDPHeaders(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"LOCATION: http://10.0.0.5:1400/xml/device_description.xml\r\n" +
		"USN: uuid:RINCON_000E58AABBCC01400::urn:schemas-upnp-org:device:ZonePlayer:1\r\n" +
		"ST: urn:schemas-upnp-org:device:ZonePlayer:1\r\n\r\n"

	resp := parseResponse(raw)
	require.Equal(t, "http://10.0.0.5:1400/xml/device_description.xml", resp.Location)
	require.Contains(t, resp.USN, "RINCON_000E58AABBCC01400")
}

func TestExtractHost(t *testing.T) {
	require.Equal(t, "10.0.0.5", extractHost("http://10.0.0.5:1400/xml/device_description.xml"))
	require.Equal(t, "", extractHost(""))
}
