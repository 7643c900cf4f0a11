package soap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const lastChangeEvent = `<Event xmlns="urn:schemas-upnp-org:metadata-1-0/AVT/" xmlns:r="urn:schemas-rinconnetworks-com:metadata-1-0/">
<InstanceID val="0">
<TransportState val="PLAYING"/>
<CurrentTrack val="3"/>
<CurrentTrackURI val="x-file-cifs://nas/music/track.mp3"/>
<CurrentTrackMetaData val="&lt;DIDL-Lite xmlns:dc=&quot;http://purl.org/dc/elements/1.1/&quot; xmlns:upnp=&quot;urn:schemas-upnp-org:metadata-1-0/upnp/&quot; xmlns=&quot;urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/&quot;&gt;&lt;item id=&quot;-1&quot; parentID=&quot;-1&quot; restricted=&quot;true&quot;&gt;&lt;res protocolInfo=&quot;x-file-cifs:*:audio/mpeg:*&quot; duration=&quot;0:03:24&quot;&gt;x-file-cifs://nas/music/track.mp3&lt;/res&gt;&lt;dc:title&gt;Blue Train&lt;/dc:title&gt;&lt;dc:creator&gt;John Coltrane&lt;/dc:creator&gt;&lt;upnp:album&gt;Blue Train&lt;/upnp:album&gt;&lt;upnp:albumArtURI&gt;/getaa?u=track&lt;/upnp:albumArtURI&gt;&lt;/item&gt;&lt;/DIDL-Lite&gt;"/>
</InstanceID>
</Event>`

func TestParse_LastChangeEvent(t *testing.T) {
	p := Parse([]byte(lastChangeEvent), "RINCON_000E58AABBCC", time.Now())

	require.Equal(t, FunctionInfoBroadcast, p.FunctionName)
	require.Equal(t, "RINCON_000E58AABBCC", p.SerialNumber)
	require.Equal(t, "PLAYING", p.Values["TransportState"])
	require.Equal(t, "3", p.Values["CurrentTrack"])
	require.Equal(t, "x-file-cifs://nas/music/track.mp3", p.Values["CurrentTrackURI"])
}

func TestParse_MetadataEntityRoundTrip(t *testing.T) {
	p := Parse([]byte(lastChangeEvent), "", time.Now())

	require.NotNil(t, p.CurrentTrackMetadata)
	md := p.CurrentTrackMetadata
	require.Equal(t, "Blue Train", md["title"])
	require.Equal(t, "John Coltrane", md["creator"])
	require.Equal(t, "Blue Train", md["album"])
	require.Equal(t, "/getaa?u=track", md["albumArtURI"])
	require.Equal(t, "x-file-cifs://nas/music/track.mp3", md["res"])
	require.Equal(t, "x-file-cifs:*:audio/mpeg:*", md["protocolInfo"])
	require.Equal(t, "0:03:24", md["duration"])
	require.Equal(t, "-1", md["parentID"])
	require.Equal(t, "true", md["restricted"])
}

func TestParse_ChannelSuffixAndMissingVal(t *testing.T) {
	event := `<Event xmlns="urn:schemas-upnp-org:metadata-1-0/RCS/">
<InstanceID val="0">
<Volume channel="Master" val="23"/>
<Volume channel="LF" val="100"/>
<Mute channel="Master" val="0"/>
<Loudness channel="Master"/>
</InstanceID>
</Event>`
	p := Parse([]byte(event), "", time.Now())

	require.Equal(t, "23", p.Values["VolumeMaster"])
	require.Equal(t, "100", p.Values["VolumeLF"])
	require.Equal(t, "0", p.Values["MuteMaster"])
	_, found := p.Values["LoudnessMaster"]
	require.False(t, found, "element without val attribute is skipped")
}

func TestParse_EmptyMetadataYieldsEmptyMap(t *testing.T) {
	event := `<Event><InstanceID val="0"><CurrentTrackMetaData val=""/></InstanceID></Event>`
	p := Parse([]byte(event), "", time.Now())

	require.NotNil(t, p.CurrentTrackMetadata)
	require.Empty(t, p.CurrentTrackMetadata)
}

func TestParse_ActionResponse(t *testing.T) {
	response := `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<u:GetPositionInfoResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">
<Track>2</Track>
<RelTime>0:01:07</RelTime>
<TrackURI>x-file-cifs://nas/music/track.mp3</TrackURI>
</u:GetPositionInfoResponse>
</s:Body>
</s:Envelope>`
	p := Parse([]byte(response), "", time.Now())

	require.Equal(t, "GetPositionInfoResponse", p.FunctionName)
	require.Equal(t, "2", p.Values["Track"])
	require.Equal(t, "0:01:07", p.Values["RelTime"])
}

func TestParse_MalformedXMLDegradesToEmptyPacket(t *testing.T) {
	p := Parse([]byte("<s:Envelope><broken"), "SER", time.Now())

	require.Empty(t, p.FunctionName)
	require.Empty(t, p.Values)
	require.Equal(t, "SER", p.SerialNumber)
}

const browseResponse = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
<Result>&lt;DIDL-Lite xmlns:dc=&quot;http://purl.org/dc/elements/1.1/&quot; xmlns:upnp=&quot;urn:schemas-upnp-org:metadata-1-0/upnp/&quot; xmlns:r=&quot;urn:schemas-rinconnetworks-com:metadata-1-0/&quot; xmlns=&quot;urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/&quot;&gt;&lt;item id=&quot;FV:2/1&quot; parentID=&quot;FV:2&quot; restricted=&quot;false&quot;&gt;&lt;dc:title&gt;Radio Paradise&lt;/dc:title&gt;&lt;upnp:class&gt;object.itemobject.item.sonos-favorite&lt;/upnp:class&gt;&lt;res&gt;x-sonosapi-stream:s12345?sid=254&lt;/res&gt;&lt;r:resMD&gt;&amp;lt;DIDL-Lite&amp;gt;&amp;lt;item&amp;gt;&amp;lt;upnp:class&amp;gt;object.item.placeholder&amp;lt;/upnp:class&amp;gt;&amp;lt;/item&amp;gt;&amp;lt;/DIDL-Lite&amp;gt;&lt;/r:resMD&gt;&lt;/item&gt;&lt;item id=&quot;FV:2/2&quot; parentID=&quot;FV:2&quot;&gt;&lt;dc:title&gt;No URI Entry&lt;/dc:title&gt;&lt;upnp:class&gt;object.item&lt;/upnp:class&gt;&lt;/item&gt;&lt;/DIDL-Lite&gt;</Result>
<NumberReturned>2</NumberReturned>
</u:BrowseResponse>
</s:Body>
</s:Envelope>`

func TestParse_BrowseResponse(t *testing.T) {
	p := Parse([]byte(browseResponse), "", time.Now())

	require.Equal(t, "BrowseResponse", p.FunctionName)
	require.NotNil(t, p.Browse)
	require.Len(t, p.Browse.Items, 1, "the row missing res is skipped")
	require.Equal(t, "FV:2", p.Browse.ParentID)

	item := p.Browse.Items[0]
	require.Equal(t, "Radio Paradise", item.Title)
	require.Equal(t, "x-sonosapi-stream:s12345?sid=254", item.URI)
	require.Contains(t, item.URIMetadata, "<upnp:class>object.itemobject.item.sonos-favorite</upnp:class>",
		"the real class is substituted into the metadata placeholder")
}

func TestPatchUpnpClass(t *testing.T) {
	patched, ok := patchUpnpClass("<x><upnp:class>old</upnp:class></x>", "new.class")
	require.True(t, ok)
	require.Equal(t, "<x><upnp:class>new.class</upnp:class></x>", patched)

	_, ok = patchUpnpClass("<x>no placeholder</x>", "new.class")
	require.False(t, ok)
}

func TestParseProperty(t *testing.T) {
	raw := `<ZoneGroupState><ZoneGroupName>Kitchen</ZoneGroupName><Invisible>0</Invisible></ZoneGroupState>`
	p := ParseProperty([]byte(raw), "SER", time.Now())

	require.Equal(t, FunctionInfoBroadcast2, p.FunctionName)
	require.Equal(t, "Kitchen", p.Values["ZoneGroupName"])
	require.Equal(t, "0", p.Values["Invisible"])
}

func TestParsePropertySet(t *testing.T) {
	body := `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">` +
		`<e:property><LastChange>&lt;Event xmlns="urn:schemas-upnp-org:metadata-1-0/RCS/"&gt;` +
		`&lt;InstanceID val="0"&gt;&lt;Volume channel="Master" val="18"/&gt;&lt;/InstanceID&gt;&lt;/Event&gt;</LastChange></e:property>` +
		`<e:property><ZoneGroupState>&lt;ZoneGroups/&gt;</ZoneGroupState></e:property>` +
		`</e:propertyset>`

	packets := ParsePropertySet([]byte(body), "SER", time.Now())
	require.Len(t, packets, 2)

	require.Equal(t, FunctionInfoBroadcast, packets[0].FunctionName)
	require.Equal(t, "18", packets[0].Values["VolumeMaster"])
	require.Equal(t, "SER", packets[0].SerialNumber)

	require.Equal(t, FunctionInfoBroadcast2, packets[1].FunctionName)
	require.Equal(t, "<ZoneGroups/>", packets[1].Values["ZoneGroupState"])
}

func TestParsePropertySet_MalformedBody(t *testing.T) {
	require.Nil(t, ParsePropertySet([]byte("not xml <"), "SER", time.Now()))
}

func TestParseFault(t *testing.T) {
	fault := `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>
<detail><UPnPError><errorCode>701</errorCode><errorDescription>Transition not available</errorDescription></UPnPError></detail>
</s:Fault></s:Body></s:Envelope>`
	code, desc := ParseFault([]byte(fault))
	require.Equal(t, "701", code)
	require.Equal(t, "Transition not available", desc)
}
