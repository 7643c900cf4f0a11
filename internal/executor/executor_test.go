package executor

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/frames"
	"github.com/hgdev/sonos-bridge/internal/params"
	"github.com/hgdev/sonos-bridge/internal/soap"
	"github.com/hgdev/sonos-bridge/internal/sync"
)

const volumeResponse = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
	`<u:GetVolumeResponse xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1">` +
	`<CurrentVolume>37</CurrentVolume>` +
	`</u:GetVolumeResponse></s:Body></s:Envelope>`

const faultResponse = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>` +
	`<faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring><detail>` +
	`<UPnPError xmlns="urn:schemas-upnp-org:control-1-0">` +
	`<errorCode>701</errorCode><errorDescription>Transition not available</errorDescription>` +
	`</UPnPError></detail></s:Fault></s:Body></s:Envelope>`

func testTarget(t *testing.T, handler http.HandlerFunc) (*device.Peer, *Executor, *sync.Engine) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	profile := frames.Default()
	store := params.NewStore(1, nil)
	for _, def := range profile.Parameters {
		store.Ensure(1, def.ID, def.Codec())
	}
	peer := device.NewPeer(1, "S1", host, profile, store)

	reg := device.NewRegistry()
	reg.Add(peer)
	engine := sync.NewEngine(reg, nil, nil, nil)

	x := New(2*time.Second, engine, nil)
	x.port = port
	return peer, x, engine
}

func TestExecutor_Execute_FeedsResponseThroughSync(t *testing.T) {
	var gotAction string
	var gotBody []byte
	peer, x, _ := testTarget(t, func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPACTION")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(volumeResponse))
	})

	pkt, err := x.Execute(context.Background(), peer, "GetVolume", nil)
	require.NoError(t, err)
	require.Equal(t, "GetVolumeResponse", pkt.FunctionName)
	require.Equal(t, `"urn:schemas-upnp-org:service:RenderingControl:1#GetVolume"`, gotAction)
	require.Contains(t, string(gotBody), "<Channel>Master</Channel>")

	v, _ := peer.Params.Get(1, "VOLUME")
	require.Equal(t, 37, v.Int)
	require.False(t, peer.Runtime().Unreachable)
}

func TestExecutor_Execute_RejectedActionParsesFault(t *testing.T) {
	peer, x, _ := testTarget(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(faultResponse))
	})

	_, err := x.Execute(context.Background(), peer, "Play", nil)
	var rejected *soap.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "701", rejected.Code)
	require.Equal(t, "Transition not available", rejected.Description)
	require.True(t, peer.Runtime().Unreachable)
}

func TestExecutor_Execute_IgnoreErrorsKeepsPeerReachable(t *testing.T) {
	peer, x, _ := testTarget(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(faultResponse))
	})

	_, err := x.ExecuteOpts(context.Background(), peer, "Pause", nil, Options{IgnoreErrors: true})
	require.Error(t, err)
	require.False(t, peer.Runtime().Unreachable)
}

func TestExecutor_Execute_TransportFailureMarksUnreachable(t *testing.T) {
	peer, x, _ := testTarget(t, func(w http.ResponseWriter, r *http.Request) {})
	x.port = 1 // nothing listens there

	_, err := x.Execute(context.Background(), peer, "GetVolume", nil)
	var unreachable *soap.UnreachableError
	require.ErrorAs(t, err, &unreachable)
	require.True(t, peer.Runtime().Unreachable)
}

func TestExecutor_Execute_UnknownAction(t *testing.T) {
	peer, x, _ := testTarget(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := x.Execute(context.Background(), peer, "Explode", nil)
	require.Error(t, err)
}

func TestExecutor_SetParameter_UsesCommandFrame(t *testing.T) {
	var gotBody []byte
	peer, x, _ := testTarget(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
			`<u:SetVolumeResponse xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1"/>` +
			`</s:Body></s:Envelope>`))
	})

	require.NoError(t, x.SetParameter(context.Background(), peer, "VOLUME", "40"))
	require.Contains(t, string(gotBody), "<DesiredVolume>40</DesiredVolume>")

	err := x.SetParameter(context.Background(), peer, "TRANSPORT_STATE", "PLAYING")
	require.Error(t, err)
}

func TestExecutor_Browse_ReturnsItems(t *testing.T) {
	const browseResponse = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
		`<u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">` +
		`<Result>&lt;DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"&gt;` +
		`&lt;item id="FV:2/1" parentID="FV:2" restricted="true"&gt;` +
		`&lt;dc:title&gt;Morning Jazz&lt;/dc:title&gt;` +
		`&lt;res protocolInfo="x-sonosapi-stream:*:*:*"&gt;x-sonosapi-stream:s1?sid=254&lt;/res&gt;` +
		`&lt;upnp:class&gt;object.itemobject.item.sonos-favorite&lt;/upnp:class&gt;` +
		`&lt;r:resMD xmlns:r="urn:schemas-rinconnetworks-com:metadata-1-0/"&gt;` +
		`&amp;lt;item&amp;gt;&amp;lt;upnp:class&amp;gt;object.item&amp;lt;/upnp:class&amp;gt;&amp;lt;/item&amp;gt;` +
		`&lt;/r:resMD&gt;` +
		`&lt;/item&gt;&lt;/DIDL-Lite&gt;</Result>` +
		`<NumberReturned>1</NumberReturned><TotalMatches>1</TotalMatches><UpdateID>1</UpdateID>` +
		`</u:BrowseResponse></s:Body></s:Envelope>`

	peer, x, _ := testTarget(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(browseResponse))
	})

	res, err := x.Browse(context.Background(), peer, "FV:2", 0, 100)
	require.NoError(t, err)
	require.Equal(t, "FV:2", res.ParentID)
	require.Len(t, res.Items, 1)
	require.Equal(t, "Morning Jazz", res.Items[0].Title)

	// The browsed class is patched into the resMD placeholder so the queue
	// accepts the item later.
	require.Contains(t, res.Items[0].URIMetadata, "<upnp:class>object.itemobject.item.sonos-favorite</upnp:class>")
}

func TestExecutor_Browse_SkipsRowWithoutClassPlaceholder(t *testing.T) {
	const browseResponse = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
		`<u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">` +
		`<Result>&lt;DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"&gt;` +
		`&lt;item id="FV:2/1" parentID="FV:2" restricted="true"&gt;` +
		`&lt;dc:title&gt;Broken Row&lt;/dc:title&gt;` +
		`&lt;res protocolInfo="x-sonosapi-stream:*:*:*"&gt;x-sonosapi-stream:s1?sid=254&lt;/res&gt;` +
		`&lt;upnp:class&gt;object.itemobject.item.sonos-favorite&lt;/upnp:class&gt;` +
		`&lt;r:resMD xmlns:r="urn:schemas-rinconnetworks-com:metadata-1-0/"&gt;meta&lt;/r:resMD&gt;` +
		`&lt;/item&gt;&lt;/DIDL-Lite&gt;</Result>` +
		`<NumberReturned>1</NumberReturned><TotalMatches>1</TotalMatches><UpdateID>1</UpdateID>` +
		`</u:BrowseResponse></s:Body></s:Envelope>`

	peer, x, _ := testTarget(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(browseResponse))
	})

	// A resMD blob with no class placeholder cannot be patched; the row is
	// dropped rather than queued with mismatched metadata.
	res, err := x.Browse(context.Background(), peer, "FV:2", 0, 100)
	require.NoError(t, err)
	require.Empty(t, res.Items)
}
