package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/hgdev/sonos-bridge/internal/auth"
	"github.com/hgdev/sonos-bridge/internal/config"
	"github.com/hgdev/sonos-bridge/internal/discovery"
	"github.com/hgdev/sonos-bridge/internal/hub"
	"github.com/hgdev/sonos-bridge/internal/params"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestBridge(t *testing.T, secret string) (*hub.Hub, config.Config) {
	t.Helper()
	cfg := config.Config{
		ListenHost:          "127.0.0.1",
		ListenPort:          7373,
		APISecret:           secret,
		SQLiteDBPath:        filepath.Join(t.TempDir(), "bridge.db"),
		DataDir:             t.TempDir(),
		TempDir:             t.TempDir(),
		SoapTimeoutMs:       200,
		SSDPTimeoutMs:       50,
		SSDPPasses:          1,
		SSDPPassIntervalMs:  10,
		TempFileMaxAgeHours: 1,
	}
	bridge, err := hub.New(cfg, log.Default())
	require.NoError(t, err)
	return bridge, cfg
}

func newTestServer(t *testing.T, secret string) (*httptest.Server, *hub.Hub) {
	t.Helper()
	bridge, cfg := newTestBridge(t, secret)
	handler, shutdown := NewHandler(cfg, bridge)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = shutdown(context.Background())
	})
	return srv, bridge
}

func registerTestPeer(t *testing.T, bridge *hub.Hub) string {
	t.Helper()
	_, err := bridge.RegisterDevice(context.Background(), &discovery.RawDevice{
		SerialNumber: "000E58AABBCC",
		RinconID:     "RINCON_000E58AABBCC01400",
		IP:           "127.0.0.1",
		Model:        "Sonos One",
		RoomName:     "Kitchen",
		DiscoveredAt: time.Now(),
	})
	require.NoError(t, err)
	return "000E58AABBCC"
}

func getJSON(t *testing.T, srv *httptest.Server, path, token string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_Health_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	var body map[string]any
	status := getJSON(t, srv, "/v1/health", "", &body)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, "sonos-bridge", body["service"])
}

func TestServer_PeersRequireToken(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	status := getJSON(t, srv, "/v1/peers", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	pair, err := auth.GenerateTokenPair(testSecret, auth.TokenPayload{Sub: "c1", DeviceName: "Test"})
	require.NoError(t, err)
	status = getJSON(t, srv, "/v1/peers", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
}

func TestServer_ListAndDetail(t *testing.T) {
	srv, bridge := newTestServer(t, "")
	serial := registerTestPeer(t, bridge)

	var list struct {
		Object string `json:"object"`
		Data   []struct {
			Serial string `json:"serial"`
			Name   string `json:"name"`
		} `json:"data"`
	}
	status := getJSON(t, srv, "/v1/peers", "", &list)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	require.Equal(t, serial, list.Data[0].Serial)
	require.Equal(t, "Kitchen", list.Data[0].Name)

	var detail struct {
		Serial string                       `json:"serial"`
		Values map[string]map[string]string `json:"values"`
	}
	status = getJSON(t, srv, "/v1/peers/"+serial, "", &detail)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, detail.Values, "1")
	require.Equal(t, "RINCON_000E58AABBCC01400", detail.Values["1"]["ID"])
}

func TestServer_UnknownPeer404(t *testing.T) {
	srv, _ := newTestServer(t, "")

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	status := getJSON(t, srv, "/v1/peers/FFFFFFFFFFFF", "", &body)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "PEER_NOT_FOUND", body.Error.Code)
}

func TestServer_SetValue_UnreachablePeerMapsTo502(t *testing.T) {
	srv, bridge := newTestServer(t, "")
	serial := registerTestPeer(t, bridge)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/peers/"+serial+"/values/VOLUME",
		strings.NewReader(`{"value":"25"}`))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, "PEER_UNREACHABLE", body.Error.Code)
}

func TestRequestLoggerMiddleware_PreservesHijacker(t *testing.T) {
	handler := requestLoggerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Hijacker)
		require.True(t, ok, "wrapped writer must keep http.Hijacker for websocket upgrades")
		w.WriteHeader(http.StatusNoContent)
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_SetLocalKnob_NoDeviceRoundTrip(t *testing.T) {
	srv, bridge := newTestServer(t, "")
	serial := registerTestPeer(t, bridge)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/peers/"+serial+"/values/PLAY_TTS_VOLUME",
		strings.NewReader(`{"value":"60"}`))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	peer, _ := bridge.Registry().BySerial(serial)
	v, ok := peer.Params.Get(1, "PLAY_TTS_VOLUME")
	require.True(t, ok)
	require.Equal(t, 60, v.Int)
}

func TestServer_GetValue_FromStore(t *testing.T) {
	srv, bridge := newTestServer(t, "")
	serial := registerTestPeer(t, bridge)
	peer, _ := bridge.Registry().BySerial(serial)
	peer.Params.Set(1, "VOLUME", "31")

	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	status := getJSON(t, srv, "/v1/peers/"+serial+"/values/VOLUME", "", &body)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "31", body.Value)
}

func TestServer_PairingFlow(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	resp, err := srv.Client().Post(srv.URL+"/v1/auth/pair/start", "application/json", nil)
	require.NoError(t, err)
	var start struct {
		PairingHint string `json:"pairing_hint"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&start))
	resp.Body.Close()

	idx := strings.LastIndex(start.PairingHint, "Code: ")
	require.GreaterOrEqual(t, idx, 0)
	code := start.PairingHint[idx+len("Code: "):]

	resp, err = srv.Client().Post(srv.URL+"/v1/auth/pair/complete", "application/json",
		strings.NewReader(`{"pair_code":"`+code+`","device_name":"Panel"}`))
	require.NoError(t, err)
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, pair.AccessToken)

	status := getJSON(t, srv, "/v1/peers", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)

	resp, err = srv.Client().Post(srv.URL+"/v1/auth/refresh", "application/json",
		strings.NewReader(`{"refresh_token":"`+pair.RefreshToken+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_EventStream(t *testing.T) {
	srv, bridge := newTestServer(t, "")
	serial := registerTestPeer(t, bridge)
	peer, _ := bridge.Registry().BySerial(serial)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	bridge.Events().PublishValues(peer, 1, map[string]params.Variable{
		"VOLUME": {Type: params.TypeInteger, Int: 17},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event struct {
		Serial  string            `json:"serial"`
		Channel int               `json:"channel"`
		Values  map[string]string `json:"values"`
	}
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, serial, event.Serial)
	require.Equal(t, 1, event.Channel)
	require.Equal(t, "17", event.Values["VOLUME"])
}
