package hub

import (
	"context"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hgdev/sonos-bridge/internal/config"
	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/discovery"
	"github.com/hgdev/sonos-bridge/internal/soap"
)

func newTestHub(t *testing.T, dbPath string) *Hub {
	t.Helper()
	cfg := config.Config{
		ListenHost:          "127.0.0.1",
		ListenPort:          7373,
		SQLiteDBPath:        dbPath,
		DataDir:             t.TempDir(),
		TempDir:             t.TempDir(),
		SoapTimeoutMs:       200,
		SSDPTimeoutMs:       50,
		SSDPPasses:          1,
		SSDPPassIntervalMs:  10,
		TempFileMaxAgeHours: 1,
	}
	h, err := New(cfg, log.New(testWriter{t}, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { h.db.Close() })
	return h
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testDevice(serial, rincon string) *discovery.RawDevice {
	return &discovery.RawDevice{
		SerialNumber: serial,
		RinconID:     rincon,
		IP:           "127.0.0.1",
		Model:        "Sonos One",
		RoomName:     "Kitchen",
		DiscoveredAt: time.Now(),
	}
}

func TestHub_RegisterDevice_AddsAndIndexes(t *testing.T) {
	h := newTestHub(t, filepath.Join(t.TempDir(), "bridge.db"))

	peer, err := h.RegisterDevice(context.Background(), testDevice("000E58AABBCC", "RINCON_000E58AABBCC01400"))
	require.NoError(t, err)
	require.NotZero(t, peer.ID)
	require.Equal(t, "Kitchen", peer.Name)

	got, ok := h.Registry().BySerial("000E58AABBCC")
	require.True(t, ok)
	require.Same(t, peer, got)

	byRincon, ok := h.Registry().ByRincon("RINCON_000E58AABBCC01400")
	require.True(t, ok)
	require.Same(t, peer, byRincon)

	id, ok := peer.Params.Get(h.Profile().Channels[0], "ID")
	require.True(t, ok)
	require.Equal(t, "RINCON_000E58AABBCC01400", id.Str)
}

func TestHub_RegisterDevice_RefreshesAddress(t *testing.T) {
	h := newTestHub(t, filepath.Join(t.TempDir(), "bridge.db"))

	first, err := h.RegisterDevice(context.Background(), testDevice("000E58AABBCC", "RINCON_000E58AABBCC01400"))
	require.NoError(t, err)

	moved := testDevice("000E58AABBCC", "RINCON_000E58AABBCC01400")
	moved.IP = "127.0.0.2"
	second, err := h.RegisterDevice(context.Background(), moved)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, "127.0.0.2", second.IP)
	require.Equal(t, 1, h.Registry().Count())

	row, err := h.Store().PeerBySerial("000E58AABBCC")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.2", row.IP)
}

func TestHub_HandlePacket_RoutesToPeer(t *testing.T) {
	h := newTestHub(t, filepath.Join(t.TempDir(), "bridge.db"))
	peer, err := h.RegisterDevice(context.Background(), testDevice("000E58AABBCC", "RINCON_000E58AABBCC01400"))
	require.NoError(t, err)

	events, cancel := h.Events().Subscribe()
	defer cancel()

	pkt := &soap.Packet{
		FunctionName: "GetVolumeResponse",
		SerialNumber: peer.Serial,
		TimeReceived: time.Now(),
		Values:       map[string]string{"CurrentVolume": "23"},
	}
	h.HandlePacket(peer.Serial, pkt)

	select {
	case ev := <-events:
		require.Equal(t, peer.Serial, ev.Serial)
		require.Equal(t, "23", ev.Values["VOLUME"])
	default:
		t.Fatal("no change event published")
	}

	v, ok := peer.Params.Get(1, "VOLUME")
	require.True(t, ok)
	require.Equal(t, 23, v.Int)
}

func TestHub_HandlePacket_UnknownSerialDropped(t *testing.T) {
	h := newTestHub(t, filepath.Join(t.TempDir(), "bridge.db"))

	pkt := &soap.Packet{FunctionName: "GetVolumeResponse", Values: map[string]string{"CurrentVolume": "5"}}
	h.HandlePacket("FFFFFFFFFFFF", pkt)
	require.Equal(t, 0, h.Registry().Count())
}

func TestHub_LoadPersisted_RestoresPeerState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridge.db")

	h := newTestHub(t, dbPath)
	peer, err := h.RegisterDevice(context.Background(), testDevice("000E58AABBCC", "RINCON_000E58AABBCC01400"))
	require.NoError(t, err)
	peer.Params.Set(1, "VOLUME", "42")
	peer.SetLinks(1, []device.Link{{RemoteSerial: "000E58DDEEFF", Sender: true}})
	require.NoError(t, h.Store().ReplaceLinks(peer.ID, 1, []device.Link{{RemoteSerial: "000E58DDEEFF", Sender: true}}))
	require.NoError(t, h.db.Close())

	fresh := newTestHub(t, dbPath)
	require.NoError(t, fresh.LoadPersisted())

	restored, ok := fresh.Registry().BySerial("000E58AABBCC")
	require.True(t, ok)
	require.Equal(t, "Kitchen", restored.Name)

	v, ok := restored.Params.Get(1, "VOLUME")
	require.True(t, ok)
	require.Equal(t, 42, v.Int)

	require.Equal(t, []device.Link{{RemoteSerial: "000E58DDEEFF", Sender: true}}, restored.Links(1))

	byRincon, ok := fresh.Registry().ByRincon("RINCON_000E58AABBCC01400")
	require.True(t, ok)
	require.Same(t, restored, byRincon)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	h := newTestHub(t, filepath.Join(t.TempDir(), "bridge.db"))
	peer, err := h.RegisterDevice(context.Background(), testDevice("000E58AABBCC", "RINCON_000E58AABBCC01400"))
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		b.PublishValues(peer, 1, nil)
	}
	require.Len(t, ch, 64)
}
