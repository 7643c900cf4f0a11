package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/frames"
	"github.com/hgdev/sonos-bridge/internal/params"
	"github.com/hgdev/sonos-bridge/internal/soap"
)

type fakeRunner struct {
	calls []string
}

func (f *fakeRunner) Execute(_ context.Context, peer *device.Peer, function string, _ []soap.Arg) (*soap.Packet, error) {
	f.calls = append(f.calls, peer.Serial+":"+function)
	return &soap.Packet{Values: map[string]string{}}, nil
}

type fakeRenewer struct {
	serials []string
}

func (f *fakeRenewer) Subscribe(_ context.Context, peer *device.Peer) error {
	f.serials = append(f.serials, peer.Serial)
	return nil
}

var testProfile = frames.Default()

func addPeer(reg *device.Registry, id int64, serial string) *device.Peer {
	p := device.NewPeer(id, serial, "10.0.0.5", testProfile, params.NewStore(id, nil))
	reg.Add(p)
	return p
}

func freshRuntime(p *device.Peer, now time.Time) {
	p.UpdateRuntime(func(rt *device.RuntimeState) {
		rt.LastPosition = now
		rt.LastMediaInfo = now
		rt.LastRenewal = now
	})
}

func TestWorker_Step_WalksRingInOrder(t *testing.T) {
	reg := device.NewRegistry()
	now := time.Now()
	for i, serial := range []string{"S1", "S2", "S3"} {
		freshRuntime(addPeer(reg, int64(i+1), serial), now)
	}
	runner := &fakeRunner{}
	w := NewWorker(reg, runner, &fakeRenewer{}, nil)
	w.now = func() time.Time { return now }

	// Make only S2 due for a position poll.
	p2, _ := reg.ByID(2)
	p2.UpdateRuntime(func(rt *device.RuntimeState) {
		rt.TransportState = "PLAYING"
		rt.LastPosition = now.Add(-10 * time.Second)
	})

	for i := 0; i < 4; i++ {
		w.step(context.Background())
	}
	require.Equal(t, []string{"S2:GetPositionInfo"}, runner.calls)
}

func TestWorker_Step_TrailingPollAfterStop(t *testing.T) {
	reg := device.NewRegistry()
	now := time.Now()
	p := addPeer(reg, 1, "S1")
	freshRuntime(p, now)
	p.UpdateRuntime(func(rt *device.RuntimeState) {
		rt.TransportState = "STOPPED"
		rt.PositionPollPending = true
	})

	runner := &fakeRunner{}
	w := NewWorker(reg, runner, &fakeRenewer{}, nil)
	w.now = func() time.Time { return now }

	w.step(context.Background())
	require.Equal(t, []string{"S1:GetPositionInfo"}, runner.calls)
	require.False(t, p.Runtime().PositionPollPending)

	// Stopped and nothing pending: no further polls.
	w.step(context.Background())
	require.Len(t, runner.calls, 1)
}

func TestWorker_Step_RenewsSubscriptions(t *testing.T) {
	reg := device.NewRegistry()
	now := time.Now()
	p := addPeer(reg, 1, "S1")
	freshRuntime(p, now)
	p.UpdateRuntime(func(rt *device.RuntimeState) {
		rt.LastRenewal = now.Add(-6 * time.Minute)
	})

	renewer := &fakeRenewer{}
	w := NewWorker(reg, &fakeRunner{}, renewer, nil)
	w.now = func() time.Time { return now }

	w.step(context.Background())
	require.Equal(t, []string{"S1"}, renewer.serials)
}

func TestWorker_Tick_AdaptsToPeerCount(t *testing.T) {
	reg := device.NewRegistry()
	w := NewWorker(reg, &fakeRunner{}, &fakeRenewer{}, nil)

	require.Equal(t, baseTick, w.tick())

	// Small peer sets stay at the base tick, so the 5s position cadence
	// stays reachable with a handful of players.
	for i := int64(1); i <= 3; i++ {
		addPeer(reg, i, "S")
	}
	require.Equal(t, baseTick, w.tick())
	require.LessOrEqual(t, w.tick(), positionInterval)

	// Large sets shrink the tick so one sweep still fits the window.
	for i := int64(4); i <= 60; i++ {
		addPeer(reg, i, "S")
	}
	require.Equal(t, serviceWindow/60, w.tick())
}

func TestDuePosition(t *testing.T) {
	now := time.Now()
	require.False(t, duePosition(device.RuntimeState{TransportState: "STOPPED", LastPosition: now}, now))
	require.True(t, duePosition(device.RuntimeState{TransportState: "PLAYING", LastPosition: now.Add(-6 * time.Second)}, now))
	require.False(t, duePosition(device.RuntimeState{TransportState: "PLAYING", LastPosition: now.Add(-time.Second)}, now))
	require.True(t, duePosition(device.RuntimeState{TransportState: "STOPPED", PositionPollPending: true, LastPosition: now}, now))
}

func TestDuePosition_UnreachablePeerSkipped(t *testing.T) {
	now := time.Now()
	rt := device.RuntimeState{
		TransportState: "PLAYING",
		Unreachable:    true,
		LastPosition:   now.Add(-10 * time.Second),
	}
	require.False(t, duePosition(rt, now))

	rt.PositionPollPending = true
	require.False(t, duePosition(rt, now))

	rt.Unreachable = false
	require.True(t, duePosition(rt, now))
}

func TestSweepTempFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.mp3")
	fresh := filepath.Join(dir, "fresh.mp3")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := SweepTempFiles(dir, 24*time.Hour, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(old)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
}
