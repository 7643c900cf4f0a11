// Package playback interrupts a peer with a locally served audio file and
// restores the previous playback state afterwards: queue position, transport
// URI, volume, mute, and play state all survive the announcement.
package playback

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/executor"
	"github.com/hgdev/sonos-bridge/internal/soap"
)

const (
	// settleDelay gives the player time to start the announcement before
	// the first position poll.
	settleDelay = 2 * time.Second
	// pollStep paces the wait-for-completion loop.
	pollStep = 100 * time.Millisecond
	// maxAnnouncement bounds the wait on a single announcement.
	maxAnnouncement = 5 * time.Minute
)

type commandRunner interface {
	Execute(ctx context.Context, peer *device.Peer, function string, args []soap.Arg) (*soap.Packet, error)
	ExecuteOpts(ctx context.Context, peer *device.Peer, function string, args []soap.Arg, opts executor.Options) (*soap.Packet, error)
	Browse(ctx context.Context, peer *device.Peer, objectID string, start, count int) (*soap.BrowseResult, error)
}

// Options controls one announcement.
type Options struct {
	// Now interrupts current playback immediately. Without it the file is
	// only queued.
	Now bool
	// Unmute lifts an active mute for the announcement and restores it
	// afterwards.
	Unmute bool
	// Volume overrides the playback volume for the announcement when
	// positive. The previous volume is restored afterwards.
	Volume int
}

// Orchestrator drives announcements on peers.
type Orchestrator struct {
	runner   commandRunner
	registry *device.Registry
	baseURL  string
	tempDir  string
	logger   *log.Logger

	sleep func(time.Duration)
}

// NewOrchestrator creates an orchestrator. baseURL is the listener's
// externally reachable base URL without trailing slash; tempDir is where
// playlists and generated audio land.
func NewOrchestrator(runner commandRunner, registry *device.Registry, baseURL, tempDir string, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		runner:   runner,
		registry: registry,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		tempDir:  tempDir,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// snapshot is the playback state captured before an announcement.
type snapshot struct {
	rinconID     string
	transportURI string
	uriMetadata  string
	state        string
	volume       int
	muted        bool
	track        int
	relTime      string
	offQueue     bool
}

// PlayLocalFile plays filename (relative to the served roots) on the peer.
// An announcement already running on the peer drops this one rather than
// queueing behind it.
func (o *Orchestrator) PlayLocalFile(ctx context.Context, peer *device.Peer, filename string, opts Options) error {
	if len(filename) < 5 {
		return fmt.Errorf("filename %q too short to be an audio file", filename)
	}
	if peer.Runtime().Unreachable {
		o.logger.Printf("PLAY: skipping %s on %s, peer unreachable", filename, peer.Serial)
		return nil
	}
	if err := peer.Playback.Acquire(device.DefaultAcquireTimeout); err != nil {
		return err
	}
	defer peer.Playback.Release()

	if err := os.MkdirAll(o.tempDir, 0o750); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	if opts.Now {
		for _, fn := range []string{"GetPositionInfo", "GetVolume", "GetMute", "GetTransportInfo", "GetMediaInfo"} {
			if _, err := o.runner.Execute(ctx, peer, fn, nil); err != nil {
				return fmt.Errorf("refresh state before announcement: %w", err)
			}
		}
	}

	playlist, err := o.writePlaylist(playlistName(filename), filename)
	if err != nil {
		return err
	}
	silence10, err := o.writePlaylist("silence_10s.m3u", "Silence_10s.mp3")
	if err != nil {
		return err
	}
	silence2, err := o.writePlaylist("silence_2s.m3u", "Silence_2s.mp3")
	if err != nil {
		return err
	}

	snap := o.captureSnapshot(peer)

	if opts.Now {
		o.execIgnore(ctx, peer, "Pause", nil)
		if opts.Unmute && snap.muted {
			o.setMute(ctx, peer, false)
		}
		if opts.Volume > 0 {
			o.setGroupVolume(ctx, peer, opts.Volume)
		}
	}

	for _, name := range []string{silence10, playlist, silence2} {
		if err := o.enqueueFirst(ctx, peer, name); err != nil {
			return fmt.Errorf("enqueue %s: %w", name, err)
		}
	}

	if !opts.Now {
		return nil
	}

	if _, err := o.runner.Execute(ctx, peer, "SetAVTransportURI", []soap.Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "CurrentURI", Value: fmt.Sprintf("x-rincon-queue:%s#0", snap.rinconID)},
		{Name: "CurrentURIMetaData", Value: ""},
	}); err != nil {
		return fmt.Errorf("switch to own queue: %w", err)
	}
	o.seekTrack(ctx, peer, 1)
	if _, err := o.runner.Execute(ctx, peer, "Play", nil); err != nil {
		return fmt.Errorf("start announcement: %w", err)
	}

	o.sleep(settleDelay)
	o.waitForAnnouncement(ctx, peer)
	o.restore(ctx, peer, snap)
	return nil
}

// waitForAnnouncement polls position and transport state until the player
// has moved past the announcement tracks or stopped.
func (o *Orchestrator) waitForAnnouncement(ctx context.Context, peer *device.Peer) {
	deadline := time.Now().Add(maxAnnouncement)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if peer.Runtime().Unreachable {
			return
		}
		if _, err := o.runner.Execute(ctx, peer, "GetPositionInfo", nil); err != nil {
			return
		}
		track, _ := peer.Params.Get(1, "CURRENT_TRACK")
		if track.Int != 1 && track.Int != 2 {
			return
		}

		if _, err := o.runner.Execute(ctx, peer, "GetTransportInfo", nil); err != nil {
			return
		}
		state, _ := peer.Params.Get(1, "TRANSPORT_STATE")
		if state.Str != "PLAYING" && state.Str != "TRANSITIONING" {
			return
		}
		o.sleep(pollStep)
	}
}

// restore puts the peer back into its pre-announcement state. Pause tends to
// fail right after the announcement, so volume goes to zero first and errors
// are tolerated throughout.
func (o *Orchestrator) restore(ctx context.Context, peer *device.Peer, snap snapshot) {
	o.setGroupVolume(ctx, peer, 0)
	if snap.muted {
		o.setMute(ctx, peer, true)
	}

	// The three announcement entries all sit at the head of the queue.
	for i := 0; i < 3; i++ {
		o.execIgnore(ctx, peer, "RemoveTrackFromQueue", []soap.Arg{
			{Name: "InstanceID", Value: "0"},
			{Name: "ObjectID", Value: "Q:0/1"},
		})
	}

	if snap.track > 0 {
		o.seekTrack(ctx, peer, snap.track)
	}
	if snap.relTime != "" {
		o.execIgnore(ctx, peer, "Seek", []soap.Arg{
			{Name: "InstanceID", Value: "0"},
			{Name: "Unit", Value: "REL_TIME"},
			{Name: "Target", Value: snap.relTime},
		})
	}

	if snap.offQueue {
		o.execIgnore(ctx, peer, "SetAVTransportURI", []soap.Arg{
			{Name: "InstanceID", Value: "0"},
			{Name: "CurrentURI", Value: snap.transportURI},
			{Name: "CurrentURIMetaData", Value: snap.uriMetadata},
		})
	}

	if snap.state == "PLAYING" {
		o.logger.Printf("PLAY: resuming %s, playback was active", peer.Serial)
		if snap.offQueue {
			o.execIgnore(ctx, peer, "Play", nil)
		}
		o.waitWhileTransitioning(ctx, peer)
		o.sleep(500 * time.Millisecond)
		o.execIgnore(ctx, peer, "RampToVolume", []soap.Arg{
			{Name: "InstanceID", Value: "0"},
			{Name: "Channel", Value: "Master"},
			{Name: "RampType", Value: "AUTOPLAY_RAMP_TYPE"},
			{Name: "DesiredVolume", Value: strconv.Itoa(snap.volume)},
			{Name: "ResetVolumeAfter", Value: "false"},
			{Name: "ProgramURI", Value: ""},
		})
		o.setLinkedVolumes(ctx, peer, snap.volume)
	} else {
		o.logger.Printf("PLAY: not resuming %s, playback state was %s", peer.Serial, snap.state)
		o.execIgnore(ctx, peer, "Pause", nil)
		o.setGroupVolume(ctx, peer, snap.volume)
	}
}

func (o *Orchestrator) waitWhileTransitioning(ctx context.Context, peer *device.Peer) {
	for i := 0; i < 10; i++ {
		o.sleep(time.Second)
		state, _ := peer.Params.Get(1, "TRANSPORT_STATE")
		if state.Str != "TRANSITIONING" {
			return
		}
	}
}

func (o *Orchestrator) captureSnapshot(peer *device.Peer) snapshot {
	var snap snapshot
	snap.rinconID = peer.RinconID()

	if v, ok := peer.Params.Get(1, "AV_TRANSPORT_URI"); ok {
		snap.transportURI = v.Str
		if !strings.HasPrefix(v.Str, "x-rincon-queue") {
			// Radio or another group's queue; must be restored explicitly.
			snap.offQueue = true
			if md, ok := peer.Params.Get(1, "AV_TRANSPORT_METADATA"); ok {
				snap.uriMetadata = md.Str
			}
		}
	}
	if v, ok := peer.Params.Get(1, "VOLUME"); ok {
		snap.volume = v.Int
	}
	if v, ok := peer.Params.Get(1, "MUTE"); ok {
		snap.muted = v.Bool
	}
	if v, ok := peer.Params.Get(1, "CURRENT_TRACK"); ok {
		snap.track = v.Int
	}
	if v, ok := peer.Params.Get(1, "CURRENT_TRACK_RELATIVE_TIME"); ok {
		snap.relTime = v.Str
	}
	if v, ok := peer.Params.Get(1, "TRANSPORT_STATE"); ok {
		snap.state = v.Str
	}
	return snap
}

// writePlaylist writes a one-entry m3u pointing at a file the listener
// serves and returns the URL-encoded playlist name.
func (o *Orchestrator) writePlaylist(name, target string) (string, error) {
	content := fmt.Sprintf("#EXTM3U\n#EXTINF:0,announcement\n%s/%s\n", o.baseURL, target)
	if err := os.WriteFile(filepath.Join(o.tempDir, name), []byte(content), 0o640); err != nil {
		return "", fmt.Errorf("write playlist %s: %w", name, err)
	}
	return url.PathEscape(name), nil
}

func playlistName(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".m3u"
	return strings.ReplaceAll(name, "/", "_")
}

func (o *Orchestrator) enqueueFirst(ctx context.Context, peer *device.Peer, playlist string) error {
	_, err := o.runner.Execute(ctx, peer, "AddURIToQueue", []soap.Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "EnqueuedURI", Value: o.baseURL + "/" + playlist},
		{Name: "EnqueuedURIMetaData", Value: ""},
		{Name: "DesiredFirstTrackNumberEnqueued", Value: "1"},
		{Name: "EnqueueAsNext", Value: "1"},
	})
	return err
}

func (o *Orchestrator) seekTrack(ctx context.Context, peer *device.Peer, track int) {
	o.execIgnore(ctx, peer, "Seek", []soap.Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "Unit", Value: "TRACK_NR"},
		{Name: "Target", Value: strconv.Itoa(track)},
	})
}

func (o *Orchestrator) setMute(ctx context.Context, peer *device.Peer, muted bool) {
	v := "0"
	if muted {
		v = "1"
	}
	o.execIgnore(ctx, peer, "SetMute", []soap.Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "Channel", Value: "Master"},
		{Name: "DesiredMute", Value: v},
	})
}

// setGroupVolume sets the peer's volume and mirrors it to its linked peers
// so grouped rooms announce at the same level.
func (o *Orchestrator) setGroupVolume(ctx context.Context, peer *device.Peer, volume int) {
	o.setVolume(ctx, peer, volume)
	o.setLinkedVolumes(ctx, peer, volume)
}

func (o *Orchestrator) setLinkedVolumes(ctx context.Context, peer *device.Peer, volume int) {
	for _, serial := range peer.LinkSerials(1) {
		linked, ok := o.registry.BySerial(serial)
		if !ok {
			continue
		}
		o.setVolume(ctx, linked, volume)
	}
}

func (o *Orchestrator) setVolume(ctx context.Context, peer *device.Peer, volume int) {
	o.execIgnore(ctx, peer, "SetVolume", []soap.Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "Channel", Value: "Master"},
		{Name: "DesiredVolume", Value: strconv.Itoa(volume)},
	})
}

func (o *Orchestrator) execIgnore(ctx context.Context, peer *device.Peer, function string, args []soap.Arg) {
	if _, err := o.runner.ExecuteOpts(ctx, peer, function, args, executor.Options{IgnoreErrors: true}); err != nil {
		o.logger.Printf("PLAY: %s on %s: %v", function, peer.Serial, err)
	}
}
