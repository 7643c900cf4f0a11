package playback

import (
	"context"
	"fmt"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/soap"
)

// Well-known ContentDirectory containers for browse-driven playback.
const (
	ContainerFavorites      = "FV:2"
	ContainerPlaylists      = "SQ:"
	ContainerRadioFavorites = "R:0/0"
)

// PlayBrowsable browses a container, finds the entry with the given title,
// and plays it from the peer's own queue. The peer's current queue is
// replaced.
func (o *Orchestrator) PlayBrowsable(ctx context.Context, peer *device.Peer, containerID, title string) error {
	result, err := o.runner.Browse(ctx, peer, containerID, 0, 0)
	if err != nil {
		return err
	}

	var uri, metadata string
	for _, item := range result.Items {
		if item.Title != title {
			continue
		}
		uri = item.URI
		metadata = item.URIMetadata
	}
	if uri == "" && metadata == "" {
		return fmt.Errorf("no entry named %q in %s", title, containerID)
	}

	rincon := peer.RinconID()
	if rincon == "" {
		return fmt.Errorf("peer %s has no rincon id yet", peer.Serial)
	}

	o.execIgnore(ctx, peer, "Pause", nil)
	o.execIgnore(ctx, peer, "RemoveAllTracksFromQueue", nil)
	o.setMute(ctx, peer, false)

	if _, err := o.runner.Execute(ctx, peer, "AddURIToQueue", []soap.Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "EnqueuedURI", Value: uri},
		{Name: "EnqueuedURIMetaData", Value: metadata},
		{Name: "DesiredFirstTrackNumberEnqueued", Value: "0"},
		{Name: "EnqueueAsNext", Value: "0"},
	}); err != nil {
		return fmt.Errorf("queue %q: %w", title, err)
	}

	if _, err := o.runner.Execute(ctx, peer, "SetAVTransportURI", []soap.Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "CurrentURI", Value: "x-rincon-queue:" + rincon + "#0"},
		{Name: "CurrentURIMetaData", Value: ""},
	}); err != nil {
		return fmt.Errorf("switch to queue: %w", err)
	}

	o.seekTrack(ctx, peer, 1)
	if _, err := o.runner.Execute(ctx, peer, "Play", nil); err != nil {
		return fmt.Errorf("play %q: %w", title, err)
	}
	o.logger.Printf("PLAY: started %q from %s on %s", title, containerID, peer.Serial)
	return nil
}
