package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hgdev/sonos-bridge/internal/apperrors"
	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/hub"
	"github.com/hgdev/sonos-bridge/internal/playback"
)

// PeerResource is the wire form of one peer.
type PeerResource struct {
	Object         string         `json:"object"`
	ID             int64          `json:"id"`
	Serial         string         `json:"serial"`
	Name           string         `json:"name"`
	Model          string         `json:"model"`
	IP             string         `json:"ip"`
	RinconID       string         `json:"rincon_id"`
	Reachable      bool           `json:"reachable"`
	TransportState string         `json:"transport_state"`
	Links          []LinkResource `json:"links"`
}

// LinkResource is one group link. Role "sender" means the linked peer is the
// one this peer receives audio from.
type LinkResource struct {
	Serial string `json:"serial"`
	Role   string `json:"role"`
}

// PeerDetailResource adds the decoded parameter values per channel.
type PeerDetailResource struct {
	PeerResource
	Values map[string]map[string]string `json:"values"`
}

// BrowseItemResource is one row of a browse response.
type BrowseItemResource struct {
	Object   string `json:"object"`
	Title    string `json:"title"`
	Album    string `json:"album,omitempty"`
	Artist   string `json:"artist,omitempty"`
	AlbumArt string `json:"album_art,omitempty"`
	URI      string `json:"uri"`
}

// RegisterRoutes wires the peer control routes to the router.
func RegisterRoutes(router chi.Router, bridge *hub.Hub) {
	router.Method(http.MethodGet, "/v1/peers", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peers := bridge.Registry().All()
		resources := make([]PeerResource, 0, len(peers))
		for _, p := range peers {
			resources = append(resources, peerResource(p))
		}
		sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
		return WriteList(w, "/v1/peers", resources, false)
	}))

	router.Method(http.MethodPost, "/v1/peers/discover", Handler(func(w http.ResponseWriter, r *http.Request) error {
		go bridge.Sweep(context.Background())
		return WriteResource(w, http.StatusAccepted, map[string]any{
			"object": "discovery",
			"status": "started",
		})
	}))

	router.Method(http.MethodGet, "/v1/peers/{serial}", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peer, err := lookupPeer(bridge, r)
		if err != nil {
			return err
		}
		detail := PeerDetailResource{
			PeerResource: peerResource(peer),
			Values:       make(map[string]map[string]string),
		}
		for _, ch := range peer.Params.Channels() {
			values := make(map[string]string)
			for _, key := range peer.Params.Keys(ch) {
				if v, ok := peer.Params.Get(ch, key); ok {
					values[key] = v.String()
				}
			}
			detail.Values[strconv.Itoa(ch)] = values
		}
		return WriteResource(w, http.StatusOK, detail)
	}))

	router.Method(http.MethodGet, "/v1/peers/{serial}/values/{key}", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peer, err := lookupPeer(bridge, r)
		if err != nil {
			return err
		}
		key := chi.URLParam(r, "key")

		if r.URL.Query().Get("refresh") == "true" {
			if err := bridge.Executor().RefreshParameter(r.Context(), peer, key); err != nil {
				return err
			}
		}

		channel := channelParam(r)
		v, ok := peer.Params.Get(channel, key)
		if !ok {
			return apperrors.NewNotFoundResource("parameter", key)
		}
		return WriteResource(w, http.StatusOK, map[string]any{
			"object":  "value",
			"serial":  peer.Serial,
			"channel": channel,
			"key":     key,
			"value":   v.String(),
		})
	}))

	router.Method(http.MethodPut, "/v1/peers/{serial}/values/{key}", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peer, err := lookupPeer(bridge, r)
		if err != nil {
			return err
		}
		key := chi.URLParam(r, "key")

		var body struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("value is required", nil)
		}

		if _, hasCommand := bridge.Profile().CommandFor(key); hasCommand {
			if err := bridge.Executor().SetParameter(r.Context(), peer, key, body.Value); err != nil {
				return err
			}
		} else {
			// Local knobs like the TTS defaults have no command frame;
			// they only live in the parameter store.
			def, ok := bridge.Profile().Parameter(key)
			if !ok || !def.Writable {
				return apperrors.NewValidationError("parameter is not writable: "+key, nil)
			}
			if _, _, ok := peer.Params.Set(channelParam(r), key, body.Value); !ok {
				return apperrors.NewNotFoundResource("parameter", key)
			}
		}
		return WriteResource(w, http.StatusOK, map[string]any{
			"object": "value",
			"serial": peer.Serial,
			"key":    key,
			"value":  body.Value,
		})
	}))

	router.Method(http.MethodPost, "/v1/peers/{serial}/links", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peer, err := lookupPeer(bridge, r)
		if err != nil {
			return err
		}
		var body struct {
			RemoteSerial string `json:"remote_serial"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RemoteSerial == "" {
			return apperrors.NewValidationError("remote_serial is required", nil)
		}
		joiner, ok := bridge.Registry().BySerial(body.RemoteSerial)
		if !ok {
			return apperrors.NewNotFoundResource("peer", body.RemoteSerial)
		}
		if err := bridge.Groups().AddLink(r.Context(), peer, joiner); err != nil {
			return err
		}
		return WriteResource(w, http.StatusOK, map[string]any{
			"object": "link",
			"serial": peer.Serial,
			"remote": joiner.Serial,
		})
	}))

	router.Method(http.MethodDelete, "/v1/peers/{serial}/links/{remote}", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peer, err := lookupPeer(bridge, r)
		if err != nil {
			return err
		}
		remote := chi.URLParam(r, "remote")
		leaver, ok := bridge.Registry().BySerial(remote)
		if !ok {
			return apperrors.NewNotFoundResource("peer", remote)
		}
		if err := bridge.Groups().RemoveLink(r.Context(), peer, leaver); err != nil {
			return err
		}
		return WriteResource(w, http.StatusOK, map[string]any{
			"object": "link",
			"serial": peer.Serial,
			"remote": leaver.Serial,
			"status": "removed",
		})
	}))

	router.Method(http.MethodGet, "/v1/peers/{serial}/browse", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peer, err := lookupPeer(bridge, r)
		if err != nil {
			return err
		}
		objectID := r.URL.Query().Get("object_id")
		if objectID == "" {
			objectID = playback.ContainerFavorites
		}
		start := intQuery(r, "start", 0)
		count := intQuery(r, "count", 100)

		result, err := bridge.Executor().Browse(r.Context(), peer, objectID, start, count)
		if err != nil {
			return err
		}
		items := make([]BrowseItemResource, 0, len(result.Items))
		for _, item := range result.Items {
			items = append(items, BrowseItemResource{
				Object:   "browse_item",
				Title:    item.Title,
				Album:    item.Album,
				Artist:   item.Artist,
				AlbumArt: item.AlbumArt,
				URI:      item.URI,
			})
		}
		return WriteList(w, r.URL.RequestURI(), items, false)
	}))

	router.Method(http.MethodPost, "/v1/peers/{serial}/play/file", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peer, err := lookupPeer(bridge, r)
		if err != nil {
			return err
		}
		var body struct {
			Filename string `json:"filename"`
			Now      bool   `json:"now"`
			Unmute   bool   `json:"unmute"`
			Volume   int    `json:"volume"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Filename == "" {
			return apperrors.NewValidationError("filename is required", nil)
		}
		if err := bridge.PlayFile(r.Context(), peer, body.Filename, playback.Options{
			Now:    body.Now,
			Unmute: body.Unmute,
			Volume: body.Volume,
		}); err != nil {
			return err
		}
		return WriteResource(w, http.StatusOK, map[string]any{
			"object":   "announcement",
			"serial":   peer.Serial,
			"filename": body.Filename,
		})
	}))

	router.Method(http.MethodPost, "/v1/peers/{serial}/play/tts", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peer, err := lookupPeer(bridge, r)
		if err != nil {
			return err
		}
		if !bridge.TTSEnabled() {
			return apperrors.NewAppError(apperrors.ErrorCodeTTSDisabled, "No TTS program configured", http.StatusConflict, nil)
		}
		var body struct {
			Text     string `json:"text"`
			Language string `json:"language"`
			Unmute   bool   `json:"unmute"`
			Volume   int    `json:"volume"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
			return apperrors.NewValidationError("text is required", nil)
		}
		if err := bridge.PlayTTS(r.Context(), peer, body.Text, playback.TTSOptions{
			Language: body.Language,
			Unmute:   body.Unmute,
			Volume:   body.Volume,
		}); err != nil {
			return err
		}
		return WriteResource(w, http.StatusOK, map[string]any{
			"object": "announcement",
			"serial": peer.Serial,
		})
	}))

	router.Method(http.MethodPost, "/v1/peers/{serial}/play/browse", Handler(func(w http.ResponseWriter, r *http.Request) error {
		peer, err := lookupPeer(bridge, r)
		if err != nil {
			return err
		}
		var body struct {
			ContainerID string `json:"container_id"`
			Title       string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
			return apperrors.NewValidationError("title is required", nil)
		}
		if body.ContainerID == "" {
			body.ContainerID = playback.ContainerFavorites
		}
		if err := bridge.PlayBrowsable(r.Context(), peer, body.ContainerID, body.Title); err != nil {
			return err
		}
		return WriteResource(w, http.StatusOK, map[string]any{
			"object":    "playback",
			"serial":    peer.Serial,
			"container": body.ContainerID,
			"title":     body.Title,
		})
	}))
}

func peerResource(p *device.Peer) PeerResource {
	rt := p.Runtime()
	links := make([]LinkResource, 0, 2)
	for _, l := range p.Links(1) {
		role := "receiver"
		if l.Sender {
			role = "sender"
		}
		links = append(links, LinkResource{Serial: l.RemoteSerial, Role: role})
	}
	return PeerResource{
		Object:         "peer",
		ID:             p.ID,
		Serial:         p.Serial,
		Name:           p.Name,
		Model:          p.Model,
		IP:             p.IP,
		RinconID:       p.RinconID(),
		Reachable:      !rt.Unreachable,
		TransportState: rt.TransportState,
		Links:          links,
	}
}

func lookupPeer(bridge *hub.Hub, r *http.Request) (*device.Peer, error) {
	serial := chi.URLParam(r, "serial")
	peer, ok := bridge.Registry().BySerial(serial)
	if !ok {
		return nil, apperrors.NewNotFoundResource("peer", serial)
	}
	return peer, nil
}

func channelParam(r *http.Request) int {
	return intQuery(r, "channel", 1)
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
