// Package hub wires the bridge together: persistent store, peer registry,
// value sync engine, command executor, group manager, event listener, and
// the peer scheduler. The hub owns startup order and shutdown order.
package hub

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/hgdev/sonos-bridge/internal/config"
	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/discovery"
	"github.com/hgdev/sonos-bridge/internal/executor"
	"github.com/hgdev/sonos-bridge/internal/frames"
	"github.com/hgdev/sonos-bridge/internal/grouplink"
	"github.com/hgdev/sonos-bridge/internal/listener"
	"github.com/hgdev/sonos-bridge/internal/params"
	"github.com/hgdev/sonos-bridge/internal/playback"
	"github.com/hgdev/sonos-bridge/internal/scheduler"
	"github.com/hgdev/sonos-bridge/internal/soap"
	"github.com/hgdev/sonos-bridge/internal/store"
	"github.com/hgdev/sonos-bridge/internal/sync"
)

// Hub is the assembled bridge.
type Hub struct {
	cfg    config.Config
	logger *log.Logger

	db       *store.DBPair
	store    *store.Store
	registry *device.Registry
	profile  *frames.Profile
	events   *Broadcaster
	engine   *sync.Engine
	exec     *executor.Executor
	groups   *grouplink.Manager
	sub      *listener.Subscriber
	server   *listener.Server
	worker   *scheduler.Worker
	maint    *scheduler.Maintenance
	play     *playback.Orchestrator

	baseURL string
}

// New builds the bridge from configuration. The database is opened and
// migrated here; nothing starts running until Start.
func New(cfg config.Config, logger *log.Logger) (*Hub, error) {
	if logger == nil {
		logger = log.Default()
	}

	db, err := store.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st := store.New(db)

	host := cfg.ListenHost
	if host == "" {
		host, err = localIP()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("discover local IP: %w", err)
		}
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, cfg.ListenPort)

	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    st,
		registry: device.NewRegistry(),
		profile:  frames.Default(),
		events:   NewBroadcaster(),
		baseURL:  baseURL,
	}

	// The engine needs the group manager, the group manager needs the
	// executor, and the executor needs the engine. Construct the engine
	// without groups and close the loop afterwards.
	h.engine = sync.NewEngine(h.registry, nil, h.events, logger)
	h.exec = executor.New(cfg.SoapTimeout(), h.engine, logger)
	h.groups = grouplink.NewManager(h.registry, h.exec, st, logger)
	h.engine.SetGroupSync(h.groups)

	h.sub = listener.NewSubscriber(baseURL+"/notify", cfg.SoapTimeout(), logger)
	h.server = listener.NewServer(fmt.Sprintf(":%d", cfg.ListenPort), h, []string{cfg.TempDir, cfg.DataDir}, logger)
	h.worker = scheduler.NewWorker(h.registry, h.exec, h.sub, logger)
	h.play = playback.NewOrchestrator(h.exec, h.registry, baseURL, cfg.TempDir, logger)

	h.maint = scheduler.NewMaintenance(logger)
	if err := h.maint.AddDiscoverySweep(func() { h.Sweep(context.Background()) }); err != nil {
		db.Close()
		return nil, err
	}
	if err := h.maint.AddTempFileGC(cfg.TempDir, cfg.TempFileMaxAge()); err != nil {
		db.Close()
		return nil, err
	}

	return h, nil
}

// Start loads persisted peers, binds the event listener, and launches the
// scheduler. An initial discovery sweep runs in the background so startup
// does not block on the network.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.LoadPersisted(); err != nil {
		return err
	}
	if err := h.server.Start(); err != nil {
		return fmt.Errorf("start event listener: %w", err)
	}
	h.worker.Start()
	h.maint.Start()
	h.logger.Printf("HUB: started, callback base %s, %d peers loaded", h.baseURL, h.registry.Count())

	go func() {
		h.Sweep(ctx)
		for _, p := range h.registry.All() {
			if err := h.sub.Subscribe(ctx, p); err != nil {
				h.logger.Printf("HUB: subscribe %s: %v", p.Serial, err)
			}
		}
	}()
	return nil
}

// Stop shuts the bridge down in reverse start order.
func (h *Hub) Stop() {
	h.maint.Stop()
	h.worker.Stop()
	h.server.Stop()
	if err := h.db.Close(); err != nil {
		h.logger.Printf("HUB: close database: %v", err)
	}
	h.logger.Printf("HUB: stopped")
}

// HandlePacket routes one inbound event packet to the owning peer's sync
// engine. Packets for unknown serials are dropped.
func (h *Hub) HandlePacket(serial string, pkt *soap.Packet) {
	peer, ok := h.registry.BySerial(serial)
	if !ok {
		h.logger.Printf("HUB: event from unknown peer %s, dropping", serial)
		return
	}
	h.engine.Process(peer, pkt)
}

// LoadPersisted rebuilds the registry from the database: peers, their
// parameter values, and their group links.
func (h *Hub) LoadPersisted() error {
	rows, err := h.store.ListPeers()
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}
	for _, row := range rows {
		peer := h.buildPeer(row.ID, row.Serial, row.IP)
		peer.Model = row.Model
		peer.Name = row.Name

		prows, err := h.store.LoadParameters(row.ID)
		if err != nil {
			return fmt.Errorf("load parameters for %s: %w", row.Serial, err)
		}
		for _, pr := range prows {
			codec := params.Codec{Type: params.TypeString}
			if def, ok := h.profile.Parameter(pr.Key); ok {
				codec = def.Codec()
			}
			peer.Params.Load(pr.Channel, pr.Key, codec, pr.Value)
		}

		links, err := h.store.LoadLinks(row.ID)
		if err != nil {
			return fmt.Errorf("load links for %s: %w", row.Serial, err)
		}
		for ch, list := range links {
			peer.SetLinks(ch, list)
		}

		h.registry.Add(peer)
		if row.RinconID != "" {
			h.registry.SetRincon(peer, row.RinconID)
		}
	}
	return nil
}

// RegisterDevice adds a discovered device to the bridge, or refreshes the
// address of one already known. New peers are persisted and subscribed to.
func (h *Hub) RegisterDevice(ctx context.Context, raw *discovery.RawDevice) (*device.Peer, error) {
	if peer, ok := h.registry.BySerial(raw.SerialNumber); ok {
		if peer.IP != raw.IP {
			h.logger.Printf("HUB: peer %s moved %s -> %s", peer.Serial, peer.IP, raw.IP)
			peer.IP = raw.IP
			if err := h.store.UpdatePeerIP(peer.ID, raw.IP); err != nil {
				h.logger.Printf("HUB: persist IP for %s: %v", peer.Serial, err)
			}
		}
		if err := h.store.TouchPeer(peer.ID); err != nil {
			h.logger.Printf("HUB: touch peer %s: %v", peer.Serial, err)
		}
		return peer, nil
	}

	id, err := h.store.UpsertPeer(store.PeerRow{
		Serial:   raw.SerialNumber,
		IP:       raw.IP,
		RinconID: raw.RinconID,
		Model:    raw.Model,
		Name:     raw.RoomName,
	})
	if err != nil {
		return nil, fmt.Errorf("persist peer %s: %w", raw.SerialNumber, err)
	}

	peer := h.buildPeer(id, raw.SerialNumber, raw.IP)
	peer.Model = raw.Model
	peer.Name = raw.RoomName
	h.registry.Add(peer)
	if raw.RinconID != "" {
		peer.Params.Set(h.profile.Channels[0], "ID", raw.RinconID)
		h.registry.SetRincon(peer, raw.RinconID)
	}
	h.logger.Printf("HUB: registered peer %s (%s) at %s", raw.SerialNumber, raw.RoomName, raw.IP)

	if err := h.sub.Subscribe(ctx, peer); err != nil {
		h.logger.Printf("HUB: subscribe %s: %v", peer.Serial, err)
	}
	return peer, nil
}

// Sweep runs one discovery pass and registers what it finds. Known peer
// addresses are probed directly in case multicast is filtered.
func (h *Hub) Sweep(ctx context.Context) {
	var known []string
	for _, p := range h.registry.All() {
		known = append(known, p.IP)
	}

	devices, err := discovery.DiscoverDevices(ctx,
		h.cfg.SSDPPasses,
		msDuration(h.cfg.SSDPPassIntervalMs),
		msDuration(h.cfg.SSDPTimeoutMs),
		known)
	if err != nil {
		h.logger.Printf("HUB: discovery sweep: %v", err)
		return
	}
	for _, raw := range devices {
		if _, err := h.RegisterDevice(ctx, raw); err != nil {
			h.logger.Printf("HUB: register %s: %v", raw.SerialNumber, err)
		}
	}
}

// PlayFile announces a local audio file on a peer and restores whatever was
// playing before.
func (h *Hub) PlayFile(ctx context.Context, peer *device.Peer, filename string, opts playback.Options) error {
	return h.play.PlayLocalFile(ctx, peer, filename, opts)
}

// PlayBrowsable browses a ContentDirectory container on the peer and plays
// the entry with the given title from the peer's own queue.
func (h *Hub) PlayBrowsable(ctx context.Context, peer *device.Peer, containerID, title string) error {
	return h.play.PlayBrowsable(ctx, peer, containerID, title)
}

// PlayTTS renders text to speech with the configured external program and
// announces the result. Options left at their zero value fall back to the
// peer's PLAY_TTS_UNMUTE, PLAY_TTS_VOLUME and PLAY_TTS_LANGUAGE parameters.
func (h *Hub) PlayTTS(ctx context.Context, peer *device.Peer, text string, opts playback.TTSOptions) error {
	ch := h.profile.Channels[0]
	if !opts.Unmute {
		if v, ok := peer.Params.Get(ch, "PLAY_TTS_UNMUTE"); ok {
			opts.Unmute = v.Bool
		}
	}
	if opts.Volume <= 0 {
		if v, ok := peer.Params.Get(ch, "PLAY_TTS_VOLUME"); ok {
			opts.Volume = v.Int
		}
	}
	if opts.Language == "" {
		if v, ok := peer.Params.Get(ch, "PLAY_TTS_LANGUAGE"); ok {
			opts.Language = v.Str
		}
	}
	return h.play.PlayTTS(ctx, peer, h.cfg.TTSProgram, text, opts)
}

func (h *Hub) buildPeer(id int64, serial, ip string) *device.Peer {
	ps := params.NewStore(id, h.store)
	for _, ch := range h.profile.Channels {
		for _, def := range h.profile.Parameters {
			ps.Ensure(ch, def.ID, def.Codec())
		}
	}
	return device.NewPeer(id, serial, ip, h.profile, ps)
}

// TTSEnabled reports whether a TTS program is configured.
func (h *Hub) TTSEnabled() bool { return h.cfg.TTSProgram != "" }

// Registry exposes the live peer set.
func (h *Hub) Registry() *device.Registry { return h.registry }

// Executor exposes the SOAP command executor.
func (h *Hub) Executor() *executor.Executor { return h.exec }

// Groups exposes the group link manager.
func (h *Hub) Groups() *grouplink.Manager { return h.groups }

// Events exposes the change event broadcaster.
func (h *Hub) Events() *Broadcaster { return h.events }

// Store exposes the persistence layer.
func (h *Hub) Store() *store.Store { return h.store }

// Profile exposes the device profile the bridge runs with.
func (h *Hub) Profile() *frames.Profile { return h.profile }

// localIP finds the interface address the peers can reach back on, by
// routing toward a public address without sending anything.
func localIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
