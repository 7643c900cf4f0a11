// Package grouplink keeps the pairwise link lists that mirror zone group
// membership. Groups are not stored as first-class objects; a slave's
// transport URI pointing at its coordinator is the single source of truth,
// and the link lists follow it.
package grouplink

import (
	"context"
	"fmt"
	"log"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/soap"
	"github.com/hgdev/sonos-bridge/internal/sync"
)

// CommandSender issues one SOAP action against a peer.
type CommandSender interface {
	Send(ctx context.Context, peer *device.Peer, function string, args []soap.Arg) error
}

// LinkStore persists the link list of one peer channel.
type LinkStore interface {
	ReplaceLinks(peerID int64, channel int, links []device.Link) error
}

// groupChannel is the channel link records live on.
const groupChannel = 1

// Manager maintains link lists from transport URI transitions and drives
// proactive group changes.
type Manager struct {
	registry *device.Registry
	sender   CommandSender
	store    LinkStore
	logger   *log.Logger
}

// NewManager creates a manager. store may be nil for in-memory use.
func NewManager(registry *device.Registry, sender CommandSender, store LinkStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{registry: registry, sender: sender, store: store, logger: logger}
}

// TransportURIChanged reconciles link lists after a peer's transport URI is
// reported. It runs on every report, identical bytes included: a link list
// that lost one side heals the next time the same URI comes around. A
// coordinator RINCON the registry cannot resolve is ignored; the next
// topology event will carry it again once the peer is known.
func (m *Manager) TransportURIChanged(peer *device.Peer, oldURI, newURI string) {
	if sync.IsGroupSlaveURI(oldURI) && oldURI != newURI {
		if master, ok := m.registry.ByRincon(sync.RinconFromURI(oldURI)); ok {
			m.unlink(peer, master)
		}
	}

	if sync.IsGroupSlaveURI(newURI) {
		master, ok := m.registry.ByRincon(sync.RinconFromURI(newURI))
		if !ok {
			m.logger.Printf("GROUP: peer %s joined unknown coordinator %s", peer.Serial, sync.RinconFromURI(newURI))
			return
		}
		m.link(peer, master)
	}
}

// link records the mutual pair: a sender-role record on the slave pointing
// at the coordinator it receives from, and the receiver-role mirror on the
// coordinator.
func (m *Manager) link(slave, master *device.Peer) {
	if slave.ID == master.ID {
		return
	}
	changedSlave := slave.AddLink(groupChannel, device.Link{RemoteSerial: master.Serial, Sender: true})
	changedMaster := master.AddLink(groupChannel, device.Link{RemoteSerial: slave.Serial, Sender: false})
	if changedSlave || changedMaster {
		m.logger.Printf("GROUP: linked %s -> %s", slave.Serial, master.Serial)
	}
	m.persist(slave, changedSlave)
	m.persist(master, changedMaster)
}

func (m *Manager) unlink(slave, master *device.Peer) {
	changedSlave := slave.RemoveLink(groupChannel, master.Serial)
	changedMaster := master.RemoveLink(groupChannel, slave.Serial)
	if changedSlave || changedMaster {
		m.logger.Printf("GROUP: unlinked %s -> %s", slave.Serial, master.Serial)
	}
	m.persist(slave, changedSlave)
	m.persist(master, changedMaster)
}

func (m *Manager) persist(p *device.Peer, changed bool) {
	if !changed || m.store == nil {
		return
	}
	if err := m.store.ReplaceLinks(p.ID, groupChannel, p.Links(groupChannel)); err != nil {
		m.logger.Printf("GROUP: persist links for %s: %v", p.Serial, err)
	}
}

// AddLink makes joiner play from coordinator's queue, forming or extending a
// group. The link pair is recorded right away; the transport event that
// follows re-runs the same inference and finds it already in place.
func (m *Manager) AddLink(ctx context.Context, coordinator, joiner *device.Peer) error {
	if coordinator.ID == joiner.ID {
		return fmt.Errorf("peer %s cannot join itself", joiner.Serial)
	}
	rincon := coordinator.RinconID()
	if rincon == "" {
		return fmt.Errorf("coordinator %s has no rincon id yet", coordinator.Serial)
	}
	if err := m.sender.Send(ctx, joiner, "SetAVTransportURI", []soap.Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "CurrentURI", Value: "x-rincon:" + rincon},
		{Name: "CurrentURIMetaData", Value: ""},
	}); err != nil {
		return err
	}
	m.link(joiner, coordinator)
	return nil
}

// RemoveLink detaches leaver from coordinator by pointing it back at its own
// queue. Callers sometimes pass the pair the wrong way round; when the
// MASTER_ID records show coordinator slaved to leaver, the roles swap.
func (m *Manager) RemoveLink(ctx context.Context, coordinator, leaver *device.Peer) error {
	leaverMaster, _ := leaver.Params.Get(groupChannel, "MASTER_ID")
	coordMaster, _ := coordinator.Params.Get(groupChannel, "MASTER_ID")
	if leaverMaster.Str != coordinator.RinconID() && coordMaster.Str == leaver.RinconID() {
		coordinator, leaver = leaver, coordinator
	}
	rincon := leaver.RinconID()
	if rincon == "" {
		return fmt.Errorf("peer %s has no rincon id yet", leaver.Serial)
	}
	if err := m.sender.Send(ctx, leaver, "SetAVTransportURI", []soap.Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "CurrentURI", Value: fmt.Sprintf("x-rincon-queue:%s#0", rincon)},
		{Name: "CurrentURIMetaData", Value: ""},
	}); err != nil {
		return err
	}
	m.unlink(leaver, coordinator)
	return nil
}
