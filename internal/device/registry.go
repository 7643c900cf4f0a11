package device

import (
	"sort"
	"sync"
)

// Registry indexes the known peers. The lock covers map bookkeeping only;
// callers work with *Peer outside it.
type Registry struct {
	mu       sync.RWMutex
	byID     map[int64]*Peer
	bySerial map[string]*Peer
	byRincon map[string]*Peer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[int64]*Peer),
		bySerial: make(map[string]*Peer),
		byRincon: make(map[string]*Peer),
	}
}

// Add registers a peer under all its identifiers.
func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
	r.bySerial[p.Serial] = p
	if rid := p.RinconID(); rid != "" {
		r.byRincon[rid] = p
	}
}

// Remove drops a peer from every index and reports whether it was present.
func (r *Registry) Remove(id int64) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	delete(r.bySerial, p.Serial)
	if rid := p.RinconID(); rid != "" {
		delete(r.byRincon, rid)
	}
	return p, true
}

// SetRincon records a peer's RINCON identifier and reindexes it.
func (r *Registry) SetRincon(p *Peer, rinconID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.mu.Lock()
	old := p.rinconID
	p.rinconID = rinconID
	p.mu.Unlock()
	if old != "" && old != rinconID {
		delete(r.byRincon, old)
	}
	if rinconID != "" {
		r.byRincon[rinconID] = p
	}
}

// ByID looks a peer up by database ID.
func (r *Registry) ByID(id int64) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// BySerial looks a peer up by serial number.
func (r *Registry) BySerial(serial string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bySerial[serial]
	return p, ok
}

// ByRincon looks a peer up by RINCON identifier.
func (r *Registry) ByRincon(rinconID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byRincon[rinconID]
	return p, ok
}

// Count returns the number of registered peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// IDs returns every peer ID in ascending order.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All returns every peer ordered by ID.
func (r *Registry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
