package params

import (
	"sort"
	"sync"
)

// Record is one stored parameter. Data is the canonical binary encoding.
type Record struct {
	Codec Codec
	Data  []byte
}

// Persister saves a parameter's binary value outside the process. The store
// calls it synchronously while holding no locks relevant to the caller.
type Persister interface {
	SaveParameter(peerID int64, channel int, key string, data []byte) error
}

// Store holds the parameters of one peer, keyed by channel and parameter ID.
type Store struct {
	peerID    int64
	persister Persister

	mu     sync.RWMutex
	byChan map[int]map[string]*Record
}

// NewStore creates an empty parameter store for the given peer. persister may
// be nil for in-memory use.
func NewStore(peerID int64, persister Persister) *Store {
	return &Store{
		peerID:    peerID,
		persister: persister,
		byChan:    make(map[int]map[string]*Record),
	}
}

// Ensure creates the parameter if it does not exist yet, leaving any existing
// value untouched.
func (s *Store) Ensure(channel int, key string, codec Codec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.byChan[channel]
	if ch == nil {
		ch = make(map[string]*Record)
		s.byChan[channel] = ch
	}
	if _, ok := ch[key]; !ok {
		ch[key] = &Record{Codec: codec}
	}
}

// Load restores a persisted binary value without triggering a save.
func (s *Store) Load(channel int, key string, codec Codec, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.byChan[channel]
	if ch == nil {
		ch = make(map[string]*Record)
		s.byChan[channel] = ch
	}
	ch[key] = &Record{Codec: codec, Data: data}
}

// Get decodes the current value of a parameter.
func (s *Store) Get(channel int, key string) (Variable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.byChan[channel][key]
	if rec == nil {
		return Variable{}, false
	}
	return rec.Codec.Decode(rec.Data), true
}

// Has reports whether the parameter exists on the given channel.
func (s *Store) Has(channel int, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byChan[channel][key] != nil
}

// Set encodes text into the parameter's binary form and stores it. It returns
// the decoded value and whether the stored bytes actually changed. Setting an
// unknown parameter reports ok=false.
func (s *Store) Set(channel int, key, text string) (v Variable, changed, ok bool) {
	s.mu.Lock()
	rec := s.byChan[channel][key]
	if rec == nil {
		s.mu.Unlock()
		return Variable{}, false, false
	}
	data := rec.Codec.Encode(text)
	changed = !bytesEqual(rec.Data, data)
	if changed {
		rec.Data = data
	}
	v = rec.Codec.Decode(data)
	s.mu.Unlock()

	if changed && s.persister != nil {
		_ = s.persister.SaveParameter(s.peerID, channel, key, data)
	}
	return v, changed, true
}

// Channels returns the channel numbers present in the store, ascending.
func (s *Store) Channels() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.byChan))
	for ch := range s.byChan {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}

// Keys returns the parameter IDs on a channel, sorted.
func (s *Store) Keys(channel int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch := s.byChan[channel]
	out := make([]string, 0, len(ch))
	for k := range ch {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
