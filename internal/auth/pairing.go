package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// RedeemResult is the outcome of presenting a pairing code.
type RedeemResult int

const (
	RedeemOK RedeemResult = iota
	RedeemUnknown
	RedeemExpired
)

// PairingStore holds the pending six-digit pairing codes. Codes are single
// use: redeeming removes them whatever the outcome, so a leaked code cannot
// be replayed.
type PairingStore struct {
	mu      sync.Mutex
	pending map[string]time.Time
	ttl     time.Duration
}

func NewPairingStore(ttl time.Duration) *PairingStore {
	return &PairingStore{
		pending: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Create mints a six-digit code and registers it for the configured TTL.
func (s *PairingStore) Create() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < 10; attempt++ {
		n, err := rand.Int(rand.Reader, big.NewInt(900000))
		if err != nil {
			return "", err
		}
		code := fmt.Sprintf("%06d", 100000+n.Int64())
		if _, taken := s.pending[code]; taken {
			continue
		}
		s.pending[code] = time.Now()
		return code, nil
	}
	return "", fmt.Errorf("no free pairing code after 10 attempts")
}

// Redeem consumes a pairing code and reports whether it was valid. The code
// is removed in every case.
func (s *PairingStore) Redeem(code string) RedeemResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, ok := s.pending[code]
	if !ok {
		return RedeemUnknown
	}
	delete(s.pending, code)
	if time.Since(created) > s.ttl {
		return RedeemExpired
	}
	return RedeemOK
}

// CleanupExpired drops codes past their TTL.
func (s *PairingStore) CleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for code, created := range s.pending {
		if now.Sub(created) > s.ttl {
			delete(s.pending, code)
		}
	}
}

// StartCleanup sweeps expired codes until the context is canceled, then
// wipes whatever is left.
func (s *PairingStore) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.CleanupExpired()
			case <-ctx.Done():
				s.mu.Lock()
				s.pending = make(map[string]time.Time)
				s.mu.Unlock()
				return
			}
		}
	}()
}
