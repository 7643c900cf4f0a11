package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/soap"
)

// subscribeTimeout is the GENA lease requested on every subscription.
const subscribeTimeout = "Second-1800"

// Subscriber places GENA subscriptions on peers. Renewal is a fresh
// SUBSCRIBE with the same callback; the players treat that as a lease reset.
type Subscriber struct {
	client      *http.Client
	callbackURL string
	logger      *log.Logger
	port        int
}

// NewSubscriber creates a subscriber announcing callbackURL, the listener's
// externally reachable base URL.
func NewSubscriber(callbackURL string, timeout time.Duration, logger *log.Logger) *Subscriber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Subscriber{
		client:      &http.Client{Timeout: timeout},
		callbackURL: callbackURL,
		logger:      logger,
		port:        1400,
	}
}

// httpStatusError is a non-2xx SUBSCRIBE response. The device answered, so
// the sweep keeps going and reachability is unaffected.
type httpStatusError struct {
	path   string
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("subscribe %s: http %d", e.path, e.status)
}

// Subscribe places subscriptions on all seven event services of the peer.
// A rejected SUBSCRIBE is logged and the sweep moves on; a transport failure
// means the device is gone, so the sweep stops there and the peer is marked
// unreachable. A fully successful pass clears the mark.
func (s *Subscriber) Subscribe(ctx context.Context, peer *device.Peer) error {
	var firstErr error
	for _, path := range soap.EventPaths {
		err := s.subscribeOne(ctx, peer, path)
		if err == nil {
			continue
		}
		s.logger.Printf("UPNP: subscribe %s on %s: %v", path, peer.Serial, err)
		if firstErr == nil {
			firstErr = err
		}
		var statusErr *httpStatusError
		if !errors.As(err, &statusErr) {
			peer.UpdateRuntime(func(rt *device.RuntimeState) {
				rt.Unreachable = true
			})
			return firstErr
		}
	}
	if firstErr == nil {
		peer.UpdateRuntime(func(rt *device.RuntimeState) {
			rt.SubscribedAt = time.Now()
			rt.LastRenewal = time.Now()
			rt.Unreachable = false
		})
	}
	return firstErr
}

func (s *Subscriber) subscribeOne(ctx context.Context, peer *device.Peer, path string) error {
	url := fmt.Sprintf("http://%s:%d%s", peer.IP, s.port, path)
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("CALLBACK", "<"+s.callbackURL+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", subscribeTimeout)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &httpStatusError{path: path, status: resp.StatusCode}
	}
	return nil
}
