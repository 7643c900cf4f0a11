// Package scheduler drives the periodic per-peer work: position polling
// while playing, media info refresh, and subscription renewal. One peer is
// serviced per tick, walking the registry in ID order; the tick shrinks with
// the peer count so a full sweep stays inside the service window.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/soap"
)

const (
	// baseTick is the tick for small peer sets.
	baseTick = 200 * time.Millisecond
	// serviceWindow bounds one full pass over all peers; past
	// serviceWindow/baseTick peers the tick shrinks below baseTick.
	serviceWindow = 3 * time.Second

	positionInterval = 5 * time.Second
	mediaInterval    = 60 * time.Second
	renewInterval    = 300 * time.Second
)

type actionRunner interface {
	Execute(ctx context.Context, peer *device.Peer, function string, args []soap.Arg) (*soap.Packet, error)
}

type renewer interface {
	Subscribe(ctx context.Context, peer *device.Peer) error
}

// Worker is the peer service loop.
type Worker struct {
	registry *device.Registry
	runner   actionRunner
	renewer  renewer
	logger   *log.Logger
	now      func() time.Time

	cursor int
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a worker over the registry.
func NewWorker(registry *device.Registry, runner actionRunner, renewer renewer, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		registry: registry,
		runner:   runner,
		renewer:  renewer,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the service loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop terminates the loop and waits for the in-flight step.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-time.After(w.tick()):
		}
		w.step(context.Background())
	}
}

// tick adapts to the peer count: base tick for small sets, then shrinking so
// one full sweep still fits the service window. The per-peer due checks do
// the actual pacing; the tick only has to visit everyone often enough.
func (w *Worker) tick() time.Duration {
	n := w.registry.Count()
	if n == 0 {
		return baseTick
	}
	d := serviceWindow / time.Duration(n)
	if d > baseTick {
		d = baseTick
	}
	return d
}

// step services the next peer in the ring. Registry changes between ticks
// are safe: the cursor wraps against the current ID list.
func (w *Worker) step(ctx context.Context) {
	ids := w.registry.IDs()
	if len(ids) == 0 {
		return
	}
	if w.cursor >= len(ids) {
		w.cursor = 0
	}
	id := ids[w.cursor]
	w.cursor++

	peer, ok := w.registry.ByID(id)
	if !ok {
		return
	}
	w.service(ctx, peer)
}

func (w *Worker) service(ctx context.Context, peer *device.Peer) {
	now := w.now()
	rt := peer.Runtime()

	if dueRenewal(rt, now) {
		if err := w.renewer.Subscribe(ctx, peer); err != nil {
			w.logger.Printf("SCHED: renew subscriptions on %s: %v", peer.Serial, err)
		}
	}

	if duePosition(rt, now) {
		if _, err := w.runner.Execute(ctx, peer, "GetPositionInfo", nil); err != nil {
			w.logger.Printf("SCHED: poll position on %s: %v", peer.Serial, err)
		}
		peer.UpdateRuntime(func(rt *device.RuntimeState) {
			rt.LastPosition = now
			rt.PositionPollPending = false
		})
	}

	if dueMediaInfo(rt, now) {
		if _, err := w.runner.Execute(ctx, peer, "GetMediaInfo", nil); err != nil {
			w.logger.Printf("SCHED: poll media info on %s: %v", peer.Serial, err)
		}
		peer.UpdateRuntime(func(rt *device.RuntimeState) {
			rt.LastMediaInfo = now
		})
	}
}

// duePosition: every positionInterval while playing, plus one trailing poll
// after playback stops so the final track position lands in the store. An
// unreachable peer is skipped entirely; renewal clears the flag once the
// peer answers again.
func duePosition(rt device.RuntimeState, now time.Time) bool {
	if rt.Unreachable {
		return false
	}
	if rt.PositionPollPending {
		return true
	}
	if rt.TransportState != "PLAYING" {
		return false
	}
	return now.Sub(rt.LastPosition) >= positionInterval
}

func dueMediaInfo(rt device.RuntimeState, now time.Time) bool {
	return now.Sub(rt.LastMediaInfo) >= mediaInterval
}

func dueRenewal(rt device.RuntimeState, now time.Time) bool {
	return now.Sub(rt.LastRenewal) >= renewInterval
}
