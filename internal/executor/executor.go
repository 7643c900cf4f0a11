// Package executor sends SOAP actions to peers and feeds their responses back
// through the sync engine, so command responses update parameters exactly
// like pushed events do.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/soap"
	"github.com/hgdev/sonos-bridge/internal/sync"
)

// maxResponseBytes caps response bodies. Browse responses on big libraries
// run to a few megabytes; anything past this is junk.
const maxResponseBytes = 10 << 20

// Options tunes a single call.
type Options struct {
	// IgnoreErrors keeps the peer reachable when the device rejects the
	// action. Used for best-effort calls like queue cleanup.
	IgnoreErrors bool
}

// Executor issues SOAP calls against peers.
type Executor struct {
	client *http.Client
	engine *sync.Engine
	logger *log.Logger
	port   int
}

// New creates an executor. The timeout bounds each call end to end.
func New(timeout time.Duration, engine *sync.Engine, logger *log.Logger) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		client: &http.Client{Timeout: timeout},
		engine: engine,
		logger: logger,
		port:   1400,
	}
}

// Execute sends a well-known action to the peer and returns the parsed
// response packet. The response also flows through the sync engine before
// returning.
func (x *Executor) Execute(ctx context.Context, peer *device.Peer, function string, args []soap.Arg) (*soap.Packet, error) {
	return x.ExecuteOpts(ctx, peer, function, args, Options{})
}

// ExecuteOpts is Execute with per-call options.
func (x *Executor) ExecuteOpts(ctx context.Context, peer *device.Peer, function string, args []soap.Arg, opts Options) (*soap.Packet, error) {
	req, err := soap.NewActionRequest(peer.IP, function, args)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s:%d%s", peer.IP, x.port, req.Path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Envelope()))
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", function, err)
	}
	httpReq.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	httpReq.Header.Set("SOAPACTION", `"`+req.SoapAction()+`"`)

	resp, err := x.client.Do(httpReq)
	if err != nil {
		x.setReachable(peer, false)
		if isTimeout(err) {
			x.logger.Printf("SOAP: %s to %s timed out", function, peer.Serial)
			return nil, &soap.TimeoutError{Action: function}
		}
		x.logger.Printf("SOAP: %s to %s failed: %v", function, peer.Serial, err)
		return nil, &soap.UnreachableError{Action: function, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		x.setReachable(peer, false)
		return nil, &soap.UnreachableError{Action: function, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code, desc := soap.ParseFault(body)
		if !opts.IgnoreErrors {
			x.setReachable(peer, false)
		}
		return nil, &soap.RejectedError{
			Action:      function,
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: desc,
		}
	}

	x.setReachable(peer, true)
	pkt := soap.Parse(body, peer.Serial, time.Now())
	if x.engine != nil {
		x.engine.Process(peer, pkt)
	}
	return pkt, nil
}

// Send issues an action and discards the response packet. Implements the
// group manager's CommandSender.
func (x *Executor) Send(ctx context.Context, peer *device.Peer, function string, args []soap.Arg) error {
	_, err := x.Execute(ctx, peer, function, args)
	return err
}

// SetParameter writes one writable parameter through its command frame.
func (x *Executor) SetParameter(ctx context.Context, peer *device.Peer, param, value string) error {
	cmd, ok := peer.Profile.CommandFor(param)
	if !ok {
		return fmt.Errorf("parameter %s is not writable", param)
	}
	args := make([]soap.Arg, 0, len(cmd.Args))
	for _, a := range cmd.Args {
		v := a.Const
		if a.Value {
			v = value
		}
		args = append(args, soap.Arg{Name: a.Key, Value: v})
	}
	return x.Send(ctx, peer, cmd.Function, args)
}

// RefreshParameter polls the device for one parameter's current value. The
// response frame updates the store as a side effect.
func (x *Executor) RefreshParameter(ctx context.Context, peer *device.Peer, param string) error {
	g, ok := peer.Profile.GetFor(param)
	if !ok {
		return fmt.Errorf("parameter %s has no get action", param)
	}
	_, err := x.Execute(ctx, peer, g.Function, nil)
	return err
}

// Browse fetches one container listing from the peer's content directory.
func (x *Executor) Browse(ctx context.Context, peer *device.Peer, objectID string, start, count int) (*soap.BrowseResult, error) {
	pkt, err := x.Execute(ctx, peer, "Browse", []soap.Arg{
		{Name: "ObjectID", Value: objectID},
		{Name: "BrowseFlag", Value: "BrowseDirectChildren"},
		{Name: "Filter", Value: "*"},
		{Name: "StartingIndex", Value: fmt.Sprintf("%d", start)},
		{Name: "RequestedCount", Value: fmt.Sprintf("%d", count)},
		{Name: "SortCriteria", Value: ""},
	})
	if err != nil {
		return nil, err
	}
	if pkt.Browse == nil {
		return &soap.BrowseResult{ParentID: objectID}, nil
	}
	return pkt.Browse, nil
}

func (x *Executor) setReachable(peer *device.Peer, reachable bool) {
	peer.UpdateRuntime(func(rt *device.RuntimeState) {
		rt.Unreachable = !reachable
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
