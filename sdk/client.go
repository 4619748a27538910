// Package sdk is the application-facing client. It wraps a connection
// container, mirrors its readiness and agent key, and refuses zome calls
// until the container is ready.
package sdk

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/mattyg/ui-common-library/internal/connection"
	"github.com/mattyg/ui-common-library/internal/loading"
	"github.com/mattyg/ui-common-library/pkg/logger"
	"github.com/mattyg/ui-common-library/pkg/types"
)

// ErrClientNotReady is returned by CallZome before the client is ready.
var ErrClientNotReady = fmt.Errorf("client not ready: %w", connection.ErrNotReady)

// Listener receives client events on a single callback goroutine.
type Listener interface {
	// OnReadyChanged is called whenever readiness flips.
	OnReadyChanged(ready bool)
	// OnAgentKey is called once, when the agent key is first known.
	OnAgentKey(key types.AgentPubKey)
	// OnError delivers non-fatal errors for display.
	OnError(message string)
}

// Option configures a Client.
type Option func(*options)

type options struct {
	setup   func(ctx context.Context) error
	tracker *loading.Tracker
}

// WithSetup runs fn exactly once, on the first Initialize.
func WithSetup(fn func(ctx context.Context) error) Option {
	return func(o *options) {
		o.setup = fn
	}
}

// WithTracker shares the loading tracker used by the container so
// IsLoading reflects its in-flight calls.
func WithTracker(t *loading.Tracker) Option {
	return func(o *options) {
		o.tracker = t
	}
}

// Client is the facade over a connection container with handle type H.
type Client[H any] struct {
	container connection.Container[H]
	tracker   *loading.Tracker

	setup     func(ctx context.Context) error
	setupOnce sync.Once
	setupErr  error

	mu       sync.Mutex
	ready    bool
	agentKey types.AgentPubKey
	lastErr  string
	listener Listener
	cancel   func()

	callbacks *dispatcher
}

// New returns a Client over container.
func New[H any](container connection.Container[H], opts ...Option) *Client[H] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracker == nil {
		o.tracker = loading.New()
	}
	return &Client[H]{
		container: container,
		tracker:   o.tracker,
		setup:     o.setup,
		callbacks: newDispatcher(64),
	}
}

// SetListener registers the listener for client events. Events queued
// before the call are still delivered to the previous listener. It must not
// be called from a Listener method.
func (c *Client[H]) SetListener(listener Listener) {
	_, _ = c.callbacks.call(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listener = listener
		return nil, nil
	})
}

// Initialize runs the setup hook on first use, starts mirroring the
// container and initializes it, returning the container's raw handle.
func (c *Client[H]) Initialize(ctx context.Context) (H, error) {
	c.setupOnce.Do(func() {
		if c.setup != nil {
			c.setupErr = c.setup(ctx)
		}
	})
	if c.setupErr != nil {
		var zero H
		return zero, fmt.Errorf("setup: %w", c.setupErr)
	}

	c.mu.Lock()
	if c.cancel == nil {
		c.cancel = c.container.Subscribe(c.observe)
	}
	c.mu.Unlock()
	c.observe(c.container.Snapshot())

	return c.container.Initialize(ctx)
}

// LoadAppInfo reloads the app descriptor.
func (c *Client[H]) LoadAppInfo(ctx context.Context) (*types.AppInfo, error) {
	info, err := c.container.LoadAppInfo(ctx)
	if err != nil {
		c.emitError(err)
		return nil, err
	}
	return info, nil
}

// CallZome dispatches req once the client is ready.
func (c *Client[H]) CallZome(ctx context.Context, req types.CallZomeRequest) (any, error) {
	if !c.IsReady() {
		return nil, ErrClientNotReady
	}
	logger.Debugf("Calling zome %s.%s (role=%q)", req.ZomeName, req.FnName, req.RoleName)
	return c.container.CallZome(ctx, req)
}

// AppInfo returns a copy of the container's descriptor, or nil.
func (c *Client[H]) AppInfo() *types.AppInfo {
	return c.container.Snapshot().AppInfo
}

// AgentKey returns the agent key captured from the first descriptor.
func (c *Client[H]) AgentKey() types.AgentPubKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.agentKey)
}

// AgentID returns the printable agent key, or "" when unknown.
func (c *Client[H]) AgentID() string {
	key := c.AgentKey()
	if len(key) == 0 {
		return ""
	}
	return key.String()
}

// IsReady reports whether the container last reported itself ready.
func (c *Client[H]) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// IsLoading reports whether any zome call is in flight.
func (c *Client[H]) IsLoading() bool {
	return c.tracker.IsLoading()
}

// IsCallLoading reports whether zome.fn is in flight.
func (c *Client[H]) IsCallLoading(zome, fn string) bool {
	return c.tracker.IsCallLoading(zome, fn)
}

// Close stops mirroring the container and stops the callback goroutine.
// Callbacks already queued are still delivered; the listener receives
// nothing after that.
func (c *Client[H]) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.callbacks.close()
}

func (c *Client[H]) observe(s connection.Snapshot) {
	c.mu.Lock()
	readyChanged := s.Ready != c.ready
	c.ready = s.Ready

	var newKey types.AgentPubKey
	if len(c.agentKey) == 0 && len(s.AgentPubKey) > 0 {
		c.agentKey = bytes.Clone(s.AgentPubKey)
		newKey = bytes.Clone(s.AgentPubKey)
	}

	errMsg := ""
	if s.Err != nil {
		errMsg = s.Err.Error()
	}
	errChanged := errMsg != "" && errMsg != c.lastErr
	c.lastErr = errMsg

	listener := c.listener
	c.mu.Unlock()

	if listener == nil {
		return
	}
	if readyChanged {
		ready := s.Ready
		_ = c.callbacks.do(func() { listener.OnReadyChanged(ready) })
	}
	if newKey != nil {
		_ = c.callbacks.do(func() { listener.OnAgentKey(newKey) })
	}
	if errChanged {
		_ = c.callbacks.do(func() { listener.OnError(errMsg) })
	}
}

func (c *Client[H]) emitError(err error) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()

	if listener == nil {
		return
	}
	msg := err.Error()
	_ = c.callbacks.do(func() { listener.OnError(msg) })
}
