package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mattyg/ui-common-library/internal/conductor"
	"github.com/mattyg/ui-common-library/internal/loading"
	"github.com/mattyg/ui-common-library/internal/signal"
	"github.com/mattyg/ui-common-library/pkg/logger"
	"github.com/mattyg/ui-common-library/pkg/types"
)

// AppClient is the conductor app interface client owned by Direct.
type AppClient interface {
	AppInfo(ctx context.Context, installedAppID string) (*types.AppInfo, error)
	CallZome(ctx context.Context, env *types.ZomeCallEnvelope, timeout time.Duration) (any, error)
	AgentPubKey() types.AgentPubKey
	OnClose(fn func(error))
	Close() error
}

// Dialer opens an AppClient. onSignal receives every app signal.
type Dialer func(ctx context.Context, url string, timeout time.Duration, onSignal func(types.RawSignal)) (AppClient, error)

// ConductorDialer dials a conductor app websocket.
func ConductorDialer(opts ...conductor.Option) Dialer {
	return func(ctx context.Context, url string, timeout time.Duration, onSignal func(types.RawSignal)) (AppClient, error) {
		all := append([]conductor.Option{conductor.WithSignalHandler(onSignal)}, opts...)
		ws, err := conductor.Connect(ctx, url, timeout, all...)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
}

// DirectConfig configures a Direct container.
type DirectConfig struct {
	InstalledAppID string
	URL            string
	Dialer         Dialer
	Tracker        *loading.Tracker
	Signals        signal.Handler
}

// Direct owns a conductor app websocket.
type Direct struct {
	cfg DirectConfig
	obs observers

	mu      sync.Mutex
	client  AppClient
	appInfo *types.AppInfo
	ready   bool
	connErr error
}

// NewDirect returns an uninitialized Direct container.
func NewDirect(cfg DirectConfig) *Direct {
	if cfg.Dialer == nil {
		cfg.Dialer = ConductorDialer()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = loading.New()
	}
	return &Direct{cfg: cfg}
}

// Initialize connects to the conductor and loads the app descriptor. A
// descriptor failure is logged and leaves the container not ready; only a
// connection failure is returned. Calling Initialize again replaces the
// handle.
func (d *Direct) Initialize(ctx context.Context) (AppClient, error) {
	d.mu.Lock()
	prev := d.client
	d.client = nil
	d.appInfo = nil
	d.ready = false
	d.mu.Unlock()

	if prev != nil {
		logger.Debugf("Replacing app websocket to %s", d.cfg.URL)
		if err := prev.Close(); err != nil {
			logger.Warnf("Failed to close previous app websocket: %v", err)
		}
		d.publish()
	}

	client, err := d.cfg.Dialer(ctx, d.cfg.URL, Timeout, signal.Forward(d.cfg.Signals))
	if err != nil {
		logger.Errorf("Failed to connect to app interface %s: %v", d.cfg.URL, err)
		d.mu.Lock()
		d.connErr = err
		d.mu.Unlock()
		d.publish()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	d.mu.Lock()
	d.client = client
	d.connErr = nil
	d.mu.Unlock()

	client.OnClose(func(err error) { d.handleClose(client, err) })
	d.publish()

	// LoadAppInfo logs its own failure.
	_, _ = d.LoadAppInfo(ctx)
	return client, nil
}

// LoadAppInfo fetches the descriptor of the configured app. On failure the
// previous state is kept.
func (d *Direct) LoadAppInfo(ctx context.Context) (*types.AppInfo, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("%w: not connected", ErrAppInfoLoad)
	}

	info, err := client.AppInfo(ctx, d.cfg.InstalledAppID)
	if err != nil {
		logger.Errorf("appInfo(%s) returned error: %v", d.cfg.InstalledAppID, err)
		return nil, fmt.Errorf("%w: %w", ErrAppInfoLoad, err)
	}
	if info == nil {
		logger.Errorf("appInfo(%s): app is not installed", d.cfg.InstalledAppID)
		return nil, fmt.Errorf("%w: app %q is not installed", ErrAppInfoLoad, d.cfg.InstalledAppID)
	}

	d.mu.Lock()
	if d.client != client {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: connection replaced during load", ErrAppInfoLoad)
	}
	d.appInfo = info
	d.ready = true
	d.mu.Unlock()

	d.publish()
	return info.Clone(), nil
}

// CallZome validates req and dispatches it on the owned handle.
func (d *Direct) CallZome(ctx context.Context, req types.CallZomeRequest) (any, error) {
	d.mu.Lock()
	client, info, ready := d.client, d.appInfo, d.ready
	d.mu.Unlock()

	if client == nil || info == nil || !ready {
		return nil, fmt.Errorf("%w: tried to make a zome call before storing app info", ErrNotReady)
	}

	env, err := buildEnvelope(info, req, client.AgentPubKey())
	if err != nil {
		return nil, err
	}

	defer d.cfg.Tracker.Track(req.ZomeName, req.FnName)()

	out, err := client.CallZome(ctx, env, Timeout)
	if err != nil {
		logger.Errorf("callZome(%s) returned error: %v", env.Path(), err)
		return nil, err
	}
	return out, nil
}

// Snapshot returns the current state.
func (d *Direct) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{
		Ready:     d.ready,
		Connected: d.client != nil,
		Err:       d.connErr,
	}
	if d.appInfo != nil {
		s.AppInfo = d.appInfo.Clone()
		s.AgentPubKey = s.AppInfo.AgentPubKey
	}
	return s
}

// Subscribe registers fn for every state change.
func (d *Direct) Subscribe(fn func(Snapshot)) func() {
	return d.obs.subscribe(fn)
}

// Close closes the owned handle, if any.
func (d *Direct) Close() error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.appInfo = nil
	d.ready = false
	d.mu.Unlock()

	if client == nil {
		return nil
	}
	defer d.publish()
	return client.Close()
}

func (d *Direct) handleClose(client AppClient, err error) {
	d.mu.Lock()
	if d.client != client {
		d.mu.Unlock()
		return
	}
	d.client = nil
	d.appInfo = nil
	d.ready = false
	d.mu.Unlock()

	logger.Infof("Socket to app interface closed: %v", err)
	d.publish()
}

func (d *Direct) publish() {
	d.obs.publish(d.Snapshot)
}
