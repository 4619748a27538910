// Package cli implements the happclient subcommands on top of the sdk
// client and the connection containers.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattyg/ui-common-library/internal/conductor"
	"github.com/mattyg/ui-common-library/internal/config"
	"github.com/mattyg/ui-common-library/internal/connection"
	"github.com/mattyg/ui-common-library/internal/hosted"
	"github.com/mattyg/ui-common-library/internal/loading"
	"github.com/mattyg/ui-common-library/internal/signal"
	"github.com/mattyg/ui-common-library/internal/storage"
	"github.com/mattyg/ui-common-library/pkg/logger"
	"github.com/mattyg/ui-common-library/pkg/types"
	"github.com/mattyg/ui-common-library/sdk"
)

// ErrHostedOnly is returned by auth commands on the direct transport.
var ErrHostedOnly = errors.New("command requires the hosted transport")

// sessionRefreshWindow is how close to expiry a saved session token may be
// and still be resumed.
const sessionRefreshWindow = time.Minute

// App is the composition root shared by every subcommand.
type App struct {
	cfg      *config.Config
	out      io.Writer
	tracker  *loading.Tracker
	registry *prometheus.Registry

	metricsMu  sync.Mutex
	metricsSrv *http.Server
}

// NewApp wires the loading tracker and its metrics registry.
func NewApp(cfg *config.Config, out io.Writer) *App {
	if out == nil {
		out = os.Stdout
	}
	registry := prometheus.NewRegistry()
	return &App{
		cfg:      cfg,
		out:      out,
		tracker:  loading.New(loading.WithMetrics(registry)),
		registry: registry,
	}
}

// session is the transport-independent view of an sdk client used by the
// subcommands.
type session interface {
	Initialize(ctx context.Context) error
	LoadAppInfo(ctx context.Context) (*types.AppInfo, error)
	CallZome(ctx context.Context, req types.CallZomeRequest) (any, error)
	AppInfo() *types.AppInfo
	AgentID() string
	IsReady() bool
	SetListener(sdk.Listener)
	Close()
}

type facade[H any] struct {
	*sdk.Client[H]
	closeContainer func() error
}

func (f facade[H]) Initialize(ctx context.Context) error {
	_, err := f.Client.Initialize(ctx)
	return err
}

func (f facade[H]) Close() {
	f.Client.Close()
	if err := f.closeContainer(); err != nil {
		logger.Warnf("Failed to close connection: %v", err)
	}
}

// Open builds the container selected by the configured transport and wraps
// it in an sdk client. signals receives app signals; nil logs them.
func (a *App) Open(signals signal.Handler) (session, *connection.Hosted, error) {
	switch a.cfg.Transport {
	case config.TransportDirect:
		seed, err := storage.GetOrCreateSigningSeed(a.cfg.SigningKey)
		if err != nil {
			return nil, nil, err
		}
		signer, err := conductor.NewSigner(seed)
		if err != nil {
			return nil, nil, err
		}

		direct := connection.NewDirect(connection.DirectConfig{
			InstalledAppID: a.cfg.AppID,
			URL:            a.cfg.AppWSURL,
			Dialer:         connection.ConductorDialer(conductor.WithSigner(signer)),
			Tracker:        a.tracker,
			Signals:        signals,
		})
		client := sdk.New[connection.AppClient](direct, a.clientOptions()...)
		return facade[connection.AppClient]{Client: client, closeContainer: direct.Close}, nil, nil

	case config.TransportHosted:
		connector := connection.GatewayConnector()
		if a.cfg.HostedMock {
			m, err := a.newMockGateway()
			if err != nil {
				return nil, nil, err
			}
			connector = connection.MockConnector(m)
		}

		h := connection.NewHosted(connection.HostedConfig{
			Args: hosted.ConnectionArgs{
				URL:    a.cfg.HostedURL,
				HappID: a.cfg.HappID,
				Token:  a.loadSessionToken(),
				Debug:  a.cfg.Debug,
			},
			Connector: connector,
			Tracker:   a.tracker,
			Signals:   signals,
		})
		client := sdk.New[connection.HostedClient](h, a.clientOptions()...)
		return facade[connection.HostedClient]{Client: client, closeContainer: h.Close}, h, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", a.cfg.Transport)
	}
}

// loadSessionToken returns the saved hosted session token. A token that
// cannot be parsed or expires within sessionRefreshWindow is deleted.
func (a *App) loadSessionToken() string {
	token, err := storage.LoadSessionToken(a.cfg.SessionFile)
	if err != nil {
		logger.Warnf("Failed to load session token: %v", err)
		return ""
	}
	if token == "" {
		return ""
	}

	claims, err := hosted.ParseSessionToken(token)
	switch {
	case err != nil:
		logger.Warnf("Dropping saved session token: %v", err)
	case claims.ExpiringWithin(sessionRefreshWindow, time.Now()):
		logger.Infof("Saved session token has expired")
	default:
		return token
	}

	if err := storage.DeleteSessionToken(a.cfg.SessionFile); err != nil {
		logger.Warnf("%v", err)
	}
	return ""
}

// saveSessionToken persists the current session of h, or removes the saved
// token when h has none.
func (a *App) saveSessionToken(h *connection.Hosted) error {
	if token := h.SessionToken(); token != "" {
		return storage.SaveSessionToken(a.cfg.SessionFile, token)
	}
	return storage.DeleteSessionToken(a.cfg.SessionFile)
}

func (a *App) clientOptions() []sdk.Option {
	return []sdk.Option{
		sdk.WithTracker(a.tracker),
		sdk.WithSetup(a.setup),
	}
}

// setup runs once per client, before the first connection attempt.
func (a *App) setup(context.Context) error {
	logger.Debugf("Config: Transport=%s, AppID=%s, Home=%s", a.cfg.Transport, a.cfg.AppID, a.cfg.Home)
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	return a.serveMetrics(a.cfg.MetricsAddr)
}

func (a *App) serveMetrics(addr string) error {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()
	if a.metricsSrv != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.metricsSrv = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	logger.Infof("Serving metrics on %s/metrics", addr)
	return nil
}

// Shutdown stops the metrics server if it was started.
func (a *App) Shutdown(ctx context.Context) error {
	a.metricsMu.Lock()
	srv := a.metricsSrv
	a.metricsSrv = nil
	a.metricsMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// readyWaiter is a Listener that signals the first time the client becomes
// ready.
type readyWaiter struct {
	once  sync.Once
	ready chan struct{}
}

func newReadyWaiter() *readyWaiter {
	return &readyWaiter{ready: make(chan struct{})}
}

func (w *readyWaiter) OnReadyChanged(ready bool) {
	if ready {
		w.once.Do(func() { close(w.ready) })
	}
}

func (w *readyWaiter) OnAgentKey(key types.AgentPubKey) {
	logger.Debugf("Agent key: %s", key)
}

func (w *readyWaiter) OnError(message string) {
	logger.Warnf("%s", message)
}

// connect initializes s and waits until it is ready.
func connect(ctx context.Context, s session) error {
	w := newReadyWaiter()
	s.SetListener(w)

	if err := s.Initialize(ctx); err != nil {
		return err
	}
	if s.IsReady() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connection.Timeout)
	defer cancel()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", connection.ErrNotReady, ctx.Err())
	}
}
