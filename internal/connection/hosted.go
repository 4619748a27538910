package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattyg/ui-common-library/internal/hosted"
	"github.com/mattyg/ui-common-library/internal/hosted/mockhosted"
	"github.com/mattyg/ui-common-library/internal/loading"
	"github.com/mattyg/ui-common-library/internal/signal"
	"github.com/mattyg/ui-common-library/pkg/logger"
	"github.com/mattyg/ui-common-library/pkg/types"
)

// HostedClient is the hosted gateway client owned by Hosted.
type HostedClient interface {
	AppInfo(ctx context.Context) (*types.AppInfo, error)
	CallZome(ctx context.Context, env *types.ZomeCallEnvelope, timeout time.Duration) (any, error)
	OnAgentState(fn func(types.AgentState))
	OnSignal(fn func(types.RawSignal))
	Agent() types.AgentState
	HappID() string
	SignIn(ctx context.Context, opts hosted.SignInOptions) error
	SignUp(ctx context.Context, opts hosted.SignInOptions) error
	SignOut(ctx context.Context) error
	Token() string
	Close() error
}

// HostedConnector opens a HostedClient.
type HostedConnector func(ctx context.Context, args hosted.ConnectionArgs) (HostedClient, error)

// GatewayConnector connects to a real hosted gateway.
func GatewayConnector() HostedConnector {
	return func(ctx context.Context, args hosted.ConnectionArgs) (HostedClient, error) {
		c, err := hosted.Connect(ctx, args, Timeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// MockConnector always hands out m, resuming args.Token on it.
func MockConnector(m *mockhosted.Client) HostedConnector {
	return func(_ context.Context, args hosted.ConnectionArgs) (HostedClient, error) {
		m.Resume(args.Token)
		return m, nil
	}
}

// HostedConfig configures a Hosted container.
type HostedConfig struct {
	Args      hosted.ConnectionArgs
	Connector HostedConnector
	Tracker   *loading.Tracker
	Signals   signal.Handler
}

// Hosted owns a hosted gateway client. It is ready once the agent is signed
// in and the app descriptor has been fetched.
type Hosted struct {
	cfg HostedConfig
	obs observers

	mu           sync.Mutex
	client       HostedClient
	agent        types.AgentState
	happID       string
	appInfo      *types.AppInfo
	ready        bool
	connErr      error
	authFormOpen bool
}

// NewHosted returns an uninitialized Hosted container.
func NewHosted(cfg HostedConfig) *Hosted {
	if cfg.Connector == nil {
		cfg.Connector = GatewayConnector()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = loading.New()
	}
	return &Hosted{cfg: cfg}
}

// Initialize connects to the gateway and subscribes to its events. The
// agent-state handler runs once synchronously with the current agent.
func (h *Hosted) Initialize(ctx context.Context) (HostedClient, error) {
	h.mu.Lock()
	prev := h.client
	h.client = nil
	h.appInfo = nil
	h.ready = false
	h.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			logger.Warnf("Failed to close previous hosted client: %v", err)
		}
		h.publish()
	}

	client, err := h.cfg.Connector(ctx, h.cfg.Args)
	if err != nil {
		logger.Errorf("Failed to connect to hosted gateway %s: %v", h.cfg.Args.URL, err)
		h.mu.Lock()
		h.connErr = err
		h.mu.Unlock()
		h.publish()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	h.mu.Lock()
	h.client = client
	h.happID = client.HappID()
	h.connErr = nil
	h.mu.Unlock()

	client.OnAgentState(func(s types.AgentState) { h.handleAgentState(client, s) })
	client.OnSignal(signal.Forward(h.cfg.Signals))
	h.handleAgentState(client, client.Agent())

	return client, nil
}

// LoadAppInfo fetches the descriptor and recomputes readiness.
func (h *Hosted) LoadAppInfo(ctx context.Context) (*types.AppInfo, error) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("%w: not connected", ErrAppInfoLoad)
	}

	info, err := client.AppInfo(ctx)
	if err != nil {
		logger.Errorf("hosted appInfo() returned error: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrAppInfoLoad, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: gateway returned no app info", ErrAppInfoLoad)
	}
	if !h.storeAppInfo(client, info) {
		return nil, fmt.Errorf("%w: connection replaced during load", ErrAppInfoLoad)
	}
	return info.Clone(), nil
}

// CallZome validates req and dispatches it through the gateway.
func (h *Hosted) CallZome(ctx context.Context, req types.CallZomeRequest) (any, error) {
	h.mu.Lock()
	client, info, ready := h.client, h.appInfo, h.ready
	h.mu.Unlock()

	if client == nil || info == nil {
		return nil, fmt.Errorf("%w: tried to make a zome call before storing app info", ErrNotReady)
	}
	if !ready {
		return nil, fmt.Errorf("%w: agent is not signed in", ErrNotReady)
	}

	env, err := buildEnvelope(info, req, info.AgentPubKey)
	if err != nil {
		return nil, err
	}

	defer h.cfg.Tracker.Track(req.ZomeName, req.FnName)()

	out, err := client.CallZome(ctx, env, Timeout)
	if err != nil {
		logger.Errorf("callZome(%s) returned error: %v", env.Path(), err)
		return nil, err
	}
	return out, nil
}

// SignIn opens the auth form and asks the gateway to sign the agent in.
func (h *Hosted) SignIn(ctx context.Context) error {
	return h.authenticate(ctx, "signIn", HostedClient.SignIn)
}

// SignUp opens the auth form and asks the gateway to register the agent.
func (h *Hosted) SignUp(ctx context.Context) error {
	return h.authenticate(ctx, "signUp", HostedClient.SignUp)
}

// SignOut ends the agent's session.
func (h *Hosted) SignOut(ctx context.Context) error {
	client, err := h.current()
	if err != nil {
		return err
	}
	if err := client.SignOut(ctx); err != nil {
		logger.Errorf("signOut returned error: %v", err)
		return err
	}
	return nil
}

// CloseAuthForm clears the auth form flag. The container never clears it
// on its own.
func (h *Hosted) CloseAuthForm() {
	h.mu.Lock()
	h.authFormOpen = false
	h.mu.Unlock()
	h.publish()
}

// IsLoggedIn reports whether the agent is available and not anonymous.
func (h *Hosted) IsLoggedIn() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agent.IsLoggedIn()
}

// Error returns why the agent is unavailable, or nil.
func (h *Hosted) Error() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errorLocked()
}

// AgentID returns the id from the last agent state.
func (h *Hosted) AgentID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agent.ID
}

// SessionToken returns the session token of the owned client, or "" when
// there is no client or no session.
func (h *Hosted) SessionToken() string {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()

	if client == nil {
		return ""
	}
	return client.Token()
}

// HappID returns the hosted application id.
func (h *Hosted) HappID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.happID
}

// Snapshot returns the current state.
func (h *Hosted) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Snapshot{
		Ready:        h.ready,
		Connected:    h.client != nil,
		Err:          h.errorLocked(),
		Agent:        h.agent,
		HappID:       h.happID,
		AuthFormOpen: h.authFormOpen,
	}
	if h.appInfo != nil {
		s.AppInfo = h.appInfo.Clone()
		s.AgentPubKey = s.AppInfo.AgentPubKey
	}
	return s
}

// Subscribe registers fn for every state change.
func (h *Hosted) Subscribe(fn func(Snapshot)) func() {
	return h.obs.subscribe(fn)
}

// Close closes the owned client, if any.
func (h *Hosted) Close() error {
	h.mu.Lock()
	client := h.client
	h.client = nil
	h.appInfo = nil
	h.ready = false
	h.mu.Unlock()

	if client == nil {
		return nil
	}
	defer h.publish()
	return client.Close()
}

func (h *Hosted) authenticate(ctx context.Context, op string, fn func(HostedClient, context.Context, hosted.SignInOptions) error) error {
	client, err := h.current()
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.authFormOpen = true
	h.mu.Unlock()
	h.publish()

	if err := fn(client, ctx, hosted.SignInOptions{Cancellable: false}); err != nil {
		logger.Errorf("%s returned error: %v", op, err)
		return err
	}
	return nil
}

func (h *Hosted) current() (HostedClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil {
		return nil, fmt.Errorf("%w: hosted client not initialized", ErrNotReady)
	}
	return h.client, nil
}

func (h *Hosted) handleAgentState(client HostedClient, s types.AgentState) {
	if s.UnrecoverableError != "" {
		logger.Errorf("Hosted agent reported an unrecoverable error: %s", s.UnrecoverableError)
	}

	h.mu.Lock()
	if h.client != client {
		h.mu.Unlock()
		return
	}
	h.agent = s
	h.ready = s.IsLoggedIn() && h.appInfo != nil
	h.mu.Unlock()
	h.publish()

	go h.refreshAppInfo(client)
}

func (h *Hosted) refreshAppInfo(client HostedClient) {
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	info, err := client.AppInfo(ctx)
	if err != nil {
		logger.Warnf("Failed to refresh hosted app info: %v", err)
		return
	}
	if info == nil {
		return
	}
	h.storeAppInfo(client, info)
}

// storeAppInfo records info if client is still the owned handle.
func (h *Hosted) storeAppInfo(client HostedClient, info *types.AppInfo) bool {
	h.mu.Lock()
	if h.client != client {
		h.mu.Unlock()
		return false
	}
	h.appInfo = info
	h.ready = h.agent.IsLoggedIn() && info != nil
	h.mu.Unlock()

	h.publish()
	return true
}

func (h *Hosted) errorLocked() error {
	if h.agent.IsAvailable {
		return nil
	}
	if h.connErr != nil {
		return h.connErr
	}
	if h.agent.UnrecoverableError != "" {
		return errors.New(h.agent.UnrecoverableError)
	}
	return nil
}

func (h *Hosted) publish() {
	h.obs.publish(h.Snapshot)
}
