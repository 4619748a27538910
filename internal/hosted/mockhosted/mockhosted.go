// Package mockhosted provides a scripted stand-in for the hosted gateway
// client. It never emits events on its own; tests drive it through
// SetAgentState and EmitSignal.
package mockhosted

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mattyg/ui-common-library/internal/hosted"
	"github.com/mattyg/ui-common-library/pkg/types"
)

// ErrClosed is returned by requests made after Close.
var ErrClosed = errors.New("mock hosted client closed")

var tokenKey = []byte("mockhosted")

// Client records requests and replays scripted responses.
type Client struct {
	mu sync.Mutex

	happID     string
	agent      types.AgentState
	appInfo    *types.AppInfo
	appInfoErr error
	callFn     func(*types.ZomeCallEnvelope) (any, error)
	closed     bool
	token      string
	tokenTTL   time.Duration
	resumed    []string

	calls        []types.ZomeCallEnvelope
	appInfoCalls int
	signIns      []hosted.SignInOptions
	signUps      []hosted.SignInOptions
	signOuts     int

	agentHandlers  []func(types.AgentState)
	signalHandlers []func(types.RawSignal)
}

// New returns a mock for happID with an anonymous, available agent.
func New(happID string) *Client {
	return &Client{
		happID:   happID,
		agent:    types.AgentState{IsAnonymous: true, IsAvailable: true},
		tokenTTL: time.Hour,
	}
}

// SetAppInfo scripts the AppInfo response.
func (c *Client) SetAppInfo(info *types.AppInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appInfo = info
	c.appInfoErr = err
}

// SetCallHandler scripts CallZome responses.
func (c *Client) SetCallHandler(fn func(*types.ZomeCallEnvelope) (any, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callFn = fn
}

// SetTokenTTL sets the lifetime of tokens minted by SignIn and SignUp.
func (c *Client) SetTokenTTL(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenTTL = d
}

// Resume adopts token as the current session, the way the gateway does for
// a token passed in the connection handshake. An empty token is ignored.
func (c *Client) Resume(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.resumed = append(c.resumed, token)
}

// SetAgentState stores s and delivers it to agent-state handlers.
func (c *Client) SetAgentState(s types.AgentState) {
	c.mu.Lock()
	c.agent = s
	handlers := append([]func(types.AgentState){}, c.agentHandlers...)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}

// EmitSignal delivers sig to signal handlers.
func (c *Client) EmitSignal(sig types.RawSignal) {
	c.mu.Lock()
	handlers := append([]func(types.RawSignal){}, c.signalHandlers...)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(sig)
	}
}

func (c *Client) OnAgentState(fn func(types.AgentState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentHandlers = append(c.agentHandlers, fn)
}

func (c *Client) OnSignal(fn func(types.RawSignal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signalHandlers = append(c.signalHandlers, fn)
}

func (c *Client) Agent() types.AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent
}

func (c *Client) HappID() string {
	return c.happID
}

func (c *Client) AppInfo(context.Context) (*types.AppInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appInfoCalls++
	if c.closed {
		return nil, ErrClosed
	}
	if c.appInfoErr != nil {
		return nil, c.appInfoErr
	}
	if c.appInfo == nil {
		return nil, errors.New("mock app info not set")
	}
	return c.appInfo.Clone(), nil
}

func (c *Client) CallZome(_ context.Context, env *types.ZomeCallEnvelope, _ time.Duration) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.calls = append(c.calls, *env)
	fn := c.callFn
	c.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(env)
}

func (c *Client) SignIn(_ context.Context, opts hosted.SignInOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signIns = append(c.signIns, opts)
	return c.mintLocked()
}

func (c *Client) SignUp(_ context.Context, opts hosted.SignInOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signUps = append(c.signUps, opts)
	return c.mintLocked()
}

func (c *Client) SignOut(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signOuts++
	c.token = ""
	return nil
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) mintLocked() error {
	now := time.Now()
	claims := hosted.SessionClaims{
		AgentID: c.agent.ID,
		HappID:  c.happID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokenKey)
	if err != nil {
		return err
	}
	c.token = token
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Calls returns the envelopes received so far.
func (c *Client) Calls() []types.ZomeCallEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ZomeCallEnvelope(nil), c.calls...)
}

// AppInfoCalls returns how many times AppInfo was requested.
func (c *Client) AppInfoCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appInfoCalls
}

// SignIns returns the options of every sign-in request.
func (c *Client) SignIns() []hosted.SignInOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hosted.SignInOptions(nil), c.signIns...)
}

// SignUps returns the options of every sign-up request.
func (c *Client) SignUps() []hosted.SignInOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hosted.SignInOptions(nil), c.signUps...)
}

// SignOuts returns the number of sign-out requests.
func (c *Client) SignOuts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signOuts
}

// Resumed returns every token passed to Resume.
func (c *Client) Resumed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.resumed...)
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
