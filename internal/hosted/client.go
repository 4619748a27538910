// Package hosted implements the hosted gateway client used by the hosted
// connection container.
//
// The gateway speaks Socket.IO. Requests are emitted with an acknowledgement
// callback; the gateway pushes agent-state and signal events unsolicited.
package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattyg/ui-common-library/pkg/logger"
	"github.com/mattyg/ui-common-library/pkg/types"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	sio "github.com/zishang520/socket.io/v3/pkg/types"
)

// EventType is a Socket.IO event name used by the gateway.
type EventType string

const (
	EventAgentState EventType = "agent-state"
	EventSignal     EventType = "signal"
	EventAppInfo    EventType = "app-info"
	EventCallZome   EventType = "call-zome"
	EventSignIn     EventType = "sign-in"
	EventSignUp     EventType = "sign-up"
	EventSignOut    EventType = "sign-out"
)

// socketPath is the Socket.IO path served by the gateway.
const socketPath = "/v1/hosted"

// ErrNotConnected is returned when emitting on a closed client.
var ErrNotConnected = errors.New("hosted client not connected")

// RemoteError is a failure reported by the gateway in an ack.
type RemoteError struct {
	Op      EventType
	Message string
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("hosted %s: %s", e.Op, e.Message)
}

// ConnectionArgs configures a connection to the gateway.
type ConnectionArgs struct {
	// URL is the gateway base URL.
	URL string
	// HappID identifies the hosted application.
	HappID string
	// Token resumes a previous session when set.
	Token string
	// Debug enables per-event logging.
	Debug bool
}

// SignInOptions is forwarded with sign-in and sign-up requests.
type SignInOptions struct {
	Cancellable bool `json:"cancellable"`
}

// Client is a Socket.IO connection to the hosted gateway.
type Client struct {
	args   ConnectionArgs
	socket *socket.Socket

	mu             sync.RWMutex
	agent          types.AgentState
	token          string
	connected      bool
	agentHandlers  []func(types.AgentState)
	signalHandlers []func(types.RawSignal)
	closeOnce      sync.Once
}

// Connect opens the gateway socket and waits up to timeout for the
// connection to be established.
func Connect(ctx context.Context, args ConnectionArgs, timeout time.Duration) (*Client, error) {
	c := &Client{args: args}
	if args.Token != "" {
		if _, err := ParseSessionToken(args.Token); err != nil {
			logger.Warnf("Ignoring unparsable hosted session token: %v", err)
		} else {
			c.token = args.Token
		}
	}

	if args.Debug {
		logger.Debugf("Connecting to hosted gateway: %s (path: %s)", args.URL, socketPath)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(socketPath)
	opts.SetTransports(sio.NewSet(socket.Polling, socket.WebSocket))

	auth := map[string]interface{}{"happId": args.HappID}
	if c.token != "" {
		auth["token"] = c.token
	}
	opts.SetAuth(auth)

	sock, err := socket.Connect(args.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	c.socket = sock

	sock.On(sio.EventName("connect"), func(...any) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		if args.Debug {
			logger.Debugf("Hosted gateway connected! ID: %s", sock.Id())
		}
	})
	sock.On(sio.EventName("disconnect"), func(args ...any) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		reason := ""
		if len(args) > 0 {
			reason, _ = args[0].(string)
		}
		logger.Infof("Hosted gateway disconnected: %s", reason)
	})
	sock.On(sio.EventName("connect_error"), func(args ...any) {
		if len(args) > 0 {
			logger.Warnf("Hosted gateway connection error: %v", args[0])
		}
	})
	sock.On(sio.EventName(EventAgentState), func(args ...any) {
		c.handleAgentState(firstArg(args))
	})
	sock.On(sio.EventName(EventSignal), func(args ...any) {
		c.handleSignal(firstArg(args))
	})

	if !c.waitForConnect(ctx, timeout) {
		sock.Disconnect()
		return nil, fmt.Errorf("connect timeout after %s", timeout)
	}
	return c, nil
}

// OnAgentState registers a handler for agent-state events.
func (c *Client) OnAgentState(fn func(types.AgentState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentHandlers = append(c.agentHandlers, fn)
}

// OnSignal registers a handler for signal events.
func (c *Client) OnSignal(fn func(types.RawSignal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signalHandlers = append(c.signalHandlers, fn)
}

// Agent returns the last agent-state snapshot.
func (c *Client) Agent() types.AgentState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agent
}

// HappID returns the hosted application id.
func (c *Client) HappID() string {
	return c.args.HappID
}

// Token returns the current session token, or "" when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// IsConnected returns whether the socket is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()

	if connected {
		return true
	}
	return sock != nil && sock.Connected()
}

// AppInfo requests the descriptor of the hosted application.
func (c *Client) AppInfo(ctx context.Context) (*types.AppInfo, error) {
	var resp struct {
		AppInfo *types.AppInfo `json:"appInfo"`
	}
	if err := c.emitWithAck(ctx, EventAppInfo, map[string]interface{}{}, defaultAckTimeout, &resp); err != nil {
		return nil, err
	}
	if resp.AppInfo == nil {
		return nil, &RemoteError{Op: EventAppInfo, Message: "empty app info"}
	}
	return resp.AppInfo, nil
}

// CallZome forwards env to the gateway.
func (c *Client) CallZome(ctx context.Context, env *types.ZomeCallEnvelope, timeout time.Duration) (any, error) {
	var resp struct {
		Result any `json:"result"`
	}
	if err := c.emitWithAck(ctx, EventCallZome, env, timeout, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// SignIn asks the gateway to authenticate the agent.
func (c *Client) SignIn(ctx context.Context, opts SignInOptions) error {
	return c.authenticate(ctx, EventSignIn, opts)
}

// SignUp asks the gateway to register the agent.
func (c *Client) SignUp(ctx context.Context, opts SignInOptions) error {
	return c.authenticate(ctx, EventSignUp, opts)
}

// SignOut ends the current session.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.emitWithAck(ctx, EventSignOut, map[string]interface{}{}, defaultAckTimeout, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

// Close disconnects the socket.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		sock := c.socket
		c.socket = nil
		c.connected = false
		c.mu.Unlock()

		// The disconnect handler takes c.mu.
		if sock != nil {
			sock.Disconnect()
		}
	})
	return nil
}

// defaultAckTimeout bounds requests that carry no caller timeout.
const defaultAckTimeout = 35 * time.Second

func (c *Client) authenticate(ctx context.Context, op EventType, opts SignInOptions) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.emitWithAck(ctx, op, opts, defaultAckTimeout, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return nil
	}

	if _, err := ParseSessionToken(resp.Token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) waitForConnect(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return c.IsConnected()
}

// emitWithAck emits event and decodes the ack payload into out. An ack
// carrying an "error" field is returned as a *RemoteError.
func (c *Client) emitWithAck(ctx context.Context, event EventType, data any, timeout time.Duration, out any) error {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()

	if sock == nil {
		return ErrNotConnected
	}

	if c.args.Debug {
		logger.Debugf("Sending hosted event with ack: %s", event)
	}

	ackCh := make(chan any, 1)
	errCh := make(chan error, 1)
	sock.Emit(string(event), data, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		ackCh <- firstArg(args)
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var payload any
	select {
	case payload = <-ackCh:
	case err := <-errCh:
		return fmt.Errorf("%s: %w", event, err)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", event, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%s: ack timeout", event)
	}

	var ack struct {
		Error string `json:"error"`
	}
	if err := decode(payload, &ack); err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}
	if ack.Error != "" {
		return &RemoteError{Op: event, Message: ack.Error}
	}
	if out == nil {
		return nil
	}
	if err := decode(payload, out); err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}
	return nil
}

func (c *Client) handleAgentState(data any) {
	var state types.AgentState
	if err := decode(data, &state); err != nil {
		logger.Warnf("Dropping undecodable agent state: %v", err)
		return
	}

	c.mu.Lock()
	c.agent = state
	handlers := append([]func(types.AgentState){}, c.agentHandlers...)
	c.mu.Unlock()

	if c.args.Debug {
		logger.Debugf("Received agent state: %+v", state)
	}
	for _, fn := range handlers {
		fn(state)
	}
}

func (c *Client) handleSignal(data any) {
	var sig types.RawSignal
	if err := decode(data, &sig); err != nil {
		logger.Warnf("Dropping undecodable hosted signal: %v", err)
		return
	}

	c.mu.RLock()
	handlers := append([]func(types.RawSignal){}, c.signalHandlers...)
	c.mu.RUnlock()

	for _, fn := range handlers {
		fn(sig)
	}
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

// decode converts a Socket.IO payload (maps, slices, scalars) into out by
// way of its JSON encoding.
func decode(src any, out any) error {
	if src == nil {
		return nil
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
