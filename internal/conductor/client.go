// Package conductor implements the app interface websocket client used by
// the direct connection container.
//
// Every message is a msgpack frame {id, type, data}. Requests and responses
// carry a second msgpack document in data. Signals arrive unsolicited and are
// forwarded to the handler registered with WithSignalHandler.
package conductor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattyg/ui-common-library/pkg/logger"
	"github.com/mattyg/ui-common-library/pkg/types"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrClosed is returned for requests on a closed connection.
var ErrClosed = errors.New("app websocket closed")

// Option configures an AppWebsocket.
type Option func(*AppWebsocket)

// WithSignalHandler registers the callback for app signals.
func WithSignalHandler(fn func(types.RawSignal)) Option {
	return func(c *AppWebsocket) { c.onSignal = fn }
}

// WithSigner signs every zome call with s.
func WithSigner(s *Signer) Option {
	return func(c *AppWebsocket) { c.signer = s }
}

// WithOrigin sets the Origin header sent on the handshake.
func WithOrigin(origin string) Option {
	return func(c *AppWebsocket) { c.origin = origin }
}

type result struct {
	resp response
	err  error
}

// AppWebsocket is a connection to a conductor app interface.
type AppWebsocket struct {
	url    string
	origin string
	conn   *websocket.Conn
	signer *Signer

	onSignal func(types.RawSignal)

	writeMu sync.Mutex

	mu          sync.Mutex
	nextID      uint64
	pending     map[uint64]chan result
	appInfo     *types.AppInfo
	agentPubKey types.AgentPubKey
	onClose     []func(error)
	closeErr    error
	closed      bool

	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials url and starts the read loop. timeout bounds the handshake.
func Connect(ctx context.Context, url string, timeout time.Duration, opts ...Option) (*AppWebsocket, error) {
	c := &AppWebsocket{
		url:     url,
		pending: make(map[uint64]chan result),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn

	logger.Debugf("App websocket connected: %s", url)
	go c.readLoop()

	return c, nil
}

// OnClose registers fn to run once when the connection ends. If the
// connection has already ended fn runs immediately.
func (c *AppWebsocket) OnClose(fn func(error)) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		fn(err)
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// AgentPubKey returns the agent key learned from the last AppInfo response.
func (c *AppWebsocket) AgentPubKey() types.AgentPubKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentPubKey
}

// AppInfo fetches the descriptor of installedAppID.
func (c *AppWebsocket) AppInfo(ctx context.Context, installedAppID string) (*types.AppInfo, error) {
	resp, err := c.request(ctx, request{
		Type: reqAppInfo,
		Data: appInfoArgs{InstalledAppID: installedAppID},
	})
	if err != nil {
		return nil, err
	}
	if resp.Type != respAppInfo {
		return nil, fmt.Errorf("unexpected response type %q for app_info", resp.Type)
	}

	var info *types.AppInfo
	if err := msgpack.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("decode app info: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("app %q is not installed", installedAppID)
	}

	c.mu.Lock()
	c.appInfo = info
	c.agentPubKey = info.AgentPubKey
	c.mu.Unlock()

	return info, nil
}

// CallZome dispatches env and decodes the zome's return value. A role name
// is resolved against the descriptor from the last AppInfo call.
func (c *AppWebsocket) CallZome(ctx context.Context, env *types.ZomeCallEnvelope, timeout time.Duration) (any, error) {
	cellID, err := c.resolveCell(env)
	if err != nil {
		return nil, err
	}

	payload, err := msgpack.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", env.Path(), err)
	}

	call := &zomeCall{
		CellID:     cellID,
		ZomeName:   env.ZomeName,
		FnName:     env.FnName,
		Payload:    payload,
		CapSecret:  env.CapSecret,
		Provenance: env.Provenance,
	}
	if c.signer != nil {
		if err := c.signer.sign(call); err != nil {
			return nil, fmt.Errorf("sign %s: %w", env.Path(), err)
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := c.request(ctx, request{Type: reqCallZome, Data: call})
	if err != nil {
		return nil, err
	}
	if resp.Type != respZomeCalled {
		return nil, fmt.Errorf("unexpected response type %q for call_zome", resp.Type)
	}

	var out []byte
	if err := msgpack.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", env.Path(), err)
	}
	return decodeValue(out)
}

// Close closes the connection. Registered close callbacks run once the read
// loop observes the closure.
func (c *AppWebsocket) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *AppWebsocket) resolveCell(env *types.ZomeCallEnvelope) (types.CellID, error) {
	if env.CellID != nil {
		return *env.CellID, nil
	}

	c.mu.Lock()
	info := c.appInfo
	c.mu.Unlock()

	if info == nil {
		return types.CellID{}, fmt.Errorf("cannot resolve role %q before app info is loaded", env.RoleName)
	}
	id, ok := info.CellIDForRole(env.RoleName)
	if !ok {
		return types.CellID{}, fmt.Errorf("no addressable cell for role %q", env.RoleName)
	}
	return id, nil
}

func (c *AppWebsocket) request(ctx context.Context, req request) (response, error) {
	body, err := msgpack.Marshal(&req)
	if err != nil {
		return response{}, fmt.Errorf("encode %s request: %w", req.Type, err)
	}

	ch := make(chan result, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return response{}, ErrClosed
	}
	id := c.nextID
	c.nextID++
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	raw, err := msgpack.Marshal(&frame{ID: id, Type: frameRequest, Data: body})
	if err != nil {
		return response{}, fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.BinaryMessage, raw)
	c.writeMu.Unlock()
	if err != nil {
		return response{}, fmt.Errorf("write %s request: %w", req.Type, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return response{}, res.err
		}
		if res.resp.Type == respError {
			return response{}, decodeError(res.resp.Data)
		}
		return res.resp, nil
	case <-ctx.Done():
		return response{}, fmt.Errorf("%s request: %w", req.Type, ctx.Err())
	case <-c.done:
		return response{}, ErrClosed
	}
}

func (c *AppWebsocket) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		var f frame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			logger.Warnf("Dropping undecodable frame from %s: %v", c.url, err)
			continue
		}

		switch f.Type {
		case frameResponse:
			c.deliver(f)
		case frameSignal:
			c.handleSignal(f.Data)
		default:
			logger.Tracef("Ignoring frame type %q", f.Type)
		}
	}
}

func (c *AppWebsocket) deliver(f frame) {
	var resp response
	err := msgpack.Unmarshal(f.Data, &resp)
	if err != nil {
		err = fmt.Errorf("decode response %d: %w", f.ID, err)
	}

	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	c.mu.Unlock()
	if !ok {
		logger.Debugf("Response for unknown request id %d", f.ID)
		return
	}
	select {
	case ch <- result{resp: resp, err: err}:
	default:
		logger.Debugf("Duplicate response for request id %d", f.ID)
	}
}

func (c *AppWebsocket) handleSignal(data []byte) {
	if c.onSignal == nil {
		return
	}

	var sig wireSignal
	if err := msgpack.Unmarshal(data, &sig); err != nil {
		logger.Warnf("Dropping undecodable signal: %v", err)
		return
	}
	if sig.App == nil {
		logger.Tracef("Ignoring system signal: %v", sig.System)
		return
	}

	payload, err := decodeValue(sig.App.Signal)
	if err != nil {
		logger.Warnf("Dropping signal with undecodable payload from %s: %v", sig.App.ZomeName, err)
		return
	}

	c.onSignal(types.RawSignal{
		Type: "app",
		Data: types.AppSignal{
			CellID:   sig.App.CellID,
			ZomeName: sig.App.ZomeName,
			Payload:  payload,
		},
	})
}

func (c *AppWebsocket) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	handlers := c.onClose
	c.onClose = nil
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.Close()
	logger.Infof("App websocket to %s closed: %v", c.url, err)

	for _, fn := range handlers {
		fn(err)
	}
}

// decodeValue decodes a msgpack document into plain Go values, widening
// integers to int64/uint64.
func decodeValue(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	return dec.DecodeInterface()
}
