// Package connection holds the connection containers: long-lived owners of
// one underlying client handle (a conductor app websocket or a hosted
// gateway client) that expose readiness and app metadata as observable
// state and guard every zome call behind that state.
package connection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mattyg/ui-common-library/pkg/types"
)

// Timeout bounds connection establishment and every zome call.
const Timeout = 35 * time.Second

var (
	// ErrConnection reports a failure to establish the underlying client.
	ErrConnection = errors.New("connection error")
	// ErrAppInfoLoad reports a failure to fetch the app descriptor.
	ErrAppInfoLoad = errors.New("app info load failed")
	// ErrNotReady is returned when a call is attempted before the container
	// holds a descriptor and a handle.
	ErrNotReady = errors.New("connection not ready")
	// ErrInvalidCallTarget is returned when a call names neither or both of
	// a role and a cell, or names a role the app does not have.
	ErrInvalidCallTarget = errors.New("invalid call target")
)

// Snapshot is the observable state of a container.
type Snapshot struct {
	Ready       bool
	Connected   bool
	AppInfo     *types.AppInfo
	AgentPubKey types.AgentPubKey
	Err         error

	// Hosted only.
	Agent        types.AgentState
	HappID       string
	AuthFormOpen bool
}

// Container is the surface shared by both container variants. H is the raw
// client handle returned from Initialize.
type Container[H any] interface {
	Initialize(ctx context.Context) (H, error)
	LoadAppInfo(ctx context.Context) (*types.AppInfo, error)
	CallZome(ctx context.Context, req types.CallZomeRequest) (any, error)
	Snapshot() Snapshot
	Subscribe(fn func(Snapshot)) (cancel func())
}

var (
	_ Container[AppClient]    = (*Direct)(nil)
	_ Container[HostedClient] = (*Hosted)(nil)
)

// observers fans snapshots out to subscribers. Callers serialize publish so
// subscribers see snapshots in order; subscribers must not call back into a
// container method that publishes.
type observers struct {
	publishMu sync.Mutex

	mu   sync.Mutex
	next int
	fns  map[int]func(Snapshot)
}

func (o *observers) subscribe(fn func(Snapshot)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[int]func(Snapshot))
	}
	id := o.next
	o.next++
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fns, id)
			o.mu.Unlock()
		})
	}
}

// publish takes a snapshot and delivers it to every subscriber.
func (o *observers) publish(snapshot func() Snapshot) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	s := snapshot()

	o.mu.Lock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	fns := make([]func(Snapshot), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// buildEnvelope validates the call target against info and produces the
// envelope handed to the transport. Exactly one of role name and cell id
// must be set.
func buildEnvelope(info *types.AppInfo, req types.CallZomeRequest, provenance types.AgentPubKey) (*types.ZomeCallEnvelope, error) {
	hasRole := req.RoleName != ""
	hasCell := req.CellID != nil && !req.CellID.IsZero()

	switch {
	case hasRole && hasCell:
		return nil, fmt.Errorf("%w: specify either a role name or a cell id, not both", ErrInvalidCallTarget)
	case !hasRole && !hasCell:
		return nil, fmt.Errorf("%w: a role name or a cell id is required", ErrInvalidCallTarget)
	}

	env := &types.ZomeCallEnvelope{
		ZomeName:   req.ZomeName,
		FnName:     req.FnName,
		Payload:    req.Payload,
		CapSecret:  nil,
		Provenance: provenance,
	}

	if hasCell {
		id := *req.CellID
		env.CellID = &id
		return env, nil
	}

	if len(info.CellInfo) == 0 {
		return nil, fmt.Errorf("%w: no cells found in app info", ErrInvalidCallTarget)
	}
	if _, ok := info.CellInfo[req.RoleName]; !ok {
		return nil, fmt.Errorf("%w: couldn't find cell with role name %q", ErrInvalidCallTarget, req.RoleName)
	}
	env.RoleName = req.RoleName
	return env, nil
}
