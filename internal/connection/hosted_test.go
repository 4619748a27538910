package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattyg/ui-common-library/internal/hosted"
	"github.com/mattyg/ui-common-library/internal/hosted/mockhosted"
	"github.com/mattyg/ui-common-library/internal/loading"
	"github.com/mattyg/ui-common-library/pkg/types"
)

var signedIn = types.AgentState{ID: "zAgent", IsAvailable: true}

func newTestHosted(t *testing.T) (*Hosted, *mockhosted.Client, *loading.Tracker) {
	t.Helper()
	m := mockhosted.New("happ-1")
	tracker := loading.New()
	h := NewHosted(HostedConfig{
		Args:      hosted.ConnectionArgs{HappID: "happ-1"},
		Connector: MockConnector(m),
		Tracker:   tracker,
	})
	return h, m, tracker
}

func eventuallyReady(t *testing.T, h *Hosted, want bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Snapshot().Ready == want
	}, time.Second, 5*time.Millisecond)
}

func TestHostedReadyRequiresSignInAndAppInfo(t *testing.T) {
	t.Parallel()

	h, m, _ := newTestHosted(t)
	m.SetAppInfo(appInfoWithRoles("A"), nil)

	handle, err := h.Initialize(context.Background())
	require.NoError(t, err)
	require.Same(t, m, handle)
	require.Equal(t, "happ-1", h.HappID())

	// Anonymous agent: descriptor arrives but readiness stays false.
	require.Eventually(t, func() bool { return h.Snapshot().AppInfo != nil }, time.Second, 5*time.Millisecond)
	require.False(t, h.Snapshot().Ready)
	require.False(t, h.IsLoggedIn())

	m.SetAgentState(signedIn)
	eventuallyReady(t, h, true)
	require.True(t, h.IsLoggedIn())
	require.Equal(t, "zAgent", h.AgentID())

	m.SetAgentState(types.AgentState{IsAnonymous: true, IsAvailable: true})
	eventuallyReady(t, h, false)
}

func TestHostedNotReadyWithoutAppInfo(t *testing.T) {
	t.Parallel()

	h, m, _ := newTestHosted(t)
	m.SetAppInfo(nil, errors.New("gateway down"))

	_, err := h.Initialize(context.Background())
	require.NoError(t, err)
	m.SetAgentState(signedIn)

	require.Eventually(t, func() bool { return m.AppInfoCalls() >= 2 }, time.Second, 5*time.Millisecond)
	require.False(t, h.Snapshot().Ready)

	_, err = h.LoadAppInfo(context.Background())
	require.ErrorIs(t, err, ErrAppInfoLoad)

	_, err = h.CallZome(context.Background(), types.CallZomeRequest{RoleName: "A"})
	require.ErrorIs(t, err, ErrNotReady)
	require.Empty(t, m.Calls())
}

func TestHostedCallBeforeSignInNeverReachesTransport(t *testing.T) {
	t.Parallel()

	h, m, _ := newTestHosted(t)
	m.SetAppInfo(appInfoWithRoles("A"), nil)
	_, err := h.Initialize(context.Background())
	require.NoError(t, err)

	_, err = h.LoadAppInfo(context.Background())
	require.NoError(t, err)

	_, err = h.CallZome(context.Background(), types.CallZomeRequest{RoleName: "A", ZomeName: "z", FnName: "f"})
	require.ErrorIs(t, err, ErrNotReady)
	require.Empty(t, m.Calls())
}

func TestHostedCallValidation(t *testing.T) {
	t.Parallel()

	h, m, tracker := newTestHosted(t)
	m.SetAppInfo(appInfoWithRoles("A", "B"), nil)
	m.SetCallHandler(func(env *types.ZomeCallEnvelope) (any, error) {
		return env.Path(), nil
	})
	_, err := h.Initialize(context.Background())
	require.NoError(t, err)
	m.SetAgentState(signedIn)
	eventuallyReady(t, h, true)

	_, err = h.CallZome(context.Background(), types.CallZomeRequest{RoleName: "C", ZomeName: "z", FnName: "f"})
	require.ErrorIs(t, err, ErrInvalidCallTarget)

	cell := types.NewCellID(types.DnaHash("dna-A"), agentKey)
	_, err = h.CallZome(context.Background(), types.CallZomeRequest{RoleName: "A", CellID: &cell})
	require.ErrorIs(t, err, ErrInvalidCallTarget)
	require.Empty(t, m.Calls())

	out, err := h.CallZome(context.Background(), types.CallZomeRequest{RoleName: "A", ZomeName: "z", FnName: "f"})
	require.NoError(t, err)
	require.Equal(t, "z.f", out)
	require.False(t, tracker.IsLoading())

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, types.RoleName("A"), calls[0].RoleName)
	assert.Equal(t, agentKey, calls[0].Provenance)
}

func TestHostedTransportErrorReleasesTracker(t *testing.T) {
	t.Parallel()

	callErr := errors.New("remote failure")
	h, m, tracker := newTestHosted(t)
	m.SetAppInfo(appInfoWithRoles("A"), nil)
	m.SetCallHandler(func(*types.ZomeCallEnvelope) (any, error) { return nil, callErr })
	_, err := h.Initialize(context.Background())
	require.NoError(t, err)
	m.SetAgentState(signedIn)
	eventuallyReady(t, h, true)

	_, err = h.CallZome(context.Background(), types.CallZomeRequest{RoleName: "A", ZomeName: "z", FnName: "f"})
	require.Same(t, callErr, err)
	require.False(t, tracker.IsCallLoading("z", "f"))
}

func TestHostedAuthFormFlag(t *testing.T) {
	t.Parallel()

	h, m, _ := newTestHosted(t)
	m.SetAppInfo(appInfoWithRoles("A"), nil)
	_, err := h.Initialize(context.Background())
	require.NoError(t, err)
	require.False(t, h.Snapshot().AuthFormOpen)

	require.NoError(t, h.SignIn(context.Background()))
	require.True(t, h.Snapshot().AuthFormOpen)
	require.Equal(t, []hosted.SignInOptions{{Cancellable: false}}, m.SignIns())

	// Signing in does not close the form.
	m.SetAgentState(signedIn)
	eventuallyReady(t, h, true)
	require.True(t, h.Snapshot().AuthFormOpen)

	h.CloseAuthForm()
	require.False(t, h.Snapshot().AuthFormOpen)

	require.NoError(t, h.SignUp(context.Background()))
	require.True(t, h.Snapshot().AuthFormOpen)
	require.Len(t, m.SignUps(), 1)

	require.NoError(t, h.SignOut(context.Background()))
	require.Equal(t, 1, m.SignOuts())
}

func TestHostedSessionToken(t *testing.T) {
	t.Parallel()

	m := mockhosted.New("happ-1")
	h := NewHosted(HostedConfig{
		Args:      hosted.ConnectionArgs{HappID: "happ-1", Token: "saved"},
		Connector: MockConnector(m),
	})
	require.Empty(t, h.SessionToken())

	_, err := h.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"saved"}, m.Resumed())
	require.Equal(t, "saved", h.SessionToken())

	require.NoError(t, h.SignIn(context.Background()))
	require.NotEqual(t, "saved", h.SessionToken())
	require.NotEmpty(t, h.SessionToken())

	require.NoError(t, h.SignOut(context.Background()))
	require.Empty(t, h.SessionToken())

	require.NoError(t, h.Close())
	require.Empty(t, h.SessionToken())
}

func TestHostedAuthBeforeInitialize(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHosted(t)
	require.ErrorIs(t, h.SignIn(context.Background()), ErrNotReady)
	require.ErrorIs(t, h.SignOut(context.Background()), ErrNotReady)
	require.False(t, h.Snapshot().AuthFormOpen)
}

func TestHostedUnrecoverableErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	h, m, _ := newTestHosted(t)
	m.SetAppInfo(appInfoWithRoles("A"), nil)
	_, err := h.Initialize(context.Background())
	require.NoError(t, err)

	require.NotPanics(t, func() {
		m.SetAgentState(types.AgentState{UnrecoverableError: "host lost"})
	})
	require.EqualError(t, h.Error(), "host lost")
	require.False(t, h.IsLoggedIn())

	m.SetAgentState(signedIn)
	require.NoError(t, h.Error())
	eventuallyReady(t, h, true)
}

func TestHostedConnectFailure(t *testing.T) {
	t.Parallel()

	connErr := errors.New("gateway unreachable")
	h := NewHosted(HostedConfig{
		Connector: func(context.Context, hosted.ConnectionArgs) (HostedClient, error) {
			return nil, connErr
		},
	})

	_, err := h.Initialize(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	require.ErrorIs(t, h.Error(), connErr)
	require.False(t, h.Snapshot().Ready)
}

func TestHostedReinitializeDropsOldClient(t *testing.T) {
	t.Parallel()

	first := mockhosted.New("happ-1")
	first.SetAppInfo(appInfoWithRoles("A"), nil)
	first.SetAgentState(signedIn)
	second := mockhosted.New("happ-2")
	second.SetAppInfo(nil, errors.New("gateway down"))
	second.SetAgentState(signedIn)

	clients := []*mockhosted.Client{first, second}
	h := NewHosted(HostedConfig{
		Connector: func(context.Context, hosted.ConnectionArgs) (HostedClient, error) {
			c := clients[0]
			clients = clients[1:]
			return c, nil
		},
	})

	_, err := h.Initialize(context.Background())
	require.NoError(t, err)
	eventuallyReady(t, h, true)

	_, err = h.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, first.Closed())
	require.Equal(t, "happ-2", h.HappID())

	// The second gateway never supplies a descriptor, so the first one's
	// must not make it ready.
	require.Eventually(t, func() bool { return second.AppInfoCalls() >= 1 }, time.Second, 5*time.Millisecond)
	s := h.Snapshot()
	require.False(t, s.Ready)
	require.Nil(t, s.AppInfo)

	_, err = h.CallZome(context.Background(), types.CallZomeRequest{RoleName: "A", ZomeName: "z", FnName: "f"})
	require.ErrorIs(t, err, ErrNotReady)
	require.Empty(t, second.Calls())

	// Events from the replaced client are ignored.
	first.SetAgentState(types.AgentState{IsAnonymous: true, IsAvailable: true})
	require.True(t, h.IsLoggedIn())

	second.SetAppInfo(appInfoWithRoles("B"), nil)
	second.SetAgentState(signedIn)
	eventuallyReady(t, h, true)
	require.Equal(t, []types.RoleName{"B"}, h.Snapshot().AppInfo.RoleNames())
}

func TestHostedCloseDropsAppInfo(t *testing.T) {
	t.Parallel()

	h, m, _ := newTestHosted(t)
	m.SetAppInfo(appInfoWithRoles("A"), nil)
	m.SetAgentState(signedIn)
	_, err := h.Initialize(context.Background())
	require.NoError(t, err)
	eventuallyReady(t, h, true)

	require.NoError(t, h.Close())
	s := h.Snapshot()
	require.False(t, s.Ready)
	require.False(t, s.Connected)
	require.Nil(t, s.AppInfo)
	require.True(t, m.Closed())
}
