package hosted

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattyg/ui-common-library/pkg/types"
)

func TestHandleAgentStateDecodesAndNotifies(t *testing.T) {
	t.Parallel()

	c := &Client{}
	var got []types.AgentState
	c.OnAgentState(func(s types.AgentState) { got = append(got, s) })

	c.handleAgentState(map[string]interface{}{
		"id":          "zAgent",
		"isAnonymous": false,
		"isAvailable": true,
		"hostUrl":     "https://host.example",
	})

	require.Len(t, got, 1)
	assert.Equal(t, "zAgent", got[0].ID)
	assert.True(t, got[0].IsLoggedIn())
	assert.Equal(t, got[0], c.Agent())
}

func TestHandleAgentStateDropsUndecodable(t *testing.T) {
	t.Parallel()

	c := &Client{}
	called := false
	c.OnAgentState(func(types.AgentState) { called = true })

	c.handleAgentState(map[string]interface{}{"isAvailable": "yes"})

	require.False(t, called)
	require.Equal(t, types.AgentState{}, c.Agent())
}

func TestHandleSignalDecodes(t *testing.T) {
	t.Parallel()

	c := &Client{}
	var got types.RawSignal
	c.OnSignal(func(s types.RawSignal) { got = s })

	c.handleSignal(map[string]interface{}{
		"type": "app",
		"data": map[string]interface{}{
			"cellId":   []interface{}{"ZG5h", "YWdlbnQ="},
			"zomeName": "chat",
			"payload":  "hello",
		},
	})

	require.Equal(t, "app", got.Type)
	require.Equal(t, types.DnaHash("dna"), got.Data.CellID.DnaHash())
	require.Equal(t, types.AgentPubKey("agent"), got.Data.CellID.AgentPubKey())
	require.Equal(t, "chat", got.Data.ZomeName)
	require.Equal(t, "hello", got.Data.Payload)
}

func TestEmitWithoutSocket(t *testing.T) {
	t.Parallel()

	c := &Client{}
	_, err := c.AppInfo(t.Context())
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, c.SignOut(t.Context()), ErrNotConnected)
	require.NoError(t, c.Close())
}

func TestRemoteErrorMessage(t *testing.T) {
	t.Parallel()

	err := &RemoteError{Op: EventCallZome, Message: "boom"}
	require.Equal(t, "hosted call-zome: boom", err.Error())
}

func TestTokenIsClearedBySignOutOnly(t *testing.T) {
	t.Parallel()

	c := &Client{token: "t"}
	require.Equal(t, "t", c.Token())

	// A failed sign-out keeps the session.
	require.ErrorIs(t, c.SignOut(t.Context()), ErrNotConnected)
	require.Equal(t, "t", c.Token())
}
