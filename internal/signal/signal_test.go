package signal

import (
	"testing"

	"github.com/mattyg/ui-common-library/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLiteral(t *testing.T) {
	t.Parallel()

	raw := types.RawSignal{
		Data: types.AppSignal{
			CellID:  types.NewCellID(types.DnaHash("dnaHash"), types.AgentPubKey("agentKey")),
			Payload: map[string]any{"x": 1},
		},
	}

	got := Normalize(raw)
	require.Equal(t, Signal{
		DnaHash: types.DnaHash("dnaHash"),
		Agent:   types.AgentPubKey("agentKey"),
		Data:    map[string]any{"x": 1},
	}, got)

	// Same input, same output.
	require.Equal(t, got, Normalize(raw))
}

func TestNormalizeDoesNotAliasInput(t *testing.T) {
	t.Parallel()

	raw := types.RawSignal{
		Type: "app",
		Data: types.AppSignal{
			CellID:   types.NewCellID(types.DnaHash("dna"), types.AgentPubKey("agent")),
			ZomeName: "posts",
			Payload:  "hello",
		},
	}
	before := types.NewCellID(types.DnaHash("dna"), types.AgentPubKey("agent"))

	got := Normalize(raw)
	got.DnaHash[0] = 'X'
	got.Agent[0] = 'Y'

	require.Equal(t, before, raw.Data.CellID)
	require.Equal(t, "posts", raw.Data.ZomeName)
}

func TestForwardNormalizes(t *testing.T) {
	t.Parallel()

	var got []Signal
	forward := Forward(HandlerFunc(func(s Signal) { got = append(got, s) }))
	forward(types.RawSignal{Data: types.AppSignal{
		CellID:  types.NewCellID(types.DnaHash("d"), types.AgentPubKey("a")),
		Payload: 42,
	}})

	require.Len(t, got, 1)
	require.Equal(t, types.DnaHash("d"), got[0].DnaHash)
	require.Equal(t, 42, got[0].Data)

	// A nil handler falls back to logging and must not panic.
	Forward(nil)(types.RawSignal{})
}
