package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestAgentPubKeyStringParses(t *testing.T) {
	t.Parallel()

	key := AgentPubKey{0x84, 0x20, 0x24, 1, 2, 3, 4, 5}
	id := key.String()
	require.Equal(t, "z", id[:1])

	parsed, err := ParseAgentPubKey(id)
	require.NoError(t, err)
	require.True(t, key.Equal(parsed))

	require.Equal(t, "", AgentPubKey(nil).String())

	_, err = ParseAgentPubKey("u123")
	require.Error(t, err)
}

func TestCellIDEncodesAsPair(t *testing.T) {
	t.Parallel()

	id := NewCellID(DnaHash("dna"), AgentPubKey("agent"))
	require.Equal(t, DnaHash("dna"), id.DnaHash())
	require.Equal(t, AgentPubKey("agent"), id.AgentPubKey())
	require.False(t, id.IsZero())
	require.True(t, CellID{}.IsZero())

	raw, err := msgpack.Marshal(id)
	require.NoError(t, err)
	var decoded [][]byte
	require.NoError(t, msgpack.Unmarshal(raw, &decoded))
	require.Equal(t, [][]byte{[]byte("dna"), []byte("agent")}, decoded)

	js, err := json.Marshal(id)
	require.NoError(t, err)
	require.Equal(t, `["ZG5h","YWdlbnQ="]`, string(js))
}

func TestAppInfoRoleLookup(t *testing.T) {
	t.Parallel()

	cellA := NewCellID(DnaHash("dna-a"), AgentPubKey("me"))
	cellB := NewCellID(DnaHash("dna-b"), AgentPubKey("me"))
	info := &AppInfo{
		InstalledAppID: "app",
		CellInfo: map[RoleName][]CellInfo{
			"b": {{Stem: &StemCell{OriginalDnaHash: DnaHash("x")}}, {Cloned: &ClonedCell{CellID: cellB}}},
			"a": {{Provisioned: &ProvisionedCell{CellID: cellA, Name: "a"}}},
			"c": {{Stem: &StemCell{}}},
		},
	}

	assert.Equal(t, []RoleName{"a", "b", "c"}, info.RoleNames())

	got, ok := info.CellIDForRole("a")
	require.True(t, ok)
	assert.Equal(t, cellA, got)

	got, ok = info.CellIDForRole("b")
	require.True(t, ok)
	assert.Equal(t, cellB, got)

	_, ok = info.CellIDForRole("c")
	assert.False(t, ok)
	_, ok = info.CellIDForRole("missing")
	assert.False(t, ok)
}

func TestAppInfoCloneIsIndependent(t *testing.T) {
	t.Parallel()

	info := &AppInfo{
		AgentPubKey: AgentPubKey{1, 2},
		CellInfo: map[RoleName][]CellInfo{
			"a": {{Stem: &StemCell{}}},
		},
	}
	clone := info.Clone()
	clone.AgentPubKey[0] = 9
	clone.CellInfo["b"] = nil
	clone.CellInfo["a"][0] = CellInfo{}

	assert.Equal(t, AgentPubKey{1, 2}, info.AgentPubKey)
	assert.Len(t, info.CellInfo, 1)
	assert.NotNil(t, info.CellInfo["a"][0].Stem)
	assert.Nil(t, (*AppInfo)(nil).Clone())
}

func TestAgentStateIsLoggedIn(t *testing.T) {
	t.Parallel()

	assert.False(t, AgentState{}.IsLoggedIn())
	assert.False(t, AgentState{IsAvailable: true, IsAnonymous: true}.IsLoggedIn())
	assert.True(t, AgentState{IsAvailable: true}.IsLoggedIn())
}
