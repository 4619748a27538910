package cli

import (
	"crypto/ed25519"

	"github.com/mattyg/ui-common-library/internal/hosted/mockhosted"
	"github.com/mattyg/ui-common-library/internal/storage"
	"github.com/mattyg/ui-common-library/pkg/types"
)

const mockAppID = "mock-app"

// newMockGateway returns an in-process gateway stand-in with a signed-in
// agent derived from the local signing key. Zome calls echo their input.
func (a *App) newMockGateway() (*mockhosted.Client, error) {
	seed, err := storage.GetOrCreateSigningSeed(a.cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	agent := types.AgentPubKey(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))

	appID := a.cfg.AppID
	if appID == "" {
		appID = mockAppID
	}

	m := mockhosted.New(a.cfg.HappID)
	m.SetAppInfo(&types.AppInfo{
		InstalledAppID: appID,
		AgentPubKey:    agent,
		CellInfo: map[types.RoleName][]types.CellInfo{
			types.RoleName(appID): {{Provisioned: &types.ProvisionedCell{
				CellID: types.NewCellID(types.DnaHash("mock-dna-"+appID), agent),
				Name:   appID,
			}}},
		},
	}, nil)
	m.SetCallHandler(func(env *types.ZomeCallEnvelope) (any, error) {
		return map[string]any{
			"zome":    env.ZomeName,
			"fn":      env.FnName,
			"payload": env.Payload,
		}, nil
	})
	m.SetAgentState(types.AgentState{
		ID:          agent.String(),
		IsAvailable: true,
		HostURL:     "mock",
	})
	return m, nil
}
