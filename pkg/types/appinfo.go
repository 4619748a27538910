package types

import (
	"maps"
	"slices"
	"sort"
)

// AppInfo describes an installed application and its role to cell mapping.
type AppInfo struct {
	InstalledAppID string                  `json:"installed_app_id" msgpack:"installed_app_id"`
	AgentPubKey    AgentPubKey             `json:"agent_pub_key" msgpack:"agent_pub_key"`
	CellInfo       map[RoleName][]CellInfo `json:"cell_info" msgpack:"cell_info"`
	Status         any                     `json:"status,omitempty" msgpack:"status"`
}

// CellInfo is one cell assigned to a role. Exactly one field is set.
type CellInfo struct {
	Provisioned *ProvisionedCell `json:"provisioned,omitempty" msgpack:"provisioned,omitempty"`
	Cloned      *ClonedCell      `json:"cloned,omitempty" msgpack:"cloned,omitempty"`
	Stem        *StemCell        `json:"stem,omitempty" msgpack:"stem,omitempty"`
}

// ProvisionedCell is a cell created at installation.
type ProvisionedCell struct {
	CellID CellID `json:"cell_id" msgpack:"cell_id"`
	Name   string `json:"name" msgpack:"name"`
}

// ClonedCell is a cell cloned at runtime from a provisioned one.
type ClonedCell struct {
	CellID          CellID  `json:"cell_id" msgpack:"cell_id"`
	CloneID         string  `json:"clone_id" msgpack:"clone_id"`
	OriginalDnaHash DnaHash `json:"original_dna_hash" msgpack:"original_dna_hash"`
	Name            string  `json:"name" msgpack:"name"`
	Enabled         bool    `json:"enabled" msgpack:"enabled"`
}

// StemCell is a declared but not yet instantiated cell.
type StemCell struct {
	OriginalDnaHash DnaHash `json:"original_dna_hash" msgpack:"original_dna_hash"`
	Name            string  `json:"name,omitempty" msgpack:"name,omitempty"`
}

// CellID returns the id of a provisioned or cloned cell.
func (c CellInfo) CellID() (CellID, bool) {
	switch {
	case c.Provisioned != nil:
		return c.Provisioned.CellID, true
	case c.Cloned != nil:
		return c.Cloned.CellID, true
	default:
		return CellID{}, false
	}
}

// RoleNames returns the role names in sorted order.
func (a *AppInfo) RoleNames() []RoleName {
	if a == nil {
		return nil
	}
	names := make([]RoleName, 0, len(a.CellInfo))
	for name := range a.CellInfo {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// CellIDForRole returns the first addressable cell for a role.
func (a *AppInfo) CellIDForRole(role RoleName) (CellID, bool) {
	if a == nil {
		return CellID{}, false
	}
	for _, info := range a.CellInfo[role] {
		if id, ok := info.CellID(); ok {
			return id, true
		}
	}
	return CellID{}, false
}

// Clone returns a copy that shares no maps or slices with a.
func (a *AppInfo) Clone() *AppInfo {
	if a == nil {
		return nil
	}
	out := *a
	out.AgentPubKey = slices.Clone(a.AgentPubKey)
	if a.CellInfo != nil {
		out.CellInfo = maps.Clone(a.CellInfo)
		for role, cells := range out.CellInfo {
			out.CellInfo[role] = slices.Clone(cells)
		}
	}
	return &out
}

// CallZomeRequest is what callers pass to CallZome. Exactly one of RoleName
// and CellID must be set.
type CallZomeRequest struct {
	RoleName RoleName
	CellID   *CellID
	ZomeName string
	FnName   string
	Payload  any
}

// ZomeCallEnvelope is the call handed to a transport.
type ZomeCallEnvelope struct {
	RoleName   RoleName    `json:"role_name,omitempty" msgpack:"role_name,omitempty"`
	CellID     *CellID     `json:"cell_id,omitempty" msgpack:"cell_id,omitempty"`
	ZomeName   string      `json:"zome_name" msgpack:"zome_name"`
	FnName     string      `json:"fn_name" msgpack:"fn_name"`
	Payload    any         `json:"payload" msgpack:"payload"`
	CapSecret  []byte      `json:"cap_secret" msgpack:"cap_secret"`
	Provenance AgentPubKey `json:"provenance" msgpack:"provenance"`
}

// Path returns "zome.fn" for logs.
func (e *ZomeCallEnvelope) Path() string {
	return e.ZomeName + "." + e.FnName
}
