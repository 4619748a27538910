// Package types holds the wire-level data model shared by the transports,
// the connection containers and the client facade.
package types

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// multibaseBase58 is the multibase prefix for base58btc strings.
const multibaseBase58 = "z"

// AgentPubKey is the raw public key bytes of an agent.
type AgentPubKey []byte

// String returns the human-readable agent id, or "" for an empty key.
func (k AgentPubKey) String() string {
	return encodeHash(k)
}

// Equal reports whether two keys hold the same bytes.
func (k AgentPubKey) Equal(other AgentPubKey) bool {
	return bytes.Equal(k, other)
}

// ParseAgentPubKey decodes an agent id produced by AgentPubKey.String.
func ParseAgentPubKey(s string) (AgentPubKey, error) {
	raw, err := decodeHash(s)
	if err != nil {
		return nil, fmt.Errorf("parse agent key: %w", err)
	}
	return AgentPubKey(raw), nil
}

// DnaHash is the raw hash bytes identifying a DNA.
type DnaHash []byte

// String returns the human-readable hash, or "" for an empty hash.
func (h DnaHash) String() string {
	return encodeHash(h)
}

// ParseDnaHash decodes a hash produced by DnaHash.String.
func ParseDnaHash(s string) (DnaHash, error) {
	raw, err := decodeHash(s)
	if err != nil {
		return nil, fmt.Errorf("parse dna hash: %w", err)
	}
	return DnaHash(raw), nil
}

// CellID addresses a cell as the pair (dna hash, agent key). It encodes as a
// two element array on both msgpack and JSON transports.
type CellID [2][]byte

// NewCellID builds a CellID from its parts.
func NewCellID(dna DnaHash, agent AgentPubKey) CellID {
	return CellID{[]byte(dna), []byte(agent)}
}

// DnaHash returns the dna part of the id.
func (c CellID) DnaHash() DnaHash { return DnaHash(c[0]) }

// AgentPubKey returns the agent part of the id.
func (c CellID) AgentPubKey() AgentPubKey { return AgentPubKey(c[1]) }

// IsZero reports whether neither part is set.
func (c CellID) IsZero() bool { return len(c[0]) == 0 && len(c[1]) == 0 }

// String renders the id as "dna:agent".
func (c CellID) String() string {
	return c.DnaHash().String() + ":" + c.AgentPubKey().String()
}

// RoleName is the name a cell was assigned at installation.
type RoleName string

// AgentState is the hosted agent snapshot reported by the hosted gateway.
type AgentState struct {
	ID                 string `json:"id,omitempty"`
	IsAnonymous        bool   `json:"isAnonymous"`
	IsAvailable        bool   `json:"isAvailable"`
	UnrecoverableError string `json:"unrecoverableError,omitempty"`
	HostURL            string `json:"hostUrl,omitempty"`
}

// IsLoggedIn reports whether the agent is authenticated and reachable.
func (s AgentState) IsLoggedIn() bool {
	return !s.IsAnonymous && s.IsAvailable
}

// AppSignal is an unsolicited event emitted by a cell.
type AppSignal struct {
	CellID   CellID `json:"cellId" msgpack:"cell_id"`
	ZomeName string `json:"zomeName" msgpack:"zome_name"`
	Payload  any    `json:"payload" msgpack:"payload"`
}

// RawSignal is the envelope transports hand to signal handlers.
type RawSignal struct {
	Type string    `json:"type"`
	Data AppSignal `json:"data"`
}

func encodeHash(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return multibaseBase58 + base58.Encode(raw)
}

func decodeHash(s string) ([]byte, error) {
	if !strings.HasPrefix(s, multibaseBase58) {
		return nil, fmt.Errorf("missing %q multibase prefix", multibaseBase58)
	}
	raw, err := base58.Decode(strings.TrimPrefix(s, multibaseBase58))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty hash")
	}
	return raw, nil
}
