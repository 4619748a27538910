// Package signal turns transport signals into the canonical shape consumed
// by signal handlers.
//
// Only the current transport shape {data: {cellId: [dna, agent], payload}} is
// accepted. The earlier {cell: {cell_id, role_id: "unknown"}, data} shape is
// deprecated and not decoded here.
package signal

import (
	"bytes"

	"github.com/mattyg/ui-common-library/pkg/logger"
	"github.com/mattyg/ui-common-library/pkg/types"
)

// Signal is the canonical signal shape.
type Signal struct {
	DnaHash types.DnaHash     `json:"dna_hash"`
	Agent   types.AgentPubKey `json:"agent"`
	Data    any               `json:"data"`
}

// Normalize maps a transport signal to a Signal. The input is never modified
// and the returned hashes do not alias it.
func Normalize(raw types.RawSignal) Signal {
	cell := raw.Data.CellID
	return Signal{
		DnaHash: types.DnaHash(bytes.Clone(cell[0])),
		Agent:   types.AgentPubKey(bytes.Clone(cell[1])),
		Data:    raw.Data.Payload,
	}
}

// Handler consumes normalized signals.
type Handler interface {
	HandleSignal(Signal)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Signal)

// HandleSignal calls f(sig).
func (f HandlerFunc) HandleSignal(sig Signal) { f(sig) }

// Forward returns a transport callback that normalizes every signal before
// handing it to h. A nil h yields a callback that only logs.
func Forward(h Handler) func(types.RawSignal) {
	if h == nil {
		h = LogHandler{}
	}
	return func(raw types.RawSignal) {
		h.HandleSignal(Normalize(raw))
	}
}

// LogHandler logs every signal at debug level.
type LogHandler struct{}

// HandleSignal implements Handler.
func (LogHandler) HandleSignal(sig Signal) {
	logger.Debugf("signal from %s/%s: %v", sig.DnaHash, sig.Agent, sig.Data)
}
