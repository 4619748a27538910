package conductor

import (
	"fmt"

	"github.com/mattyg/ui-common-library/pkg/types"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame types on the app interface.
const (
	frameRequest  = "request"
	frameResponse = "response"
	frameSignal   = "signal"
)

// Request and response type tags.
const (
	reqAppInfo     = "app_info"
	reqCallZome    = "call_zome"
	respAppInfo    = "app_info"
	respZomeCalled = "zome_called"
	respError      = "error"
)

// frame is the outer msgpack envelope of every websocket message.
type frame struct {
	ID   uint64 `msgpack:"id"`
	Type string `msgpack:"type"`
	Data []byte `msgpack:"data"`
}

// request is the inner body of a request frame.
type request struct {
	Type string `msgpack:"type"`
	Data any    `msgpack:"data,omitempty"`
}

// response is the inner body of a response frame.
type response struct {
	Type string             `msgpack:"type"`
	Data msgpack.RawMessage `msgpack:"data"`
}

type appInfoArgs struct {
	InstalledAppID string `msgpack:"installed_app_id"`
}

// zomeCall is the call_zome request body.
type zomeCall struct {
	CellID     types.CellID      `msgpack:"cell_id"`
	ZomeName   string            `msgpack:"zome_name"`
	FnName     string            `msgpack:"fn_name"`
	Payload    []byte            `msgpack:"payload"`
	CapSecret  []byte            `msgpack:"cap_secret"`
	Provenance types.AgentPubKey `msgpack:"provenance"`
	Nonce      []byte            `msgpack:"nonce"`
	ExpiresAt  int64             `msgpack:"expires_at"`
	Signature  []byte            `msgpack:"signature,omitempty"`
}

// wireSignal is the body of a signal frame.
type wireSignal struct {
	App *struct {
		CellID   types.CellID `msgpack:"cell_id"`
		ZomeName string       `msgpack:"zome_name"`
		Signal   []byte       `msgpack:"signal"`
	} `msgpack:"App,omitempty"`
	System any `msgpack:"System,omitempty"`
}

// errorBody is the data of an error response.
type errorBody struct {
	Type string `msgpack:"type"`
	Data any    `msgpack:"data"`
}

// Error is a failure reported by the conductor for a request.
type Error struct {
	Type    string
	Message string
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("conductor %s: %s", e.Type, e.Message)
}

func decodeError(raw msgpack.RawMessage) error {
	var body errorBody
	if err := msgpack.Unmarshal(raw, &body); err != nil {
		return &Error{Type: "unknown", Message: fmt.Sprintf("undecodable error: %v", err)}
	}
	return &Error{Type: body.Type, Message: fmt.Sprint(body.Data)}
}
