package realtime

import (
	"encoding/json"
	"fmt"
)

// Frame is the single message shape exchanged over the hub socket.
//
//	client -> server: {"type":"invoke","id":"...","target":"JoinGame","args":[...]}
//	server -> client: {"type":"result","id":"...","error":""}
//	server -> client: {"type":"event","target":"GameUpdated","args":[...]}
type Frame struct {
	Type   string            `json:"type"` // "invoke" | "result" | "event"
	ID     string            `json:"id,omitempty"`
	Target string            `json:"target,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
	Error  string            `json:"error,omitempty"`
}

const (
	FrameInvoke = "invoke"
	FrameResult = "result"
	FrameEvent  = "event"
)

// Hub operation names, matching what the server registers.
const (
	OpJoinLobby  = "JoinLobby"
	OpLeaveLobby = "LeaveLobby"
	OpJoinGame   = "JoinGame"
	OpLeaveGame  = "LeaveGame"
)

// Hub event names pushed by the server.
const (
	EvLobbyUpdated = "LobbyUpdated"
	EvGameUpdated  = "GameUpdated"
	EvPlayerLeft   = "PlayerLeft"
)

func invokeFrame(id, target string, args ...any) (Frame, error) {
	f := Frame{Type: FrameInvoke, ID: id, Target: target}
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return Frame{}, fmt.Errorf("realtime: encode %s arg: %w", target, err)
		}
		f.Args = append(f.Args, raw)
	}
	return f, nil
}

// RemoteError carries a hub-side failure verbatim; the message is shown to
// the player as-is.
type RemoteError struct {
	Target  string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }
