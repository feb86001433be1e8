// Package protocol defines the wire format shared by the rail server and its
// clients: fixed-width little-endian headers followed by a JSON payload.
package protocol

import "fmt"

const (
	// ActionHeaderSize is the width in bytes of the action (or result) field.
	ActionHeaderSize = 4
	// LengthHeaderSize is the width in bytes of the payload length field.
	LengthHeaderSize = 4
	// HeaderSize is the combined width of both header fields.
	HeaderSize = ActionHeaderSize + LengthHeaderSize
)

// Action is a client request code.
type Action uint32

const (
	Move    Action = 1
	Upgrade Action = 2
	Player  Action = 3
	Turn    Action = 4

	Login  Action = 101
	Logout Action = 102
	Games  Action = 107
	Map    Action = 110

	ObserverLogin Action = 200
	Game          Action = 201
)

var actionNames = map[Action]string{
	Move:          "MOVE",
	Upgrade:       "UPGRADE",
	Player:        "PLAYER",
	Turn:          "TURN",
	Login:         "LOGIN",
	Logout:        "LOGOUT",
	Games:         "GAMES",
	Map:           "MAP",
	ObserverLogin: "OBSERVER_LOGIN",
	Game:          "GAME",
}

// String returns the protocol name of the action, or its numeric code when
// the action is unknown.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}

	return fmt.Sprintf("ACTION(%d)", uint32(a))
}

// Result is a server response code. It occupies the action field of
// response frames.
type Result uint32

const (
	Okey                   Result = 0
	BadCommand             Result = 1
	ResourceNotFound       Result = 2
	AccessDenied           Result = 3
	InappropriateGameState Result = 4
	Timeout                Result = 5
	InternalServerError    Result = 500
)

func (r Result) String() string {
	switch r {
	case Okey:
		return "OKEY"
	case BadCommand:
		return "BAD_COMMAND"
	case ResourceNotFound:
		return "RESOURCE_NOT_FOUND"
	case AccessDenied:
		return "ACCESS_DENIED"
	case InappropriateGameState:
		return "INAPPROPRIATE_GAME_STATE"
	case Timeout:
		return "TIMEOUT"
	case InternalServerError:
		return "INTERNAL_SERVER_ERROR"
	default:
		return fmt.Sprintf("RESULT(%d)", uint32(r))
	}
}
