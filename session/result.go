package session

import (
	"encoding/json"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/protocol"
)

func resultOf(err error) protocol.Result {
	if err == nil {
		return protocol.Okey
	}

	switch apperror.KindOf(err) {
	case apperror.BadCommand:
		return protocol.BadCommand
	case apperror.ResourceNotFound:
		return protocol.ResourceNotFound
	case apperror.AccessDenied:
		return protocol.AccessDenied
	case apperror.InappropriateGameState:
		return protocol.InappropriateGameState
	case apperror.Timeout:
		return protocol.Timeout
	default:
		return protocol.InternalServerError
	}
}

func errorPayload(err error) []byte {
	raw, _ := json.Marshal(map[string]string{"error": apperror.Message(err)})
	return raw
}
