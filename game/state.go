package game

import (
	"fmt"
	"strings"

	"github.com/cyberinferno/railserver/apperror"
)

// State is a game's lifecycle stage.
type State int

const (
	Init     State = 1
	Run      State = 2
	Finished State = 3
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Run:
		return "RUN"
	case Finished:
		return "FINISHED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// checkState returns an InappropriateGameState error unless current is one of
// allowed.
func checkState(current State, allowed ...State) error {
	for _, s := range allowed {
		if s == current {
			return nil
		}
	}

	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = s.String()
	}

	return apperror.NewInappropriateGameState(
		"Game state is %s, expected one of: %s", current, strings.Join(names, ", "),
	)
}
