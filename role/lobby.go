package role

import (
	"context"

	"github.com/cyberinferno/railserver/game"
)

type registryLobby struct {
	registry *game.Registry
}

// NewLobby exposes a game registry to the roles.
func NewLobby(r *game.Registry) Lobby {
	return registryLobby{registry: r}
}

func (l registryLobby) Game(ctx context.Context, opts game.Options) (Game, error) {
	g, err := l.registry.Get(ctx, opts)
	if err != nil {
		return nil, err
	}

	return g, nil
}

func (l registryLobby) Player(name, password string) (*game.Player, error) {
	return l.registry.Player(name, password)
}

func (l registryLobby) ActiveGames() []game.Attributes {
	return l.registry.ActiveGames()
}
