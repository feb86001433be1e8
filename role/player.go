package role

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/game"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/protocol"
)

// Player is the role of a session that logged in with LOGIN. Its actions
// are written to the replay log.
type Player struct {
	base
	player *game.Player
}

var playerActions = actionTable[*Player]{
	protocol.Login: {
		handler: (*Player).onLogin,
		keys:    []string{"name"},
		persist: true,
	},
	protocol.Logout: {
		handler: (*Player).onLogout,
		login:   true,
		persist: true,
	},
	protocol.Map: {
		handler: (*Player).onMap,
		keys:    []string{"layer"},
		login:   true,
	},
	protocol.Move: {
		handler: (*Player).onMove,
		keys:    []string{"train_idx", "speed", "line_idx"},
		login:   true,
		states:  []game.State{game.Run},
		locked:  true,
		persist: true,
	},
	protocol.Upgrade: {
		handler: (*Player).onUpgrade,
		keys:    []string{"posts", "trains"},
		anyKey:  true,
		login:   true,
		states:  []game.State{game.Run},
		locked:  true,
		persist: true,
	},
	protocol.Turn: {
		handler: (*Player).onTurn,
		login:   true,
		states:  []game.State{game.Run},
		persist: true,
	},
	protocol.Player: {
		handler: (*Player).onPlayer,
		login:   true,
	},
	protocol.Games: {
		handler: (*Player).onGames,
	},
}

// NewPlayer creates a player role that is not logged in yet.
func NewPlayer(deps Deps) *Player {
	return &Player{base: base{
		deps:   deps,
		logger: deps.Logger.With(logger.F("role", "player")),
	}}
}

// Kind returns "player".
func (r *Player) Kind() string {
	return "player"
}

// Dispatch runs one player action. Actions that touch the game run under
// the player's lock.
//
// Returns:
//   - The response payload, or nil when the action has none
//   - A BadCommand error when the action is not a player action
func (r *Player) Dispatch(ctx context.Context, action protocol.Action, payload map[string]any) ([]byte, error) {
	var lock sync.Locker
	if p := r.currentPlayer(); p != nil {
		lock = p
	}

	return dispatch(ctx, playerActions, r, &r.base, lock, action, payload)
}

// Persist reports whether a successful action goes to the replay log.
func (r *Player) Persist(action protocol.Action) bool {
	return persisted(playerActions, action)
}

// Actor returns the logged-in player's idx.
func (r *Player) Actor() string {
	if p := r.currentPlayer(); p != nil {
		return p.Idx
	}

	return ""
}

// Detach removes the player from its game.
func (r *Player) Detach() {
	g, p := r.Game(), r.currentPlayer()
	if g == nil || p == nil {
		return
	}

	if r.markClosed() {
		g.RemovePlayer(p)
	}
}

func (r *Player) currentPlayer() *game.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.player
}

func (r *Player) onLogin(ctx context.Context, payload map[string]any) ([]byte, error) {
	if r.LoggedIn() {
		return nil, apperror.NewBadCommand("You are already logged in")
	}

	name, err := optString(payload, "name", "")
	if err != nil {
		return nil, err
	}

	password, err := optString(payload, "password", "")
	if err != nil {
		return nil, err
	}

	opts, err := gameOptions(payload, name)
	if err != nil {
		return nil, err
	}

	player, err := r.deps.Lobby.Player(name, password)
	if err != nil {
		return nil, err
	}

	if !player.CheckPassword(password) {
		return nil, apperror.NewAccessDenied("Password mismatch")
	}

	g, err := r.deps.Lobby.Game(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := g.CheckState(game.Init, game.Run); err != nil {
		return nil, err
	}

	if err := g.AddPlayer(player); err != nil {
		return nil, err
	}

	info, err := g.PlayerInfo(player)
	if err != nil {
		g.RemovePlayer(player)
		return nil, err
	}

	r.mu.Lock()
	r.player = player
	r.mu.Unlock()
	r.attach(g)
	r.logger = r.logger.With(logger.F("game", g.Name()), logger.F("player", name))
	r.logger.Info("player logged in")

	return info, nil
}

func (r *Player) onLogout(_ context.Context, _ map[string]any) ([]byte, error) {
	r.Detach()
	r.logger.Info("player logged out")
	return nil, nil
}

func (r *Player) onMap(_ context.Context, payload map[string]any) ([]byte, error) {
	layer, err := intKey(payload, "layer")
	if err != nil {
		return nil, err
	}

	return r.Game().MapLayer(r.currentPlayer(), layer)
}

func (r *Player) onMove(_ context.Context, payload map[string]any) ([]byte, error) {
	trainIdx, err := intKey(payload, "train_idx")
	if err != nil {
		return nil, err
	}

	speed, err := intKey(payload, "speed")
	if err != nil {
		return nil, err
	}

	lineIdx, err := intKey(payload, "line_idx")
	if err != nil {
		return nil, err
	}

	return nil, r.Game().MoveTrain(r.currentPlayer(), trainIdx, speed, lineIdx)
}

func (r *Player) onUpgrade(_ context.Context, payload map[string]any) ([]byte, error) {
	posts, err := optInts(payload, "posts")
	if err != nil {
		return nil, err
	}

	trains, err := optInts(payload, "trains")
	if err != nil {
		return nil, err
	}

	return nil, r.Game().MakeUpgrade(r.currentPlayer(), posts, trains)
}

func (r *Player) onTurn(ctx context.Context, _ map[string]any) ([]byte, error) {
	return nil, r.Game().Turn(ctx, r.currentPlayer())
}

func (r *Player) onPlayer(_ context.Context, _ map[string]any) ([]byte, error) {
	return r.Game().PlayerInfo(r.currentPlayer())
}

func (r *Player) onGames(_ context.Context, _ map[string]any) ([]byte, error) {
	return listGames(r.deps.Lobby)
}

// gameOptions reads the optional game keys shared by both logins.
func gameOptions(payload map[string]any, name string) (game.Options, error) {
	gameName, err := optString(payload, "game", "Game of "+name)
	if err != nil {
		return game.Options{}, err
	}

	numPlayers, err := optInt(payload, "num_players", 0)
	if err != nil {
		return game.Options{}, err
	}

	numTurns, err := optInt(payload, "num_turns", 0)
	if err != nil {
		return game.Options{}, err
	}

	numObservers, err := optInt(payload, "num_observers", 0)
	if err != nil {
		return game.Options{}, err
	}

	return game.Options{
		Name:         gameName,
		NumPlayers:   numPlayers,
		NumTurns:     numTurns,
		NumObservers: numObservers,
	}, nil
}

func listGames(lobby Lobby) ([]byte, error) {
	return json.Marshal(struct {
		Games []game.Attributes `json:"games"`
	}{Games: lobby.ActiveGames()})
}
