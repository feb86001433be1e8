package role

import (
	"context"
	"encoding/json"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/game"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/protocol"
	"github.com/cyberinferno/railserver/replay"
)

// Observer is the role of a session that logged in with OBSERVER_LOGIN.
// Observers never change the game and nothing they send is recorded.
type Observer struct {
	base
	observer *game.Observer
}

var observerActions = actionTable[*Observer]{
	protocol.ObserverLogin: {
		handler: (*Observer).onLogin,
		keys:    []string{"name"},
	},
	protocol.Logout: {
		handler: (*Observer).onLogout,
		login:   true,
	},
	protocol.Map: {
		handler: (*Observer).onMap,
		keys:    []string{"layer"},
		login:   true,
	},
	protocol.Games: {
		handler: (*Observer).onGames,
	},
	protocol.Game: {
		handler: (*Observer).onGame,
		keys:    []string{"idx"},
		login:   true,
	},
}

// NewObserver creates an observer role that is not logged in yet.
func NewObserver(deps Deps) *Observer {
	return &Observer{base: base{
		deps:   deps,
		logger: deps.Logger.With(logger.F("role", "observer")),
	}}
}

// Kind returns "observer".
func (r *Observer) Kind() string {
	return "observer"
}

// Dispatch runs one observer action.
func (r *Observer) Dispatch(ctx context.Context, action protocol.Action, payload map[string]any) ([]byte, error) {
	return dispatch(ctx, observerActions, r, &r.base, nil, action, payload)
}

// Persist always reports false; observers never change a game.
func (r *Observer) Persist(protocol.Action) bool {
	return false
}

// Actor returns the logged-in observer's idx.
func (r *Observer) Actor() string {
	if o := r.currentObserver(); o != nil {
		return o.Idx
	}

	return ""
}

// Detach removes the observer from its game.
func (r *Observer) Detach() {
	g, o := r.Game(), r.currentObserver()
	if g == nil || o == nil {
		return
	}

	if r.markClosed() {
		g.RemoveObserver(o)
	}
}

func (r *Observer) currentObserver() *game.Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observer
}

func (r *Observer) onLogin(ctx context.Context, payload map[string]any) ([]byte, error) {
	if r.LoggedIn() {
		return nil, apperror.NewBadCommand("You are already logged in")
	}

	name, err := optString(payload, "name", "")
	if err != nil {
		return nil, err
	}

	opts, err := gameOptions(payload, name)
	if err != nil {
		return nil, err
	}

	g, err := r.deps.Lobby.Game(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := g.CheckState(game.Init, game.Run); err != nil {
		return nil, err
	}

	observer := game.NewObserver(name)
	if err := g.AddObserver(observer); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.observer = observer
	r.mu.Unlock()
	r.attach(g)
	r.logger = r.logger.With(logger.F("game", g.Name()), logger.F("observer", name))
	r.logger.Info("observer logged in")

	return json.Marshal(struct {
		Idx  string `json:"idx"`
		Name string `json:"name"`
		Game string `json:"game"`
	}{observer.Idx, observer.Name, g.Name()})
}

func (r *Observer) onLogout(_ context.Context, _ map[string]any) ([]byte, error) {
	r.Detach()
	r.logger.Info("observer logged out")
	return nil, nil
}

func (r *Observer) onMap(_ context.Context, payload map[string]any) ([]byte, error) {
	layer, err := intKey(payload, "layer")
	if err != nil {
		return nil, err
	}

	return r.Game().MapLayer(nil, layer)
}

func (r *Observer) onGames(_ context.Context, _ map[string]any) ([]byte, error) {
	return listGames(r.deps.Lobby)
}

// onGame returns the recorded actions of a game from the replay log.
func (r *Observer) onGame(ctx context.Context, payload map[string]any) ([]byte, error) {
	idx, err := intKey(payload, "idx")
	if err != nil {
		return nil, err
	}

	if r.deps.Replay == nil {
		return nil, apperror.NewResourceNotFound("Replay log is not available")
	}

	actions, err := r.deps.Replay.ListActions(ctx, int64(idx))
	if err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		Idx     int                  `json:"idx"`
		Actions []replay.ActionEntry `json:"actions"`
	}{idx, actions})
}
