// Package role implements the per-session behaviour selected by the first
// login message: which actions a session may send, what each action needs
// before it runs, and what it does.
package role

import (
	"context"
	"sync"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/game"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/protocol"
	"github.com/cyberinferno/railserver/replay"
)

// Game is the part of a game a role talks to.
type Game interface {
	Name() string
	ReplayID() int64
	State() game.State
	CheckState(states ...game.State) error
	AddPlayer(p *game.Player) error
	RemovePlayer(p *game.Player)
	AddObserver(o *game.Observer) error
	RemoveObserver(o *game.Observer)
	PlayerInfo(p *game.Player) ([]byte, error)
	MapLayer(actor *game.Player, layer int) ([]byte, error)
	MoveTrain(p *game.Player, trainIdx, speed, lineIdx int) error
	Turn(ctx context.Context, p *game.Player) error
	MakeUpgrade(p *game.Player, postsIdx, trainsIdx []int) error
	ObserverMessage() ([]byte, error)
	TickStarted() <-chan struct{}
}

// Lobby finds games and players for logins.
type Lobby interface {
	Game(ctx context.Context, opts game.Options) (Game, error)
	Player(name, password string) (*game.Player, error)
	ActiveGames() []game.Attributes
}

// ReplayReader serves recorded actions to observers.
type ReplayReader interface {
	ListActions(ctx context.Context, gameID int64) ([]replay.ActionEntry, error)
}

// Deps are shared by every role the table creates.
type Deps struct {
	Lobby  Lobby
	Replay ReplayReader
	Logger logger.Logger
}

// Role is the behaviour attached to a session.
type Role interface {
	// Kind names the role for logs: "player" or "observer".
	Kind() string

	// Dispatch runs the handler for action.
	//
	// Returns:
	//   - The response payload, nil when the action has none
	//   - An apperror classifying the failure
	Dispatch(ctx context.Context, action protocol.Action, payload map[string]any) ([]byte, error)

	// LoggedIn reports whether a login succeeded on this role.
	LoggedIn() bool

	// Game returns the attached game, nil before login.
	Game() Game

	// Actor is the idx of the attached player or observer.
	Actor() string

	// CloseConnection reports whether the session should close after the
	// current response, which is the case after a logout.
	CloseConnection() bool

	// Persist reports whether a successful action must be written to the
	// replay log.
	Persist(action protocol.Action) bool

	// Detach removes the role's participant from its game. Safe to call
	// more than once.
	Detach()
}

// Factory creates a fresh role.
type Factory func() Role

// Table maps login actions to the roles they create.
type Table struct {
	factories map[protocol.Action]Factory
}

// NewTable builds the login table with a Player and an Observer factory.
func NewTable(deps Deps) *Table {
	return &Table{factories: map[protocol.Action]Factory{
		protocol.Login:         func() Role { return NewPlayer(deps) },
		protocol.ObserverLogin: func() Role { return NewObserver(deps) },
	}}
}

// Resolve returns the factory for a login action.
//
// Returns:
//   - A ResourceNotFound error naming action when it is not a login action
func (t *Table) Resolve(action protocol.Action) (Factory, error) {
	f, ok := t.factories[action]
	if !ok {
		return nil, apperror.NewResourceNotFound("No such action for this session: %s, login required", action)
	}

	return f, nil
}

// actionSpec declares what an action needs before its handler runs.
type actionSpec[R any] struct {
	handler func(r R, ctx context.Context, payload map[string]any) ([]byte, error)

	// keys must all be present, or at least one when anyKey is set.
	keys   []string
	anyKey bool

	login bool
	// states, when set, requires an attached game in one of them.
	states []game.State
	// locked runs the handler under the participant's own lock.
	locked bool
	// persist marks the action for the replay log.
	persist bool
}

type actionTable[R any] map[protocol.Action]actionSpec[R]

// base holds the state shared by both roles.
type base struct {
	mu        sync.Mutex
	deps      Deps
	game      Game
	closeConn bool
	detached  bool
	logger    logger.Logger
}

func (b *base) Game() Game {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.game
}

func (b *base) LoggedIn() bool {
	return b.Game() != nil
}

func (b *base) CloseConnection() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeConn
}

func (b *base) attach(g Game) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.game = g
	b.closeConn = false
}

// markClosed flags the connection for closing and reports whether the
// participant still has to be removed from the game.
func (b *base) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeConn = true
	first := !b.detached
	b.detached = true
	return first
}

func dispatch[R any](ctx context.Context, table actionTable[R], r R, b *base, lock sync.Locker, action protocol.Action, payload map[string]any) ([]byte, error) {
	def, ok := table[action]
	if !ok {
		return nil, apperror.NewBadCommand("No such action: %s", action)
	}

	if def.login && !b.LoggedIn() {
		return nil, apperror.NewAccessDenied("Login required")
	}

	if err := checkKeys(payload, def.keys, def.anyKey); err != nil {
		return nil, err
	}

	if def.states != nil {
		g := b.Game()
		if g == nil {
			return nil, apperror.NewInappropriateGameState("No game attached")
		}

		if err := g.CheckState(def.states...); err != nil {
			return nil, err
		}
	}

	if def.locked && lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}

	return def.handler(r, ctx, payload)
}

func persisted[R any](table actionTable[R], action protocol.Action) bool {
	def, ok := table[action]
	return ok && def.persist
}
