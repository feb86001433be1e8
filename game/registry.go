package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/safemap"
	"golang.org/x/sync/singleflight"
)

// Recorder registers new games with the replay log.
type Recorder interface {
	CreateGame(ctx context.Context, name, mapName string, numPlayers int) (int64, error)
}

// Settings hold the registry defaults applied to every game it creates.
type Settings struct {
	MapName             string
	TickTime            time.Duration
	TurnTimeout         time.Duration
	TrainsPerPlayer     int
	DefaultNumPlayers   int
	DefaultNumTurns     int
	DefaultNumObservers int
}

// Registry owns the active games and the known players. Games are looked
// up by name; a finished game is replaced by a fresh one on the next Get.
type Registry struct {
	mu       sync.Mutex
	games    map[string]*Game
	creating singleflight.Group
	players  *safemap.SafeMap[string, *Player]
	settings Settings
	world    *WorldMap
	recorder Recorder
	logger   logger.Logger
}

// NewRegistry creates a registry. recorder may be nil, in which case games
// get replay id zero.
//
// Returns:
//   - A ResourceNotFound error when settings name an unknown map
func NewRegistry(settings Settings, recorder Recorder, log logger.Logger) (*Registry, error) {
	world, ok := LookupMap(settings.MapName)
	if !ok {
		return nil, apperror.NewResourceNotFound("Map not found: %s", settings.MapName)
	}

	return &Registry{
		games:    make(map[string]*Game),
		players:  safemap.NewSafeMap[string, *Player](),
		settings: settings,
		world:    world,
		recorder: recorder,
		logger:   log.With(logger.F("component", "registry")),
	}, nil
}

// Get returns the active game called opts.Name, creating it when none
// exists. Counts in opts are only used on creation. Concurrent creations of
// the same name share one game; the replay entry is registered without
// holding the registry lock.
func (r *Registry) Get(ctx context.Context, opts Options) (*Game, error) {
	if g, ok := r.active(opts.Name); ok {
		return g, nil
	}

	v, err, _ := r.creating.Do(opts.Name, func() (any, error) {
		if g, ok := r.active(opts.Name); ok {
			return g, nil
		}

		return r.create(ctx, opts)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Game), nil
}

// active returns the unfinished game called name, dropping a finished one.
func (r *Registry) active(name string) (*Game, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.games[name]
	if !ok {
		return nil, false
	}

	if g.State() == Finished {
		delete(r.games, name)
		return nil, false
	}

	return g, true
}

func (r *Registry) create(ctx context.Context, opts Options) (*Game, error) {
	opts = r.withDefaults(opts)
	if towns := r.world.Towns(); opts.NumPlayers < 1 || opts.NumPlayers > towns {
		return nil, apperror.NewBadCommand("Number of players must be between 1 and %d", towns)
	}

	var replayID int64
	if r.recorder != nil {
		id, err := r.recorder.CreateGame(ctx, opts.Name, r.world.Name, opts.NumPlayers)
		if err != nil {
			r.logger.Error("failed to record game", logger.F("game", opts.Name), logger.Err(err))
		} else {
			replayID = id
		}
	}

	g := newGame(gameConfig{
		opts:            opts,
		world:           r.world,
		replayID:        replayID,
		tickTime:        r.settings.TickTime,
		turnTimeout:     r.settings.TurnTimeout,
		trainsPerPlayer: r.settings.TrainsPerPlayer,
		logger:          r.logger,
	})

	r.mu.Lock()
	r.games[opts.Name] = g
	r.mu.Unlock()

	r.logger.Info("game created", logger.F("game", opts.Name), logger.F("replay_id", replayID))
	return g, nil
}

// Player returns the player registered under name, creating it with
// password on first use. The caller is responsible for checking the
// password of an existing player.
func (r *Registry) Player(name, password string) (*Player, error) {
	if p, ok := r.players.Load(name); ok {
		return p, nil
	}

	p, err := NewPlayer(name, password)
	if err != nil {
		return nil, err
	}

	actual, _ := r.players.LoadOrStore(name, p)
	return actual, nil
}

// ActiveGames summarises every game that has not finished, sorted by name.
func (r *Registry) ActiveGames() []Attributes {
	r.mu.Lock()
	games := make([]*Game, 0, len(r.games))
	for name, g := range r.games {
		if g.State() == Finished {
			delete(r.games, name)
			continue
		}

		games = append(games, g)
	}
	r.mu.Unlock()

	out := make([]Attributes, 0, len(games))
	for _, g := range games {
		out = append(out, g.Attributes())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StopAll finishes every game and empties the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	games := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		games = append(games, g)
	}
	r.games = make(map[string]*Game)
	r.mu.Unlock()

	for _, g := range games {
		g.Stop()
	}

	r.logger.Info("all games stopped", logger.F("count", len(games)))
}

func (r *Registry) withDefaults(opts Options) Options {
	if opts.NumPlayers == 0 {
		opts.NumPlayers = r.settings.DefaultNumPlayers
	}

	if opts.NumTurns == 0 {
		opts.NumTurns = r.settings.DefaultNumTurns
	}

	if opts.NumObservers == 0 {
		opts.NumObservers = r.settings.DefaultNumObservers
	}

	return opts
}
