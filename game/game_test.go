package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRecorder) CreateGame(_ context.Context, name, _ string, _ int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}

	f.calls = append(f.calls, name)
	return int64(len(f.calls)), nil
}

func testSettings() Settings {
	return Settings{
		MapName:             "theMap",
		TickTime:            time.Hour,
		TurnTimeout:         time.Second,
		TrainsPerPlayer:     2,
		DefaultNumPlayers:   1,
		DefaultNumTurns:     -1,
		DefaultNumObservers: 1,
	}
}

func newTestRegistry(t *testing.T, settings Settings, rec Recorder) *Registry {
	t.Helper()

	r, err := NewRegistry(settings, rec, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(r.StopAll)
	return r
}

func join(t *testing.T, r *Registry, opts Options, names ...string) (*Game, []*Player) {
	t.Helper()

	g, err := r.Get(context.Background(), opts)
	require.NoError(t, err)

	players := make([]*Player, 0, len(names))
	for _, name := range names {
		p, err := r.Player(name, "")
		require.NoError(t, err)
		require.NoError(t, g.AddPlayer(p))
		players = append(players, p)
	}

	return g, players
}

func TestNewRegistry_UnknownMap(t *testing.T) {
	settings := testSettings()
	settings.MapName = "nowhere"

	_, err := NewRegistry(settings, nil, logger.NewNopLogger())
	assert.ErrorIs(t, err, apperror.ErrResourceNotFound)
}

func TestRegistry_Get(t *testing.T) {
	t.Run("creates once and records the game", func(t *testing.T) {
		rec := &fakeRecorder{}
		r := newTestRegistry(t, testSettings(), rec)

		g1, err := r.Get(context.Background(), Options{Name: "alpha"})
		require.NoError(t, err)
		g2, err := r.Get(context.Background(), Options{Name: "alpha", NumPlayers: 3})
		require.NoError(t, err)

		assert.Same(t, g1, g2)
		assert.Equal(t, []string{"alpha"}, rec.calls)
		assert.Equal(t, int64(1), g1.ReplayID())
		assert.Equal(t, Init, g1.State())
	})

	t.Run("player count outside the map capacity", func(t *testing.T) {
		r := newTestRegistry(t, testSettings(), nil)

		_, err := r.Get(context.Background(), Options{Name: "big", NumPlayers: 5})
		assert.ErrorIs(t, err, apperror.ErrBadCommand)
	})

	t.Run("recorder failure does not block the game", func(t *testing.T) {
		r := newTestRegistry(t, testSettings(), &fakeRecorder{err: errors.New("redis down")})

		g, err := r.Get(context.Background(), Options{Name: "beta"})
		require.NoError(t, err)
		assert.Zero(t, g.ReplayID())
	})

	t.Run("finished game is replaced", func(t *testing.T) {
		r := newTestRegistry(t, testSettings(), nil)
		g, players := join(t, r, Options{Name: "gamma"}, "solo")
		g.RemovePlayer(players[0])
		require.Equal(t, Finished, g.State())

		fresh, err := r.Get(context.Background(), Options{Name: "gamma"})
		require.NoError(t, err)
		assert.NotSame(t, g, fresh)
		assert.Equal(t, Init, fresh.State())
	})
}

type blockingRecorder struct {
	entered chan string
	release chan struct{}
	fakeRecorder
}

func (b *blockingRecorder) CreateGame(ctx context.Context, name, mapName string, n int) (int64, error) {
	b.entered <- name
	<-b.release
	return b.fakeRecorder.CreateGame(ctx, name, mapName, n)
}

func TestRegistry_GetDoesNotHoldLockWhileRecording(t *testing.T) {
	rec := &blockingRecorder{entered: make(chan string, 1), release: make(chan struct{})}
	r := newTestRegistry(t, testSettings(), rec)

	results := make(chan *Game, 2)
	for i := 0; i < 2; i++ {
		go func() {
			g, err := r.Get(context.Background(), Options{Name: "slow"})
			assert.NoError(t, err)
			results <- g
		}()
	}

	select {
	case name := <-rec.entered:
		require.Equal(t, "slow", name)
	case <-time.After(time.Second):
		t.Fatal("recorder was not called")
	}

	// The registry stays usable while the replay entry is being created.
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Empty(t, r.ActiveGames())
		_, err := r.Player("someone", "")
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry blocked by a pending replay entry")
	}

	close(rec.release)
	g1, g2 := <-results, <-results
	assert.Same(t, g1, g2)
	assert.Equal(t, []string{"slow"}, rec.calls)
	assert.Equal(t, int64(1), g1.ReplayID())
}

func TestRegistry_Player(t *testing.T) {
	r := newTestRegistry(t, testSettings(), nil)

	p1, err := r.Player("alice", "secret")
	require.NoError(t, err)
	p2, err := r.Player("alice", "other")
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.True(t, p1.CheckPassword("secret"))
	assert.False(t, p1.CheckPassword("other"))

	nopass, err := r.Player("bob", "")
	require.NoError(t, err)
	assert.True(t, nopass.CheckPassword(""))
	assert.False(t, nopass.CheckPassword("x"))
}

func TestRegistry_ActiveGamesAndStopAll(t *testing.T) {
	r := newTestRegistry(t, testSettings(), nil)
	join(t, r, Options{Name: "b", NumPlayers: 2}, "p1")
	running, _ := join(t, r, Options{Name: "a"}, "p2")

	games := r.ActiveGames()
	require.Len(t, games, 2)
	assert.Equal(t, "a", games[0].Name)
	assert.Equal(t, Run, games[0].State)
	assert.Equal(t, 1, games[0].Players)
	assert.Equal(t, "b", games[1].Name)
	assert.Equal(t, Init, games[1].State)

	r.StopAll()
	assert.Equal(t, Finished, running.State())
	assert.Empty(t, r.ActiveGames())
}

func TestGame_StateMachine(t *testing.T) {
	r := newTestRegistry(t, testSettings(), nil)
	g, players := join(t, r, Options{Name: "duel", NumPlayers: 2}, "p1")
	assert.Equal(t, Init, g.State())
	assert.ErrorIs(t, g.CheckState(Run), apperror.ErrInappropriateGameState)

	p2, err := r.Player("p2", "")
	require.NoError(t, err)
	require.NoError(t, g.AddPlayer(p2))
	assert.Equal(t, Run, g.State())

	t.Run("full game rejects newcomers", func(t *testing.T) {
		p3, err := r.Player("p3", "")
		require.NoError(t, err)
		assert.ErrorIs(t, g.AddPlayer(p3), apperror.ErrAccessDenied)
	})

	t.Run("known player rejoins", func(t *testing.T) {
		assert.NoError(t, g.AddPlayer(players[0]))
	})

	t.Run("last player leaving finishes the game", func(t *testing.T) {
		g.RemovePlayer(players[0])
		assert.False(t, g.HasPlayer(players[0]))
		assert.Equal(t, Run, g.State())

		g.RemovePlayer(p2)
		assert.Equal(t, Finished, g.State())
		assert.ErrorIs(t, g.AddPlayer(p2), apperror.ErrInappropriateGameState)
	})
}

func TestGame_Turn(t *testing.T) {
	t.Run("single player ticks immediately", func(t *testing.T) {
		r := newTestRegistry(t, testSettings(), nil)
		g, players := join(t, r, Options{Name: "solo"}, "p1")
		tick := g.TickStarted()

		require.NoError(t, g.Turn(context.Background(), players[0]))
		assert.Equal(t, 1, g.currentTurn())

		select {
		case <-tick:
		default:
			t.Fatal("tick channel not closed")
		}
	})

	t.Run("waiting player times out", func(t *testing.T) {
		settings := testSettings()
		settings.TurnTimeout = 50 * time.Millisecond
		r := newTestRegistry(t, settings, nil)
		g, players := join(t, r, Options{Name: "duel", NumPlayers: 2}, "p1", "p2")

		err := g.Turn(context.Background(), players[0])
		assert.ErrorIs(t, err, apperror.ErrTimeout)
		assert.Equal(t, 0, g.currentTurn())
	})

	t.Run("second ready player releases the first", func(t *testing.T) {
		r := newTestRegistry(t, testSettings(), nil)
		g, players := join(t, r, Options{Name: "duel", NumPlayers: 2}, "p1", "p2")

		errCh := make(chan error, 1)
		go func() { errCh <- g.Turn(context.Background(), players[0]) }()

		require.Eventually(t, func() bool {
			g.mu.Lock()
			defer g.mu.Unlock()
			return g.participants[players[0].Idx].ready
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, g.Turn(context.Background(), players[1]))
		assert.NoError(t, <-errCh)
		assert.Equal(t, 1, g.currentTurn())
	})

	t.Run("tick loop advances without turns", func(t *testing.T) {
		settings := testSettings()
		settings.TickTime = 10 * time.Millisecond
		r := newTestRegistry(t, settings, nil)
		g, _ := join(t, r, Options{Name: "auto"}, "p1")

		assert.Eventually(t, func() bool { return g.currentTurn() >= 2 }, time.Second, 5*time.Millisecond)
	})

	t.Run("turn limit finishes the game", func(t *testing.T) {
		r := newTestRegistry(t, testSettings(), nil)
		g, players := join(t, r, Options{Name: "short", NumTurns: 2}, "p1")

		require.NoError(t, g.Turn(context.Background(), players[0]))
		tick := g.TickStarted()
		require.NoError(t, g.Turn(context.Background(), players[0]))

		assert.Equal(t, Finished, g.State())
		<-tick
		assert.ErrorIs(t, g.Turn(context.Background(), players[0]), apperror.ErrInappropriateGameState)
	})
}

func TestGame_MoveTrain(t *testing.T) {
	r := newTestRegistry(t, testSettings(), nil)
	g, players := join(t, r, Options{Name: "moves", NumPlayers: 2}, "p1", "p2")
	p1, p2 := players[0], players[1]

	// p1 owns trains 1 and 2 at point 1, position 0 of line 1.
	tests := []struct {
		name    string
		player  *Player
		train   int
		speed   int
		line    int
		wantErr error
	}{
		{"unknown train", p1, 99, 1, 1, apperror.ErrResourceNotFound},
		{"foreign train", p2, 1, 1, 1, apperror.ErrAccessDenied},
		{"unknown line", p1, 1, 1, 99, apperror.ErrResourceNotFound},
		{"invalid speed", p1, 1, 2, 1, apperror.ErrBadCommand},
		{"disconnected line", p1, 1, 1, 3, apperror.ErrBadCommand},
		{"connected line", p1, 2, 1, 7, nil},
		{"same line", p1, 1, 1, 1, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := g.MoveTrain(tc.player, tc.train, tc.speed, tc.line)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}

	t.Run("tick moves the train off the point", func(t *testing.T) {
		g.mu.Lock()
		g.tickLocked()
		pos := g.trains[1].Position
		g.mu.Unlock()

		assert.Equal(t, 1, pos)
		assert.ErrorIs(t, g.MoveTrain(p1, 1, 1, 7), apperror.ErrBadCommand)
	})
}

func TestGame_MakeUpgrade(t *testing.T) {
	r := newTestRegistry(t, testSettings(), nil)
	g, players := join(t, r, Options{Name: "upgrades", NumPlayers: 2}, "p1", "p2")
	p1 := players[0]

	assert.ErrorIs(t, g.MakeUpgrade(p1, []int{42}, nil), apperror.ErrResourceNotFound)
	assert.ErrorIs(t, g.MakeUpgrade(p1, []int{2}, nil), apperror.ErrAccessDenied)
	assert.ErrorIs(t, g.MakeUpgrade(p1, nil, []int{3}), apperror.ErrAccessDenied)
	assert.ErrorIs(t, g.MakeUpgrade(p1, []int{1}, []int{1}), apperror.ErrBadCommand)

	require.NoError(t, g.MakeUpgrade(p1, []int{1}, nil))

	var info struct {
		Town Post `json:"town"`
	}
	raw, err := g.PlayerInfo(p1)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, 2, info.Town.Level)
	assert.Equal(t, 0, info.Town.Armor)
	assert.Equal(t, townLevels[2].ProductCapacity, info.Town.ProductCapacity)
}

func TestGame_MapLayer(t *testing.T) {
	r := newTestRegistry(t, testSettings(), nil)
	g, players := join(t, r, Options{Name: "layers", NumPlayers: 2}, "p1", "p2")

	t.Run("unknown layer", func(t *testing.T) {
		_, err := g.MapLayer(players[0], 99)
		assert.ErrorIs(t, err, apperror.ErrResourceNotFound)
	})

	t.Run("static layer", func(t *testing.T) {
		raw, err := g.MapLayer(players[0], LayerStatic)
		require.NoError(t, err)

		var layer staticLayer
		require.NoError(t, json.Unmarshal(raw, &layer))
		assert.Equal(t, "theMap", layer.Name)
		assert.Len(t, layer.Lines, 8)
	})

	t.Run("coordinates layer", func(t *testing.T) {
		raw, err := g.MapLayer(nil, LayerCoordinates)
		require.NoError(t, err)

		var layer coordinatesLayer
		require.NoError(t, json.Unmarshal(raw, &layer))
		assert.Equal(t, [2]int{330, 248}, layer.Size)
	})

	t.Run("players only see their own goods", func(t *testing.T) {
		raw, err := g.MapLayer(players[0], LayerDynamic)
		require.NoError(t, err)

		var layer dynamicLayer
		require.NoError(t, json.Unmarshal(raw, &layer))
		require.Len(t, layer.Trains, 4)
		for _, tr := range layer.Trains {
			if tr.PlayerIdx == players[0].Idx {
				assert.NotNil(t, tr.Goods, "train %d", tr.Idx)
			} else {
				assert.Nil(t, tr.Goods, "train %d", tr.Idx)
			}
		}
		assert.Len(t, layer.Ratings, 2)
	})

	t.Run("observers see everything", func(t *testing.T) {
		raw, err := g.MapLayer(nil, LayerDynamic)
		require.NoError(t, err)

		var layer dynamicLayer
		require.NoError(t, json.Unmarshal(raw, &layer))
		for _, tr := range layer.Trains {
			assert.NotNil(t, tr.Goods)
		}
	})
}

func TestGame_Observers(t *testing.T) {
	r := newTestRegistry(t, testSettings(), nil)
	g, players := join(t, r, Options{Name: "watched", NumPlayers: 2}, "p1")

	o1, o2 := NewObserver("o1"), NewObserver("o2")
	require.NoError(t, g.AddObserver(o1))
	assert.ErrorIs(t, g.AddObserver(o2), apperror.ErrAccessDenied)
	assert.True(t, g.HasObserver(o1))
	assert.NotEqual(t, o1.Idx, o2.Idx)

	raw, err := g.ObserverMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "watched", msg["name"])
	assert.Equal(t, float64(Init), msg["state"])
	assert.Contains(t, msg, "trains")

	g.RemoveObserver(o1)
	assert.False(t, g.HasObserver(o1))

	g.RemovePlayer(players[0])
	assert.ErrorIs(t, g.AddObserver(o2), apperror.ErrInappropriateGameState)
}
