package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cyberinferno/railserver/game"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/protocol"
	"github.com/cyberinferno/railserver/replay"
	"github.com/cyberinferno/railserver/role"
	"github.com/cyberinferno/railserver/session"
	"github.com/cyberinferno/railserver/tcpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	server   *tcpserver.TCPServer
	registry *game.Registry
	store    *replay.MemoryStore
	appender *replay.AsyncAppender
}

func startStack(t *testing.T) *stack {
	t.Helper()

	log := logger.NewNopLogger()
	store := replay.NewMemoryStore()
	appender := replay.NewAsyncAppender(store, log)

	registry, err := game.NewRegistry(game.Settings{
		MapName:             "theMap",
		TickTime:            time.Hour,
		TurnTimeout:         2 * time.Second,
		TrainsPerPlayer:     1,
		DefaultNumPlayers:   1,
		DefaultNumTurns:     -1,
		DefaultNumObservers: 1,
	}, store, log)
	require.NoError(t, err)

	table := role.NewTable(role.Deps{
		Lobby:  role.NewLobby(registry),
		Replay: store,
		Logger: log,
	})

	cfg := session.Config{
		ReceiveChunkSize:    512,
		MaxPayloadSize:      64 * 1024,
		WriteTimeout:        time.Second,
		ObserverWaitTimeout: 20 * time.Millisecond,
		NotifierStopTimeout: time.Second,
	}

	srv := tcpserver.New("rail", "127.0.0.1:0", func(id uint32, conn net.Conn) tcpserver.TCPServerSession {
		return session.New(id, conn, table, appender, cfg, log)
	}, log)
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		registry.StopAll()
		srv.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Wait(ctx))
		assert.NoError(t, appender.Close(ctx))
	})

	return &stack{server: srv, registry: registry, store: store, appender: appender}
}

func (s *stack) dial(t *testing.T) *Client {
	t.Helper()

	c, err := Dial(t.Context(), DefaultConfig(s.server.ListenAddr().String()), logger.NewNopLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

type playerInfo struct {
	Idx    string `json:"idx"`
	Name   string `json:"name"`
	InGame bool   `json:"in_game"`
	Trains []struct {
		Idx    int    `json:"idx"`
		Line   int    `json:"line_idx"`
		Speed  int    `json:"speed"`
		Player string `json:"player_idx"`
	} `json:"trains"`
}

func TestClient_PlayerSession(t *testing.T) {
	s := startStack(t)
	c := s.dial(t)
	ctx := t.Context()

	var info playerInfo
	require.NoError(t, c.Call(ctx, protocol.Login, map[string]any{"name": "Alice", "game": "solo"}, &info))
	assert.Equal(t, "Alice", info.Name)
	assert.True(t, info.InGame)
	require.Len(t, info.Trains, 1)

	train := info.Trains[0]
	require.NoError(t, c.Call(ctx, protocol.Move, map[string]any{
		"train_idx": train.Idx,
		"speed":     1,
		"line_idx":  train.Line,
	}, nil))
	require.NoError(t, c.Call(ctx, protocol.Turn, nil, nil))

	require.NoError(t, c.Call(ctx, protocol.Player, nil, &info))
	assert.Equal(t, 1, info.Trains[0].Speed)

	var games struct {
		Games []game.Attributes `json:"games"`
	}
	require.NoError(t, c.Call(ctx, protocol.Games, nil, &games))
	require.Len(t, games.Games, 1)
	assert.Equal(t, "solo", games.Games[0].Name)
	assert.Equal(t, 1, games.Games[0].Turn)

	require.NoError(t, c.Call(ctx, protocol.Logout, nil, nil))

	err := c.Call(ctx, protocol.Player, nil, nil)
	assert.ErrorIs(t, err, ErrClosed)

	drain, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.appender.Close(drain))

	actions, err := s.store.ListActions(ctx, 1)
	require.NoError(t, err)

	codes := make([]protocol.Action, 0, len(actions))
	for _, a := range actions {
		codes = append(codes, a.Code)
		assert.Equal(t, info.Idx, a.Actor)
	}
	assert.Equal(t, []protocol.Action{protocol.Login, protocol.Move, protocol.Turn, protocol.Logout}, codes)

	summaries, err := s.store.ListGames(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].TurnCount)
}

func TestClient_ResultError(t *testing.T) {
	s := startStack(t)
	c := s.dial(t)

	err := c.Call(t.Context(), protocol.Move, map[string]any{"train_idx": 1, "speed": 1, "line_idx": 1}, nil)

	var resErr *ResultError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, protocol.ResourceNotFound, resErr.Result)
	assert.Contains(t, resErr.Message, "MOVE")
	assert.Equal(t, Connected, c.State())
}

func TestClient_ObserverPushes(t *testing.T) {
	s := startStack(t)
	player := s.dial(t)
	observer := s.dial(t)
	ctx := t.Context()

	require.NoError(t, player.Call(ctx, protocol.Login, map[string]any{"name": "Bob", "game": "watched"}, nil))
	require.NoError(t, observer.Call(ctx, protocol.ObserverLogin, map[string]any{"name": "Eve", "game": "watched"}, nil))

	var replayed struct {
		Idx     int                  `json:"idx"`
		Actions []replay.ActionEntry `json:"actions"`
	}
	require.Eventually(t, func() bool {
		actions, err := s.store.ListActions(ctx, 1)
		return err == nil && len(actions) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, observer.Call(ctx, protocol.Game, map[string]any{"idx": 1}, &replayed))
	require.Len(t, replayed.Actions, 1)
	assert.Equal(t, protocol.Login, replayed.Actions[0].Code)

	err := observer.Call(ctx, protocol.Move, map[string]any{"train_idx": 1, "speed": 1, "line_idx": 1}, nil)
	var resErr *ResultError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, protocol.BadCommand, resErr.Result)

	var push protocol.Frame
	require.Eventually(t, func() bool {
		if err := player.Call(ctx, protocol.Turn, nil, nil); err != nil {
			return false
		}

		wait, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		var err error
		push, err = observer.Next(wait)
		return err == nil
	}, 3*time.Second, time.Millisecond)

	assert.Equal(t, protocol.Okey, push.Result())
	assert.Contains(t, string(push.Payload), `"name":"watched"`)
}

func TestClient_TimedOutRequestClosesConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	// The peer accepts and never answers.
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := ln.Accept(); err == nil {
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		select {
		case conn := <-accepted:
			_ = conn.Close()
		default:
		}
	})

	c, err := Dial(t.Context(), DefaultConfig(ln.Addr().String()), logger.NewNopLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Do(ctx, protocol.Games, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Closed, c.State())

	_, err = c.Next(t.Context())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = c.Do(t.Context(), protocol.Games, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClient_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := DefaultConfig(addr)
	cfg.ConnectionTimeout = 200 * time.Millisecond

	states := make(chan ConnectionState, 4)
	_, err = Dial(t.Context(), cfg, logger.NewNopLogger(), func(e ConnectionStateEvent) { states <- e.State })
	assert.Error(t, err)
	assert.Eventually(t, func() bool {
		for {
			select {
			case st := <-states:
				if st == Disconnected {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}
