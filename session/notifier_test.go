package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyberinferno/railserver/game"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/role"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickingGame struct {
	role.Game

	mu    sync.Mutex
	state game.State
	tick  chan struct{}
	turn  atomic.Int32
}

func newTickingGame() *tickingGame {
	return &tickingGame{state: game.Run, tick: make(chan struct{})}
}

func (g *tickingGame) State() game.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *tickingGame) TickStarted() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tick
}

func (g *tickingGame) ObserverMessage() ([]byte, error) {
	return []byte{byte('0' + g.turn.Load())}, nil
}

func (g *tickingGame) advance() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.turn.Add(1)
	close(g.tick)
	g.tick = make(chan struct{})
}

func (g *tickingGame) finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = game.Finished
}

func TestNotifier_PushesOnTick(t *testing.T) {
	g := newTickingGame()
	sent := make(chan []byte, 4)

	n := NewNotifier(g, func(msg []byte) error {
		sent <- msg
		return nil
	}, 10*time.Millisecond, logger.NewNopLogger())
	n.Start()
	defer n.Stop(time.Second)

	require.Eventually(t, func() bool {
		select {
		case msg := <-sent:
			return len(msg) == 1 && msg[0] > '0'
		default:
			g.advance()
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestNotifier_StopsWhenIdle(t *testing.T) {
	n := NewNotifier(newTickingGame(), func([]byte) error { return nil }, 10*time.Millisecond, logger.NewNopLogger())
	n.Start()

	assert.True(t, n.Stop(time.Second))
	assert.True(t, n.Stop(time.Second), "second stop must not panic")
}

func TestNotifier_ExitsWhenGameFinishes(t *testing.T) {
	g := newTickingGame()
	n := NewNotifier(g, func([]byte) error { return nil }, 10*time.Millisecond, logger.NewNopLogger())
	n.Start()

	g.finish()

	select {
	case <-n.Done():
	case <-time.After(time.Second):
		t.Fatal("notifier kept running after the game finished")
	}
}

func TestNotifier_ExitsOnSendFailure(t *testing.T) {
	g := newTickingGame()
	var calls atomic.Int32

	n := NewNotifier(g, func([]byte) error {
		calls.Add(1)
		return errors.New("broken pipe")
	}, 10*time.Millisecond, logger.NewNopLogger())
	n.Start()

	require.Eventually(t, func() bool {
		select {
		case <-n.Done():
			return true
		default:
			g.advance()
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
}

func TestNotifier_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	g := newTickingGame()

	n := NewNotifier(g, func([]byte) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, 10*time.Millisecond, logger.NewNopLogger())
	n.Start()

	require.Eventually(t, func() bool {
		select {
		case <-entered:
			return true
		default:
			g.advance()
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.False(t, n.Stop(20*time.Millisecond))

	close(release)
	assert.True(t, n.Stop(time.Second))
}
