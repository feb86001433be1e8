package session

import (
	"sync"
	"time"

	"github.com/cyberinferno/railserver/game"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/role"
)

// Notifier pushes a game snapshot to an observer after every tick. It waits
// on the game's tick signal in bounded slices so that Stop is noticed even
// when the game is idle.
type Notifier struct {
	game   role.Game
	send   func(payload []byte) error
	wait   time.Duration
	logger logger.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewNotifier creates a notifier for g. It does nothing until Start.
//
// Parameters:
//   - g: the observed game
//   - send: writes one snapshot to the observer; an error ends the loop
//   - wait: how long a single wait for the tick signal lasts
//   - log: the logger the notifier derives its own from
func NewNotifier(g role.Game, send func(payload []byte) error, wait time.Duration, log logger.Logger) *Notifier {
	return &Notifier{
		game:   g,
		send:   send,
		wait:   wait,
		logger: log.With(logger.F("component", "notifier")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the notification loop in its own goroutine.
func (n *Notifier) Start() {
	go n.run()
}

// Done is closed when the notifier loop has exited.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

// Stop signals the loop to exit and waits up to timeout for it.
//
// Returns:
//   - true if the loop exited within timeout
func (n *Notifier) Stop(timeout time.Duration) bool {
	n.stopOnce.Do(func() { close(n.stop) })

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-n.done:
		return true
	case <-timer.C:
		n.logger.Warn("notifier did not stop in time", logger.F("timeout", timeout.String()))
		return false
	}
}

func (n *Notifier) run() {
	defer close(n.done)

	for {
		if n.game.State() == game.Finished {
			return
		}

		tick := n.game.TickStarted()
		timer := time.NewTimer(n.wait)

		select {
		case <-n.stop:
			timer.Stop()
			return
		case <-timer.C:
			continue
		case <-tick:
			timer.Stop()
		}

		msg, err := n.game.ObserverMessage()
		if err != nil {
			n.logger.Error("failed to build observer message", logger.Err(err))
			continue
		}

		if err := n.send(msg); err != nil {
			n.logger.Debug("observer push failed", logger.Err(err))
			return
		}
	}
}
