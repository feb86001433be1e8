// Package replay records the accepted mutating actions of every game so
// that a game can be listed and played back in insertion order.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/cyberinferno/railserver/protocol"
)

// GameSummary is one entry of ListGames. TurnCount is the number of TURN
// actions recorded for the game.
type GameSummary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Date        time.Time `json:"date"`
	MapName     string    `json:"map"`
	TurnCount   int       `json:"turn_count"`
	PlayerCount int       `json:"player_count"`
}

// ActionEntry is one recorded action. Payload is JSON null when the
// request carried no payload or only whitespace.
type ActionEntry struct {
	Code    protocol.Action `json:"code"`
	Payload json.RawMessage `json:"payload"`
	Actor   string          `json:"actor,omitempty"`
	Date    time.Time       `json:"date"`
}

// Record is an action to append to a game's log.
type Record struct {
	GameID  int64
	Code    protocol.Action
	Payload []byte
	Actor   string
}

// Appender appends records to a log.
type Appender interface {
	Append(ctx context.Context, rec Record) error
}

// Store is the replay log contract.
type Store interface {
	Appender

	// CreateGame registers a game and returns its id. Ids increase and are
	// never reused.
	CreateGame(ctx context.Context, name, mapName string, numPlayers int) (int64, error)

	// ListGames returns every recorded game ordered by id, computed from a
	// consistent snapshot of the log.
	ListGames(ctx context.Context) ([]GameSummary, error)

	// ListActions returns the actions of one game in insertion order.
	//
	// Returns:
	//   - A ResourceNotFound error when the game is unknown
	ListActions(ctx context.Context, gameID int64) ([]ActionEntry, error)

	Close() error
}

func newEntry(rec Record, now time.Time) ActionEntry {
	entry := ActionEntry{Code: rec.Code, Actor: rec.Actor, Date: now}
	if len(bytes.TrimSpace(rec.Payload)) > 0 {
		entry.Payload = json.RawMessage(append([]byte(nil), rec.Payload...))
	}

	return entry
}

func countTurns(entries []ActionEntry) int {
	n := 0
	for _, e := range entries {
		if e.Code == protocol.Turn {
			n++
		}
	}

	return n
}
