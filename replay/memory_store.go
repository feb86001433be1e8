package replay

import (
	"context"
	"sync"
	"time"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/idgenerator"
)

type memoryGame struct {
	summary GameSummary
	actions []ActionEntry
}

// MemoryStore keeps the log in process memory. It is the default backend
// and the one used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	ids   *idgenerator.IdGenerator
	games map[int64]*memoryGame
	order []int64
	now   func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:   idgenerator.NewIdGenerator(0),
		games: make(map[int64]*memoryGame),
		now:   time.Now,
	}
}

func (s *MemoryStore) CreateGame(_ context.Context, name, mapName string, numPlayers int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := int64(s.ids.Id())
	s.games[id] = &memoryGame{summary: GameSummary{
		ID:          id,
		Name:        name,
		Date:        s.now(),
		MapName:     mapName,
		PlayerCount: numPlayers,
	}}
	s.order = append(s.order, id)

	return id, nil
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[rec.GameID]
	if !ok {
		return apperror.NewResourceNotFound("Replay game not found: %d", rec.GameID)
	}

	g.actions = append(g.actions, newEntry(rec, s.now()))
	return nil
}

func (s *MemoryStore) ListGames(_ context.Context) ([]GameSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]GameSummary, 0, len(s.order))
	for _, id := range s.order {
		g := s.games[id]
		summary := g.summary
		summary.TurnCount = countTurns(g.actions)
		out = append(out, summary)
	}

	return out, nil
}

func (s *MemoryStore) ListActions(_ context.Context, gameID int64) ([]ActionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[gameID]
	if !ok {
		return nil, apperror.NewResourceNotFound("Replay game not found: %d", gameID)
	}

	out := make([]ActionEntry, len(g.actions))
	copy(out, g.actions)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
