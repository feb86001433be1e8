package game

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Player is a named identity that can take part in games. Its lock
// serialises mutating requests for the resources the player owns; game state
// itself is guarded by the game.
type Player struct {
	mu           sync.Mutex
	Idx          string
	Name         string
	passwordHash []byte
}

// NewPlayer creates a player with a fresh idx. A non-empty password is stored
// as a bcrypt hash.
func NewPlayer(name, password string) (*Player, error) {
	p := &Player{Idx: uuid.NewString(), Name: name}
	if password == "" {
		return p, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	p.passwordHash = hash
	return p, nil
}

// Lock acquires the player's exclusive lock.
func (p *Player) Lock() {
	p.mu.Lock()
}

// Unlock releases the player's exclusive lock.
func (p *Player) Unlock() {
	p.mu.Unlock()
}

// CheckPassword reports whether password matches the one the player was
// created with. A player created without a password only matches an empty
// one.
func (p *Player) CheckPassword(password string) bool {
	if p.passwordHash == nil {
		return password == ""
	}

	return bcrypt.CompareHashAndPassword(p.passwordHash, []byte(password)) == nil
}

// Observer is a read-only participant of a game.
type Observer struct {
	Idx  string
	Name string
}

// NewObserver creates an observer with a fresh idx.
func NewObserver(name string) *Observer {
	return &Observer{Idx: uuid.NewString(), Name: name}
}

// Train is a player's vehicle on the rail graph.
type Train struct {
	Idx            int      `json:"idx"`
	PlayerIdx      string   `json:"player_idx"`
	LineIdx        int      `json:"line_idx"`
	Position       int      `json:"position"`
	Speed          int      `json:"speed"`
	Level          int      `json:"level"`
	Goods          *int     `json:"goods,omitempty"`
	GoodsCapacity  int      `json:"goods_capacity"`
	GoodsType      PostType `json:"post_type,omitempty"`
	NextLevelPrice int      `json:"next_level_price,omitempty"`
	goods          int
}

// view returns a copy for serialisation. Goods are hidden unless withGoods.
func (t *Train) view(withGoods bool) Train {
	v := *t
	v.Goods = nil
	if withGoods {
		goods := t.goods
		v.Goods = &goods
	}

	return v
}
