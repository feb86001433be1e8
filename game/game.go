package game

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/idgenerator"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/safeset"
)

// Map layers served by MapLayer.
const (
	LayerStatic      = 0
	LayerDynamic     = 1
	LayerCoordinates = 10
)

// Options describe the game a login asks for. Zero counts take the
// registry defaults; a negative NumTurns means no turn limit.
type Options struct {
	Name         string
	NumPlayers   int
	NumTurns     int
	NumObservers int
}

// Attributes is the summary returned by the GAMES action.
type Attributes struct {
	Name       string `json:"name"`
	NumPlayers int    `json:"num_players"`
	NumTurns   int    `json:"num_turns"`
	State      State  `json:"state"`
	Turn       int    `json:"turn"`
	Players    int    `json:"players"`
	Observers  int    `json:"observers"`
}

type participant struct {
	player *Player
	town   *Post
	trains []*Train
	ready  bool
}

// Game owns the state of one running match. All exported methods are safe
// for concurrent use.
type Game struct {
	mu           sync.Mutex
	name         string
	world        *WorldMap
	numPlayers   int
	numTurns     int
	numObservers int
	replayID     int64
	tickTime     time.Duration
	turnTimeout  time.Duration
	trainCount   int

	state        State
	running      bool
	turn         int
	posts        map[int]*Post
	trains       map[int]*Train
	trainIDs     *idgenerator.IdGenerator
	participants map[string]*participant
	observers    *safeset.SafeSet[*Observer]

	tickCh   chan struct{}
	reset    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

type gameConfig struct {
	opts            Options
	world           *WorldMap
	replayID        int64
	tickTime        time.Duration
	turnTimeout     time.Duration
	trainsPerPlayer int
	logger          logger.Logger
}

func newGame(cfg gameConfig) *Game {
	g := &Game{
		name:         cfg.opts.Name,
		world:        cfg.world,
		numPlayers:   cfg.opts.NumPlayers,
		numTurns:     cfg.opts.NumTurns,
		numObservers: cfg.opts.NumObservers,
		replayID:     cfg.replayID,
		tickTime:     cfg.tickTime,
		turnTimeout:  cfg.turnTimeout,
		trainCount:   cfg.trainsPerPlayer,
		state:        Init,
		posts:        make(map[int]*Post, len(cfg.world.Posts)),
		trains:       make(map[int]*Train),
		trainIDs:     idgenerator.NewIdGenerator(0),
		participants: make(map[string]*participant),
		observers:    safeset.NewSafeSet[*Observer](),
		tickCh:       make(chan struct{}),
		reset:        make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		logger:       cfg.logger.With(logger.F("game", cfg.opts.Name)),
	}

	for _, p := range cfg.world.Posts {
		post := p
		g.posts[post.Idx] = &post
	}

	return g
}

// Name returns the name the game was created with.
func (g *Game) Name() string {
	return g.name
}

// ReplayID is the id the replay log assigned to the game, zero when the
// game could not be recorded.
func (g *Game) ReplayID() int64 {
	return g.replayID
}

// State returns the current lifecycle state.
func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CheckState returns an InappropriateGameState error unless the game is in
// one of states.
func (g *Game) CheckState(states ...State) error {
	return checkState(g.State(), states...)
}

// currentTurn is the number of the last completed tick.
func (g *Game) currentTurn() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turn
}

// Attributes summarises the game for GAMES listings.
func (g *Game) Attributes() Attributes {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Attributes{
		Name:       g.name,
		NumPlayers: g.numPlayers,
		NumTurns:   g.numTurns,
		State:      g.state,
		Turn:       g.turn,
		Players:    len(g.participants),
		Observers:  g.observers.Size(),
	}
}

// AddPlayer joins p to the game. A player already in the game rejoins
// without changes. The game starts once the player quota is reached.
func (g *Game) AddPlayer(p *Player) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := checkState(g.state, Init, Run); err != nil {
		return err
	}

	if _, ok := g.participants[p.Idx]; ok {
		return nil
	}

	if len(g.participants) >= g.numPlayers {
		return apperror.NewAccessDenied("The maximum number of players reached")
	}

	town := g.freeTownLocked()
	if town == nil {
		return apperror.NewAccessDenied("No free town left on the map")
	}

	town.PlayerIdx = p.Idx
	part := &participant{player: p, town: town}
	line, pos, _ := g.world.firstLineAt(town.PointIdx)
	for i := 0; i < g.trainCount; i++ {
		lvl := trainLevels[1]
		t := &Train{
			Idx:            int(g.trainIDs.Id()),
			PlayerIdx:      p.Idx,
			LineIdx:        line.Idx,
			Position:       pos,
			Level:          1,
			GoodsCapacity:  lvl.GoodsCapacity,
			NextLevelPrice: lvl.NextLevelPrice,
		}
		g.trains[t.Idx] = t
		part.trains = append(part.trains, t)
	}

	g.participants[p.Idx] = part
	g.logger.Info("player joined", logger.F("player", p.Name), logger.F("players", len(g.participants)))

	if g.state == Init && len(g.participants) == g.numPlayers {
		g.state = Run
		g.running = true
		g.logger.Info("game started")
		go g.loop()
	}

	return nil
}

// RemovePlayer takes p out of the game and frees its town and trains. The
// game finishes when its last player leaves.
func (g *Game) RemovePlayer(p *Player) {
	g.mu.Lock()
	defer g.mu.Unlock()

	part, ok := g.participants[p.Idx]
	if !ok {
		return
	}

	for _, t := range part.trains {
		delete(g.trains, t.Idx)
	}

	part.town.PlayerIdx = ""
	delete(g.participants, p.Idx)
	g.logger.Info("player left", logger.F("player", p.Name))
	if len(g.participants) == 0 {
		g.finishLocked()
		return
	}

	if g.allReadyLocked() {
		g.tickLocked()
	}
}

// HasPlayer reports whether p is an active participant.
func (g *Game) HasPlayer(p *Player) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.participants[p.Idx]
	return ok
}

// AddObserver attaches o to the game.
//
// Returns:
//   - An InappropriateGameState error when the game has finished
//   - An AccessDenied error when the observer limit is reached
func (g *Game) AddObserver(o *Observer) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := checkState(g.state, Init, Run); err != nil {
		return err
	}

	if g.numObservers > 0 && g.observers.Size() >= g.numObservers {
		return apperror.NewAccessDenied("The maximum number of observers reached")
	}

	g.observers.Add(o)
	return nil
}

// RemoveObserver detaches o. Unknown observers are ignored.
func (g *Game) RemoveObserver(o *Observer) {
	g.observers.Remove(o)
}

// HasObserver reports whether o is attached.
func (g *Game) HasObserver(o *Observer) bool {
	return g.observers.Contains(o)
}

// TickStarted returns a channel that is closed when the next tick starts or
// when the game finishes.
func (g *Game) TickStarted() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tickCh
}

// Turn marks p as ready and blocks until the next tick. When every player is
// ready the tick happens immediately.
//
// Returns:
//   - A Timeout error when no tick happens within the turn timeout
//   - The context error when ctx ends first
func (g *Game) Turn(ctx context.Context, p *Player) error {
	g.mu.Lock()
	if err := checkState(g.state, Run); err != nil {
		g.mu.Unlock()
		return err
	}

	part, ok := g.participants[p.Idx]
	if !ok {
		g.mu.Unlock()
		return apperror.NewAccessDenied("Player is not in the game")
	}

	part.ready = true
	ch := g.tickCh
	if g.allReadyLocked() {
		g.tickLocked()
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	timer := time.NewTimer(g.turnTimeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return apperror.NewTimeout("Game turn timeout")
	}
}

// MoveTrain sets the speed and line of one of p's trains. Switching lines
// is only possible when the train stands on a point shared with the new
// line.
func (g *Game) MoveTrain(p *Player, trainIdx, speed, lineIdx int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := checkState(g.state, Run); err != nil {
		return err
	}

	train, ok := g.trains[trainIdx]
	if !ok {
		return apperror.NewResourceNotFound("Train index not found: %d", trainIdx)
	}

	if train.PlayerIdx != p.Idx {
		return apperror.NewAccessDenied("Train's owner mismatch")
	}

	line, ok := g.world.line(lineIdx)
	if !ok {
		return apperror.NewResourceNotFound("Line index not found: %d", lineIdx)
	}

	if speed < -1 || speed > 1 {
		return apperror.NewBadCommand("Invalid speed value: %d", speed)
	}

	if speed == 0 {
		train.Speed = 0
		return nil
	}

	if lineIdx != train.LineIdx {
		point, atPoint := g.trainPointLocked(train)
		if !atPoint {
			return apperror.NewBadCommand("The train is not on a point of its line")
		}

		switch point {
		case line.Points[0]:
			train.Position = 0
		case line.Points[1]:
			train.Position = line.Length
		default:
			return apperror.NewBadCommand("The end of the train's line is not connected to the next line")
		}

		train.LineIdx = lineIdx
	}

	train.Speed = speed
	return nil
}

// MakeUpgrade raises the level of the given towns and trains, paying with
// armor from the player's town. Nothing changes when any item fails
// validation.
func (g *Game) MakeUpgrade(p *Player, postsIdx, trainsIdx []int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := checkState(g.state, Run); err != nil {
		return err
	}

	part, ok := g.participants[p.Idx]
	if !ok {
		return apperror.NewAccessDenied("Player is not in the game")
	}

	price := 0
	posts := make([]*Post, 0, len(postsIdx))
	for _, idx := range postsIdx {
		post, ok := g.posts[idx]
		if !ok {
			return apperror.NewResourceNotFound("Post index not found: %d", idx)
		}

		if post.Type != Town || post.PlayerIdx != p.Idx {
			return apperror.NewAccessDenied("Post's owner mismatch")
		}

		if post.NextLevelPrice == 0 {
			return apperror.NewBadCommand("Post has max level: %d", idx)
		}

		price += post.NextLevelPrice
		posts = append(posts, post)
	}

	trains := make([]*Train, 0, len(trainsIdx))
	for _, idx := range trainsIdx {
		train, ok := g.trains[idx]
		if !ok {
			return apperror.NewResourceNotFound("Train index not found: %d", idx)
		}

		if train.PlayerIdx != p.Idx {
			return apperror.NewAccessDenied("Train's owner mismatch")
		}

		if train.NextLevelPrice == 0 {
			return apperror.NewBadCommand("Train has max level: %d", idx)
		}

		price += train.NextLevelPrice
		trains = append(trains, train)
	}

	if part.town.Armor < price {
		return apperror.NewBadCommand("Not enough armor resource for upgrade")
	}

	part.town.Armor -= price
	for _, post := range posts {
		post.Level++
		lvl := townLevels[post.Level]
		post.PopulationCapacity = lvl.PopulationCapacity
		post.ProductCapacity = lvl.ProductCapacity
		post.ArmorCapacity = lvl.ArmorCapacity
		post.NextLevelPrice = lvl.NextLevelPrice
	}

	for _, train := range trains {
		train.Level++
		lvl := trainLevels[train.Level]
		train.GoodsCapacity = lvl.GoodsCapacity
		train.NextLevelPrice = lvl.NextLevelPrice
	}

	return nil
}

type playerView struct {
	Idx    string  `json:"idx"`
	Name   string  `json:"name"`
	Home   Point   `json:"home"`
	Town   Post    `json:"town"`
	Trains []Train `json:"trains"`
	InGame bool    `json:"in_game"`
	Rating int     `json:"rating"`
}

// PlayerInfo serialises p as seen by p itself.
func (g *Game) PlayerInfo(p *Player) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	view := playerView{Idx: p.Idx, Name: p.Name, Trains: []Train{}}
	if part, ok := g.participants[p.Idx]; ok {
		view.InGame = true
		view.Town = *part.town
		view.Home = Point{Idx: part.town.PointIdx, PostIdx: part.town.Idx}
		view.Rating = ratingOf(part)
		for _, t := range part.trains {
			view.Trains = append(view.Trains, t.view(true))
		}
	}

	return json.Marshal(view)
}

type staticLayer struct {
	Idx    int     `json:"idx"`
	Name   string  `json:"name"`
	Points []Point `json:"points"`
	Lines  []Line  `json:"lines"`
}

type rating struct {
	Idx    string `json:"idx"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

type dynamicLayer struct {
	Idx     int               `json:"idx"`
	Posts   []Post            `json:"posts"`
	Trains  []Train           `json:"trains"`
	Ratings map[string]rating `json:"ratings"`
}

type coordinatesLayer struct {
	Idx         int          `json:"idx"`
	Size        [2]int       `json:"size"`
	Coordinates []Coordinate `json:"coordinates"`
}

// MapLayer serialises a map layer. When actor is non-nil the trains of
// other players are shown without their goods; a nil actor sees everything.
func (g *Game) MapLayer(actor *Player, layer int) ([]byte, error) {
	switch layer {
	case LayerStatic:
		return json.Marshal(staticLayer{
			Idx:    g.world.Idx,
			Name:   g.world.Name,
			Points: g.world.Points,
			Lines:  g.world.Lines,
		})
	case LayerDynamic:
		g.mu.Lock()
		defer g.mu.Unlock()
		return json.Marshal(g.dynamicLayerLocked(actor))
	case LayerCoordinates:
		return json.Marshal(coordinatesLayer{
			Idx:         g.world.Idx,
			Size:        [2]int{g.world.Width, g.world.Height},
			Coordinates: g.world.Coordinates,
		})
	default:
		return nil, apperror.NewResourceNotFound("Map layer not found: %d", layer)
	}
}

type observerMessage struct {
	Name  string `json:"name"`
	State State  `json:"state"`
	Turn  int    `json:"turn"`
	dynamicLayer
}

// ObserverMessage is the snapshot pushed to observers after each tick.
func (g *Game) ObserverMessage() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return json.Marshal(observerMessage{
		Name:         g.name,
		State:        g.state,
		Turn:         g.turn,
		dynamicLayer: g.dynamicLayerLocked(nil),
	})
}

// Stop finishes the game and waits for its tick loop to exit.
func (g *Game) Stop() {
	g.mu.Lock()
	running := g.running
	g.finishLocked()
	g.mu.Unlock()

	if running {
		<-g.done
	}
}

func (g *Game) dynamicLayerLocked(actor *Player) dynamicLayer {
	out := dynamicLayer{
		Idx:     g.world.Idx,
		Posts:   make([]Post, 0, len(g.posts)),
		Trains:  make([]Train, 0, len(g.trains)),
		Ratings: make(map[string]rating, len(g.participants)),
	}

	for _, idx := range sortedKeys(g.posts) {
		out.Posts = append(out.Posts, *g.posts[idx])
	}

	for _, idx := range sortedKeys(g.trains) {
		t := g.trains[idx]
		out.Trains = append(out.Trains, t.view(actor == nil || t.PlayerIdx == actor.Idx))
	}

	for idx, part := range g.participants {
		out.Ratings[idx] = rating{Idx: idx, Name: part.player.Name, Rating: ratingOf(part)}
	}

	return out
}

func (g *Game) freeTownLocked() *Post {
	for _, idx := range sortedKeys(g.posts) {
		post := g.posts[idx]
		if post.Type == Town && post.PlayerIdx == "" {
			return post
		}
	}

	return nil
}

func (g *Game) allReadyLocked() bool {
	if len(g.participants) == 0 {
		return false
	}

	for _, part := range g.participants {
		if !part.ready {
			return false
		}
	}

	return true
}

func (g *Game) trainPointLocked(t *Train) (int, bool) {
	line, ok := g.world.line(t.LineIdx)
	if !ok {
		return 0, false
	}

	switch t.Position {
	case 0:
		return line.Points[0], true
	case line.Length:
		return line.Points[1], true
	default:
		return 0, false
	}
}

func (g *Game) loop() {
	defer close(g.done)

	timer := time.NewTimer(g.tickTime)
	defer timer.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-g.reset:
			timer.Reset(g.tickTime)
		case <-timer.C:
			g.mu.Lock()
			g.tickLocked()
			g.mu.Unlock()
		}
	}
}

// tickLocked advances the world by one turn and wakes everything waiting on
// TickStarted.
func (g *Game) tickLocked() {
	if g.state != Run {
		return
	}

	g.turn++
	for _, idx := range sortedKeys(g.trains) {
		g.moveLocked(g.trains[idx])
	}

	for _, post := range g.posts {
		switch post.Type {
		case Town:
			if post.PlayerIdx != "" {
				post.Product = max(post.Product-post.Population, 0)
			}
		case Market:
			post.Product = min(post.Product+post.Replenishment, post.ProductCapacity)
		case Storage:
			post.Armor = min(post.Armor+post.Replenishment, post.ArmorCapacity)
		}
	}

	for _, part := range g.participants {
		part.ready = false
	}

	close(g.tickCh)
	g.tickCh = make(chan struct{})

	select {
	case g.reset <- struct{}{}:
	default:
	}

	if g.numTurns > 0 && g.turn >= g.numTurns {
		g.finishLocked()
	}
}

func (g *Game) moveLocked(t *Train) {
	if t.Speed != 0 {
		line, _ := g.world.line(t.LineIdx)
		t.Position = min(max(t.Position+t.Speed, 0), line.Length)
		if t.Position == 0 || t.Position == line.Length {
			t.Speed = 0
		}
	}

	point, atPoint := g.trainPointLocked(t)
	if !atPoint {
		return
	}

	var post *Post
	for _, p := range g.posts {
		if p.PointIdx == point {
			post = p
			break
		}
	}

	if post == nil {
		return
	}

	switch post.Type {
	case Market:
		if t.GoodsType == 0 || t.GoodsType == Market {
			n := min(t.GoodsCapacity-t.goods, post.Product)
			t.goods += n
			post.Product -= n
			if t.goods > 0 {
				t.GoodsType = Market
			}
		}
	case Storage:
		if t.GoodsType == 0 || t.GoodsType == Storage {
			n := min(t.GoodsCapacity-t.goods, post.Armor)
			t.goods += n
			post.Armor -= n
			if t.goods > 0 {
				t.GoodsType = Storage
			}
		}
	case Town:
		if post.PlayerIdx != t.PlayerIdx || t.goods == 0 {
			return
		}

		if t.GoodsType == Market {
			post.Product = min(post.Product+t.goods, post.ProductCapacity)
		} else {
			post.Armor = min(post.Armor+t.goods, post.ArmorCapacity)
		}

		t.goods = 0
		t.GoodsType = 0
	}
}

func (g *Game) finishLocked() {
	if g.state == Finished {
		return
	}

	g.state = Finished
	g.stopOnce.Do(func() { close(g.stop) })
	close(g.tickCh)
	g.tickCh = make(chan struct{})
	g.logger.Info("game finished", logger.F("turn", g.turn))
}

func ratingOf(part *participant) int {
	return part.town.Population*1000 + part.town.Product + part.town.Armor
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Ints(keys)
	return keys
}
