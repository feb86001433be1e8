package game

// PostType distinguishes towns from the resource posts.
type PostType int

const (
	Town    PostType = 1
	Market  PostType = 2
	Storage PostType = 3
)

// Point is a vertex of the rail graph. PostIdx is zero when no post stands
// on the point.
type Point struct {
	Idx     int `json:"idx"`
	PostIdx int `json:"post_idx,omitempty"`
}

// Line is an edge of the rail graph running from Points[0] to Points[1].
// Train positions on a line range from 0 to Length.
type Line struct {
	Idx    int    `json:"idx"`
	Length int    `json:"length"`
	Points [2]int `json:"points"`
}

// Coordinate places a point on the drawing canvas.
type Coordinate struct {
	Idx int `json:"idx"`
	X   int `json:"x"`
	Y   int `json:"y"`
}

// Post is a town, market or storage. Only the fields relevant to the post's
// type are serialised.
type Post struct {
	Idx      int      `json:"idx"`
	Name     string   `json:"name"`
	Type     PostType `json:"type"`
	PointIdx int      `json:"point_idx"`

	// Town
	PlayerIdx          string `json:"player_idx,omitempty"`
	Level              int    `json:"level,omitempty"`
	Population         int    `json:"population,omitempty"`
	PopulationCapacity int    `json:"population_capacity,omitempty"`
	NextLevelPrice     int    `json:"next_level_price,omitempty"`

	// Town and market
	Product         int `json:"product,omitempty"`
	ProductCapacity int `json:"product_capacity,omitempty"`

	// Town and storage
	Armor         int `json:"armor,omitempty"`
	ArmorCapacity int `json:"armor_capacity,omitempty"`

	// Market and storage
	Replenishment int `json:"replenishment,omitempty"`
}

// WorldMap is the immutable layout of a map. Posts hold the initial state
// each game copies.
type WorldMap struct {
	Idx         int
	Name        string
	Width       int
	Height      int
	Points      []Point
	Lines       []Line
	Posts       []Post
	Coordinates []Coordinate
}

// Towns returns the number of towns, which bounds the number of players.
func (m *WorldMap) Towns() int {
	n := 0
	for _, p := range m.Posts {
		if p.Type == Town {
			n++
		}
	}

	return n
}

func (m *WorldMap) line(idx int) (Line, bool) {
	for _, l := range m.Lines {
		if l.Idx == idx {
			return l, true
		}
	}

	return Line{}, false
}

// firstLineAt returns a line touching point and the position on it that
// corresponds to the point.
func (m *WorldMap) firstLineAt(point int) (Line, int, bool) {
	for _, l := range m.Lines {
		if l.Points[0] == point {
			return l, 0, true
		}

		if l.Points[1] == point {
			return l, l.Length, true
		}
	}

	return Line{}, 0, false
}

func newTown(idx, point int, name string) Post {
	lvl := townLevels[1]
	return Post{
		Idx:                idx,
		Name:               name,
		Type:               Town,
		PointIdx:           point,
		Level:              1,
		Population:         3,
		PopulationCapacity: lvl.PopulationCapacity,
		Product:            60,
		ProductCapacity:    lvl.ProductCapacity,
		Armor:              100,
		ArmorCapacity:      lvl.ArmorCapacity,
		NextLevelPrice:     lvl.NextLevelPrice,
	}
}

var maps = map[string]*WorldMap{
	"theMap": {
		Idx:    1,
		Name:   "theMap",
		Width:  330,
		Height: 248,
		Points: []Point{
			{Idx: 1, PostIdx: 1},
			{Idx: 2, PostIdx: 5},
			{Idx: 3, PostIdx: 2},
			{Idx: 4, PostIdx: 3},
			{Idx: 5, PostIdx: 6},
			{Idx: 6, PostIdx: 4},
			{Idx: 7},
		},
		Lines: []Line{
			{Idx: 1, Length: 3, Points: [2]int{1, 2}},
			{Idx: 2, Length: 2, Points: [2]int{2, 3}},
			{Idx: 3, Length: 4, Points: [2]int{3, 4}},
			{Idx: 4, Length: 2, Points: [2]int{4, 5}},
			{Idx: 5, Length: 3, Points: [2]int{5, 6}},
			{Idx: 6, Length: 2, Points: [2]int{6, 1}},
			{Idx: 7, Length: 5, Points: [2]int{1, 7}},
			{Idx: 8, Length: 5, Points: [2]int{7, 4}},
		},
		Posts: []Post{
			newTown(1, 1, "town-one"),
			newTown(2, 3, "town-two"),
			newTown(3, 4, "town-three"),
			newTown(4, 6, "town-four"),
			{Idx: 5, Name: "market-big", Type: Market, PointIdx: 2, Product: 500, ProductCapacity: 500, Replenishment: 10},
			{Idx: 6, Name: "storage-big", Type: Storage, PointIdx: 5, Armor: 200, ArmorCapacity: 200, Replenishment: 5},
		},
		Coordinates: []Coordinate{
			{Idx: 1, X: 75, Y: 16},
			{Idx: 2, X: 250, Y: 16},
			{Idx: 3, X: 312, Y: 120},
			{Idx: 4, X: 250, Y: 220},
			{Idx: 5, X: 75, Y: 220},
			{Idx: 6, X: 10, Y: 120},
			{Idx: 7, X: 160, Y: 120},
		},
	},
}

// LookupMap returns the built-in map with the given name.
func LookupMap(name string) (*WorldMap, bool) {
	m, ok := maps[name]
	return m, ok
}
