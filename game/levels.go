package game

// TrainLevel holds the attributes a train gets at a given level.
// NextLevelPrice is zero at the top level.
type TrainLevel struct {
	GoodsCapacity  int
	NextLevelPrice int
}

// TownLevel holds the attributes a town gets at a given level.
type TownLevel struct {
	PopulationCapacity       int
	ProductCapacity          int
	ArmorCapacity            int
	TrainCooldownOnCollision int
	NextLevelPrice           int
}

var trainLevels = map[int]TrainLevel{
	1: {GoodsCapacity: 40, NextLevelPrice: 40},
	2: {GoodsCapacity: 80, NextLevelPrice: 80},
	3: {GoodsCapacity: 160},
}

var townLevels = map[int]TownLevel{
	1: {PopulationCapacity: 10, ProductCapacity: 200, ArmorCapacity: 100, TrainCooldownOnCollision: 8, NextLevelPrice: 100},
	2: {PopulationCapacity: 20, ProductCapacity: 400, ArmorCapacity: 200, TrainCooldownOnCollision: 6, NextLevelPrice: 200},
	3: {PopulationCapacity: 40, ProductCapacity: 800, ArmorCapacity: 400, TrainCooldownOnCollision: 4},
}
