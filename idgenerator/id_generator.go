package idgenerator

import "sync/atomic"

// IdGenerator hands out increasing uint32 ids. The server uses it for
// session ids; zero is never issued unless the counter wraps.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator returns a generator whose first Id is startValue+1.
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id. Safe for concurrent use.
func (g *IdGenerator) Id() uint32 {
	return g.id.Add(1)
}

// Last returns the most recently issued id without advancing.
func (g *IdGenerator) Last() uint32 {
	return g.id.Load()
}
