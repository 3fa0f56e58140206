package rcon

import (
	"math"
	"sync/atomic"
)

// IDGenerator hands out request ids. Ids are advisory: responses are matched
// by arrival order, the id only exposes the -1 auth failure.
type IDGenerator interface {
	Next() int32
	// Seed makes the following Next return start.
	Seed(start int32)
}

// SequentialIDs counts up from 1 and wraps back to 1 after math.MaxInt32,
// so it never produces 0 (the sentinel id) or a negative id.
type SequentialIDs struct {
	last atomic.Int32
}

// NewSequentialIDs returns a generator whose first id is 1.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// Next implements IDGenerator.
func (g *SequentialIDs) Next() int32 {
	for {
		cur := g.last.Load()
		next := cur + 1
		if cur >= math.MaxInt32 || next < 1 {
			next = 1
		}
		if g.last.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Seed implements IDGenerator.
func (g *SequentialIDs) Seed(start int32) {
	g.last.Store(start - 1)
}
