// Package disturb holds one-shot disturbances between the time they are
// triggered and the tick that consumes them.
package disturb

import (
	"sync"

	"github.com/san-kum/stabsim/internal/dynamo"
)

// Injector stores at most one pending magnitude per kind. A second
// trigger before the next tick overwrites the first.
type Injector struct {
	mu      sync.Mutex
	pending [2]float64
	armed   [2]bool
}

func New() *Injector {
	return &Injector{}
}

func (in *Injector) Trigger(kind dynamo.DisturbanceKind, magnitude float64) {
	if !kind.Valid() {
		return
	}
	in.mu.Lock()
	in.pending[kind] = magnitude
	in.armed[kind] = true
	in.mu.Unlock()
}

// Consume returns and clears every pending magnitude atomically.
func (in *Injector) Consume() dynamo.Disturbance {
	in.mu.Lock()
	defer in.mu.Unlock()

	d := dynamo.Disturbance{
		Inductive:       in.pending[dynamo.Inductive],
		Electromagnetic: in.pending[dynamo.Electromagnetic],
	}
	in.pending = [2]float64{}
	in.armed = [2]bool{}
	return d
}

// Pending reports whether kind is waiting to be consumed.
func (in *Injector) Pending(kind dynamo.DisturbanceKind) bool {
	if !kind.Valid() {
		return false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.armed[kind]
}
