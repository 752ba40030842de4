// Package protect implements the fault latch and the trip policies that
// drive it.
//
// A latch is one-way: once tripped it stays tripped, with the reason of the
// first trip, until Reset. Latch is not synchronized; the engine guards it
// together with the plant state.
package protect

import (
	"math"

	"github.com/san-kum/stabsim/internal/dynamo"
)

type Latch struct {
	status dynamo.FaultStatus
}

func (l *Latch) Status() dynamo.FaultStatus { return l.status }

func (l *Latch) Tripped() bool { return l.status.Tripped() }

// Trip moves a normal latch to tripped. It reports whether the call caused
// the transition; later trips keep the first reason.
func (l *Latch) Trip(reason dynamo.TripReason) bool {
	if reason == dynamo.NoTrip || l.status.Tripped() {
		return false
	}
	l.status = dynamo.FaultStatus{Reason: reason}
	return true
}

func (l *Latch) Reset() {
	l.status = dynamo.FaultStatus{}
}

// Restore sets the latch from a snapshot.
func (l *Latch) Restore(s dynamo.FaultStatus) {
	l.status = s
}

// Instantaneous classifies measured against the band reference±threshold.
func Instantaneous(measured, reference, threshold float64) dynamo.TripReason {
	switch {
	case measured > reference+threshold:
		return dynamo.FuseBlown
	case measured < reference-threshold:
		return dynamo.ControllerFailure
	default:
		return dynamo.NoTrip
	}
}

// Fuse models an I²t fuse. Energy accumulates while the output is outside
// the band and drains at Decay otherwise.
type Fuse struct {
	Capacity  float64
	Decay     float64
	Impedance float64
}

// Accumulate returns the fuse energy after one tick and the trip reason.
// The result is never negative.
func (f Fuse) Accumulate(energy, output, reference, threshold, dt float64) (float64, dynamo.TripReason) {
	if math.Abs(output-reference) > threshold {
		current := math.Abs(output) / f.Impedance
		energy += current * current * dt
	} else {
		energy = math.Max(energy-f.Decay*dt, 0)
	}

	if energy >= f.Capacity {
		return energy, dynamo.FuseBlown
	}
	return energy, dynamo.NoTrip
}
