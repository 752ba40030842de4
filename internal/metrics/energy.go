package metrics

import (
	"math"

	"github.com/san-kum/stabsim/internal/dynamo"
)

// FaultEnergy tracks the peak accumulated fuse energy of a run.
type FaultEnergy struct {
	name string
	peak float64
}

func NewFaultEnergy() *FaultEnergy {
	return &FaultEnergy{name: "fault_energy"}
}

func (e *FaultEnergy) Name() string { return e.name }

func (e *FaultEnergy) Observe(s dynamo.Sample) {
	e.peak = math.Max(e.peak, s.FaultEnergy)
}

func (e *FaultEnergy) Value() float64 { return e.peak }

func (e *FaultEnergy) Reset() { e.peak = 0 }

// Trips counts Normal to Tripped transitions in a sample sequence.
type Trips struct {
	count   int
	faulted bool
}

func NewTrips() *Trips { return &Trips{} }

func (tr *Trips) Name() string { return "trips" }

func (tr *Trips) Observe(s dynamo.Sample) {
	if s.Faulted && !tr.faulted {
		tr.count++
	}
	tr.faulted = s.Faulted
}

func (tr *Trips) Value() float64 { return float64(tr.count) }

func (tr *Trips) Reset() {
	tr.count = 0
	tr.faulted = false
}
